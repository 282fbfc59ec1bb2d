package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ReferenceKey is the fixed name under which the retrieval reference of an
// unfinished payment is kept.
const ReferenceKey = "txnRetrievalRef"

var ErrReferenceNotFound = errors.New("retrieval reference not found")

// ReferenceStore persists the retrieval reference of the payment in flight so
// a reload can resume waiting instead of requesting a new QR code.
type ReferenceStore interface {
	Load(ctx context.Context, key string) (string, error)
	Save(ctx context.Context, key, retrievalReference string) error
	Clear(ctx context.Context, key string) error
}

// SessionReferenceKey scopes ReferenceKey to one browser session.
func SessionReferenceKey(sessionID string) string {
	if sessionID == "" {
		return ReferenceKey
	}
	return ReferenceKey + ":" + sessionID
}

// FileReferenceStore keeps references in a single JSON file.
type FileReferenceStore struct {
	path  string
	mutex sync.Mutex
}

// NewFileReferenceStore stores references in dataDir/references.json.
func NewFileReferenceStore(dataDir string) (*FileReferenceStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("error creating data directory: %w", err)
	}
	return &FileReferenceStore{path: filepath.Join(dataDir, "references.json")}, nil
}

func (s *FileReferenceStore) Load(_ context.Context, key string) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	refs, err := s.read()
	if err != nil {
		return "", err
	}
	ref, ok := refs[key]
	if !ok || ref == "" {
		return "", ErrReferenceNotFound
	}
	return ref, nil
}

func (s *FileReferenceStore) Save(_ context.Context, key, retrievalReference string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	refs, err := s.read()
	if err != nil {
		return err
	}
	refs[key] = retrievalReference
	return s.write(refs)
}

func (s *FileReferenceStore) Clear(_ context.Context, key string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	refs, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := refs[key]; !ok {
		return nil
	}
	delete(refs, key)
	return s.write(refs)
}

func (s *FileReferenceStore) read() (map[string]string, error) {
	refs := make(map[string]string)
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return refs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading references: %w", err)
	}
	if len(data) == 0 {
		return refs, nil
	}
	if err := json.Unmarshal(data, &refs); err != nil {
		return nil, fmt.Errorf("error parsing references: %w", err)
	}
	return refs, nil
}

// write replaces the file atomically so a crash never leaves half a document.
func (s *FileReferenceStore) write(refs map[string]string) error {
	jsonData, err := json.MarshalIndent(refs, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling references: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, jsonData, 0600); err != nil {
		return fmt.Errorf("error writing references: %w", err)
	}
	return os.Rename(tmp, s.path)
}
