package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"qrpay/services"
)

// ReferenceStore keeps retrieval references in redis so that any instance
// behind a load balancer can resume a payment after a reload.
type ReferenceStore struct {
	client redis.Cmdable
	logger *zap.Logger
	prefix string
	ttl    time.Duration
}

// NewReferenceStore stores references under "qrpay:<key>". Entries expire
// after ttl so an abandoned payment cannot be resumed forever; zero keeps
// them until cleared.
func NewReferenceStore(client redis.Cmdable, logger *zap.Logger, ttl time.Duration) *ReferenceStore {
	return &ReferenceStore{client: client, logger: logger, prefix: "qrpay:", ttl: ttl}
}

func (s *ReferenceStore) Load(ctx context.Context, key string) (string, error) {
	ref, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", services.ErrReferenceNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load reference %s: %w", key, err)
	}
	return ref, nil
}

func (s *ReferenceStore) Save(ctx context.Context, key, retrievalReference string) error {
	if err := s.client.Set(ctx, s.prefix+key, retrievalReference, s.ttl).Err(); err != nil {
		s.logger.Error("failed to store reference", zap.String("key", key), zap.Error(err))
		return err
	}
	s.logger.Debug("stored reference", zap.String("key", key), zap.Duration("ttl", s.ttl))
	return nil
}

func (s *ReferenceStore) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		s.logger.Error("failed to clear reference", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}
