package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"qrpay/utils"
)

var ledgerHeaders = []string{
	"Date", "Time", "Transaction ID", "Retrieval Reference", "Amount",
	"Status", "Response Code", "Query Trigger", "Resumed", "Message",
}

// CSVLedger appends terminal payment outcomes to one CSV file per day, in a
// bookkeeping-friendly layout.
type CSVLedger struct {
	dir   string
	mutex sync.Mutex
}

// NewCSVLedger writes daily files into dir, creating it if needed.
func NewCSVLedger(dir string) (*CSVLedger, error) {
	if dir == "" {
		dir = "./data/transactions"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("error creating transactions directory: %w", err)
	}
	return &CSVLedger{dir: dir}, nil
}

// RecordOutcome saves the outcome to the CSV file of its completion date
func (l *CSVLedger) RecordOutcome(_ context.Context, outcome Outcome) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	completed := outcome.CompletedAt.Local()
	filename := filepath.Join(l.dir, completed.Format("2006-01-02")+".csv")

	// Check if file exists to determine if we need headers
	fileExists := true
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		fileExists = false
	}

	file, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open ledger file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			utils.Error("ledger", "Error closing ledger file", "error", err)
		}
	}()

	writer := csv.NewWriter(file)

	if !fileExists {
		if err := writer.Write(ledgerHeaders); err != nil {
			return err
		}
	}

	resumed := "no"
	if outcome.Resumed {
		resumed = "yes"
	}
	record := []string{
		completed.Format("01/02/2006"),
		completed.Format("15:04:05"),
		outcome.TransactionID,
		outcome.RetrievalReference,
		outcome.Amount.StringFixed(2),
		outcome.State,
		outcome.ResponseCode,
		outcome.QueryTrigger,
		resumed,
		outcome.Message,
	}
	if err := writer.Write(record); err != nil {
		return err
	}

	writer.Flush()
	return writer.Error()
}
