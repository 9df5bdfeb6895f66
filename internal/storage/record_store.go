package storage

import (
	"context"
	"errors"
	"time"

	"github.com/pegged-token/claimer/internal/metrics"
	"github.com/pegged-token/claimer/internal/models"
)

var (
	// ErrRecordNotFound is returned when the account has no record yet
	ErrRecordNotFound = errors.New("account record not found")

	// ErrConflict is returned when a guarded patch finds the record already changed
	ErrConflict = errors.New("account record changed concurrently")
)

// RecordStore is the account record collaborator.
// Only the latest record of an account is authoritative and it is mutated by patch.
type RecordStore interface {
	// Latest returns the most recent record of account
	Latest(ctx context.Context, account string) (*models.AccountRecord, error)

	// Patch applies a partial update to the record with the given id and returns the stored result
	Patch(ctx context.Context, id string, patch *models.RecordPatch) (*models.AccountRecord, error)

	// Create stores a new record for record.Account
	Create(ctx context.Context, record *models.AccountRecord) (*models.AccountRecord, error)
}

// instrumentedStore records per-call latency of a RecordStore
type instrumentedStore struct {
	next RecordStore
}

// WithMetrics decorates a store with call duration metrics
func WithMetrics(store RecordStore) RecordStore {
	return &instrumentedStore{next: store}
}

func (s *instrumentedStore) Latest(ctx context.Context, account string) (*models.AccountRecord, error) {
	start := time.Now()
	record, err := s.next.Latest(ctx, account)
	metrics.ObserveStoreCall("latest", ignoreNotFound(err), time.Since(start))
	return record, err
}

func (s *instrumentedStore) Patch(ctx context.Context, id string, patch *models.RecordPatch) (*models.AccountRecord, error) {
	start := time.Now()
	record, err := s.next.Patch(ctx, id, patch)
	metrics.ObserveStoreCall("patch", err, time.Since(start))
	return record, err
}

func (s *instrumentedStore) Create(ctx context.Context, record *models.AccountRecord) (*models.AccountRecord, error) {
	start := time.Now()
	created, err := s.next.Create(ctx, record)
	metrics.ObserveStoreCall("create", err, time.Since(start))
	return created, err
}

func ignoreNotFound(err error) error {
	if errors.Is(err, ErrRecordNotFound) {
		return nil
	}
	return err
}
