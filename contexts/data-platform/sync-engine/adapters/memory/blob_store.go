package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domainerrors "dashsync/contexts/data-platform/sync-engine/domain/errors"
	"dashsync/contexts/data-platform/sync-engine/ports"
)

// BlobStore is a process-local ports.KeyedBlobStore keyed by
// (user_id, storage_key).
type BlobStore struct {
	mu      sync.RWMutex
	rows    map[string]map[string]ports.BlobRecord
	failure error
	calls   map[string]int
}

func NewBlobStore() *BlobStore {
	return &BlobStore{
		rows:  make(map[string]map[string]ports.BlobRecord),
		calls: make(map[string]int),
	}
}

// SetFailure makes every call return err until cleared with nil.
func (s *BlobStore) SetFailure(err error) {
	s.mu.Lock()
	s.failure = err
	s.mu.Unlock()
}

// Calls returns how many times op ("upsert", "get", "delete", "list", "ping")
// was invoked, including failed calls.
func (s *BlobStore) Calls(op string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

// Count returns the number of rows stored for userID.
func (s *BlobStore) Count(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows[userID])
}

func (s *BlobStore) Upsert(ctx context.Context, record ports.BlobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "upsert"); err != nil {
		return err
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}
	record.Data = append([]byte(nil), record.Data...)
	owned, ok := s.rows[record.UserID]
	if !ok {
		owned = make(map[string]ports.BlobRecord)
		s.rows[record.UserID] = owned
	}
	owned[record.StorageKey] = record
	return nil
}

func (s *BlobStore) Get(ctx context.Context, userID string, storageKey string) (ports.BlobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "get"); err != nil {
		return ports.BlobRecord{}, err
	}
	record, ok := s.rows[userID][storageKey]
	if !ok {
		return ports.BlobRecord{}, domainerrors.ErrNotFound
	}
	record.Data = append([]byte(nil), record.Data...)
	return record, nil
}

func (s *BlobStore) Delete(ctx context.Context, userID string, storageKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "delete"); err != nil {
		return err
	}
	delete(s.rows[userID], storageKey)
	return nil
}

func (s *BlobStore) ListNewerThan(ctx context.Context, userID string, since time.Time) ([]ports.BlobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "list"); err != nil {
		return nil, err
	}
	items := make([]ports.BlobRecord, 0)
	for _, record := range s.rows[userID] {
		if record.UpdatedAt.After(since) {
			record.Data = append([]byte(nil), record.Data...)
			items = append(items, record)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].UpdatedAt.Before(items[j].UpdatedAt)
	})
	return items, nil
}

func (s *BlobStore) Ping(ctx context.Context, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begin(ctx, "ping")
}

func (s *BlobStore) begin(ctx context.Context, op string) error {
	s.calls[op]++
	if err := ctx.Err(); err != nil {
		return domainerrors.ErrTransportUnavailable
	}
	return s.failure
}
