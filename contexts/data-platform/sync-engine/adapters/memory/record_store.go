package memory

import (
	"context"
	"fmt"
	"sync"

	domainerrors "dashsync/contexts/data-platform/sync-engine/domain/errors"
	"dashsync/contexts/data-platform/sync-engine/ports"
)

// RecordCall is one mutation or query received by RecordStore.
type RecordCall struct {
	Op     string
	Table  string
	Rows   []ports.Row
	Patch  ports.Row
	Filter ports.Filter
}

// RecordStore is a process-local ports.RecordStore. Only tables passed to
// NewRecordStore (or CreateTable) exist; any other table reports
// ErrSchemaMissing.
type RecordStore struct {
	mu      sync.RWMutex
	tables  map[string][]ports.Row
	failure error
	calls   []RecordCall
}

func NewRecordStore(tables ...string) *RecordStore {
	store := &RecordStore{tables: make(map[string][]ports.Row, len(tables))}
	for _, table := range tables {
		store.tables[table] = []ports.Row{}
	}
	return store
}

func (s *RecordStore) CreateTable(table string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[table]; !ok {
		s.tables[table] = []ports.Row{}
	}
}

func (s *RecordStore) DropTable(table string) {
	s.mu.Lock()
	delete(s.tables, table)
	s.mu.Unlock()
}

// SetFailure makes every call return err until cleared with nil.
func (s *RecordStore) SetFailure(err error) {
	s.mu.Lock()
	s.failure = err
	s.mu.Unlock()
}

// Calls returns the mutations received, in order. Select calls are included.
func (s *RecordStore) Calls() []RecordCall {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]RecordCall(nil), s.calls...)
}

// Mutations returns the received calls other than select, in order.
func (s *RecordStore) Mutations() []RecordCall {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RecordCall, 0, len(s.calls))
	for _, call := range s.calls {
		if call.Op != "select" {
			out = append(out, call)
		}
	}
	return out
}

func (s *RecordStore) Insert(ctx context.Context, table string, rows []ports.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, RecordCall{Op: "insert", Table: table, Rows: cloneRows(rows)})
	if err := s.check(ctx, table); err != nil {
		return err
	}
	s.tables[table] = append(s.tables[table], cloneRows(rows)...)
	return nil
}

func (s *RecordStore) Update(ctx context.Context, table string, patch ports.Row, filter ports.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, RecordCall{Op: "update", Table: table, Patch: cloneRow(patch), Filter: filter})
	if err := s.check(ctx, table); err != nil {
		return err
	}
	for i, row := range s.tables[table] {
		if matches(row, filter) {
			for k, v := range patch {
				row[k] = v
			}
			s.tables[table][i] = row
		}
	}
	return nil
}

func (s *RecordStore) Delete(ctx context.Context, table string, filter ports.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, RecordCall{Op: "delete", Table: table, Filter: filter})
	if err := s.check(ctx, table); err != nil {
		return err
	}
	kept := s.tables[table][:0]
	for _, row := range s.tables[table] {
		if !matches(row, filter) {
			kept = append(kept, row)
		}
	}
	s.tables[table] = kept
	return nil
}

func (s *RecordStore) Select(ctx context.Context, table string, filter ports.Filter, limit int) ([]ports.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, RecordCall{Op: "select", Table: table, Filter: filter})
	if err := s.check(ctx, table); err != nil {
		return nil, err
	}
	out := make([]ports.Row, 0)
	for _, row := range s.tables[table] {
		if !matches(row, filter) {
			continue
		}
		out = append(out, cloneRow(row))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *RecordStore) check(ctx context.Context, table string) error {
	if err := ctx.Err(); err != nil {
		return domainerrors.ErrTransportUnavailable
	}
	if s.failure != nil {
		return s.failure
	}
	if _, ok := s.tables[table]; !ok {
		return fmt.Errorf("table %q: %w", table, domainerrors.ErrSchemaMissing)
	}
	return nil
}

func matches(row ports.Row, filter ports.Filter) bool {
	for k, want := range filter {
		if fmt.Sprint(row[k]) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func cloneRow(row ports.Row) ports.Row {
	if row == nil {
		return nil
	}
	out := make(ports.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func cloneRows(rows []ports.Row) []ports.Row {
	out := make([]ports.Row, 0, len(rows))
	for _, row := range rows {
		out = append(out, cloneRow(row))
	}
	return out
}
