package postgresadapter

import (
	"context"
	"log/slog"

	application "dashsync/contexts/data-platform/sync-engine/application"
	"dashsync/contexts/data-platform/sync-engine/ports"

	"gorm.io/gorm"
)

// RecordStore addresses arbitrary tables by name with map rows. Filters are
// equality conditions built by gorm, so column names are quoted.
type RecordStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRecordStore(db *gorm.DB, logger *slog.Logger) *RecordStore {
	return &RecordStore{
		db:     db,
		logger: application.ResolveLogger(logger),
	}
}

func (s *RecordStore) Insert(ctx context.Context, table string, rows []ports.Row) error {
	if len(rows) == 0 {
		return nil
	}
	values := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		values = append(values, map[string]any(row))
	}
	if err := s.db.WithContext(ctx).Table(table).Create(&values).Error; err != nil {
		return s.logError("sync_engine_record_insert_failed", err, "table", table, "row_count", len(rows))
	}
	return nil
}

func (s *RecordStore) Update(ctx context.Context, table string, patch ports.Row, filter ports.Filter) error {
	if len(patch) == 0 {
		return nil
	}
	err := s.scoped(ctx, table, filter).Updates(map[string]any(patch)).Error
	if err != nil {
		return s.logError("sync_engine_record_update_failed", err, "table", table)
	}
	return nil
}

func (s *RecordStore) Delete(ctx context.Context, table string, filter ports.Filter) error {
	err := s.scoped(ctx, table, filter).Delete(map[string]any{}).Error
	if err != nil {
		return s.logError("sync_engine_record_delete_failed", err, "table", table)
	}
	return nil
}

func (s *RecordStore) Select(ctx context.Context, table string, filter ports.Filter, limit int) ([]ports.Row, error) {
	tx := s.scoped(ctx, table, filter)
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var found []map[string]any
	if err := tx.Find(&found).Error; err != nil {
		return nil, s.logError("sync_engine_record_select_failed", err, "table", table)
	}
	rows := make([]ports.Row, 0, len(found))
	for _, row := range found {
		rows = append(rows, ports.Row(row))
	}
	return rows, nil
}

func (s *RecordStore) scoped(ctx context.Context, table string, filter ports.Filter) *gorm.DB {
	tx := s.db.WithContext(ctx).Table(table)
	if len(filter) > 0 {
		tx = tx.Where(map[string]any(filter))
	}
	return tx
}

func (s *RecordStore) logError(event string, err error, attrs ...any) error {
	classified := classify(err)
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", application.Module,
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	s.logger.Warn("record store operation failed", fields...)
	return classified
}

var _ ports.RecordStore = (*RecordStore)(nil)
