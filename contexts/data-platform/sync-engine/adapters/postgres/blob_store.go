package postgresadapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	application "dashsync/contexts/data-platform/sync-engine/application"
	domainerrors "dashsync/contexts/data-platform/sync-engine/domain/errors"
	"dashsync/contexts/data-platform/sync-engine/ports"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BlobStore persists per-user envelopes in the user_storage table, keyed by
// (user_id, storage_key).
type BlobStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewBlobStore(db *gorm.DB, logger *slog.Logger) *BlobStore {
	return &BlobStore{
		db:     db,
		logger: application.ResolveLogger(logger),
	}
}

func (s *BlobStore) Upsert(ctx context.Context, record ports.BlobRecord) error {
	row := userStorageModel{
		UserID:     strings.TrimSpace(record.UserID),
		StorageKey: record.StorageKey,
		Data:       string(record.Data),
		UpdatedAt:  record.UpdatedAt.UTC(),
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now().UTC()
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "storage_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return s.logError("sync_engine_blob_upsert_failed", err,
			"user_id", row.UserID,
			"storage_key", row.StorageKey,
		)
	}
	return nil
}

func (s *BlobStore) Get(ctx context.Context, userID string, storageKey string) (ports.BlobRecord, error) {
	var row userStorageModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND storage_key = ?", strings.TrimSpace(userID), storageKey).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.BlobRecord{}, domainerrors.ErrNotFound
		}
		return ports.BlobRecord{}, s.logError("sync_engine_blob_get_failed", err,
			"user_id", strings.TrimSpace(userID),
			"storage_key", storageKey,
		)
	}
	return row.toRecord(), nil
}

func (s *BlobStore) Delete(ctx context.Context, userID string, storageKey string) error {
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND storage_key = ?", strings.TrimSpace(userID), storageKey).
		Delete(&userStorageModel{}).
		Error
	if err != nil {
		return s.logError("sync_engine_blob_delete_failed", err,
			"user_id", strings.TrimSpace(userID),
			"storage_key", storageKey,
		)
	}
	return nil
}

func (s *BlobStore) ListNewerThan(ctx context.Context, userID string, since time.Time) ([]ports.BlobRecord, error) {
	var rows []userStorageModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND updated_at > ?", strings.TrimSpace(userID), since.UTC()).
		Order("updated_at ASC").
		Find(&rows).
		Error
	if err != nil {
		return nil, s.logError("sync_engine_blob_list_failed", err,
			"user_id", strings.TrimSpace(userID),
		)
	}
	items := make([]ports.BlobRecord, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toRecord())
	}
	return items, nil
}

// Ping issues a limit-1 query scoped to userID.
func (s *BlobStore) Ping(ctx context.Context, userID string) error {
	var rows []userStorageModel
	err := s.db.WithContext(ctx).
		Select("user_id", "storage_key").
		Where("user_id = ?", strings.TrimSpace(userID)).
		Limit(1).
		Find(&rows).
		Error
	if err != nil {
		return s.logError("sync_engine_blob_ping_failed", err, "user_id", strings.TrimSpace(userID))
	}
	return nil
}

func (s *BlobStore) logError(event string, err error, attrs ...any) error {
	classified := classify(err)
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", application.Module,
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	s.logger.Warn("keyed-blob store operation failed", fields...)
	return classified
}

type userStorageModel struct {
	UserID     string    `gorm:"column:user_id;primaryKey"`
	StorageKey string    `gorm:"column:storage_key;primaryKey"`
	Data       string    `gorm:"column:data;type:text"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (userStorageModel) TableName() string {
	return "user_storage"
}

func (m userStorageModel) toRecord() ports.BlobRecord {
	return ports.BlobRecord{
		UserID:     m.UserID,
		StorageKey: m.StorageKey,
		Data:       []byte(m.Data),
		UpdatedAt:  m.UpdatedAt.UTC(),
	}
}

// classify maps driver errors onto the engine's error taxonomy.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domainerrors.ErrNotFound
	case isUndefinedTable(err):
		return fmt.Errorf("%w: %v", domainerrors.ErrSchemaMissing, err)
	default:
		return fmt.Errorf("%w: %v", domainerrors.ErrTransportUnavailable, err)
	}
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}

var _ ports.KeyedBlobStore = (*BlobStore)(nil)
