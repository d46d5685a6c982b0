package redisadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	application "dashsync/contexts/data-platform/sync-engine/application"
	domainerrors "dashsync/contexts/data-platform/sync-engine/domain/errors"
	"dashsync/contexts/data-platform/sync-engine/ports"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "user_storage:"

// BlobStore keeps each user's rows in one Redis hash named
// user_storage:{user_id}, one field per storage key.
type BlobStore struct {
	client *redis.Client
	logger *slog.Logger
}

func NewBlobStore(client *redis.Client, logger *slog.Logger) *BlobStore {
	return &BlobStore{
		client: client,
		logger: application.ResolveLogger(logger),
	}
}

type storedRow struct {
	Data      string `json:"data"`
	UpdatedAt int64  `json:"updated_at"`
}

func (s *BlobStore) Upsert(ctx context.Context, record ports.BlobRecord) error {
	updatedAt := record.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(storedRow{Data: string(record.Data), UpdatedAt: updatedAt.UnixMilli()})
	if err != nil {
		return fmt.Errorf("encode row: %w", domainerrors.ErrSerialization)
	}
	if err := s.client.HSet(ctx, hashKey(record.UserID), record.StorageKey, raw).Err(); err != nil {
		return s.logError("sync_engine_redis_upsert_failed", err, "storage_key", record.StorageKey)
	}
	return nil
}

func (s *BlobStore) Get(ctx context.Context, userID string, storageKey string) (ports.BlobRecord, error) {
	raw, err := s.client.HGet(ctx, hashKey(userID), storageKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ports.BlobRecord{}, domainerrors.ErrNotFound
		}
		return ports.BlobRecord{}, s.logError("sync_engine_redis_get_failed", err, "storage_key", storageKey)
	}
	return decodeRow(userID, storageKey, raw)
}

func (s *BlobStore) Delete(ctx context.Context, userID string, storageKey string) error {
	if err := s.client.HDel(ctx, hashKey(userID), storageKey).Err(); err != nil {
		return s.logError("sync_engine_redis_delete_failed", err, "storage_key", storageKey)
	}
	return nil
}

func (s *BlobStore) ListNewerThan(ctx context.Context, userID string, since time.Time) ([]ports.BlobRecord, error) {
	fields, err := s.client.HGetAll(ctx, hashKey(userID)).Result()
	if err != nil {
		return nil, s.logError("sync_engine_redis_list_failed", err)
	}
	items := make([]ports.BlobRecord, 0, len(fields))
	for storageKey, raw := range fields {
		record, err := decodeRow(userID, storageKey, raw)
		if err != nil {
			continue
		}
		if record.UpdatedAt.After(since) {
			items = append(items, record)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].UpdatedAt.Before(items[j].UpdatedAt)
	})
	return items, nil
}

// Ping checks the user's hash with a single bounded command.
func (s *BlobStore) Ping(ctx context.Context, userID string) error {
	if err := s.client.Exists(ctx, hashKey(userID)).Err(); err != nil {
		return s.logError("sync_engine_redis_ping_failed", err)
	}
	return nil
}

func (s *BlobStore) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", application.Module,
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	s.logger.Warn("redis keyed-blob store operation failed", fields...)
	return fmt.Errorf("%w: %v", domainerrors.ErrTransportUnavailable, err)
}

func hashKey(userID string) string {
	return keyPrefix + strings.TrimSpace(userID)
}

func decodeRow(userID string, storageKey string, raw string) (ports.BlobRecord, error) {
	var row storedRow
	if err := json.Unmarshal([]byte(raw), &row); err != nil {
		return ports.BlobRecord{}, fmt.Errorf("decode row %q: %w", storageKey, domainerrors.ErrSerialization)
	}
	return ports.BlobRecord{
		UserID:     userID,
		StorageKey: storageKey,
		Data:       []byte(row.Data),
		UpdatedAt:  time.UnixMilli(row.UpdatedAt).UTC(),
	}, nil
}

var _ ports.KeyedBlobStore = (*BlobStore)(nil)
