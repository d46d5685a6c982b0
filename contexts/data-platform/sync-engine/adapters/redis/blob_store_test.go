package redisadapter

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	domainerrors "dashsync/contexts/data-platform/sync-engine/domain/errors"
	"dashsync/contexts/data-platform/sync-engine/ports"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unreachableStore(t *testing.T) *BlobStore {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return NewBlobStore(client, nil)
}

func TestUnreachableRedisReportsTransportUnavailable(t *testing.T) {
	store := unreachableStore(t)
	ctx := context.Background()

	err := store.Ping(ctx, "u1")
	assert.ErrorIs(t, err, domainerrors.ErrTransportUnavailable)

	err = store.Upsert(ctx, ports.BlobRecord{UserID: "u1", StorageKey: "orders", Data: []byte(`[]`)})
	assert.ErrorIs(t, err, domainerrors.ErrTransportUnavailable)

	_, err = store.Get(ctx, "u1", "orders")
	assert.ErrorIs(t, err, domainerrors.ErrTransportUnavailable)

	_, err = store.ListNewerThan(ctx, "u1", time.Time{})
	assert.ErrorIs(t, err, domainerrors.ErrTransportUnavailable)
}

func TestDecodeRow(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	raw, err := json.Marshal(storedRow{Data: `{"v":1}`, UpdatedAt: at.UnixMilli()})
	require.NoError(t, err)

	record, err := decodeRow("u1", "orders", string(raw))
	require.NoError(t, err)
	assert.Equal(t, "u1", record.UserID)
	assert.Equal(t, "orders", record.StorageKey)
	assert.Equal(t, `{"v":1}`, string(record.Data))
	assert.True(t, record.UpdatedAt.Equal(at))

	_, err = decodeRow("u1", "orders", "not json")
	assert.ErrorIs(t, err, domainerrors.ErrSerialization)
}

func TestHashKeyTrimsUser(t *testing.T) {
	assert.Equal(t, "user_storage:u1", hashKey(" u1 "))
}
