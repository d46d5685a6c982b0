package datamanager

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	authadapter "dashsync/contexts/data-platform/sync-engine/adapters/auth"
	"dashsync/contexts/data-platform/sync-engine/adapters/memory"
	"dashsync/contexts/data-platform/sync-engine/application/capability"
	"dashsync/contexts/data-platform/sync-engine/application/persistence"
	"dashsync/contexts/data-platform/sync-engine/domain/entities"
	domainerrors "dashsync/contexts/data-platform/sync-engine/domain/errors"
	"dashsync/contexts/data-platform/sync-engine/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dataFixture struct {
	local       *memory.LocalStore
	blobs       *memory.BlobStore
	records     *memory.RecordStore
	clock       *memory.Clock
	persistence *persistence.Manager
	data        *Manager
}

func newDataFixture(userID string, maxAttempts int, tables ...string) dataFixture {
	f := dataFixture{
		local:   memory.NewLocalStore(),
		blobs:   memory.NewBlobStore(),
		records: memory.NewRecordStore(tables...),
		clock:   memory.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	prober := capability.NewProber(capability.Dependencies{
		Local:   f.local,
		Auth:    authadapter.NewStaticAuth(userID),
		Blobs:   f.blobs,
		Records: f.records,
		Clock:   f.clock,
	})
	f.persistence = persistence.NewManager(persistence.Dependencies{
		Local:         f.local,
		Blobs:         f.blobs,
		Prober:        prober,
		Clock:         f.clock,
		LocalOnlyKeys: []string{DefaultQueueKey},
	})
	f.data = f.newManager(maxAttempts)
	return f
}

func (f dataFixture) newManager(maxAttempts int) *Manager {
	return NewManager(Dependencies{
		Persistence:       f.persistence,
		Records:           f.records,
		Clock:             f.clock,
		IDGen:             memory.IDGenerator{},
		IDPrefixes:        map[string]string{"orders": "ord", "products": "prod"},
		MaxReplayAttempts: maxAttempts,
	})
}

// reprobe refreshes the cached capability status after a failure toggle.
func (f dataFixture) reprobe() entities.CapabilityStatus {
	f.clock.Advance(time.Second)
	return f.persistence.Status(context.Background(), true)
}

func TestAddItemWithRemoteSchemaMissingIsQueued(t *testing.T) {
	f := newDataFixture("u1", 0)
	ctx := context.Background()
	f.blobs.SetFailure(domainerrors.ErrSchemaMissing)
	status := f.reprobe()
	require.False(t, status.RemoteBlobUsable)
	require.False(t, status.RemoteTablesUsable)
	require.True(t, f.data.Online())

	added, err := f.data.AddItem(ctx, "orders", map[string]any{"id": "ord-9", "total": 42}, "u1")
	require.NoError(t, err)
	assert.Equal(t, "ord-9", added.ID())

	items := f.data.GetCollection(ctx, "orders", nil, "u1")
	require.Len(t, items, 1)
	assert.Equal(t, "ord-9", items[0].ID())
	assert.EqualValues(t, 42, items[0]["total"])

	pending := f.data.Pending(ctx)
	require.Len(t, pending, 1)
	assert.Equal(t, entities.OperationCreate, pending[0].Kind)
	assert.Equal(t, "ord-9", pending[0].ItemID)
	assert.Equal(t, "orders", pending[0].Key)
	assert.Equal(t, "u1", pending[0].UserID)
}

func TestReplayPreservesEnqueueOrder(t *testing.T) {
	f := newDataFixture("u1", 0, "customers")
	ctx := context.Background()
	require.NoError(t, f.records.Insert(ctx, "customers", []ports.Row{
		{"id": "A", "name": "a"},
		{"id": "B", "name": "b"},
	}))
	f.data.SetCollection(ctx, "customers", []entities.Item{
		{"id": "A", "name": "a"},
		{"id": "B", "name": "b"},
	}, "u1")
	require.Empty(t, f.data.Pending(ctx))

	f.data.SetOnline(ctx, false)
	_, ok, err := f.data.UpdateItem(ctx, "customers", "A", map[string]any{"name": "A1"}, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	_, _, err = f.data.UpdateItem(ctx, "customers", "B", map[string]any{"name": "B1"}, "u1")
	require.NoError(t, err)
	_, _, err = f.data.UpdateItem(ctx, "customers", "A", map[string]any{"name": "A2"}, "u1")
	require.NoError(t, err)
	require.Len(t, f.data.Pending(ctx), 3)

	result := f.data.SetOnline(ctx, true)
	assert.Equal(t, 3, result.Attempted)
	assert.Equal(t, 3, result.Replayed)
	assert.Equal(t, 1, result.Pushed)
	assert.Empty(t, f.data.Pending(ctx))

	var updates []memory.RecordCall
	for _, call := range f.records.Mutations() {
		if call.Op == "update" {
			updates = append(updates, call)
		}
	}
	require.Len(t, updates, 3)
	assert.Equal(t, "A", updates[0].Filter["id"])
	assert.Equal(t, "B", updates[1].Filter["id"])
	assert.Equal(t, "A", updates[2].Filter["id"])

	rows, err := f.records.Select(ctx, "customers", ports.Filter{"id": "A"}, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "A2", rows[0]["name"])
}

func TestFailedReplayIsRequeuedInOrder(t *testing.T) {
	f := newDataFixture("u1", 0)
	ctx := context.Background()
	f.data.SetOnline(ctx, false)
	_, err := f.data.AddItem(ctx, "products", map[string]any{"id": "prod-1"}, "u1")
	require.NoError(t, err)
	_, err = f.data.AddItem(ctx, "products", map[string]any{"id": "prod-2"}, "u1")
	require.NoError(t, err)

	f.blobs.SetFailure(domainerrors.ErrTransportUnavailable)
	f.reprobe()
	result := f.data.Drain(ctx)
	assert.Equal(t, 2, result.Attempted)
	assert.Equal(t, 2, result.Requeued)
	assert.Zero(t, result.Replayed)

	pending := f.data.Pending(ctx)
	require.Len(t, pending, 2)
	assert.Equal(t, "prod-1", pending[0].ItemID)
	assert.Equal(t, "prod-2", pending[1].ItemID)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, 1, pending[1].Attempts)

	f.blobs.SetFailure(nil)
	f.reprobe()
	result = f.data.Drain(ctx)
	assert.Equal(t, 2, result.Replayed)
	assert.Equal(t, 1, result.Pushed)
	assert.Empty(t, f.data.Pending(ctx))
}

func TestReplayDropsAfterMaxAttempts(t *testing.T) {
	f := newDataFixture("u1", 2)
	ctx := context.Background()
	f.data.SetOnline(ctx, false)
	_, err := f.data.AddItem(ctx, "products", map[string]any{"id": "prod-1"}, "u1")
	require.NoError(t, err)
	f.blobs.SetFailure(domainerrors.ErrTransportUnavailable)
	f.reprobe()

	first := f.data.Drain(ctx)
	assert.Equal(t, 1, first.Requeued)
	second := f.data.Drain(ctx)
	assert.Equal(t, 1, second.Dropped)
	assert.Empty(t, f.data.Pending(ctx))
}

func TestQueueSurvivesRestart(t *testing.T) {
	f := newDataFixture("u1", 0)
	ctx := context.Background()
	f.data.SetOnline(ctx, false)
	_, err := f.data.AddItem(ctx, "orders", map[string]any{"id": "ord-1"}, "u1")
	require.NoError(t, err)
	require.True(t, f.data.RemoveItem(ctx, "orders", "ord-1", "u1"))

	restarted := f.newManager(0)
	assert.Equal(t, 2, restarted.Restore(ctx))
	assert.Zero(t, restarted.Restore(ctx), "restore runs once")

	pending := restarted.Pending(ctx)
	require.Len(t, pending, 2)
	assert.Equal(t, entities.OperationCreate, pending[0].Kind)
	assert.Equal(t, entities.OperationDelete, pending[1].Kind)
	assert.JSONEq(t, `{"id":"ord-1"}`, string(pending[1].Payload))
}

func TestCorruptPersistedQueueStartsEmpty(t *testing.T) {
	f := newDataFixture("", 0)
	ctx := context.Background()
	f.local.Put(DefaultQueueKey, `{"data":"not a list","timestamp":1,"version":"1"}`)

	assert.Zero(t, f.data.Restore(ctx))
	assert.Empty(t, f.data.Pending(ctx))
}

func TestAnonymousWritesQueueOnlyWhileOffline(t *testing.T) {
	f := newDataFixture("", 0)
	ctx := context.Background()

	result := f.data.SetCollection(ctx, "products", []entities.Item{{"id": "prod-1"}}, "")
	assert.True(t, result.Local)
	assert.False(t, result.Remote)
	assert.Empty(t, f.data.Pending(ctx))

	f.data.SetOnline(ctx, false)
	f.data.SetCollection(ctx, "products", []entities.Item{{"id": "prod-2"}}, "")
	assert.Len(t, f.data.Pending(ctx), 1)
}

func TestQueuesWrite(t *testing.T) {
	f := newDataFixture("u1", 0)

	assert.False(t, f.data.QueuesWrite(persistence.WriteResult{Local: true, Remote: true}, "u1"))
	assert.True(t, f.data.QueuesWrite(persistence.WriteResult{Local: true}, "u1"))
	assert.False(t, f.data.QueuesWrite(persistence.WriteResult{Local: true}, ""))

	f.data.SetOnline(context.Background(), false)
	assert.True(t, f.data.QueuesWrite(persistence.WriteResult{Local: true, Remote: true}, ""))
}

func TestAddItemGeneratesIDsAndTimestamps(t *testing.T) {
	f := newDataFixture("u1", 0, "customers")
	ctx := context.Background()

	first, err := f.data.AddItem(ctx, "orders", map[string]any{"total": 1}, "u1")
	require.NoError(t, err)
	second, err := f.data.AddItem(ctx, "orders", map[string]any{"total": 2}, "u1")
	require.NoError(t, err)

	millis := f.clock.Now().UnixMilli()
	assert.Equal(t, "ord-"+itoa(millis), first.ID())
	assert.Equal(t, "ord-"+itoa(millis+1), second.ID())
	assert.Equal(t, f.clock.Now().Format(time.RFC3339Nano), first["createdAt"])
	assert.Equal(t, first["createdAt"], first["updatedAt"])

	items := f.data.GetCollection(ctx, "orders", nil, "u1")
	assert.Len(t, items, 2)
}

func TestAddItemWithExistingIDReplaces(t *testing.T) {
	f := newDataFixture("u1", 0)
	ctx := context.Background()
	f.data.SetOnline(ctx, false)

	_, err := f.data.AddItem(ctx, "orders", map[string]any{"id": "ord-1", "total": 1, "createdAt": "2020-01-01T00:00:00Z"}, "u1")
	require.NoError(t, err)
	_, err = f.data.AddItem(ctx, "orders", map[string]any{"id": "ord-1", "total": 2}, "u1")
	require.NoError(t, err)

	items := f.data.GetCollection(ctx, "orders", nil, "u1")
	require.Len(t, items, 1)
	assert.EqualValues(t, 2, items[0]["total"])

	pending := f.data.Pending(ctx)
	require.Len(t, pending, 2)
	assert.Equal(t, entities.OperationCreate, pending[0].Kind)
	assert.Equal(t, entities.OperationUpdate, pending[1].Kind)
}

func TestAddItemRejectsNonObjects(t *testing.T) {
	f := newDataFixture("u1", 0)
	_, err := f.data.AddItem(context.Background(), "orders", []int{1, 2}, "u1")
	assert.ErrorIs(t, err, domainerrors.ErrInvalidItem)
}

func TestUpdateAndRemoveMissingItem(t *testing.T) {
	f := newDataFixture("u1", 0)
	ctx := context.Background()

	_, ok, err := f.data.UpdateItem(ctx, "orders", "nope", map[string]any{"total": 1}, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, f.data.RemoveItem(ctx, "orders", "nope", "u1"))
	assert.Empty(t, f.data.Pending(ctx))
}

func TestGetCollectionUsesLoaderOnce(t *testing.T) {
	f := newDataFixture("u1", 0)
	ctx := context.Background()
	calls := 0
	loader := func(context.Context) ([]entities.Item, error) {
		calls++
		return []entities.Item{{"id": "seed-1"}}, nil
	}

	first := f.data.GetCollection(ctx, "retailers", loader, "u1")
	second := f.data.GetCollection(ctx, "retailers", loader, "u1")

	assert.Equal(t, 1, calls)
	require.Len(t, first, 1)
	assert.Equal(t, first, second)
}

func TestGetCollectionNeverFails(t *testing.T) {
	f := newDataFixture("u1", 0)
	ctx := context.Background()

	failing := func(context.Context) ([]entities.Item, error) {
		return nil, errors.New("seed unavailable")
	}
	assert.Empty(t, f.data.GetCollection(ctx, "claims", failing, "u1"))

	panicking := func(context.Context) ([]entities.Item, error) {
		panic("boom")
	}
	assert.Empty(t, f.data.GetCollection(ctx, "claims", panicking, "u1"))

	f.local.Put("shipments:u1", `{"not":"a list"}`)
	f.blobs.SetFailure(domainerrors.ErrTransportUnavailable)
	assert.Empty(t, f.data.GetCollection(ctx, "shipments", nil, "u1"))
}

func TestSetOnlineWithoutTransitionDoesNothing(t *testing.T) {
	f := newDataFixture("u1", 0)
	ctx := context.Background()

	assert.Equal(t, DrainResult{}, f.data.SetOnline(ctx, true))
	assert.True(t, f.data.Online())

	offline := f.newManager(0)
	offline.SetOnline(ctx, false)
	assert.False(t, offline.Online())
}

// restartingRecords restores a fresh manager from the persisted queue before
// each insert, which is what a process restarted mid-drain would see.
type restartingRecords struct {
	*memory.RecordStore
	restart  func() *Manager
	restored [][]entities.PendingOperation
}

func (r *restartingRecords) Insert(ctx context.Context, table string, rows []ports.Row) error {
	restarted := r.restart()
	restarted.Restore(ctx)
	r.restored = append(r.restored, restarted.Pending(ctx))
	return r.RecordStore.Insert(ctx, table, rows)
}

func TestDrainKeepsOperationsPersistedUntilReplayed(t *testing.T) {
	f := newDataFixture("u1", 0, "customers", "orders")
	ctx := context.Background()
	records := &restartingRecords{RecordStore: f.records, restart: func() *Manager { return f.newManager(0) }}
	data := NewManager(Dependencies{
		Persistence:  f.persistence,
		Records:      records,
		Clock:        f.clock,
		IDGen:        memory.IDGenerator{},
		StartOffline: true,
	})

	_, err := data.AddItem(ctx, "orders", map[string]any{"id": "ord-1"}, "u1")
	require.NoError(t, err)
	_, err = data.AddItem(ctx, "orders", map[string]any{"id": "ord-2"}, "u1")
	require.NoError(t, err)

	result := data.SetOnline(ctx, true)
	require.Equal(t, 2, result.Replayed)

	require.Len(t, records.restored, 2)
	require.Len(t, records.restored[0], 2, "nothing is removed before its replay is confirmed")
	assert.Equal(t, "ord-1", records.restored[0][0].ItemID)
	require.Len(t, records.restored[1], 1)
	assert.Equal(t, "ord-2", records.restored[1][0].ItemID)

	assert.Empty(t, data.Pending(ctx))
	assert.Zero(t, f.newManager(0).Restore(ctx))
}

func TestRequeuedOperationsArePersisted(t *testing.T) {
	f := newDataFixture("u1", 0)
	ctx := context.Background()
	f.data.SetOnline(ctx, false)
	_, err := f.data.AddItem(ctx, "products", map[string]any{"id": "prod-1"}, "u1")
	require.NoError(t, err)

	f.blobs.SetFailure(domainerrors.ErrTransportUnavailable)
	f.reprobe()
	require.Equal(t, 1, f.data.Drain(ctx).Requeued)

	restarted := f.newManager(0)
	require.Equal(t, 1, restarted.Restore(ctx))
	assert.Equal(t, 1, restarted.Pending(ctx)[0].Attempts)
}

func TestWritesAreNotQueuedWithoutRemoteStores(t *testing.T) {
	local := memory.NewLocalStore()
	clock := memory.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	manager := persistence.NewManager(persistence.Dependencies{
		Local:         local,
		Clock:         clock,
		LocalOnlyKeys: []string{DefaultQueueKey},
	})
	data := NewManager(Dependencies{
		Persistence:  manager,
		Clock:        clock,
		StartOffline: true,
	})
	ctx := context.Background()

	result := data.SetCollection(ctx, "orders", []entities.Item{{"id": "ord-1"}}, "u1")
	assert.True(t, result.Local)
	_, err := data.AddItem(ctx, "orders", map[string]any{"id": "ord-2"}, "u1")
	require.NoError(t, err)

	assert.Empty(t, data.Pending(ctx))
	assert.Len(t, data.GetCollection(ctx, "orders", nil, "u1"), 2)
	assert.False(t, data.QueuesWrite(persistence.WriteResult{Local: true}, "u1"))
}

func TestQueueIsBoundedByDroppingOldest(t *testing.T) {
	f := newDataFixture("u1", 0)
	data := NewManager(Dependencies{
		Persistence:    f.persistence,
		Records:        f.records,
		Clock:          f.clock,
		IDGen:          memory.IDGenerator{},
		MaxQueueLength: 2,
		StartOffline:   true,
	})
	ctx := context.Background()

	for _, id := range []string{"prod-1", "prod-2", "prod-3"} {
		_, err := data.AddItem(ctx, "products", map[string]any{"id": id}, "u1")
		require.NoError(t, err)
	}

	pending := data.Pending(ctx)
	require.Len(t, pending, 2)
	assert.Equal(t, "prod-2", pending[0].ItemID)
	assert.Equal(t, "prod-3", pending[1].ItemID)
}

func TestUnserializableItemIsNotQueued(t *testing.T) {
	f := newDataFixture("u1", 0)
	ctx := context.Background()
	f.data.SetOnline(ctx, false)

	_, err := f.data.AddItem(ctx, "orders", entities.Item{"id": "ord-1", "notify": make(chan int)}, "u1")
	require.NoError(t, err)
	assert.Empty(t, f.data.Pending(ctx), "a payload that cannot be encoded is never queued as null")

	f.data.SetCollection(ctx, "orders", []entities.Item{{"id": "ord-2", "notify": func() {}}}, "u1")
	assert.Empty(t, f.data.Pending(ctx))
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
