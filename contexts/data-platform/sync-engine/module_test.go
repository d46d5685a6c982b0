package syncengine_test

import (
	"testing"

	syncengine "dashsync/contexts/data-platform/sync-engine"
	authadapter "dashsync/contexts/data-platform/sync-engine/adapters/auth"
	"dashsync/contexts/data-platform/sync-engine/adapters/memory"
	"dashsync/contexts/data-platform/sync-engine/domain/entities"
	"dashsync/contexts/data-platform/sync-engine/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryModuleOfflineAddReplaysToRecordStore(t *testing.T) {
	module := syncengine.NewInMemoryModule("u1", nil)
	ctx := t.Context()

	status := module.Persistence.Status(ctx, false)
	require.True(t, status.LocalStoreUsable)
	require.True(t, status.RemoteBlobUsable)
	require.True(t, status.RemoteTablesUsable)

	online, err := module.Catalog.Orders().Add(ctx, entities.Order{Total: 12.5, Currency: "EUR"})
	require.NoError(t, err)
	assert.Contains(t, online.ID, "ord-")
	assert.Empty(t, module.Data.Pending(ctx))
	assert.Equal(t, 1, module.Blobs.Count("u1"))

	module.Data.SetOnline(ctx, false)
	offline, err := module.Catalog.Orders().Add(ctx, entities.Order{Total: 3})
	require.NoError(t, err)
	require.Len(t, module.Data.Pending(ctx), 1)

	result := module.Data.SetOnline(ctx, true)
	assert.Equal(t, 1, result.Replayed)
	assert.Empty(t, module.Data.Pending(ctx))

	mutations := module.Records.Mutations()
	require.Len(t, mutations, 1)
	assert.Equal(t, "insert", mutations[0].Op)
	assert.Equal(t, "orders", mutations[0].Table)
	assert.Equal(t, offline.ID, mutations[0].Rows[0]["id"])

	orders := module.Catalog.Orders().List(ctx)
	assert.Len(t, orders, 2)
}

func TestInMemoryModuleSessionFollowsSignIn(t *testing.T) {
	module := syncengine.NewInMemoryModule("", nil)
	ctx := t.Context()

	_, ok, err := module.Session.CurrentUser(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	product, err := module.Catalog.Products().Add(ctx, entities.Product{Name: "Cable", Price: 4})
	require.NoError(t, err)
	assert.Contains(t, product.ID, "prod-")
	assert.Zero(t, module.Blobs.Count(""), "anonymous writes stay local")
}

func TestAnonymousStatusDoesNotDisableRemoteForSignedInUsers(t *testing.T) {
	blobs := memory.NewBlobStore()
	module := syncengine.NewModule(syncengine.Dependencies{
		Local:   memory.NewLocalStore(),
		Blobs:   blobs,
		Records: memory.NewRecordStore("customers"),
		Auth:    authadapter.ContextAuth{},
		Clock:   &memory.Clock{},
		IDGen:   memory.IDGenerator{},
	})
	ctx := t.Context()

	anonymous := module.Persistence.Status(ctx, true)
	require.False(t, anonymous.RemoteBlobUsable)

	userCtx := authadapter.WithUser(ctx, ports.User{ID: "u1"})
	result := module.Data.SetCollection(userCtx, "orders", []entities.Item{{"id": "ord-1"}}, "u1")
	assert.True(t, result.Local)
	assert.True(t, result.Remote)
	assert.Empty(t, module.Data.Pending(ctx))
	assert.Equal(t, 1, blobs.Count("u1"))

	u2 := module.Persistence.Status(authadapter.WithUser(ctx, ports.User{ID: "u2"}), false)
	assert.Equal(t, "u2", u2.UserID)
	assert.True(t, u2.RemoteBlobUsable)
}

func TestStatusMigratesEachUserWhenTheirTierBecomesUsable(t *testing.T) {
	local := memory.NewLocalStore()
	blobs := memory.NewBlobStore()
	module := syncengine.NewModule(syncengine.Dependencies{
		Local: local,
		Blobs: blobs,
		Auth:  authadapter.ContextAuth{},
		Clock: &memory.Clock{},
	})
	ctx := t.Context()
	local.Put("orders:u1", `[{"id":"ord-1"}]`)
	local.Put("orders:u2", `[{"id":"ord-2"}]`)

	module.Persistence.Status(authadapter.WithUser(ctx, ports.User{ID: "u1"}), false)
	module.Persistence.Status(authadapter.WithUser(ctx, ports.User{ID: "u2"}), false)

	assert.Equal(t, 1, blobs.Count("u1"))
	assert.Equal(t, 1, blobs.Count("u2"))
}

func TestDrainReplaysWithTheOwnersSession(t *testing.T) {
	blobs := memory.NewBlobStore()
	module := syncengine.NewModule(syncengine.Dependencies{
		Local: memory.NewLocalStore(),
		Blobs: blobs,
		Auth:  authadapter.ContextAuth{},
		Clock: &memory.Clock{},
		IDGen: memory.IDGenerator{},
	})
	ctx := t.Context()
	userCtx := authadapter.WithUser(ctx, ports.User{ID: "u1"})

	module.Data.SetOnline(ctx, false)
	module.Data.SetCollection(userCtx, "orders", []entities.Item{{"id": "ord-1"}}, "u1")
	require.Len(t, module.Data.Pending(ctx), 1)

	result := module.Data.SetOnline(ctx, true)
	assert.Equal(t, 1, result.Replayed)
	assert.Zero(t, result.Requeued)
	assert.Empty(t, module.Data.Pending(ctx))
	assert.Equal(t, 1, blobs.Count("u1"))
}
