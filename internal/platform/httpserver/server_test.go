package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	syncengine "dashsync/contexts/data-platform/sync-engine"
	httptransport "dashsync/contexts/data-platform/sync-engine/transport/http"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(userID string) (*Server, syncengine.Module) {
	module := syncengine.NewInMemoryModule(userID, nil)
	return New(module, nil, ":0", false), module
}

func serve(t *testing.T, server *Server, method string, path string, body any, userID string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	rr := httptest.NewRecorder()
	server.mux.ServeHTTP(rr, req)
	return rr
}

func TestStatusReportsUsableTiers(t *testing.T) {
	server, _ := newTestServer("user_1")

	rr := serve(t, server, http.MethodGet, "/v1/persistence/status?force=true", nil, "user_1")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp httptransport.StatusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.LocalStoreUsable)
	assert.True(t, resp.RemoteAuthUsable)
	assert.True(t, resp.RemoteBlobUsable)
	assert.True(t, resp.RemoteTablesUsable)
	assert.True(t, resp.Online)
	assert.Equal(t, "user_1", resp.UserID)
	assert.Zero(t, resp.PendingOperations)
}

func TestStatusRejectsMalformedForce(t *testing.T) {
	server, _ := newTestServer("")

	rr := serve(t, server, http.MethodGet, "/v1/persistence/status?force=maybe", nil, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUnknownCollectionIsNotFound(t *testing.T) {
	server, _ := newTestServer("user_1")

	rr := serve(t, server, http.MethodGet, "/v1/collections/invoices", nil, "user_1")
	require.Equal(t, http.StatusNotFound, rr.Code)

	var resp httptransport.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "unknown_entity", resp.Code)
}

func TestAnonymousWriteToOwnedCollectionRequiresUser(t *testing.T) {
	server, _ := newTestServer("")

	rr := serve(t, server, http.MethodPost, "/v1/collections/orders/items", map[string]any{"status": "new"}, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code, rr.Body.String())
}

func TestItemLifecycleOverHTTP(t *testing.T) {
	server, module := newTestServer("user_1")

	created := serve(t, server, http.MethodPost, "/v1/collections/customers/items",
		map[string]any{"name": "Ada", "email": "ada@example.com"}, "user_1")
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())

	var item httptransport.ItemResponse
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &item))
	id, _ := item.Item["id"].(string)
	require.NotEmpty(t, id)
	assert.Contains(t, id, "cust-")

	updated := serve(t, server, http.MethodPatch, "/v1/collections/customers/items/"+id,
		map[string]any{"name": "Ada Lovelace"}, "user_1")
	require.Equal(t, http.StatusOK, updated.Code, updated.Body.String())
	require.NoError(t, json.Unmarshal(updated.Body.Bytes(), &item))
	assert.Equal(t, "Ada Lovelace", item.Item["name"])
	assert.Equal(t, "ada@example.com", item.Item["email"])

	listed := serve(t, server, http.MethodGet, "/v1/collections/customers", nil, "user_1")
	require.Equal(t, http.StatusOK, listed.Code)
	var collection httptransport.CollectionResponse
	require.NoError(t, json.Unmarshal(listed.Body.Bytes(), &collection))
	require.Len(t, collection.Items, 1)

	assert.Equal(t, 1, module.Blobs.Count("user_1"))

	removed := serve(t, server, http.MethodDelete, "/v1/collections/customers/items/"+id, nil, "user_1")
	assert.Equal(t, http.StatusNoContent, removed.Code)

	missing := serve(t, server, http.MethodDelete, "/v1/collections/customers/items/"+id, nil, "user_1")
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestSetCollectionRejectsItemsWithoutID(t *testing.T) {
	server, _ := newTestServer("user_1")

	body := httptransport.SetCollectionRequest{Items: []map[string]any{{"name": "no id"}}}
	rr := serve(t, server, http.MethodPut, "/v1/collections/products", body, "user_1")
	assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
}

func TestInvalidJSONBody(t *testing.T) {
	server, _ := newTestServer("user_1")

	req := httptest.NewRequest(http.MethodPost, "/v1/collections/products/items", bytes.NewReader([]byte("{")))
	req.Header.Set("X-User-Id", "user_1")
	rr := httptest.NewRecorder()
	server.mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestOfflineWritesAreQueuedAndDrained(t *testing.T) {
	server, module := newTestServer("user_1")
	ctx := t.Context()
	module.Data.SetOnline(ctx, false)

	body := httptransport.SetCollectionRequest{Items: []map[string]any{{"id": "prod-1", "name": "Widget"}}}
	rr := serve(t, server, http.MethodPut, "/v1/collections/products", body, "user_1")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var write httptransport.WriteResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &write))
	assert.True(t, write.Local)
	assert.True(t, write.Queued)

	queued := serve(t, server, http.MethodGet, "/v1/sync/queue", nil, "user_1")
	var queue httptransport.QueueResponse
	require.NoError(t, json.Unmarshal(queued.Body.Bytes(), &queue))
	assert.False(t, queue.Online)
	require.Len(t, queue.Items, 1)
	assert.Equal(t, "products", queue.Items[0].Key)

	drained := serve(t, server, http.MethodPost, "/v1/sync/drain", nil, "user_1")
	require.Equal(t, http.StatusOK, drained.Code)
	var drain httptransport.DrainResponse
	require.NoError(t, json.Unmarshal(drained.Body.Bytes(), &drain))
	assert.Equal(t, 1, drain.Attempted)
	assert.Equal(t, 1, drain.Replayed)
	assert.Zero(t, drain.Remaining)
}

func TestQueueListsOnlyTheCallersOperations(t *testing.T) {
	server, module := newTestServer("user_1")
	ctx := t.Context()
	module.Data.SetOnline(ctx, false)

	for _, userID := range []string{"user_1", "user_2", "user_2"} {
		body := map[string]any{"name": "Widget for " + userID}
		rr := serve(t, server, http.MethodPost, "/v1/collections/products/items", body, userID)
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	}
	require.Len(t, module.Data.Pending(ctx), 3)

	rr := serve(t, server, http.MethodGet, "/v1/sync/queue", nil, "user_1")
	require.Equal(t, http.StatusOK, rr.Code)
	var queue httptransport.QueueResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &queue))
	require.Len(t, queue.Items, 1)
	assert.Equal(t, "user_1", queue.Items[0].UserID)

	rr = serve(t, server, http.MethodGet, "/v1/sync/queue", nil, "user_2")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &queue))
	assert.Len(t, queue.Items, 2)
	for _, item := range queue.Items {
		assert.Equal(t, "user_2", item.UserID)
	}
}

func TestMigrateRequiresUser(t *testing.T) {
	server, _ := newTestServer("")

	rr := serve(t, server, http.MethodPost, "/v1/sync/migrate", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestMigrateCopiesLocalData(t *testing.T) {
	server, module := newTestServer("user_1")
	require.Equal(t, http.StatusOK, serve(t, server, http.MethodGet, "/v1/persistence/status", nil, "user_1").Code)
	module.Local.Put("products:user_1", `[{"id":"prod-1"}]`)

	rr := serve(t, server, http.MethodPost, "/v1/sync/migrate", nil, "user_1")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp httptransport.MigrateResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "user_1", resp.UserID)
	assert.Equal(t, 1, resp.Migrated)
	assert.Equal(t, 1, module.Blobs.Count("user_1"))
}

func TestSwaggerRouteOnlyWhenEnabled(t *testing.T) {
	module := syncengine.NewInMemoryModule("", nil)

	disabled := New(module, nil, "", false)
	rr := httptest.NewRecorder()
	disabled.mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	enabled := New(module, nil, "", true)
	rr = httptest.NewRecorder()
	enabled.mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "/v1/sync/drain")
}
