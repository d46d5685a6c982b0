package httpadapter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	application "dashsync/contexts/data-platform/sync-engine/application"
	"dashsync/contexts/data-platform/sync-engine/application/catalog"
	"dashsync/contexts/data-platform/sync-engine/application/datamanager"
	"dashsync/contexts/data-platform/sync-engine/application/persistence"
	"dashsync/contexts/data-platform/sync-engine/domain/entities"
	domainerrors "dashsync/contexts/data-platform/sync-engine/domain/errors"
	httptransport "dashsync/contexts/data-platform/sync-engine/transport/http"
)

type Handler struct {
	Persistence *persistence.Manager
	Data        *datamanager.Manager
	Logger      *slog.Logger
}

// StatusHandler godoc
// @Summary Persistence status
// @Description Returns which storage tiers are usable, remediation hints and offline queue depth.
// @Tags sync-engine
// @Produce json
// @Param X-User-Id header string false "Signed-in user id"
// @Param force query bool false "Bypass the cached probe result"
// @Success 200 {object} httptransport.StatusResponse
// @Router /v1/persistence/status [get]
func (h Handler) StatusHandler(ctx context.Context, userID string, force bool) (httptransport.StatusResponse, error) {
	status := h.Persistence.Status(ctx, force)
	resp := httptransport.StatusResponse{
		LocalStoreUsable:   status.LocalStoreUsable,
		RemoteAuthUsable:   status.RemoteAuthUsable,
		RemoteBlobUsable:   status.RemoteBlobUsable,
		RemoteTablesUsable: status.RemoteTablesUsable,
		UserID:             status.UserID,
		Errors:             status.Errors,
		Hints:              status.Hints,
		CheckedAt:          status.CheckedAt,
		Online:             h.Data.Online(),
		PendingOperations:  len(h.Data.Pending(ctx)),
	}
	if userID != "" {
		if last := h.Persistence.LastSync(ctx, userID); !last.IsZero() {
			resp.LastSyncAt = &last
		}
	}
	return resp, nil
}

// GetCollectionHandler godoc
// @Summary Read a collection
// @Description Returns the stored collection from the highest usable tier; never fails for known entities.
// @Tags sync-engine
// @Produce json
// @Param X-User-Id header string false "Signed-in user id"
// @Param key path string true "Entity collection (customers, orders, products, claims, retailers, shipments)"
// @Success 200 {object} httptransport.CollectionResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Router /v1/collections/{key} [get]
func (h Handler) GetCollectionHandler(ctx context.Context, userID string, key string) (httptransport.CollectionResponse, error) {
	def, err := catalog.Lookup(key)
	if err != nil {
		return httptransport.CollectionResponse{}, err
	}
	items := h.Data.GetCollection(ctx, def.Key, nil, userID)
	return httptransport.CollectionResponse{Key: def.Key, Items: mapItems(items)}, nil
}

// SetCollectionHandler godoc
// @Summary Replace a collection
// @Description Writes the whole collection to every usable tier and queues it for replay when remote storage is unreachable.
// @Tags sync-engine
// @Accept json
// @Produce json
// @Param X-User-Id header string false "Signed-in user id"
// @Param key path string true "Entity collection"
// @Param request body httptransport.SetCollectionRequest true "Collection items"
// @Success 200 {object} httptransport.WriteResponse
// @Failure 400 {object} httptransport.ErrorResponse
// @Failure 401 {object} httptransport.ErrorResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Router /v1/collections/{key} [put]
func (h Handler) SetCollectionHandler(
	ctx context.Context,
	userID string,
	key string,
	req httptransport.SetCollectionRequest,
) (httptransport.WriteResponse, error) {
	def, err := h.writable(key, userID)
	if err != nil {
		return httptransport.WriteResponse{}, err
	}
	items := make([]entities.Item, 0, len(req.Items))
	for _, raw := range req.Items {
		item := entities.Item(raw)
		if strings.TrimSpace(item.ID()) == "" {
			return httptransport.WriteResponse{}, fmt.Errorf("collection item without id: %w", domainerrors.ErrInvalidItem)
		}
		items = append(items, item)
	}
	result := h.Data.SetCollection(ctx, def.Key, items, userID)
	h.logWrite(def.Key, "set_collection", result)
	return httptransport.WriteResponse{
		Local:  result.Local,
		Remote: result.Remote,
		Queued: h.Data.QueuesWrite(result, userID),
	}, nil
}

// AddItemHandler godoc
// @Summary Add an item
// @Description Appends an item, generating an id when missing; queued for replay while offline.
// @Tags sync-engine
// @Accept json
// @Produce json
// @Param X-User-Id header string false "Signed-in user id"
// @Param key path string true "Entity collection"
// @Param request body map[string]interface{} true "Item fields"
// @Success 201 {object} httptransport.ItemResponse
// @Failure 400 {object} httptransport.ErrorResponse
// @Failure 401 {object} httptransport.ErrorResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Router /v1/collections/{key}/items [post]
func (h Handler) AddItemHandler(ctx context.Context, userID string, key string, item map[string]any) (httptransport.ItemResponse, error) {
	def, err := h.writable(key, userID)
	if err != nil {
		return httptransport.ItemResponse{}, err
	}
	stored, err := h.Data.AddItem(ctx, def.Key, entities.Item(item), userID)
	if err != nil {
		return httptransport.ItemResponse{}, err
	}
	return httptransport.ItemResponse{Key: def.Key, Item: stored}, nil
}

// UpdateItemHandler godoc
// @Summary Update an item
// @Description Merges the patch into the item with the given id.
// @Tags sync-engine
// @Accept json
// @Produce json
// @Param X-User-Id header string false "Signed-in user id"
// @Param key path string true "Entity collection"
// @Param item_id path string true "Item id"
// @Param request body map[string]interface{} true "Fields to change"
// @Success 200 {object} httptransport.ItemResponse
// @Failure 401 {object} httptransport.ErrorResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Router /v1/collections/{key}/items/{item_id} [patch]
func (h Handler) UpdateItemHandler(
	ctx context.Context,
	userID string,
	key string,
	itemID string,
	patch map[string]any,
) (httptransport.ItemResponse, error) {
	def, err := h.writable(key, userID)
	if err != nil {
		return httptransport.ItemResponse{}, err
	}
	stored, ok, err := h.Data.UpdateItem(ctx, def.Key, itemID, entities.Item(patch), userID)
	if err != nil {
		return httptransport.ItemResponse{}, err
	}
	if !ok {
		return httptransport.ItemResponse{}, fmt.Errorf("%s/%s: %w", def.Key, itemID, domainerrors.ErrNotFound)
	}
	return httptransport.ItemResponse{Key: def.Key, Item: stored}, nil
}

// RemoveItemHandler godoc
// @Summary Remove an item
// @Tags sync-engine
// @Param X-User-Id header string false "Signed-in user id"
// @Param key path string true "Entity collection"
// @Param item_id path string true "Item id"
// @Success 204
// @Failure 401 {object} httptransport.ErrorResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Router /v1/collections/{key}/items/{item_id} [delete]
func (h Handler) RemoveItemHandler(ctx context.Context, userID string, key string, itemID string) error {
	def, err := h.writable(key, userID)
	if err != nil {
		return err
	}
	if !h.Data.RemoveItem(ctx, def.Key, itemID, userID) {
		return fmt.Errorf("%s/%s: %w", def.Key, itemID, domainerrors.ErrNotFound)
	}
	return nil
}

// QueueHandler godoc
// @Summary Offline queue
// @Description Lists the caller's operations waiting for replay, in enqueue order.
// @Tags sync-engine
// @Produce json
// @Param X-User-Id header string false "Signed-in user id"
// @Success 200 {object} httptransport.QueueResponse
// @Router /v1/sync/queue [get]
func (h Handler) QueueHandler(ctx context.Context, userID string) (httptransport.QueueResponse, error) {
	pending := h.Data.Pending(ctx)
	items := make([]httptransport.PendingOperationDTO, 0, len(pending))
	for _, op := range pending {
		if op.UserID != userID {
			continue
		}
		items = append(items, httptransport.PendingOperationDTO{
			ID:        op.ID,
			Key:       op.Key,
			Kind:      string(op.Kind),
			ItemID:    op.ItemID,
			CreatedAt: op.CreatedAt,
			UserID:    op.UserID,
			Attempts:  op.Attempts,
		})
	}
	return httptransport.QueueResponse{Online: h.Data.Online(), Items: items}, nil
}

// DrainHandler godoc
// @Summary Drain the offline queue
// @Description Replays queued operations now, regardless of the connectivity flag.
// @Tags sync-engine
// @Produce json
// @Success 200 {object} httptransport.DrainResponse
// @Router /v1/sync/drain [post]
func (h Handler) DrainHandler(ctx context.Context) (httptransport.DrainResponse, error) {
	result := h.Data.Drain(ctx)
	return httptransport.DrainResponse{
		Attempted:   result.Attempted,
		Replayed:    result.Replayed,
		Requeued:    result.Requeued,
		Dropped:     result.Dropped,
		Pushed:      result.Pushed,
		Remaining:   len(h.Data.Pending(ctx)),
		CompletedAt: result.CompletedAt,
	}, nil
}

// MigrateHandler godoc
// @Summary Migrate local data to remote storage
// @Description Upserts every local key owned by the user into the keyed-blob store, then pulls newer remote rows.
// @Tags sync-engine
// @Produce json
// @Param X-User-Id header string true "Signed-in user id"
// @Success 200 {object} httptransport.MigrateResponse
// @Failure 401 {object} httptransport.ErrorResponse
// @Router /v1/sync/migrate [post]
func (h Handler) MigrateHandler(ctx context.Context, userID string) (httptransport.MigrateResponse, error) {
	if strings.TrimSpace(userID) == "" {
		return httptransport.MigrateResponse{}, fmt.Errorf("migrate: %w", domainerrors.ErrAuthRequired)
	}
	migrated := h.Persistence.MigrateLocalToRemote(ctx, userID)
	pulled := h.Persistence.PullRemote(ctx, userID)
	return httptransport.MigrateResponse{UserID: userID, Migrated: migrated, Pulled: pulled}, nil
}

func (h Handler) writable(key string, userID string) (catalog.Definition, error) {
	def, err := catalog.Lookup(key)
	if err != nil {
		return catalog.Definition{}, err
	}
	if def.UserOwned && strings.TrimSpace(userID) == "" {
		return catalog.Definition{}, fmt.Errorf("write %s: %w", def.Name, domainerrors.ErrAuthRequired)
	}
	return def, nil
}

func (h Handler) logWrite(key string, op string, result persistence.WriteResult) {
	application.ResolveLogger(h.Logger).Debug("collection write handled",
		"event", "http_collection_write_handled",
		"module", application.Module,
		"layer", "transport",
		"key", key,
		"operation", op,
		"local", result.Local,
		"remote", result.Remote,
	)
}

func mapItems(items []entities.Item) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, item)
	}
	return out
}
