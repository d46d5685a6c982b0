package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	application "dashsync/contexts/data-platform/sync-engine/application"
	"dashsync/contexts/data-platform/sync-engine/application/datamanager"
	"dashsync/contexts/data-platform/sync-engine/domain/entities"
	domainerrors "dashsync/contexts/data-platform/sync-engine/domain/errors"
	"dashsync/contexts/data-platform/sync-engine/ports"
)

// Definition binds an entity name to its collection key.
type Definition struct {
	Name     string
	Key      string
	IDPrefix string
	// UserOwned entities cannot be written without a signed-in user.
	UserOwned bool
}

var definitions = []Definition{
	{Name: "customers", Key: "customers", IDPrefix: "cust", UserOwned: true},
	{Name: "orders", Key: "orders", IDPrefix: "ord", UserOwned: true},
	{Name: "products", Key: "products", IDPrefix: "prod"},
	{Name: "claims", Key: "claims", IDPrefix: "clm", UserOwned: true},
	{Name: "retailers", Key: "retailers", IDPrefix: "ret"},
	{Name: "shipments", Key: "shipments", IDPrefix: "shp", UserOwned: true},
}

func Definitions() []Definition {
	return append([]Definition(nil), definitions...)
}

func Lookup(name string) (Definition, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, def := range definitions {
		if def.Name == name {
			return def, nil
		}
	}
	return Definition{}, fmt.Errorf("%q: %w", name, domainerrors.ErrUnknownEntity)
}

// IDPrefixes maps each collection key to its client-side id prefix.
func IDPrefixes() map[string]string {
	out := make(map[string]string, len(definitions))
	for _, def := range definitions {
		out[def.Key] = def.IDPrefix
	}
	return out
}

// DataManager is implemented by *datamanager.Manager.
type DataManager interface {
	GetCollection(ctx context.Context, key string, loader datamanager.Loader, userID string) []entities.Item
	AddItem(ctx context.Context, key string, item any, userID string) (entities.Item, error)
	UpdateItem(ctx context.Context, key string, id string, patch any, userID string) (entities.Item, bool, error)
	RemoveItem(ctx context.Context, key string, id string, userID string) bool
}

type Catalog struct {
	data   DataManager
	auth   ports.AuthProvider
	logger *slog.Logger
}

func New(data DataManager, auth ports.AuthProvider, logger *slog.Logger) *Catalog {
	return &Catalog{
		data:   data,
		auth:   auth,
		logger: application.ResolveLogger(logger),
	}
}

func (c *Catalog) Customers() Repository[entities.Customer] { return mustFor[entities.Customer](c, "customers") }
func (c *Catalog) Orders() Repository[entities.Order] { return mustFor[entities.Order](c, "orders") }
func (c *Catalog) Products() Repository[entities.Product] { return mustFor[entities.Product](c, "products") }
func (c *Catalog) Claims() Repository[entities.Claim] { return mustFor[entities.Claim](c, "claims") }
func (c *Catalog) Retailers() Repository[entities.Retailer] { return mustFor[entities.Retailer](c, "retailers") }
func (c *Catalog) Shipments() Repository[entities.Shipment] { return mustFor[entities.Shipment](c, "shipments") }

// For returns the typed repository for the named entity.
func For[T entities.Entity](c *Catalog, name string) (Repository[T], error) {
	def, err := Lookup(name)
	if err != nil {
		return Repository[T]{}, err
	}
	return Repository[T]{catalog: c, def: def}, nil
}

func mustFor[T entities.Entity](c *Catalog, name string) Repository[T] {
	repo, err := For[T](c, name)
	if err != nil {
		panic(err)
	}
	return repo
}

// currentUser resolves the signed-in user; an auth failure counts as
// signed out.
func (c *Catalog) currentUser(ctx context.Context) string {
	if c.auth == nil {
		return ""
	}
	user, ok, err := c.auth.CurrentUser(ctx)
	if err != nil {
		c.logger.Warn("current user lookup failed",
			"event", "sync_engine_catalog_auth_failed",
			"module", application.Module,
			"layer", "application",
			"error", err.Error(),
		)
		return ""
	}
	if !ok {
		return ""
	}
	return strings.TrimSpace(user.ID)
}

func (c *Catalog) writer(ctx context.Context, def Definition) (string, error) {
	userID := c.currentUser(ctx)
	if def.UserOwned && userID == "" {
		return "", fmt.Errorf("write %s: %w", def.Name, domainerrors.ErrAuthRequired)
	}
	return userID, nil
}

// Repository forwards typed calls for one entity to the data manager.
type Repository[T entities.Entity] struct {
	catalog *Catalog
	def     Definition
	loader  datamanager.Loader
}

func (r Repository[T]) Definition() Definition {
	return r.def
}

// WithLoader returns a copy of r that seeds an empty collection from loader.
func (r Repository[T]) WithLoader(loader func(ctx context.Context) ([]T, error)) Repository[T] {
	r.loader = func(ctx context.Context) ([]entities.Item, error) {
		records, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		items := make([]entities.Item, 0, len(records))
		for _, record := range records {
			item, err := entities.ItemFrom(record)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return items, nil
	}
	return r
}

// List never fails; items that do not decode as T are skipped.
func (r Repository[T]) List(ctx context.Context) []T {
	userID := r.catalog.currentUser(ctx)
	items := r.catalog.data.GetCollection(ctx, r.def.Key, r.loader, userID)
	out := make([]T, 0, len(items))
	for _, item := range items {
		record, err := entities.ConvertItem[T](item)
		if err != nil {
			r.catalog.logger.Warn("stored item skipped",
				"event", "sync_engine_catalog_item_skipped",
				"module", application.Module,
				"layer", "application",
				"entity", r.def.Name,
				"item_id", item.ID(),
				"error", err.Error(),
			)
			continue
		}
		out = append(out, record)
	}
	return out
}

func (r Repository[T]) Get(ctx context.Context, id string) (T, bool) {
	for _, record := range r.List(ctx) {
		if record.EntityID() == id {
			return record, true
		}
	}
	var zero T
	return zero, false
}

// Add stores record, generating its id when empty.
func (r Repository[T]) Add(ctx context.Context, record T) (T, error) {
	var zero T
	userID, err := r.catalog.writer(ctx, r.def)
	if err != nil {
		return zero, err
	}
	item, err := entities.ItemFrom(record)
	if err != nil {
		return zero, err
	}
	dropZeroTimes(item)
	stored, err := r.catalog.data.AddItem(ctx, r.def.Key, item, userID)
	if err != nil {
		return zero, err
	}
	return entities.ConvertItem[T](stored)
}

// Update merges patch into the record with the given id.
func (r Repository[T]) Update(ctx context.Context, id string, patch map[string]any) (T, bool, error) {
	var zero T
	userID, err := r.catalog.writer(ctx, r.def)
	if err != nil {
		return zero, false, err
	}
	stored, ok, err := r.catalog.data.UpdateItem(ctx, r.def.Key, id, patch, userID)
	if err != nil || !ok {
		return zero, ok, err
	}
	record, err := entities.ConvertItem[T](stored)
	return record, err == nil, err
}

func (r Repository[T]) Remove(ctx context.Context, id string) (bool, error) {
	userID, err := r.catalog.writer(ctx, r.def)
	if err != nil {
		return false, err
	}
	return r.catalog.data.RemoveItem(ctx, r.def.Key, id, userID), nil
}

var zeroTime = time.Time{}.Format(time.RFC3339)

func dropZeroTimes(item entities.Item) {
	for _, field := range []string{"createdAt", "updatedAt"} {
		if value, ok := item[field].(string); ok && (value == "" || value == zeroTime) {
			delete(item, field)
		}
	}
}
