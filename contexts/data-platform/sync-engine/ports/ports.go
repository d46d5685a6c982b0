package ports

import (
	"context"
	"strings"
	"time"
)

// LocalStore is synchronous device-bound key/value storage holding
// serialized text. Implementations must not block on the network.
type LocalStore interface {
	Get(key string) (string, bool, error)
	Set(key string, value string) error
	Remove(key string) error
	// Keys enumerates every stored key; used by migration.
	Keys() ([]string, error)
}

// Row is one record of the remote relational store.
type Row map[string]any

// Filter is an equality filter; all members must match.
type Filter map[string]any

// RecordStore is the hosted relational store addressed by table name.
// Errors wrap ErrSchemaMissing when the table is not provisioned and
// ErrTransportUnavailable otherwise.
type RecordStore interface {
	Insert(ctx context.Context, table string, rows []Row) error
	Update(ctx context.Context, table string, patch Row, filter Filter) error
	Delete(ctx context.Context, table string, filter Filter) error
	Select(ctx context.Context, table string, filter Filter, limit int) ([]Row, error)
}

// BlobRecord is one row of the per-user keyed-blob table.
type BlobRecord struct {
	UserID     string
	StorageKey string
	Data       []byte
	UpdatedAt  time.Time
}

// KeyedBlobStore is the per-user remote key/value table keyed by
// (user_id, storage_key). It is the cross-device sync medium.
type KeyedBlobStore interface {
	// Upsert overwrites any existing row for (UserID, StorageKey).
	Upsert(ctx context.Context, record BlobRecord) error
	// Get returns ErrNotFound when no row exists.
	Get(ctx context.Context, userID string, storageKey string) (BlobRecord, error)
	Delete(ctx context.Context, userID string, storageKey string) error
	ListNewerThan(ctx context.Context, userID string, since time.Time) ([]BlobRecord, error)
	// Ping issues a bounded (limit 1) query scoped to userID.
	Ping(ctx context.Context, userID string) error
}

type User struct {
	ID    string
	Email string
}

// AuthProvider supplies the current signed-in user, if any.
type AuthProvider interface {
	CurrentUser(ctx context.Context) (User, bool, error)
}

type userContextKey struct{}

// ContextWithUser returns a context acting on behalf of user. Providers that
// resolve the session per request read it back with UserFromContext.
func ContextWithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

func UserFromContext(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(userContextKey{}).(User)
	if !ok || strings.TrimSpace(user.ID) == "" {
		return User{}, false
	}
	return user, true
}

// Clock allows deterministic testing of TTL and timestamp rules.
type Clock interface {
	Now() time.Time
}

// IDGenerator abstracts pending operation identifier generation.
type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

// ConnectivityEvent reports a transition of remote reachability.
type ConnectivityEvent struct {
	Online     bool
	UserID     string
	OccurredAt time.Time
}

// ConnectivityPublisher broadcasts connectivity transitions.
type ConnectivityPublisher interface {
	PublishConnectivity(ctx context.Context, event ConnectivityEvent) error
}

// ConnectivitySubscriber registers a connectivity transition callback.
type ConnectivitySubscriber interface {
	SubscribeConnectivity(
		ctx context.Context,
		consumerGroup string,
		handler func(context.Context, ConnectivityEvent) error,
	) error
}
