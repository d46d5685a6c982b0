package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	application "dashsync/contexts/data-platform/sync-engine/application"
	"dashsync/contexts/data-platform/sync-engine/domain/entities"
	domainerrors "dashsync/contexts/data-platform/sync-engine/domain/errors"
	"dashsync/contexts/data-platform/sync-engine/ports"
)

const (
	TierLocal      = "local"
	TierRemoteBlob = "remote-blob"

	// DefaultMaxLocalValueBytes mirrors the usual browser storage quota.
	DefaultMaxLocalValueBytes = 5 << 20
)

// Tier is one storage strategy in the manager's ordered tier list.
// Get returns ErrNotFound when the tier holds nothing visible for the caller.
type Tier interface {
	Name() string
	// Remote tiers never receive local-only keys.
	Remote() bool
	Usable(status entities.CapabilityStatus, userID string) bool
	Get(ctx context.Context, key string, userID string) (entities.StoredValue, error)
	Set(ctx context.Context, key string, userID string, envelope entities.Envelope) error
	Remove(ctx context.Context, key string, userID string) error
}

// NamespacedKey is the effective on-device key for (key, userID).
func NamespacedKey(key string, userID string) string {
	if userID == "" {
		return key
	}
	return key + ":" + userID
}

// localTier adapts a synchronous LocalStore: JSON text, user namespacing and
// containment of corrupt or oversized values.
type localTier struct {
	store    ports.LocalStore
	maxBytes int
	logger   *slog.Logger
}

func newLocalTier(store ports.LocalStore, maxBytes int, logger *slog.Logger) *localTier {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxLocalValueBytes
	}
	return &localTier{store: store, maxBytes: maxBytes, logger: logger}
}

func (t *localTier) Name() string { return TierLocal }

func (t *localTier) Remote() bool { return false }

func (t *localTier) Usable(status entities.CapabilityStatus, _ string) bool {
	return t.store != nil && status.LocalStoreUsable
}

func (t *localTier) Get(_ context.Context, key string, userID string) (entities.StoredValue, error) {
	storageKey := NamespacedKey(key, userID)
	raw, ok, err := t.store.Get(storageKey)
	if err != nil {
		return entities.StoredValue{}, err
	}
	if !ok {
		return entities.StoredValue{}, domainerrors.ErrNotFound
	}
	if len(raw) > t.maxBytes {
		t.logger.Warn("oversized local value treated as absent",
			"event", "sync_engine_local_value_oversized",
			"module", application.Module,
			"layer", "application",
			"storage_key", storageKey,
			"size_bytes", len(raw),
		)
		return entities.StoredValue{}, domainerrors.ErrNotFound
	}

	value, err := entities.DecodeStored([]byte(raw))
	if err != nil {
		t.logger.Warn("corrupt local value treated as absent",
			"event", "sync_engine_local_value_corrupt",
			"module", application.Module,
			"layer", "application",
			"storage_key", storageKey,
			"error", err.Error(),
		)
		return entities.StoredValue{}, domainerrors.ErrNotFound
	}
	if value.Kind == entities.KindEnvelope && !value.Envelope.VisibleTo(userID) {
		return entities.StoredValue{}, domainerrors.ErrNotFound
	}
	return value, nil
}

func (t *localTier) Set(_ context.Context, key string, userID string, envelope entities.Envelope) error {
	raw, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", domainerrors.ErrSerialization)
	}
	if len(raw) > t.maxBytes {
		return fmt.Errorf("%d bytes for %q: %w", len(raw), key, domainerrors.ErrValueTooLarge)
	}
	return t.store.Set(NamespacedKey(key, userID), string(raw))
}

func (t *localTier) Remove(_ context.Context, key string, userID string) error {
	return t.store.Remove(NamespacedKey(key, userID))
}

// keysFor lists logical keys stored under userID's namespace.
func (t *localTier) keysFor(userID string) ([]string, error) {
	all, err := t.store.Keys()
	if err != nil {
		return nil, err
	}
	suffix := ":" + userID
	keys := make([]string, 0, len(all))
	for _, storageKey := range all {
		if len(storageKey) > len(suffix) && strings.HasSuffix(storageKey, suffix) {
			keys = append(keys, strings.TrimSuffix(storageKey, suffix))
		}
	}
	return keys, nil
}

// blobTier is the per-user remote keyed-blob store. Every call is bounded by
// timeout; expiry is reported as ErrTransportUnavailable.
type blobTier struct {
	store   ports.KeyedBlobStore
	timeout time.Duration
}

func (t *blobTier) Name() string { return TierRemoteBlob }

func (t *blobTier) Remote() bool { return true }

func (t *blobTier) Usable(status entities.CapabilityStatus, userID string) bool {
	return t.store != nil && userID != "" && status.RemoteBlobUsable
}

func (t *blobTier) Get(ctx context.Context, key string, userID string) (entities.StoredValue, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	record, err := t.store.Get(ctx, userID, key)
	if err != nil {
		return entities.StoredValue{}, boundErr(ctx, err)
	}
	value, err := entities.DecodeStored(record.Data)
	if err != nil {
		return entities.StoredValue{}, err
	}
	if value.Kind == entities.KindEnvelope && !value.Envelope.VisibleTo(userID) {
		return entities.StoredValue{}, domainerrors.ErrNotFound
	}
	if value.Kind == entities.KindBare {
		value.Envelope.Timestamp = record.UpdatedAt.UnixMilli()
	}
	return value, nil
}

func (t *blobTier) Set(ctx context.Context, key string, userID string, envelope entities.Envelope) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	raw, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", domainerrors.ErrSerialization)
	}
	err = t.store.Upsert(ctx, ports.BlobRecord{
		UserID:     userID,
		StorageKey: key,
		Data:       raw,
		UpdatedAt:  envelope.Time(),
	})
	return boundErr(ctx, err)
}

func (t *blobTier) Remove(ctx context.Context, key string, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return boundErr(ctx, t.store.Delete(ctx, userID, key))
}

func boundErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, domainerrors.ErrTransportUnavailable) {
		return fmt.Errorf("%w: %v", domainerrors.ErrTransportUnavailable, err)
	}
	return err
}
