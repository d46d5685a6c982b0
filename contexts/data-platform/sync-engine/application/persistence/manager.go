package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	application "dashsync/contexts/data-platform/sync-engine/application"
	"dashsync/contexts/data-platform/sync-engine/application/capability"
	"dashsync/contexts/data-platform/sync-engine/domain/entities"
	domainerrors "dashsync/contexts/data-platform/sync-engine/domain/errors"
	"dashsync/contexts/data-platform/sync-engine/ports"
)

const (
	DefaultRemoteTimeout = 8 * time.Second
	DefaultLastSyncKey   = "__dashsync_last_sync__"
)

type Dependencies struct {
	Local  ports.LocalStore
	Blobs  ports.KeyedBlobStore
	Prober *capability.Prober
	Clock  ports.Clock
	// LocalOnlyKeys are never routed to remote tiers.
	LocalOnlyKeys      []string
	LastSyncKey        string
	MaxLocalValueBytes int
	RemoteTimeout      time.Duration
	Logger             *slog.Logger
}

// WriteResult records which tiers accepted a write.
type WriteResult struct {
	Local           bool
	Remote          bool
	RemoteAttempted bool
}

// OK reports whether at least one tier accepted the write.
func (r WriteResult) OK() bool {
	return r.Local || r.Remote
}

// Manager routes reads and writes across an ordered list of tiers using the
// prober's cached capability status. Tiers are held in write order (local
// first); reads walk the list in reverse so the remote copy wins.
type Manager struct {
	tiers       []Tier
	local       *localTier
	remote      *blobTier
	prober      *capability.Prober
	clock       ports.Clock
	localOnly   map[string]struct{}
	lastSyncKey string
	logger      *slog.Logger

	mu     sync.Mutex
	stamps map[string]int64
	// seen holds the last status observed per user.
	seen   map[string]entities.CapabilityStatus
}

func NewManager(deps Dependencies) *Manager {
	logger := application.ResolveLogger(deps.Logger)
	if deps.RemoteTimeout <= 0 {
		deps.RemoteTimeout = DefaultRemoteTimeout
	}
	if deps.LastSyncKey == "" {
		deps.LastSyncKey = DefaultLastSyncKey
	}

	m := &Manager{
		local:       newLocalTier(deps.Local, deps.MaxLocalValueBytes, logger),
		prober:      deps.Prober,
		clock:       deps.Clock,
		localOnly:   make(map[string]struct{}, len(deps.LocalOnlyKeys)+1),
		lastSyncKey: deps.LastSyncKey,
		logger:      logger,
		stamps:      make(map[string]int64),
		seen:        make(map[string]entities.CapabilityStatus),
	}
	for _, key := range deps.LocalOnlyKeys {
		m.localOnly[key] = struct{}{}
	}
	m.localOnly[deps.LastSyncKey] = struct{}{}

	m.tiers = []Tier{m.local}
	if deps.Blobs != nil {
		m.remote = &blobTier{store: deps.Blobs, timeout: deps.RemoteTimeout}
		m.tiers = append(m.tiers, m.remote)
	}
	if m.prober == nil {
		m.prober = capability.NewProber(capability.Dependencies{
			Local:  deps.Local,
			Blobs:  deps.Blobs,
			Clock:  deps.Clock,
			Logger: logger,
		})
	}
	return m
}

// Status returns the capability snapshot for the user ctx acts for, running
// the checks again when that user's cached snapshot is stale or force is set.
// When a fresh snapshot shows the blob tier newly usable for a signed-in
// user, local data for that user is migrated up.
func (m *Manager) Status(ctx context.Context, force bool) entities.CapabilityStatus {
	status := m.prober.Probe(ctx, force)

	m.mu.Lock()
	prev := m.seen[status.UserID]
	changed := !status.CheckedAt.Equal(prev.CheckedAt)
	if changed {
		m.seen[status.UserID] = status
	}
	m.mu.Unlock()

	becameUsable := status.RemoteBlobUsable && !prev.RemoteBlobUsable
	if changed && becameUsable && status.UserID != "" && m.remote != nil {
		m.migrate(ctx, status.UserID, status)
	}
	return status
}

// RemoteConfigured reports whether a remote keyed-blob store is wired.
func (m *Manager) RemoteConfigured() bool {
	return m.remote != nil
}

// LocalOnly reports whether key is excluded from remote tiers.
func (m *Manager) LocalOnly(key string) bool {
	_, ok := m.localOnly[key]
	return ok
}

// Get returns the payload for (key, userID) from the highest-priority usable
// tier. It never fails; adapter errors degrade to the next tier or absent.
// A hit in the local tier after a remote miss is copied up to that tier.
func (m *Manager) Get(ctx context.Context, key string, userID string) (json.RawMessage, bool) {
	status := m.Status(ctx, false)

	var missed []Tier
	for i := len(m.tiers) - 1; i >= 0; i-- {
		tier := m.tiers[i]
		if !m.routes(tier, key, status, userID) {
			continue
		}
		value, err := m.tierGet(ctx, tier, key, userID)
		if err == nil {
			m.observe(key, userID, value.Envelope.Timestamp)
			if len(missed) > 0 {
				m.promote(ctx, missed, key, userID, value)
			}
			return value.Envelope.Data, true
		}
		if errors.Is(err, domainerrors.ErrNotFound) {
			missed = append(missed, tier)
			continue
		}
		m.logger.Warn("tier read failed, falling through",
			"event", "sync_engine_tier_read_failed",
			"module", application.Module,
			"layer", "application",
			"tier", tier.Name(),
			"key", key,
			"error", err.Error(),
		)
	}
	return nil, false
}

// GetAs decodes the payload for (key, userID) into T.
func GetAs[T any](ctx context.Context, m *Manager, key string, userID string) (T, bool) {
	var out T
	raw, ok := m.Get(ctx, key, userID)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		m.logger.Warn("stored payload has unexpected shape",
			"event", "sync_engine_payload_decode_failed",
			"module", application.Module,
			"layer", "application",
			"key", key,
			"error", err.Error(),
		)
		return out, false
	}
	return out, true
}

// Set writes value to every usable tier, local first. Each tier succeeds or
// fails independently; a remote failure never blocks the local write.
func (m *Manager) Set(ctx context.Context, key string, value any, userID string) WriteResult {
	raw, err := json.Marshal(value)
	if err != nil {
		m.logger.Error("value could not be serialized",
			"event", "sync_engine_set_encode_failed",
			"module", application.Module,
			"layer", "application",
			"key", key,
			"error", err.Error(),
		)
		return WriteResult{}
	}

	status := m.Status(ctx, false)
	envelope := entities.NewEnvelope(raw, m.stamp(key, userID), userID)

	var result WriteResult
	for _, tier := range m.tiers {
		if !m.routes(tier, key, status, userID) {
			continue
		}
		if tier.Remote() {
			result.RemoteAttempted = true
		}
		if err := m.tierSet(ctx, tier, key, userID, envelope); err != nil {
			m.logger.Warn("tier write failed",
				"event", "sync_engine_tier_write_failed",
				"module", application.Module,
				"layer", "application",
				"tier", tier.Name(),
				"key", key,
				"error", err.Error(),
			)
			continue
		}
		if tier.Remote() {
			result.Remote = true
		} else {
			result.Local = true
		}
	}
	return result
}

// Remove deletes (key, userID) from every usable tier. A tier counts as
// successful when the delete succeeds or the key was already absent.
func (m *Manager) Remove(ctx context.Context, key string, userID string) bool {
	status := m.Status(ctx, false)

	ok := false
	for _, tier := range m.tiers {
		if !m.routes(tier, key, status, userID) {
			continue
		}
		err := m.tierRemove(ctx, tier, key, userID)
		if err == nil || errors.Is(err, domainerrors.ErrNotFound) {
			ok = true
			continue
		}
		m.logger.Warn("tier delete failed",
			"event", "sync_engine_tier_delete_failed",
			"module", application.Module,
			"layer", "application",
			"tier", tier.Name(),
			"key", key,
			"error", err.Error(),
		)
	}
	return ok
}

// PushLocalToRemote re-asserts the local copy of (key, userID) to the remote
// tier with a fresh timestamp. It returns ErrNotFound when no local copy
// exists and a transport or schema error when the remote tier refuses it.
func (m *Manager) PushLocalToRemote(ctx context.Context, key string, userID string) error {
	if m.remote == nil {
		return domainerrors.ErrRemoteUnconfigured
	}
	if m.LocalOnly(key) {
		return nil
	}
	status := m.Status(ctx, false)
	if !m.remote.Usable(status, userID) {
		return fmt.Errorf("push %q: %w", key, domainerrors.ErrTransportUnavailable)
	}
	value, err := m.tierGet(ctx, m.local, key, userID)
	if err != nil {
		return err
	}
	envelope := entities.NewEnvelope(value.Envelope.Data, m.stamp(key, userID), userID)
	return m.tierSet(ctx, m.remote, key, userID, envelope)
}

// SetRemote writes value to the remote tier only.
func (m *Manager) SetRemote(ctx context.Context, key string, value json.RawMessage, userID string) error {
	if m.remote == nil {
		return domainerrors.ErrRemoteUnconfigured
	}
	if m.LocalOnly(key) {
		return nil
	}
	status := m.Status(ctx, false)
	if !m.remote.Usable(status, userID) {
		return fmt.Errorf("set %q: %w", key, domainerrors.ErrTransportUnavailable)
	}
	envelope := entities.NewEnvelope(value, m.stamp(key, userID), userID)
	return m.tierSet(ctx, m.remote, key, userID, envelope)
}

// MigrateLocalToRemote upserts every local key owned by userID into the
// remote tier with a fresh timestamp and returns how many were migrated. Keys
// whose remote copy is at least as recent as the local one are left alone,
// so re-running it is a no-op.
func (m *Manager) MigrateLocalToRemote(ctx context.Context, userID string) int {
	if userID == "" || m.remote == nil {
		return 0
	}
	return m.migrate(ctx, userID, m.Status(ctx, false))
}

func (m *Manager) migrate(ctx context.Context, userID string, status entities.CapabilityStatus) int {
	if !m.remote.Usable(status, userID) || !m.local.Usable(status, userID) {
		return 0
	}

	keys, err := m.safeKeys(userID)
	if err != nil {
		m.logger.Warn("local key enumeration failed",
			"event", "sync_engine_migration_enumerate_failed",
			"module", application.Module,
			"layer", "application",
			"error", err.Error(),
		)
		return 0
	}

	migrated, skipped := 0, 0
	for _, key := range keys {
		if m.LocalOnly(key) {
			continue
		}
		value, err := m.tierGet(ctx, m.local, key, userID)
		if err != nil {
			continue
		}
		if m.remoteIsNewer(ctx, key, userID, value) {
			skipped++
			continue
		}

		envelope := entities.NewEnvelope(value.Envelope.Data, m.stamp(key, userID), userID)
		if err := m.tierSet(ctx, m.remote, key, userID, envelope); err != nil {
			m.logger.Warn("key migration failed",
				"event", "sync_engine_migration_key_failed",
				"module", application.Module,
				"layer", "application",
				"key", key,
				"error", err.Error(),
			)
			continue
		}
		migrated++
	}

	m.logger.Info("local data migrated to remote tier",
		"event", "sync_engine_migration_completed",
		"module", application.Module,
		"layer", "application",
		"user_id", userID,
		"candidate_count", len(keys),
		"migrated_count", migrated,
		"skipped_count", skipped,
	)
	return migrated
}

// remoteIsNewer reports whether the remote copy of (key, userID) is at least
// as recent as local, in which case migrating local would roll it back. A
// remote read error other than absence also counts, so nothing is overwritten
// blind.
func (m *Manager) remoteIsNewer(ctx context.Context, key string, userID string, local entities.StoredValue) bool {
	remote, err := m.tierGet(ctx, m.remote, key, userID)
	if errors.Is(err, domainerrors.ErrNotFound) {
		return false
	}
	if err != nil {
		m.logger.Warn("remote copy unreadable, key not migrated",
			"event", "sync_engine_migration_remote_read_failed",
			"module", application.Module,
			"layer", "application",
			"key", key,
			"error", err.Error(),
		)
		return true
	}
	m.observe(key, userID, remote.Envelope.Timestamp)
	return remote.Envelope.Timestamp >= local.Envelope.Timestamp
}

// PullRemote copies remote rows changed since the last pull into the local
// tier when they are newer than the local copy (last writer wins) and returns
// how many keys were refreshed.
func (m *Manager) PullRemote(ctx context.Context, userID string) int {
	if userID == "" || m.remote == nil {
		return 0
	}
	status := m.Status(ctx, false)
	if !m.remote.Usable(status, userID) || !m.local.Usable(status, userID) {
		return 0
	}

	since := m.LastSync(ctx, userID)
	listCtx, cancel := context.WithTimeout(ctx, m.remote.timeout)
	records, err := m.remote.store.ListNewerThan(listCtx, userID, since)
	cancel()
	if err != nil {
		m.logger.Warn("remote pull failed",
			"event", "sync_engine_pull_failed",
			"module", application.Module,
			"layer", "application",
			"user_id", userID,
			"error", err.Error(),
		)
		return 0
	}

	watermark := since
	refreshed := 0
	for _, record := range records {
		if record.UpdatedAt.After(watermark) {
			watermark = record.UpdatedAt
		}
		if m.LocalOnly(record.StorageKey) {
			continue
		}
		remote, err := entities.DecodeStored(record.Data)
		if err != nil || (remote.Kind == entities.KindEnvelope && !remote.Envelope.VisibleTo(userID)) {
			continue
		}
		if remote.Kind == entities.KindBare {
			remote.Envelope = entities.NewEnvelope(remote.Envelope.Data, record.UpdatedAt, userID)
		}

		local, err := m.tierGet(ctx, m.local, record.StorageKey, userID)
		if err == nil && local.Envelope.Timestamp >= remote.Envelope.Timestamp {
			continue
		}
		if err := m.tierSet(ctx, m.local, record.StorageKey, userID, remote.Envelope); err != nil {
			continue
		}
		m.observe(record.StorageKey, userID, remote.Envelope.Timestamp)
		refreshed++
	}

	m.setLastSync(ctx, userID, watermark)
	return refreshed
}

// LastSync returns the watermark of the last successful remote pull.
func (m *Manager) LastSync(ctx context.Context, userID string) time.Time {
	value, err := m.tierGet(ctx, m.local, m.lastSyncKey, userID)
	if err != nil {
		return time.Time{}
	}
	var millis int64
	if err := json.Unmarshal(value.Envelope.Data, &millis); err != nil {
		return time.Time{}
	}
	return time.UnixMilli(millis).UTC()
}

func (m *Manager) setLastSync(ctx context.Context, userID string, at time.Time) {
	if at.IsZero() {
		return
	}
	raw, err := json.Marshal(at.UnixMilli())
	if err != nil {
		m.logger.Error("last sync watermark could not be serialized",
			"event", "sync_engine_last_sync_encode_failed",
			"module", application.Module,
			"layer", "application",
			"error", err.Error(),
		)
		return
	}
	envelope := entities.NewEnvelope(raw, m.now(), userID)
	if err := m.tierSet(ctx, m.local, m.lastSyncKey, userID, envelope); err != nil {
		m.logger.Warn("last sync watermark not stored",
			"event", "sync_engine_last_sync_store_failed",
			"module", application.Module,
			"layer", "application",
			"error", err.Error(),
		)
	}
}

func (m *Manager) routes(tier Tier, key string, status entities.CapabilityStatus, userID string) bool {
	if tier.Remote() && m.LocalOnly(key) {
		return false
	}
	return tier.Usable(status, userID)
}

func (m *Manager) promote(ctx context.Context, missed []Tier, key string, userID string, value entities.StoredValue) {
	// A fresh stamp keeps the remote updated_at ahead of other devices' pull
	// watermark.
	envelope := entities.NewEnvelope(value.Envelope.Data, m.stamp(key, userID), userID)
	for _, tier := range missed {
		if err := m.tierSet(ctx, tier, key, userID, envelope); err != nil {
			m.logger.Warn("tier promotion failed",
				"event", "sync_engine_tier_promotion_failed",
				"module", application.Module,
				"layer", "application",
				"tier", tier.Name(),
				"key", key,
				"error", err.Error(),
			)
		}
	}
}

// stamp returns a write time no earlier than any timestamp already observed
// for (key, userID).
func (m *Manager) stamp(key string, userID string) time.Time {
	now := m.now().UnixMilli()
	slot := NamespacedKey(key, userID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if last := m.stamps[slot]; last > now {
		now = last
	}
	m.stamps[slot] = now
	return time.UnixMilli(now).UTC()
}

func (m *Manager) observe(key string, userID string, timestamp int64) {
	slot := NamespacedKey(key, userID)
	m.mu.Lock()
	if timestamp > m.stamps[slot] {
		m.stamps[slot] = timestamp
	}
	m.mu.Unlock()
}

func (m *Manager) now() time.Time {
	if m.clock != nil {
		return m.clock.Now().UTC()
	}
	return time.Now().UTC()
}

// tierGet, tierSet, tierRemove and safeKeys contain adapter panics so a
// misbehaving store degrades to an error instead of crashing the caller.
func (m *Manager) tierGet(ctx context.Context, tier Tier, key string, userID string) (value entities.StoredValue, err error) {
	defer recoverInto(&err, tier.Name())
	return tier.Get(ctx, key, userID)
}

func (m *Manager) tierSet(ctx context.Context, tier Tier, key string, userID string, envelope entities.Envelope) (err error) {
	defer recoverInto(&err, tier.Name())
	return tier.Set(ctx, key, userID, envelope)
}

func (m *Manager) tierRemove(ctx context.Context, tier Tier, key string, userID string) (err error) {
	defer recoverInto(&err, tier.Name())
	return tier.Remove(ctx, key, userID)
}

func (m *Manager) safeKeys(userID string) (keys []string, err error) {
	defer recoverInto(&err, TierLocal)
	return m.local.keysFor(userID)
}

func recoverInto(err *error, tier string) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%s tier panicked: %v", tier, r)
	}
}
