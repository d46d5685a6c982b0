package datamanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	application "dashsync/contexts/data-platform/sync-engine/application"
	"dashsync/contexts/data-platform/sync-engine/application/persistence"
	"dashsync/contexts/data-platform/sync-engine/domain/entities"
	domainerrors "dashsync/contexts/data-platform/sync-engine/domain/errors"
	"dashsync/contexts/data-platform/sync-engine/ports"
)

// DefaultQueueKey is the reserved local key holding the serialized queue.
// It must be registered as local-only with the persistence manager.
const DefaultQueueKey = "__dashsync_offline_queue__"

// DefaultMaxQueueLength bounds the offline queue; the oldest operations are
// dropped beyond it.
const DefaultMaxQueueLength = 1000

// Persistence is the slice of the persistence manager the data manager uses.
type Persistence interface {
	Get(ctx context.Context, key string, userID string) (json.RawMessage, bool)
	Set(ctx context.Context, key string, value any, userID string) persistence.WriteResult
	Status(ctx context.Context, force bool) entities.CapabilityStatus
	PushLocalToRemote(ctx context.Context, key string, userID string) error
	SetRemote(ctx context.Context, key string, value json.RawMessage, userID string) error
	RemoteConfigured() bool
}

// Loader supplies a collection when nothing is stored for it yet.
type Loader func(ctx context.Context) ([]entities.Item, error)

type Dependencies struct {
	Persistence Persistence
	Records     ports.RecordStore
	Clock       ports.Clock
	IDGen       ports.IDGenerator
	QueueKey    string
	// IDPrefixes maps a collection key to the prefix of client-generated ids.
	IDPrefixes map[string]string
	// MaxReplayAttempts drops an operation after that many failed replays.
	// Zero keeps retrying forever.
	MaxReplayAttempts int
	MaxQueueLength    int
	RemoteTimeout     time.Duration
	StartOffline      bool
	Logger            *slog.Logger
}

// DrainResult summarizes one pass over the offline queue.
type DrainResult struct {
	Attempted   int       `json:"attempted"`
	Replayed    int       `json:"replayed"`
	Requeued    int       `json:"requeued"`
	Dropped     int       `json:"dropped"`
	Pushed      int       `json:"pushed"`
	CompletedAt time.Time `json:"completed_at"`
}

// Manager is the collection-oriented facade over the persistence manager. It
// keeps the online flag and the offline queue.
type Manager struct {
	persistence   Persistence
	records       ports.RecordStore
	clock         ports.Clock
	idGen         ports.IDGenerator
	queueKey      string
	prefixes      map[string]string
	maxAttempts   int
	maxQueue      int
	remoteTimeout time.Duration
	logger        *slog.Logger

	queue       *Queue
	persistMu   sync.Mutex
	online      atomic.Bool
	restoreOnce sync.Once
	writeMu     sync.Mutex
	drainMu     sync.Mutex
}

func NewManager(deps Dependencies) *Manager {
	if deps.QueueKey == "" {
		deps.QueueKey = DefaultQueueKey
	}
	if deps.RemoteTimeout <= 0 {
		deps.RemoteTimeout = persistence.DefaultRemoteTimeout
	}
	if deps.MaxQueueLength <= 0 {
		deps.MaxQueueLength = DefaultMaxQueueLength
	}
	m := &Manager{
		persistence:   deps.Persistence,
		records:       deps.Records,
		clock:         deps.Clock,
		idGen:         deps.IDGen,
		queueKey:      deps.QueueKey,
		prefixes:      make(map[string]string, len(deps.IDPrefixes)),
		maxAttempts:   deps.MaxReplayAttempts,
		maxQueue:      deps.MaxQueueLength,
		remoteTimeout: deps.RemoteTimeout,
		logger:        application.ResolveLogger(deps.Logger),
		queue:         NewQueue(nil),
	}
	for key, prefix := range deps.IDPrefixes {
		m.prefixes[key] = prefix
	}
	m.online.Store(!deps.StartOffline)
	return m
}

func (m *Manager) Online() bool {
	return m.online.Load()
}

// SetOnline records a connectivity change. The offline to online transition
// drains the queue before returning.
func (m *Manager) SetOnline(ctx context.Context, online bool) DrainResult {
	was := m.online.Swap(online)
	if was == online {
		return DrainResult{}
	}
	m.logger.Info("connectivity changed",
		"event", "sync_engine_connectivity_changed",
		"module", application.Module,
		"layer", "application",
		"online", online,
	)
	if !online {
		return DrainResult{}
	}
	return m.Drain(ctx)
}

// Pending returns the queued operations in enqueue order.
func (m *Manager) Pending(ctx context.Context) []entities.PendingOperation {
	m.ensureRestored(ctx)
	return m.queue.Snapshot()
}

// Restore loads a queue persisted by an earlier process. It runs at most once;
// every queue operation triggers it implicitly.
func (m *Manager) Restore(ctx context.Context) int {
	restored := 0
	m.restoreOnce.Do(func() {
		raw, ok := m.persistence.Get(ctx, m.queueKey, "")
		if !ok {
			return
		}
		var ops []entities.PendingOperation
		if err := json.Unmarshal(raw, &ops); err != nil {
			m.logger.Warn("persisted offline queue unreadable, starting empty",
				"event", "sync_engine_queue_restore_failed",
				"module", application.Module,
				"layer", "application",
				"error", err.Error(),
			)
			return
		}
		m.queue.Restore(ops)
		restored = len(ops)
	})
	return restored
}

func (m *Manager) ensureRestored(ctx context.Context) {
	m.Restore(ctx)
}

// GetCollection returns the stored collection for key. When nothing usable is
// stored it calls loader, persists the result and returns it. It never fails;
// the worst case is an empty collection.
func (m *Manager) GetCollection(ctx context.Context, key string, loader Loader, userID string) (items []entities.Item) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("collection read panicked, using fallback",
				"event", "sync_engine_collection_read_panicked",
				"module", application.Module,
				"layer", "application",
				"key", key,
				"panic", fmt.Sprint(r),
			)
			items = m.fallback(ctx, key, loader, userID)
		}
	}()

	raw, ok := m.persistence.Get(ctx, key, userID)
	if ok {
		decoded, err := entities.DecodeItems(raw)
		if err == nil {
			return decoded
		}
		m.logger.Warn("stored collection unreadable, using fallback",
			"event", "sync_engine_collection_decode_failed",
			"module", application.Module,
			"layer", "application",
			"key", key,
			"error", err.Error(),
		)
	}
	return m.fallback(ctx, key, loader, userID)
}

func (m *Manager) fallback(ctx context.Context, key string, loader Loader, userID string) []entities.Item {
	if loader == nil {
		return []entities.Item{}
	}
	items, err := m.load(ctx, loader)
	if err != nil {
		m.logger.Warn("collection loader failed",
			"event", "sync_engine_collection_loader_failed",
			"module", application.Module,
			"layer", "application",
			"key", key,
			"error", err.Error(),
		)
		return []entities.Item{}
	}
	if items == nil {
		items = []entities.Item{}
	}
	m.persistence.Set(ctx, key, items, userID)
	return items
}

func (m *Manager) load(ctx context.Context, loader Loader) (items []entities.Item, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("loader panicked: %v", r)
		}
	}()
	return loader(ctx)
}

// SetCollection replaces the stored collection. The whole collection is
// queued for re-assertion when offline, or when a signed-in user's remote
// write was not accepted.
func (m *Manager) SetCollection(ctx context.Context, key string, items []entities.Item, userID string) persistence.WriteResult {
	if items == nil {
		items = []entities.Item{}
	}
	result := m.persistence.Set(ctx, key, items, userID)
	if m.QueuesWrite(result, userID) {
		m.enqueue(ctx, key, entities.OperationUpdate, "", items, userID)
	}
	return result
}

// AddItem appends item to the collection at key. A missing id is generated
// as {prefix}-{unix_ms}; an item whose id already exists replaces it.
func (m *Manager) AddItem(ctx context.Context, key string, item any, userID string) (entities.Item, error) {
	input, err := entities.ItemFrom(item)
	if err != nil {
		return nil, err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	items := m.GetCollection(ctx, key, nil, userID)
	now := m.now()
	added := input.Clone()
	if added.ID() == "" {
		added["id"] = m.nextID(key, items, now)
	}
	stamp := now.Format(time.RFC3339Nano)
	if _, ok := added["createdAt"]; !ok {
		added["createdAt"] = stamp
	}
	added["updatedAt"] = stamp

	kind := entities.OperationCreate
	replaced := false
	for i, existing := range items {
		if existing.ID() == added.ID() {
			items[i] = added
			replaced = true
			kind = entities.OperationUpdate
			break
		}
	}
	if !replaced {
		items = append(items, added)
	}

	result := m.persistence.Set(ctx, key, items, userID)
	if m.QueuesWrite(result, userID) {
		m.enqueue(ctx, key, kind, added.ID(), added, userID)
	}
	return added, nil
}

// UpdateItem merges patch into the item with the given id. It reports false
// when no such item exists.
func (m *Manager) UpdateItem(ctx context.Context, key string, id string, patch any, userID string) (entities.Item, bool, error) {
	changes, err := entities.ItemFrom(patch)
	if err != nil {
		return nil, false, err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	items := m.GetCollection(ctx, key, nil, userID)
	changes = changes.Clone()
	delete(changes, "id")
	changes["updatedAt"] = m.now().Format(time.RFC3339Nano)

	var updated entities.Item
	for i, existing := range items {
		if existing.ID() == id {
			updated = existing.Merge(changes)
			items[i] = updated
			break
		}
	}
	if updated == nil {
		return nil, false, nil
	}

	result := m.persistence.Set(ctx, key, items, userID)
	if m.QueuesWrite(result, userID) {
		m.enqueue(ctx, key, entities.OperationUpdate, id, changes, userID)
	}
	return updated, true, nil
}

// RemoveItem drops the item with the given id. It reports false when no such
// item exists.
func (m *Manager) RemoveItem(ctx context.Context, key string, id string, userID string) bool {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	items := m.GetCollection(ctx, key, nil, userID)
	kept := make([]entities.Item, 0, len(items))
	for _, existing := range items {
		if existing.ID() != id {
			kept = append(kept, existing)
		}
	}
	if len(kept) == len(items) {
		return false
	}

	result := m.persistence.Set(ctx, key, kept, userID)
	if m.QueuesWrite(result, userID) {
		m.enqueue(ctx, key, entities.OperationDelete, id, map[string]string{"id": id}, userID)
	}
	return true
}

// Drain replays queued operations in enqueue order. Operations stay in the
// persisted queue until their replay is confirmed; each failed operation goes
// back to the tail with its attempt count raised. Operations are independent:
// one failure does not stop the pass.
func (m *Manager) Drain(ctx context.Context) DrainResult {
	m.drainMu.Lock()
	defer m.drainMu.Unlock()

	m.ensureRestored(ctx)
	ops := m.queue.Begin()
	var result DrainResult
	if len(ops) == 0 {
		result.CompletedAt = m.now()
		return result
	}

	statuses := make(map[string]entities.CapabilityStatus)
	statusFor := func(userID string) entities.CapabilityStatus {
		if status, ok := statuses[userID]; ok {
			return status
		}
		status := m.persistence.Status(asUser(ctx, userID), false)
		statuses[userID] = status
		return status
	}
	pushed := make(map[string]bool)
	var touched []entities.PendingOperation

	for _, op := range ops {
		result.Attempted++
		viaBlob, err := m.replay(asUser(ctx, op.UserID), op, statusFor(op.UserID))
		if err == nil {
			result.Replayed++
			if viaBlob {
				pushed[op.Key+"|"+op.UserID] = true
			} else {
				touched = append(touched, op)
			}
			m.queue.Settle(op.ID)
			m.persistQueue(ctx)
			continue
		}

		op.Attempts++
		if m.maxAttempts > 0 && op.Attempts >= m.maxAttempts {
			result.Dropped++
			m.logger.Error("pending operation dropped after repeated failures",
				"event", "sync_engine_operation_dropped",
				"module", application.Module,
				"layer", "application",
				"operation_id", op.ID,
				"key", op.Key,
				"kind", string(op.Kind),
				"attempts", op.Attempts,
				"error", err.Error(),
			)
			m.queue.Settle(op.ID)
			m.persistQueue(ctx)
			continue
		}
		result.Requeued++
		m.logger.Warn("pending operation replay failed, requeued",
			"event", "sync_engine_operation_requeued",
			"module", application.Module,
			"layer", "application",
			"operation_id", op.ID,
			"key", op.Key,
			"kind", string(op.Kind),
			"attempts", op.Attempts,
			"error", err.Error(),
		)
		m.queue.Requeue(op)
		m.persistQueue(ctx)
	}

	// Keys replayed against the record store still need their collection in
	// the blob tier for other devices.
	for _, op := range touched {
		slot := op.Key + "|" + op.UserID
		if pushed[slot] || op.UserID == "" || !statusFor(op.UserID).RemoteBlobUsable {
			continue
		}
		pushed[slot] = true
		if err := m.persistence.PushLocalToRemote(asUser(ctx, op.UserID), op.Key, op.UserID); err != nil {
			m.logger.Warn("collection re-assertion after replay failed",
				"event", "sync_engine_collection_push_failed",
				"module", application.Module,
				"layer", "application",
				"key", op.Key,
				"error", err.Error(),
			)
		}
	}
	result.Pushed = len(pushed)
	result.CompletedAt = m.now()

	m.logger.Info("offline queue drained",
		"event", "sync_engine_queue_drained",
		"module", application.Module,
		"layer", "application",
		"attempted_count", result.Attempted,
		"replayed_count", result.Replayed,
		"requeued_count", result.Requeued,
		"dropped_count", result.Dropped,
	)
	return result
}

// replay performs the remote mutation for op. It reports whether the blob
// tier carried it.
func (m *Manager) replay(ctx context.Context, op entities.PendingOperation, status entities.CapabilityStatus) (viaBlob bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("replay panicked: %v", r)
		}
	}()

	if !op.IsCollection() && m.records != nil && status.RemoteTablesUsable {
		err := m.replayRecord(ctx, op)
		if err == nil {
			return false, nil
		}
		if !errors.Is(err, domainerrors.ErrSchemaMissing) {
			return false, err
		}
	}

	if op.UserID == "" || !status.RemoteBlobUsable {
		return false, fmt.Errorf("replay %s %q: %w", op.Kind, op.Key, domainerrors.ErrTransportUnavailable)
	}
	err = m.persistence.PushLocalToRemote(ctx, op.Key, op.UserID)
	if errors.Is(err, domainerrors.ErrNotFound) && op.IsCollection() {
		err = m.persistence.SetRemote(ctx, op.Key, op.Payload, op.UserID)
	}
	return err == nil, err
}

func (m *Manager) replayRecord(ctx context.Context, op entities.PendingOperation) error {
	ctx, cancel := context.WithTimeout(ctx, m.remoteTimeout)
	defer cancel()

	switch op.Kind {
	case entities.OperationCreate:
		var row ports.Row
		if err := json.Unmarshal(op.Payload, &row); err != nil {
			return fmt.Errorf("decode create payload: %w", domainerrors.ErrSerialization)
		}
		return m.records.Insert(ctx, op.Key, []ports.Row{row})
	case entities.OperationUpdate:
		var patch ports.Row
		if err := json.Unmarshal(op.Payload, &patch); err != nil {
			return fmt.Errorf("decode update payload: %w", domainerrors.ErrSerialization)
		}
		return m.records.Update(ctx, op.Key, patch, ports.Filter{"id": op.ItemID})
	case entities.OperationDelete:
		return m.records.Delete(ctx, op.Key, ports.Filter{"id": op.ItemID})
	default:
		return fmt.Errorf("unknown operation kind %q: %w", op.Kind, domainerrors.ErrSerialization)
	}
}

// QueuesWrite reports whether a write with this result is recorded for
// replay: always while offline, and online when a signed-in user's remote
// write was not accepted. Nothing is queued when no remote store is
// configured, since nothing could ever replay it.
func (m *Manager) QueuesWrite(result persistence.WriteResult, userID string) bool {
	if m.records == nil && !m.persistence.RemoteConfigured() {
		return false
	}
	if !m.Online() {
		return true
	}
	return userID != "" && !result.Remote
}

func (m *Manager) enqueue(ctx context.Context, key string, kind entities.OperationKind, itemID string, value any, userID string) {
	payload, err := json.Marshal(value)
	if err != nil {
		m.logger.Error("pending operation payload could not be serialized, not queued",
			"event", "sync_engine_operation_encode_failed",
			"module", application.Module,
			"layer", "application",
			"key", key,
			"kind", string(kind),
			"item_id", itemID,
			"error", err.Error(),
		)
		return
	}

	m.ensureRestored(ctx)
	op := entities.PendingOperation{
		ID:        m.operationID(ctx),
		Key:       key,
		Kind:      kind,
		ItemID:    itemID,
		Payload:   payload,
		CreatedAt: m.now(),
		UserID:    userID,
	}
	m.queue.Append(op)
	for _, dropped := range m.queue.DropOldest(m.maxQueue) {
		m.logger.Error("offline queue full, oldest operation dropped",
			"event", "sync_engine_operation_evicted",
			"module", application.Module,
			"layer", "application",
			"operation_id", dropped.ID,
			"key", dropped.Key,
			"kind", string(dropped.Kind),
			"max_queue_length", m.maxQueue,
		)
	}
	m.persistQueue(ctx)

	m.logger.Debug("operation queued for replay",
		"event", "sync_engine_operation_queued",
		"module", application.Module,
		"layer", "application",
		"operation_id", op.ID,
		"key", key,
		"kind", string(kind),
		"item_id", itemID,
	)
}

// persistQueue writes the queue, in-flight operations included, so a crash
// mid-drain replays them again on restart.
func (m *Manager) persistQueue(ctx context.Context) {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	result := m.persistence.Set(ctx, m.queueKey, m.queue.Snapshot(), "")
	if !result.Local {
		m.logger.Warn("offline queue not persisted locally",
			"event", "sync_engine_queue_persist_failed",
			"module", application.Module,
			"layer", "application",
			"queue_length", m.queue.Len(),
		)
	}
}

// asUser scopes ctx to the operation's owner so capability checks and remote
// calls run on that user's behalf rather than the caller's.
func asUser(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return ports.ContextWithUser(ctx, ports.User{ID: userID})
}

func (m *Manager) operationID(ctx context.Context) string {
	if m.idGen != nil {
		if id, err := m.idGen.NewID(ctx); err == nil && strings.TrimSpace(id) != "" {
			return id
		}
	}
	return fmt.Sprintf("op-%d", m.now().UnixNano())
}

func (m *Manager) nextID(key string, items []entities.Item, now time.Time) string {
	prefix := m.prefixes[key]
	if prefix == "" {
		prefix = key
	}
	taken := make(map[string]struct{}, len(items))
	for _, item := range items {
		taken[item.ID()] = struct{}{}
	}
	millis := now.UnixMilli()
	for {
		id := fmt.Sprintf("%s-%d", prefix, millis)
		if _, exists := taken[id]; !exists {
			return id
		}
		millis++
	}
}

func (m *Manager) now() time.Time {
	if m.clock != nil {
		return m.clock.Now().UTC()
	}
	return time.Now().UTC()
}
