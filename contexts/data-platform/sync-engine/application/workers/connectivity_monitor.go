package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	application "dashsync/contexts/data-platform/sync-engine/application"
	"dashsync/contexts/data-platform/sync-engine/domain/entities"
	"dashsync/contexts/data-platform/sync-engine/ports"
)

// StatusSource is implemented by *persistence.Manager.
type StatusSource interface {
	Status(ctx context.Context, force bool) entities.CapabilityStatus
}

// ConnectivityMonitor forces a capability probe each cycle and publishes a
// connectivity event whenever remote reachability flips. The first cycle
// always publishes so subscribers start from a known state.
type ConnectivityMonitor struct {
	Status    StatusSource
	Publisher ports.ConnectivityPublisher
	Clock     ports.Clock
	Logger    *slog.Logger

	mu     sync.Mutex
	known  bool
	online bool
}

func (m *ConnectivityMonitor) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(m.Logger)
	status := m.Status.Status(ctx, true)
	online := status.RemoteReachable()

	m.mu.Lock()
	changed := !m.known || m.online != online
	m.mu.Unlock()
	if !changed {
		logger.Debug("connectivity unchanged",
			"event", "sync_engine_connectivity_unchanged",
			"module", application.Module,
			"layer", "worker",
			"online", online,
		)
		return nil
	}

	now := time.Now().UTC()
	if m.Clock != nil {
		now = m.Clock.Now().UTC()
	}
	event := ports.ConnectivityEvent{
		Online:     online,
		UserID:     status.UserID,
		OccurredAt: now,
	}
	if err := m.Publisher.PublishConnectivity(ctx, event); err != nil {
		logger.Error("connectivity publish failed",
			"event", "sync_engine_connectivity_publish_failed",
			"module", application.Module,
			"layer", "worker",
			"online", online,
			"error", err.Error(),
		)
		return err
	}

	m.mu.Lock()
	m.known = true
	m.online = online
	m.mu.Unlock()

	logger.Info("connectivity transition published",
		"event", "sync_engine_connectivity_published",
		"module", application.Module,
		"layer", "worker",
		"online", online,
		"error_count", len(status.Errors),
	)
	return nil
}
