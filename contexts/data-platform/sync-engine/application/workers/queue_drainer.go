package workers

import (
	"context"
	"log/slog"
	"strings"

	application "dashsync/contexts/data-platform/sync-engine/application"
	"dashsync/contexts/data-platform/sync-engine/application/datamanager"
	"dashsync/contexts/data-platform/sync-engine/ports"
)

const defaultDrainerCG = "sync-engine-queue-drainer-cg"

// OnlineSetter is implemented by *datamanager.Manager.
type OnlineSetter interface {
	SetOnline(ctx context.Context, online bool) datamanager.DrainResult
}

// QueueDrainer feeds connectivity events into the data manager's online
// flag; the offline to online transition drains the queue.
type QueueDrainer struct {
	Subscriber    ports.ConnectivitySubscriber
	Data          OnlineSetter
	ConsumerGroup string
	Logger        *slog.Logger
}

func (d QueueDrainer) Start(ctx context.Context) error {
	logger := application.ResolveLogger(d.Logger)
	group := strings.TrimSpace(d.ConsumerGroup)
	if group == "" {
		group = defaultDrainerCG
	}
	if err := d.Subscriber.SubscribeConnectivity(ctx, group, d.Handle); err != nil {
		logger.Error("queue drainer subscribe failed",
			"event", "sync_engine_drainer_subscribe_failed",
			"module", application.Module,
			"layer", "worker",
			"consumer_group", group,
			"error", err.Error(),
		)
		return err
	}
	logger.Info("queue drainer subscribed",
		"event", "sync_engine_drainer_started",
		"module", application.Module,
		"layer", "worker",
		"consumer_group", group,
	)
	return nil
}

// Handle applies one connectivity event.
func (d QueueDrainer) Handle(ctx context.Context, event ports.ConnectivityEvent) error {
	result := d.Data.SetOnline(ctx, event.Online)
	if result.Attempted > 0 {
		application.ResolveLogger(d.Logger).Info("queue drained after reconnect",
			"event", "sync_engine_drainer_drained",
			"module", application.Module,
			"layer", "worker",
			"replayed_count", result.Replayed,
			"requeued_count", result.Requeued,
		)
	}
	return nil
}
