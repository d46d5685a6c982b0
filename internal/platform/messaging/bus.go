package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"dashsync/contexts/data-platform/sync-engine/ports"
	"dashsync/internal/shared/events"

	"github.com/google/uuid"
)

const (
	ConnectivityTopic = "connectivity.changed"
	sourceService     = "sync-engine"
)

// Bus is the in-process publish/subscribe bus carrying engine events between
// the monitor and its consumers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan events.Envelope
	buffer      int
	logger      *slog.Logger
}

func NewBus(buffer int, logger *slog.Logger) *Bus {
	if buffer <= 0 {
		buffer = 128
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[string][]chan events.Envelope),
		buffer:      buffer,
		logger:      logger,
	}
}

func (b *Bus) Publish(ctx context.Context, topic string, event events.Envelope) error {
	b.mu.RLock()
	subs := append([]chan events.Envelope(nil), b.subscribers[topic]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sub <- event:
		default:
			b.logger.Warn("dropping event for slow subscriber",
				"event", "bus_publish_drop",
				"module", "internal/platform/messaging",
				"layer", "platform",
				"topic", topic,
				"event_id", event.EventID,
			)
		}
	}

	b.logger.Debug("event published",
		"event", "bus_publish",
		"module", "internal/platform/messaging",
		"layer", "platform",
		"topic", topic,
		"event_id", event.EventID,
		"event_type", event.EventType,
		"subscriber_count", len(subs),
	)
	return nil
}

// Subscribe delivers topic events to handler on a dedicated goroutine until
// ctx is cancelled. Events are handled one at a time in publish order.
func (b *Bus) Subscribe(
	ctx context.Context,
	topic string,
	consumerGroup string,
	handler func(context.Context, events.Envelope) error,
) error {
	ch := make(chan events.Envelope, b.buffer)

	b.mu.Lock()
	b.subscribers[topic] = append(b.subscribers[topic], ch)
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				b.removeSubscriber(topic, ch)
				return
			case event := <-ch:
				if err := handler(ctx, event); err != nil {
					b.logger.Error("consumer handler failed",
						"event", "bus_consume_failed",
						"module", "internal/platform/messaging",
						"layer", "platform",
						"topic", topic,
						"consumer_group", consumerGroup,
						"event_id", event.EventID,
						"event_type", event.EventType,
						"error", err.Error(),
					)
				}
			}
		}
	}()
	return nil
}

// PublishConnectivity implements ports.ConnectivityPublisher.
func (b *Bus) PublishConnectivity(ctx context.Context, event ports.ConnectivityEvent) error {
	return b.Publish(ctx, ConnectivityTopic, events.Envelope{
		EventID:        uuid.NewString(),
		EventType:      ConnectivityTopic,
		SourceService:  sourceService,
		OccurredAtUTC:  event.OccurredAt.UTC(),
		EntityType:     "user",
		EntityID:       event.UserID,
		PayloadVersion: 1,
		Payload:        event,
	})
}

// SubscribeConnectivity implements ports.ConnectivitySubscriber.
func (b *Bus) SubscribeConnectivity(
	ctx context.Context,
	consumerGroup string,
	handler func(context.Context, ports.ConnectivityEvent) error,
) error {
	return b.Subscribe(ctx, ConnectivityTopic, consumerGroup, func(ctx context.Context, envelope events.Envelope) error {
		event, ok := envelope.Payload.(ports.ConnectivityEvent)
		if !ok {
			return fmt.Errorf("event %s: unexpected payload %T", envelope.EventID, envelope.Payload)
		}
		return handler(ctx, event)
	})
}

func (b *Bus) removeSubscriber(topic string, target chan events.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()

	items := b.subscribers[topic]
	if len(items) == 0 {
		return
	}
	filtered := make([]chan events.Envelope, 0, len(items))
	for _, item := range items {
		if item != target {
			filtered = append(filtered, item)
		}
	}
	b.subscribers[topic] = filtered
}

var (
	_ ports.ConnectivityPublisher  = (*Bus)(nil)
	_ ports.ConnectivitySubscriber = (*Bus)(nil)
)
