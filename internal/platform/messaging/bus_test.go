package messaging

import (
	"context"
	"testing"
	"time"

	"dashsync/contexts/data-platform/sync-engine/ports"
	"dashsync/internal/shared/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectivityEventsReachSubscribersInOrder(t *testing.T) {
	bus := NewBus(4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan ports.ConnectivityEvent, 4)
	require.NoError(t, bus.SubscribeConnectivity(ctx, "test-cg", func(_ context.Context, event ports.ConnectivityEvent) error {
		received <- event
		return nil
	}))

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, bus.PublishConnectivity(ctx, ports.ConnectivityEvent{Online: false, UserID: "u1", OccurredAt: at}))
	require.NoError(t, bus.PublishConnectivity(ctx, ports.ConnectivityEvent{Online: true, UserID: "u1", OccurredAt: at}))

	for _, want := range []bool{false, true} {
		select {
		case event := <-received:
			assert.Equal(t, want, event.Online)
			assert.Equal(t, "u1", event.UserID)
		case <-time.After(time.Second):
			t.Fatal("connectivity event not delivered")
		}
	}
}

func TestUnexpectedPayloadIsNotDelivered(t *testing.T) {
	bus := NewBus(1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	called := make(chan struct{}, 1)
	require.NoError(t, bus.SubscribeConnectivity(ctx, "test-cg", func(context.Context, ports.ConnectivityEvent) error {
		called <- struct{}{}
		return nil
	}))
	require.NoError(t, bus.Publish(ctx, ConnectivityTopic, events.Envelope{EventID: "e1", Payload: "garbage"}))

	select {
	case <-called:
		t.Fatal("handler received a malformed payload")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscriberRemovedOnCancel(t *testing.T) {
	bus := NewBus(1, nil)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, bus.Subscribe(ctx, "topic", "cg", func(context.Context, events.Envelope) error { return nil }))
	cancel()

	assert.Eventually(t, func() bool {
		bus.mu.RLock()
		defer bus.mu.RUnlock()
		return len(bus.subscribers["topic"]) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestPublishWithoutSubscribers(t *testing.T) {
	bus := NewBus(0, nil)
	assert.NoError(t, bus.PublishConnectivity(context.Background(), ports.ConnectivityEvent{Online: true}))
}
