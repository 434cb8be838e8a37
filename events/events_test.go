package events

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusPublishAndHandle(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var mu sync.Mutex
	var received []Event
	bus.SubscribeFunc(EventNodeStarted, func(_ context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e)
		return nil
	})

	event := Event{Type: EventNodeStarted, RunID: 7, NodeID: "mrconvert"}
	require.NoError(t, bus.Publish(context.Background(), event))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1 && reflect.DeepEqual(received[0], event)
	}, time.Second, 10*time.Millisecond)
}

func TestEventBusMultipleHandlers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var count int
	var mu sync.Mutex
	for i := 0; i < 3; i++ {
		bus.SubscribeFunc(EventNodeFailed, func(context.Context, Event) error {
			mu.Lock()
			defer mu.Unlock()
			count++
			return nil
		})
	}

	require.NoError(t, bus.Publish(context.Background(), Event{Type: EventNodeFailed, RunID: 1}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 3
	}, time.Second, 10*time.Millisecond)
}

func TestEventBusNoHandler(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	err := bus.Publish(context.Background(), Event{Type: EventRunCompleted})
	assert.ErrorIs(t, err, ErrNoHandler)
}

func TestEventBusHasSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	assert.False(t, bus.HasSubscribers(EventNodeStarted))
	bus.SubscribeFunc(EventNodeStarted, func(context.Context, Event) error { return nil })
	assert.True(t, bus.HasSubscribers(EventNodeStarted))
}

func TestEventBusClosed(t *testing.T) {
	bus := NewEventBus()
	bus.SubscribeFunc(EventNodeStarted, func(context.Context, Event) error { return nil })
	bus.Stop()

	err := bus.Publish(context.Background(), Event{Type: EventNodeStarted})
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestEventBusCancelledContext(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()
	bus.SubscribeFunc(EventNodeStarted, func(context.Context, Event) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := bus.Publish(ctx, Event{Type: EventNodeStarted})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEventBusChannelFull(t *testing.T) {
	bus := NewEventBus(WithBufferSize(1))
	defer bus.Stop()

	release := make(chan struct{})
	bus.SubscribeFunc(EventNodeStarted, func(context.Context, Event) error {
		<-release
		return nil
	})
	defer close(release)

	// Saturate the processor and the one-slot buffer, then expect rejection.
	ctx := context.Background()
	assert.Eventually(t, func() bool {
		return errors.Is(bus.Publish(ctx, Event{Type: EventNodeStarted}), ErrChannelFull)
	}, time.Second, time.Millisecond)
}

func TestEventBusErrorHandler(t *testing.T) {
	var mu sync.Mutex
	var handled []error
	bus := NewEventBus(WithErrorHandler(func(_ Event, err error) {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, err)
	}))
	defer bus.Stop()

	bad := errors.New("handler failed")
	bus.SubscribeFunc(EventNodeFailed, func(context.Context, Event) error { return bad })

	require.NoError(t, bus.Publish(context.Background(), Event{Type: EventNodeFailed}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 1 && errors.Is(handled[0], bad)
	}, time.Second, 10*time.Millisecond)
}

func TestEventBusStopIsIdempotent(t *testing.T) {
	bus := NewEventBus()
	bus.Stop()
	assert.NotPanics(t, func() { bus.Stop() })
}
