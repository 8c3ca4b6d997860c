package messaging

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEvent is a minimal event for bus tests.
type testEvent struct {
	eventType EventType
	id        string
}

func (e testEvent) EventType() EventType { return e.eventType }
func (e testEvent) AggregateID() string  { return e.id }
func (e testEvent) OccurredAt() time.Time {
	return time.Now()
}
func (e testEvent) Payload() map[string]interface{} {
	return map[string]interface{}{"id": e.id}
}

func newSyncBus(t *testing.T) *EventBus {
	bus := NewEventBus(EventBusConfig{AsyncMode: false})
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestEventBus_SubscribeAndPublish(t *testing.T) {
	bus := newSyncBus(t)

	var received []string
	require.NoError(t, bus.Subscribe("student.updated", func(event Event) error {
		received = append(received, event.AggregateID())
		return nil
	}))

	require.NoError(t, bus.Publish(testEvent{eventType: "student.updated", id: "501"}))
	require.NoError(t, bus.Publish(testEvent{eventType: "other.event", id: "502"}))

	assert.Equal(t, []string{"501"}, received, "handlers only see their subscribed type")
}

func TestEventBus_SubscribeAll(t *testing.T) {
	bus := newSyncBus(t)

	var count int
	require.NoError(t, bus.SubscribeAll(func(event Event) error {
		count++
		return nil
	}))

	require.NoError(t, bus.Publish(testEvent{eventType: "a", id: "1"}))
	require.NoError(t, bus.Publish(testEvent{eventType: "b", id: "2"}))

	assert.Equal(t, 2, count)
}

func TestEventBus_MultipleHandlersPerType(t *testing.T) {
	bus := newSyncBus(t)

	var first, second bool
	require.NoError(t, bus.Subscribe("x", func(Event) error { first = true; return nil }))
	require.NoError(t, bus.Subscribe("x", func(Event) error { second = true; return nil }))

	require.NoError(t, bus.Publish(testEvent{eventType: "x"}))
	assert.True(t, first)
	assert.True(t, second)
}

func TestEventBus_HandlerErrorDoesNotStopOthers(t *testing.T) {
	bus := newSyncBus(t)

	var reached bool
	require.NoError(t, bus.Subscribe("x", func(Event) error { return errors.New("boom") }))
	require.NoError(t, bus.Subscribe("x", func(Event) error { reached = true; return nil }))

	require.NoError(t, bus.Publish(testEvent{eventType: "x"}))
	assert.True(t, reached)
}

func TestEventBus_NilValidation(t *testing.T) {
	bus := newSyncBus(t)

	assert.Error(t, bus.Subscribe("x", nil))
	assert.Error(t, bus.SubscribeAll(nil))
	assert.Error(t, bus.Publish(nil))
}

func TestEventBus_AsyncDelivery(t *testing.T) {
	bus := NewEventBus(EventBusConfig{AsyncMode: true, WorkerPoolSize: 4})

	var delivered int32
	var wg sync.WaitGroup
	wg.Add(10)
	require.NoError(t, bus.Subscribe("x", func(Event) error {
		atomic.AddInt32(&delivered, 1)
		wg.Done()
		return nil
	}))

	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(testEvent{eventType: "x"}))
	}

	wg.Wait()
	assert.EqualValues(t, 10, atomic.LoadInt32(&delivered))
	require.NoError(t, bus.Close())
}

func TestEventBus_CloseDrainsPendingHandlers(t *testing.T) {
	// Pool size two with six slow handlers: four of them are still waiting
	// for a worker slot when Close is called, and all six must run.
	bus := NewEventBus(EventBusConfig{AsyncMode: true, WorkerPoolSize: 2})

	var delivered int32
	require.NoError(t, bus.Subscribe("x", func(Event) error {
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&delivered, 1)
		return nil
	}))

	for i := 0; i < 6; i++ {
		require.NoError(t, bus.Publish(testEvent{eventType: "x"}))
	}

	require.NoError(t, bus.Close())
	assert.EqualValues(t, 6, atomic.LoadInt32(&delivered), "Close waits for queued handlers too")
}

func TestEventBus_ClosedBusRejectsOperations(t *testing.T) {
	bus := NewEventBus(EventBusConfig{AsyncMode: false})
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(testEvent{eventType: "x"}), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe("x", func(Event) error { return nil }), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(func(Event) error { return nil }), ErrEventBusClosed)

	// Closing twice is a no-op.
	assert.NoError(t, bus.Close())
}
