package messaging

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
	"github.com/Idriss091/peproscolaire-sub000/pkg/logger"
)

func testLogger() *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Output = io.Discard
	return logger.New(opts)
}

func syncBus() *InMemoryEventBus {
	cfg := DefaultEventBusConfig()
	cfg.AsyncMode = false
	return NewInMemoryEventBus(cfg, testLogger())
}

type testEvent struct {
	shared.BaseEvent
}

func (testEvent) Payload() map[string]interface{} { return nil }

func event(t shared.EventType) shared.Event {
	return testEvent{shared.NewBaseEvent(t, "aggregate-1")}
}

func TestPublish_RoutesByType(t *testing.T) {
	bus := syncBus()

	var raised, analyzed int
	require.NoError(t, bus.Subscribe(shared.EventAlertRaised, func(e shared.Event) error {
		raised++
		return nil
	}))
	require.NoError(t, bus.Subscribe(shared.EventProfileAnalyzed, func(e shared.Event) error {
		analyzed++
		return nil
	}))

	require.NoError(t, bus.Publish(event(shared.EventAlertRaised)))
	require.NoError(t, bus.Publish(event(shared.EventAlertRaised)))
	require.NoError(t, bus.Publish(event(shared.EventProfileAnalyzed)))

	assert.Equal(t, 2, raised)
	assert.Equal(t, 1, analyzed)
}

func TestPublish_SubscribeAllSeesEverything(t *testing.T) {
	bus := syncBus()

	var seen []shared.EventType
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		seen = append(seen, e.EventType())
		return nil
	}))

	require.NoError(t, bus.Publish(event(shared.EventAlertRaised)))
	require.NoError(t, bus.Publish(event(shared.EventModelPublished)))

	assert.Equal(t, []shared.EventType{shared.EventAlertRaised, shared.EventModelPublished}, seen)
}

func TestPublish_HandlerErrorDoesNotPropagate(t *testing.T) {
	bus := syncBus()

	require.NoError(t, bus.Subscribe(shared.EventAlertRaised, func(e shared.Event) error {
		return errors.New("sink unavailable")
	}))

	assert.NoError(t, bus.Publish(event(shared.EventAlertRaised)))
	assert.Equal(t, int64(1), bus.Metrics().Failures(shared.EventAlertRaised))
}

func TestPublish_PanicIsIsolated(t *testing.T) {
	bus := syncBus()

	var after int
	require.NoError(t, bus.Subscribe(shared.EventAlertRaised, func(e shared.Event) error {
		panic("boom")
	}))
	require.NoError(t, bus.Subscribe(shared.EventAlertRaised, func(e shared.Event) error {
		after++
		return nil
	}))

	assert.NoError(t, bus.Publish(event(shared.EventAlertRaised)))
	assert.Equal(t, 1, after)
	assert.Equal(t, int64(1), bus.Metrics().Failures(shared.EventAlertRaised))
}

func TestPublish_MetricsCountSubscribedEventsOnly(t *testing.T) {
	bus := syncBus()

	require.NoError(t, bus.Subscribe(shared.EventModelPublished, func(e shared.Event) error {
		return nil
	}))

	require.NoError(t, bus.Publish(event(shared.EventModelPublished)))
	// No subscriber for this one: publish short-circuits before recording.
	require.NoError(t, bus.Publish(event(shared.EventJobFailed)))

	assert.Equal(t, int64(1), bus.Metrics().Published(shared.EventModelPublished))
	assert.Equal(t, int64(0), bus.Metrics().Published(shared.EventJobFailed))
}

func TestAsyncPublish_RunsAllHandlers(t *testing.T) {
	cfg := DefaultEventBusConfig()
	cfg.WorkerPoolSize = 2
	bus := NewInMemoryEventBus(cfg, testLogger())

	var wg sync.WaitGroup
	wg.Add(5)
	var mu sync.Mutex
	count := 0
	require.NoError(t, bus.Subscribe(shared.EventAlertRaised, func(e shared.Event) error {
		time.Sleep(time.Millisecond)
		mu.Lock()
		count++
		mu.Unlock()
		wg.Done()
		return nil
	}))

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(event(shared.EventAlertRaised)))
	}

	wg.Wait()
	require.NoError(t, bus.Close())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, count)
}

func TestClosedBusRefusesOperations(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(event(shared.EventAlertRaised)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventAlertRaised, func(e shared.Event) error { return nil }), ErrEventBusClosed)
	// Closing twice is fine.
	assert.NoError(t, bus.Close())
}

func TestPublish_NilEventRejected(t *testing.T) {
	assert.Error(t, syncBus().Publish(nil))
}
