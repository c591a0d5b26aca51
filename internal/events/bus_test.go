package events

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logSink struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *logSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *logSink) count(level, msg string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, line := range strings.Split(s.buf.String(), "\n") {
		if strings.Contains(line, `"level":"`+level+`"`) && strings.Contains(line, msg) {
			n++
		}
	}
	return n
}

func newTestBus() (*Bus, *logSink) {
	sink := &logSink{}
	logger := zerolog.New(sink).Level(zerolog.DebugLevel)
	return NewBus(logger), sink
}

func testEvent(t Type) Event {
	return NewBookingEvent(t, "b-1", "u-1", BookingPayload{}, nil)
}

func TestEmit_NoHandlers(t *testing.T) {
	bus, sink := newTestBus()

	for _, typ := range AllTypes() {
		report := bus.Emit(context.Background(), testEvent(typ))
		assert.Empty(t, report.Outcomes)
		assert.NoError(t, report.Err())
	}

	assert.Equal(t, len(AllTypes()), sink.count("info", "no handlers registered"))
}

func TestEmit_FailingHandlersAreIsolated(t *testing.T) {
	tests := []struct {
		name    string
		total   int
		failing int
	}{
		{"all succeed", 3, 0},
		{"one fails", 3, 1},
		{"all fail", 4, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus, sink := newTestBus()
			var calls atomic.Int32

			for i := 0; i < tt.total; i++ {
				fail := i < tt.failing
				bus.On(BookingCreated, Func("h", func(context.Context, Event) error {
					calls.Add(1)
					if fail {
						return errors.New("boom")
					}
					return nil
				}))
			}

			report := bus.Emit(context.Background(), testEvent(BookingCreated))

			assert.Equal(t, int32(tt.total), calls.Load())
			assert.Len(t, report.Outcomes, tt.total)
			assert.Len(t, report.Failed(), tt.failing)
			assert.Equal(t, tt.failing, sink.count("error", "event handler failed"))
		})
	}
}

func TestEmit_RecoversPanics(t *testing.T) {
	bus, sink := newTestBus()
	var ran atomic.Bool

	bus.On(BookingConfirmed, Func("panics", func(context.Context, Event) error {
		panic("nil map")
	}))
	bus.On(BookingConfirmed, Func("ok", func(context.Context, Event) error {
		ran.Store(true)
		return nil
	}))

	report := bus.Emit(context.Background(), testEvent(BookingConfirmed))

	assert.True(t, ran.Load())
	require.Len(t, report.Failed(), 1)
	assert.Equal(t, "panics", report.Failed()[0].Handler)
	assert.Contains(t, report.Failed()[0].Err.Error(), "nil map")
	assert.Equal(t, 1, sink.count("error", "event handler failed"))
}

func TestEmit_RunsHandlersConcurrently(t *testing.T) {
	bus, _ := newTestBus()
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)

	for i := 0; i < 2; i++ {
		bus.On(BookingCompleted, Func("waiter", func(context.Context, Event) error {
			started.Done()
			<-release
			return nil
		}))
	}

	done := make(chan Report)
	go func() { done <- bus.Emit(context.Background(), testEvent(BookingCompleted)) }()

	// Both handlers must be in flight at the same time before either returns.
	started.Wait()
	close(release)

	select {
	case report := <-done:
		assert.Len(t, report.Outcomes, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("emit did not return")
	}
}

func TestEmit_OutcomesFollowRegistrationOrder(t *testing.T) {
	bus, _ := newTestBus()
	names := []string{"first", "second", "third"}
	for i, n := range names {
		delay := time.Duration(len(names)-i) * 5 * time.Millisecond
		bus.On(GiftVoucherPurchased, Func(n, func(context.Context, Event) error {
			time.Sleep(delay)
			return nil
		}))
	}

	report := bus.Emit(context.Background(), NewGiftVoucherEvent(GiftVoucherPurchased, "v-1", "u-1", GiftVoucherPayload{}, nil))

	require.Len(t, report.Outcomes, 3)
	for i, n := range names {
		assert.Equal(t, n, report.Outcomes[i].Handler)
	}
}

func TestHandlers_PreservesRegistrationOrder(t *testing.T) {
	bus, _ := newTestBus()
	a := Func("a", func(context.Context, Event) error { return nil })
	b := Func("b", func(context.Context, Event) error { return nil })
	c := Func("c", func(context.Context, Event) error { return nil })

	bus.On(BookingCancelled, a)
	bus.On(BookingCancelled, b)
	bus.On(BookingCancelled, c)

	got := bus.Handlers(BookingCancelled)
	require.Len(t, got, 3)
	assert.Same(t, a, got[0])
	assert.Same(t, b, got[1])
	assert.Same(t, c, got[2])
}

func TestOff(t *testing.T) {
	bus, _ := newTestBus()
	a := Func("a", func(context.Context, Event) error { return nil })
	b := Func("b", func(context.Context, Event) error { return nil })

	bus.On(BookingCreated, a)
	bus.On(BookingCreated, b)
	bus.On(BookingCreated, a)

	t.Run("removes first match only", func(t *testing.T) {
		bus.Off(BookingCreated, a)
		got := bus.Handlers(BookingCreated)
		require.Len(t, got, 2)
		assert.Same(t, b, got[0])
		assert.Same(t, a, got[1])
	})

	t.Run("unknown handler is a no-op", func(t *testing.T) {
		other := Func("a", func(context.Context, Event) error { return nil })
		bus.Off(BookingCreated, other)
		bus.Off(GiftVoucherDeleted, a)
		assert.Len(t, bus.Handlers(BookingCreated), 2)
	})

	t.Run("removing the last handler drops the type", func(t *testing.T) {
		bus.Off(BookingCreated, a)
		bus.Off(BookingCreated, b)
		_, ok := bus.AllHandlers()[BookingCreated]
		assert.False(t, ok)
	})
}

// mapHandler is a value type holding a map, so interface comparison panics.
type mapHandler struct {
	seen map[string]int
}

func (h mapHandler) Name() string { return "map" }

func (h mapHandler) Handle(_ context.Context, e Event) error {
	h.seen[e.EntityID]++
	return nil
}

func TestOff_NonComparableHandler(t *testing.T) {
	bus, sink := newTestBus()
	h := mapHandler{seen: map[string]int{}}
	other := Func("other", func(context.Context, Event) error { return nil })

	bus.On(BookingCreated, h)
	bus.On(BookingCreated, other)
	assert.Equal(t, 1, sink.count("warn", "handler is not comparable"))

	assert.NotPanics(t, func() {
		bus.Off(BookingCreated, mapHandler{seen: map[string]int{}})
		bus.Off(BookingCreated, h)
	})
	require.Len(t, bus.Handlers(BookingCreated), 2)

	assert.NotPanics(t, func() { bus.Off(BookingCreated, other) })
	require.Len(t, bus.Handlers(BookingCreated), 1)

	bus.Emit(context.Background(), testEvent(BookingCreated))
	assert.Equal(t, 1, h.seen["b-1"])
}

func TestOn_DuplicateRegistrationRunsTwice(t *testing.T) {
	bus, _ := newTestBus()
	var calls atomic.Int32
	h := Func("dup", func(context.Context, Event) error {
		calls.Add(1)
		return nil
	})
	bus.On(BookingPaymentUpdated, h)
	bus.On(BookingPaymentUpdated, h)

	bus.Emit(context.Background(), testEvent(BookingPaymentUpdated))
	assert.Equal(t, int32(2), calls.Load())
}

func TestObserverSeesEveryOutcome(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}
	bus := NewBus(zerolog.Nop(), WithObserver(func(typ Type, o Outcome) {
		mu.Lock()
		defer mu.Unlock()
		seen[o.Handler] = o.Err == nil
	}))
	bus.On(GiftVoucherRedeemed, Func("ok", func(context.Context, Event) error { return nil }))
	bus.On(GiftVoucherRedeemed, Func("bad", func(context.Context, Event) error { return errors.New("x") }))

	bus.Emit(context.Background(), NewGiftVoucherEvent(GiftVoucherRedeemed, "v", "u", GiftVoucherPayload{}, nil))

	assert.Equal(t, map[string]bool{"ok": true, "bad": false}, seen)
}

func TestEmit_DoesNotMutateEvent(t *testing.T) {
	bus, _ := newTestBus()
	bus.On(BookingCreated, Func("reader", func(_ context.Context, e Event) error {
		e.EntityID = "changed"
		return nil
	}))

	e := NewBookingEvent(BookingCreated, "b-9", "u-9", BookingPayload{}, map[string]string{"source": "test"})
	report := bus.Emit(context.Background(), e)

	assert.Equal(t, "b-9", e.EntityID)
	assert.Equal(t, "b-9", report.Event.EntityID)
}
