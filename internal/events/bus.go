package events

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler reacts to an event. Only comparable implementations (pointer
// receivers) can be removed again with Off.
type Handler interface {
	Name() string
	Handle(ctx context.Context, e Event) error
}

type funcHandler struct {
	name string
	fn   func(ctx context.Context, e Event) error
}

// Func wraps a plain function as a Handler. Every call returns a distinct
// handler; keep the returned value to unregister it later.
func Func(name string, fn func(ctx context.Context, e Event) error) Handler {
	return &funcHandler{name: name, fn: fn}
}

func (h *funcHandler) Name() string { return h.name }

func (h *funcHandler) Handle(ctx context.Context, e Event) error { return h.fn(ctx, e) }

// Outcome is the settled result of one handler invocation.
type Outcome struct {
	Handler  string
	Err      error
	Duration time.Duration
}

// Report describes one Emit call. Outcomes follow registration order.
type Report struct {
	Event    Event
	Outcomes []Outcome
}

// Failed returns the outcomes that ended with an error.
func (r Report) Failed() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// Err joins every handler error, or nil when all handlers succeeded.
func (r Report) Err() error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.Handler, o.Err))
		}
	}
	return errors.Join(errs...)
}

// Observer is told about every settled handler invocation.
type Observer func(t Type, o Outcome)

// Option configures a Bus.
type Option func(*Bus)

// WithObserver installs an outcome observer, typically metrics.
func WithObserver(o Observer) Option {
	return func(b *Bus) { b.observer = o }
}

// Bus is an in-process publish/subscribe registry. Handlers for one event run
// concurrently and a failing handler never affects its siblings or the caller.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
	logger   zerolog.Logger
	observer Observer
}

// NewBus constructs an empty bus.
func NewBus(logger zerolog.Logger, opts ...Option) *Bus {
	b := &Bus{
		handlers: make(map[Type][]Handler),
		logger:   logger.With().Str("component", "event_bus").Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// On appends handler to the list for t. Registering the same handler twice
// makes it run twice per Emit. A handler whose dynamic type is not comparable
// runs normally but can never be removed with Off.
func (b *Bus) On(t Type, h Handler) {
	if h == nil {
		return
	}
	if !isComparable(h) {
		b.logger.Warn().
			Str("event_type", string(t)).
			Str("handler", h.Name()).
			Msg("handler is not comparable, Off cannot remove it")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Off removes the first registration of h for t.
func (b *Bus) Off(t Type, h Handler) {
	if h == nil || !isComparable(h) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.handlers[t]
	for i, registered := range list {
		if !isComparable(registered) || registered != h {
			continue
		}
		next := make([]Handler, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(b.handlers, t)
		} else {
			b.handlers[t] = next
		}
		return
	}
}

// isComparable reports whether h can be compared with == without panicking.
func isComparable(h Handler) bool {
	return reflect.TypeOf(h).Comparable()
}

// Emit delivers e to every handler registered for its type and waits until
// all of them have settled. It never panics and never returns an error; the
// report and the log are the only record of handler failures.
func (b *Bus) Emit(ctx context.Context, e Event) Report {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[e.Type]...)
	b.mu.RUnlock()

	report := Report{Event: e}
	if len(handlers) == 0 {
		b.logger.Info().
			Str("event_type", string(e.Type)).
			Str("entity_id", e.EntityID).
			Msg("no handlers registered for event")
		return report
	}

	report.Outcomes = make([]Outcome, len(handlers))
	var wg sync.WaitGroup
	for i, h := range handlers {
		wg.Add(1)
		go func(i int, h Handler) {
			defer wg.Done()

			start := time.Now()
			err := invoke(ctx, h, e)
			out := Outcome{Handler: h.Name(), Err: err, Duration: time.Since(start)}
			report.Outcomes[i] = out

			if err != nil {
				b.logger.Error().
					Err(err).
					Str("event_type", string(e.Type)).
					Str("entity_id", e.EntityID).
					Str("handler", out.Handler).
					Msg("event handler failed")
			}
			if b.observer != nil {
				b.observer(e.Type, out)
			}
		}(i, h)
	}
	wg.Wait()

	b.logger.Debug().
		Str("event_type", string(e.Type)).
		Str("entity_id", e.EntityID).
		Int("handlers", len(handlers)).
		Msg("event dispatched")
	return report
}

func invoke(ctx context.Context, h Handler, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.Handle(ctx, e)
}

// Handlers returns a copy of the handlers registered for t.
func (b *Bus) Handlers(t Type) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Handler(nil), b.handlers[t]...)
}

// AllHandlers returns a copy of the whole registry. Intended for debugging.
func (b *Bus) AllHandlers() map[Type][]Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[Type][]Handler, len(b.handlers))
	for t, list := range b.handlers {
		out[t] = append([]Handler(nil), list...)
	}
	return out
}
