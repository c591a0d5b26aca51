// Package eventsystem wires the notification and dashboard handlers to the
// event bus. It is constructed once at application startup and passed to
// every producer.
package eventsystem

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"spabook/internal/events"
	"spabook/internal/metrics"
)

// HandlerSet is a handler bound to a fixed list of event types.
type HandlerSet struct {
	Handler events.Handler
	Types   []events.Type
}

// Option configures a System.
type Option func(*System)

// WithHandlerSet registers an extra handler set during Initialize.
func WithHandlerSet(set HandlerSet) Option {
	return func(s *System) {
		if set.Handler != nil {
			s.extra = append(s.extra, set)
		}
	}
}

// WithMetrics reports every handler outcome to Prometheus.
func WithMetrics() Option {
	return func(s *System) { s.observe = true }
}

// System owns the process-wide bus and registers its handlers exactly once.
type System struct {
	bus          *events.Bus
	notification events.Handler
	dashboard    events.Handler
	extra        []HandlerSet
	observe      bool
	logger       zerolog.Logger

	mu          sync.Mutex
	initialized bool
}

// New creates the bus. Handlers are not registered until Initialize.
func New(notification, dashboard events.Handler, logger zerolog.Logger, opts ...Option) *System {
	s := &System{
		notification: notification,
		dashboard:    dashboard,
		logger:       logger.With().Str("component", "event_system").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	var busOpts []events.Option
	if s.observe {
		busOpts = append(busOpts, events.WithObserver(func(t events.Type, o events.Outcome) {
			metrics.ObserveHandler(t.String(), o.Handler, o.Err, o.Duration)
		}))
	}
	s.bus = events.NewBus(logger, busOpts...)
	return s
}

// Initialize binds the notification and dashboard handlers to every event
// type, plus any extra handler sets. Calling it again has no effect.
func (s *System) Initialize() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		s.logger.Info().Msg("event system already initialized")
		return
	}

	bindings := 0
	for _, t := range events.AllTypes() {
		if s.notification != nil {
			s.bus.On(t, s.notification)
			bindings++
		}
		if s.dashboard != nil {
			s.bus.On(t, s.dashboard)
			bindings++
		}
	}
	for _, set := range s.extra {
		for _, t := range set.Types {
			s.bus.On(t, set.Handler)
			bindings++
		}
	}

	s.initialized = true
	s.logger.Info().Int("bindings", bindings).Msg("event system initialized")
}

// IsReady reports whether Initialize has completed.
func (s *System) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Bus returns the shared bus, initializing the system first if a producer
// reaches it before startup wiring ran.
func (s *System) Bus() *events.Bus {
	if !s.IsReady() {
		s.logger.Warn().Msg("event bus requested before initialization")
		s.Initialize()
	}
	return s.bus
}

// Emit publishes e on the shared bus.
func (s *System) Emit(ctx context.Context, e events.Event) events.Report {
	return s.Bus().Emit(ctx, e)
}

// Emitter is what producers depend on.
type Emitter interface {
	Emit(ctx context.Context, e events.Event) events.Report
}

var _ Emitter = (*System)(nil)
