package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"spabook/internal/metrics"
	"spabook/internal/notify"
)

// Config holds rate limiting and retry settings.
type Config struct {
	// Rate is the number of messages allowed per second across all channels.
	Rate float64
	// Burst is the token bucket size.
	Burst int
	// RetryDelays are waited between attempts; len(RetryDelays) is the
	// number of retries after the first attempt.
	RetryDelays []time.Duration
}

// DefaultConfig returns the default delivery configuration.
func DefaultConfig() Config {
	return Config{
		Rate:  20,
		Burst: 30,
		RetryDelays: []time.Duration{
			1 * time.Second,
			5 * time.Second,
			30 * time.Second,
		},
	}
}

// Service renders messages and routes each recipient to its channel. It
// implements notify.Sender.
type Service struct {
	catalog  atomic.Pointer[Catalog]
	mu       sync.RWMutex
	channels map[string]Channel
	limiter  *rate.Limiter
	delays   []time.Duration
	logger   zerolog.Logger
}

var _ notify.Sender = (*Service)(nil)

// NewService creates a delivery service with no channels registered.
func NewService(catalog *Catalog, cfg Config, logger zerolog.Logger) *Service {
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultConfig().Rate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultConfig().Burst
	}
	if cfg.RetryDelays == nil {
		cfg.RetryDelays = DefaultConfig().RetryDelays
	}

	s := &Service{
		channels: make(map[string]Channel),
		limiter:  rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		delays:   cfg.RetryDelays,
		logger:   logger.With().Str("component", "delivery").Logger(),
	}
	s.catalog.Store(catalog)
	return s
}

// Register routes recipients of the given type to ch.
func (s *Service) Register(recipientType string, ch Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[recipientType] = ch
}

// SetCatalog swaps the template catalog. Safe to call while sending.
func (s *Service) SetCatalog(c *Catalog) {
	if c == nil {
		return
	}
	s.catalog.Store(c)
	s.logger.Info().Int("templates", len(c.Templates)).Msg("templates reloaded")
}

// Send delivers msg to every recipient. A failure for one recipient does not
// stop delivery to the others; all failures are returned joined.
func (s *Service) Send(ctx context.Context, recipients []notify.Recipient, msg notify.Message) error {
	catalog := s.catalog.Load()
	if catalog == nil {
		return errors.New("no template catalog loaded")
	}

	var errs []error
	for _, r := range recipients {
		if err := s.sendOne(ctx, catalog, r, msg); err != nil {
			metrics.IncNotification(r.Type, "failed")
			errs = append(errs, fmt.Errorf("%s %s: %w", r.Type, r.Value, err))
			continue
		}
		metrics.IncNotification(r.Type, "sent")
	}
	return errors.Join(errs...)
}

func (s *Service) sendOne(ctx context.Context, catalog *Catalog, r notify.Recipient, msg notify.Message) error {
	s.mu.RLock()
	ch, ok := s.channels[r.Type]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no channel for recipient type %q", r.Type)
	}

	content, err := catalog.Render(msg.Template, r.Language, msg.Data)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= len(s.delays); attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		lastErr = ch.Deliver(ctx, r, content)
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) || attempt == len(s.delays) {
			break
		}

		delay := retryAfter(lastErr)
		if delay == 0 {
			delay = s.delays[attempt]
		}
		s.logger.Info().
			Err(lastErr).
			Str("template", msg.Template).
			Str("channel", r.Type).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("retrying notification")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
