// Package reminders notifies customers ahead of their confirmed bookings.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"spabook/internal/events"
	"spabook/internal/metrics"
	"spabook/internal/models"
	"spabook/internal/notify"
)

var errNoRecipients = errors.New("no reachable recipients")

// Config holds configuration for the reminder service.
type Config struct {
	// CheckInterval is how often upcoming bookings are scanned.
	CheckInterval time.Duration
	// LookAhead is how far before the start a reminder goes out.
	LookAhead time.Duration
	// MaxConcurrentNotifications limits parallel sends.
	MaxConcurrentNotifications int
	// Language is used for customers without a stored preference.
	Language string
}

func DefaultConfig() Config {
	return Config{
		CheckInterval:              15 * time.Minute,
		LookAhead:                  24 * time.Hour,
		MaxConcurrentNotifications: 10,
		Language:                   "en",
	}
}

type Store interface {
	ListReminderCandidates(ctx context.Context, from, to time.Time) ([]models.Booking, error)
	MarkReminderSent(ctx context.Context, bookingID string) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetTreatment(ctx context.Context, id string) (*models.Treatment, error)
}

// Service handles sending booking reminders.
type Service struct {
	config  Config
	store   Store
	sender  notify.Sender
	logger  zerolog.Logger
	now     func() time.Time
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func NewService(cfg Config, store Store, sender notify.Sender, logger zerolog.Logger) *Service {
	def := DefaultConfig()
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if cfg.LookAhead <= 0 {
		cfg.LookAhead = def.LookAhead
	}
	if cfg.MaxConcurrentNotifications <= 0 {
		cfg.MaxConcurrentNotifications = def.MaxConcurrentNotifications
	}
	if cfg.Language == "" {
		cfg.Language = def.Language
	}
	return &Service{
		config: cfg,
		store:  store,
		sender: sender,
		logger: logger.With().Str("component", "reminders").Logger(),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// Start begins the reminder check loop. Calling it twice is a no-op.
func (s *Service) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop()

	s.logger.Info().
		Dur("check_interval", s.config.CheckInterval).
		Dur("look_ahead", s.config.LookAhead).
		Msg("reminder service started")
}

// Stop waits for the running check to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info().Msg("reminder service stopped")
}

func (s *Service) loop() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stopCh
		cancel()
	}()

	s.CheckNow(ctx)

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.CheckNow(ctx)
		}
	}
}

// CheckNow sends every due reminder and returns how many went out.
func (s *Service) CheckNow(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	now := s.now()
	bookings, err := s.store.ListReminderCandidates(ctx, now, now.Add(s.config.LookAhead))
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to get upcoming bookings")
		return 0
	}
	if len(bookings) == 0 {
		return 0
	}
	s.logger.Debug().Int("count", len(bookings)).Msg("found bookings to remind")

	sem := make(chan struct{}, s.config.MaxConcurrentNotifications)
	var (
		wg   sync.WaitGroup
		sent atomic.Int32
	)
	for i := range bookings {
		b := bookings[i]
		wg.Add(1)
		sem <- struct{}{}

		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.sendReminder(ctx, &b); err != nil {
				metrics.IncReminder("failed")
				s.logger.Error().Err(err).
					Str("booking_id", b.ID).
					Str("user_id", b.UserID).
					Msg("failed to send reminder")
				return
			}
			metrics.IncReminder("sent")
			sent.Add(1)
		}()
	}
	wg.Wait()
	return int(sent.Load())
}

func (s *Service) sendReminder(ctx context.Context, b *models.Booking) error {
	customer, err := s.store.GetUser(ctx, b.UserID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	treatment, err := s.store.GetTreatment(ctx, b.TreatmentID)
	if err != nil {
		return fmt.Errorf("get treatment: %w", err)
	}

	recipients := notify.UserRecipients(customer, s.config.Language)
	if b.ForSomeoneElse {
		lang := customer.Language
		if lang == "" {
			lang = s.config.Language
		}
		recipients = append(recipients, notify.ContactRecipients(&events.Contact{
			Name:  b.RecipientName,
			Email: b.RecipientEmail,
			Phone: b.RecipientPhone,
		}, lang)...)
	}
	if len(recipients) == 0 {
		return errNoRecipients
	}

	msg := notify.Message{
		Template: notify.TemplateBookingReminder,
		Data: map[string]string{
			"customer_name":  customer.Name,
			"booking_number": b.BookingNumber,
			"treatment":      treatment.Name,
			"date":           b.StartsAt.Format("2006-01-02"),
			"time":           b.StartsAt.Format("15:04"),
		},
	}
	if err := s.sender.Send(ctx, recipients, msg); err != nil {
		return err
	}

	if err := s.store.MarkReminderSent(ctx, b.ID); err != nil {
		// the notification already went out
		s.logger.Error().Err(err).Str("booking_id", b.ID).Msg("failed to mark reminder as sent")
	}
	s.logger.Info().Str("booking_id", b.ID).Str("user_id", b.UserID).Msg("reminder sent")
	return nil
}
