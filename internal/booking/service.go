// Package booking manages the booking lifecycle. Each transition is persisted
// first and then announced on the event bus.
package booking

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"spabook/internal/events"
	"spabook/internal/eventsystem"
	"spabook/internal/models"
	"spabook/internal/validator"
	"spabook/internal/vouchers"
)

var (
	ErrInvalidTransition       = fmt.Errorf("booking status transition: %w", models.ErrInvalidState)
	ErrSubscriptionUnavailable = fmt.Errorf("subscription cannot cover this booking: %w", models.ErrInvalidState)
)

type Store interface {
	GetTreatment(ctx context.Context, id string) (*models.Treatment, error)
	GetUserSubscription(ctx context.Context, id string) (*models.UserSubscription, error)
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	// CreateBooking inserts b. When b.SubscriptionID is set one session is
	// taken from that subscription in the same transaction.
	CreateBooking(ctx context.Context, b *models.Booking) error
	UpdateBooking(ctx context.Context, b *models.Booking) error
	// RestoreSubscriptionSession gives back a session taken by a booking.
	RestoreSubscriptionSession(ctx context.Context, subscriptionID string) error
}

// VoucherRedeemer applies gift voucher balance to a booking and gives it
// back when the booking does not go ahead.
type VoucherRedeemer interface {
	Redeem(ctx context.Context, id string, req vouchers.RedeemRequest) (float64, error)
	Restore(ctx context.Context, id, bookingID string, amount float64) error
}

// Recipient is someone else the booking is made for.
type Recipient struct {
	Name  string `json:"name" validate:"required,max=120"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone" validate:"required_without=Email,max=32"`
}

type CreateRequest struct {
	UserID          string     `json:"user_id" validate:"required"`
	TreatmentID     string     `json:"treatment_id" validate:"required"`
	DurationMinutes int        `json:"duration_minutes" validate:"gte=0,lte=480"`
	StartsAt        time.Time  `json:"starts_at" validate:"required"`
	SubscriptionID  string     `json:"subscription_id,omitempty"`
	GiftVoucherID   string     `json:"gift_voucher_id,omitempty" validate:"excluded_with=SubscriptionID"`
	Notes           string     `json:"notes,omitempty" validate:"max=1000"`
	Recipient       *Recipient `json:"recipient,omitempty" validate:"omitempty"`
}

type Service struct {
	store    Store
	vouchers VoucherRedeemer
	emitter  eventsystem.Emitter
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(store Store, redeemer VoucherRedeemer, emitter eventsystem.Emitter, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		vouchers: redeemer,
		emitter:  emitter,
		logger:   logger.With().Str("component", "booking").Logger(),
		now:      time.Now,
	}
}

func newBookingNumber() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "BK-" + raw[:8]
}

// Create books a treatment. A subscription session or gift voucher balance
// is applied when the request names one.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Booking, error) {
	if err := validator.Validate(req); err != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidInput, validator.Summary(err))
	}
	now := s.now()
	if !req.StartsAt.After(now) {
		return nil, fmt.Errorf("%w: starts_at must be in the future", models.ErrInvalidInput)
	}

	t, err := s.store.GetTreatment(ctx, req.TreatmentID)
	if err != nil {
		return nil, fmt.Errorf("get treatment %s: %w", req.TreatmentID, err)
	}
	if !t.IsActive {
		return nil, fmt.Errorf("%w: treatment is not available", models.ErrInvalidInput)
	}
	price, ok := t.PriceFor(req.DurationMinutes)
	if !ok {
		return nil, fmt.Errorf("%w: treatment has no price for %d minutes", models.ErrInvalidInput, req.DurationMinutes)
	}

	b := &models.Booking{
		ID:              uuid.NewString(),
		BookingNumber:   newBookingNumber(),
		UserID:          req.UserID,
		TreatmentID:     t.ID,
		DurationMinutes: req.DurationMinutes,
		StartsAt:        req.StartsAt,
		Status:          models.BookingPendingPayment,
		PaymentStatus:   models.PaymentPending,
		Price:           price,
		FinalAmount:     price,
		Notes:           req.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	var override *events.Contact
	if r := req.Recipient; r != nil {
		b.ForSomeoneElse = true
		b.RecipientName, b.RecipientEmail, b.RecipientPhone = r.Name, r.Email, r.Phone
		override = &events.Contact{Name: r.Name, Email: r.Email, Phone: r.Phone}
	}

	if req.SubscriptionID != "" {
		if err := s.checkSubscription(ctx, req); err != nil {
			return nil, err
		}
		b.SubscriptionID = req.SubscriptionID
		b.FinalAmount = 0
	}

	if req.GiftVoucherID != "" {
		applied, err := s.vouchers.Redeem(ctx, req.GiftVoucherID, vouchers.RedeemRequest{
			BookingID:   b.ID,
			TreatmentID: b.TreatmentID,
			Amount:      b.Price,
		})
		if err != nil {
			return nil, fmt.Errorf("apply gift voucher: %w", err)
		}
		b.GiftVoucherID = req.GiftVoucherID
		b.VoucherAmountApplied = applied
		b.FinalAmount = math.Max(0, math.Round((b.Price-applied)*100)/100)
	}

	if b.FinalAmount == 0 {
		b.Status = models.BookingConfirmed
		b.PaymentStatus = models.PaymentNotNeeded
	}

	if err := s.store.CreateBooking(ctx, b); err != nil {
		s.restoreVoucher(ctx, b)
		return nil, fmt.Errorf("create booking: %w", err)
	}

	s.logger.Info().
		Str("booking_id", b.ID).
		Str("booking_number", b.BookingNumber).
		Str("user_id", b.UserID).
		Float64("final_amount", b.FinalAmount).
		Msg("booking created")

	s.emit(ctx, events.BookingCreated, b, events.BookingPayload{RecipientOverride: override})
	return b, nil
}

func (s *Service) checkSubscription(ctx context.Context, req CreateRequest) error {
	sub, err := s.store.GetUserSubscription(ctx, req.SubscriptionID)
	if err != nil {
		return fmt.Errorf("get subscription %s: %w", req.SubscriptionID, err)
	}
	switch {
	case sub.UserID != req.UserID:
		return fmt.Errorf("%w: belongs to another user", ErrSubscriptionUnavailable)
	case sub.Status != models.SubscriptionActive:
		return fmt.Errorf("%w: status %s", ErrSubscriptionUnavailable, sub.Status)
	case sub.RemainingQuantity <= 0:
		return fmt.Errorf("%w: no sessions left", ErrSubscriptionUnavailable)
	case s.now().After(sub.ExpiresAt):
		return fmt.Errorf("%w: expired", ErrSubscriptionUnavailable)
	case sub.TreatmentID != req.TreatmentID:
		return fmt.Errorf("%w: different treatment", ErrSubscriptionUnavailable)
	case sub.DurationMinutes != 0 && sub.DurationMinutes != req.DurationMinutes:
		return fmt.Errorf("%w: different duration", ErrSubscriptionUnavailable)
	}
	return nil
}

func (s *Service) Confirm(ctx context.Context, id string) (*models.Booking, error) {
	b, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.IsFinal() || b.Status == models.BookingConfirmed {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, models.BookingConfirmed)
	}
	b.Status = models.BookingConfirmed
	if err := s.save(ctx, b); err != nil {
		return nil, err
	}
	s.emit(ctx, events.BookingConfirmed, b, events.BookingPayload{})
	return b, nil
}

// Cancel cancels a booking and gives back the subscription session or gift
// voucher balance it used.
func (s *Service) Cancel(ctx context.Context, id, reason, cancelledBy string) (*models.Booking, error) {
	b, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.IsFinal() {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, models.BookingCancelled)
	}
	b.Status = models.BookingCancelled
	b.CancelReason = reason
	if err := s.save(ctx, b); err != nil {
		return nil, err
	}
	if b.SubscriptionID != "" {
		if err := s.store.RestoreSubscriptionSession(ctx, b.SubscriptionID); err != nil {
			s.logger.Error().Err(err).
				Str("booking_id", b.ID).
				Str("subscription_id", b.SubscriptionID).
				Msg("failed to restore subscription session")
		}
	}
	s.restoreVoucher(ctx, b)
	s.emit(ctx, events.BookingCancelled, b, events.BookingPayload{CancelReason: reason, CancelledBy: cancelledBy})
	return b, nil
}

func (s *Service) Complete(ctx context.Context, id string) (*models.Booking, error) {
	b, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BookingConfirmed && b.Status != models.BookingInProcess {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, models.BookingCompleted)
	}
	now := s.now()
	b.Status = models.BookingCompleted
	b.CompletedAt = &now
	if err := s.save(ctx, b); err != nil {
		return nil, err
	}
	s.emit(ctx, events.BookingCompleted, b, events.BookingPayload{})
	return b, nil
}

func (s *Service) AssignProfessional(ctx context.Context, id, professionalID string) (*models.Booking, error) {
	if professionalID == "" {
		return nil, fmt.Errorf("%w: professional_id is required", models.ErrInvalidInput)
	}
	b, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.IsFinal() {
		return nil, fmt.Errorf("%w: booking is %s", ErrInvalidTransition, b.Status)
	}
	b.ProfessionalID = professionalID
	if err := s.save(ctx, b); err != nil {
		return nil, err
	}
	s.emit(ctx, events.BookingProfessionalAssigned, b, events.BookingPayload{ProfessionalID: professionalID})
	return b, nil
}

// UpdatePayment records a payment status. A paid booking awaiting payment
// becomes confirmed.
func (s *Service) UpdatePayment(ctx context.Context, id, status string) (*models.Booking, error) {
	switch status {
	case models.PaymentPending, models.PaymentPaid, models.PaymentFailed, models.PaymentRefunded:
	default:
		return nil, fmt.Errorf("%w: unknown payment status %q", models.ErrInvalidInput, status)
	}
	b, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	b.PaymentStatus = status
	if status == models.PaymentPaid && b.Status == models.BookingPendingPayment {
		b.Status = models.BookingConfirmed
	}
	if err := s.save(ctx, b); err != nil {
		return nil, err
	}
	s.emit(ctx, events.BookingPaymentUpdated, b, events.BookingPayload{PaymentStatus: status})
	return b, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Booking, error) {
	return s.load(ctx, id)
}

func (s *Service) restoreVoucher(ctx context.Context, b *models.Booking) {
	if b.GiftVoucherID == "" || b.VoucherAmountApplied <= 0 {
		return
	}
	if err := s.vouchers.Restore(ctx, b.GiftVoucherID, b.ID, b.VoucherAmountApplied); err != nil {
		s.logger.Error().Err(err).
			Str("booking_id", b.ID).
			Str("voucher_id", b.GiftVoucherID).
			Float64("applied", b.VoucherAmountApplied).
			Msg("failed to restore gift voucher balance")
	}
}

func (s *Service) load(ctx context.Context, id string) (*models.Booking, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get booking %s: %w", id, err)
	}
	return b, nil
}

func (s *Service) save(ctx context.Context, b *models.Booking) error {
	b.UpdatedAt = s.now()
	if err := s.store.UpdateBooking(ctx, b); err != nil {
		return fmt.Errorf("update booking %s: %w", b.ID, err)
	}
	s.logger.Info().
		Str("booking_id", b.ID).
		Str("status", b.Status).
		Str("payment_status", b.PaymentStatus).
		Msg("booking updated")
	return nil
}

func (s *Service) emit(ctx context.Context, t events.Type, b *models.Booking, p events.BookingPayload) {
	cp := *b
	p.Booking = &cp
	e := events.NewBookingEvent(t, b.ID, b.UserID, p, map[string]string{"source": "booking"})
	report := s.emitter.Emit(ctx, e)
	if err := report.Err(); err != nil {
		s.logger.Warn().Err(err).Str("event_type", t.String()).Msg("event handlers failed")
	}
}
