// Package subscriptions implements buying a subscription plan for a treatment
// and settling its payment.
package subscriptions

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"spabook/internal/metrics"
	"spabook/internal/models"
	"spabook/internal/validator"
)

var ErrInvalidTransition = fmt.Errorf("subscription status transition: %w", models.ErrInvalidState)

// Store persists plans and purchased subscriptions.
type Store interface {
	GetSubscriptionPlan(ctx context.Context, id string) (*models.SubscriptionPlan, error)
	GetTreatment(ctx context.Context, id string) (*models.Treatment, error)
	CreateUserSubscription(ctx context.Context, s *models.UserSubscription) error
	GetUserSubscription(ctx context.Context, id string) (*models.UserSubscription, error)
	UpdateUserSubscriptionStatus(ctx context.Context, id, status, reason string) error
}

// PurchaseRequest is the input of Purchase. Either UserID or GuestInfo must be
// present.
type PurchaseRequest struct {
	UserID          string            `json:"user_id" validate:"required_without=GuestInfo"`
	PlanID          string            `json:"plan_id" validate:"required"`
	TreatmentID     string            `json:"treatment_id" validate:"required"`
	DurationMinutes int               `json:"duration_minutes" validate:"gte=0,lte=480"`
	PaymentMethodID string            `json:"payment_method_id" validate:"required"`
	GuestInfo       *models.GuestInfo `json:"guest_info,omitempty" validate:"omitempty"`
}

// Result is the envelope returned to the HTTP layer.
type Result struct {
	Success        bool              `json:"success"`
	Error          string            `json:"error,omitempty"`
	Fields         map[string]string `json:"fields,omitempty"`
	SubscriptionID string            `json:"subscription_id,omitempty"`
	TotalPrice     float64           `json:"total_price,omitempty"`
	ExpiresAt      *time.Time        `json:"expires_at,omitempty"`
}

// CalculatePrice returns unit × quantity less the discount, rounded to cents.
func CalculatePrice(unit float64, quantity int, discountPercent float64) float64 {
	total := unit * float64(quantity) * (1 - discountPercent/100)
	return math.Round(total*100) / 100
}

type Service struct {
	store  Store
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(store Store, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger.With().Str("component", "subscriptions").Logger(),
		now:    time.Now,
	}
}

// Purchase validates the request, prices it and stores the subscription
// awaiting payment. Failures come back in the envelope, never as panics.
func (s *Service) Purchase(ctx context.Context, req PurchaseRequest) Result {
	if err := validator.Validate(req); err != nil {
		metrics.IncSubscriptionPurchase("invalid")
		return Result{Error: "invalid request: " + validator.Summary(err), Fields: validator.FormatValidationErrors(err)}
	}

	log := s.logger.With().
		Str("user_id", req.UserID).
		Str("plan_id", req.PlanID).
		Str("treatment_id", req.TreatmentID).
		Logger()

	plan, err := s.store.GetSubscriptionPlan(ctx, req.PlanID)
	if err != nil {
		return s.fail(log, err, "subscription plan not found")
	}
	if !plan.IsActive {
		return s.fail(log, nil, "subscription plan is not available")
	}
	if plan.Quantity <= 0 {
		return s.fail(log, nil, "subscription plan has no sessions")
	}

	treatment, err := s.store.GetTreatment(ctx, req.TreatmentID)
	if err != nil {
		return s.fail(log, err, "treatment not found")
	}
	if !treatment.IsActive {
		return s.fail(log, nil, "treatment is not available")
	}
	unit, ok := treatment.PriceFor(req.DurationMinutes)
	if !ok {
		return s.fail(log, nil, fmt.Sprintf("treatment has no price for %d minutes", req.DurationMinutes))
	}

	now := s.now()
	sessions := plan.Quantity + plan.BonusQuantity
	sub := &models.UserSubscription{
		ID:                uuid.NewString(),
		UserID:            req.UserID,
		PlanID:            plan.ID,
		PlanName:          plan.Name,
		TreatmentID:       treatment.ID,
		DurationMinutes:   req.DurationMinutes,
		TotalQuantity:     sessions,
		RemainingQuantity: sessions,
		PricePerSession:   unit,
		TotalPrice:        CalculatePrice(unit, plan.Quantity, plan.DiscountPercent),
		Status:            models.SubscriptionPendingPayment,
		PaymentMethodID:   req.PaymentMethodID,
		PurchasedAt:       now,
		ExpiresAt:         now.AddDate(0, plan.ValidityMonths, 0),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if req.GuestInfo != nil {
		guest := *req.GuestInfo
		sub.Guest = &guest
	}

	if err := s.store.CreateUserSubscription(ctx, sub); err != nil {
		return s.fail(log, err, "failed to save subscription")
	}

	metrics.IncSubscriptionPurchase("pending_payment")
	log.Info().
		Str("subscription_id", sub.ID).
		Float64("total_price", sub.TotalPrice).
		Int("sessions", sessions).
		Msg("subscription purchased, awaiting payment")

	return Result{
		Success:        true,
		SubscriptionID: sub.ID,
		TotalPrice:     sub.TotalPrice,
		ExpiresAt:      &sub.ExpiresAt,
	}
}

func (s *Service) fail(log zerolog.Logger, err error, msg string) Result {
	metrics.IncSubscriptionPurchase("failed")
	if err != nil {
		log.Error().Err(err).Msg(msg)
	} else {
		log.Warn().Msg(msg)
	}
	return Result{Error: msg}
}

// ConfirmPayment activates a subscription awaiting payment.
func (s *Service) ConfirmPayment(ctx context.Context, id string) error {
	if err := s.transition(ctx, id, models.SubscriptionActive, ""); err != nil {
		return err
	}
	metrics.IncSubscriptionPurchase("paid")
	s.logger.Info().Str("subscription_id", id).Msg("subscription payment confirmed")
	return nil
}

// FailPayment cancels a subscription whose payment did not go through.
func (s *Service) FailPayment(ctx context.Context, id, reason string) error {
	if reason == "" {
		reason = "payment failed"
	}
	if err := s.transition(ctx, id, models.SubscriptionCancelled, reason); err != nil {
		return err
	}
	metrics.IncSubscriptionPurchase("payment_failed")
	s.logger.Warn().Str("subscription_id", id).Str("reason", reason).Msg("subscription payment failed")
	return nil
}

func (s *Service) transition(ctx context.Context, id, status, reason string) error {
	sub, err := s.store.GetUserSubscription(ctx, id)
	if err != nil {
		return fmt.Errorf("get subscription %s: %w", id, err)
	}
	if sub.Status != models.SubscriptionPendingPayment {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sub.Status, status)
	}
	if err := s.store.UpdateUserSubscriptionStatus(ctx, id, status, reason); err != nil {
		return fmt.Errorf("update subscription %s: %w", id, err)
	}
	return nil
}
