// Package vouchers sells, administers and redeems gift vouchers. Every
// mutation is announced on the event bus after it is persisted.
package vouchers

import (
	"context"
	"errors"
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
)

const DefaultValidityMonths = 12

var (
	ErrNotRedeemable     = fmt.Errorf("gift voucher cannot be redeemed: %w", models.ErrInvalidState)
	ErrTreatmentMismatch = fmt.Errorf("gift voucher is for another treatment: %w", models.ErrInvalidInput)
)

type Store interface {
	GetTreatment(ctx context.Context, id string) (*models.Treatment, error)
	CreateGiftVoucher(ctx context.Context, v *models.GiftVoucher) error
	GetGiftVoucher(ctx context.Context, id string) (*models.GiftVoucher, error)
	UpdateGiftVoucher(ctx context.Context, v *models.GiftVoucher) error
	DeleteGiftVoucher(ctx context.Context, id string) error
	// RedeemGiftVoucher sets the remaining amount only if it still equals
	// expected, returning models.ErrConflict otherwise.
	RedeemGiftVoucher(ctx context.Context, id string, expected, remaining float64, status string) error
	// RestoreGiftVoucherBalance adds amount back, capped at the face value.
	RestoreGiftVoucherBalance(ctx context.Context, id string, amount float64) error
}

// PurchaseRequest is a customer buying a voucher for themselves or as a gift.
type PurchaseRequest struct {
	PurchaserUserID string            `json:"purchaser_user_id" validate:"required_without=GuestInfo"`
	VoucherType     string            `json:"voucher_type" validate:"required,oneof=monetary treatment"`
	Amount          float64           `json:"amount" validate:"required_if=VoucherType monetary,gte=0,lte=10000"`
	TreatmentID     string            `json:"treatment_id" validate:"required_if=VoucherType treatment"`
	DurationMinutes int               `json:"duration_minutes" validate:"gte=0,lte=480"`
	IsGift          bool              `json:"is_gift"`
	RecipientName   string            `json:"recipient_name" validate:"required_if=IsGift true,max=120"`
	RecipientEmail  string            `json:"recipient_email" validate:"omitempty,email"`
	RecipientPhone  string            `json:"recipient_phone" validate:"max=32"`
	GreetingMessage string            `json:"greeting_message" validate:"max=500"`
	GuestInfo       *models.GuestInfo `json:"guest_info,omitempty" validate:"omitempty"`
}

// CreateRequest is an administrator issuing a voucher that needs no payment.
type CreateRequest struct {
	Code            string     `json:"code" validate:"omitempty,min=4,max=32"`
	VoucherType     string     `json:"voucher_type" validate:"required,oneof=monetary treatment"`
	Amount          float64    `json:"amount" validate:"required_if=VoucherType monetary,gte=0,lte=10000"`
	TreatmentID     string     `json:"treatment_id" validate:"required_if=VoucherType treatment"`
	DurationMinutes int        `json:"duration_minutes" validate:"gte=0,lte=480"`
	OwnerUserID     string     `json:"owner_user_id"`
	ValidUntil      *time.Time `json:"valid_until,omitempty"`
}

// UpdateRequest changes the administrable fields; nil fields are kept.
type UpdateRequest struct {
	Status      *string    `json:"status,omitempty" validate:"omitempty,oneof=active cancelled"`
	OwnerUserID *string    `json:"owner_user_id,omitempty"`
	ValidUntil  *time.Time `json:"valid_until,omitempty"`
}

// RedeemRequest applies a voucher to a booking.
type RedeemRequest struct {
	BookingID   string  `json:"booking_id" validate:"required"`
	TreatmentID string  `json:"treatment_id"`
	Amount      float64 `json:"amount" validate:"gt=0"`
}

// Result is the envelope returned by Purchase.
type Result struct {
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	VoucherID string            `json:"voucher_id,omitempty"`
	Code      string            `json:"code,omitempty"`
	Amount    float64           `json:"amount,omitempty"`
}

type Service struct {
	store          Store
	emitter        eventsystem.Emitter
	validityMonths int
	logger         zerolog.Logger
	now            func() time.Time
}

func NewService(store Store, emitter eventsystem.Emitter, validityMonths int, logger zerolog.Logger) *Service {
	if validityMonths <= 0 {
		validityMonths = DefaultValidityMonths
	}
	return &Service{
		store:          store,
		emitter:        emitter,
		validityMonths: validityMonths,
		logger:         logger.With().Str("component", "vouchers").Logger(),
		now:            time.Now,
	}
}

// GenerateCode returns a new human-typable voucher code.
func GenerateCode() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "GV-" + raw[:5] + "-" + raw[5:10]
}

// Purchase stores a voucher awaiting payment and announces it.
func (s *Service) Purchase(ctx context.Context, req PurchaseRequest) Result {
	if err := validator.Validate(req); err != nil {
		return Result{Error: "invalid request: " + validator.Summary(err), Fields: validator.FormatValidationErrors(err)}
	}

	amount, err := s.price(ctx, req.VoucherType, req.Amount, req.TreatmentID, req.DurationMinutes)
	if err != nil {
		s.logger.Warn().Err(err).Str("treatment_id", req.TreatmentID).Msg("gift voucher purchase rejected")
		return Result{Error: err.Error()}
	}

	now := s.now()
	v := &models.GiftVoucher{
		ID:              uuid.NewString(),
		Code:            GenerateCode(),
		VoucherType:     req.VoucherType,
		TreatmentID:     req.TreatmentID,
		DurationMinutes: req.DurationMinutes,
		Amount:          amount,
		RemainingAmount: amount,
		PurchaserUserID: req.PurchaserUserID,
		IsGift:          req.IsGift,
		RecipientName:   req.RecipientName,
		RecipientEmail:  req.RecipientEmail,
		RecipientPhone:  req.RecipientPhone,
		GreetingMessage: req.GreetingMessage,
		Status:          models.VoucherPendingPayment,
		PaymentStatus:   models.PaymentPending,
		ValidFrom:       now,
		ValidUntil:      now.AddDate(0, s.validityMonths, 0),
		PurchasedAt:     now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if !req.IsGift {
		v.OwnerUserID = req.PurchaserUserID
	}
	if req.GuestInfo != nil {
		guest := *req.GuestInfo
		v.Guest = &guest
	}

	if err := s.store.CreateGiftVoucher(ctx, v); err != nil {
		s.logger.Error().Err(err).Msg("failed to save gift voucher")
		return Result{Error: "failed to save gift voucher"}
	}

	s.logger.Info().
		Str("voucher_id", v.ID).
		Str("code", v.Code).
		Float64("amount", v.Amount).
		Bool("is_gift", v.IsGift).
		Msg("gift voucher purchased")

	s.emit(ctx, events.GiftVoucherPurchased, v, events.GiftVoucherPayload{Voucher: v, GuestInfo: v.Guest}, v.PurchaserUserID)

	return Result{Success: true, VoucherID: v.ID, Code: v.Code, Amount: v.Amount}
}

// ConfirmPayment activates a purchased voucher.
func (s *Service) ConfirmPayment(ctx context.Context, id string) (*models.GiftVoucher, error) {
	v, err := s.store.GetGiftVoucher(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get gift voucher %s: %w", id, err)
	}
	if v.PaymentStatus != models.PaymentPending {
		return nil, fmt.Errorf("gift voucher payment is %s: %w", v.PaymentStatus, models.ErrInvalidState)
	}
	v.PaymentStatus = models.PaymentPaid
	v.Status = models.VoucherActive
	v.UpdatedAt = s.now()
	if err := s.store.UpdateGiftVoucher(ctx, v); err != nil {
		return nil, fmt.Errorf("update gift voucher %s: %w", id, err)
	}
	s.emit(ctx, events.GiftVoucherUpdated, v, events.GiftVoucherPayload{Voucher: v}, v.PurchaserUserID)
	return v, nil
}

// Create issues an active voucher on behalf of an administrator.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.GiftVoucher, error) {
	if err := validator.Validate(req); err != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidInput, validator.Summary(err))
	}
	amount, err := s.price(ctx, req.VoucherType, req.Amount, req.TreatmentID, req.DurationMinutes)
	if err != nil {
		return nil, err
	}

	now := s.now()
	v := &models.GiftVoucher{
		ID:              uuid.NewString(),
		Code:            strings.ToUpper(req.Code),
		VoucherType:     req.VoucherType,
		TreatmentID:     req.TreatmentID,
		DurationMinutes: req.DurationMinutes,
		Amount:          amount,
		RemainingAmount: amount,
		OwnerUserID:     req.OwnerUserID,
		Status:          models.VoucherActive,
		PaymentStatus:   models.PaymentNotNeeded,
		ValidFrom:       now,
		ValidUntil:      now.AddDate(0, s.validityMonths, 0),
		PurchasedAt:     now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if v.Code == "" {
		v.Code = GenerateCode()
	}
	if req.ValidUntil != nil {
		v.ValidUntil = *req.ValidUntil
	}

	if err := s.store.CreateGiftVoucher(ctx, v); err != nil {
		return nil, fmt.Errorf("create gift voucher: %w", err)
	}
	s.logger.Info().Str("voucher_id", v.ID).Str("code", v.Code).Msg("gift voucher created")
	s.emit(ctx, events.GiftVoucherCreated, v, events.GiftVoucherPayload{Voucher: v}, v.OwnerUserID)
	return v, nil
}

func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*models.GiftVoucher, error) {
	if err := validator.Validate(req); err != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidInput, validator.Summary(err))
	}
	v, err := s.store.GetGiftVoucher(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get gift voucher %s: %w", id, err)
	}
	if req.Status != nil {
		v.Status = *req.Status
	}
	if req.OwnerUserID != nil {
		v.OwnerUserID = *req.OwnerUserID
	}
	if req.ValidUntil != nil {
		v.ValidUntil = *req.ValidUntil
	}
	v.UpdatedAt = s.now()

	if err := s.store.UpdateGiftVoucher(ctx, v); err != nil {
		return nil, fmt.Errorf("update gift voucher %s: %w", id, err)
	}
	s.emit(ctx, events.GiftVoucherUpdated, v, events.GiftVoucherPayload{Voucher: v}, v.OwnerUserID)
	return v, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	v, err := s.store.GetGiftVoucher(ctx, id)
	if err != nil {
		return fmt.Errorf("get gift voucher %s: %w", id, err)
	}
	if err := s.store.DeleteGiftVoucher(ctx, id); err != nil {
		return fmt.Errorf("delete gift voucher %s: %w", id, err)
	}
	s.logger.Info().Str("voucher_id", id).Msg("gift voucher deleted")
	s.emit(ctx, events.GiftVoucherDeleted, v, events.GiftVoucherPayload{Voucher: v}, v.OwnerUserID)
	return nil
}

// Redeem applies the voucher to a booking and returns the amount covered.
// Monetary vouchers cover up to their balance. Treatment vouchers cover the
// whole booking once.
func (s *Service) Redeem(ctx context.Context, id string, req RedeemRequest) (float64, error) {
	if err := validator.Validate(req); err != nil {
		return 0, fmt.Errorf("%w: %s", models.ErrInvalidInput, validator.Summary(err))
	}
	v, err := s.store.GetGiftVoucher(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("get gift voucher %s: %w", id, err)
	}
	if err := s.redeemable(v); err != nil {
		return 0, err
	}

	var applied, remaining float64
	switch v.VoucherType {
	case models.VoucherTreatment:
		if req.TreatmentID != "" && v.TreatmentID != "" && req.TreatmentID != v.TreatmentID {
			return 0, ErrTreatmentMismatch
		}
		applied, remaining = req.Amount, 0
	default:
		applied = math.Min(req.Amount, v.RemainingAmount)
		remaining = math.Round((v.RemainingAmount-applied)*100) / 100
	}

	status := models.VoucherPartiallyUsed
	if remaining <= 0 {
		status = models.VoucherFullyUsed
	}
	if err := s.store.RedeemGiftVoucher(ctx, v.ID, v.RemainingAmount, remaining, status); err != nil {
		return 0, fmt.Errorf("redeem gift voucher %s: %w", id, err)
	}

	v.RemainingAmount = remaining
	v.Status = status
	s.logger.Info().
		Str("voucher_id", v.ID).
		Str("booking_id", req.BookingID).
		Float64("applied", applied).
		Float64("remaining", remaining).
		Msg("gift voucher redeemed")

	s.emit(ctx, events.GiftVoucherRedeemed, v, events.GiftVoucherPayload{
		Voucher:        v,
		RedeemedAmount: applied,
		BookingID:      req.BookingID,
	}, v.OwnerUserID)
	return applied, nil
}

// Restore gives back what a booking took from the voucher. Treatment vouchers
// regain their full value.
func (s *Service) Restore(ctx context.Context, id, bookingID string, amount float64) error {
	v, err := s.store.GetGiftVoucher(ctx, id)
	if err != nil {
		return fmt.Errorf("get gift voucher %s: %w", id, err)
	}
	if v.VoucherType == models.VoucherTreatment {
		amount = v.Amount
	}
	if amount <= 0 {
		return nil
	}
	if err := s.store.RestoreGiftVoucherBalance(ctx, id, amount); err != nil {
		return fmt.Errorf("restore gift voucher %s: %w", id, err)
	}
	if v, err = s.store.GetGiftVoucher(ctx, id); err != nil {
		return fmt.Errorf("get gift voucher %s: %w", id, err)
	}

	s.logger.Info().
		Str("voucher_id", v.ID).
		Str("booking_id", bookingID).
		Float64("restored", amount).
		Float64("remaining", v.RemainingAmount).
		Msg("gift voucher balance restored")

	s.emit(ctx, events.GiftVoucherUpdated, v, events.GiftVoucherPayload{Voucher: v, BookingID: bookingID}, v.OwnerUserID)
	return nil
}

func (s *Service) redeemable(v *models.GiftVoucher) error {
	switch {
	case v.PaymentStatus != models.PaymentPaid && v.PaymentStatus != models.PaymentNotNeeded:
		return fmt.Errorf("%w: payment %s", ErrNotRedeemable, v.PaymentStatus)
	case v.Status == models.VoucherCancelled || v.Status == models.VoucherFullyUsed:
		return fmt.Errorf("%w: status %s", ErrNotRedeemable, v.Status)
	case v.IsExpired(s.now()):
		return fmt.Errorf("%w: expired", ErrNotRedeemable)
	case v.RemainingAmount <= 0:
		return fmt.Errorf("%w: no balance left", ErrNotRedeemable)
	}
	return nil
}

func (s *Service) price(ctx context.Context, voucherType string, amount float64, treatmentID string, minutes int) (float64, error) {
	if voucherType == models.VoucherMonetary {
		if amount <= 0 {
			return 0, fmt.Errorf("%w: amount must be positive", models.ErrInvalidInput)
		}
		return amount, nil
	}
	t, err := s.store.GetTreatment(ctx, treatmentID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return 0, fmt.Errorf("%w: treatment not found", models.ErrInvalidInput)
		}
		return 0, err
	}
	if !t.IsActive {
		return 0, fmt.Errorf("%w: treatment is not available", models.ErrInvalidInput)
	}
	p, ok := t.PriceFor(minutes)
	if !ok {
		return 0, fmt.Errorf("%w: treatment has no price for %d minutes", models.ErrInvalidInput, minutes)
	}
	return p, nil
}

func (s *Service) emit(ctx context.Context, t events.Type, v *models.GiftVoucher, p events.GiftVoucherPayload, userID string) {
	cp := *v
	p.Voucher = &cp
	e := events.NewGiftVoucherEvent(t, v.ID, userID, p, map[string]string{"source": "vouchers"})
	report := s.emitter.Emit(ctx, e)
	if err := report.Err(); err != nil {
		s.logger.Warn().Err(err).Str("event_type", t.String()).Msg("event handlers failed")
	}
}
