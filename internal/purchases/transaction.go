// Package purchases builds the unified purchase history across bookings,
// subscriptions and gift vouchers for member and admin dashboards.
package purchases

import (
	"fmt"
	"time"

	"spabook/internal/models"
)

// Transaction types.
const (
	TypeBooking      = "booking"
	TypeSubscription = "subscription"
	TypeGiftVoucher  = "gift_voucher"
)

// Transaction statuses not already covered by a record status.
const (
	StatusPendingPayment = "pending_payment"
)

// Transaction is the normalized view of one purchase.
type Transaction struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	UserID      string    `json:"user_id,omitempty"`
	Date        time.Time `json:"date"`
	Amount      float64   `json:"amount"`
	Status      string    `json:"status"`
	Description string    `json:"description"`
	Details     any       `json:"details"`
}

type BookingDetails struct {
	BookingNumber   string    `json:"booking_number"`
	TreatmentID     string    `json:"treatment_id"`
	TreatmentName   string    `json:"treatment_name,omitempty"`
	StartsAt        time.Time `json:"starts_at"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
	PaymentStatus   string    `json:"payment_status"`
	SubscriptionID  string    `json:"subscription_id,omitempty"`
	GiftVoucherID   string    `json:"gift_voucher_id,omitempty"`
	VoucherApplied  float64   `json:"voucher_amount_applied,omitempty"`
}

type SubscriptionDetails struct {
	PlanID            string    `json:"plan_id"`
	PlanName          string    `json:"plan_name"`
	TreatmentID       string    `json:"treatment_id"`
	TreatmentName     string    `json:"treatment_name,omitempty"`
	TotalQuantity     int       `json:"total_quantity"`
	RemainingQuantity int       `json:"remaining_quantity"`
	PricePerSession   float64   `json:"price_per_session"`
	ExpiresAt         time.Time `json:"expires_at"`
}

type GiftVoucherDetails struct {
	Code            string    `json:"code"`
	VoucherType     string    `json:"voucher_type"`
	TreatmentName   string    `json:"treatment_name,omitempty"`
	RemainingAmount float64   `json:"remaining_amount"`
	IsGift          bool      `json:"is_gift"`
	RecipientName   string    `json:"recipient_name,omitempty"`
	ValidUntil      time.Time `json:"valid_until"`
}

// BookingStatus is the status shown for a booking: the booking status,
// except that open bookings awaiting payment show as pending payment.
func BookingStatus(b *models.Booking) string {
	switch b.Status {
	case models.BookingCancelled, models.BookingCompleted, models.BookingNoShow:
		return b.Status
	}
	if b.PaymentStatus == models.PaymentPending && b.FinalAmount > 0 {
		return StatusPendingPayment
	}
	return b.Status
}

// SubscriptionStatus derives the live status of a subscription at now.
func SubscriptionStatus(s *models.UserSubscription, now time.Time) string {
	switch s.Status {
	case models.SubscriptionCancelled, models.SubscriptionPendingPayment:
		return s.Status
	}
	if s.RemainingQuantity <= 0 {
		return models.SubscriptionDepleted
	}
	if !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt) {
		return models.SubscriptionExpired
	}
	return models.SubscriptionActive
}

// VoucherStatus derives the live status of a gift voucher at now.
func VoucherStatus(v *models.GiftVoucher, now time.Time) string {
	switch {
	case v.Status == models.VoucherCancelled:
		return models.VoucherCancelled
	case v.Status == models.VoucherPendingPayment || v.PaymentStatus == models.PaymentPending:
		return models.VoucherPendingPayment
	case v.RemainingAmount <= 0:
		return models.VoucherFullyUsed
	case v.IsExpired(now):
		return models.VoucherExpired
	case v.RemainingAmount < v.Amount:
		return models.VoucherPartiallyUsed
	default:
		return models.VoucherActive
	}
}

func fromBooking(b *models.Booking, treatments map[string]string) Transaction {
	name := treatments[b.TreatmentID]
	desc := fmt.Sprintf("Booking %s", b.BookingNumber)
	if name != "" {
		desc = fmt.Sprintf("%s - %s", name, b.BookingNumber)
	}
	return Transaction{
		ID:          b.ID,
		Type:        TypeBooking,
		UserID:      b.UserID,
		Date:        b.CreatedAt,
		Amount:      b.FinalAmount,
		Status:      BookingStatus(b),
		Description: desc,
		Details: BookingDetails{
			BookingNumber:   b.BookingNumber,
			TreatmentID:     b.TreatmentID,
			TreatmentName:   name,
			StartsAt:        b.StartsAt,
			DurationMinutes: b.DurationMinutes,
			PaymentStatus:   b.PaymentStatus,
			SubscriptionID:  b.SubscriptionID,
			GiftVoucherID:   b.GiftVoucherID,
			VoucherApplied:  b.VoucherAmountApplied,
		},
	}
}

func fromSubscription(s *models.UserSubscription, treatments map[string]string, now time.Time) Transaction {
	name := treatments[s.TreatmentID]
	desc := fmt.Sprintf("%s subscription", s.PlanName)
	if name != "" {
		desc = fmt.Sprintf("%s subscription - %s", s.PlanName, name)
	}
	date := s.PurchasedAt
	if date.IsZero() {
		date = s.CreatedAt
	}
	return Transaction{
		ID:          s.ID,
		Type:        TypeSubscription,
		UserID:      s.UserID,
		Date:        date,
		Amount:      s.TotalPrice,
		Status:      SubscriptionStatus(s, now),
		Description: desc,
		Details: SubscriptionDetails{
			PlanID:            s.PlanID,
			PlanName:          s.PlanName,
			TreatmentID:       s.TreatmentID,
			TreatmentName:     name,
			TotalQuantity:     s.TotalQuantity,
			RemainingQuantity: s.RemainingQuantity,
			PricePerSession:   s.PricePerSession,
			ExpiresAt:         s.ExpiresAt,
		},
	}
}

func fromVoucher(v *models.GiftVoucher, treatments map[string]string, now time.Time) Transaction {
	name := treatments[v.TreatmentID]
	desc := fmt.Sprintf("Gift voucher %s", v.Code)
	if v.VoucherType == models.VoucherTreatment && name != "" {
		desc = fmt.Sprintf("Gift voucher %s - %s", v.Code, name)
	}
	date := v.PurchasedAt
	if date.IsZero() {
		date = v.CreatedAt
	}
	return Transaction{
		ID:          v.ID,
		Type:        TypeGiftVoucher,
		UserID:      v.PurchaserUserID,
		Date:        date,
		Amount:      v.Amount,
		Status:      VoucherStatus(v, now),
		Description: desc,
		Details: GiftVoucherDetails{
			Code:            v.Code,
			VoucherType:     v.VoucherType,
			TreatmentName:   name,
			RemainingAmount: v.RemainingAmount,
			IsGift:          v.IsGift,
			RecipientName:   v.RecipientName,
			ValidUntil:      v.ValidUntil,
		},
	}
}
