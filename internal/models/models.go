// Package models holds the persisted records of the booking platform.
package models

import (
	"strings"
	"time"
)

// Notification methods a user can enable.
const (
	MethodEmail    = "email"
	MethodSMS      = "sms"
	MethodTelegram = "telegram"
)

// User roles.
const (
	RoleMember       = "member"
	RoleProfessional = "professional"
	RoleAdmin        = "admin"
)

// Booking statuses.
const (
	BookingPendingPayment = "pending_payment"
	BookingInProcess      = "in_process"
	BookingConfirmed      = "confirmed"
	BookingCompleted      = "completed"
	BookingCancelled      = "cancelled"
	BookingNoShow         = "no_show"
)

// Payment statuses shared by bookings, subscriptions and vouchers.
const (
	PaymentPending   = "pending"
	PaymentPaid      = "paid"
	PaymentFailed    = "failed"
	PaymentRefunded  = "refunded"
	PaymentNotNeeded = "not_required"
)

// Subscription statuses.
const (
	SubscriptionPendingPayment = "pending_payment"
	SubscriptionActive         = "active"
	SubscriptionDepleted       = "depleted"
	SubscriptionExpired        = "expired"
	SubscriptionCancelled      = "cancelled"
)

// Gift voucher statuses.
const (
	VoucherPendingPayment = "pending_payment"
	VoucherActive         = "active"
	VoucherPartiallyUsed  = "partially_used"
	VoucherFullyUsed      = "fully_used"
	VoucherExpired        = "expired"
	VoucherCancelled      = "cancelled"
)

// Voucher kinds.
const (
	VoucherMonetary  = "monetary"
	VoucherTreatment = "treatment"
)

// Treatment pricing modes.
const (
	PricingFixed         = "fixed"
	PricingDurationBased = "duration_based"
)

type User struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Email               string    `json:"email,omitempty"`
	Phone               string    `json:"phone,omitempty"`
	TelegramChatID      int64     `json:"telegram_chat_id,omitempty"`
	Language            string    `json:"language,omitempty"`
	NotificationMethods []string  `json:"notification_methods"`
	Roles               []string  `json:"roles"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// HasMethod reports whether the user enabled the given notification method.
func (u *User) HasMethod(method string) bool {
	for _, m := range u.NotificationMethods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type TreatmentDuration struct {
	Minutes int     `json:"minutes"`
	Price   float64 `json:"price"`
}

type Treatment struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Category    string              `json:"category"`
	PricingType string              `json:"pricing_type"`
	Price       float64             `json:"price"`
	Durations   []TreatmentDuration `json:"durations,omitempty"`
	IsActive    bool                `json:"is_active"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// PriceFor returns the unit price for a session of the given length.
// Fixed treatments ignore minutes.
func (t *Treatment) PriceFor(minutes int) (float64, bool) {
	if t.PricingType != PricingDurationBased {
		return t.Price, true
	}
	for _, d := range t.Durations {
		if d.Minutes == minutes {
			return d.Price, true
		}
	}
	return 0, false
}

// GuestInfo identifies a buyer without an account.
type GuestInfo struct {
	Name  string `json:"name" validate:"required,max=120"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
	Phone string `json:"phone,omitempty" validate:"required_without=Email,max=32"`
}

func (g *GuestInfo) IsZero() bool {
	return g == nil || (g.Name == "" && g.Email == "" && g.Phone == "")
}

type Booking struct {
	ID                   string     `json:"id"`
	BookingNumber        string     `json:"booking_number"`
	UserID               string     `json:"user_id"`
	TreatmentID          string     `json:"treatment_id"`
	DurationMinutes      int        `json:"duration_minutes,omitempty"`
	ProfessionalID       string     `json:"professional_id,omitempty"`
	StartsAt             time.Time  `json:"starts_at"`
	Status               string     `json:"status"`
	PaymentStatus        string     `json:"payment_status"`
	Price                float64    `json:"price"`
	FinalAmount          float64    `json:"final_amount"`
	ForSomeoneElse       bool       `json:"for_someone_else"`
	RecipientName        string     `json:"recipient_name,omitempty"`
	RecipientEmail       string     `json:"recipient_email,omitempty"`
	RecipientPhone       string     `json:"recipient_phone,omitempty"`
	SubscriptionID       string     `json:"subscription_id,omitempty"`
	GiftVoucherID        string     `json:"gift_voucher_id,omitempty"`
	VoucherAmountApplied float64    `json:"voucher_amount_applied,omitempty"`
	Notes                string     `json:"notes,omitempty"`
	CancelReason         string     `json:"cancel_reason,omitempty"`
	ReminderSent         bool       `json:"reminder_sent"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// IsFinal reports whether no further status transitions are allowed.
func (b *Booking) IsFinal() bool {
	switch b.Status {
	case BookingCompleted, BookingCancelled, BookingNoShow:
		return true
	}
	return false
}

type SubscriptionPlan struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	Quantity        int       `json:"quantity"`
	BonusQuantity   int       `json:"bonus_quantity"`
	ValidityMonths  int       `json:"validity_months"`
	DiscountPercent float64   `json:"discount_percent"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
}

type UserSubscription struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id,omitempty"`
	PlanID            string     `json:"plan_id"`
	PlanName          string     `json:"plan_name"`
	TreatmentID       string     `json:"treatment_id"`
	DurationMinutes   int        `json:"duration_minutes,omitempty"`
	TotalQuantity     int        `json:"total_quantity"`
	RemainingQuantity int        `json:"remaining_quantity"`
	PricePerSession   float64    `json:"price_per_session"`
	TotalPrice        float64    `json:"total_price"`
	Status            string     `json:"status"`
	PaymentMethodID   string     `json:"payment_method_id,omitempty"`
	Guest             *GuestInfo `json:"guest,omitempty"`
	PurchasedAt       time.Time  `json:"purchased_at"`
	ExpiresAt         time.Time  `json:"expires_at"`
	FailureReason     string     `json:"failure_reason,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

type GiftVoucher struct {
	ID              string     `json:"id"`
	Code            string     `json:"code"`
	VoucherType     string     `json:"voucher_type"`
	TreatmentID     string     `json:"treatment_id,omitempty"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
	Amount          float64    `json:"amount"`
	RemainingAmount float64    `json:"remaining_amount"`
	PurchaserUserID string     `json:"purchaser_user_id,omitempty"`
	OwnerUserID     string     `json:"owner_user_id,omitempty"`
	IsGift          bool       `json:"is_gift"`
	RecipientName   string     `json:"recipient_name,omitempty"`
	RecipientEmail  string     `json:"recipient_email,omitempty"`
	RecipientPhone  string     `json:"recipient_phone,omitempty"`
	GreetingMessage string     `json:"greeting_message,omitempty"`
	Guest           *GuestInfo `json:"guest,omitempty"`
	Status          string     `json:"status"`
	PaymentStatus   string     `json:"payment_status"`
	ValidFrom       time.Time  `json:"valid_from"`
	ValidUntil      time.Time  `json:"valid_until"`
	PurchasedAt     time.Time  `json:"purchased_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsExpired reports whether the voucher validity window has passed at now.
func (v *GiftVoucher) IsExpired(now time.Time) bool {
	return !v.ValidUntil.IsZero() && now.After(v.ValidUntil)
}
