// Package notify turns booking and gift voucher events into templated
// messages for customers, gift recipients and professionals.
package notify

import (
	"context"

	"spabook/internal/models"
)

// Message templates known to the delivery catalog.
const (
	TemplateBookingCreated          = "booking_created"
	TemplateBookingCreatedRecipient = "booking_created_recipient"
	TemplateBookingConfirmed        = "booking_confirmed"
	TemplateBookingReminder         = "booking_reminder"
	TemplateReviewRequest           = "review_request"
	TemplateProfessionalAssigned    = "professional_assigned"
	TemplateBookingAssigned         = "booking_assigned"
	TemplatePaymentReceived         = "payment_received"
	TemplateGiftVoucherPurchased    = "gift_voucher_purchased"
	TemplateGiftVoucherReceived     = "gift_voucher_received"
)

// Store is the read-only persistence the handler needs.
type Store interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetTreatment(ctx context.Context, id string) (*models.Treatment, error)
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	GetGiftVoucher(ctx context.Context, id string) (*models.GiftVoucher, error)
}

// Recipient is one delivery target. Type is one of the models.Method* values.
type Recipient struct {
	Type     string
	Value    string
	Name     string
	Language string
}

// Message names a template and the values substituted into it.
type Message struct {
	Template string
	Data     map[string]string
}

// Sender delivers a message to every recipient. Transport, rendering and
// retries are the sender's concern.
type Sender interface {
	Send(ctx context.Context, recipients []Recipient, msg Message) error
}
