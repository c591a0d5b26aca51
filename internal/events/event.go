// Package events provides the in-process event bus that decouples booking and
// gift voucher mutations from notification delivery and cache invalidation.
package events

import (
	"time"

	"github.com/google/uuid"

	"spabook/internal/models"
)

// Type identifies what domain occurrence an event announces.
type Type string

const (
	BookingCreated              Type = "booking.created"
	BookingConfirmed            Type = "booking.confirmed"
	BookingCancelled            Type = "booking.cancelled"
	BookingCompleted            Type = "booking.completed"
	BookingProfessionalAssigned Type = "booking.professional_assigned"
	BookingPaymentUpdated       Type = "booking.payment_updated"

	GiftVoucherCreated   Type = "gift_voucher.created"
	GiftVoucherUpdated   Type = "gift_voucher.updated"
	GiftVoucherDeleted   Type = "gift_voucher.deleted"
	GiftVoucherPurchased Type = "gift_voucher.purchased"
	GiftVoucherRedeemed  Type = "gift_voucher.redeemed"
)

// Kind is the entity family an event type belongs to.
type Kind string

const (
	KindBooking     Kind = "booking"
	KindGiftVoucher Kind = "gift_voucher"
)

var bookingTypes = []Type{
	BookingCreated,
	BookingConfirmed,
	BookingCancelled,
	BookingCompleted,
	BookingProfessionalAssigned,
	BookingPaymentUpdated,
}

var giftVoucherTypes = []Type{
	GiftVoucherCreated,
	GiftVoucherUpdated,
	GiftVoucherDeleted,
	GiftVoucherPurchased,
	GiftVoucherRedeemed,
}

// BookingTypes returns every booking event type.
func BookingTypes() []Type { return append([]Type(nil), bookingTypes...) }

// GiftVoucherTypes returns every gift voucher event type.
func GiftVoucherTypes() []Type { return append([]Type(nil), giftVoucherTypes...) }

// AllTypes returns the full enumeration, booking types first.
func AllTypes() []Type {
	all := make([]Type, 0, len(bookingTypes)+len(giftVoucherTypes))
	all = append(all, bookingTypes...)
	return append(all, giftVoucherTypes...)
}

// Kind returns the entity family of t, or "" for unknown types.
func (t Type) Kind() Kind {
	for _, bt := range bookingTypes {
		if bt == t {
			return KindBooking
		}
	}
	for _, vt := range giftVoucherTypes {
		if vt == t {
			return KindGiftVoucher
		}
	}
	return ""
}

func (t Type) Valid() bool { return t.Kind() != "" }

func (t Type) String() string { return string(t) }

// Payload is the closed set of event payloads. Only this package implements it.
type Payload interface {
	kind() Kind
}

// Contact is an alternative recipient designated on a booking or voucher.
type Contact struct {
	Name  string
	Email string
	Phone string
}

func (c *Contact) IsZero() bool {
	return c == nil || (c.Email == "" && c.Phone == "")
}

// BookingPayload carries the denormalized booking context handlers need.
type BookingPayload struct {
	Booking           *models.Booking
	RecipientOverride *Contact
	ProfessionalID    string
	PaymentStatus     string
	CancelReason      string
	CancelledBy       string
}

func (BookingPayload) kind() Kind { return KindBooking }

// GiftVoucherPayload carries the denormalized voucher context handlers need.
type GiftVoucherPayload struct {
	Voucher        *models.GiftVoucher
	GuestInfo      *models.GuestInfo
	RedeemedAmount float64
	BookingID      string
}

func (GiftVoucherPayload) kind() Kind { return KindGiftVoucher }

// Event is one published domain occurrence. Handlers receive it by value and
// must treat Metadata as read-only.
type Event struct {
	ID        string
	Type      Type
	EntityID  string
	UserID    string
	Payload   Payload
	Timestamp time.Time
	Metadata  map[string]string
}

// BookingPayload returns the booking payload if the event carries one.
func (e Event) BookingPayload() (BookingPayload, bool) {
	p, ok := e.Payload.(BookingPayload)
	return p, ok
}

// GiftVoucherPayload returns the voucher payload if the event carries one.
func (e Event) GiftVoucherPayload() (GiftVoucherPayload, bool) {
	p, ok := e.Payload.(GiftVoucherPayload)
	return p, ok
}

// Meta returns a metadata value.
func (e Event) Meta(key string) string {
	return e.Metadata[key]
}

// NewBookingEvent builds a booking event stamped with the current time.
func NewBookingEvent(t Type, bookingID, userID string, payload BookingPayload, metadata map[string]string) Event {
	return newEvent(t, bookingID, userID, payload, metadata)
}

// NewGiftVoucherEvent builds a gift voucher event stamped with the current time.
func NewGiftVoucherEvent(t Type, voucherID, userID string, payload GiftVoucherPayload, metadata map[string]string) Event {
	return newEvent(t, voucherID, userID, payload, metadata)
}

func newEvent(t Type, entityID, userID string, payload Payload, metadata map[string]string) Event {
	var meta map[string]string
	if len(metadata) > 0 {
		meta = make(map[string]string, len(metadata))
		for k, v := range metadata {
			meta[k] = v
		}
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		EntityID:  entityID,
		UserID:    userID,
		Payload:   payload,
		Timestamp: time.Now(),
		Metadata:  meta,
	}
}
