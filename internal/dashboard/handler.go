// Package dashboard invalidates cached dashboard pages whose data an event
// can change.
package dashboard

import (
	"context"

	"github.com/rs/zerolog"

	"spabook/internal/events"
	"spabook/internal/metrics"
)

// Dashboard routes.
const (
	MemberBookings        = "/dashboard/member/bookings"
	MemberBookTreatment   = "/dashboard/member/book-treatment"
	MemberSubscriptions   = "/dashboard/member/subscriptions"
	MemberGiftVouchers    = "/dashboard/member/gift-vouchers"
	MemberReviews         = "/dashboard/member/reviews"
	MemberPurchaseHistory = "/dashboard/member/purchase-history"
	AdminBookings         = "/dashboard/admin/bookings"
	AdminPayments         = "/dashboard/admin/payments"
	AdminGiftVouchers     = "/dashboard/admin/gift-vouchers"
	ProfessionalBookings  = "/dashboard/professional/bookings"
)

// Invalidator drops every cached rendering of a path.
type Invalidator interface {
	Revalidate(ctx context.Context, path string) error
}

var paths = map[events.Type][]string{
	// A new booking can consume subscription credit or voucher balance.
	events.BookingCreated: {
		MemberBookings,
		AdminBookings,
		MemberSubscriptions,
		MemberGiftVouchers,
		MemberPurchaseHistory,
	},
	events.BookingConfirmed: {
		MemberBookings,
		AdminBookings,
		ProfessionalBookings,
	},
	// Cancelling frees the slot and returns credit or balance.
	events.BookingCancelled: {
		MemberBookTreatment,
		AdminBookings,
		MemberSubscriptions,
		MemberGiftVouchers,
	},
	events.BookingCompleted: {
		MemberBookings,
		AdminBookings,
		ProfessionalBookings,
		MemberReviews,
	},
	events.BookingProfessionalAssigned: {
		AdminBookings,
		ProfessionalBookings,
		MemberBookings,
	},
	events.BookingPaymentUpdated: {
		AdminBookings,
		MemberBookings,
		AdminPayments,
		MemberPurchaseHistory,
	},
	events.GiftVoucherCreated: {
		AdminGiftVouchers,
		MemberGiftVouchers,
	},
	events.GiftVoucherUpdated: {
		AdminGiftVouchers,
		MemberGiftVouchers,
	},
	events.GiftVoucherDeleted: {
		AdminGiftVouchers,
		MemberGiftVouchers,
	},
	events.GiftVoucherPurchased: {
		AdminGiftVouchers,
		MemberGiftVouchers,
		MemberPurchaseHistory,
	},
	events.GiftVoucherRedeemed: {
		AdminGiftVouchers,
		MemberGiftVouchers,
		MemberBookTreatment,
	},
}

// PathsFor returns the routes invalidated for t, or nil for unknown types.
func PathsFor(t events.Type) []string {
	return append([]string(nil), paths[t]...)
}

// Handler revalidates the dashboard routes of each event.
type Handler struct {
	cache  Invalidator
	logger zerolog.Logger
}

func NewHandler(cache Invalidator, logger zerolog.Logger) *Handler {
	return &Handler{
		cache:  cache,
		logger: logger.With().Str("component", "dashboard_handler").Logger(),
	}
}

func (h *Handler) Name() string { return "dashboard" }

// Handle implements events.Handler. Every path is revalidated independently;
// failures are logged and never returned.
func (h *Handler) Handle(ctx context.Context, e events.Event) error {
	list, ok := paths[e.Type]
	if !ok {
		h.logger.Warn().Str("event_type", e.Type.String()).Msg("no dashboard paths for event")
		return nil
	}

	for _, p := range list {
		if err := h.cache.Revalidate(ctx, p); err != nil {
			metrics.IncCacheInvalidation("error")
			h.logger.Error().
				Err(err).
				Str("event_type", e.Type.String()).
				Str("entity_id", e.EntityID).
				Str("path", p).
				Msg("failed to revalidate path")
			continue
		}
		metrics.IncCacheInvalidation("ok")
	}

	h.logger.Debug().
		Str("event_type", e.Type.String()).
		Int("paths", len(list)).
		Msg("dashboard paths revalidated")
	return nil
}
