// Package httpapi exposes the dashboards and the booking, subscription and
// gift voucher workflows over HTTP.
package httpapi

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"spabook/internal/booking"
	"spabook/internal/dashboard"
	"spabook/internal/pagecache"
	"spabook/internal/purchases"
	"spabook/internal/subscriptions"
	"spabook/internal/vouchers"
)

// MonthlyReporter exports last month's purchases on demand.
type MonthlyReporter interface {
	ExportPreviousMonth(ctx context.Context) (string, error)
}

// Services are the workflows behind the routes. Reporter may be nil.
type Services struct {
	Bookings      *booking.Service
	Vouchers      *vouchers.Service
	Subscriptions *subscriptions.Service
	Purchases     *purchases.Service
	Reporter      MonthlyReporter
}

type Server struct {
	svc    Services
	keys   *KeyRing
	pages  pagecache.Cache
	logger zerolog.Logger
}

type Option func(*Server)

// WithPageCache serves the member purchase history from cache. The same
// cache is revalidated by the dashboard event handler and by every workflow
// route that changes a purchase.
func WithPageCache(cache pagecache.Cache) Option {
	return func(s *Server) { s.pages = cache }
}

func New(svc Services, keys *KeyRing, logger zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		svc:    svc,
		keys:   keys,
		logger: logger.With().Str("component", "http_api").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	member := func(h http.HandlerFunc) http.HandlerFunc { return s.keys.Require(RoleMember, h) }
	staff := func(h http.HandlerFunc) http.HandlerFunc { return s.keys.Require(RoleStaff, h) }
	admin := func(h http.HandlerFunc) http.HandlerFunc { return s.keys.Require(RoleAdmin, h) }

	changes := s.changesPurchases

	mux.HandleFunc("GET "+dashboard.MemberPurchaseHistory, member(s.ownUser(s.cached(s.handleMemberPurchases))))
	mux.HandleFunc("GET /dashboard/member/purchase-history/export", member(s.ownUser(s.handleMemberExport)))
	mux.HandleFunc("GET /dashboard/member/stats", member(s.ownUser(s.handleMemberStats)))
	mux.HandleFunc("GET /dashboard/admin/purchases", admin(s.handleAdminPurchases))
	mux.HandleFunc("GET /dashboard/admin/purchases/export", admin(s.handleAdminExport))
	mux.HandleFunc("GET /dashboard/admin/stats", admin(s.handleAdminStats))

	mux.HandleFunc("POST /api/subscriptions/purchase", member(changes(s.handleSubscriptionPurchase)))
	mux.HandleFunc("POST /api/subscriptions/{id}/confirm", staff(changes(s.handleSubscriptionConfirm)))
	mux.HandleFunc("POST /api/subscriptions/{id}/fail", staff(changes(s.handleSubscriptionFail)))

	mux.HandleFunc("POST /api/bookings", member(changes(s.handleBookingCreate)))
	mux.HandleFunc("POST /api/bookings/{id}/confirm", staff(changes(s.handleBookingConfirm)))
	mux.HandleFunc("POST /api/bookings/{id}/cancel", member(changes(s.handleBookingCancel)))
	mux.HandleFunc("POST /api/bookings/{id}/complete", staff(changes(s.handleBookingComplete)))
	mux.HandleFunc("POST /api/bookings/{id}/assign", staff(s.handleBookingAssign))
	mux.HandleFunc("POST /api/bookings/{id}/payment", staff(changes(s.handleBookingPayment)))

	mux.HandleFunc("POST /api/gift-vouchers/purchase", member(changes(s.handleVoucherPurchase)))
	mux.HandleFunc("POST /api/gift-vouchers/{id}/confirm", staff(changes(s.handleVoucherConfirm)))
	mux.HandleFunc("POST /api/gift-vouchers/{id}/redeem", staff(changes(s.handleVoucherRedeem)))
	mux.HandleFunc("POST /api/gift-vouchers", admin(changes(s.handleVoucherCreate)))
	mux.HandleFunc("PATCH /api/gift-vouchers/{id}", admin(changes(s.handleVoucherUpdate)))
	mux.HandleFunc("DELETE /api/gift-vouchers/{id}", admin(changes(s.handleVoucherDelete)))

	mux.HandleFunc("POST /api/reports/purchases/monthly", admin(s.handleMonthlyReport))

	return mux
}

// cached serves a route through the page cache. It sits behind
// authentication so a hit is never served to an unauthorized caller.
func (s *Server) cached(h http.HandlerFunc) http.HandlerFunc {
	if s.pages == nil {
		return h
	}
	return pagecache.Middleware(s.pages, s.logger)(h).ServeHTTP
}

// changesPurchases drops the cached purchase history once h has succeeded,
// before the response reaches the client.
func (s *Server) changesPurchases(h http.HandlerFunc) http.HandlerFunc {
	if s.pages == nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		h(&revalidatingWriter{ResponseWriter: w, revalidate: func() {
			if err := s.pages.Revalidate(r.Context(), dashboard.MemberPurchaseHistory); err != nil {
				s.logger.Warn().Err(err).Str("path", dashboard.MemberPurchaseHistory).Msg("failed to revalidate path")
			}
		}}, r)
	}
}

type revalidatingWriter struct {
	http.ResponseWriter
	revalidate  func()
	wroteHeader bool
}

func (w *revalidatingWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		if code < http.StatusMultipleChoices {
			w.revalidate()
		}
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *revalidatingWriter) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(p)
}
