package purchases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"spabook/internal/models"
)

// ErrUserRequired is returned when a member view is requested without a user.
var ErrUserRequired = errors.New("user id is required")

// Store lists purchase records. An empty userID lists every user's records.
type Store interface {
	ListBookings(ctx context.Context, userID string) ([]models.Booking, error)
	ListUserSubscriptions(ctx context.Context, userID string) ([]models.UserSubscription, error)
	ListGiftVouchers(ctx context.Context, userID string) ([]models.GiftVoucher, error)
	TreatmentNames(ctx context.Context) (map[string]string, error)
}

// Page is one page of transactions.
type Page struct {
	Transactions []Transaction `json:"transactions"`
	Total        int           `json:"total"`
	Page         int           `json:"page"`
	Limit        int           `json:"limit"`
	TotalPages   int           `json:"total_pages"`
}

// Result is the envelope returned to the dashboards.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    *Page  `json:"data,omitempty"`
}

// Service aggregates purchases in memory. It is a reporting path: every call
// reads the full matching set from the store.
type Service struct {
	store  Store
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(store Store, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger.With().Str("component", "purchases").Logger(),
		now:    time.Now,
	}
}

// MemberSummary lists the purchases of one user.
func (s *Service) MemberSummary(ctx context.Context, userID string, f Filter) Result {
	if userID == "" {
		return Result{Error: ErrUserRequired.Error()}
	}
	return s.summary(ctx, userID, f)
}

// AdminSummary lists the purchases of every user.
func (s *Service) AdminSummary(ctx context.Context, f Filter) Result {
	return s.summary(ctx, "", f)
}

func (s *Service) summary(ctx context.Context, userID string, f Filter) Result {
	f = f.Normalize()
	all, err := s.collect(ctx, userID, f)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to load purchases")
		return Result{Error: "failed to load purchase history"}
	}

	matched := f.apply(all)
	totalPages := (len(matched) + f.Limit - 1) / f.Limit
	return Result{
		Success: true,
		Data: &Page{
			Transactions: f.paginate(matched),
			Total:        len(matched),
			Page:         f.Page,
			Limit:        f.Limit,
			TotalPages:   totalPages,
		},
	}
}

// Transactions returns every transaction matching f, unpaginated.
func (s *Service) Transactions(ctx context.Context, userID string, f Filter) ([]Transaction, error) {
	all, err := s.collect(ctx, userID, f)
	if err != nil {
		return nil, err
	}
	return f.apply(all), nil
}

// collect fetches only the kinds f asks for and maps them.
func (s *Service) collect(ctx context.Context, userID string, f Filter) ([]Transaction, error) {
	treatments, err := s.store.TreatmentNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("treatment names: %w", err)
	}
	now := s.now()

	var all []Transaction
	if f.wants(TypeBooking) {
		bookings, err := s.store.ListBookings(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("list bookings: %w", err)
		}
		for i := range bookings {
			all = append(all, fromBooking(&bookings[i], treatments))
		}
	}
	if f.wants(TypeSubscription) {
		subs, err := s.store.ListUserSubscriptions(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("list subscriptions: %w", err)
		}
		for i := range subs {
			all = append(all, fromSubscription(&subs[i], treatments, now))
		}
	}
	if f.wants(TypeGiftVoucher) {
		vouchers, err := s.store.ListGiftVouchers(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("list gift vouchers: %w", err)
		}
		for i := range vouchers {
			all = append(all, fromVoucher(&vouchers[i], treatments, now))
		}
	}
	return all, nil
}
