package purchases

import (
	"context"
	"math"
	"time"

	"spabook/internal/models"
)

const statsMonths = 12

type MonthlyStat struct {
	Month  string  `json:"month"`
	Count  int     `json:"count"`
	Amount float64 `json:"amount"`
}

// Stats summarises a user's (or, with an empty user id, everyone's) spend.
type Stats struct {
	TotalBookings       int           `json:"total_bookings"`
	TotalSubscriptions  int           `json:"total_subscriptions"`
	TotalGiftVouchers   int           `json:"total_gift_vouchers"`
	TotalSpent          float64       `json:"total_spent"`
	BookingsSpent       float64       `json:"bookings_spent"`
	SubscriptionsSpent  float64       `json:"subscriptions_spent"`
	GiftVouchersSpent   float64       `json:"gift_vouchers_spent"`
	ActiveSubscriptions int           `json:"active_subscriptions"`
	ActiveGiftVouchers  int           `json:"active_gift_vouchers"`
	VoucherBalance      float64       `json:"voucher_balance"`
	Monthly             []MonthlyStat `json:"monthly"`
}

// Stats computes totals per type and a monthly breakdown of the last twelve
// months including the current one. Cancelled and unpaid purchases do not
// count as spent.
func (s *Service) Stats(ctx context.Context, userID string) (*Stats, error) {
	all, err := s.collect(ctx, userID, Filter{})
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to compute purchase stats")
		return nil, err
	}

	now := s.now()
	months := make([]MonthlyStat, statsMonths)
	index := make(map[string]int, statsMonths)
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	for i := 0; i < statsMonths; i++ {
		m := first.AddDate(0, i-statsMonths+1, 0).Format("2006-01")
		months[i] = MonthlyStat{Month: m}
		index[m] = i
	}

	st := &Stats{}
	for i := range all {
		t := &all[i]
		switch t.Type {
		case TypeBooking:
			st.TotalBookings++
		case TypeSubscription:
			st.TotalSubscriptions++
			if t.Status == models.SubscriptionActive {
				st.ActiveSubscriptions++
			}
		case TypeGiftVoucher:
			st.TotalGiftVouchers++
			if t.Status == models.VoucherActive || t.Status == models.VoucherPartiallyUsed {
				st.ActiveGiftVouchers++
				if d, ok := t.Details.(GiftVoucherDetails); ok {
					st.VoucherBalance += d.RemainingAmount
				}
			}
		}

		if !countsAsSpent(t.Status) {
			continue
		}
		st.TotalSpent += t.Amount
		switch t.Type {
		case TypeBooking:
			st.BookingsSpent += t.Amount
		case TypeSubscription:
			st.SubscriptionsSpent += t.Amount
		case TypeGiftVoucher:
			st.GiftVouchersSpent += t.Amount
		}
		if i, ok := index[t.Date.In(now.Location()).Format("2006-01")]; ok {
			months[i].Count++
			months[i].Amount = round2(months[i].Amount + t.Amount)
		}
	}

	st.TotalSpent = round2(st.TotalSpent)
	st.BookingsSpent = round2(st.BookingsSpent)
	st.SubscriptionsSpent = round2(st.SubscriptionsSpent)
	st.GiftVouchersSpent = round2(st.GiftVouchersSpent)
	st.VoucherBalance = round2(st.VoucherBalance)
	st.Monthly = months
	return st, nil
}

func countsAsSpent(status string) bool {
	return status != models.BookingCancelled && status != StatusPendingPayment
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
