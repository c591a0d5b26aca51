package purchases

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"spabook/internal/models"
)

var fixedNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

type memStore struct {
	bookings      []models.Booking
	subscriptions []models.UserSubscription
	vouchers      []models.GiftVoucher
	err           error
	calls         map[string]int
}

func (m *memStore) hit(name string) {
	if m.calls == nil {
		m.calls = map[string]int{}
	}
	m.calls[name]++
}

func (m *memStore) ListBookings(_ context.Context, userID string) ([]models.Booking, error) {
	m.hit("bookings")
	if m.err != nil {
		return nil, m.err
	}
	var out []models.Booking
	for _, b := range m.bookings {
		if userID == "" || b.UserID == userID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memStore) ListUserSubscriptions(_ context.Context, userID string) ([]models.UserSubscription, error) {
	m.hit("subscriptions")
	var out []models.UserSubscription
	for _, s := range m.subscriptions {
		if userID == "" || s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) ListGiftVouchers(_ context.Context, userID string) ([]models.GiftVoucher, error) {
	m.hit("vouchers")
	var out []models.GiftVoucher
	for _, v := range m.vouchers {
		if userID == "" || v.PurchaserUserID == userID || v.OwnerUserID == userID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *memStore) TreatmentNames(context.Context) (map[string]string, error) {
	return map[string]string{"t-1": "Deep Tissue Massage", "t-2": "Facial"}, nil
}

func day(d int) time.Time {
	return time.Date(2026, 6, d, 9, 0, 0, 0, time.UTC)
}

func fixtureStore() *memStore {
	return &memStore{
		bookings: []models.Booking{
			{ID: "b-1", BookingNumber: "BK-1", UserID: "u-1", TreatmentID: "t-1", Status: models.BookingConfirmed, PaymentStatus: models.PaymentPaid, FinalAmount: 320, CreatedAt: day(1)},
			{ID: "b-2", BookingNumber: "BK-2", UserID: "u-1", TreatmentID: "t-2", Status: models.BookingConfirmed, PaymentStatus: models.PaymentPending, FinalAmount: 180, CreatedAt: day(5)},
			{ID: "b-3", BookingNumber: "BK-3", UserID: "u-2", TreatmentID: "t-1", Status: models.BookingCancelled, PaymentStatus: models.PaymentRefunded, FinalAmount: 320, CreatedAt: day(3)},
		},
		subscriptions: []models.UserSubscription{
			{ID: "s-1", UserID: "u-1", PlanName: "Five pack", TreatmentID: "t-1", TotalPrice: 1440, RemainingQuantity: 4, Status: models.SubscriptionActive, PurchasedAt: day(2), ExpiresAt: day(2).AddDate(0, 6, 0)},
		},
		vouchers: []models.GiftVoucher{
			{ID: "v-1", Code: "GV-AAA", VoucherType: models.VoucherMonetary, Amount: 500, RemainingAmount: 200, PurchaserUserID: "u-1", Status: models.VoucherActive, PaymentStatus: models.PaymentPaid, PurchasedAt: day(5), ValidUntil: day(5).AddDate(1, 0, 0)},
		},
	}
}

func newTestService(store Store) *Service {
	s := NewService(store, zerolog.Nop())
	s.now = func() time.Time { return fixedNow }
	return s
}

func ids(list []Transaction) []string {
	out := make([]string, len(list))
	for i, t := range list {
		out[i] = t.ID
	}
	return out
}

func TestMemberSummary(t *testing.T) {
	s := newTestService(fixtureStore())

	res := s.MemberSummary(context.Background(), "u-1", Filter{})
	require.True(t, res.Success)
	require.NotNil(t, res.Data)

	// newest first, ties broken by id
	assert.Equal(t, []string{"b-2", "v-1", "s-1", "b-1"}, ids(res.Data.Transactions))
	assert.Equal(t, 4, res.Data.Total)
	assert.Equal(t, 1, res.Data.Page)
	assert.Equal(t, DefaultLimit, res.Data.Limit)
	assert.Equal(t, 1, res.Data.TotalPages)

	b2 := res.Data.Transactions[0]
	assert.Equal(t, StatusPendingPayment, b2.Status)
	assert.Equal(t, "Facial - BK-2", b2.Description)
	assert.Equal(t, models.VoucherPartiallyUsed, res.Data.Transactions[1].Status)
}

func TestMemberSummary_RequiresUser(t *testing.T) {
	res := newTestService(fixtureStore()).MemberSummary(context.Background(), "", Filter{})
	assert.False(t, res.Success)
	assert.Equal(t, ErrUserRequired.Error(), res.Error)
}

func TestSummary_StoreFailure(t *testing.T) {
	store := fixtureStore()
	store.err = errors.New("db locked")

	res := newTestService(store).AdminSummary(context.Background(), Filter{})
	assert.False(t, res.Success)
	assert.Nil(t, res.Data)
	assert.NotEmpty(t, res.Error)
}

func TestSummary_OnlyFetchesRequestedKinds(t *testing.T) {
	store := fixtureStore()
	res := newTestService(store).AdminSummary(context.Background(), Filter{Types: []string{TypeGiftVoucher}})

	require.True(t, res.Success)
	assert.Equal(t, []string{"v-1"}, ids(res.Data.Transactions))
	assert.Zero(t, store.calls["bookings"])
	assert.Zero(t, store.calls["subscriptions"])
	assert.Equal(t, 1, store.calls["vouchers"])
}

func TestSummary_Filters(t *testing.T) {
	from, to := day(2), day(4)
	minAmount, maxAmount := 200.0, 400.0

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"status", Filter{Statuses: []string{models.BookingCancelled}}, []string{"b-3"}},
		{"date range", Filter{DateFrom: &from, DateTo: &to}, []string{"b-3", "s-1"}},
		{"amount range", Filter{AmountMin: &minAmount, AmountMax: &maxAmount}, []string{"b-3", "b-1"}},
		{"search description", Filter{Search: "massage"}, []string{"b-3", "s-1", "b-1"}},
		{"search id", Filter{Search: "V-1"}, []string{"v-1"}},
		{"type and status", Filter{Types: []string{TypeBooking}, Statuses: []string{models.BookingConfirmed}}, []string{"b-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newTestService(fixtureStore()).AdminSummary(context.Background(), tt.filter)
			require.True(t, res.Success)
			assert.Equal(t, tt.want, ids(res.Data.Transactions))
		})
	}
}

func TestSummary_Pagination(t *testing.T) {
	s := newTestService(fixtureStore())

	res := s.AdminSummary(context.Background(), Filter{Page: 2, Limit: 2})
	require.True(t, res.Success)
	assert.Equal(t, 5, res.Data.Total)
	assert.Equal(t, 3, res.Data.TotalPages)
	assert.Equal(t, []string{"b-3", "s-1"}, ids(res.Data.Transactions))

	res = s.AdminSummary(context.Background(), Filter{Page: 9, Limit: 2})
	require.True(t, res.Success)
	assert.Empty(t, res.Data.Transactions)
	assert.NotNil(t, res.Data.Transactions)
}

func TestFilterNormalize(t *testing.T) {
	assert.Equal(t, Filter{Page: 1, Limit: DefaultLimit}, Filter{}.Normalize())
	assert.Equal(t, Filter{Page: 1, Limit: MaxLimit}, Filter{Page: -3, Limit: 1000}.Normalize())
	assert.Equal(t, Filter{Page: 4, Limit: 25}, Filter{Page: 4, Limit: 25}.Normalize())
}

func TestSubscriptionStatus(t *testing.T) {
	base := models.UserSubscription{Status: models.SubscriptionActive, RemainingQuantity: 2, ExpiresAt: fixedNow.Add(time.Hour)}

	cases := map[string]func(s *models.UserSubscription){
		models.SubscriptionActive:         func(*models.UserSubscription) {},
		models.SubscriptionDepleted:       func(s *models.UserSubscription) { s.RemainingQuantity = 0 },
		models.SubscriptionExpired:        func(s *models.UserSubscription) { s.ExpiresAt = fixedNow.Add(-time.Hour) },
		models.SubscriptionCancelled:      func(s *models.UserSubscription) { s.Status = models.SubscriptionCancelled },
		models.SubscriptionPendingPayment: func(s *models.UserSubscription) { s.Status = models.SubscriptionPendingPayment },
	}
	for want, mutate := range cases {
		s := base
		mutate(&s)
		assert.Equal(t, want, SubscriptionStatus(&s, fixedNow), want)
	}
}

func TestVoucherStatus(t *testing.T) {
	base := models.GiftVoucher{Status: models.VoucherActive, PaymentStatus: models.PaymentPaid, Amount: 300, RemainingAmount: 300, ValidUntil: fixedNow.Add(time.Hour)}

	cases := map[string]func(v *models.GiftVoucher){
		models.VoucherActive:         func(*models.GiftVoucher) {},
		models.VoucherPartiallyUsed:  func(v *models.GiftVoucher) { v.RemainingAmount = 100 },
		models.VoucherFullyUsed:      func(v *models.GiftVoucher) { v.RemainingAmount = 0 },
		models.VoucherExpired:        func(v *models.GiftVoucher) { v.ValidUntil = fixedNow.Add(-time.Hour) },
		models.VoucherCancelled:      func(v *models.GiftVoucher) { v.Status = models.VoucherCancelled },
		models.VoucherPendingPayment: func(v *models.GiftVoucher) { v.PaymentStatus = models.PaymentPending },
	}
	for want, mutate := range cases {
		v := base
		mutate(&v)
		assert.Equal(t, want, VoucherStatus(&v, fixedNow), want)
	}
}

func TestStats(t *testing.T) {
	st, err := newTestService(fixtureStore()).Stats(context.Background(), "u-1")
	require.NoError(t, err)

	assert.Equal(t, 2, st.TotalBookings)
	assert.Equal(t, 1, st.TotalSubscriptions)
	assert.Equal(t, 1, st.TotalGiftVouchers)
	// b-2 is awaiting payment and does not count
	assert.Equal(t, 320.0, st.BookingsSpent)
	assert.Equal(t, 2260.0, st.TotalSpent)
	assert.Equal(t, 1, st.ActiveSubscriptions)
	assert.Equal(t, 1, st.ActiveGiftVouchers)
	assert.Equal(t, 200.0, st.VoucherBalance)

	require.Len(t, st.Monthly, 12)
	assert.Equal(t, "2025-07", st.Monthly[0].Month)
	assert.Equal(t, "2026-06", st.Monthly[11].Month)
	assert.Equal(t, 3, st.Monthly[11].Count)
	assert.Equal(t, 2260.0, st.Monthly[11].Amount)
}

func TestExportXLSX(t *testing.T) {
	var buf bytes.Buffer
	err := newTestService(fixtureStore()).ExportXLSX(context.Background(), "", Filter{Types: []string{TypeBooking}}, &buf)
	require.NoError(t, err)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, exportColumns, rows[0])
	assert.Equal(t, "b-2", rows[1][0])
	assert.Equal(t, "Facial - BK-2", rows[1][4])
}
