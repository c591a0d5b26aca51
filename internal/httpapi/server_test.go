package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spabook/internal/booking"
	"spabook/internal/dashboard"
	"spabook/internal/eventsystem"
	"spabook/internal/models"
	"spabook/internal/pagecache"
	"spabook/internal/purchases"
	"spabook/internal/storage/sqlite"
	"spabook/internal/subscriptions"
	"spabook/internal/vouchers"
)

const (
	adminKey     = "k-admin"
	staffKey     = "k-staff"
	memberKey    = "k-member"
	ownMemberKey = "k-member-u1"
	otherKey     = "k-member-u2"
)

type fakeReporter struct {
	name string
	err  error
}

func (f *fakeReporter) ExportPreviousMonth(context.Context) (string, error) {
	return f.name, f.err
}

func newTestServer(t *testing.T, reporter MonthlyReporter) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	log := zerolog.Nop()

	db, err := sqlite.NewDB(filepath.Join(t.TempDir(), "spabook.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.UpsertUser(ctx, &models.User{ID: "u-1", Name: "Ann", Email: "ann@example.com"}))
	require.NoError(t, db.UpsertTreatment(ctx, &models.Treatment{
		ID: "t-1", Name: "Massage", PricingType: models.PricingDurationBased, IsActive: true,
		Durations: []models.TreatmentDuration{{Minutes: 60, Price: 120}},
	}))
	require.NoError(t, db.UpsertSubscriptionPlan(ctx, &models.SubscriptionPlan{
		ID: "p-5", Name: "Five pack", Quantity: 5, BonusQuantity: 1, ValidityMonths: 6, DiscountPercent: 10, IsActive: true,
	}))

	cache := pagecache.NewMemoryCache(time.Minute)
	system := eventsystem.New(nil, dashboard.NewHandler(cache, log), log)
	system.Initialize()
	voucherSvc := vouchers.NewService(db, system, 0, log)

	svc := Services{
		Bookings:      booking.NewService(db, voucherSvc, system, log),
		Vouchers:      voucherSvc,
		Subscriptions: subscriptions.NewService(db, log),
		Purchases:     purchases.NewService(db, log),
		Reporter:      reporter,
	}
	keys := NewKeyRing(map[string]Grant{
		adminKey:     {Role: "admin"},
		staffKey:     {Role: "staff"},
		memberKey:    {Role: "member"},
		ownMemberKey: {Role: "member", UserID: "u-1"},
		otherKey:     {Role: "member", UserID: "u-2"},
	}, log)
	srv := New(svc, keys, log, WithPageCache(cache))

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func call(t *testing.T, ts *httptest.Server, method, path, key string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("x-api-key", key)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		key    string
		status int
	}{
		{"missing key", http.MethodGet, "/dashboard/admin/purchases", "", http.StatusUnauthorized},
		{"unknown key", http.MethodGet, "/dashboard/admin/purchases", "nope", http.StatusUnauthorized},
		{"member on admin route", http.MethodGet, "/dashboard/admin/purchases", memberKey, http.StatusForbidden},
		{"staff on admin route", http.MethodPost, "/api/gift-vouchers", staffKey, http.StatusForbidden},
		{"member on staff route", http.MethodPost, "/api/bookings/b-1/confirm", memberKey, http.StatusForbidden},
		{"admin", http.MethodGet, "/dashboard/admin/purchases", adminKey, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := call(t, ts, tt.method, tt.path, tt.key, nil)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestBoundMemberKeys(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := call(t, ts, http.MethodPost, "/api/bookings", ownMemberKey, map[string]any{
		"treatment_id": "t-1", "duration_minutes": 60,
		"starts_at": time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "u-1", body["user_id"])
	bookingID := body["id"].(string)

	resp, _ = call(t, ts, http.MethodPost, "/api/bookings", otherKey, map[string]any{
		"user_id": "u-1", "treatment_id": "t-1", "duration_minutes": 60,
		"starts_at": time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	for _, path := range []string{
		"/dashboard/member/purchase-history?user_id=u-1",
		"/dashboard/member/stats?user_id=u-1",
		"/dashboard/member/purchase-history/export?user_id=u-1",
	} {
		resp, _ = call(t, ts, http.MethodGet, path, otherKey, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, path)
	}

	// the own user is filled in and a cached page never leaks to another key
	resp, body = call(t, ts, http.MethodGet, "/dashboard/member/purchase-history", ownMemberKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["data"].(map[string]any)["total"])

	resp, body = call(t, ts, http.MethodGet, "/dashboard/member/purchase-history", otherKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	assert.EqualValues(t, 0, body["data"].(map[string]any)["total"])

	resp, _ = call(t, ts, http.MethodPost, "/api/bookings/"+bookingID+"/cancel", otherKey, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = call(t, ts, http.MethodPost, "/api/bookings/missing/cancel", otherKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = call(t, ts, http.MethodPost, "/api/bookings/"+bookingID+"/cancel", ownMemberKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.BookingCancelled, body["status"])
}

func TestKeyRing_EmptyAllowsAll(t *testing.T) {
	k := NewKeyRing(nil, zerolog.Nop())
	assert.Equal(t, RoleAdmin, k.Role(""))

	k = NewKeyRing(map[string]Grant{"x": {Role: "root"}}, zerolog.Nop())
	assert.Equal(t, RoleAdmin, k.Role("anything"), "a ring without valid keys is open")

	k = NewKeyRing(map[string]Grant{"x": {Role: "staff"}}, zerolog.Nop())
	assert.Equal(t, RoleStaff, k.Role("x"))
	assert.Equal(t, RoleNone, k.Role("y"))
}

func TestSubscriptionAndBookingFlow(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := call(t, ts, http.MethodPost, "/api/subscriptions/purchase", memberKey, map[string]any{
		"user_id": "u-1", "plan_id": "p-5", "treatment_id": "t-1",
		"duration_minutes": 60, "payment_method_id": "pm-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.InDelta(t, 540.0, body["total_price"], 0.001)
	subID := body["subscription_id"].(string)

	resp, _ = call(t, ts, http.MethodPost, "/api/subscriptions/"+subID+"/confirm", staffKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = call(t, ts, http.MethodPost, "/api/subscriptions/"+subID+"/confirm", staffKey, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, body = call(t, ts, http.MethodPost, "/api/bookings", memberKey, map[string]any{
		"user_id": "u-1", "treatment_id": "t-1", "duration_minutes": 60,
		"starts_at":       time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339),
		"subscription_id": subID,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, models.BookingConfirmed, body["status"])
	bookingID := body["id"].(string)

	resp, body = call(t, ts, http.MethodPost, "/api/bookings/"+bookingID+"/cancel", memberKey, map[string]any{"reason": "sick"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.BookingCancelled, body["status"])

	resp, body = call(t, ts, http.MethodGet, "/dashboard/member/purchase-history?user_id=u-1&type=booking,subscription", memberKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]any)
	assert.EqualValues(t, 2, data["total"])
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))

	resp, _ = call(t, ts, http.MethodGet, "/dashboard/member/purchase-history?user_id=u-1&type=booking,subscription", memberKey, nil)
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))

	resp, body = call(t, ts, http.MethodGet, "/dashboard/member/stats?user_id=u-1", memberKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["total_subscriptions"])
}

func TestPurchaseHistoryRevalidation(t *testing.T) {
	ts := newTestServer(t, nil)
	const history = "/dashboard/member/purchase-history?user_id=u-1"

	cacheState := func() string {
		resp, _ := call(t, ts, http.MethodGet, history, memberKey, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		return resp.Header.Get("X-Cache")
	}
	assert.Equal(t, "MISS", cacheState())
	assert.Equal(t, "HIT", cacheState())

	resp, body := call(t, ts, http.MethodPost, "/api/subscriptions/purchase", memberKey, map[string]any{
		"user_id": "u-1", "plan_id": "p-5", "treatment_id": "t-1",
		"duration_minutes": 60, "payment_method_id": "pm-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	subID := body["subscription_id"].(string)
	assert.Equal(t, "MISS", cacheState())
	assert.Equal(t, "HIT", cacheState())

	resp, _ = call(t, ts, http.MethodPost, "/api/subscriptions/"+subID+"/confirm", staffKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "MISS", cacheState())

	resp, body = call(t, ts, http.MethodPost, "/api/bookings", memberKey, map[string]any{
		"user_id": "u-1", "treatment_id": "t-1", "duration_minutes": 60,
		"starts_at": time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	bookingID := body["id"].(string)
	assert.Equal(t, "MISS", cacheState())
	assert.Equal(t, "HIT", cacheState())

	// a rejected change leaves the cached page alone
	resp, _ = call(t, ts, http.MethodPost, "/api/bookings/"+bookingID+"/payment", staffKey, map[string]any{"status": "bogus"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "HIT", cacheState())

	resp, _ = call(t, ts, http.MethodPost, "/api/bookings/"+bookingID+"/cancel", memberKey, map[string]any{"reason": "sick"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "MISS", cacheState())
}

func TestBookingErrors(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := call(t, ts, http.MethodPost, "/api/bookings/missing/confirm", staffKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["code"])

	resp, body = call(t, ts, http.MethodPost, "/api/bookings", memberKey, map[string]any{"user_id": "u-1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_input", body["code"])

	resp, _ = call(t, ts, http.MethodPost, "/api/bookings", memberKey, map[string]any{"unknown_field": 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGiftVoucherFlow(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := call(t, ts, http.MethodPost, "/api/gift-vouchers/purchase", memberKey, map[string]any{
		"purchaser_user_id": "u-1", "voucher_type": "monetary", "amount": 100,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	voucherID := body["voucher_id"].(string)

	// unpaid vouchers cannot be redeemed
	resp, _ = call(t, ts, http.MethodPost, "/api/gift-vouchers/"+voucherID+"/redeem", staffKey, map[string]any{"booking_id": "b-1", "amount": 30})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = call(t, ts, http.MethodPost, "/api/gift-vouchers/"+voucherID+"/confirm", staffKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = call(t, ts, http.MethodPost, "/api/gift-vouchers/"+voucherID+"/redeem", staffKey, map[string]any{"booking_id": "b-1", "amount": 30})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 30.0, body["applied_amount"], 0.001)

	resp, body = call(t, ts, http.MethodPost, "/api/gift-vouchers/purchase", memberKey, map[string]any{"voucher_type": "monetary"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, body["fields"])

	resp, body = call(t, ts, http.MethodPost, "/api/gift-vouchers", adminKey, map[string]any{"voucher_type": "monetary", "amount": 50, "code": "welcome50"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "WELCOME50", body["code"])
	created := body["id"].(string)

	resp, body = call(t, ts, http.MethodPatch, "/api/gift-vouchers/"+created, adminKey, map[string]any{"status": "cancelled"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.VoucherCancelled, body["status"])

	resp, _ = call(t, ts, http.MethodDelete, "/api/gift-vouchers/"+created, adminKey, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = call(t, ts, http.MethodDelete, "/api/gift-vouchers/"+created, adminKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminPurchases(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, _ := call(t, ts, http.MethodGet, "/dashboard/admin/purchases?date_from=bad", adminKey, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := call(t, ts, http.MethodGet, "/dashboard/admin/purchases?page=2&limit=500", adminKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]any)
	assert.EqualValues(t, 2, data["page"])
	assert.EqualValues(t, purchases.MaxLimit, data["limit"])

	resp, _ = call(t, ts, http.MethodGet, "/dashboard/admin/purchases/export", adminKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, xlsxContentType, resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "purchases_")

	resp, _ = call(t, ts, http.MethodGet, "/dashboard/member/purchase-history", memberKey, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMonthlyReport(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, _ := call(t, ts, http.MethodPost, "/api/reports/purchases/monthly", adminKey, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	ts = newTestServer(t, &fakeReporter{name: "purchases_2026-09.xlsx"})
	resp, body := call(t, ts, http.MethodPost, "/api/reports/purchases/monthly", adminKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "purchases_2026-09.xlsx", body["filename"])

	ts = newTestServer(t, &fakeReporter{err: errors.New("disk full")})
	resp, _ = call(t, ts, http.MethodPost, "/api/reports/purchases/monthly", adminKey, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestParseFilter(t *testing.T) {
	q := map[string][]string{
		"type":       {"booking,subscription", "gift_voucher"},
		"status":     {"active"},
		"date_from":  {"2026-06-01"},
		"date_to":    {"2026-06-30"},
		"amount_min": {"10.5"},
		"search":     {"massage"},
		"page":       {"3"},
	}
	f, err := parseFilter(q)
	require.NoError(t, err)
	assert.Equal(t, []string{"booking", "subscription", "gift_voucher"}, f.Types)
	assert.Equal(t, []string{"active"}, f.Statuses)
	assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), *f.DateFrom)
	assert.Equal(t, time.Date(2026, 6, 30, 23, 59, 59, 999999999, time.UTC), *f.DateTo)
	assert.InDelta(t, 10.5, *f.AmountMin, 0.0001)
	assert.Nil(t, f.AmountMax)
	assert.Equal(t, 3, f.Page)

	_, err = parseFilter(map[string][]string{"limit": {"ten"}})
	assert.Error(t, err)
}
