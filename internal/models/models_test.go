package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTreatmentPriceFor(t *testing.T) {
	fixed := &Treatment{PricingType: PricingFixed, Price: 95}
	p, ok := fixed.PriceFor(45)
	assert.True(t, ok)
	assert.Equal(t, 95.0, p)

	timed := &Treatment{
		PricingType: PricingDurationBased,
		Durations:   []TreatmentDuration{{Minutes: 60, Price: 120}, {Minutes: 90, Price: 165}},
	}
	p, ok = timed.PriceFor(90)
	assert.True(t, ok)
	assert.Equal(t, 165.0, p)

	_, ok = timed.PriceFor(30)
	assert.False(t, ok)
}

func TestUserMethodsAndRoles(t *testing.T) {
	u := &User{NotificationMethods: []string{"Email", MethodSMS}, Roles: []string{RoleMember}}
	assert.True(t, u.HasMethod(MethodEmail))
	assert.True(t, u.HasMethod(MethodSMS))
	assert.False(t, u.HasMethod(MethodTelegram))
	assert.True(t, u.HasRole(RoleMember))
	assert.False(t, u.HasRole(RoleAdmin))
}

func TestBookingIsFinal(t *testing.T) {
	for status, final := range map[string]bool{
		BookingPendingPayment: false,
		BookingConfirmed:      false,
		BookingCompleted:      true,
		BookingCancelled:      true,
		BookingNoShow:         true,
	} {
		b := &Booking{Status: status}
		assert.Equal(t, final, b.IsFinal(), status)
	}
}

func TestGiftVoucherIsExpired(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	assert.False(t, (&GiftVoucher{}).IsExpired(now), "no end date")
	assert.False(t, (&GiftVoucher{ValidUntil: now}).IsExpired(now))
	assert.True(t, (&GiftVoucher{ValidUntil: now.Add(-time.Second)}).IsExpired(now))
}

func TestGuestInfoIsZero(t *testing.T) {
	var g *GuestInfo
	assert.True(t, g.IsZero())
	assert.True(t, (&GuestInfo{}).IsZero())
	assert.False(t, (&GuestInfo{Phone: "+1555"}).IsZero())
}

func TestSentinelsWrap(t *testing.T) {
	err := fmt.Errorf("get booking b-1: %w", ErrNotFound)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrConflict))
}
