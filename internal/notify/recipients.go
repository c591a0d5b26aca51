package notify

import (
	"strconv"
	"strings"

	"spabook/internal/events"
	"spabook/internal/models"
)

// UserRecipients filters the user's configured methods against the contact
// fields the user actually has. A user with no configured methods is reached
// by email when an address is known.
func UserRecipients(u *models.User, fallbackLanguage string) []Recipient {
	if u == nil {
		return nil
	}
	lang := u.Language
	if lang == "" {
		lang = fallbackLanguage
	}

	methods := u.NotificationMethods
	if len(methods) == 0 {
		methods = []string{models.MethodEmail}
	}

	seen := make(map[string]bool, len(methods))
	var out []Recipient
	for _, m := range methods {
		m = strings.ToLower(strings.TrimSpace(m))
		if seen[m] {
			continue
		}
		seen[m] = true

		var value string
		switch m {
		case models.MethodEmail:
			value = u.Email
		case models.MethodSMS:
			value = u.Phone
		case models.MethodTelegram:
			if u.TelegramChatID != 0 {
				value = strconv.FormatInt(u.TelegramChatID, 10)
			}
		}
		if value == "" {
			continue
		}
		out = append(out, Recipient{Type: m, Value: value, Name: u.Name, Language: lang})
	}
	return out
}

// ContactRecipients reaches a contact by email and by SMS, one entry for each
// non-empty field.
func ContactRecipients(c *events.Contact, lang string) []Recipient {
	if c.IsZero() {
		return nil
	}
	var out []Recipient
	if c.Email != "" {
		out = append(out, Recipient{Type: models.MethodEmail, Value: c.Email, Name: c.Name, Language: lang})
	}
	if c.Phone != "" {
		out = append(out, Recipient{Type: models.MethodSMS, Value: c.Phone, Name: c.Name, Language: lang})
	}
	return out
}

// GuestRecipients is ContactRecipients for purchase-time guest details.
func GuestRecipients(g *models.GuestInfo, lang string) []Recipient {
	if g.IsZero() {
		return nil
	}
	return ContactRecipients(&events.Contact{Name: g.Name, Email: g.Email, Phone: g.Phone}, lang)
}

// overrideRecipients returns entries for the designated contact, skipping any
// field that matches the purchaser's own contact.
func overrideRecipients(c *events.Contact, purchaser *models.User, lang string) []Recipient {
	if c.IsZero() {
		return nil
	}
	differs := *c
	if purchaser != nil {
		if strings.EqualFold(differs.Email, purchaser.Email) {
			differs.Email = ""
		}
		if normalizePhone(differs.Phone) == normalizePhone(purchaser.Phone) {
			differs.Phone = ""
		}
	}
	return ContactRecipients(&differs, lang)
}

// bookingOverride picks the designated recipient of a booking: an explicit
// override from the event first, then the "for someone else" fields.
func bookingOverride(p events.BookingPayload, b *models.Booking) *events.Contact {
	if !p.RecipientOverride.IsZero() {
		return p.RecipientOverride
	}
	if b == nil || !b.ForSomeoneElse {
		return nil
	}
	c := &events.Contact{Name: b.RecipientName, Email: b.RecipientEmail, Phone: b.RecipientPhone}
	if c.IsZero() {
		return nil
	}
	return c
}

func normalizePhone(p string) string {
	var b strings.Builder
	for _, r := range p {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
