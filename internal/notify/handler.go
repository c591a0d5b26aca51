package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"spabook/internal/events"
	"spabook/internal/models"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// Handler reacts to booking and gift voucher events by notifying the people
// involved. It never returns an error: every failure is logged and dropped so
// a failed message cannot affect the write that produced the event.
type Handler struct {
	store    Store
	sender   Sender
	logger   zerolog.Logger
	language string
}

// NewHandler creates the notification handler. language is used for
// recipients without a stored preference.
func NewHandler(store Store, sender Sender, language string, logger zerolog.Logger) *Handler {
	if language == "" {
		language = "en"
	}
	return &Handler{
		store:    store,
		sender:   sender,
		language: language,
		logger:   logger.With().Str("component", "notification_handler").Logger(),
	}
}

func (h *Handler) Name() string { return "notification" }

// Handle implements events.Handler.
func (h *Handler) Handle(ctx context.Context, e events.Event) error {
	log := h.logger.With().
		Str("event_type", e.Type.String()).
		Str("entity_id", e.EntityID).
		Logger()

	switch e.Type {
	case events.BookingCreated:
		h.bookingCreated(ctx, log, e)
	case events.BookingConfirmed:
		h.bookingConfirmed(ctx, log, e)
	case events.BookingCompleted:
		h.bookingCompleted(ctx, log, e)
	case events.BookingProfessionalAssigned:
		h.professionalAssigned(ctx, log, e)
	case events.BookingPaymentUpdated:
		h.paymentUpdated(ctx, log, e)
	case events.GiftVoucherPurchased:
		h.voucherPurchased(ctx, log, e)
	case events.BookingCancelled,
		events.GiftVoucherCreated,
		events.GiftVoucherUpdated,
		events.GiftVoucherDeleted,
		events.GiftVoucherRedeemed:
		log.Info().Msg("no notification action for event")
	default:
		log.Warn().Msg("unknown event type")
	}
	return nil
}

func (h *Handler) bookingCreated(ctx context.Context, log zerolog.Logger, e events.Event) {
	p, _ := e.BookingPayload()
	if p.Booking == nil {
		log.Warn().Msg("booking.created event without booking data")
		return
	}
	b := p.Booking

	customer, err := h.store.GetUser(ctx, b.UserID)
	if err != nil {
		log.Error().Err(err).Str("user_id", b.UserID).Msg("failed to load customer")
		return
	}
	data, err := h.bookingData(ctx, b, customer)
	if err != nil {
		log.Error().Err(err).Str("treatment_id", b.TreatmentID).Msg("failed to load treatment")
		return
	}

	h.send(ctx, log, UserRecipients(customer, h.language), TemplateBookingCreated, data)

	if override := overrideRecipients(bookingOverride(p, b), customer, h.language); len(override) > 0 {
		recipientData := copyData(data)
		recipientData["recipient_name"] = override[0].Name
		h.send(ctx, log, override, TemplateBookingCreatedRecipient, recipientData)
	}
}

func (h *Handler) bookingConfirmed(ctx context.Context, log zerolog.Logger, e events.Event) {
	p, _ := e.BookingPayload()
	b, customer, data, ok := h.loadBooking(ctx, log, e, p)
	if !ok {
		return
	}

	recipients := UserRecipients(customer, h.language)
	recipients = append(recipients, overrideRecipients(bookingOverride(p, b), customer, h.language)...)
	h.send(ctx, log, recipients, TemplateBookingConfirmed, data)
}

func (h *Handler) bookingCompleted(ctx context.Context, log zerolog.Logger, e events.Event) {
	p, _ := e.BookingPayload()
	_, customer, data, ok := h.loadBooking(ctx, log, e, p)
	if !ok {
		return
	}
	h.send(ctx, log, UserRecipients(customer, h.language), TemplateReviewRequest, data)
}

func (h *Handler) professionalAssigned(ctx context.Context, log zerolog.Logger, e events.Event) {
	p, _ := e.BookingPayload()
	if p.ProfessionalID == "" {
		log.Warn().Msg("professional_assigned event without professional id")
		return
	}

	_, customer, data, ok := h.loadBooking(ctx, log, e, p)
	if !ok {
		return
	}
	professional, err := h.store.GetUser(ctx, p.ProfessionalID)
	if err != nil {
		log.Error().Err(err).Str("professional_id", p.ProfessionalID).Msg("failed to load professional")
		return
	}
	data["professional_name"] = professional.Name

	h.send(ctx, log, UserRecipients(customer, h.language), TemplateProfessionalAssigned, data)
	h.send(ctx, log, UserRecipients(professional, h.language), TemplateBookingAssigned, data)
}

func (h *Handler) paymentUpdated(ctx context.Context, log zerolog.Logger, e events.Event) {
	p, _ := e.BookingPayload()
	status := p.PaymentStatus
	if status == "" && p.Booking != nil {
		status = p.Booking.PaymentStatus
	}
	if status != models.PaymentPaid {
		log.Info().Str("payment_status", status).Msg("payment status updated, nothing to send")
		return
	}

	_, customer, data, ok := h.loadBooking(ctx, log, e, p)
	if !ok {
		return
	}
	h.send(ctx, log, UserRecipients(customer, h.language), TemplatePaymentReceived, data)
}

func (h *Handler) voucherPurchased(ctx context.Context, log zerolog.Logger, e events.Event) {
	p, _ := e.GiftVoucherPayload()
	v := p.Voucher
	if v == nil {
		loaded, err := h.store.GetGiftVoucher(ctx, e.EntityID)
		if err != nil {
			log.Error().Err(err).Msg("failed to load gift voucher")
			return
		}
		v = loaded
	}

	data := map[string]string{
		"voucher_code": v.Code,
		"amount":       formatAmount(v.Amount),
		"valid_until":  formatDate(v.ValidUntil),
	}

	var recipients []Recipient
	guest := p.GuestInfo
	if guest.IsZero() {
		guest = v.Guest
	}
	if !guest.IsZero() {
		recipients = GuestRecipients(guest, h.language)
		data["customer_name"] = guest.Name
	} else {
		purchaserID := v.PurchaserUserID
		if purchaserID == "" {
			purchaserID = e.UserID
		}
		purchaser, err := h.store.GetUser(ctx, purchaserID)
		if err != nil {
			log.Error().Err(err).Str("user_id", purchaserID).Msg("failed to load purchaser")
			return
		}
		recipients = UserRecipients(purchaser, h.language)
		data["customer_name"] = purchaser.Name
	}

	h.send(ctx, log, recipients, TemplateGiftVoucherPurchased, data)

	if !v.IsGift {
		return
	}
	gift := ContactRecipients(&events.Contact{Name: v.RecipientName, Email: v.RecipientEmail, Phone: v.RecipientPhone}, h.language)
	if len(gift) == 0 {
		return
	}
	giftData := copyData(data)
	giftData["recipient_name"] = v.RecipientName
	giftData["purchaser_name"] = data["customer_name"]
	giftData["greeting"] = v.GreetingMessage
	h.send(ctx, log, gift, TemplateGiftVoucherReceived, giftData)
}

// loadBooking resolves the booking from the payload or the store, then the
// customer and the template data.
func (h *Handler) loadBooking(ctx context.Context, log zerolog.Logger, e events.Event, p events.BookingPayload) (*models.Booking, *models.User, map[string]string, bool) {
	b := p.Booking
	if b == nil {
		loaded, err := h.store.GetBooking(ctx, e.EntityID)
		if err != nil {
			log.Error().Err(err).Msg("failed to load booking")
			return nil, nil, nil, false
		}
		b = loaded
	}

	customer, err := h.store.GetUser(ctx, b.UserID)
	if err != nil {
		log.Error().Err(err).Str("user_id", b.UserID).Msg("failed to load customer")
		return nil, nil, nil, false
	}
	data, err := h.bookingData(ctx, b, customer)
	if err != nil {
		log.Error().Err(err).Str("treatment_id", b.TreatmentID).Msg("failed to load treatment")
		return nil, nil, nil, false
	}
	return b, customer, data, true
}

func (h *Handler) bookingData(ctx context.Context, b *models.Booking, customer *models.User) (map[string]string, error) {
	treatment, err := h.store.GetTreatment(ctx, b.TreatmentID)
	if err != nil {
		return nil, err
	}
	data := map[string]string{
		"customer_name":  customer.Name,
		"booking_number": b.BookingNumber,
		"treatment":      treatment.Name,
		"date":           formatDate(b.StartsAt),
		"time":           b.StartsAt.Format(timeLayout),
		"amount":         formatAmount(b.FinalAmount),
	}
	if b.DurationMinutes > 0 {
		data["duration"] = strconv.Itoa(b.DurationMinutes)
	}
	return data, nil
}

func (h *Handler) send(ctx context.Context, log zerolog.Logger, recipients []Recipient, template string, data map[string]string) {
	if len(recipients) == 0 {
		log.Warn().Str("template", template).Msg("no reachable recipients")
		return
	}
	if err := h.sender.Send(ctx, recipients, Message{Template: template, Data: data}); err != nil {
		log.Error().Err(err).
			Str("template", template).
			Int("recipients", len(recipients)).
			Msg("failed to send notification")
		return
	}
	log.Info().
		Str("template", template).
		Int("recipients", len(recipients)).
		Msg("notification sent")
}

func copyData(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+3)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func formatAmount(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}
