// Package sheets mirrors purchases into a Google Sheets ledger.
package sheets

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"spabook/internal/events"
)

// LedgerTypes are the events that produce a ledger row.
var LedgerTypes = []events.Type{events.BookingCreated, events.GiftVoucherPurchased}

var Columns = []any{"Timestamp", "Event", "Entity", "User", "Reference", "Amount", "Status"}

// Appender adds rows below the last row of a range.
type Appender interface {
	Append(ctx context.Context, sheetRange string, rows [][]any) error
}

// Client appends through the Sheets API.
type Client struct {
	srv           *sheets.Service
	spreadsheetID string
}

// NewClient authenticates with a service account credentials file.
func NewClient(ctx context.Context, credentialsFile, spreadsheetID string) (*Client, error) {
	raw, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read google credentials: %w", err)
	}
	cfg, err := google.JWTConfigFromJSON(raw, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse google credentials: %w", err)
	}
	return NewClientWithOptions(ctx, spreadsheetID, option.WithHTTPClient(cfg.Client(ctx)))
}

func NewClientWithOptions(ctx context.Context, spreadsheetID string, opts ...option.ClientOption) (*Client, error) {
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Client{srv: srv, spreadsheetID: spreadsheetID}, nil
}

func (c *Client) Append(ctx context.Context, sheetRange string, rows [][]any) error {
	_, err := c.srv.Spreadsheets.Values.
		Append(c.spreadsheetID, sheetRange, &sheets.ValueRange{Values: rows}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

// Ledger is an event handler appending one row per purchase.
type Ledger struct {
	appender Appender
	sheet    string
	logger   zerolog.Logger
}

func NewLedger(appender Appender, sheet string, logger zerolog.Logger) *Ledger {
	if sheet == "" {
		sheet = "Ledger"
	}
	return &Ledger{
		appender: appender,
		sheet:    sheet,
		logger:   logger.With().Str("component", "sheets_ledger").Logger(),
	}
}

func (l *Ledger) Name() string { return "sheets_ledger" }

// Handle implements events.Handler. Append failures are returned so they show
// up in the emit report.
func (l *Ledger) Handle(ctx context.Context, e events.Event) error {
	row, ok := Row(e)
	if !ok {
		return nil
	}
	if err := l.appender.Append(ctx, l.sheet+"!A1", [][]any{row}); err != nil {
		l.logger.Error().Err(err).Str("event_type", e.Type.String()).Str("entity_id", e.EntityID).Msg("failed to append ledger row")
		return err
	}
	l.logger.Debug().Str("event_type", e.Type.String()).Str("entity_id", e.EntityID).Msg("ledger row appended")
	return nil
}

// Row renders e as a ledger row. Events without purchase data yield false.
func Row(e events.Event) ([]any, bool) {
	ts := e.Timestamp.UTC().Format(time.DateTime)
	switch e.Type {
	case events.BookingCreated:
		p, ok := e.BookingPayload()
		if !ok || p.Booking == nil {
			return nil, false
		}
		b := p.Booking
		return []any{ts, e.Type.String(), b.ID, b.UserID, b.BookingNumber, amount(b.FinalAmount), b.PaymentStatus}, true
	case events.GiftVoucherPurchased:
		p, ok := e.GiftVoucherPayload()
		if !ok || p.Voucher == nil {
			return nil, false
		}
		v := p.Voucher
		return []any{ts, e.Type.String(), v.ID, v.PurchaserUserID, v.Code, amount(v.Amount), v.PaymentStatus}, true
	}
	return nil, false
}

func amount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
