package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"spabook/internal/models"
)

const bookingColumns = `id, booking_number, user_id, treatment_id, duration_minutes,
	professional_id, starts_at, status, payment_status, price, final_amount,
	for_someone_else, recipient_name, recipient_email, recipient_phone,
	subscription_id, gift_voucher_id, voucher_amount_applied, notes, cancel_reason,
	reminder_sent, completed_at, created_at, updated_at`

func scanBooking(s scanner) (*models.Booking, error) {
	var (
		b           models.Booking
		completedAt sql.NullTime
	)
	err := s.Scan(&b.ID, &b.BookingNumber, &b.UserID, &b.TreatmentID, &b.DurationMinutes,
		&b.ProfessionalID, &b.StartsAt, &b.Status, &b.PaymentStatus, &b.Price, &b.FinalAmount,
		&b.ForSomeoneElse, &b.RecipientName, &b.RecipientEmail, &b.RecipientPhone,
		&b.SubscriptionID, &b.GiftVoucherID, &b.VoucherAmountApplied, &b.Notes, &b.CancelReason,
		&b.ReminderSent, &completedAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		b.CompletedAt = &t
	}
	return &b, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	row := db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if err != nil {
		return nil, notFound(err)
	}
	return b, nil
}

// CreateBooking inserts b. A booking paid by subscription takes one session
// from the subscription in the same transaction and fails with
// models.ErrConflict when none is left.
func (db *DB) CreateBooking(ctx context.Context, b *models.Booking) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if b.SubscriptionID != "" {
			res, err := tx.ExecContext(ctx, `
				UPDATE user_subscriptions
				SET remaining_quantity = remaining_quantity - 1,
				    status = CASE WHEN remaining_quantity - 1 <= 0 THEN ? ELSE status END,
				    updated_at = ?
				WHERE id = ? AND status = ? AND remaining_quantity > 0`,
				models.SubscriptionDepleted, time.Now().UTC(), b.SubscriptionID, models.SubscriptionActive)
			if err != nil {
				return fmt.Errorf("consume subscription session: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("subscription %s has no session left: %w", b.SubscriptionID, models.ErrConflict)
			}
		}

		_, err := tx.ExecContext(ctx, `INSERT INTO bookings (`+bookingColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.ID, b.BookingNumber, b.UserID, b.TreatmentID, b.DurationMinutes,
			b.ProfessionalID, utc(b.StartsAt), b.Status, b.PaymentStatus, b.Price, b.FinalAmount,
			b.ForSomeoneElse, b.RecipientName, b.RecipientEmail, b.RecipientPhone,
			b.SubscriptionID, b.GiftVoucherID, b.VoucherAmountApplied, b.Notes, b.CancelReason,
			b.ReminderSent, nullTime(b.CompletedAt), utc(b.CreatedAt), utc(b.UpdatedAt))
		return err
	})
}

func (db *DB) UpdateBooking(ctx context.Context, b *models.Booking) error {
	res, err := db.ExecContext(ctx, `
		UPDATE bookings SET
			professional_id = ?, starts_at = ?, status = ?, payment_status = ?,
			final_amount = ?, notes = ?, cancel_reason = ?, reminder_sent = ?,
			completed_at = ?, updated_at = ?, version = version + 1
		WHERE id = ?`,
		b.ProfessionalID, utc(b.StartsAt), b.Status, b.PaymentStatus,
		b.FinalAmount, b.Notes, b.CancelReason, b.ReminderSent,
		nullTime(b.CompletedAt), utc(b.UpdatedAt), b.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ListBookings returns the bookings of userID, or all bookings when userID is
// empty, newest first.
func (db *DB) ListBookings(ctx context.Context, userID string) ([]models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBookings(rows)
}

// ListReminderCandidates returns confirmed bookings starting in [from, to]
// that have not been reminded yet.
func (db *DB) ListReminderCandidates(ctx context.Context, from, to time.Time) ([]models.Booking, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE status = ? AND reminder_sent = 0 AND starts_at BETWEEN ? AND ?
		ORDER BY starts_at`,
		models.BookingConfirmed, utc(from), utc(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBookings(rows)
}

func (db *DB) MarkReminderSent(ctx context.Context, bookingID string) error {
	res, err := db.ExecContext(ctx, `
		UPDATE bookings SET reminder_sent = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), bookingID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func collectBookings(rows *sql.Rows) ([]models.Booking, error) {
	var out []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}
