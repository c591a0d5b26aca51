package sqlite

import (
	"context"
	"fmt"
	"time"

	"spabook/internal/models"
)

const voucherColumns = `id, code, voucher_type, treatment_id, duration_minutes, amount,
	remaining_amount, purchaser_user_id, owner_user_id, is_gift, recipient_name,
	recipient_email, recipient_phone, greeting_message, guest, status, payment_status,
	valid_from, valid_until, purchased_at, created_at, updated_at`

func scanVoucher(s scanner) (*models.GiftVoucher, error) {
	var (
		v     models.GiftVoucher
		guest string
	)
	err := s.Scan(&v.ID, &v.Code, &v.VoucherType, &v.TreatmentID, &v.DurationMinutes, &v.Amount,
		&v.RemainingAmount, &v.PurchaserUserID, &v.OwnerUserID, &v.IsGift, &v.RecipientName,
		&v.RecipientEmail, &v.RecipientPhone, &v.GreetingMessage, &guest, &v.Status, &v.PaymentStatus,
		&v.ValidFrom, &v.ValidUntil, &v.PurchasedAt, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if v.Guest, err = decodeGuest(guest); err != nil {
		return nil, err
	}
	return &v, nil
}

func (db *DB) CreateGiftVoucher(ctx context.Context, v *models.GiftVoucher) error {
	guest, err := encodeGuest(v.Guest)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `INSERT INTO gift_vouchers (`+voucherColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.Code, v.VoucherType, v.TreatmentID, v.DurationMinutes, v.Amount,
		v.RemainingAmount, v.PurchaserUserID, v.OwnerUserID, v.IsGift, v.RecipientName,
		v.RecipientEmail, v.RecipientPhone, v.GreetingMessage, guest, v.Status, v.PaymentStatus,
		utc(v.ValidFrom), utc(v.ValidUntil), utc(v.PurchasedAt), utc(v.CreatedAt), utc(v.UpdatedAt))
	return err
}

func (db *DB) GetGiftVoucher(ctx context.Context, id string) (*models.GiftVoucher, error) {
	row := db.QueryRowContext(ctx, `SELECT `+voucherColumns+` FROM gift_vouchers WHERE id = ?`, id)
	v, err := scanVoucher(row)
	if err != nil {
		return nil, notFound(err)
	}
	return v, nil
}

func (db *DB) GetGiftVoucherByCode(ctx context.Context, code string) (*models.GiftVoucher, error) {
	row := db.QueryRowContext(ctx, `SELECT `+voucherColumns+` FROM gift_vouchers WHERE code = ?`, code)
	v, err := scanVoucher(row)
	if err != nil {
		return nil, notFound(err)
	}
	return v, nil
}

func (db *DB) UpdateGiftVoucher(ctx context.Context, v *models.GiftVoucher) error {
	res, err := db.ExecContext(ctx, `
		UPDATE gift_vouchers SET
			owner_user_id = ?, status = ?, payment_status = ?, remaining_amount = ?,
			valid_until = ?, updated_at = ?
		WHERE id = ?`,
		v.OwnerUserID, v.Status, v.PaymentStatus, v.RemainingAmount,
		utc(v.ValidUntil), utc(v.UpdatedAt), v.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (db *DB) DeleteGiftVoucher(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM gift_vouchers WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// RedeemGiftVoucher moves the balance from expected to remaining. A balance
// changed by someone else in between yields models.ErrConflict.
func (db *DB) RedeemGiftVoucher(ctx context.Context, id string, expected, remaining float64, status string) error {
	res, err := db.ExecContext(ctx, `
		UPDATE gift_vouchers SET remaining_amount = ?, status = ?, updated_at = ?
		WHERE id = ? AND remaining_amount = ?`,
		remaining, status, time.Now().UTC(), id, expected)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := db.GetGiftVoucher(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("gift voucher %s balance changed: %w", id, models.ErrConflict)
	}
	return nil
}

// RestoreGiftVoucherBalance gives amount back to the voucher, never beyond
// its face value. A used voucher becomes active again when fully restored and
// partially used otherwise; a cancelled voucher keeps its status.
func (db *DB) RestoreGiftVoucherBalance(ctx context.Context, id string, amount float64) error {
	res, err := db.ExecContext(ctx, `
		UPDATE gift_vouchers SET
			remaining_amount = MIN(amount, ROUND(remaining_amount + ?, 2)),
			status = CASE
				WHEN status NOT IN (?, ?) THEN status
				WHEN remaining_amount + ? >= amount THEN ?
				ELSE ? END,
			updated_at = ?
		WHERE id = ?`,
		amount,
		models.VoucherPartiallyUsed, models.VoucherFullyUsed,
		amount, models.VoucherActive,
		models.VoucherPartiallyUsed,
		time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ListGiftVouchers returns the vouchers bought or owned by userID, or all
// vouchers when userID is empty.
func (db *DB) ListGiftVouchers(ctx context.Context, userID string) ([]models.GiftVoucher, error) {
	query := `SELECT ` + voucherColumns + ` FROM gift_vouchers`
	var args []any
	if userID != "" {
		query += ` WHERE purchaser_user_id = ? OR owner_user_id = ?`
		args = append(args, userID, userID)
	}
	query += ` ORDER BY purchased_at DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.GiftVoucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}
