package sqlite

import (
	"context"
	"time"

	"spabook/internal/models"
)

const subscriptionColumns = `id, user_id, plan_id, plan_name, treatment_id, duration_minutes,
	total_quantity, remaining_quantity, price_per_session, total_price, status,
	payment_method_id, guest, purchased_at, expires_at, failure_reason, created_at, updated_at`

func scanSubscription(s scanner) (*models.UserSubscription, error) {
	var (
		sub   models.UserSubscription
		guest string
	)
	err := s.Scan(&sub.ID, &sub.UserID, &sub.PlanID, &sub.PlanName, &sub.TreatmentID, &sub.DurationMinutes,
		&sub.TotalQuantity, &sub.RemainingQuantity, &sub.PricePerSession, &sub.TotalPrice, &sub.Status,
		&sub.PaymentMethodID, &guest, &sub.PurchasedAt, &sub.ExpiresAt, &sub.FailureReason,
		&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if sub.Guest, err = decodeGuest(guest); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (db *DB) CreateUserSubscription(ctx context.Context, s *models.UserSubscription) error {
	guest, err := encodeGuest(s.Guest)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `INSERT INTO user_subscriptions (`+subscriptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.PlanID, s.PlanName, s.TreatmentID, s.DurationMinutes,
		s.TotalQuantity, s.RemainingQuantity, s.PricePerSession, s.TotalPrice, s.Status,
		s.PaymentMethodID, guest, utc(s.PurchasedAt), utc(s.ExpiresAt), s.FailureReason,
		utc(s.CreatedAt), utc(s.UpdatedAt))
	return err
}

func (db *DB) GetUserSubscription(ctx context.Context, id string) (*models.UserSubscription, error) {
	row := db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM user_subscriptions WHERE id = ?`, id)
	s, err := scanSubscription(row)
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

func (db *DB) UpdateUserSubscriptionStatus(ctx context.Context, id, status, reason string) error {
	res, err := db.ExecContext(ctx, `
		UPDATE user_subscriptions SET status = ?, failure_reason = ?, updated_at = ?
		WHERE id = ?`, status, reason, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// RestoreSubscriptionSession gives back one session, reactivating a depleted
// subscription. It never exceeds the purchased total.
func (db *DB) RestoreSubscriptionSession(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `
		UPDATE user_subscriptions
		SET remaining_quantity = remaining_quantity + 1,
		    status = CASE WHEN status = ? THEN ? ELSE status END,
		    updated_at = ?
		WHERE id = ? AND remaining_quantity < total_quantity`,
		models.SubscriptionDepleted, models.SubscriptionActive, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ListUserSubscriptions returns the subscriptions of userID, or all when
// userID is empty.
func (db *DB) ListUserSubscriptions(ctx context.Context, userID string) ([]models.UserSubscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM user_subscriptions`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY purchased_at DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.UserSubscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
