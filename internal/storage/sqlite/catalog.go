package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"spabook/internal/models"
)

func (db *DB) UpsertUser(ctx context.Context, u *models.User) error {
	methods, err := encodeJSON(nonNil(u.NotificationMethods))
	if err != nil {
		return err
	}
	roles, err := encodeJSON(nonNil(u.Roles))
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	_, err = db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, phone, telegram_chat_id, language,
			notification_methods, roles, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			phone = excluded.phone,
			telegram_chat_id = excluded.telegram_chat_id,
			language = excluded.language,
			notification_methods = excluded.notification_methods,
			roles = excluded.roles,
			updated_at = excluded.updated_at`,
		u.ID, u.Name, u.Email, u.Phone, u.TelegramChatID, u.Language,
		methods, roles, utc(u.CreatedAt), u.UpdatedAt)
	return err
}

func (db *DB) GetUser(ctx context.Context, id string) (*models.User, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, name, email, phone, telegram_chat_id, language,
		       notification_methods, roles, created_at, updated_at
		FROM users WHERE id = ?`, id)

	var (
		u              models.User
		methods, roles string
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.TelegramChatID, &u.Language,
		&methods, &roles, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if err := json.Unmarshal([]byte(methods), &u.NotificationMethods); err != nil {
		return nil, fmt.Errorf("decode notification methods of user %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(roles), &u.Roles); err != nil {
		return nil, fmt.Errorf("decode roles of user %s: %w", id, err)
	}
	return &u, nil
}

func (db *DB) UpsertTreatment(ctx context.Context, t *models.Treatment) error {
	durations, err := encodeJSON(nonNil(t.Durations))
	if err != nil {
		return err
	}
	if t.PricingType == "" {
		t.PricingType = models.PricingFixed
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	_, err = db.ExecContext(ctx, `
		INSERT INTO treatments (id, name, category, pricing_type, price, durations,
			is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			pricing_type = excluded.pricing_type,
			price = excluded.price,
			durations = excluded.durations,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		t.ID, t.Name, t.Category, t.PricingType, t.Price, durations,
		t.IsActive, utc(t.CreatedAt), t.UpdatedAt)
	return err
}

func (db *DB) GetTreatment(ctx context.Context, id string) (*models.Treatment, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, name, category, pricing_type, price, durations, is_active,
		       created_at, updated_at
		FROM treatments WHERE id = ?`, id)

	var (
		t         models.Treatment
		durations string
	)
	err := row.Scan(&t.ID, &t.Name, &t.Category, &t.PricingType, &t.Price, &durations,
		&t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if err := json.Unmarshal([]byte(durations), &t.Durations); err != nil {
		return nil, fmt.Errorf("decode durations of treatment %s: %w", id, err)
	}
	return &t, nil
}

// TreatmentNames maps every treatment id to its name.
func (db *DB) TreatmentNames(ctx context.Context) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name FROM treatments`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make(map[string]string)
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}
	return names, rows.Err()
}

func (db *DB) UpsertSubscriptionPlan(ctx context.Context, p *models.SubscriptionPlan) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO subscription_plans (id, name, description, quantity, bonus_quantity,
			validity_months, discount_percent, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			quantity = excluded.quantity,
			bonus_quantity = excluded.bonus_quantity,
			validity_months = excluded.validity_months,
			discount_percent = excluded.discount_percent,
			is_active = excluded.is_active`,
		p.ID, p.Name, p.Description, p.Quantity, p.BonusQuantity,
		p.ValidityMonths, p.DiscountPercent, p.IsActive, utc(p.CreatedAt))
	return err
}

func (db *DB) GetSubscriptionPlan(ctx context.Context, id string) (*models.SubscriptionPlan, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, name, description, quantity, bonus_quantity, validity_months,
		       discount_percent, is_active, created_at
		FROM subscription_plans WHERE id = ?`, id)

	var p models.SubscriptionPlan
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Quantity, &p.BonusQuantity,
		&p.ValidityMonths, &p.DiscountPercent, &p.IsActive, &p.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
