package sqlite

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"spabook/internal/models"
)

// Seed is reference data loaded at startup: accounts, the treatment menu and
// the subscription plans on sale.
type Seed struct {
	Users []struct {
		ID             string   `yaml:"id"`
		Name           string   `yaml:"name"`
		Email          string   `yaml:"email"`
		Phone          string   `yaml:"phone"`
		TelegramChatID int64    `yaml:"telegram_chat_id"`
		Language       string   `yaml:"language"`
		Methods        []string `yaml:"notification_methods"`
		Roles          []string `yaml:"roles"`
	} `yaml:"users"`
	Treatments []struct {
		ID          string  `yaml:"id"`
		Name        string  `yaml:"name"`
		Category    string  `yaml:"category"`
		PricingType string  `yaml:"pricing_type"`
		Price       float64 `yaml:"price"`
		Durations   []struct {
			Minutes int     `yaml:"minutes"`
			Price   float64 `yaml:"price"`
		} `yaml:"durations"`
		Inactive bool `yaml:"inactive"`
	} `yaml:"treatments"`
	Plans []struct {
		ID              string  `yaml:"id"`
		Name            string  `yaml:"name"`
		Description     string  `yaml:"description"`
		Quantity        int     `yaml:"quantity"`
		BonusQuantity   int     `yaml:"bonus_quantity"`
		ValidityMonths  int     `yaml:"validity_months"`
		DiscountPercent float64 `yaml:"discount_percent"`
		Inactive        bool    `yaml:"inactive"`
	} `yaml:"subscription_plans"`
}

// LoadSeedFile upserts the reference data in path.
func (db *DB) LoadSeedFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}
	return db.ApplySeed(ctx, &seed)
}

func (db *DB) ApplySeed(ctx context.Context, seed *Seed) error {
	for _, u := range seed.Users {
		err := db.UpsertUser(ctx, &models.User{
			ID:                  u.ID,
			Name:                u.Name,
			Email:               u.Email,
			Phone:               u.Phone,
			TelegramChatID:      u.TelegramChatID,
			Language:            u.Language,
			NotificationMethods: u.Methods,
			Roles:               u.Roles,
		})
		if err != nil {
			return fmt.Errorf("seed user %s: %w", u.ID, err)
		}
	}
	for _, t := range seed.Treatments {
		tr := &models.Treatment{
			ID:          t.ID,
			Name:        t.Name,
			Category:    t.Category,
			PricingType: t.PricingType,
			Price:       t.Price,
			IsActive:    !t.Inactive,
		}
		for _, d := range t.Durations {
			tr.Durations = append(tr.Durations, models.TreatmentDuration{Minutes: d.Minutes, Price: d.Price})
		}
		if err := db.UpsertTreatment(ctx, tr); err != nil {
			return fmt.Errorf("seed treatment %s: %w", t.ID, err)
		}
	}
	for _, p := range seed.Plans {
		err := db.UpsertSubscriptionPlan(ctx, &models.SubscriptionPlan{
			ID:              p.ID,
			Name:            p.Name,
			Description:     p.Description,
			Quantity:        p.Quantity,
			BonusQuantity:   p.BonusQuantity,
			ValidityMonths:  p.ValidityMonths,
			DiscountPercent: p.DiscountPercent,
			IsActive:        !p.Inactive,
		})
		if err != nil {
			return fmt.Errorf("seed plan %s: %w", p.ID, err)
		}
	}
	db.logger.Info().
		Int("users", len(seed.Users)).
		Int("treatments", len(seed.Treatments)).
		Int("plans", len(seed.Plans)).
		Msg("seed data applied")
	return nil
}
