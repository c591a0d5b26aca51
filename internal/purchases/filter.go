package purchases

import (
	"sort"
	"strings"
	"time"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Filter narrows a purchase listing. Zero values mean "no constraint".
type Filter struct {
	Types     []string
	Statuses  []string
	DateFrom  *time.Time
	DateTo    *time.Time
	AmountMin *float64
	AmountMax *float64
	Search    string
	Page      int
	Limit     int
}

// Normalize clamps paging to valid values.
func (f Filter) Normalize() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	return f
}

func (f Filter) wants(kind string) bool {
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == kind {
			return true
		}
	}
	return false
}

func (f Filter) match(t *Transaction) bool {
	if len(f.Statuses) > 0 && !contains(f.Statuses, t.Status) {
		return false
	}
	if f.DateFrom != nil && t.Date.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && t.Date.After(*f.DateTo) {
		return false
	}
	if f.AmountMin != nil && t.Amount < *f.AmountMin {
		return false
	}
	if f.AmountMax != nil && t.Amount > *f.AmountMax {
		return false
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		q = strings.ToLower(q)
		if !strings.Contains(strings.ToLower(t.Description), q) && !strings.Contains(strings.ToLower(t.ID), q) {
			return false
		}
	}
	return true
}

// apply filters, sorts newest first and returns the matching slice.
func (f Filter) apply(all []Transaction) []Transaction {
	out := make([]Transaction, 0, len(all))
	for i := range all {
		if f.match(&all[i]) {
			out = append(out, all[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// paginate returns the requested page of list. f must be normalized.
func (f Filter) paginate(list []Transaction) []Transaction {
	start := (f.Page - 1) * f.Limit
	if start >= len(list) {
		return []Transaction{}
	}
	end := start + f.Limit
	if end > len(list) {
		end = len(list)
	}
	return list[start:end]
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
