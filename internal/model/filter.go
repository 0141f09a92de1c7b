package model

import "time"

// DefaultTop is the result bound applied when a query does not set one.
const DefaultTop = 20

// MaxTop caps any requested result bound.
const MaxTop = 500

// EffectiveTop returns top with the default and cap applied.
func EffectiveTop(top int) int {
	if top <= 0 {
		return DefaultTop
	}
	if top > MaxTop {
		return MaxTop
	}
	return top
}

// ItemFilter holds criteria for querying items. Zero fields are unconstrained.
type ItemFilter struct {
	ItemTypeKey string            `json:"item_type_key,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Status      *int16            `json:"status,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	CreatedFrom *time.Time        `json:"created_from,omitempty"`
	CreatedTo   *time.Time        `json:"created_to,omitempty"`
	UpdatedFrom *time.Time        `json:"updated_from,omitempty"`
	UpdatedTo   *time.Time        `json:"updated_to,omitempty"`
	Top         int               `json:"top,omitempty"`
}

// LinkFilter holds criteria for querying links. Zero fields are unconstrained.
type LinkFilter struct {
	LinkTypeKey  string            `json:"link_type_key,omitempty"`
	StartItemKey string            `json:"start_item_key,omitempty"`
	EndItemKey   string            `json:"end_item_key,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	CreatedFrom  *time.Time        `json:"created_from,omitempty"`
	CreatedTo    *time.Time        `json:"created_to,omitempty"`
	UpdatedFrom  *time.Time        `json:"updated_from,omitempty"`
	UpdatedTo    *time.Time        `json:"updated_to,omitempty"`
	Top          int               `json:"top,omitempty"`
}

// AuditFilter holds criteria for querying the audit log.
type AuditFilter struct {
	EntityKind EntityKind `json:"entity_kind,omitempty"`
	EntityKey  string     `json:"entity_key,omitempty"`
	ChangeType ChangeType `json:"change_type,omitempty"`
	From       *time.Time `json:"from,omitempty"`
	To         *time.Time `json:"to,omitempty"`
	Top        int        `json:"top,omitempty"`
}

// DayRange converts an inclusive [from, to] date range into a half-open
// [lo, hi) instant range. Both bounds are truncated to midnight in their own
// location, and hi is the midnight following to. Nil bounds stay nil.
func DayRange(from, to *time.Time) (lo, hi *time.Time) {
	if from != nil {
		d := startOfDay(*from)
		lo = &d
	}
	if to != nil {
		d := startOfDay(*to).AddDate(0, 0, 1)
		hi = &d
	}
	return lo, hi
}

// InDayRange reports whether t falls within the inclusive day range.
func InDayRange(t time.Time, from, to *time.Time) bool {
	lo, hi := DayRange(from, to)
	if lo != nil && t.Before(*lo) {
		return false
	}
	if hi != nil && !t.Before(*hi) {
		return false
	}
	return true
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
