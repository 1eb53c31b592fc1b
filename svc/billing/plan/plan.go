package plan

import (
	"fmt"
	"time"
)

// Tag identifies a plan from the fixed enumeration. The set is closed:
// plans are not editable at runtime.
type Tag string

const (
	Free        Tag = "free"
	OneMonth    Tag = "1-month"
	ThreeMonth  Tag = "3-month"
	SixMonth    Tag = "6-month"
	TwelveMonth Tag = "12-month"

	// Unknown marks a subscription whose provider price id did not map to
	// any known plan. Stored as-is, never promoted to Free.
	Unknown Tag = "unknown-plan"
)

// Tags lists the purchasable enumeration in display order.
var Tags = []Tag{Free, OneMonth, ThreeMonth, SixMonth, TwelveMonth}

// Valid reports whether t belongs to the fixed enumeration.
// Unknown is not a member: it can be stored but never requested.
func (t Tag) Valid() bool {
	switch t {
	case Free, OneMonth, ThreeMonth, SixMonth, TwelveMonth:
		return true
	}
	return false
}

// Paid reports whether the tag denotes a paid plan.
func (t Tag) Paid() bool {
	return t.Valid() && t != Free
}

// Currency is the ISO currency tag for plan pricing.
type Currency string

const (
	USD Currency = "usd"
	EUR Currency = "eur"
	GBP Currency = "gbp"
)

// Plan describes one member of the catalog. For paid plans ProductID and
// PriceID hold provider identifiers; Amount is in minor units.
type Plan struct {
	Tag            Tag      `json:"plan"`
	DurationMonths int      `json:"durationMonths"`
	ProductID      string   `json:"productId,omitempty"`
	PriceID        string   `json:"priceId,omitempty"`
	Amount         int64    `json:"amount"`
	Currency       Currency `json:"currency"`
	DisplayPrice   string   `json:"displayPrice"`
	SavingsPercent int      `json:"savingsPercent,omitempty"`
}

// PeriodEnd returns the period end for a subscription to this plan
// starting at the given time.
func (p Plan) PeriodEnd(start time.Time) time.Time {
	if p.DurationMonths <= 0 {
		return start
	}
	return start.AddDate(0, p.DurationMonths, 0)
}

func displayPrice(amount int64, currency Currency) string {
	symbol := "$"
	switch currency {
	case EUR:
		symbol = "€"
	case GBP:
		symbol = "£"
	}
	return fmt.Sprintf("%s%d.%02d", symbol, amount/100, amount%100)
}
