package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Currency is one tradable asset as reported by the exchange listing.
// A catalog refresh replaces currencies wholesale; entries are never
// partially mutated.
type Currency struct {
	Ticker           string
	Name             string
	Enabled          bool
	FixedRateEnabled bool
	IconURL          string
}

// Pair is an ordered (from, to) combination the exchange will quote.
// Direction matters: (A,B) and (B,A) are distinct entries with their
// own minimums, and one may exist without the other.
type Pair struct {
	From      string
	To        string
	MinAmount decimal.Decimal
}

// Quote is a time-bounded estimate of how much To a given amount of
// From would yield at request time. Quotes are immutable; newer input
// supersedes a quote, it never updates one.
type Quote struct {
	From        string
	To          string
	FromAmount  decimal.Decimal
	ToAmount    decimal.Decimal
	RequestedAt time.Time
	ValidUntil  time.Time
}

// Expired reports whether the quote's validity window has passed.
// Expiry is a read-time check; an expired quote stays displayed until
// new input arrives.
func (q Quote) Expired(now time.Time) bool {
	return now.After(q.ValidUntil)
}

// NormalizeTicker lowercases and trims a ticker the way the exchange
// keys its listings.
func NormalizeTicker(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
