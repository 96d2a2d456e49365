package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is an immutable snapshot of one venue's top-of-book for one instrument.
// A newer Quote for the same (pair, venue) wholesale-replaces the previous one;
// quotes are never mutated in place.
type Quote struct {
	Venue      string
	Pair       Pair
	Bid        decimal.Decimal
	BidSize    decimal.Decimal
	Ask        decimal.Decimal
	AskSize    decimal.Decimal
	ObservedAt time.Time
}

// Age returns how long ago the quote was observed.
func (q Quote) Age() time.Duration {
	return time.Since(q.ObservedAt)
}
