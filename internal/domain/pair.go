// Package domain defines core data structures used throughout the arbitrage engine.
package domain

import (
	"fmt"
	"strings"
)

// Pair cryptocurrency trading pair.
type Pair struct {
	// Base asset symbol (the traded coin).
	Base string
	// Quote asset symbol (the pricing currency).
	Quote string
}

// PairFromString parses a "BTC_USDT" style string.
func PairFromString(s string) (Pair, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Pair{}, fmt.Errorf("invalid pair %q, expected format BASE_QUOTE", s)
	}
	return Pair{Base: parts[0], Quote: parts[1]}, nil
}

// String returns the underscore-separated representation.
func (p Pair) String() string {
	return fmt.Sprintf("%s_%s", p.Base, p.Quote)
}

// Symbol returns the concatenated representation (Binance, Bybit wire syntax).
func (p Pair) Symbol() string {
	return fmt.Sprintf("%s%s", p.Base, p.Quote)
}

// DashSymbol returns the dash-separated representation (OKX wire syntax).
func (p Pair) DashSymbol() string {
	return fmt.Sprintf("%s-%s", p.Base, p.Quote)
}
