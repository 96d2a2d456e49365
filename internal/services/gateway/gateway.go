// Package gateway exposes each venue's order-placement and balance-query
// capability behind one interface. Adding a venue means adding one
// implementation here plus a stream adapter; the rest of the engine is
// untouched.
package gateway

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/m4rkovic/crypto-trade/internal/domain"
)

// Fill is the venue's acknowledgement of an executed market order. AvgPrice is
// zero when the venue does not report an average fill price; callers fall back
// to the planned price.
type Fill struct {
	ID       string
	AvgPrice decimal.Decimal
}

// Gateway is the per-venue trading capability consumed by the execution
// service and the inventory ledger.
type Gateway interface {
	Venue() string
	// PlaceMarketOrder submits a market order sized in base units. It returns
	// an error on rejection; a dispatched order is never cancelled mid-flight.
	PlaceMarketOrder(ctx context.Context, pair domain.Pair, side domain.Side, quantity decimal.Decimal) (*Fill, error)
	// FetchBalances returns the free amount per currency.
	FetchBalances(ctx context.Context) (map[string]decimal.Decimal, error)
}
