package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Opportunity is a qualified two-venue price discrepancy handed from the
// strategy to the execution service. It is ephemeral: consumed within the same
// detection pass, never persisted or replayed.
type Opportunity struct {
	ID             string
	Pair           Pair
	BuyVenue       string
	SellVenue      string
	BuyPrice       decimal.Decimal
	SellPrice      decimal.Decimal
	Quantity       decimal.Decimal
	GrossSpreadBps decimal.Decimal
	EstNetProfit   decimal.Decimal
	CreatedAt      time.Time
}

// NewOpportunityID builds a unique id carrying the instrument for log grepping.
func NewOpportunityID(pair Pair) string {
	return fmt.Sprintf("%s-%s", pair.Symbol(), uuid.NewString())
}

// Notional returns the quote-currency value of the opportunity at the buy price.
func (o *Opportunity) Notional() decimal.Decimal {
	return o.Quantity.Mul(o.BuyPrice)
}

// String returns a human-readable one-liner for logs.
func (o *Opportunity) String() string {
	return fmt.Sprintf("%s buy %s@%s sell %s@%s qty %s spread %sbps",
		o.Pair.String(), o.BuyVenue, o.BuyPrice.String(), o.SellVenue, o.SellPrice.String(),
		o.Quantity.String(), o.GrossSpreadBps.StringFixed(1))
}
