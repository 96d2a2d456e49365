package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/m4rkovic/crypto-trade/internal/domain"
)

type BinanceGateway struct {
	client *binance.Client
}

func NewBinanceGateway(client *binance.Client) *BinanceGateway {
	return &BinanceGateway{client: client}
}

func (g *BinanceGateway) Venue() string { return "binance" }

func (g *BinanceGateway) PlaceMarketOrder(ctx context.Context, pair domain.Pair, side domain.Side, quantity decimal.Decimal) (*Fill, error) {
	quantity = quantity.RoundFloor(4)

	binanceSide := binance.SideTypeBuy
	if side == domain.SideSell {
		binanceSide = binance.SideTypeSell
	}

	clientOrderID := fmt.Sprintf("arb-%s-%d", side, time.Now().UnixNano())

	res, err := g.client.NewCreateOrderService().Symbol(pair.Symbol()).
		Side(binanceSide).Type(binance.OrderTypeMarket).
		Quantity(quantity.String()).
		NewClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create binance %s order", side)
	}

	return &Fill{
		ID:       fmt.Sprintf("%d", res.OrderID),
		AvgPrice: averageFillPrice(res.Fills),
	}, nil
}

// averageFillPrice computes the size-weighted average over partial fills.
func averageFillPrice(fills []*binance.Fill) decimal.Decimal {
	totalQty := decimal.Zero
	totalCost := decimal.Zero
	for _, f := range fills {
		price, err := decimal.NewFromString(f.Price)
		if err != nil {
			continue
		}
		qty, err := decimal.NewFromString(f.Quantity)
		if err != nil {
			continue
		}
		totalCost = totalCost.Add(price.Mul(qty))
		totalQty = totalQty.Add(qty)
	}
	if totalQty.IsZero() {
		return decimal.Zero
	}
	return totalCost.Div(totalQty)
}

func (g *BinanceGateway) FetchBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	account, err := g.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get binance account balance")
	}

	balances := make(map[string]decimal.Decimal, len(account.Balances))
	for _, b := range account.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse binance balance for %s", b.Asset)
		}
		if free.GreaterThan(decimal.Zero) {
			balances[b.Asset] = free
		}
	}
	return balances, nil
}
