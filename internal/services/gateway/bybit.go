package gateway

import (
	"context"

	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/m4rkovic/crypto-trade/internal/domain"
)

type BybitGateway struct {
	client *bybit.Client
}

func NewBybitGateway(client *bybit.Client) *BybitGateway {
	return &BybitGateway{client: client}
}

func (g *BybitGateway) Venue() string { return "bybit" }

func (g *BybitGateway) PlaceMarketOrder(ctx context.Context, pair domain.Pair, side domain.Side, quantity decimal.Decimal) (*Fill, error) {
	quantity = quantity.RoundFloor(4)

	bybitSide := bybit.SideBuy
	if side == domain.SideSell {
		bybitSide = bybit.SideSell
	}

	res, err := g.client.V5().Order().CreateOrder(bybit.V5CreateOrderParam{
		Category:  bybit.CategoryV5Spot,
		Symbol:    bybit.SymbolV5(pair.Symbol()),
		Side:      bybitSide,
		OrderType: bybit.OrderTypeMarket,
		Qty:       quantity.String(),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create bybit %s order", side)
	}

	// bybit does not return the fill price in the create response; callers
	// fall back to the planned price
	return &Fill{ID: res.Result.OrderID}, nil
}

func (g *BybitGateway) FetchBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	res, err := g.client.V5().Account().GetWalletBalance(bybit.AccountTypeV5("UNIFIED"), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get bybit wallet balance")
	}

	balances := make(map[string]decimal.Decimal)
	for _, account := range res.Result.List {
		for _, coin := range account.Coin {
			free, err := decimal.NewFromString(coin.WalletBalance)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to parse bybit balance for %s", coin.Coin)
			}
			if free.GreaterThan(decimal.Zero) {
				balances[string(coin.Coin)] = free
			}
		}
	}
	return balances, nil
}
