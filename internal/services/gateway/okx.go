package gateway

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/m4rkovic/crypto-trade/internal/clients"
	"github.com/m4rkovic/crypto-trade/internal/domain"
	"github.com/m4rkovic/crypto-trade/pkg/retrier"
)

type OkxGateway struct {
	client *clients.OkxClient
	// a just-placed market order may not be queryable for a moment
	fillRetrier *retrier.Retrier
}

func NewOkxGateway(client *clients.OkxClient) *OkxGateway {
	return &OkxGateway{
		client: client,
		fillRetrier: retrier.New(
			retrier.WithInitialInterval(100*time.Millisecond),
			retrier.WithMaxRetries(2),
		),
	}
}

func (g *OkxGateway) Venue() string { return "okx" }

func (g *OkxGateway) PlaceMarketOrder(ctx context.Context, pair domain.Pair, side domain.Side, quantity decimal.Decimal) (*Fill, error) {
	quantity = quantity.RoundFloor(4)

	ack, err := g.client.PlaceMarketOrder(ctx, pair.DashSymbol(), string(side), quantity.String())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create okx %s order", side)
	}

	fill := &Fill{ID: ack.OrdID}

	// best-effort read of the average fill price; a missing price falls back
	// to the planned price downstream
	detail, err := retrier.DoWithData(g.fillRetrier, ctx, func(ctx context.Context) (*clients.OkxOrderDetail, error) {
		return g.client.GetOrder(ctx, pair.DashSymbol(), ack.OrdID)
	})
	if err == nil && detail.AvgPx != "" {
		if avg, perr := decimal.NewFromString(detail.AvgPx); perr == nil {
			fill.AvgPrice = avg
		}
	}

	return fill, nil
}

func (g *OkxGateway) FetchBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	details, err := g.client.FetchBalances(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get okx account balance")
	}

	balances := make(map[string]decimal.Decimal, len(details))
	for _, d := range details {
		free, err := decimal.NewFromString(d.AvailBal)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse okx balance for %s", d.Ccy)
		}
		if free.GreaterThan(decimal.Zero) {
			balances[d.Ccy] = free
		}
	}
	return balances, nil
}
