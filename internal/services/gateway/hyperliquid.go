package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	hyperliquid "github.com/sonirico/go-hyperliquid"

	"github.com/m4rkovic/crypto-trade/internal/domain"
)

// hyperliquidSlippage bounds the synthetic limit price used to emulate a
// market order with an IOC limit.
const hyperliquidSlippage = 0.005

type HyperliquidGateway struct {
	ex          *hyperliquid.Exchange
	info        *hyperliquid.Info
	accountAddr string
}

func NewHyperliquidGateway(ex *hyperliquid.Exchange, accountAddr string) (*HyperliquidGateway, error) {
	if ex == nil {
		return nil, fmt.Errorf("hyperliquid exchange is nil")
	}
	return &HyperliquidGateway{ex: ex, info: ex.Info(), accountAddr: accountAddr}, nil
}

func (g *HyperliquidGateway) Venue() string { return "hyperliquid" }

// cloid converts a free-form id into a valid Hyperliquid cloid (0x + 32 hex chars).
func cloid(id string) string {
	s := strings.TrimSpace(id)
	if s == "" {
		s = fmt.Sprintf("%d", time.Now().UnixNano())
	}
	sum := sha256.Sum256([]byte(s))
	return "0x" + hex.EncodeToString(sum[:16])
}

func (g *HyperliquidGateway) PlaceMarketOrder(ctx context.Context, pair domain.Pair, side domain.Side, quantity decimal.Decimal) (*Fill, error) {
	size, _ := quantity.Round(8).Float64()
	isBuy := side == domain.SideBuy

	px, err := g.ex.SlippagePrice(ctx, pair.Base, isBuy, hyperliquidSlippage, nil)
	if err != nil {
		return nil, errors.Wrap(err, "slippage price")
	}

	orderID := cloid(fmt.Sprintf("%s-%s-%d", pair.Symbol(), side, time.Now().UnixNano()))
	req := hyperliquid.CreateOrderRequest{
		Coin:          pair.Base,
		IsBuy:         isBuy,
		Price:         px,
		Size:          size,
		ClientOrderID: &orderID,
		OrderType: hyperliquid.OrderType{
			Limit: &hyperliquid.LimitOrderType{Tif: hyperliquid.TifIoc},
		},
	}

	if _, err := g.ex.Order(ctx, req, nil); err != nil {
		return nil, errors.Wrapf(err, "failed to create hyperliquid %s order", side)
	}

	// fill price is not part of the order response; callers fall back to the
	// planned price
	return &Fill{ID: orderID}, nil
}

func (g *HyperliquidGateway) FetchBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	st, err := g.info.SpotUserState(ctx, g.accountAddr)
	if err != nil {
		return nil, errors.Wrap(err, "get spot user state")
	}

	balances := make(map[string]decimal.Decimal, len(st.Balances))
	for _, b := range st.Balances {
		free, err := decimal.NewFromString(b.Total)
		if err != nil {
			continue
		}
		if free.GreaterThan(decimal.Zero) {
			balances[b.Coin] = free
		}
	}
	return balances, nil
}
