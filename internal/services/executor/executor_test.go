package executor

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/m4rkovic/crypto-trade/internal/domain"
	"github.com/m4rkovic/crypto-trade/internal/services/gateway"
)

type placedOrder struct {
	pair     domain.Pair
	side     domain.Side
	quantity decimal.Decimal
}

type fakeGateway struct {
	mu     sync.Mutex
	venue  string
	placed []placedOrder
	// responses are consumed in order, one per PlaceMarketOrder call
	fills []*gateway.Fill
	errs  []error
}

func (f *fakeGateway) Venue() string { return f.venue }

func (f *fakeGateway) PlaceMarketOrder(ctx context.Context, pair domain.Pair, side domain.Side, quantity decimal.Decimal) (*gateway.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := len(f.placed)
	f.placed = append(f.placed, placedOrder{pair: pair, side: side, quantity: quantity})

	if call < len(f.errs) && f.errs[call] != nil {
		return nil, f.errs[call]
	}
	if call < len(f.fills) {
		return f.fills[call], nil
	}
	return &gateway.Fill{ID: "fill"}, nil
}

func (f *fakeGateway) FetchBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	return map[string]decimal.Decimal{}, nil
}

func testOpportunity() *domain.Opportunity {
	return &domain.Opportunity{
		ID:           "test-opp",
		Pair:         domain.Pair{Base: "BTC", Quote: "USDT"},
		BuyVenue:     "binance",
		SellVenue:    "bybit",
		BuyPrice:     decimal.NewFromInt(100),
		SellPrice:    decimal.NewFromInt(101),
		Quantity:     decimal.NewFromInt(1),
		EstNetProfit: decimal.NewFromFloat(0.8),
	}
}

func newTestExecutor(buy, sell *fakeGateway, simulation bool) *Executor {
	fee := decimal.NewFromFloat(0.001)
	return New(
		map[string]gateway.Gateway{"binance": buy, "bybit": sell},
		map[string]decimal.Decimal{"binance": fee, "bybit": fee},
		decimal.NewFromFloat(0.02),
		simulation,
		nil,
	)
}

func TestExecuteBothFilled(t *testing.T) {
	buy := &fakeGateway{venue: "binance", fills: []*gateway.Fill{{ID: "b1", AvgPrice: decimal.NewFromInt(100)}}}
	sell := &fakeGateway{venue: "bybit", fills: []*gateway.Fill{{ID: "s1", AvgPrice: decimal.NewFromInt(101)}}}
	exec := newTestExecutor(buy, sell, false)

	result := exec.Execute(context.Background(), testOpportunity())

	require.Equal(t, domain.TradeStatusFilled, result.Outcome)
	require.True(t, result.Success)
	require.True(t, result.RealBuyPrice.Equal(decimal.NewFromInt(100)))
	require.True(t, result.RealSellPrice.Equal(decimal.NewFromInt(101)))

	// (101-100)*1 - 100*0.001 - 101*0.001
	wantPnL := decimal.NewFromFloat(0.799)
	require.True(t, result.PnL.Equal(wantPnL), "got pnl %s", result.PnL)

	require.Len(t, buy.placed, 1)
	require.Len(t, sell.placed, 1)
	require.Equal(t, domain.SideBuy, buy.placed[0].side)
	require.Equal(t, domain.SideSell, sell.placed[0].side)
}

func TestExecuteFallsBackToPlannedPrice(t *testing.T) {
	// bybit's create-order response carries no fill price
	buy := &fakeGateway{venue: "binance", fills: []*gateway.Fill{{ID: "b1", AvgPrice: decimal.NewFromInt(100)}}}
	sell := &fakeGateway{venue: "bybit", fills: []*gateway.Fill{{ID: "s1"}}}
	exec := newTestExecutor(buy, sell, false)

	result := exec.Execute(context.Background(), testOpportunity())

	require.Equal(t, domain.TradeStatusFilled, result.Outcome)
	require.True(t, result.RealSellPrice.Equal(decimal.NewFromInt(101)))
}

func TestExecuteBothFailed(t *testing.T) {
	buy := &fakeGateway{venue: "binance", errs: []error{errors.New("rejected")}}
	sell := &fakeGateway{venue: "bybit", errs: []error{errors.New("rejected")}}
	exec := newTestExecutor(buy, sell, false)

	result := exec.Execute(context.Background(), testOpportunity())

	require.Equal(t, domain.TradeStatusFailed, result.Outcome)
	require.False(t, result.Success)
	require.True(t, result.PnL.IsZero())
	require.Len(t, buy.placed, 1, "no unwind order on a clean double failure")
	require.Len(t, sell.placed, 1)
}

func TestExecuteOrphanNeutralized(t *testing.T) {
	buy := &fakeGateway{venue: "binance", fills: []*gateway.Fill{
		{ID: "b1", AvgPrice: decimal.NewFromInt(100)},
		{ID: "unwind"},
	}}
	sell := &fakeGateway{venue: "bybit", errs: []error{errors.New("rejected")}}
	exec := newTestExecutor(buy, sell, false)

	result := exec.Execute(context.Background(), testOpportunity())

	require.Equal(t, domain.TradeStatusNeutralized, result.Outcome)
	require.False(t, result.Success)

	// fixed loss estimate: qty * planned price * unwind rate
	wantPnL := decimal.NewFromInt(-2)
	require.True(t, result.PnL.Equal(wantPnL), "got pnl %s", result.PnL)

	require.Len(t, buy.placed, 2)
	unwind := buy.placed[1]
	require.Equal(t, domain.SideSell, unwind.side)
	require.True(t, unwind.quantity.Equal(decimal.NewFromInt(1)), "unwind must match the filled quantity exactly")
}

func TestExecuteSellOrphanNeutralized(t *testing.T) {
	buy := &fakeGateway{venue: "binance", errs: []error{errors.New("rejected")}}
	sell := &fakeGateway{venue: "bybit", fills: []*gateway.Fill{
		{ID: "s1", AvgPrice: decimal.NewFromInt(101)},
		{ID: "unwind"},
	}}
	exec := newTestExecutor(buy, sell, false)

	result := exec.Execute(context.Background(), testOpportunity())

	require.Equal(t, domain.TradeStatusNeutralized, result.Outcome)
	require.Len(t, sell.placed, 2)
	require.Equal(t, domain.SideBuy, sell.placed[1].side)

	// loss estimated against the sell leg's planned price
	wantPnL := decimal.NewFromFloat(-2.02)
	require.True(t, result.PnL.Equal(wantPnL), "got pnl %s", result.PnL)
}

func TestExecuteNeutralizationFailed(t *testing.T) {
	buy := &fakeGateway{venue: "binance",
		fills: []*gateway.Fill{{ID: "b1", AvgPrice: decimal.NewFromInt(100)}, nil},
		errs:  []error{nil, errors.New("venue down")},
	}
	sell := &fakeGateway{venue: "bybit", errs: []error{errors.New("rejected")}}
	exec := newTestExecutor(buy, sell, false)

	result := exec.Execute(context.Background(), testOpportunity())

	require.Equal(t, domain.TradeStatusNeutralizationFailed, result.Outcome)
	require.False(t, result.Success)
	require.True(t, result.PnL.IsZero(), "open exposure carries no realized pnl")
}

func TestExecuteSimulation(t *testing.T) {
	buy := &fakeGateway{venue: "binance"}
	sell := &fakeGateway{venue: "bybit"}
	exec := newTestExecutor(buy, sell, true)

	opp := testOpportunity()
	result := exec.Execute(context.Background(), opp)

	require.Equal(t, domain.TradeStatusFilled, result.Outcome)
	require.True(t, result.Success)
	require.True(t, result.PnL.Equal(opp.EstNetProfit))
	require.Empty(t, buy.placed, "simulation must not touch the venue")
	require.Empty(t, sell.placed)
}
