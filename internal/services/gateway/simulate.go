package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/m4rkovic/crypto-trade/internal/domain"
)

// SimulateGateway is an in-memory venue used in simulation runs. The execution
// service synthesizes fills before reaching the gateway, so order placement
// only logs and acknowledges; balances come from a seeded wallet so that the
// inventory ledger and sync loop behave as in a live run.
type SimulateGateway struct {
	mu     sync.RWMutex
	venue  string
	wallet map[string]decimal.Decimal
	logger *zap.Logger
}

func NewSimulateGateway(venue string, instruments []domain.Pair, logger *zap.Logger) *SimulateGateway {
	if logger == nil {
		logger = zap.NewNop()
	}

	wallet := make(map[string]decimal.Decimal)
	for _, pair := range instruments {
		wallet[pair.Base] = decimal.NewFromInt(10)
		wallet[pair.Quote] = decimal.NewFromInt(10000)
	}

	return &SimulateGateway{venue: venue, wallet: wallet, logger: logger}
}

func (g *SimulateGateway) Venue() string { return g.venue }

func (g *SimulateGateway) PlaceMarketOrder(ctx context.Context, pair domain.Pair, side domain.Side, quantity decimal.Decimal) (*Fill, error) {
	g.logger.Info("simulated order",
		zap.String("venue", g.venue),
		zap.String("pair", pair.String()),
		zap.String("side", string(side)),
		zap.String("qty", quantity.String()))

	return &Fill{ID: fmt.Sprintf("sim-%d", time.Now().UnixNano())}, nil
}

func (g *SimulateGateway) FetchBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	balances := make(map[string]decimal.Decimal, len(g.wallet))
	for currency, amount := range g.wallet {
		balances[currency] = amount
	}
	return balances, nil
}
