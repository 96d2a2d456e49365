// Package executor places both legs of an arbitrage attempt and classifies
// the joint outcome, unwinding orphaned positions.
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/m4rkovic/crypto-trade/internal/domain"
	"github.com/m4rkovic/crypto-trade/internal/services/gateway"
)

// LegResult is the explicit per-leg outcome. Both legs are always inspected;
// a venue error never unwinds control flow past the leg boundary.
type LegResult struct {
	Venue  string
	Side   domain.Side
	Filled bool
	Fill   *gateway.Fill
	Err    error
}

// Result is the classified outcome of one execution attempt.
type Result struct {
	Outcome       domain.TradeStatus
	Success       bool
	PnL           decimal.Decimal
	RealBuyPrice  decimal.Decimal
	RealSellPrice decimal.Decimal
	BuyLeg        LegResult
	SellLeg       LegResult
	Latency       time.Duration
}

// Executor drives the per-attempt state machine:
// dispatched -> both filled | both failed | orphaned,
// orphaned -> neutralized | neutralization failed.
type Executor struct {
	gateways       map[string]gateway.Gateway
	feeRates       map[string]decimal.Decimal
	unwindLossRate decimal.Decimal
	simulation     bool
	logger         *zap.Logger
}

// New builds an Executor. feeRates holds per-venue taker fee rates (fractions,
// not bps); unwindLossRate is the fixed loss fraction of notional assumed for
// a successful neutralization.
func New(gateways map[string]gateway.Gateway, feeRates map[string]decimal.Decimal, unwindLossRate decimal.Decimal, simulation bool, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		gateways:       gateways,
		feeRates:       feeRates,
		unwindLossRate: unwindLossRate,
		simulation:     simulation,
		logger:         logger,
	}
}

// FeeRate returns the taker fee rate for a venue.
func (e *Executor) FeeRate(venue string) decimal.Decimal {
	return e.feeRates[venue]
}

// Execute dispatches both legs concurrently and waits for both outcomes
// regardless of which fails first. Legs already dispatched are never
// cancelled: an order in an unknown state is worse than a delayed shutdown.
func (e *Executor) Execute(ctx context.Context, opp *domain.Opportunity) Result {
	started := time.Now()

	if e.simulation {
		e.logger.Info("simulated execution", zap.String("opportunity", opp.String()))
		return Result{
			Outcome:       domain.TradeStatusFilled,
			Success:       true,
			PnL:           opp.EstNetProfit,
			RealBuyPrice:  opp.BuyPrice,
			RealSellPrice: opp.SellPrice,
			BuyLeg:        LegResult{Venue: opp.BuyVenue, Side: domain.SideBuy, Filled: true},
			SellLeg:       LegResult{Venue: opp.SellVenue, Side: domain.SideSell, Filled: true},
			Latency:       time.Since(started),
		}
	}

	e.logger.Info("execution triggered", zap.String("opportunity", opp.String()))

	// shutdown must not abort an order that is already on the wire
	orderCtx := context.WithoutCancel(ctx)

	buyLeg := LegResult{Venue: opp.BuyVenue, Side: domain.SideBuy}
	sellLeg := LegResult{Venue: opp.SellVenue, Side: domain.SideSell}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.placeLeg(orderCtx, opp, &buyLeg)
	}()
	go func() {
		defer wg.Done()
		e.placeLeg(orderCtx, opp, &sellLeg)
	}()
	wg.Wait()

	result := e.classify(orderCtx, opp, buyLeg, sellLeg)
	result.Latency = time.Since(started)
	return result
}

func (e *Executor) placeLeg(ctx context.Context, opp *domain.Opportunity, leg *LegResult) {
	gw, ok := e.gateways[leg.Venue]
	if !ok {
		leg.Err = errNoGateway(leg.Venue)
		return
	}

	fill, err := gw.PlaceMarketOrder(ctx, opp.Pair, leg.Side, opp.Quantity)
	if err != nil {
		leg.Err = err
		return
	}
	leg.Filled = true
	leg.Fill = fill
}

func (e *Executor) classify(ctx context.Context, opp *domain.Opportunity, buyLeg, sellLeg LegResult) Result {
	switch {
	case buyLeg.Filled && sellLeg.Filled:
		realBuy := fillPriceOrPlanned(buyLeg.Fill, opp.BuyPrice)
		realSell := fillPriceOrPlanned(sellLeg.Fill, opp.SellPrice)
		pnl := e.realizedPnL(opp, realBuy, realSell)

		e.logger.Info("both legs filled",
			zap.String("pair", opp.Pair.String()),
			zap.String("pnl", pnl.String()))

		return Result{
			Outcome:       domain.TradeStatusFilled,
			Success:       true,
			PnL:           pnl,
			RealBuyPrice:  realBuy,
			RealSellPrice: realSell,
			BuyLeg:        buyLeg,
			SellLeg:       sellLeg,
		}

	case !buyLeg.Filled && !sellLeg.Filled:
		e.logger.Warn("both legs rejected, no exposure",
			zap.String("pair", opp.Pair.String()),
			zap.NamedError("buy_err", buyLeg.Err),
			zap.NamedError("sell_err", sellLeg.Err))

		return Result{
			Outcome: domain.TradeStatusFailed,
			PnL:     decimal.Zero,
			BuyLeg:  buyLeg,
			SellLeg: sellLeg,
		}

	default:
		return e.neutralize(ctx, opp, buyLeg, sellLeg)
	}
}

// neutralize issues an opposing market order for the exact filled quantity on
// the venue where the fill occurred. Exiting the market takes priority over
// profit.
func (e *Executor) neutralize(ctx context.Context, opp *domain.Opportunity, buyLeg, sellLeg LegResult) Result {
	filled := buyLeg
	plannedPrice := opp.BuyPrice
	if sellLeg.Filled {
		filled = sellLeg
		plannedPrice = opp.SellPrice
	}

	e.logger.Error("orphan detected, neutralizing",
		zap.String("pair", opp.Pair.String()),
		zap.String("venue", filled.Venue),
		zap.String("filled_side", string(filled.Side)))

	result := Result{
		PnL:     decimal.Zero,
		BuyLeg:  buyLeg,
		SellLeg: sellLeg,
	}

	gw := e.gateways[filled.Venue]
	if _, err := gw.PlaceMarketOrder(ctx, opp.Pair, filled.Side.Opposite(), opp.Quantity); err != nil {
		// the one state that needs human intervention: retrying an unwind
		// risks compounding exposure
		e.logger.Error("CRITICAL: neutralization failed, position left open",
			zap.String("pair", opp.Pair.String()),
			zap.String("venue", filled.Venue),
			zap.Error(err))
		result.Outcome = domain.TradeStatusNeutralizationFailed
		return result
	}

	// assume the unwind lost the spread, double fees and panic slippage
	result.Outcome = domain.TradeStatusNeutralized
	result.PnL = opp.Quantity.Mul(plannedPrice).Mul(e.unwindLossRate).Neg()

	e.logger.Warn("position neutralized",
		zap.String("pair", opp.Pair.String()),
		zap.String("venue", filled.Venue),
		zap.String("pnl", result.PnL.String()))
	return result
}

func (e *Executor) realizedPnL(opp *domain.Opportunity, realBuy, realSell decimal.Decimal) decimal.Decimal {
	gross := realSell.Sub(realBuy).Mul(opp.Quantity)
	buyFee := opp.Quantity.Mul(realBuy).Mul(e.feeRates[opp.BuyVenue])
	sellFee := opp.Quantity.Mul(realSell).Mul(e.feeRates[opp.SellVenue])
	return gross.Sub(buyFee).Sub(sellFee)
}

func fillPriceOrPlanned(fill *gateway.Fill, planned decimal.Decimal) decimal.Decimal {
	if fill != nil && fill.AvgPrice.GreaterThan(decimal.Zero) {
		return fill.AvgPrice
	}
	return planned
}

type errNoGateway string

func (e errNoGateway) Error() string { return "no gateway for venue " + string(e) }
