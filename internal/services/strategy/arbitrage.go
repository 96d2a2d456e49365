// Package strategy detects cross-venue price discrepancies from the local
// quote cache and drives qualified opportunities through reservation,
// execution and settlement.
package strategy

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/m4rkovic/crypto-trade/internal/domain"
	"github.com/m4rkovic/crypto-trade/internal/services/executor"
)

var bpsDenominator = decimal.NewFromInt(10000)

type inventoryBook interface {
	Available(venue, currency string) decimal.Decimal
	Reserve(venue, currency string, amount decimal.Decimal) bool
	Rollback(venue, currency string, amount decimal.Decimal)
	ConfirmFill(venue string, pair domain.Pair, side domain.Side, amount, price, reserved, feeRate decimal.Decimal)
}

type riskGate interface {
	ValidateQuote(q domain.Quote) bool
	Approve(spreadBps, notional decimal.Decimal) bool
	RecordResult(success bool, pnl decimal.Decimal)
	KillSwitch() bool
}

type tradeExecutor interface {
	Execute(ctx context.Context, opp *domain.Opportunity) executor.Result
	FeeRate(venue string) decimal.Decimal
}

type tradeJournal interface {
	Append(record domain.TradeRecord) error
}

// Params are the detection thresholds, all ratios expressed in basis points.
type Params struct {
	Venues         []string
	TargetNotional decimal.Decimal
	MinNotional    decimal.Decimal
	MinSpreadBps   decimal.Decimal
	MaxSpreadBps   decimal.Decimal
	SlippageBps    decimal.Decimal
	Cooldown       time.Duration
	Permissive     bool
}

// Arbitrage holds the latest quote per (instrument, venue) and re-evaluates an
// instrument on every quote for it. At most one opportunity per instrument is
// in flight at a time.
type Arbitrage struct {
	params  Params
	ledger  inventoryBook
	gate    riskGate
	exec    tradeExecutor
	journal tradeJournal
	logger  *zap.Logger

	mu            sync.Mutex
	quotes        map[string]map[string]domain.Quote
	inFlight      map[string]bool
	cooldownUntil map[string]time.Time
}

func NewArbitrage(params Params, ledger inventoryBook, gate riskGate, exec tradeExecutor, journal tradeJournal, logger *zap.Logger) *Arbitrage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Arbitrage{
		params:        params,
		ledger:        ledger,
		gate:          gate,
		exec:          exec,
		journal:       journal,
		logger:        logger,
		quotes:        make(map[string]map[string]domain.Quote),
		inFlight:      make(map[string]bool),
		cooldownUntil: make(map[string]time.Time),
	}
}

// OnQuote overwrites the cached quote for its (instrument, venue) slot and
// re-evaluates only that instrument. Safe for concurrent calls from multiple
// venue streams.
func (a *Arbitrage) OnQuote(ctx context.Context, q domain.Quote) {
	instrument := q.Pair.String()

	a.mu.Lock()
	venueQuotes, ok := a.quotes[instrument]
	if !ok {
		venueQuotes = make(map[string]domain.Quote)
		a.quotes[instrument] = venueQuotes
	}
	venueQuotes[q.Venue] = q

	if a.inFlight[instrument] || time.Now().Before(a.cooldownUntil[instrument]) || len(venueQuotes) < 2 {
		a.mu.Unlock()
		return
	}

	snapshot := make(map[string]domain.Quote, len(venueQuotes))
	for venue, quote := range venueQuotes {
		snapshot[venue] = quote
	}
	a.mu.Unlock()

	opp := a.detect(q.Pair, snapshot)
	if opp == nil {
		return
	}
	if !a.gate.Approve(opp.GrossSpreadBps, opp.Notional()) {
		return
	}
	if !a.reserveLegs(opp) {
		return
	}

	a.mu.Lock()
	if a.inFlight[instrument] {
		a.mu.Unlock()
		a.releaseLegs(opp)
		return
	}
	a.inFlight[instrument] = true
	a.mu.Unlock()

	// execution must not stall quote ingestion for this or any other venue
	go a.run(ctx, opp)
}

// detect scans every ordered venue pair and returns the first one that
// qualifies end to end. Venues are scanned in configured order, so scan order
// is deterministic for a given cache state.
func (a *Arbitrage) detect(pair domain.Pair, quotes map[string]domain.Quote) *domain.Opportunity {
	for _, buyVenue := range a.params.Venues {
		buyQuote, ok := quotes[buyVenue]
		if !ok {
			continue
		}
		for _, sellVenue := range a.params.Venues {
			if sellVenue == buyVenue {
				continue
			}
			sellQuote, ok := quotes[sellVenue]
			if !ok {
				continue
			}
			if opp := a.evaluate(pair, buyQuote, sellQuote); opp != nil {
				return opp
			}
		}
	}
	return nil
}

func (a *Arbitrage) evaluate(pair domain.Pair, buyQuote, sellQuote domain.Quote) *domain.Opportunity {
	buyPrice := buyQuote.Ask
	sellPrice := sellQuote.Bid
	if buyPrice.LessThanOrEqual(decimal.Zero) || sellPrice.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	if buyPrice.GreaterThanOrEqual(sellPrice) {
		return nil
	}

	spreadBps := sellPrice.Sub(buyPrice).Div(buyPrice).Mul(bpsDenominator)

	// spreads beyond the ceiling are corrupt feed data, not opportunities
	if spreadBps.GreaterThan(a.params.MaxSpreadBps) {
		a.logger.Warn("anomalous spread discarded",
			zap.String("pair", pair.String()),
			zap.String("buy_venue", buyQuote.Venue),
			zap.String("sell_venue", sellQuote.Venue),
			zap.String("spread_bps", spreadBps.StringFixed(1)))
		return nil
	}
	if spreadBps.LessThan(a.params.MinSpreadBps) {
		return nil
	}

	if !a.gate.ValidateQuote(buyQuote) || !a.gate.ValidateQuote(sellQuote) {
		if !a.params.Permissive {
			return nil
		}
		a.logger.Debug("trading on stale quote",
			zap.String("pair", pair.String()),
			zap.String("buy_venue", buyQuote.Venue),
			zap.String("sell_venue", sellQuote.Venue))
	}

	quantity := a.sizeQuantity(pair, buyQuote, sellQuote)
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	notional := quantity.Mul(buyPrice)
	if notional.LessThan(a.params.MinNotional) {
		return nil
	}

	netProfit := a.estimateNetProfit(buyQuote.Venue, sellQuote.Venue, buyPrice, sellPrice, quantity)
	if netProfit.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	opp := &domain.Opportunity{
		ID:             domain.NewOpportunityID(pair),
		Pair:           pair,
		BuyVenue:       buyQuote.Venue,
		SellVenue:      sellQuote.Venue,
		BuyPrice:       buyPrice,
		SellPrice:      sellPrice,
		Quantity:       quantity,
		GrossSpreadBps: spreadBps,
		EstNetProfit:   netProfit,
		CreatedAt:      time.Now(),
	}
	a.logger.Info("opportunity detected", zap.String("opportunity", opp.String()))
	return opp
}

// sizeQuantity caps the target quantity by visible book depth and by funds on
// both venues. A zero book size means the feed does not report depth, not an
// empty book, and never caps.
func (a *Arbitrage) sizeQuantity(pair domain.Pair, buyQuote, sellQuote domain.Quote) decimal.Decimal {
	quantity := a.params.TargetNotional.Div(buyQuote.Ask)

	if buyQuote.AskSize.GreaterThan(decimal.Zero) && buyQuote.AskSize.LessThan(quantity) {
		quantity = buyQuote.AskSize
	}
	if sellQuote.BidSize.GreaterThan(decimal.Zero) && sellQuote.BidSize.LessThan(quantity) {
		quantity = sellQuote.BidSize
	}

	affordable := a.ledger.Available(buyQuote.Venue, pair.Quote).Div(buyQuote.Ask)
	if affordable.LessThan(quantity) {
		quantity = affordable
	}
	sellable := a.ledger.Available(sellQuote.Venue, pair.Base)
	if sellable.LessThan(quantity) {
		quantity = sellable
	}
	return quantity
}

func (a *Arbitrage) estimateNetProfit(buyVenue, sellVenue string, buyPrice, sellPrice, quantity decimal.Decimal) decimal.Decimal {
	gross := sellPrice.Sub(buyPrice).Mul(quantity)

	buyNotional := quantity.Mul(buyPrice)
	sellNotional := quantity.Mul(sellPrice)

	fees := buyNotional.Mul(a.exec.FeeRate(buyVenue)).Add(sellNotional.Mul(a.exec.FeeRate(sellVenue)))
	slippage := buyNotional.Add(sellNotional).Mul(a.params.SlippageBps).Div(bpsDenominator)

	return gross.Sub(fees).Sub(slippage)
}

// reserveLegs locks the quote currency on the buy venue and the base currency
// on the sell venue. On a partial reservation the held leg is rolled back
// before returning.
func (a *Arbitrage) reserveLegs(opp *domain.Opportunity) bool {
	cost := opp.Quantity.Mul(opp.BuyPrice)
	if !a.ledger.Reserve(opp.BuyVenue, opp.Pair.Quote, cost) {
		a.logger.Warn("insufficient funds for buy leg",
			zap.String("venue", opp.BuyVenue),
			zap.String("needed", cost.String()))
		return false
	}
	if !a.ledger.Reserve(opp.SellVenue, opp.Pair.Base, opp.Quantity) {
		a.ledger.Rollback(opp.BuyVenue, opp.Pair.Quote, cost)
		a.logger.Warn("insufficient inventory for sell leg",
			zap.String("venue", opp.SellVenue),
			zap.String("needed", opp.Quantity.String()))
		return false
	}
	return true
}

func (a *Arbitrage) releaseLegs(opp *domain.Opportunity) {
	a.ledger.Rollback(opp.BuyVenue, opp.Pair.Quote, opp.Quantity.Mul(opp.BuyPrice))
	a.ledger.Rollback(opp.SellVenue, opp.Pair.Base, opp.Quantity)
}

// run executes one reserved opportunity, settles the ledger per outcome and
// opens the per-instrument cooldown window.
func (a *Arbitrage) run(ctx context.Context, opp *domain.Opportunity) {
	result := a.exec.Execute(ctx, opp)

	switch result.Outcome {
	case domain.TradeStatusFilled:
		// locks were taken at planned prices; release exactly those amounts
		// while confirmed balances move at the real fill prices
		a.ledger.ConfirmFill(opp.BuyVenue, opp.Pair, domain.SideBuy,
			opp.Quantity, result.RealBuyPrice, opp.Quantity.Mul(opp.BuyPrice), a.exec.FeeRate(opp.BuyVenue))
		a.ledger.ConfirmFill(opp.SellVenue, opp.Pair, domain.SideSell,
			opp.Quantity, result.RealSellPrice, opp.Quantity, a.exec.FeeRate(opp.SellVenue))
	default:
		// failed, neutralized or worse: local balances are unreliable either
		// way, release the locks and let the next sync reconcile
		a.releaseLegs(opp)
	}

	a.gate.RecordResult(result.Success, result.PnL)

	record := domain.TradeRecord{
		Timestamp:     time.Now(),
		Pair:          opp.Pair.String(),
		BuyVenue:      opp.BuyVenue,
		SellVenue:     opp.SellVenue,
		Quantity:      opp.Quantity,
		RealBuyPrice:  result.RealBuyPrice,
		RealSellPrice: result.RealSellPrice,
		RealizedPnL:   result.PnL,
		LatencyMs:     result.Latency.Milliseconds(),
		SlippageBps:   a.slippageBps(opp, result),
		Outcome:       result.Outcome,
	}
	if err := a.journal.Append(record); err != nil {
		a.logger.Error("failed to journal trade", zap.Error(err))
	}

	instrument := opp.Pair.String()
	a.mu.Lock()
	a.inFlight[instrument] = false
	a.cooldownUntil[instrument] = time.Now().Add(a.params.Cooldown)
	a.mu.Unlock()

	a.logger.Info("attempt settled",
		zap.String("opportunity_id", opp.ID),
		zap.String("outcome", string(result.Outcome)),
		zap.String("pnl", result.PnL.String()))
}

// slippageBps measures realized buy-side slippage against the planned price.
func (a *Arbitrage) slippageBps(opp *domain.Opportunity, result executor.Result) decimal.Decimal {
	if result.Outcome != domain.TradeStatusFilled || result.RealBuyPrice.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return result.RealBuyPrice.Sub(opp.BuyPrice).Div(opp.BuyPrice).Mul(bpsDenominator)
}
