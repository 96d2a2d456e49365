// Package risk gates every trade attempt: stateless quote sanity checks and a
// stateful approval pipeline with a one-way kill-switch.
package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/m4rkovic/crypto-trade/internal/domain"
)

// Limits configures the gate.
type Limits struct {
	MaxQuoteAge            time.Duration
	MinSpreadBps           decimal.Decimal
	MaxDailyDrawdown       decimal.Decimal
	MaxTradeExposure       decimal.Decimal
	MaxConsecutiveFailures int
}

// Status is a snapshot of the gate's running statistics.
type Status struct {
	SessionPnL       decimal.Decimal `json:"session_pnl"`
	Attempts         int             `json:"attempts"`
	Successes        int             `json:"successes"`
	Failures         int             `json:"failures"`
	ConsecutiveFails int             `json:"consecutive_fails"`
	KillSwitch       bool            `json:"kill_switch"`
}

// Gate holds the per-session risk state. The kill-switch, once set, is never
// cleared for the lifetime of the process.
type Gate struct {
	mu     sync.Mutex
	limits Limits
	logger *zap.Logger

	sessionPnL       decimal.Decimal
	attempts         int
	successes        int
	failures         int
	consecutiveFails int
	killSwitch       bool
}

func NewGate(limits Limits, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{limits: limits, logger: logger, sessionPnL: decimal.Zero}
}

// ValidateQuote rejects stale or anomalous market data. Old data is toxic: it
// leads to fills far from the observed price.
func (g *Gate) ValidateQuote(q domain.Quote) bool {
	if q.Age() > g.limits.MaxQuoteAge {
		return false
	}
	if q.Bid.LessThanOrEqual(decimal.Zero) || q.Ask.LessThanOrEqual(decimal.Zero) {
		return false
	}
	return true
}

// Approve is the final gatekeeper for a specific opportunity. Checks run in a
// fixed order and short-circuit: kill-switch, spread floor, drawdown limit,
// exposure cap.
func (g *Gate) Approve(spreadBps, notional decimal.Decimal) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.killSwitch {
		return false
	}

	if spreadBps.LessThan(g.limits.MinSpreadBps) {
		return false
	}

	if g.sessionPnL.LessThan(g.limits.MaxDailyDrawdown.Neg()) {
		g.logger.Error("max drawdown hit, engaging kill-switch",
			zap.String("session_pnl", g.sessionPnL.String()))
		g.killSwitch = true
		return false
	}

	if notional.GreaterThan(g.limits.MaxTradeExposure) {
		g.logger.Warn("trade exceeds exposure cap",
			zap.String("notional", notional.String()),
			zap.String("cap", g.limits.MaxTradeExposure.String()))
		return false
	}

	return true
}

// RecordResult accumulates the outcome of an attempt. A failure streak at the
// configured threshold engages the kill-switch.
func (g *Gate) RecordResult(success bool, pnl decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.sessionPnL = g.sessionPnL.Add(pnl)
	g.attempts++

	if success {
		g.successes++
		g.consecutiveFails = 0
		return
	}

	g.failures++
	g.consecutiveFails++
	if g.consecutiveFails >= g.limits.MaxConsecutiveFailures {
		g.logger.Error("kill-switch engaged after consecutive execution failures",
			zap.Int("consecutive_fails", g.consecutiveFails))
		g.killSwitch = true
	}
}

// KillSwitch reports whether the gate has halted new approvals.
func (g *Gate) KillSwitch() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.killSwitch
}

// Snapshot returns the running statistics.
func (g *Gate) Snapshot() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Status{
		SessionPnL:       g.sessionPnL,
		Attempts:         g.attempts,
		Successes:        g.successes,
		Failures:         g.failures,
		ConsecutiveFails: g.consecutiveFails,
		KillSwitch:       g.killSwitch,
	}
}
