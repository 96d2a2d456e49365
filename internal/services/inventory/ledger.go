// Package inventory tracks per-venue, per-currency balances: a confirmed
// amount from periodic authoritative sync and a locked amount for in-process
// reservations.
package inventory

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/m4rkovic/crypto-trade/internal/domain"
)

// BalanceSource is the per-venue balance-query capability the ledger syncs
// against.
type BalanceSource interface {
	Venue() string
	FetchBalances(ctx context.Context) (map[string]decimal.Decimal, error)
}

// Ledger is the in-process balance book. Invariant: for every (venue,
// currency), confirmed - locked >= 0; locked changes only via Reserve (+) and
// Rollback/ConfirmFill (-), and every successful reservation is released by
// exactly one of the two.
type Ledger struct {
	mu        sync.Mutex
	sources   []BalanceSource
	confirmed map[string]map[string]decimal.Decimal
	locked    map[string]map[string]decimal.Decimal
	logger    *zap.Logger
}

func NewLedger(sources []BalanceSource, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		sources:   sources,
		confirmed: make(map[string]map[string]decimal.Decimal),
		locked:    make(map[string]map[string]decimal.Decimal),
		logger:    logger,
	}
}

// Available returns confirmed minus locked, floored at zero.
func (l *Ledger) Available(venue, currency string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.availableLocked(venue, currency)
}

func (l *Ledger) availableLocked(venue, currency string) decimal.Decimal {
	confirmed := l.confirmed[venue][currency]
	locked := l.locked[venue][currency]
	available := confirmed.Sub(locked)
	if available.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	return available
}

// Reserve locks funds ahead of order placement. The availability check and
// the lock increment are one atomic step with respect to concurrent
// reservations for the same key.
func (l *Ledger) Reserve(venue, currency string, amount decimal.Decimal) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.availableLocked(venue, currency).LessThan(amount) {
		return false
	}

	venueLocks, ok := l.locked[venue]
	if !ok {
		venueLocks = make(map[string]decimal.Decimal)
		l.locked[venue] = venueLocks
	}
	venueLocks[currency] = venueLocks[currency].Add(amount)
	return true
}

// Rollback releases a reservation after a failed attempt, floored at zero.
func (l *Ledger) Rollback(venue, currency string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollbackLocked(venue, currency, amount)
}

func (l *Ledger) rollbackLocked(venue, currency string, amount decimal.Decimal) {
	venueLocks, ok := l.locked[venue]
	if !ok {
		return
	}
	remaining := venueLocks[currency].Sub(amount)
	if remaining.LessThan(decimal.Zero) {
		remaining = decimal.Zero
	}
	venueLocks[currency] = remaining
}

// ConfirmFill mutates confirmed balances to reflect a completed fill and
// releases the corresponding lock. The lock release is sized by reserved, the
// exact amount taken by the earlier Reserve; the confirmed mutation uses the
// real fill price, which may differ. Releasing the fill cost instead would
// consume or leak part of a concurrent reservation on the same key. The local
// mutation is authoritative until overwritten by the next Sync.
func (l *Ledger) ConfirmFill(venue string, pair domain.Pair, side domain.Side, amount, price, reserved, feeRate decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cost := amount.Mul(price)
	oneMinusFee := decimal.NewFromInt(1).Sub(feeRate)

	venueBalances, ok := l.confirmed[venue]
	if !ok {
		venueBalances = make(map[string]decimal.Decimal)
		l.confirmed[venue] = venueBalances
	}

	switch side {
	case domain.SideBuy:
		l.rollbackLocked(venue, pair.Quote, reserved)

		quote := venueBalances[pair.Quote].Sub(cost)
		if quote.LessThan(decimal.Zero) {
			quote = decimal.Zero
		}
		venueBalances[pair.Quote] = quote
		venueBalances[pair.Base] = venueBalances[pair.Base].Add(amount.Mul(oneMinusFee))

	case domain.SideSell:
		l.rollbackLocked(venue, pair.Base, reserved)

		base := venueBalances[pair.Base].Sub(amount)
		if base.LessThan(decimal.Zero) {
			base = decimal.Zero
		}
		venueBalances[pair.Base] = base
		venueBalances[pair.Quote] = venueBalances[pair.Quote].Add(cost.Mul(oneMinusFee))
	}

	l.logger.Info("ledger updated from fill",
		zap.String("venue", venue),
		zap.String("pair", pair.String()),
		zap.String("side", string(side)),
		zap.String("amount", amount.String()),
		zap.String("price", price.String()))
}

// Sync fetches authoritative balances per venue and wholesale-replaces the
// confirmed amounts, resetting that venue's locks to zero in the same pass.
//
// Known race, kept deliberately: a reservation or fill confirmation that lands
// between the snapshot fetch and the ledger swap is erased by the swap. Making
// reconciliation and reservation mutually exclusive is a possible
// re-architecture, not current behavior.
func (l *Ledger) Sync(ctx context.Context) error {
	type snapshot struct {
		venue    string
		balances map[string]decimal.Decimal
	}

	snapshots := make([]snapshot, 0, len(l.sources))
	for _, source := range l.sources {
		balances, err := source.FetchBalances(ctx)
		if err != nil {
			l.logger.Error("failed to sync balance",
				zap.String("venue", source.Venue()), zap.Error(err))
			continue
		}
		snapshots = append(snapshots, snapshot{venue: source.Venue(), balances: balances})
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range snapshots {
		confirmed := make(map[string]decimal.Decimal, len(s.balances))
		for currency, amount := range s.balances {
			if amount.GreaterThan(decimal.Zero) {
				confirmed[currency] = amount
			}
		}
		l.confirmed[s.venue] = confirmed
		l.locked[s.venue] = make(map[string]decimal.Decimal)
	}

	l.logger.Debug("inventory synchronized", zap.Int("venues", len(snapshots)))
	return ctx.Err()
}

// RunLoop re-syncs on a fixed timer until ctx is cancelled.
func (l *Ledger) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := l.Sync(ctx); err != nil {
				return err
			}
		}
	}
}
