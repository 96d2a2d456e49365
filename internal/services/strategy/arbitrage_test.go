package strategy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/m4rkovic/crypto-trade/internal/domain"
	"github.com/m4rkovic/crypto-trade/internal/services/executor"
)

type fakeLedger struct {
	mu        sync.Mutex
	funds     map[string]decimal.Decimal
	rollbacks int
	confirms  int
}

func newFakeLedger(funds map[string]decimal.Decimal) *fakeLedger {
	return &fakeLedger{funds: funds}
}

func (f *fakeLedger) key(venue, currency string) string { return venue + "/" + currency }

func (f *fakeLedger) Available(venue, currency string) decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.funds[f.key(venue, currency)]
}

func (f *fakeLedger) Reserve(venue, currency string, amount decimal.Decimal) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.funds[f.key(venue, currency)].LessThan(amount) {
		return false
	}
	f.funds[f.key(venue, currency)] = f.funds[f.key(venue, currency)].Sub(amount)
	return true
}

func (f *fakeLedger) Rollback(venue, currency string, amount decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rollbacks++
	f.funds[f.key(venue, currency)] = f.funds[f.key(venue, currency)].Add(amount)
}

func (f *fakeLedger) ConfirmFill(venue string, pair domain.Pair, side domain.Side, amount, price, reserved, feeRate decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirms++
}

type fakeGate struct {
	mu        sync.Mutex
	maxAge    time.Duration
	approveOK bool
	approvals int
	results   []decimal.Decimal
}

func (f *fakeGate) ValidateQuote(q domain.Quote) bool {
	return q.Age() <= f.maxAge && q.Bid.GreaterThan(decimal.Zero) && q.Ask.GreaterThan(decimal.Zero)
}

func (f *fakeGate) Approve(spreadBps, notional decimal.Decimal) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approvals++
	return f.approveOK
}

func (f *fakeGate) RecordResult(success bool, pnl decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, pnl)
}

func (f *fakeGate) KillSwitch() bool { return false }

type fakeExec struct {
	mu       sync.Mutex
	result   executor.Result
	executed []*domain.Opportunity
	block    chan struct{}
}

func (f *fakeExec) Execute(ctx context.Context, opp *domain.Opportunity) executor.Result {
	f.mu.Lock()
	f.executed = append(f.executed, opp)
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	return f.result
}

func (f *fakeExec) FeeRate(venue string) decimal.Decimal { return decimal.NewFromFloat(0.001) }

func (f *fakeExec) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.executed)
}

type fakeJournal struct {
	mu      sync.Mutex
	records []domain.TradeRecord
}

func (f *fakeJournal) Append(record domain.TradeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return nil
}

func (f *fakeJournal) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func testParams() Params {
	return Params{
		Venues:         []string{"binance", "bybit"},
		TargetNotional: decimal.NewFromInt(100),
		MinNotional:    decimal.NewFromInt(10),
		MinSpreadBps:   decimal.NewFromInt(20),
		MaxSpreadBps:   decimal.NewFromInt(500),
		SlippageBps:    decimal.NewFromInt(5),
		Cooldown:       time.Hour,
	}
}

func richLedger() *fakeLedger {
	return newFakeLedger(map[string]decimal.Decimal{
		"binance/USDT": decimal.NewFromInt(1000),
		"bybit/BTC":    decimal.NewFromInt(1),
	})
}

func filledResult() executor.Result {
	return executor.Result{
		Outcome:       domain.TradeStatusFilled,
		Success:       true,
		PnL:           decimal.NewFromFloat(0.6985),
		RealBuyPrice:  decimal.NewFromInt(50000),
		RealSellPrice: decimal.NewFromInt(50500),
	}
}

var testPair = domain.Pair{Base: "BTC", Quote: "USDT"}

func quoteAt(venue string, bid, ask decimal.Decimal, observedAt time.Time) domain.Quote {
	return domain.Quote{
		Venue:      venue,
		Pair:       testPair,
		Bid:        bid,
		BidSize:    decimal.NewFromInt(1),
		Ask:        ask,
		AskSize:    decimal.NewFromInt(1),
		ObservedAt: observedAt,
	}
}

// binance ask 50000 against bybit bid 50500: a 100 bps gross spread.
func spreadQuotes() (domain.Quote, domain.Quote) {
	now := time.Now()
	binance := quoteAt("binance", decimal.NewFromInt(49990), decimal.NewFromInt(50000), now)
	bybit := quoteAt("bybit", decimal.NewFromInt(50500), decimal.NewFromInt(50510), now)
	return binance, bybit
}

func newTestArbitrage(ledger *fakeLedger, exec *fakeExec) (*Arbitrage, *fakeGate, *fakeJournal) {
	gate := &fakeGate{maxAge: 2 * time.Second, approveOK: true}
	journal := &fakeJournal{}
	arb := NewArbitrage(testParams(), ledger, gate, exec, journal, nil)
	return arb, gate, journal
}

func TestDetectAndExecuteProfitableSpread(t *testing.T) {
	ledger := richLedger()
	exec := &fakeExec{result: filledResult()}
	arb, gate, journal := newTestArbitrage(ledger, exec)

	ctx := context.Background()
	binance, bybit := spreadQuotes()
	arb.OnQuote(ctx, binance)
	require.Equal(t, 0, exec.count(), "single venue cannot arb")

	arb.OnQuote(ctx, bybit)
	require.Eventually(t, func() bool { return journal.count() == 1 }, time.Second, 5*time.Millisecond)

	require.Equal(t, 1, exec.count())
	opp := exec.executed[0]
	require.Equal(t, "binance", opp.BuyVenue)
	require.Equal(t, "bybit", opp.SellVenue)
	require.True(t, opp.BuyPrice.Equal(decimal.NewFromInt(50000)))
	require.True(t, opp.SellPrice.Equal(decimal.NewFromInt(50500)))
	require.True(t, opp.GrossSpreadBps.Equal(decimal.NewFromInt(100)))
	require.True(t, opp.Quantity.Equal(decimal.NewFromFloat(0.002)), "got qty %s", opp.Quantity)
	require.True(t, opp.EstNetProfit.GreaterThan(decimal.Zero))

	require.Equal(t, 1, gate.approvals)
	require.Len(t, gate.results, 1)
	require.Equal(t, 2, ledger.confirms, "one confirmation per leg")

	record := journal.records[0]
	require.Equal(t, domain.TradeStatusFilled, record.Outcome)
	require.Equal(t, "BTC_USDT", record.Pair)
}

func TestCooldownSuppressesRedetection(t *testing.T) {
	ledger := richLedger()
	exec := &fakeExec{result: filledResult()}
	arb, _, journal := newTestArbitrage(ledger, exec)

	ctx := context.Background()
	binance, bybit := spreadQuotes()
	arb.OnQuote(ctx, binance)
	arb.OnQuote(ctx, bybit)
	require.Eventually(t, func() bool { return journal.count() == 1 }, time.Second, 5*time.Millisecond)

	// same spread again, inside the cooldown window
	binance, bybit = spreadQuotes()
	arb.OnQuote(ctx, binance)
	arb.OnQuote(ctx, bybit)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, exec.count())
}

func TestInFlightExcludesInstrument(t *testing.T) {
	ledger := richLedger()
	exec := &fakeExec{result: filledResult(), block: make(chan struct{})}
	arb, _, journal := newTestArbitrage(ledger, exec)

	ctx := context.Background()
	binance, bybit := spreadQuotes()
	arb.OnQuote(ctx, binance)
	arb.OnQuote(ctx, bybit)
	require.Eventually(t, func() bool { return exec.count() == 1 }, time.Second, 5*time.Millisecond)

	// attempt still running, fresh quotes must not spawn a second one
	binance, bybit = spreadQuotes()
	arb.OnQuote(ctx, binance)
	arb.OnQuote(ctx, bybit)
	require.Equal(t, 1, exec.count())

	close(exec.block)
	require.Eventually(t, func() bool { return journal.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestAnomalousSpreadDiscarded(t *testing.T) {
	ledger := richLedger()
	exec := &fakeExec{result: filledResult()}
	arb, gate, _ := newTestArbitrage(ledger, exec)

	ctx := context.Background()
	now := time.Now()
	// 600 bps, beyond the 500 bps ceiling
	arb.OnQuote(ctx, quoteAt("binance", decimal.NewFromInt(49990), decimal.NewFromInt(50000), now))
	arb.OnQuote(ctx, quoteAt("bybit", decimal.NewFromInt(53000), decimal.NewFromInt(53010), now))

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, exec.count())
	require.Equal(t, 0, gate.approvals)
}

func TestBelowSpreadFloorIgnored(t *testing.T) {
	ledger := richLedger()
	exec := &fakeExec{result: filledResult()}
	arb, _, _ := newTestArbitrage(ledger, exec)

	ctx := context.Background()
	now := time.Now()
	// 10 bps, below the 20 bps floor
	arb.OnQuote(ctx, quoteAt("binance", decimal.NewFromInt(49990), decimal.NewFromInt(50000), now))
	arb.OnQuote(ctx, quoteAt("bybit", decimal.NewFromInt(50050), decimal.NewFromInt(50060), now))

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, exec.count())
}

func TestStaleQuoteConservativeVsPermissive(t *testing.T) {
	staleQuotes := func() (domain.Quote, domain.Quote) {
		binance := quoteAt("binance", decimal.NewFromInt(49990), decimal.NewFromInt(50000), time.Now().Add(-5*time.Second))
		bybit := quoteAt("bybit", decimal.NewFromInt(50500), decimal.NewFromInt(50510), time.Now())
		return binance, bybit
	}

	t.Run("conservative skips", func(t *testing.T) {
		exec := &fakeExec{result: filledResult()}
		arb, _, _ := newTestArbitrage(richLedger(), exec)

		binance, bybit := staleQuotes()
		arb.OnQuote(context.Background(), binance)
		arb.OnQuote(context.Background(), bybit)

		time.Sleep(20 * time.Millisecond)
		require.Equal(t, 0, exec.count())
	})

	t.Run("permissive trades through", func(t *testing.T) {
		exec := &fakeExec{result: filledResult()}
		gate := &fakeGate{maxAge: 2 * time.Second, approveOK: true}
		journal := &fakeJournal{}
		params := testParams()
		params.Permissive = true
		arb := NewArbitrage(params, richLedger(), gate, exec, journal, nil)

		binance, bybit := staleQuotes()
		arb.OnQuote(context.Background(), binance)
		arb.OnQuote(context.Background(), bybit)

		require.Eventually(t, func() bool { return exec.count() == 1 }, time.Second, 5*time.Millisecond)
	})
}

func TestSizingCappedByInventory(t *testing.T) {
	ledger := newFakeLedger(map[string]decimal.Decimal{
		"binance/USDT": decimal.NewFromInt(1000),
		"bybit/BTC":    decimal.NewFromFloat(0.001),
	})
	exec := &fakeExec{result: filledResult()}
	arb, _, journal := newTestArbitrage(ledger, exec)

	ctx := context.Background()
	binance, bybit := spreadQuotes()
	arb.OnQuote(ctx, binance)
	arb.OnQuote(ctx, bybit)
	require.Eventually(t, func() bool { return journal.count() == 1 }, time.Second, 5*time.Millisecond)

	require.True(t, exec.executed[0].Quantity.Equal(decimal.NewFromFloat(0.001)),
		"got qty %s", exec.executed[0].Quantity)
}

func TestSizingCappedByBookDepth(t *testing.T) {
	exec := &fakeExec{result: filledResult()}
	arb, _, journal := newTestArbitrage(richLedger(), exec)

	ctx := context.Background()
	binance, bybit := spreadQuotes()
	binance.AskSize = decimal.NewFromFloat(0.0005)
	arb.OnQuote(ctx, binance)
	arb.OnQuote(ctx, bybit)
	require.Eventually(t, func() bool { return journal.count() == 1 }, time.Second, 5*time.Millisecond)

	require.True(t, exec.executed[0].Quantity.Equal(decimal.NewFromFloat(0.0005)))
}

func TestZeroBookSizeDoesNotCap(t *testing.T) {
	exec := &fakeExec{result: filledResult()}
	arb, _, journal := newTestArbitrage(richLedger(), exec)

	ctx := context.Background()
	binance, bybit := spreadQuotes()
	binance.AskSize = decimal.Zero
	bybit.BidSize = decimal.Zero
	arb.OnQuote(ctx, binance)
	arb.OnQuote(ctx, bybit)
	require.Eventually(t, func() bool { return journal.count() == 1 }, time.Second, 5*time.Millisecond)

	require.True(t, exec.executed[0].Quantity.Equal(decimal.NewFromFloat(0.002)))
}

func TestBelowMinNotionalRejected(t *testing.T) {
	ledger := newFakeLedger(map[string]decimal.Decimal{
		"binance/USDT": decimal.NewFromInt(1000),
		// sellable inventory worth about 5 USDT, below the 10 minimum
		"bybit/BTC": decimal.NewFromFloat(0.0001),
	})
	exec := &fakeExec{result: filledResult()}
	arb, _, _ := newTestArbitrage(ledger, exec)

	ctx := context.Background()
	binance, bybit := spreadQuotes()
	arb.OnQuote(ctx, binance)
	arb.OnQuote(ctx, bybit)

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, exec.count())
}

func TestFailedAttemptRollsBackReservations(t *testing.T) {
	ledger := richLedger()
	exec := &fakeExec{result: executor.Result{Outcome: domain.TradeStatusFailed, PnL: decimal.Zero}}
	arb, gate, journal := newTestArbitrage(ledger, exec)

	ctx := context.Background()
	binance, bybit := spreadQuotes()
	arb.OnQuote(ctx, binance)
	arb.OnQuote(ctx, bybit)
	require.Eventually(t, func() bool { return journal.count() == 1 }, time.Second, 5*time.Millisecond)

	require.Equal(t, 0, ledger.confirms)
	require.Equal(t, 2, ledger.rollbacks, "both legs released")
	require.Len(t, gate.results, 1)
	require.Equal(t, domain.TradeStatusFailed, journal.records[0].Outcome)

	// funds are back, available for the next attempt
	require.True(t, ledger.Available("binance", "USDT").Equal(decimal.NewFromInt(1000)))
	require.True(t, ledger.Available("bybit", "BTC").Equal(decimal.NewFromInt(1)))
}
