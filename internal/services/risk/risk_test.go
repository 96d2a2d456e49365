package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/m4rkovic/crypto-trade/internal/domain"
)

func testLimits() Limits {
	return Limits{
		MaxQuoteAge:            2 * time.Second,
		MinSpreadBps:           decimal.NewFromInt(20),
		MaxDailyDrawdown:       decimal.NewFromInt(100),
		MaxTradeExposure:       decimal.NewFromInt(1000),
		MaxConsecutiveFailures: 3,
	}
}

func quoteAgedBy(age time.Duration) domain.Quote {
	return domain.Quote{
		Venue:      "binance",
		Pair:       domain.Pair{Base: "BTC", Quote: "USDT"},
		Bid:        decimal.NewFromInt(50000),
		Ask:        decimal.NewFromInt(50010),
		ObservedAt: time.Now().Add(-age),
	}
}

func TestValidateQuote(t *testing.T) {
	gate := NewGate(testLimits(), nil)

	require.True(t, gate.ValidateQuote(quoteAgedBy(0)))
	require.False(t, gate.ValidateQuote(quoteAgedBy(3*time.Second)))

	zeroBid := quoteAgedBy(0)
	zeroBid.Bid = decimal.Zero
	require.False(t, gate.ValidateQuote(zeroBid))

	negativeAsk := quoteAgedBy(0)
	negativeAsk.Ask = decimal.NewFromInt(-1)
	require.False(t, gate.ValidateQuote(negativeAsk))
}

func TestApproveSpreadFloor(t *testing.T) {
	gate := NewGate(testLimits(), nil)

	require.False(t, gate.Approve(decimal.NewFromInt(10), decimal.NewFromInt(100)))
	require.True(t, gate.Approve(decimal.NewFromInt(30), decimal.NewFromInt(100)))
}

func TestApproveExposureCap(t *testing.T) {
	gate := NewGate(testLimits(), nil)

	require.False(t, gate.Approve(decimal.NewFromInt(30), decimal.NewFromInt(2000)))
	// the cap rejects the trade but must not halt the session
	require.False(t, gate.KillSwitch())
	require.True(t, gate.Approve(decimal.NewFromInt(30), decimal.NewFromInt(100)))
}

func TestConsecutiveFailuresEngageKillSwitch(t *testing.T) {
	gate := NewGate(testLimits(), nil)

	gate.RecordResult(false, decimal.Zero)
	gate.RecordResult(false, decimal.Zero)
	require.False(t, gate.KillSwitch())

	// a success resets the streak
	gate.RecordResult(true, decimal.NewFromInt(1))
	gate.RecordResult(false, decimal.Zero)
	gate.RecordResult(false, decimal.Zero)
	require.False(t, gate.KillSwitch())

	gate.RecordResult(false, decimal.Zero)
	require.True(t, gate.KillSwitch())
	require.False(t, gate.Approve(decimal.NewFromInt(500), decimal.NewFromInt(100)))
}

func TestDrawdownEngagesKillSwitch(t *testing.T) {
	gate := NewGate(testLimits(), nil)

	gate.RecordResult(true, decimal.NewFromInt(-150))
	require.False(t, gate.KillSwitch(), "drawdown is checked on approval, not on record")

	require.False(t, gate.Approve(decimal.NewFromInt(30), decimal.NewFromInt(100)))
	require.True(t, gate.KillSwitch())
}

func TestKillSwitchIsOneWay(t *testing.T) {
	gate := NewGate(testLimits(), nil)

	gate.RecordResult(false, decimal.Zero)
	gate.RecordResult(false, decimal.Zero)
	gate.RecordResult(false, decimal.Zero)
	require.True(t, gate.KillSwitch())

	// later profits never clear it
	gate.RecordResult(true, decimal.NewFromInt(1000))
	require.True(t, gate.KillSwitch())
	require.False(t, gate.Approve(decimal.NewFromInt(500), decimal.NewFromInt(100)))
}

func TestSnapshot(t *testing.T) {
	gate := NewGate(testLimits(), nil)

	gate.RecordResult(true, decimal.NewFromInt(5))
	gate.RecordResult(false, decimal.NewFromInt(-2))

	status := gate.Snapshot()
	require.True(t, status.SessionPnL.Equal(decimal.NewFromInt(3)))
	require.Equal(t, 2, status.Attempts)
	require.Equal(t, 1, status.Successes)
	require.Equal(t, 1, status.Failures)
	require.Equal(t, 1, status.ConsecutiveFails)
	require.False(t, status.KillSwitch)
}
