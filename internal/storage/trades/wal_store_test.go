package trades

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/m4rkovic/crypto-trade/internal/domain"
)

func testRecord(pair string, pnl decimal.Decimal) domain.TradeRecord {
	return domain.TradeRecord{
		Timestamp:     time.Now().UTC().Truncate(time.Millisecond),
		Pair:          pair,
		BuyVenue:      "binance",
		SellVenue:     "bybit",
		Quantity:      decimal.NewFromFloat(0.002),
		RealBuyPrice:  decimal.NewFromInt(50000),
		RealSellPrice: decimal.NewFromInt(50500),
		RealizedPnL:   pnl,
		LatencyMs:     42,
		Outcome:       domain.TradeStatusFilled,
	}
}

func TestAppendAndReadBack(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Append(testRecord("BTC_USDT", decimal.NewFromFloat(0.7))))
	require.NoError(t, store.Append(testRecord("ETH_USDT", decimal.NewFromFloat(-0.1))))

	entries, err := store.RecordsAfter(0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.Equal(t, "BTC_USDT", entries[0].Record.Pair)
	require.Equal(t, "ETH_USDT", entries[1].Record.Pair)
	require.True(t, entries[0].Record.RealizedPnL.Equal(decimal.NewFromFloat(0.7)))
	require.Less(t, entries[0].Index, entries[1].Index)
}

func TestRecordsAfterSkipsConsumed(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Append(testRecord("BTC_USDT", decimal.Zero)))
	require.NoError(t, store.Append(testRecord("ETH_USDT", decimal.Zero)))

	first, err := store.RecordsAfter(0)
	require.NoError(t, err)
	require.Len(t, first, 2)

	rest, err := store.RecordsAfter(first[0].Index)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, "ETH_USDT", rest[0].Record.Pair)

	none, err := store.RecordsAfter(first[1].Index)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestAppendRejectsEmptyPair(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.Error(t, store.Append(domain.TradeRecord{}))
}

func TestCurrentIndexAdvances(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	start := store.CurrentIndex()
	require.NoError(t, store.Append(testRecord("BTC_USDT", decimal.Zero)))
	require.Equal(t, start+1, store.CurrentIndex())
}
