package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPairFromString(t *testing.T) {
	pair, err := PairFromString("BTC_USDT")
	require.NoError(t, err)
	require.Equal(t, Pair{Base: "BTC", Quote: "USDT"}, pair)

	for _, bad := range []string{"", "BTCUSDT", "BTC_", "_USDT", "BTC_USDT_X"} {
		_, err := PairFromString(bad)
		require.Error(t, err, "input %q", bad)
	}
}

func TestPairRepresentations(t *testing.T) {
	pair := Pair{Base: "ETH", Quote: "USDT"}
	require.Equal(t, "ETH_USDT", pair.String())
	require.Equal(t, "ETHUSDT", pair.Symbol())
	require.Equal(t, "ETH-USDT", pair.DashSymbol())
}
