package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeStatus is the lifecycle state of an execution attempt.
type TradeStatus string

const (
	TradeStatusFilled               TradeStatus = "filled"
	TradeStatusFailed               TradeStatus = "failed"
	TradeStatusNeutralized          TradeStatus = "neutralized"
	TradeStatusNeutralizationFailed TradeStatus = "neutralization_failed"
)

// TradeRecord is the append-only audit record written once per completed attempt.
type TradeRecord struct {
	Timestamp     time.Time       `json:"ts"`
	Pair          string          `json:"pair"`
	BuyVenue      string          `json:"buy_venue"`
	SellVenue     string          `json:"sell_venue"`
	Quantity      decimal.Decimal `json:"qty"`
	RealBuyPrice  decimal.Decimal `json:"real_buy_price"`
	RealSellPrice decimal.Decimal `json:"real_sell_price"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	LatencyMs     int64           `json:"latency_ms"`
	SlippageBps   decimal.Decimal `json:"slippage_bps"`
	Outcome       TradeStatus     `json:"outcome"`
}

// TradeRecordEntry bundles a record with its journal index.
type TradeRecordEntry struct {
	Index  uint64
	Record TradeRecord
}
