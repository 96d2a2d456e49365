package stream

import (
	"context"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/m4rkovic/crypto-trade/internal/domain"
)

// BinanceAdapter consumes the combined bookTicker stream: one consolidated
// top-of-book message per instrument, symbols concatenated without separator.
type BinanceAdapter struct {
	pairs  []domain.Pair
	bySym  map[string]domain.Pair
	logger *zap.Logger
}

func NewBinanceAdapter(pairs []domain.Pair, logger *zap.Logger) *BinanceAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	bySym := make(map[string]domain.Pair, len(pairs))
	for _, p := range pairs {
		bySym[p.Symbol()] = p
	}
	return &BinanceAdapter{pairs: pairs, bySym: bySym, logger: logger}
}

func (a *BinanceAdapter) Venue() string { return "binance" }

func (a *BinanceAdapter) Stream(ctx context.Context, sink Sink) error {
	symbols := make([]string, 0, len(a.pairs))
	for _, p := range a.pairs {
		symbols = append(symbols, p.Symbol())
	}

	errC := make(chan error, 1)

	handler := func(event *binance.WsBookTickerEvent) {
		pair, ok := a.bySym[event.Symbol]
		if !ok {
			return
		}
		quote, ok := parseBinanceBookTicker(pair, event)
		if !ok {
			return
		}
		sink(quote)
	}
	errHandler := func(err error) {
		select {
		case errC <- err:
		default:
		}
	}

	doneC, stopC, err := binance.WsCombinedBookTickerServe(symbols, handler, errHandler)
	if err != nil {
		return errors.Wrap(err, "binance ws connect")
	}
	a.logger.Info("connected to binance book ticker stream", zap.Strings("symbols", symbols))

	select {
	case <-ctx.Done():
		close(stopC)
		<-doneC
		return ctx.Err()
	case err := <-errC:
		close(stopC)
		<-doneC
		return errors.Wrap(err, "binance ws stream")
	case <-doneC:
		return errors.New("binance ws stream closed")
	}
}

func parseBinanceBookTicker(pair domain.Pair, event *binance.WsBookTickerEvent) (domain.Quote, bool) {
	bid, err := decimal.NewFromString(event.BestBidPrice)
	if err != nil {
		return domain.Quote{}, false
	}
	ask, err := decimal.NewFromString(event.BestAskPrice)
	if err != nil {
		return domain.Quote{}, false
	}
	bidSize, _ := decimal.NewFromString(event.BestBidQty)
	askSize, _ := decimal.NewFromString(event.BestAskQty)

	// the bookTicker payload carries no event time
	return domain.Quote{
		Venue:      "binance",
		Pair:       pair,
		Bid:        bid,
		BidSize:    bidSize,
		Ask:        ask,
		AskSize:    askSize,
		ObservedAt: time.Now(),
	}, true
}
