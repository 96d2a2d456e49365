package stream

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/m4rkovic/crypto-trade/internal/domain"
)

const (
	bybitWsURL = "wss://stream.bybit.com/v5/public/spot"
	// bybit drops idle connections; an application-level ping every 20s keeps
	// the stream open
	bybitPingPeriod       = 20 * time.Second
	bybitHandshakeTimeout = 15 * time.Second
	bybitTickerTopic      = "tickers."
)

// BybitAdapter subscribes to the spot ticker topics. Top-of-book fields may be
// absent from a frame, in which case the last trade price is substituted for
// both sides.
type BybitAdapter struct {
	pairs  []domain.Pair
	bySym  map[string]domain.Pair
	wsURL  string
	logger *zap.Logger
}

func NewBybitAdapter(pairs []domain.Pair, logger *zap.Logger) *BybitAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	bySym := make(map[string]domain.Pair, len(pairs))
	for _, p := range pairs {
		bySym[p.Symbol()] = p
	}
	return &BybitAdapter{pairs: pairs, bySym: bySym, wsURL: bybitWsURL, logger: logger}
}

func (a *BybitAdapter) Venue() string { return "bybit" }

type bybitTickerMessage struct {
	Topic string          `json:"topic"`
	Ts    int64           `json:"ts"`
	Data  bybitTickerData `json:"data"`
}

type bybitTickerData struct {
	LastPrice string `json:"lastPrice"`
	Bid1Price string `json:"bid1Price"`
	Bid1Size  string `json:"bid1Size"`
	Ask1Price string `json:"ask1Price"`
	Ask1Size  string `json:"ask1Size"`
}

func (a *BybitAdapter) Stream(ctx context.Context, sink Sink) error {
	dialer := websocket.Dialer{HandshakeTimeout: bybitHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, a.wsURL, nil)
	if err != nil {
		return errors.Wrap(err, "bybit ws connect")
	}
	defer conn.Close()

	var writeMu sync.Mutex
	writeJSON := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	topics := make([]string, 0, len(a.pairs))
	for _, p := range a.pairs {
		topics = append(topics, bybitTickerTopic+p.Symbol())
	}
	if err := writeJSON(map[string]any{"op": "subscribe", "args": topics}); err != nil {
		return errors.Wrap(err, "bybit ws subscribe")
	}
	a.logger.Info("connected to bybit tickers stream", zap.Strings("topics", topics))

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go func() {
		ticker := time.NewTicker(bybitPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				if err := writeJSON(map[string]any{"op": "ping"}); err != nil {
					return
				}
			}
		}
	}()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "bybit ws read")
		}

		var msg bybitTickerMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if !strings.HasPrefix(msg.Topic, bybitTickerTopic) {
			continue
		}

		symbol := strings.TrimPrefix(msg.Topic, bybitTickerTopic)
		pair, ok := a.bySym[symbol]
		if !ok {
			continue
		}
		quote, ok := parseBybitTicker(pair, msg)
		if !ok {
			continue
		}
		sink(quote)
	}
}

func parseBybitTicker(pair domain.Pair, msg bybitTickerMessage) (domain.Quote, bool) {
	bidRaw := msg.Data.Bid1Price
	if bidRaw == "" {
		bidRaw = msg.Data.LastPrice
	}
	askRaw := msg.Data.Ask1Price
	if askRaw == "" {
		askRaw = msg.Data.LastPrice
	}
	if bidRaw == "" || askRaw == "" {
		return domain.Quote{}, false
	}

	bid, err := decimal.NewFromString(bidRaw)
	if err != nil {
		return domain.Quote{}, false
	}
	ask, err := decimal.NewFromString(askRaw)
	if err != nil {
		return domain.Quote{}, false
	}
	bidSize, _ := decimal.NewFromString(msg.Data.Bid1Size)
	askSize, _ := decimal.NewFromString(msg.Data.Ask1Size)

	observedAt := time.Now()
	if msg.Ts > 0 {
		observedAt = time.UnixMilli(msg.Ts)
	}

	return domain.Quote{
		Venue:      "bybit",
		Pair:       pair,
		Bid:        bid,
		BidSize:    bidSize,
		Ask:        ask,
		AskSize:    askSize,
		ObservedAt: observedAt,
	}, true
}
