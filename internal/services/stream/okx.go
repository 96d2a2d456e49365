package stream

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/m4rkovic/crypto-trade/internal/domain"
)

const (
	okxWsURL            = "wss://ws.okx.com:8443/ws/v5/public"
	okxHandshakeTimeout = 15 * time.Second
	okxTickersChannel   = "tickers"
)

// OkxAdapter subscribes to the public tickers channel: one shared connection,
// messages tagged by channel + instrument id, symbols dash-separated, payload
// a one-element list of string-encoded prices and sizes.
type OkxAdapter struct {
	pairs  []domain.Pair
	byInst map[string]domain.Pair
	wsURL  string
	logger *zap.Logger
}

func NewOkxAdapter(pairs []domain.Pair, logger *zap.Logger) *OkxAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	byInst := make(map[string]domain.Pair, len(pairs))
	for _, p := range pairs {
		byInst[p.DashSymbol()] = p
	}
	return &OkxAdapter{pairs: pairs, byInst: byInst, wsURL: okxWsURL, logger: logger}
}

func (a *OkxAdapter) Venue() string { return "okx" }

type okxSubscribeArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type okxTickerMessage struct {
	Arg  okxSubscribeArg `json:"arg"`
	Data []okxTicker     `json:"data"`
}

type okxTicker struct {
	InstID string `json:"instId"`
	BidPx  string `json:"bidPx"`
	BidSz  string `json:"bidSz"`
	AskPx  string `json:"askPx"`
	AskSz  string `json:"askSz"`
	Ts     string `json:"ts"`
}

func (a *OkxAdapter) Stream(ctx context.Context, sink Sink) error {
	dialer := websocket.Dialer{HandshakeTimeout: okxHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, a.wsURL, nil)
	if err != nil {
		return errors.Wrap(err, "okx ws connect")
	}
	defer conn.Close()

	args := make([]okxSubscribeArg, 0, len(a.pairs))
	for _, p := range a.pairs {
		args = append(args, okxSubscribeArg{Channel: okxTickersChannel, InstID: p.DashSymbol()})
	}
	if err := conn.WriteJSON(map[string]any{"op": "subscribe", "args": args}); err != nil {
		return errors.Wrap(err, "okx ws subscribe")
	}
	a.logger.Info("connected to okx tickers stream", zap.Int("instruments", len(args)))

	// unblock the read loop on shutdown
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "okx ws read")
		}

		var msg okxTickerMessage
		if err := json.Unmarshal(raw, &msg); err != nil || len(msg.Data) == 0 {
			continue
		}

		pair, ok := a.byInst[msg.Data[0].InstID]
		if !ok {
			continue
		}
		quote, ok := parseOkxTicker(pair, msg.Data[0])
		if !ok {
			continue
		}
		sink(quote)
	}
}

func parseOkxTicker(pair domain.Pair, t okxTicker) (domain.Quote, bool) {
	bid, err := decimal.NewFromString(t.BidPx)
	if err != nil {
		bid = decimal.Zero
	}
	ask, err := decimal.NewFromString(t.AskPx)
	if err != nil {
		ask = decimal.Zero
	}
	if bid.IsZero() && ask.IsZero() {
		return domain.Quote{}, false
	}
	bidSize, _ := decimal.NewFromString(t.BidSz)
	askSize, _ := decimal.NewFromString(t.AskSz)

	observedAt := time.Now()
	if ms, err := strconv.ParseInt(t.Ts, 10, 64); err == nil {
		observedAt = time.UnixMilli(ms)
	}

	return domain.Quote{
		Venue:      "okx",
		Pair:       pair,
		Bid:        bid,
		BidSize:    bidSize,
		Ask:        ask,
		AskSize:    askSize,
		ObservedAt: observedAt,
	}, true
}
