package stream

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	hyperliquid "github.com/sonirico/go-hyperliquid"
	"go.uber.org/zap"

	"github.com/m4rkovic/crypto-trade/internal/domain"
)

const hyperliquidPollInterval = time.Second

// HyperliquidAdapter polls the public mid prices. Hyperliquid's Info API
// reports no top-of-book, so the mid is substituted for both bid and ask and
// sizes stay zero (size unknown, does not cap sizing).
type HyperliquidAdapter struct {
	info   *hyperliquid.Info
	pairs  []domain.Pair
	logger *zap.Logger
}

func NewHyperliquidAdapter(info *hyperliquid.Info, pairs []domain.Pair, logger *zap.Logger) *HyperliquidAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HyperliquidAdapter{info: info, pairs: pairs, logger: logger}
}

func (a *HyperliquidAdapter) Venue() string { return "hyperliquid" }

func (a *HyperliquidAdapter) Stream(ctx context.Context, sink Sink) error {
	a.logger.Info("polling hyperliquid mids", zap.Int("instruments", len(a.pairs)))

	ticker := time.NewTicker(hyperliquidPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		mids, err := a.info.AllMids(ctx)
		if err != nil {
			return errors.Wrap(err, "hyperliquid all mids")
		}

		now := time.Now()
		for _, pair := range a.pairs {
			mid, ok := mids[pair.Base]
			if !ok || mid == "" {
				continue
			}
			price, err := decimal.NewFromString(mid)
			if err != nil {
				continue
			}
			sink(domain.Quote{
				Venue:      "hyperliquid",
				Pair:       pair,
				Bid:        price,
				Ask:        price,
				ObservedAt: now,
			})
		}
	}
}
