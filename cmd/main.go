// Command crypto-trade runs the cross-exchange arbitrage engine.
// It streams quotes from the configured venues, detects price discrepancies
// and executes both legs of each qualified opportunity.
//
// Usage:
//
//	crypto-trade --config config.yaml
//	crypto-trade --venues binance,bybit --instruments BTC_USDT --notional 100
//	crypto-trade setup (interactive configuration wizard)
//
// Required environment variables per venue:
//
//	Binance: BINANCE_API_KEY, BINANCE_API_SECRET
//	Bybit: BYBIT_API_KEY, BYBIT_API_SECRET
//	OKX: OKX_API_KEY, OKX_API_SECRET, OKX_PASSPHRASE
//	Hyperliquid: HYPERLIQUID_PRIVATE_KEY
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/m4rkovic/crypto-trade/config"
	"github.com/m4rkovic/crypto-trade/internal"
	"github.com/m4rkovic/crypto-trade/internal/setup"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "setup" {
		if err := setup.RunTUI(); err != nil {
			log.Fatal(err)
		}
		return
	}

	cfg, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	creds := internal.Credentials{
		BinanceKey:            os.Getenv("BINANCE_API_KEY"),
		BinanceSecret:         os.Getenv("BINANCE_API_SECRET"),
		BybitKey:              os.Getenv("BYBIT_API_KEY"),
		BybitSecret:           os.Getenv("BYBIT_API_SECRET"),
		OkxKey:                os.Getenv("OKX_API_KEY"),
		OkxSecret:             os.Getenv("OKX_API_SECRET"),
		OkxPassphrase:         os.Getenv("OKX_PASSPHRASE"),
		HyperliquidPrivateKey: os.Getenv("HYPERLIQUID_PRIVATE_KEY"),
	}

	engine, err := internal.NewEngine(cfg, creds, logger)
	if err != nil {
		logger.Fatal("engine setup failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("engine stopped with error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
