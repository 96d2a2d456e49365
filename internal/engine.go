// Package internal wires the engine: venue gateways, quote streams, the
// detection strategy and its supporting services.
package internal

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/m4rkovic/crypto-trade/config"
	"github.com/m4rkovic/crypto-trade/internal/clients"
	"github.com/m4rkovic/crypto-trade/internal/domain"
	"github.com/m4rkovic/crypto-trade/internal/services/executor"
	"github.com/m4rkovic/crypto-trade/internal/services/gateway"
	"github.com/m4rkovic/crypto-trade/internal/services/inventory"
	"github.com/m4rkovic/crypto-trade/internal/services/risk"
	"github.com/m4rkovic/crypto-trade/internal/services/strategy"
	"github.com/m4rkovic/crypto-trade/internal/services/stream"
	"github.com/m4rkovic/crypto-trade/internal/storage/trades"
	"github.com/m4rkovic/crypto-trade/internal/web"
	"github.com/m4rkovic/crypto-trade/pkg/retrier"
)

// Credentials carries the per-venue API secrets, read from the environment by
// the caller.
type Credentials struct {
	BinanceKey    string
	BinanceSecret string

	BybitKey    string
	BybitSecret string

	OkxKey        string
	OkxSecret     string
	OkxPassphrase string

	HyperliquidPrivateKey string
}

// Engine owns every long-running component of the arbitrage loop.
type Engine struct {
	cfg        *config.Config
	logger     *zap.Logger
	gateways   map[string]gateway.Gateway
	supervisor *stream.Supervisor
	ledger     *inventory.Ledger
	gate       *risk.Gate
	strategy   *strategy.Arbitrage
	journal    *trades.WALStore
	web        *web.Server
}

// NewEngine builds the full component graph. In simulation mode every venue
// gets a seeded in-memory gateway, market data stays real.
func NewEngine(cfg *config.Config, creds Credentials, logger *zap.Logger) (*Engine, error) {
	gateways := make(map[string]gateway.Gateway, len(cfg.Venues))
	adapters := make([]stream.Adapter, 0, len(cfg.Venues))

	for _, venue := range cfg.Venues {
		gw, adapter, err := buildVenue(cfg, creds, venue, logger)
		if err != nil {
			return nil, errors.Wrapf(err, "setup venue %s", venue)
		}
		if gw != nil {
			gateways[venue] = gw
		}
		if adapter != nil {
			adapters = append(adapters, adapter)
		}
	}

	sources := make([]inventory.BalanceSource, 0, len(gateways))
	for _, gw := range gateways {
		sources = append(sources, gw)
	}
	ledger := inventory.NewLedger(sources, logger)

	gate := risk.NewGate(risk.Limits{
		MaxQuoteAge:            cfg.MaxQuoteAge,
		MinSpreadBps:           cfg.MinSpreadBps,
		MaxDailyDrawdown:       cfg.MaxDailyDrawdown,
		MaxTradeExposure:       cfg.MaxTradeExposure,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
	}, logger)

	journal, err := trades.NewWALStore(cfg.TradeLogDir)
	if err != nil {
		return nil, errors.Wrap(err, "open trade journal")
	}

	exec := executor.New(gateways, feeRates(cfg), cfg.UnwindLossRate, cfg.Simulation, logger)

	arb := strategy.NewArbitrage(strategy.Params{
		Venues:         cfg.Venues,
		TargetNotional: cfg.TargetNotional,
		MinNotional:    cfg.MinNotional,
		MinSpreadBps:   cfg.MinSpreadBps,
		MaxSpreadBps:   cfg.MaxSpreadBps,
		SlippageBps:    cfg.SlippageBps,
		Cooldown:       cfg.Cooldown,
		Permissive:     cfg.RunMode == config.RunModePermissive,
	}, ledger, gate, exec, journal, logger)

	engine := &Engine{
		cfg:        cfg,
		logger:     logger,
		gateways:   gateways,
		supervisor: stream.NewSupervisor(adapters, cfg.ReconnectDelay, logger),
		ledger:     ledger,
		gate:       gate,
		strategy:   arb,
		journal:    journal,
	}
	if cfg.WebAddr != "" {
		engine.web = web.NewServer(cfg.WebAddr, journal, gate)
	}
	return engine, nil
}

// Run probes venue credentials, loads the initial inventory and starts every
// long-running loop. Blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	defer e.journal.Close()

	if err := e.probeVenues(ctx); err != nil {
		return err
	}

	if err := e.ledger.Sync(ctx); err != nil {
		return errors.Wrap(err, "initial inventory sync")
	}

	e.logger.Info("engine started",
		zap.Strings("venues", e.cfg.Venues),
		zap.Bool("simulation", e.cfg.Simulation),
		zap.String("run_mode", e.cfg.RunMode))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := e.ledger.RunLoop(ctx, e.cfg.SyncInterval)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return e.supervisor.Run(ctx, func(q domain.Quote) {
			e.strategy.OnQuote(ctx, q)
		})
	})
	if e.web != nil {
		g.Go(func() error {
			return e.web.Start(ctx)
		})
	}

	return g.Wait()
}

// probeVenues fails fast on bad credentials: every gateway must answer a
// balance query before any order can be risked on it. Transient errors get a
// few retries; a credential rejection aborts on the first attempt.
func (e *Engine) probeVenues(ctx context.Context) error {
	r := retrier.New(retrier.WithRetryIf(func(err error) bool {
		return !errors.Is(err, clients.ErrAuthentication)
	}))
	for venue, gw := range e.gateways {
		_, err := retrier.DoWithData(r, ctx, func(ctx context.Context) (map[string]decimal.Decimal, error) {
			return gw.FetchBalances(ctx)
		})
		if err != nil {
			return errors.Wrapf(err, "venue %s rejected the balance probe, check its API credentials", venue)
		}
		e.logger.Info("venue authenticated", zap.String("venue", venue))
	}
	return nil
}

func buildVenue(cfg *config.Config, creds Credentials, venue string, logger *zap.Logger) (gateway.Gateway, stream.Adapter, error) {
	var gw gateway.Gateway
	var adapter stream.Adapter

	switch venue {
	case config.VenueBinance:
		adapter = stream.NewBinanceAdapter(cfg.Instruments, logger)
		if !cfg.Simulation {
			if creds.BinanceKey == "" || creds.BinanceSecret == "" {
				return nil, nil, errors.New("BINANCE_API_KEY and BINANCE_API_SECRET are required")
			}
			gw = gateway.NewBinanceGateway(clients.NewBinanceClient(creds.BinanceKey, creds.BinanceSecret))
		}

	case config.VenueOkx:
		adapter = stream.NewOkxAdapter(cfg.Instruments, logger)
		if !cfg.Simulation {
			if creds.OkxKey == "" || creds.OkxSecret == "" || creds.OkxPassphrase == "" {
				return nil, nil, errors.New("OKX_API_KEY, OKX_API_SECRET and OKX_PASSPHRASE are required")
			}
			gw = gateway.NewOkxGateway(clients.NewOkxClient(creds.OkxKey, creds.OkxSecret, creds.OkxPassphrase))
		}

	case config.VenueBybit:
		adapter = stream.NewBybitAdapter(cfg.Instruments, logger)
		if !cfg.Simulation {
			if creds.BybitKey == "" || creds.BybitSecret == "" {
				return nil, nil, errors.New("BYBIT_API_KEY and BYBIT_API_SECRET are required")
			}
			gw = gateway.NewBybitGateway(clients.NewBybitClient(creds.BybitKey, creds.BybitSecret))
		}

	case config.VenueHyperliquid:
		// market data also needs the authenticated client here, so a missing
		// key in simulation mode drops the venue instead of failing startup
		if creds.HyperliquidPrivateKey == "" {
			if cfg.Simulation {
				logger.Warn("hyperliquid skipped: HYPERLIQUID_PRIVATE_KEY not set")
				return nil, nil, nil
			}
			return nil, nil, errors.New("HYPERLIQUID_PRIVATE_KEY is required")
		}
		client, err := clients.NewHyperliquidClient(creds.HyperliquidPrivateKey, "")
		if err != nil {
			return nil, nil, err
		}
		adapter = stream.NewHyperliquidAdapter(client.Exchange().Info(), cfg.Instruments, logger)
		if !cfg.Simulation {
			gw, err = gateway.NewHyperliquidGateway(client.Exchange(), client.AccountAddress())
			if err != nil {
				return nil, nil, err
			}
		}

	default:
		return nil, nil, errors.Errorf("unsupported venue %q", venue)
	}

	if cfg.Simulation {
		gw = gateway.NewSimulateGateway(venue, cfg.Instruments, logger)
	}
	return gw, adapter, nil
}

// feeRates converts the configured per-venue taker fees from basis points to
// fractions.
func feeRates(cfg *config.Config) map[string]decimal.Decimal {
	rates := make(map[string]decimal.Decimal, len(cfg.Venues))
	for _, venue := range cfg.Venues {
		rates[venue] = cfg.DefaultTakerFeeBps(venue).Div(decimal.NewFromInt(10000))
	}
	return rates
}
