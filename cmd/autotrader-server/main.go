package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"autotrader/internal/alert"
	"autotrader/internal/api"
	"autotrader/internal/broker"
	"autotrader/internal/config"
	"autotrader/internal/domain"
	"autotrader/internal/engine"
	"autotrader/internal/marketdata"
	"autotrader/internal/metrics"
	"autotrader/internal/store"
	"autotrader/internal/strategy"
	"autotrader/internal/strategy/builtins"
	"autotrader/internal/util"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfgPath := "config/autotrader.yaml"
	if p := os.Getenv("AUTOTRADER_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("autotrader-server exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tc := cfg.Trading
	calendar, err := util.NewTradingCalendar(tc.MarketOpen, tc.MarketClose, tc.Timezone)
	if err != nil {
		return fmt.Errorf("trading calendar: %w", err)
	}

	ledger, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer ledger.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	hub := alert.NewHub()
	notifiers := []alert.Notifier{alert.LedgerNotifier(ledger), hub}
	if cfg.Alerts.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.WebhookURL))
	}
	dispatcher := alert.NewDispatcher(cfg.Alerts.BufferSize, notifiers...)

	var b broker.Broker
	switch tc.Broker {
	case "simulator":
		b = broker.NewSimulatorBroker(tc.SimulatorCash)
	default:
		if !tc.PaperMode {
			logger.Warn("live trading enabled", "baseURL", cfg.Alpaca.BaseURL)
		}
		b = broker.NewAlpacaBroker(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, tc.BrokerTimeout, cfg.Alpaca.RateLimitPerMin)
	}

	var data marketdata.Provider
	switch tc.DataSource {
	case "store":
		data = marketdata.NewStoreProvider(store.NewParquetStore(cfg.Storage.DataDir), domain.MarketUS)
	default:
		data = marketdata.NewAlpacaProvider(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, cfg.Alpaca.Feed, tc.BrokerTimeout, cfg.Alpaca.RateLimitPerMin)
	}

	registry := strategy.NewRegistry()
	builtins.Register(registry)
	strat, ok := registry.Get(tc.Strategy)
	if !ok {
		return fmt.Errorf("unknown strategy %q (have %v)", tc.Strategy, registry.List())
	}

	eng, err := engine.New(engine.Config{
		Symbols:       tc.Symbols,
		RiskPerTrade:  tc.RiskPerTrade,
		StopLossPct:   tc.StopLossPct,
		LossLimit:     tc.LossLimit,
		BarLimit:      tc.BarLimit,
		Workers:       tc.Workers,
		BrokerTimeout: tc.BrokerTimeout,
	}, engine.Options{
		Broker:   b,
		Data:     data,
		Strategy: strat,
		Ledger:   ledger,
		Calendar: calendar,
		Alerts:   dispatcher,
		Metrics:  m,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	srv := api.NewServer(cfg, eng, hub, reg)
	sched := engine.NewScheduler(eng, tc.CycleInterval, logger)
	sched.OnResult = func(res *engine.CycleResult) {
		srv.Health().Report(res.Risk.TradingActive)
	}

	logger.Info("autotrader starting",
		"broker", b.Name(), "data", tc.DataSource, "strategy", strat.Name(),
		"symbols", tc.Symbols, "interval", tc.CycleInterval, "paper", tc.PaperMode)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { dispatcher.Run(gctx); return nil })
	g.Go(func() error { hub.Run(gctx); return nil })
	g.Go(func() error {
		if err := sched.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error { return srv.ListenAndServe(gctx) })

	err = g.Wait()
	logger.Info("autotrader stopped", "droppedAlerts", dispatcher.Dropped())
	return err
}
