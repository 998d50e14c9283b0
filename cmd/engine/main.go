// Command engine runs the pivot-ratio trading engine for a single
// market against a configured broker.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"market_maker/internal/alert"
	"market_maker/internal/bootstrap"
	"market_maker/internal/broker"
	"market_maker/internal/config"
	"market_maker/internal/core"
	"market_maker/internal/engine"
	"market_maker/internal/feed"
	"market_maker/internal/history"
	"market_maker/internal/pivotstore"
	"market_maker/pkg/telemetry"

	"github.com/shopspring/decimal"
)

var configFile = flag.String("config", "configs/config.yaml", "Path to configuration file")

// engineRunner adapts *engine.Engine to bootstrap.Runner: Initialize
// once, then run until ctx is cancelled or the loop fails fatally.
type engineRunner struct {
	e *engine.Engine
}

func (r *engineRunner) Run(ctx context.Context) error {
	if err := r.e.Initialize(ctx); err != nil {
		return fmt.Errorf("engine initialize: %w", err)
	}

	stopped := make(chan struct{})
	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = r.e.Stop(stopCtx)
		close(stopped)
	}()

	err := r.e.Start(ctx)
	<-stopped
	return err
}

func main() {
	flag.Parse()

	app, err := bootstrap.NewApp(*configFile)
	if err != nil {
		panic(fmt.Sprintf("bootstrap: %v", err))
	}
	cfg := app.Cfg
	logger := app.Logger
	defer app.Shutdown(10 * time.Second)

	if cfg.Telemetry.EnableTracing || cfg.Telemetry.EnableMetrics {
		tel, err := telemetry.Setup("pivot-engine")
		if err != nil {
			logger.Fatal("telemetry setup failed", "error", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tel.Shutdown(ctx)
		}()
	}

	var innerBroker core.Broker = broker.NewRESTBroker(cfg.Broker, logger)
	resilientBroker := broker.NewResilientBroker(innerBroker, cfg.Timing, logger)

	historyStore, err := buildHistoryStore(cfg)
	if err != nil {
		logger.Fatal("failed to build history store", "error", err)
	}
	if c, ok := historyStore.(io.Closer); ok {
		app.Closers = append(app.Closers, c)
	}
	pivotStore, err := buildPivotStore(cfg)
	if err != nil {
		logger.Fatal("failed to build pivot store", "error", err)
	}
	if c, ok := pivotStore.(io.Closer); ok {
		app.Closers = append(app.Closers, c)
	}

	alertManager := alert.NewAlertManager(logger)
	if cfg.Alerting.SlackWebhookURL != "" {
		alertManager.AddChannel(alert.NewSlackChannel(string(cfg.Alerting.SlackWebhookURL)))
	}
	if cfg.Alerting.TelegramBotToken != "" {
		alertManager.AddChannel(alert.NewTelegramChannel(string(cfg.Alerting.TelegramBotToken), cfg.Alerting.TelegramChatID))
	}

	var priceFeed *feed.Feed
	if cfg.Broker.FeedURL != "" {
		priceFeed = feed.New(cfg.Broker.FeedURL, cfg.Trading.Market, logger)
	}

	e, err := engine.New(engine.Config{
		Market:          cfg.Trading.Market,
		Broker:          resilientBroker,
		History:         historyStore,
		Pivots:          pivotStore,
		Alerts:          alertManager,
		Logger:          logger,
		Feed:            priceFeed,
		MinNotional:     decimal.NewFromFloat(cfg.Trading.MinNotional),
		ProfitThreshold: decimal.NewFromFloat(cfg.Trading.ProfitThreshold),
	})
	if err != nil {
		logger.Fatal("failed to construct engine", "error", err)
	}

	runners := []bootstrap.Runner{
		&engineRunner{e: e},
		&breakerGaugeRunner{broker: resilientBroker, market: cfg.Trading.Market},
	}
	if priceFeed != nil {
		runners = append(runners, &feedRunner{feed: priceFeed})
	}

	if err := app.Run(runners...); err != nil {
		logger.Fatal("engine exited with error", "error", err)
	}
}

// feedRunner adapts *feed.Feed to bootstrap.Runner: connect on start,
// disconnect when ctx is cancelled.
type feedRunner struct {
	feed *feed.Feed
}

func (r *feedRunner) Run(ctx context.Context) error {
	r.feed.Start()
	<-ctx.Done()
	r.feed.Stop()
	return nil
}

// breakerGaugeRunner polls the resilient broker's circuit breaker
// state into the circuit_breaker_open gauge, since failsafe-go only
// exposes it as a method call, not a push metric.
type breakerGaugeRunner struct {
	broker *broker.ResilientBroker
	market string
}

func (r *breakerGaugeRunner) Run(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			telemetry.GetGlobalMetrics().SetCircuitBreakerOpen(r.market, r.broker.CircuitBreakerOpen())
		}
	}
}

func buildHistoryStore(cfg *config.Config) (core.HistoryStore, error) {
	if cfg.Storage.Driver == "sqlite" {
		return history.NewSQLiteStore(cfg.Storage.DSN)
	}
	return history.NewMemoryStore(), nil
}

func buildPivotStore(cfg *config.Config) (core.PivotStore, error) {
	initial := decimal.NewFromFloat(cfg.Trading.Pivot)
	if cfg.Storage.Driver == "sqlite" {
		store, err := pivotstore.NewSQLiteStore(cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		if _, err := store.Get(context.Background()); err != nil {
			if err := store.Set(context.Background(), initial); err != nil {
				return nil, err
			}
		}
		return store, nil
	}
	return pivotstore.NewMemoryStore(initial), nil
}
