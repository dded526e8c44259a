// Command tradeflow launches the portfolio allocation and signal execution engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/tradeflow/internal/config"
	"github.com/coachpo/tradeflow/internal/engine"
	"github.com/coachpo/tradeflow/internal/exchange"
	"github.com/coachpo/tradeflow/internal/exchange/pionex"
	"github.com/coachpo/tradeflow/internal/forwarder"
	"github.com/coachpo/tradeflow/internal/journal"
	"github.com/coachpo/tradeflow/internal/observability"
	"github.com/coachpo/tradeflow/internal/risk"
	"github.com/coachpo/tradeflow/internal/schema"
	httpserver "github.com/coachpo/tradeflow/internal/server/http"
	"github.com/coachpo/tradeflow/internal/telemetry"
)

const (
	defaultConfigPath = "config/app.yaml"
	loggerPrefix      = "tradeflow "

	shutdownTimeout          = 30 * time.Second
	serverShutdownTimeout    = 5 * time.Second
	dispatchShutdownTimeout  = 10 * time.Second
	lifecycleShutdownTimeout = 10 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	serverReadHeaderTimeout  = 5 * time.Second
)

func main() {
	cfgPathFlag := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := log.New(os.Stdout, loggerPrefix, log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(resolveConfigPath(cfgPathFlag))
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	observability.SetLogger(observability.NewStdLogger(logger, cfg.Log.Level))
	logger.Printf("configuration initialised: accounts=%d", len(cfg.Accounts))

	_, telemetryShutdown, err := telemetry.Init(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}
	metrics, err := telemetry.NewEngineMetrics()
	if err != nil {
		logger.Fatalf("initialize engine metrics: %v", err)
	}

	accounts, err := buildAccounts(cfg)
	if err != nil {
		logger.Fatalf("build accounts: %v", err)
	}

	var lifecycle conc.WaitGroup

	store, syncer, err := initJournal(ctx, cfg, accounts, logger)
	if err != nil {
		logger.Fatalf("initialise journal: %v", err)
	}
	if syncer != nil {
		lifecycle.Go(func() { syncer.Run(ctx) })
	}

	signalForwarder := initForwarder(cfg, store, logger)
	if signalForwarder != nil {
		lifecycle.Go(func() { signalForwarder.Run(ctx) })
	}

	opts := engine.Options{Risk: newRiskManager(cfg.Risk), Metrics: metrics}
	if signalForwarder != nil {
		opts.Forwarder = signalForwarder
	}
	orchestrator := engine.NewOrchestrator(accounts, opts)
	orchestrator.Bootstrap(ctx)

	streams := startTickerStreams(ctx, logger, orchestrator.ActiveAccounts())

	apiServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpserver.NewHandler(orchestrator, cfg.Server.Endpoints),
		ReadHeaderTimeout: serverReadHeaderTimeout,
	}
	lifecycle.Go(func() {
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("api server: %v", err)
		}
	})
	logger.Printf("signal API listening on %s", apiServer.Addr)

	logger.Print("tradeflow started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:       apiServer,
		mainCancel:   cancel,
		orchestrator: orchestrator,
		forwarder:    signalForwarder,
		streams:      streams,
		lifecycle:    &lifecycle,
		store:        store,
		telemetry:    telemetryShutdown,
	})

	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return filepath.Clean(defaultConfigPath)
}

// buildAccounts materialises the configured accounts. Accounts trading on the
// same venue share one metadata cache so symbol precision loads once.
func buildAccounts(cfg *config.Config) ([]*engine.Account, error) {
	cache := exchange.NewMetadataCache()
	accounts := make([]*engine.Account, 0, len(cfg.Accounts))
	for _, accountCfg := range cfg.Accounts {
		venue, err := buildExchange(accountCfg.Exchange, cache)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", accountCfg.Name, err)
		}
		var markets []*schema.Market
		for _, group := range accountCfg.Markets {
			for _, asset := range group.Assets {
				markets = append(markets, schema.NewMarket(asset.Name, group.Quote, asset.Pct, asset.Max))
			}
		}
		var gas *schema.GasPolicy
		if g := accountCfg.Gas; g != nil {
			gas = schema.NewGasPolicy(g.Base, g.Quote, g.Rate, g.Reserved)
		}
		accounts = append(accounts, engine.NewAccount(engine.AccountParams{
			Name:             accountCfg.Name,
			Active:           accountCfg.Active,
			RiskProfile:      accountCfg.RiskProfile,
			IgnoreSignals:    accountCfg.IgnoreSignals,
			UseJournal:       accountCfg.UseJournal,
			Exchange:         venue,
			Markets:          markets,
			Gas:              gas,
			MinOrderQuoteQty: cfg.Engine.MinOrderQuoteQty,
			SettleDelay:      cfg.Engine.SettleDelay,
		}))
	}
	return accounts, nil
}

func buildExchange(cfg config.ExchangeConfig, cache *exchange.MetadataCache) (exchange.Exchange, error) {
	switch cfg.Name {
	case pionex.VenueName:
		return pionex.New(pionex.Config{APIKey: cfg.APIKey, APISecret: cfg.Secret}, cache), nil
	default:
		return nil, fmt.Errorf("unknown exchange %q", cfg.Name)
	}
}

func newRiskManager(cfg config.RiskConfig) *risk.Manager {
	return risk.NewManager(risk.Limits{
		OrderThrottle:    cfg.OrderThrottle,
		MaxOrderNotional: cfg.MaxOrderNotional,
	})
}

// initJournal opens the trade journal when a DSN is configured. The journal is
// optional; without it trade history and webhook subscriptions are disabled.
func initJournal(ctx context.Context, cfg *config.Config, accounts []*engine.Account, logger *log.Logger) (*journal.Store, *journal.Syncer, error) {
	if cfg.Journal.DSN == "" {
		logger.Print("journal disabled; no DSN configured")
		return nil, nil, nil
	}
	store, err := journal.Open(ctx, cfg.Journal.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open journal store: %w", err)
	}
	sources := make([]journal.TradeSource, 0, len(accounts))
	for _, account := range accounts {
		sources = append(sources, account)
	}
	logger.Printf("journal sync every %v", cfg.Journal.SyncInterval)
	return store, journal.NewSyncer(store, sources, cfg.Journal.SyncInterval), nil
}

func initForwarder(cfg *config.Config, store *journal.Store, logger *log.Logger) *forwarder.Forwarder {
	if !cfg.Forwarder.Enabled {
		return nil
	}
	if store == nil {
		logger.Print("forwarder enabled but journal is not; skipping webhook fan-out")
		return nil
	}
	return forwarder.New(store, forwarder.Options{RefreshInterval: cfg.Forwarder.RefreshInterval})
}

// startTickerStreams opens one public websocket per streaming-capable venue
// handle and routes live prices back into the owning account. Stream failures
// degrade to the periodic REST price refresh.
func startTickerStreams(ctx context.Context, logger *log.Logger, accounts []*engine.Account) []*pionex.TickerStream {
	var streams []*pionex.TickerStream
	for _, account := range accounts {
		client, ok := account.Exchange().(*pionex.Client)
		if !ok {
			continue
		}
		markets := account.Markets()
		symbols := make([]string, 0, len(markets))
		for _, market := range markets {
			symbols = append(symbols, market.Symbol)
		}
		if len(symbols) == 0 {
			continue
		}
		stream := client.NewTickerStream(symbols, account.SetMarketPrice)
		if err := stream.Start(ctx); err != nil {
			logger.Printf("ticker stream for %s: %v", account.Name(), err)
			continue
		}
		logger.Printf("ticker stream connected: account=%s symbols=%d", account.Name(), len(symbols))
		streams = append(streams, stream)
	}
	return streams
}

type gracefulShutdownConfig struct {
	server       *http.Server
	mainCancel   context.CancelFunc
	orchestrator *engine.Orchestrator
	forwarder    *forwarder.Forwarder
	streams      []*pionex.TickerStream
	lifecycle    *conc.WaitGroup
	store        *journal.Store
	telemetry    func(context.Context) error
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	waitStep := func(wait func()) func(context.Context) error {
		return func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		}
	}

	if cfg.server != nil {
		shutdownStep("stopping api server", serverShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.server.Shutdown(stepCtx)
		})
	}

	if cfg.orchestrator != nil {
		shutdownStep("draining in-flight signals", dispatchShutdownTimeout, waitStep(cfg.orchestrator.Wait))
	}

	logger.Print("shutdown: cancelling main context")
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	for _, stream := range cfg.streams {
		stream.Stop()
	}

	if cfg.forwarder != nil {
		shutdownStep("draining webhook deliveries", dispatchShutdownTimeout, waitStep(cfg.forwarder.Wait))
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, waitStep(cfg.lifecycle.Wait))
	}

	if cfg.store != nil {
		cfg.store.Close()
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, cfg.telemetry)
	}
}
