// valord is the trading daemon: it wires configuration into the consensus
// engine, the slot cascade, the position executor and the settlement
// router, then runs the orchestrator loop until a shutdown signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/valortrade/valor/internal/agent"
	"github.com/valortrade/valor/internal/api"
	"github.com/valortrade/valor/internal/cascade"
	"github.com/valortrade/valor/internal/config"
	"github.com/valortrade/valor/internal/consensus"
	"github.com/valortrade/valor/internal/events"
	"github.com/valortrade/valor/internal/exchange"
	"github.com/valortrade/valor/internal/fees"
	"github.com/valortrade/valor/internal/journal"
	"github.com/valortrade/valor/internal/market"
	"github.com/valortrade/valor/internal/metrics"
	"github.com/valortrade/valor/internal/notify"
	"github.com/valortrade/valor/internal/orchestrator"
	"github.com/valortrade/valor/internal/position"
	"github.com/valortrade/valor/internal/treasury"
)

// Exit codes: 0 clean shutdown, 1 configuration error, 2 unrecoverable
// exchange error during the shutdown closeout.
const (
	exitOK       = 0
	exitConfig   = 1
	exitCloseout = 2
)

const (
	snapshotCandles = 100
	priceCacheTTL   = 10 * time.Second
	shutdownTimeout = 30 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to config file (default: ./configs/config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitConfig
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	logger := config.NewLogger("valord")

	logger.Info().
		Str("version", cfg.App.Version).
		Str("environment", cfg.App.Environment).
		Str("mode", cfg.Trading.Mode).
		Msg("Starting Valor trading daemon")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Fee rates come from configuration once; nothing else holds fee numbers.
	rates := make(map[string]fees.Rates, len(cfg.Venues))
	for name, venue := range cfg.Venues {
		rates[name] = fees.RatesFromFloat(venue.MakerFee, venue.TakerFee)
	}
	feeModel := fees.New(rates, decimal.NewFromFloat(cfg.Fees.SafetyBufferPct))

	venues, err := exchange.Build(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("Venue configuration invalid")
		return exitConfig
	}

	var bus *events.Bus
	if cfg.NATS.Enabled {
		bus, err = events.Connect(cfg.NATS.URL)
		if err != nil {
			logger.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("NATS unavailable, events disabled")
			bus = events.NewNop()
		}
	} else {
		bus = events.NewNop()
	}
	defer bus.Close()

	var store *journal.Store
	if cfg.Database.Enabled {
		store, err = journal.New(ctx, cfg.Database.GetDSN())
		if err != nil {
			logger.Error().Err(err).Msg("Journal database unreachable")
			return exitConfig
		}
	}
	defer store.Close()

	ladder := cascade.NewLadder(cfg.Cascade)
	router := treasury.New(ladder, store, bus)
	if err := router.Replay(ctx, store); err != nil {
		logger.Error().Err(err).Msg("Settlement journal replay failed")
		return exitConfig
	}

	positions := position.NewStore(store, bus)
	if restored, err := positions.Restore(ctx); err != nil {
		logger.Error().Err(err).Msg("Open position restore failed")
		return exitConfig
	} else if restored > 0 {
		logger.Info().Int("restored", restored).Msg("Open positions restored from journal")
	}

	executor := position.NewExecutor(positions, router, feeModel, venues, cfg.Trading)
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetRedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		executor.SetPriceCache(market.NewPriceCache(client, priceCacheTTL))
		logger.Info().Str("addr", cfg.Redis.GetRedisAddr()).Msg("Price cache enabled")
	}

	provider := market.NewSnapshotProvider(snapshotCandles)
	for _, v := range venues.All() {
		provider.Register(v.Name(), v)
	}

	channels := []notify.Notifier{notify.NewLogNotifier()}
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			logger.Warn().Err(err).Msg("Telegram notifier unavailable")
		} else {
			channels = append(channels, tg)
		}
	}
	notify.SetDefaultManager(notify.NewManager(channels...))

	engine := consensus.New(cfg.Consensus)
	agentConfigs := cfg.Agents
	if len(agentConfigs) == 0 {
		agentConfigs = defaultAgents()
		logger.Info().Msg("No agent registry configured, using the default zoo")
	}
	entries, err := agent.BuildRegistry(agentConfigs)
	if err != nil {
		logger.Error().Err(err).Msg("Agent registry invalid")
		return exitConfig
	}
	if err := engine.RegisterAll(entries); err != nil {
		logger.Error().Err(err).Msg("Agent registration failed")
		return exitConfig
	}

	orch := orchestrator.New(cfg, orchestrator.Deps{
		Engine:   engine,
		Executor: executor,
		Store:    positions,
		Router:   router,
		Provider: provider,
		Venues:   venues,
		Bus:      bus,
	})

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Port, cfg.App.Version, config.NewLogger("metrics"))
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	apiServer := api.NewServer(cfg.API, api.Deps{
		Router:    router,
		Positions: positions,
		Executor:  executor,
		Engine:    engine,
		Control:   orch,
		Bus:       bus,
		Journal:   store,
	})
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error().Err(err).Msg("API server stopped")
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- orch.Run(ctx) }()

	var closeoutErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received")
		closeoutErr = <-runErr
	case closeoutErr = <-runErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("API server shutdown incomplete")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Metrics server shutdown incomplete")
		}
	}

	if closeoutErr != nil {
		logger.Error().Err(closeoutErr).Msg("Shutdown closeout left positions open")
		return exitCloseout
	}

	logger.Info().Msg("Clean shutdown")
	return exitOK
}

// defaultAgents is the built-in zoo used when the config carries no agent
// registry: one primary per strategy plus a higher-weight trend anchor.
func defaultAgents() []config.AgentConfig {
	return []config.AgentConfig{
		{ID: "trend_anchor", Group: config.GroupOrchestrator, Strategy: "TREND", Enabled: true},
		{ID: "momentum_1", Group: config.GroupPrimary, Strategy: "MOMENTUM", Enabled: true},
		{ID: "reversion_1", Group: config.GroupPrimary, Strategy: "MEAN_REVERSION", Enabled: true},
		{ID: "breakout_1", Group: config.GroupPrimary, Strategy: "BREAKOUT", Enabled: true},
		{ID: "scalper_1", Group: config.GroupHotBackup, Strategy: "SCALPING", Enabled: true},
	}
}
