package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nexus-trading/kolhunter/internal/adapters/dexscreener"
	"github.com/nexus-trading/kolhunter/internal/adapters/jupiter"
	"github.com/nexus-trading/kolhunter/internal/config"
	"github.com/nexus-trading/kolhunter/internal/execution"
	"github.com/nexus-trading/kolhunter/internal/extract"
	"github.com/nexus-trading/kolhunter/internal/feed"
	"github.com/nexus-trading/kolhunter/internal/notify"
	"github.com/nexus-trading/kolhunter/internal/observability"
	"github.com/nexus-trading/kolhunter/internal/scoring"
	"github.com/nexus-trading/kolhunter/internal/sniper"
	"github.com/nexus-trading/kolhunter/internal/solana"
	"github.com/nexus-trading/kolhunter/internal/storage"
	"github.com/nexus-trading/kolhunter/internal/storage/postgres"
)

// swapper is the executor surface shared by live and paper execution.
type swapper interface {
	sniper.Swapper
	Recent() []execution.SwapView
}

func main() {
	// 1. Parse flags.
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	stubMode := flag.Bool("stub", false, "Use stub RPC (no real Solana connection, implies dry run)")
	flag.Parse()

	// 2. Load configuration (.env first, then YAML).
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}
	if *stubMode {
		cfg.General.DryRun = true
	}

	// 3. Setup logging.
	closeLog := setupLogging(cfg.General)
	defer closeLog()

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Configuration validation failed")
	}

	dryRun := cfg.General.DryRun
	settings := cfg.Settings()
	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Bool("dry_run", dryRun).
		Bool("stub_mode", *stubMode).
		Strs("accounts", cfg.Hunter.Accounts).
		Str("buy_amount", settings.Trade.BuyAmount.String()).
		Str("slippage_pct", settings.Trade.SlippagePct.String()).
		Uint64("priority_fee", settings.Trade.PriorityFee).
		Float64("min_score", settings.MinContractScore).
		Float64("take_profit_pct", cfg.Hunter.TakeProfitPct).
		Float64("exit_pct", cfg.Hunter.ExitPct).
		Msg("KOL Hunter starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. Solana RPC.
	var (
		rpc     solana.RPCClient
		liveRPC *solana.LiveRPCClient
	)
	if *stubMode {
		rpc = solana.NewStubRPCClient()
		log.Info().Msg("Solana RPC: STUB mode")
	} else {
		liveRPC = solana.NewLiveRPCClient(solana.RPCConfig{
			Endpoint:     cfg.Solana.RPCEndpoint,
			WSEndpoint:   cfg.Solana.WSEndpoint,
			Timeout:      10 * time.Second,
			MaxRetries:   3,
			RateLimitRPS: cfg.Solana.RateLimitRPS,
		})
		defer liveRPC.Close()
		rpc = liveRPC

		healthCtx, healthCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rpc.Health(healthCtx); err != nil {
			log.Warn().Err(err).Str("endpoint", cfg.Solana.RPCEndpoint).
				Msg("Solana RPC health check failed (continuing, may be rate-limited)")
		} else {
			log.Info().Str("endpoint", cfg.Solana.RPCEndpoint).Msg("Solana RPC: LIVE - connected")
		}
		healthCancel()
	}

	// 5. Outbound clients.
	router := jupiter.NewClient(cfg.Jupiter)
	scorer := scoring.NewClient(cfg.Scoring)
	prices := dexscreener.NewClient(cfg.DexScreener)
	source := feed.NewHTTPSource(cfg.Feed, feed.NewCursors())

	// 6. Executor.
	var (
		exec     swapper
		liveExec *execution.Executor
		feeEst   *solana.PriorityFeeEstimator
		wsConf   *solana.WSConfirmer
	)
	if dryRun {
		exec = execution.NewPaperExecutor(router, rpc)
		log.Warn().Msg("DRY RUN: swaps are quoted but never signed or submitted")
	} else {
		wallet, err := solana.LoadWallet(cfg.Solana.PrivateKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load wallet")
		}
		log.Info().Str("wallet", wallet.PublicKey().Short()).Msg("Wallet loaded")

		poll := solana.NewPollConfirmer(rpc, cfg.Solana.ConfirmPoll, cfg.Solana.ConfirmTimeout)
		var confirmer solana.Confirmer = poll
		if cfg.Solana.UseWebsocketConfirm {
			wsConf = solana.NewWSConfirmer(cfg.Solana.WSEndpoint, poll)
			confirmer = wsConf
		}
		feeEst = solana.NewPriorityFeeEstimator(liveRPC)
		liveExec = execution.NewExecutor(router, rpc, wallet, confirmer, feeEst)
		exec = liveExec
	}

	// 7. Notifications.
	var sender notify.Sender = notify.LogSender{}
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegram(cfg.Telegram)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Telegram sender")
		}
		sender = tg
	}
	dispatcher := notify.NewDispatcher(sender, cfg.Notify)

	// 8. Storage.
	store, err := openStore(ctx, cfg, settings)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer store.Close()

	// 9. Engine.
	engine := sniper.NewEngine(cfg.EngineConfig(), sniper.Deps{
		Feed:      source,
		Settings:  store,
		Records:   store,
		Scorer:    scorer,
		Swapper:   exec,
		Prices:    prices,
		Pairs:     prices,
		Notifier:  dispatcher,
		Extractor: extract.New(extract.DefaultHosts),
	})

	open, err := store.OpenPositions(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load open positions")
	} else if n := engine.Restore(open); n > 0 {
		log.Info().Int("positions", n).Msg("Restored open positions")
	}

	// 10. Observability.
	sources := observability.Sources{
		Engine:      engine.Stats,
		Notify:      dispatcher.Stats,
		Scoring:     scorer.Stats,
		Jupiter:     router.Stats,
		DexScreener: prices.Stats,
		Feed:        source.Stats,
	}
	if liveExec != nil {
		sources.Executor = liveExec.Stats
	}
	if liveRPC != nil {
		sources.RPC = liveRPC.Stats
	}
	if feeEst != nil {
		sources.Fees = feeEst.Stats
	}
	metrics := observability.NewMetrics(sources)
	metrics.Info.WithLabelValues(cfg.General.InstanceID, fmt.Sprint(dryRun)).Set(1)

	health := observability.NewHealthMonitor(30 * time.Second)
	health.Register("rpc", observability.RPCCheck(rpc))
	health.Register("engine", observability.EngineCheck(engine.Stats, 3*cfg.Hunter.ScanInterval))
	health.SetObserver(metrics.ObserveHealth)

	server := observability.NewServer(observability.ServerConfig{
		Addr:       cfg.Metrics.Addr(),
		InstanceID: cfg.General.InstanceID,
		DryRun:     dryRun,
	}, engine, store, health, metrics)
	server.AddStats("notify", func() any { return dispatcher.Stats() })
	server.AddStats("scoring", func() any { return scorer.Stats() })
	server.AddStats("jupiter", func() any { return router.Stats() })
	server.AddStats("dexscreener", func() any { return prices.Stats() })
	server.AddStats("feed", func() any { return source.Stats() })
	server.AddStats("swaps", func() any { return exec.Recent() })
	if liveExec != nil {
		server.AddStats("executor", func() any { return liveExec.Stats() })
	}
	if wsConf != nil {
		server.AddStats("ws_confirm", func() any { return wsConf.Stats() })
	}
	if feeEst != nil {
		server.AddStats("priority_fees", func() any { return feeEst.Stats() })
	}

	// 11. Start services.
	g, gctx := errgroup.WithContext(ctx)

	dispatchCtx, dispatchCancel := context.WithCancel(context.Background())
	defer dispatchCancel()
	go dispatcher.Run(dispatchCtx)

	g.Go(func() error {
		health.Run(gctx)
		return nil
	})
	g.Go(func() error {
		health.ForwardAlerts(gctx, dispatcher)
		return nil
	})
	if feeEst != nil {
		g.Go(func() error {
			feeEst.Run(gctx)
			return nil
		})
	}
	if cfg.Metrics.Enabled {
		g.Go(func() error { return server.Run(gctx) })
	}
	g.Go(func() error { return engine.Run(gctx) })

	// Periodic stats logging.
	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				s := engine.Stats()
				log.Info().
					Int64("cycles", s.Cycles).
					Int64("posts", s.Posts).
					Int64("candidates", s.Candidates).
					Int64("scored", s.Scored).
					Int64("rejected", s.Rejected).
					Int64("bought", s.Bought).
					Int64("closed", s.Closed).
					Int("open_pos", s.OpenPositions).
					Int("retry_queue", s.RetryQueue).
					Bool("paused", s.Paused).
					Msg("[STATS]")
			}
		}
	})

	log.Info().Msg("KOL Hunter running: feed -> extract -> score -> buy -> monitor -> take profit")

	// 12. Block until shutdown.
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Service stopped with error")
	}

	// 13. Graceful shutdown.
	log.Info().Dur("drain_timeout", cfg.Hunter.DrainTimeout).Msg("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Hunter.DrainTimeout)
	engine.Shutdown(shutdownCtx)
	shutdownCancel()

	dispatcher.Close()
	select {
	case <-dispatcher.Done():
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Notification queue not drained")
	}

	final := engine.Stats()
	log.Info().
		Int64("cycles", final.Cycles).
		Int64("bought", final.Bought).
		Int64("buy_failures", final.BuyFailures).
		Int64("closed", final.Closed).
		Int("still_open", final.OpenPositions).
		Msg("KOL Hunter - Final Statistics")
	log.Info().Msg("KOL Hunter - Shutdown complete")
}

// openStore returns the configured store, seeded with the config settings
// and accounts.
func openStore(ctx context.Context, cfg *config.Config, settings sniper.Settings) (storage.Store, error) {
	if !cfg.Postgres.Enabled {
		log.Info().Msg("Storage: in-memory (positions are not persisted across restarts)")
		return storage.NewMemory(settings, cfg.Hunter.Accounts), nil
	}

	store, err := postgres.Open(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, err
	}
	if err := store.Seed(ctx, settings, cfg.Hunter.Accounts); err != nil {
		store.Close()
		return nil, err
	}
	log.Info().Msg("Storage: postgres")
	return store, nil
}

func setupLogging(general config.GeneralConfig) func() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stdout
	if general.LogFormat == "text" {
		out = zerolog.ConsoleWriter{Out: os.Stdout}
	}

	closeFn := func() {}
	if general.LogFile != "" {
		file := &lumberjack.Logger{
			Filename:   general.LogFile,
			MaxSize:    100, // MB
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
		out = zerolog.MultiLevelWriter(out, file)
		closeFn = func() { _ = file.Close() }
	}

	log.Logger = zerolog.New(out).
		With().Timestamp().Str("service", "kol-hunter").
		Str("instance", general.InstanceID).Logger()
	return closeFn
}
