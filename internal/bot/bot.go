// Package bot wires the trading components together and owns their
// lifecycle. main constructs a Bot, starts it, and stops it on signal.
package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"krx-trading-bot/config"
	"krx-trading-bot/internal/api"
	"krx-trading-bot/internal/broker"
	"krx-trading-bot/internal/cache"
	"krx-trading-bot/internal/cost"
	"krx-trading-bot/internal/council"
	"krx-trading-bot/internal/database"
	"krx-trading-bot/internal/events"
	"krx-trading-bot/internal/market"
	"krx-trading-bot/internal/monitor"
	"krx-trading-bot/internal/notification"
	"krx-trading-bot/internal/pipeline"
	"krx-trading-bot/internal/risk"
	"krx-trading-bot/internal/scanner"
)

// Bot holds every running component. Construction wires them; Start and
// Stop bracket the background work.
type Bot struct {
	cfg    *config.Config
	logger zerolog.Logger

	bus      *events.EventBus
	cache    *cache.Service
	db       *database.DB
	broker   broker.Broker
	calendar *market.Calendar
	clock    market.Clock
	costs    *cost.Manager
	risk     *risk.Evaluator
	pipeline *pipeline.Pipeline
	council  *council.Orchestrator
	scanner  *scanner.Scanner
	monitor  *monitor.Monitor
	server   *api.Server
	notify   *notification.Manager
}

// New builds the full component graph from configuration. Nothing starts
// running yet; callers must Start the returned bot.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Bot, error) {
	bus := events.NewEventBus()
	cacheSvc := cache.New(cfg.RedisConfig)

	notify := notification.NewManager(logger)
	notify.AddNotifier(notification.NewTelegramNotifier(cfg.TelegramConfig))
	notify.Attach(bus)

	db, err := database.NewDB(cfg.DatabaseConfig)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	if err := db.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	signalRepo := database.NewSignalRepository(db)
	meetingRepo := database.NewMeetingRepository(db)

	b, err := buildBroker(ctx, cfg, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	calendar, err := market.NewCalendar(cfg.SessionConfig)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("calendar: %w", err)
	}
	clock := market.RealClock{}

	costs := cost.NewManager(cfg.CostConfig, clock, calendar.Location(), cacheSvc, logger)
	riskEval := risk.NewEvaluator(cfg.RiskConfig, logger)

	pipe := pipeline.New(cfg.TradingConfig, signalRepo, b, riskEval, cacheSvc, calendar, clock, bus, logger)

	llm := council.NewLLMClient(&council.LLMConfig{
		Provider:    council.Provider(cfg.CouncilConfig.Provider),
		APIKey:      cfg.CouncilConfig.APIKey,
		Model:       cfg.CouncilConfig.Model,
		MaxTokens:   cfg.CouncilConfig.MaxTokens,
		Temperature: cfg.CouncilConfig.Temperature,
		Timeout:     time.Duration(cfg.CouncilConfig.AnalystTimeoutSec) * time.Second,
	})
	analyst := council.NewLLMAnalyst(llm)
	orch := council.NewOrchestrator(
		cfg.TradingConfig, cfg.RiskConfig, cfg.CouncilConfig,
		analyst, riskEval, costs, bus, pipe, meetingRepo, clock, logger,
	)

	sellCooldown := time.Duration(cfg.MonitorConfig.SellCooldownSec) * time.Second
	scan := scanner.New(cfg.ScannerConfig, sellCooldown, b, orch, cacheSvc, bus, clock, logger)
	scan.SetUniverse(scanner.DefaultUniverse())

	mon := monitor.New(
		cfg.MonitorConfig, cfg.RiskConfig, cfg.ScannerConfig,
		b, signalRepo, pipe, orch, scan, costs,
		cacheSvc, calendar, clock, bus, logger,
	)

	var server *api.Server
	if cfg.ServerConfig.Enabled {
		server = api.NewServer(
			cfg.ServerConfig, db, signalRepo, meetingRepo, pipe, scan,
			b, costs, calendar, clock, bus, logger,
		)
	}

	return &Bot{
		cfg:      cfg,
		logger:   logger.With().Str("component", "bot").Logger(),
		bus:      bus,
		cache:    cacheSvc,
		db:       db,
		broker:   b,
		calendar: calendar,
		clock:    clock,
		costs:    costs,
		risk:     riskEval,
		pipeline: pipe,
		council:  orch,
		scanner:  scan,
		monitor:  mon,
		server:   server,
		notify:   notify,
	}, nil
}

// buildBroker picks the live or mock client. Real credentials come from the
// environment or, when enabled, from Vault.
func buildBroker(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (broker.Broker, error) {
	if cfg.BrokerConfig.MockMode {
		logger.Warn().Msg("broker mock mode enabled, orders are simulated")
		return broker.NewMockClient(), nil
	}

	if cfg.VaultConfig.Enabled {
		if err := config.LoadBrokerCredentialsFromVault(ctx, cfg); err != nil {
			return nil, fmt.Errorf("vault credentials: %w", err)
		}
		logger.Info().Msg("broker credentials loaded from vault")
	}
	if cfg.BrokerConfig.AppKey == "" || cfg.BrokerConfig.AppSecret == "" {
		return nil, fmt.Errorf("broker credentials missing; set BROKER_APP_KEY/BROKER_APP_SECRET or enable mock_mode")
	}

	client := broker.NewClient(broker.Config{
		AppKey:    cfg.BrokerConfig.AppKey,
		AppSecret: cfg.BrokerConfig.AppSecret,
		AccountNo: cfg.BrokerConfig.AccountNo,
		BaseURL:   cfg.BrokerConfig.BaseURL,
		Timeout:   time.Duration(cfg.BrokerConfig.TimeoutSec) * time.Second,
	})
	return broker.NewCachedBroker(client), nil
}

// Start restores persisted signals and launches the background loops.
func (b *Bot) Start(ctx context.Context) error {
	restored, err := b.pipeline.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore signals: %w", err)
	}
	b.logger.Info().Int("signals", restored).Msg("active signals restored")

	if b.cfg.MonitorConfig.Enabled {
		if err := b.monitor.Start(ctx); err != nil {
			return fmt.Errorf("monitor: %w", err)
		}
	}

	if b.server != nil {
		go func() {
			if err := b.server.Start(); err != nil {
				b.logger.Error().Err(err).Msg("http server stopped")
			}
		}()
	}

	b.logger.Info().
		Bool("trading_enabled", b.cfg.TradingConfig.TradingEnabled).
		Bool("auto_execute", b.cfg.TradingConfig.AutoExecute).
		Bool("mock_broker", b.cfg.BrokerConfig.MockMode).
		Msg("bot started")
	return nil
}

// Stop shuts the components down in reverse start order.
func (b *Bot) Stop(ctx context.Context) {
	if b.server != nil {
		if err := b.server.Shutdown(ctx); err != nil {
			b.logger.Warn().Err(err).Msg("http shutdown failed")
		}
	}
	if b.cfg.MonitorConfig.Enabled {
		b.monitor.Stop()
	}
	b.bus.Close()
	if err := b.cache.Close(); err != nil {
		b.logger.Warn().Err(err).Msg("cache close failed")
	}
	b.db.Close()
	b.logger.Info().Msg("bot stopped")
}
