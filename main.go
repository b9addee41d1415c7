package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os/signal"
	"syscall"

	"marginAutoBot/config"
	"marginAutoBot/internal/adapters/binancemargin"
	"marginAutoBot/internal/adapters/logger"
	"marginAutoBot/internal/adapters/signalhttp"
	"marginAutoBot/internal/adapters/smtpmail"
	"marginAutoBot/internal/adapters/sqlite"
	"marginAutoBot/internal/domain"
	"marginAutoBot/internal/engine"
	"marginAutoBot/internal/ports"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Journal (Database Adapter)
	journal, err := sqlite.NewJournal(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize trade journal")
		log.Fatalf("FATAL: Failed to initialize trade journal: %v", err)
	}
	defer func() {
		if err := journal.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing trade journal")
		}
	}()

	// 4. Initialize Exchange Client (Binance Margin Adapter)
	exchange, err := binancemargin.New(binancemargin.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance margin client")
		log.Fatalf("FATAL: Failed to initialize Binance margin client: %v", err)
	}

	// 5. Initialize Signal Poller
	poller, err := signalhttp.New(signalhttp.Config{
		BaseURL:   cfg.SignalBaseURL,
		Path:      cfg.SignalPath,
		Fallbacks: cfg.SignalFallbacks,
		Interval:  cfg.PollInterval,
		TTL:       cfg.SignalTTL,
		Logger:    appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize signal poller")
		log.Fatalf("FATAL: Failed to initialize signal poller: %v", err)
	}

	// 6. Initialize Notifier (optional)
	var notifier ports.Notifier
	if cfg.EmailEnabled {
		notifier, err = smtpmail.New(smtpmail.Config{
			Provider: cfg.EmailProvider,
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			To:       cfg.EmailTo,
			Logger:   appLogger,
		})
		if err != nil {
			appLogger.Error(context.Background(), err, "FATAL: Failed to initialize email notifier")
			log.Fatalf("FATAL: Failed to initialize email notifier: %v", err)
		}
	}

	// 7. Runtime settings store, bridged into the engine as a snapshot source
	store := config.NewStore(cfg)
	settings := func() engine.Settings {
		rt := store.Snapshot()
		return engine.Settings{
			Symbol:        rt.Symbol,
			Mode:          domain.MarginMode(rt.MarginMode),
			Leverage:      rt.Leverage,
			StopLossPct:   rt.StopLossPct,
			TakeProfitPct: rt.TakeProfitPct,
			AutoBorrow:    rt.AutoBorrow,
			AutoRepay:     rt.AutoRepay,
			EmailEnabled:  rt.EmailEnabled,
		}
	}

	// 8. Initialize Position Engine
	bot, err := engine.New(engine.Config{
		Settings: settings,
		Exchange: exchange,
		Signals:  poller,
		Logger:   appLogger,
		Journal:  journal,
		Notifier: notifier,
		Window:   cfg.SignalWindow,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize position engine")
		log.Fatalf("FATAL: Failed to initialize position engine: %v", err)
	}

	// 9. Run until interrupted
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := poller.Run(ctx); err != nil && ctx.Err() == nil {
			appLogger.Error(ctx, err, "Signal poller exited unexpectedly")
		}
	}()

	bot.EnableTrading(true)
	appLogger.Info(ctx, "Bot started", map[string]interface{}{
		"symbol":  cfg.Symbol,
		"mode":    string(cfg.MarginMode),
		"testnet": cfg.IsTestnet,
	})

	if err := bot.Run(ctx); err != nil && ctx.Err() == nil {
		appLogger.Error(ctx, err, "Position engine exited with error")
		log.Fatalf("FATAL: Position engine exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
