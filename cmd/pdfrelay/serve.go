package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pdfrelay/internal/bus"
	"pdfrelay/internal/channel"
	"pdfrelay/internal/classifier"
	"pdfrelay/internal/config"
	"pdfrelay/internal/dedup"
	"pdfrelay/internal/domain"
	"pdfrelay/internal/extract"
	"pdfrelay/internal/metrics"
	"pdfrelay/internal/pipeline"
	"pdfrelay/internal/relay"
	"pdfrelay/internal/session"
	"pdfrelay/internal/tempstore"

	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect the messaging account and relay messages to the webhook",
		Long:  "Starts the messaging session, the intake pipeline and the operator API. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.LoadOrDefaults(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, closeLog, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()
	logger = log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := tempstore.New(tempstore.Config{
		Dir:           cfg.TempStore.Dir,
		Retention:     time.Duration(cfg.TempStore.RetentionMinutes) * time.Minute,
		StaleAfter:    time.Duration(cfg.TempStore.StaleAfterMinutes) * time.Minute,
		SweepInterval: time.Duration(cfg.TempStore.SweepIntervalMinutes) * time.Minute,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()
	go store.Run(ctx)

	extractor, err := newExtractor(cfg, store)
	if err != nil {
		return err
	}

	filter, closeFilter, err := dedup.New(ctx, dedup.Options{
		Backend:       cfg.Dedup.Backend,
		RedisAddr:     cfg.Dedup.RedisAddr,
		RedisPassword: cfg.Dedup.RedisPassword,
		RedisDB:       cfg.Dedup.RedisDB,
		TTL:           time.Duration(cfg.Dedup.TTLMinutes) * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("dedup: %w", err)
	}
	defer closeFilter()

	transport, creds := newTransport(cfg)

	events := bus.NewEventBus(logger)
	events.On(bus.EventQRChallenge, func(ev bus.Event) {
		fmt.Fprintln(os.Stdout, "\nScan this QR code with WhatsApp (Linked devices):")
		qrterminal.GenerateHalfBlock(ev.Detail, qrterminal.L, os.Stdout)
	})
	events.On(bus.EventStateChanged, func(ev bus.Event) {
		logger.Info("session state", "state", ev.State, "detail", ev.Detail)
	})

	mgr := session.NewManager(session.Config{
		Transport:      transport,
		Credentials:    creds,
		Classifier:     classifier.New(cfg.Bot.StartCommand),
		Events:         events,
		ReconnectDelay: time.Duration(cfg.Transport.ReconnectDelaySeconds) * time.Second,
		Logger:         logger,
	})

	relayClient := relay.New(relay.Config{
		Endpoint: cfg.Relay.WebhookURL,
		Timeout:  time.Duration(cfg.Relay.TimeoutSeconds) * time.Second,
		Sender:   mgr,
		Logger:   logger,
	})
	if relayClient.DryRun() {
		logger.Warn("relay webhook not configured, payloads will only be logged", "url", cfg.Relay.WebhookURL)
	}

	mgr.SetHandler(pipeline.New(pipeline.Config{
		Messenger: mgr,
		Extractor: extractor,
		Relay:     relayClient,
		Dedup:     filter,
		Messages: pipeline.Messages{
			Welcome:  cfg.Bot.WelcomeText,
			Received: cfg.Bot.AckText,
			Failure:  cfg.Bot.FailureText,
		},
		KeepTempCopy:      cfg.Extractor.KeepTempCopy,
		IncludeExtraction: cfg.Relay.IncludeExtraction,
		Logger:            logger,
	}))

	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	apiErr := make(chan error, 1)
	if cfg.API.Enabled {
		apiCfg := channel.APIConfig{
			Host:    cfg.API.Host,
			Port:    cfg.API.Port,
			Secret:  cfg.API.Secret,
			Session: mgr,
			Events:  events,
			Logger:  logger,
		}
		if cfg.Metrics.Enabled {
			apiCfg.Metrics = metrics.Collector.Handler()
			apiCfg.MetricsPath = cfg.Metrics.Endpoint
		}
		api := channel.NewAPI(apiCfg)
		go func() {
			if err := api.Start(ctx); err != nil {
				apiErr <- err
			}
		}()
	}

	logger.Info("pdfrelay started. Press Ctrl+C to stop.", "transport", transport.Name(), "version", version)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-apiErr:
		logger.Error("operator api failed", "err", runErr)
	}
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := mgr.Stop(shutdownCtx); err != nil {
		logger.Warn("shutdown timed out, forcing exit", "err", err)
		return err
	}
	logger.Info("shutdown complete", "reconnects", mgr.Reconnects())
	return runErr
}

func newExtractor(cfg *config.Config, store *tempstore.Store) (*extract.Extractor, error) {
	ecfg := extract.Config{
		Sections: cfg.Extractor.Sections,
		Store:    store,
		Logger:   logger,
	}
	if cfg.Extractor.TitlePolicyFile != "" {
		policy, err := extract.LoadTitlePolicy(cfg.Extractor.TitlePolicyFile)
		if err != nil {
			return nil, err
		}
		ecfg.TitlePolicy = &policy
	}
	return extract.New(ecfg), nil
}

func newTransport(cfg *config.Config) (domain.Transport, domain.CredentialStore) {
	if cfg.Transport.Kind == "telegram" {
		return channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Transport.Telegram.Token,
			AllowFrom: cfg.Transport.Telegram.AllowFrom,
			ParseMode: cfg.Transport.Telegram.ParseMode,
			Logger:    logger,
		}), nil
	}
	wa := channel.NewWhatsApp(channel.WhatsAppConfig{
		SessionDB: cfg.Transport.WhatsApp.SessionDB,
		Logger:    logger,
	})
	return wa, wa
}
