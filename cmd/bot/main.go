package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"

	"github.com/outage-watcher/internal/broadcast"
	"github.com/outage-watcher/internal/config"
	"github.com/outage-watcher/internal/confirm"
	"github.com/outage-watcher/internal/detect"
	"github.com/outage-watcher/internal/report"
	"github.com/outage-watcher/internal/source/web"
	"github.com/outage-watcher/internal/storage/sqlite"
	"github.com/outage-watcher/internal/telegram"
	"github.com/outage-watcher/internal/watcher"
	"github.com/outage-watcher/pkg/logger"
	"github.com/outage-watcher/pkg/ratelimit"
)

// appVersion is reported to admins when it changes between restarts.
const appVersion = "1.1.0"

var (
	cfgFile string
	cfg     *config.Config
	log     *logger.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "outage-watcher",
		Short: "Power outage watcher and notification bot",
		Long: `Watches the published outage schedule for changes and notifies
subscribers over Telegram. Run as a long-lived service.`,
		RunE: runBot,
	}

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file path")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runBot(cmd *cobra.Command, args []string) error {
	var err error

	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log = logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	log.Info().Str("version", appVersion).Msg("Starting outage watcher")

	repo, err := sqlite.New(cfg.Database.DSN, log)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer repo.Close()

	if err := repo.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return fmt.Errorf("failed to create telegram bot: %w", err)
	}

	limiter := ratelimit.NewDefaultLimiter()
	src := web.New(cfg.Source, limiter, log)
	detector := detect.New(repo, log)
	gate := confirm.NewGate()
	broadcaster := broadcast.New(telegram.NewSender(api), limiter, log)
	reports := report.NewWriter(cfg.Reports.Dir, log)

	svc := watcher.New(repo, src, detector, gate, broadcaster, reports,
		cfg.Source.Place, cfg.Watcher.DefaultIntervalHours, log)

	bot := telegram.New(api, svc, cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Health endpoint for the hosting platform
	go startHealthServer()

	// Tell admins when a new version comes up
	if changed, err := svc.VersionChanged(ctx, appVersion); err != nil {
		log.Warn().Err(err).Msg("Version check failed")
	} else if changed {
		bot.NotifyAdmins(fmt.Sprintf("🤖 Бот обновлен до версии %s", appVersion))
	}

	svc.Start(ctx)
	go bot.Run(ctx)

	log.Info().Int("interval_hours", svc.IntervalHours(ctx)).Msg("Watcher running")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down")
	svc.Stop()
	cancel()

	return nil
}

// startHealthServer starts a simple HTTP server for health checks
func startHealthServer() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "10000"
	}

	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Outage Watcher"))
	})

	log.Info().Str("port", port).Msg("Health check server starting")
	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Error().Err(err).Msg("Health server failed")
	}
}
