// Command pinch runs the cost metering service: the ingest/query HTTP
// surface, the budget tracker, and the daily retention sweep.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/openclaw/pinch/internal/alert"
	"github.com/openclaw/pinch/internal/budget"
	"github.com/openclaw/pinch/internal/config"
	"github.com/openclaw/pinch/internal/dashboard"
	"github.com/openclaw/pinch/internal/ingest"
	"github.com/openclaw/pinch/internal/monitoring"
	"github.com/openclaw/pinch/internal/pricing"
	"github.com/openclaw/pinch/internal/store"
	"github.com/openclaw/pinch/internal/tools"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to pinch.yaml (default: ~/.openclaw/pinch.yaml)")
		portFlag   = flag.Int("port", 0, "dashboard port override")
	)
	flag.Parse()

	// .env is optional; real env always wins.
	_ = godotenv.Load()

	path := *configPath
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, ".openclaw", "pinch.yaml")
		}
	}

	if err := run(path, *portFlag); err != nil {
		log.Error().Err(err).Msg("pinch exited with error")
		os.Exit(1)
	}
}

func run(configPath string, portOverride int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg.LogLevel)
	if portOverride > 0 {
		cfg.Dashboard.Port = portOverride
	}

	resolver, err := pricing.Load(cfg.PricingFile, cfg.Pricing)
	if err != nil {
		return fmt.Errorf("load pricing: %w", err)
	}

	st, err := store.New(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	metrics := monitoring.New()

	var tracker *budget.Tracker
	if cfg.Budget.Configured() {
		tracker = budget.New(cfg.Budget, st, cfg.DataDir)
		tracker.Metrics = metrics
	}

	deliverer := alert.New(cfg.Alerts)
	ing := ingest.New(resolver, st, alerterOrNil(tracker), deliverer, metrics)
	reports := tools.New(st, tracker)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Int("pricing_version", resolver.Version()).
		Bool("budgets", cfg.Budget.Configured()).
		Msg("pinch starting")

	// Retention runs at startup and then once a day. Midnight UTC plus a
	// few minutes so the rollover of the finished day happens first.
	sweep := func() {
		if n := st.Retention(cfg.RetentionDays); n > 0 {
			log.Info().Int("removed", n).Msg("retention sweep")
		}
	}
	sweep()
	scheduler := cron.New(cron.WithLocation(time.UTC))
	if _, err := scheduler.AddFunc("5 0 * * *", sweep); err != nil {
		return fmt.Errorf("schedule retention: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !cfg.Dashboard.IsEnabled() {
		log.Info().Msg("dashboard disabled, running headless")
		<-ctx.Done()
		return nil
	}

	srv := dashboard.New(cfg.Dashboard, st, ing, tracker, reports, metrics)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// alerterOrNil avoids handing ingest a typed-nil interface.
func alerterOrNil(t *budget.Tracker) ingest.Alerter {
	if t == nil {
		return nil
	}
	return t
}

// setupLogging configures zerolog: human console output on a terminal,
// structured JSON otherwise.
func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = log.Output(os.Stderr)
	}
}
