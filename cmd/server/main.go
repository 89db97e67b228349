package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/osvaldoandrade/captionq/pkg/app"
	"github.com/osvaldoandrade/captionq/pkg/config"
)

const shutdownGrace = 30 * time.Second

func main() {
	if err := run(os.Getenv("CAPTIONQ_CONFIG_PATH")); err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR]", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.LoadConfigOptional(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	app.SetupMappings(application)
	logger := application.Logger

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           application.Engine,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      waitBudget(cfg) + 30*time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "store", cfg.StoreBackend, "object_store", cfg.ObjectStore)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = application.Close(context.Background())
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down", "grace", shutdownGrace)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	// Running pipelines get the rest of the grace period, then are cancelled.
	if err := application.Close(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "err", err)
	}
	return nil
}

// waitBudget is the longest a ?wait=true upload can hold its connection:
// every poll delay at its ceiling plus one HTTP timeout per remote step.
func waitBudget(cfg *config.Config) time.Duration {
	delayMs := max(cfg.PollRetryDelayMs, cfg.PollMaxDelayMs)
	poll := time.Duration(cfg.PollMaxRetries*delayMs) * time.Millisecond
	return poll + 4*time.Duration(cfg.HTTPTimeoutSeconds)*time.Second
}
