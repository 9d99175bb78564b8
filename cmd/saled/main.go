package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tokensale/config"
	"tokensale/core/events"
	"tokensale/core/state"
	"tokensale/native/bank"
	"tokensale/native/common"
	"tokensale/native/sale"
	"tokensale/observability"
	"tokensale/observability/logging"
	"tokensale/observability/metrics"
	telemetry "tokensale/observability/otel"
	"tokensale/rpc"
	"tokensale/rpc/middleware"
	"tokensale/storage"
	"tokensale/storage/receipts"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "saled: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("saled", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		cfgPath      string
		allowMigrate bool
	)
	fs.StringVar(&cfgPath, "config", "./saled.toml", "path to saled configuration (TOML or YAML)")
	fs.BoolVar(&allowMigrate, "allow-migrate", false, "tolerate a state schema version mismatch")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if allowMigrate {
		cfg.AllowMigrate = true
	}

	logger, logCloser := logging.Setup("saled", cfg.Environment, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(ctx, "saled", cfg.Environment, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(cfg.StatePath())
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer db.Close()
	if err := state.EnsureStateVersion(db, cfg.AllowMigrate); err != nil {
		return err
	}
	manager := state.NewManager(db)
	ledger := bank.NewLedger(manager)
	if err := applyGenesis(manager, ledger, cfg.Genesis, logger); err != nil {
		return err
	}

	journal, err := receipts.Open(receipts.Config{
		Driver: cfg.Receipts.Driver,
		DSN:    cfg.Receipts.DSN,
		Path:   cfg.Receipts.Path,
	}, logger)
	if err != nil {
		return err
	}
	defer journal.Close()
	verified, err := journal.Verify(ctx)
	if err != nil {
		return fmt.Errorf("verify receipts: %w", err)
	}
	logger.Info("receipt journal verified", "count", verified.Count, "head", verified.Head)

	hub := rpc.NewHub(logger)
	pauses := common.NewStaticPauses()
	if cfg.Paused {
		pauses.Set(sale.ModuleName, true)
	}
	observability.API().SetPaused(cfg.Paused)

	engine := sale.NewEngine()
	engine.SetState(manager)
	engine.SetLedger(ledger)
	engine.SetPauseView(pauses)
	engine.SetEmitter(events.NewFanout(journal, hub, metrics.Sale()))

	server, err := rpc.New(rpc.Config{
		ServiceName: "saled",
		Engine:      engine,
		Balances:    ledger,
		Receipts:    journal,
		Hub:         hub,
		Logger:      logger,
		Auth: middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.Secret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew.Duration,
		},
		RateLimit: middleware.RateLimit{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		},
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout.Duration,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout.Duration,
		WriteTimeout:      cfg.HTTP.WriteTimeout.Duration,
	}
	return serve(ctx, httpServer, cfg.HTTP.ShutdownTimeout.Duration, logger)
}

func serve(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("saled listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
