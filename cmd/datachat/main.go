// Package main provides the entry point for the datachat backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/datachat-io/datachat/internal/server"
	"github.com/datachat-io/datachat/pkg/platform"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type serverOptions struct {
	configPath  string
	address     string
	showVersion bool
}

func parseFlags() serverOptions {
	opts := serverOptions{}
	flag.StringVar(&opts.configPath, "config", "config/config.yaml", "Path to configuration file")
	flag.StringVar(&opts.address, "address", "", "Override the configured listen address")
	flag.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	flag.Parse()
	return opts
}

func run() error {
	opts := parseFlags()

	if opts.showVersion {
		fmt.Printf("datachat version %s\n", server.Version)
		return nil
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := platform.LoadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if opts.address != "" {
		cfg.Server.Address = opts.address
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := platform.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("building platform: %w", err)
	}

	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("starting platform: %w", err)
	}

	srv := &http.Server{
		Addr: cfg.Server.Address,
		Handler: server.New(server.Config{
			Logger:         logger,
			Sessions:       p.Sessions(),
			Reclaimers:     p.Reclaimers(),
			Users:          p.Users(),
			TempDBs:        p.TempDBs(),
			Indexes:        p.IndexReclaimer(),
			Health:         p.Health(),
			CookieName:     cfg.Session.CookieName,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "address", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
	case err := <-p.ListenerErr():
		if err != nil {
			// A dead listener means no session is ever reclaimed again.
			runErr = fmt.Errorf("expiration listener: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", "error", err)
	}
	if err := p.Stop(shutdownCtx); err != nil {
		logger.Warn("platform shutdown failed", "error", err)
	}

	return runErr
}
