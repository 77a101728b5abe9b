// Copyright 2025 Malar Market Ledger Authors
// SPDX-License-Identifier: Apache-2.0

// ledger-server runs the reference Malar Market Ledger backend that
// offline clients replay their queued mutations against.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Markandayan1518/Malar-Market-Ledger-sub002/ledgersrv"
)

type config struct {
	Addr            string        `env:"LEDGER_ADDR" envDefault:":8080"`
	DatabaseURL     string        `env:"LEDGER_DATABASE_URL,required"`
	JWTSecret       string        `env:"LEDGER_JWT_SECRET,required"`
	ShutdownTimeout time.Duration `env:"LEDGER_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	service, err := ledgersrv.NewLedgerService(ctx, pool, logger)
	if err != nil {
		return err
	}

	jwtAuth := ledgersrv.NewJWTAuth(cfg.JWTSecret)
	handlers := ledgersrv.NewHandlers(service, logger)

	mux := http.NewServeMux()
	handlers.Register(mux)

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: jwtAuth.Middleware(mux),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ledger server listening", "addr", cfg.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
