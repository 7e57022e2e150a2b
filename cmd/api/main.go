package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/transit-pay/transit_pay/internal/config"
	"github.com/transit-pay/transit_pay/internal/infra"
	"github.com/transit-pay/transit_pay/internal/ledger"
	"github.com/transit-pay/transit_pay/internal/logging"
	"github.com/transit-pay/transit_pay/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("ledger-api", cfg.LogLevel)

	ctx := context.Background()

	var store ledger.Store
	db, cache, err := connectBackends(ctx, cfg)
	if err != nil {
		logger.Error("connect backends", "error", err)
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
		pg := ledger.NewPostgresStore(db)
		if err := pg.Migrate(ctx); err != nil {
			logger.Error("migrate schema", "error", err)
			os.Exit(1)
		}
		store = pg
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		store = ledger.NewMemory()
	}
	if cache != nil {
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	}

	srv, err := server.New(cfg, store, db, cache, logger)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	logger.Info("ledger api listening", "addr", cfg.Address(), "env", cfg.AppEnv)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}

// connectBackends dials postgres and redis when configured. In development
// both are optional; config.Load enforces them elsewhere.
func connectBackends(ctx context.Context, cfg config.Config) (db *pgxpool.Pool, cache *redis.Client, err error) {
	if cfg.DatabaseURL != "" {
		db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
	}
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			if db != nil {
				db.Close()
			}
			return nil, nil, err
		}
	}
	return db, cache, nil
}
