package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/transit-pay/transit_pay/internal/card"
	"github.com/transit-pay/transit_pay/internal/config"
	"github.com/transit-pay/transit_pay/internal/device"
	"github.com/transit-pay/transit_pay/internal/logging"
	syncpkg "github.com/transit-pay/transit_pay/internal/sync"
	"github.com/transit-pay/transit_pay/internal/txqueue"
	"github.com/transit-pay/transit_pay/internal/wallet"
)

func main() {
	cfg, err := config.LoadDevice()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load device config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("validator", cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue, err := txqueue.OpenSQLite(ctx, cfg.QueuePath)
	if err != nil {
		logger.Error("open transaction queue", "error", err)
		os.Exit(1)
	}
	defer queue.Close()

	codec := card.NewCodec([]byte(cfg.IssuerKey))
	engine := wallet.NewEngine(codec)
	medium := device.NewMemoryMedium()

	sm := device.NewStateMachine(device.Config{
		ValidatorID: cfg.ValidatorID,
		DeviceKey:   cfg.DeviceKey,
		RouteName:   cfg.RouteName,
		AdminPIN:    cfg.AdminPIN,
		Fare: wallet.FareConfig{
			FareID:       cfg.FareID,
			Amount:       cfg.FareAmount,
			AntiPassback: cfg.AntiPassback,
		},
		TripActive:    true,
		WelcomeCredit: cfg.WelcomeCredit,
	}, engine, medium, queue, logger)

	client := syncpkg.NewHTTPClient(cfg.APIBaseURL, 10*time.Second)
	creds := func() (string, string) { return cfg.ValidatorID, cfg.DeviceKey }
	reconciler := syncpkg.NewReconciler(client, queue, creds, logger)

	// Server config wins over the local advisory cache when reachable.
	applyConfig := func(rc syncpkg.RemoteConfig) {
		sm.ApplyRemoteConfig(rc.Fare, rc.RouteName)
	}
	if rc, err := reconciler.PullConfig(ctx); err != nil {
		logger.Warn("initial config pull failed, using local config", "error", err)
	} else {
		applyConfig(rc)
	}

	qr := device.NewQRBroadcaster(cfg.ValidatorID, cfg.FareID, []byte(cfg.DeviceKey), device.DefaultQRRotation)
	go qr.Run(ctx)
	go reconciler.Run(ctx, cfg.SyncInterval, cfg.HeartbeatInterval, applyConfig)

	// The operator console is the device UI: taps, card issuing and the
	// admin menu all run through it.
	console := device.NewConsole(sm, medium, codec, queue, cfg.ValidatorID, os.Stdout, logger)
	go func() {
		if err := console.Run(ctx, os.Stdin); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("console stopped", "error", err)
		}
	}()

	if err := reconciler.Heartbeat(ctx); err != nil {
		logger.Warn("startup heartbeat failed", "error", err)
	}

	logger.Info("validator running",
		"validator", cfg.ValidatorID,
		"route", cfg.RouteName,
		"fare", cfg.FareAmount,
		"queue", cfg.QueuePath)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	// Final best-effort drain so a clean power-down loses nothing.
	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if report, err := reconciler.Sync(drainCtx); err != nil {
		if !errors.Is(err, syncpkg.ErrSyncInFlight) {
			logger.Warn("final sync failed, transactions remain queued", "error", err)
		}
	} else if report.Uploaded > 0 {
		logger.Info("final sync complete", "uploaded", report.Uploaded, "accepted", report.Accepted)
	}

	logger.Info("validator exited cleanly")
}
