package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/transit-pay/transit_pay/internal/ledger"
	"github.com/transit-pay/transit_pay/internal/txqueue"
	"github.com/transit-pay/transit_pay/internal/wallet"
)

// ErrSyncInFlight indicates a batch upload is already running. Concurrent
// sync calls are refused rather than queued to keep one in-flight batch per
// device.
var ErrSyncInFlight = errors.New("sync already in flight")

// DefaultRetention is how many synced transactions the local log keeps.
const DefaultRetention = 500

// Credentials supplies the device identity, re-read on every call so pairing
// changes take effect immediately.
type Credentials func() (validatorID, deviceKey string)

// Report summarizes one sync pass.
type Report struct {
	Uploaded int
	Accepted int
}

// Reconciler drains the offline queue to the central ledger and keeps the
// device heartbeating. Heartbeat and config pull are idempotent and safe to
// run concurrently with a sync.
type Reconciler struct {
	client LedgerClient
	queue  txqueue.Queue
	creds  Credentials
	logger *slog.Logger

	syncMu    sync.Mutex
	retention int
}

// NewReconciler wires the reconciler.
func NewReconciler(client LedgerClient, queue txqueue.Queue, creds Credentials, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		client:    client,
		queue:     queue,
		creds:     creds,
		logger:    logger,
		retention: DefaultRetention,
	}
}

// Sync uploads the pending batch and flips confirmed transactions to synced.
// On transport or auth failure the queue is untouched and every entry stays
// pending; on partial acceptance only the confirmed ids flip.
func (r *Reconciler) Sync(ctx context.Context) (Report, error) {
	if !r.syncMu.TryLock() {
		return Report{}, ErrSyncInFlight
	}
	defer r.syncMu.Unlock()

	pending, err := r.queue.Pending(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("read pending: %w", err)
	}
	if len(pending) == 0 {
		return Report{}, nil
	}

	items := make([]BulkItem, 0, len(pending))
	for _, tx := range pending {
		items = append(items, toBulkItem(tx))
	}

	validatorID, deviceKey := r.creds()
	res, err := r.client.UploadBatch(ctx, validatorID, deviceKey, items)
	if err != nil {
		// Invisible to riders; reconciliation just runs later.
		r.logger.Warn("batch upload failed", "pending", len(items), "error", err)
		return Report{}, err
	}

	if err := r.queue.MarkSynced(ctx, res.AcceptedIDs); err != nil {
		return Report{}, fmt.Errorf("mark synced: %w", err)
	}
	if err := r.queue.TrimSynced(ctx, r.retention); err != nil {
		r.logger.Warn("queue retention failed", "error", err)
	}

	r.logger.Info("batch synced", "uploaded", len(items), "accepted", res.Accepted)
	return Report{Uploaded: len(items), Accepted: res.Accepted}, nil
}

// Heartbeat reports device liveness to the ledger.
func (r *Reconciler) Heartbeat(ctx context.Context) error {
	validatorID, deviceKey := r.creds()
	return r.client.Heartbeat(ctx, validatorID, deviceKey)
}

// PullConfig fetches the server-authoritative fare and route.
func (r *Reconciler) PullConfig(ctx context.Context) (RemoteConfig, error) {
	validatorID, deviceKey := r.creds()
	return r.client.FetchConfig(ctx, validatorID, deviceKey)
}

// Run drives the periodic sync and heartbeat/config loop until ctx is
// cancelled. Failures wait for the next tick; there is no backoff state to
// carry across an offline stretch.
func (r *Reconciler) Run(ctx context.Context, syncEvery, heartbeatEvery time.Duration, applyConfig func(RemoteConfig)) {
	syncTicker := time.NewTicker(syncEvery)
	defer syncTicker.Stop()
	hbTicker := time.NewTicker(heartbeatEvery)
	defer hbTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-syncTicker.C:
			if _, err := r.Sync(ctx); err != nil && !errors.Is(err, ErrSyncInFlight) {
				r.logger.Debug("sync tick failed", "error", err)
			}
		case <-hbTicker.C:
			if err := r.Heartbeat(ctx); err != nil {
				r.logger.Debug("heartbeat failed", "error", err)
				continue
			}
			cfg, err := r.PullConfig(ctx)
			if err != nil {
				r.logger.Debug("config pull failed", "error", err)
				continue
			}
			if applyConfig != nil {
				applyConfig(cfg)
			}
		}
	}
}

func toBulkItem(tx wallet.Transaction) BulkItem {
	return BulkItem{
		ID:        tx.ID,
		CreatedAt: tx.Timestamp,
		Method:    tx.Method,
		FareID:    tx.FareID,
		Amount:    tx.Amount,
		CardUID:   tx.CardUID,
		Status:    ledger.TxStatusOK,
	}
}
