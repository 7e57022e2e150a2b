package txqueue

import (
	"context"
	"errors"

	"github.com/transit-pay/transit_pay/internal/wallet"
)

// Status marks whether a queued transaction reached the central ledger.
type Status string

const (
	StatusPending Status = "pending"
	StatusSynced  Status = "synced"
)

// ErrDuplicateID indicates the transaction id is already queued.
var ErrDuplicateID = errors.New("transaction already queued")

// Record is a queued transaction plus its sync state.
type Record struct {
	Tx         wallet.Transaction
	SyncStatus Status
}

// Queue is the validator's append-only local transaction log. Enqueue must be
// durable before it returns; nothing removes a pending entry except a
// confirmed sync, and retention only ever drops synced entries.
type Queue interface {
	Enqueue(ctx context.Context, tx wallet.Transaction) error
	Pending(ctx context.Context) ([]wallet.Transaction, error)
	PendingCount(ctx context.Context) (int, error)
	MarkSynced(ctx context.Context, ids []string) error
	All(ctx context.Context) ([]Record, error)
	TrimSynced(ctx context.Context, keep int) error
}
