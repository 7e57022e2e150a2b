package sync

import (
	"context"
	"errors"

	"github.com/transit-pay/transit_pay/internal/wallet"
)

var (
	// ErrDeviceUnauthorized indicates the ledger rejected the device key.
	// Never retried with the same key; the device needs re-pairing.
	ErrDeviceUnauthorized = errors.New("device key rejected")

	// ErrValidatorUnknown indicates the validator id is not registered.
	ErrValidatorUnknown = errors.New("validator not registered")

	// ErrTransport indicates a network or server failure. The queue is left
	// untouched and the next scheduled tick retries.
	ErrTransport = errors.New("ledger transport failure")
)

// BulkItem is one transaction in the upload wire format.
type BulkItem struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"createdAt"`
	Method    string `json:"method"`
	FareID    string `json:"fareId,omitempty"`
	Amount    int64  `json:"amount"`
	CardUID   string `json:"cardUid,omitempty"`
	Status    string `json:"status,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// BulkResult reports which uploaded transactions the ledger now holds.
// AcceptedIDs includes ids that were already present from an earlier retry;
// Accepted counts only first-time inserts.
type BulkResult struct {
	Accepted    int
	AcceptedIDs []string
}

// RemoteConfig is the server-authoritative validator configuration.
type RemoteConfig struct {
	Fare      wallet.FareConfig
	RouteName string
	IsActive  bool
}

// LedgerClient is the device's connector to the central ledger.
type LedgerClient interface {
	Heartbeat(ctx context.Context, validatorID, deviceKey string) error
	FetchConfig(ctx context.Context, validatorID, deviceKey string) (RemoteConfig, error)
	UploadBatch(ctx context.Context, validatorID, deviceKey string, items []BulkItem) (BulkResult, error)
}

// StaticClient simulates an always-reachable ledger that accepts everything.
// Used in tests and when running the device without a backend.
type StaticClient struct{}

func (StaticClient) Heartbeat(_ context.Context, _, _ string) error { return nil }

func (StaticClient) FetchConfig(_ context.Context, _, _ string) (RemoteConfig, error) {
	return RemoteConfig{}, nil
}

func (StaticClient) UploadBatch(_ context.Context, _, _ string, items []BulkItem) (BulkResult, error) {
	res := BulkResult{Accepted: len(items)}
	for _, it := range items {
		res.AcceptedIDs = append(res.AcceptedIDs, it.ID)
	}
	return res, nil
}
