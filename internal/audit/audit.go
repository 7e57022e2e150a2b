package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/transit-pay/transit_pay/internal/ledger"
)

// MinReasonLength is the shortest justification accepted for an audited
// mutation.
const MinReasonLength = 4

// ErrReasonRequired indicates a missing or trivial justification string.
var ErrReasonRequired = errors.New("a non-trivial reason is required")

// Actions recorded in the trail.
const (
	ActionAdjustBalance = "ADJUST_BALANCE"
	ActionBlockCard     = "BLOCK_CARD"
	ActionUnblockCard   = "UNBLOCK_CARD"
	ActionCreatePayout  = "ACCOUNTING_PAYOUT_CREATE"
)

// Entry is the caller-supplied portion of an audit record.
type Entry struct {
	Actor      string
	Action     string
	TargetType string
	TargetID   string
	Reason     string
	IP         string
}

// Recorder appends audit entries for administrative mutations. Recording is
// a hard requirement: handlers call it after the mutation succeeded and
// surface its error rather than dropping the entry.
type Recorder struct {
	store ledger.Store
	now   func() time.Time
}

// NewRecorder builds a recorder over the ledger store.
func NewRecorder(store ledger.Store) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// ValidateReason rejects empty or trivially short justifications before any
// mutation takes place.
func ValidateReason(reason string) error {
	if len(strings.TrimSpace(reason)) < MinReasonLength {
		return ErrReasonRequired
	}
	return nil
}

// Record appends one entry to the trail.
func (r *Recorder) Record(ctx context.Context, e Entry) error {
	return r.store.AppendAudit(ctx, ledger.AuditEntry{
		ID:         uuid.NewString(),
		CreatedAt:  r.now().UnixMilli(),
		Actor:      e.Actor,
		Action:     e.Action,
		TargetType: e.TargetType,
		TargetID:   e.TargetID,
		Reason:     e.Reason,
		IP:         e.IP,
	})
}
