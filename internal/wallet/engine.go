package wallet

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/transit-pay/transit_pay/internal/card"
)

var (
	// ErrIntegrity indicates the card's integrity tag does not match its
	// content. The state is untrusted and the tap is never retried.
	ErrIntegrity = errors.New("card authentication failed")

	// ErrBlocked indicates the card is administratively blocked.
	ErrBlocked = errors.New("card is blocked")

	// ErrUninitialized indicates the card was never activated.
	ErrUninitialized = errors.New("card is not initialized")

	// ErrInsufficientFunds indicates the balance cannot cover the fare.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrTooSoon indicates the anti-passback cool-down has not elapsed. The
	// tap may be retried after the interval.
	ErrTooSoon = errors.New("tapped again too soon")

	// ErrAlreadyInitialized indicates an activation attempt on a card that
	// already left the UNINITIALIZED state.
	ErrAlreadyInitialized = errors.New("card already initialized")
)

// FareConfig is the fare in effect at the validator at debit time.
type FareConfig struct {
	FareID       string
	Amount       int64
	AntiPassback time.Duration
}

// Transaction records one successful debit. Created exactly once per debit;
// the queue layer owns the pending/synced flag.
type Transaction struct {
	ID            string `json:"id"`
	CardUID       string `json:"cardUid"`
	Amount        int64  `json:"amount"`
	FareID        string `json:"fareId"`
	Method        string `json:"method"`
	Role          string `json:"role"`
	DeviceID      string `json:"deviceId"`
	RouteID       string `json:"routeId"`
	Timestamp     int64  `json:"timestamp"`
	CounterBefore int64  `json:"counterBefore"`
	CounterAfter  int64  `json:"counterAfter"`
}

// MethodNFC is the tap channel; MethodQR is the scanned-QR channel.
const (
	MethodNFC = "NFC"
	MethodQR  = "QR"
)

// Engine validates taps against business rules and produces the debited card
// state plus its transaction record. It never mutates its input: a debit
// returns a new stamped state, and every rejection leaves the card untouched.
//
// Two validators can still debit the same physical card inside one
// anti-passback window when both are offline; the offline model accepts that
// residual risk in exchange for availability.
type Engine struct {
	codec *card.Codec
	now   func() time.Time
}

// NewEngine builds an engine around the integrity codec.
func NewEngine(codec *card.Codec) *Engine {
	return &Engine{codec: codec, now: time.Now}
}

// WithClock overrides the engine clock. Intended for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// ValidateTap applies the ordered tap rules and returns the first failure:
// integrity, then status, then balance, then anti-passback. The ordering is a
// contract; callers map each sentinel to an operator-facing reason.
func (e *Engine) ValidateTap(s card.State, fare FareConfig) error {
	if !e.codec.Verify(s) {
		return ErrIntegrity
	}
	switch s.Status {
	case card.StatusActive:
	case card.StatusBlocked:
		return ErrBlocked
	default:
		return ErrUninitialized
	}
	if s.Balance < fare.Amount {
		return ErrInsufficientFunds
	}
	if s.LastTapTime > 0 {
		elapsed := e.now().UnixMilli() - s.LastTapTime
		if elapsed < fare.AntiPassback.Milliseconds() {
			return ErrTooSoon
		}
	}
	return nil
}

// DebitInput carries the per-tap context recorded on the transaction.
type DebitInput struct {
	Fare     FareConfig
	Method   string
	Role     string
	DeviceID string
	RouteID  string
}

// Debit validates the tap and, on success, returns the debited re-stamped
// state and its transaction. The caller must persist the state to the card
// medium and enqueue the transaction as one logical operation.
func (e *Engine) Debit(s card.State, input DebitInput) (card.State, Transaction, error) {
	if err := e.ValidateTap(s, input.Fare); err != nil {
		return s, Transaction{}, err
	}

	now := e.now().UnixMilli()
	updated := s
	updated.Balance -= input.Fare.Amount
	updated.TxCounter++
	updated.LastTapTime = now
	updated = e.codec.Stamp(updated)

	method := input.Method
	if method == "" {
		method = MethodNFC
	}

	tx := Transaction{
		ID:            uuid.NewString(),
		CardUID:       s.UID,
		Amount:        input.Fare.Amount,
		FareID:        input.Fare.FareID,
		Method:        method,
		Role:          input.Role,
		DeviceID:      input.DeviceID,
		RouteID:       input.RouteID,
		Timestamp:     now,
		CounterBefore: s.TxCounter,
		CounterAfter:  updated.TxCounter,
	}
	return updated, tx, nil
}

// Initialize activates a factory card with its welcome credit. Only the
// issuing flow calls this; the tap path can never change card status.
func (e *Engine) Initialize(s card.State, welcomeCredit int64) (card.State, error) {
	if s.Status != card.StatusUninitialized {
		return s, ErrAlreadyInitialized
	}
	updated := s
	updated.Status = card.StatusActive
	updated.Balance = welcomeCredit
	return e.codec.Stamp(updated), nil
}
