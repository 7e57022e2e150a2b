package ledger

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnknownFare indicates a reference to a fare id not in the registry.
	ErrUnknownFare = errors.New("unknown fare")
)

// Transaction statuses as reported by validators.
const (
	TxStatusOK   = "ok"
	TxStatusFail = "fail"
)

// Card statuses in the central registry.
const (
	CardActive  = "active"
	CardBlocked = "blocked"
)

// EventAppOpen marks an app-open event used for the unique-active-user count.
const EventAppOpen = "app_open"

// Fare is a named fare amount in the smallest currency unit.
type Fare struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Amount int64  `json:"amount"`
}

// Validator is a registered field device. DeviceKey is shared with the device
// at registration and never exposed to passenger-facing surfaces.
type Validator struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Route     string `json:"route"`
	FareID    string `json:"fareId"`
	DeviceKey string `json:"deviceKey,omitempty"`
	IsActive  bool   `json:"isActive"`
	LastSeen  int64  `json:"lastSeen"` // epoch millis, 0 = never
}

// Card is the central registry record for a card uid.
type Card struct {
	UID           string `json:"uid"`
	CustomerID    string `json:"customerId,omitempty"`
	Status        string `json:"status"`
	Notes         string `json:"notes,omitempty"`
	FraudAttempts int    `json:"fraudAttempts"`
	UpdatedAt     int64  `json:"updatedAt"`
}

// Customer is a passenger account on the central side.
type Customer struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone,omitempty"`
	Balance   int64  `json:"balance"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Transaction is an accepted validator transaction. Day is derived from
// CreatedAt in UTC at ingest time and never recomputed.
type Transaction struct {
	ID          string `json:"id"`
	CreatedAt   int64  `json:"createdAt"`
	Day         string `json:"day"`
	ValidatorID string `json:"validatorId"`
	Method      string `json:"method"`
	FareID      string `json:"fareId"`
	Amount      int64  `json:"amount"`
	CardUID     string `json:"cardUid,omitempty"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
}

// Payout is a manually entered administrative fact recording money handed to
// a validator's operator. Immutable once created.
type Payout struct {
	ID          string `json:"id"`
	CreatedAt   int64  `json:"createdAt"`
	Day         string `json:"day"`
	ValidatorID string `json:"validatorId"`
	Amount      int64  `json:"amount"`
	Method      string `json:"method"`
	Note        string `json:"note"`
	CreatedBy   string `json:"createdBy"`
}

// AuditEntry records who/what/why/when/where for an admin mutation. This is
// the sole accountability mechanism for balance and card-status changes.
type AuditEntry struct {
	ID         string `json:"id"`
	CreatedAt  int64  `json:"createdAt"`
	Actor      string `json:"actor"`
	Action     string `json:"action"`
	TargetType string `json:"targetType"`
	TargetID   string `json:"targetId"`
	Reason     string `json:"reason"`
	IP         string `json:"ip"`
}

// Event is a lightweight usage event (currently app opens).
type Event struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	CreatedAt int64  `json:"createdAt"`
	Actor     string `json:"actor"`
	SubjectID string `json:"subjectId"`
}

// Store is the central ledger's persistence contract. Implementations must
// apply each mutating call atomically; read-modify-write sequences inside one
// call may not interleave with concurrent writers.
type Store interface {
	// Fares.
	PutFare(ctx context.Context, f Fare) error
	GetFare(ctx context.Context, id string) (Fare, error)
	ListFares(ctx context.Context) ([]Fare, error)
	DefaultFareID(ctx context.Context) (string, error)
	SetDefaultFareID(ctx context.Context, id string) error

	// Validators.
	PutValidator(ctx context.Context, v Validator) error
	GetValidator(ctx context.Context, id string) (Validator, error)
	ListValidators(ctx context.Context) ([]Validator, error)
	TouchValidator(ctx context.Context, id string, seenAt int64) error

	// Cards.
	PutCard(ctx context.Context, c Card) error
	GetCard(ctx context.Context, uid string) (Card, error)
	ListCards(ctx context.Context, query string, limit int) ([]Card, error)

	// Customers.
	PutCustomer(ctx context.Context, c Customer) error
	GetCustomer(ctx context.Context, id string) (Customer, error)
	ListCustomers(ctx context.Context, query string, limit int) ([]Customer, error)

	// Transactions. InsertTransactions skips ids already accepted and
	// returns how many were accepted for the first time.
	InsertTransactions(ctx context.Context, txs []Transaction) (int, error)
	ListTransactionsByDay(ctx context.Context, day string) ([]Transaction, error)
	ListRecentTransactions(ctx context.Context, limit int) ([]Transaction, error)

	// Payouts.
	InsertPayout(ctx context.Context, p Payout) error
	ListPayoutsByDay(ctx context.Context, day string) ([]Payout, error)

	// Audit trail.
	AppendAudit(ctx context.Context, e AuditEntry) error
	ListAudit(ctx context.Context, limit int) ([]AuditEntry, error)

	// Events.
	AppendEvent(ctx context.Context, e Event) error
	CountDistinctEventActors(ctx context.Context, eventType, day string) (int, error)
}
