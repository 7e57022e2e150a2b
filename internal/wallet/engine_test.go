package wallet

import (
	"errors"
	"testing"
	"time"

	"github.com/transit-pay/transit_pay/internal/card"
)

var testFare = FareConfig{FareID: "FARE-STD", Amount: 2_000, AntiPassback: 5 * time.Second}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func activeCard(codec *card.Codec, balance int64) card.State {
	s := card.State{
		UID:       "CARD_1",
		Version:   card.SchemaVersion,
		Balance:   balance,
		TxCounter: 3,
		Status:    card.StatusActive,
	}
	return codec.Stamp(s)
}

func TestDebitSuccess(t *testing.T) {
	codec := card.NewCodec([]byte("k"))
	now := time.UnixMilli(1_700_000_000_000)
	engine := NewEngine(codec).WithClock(fixedClock(now))

	s := activeCard(codec, 5_000)
	updated, tx, err := engine.Debit(s, DebitInput{Fare: testFare, DeviceID: "VAL-001", RouteID: "R-102"})
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if updated.Balance != 3_000 {
		t.Fatalf("balance: got %d want 3000", updated.Balance)
	}
	if updated.TxCounter != 4 {
		t.Fatalf("counter: got %d want 4", updated.TxCounter)
	}
	if updated.LastTapTime != now.UnixMilli() {
		t.Fatalf("last tap time not set")
	}
	if !codec.Verify(updated) {
		t.Fatalf("debited state must carry a valid tag")
	}
	if tx.Amount != 2_000 || tx.CounterBefore != 3 || tx.CounterAfter != 4 {
		t.Fatalf("unexpected transaction: %+v", tx)
	}
	if tx.Method != MethodNFC {
		t.Fatalf("default method: got %q", tx.Method)
	}
	if tx.ID == "" {
		t.Fatalf("transaction id missing")
	}
}

func TestRejectionsLeaveCardUntouched(t *testing.T) {
	codec := card.NewCodec([]byte("k"))
	now := time.UnixMilli(1_700_000_000_000)
	engine := NewEngine(codec).WithClock(fixedClock(now))

	tampered := activeCard(codec, 5_000)
	tampered.Balance = 999_999

	blocked := codec.Stamp(card.State{UID: "CARD_B", Version: 1, Balance: 10_000, Status: card.StatusBlocked})
	fresh := codec.Stamp(card.State{UID: "CARD_U", Version: 1, Status: card.StatusUninitialized})
	poor := activeCard(codec, 500)

	recent := activeCard(codec, 5_000)
	recent.LastTapTime = now.UnixMilli() - 1_000
	recent = codec.Stamp(recent)

	cases := []struct {
		name string
		in   card.State
		want error
	}{
		{"tampered", tampered, ErrIntegrity},
		{"blocked", blocked, ErrBlocked},
		{"uninitialized", fresh, ErrUninitialized},
		{"insufficient", poor, ErrInsufficientFunds},
		{"too soon", recent, ErrTooSoon},
	}
	for _, tc := range cases {
		got, tx, err := engine.Debit(tc.in, DebitInput{Fare: testFare})
		if !errors.Is(err, tc.want) {
			t.Errorf("%s: got %v want %v", tc.name, err, tc.want)
		}
		if got != tc.in {
			t.Errorf("%s: card state mutated on failure", tc.name)
		}
		if tx != (Transaction{}) {
			t.Errorf("%s: transaction produced on failure", tc.name)
		}
	}
}

func TestValidationOrderIntegrityFirst(t *testing.T) {
	codec := card.NewCodec([]byte("k"))
	engine := NewEngine(codec)

	// Blocked, broke and tampered at once: integrity must win.
	s := card.State{UID: "CARD_X", Version: 1, Balance: 0, Status: card.StatusBlocked}
	if err := engine.ValidateTap(s, testFare); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("got %v want ErrIntegrity", err)
	}
}

func TestAntiPassbackBoundary(t *testing.T) {
	codec := card.NewCodec([]byte("k"))
	base := time.UnixMilli(1_700_000_000_000)

	s := activeCard(codec, 50_000)
	s.LastTapTime = base.UnixMilli()
	s = codec.Stamp(s)

	window := testFare.AntiPassback.Milliseconds()

	engine := NewEngine(codec).WithClock(fixedClock(time.UnixMilli(base.UnixMilli() + window - 1)))
	if err := engine.ValidateTap(s, testFare); !errors.Is(err, ErrTooSoon) {
		t.Fatalf("one ms before the window must be rejected, got %v", err)
	}

	engine = NewEngine(codec).WithClock(fixedClock(time.UnixMilli(base.UnixMilli() + window)))
	if err := engine.ValidateTap(s, testFare); err != nil {
		t.Fatalf("at the window boundary the tap must pass, got %v", err)
	}
}

func TestInitialize(t *testing.T) {
	codec := card.NewCodec([]byte("k"))
	engine := NewEngine(codec)

	fresh := card.NewUninitialized("CARD_N", "K1")
	activated, err := engine.Initialize(fresh, 10_000)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if activated.Status != card.StatusActive || activated.Balance != 10_000 {
		t.Fatalf("unexpected activation: %+v", activated)
	}
	if !codec.Verify(activated) {
		t.Fatalf("activated card must verify")
	}

	if _, err := engine.Initialize(activated, 10_000); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("re-initialization must fail, got %v", err)
	}
}
