package admin

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/transit-pay/transit_pay/internal/audit"
	"github.com/transit-pay/transit_pay/internal/ledger"
)

func newTestService(t *testing.T) (*Service, ledger.Store) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	store := ledger.NewMemory()
	svc := NewService(store, audit.NewRecorder(store), Credentials{
		Username:     "admin",
		PasswordHash: string(hash),
	}, []byte("test-signing-secret"))
	return svc, store
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	svc, _ := newTestService(t)

	token, err := svc.Login(context.Background(), "admin", "correct horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	actor, err := svc.VerifyToken(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if actor != "admin" {
		t.Fatalf("unexpected actor %q", actor)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, _ := newTestService(t)

	cases := []struct{ user, pass string }{
		{"admin", "wrong"},
		{"root", "correct horse"},
		{"", ""},
	}
	for _, tc := range cases {
		if _, err := svc.Login(context.Background(), tc.user, tc.pass); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("login %q/%q: expected ErrInvalidCredentials, got %v", tc.user, tc.pass, err)
		}
	}
}

func TestVerifyTokenRejectsExpiredAndForged(t *testing.T) {
	svc, _ := newTestService(t)

	past := time.Now().Add(-24 * time.Hour)
	svc.WithClock(func() time.Time { return past })
	token, err := svc.Login(context.Background(), "admin", "correct horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	svc.WithClock(time.Now)
	if _, err := svc.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token must be rejected, got %v", err)
	}

	forged, err := signHS256(map[string]any{
		"sub": "admin", "role": "admin", "exp": time.Now().Add(time.Hour).Unix(),
	}, []byte("some other secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.VerifyToken(forged); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("forged token must be rejected, got %v", err)
	}
}

func TestBlockCardRecordsAudit(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	if err := store.PutCard(ctx, ledger.Card{UID: "CARD_9", Status: ledger.CardActive}); err != nil {
		t.Fatalf("seed card: %v", err)
	}

	card, err := svc.BlockCard(ctx, "CARD_9", MutationMeta{Actor: "admin", Reason: "reported stolen", IP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if card.Status != ledger.CardBlocked {
		t.Fatalf("card not blocked: %+v", card)
	}
	entries, err := store.ListAudit(ctx, 10)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one audit entry, got %d err %v", len(entries), err)
	}
	e := entries[0]
	if e.Action != audit.ActionBlockCard || e.TargetID != "CARD_9" || e.Actor != "admin" || e.IP != "10.0.0.1" {
		t.Fatalf("audit entry incomplete: %+v", e)
	}

	if _, err := svc.UnblockCard(ctx, "CARD_9", MutationMeta{Actor: "admin", Reason: "recovered by owner"}); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	got, _ := store.GetCard(ctx, "CARD_9")
	if got.Status != ledger.CardActive {
		t.Fatalf("card not reactivated: %+v", got)
	}
}

func TestBlockCardRejectsTrivialReason(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	store.PutCard(ctx, ledger.Card{UID: "CARD_9", Status: ledger.CardActive})

	if _, err := svc.BlockCard(ctx, "CARD_9", MutationMeta{Actor: "admin", Reason: "no"}); !errors.Is(err, audit.ErrReasonRequired) {
		t.Fatalf("expected ErrReasonRequired, got %v", err)
	}
	got, _ := store.GetCard(ctx, "CARD_9")
	if got.Status != ledger.CardActive {
		t.Fatalf("rejected mutation must not touch the card: %+v", got)
	}
	if entries, _ := store.ListAudit(ctx, 10); len(entries) != 0 {
		t.Fatalf("rejected mutation must not be audited: %+v", entries)
	}
}

func TestAdjustCustomerBalance(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	store.PutCustomer(ctx, ledger.Customer{ID: "CUST_1", Name: "Ada", Balance: 1_000})

	customer, err := svc.AdjustCustomerBalance(ctx, "CUST_1", -400, MutationMeta{Actor: "admin", Reason: "refund correction"})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if customer.Balance != 600 {
		t.Fatalf("balance = %d, want 600", customer.Balance)
	}
	entries, _ := store.ListAudit(ctx, 10)
	if len(entries) != 1 || entries[0].Action != audit.ActionAdjustBalance {
		t.Fatalf("adjustment must be audited: %+v", entries)
	}

	if _, err := svc.AdjustCustomerBalance(ctx, "CUST_1", 0, MutationMeta{Actor: "admin", Reason: "valid reason"}); !errors.Is(err, ErrInvalidAdjustment) {
		t.Fatalf("expected ErrInvalidAdjustment, got %v", err)
	}
	if _, err := svc.AdjustCustomerBalance(ctx, "missing", 100, MutationMeta{Actor: "admin", Reason: "valid reason"}); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegisterValidatorGeneratesDistinctKeys(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	a, err := svc.RegisterValidator(ctx, RegisterValidatorInput{Name: "Bus 12"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	b, err := svc.RegisterValidator(ctx, RegisterValidatorInput{Name: "Bus 14"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if a.DeviceKey == "" || a.DeviceKey == b.DeviceKey {
		t.Fatalf("device keys must be unique and non-empty")
	}
	if a.ID == b.ID {
		t.Fatalf("generated ids must be unique")
	}

	if _, err := svc.RegisterValidator(ctx, RegisterValidatorInput{Name: "Bus 16", FareID: "nope"}); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("unknown fare must be rejected, got %v", err)
	}
	if _, err := store.GetValidator(ctx, a.ID); err != nil {
		t.Fatalf("registered validator must be stored: %v", err)
	}
}

func TestValidatorOverviewsOnlineAndIncome(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	nowMs := int64(1_700_000_000_000) // 2023-11-14 UTC
	svc.WithClock(func() time.Time { return time.UnixMilli(nowMs) })

	store.PutValidator(ctx, ledger.Validator{ID: "VA", Name: "A", LastSeen: nowMs - 2*60_000, IsActive: true})
	store.PutValidator(ctx, ledger.Validator{ID: "VB", Name: "B", LastSeen: nowMs - 30*60_000, IsActive: true})
	store.InsertTransactions(ctx, []ledger.Transaction{
		{ID: "t1", CreatedAt: nowMs, Day: "2023-11-14", ValidatorID: "VA", Amount: 2_000, Status: ledger.TxStatusOK},
		{ID: "t2", CreatedAt: nowMs, Day: "2023-11-14", ValidatorID: "VA", Amount: 1_500, Status: ledger.TxStatusFail},
	})

	rows, err := svc.ValidatorOverviews(ctx)
	if err != nil {
		t.Fatalf("overviews: %v", err)
	}
	byID := map[string]ValidatorOverview{}
	for _, r := range rows {
		byID[r.ID] = r
	}
	if !byID["VA"].Online || byID["VB"].Online {
		t.Fatalf("online flags wrong: %+v", rows)
	}
	if byID["VA"].TodayIncome != 2_000 {
		t.Fatalf("failed transactions must not count as income: %+v", byID["VA"])
	}
}

func TestFareRegistry(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	fare, err := svc.CreateFare(ctx, ledger.Fare{Name: "Standard", Amount: 2_000})
	if err != nil {
		t.Fatalf("create fare: %v", err)
	}
	if fare.ID == "" {
		t.Fatalf("fare id must be generated")
	}
	if _, err := svc.CreateFare(ctx, ledger.Fare{Name: "", Amount: 100}); !errors.Is(err, ErrInvalidFare) {
		t.Fatalf("expected ErrInvalidFare, got %v", err)
	}
	if _, err := svc.CreateFare(ctx, ledger.Fare{Name: "Free", Amount: 0}); !errors.Is(err, ErrInvalidFare) {
		t.Fatalf("expected ErrInvalidFare, got %v", err)
	}

	if err := svc.SetDefaultFare(ctx, fare.ID); err != nil {
		t.Fatalf("set default: %v", err)
	}
	got, err := store.DefaultFareID(ctx)
	if err != nil || got != fare.ID {
		t.Fatalf("default fare = %q err %v", got, err)
	}
}
