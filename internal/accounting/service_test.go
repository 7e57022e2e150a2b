package accounting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/transit-pay/transit_pay/internal/audit"
	"github.com/transit-pay/transit_pay/internal/ledger"
)

const day = "2023-11-14"

var dayClock = func() time.Time { return time.UnixMilli(1_700_000_000_000) }

func newService(t *testing.T) (*Service, ledger.Store) {
	t.Helper()
	store := ledger.NewMemory()
	svc := NewService(store, audit.NewRecorder(store)).WithClock(dayClock)
	return svc, store
}

func seedTx(t *testing.T, store ledger.Store, id, validatorID string, amount int64, status string) {
	t.Helper()
	n, err := store.InsertTransactions(context.Background(), []ledger.Transaction{{
		ID: id, CreatedAt: dayClock().UnixMilli(), Day: day,
		ValidatorID: validatorID, Method: "NFC", Amount: amount, Status: status,
	}})
	if err != nil || n != 1 {
		t.Fatalf("seed tx %s: n=%d err=%v", id, n, err)
	}
}

func TestSummaryIncomePaidOutstanding(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	seedTx(t, store, "tx-1", "V1", 2_000, ledger.TxStatusOK)
	seedTx(t, store, "tx-2", "V1", 1_500, ledger.TxStatusOK)
	seedTx(t, store, "tx-3", "V1", 9_999, ledger.TxStatusFail) // failed taps earn nothing

	if _, err := svc.CreatePayout(ctx, PayoutInput{
		ValidatorID: "V1", Amount: 1_000, Note: "driver share for the day", Date: day, Actor: "admin",
	}); err != nil {
		t.Fatalf("payout: %v", err)
	}

	sum, err := svc.SummaryForDay(ctx, day)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(sum.Rows) != 1 {
		t.Fatalf("expected one row, got %+v", sum.Rows)
	}
	row := sum.Rows[0]
	if row.Income != 3_500 || row.Paid != 1_000 || row.Outstanding != 2_500 {
		t.Fatalf("unexpected row: %+v", row)
	}
	if sum.Totals.Outstanding != sum.Totals.Income-sum.Totals.Paid {
		t.Fatalf("accounting identity violated: %+v", sum.Totals)
	}
	if len(sum.Payouts) != 1 {
		t.Fatalf("expected the day's payouts in the summary")
	}
}

func TestSummarySortOrder(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	seedTx(t, store, "a1", "VA", 5_000, ledger.TxStatusOK)
	seedTx(t, store, "b1", "VB", 9_000, ledger.TxStatusOK)
	seedTx(t, store, "c1", "VC", 5_000, ledger.TxStatusOK)
	// VB paid down to the same outstanding as VA and VC.
	if _, err := svc.CreatePayout(ctx, PayoutInput{ValidatorID: "VB", Amount: 4_000, Note: "partial settlement", Date: day, Actor: "admin"}); err != nil {
		t.Fatalf("payout: %v", err)
	}

	sum, err := svc.SummaryForDay(ctx, day)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(sum.Rows) != 3 {
		t.Fatalf("expected 3 rows: %+v", sum.Rows)
	}
	// All outstanding 5000: income descending breaks the tie, VB first.
	if sum.Rows[0].ValidatorID != "VB" {
		t.Fatalf("tie-break by income failed: %+v", sum.Rows)
	}
	for i := 1; i < len(sum.Rows); i++ {
		if sum.Rows[i-1].Outstanding < sum.Rows[i].Outstanding {
			t.Fatalf("rows not sorted by outstanding desc: %+v", sum.Rows)
		}
	}
}

func TestCreatePayoutValidation(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		input PayoutInput
		want  error
	}{
		{"missing validator", PayoutInput{Amount: 100, Note: "some reason"}, ErrValidatorRequired},
		{"zero amount", PayoutInput{ValidatorID: "V1", Amount: 0, Note: "some reason"}, ErrInvalidAmount},
		{"negative amount", PayoutInput{ValidatorID: "V1", Amount: -5, Note: "some reason"}, ErrInvalidAmount},
		{"trivial note", PayoutInput{ValidatorID: "V1", Amount: 100, Note: "x"}, audit.ErrReasonRequired},
	}
	for _, tc := range cases {
		if _, err := svc.CreatePayout(ctx, tc.input); !errors.Is(err, tc.want) {
			t.Errorf("%s: got %v want %v", tc.name, err, tc.want)
		}
	}

	// No partial effect: nothing stored, no audit entry for rejections.
	payouts, _ := store.ListPayoutsByDay(ctx, day)
	if len(payouts) != 0 {
		t.Fatalf("rejected payouts must not be stored")
	}
	entries, _ := store.ListAudit(ctx, 0)
	if len(entries) != 0 {
		t.Fatalf("rejected payouts must not be audited")
	}
}

func TestCreatePayoutAudited(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	if _, err := svc.CreatePayout(ctx, PayoutInput{ValidatorID: "V1", Amount: 500, Note: "weekly settlement", Actor: "admin", IP: "10.0.0.9"}); err != nil {
		t.Fatalf("payout: %v", err)
	}
	entries, err := store.ListAudit(ctx, 0)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected exactly one audit entry, got %d err %v", len(entries), err)
	}
	e := entries[0]
	if e.Action != audit.ActionCreatePayout || e.Reason == "" || e.Actor != "admin" || e.IP != "10.0.0.9" {
		t.Fatalf("unexpected audit entry: %+v", e)
	}
}

func TestDashboardForToday(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	seedTx(t, store, "tx-1", "V1", 2_000, ledger.TxStatusOK)
	seedTx(t, store, "tx-2", "V2", 1_000, ledger.TxStatusOK)
	seedTx(t, store, "tx-3", "V1", 500, ledger.TxStatusFail)

	nowMs := dayClock().UnixMilli()
	_ = store.PutValidator(ctx, ledger.Validator{ID: "V1", Name: "Bus 102", FareID: "F", DeviceKey: "k", LastSeen: nowMs - time.Minute.Milliseconds()})
	_ = store.PutValidator(ctx, ledger.Validator{ID: "V2", Name: "Bus 205", FareID: "F", DeviceKey: "k", LastSeen: nowMs - time.Hour.Milliseconds()})

	_ = store.AppendEvent(ctx, ledger.Event{ID: "e1", Type: ledger.EventAppOpen, CreatedAt: nowMs, SubjectID: "cust-1"})
	_ = store.AppendEvent(ctx, ledger.Event{ID: "e2", Type: ledger.EventAppOpen, CreatedAt: nowMs, SubjectID: "cust-1"})

	if _, err := svc.CreatePayout(ctx, PayoutInput{ValidatorID: "V1", Amount: 1_200, Note: "driver share for the day", Date: day, Actor: "admin"}); err != nil {
		t.Fatalf("seed payout: %v", err)
	}

	d, err := svc.DashboardForToday(ctx)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if d.TodayRevenue != 3_000 || d.TodayExpense != 1_200 || d.NetRevenue != 1_800 {
		t.Fatalf("revenue: %+v", d)
	}
	if d.TransactionsCount != 3 {
		t.Fatalf("transaction count: %+v", d)
	}
	if d.UniqueActiveUsers != 1 {
		t.Fatalf("unique users: %+v", d)
	}
	if d.ActiveValidators != 1 {
		t.Fatalf("active validators within 10m: %+v", d)
	}
}
