package accounting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/transit-pay/transit_pay/internal/audit"
	"github.com/transit-pay/transit_pay/internal/ledger"
)

var (
	// ErrInvalidAmount indicates a non-positive payout amount.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrValidatorRequired indicates a payout without a validator id.
	ErrValidatorRequired = errors.New("validator id is required")
)

// OnlineWindow is how recently a validator must have heartbeated to count as
// online.
const OnlineWindow = 10 * time.Minute

// Row is a derived per-validator accounting line for one day. Never stored;
// recomputed from transactions and payouts on demand.
type Row struct {
	ValidatorID   string `json:"validatorId"`
	ValidatorName string `json:"validatorName"`
	Income        int64  `json:"income"`
	Paid          int64  `json:"paid"`
	Outstanding   int64  `json:"outstanding"`
}

// Summary is the admin accounting view for one day.
type Summary struct {
	Date    string          `json:"date"`
	Totals  Row             `json:"totals"`
	Rows    []Row           `json:"rows"`
	Payouts []ledger.Payout `json:"payouts"`
}

// Dashboard carries today's headline metrics.
type Dashboard struct {
	TodayRevenue      int64 `json:"todayRevenue"`
	TodayExpense      int64 `json:"todayExpense"`
	NetRevenue        int64 `json:"netRevenue"`
	TransactionsCount int   `json:"transactionsCount"`
	UniqueActiveUsers int   `json:"uniqueActiveUsers"`
	ActiveValidators  int   `json:"activeValidators"`
}

// Service folds accepted transactions and manual payouts into per-validator
// per-day income and outstanding balances.
type Service struct {
	store ledger.Store
	audit *audit.Recorder
	now   func() time.Time
}

// NewService builds the aggregator over the ledger store.
func NewService(store ledger.Store, recorder *audit.Recorder) *Service {
	return &Service{store: store, audit: recorder, now: time.Now}
}

// WithClock overrides the service clock. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// SummaryForDay computes income, paid and outstanding per validator for the
// given day. Rows sort outstanding descending with income descending as the
// tie-break so the largest unsettled operators surface first.
func (s *Service) SummaryForDay(ctx context.Context, day string) (Summary, error) {
	if day == "" {
		day = ledger.DayOf(s.now().UnixMilli())
	}

	txs, err := s.store.ListTransactionsByDay(ctx, day)
	if err != nil {
		return Summary{}, fmt.Errorf("list transactions: %w", err)
	}
	payouts, err := s.store.ListPayoutsByDay(ctx, day)
	if err != nil {
		return Summary{}, fmt.Errorf("list payouts: %w", err)
	}
	validators, err := s.store.ListValidators(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list validators: %w", err)
	}
	names := make(map[string]string, len(validators))
	for _, v := range validators {
		names[v.ID] = v.Name
	}

	rows := make(map[string]*Row)
	rowFor := func(validatorID string) *Row {
		r, ok := rows[validatorID]
		if !ok {
			name := names[validatorID]
			if name == "" {
				name = validatorID
			}
			r = &Row{ValidatorID: validatorID, ValidatorName: name}
			rows[validatorID] = r
		}
		return r
	}

	for _, tx := range txs {
		if tx.Status != ledger.TxStatusOK {
			continue
		}
		rowFor(tx.ValidatorID).Income += tx.Amount
	}
	for _, p := range payouts {
		rowFor(p.ValidatorID).Paid += p.Amount
	}

	out := Summary{Date: day, Payouts: payouts}
	for _, r := range rows {
		r.Outstanding = r.Income - r.Paid
		out.Rows = append(out.Rows, *r)
		out.Totals.Income += r.Income
		out.Totals.Paid += r.Paid
	}
	out.Totals.Outstanding = out.Totals.Income - out.Totals.Paid

	sort.Slice(out.Rows, func(i, j int) bool {
		if out.Rows[i].Outstanding != out.Rows[j].Outstanding {
			return out.Rows[i].Outstanding > out.Rows[j].Outstanding
		}
		return out.Rows[i].Income > out.Rows[j].Income
	})
	return out, nil
}

// PayoutInput captures an administrative payout entry.
type PayoutInput struct {
	ValidatorID string
	Amount      int64
	Method      string
	Note        string
	Date        string
	Actor       string
	IP          string
}

// CreatePayout records money handed to a validator's operator. It validates
// synchronously and leaves no partial effect on rejection; on success exactly
// one audit entry is appended.
func (s *Service) CreatePayout(ctx context.Context, input PayoutInput) (ledger.Payout, error) {
	if input.ValidatorID == "" {
		return ledger.Payout{}, ErrValidatorRequired
	}
	if input.Amount <= 0 {
		return ledger.Payout{}, ErrInvalidAmount
	}
	if err := audit.ValidateReason(input.Note); err != nil {
		return ledger.Payout{}, err
	}

	method := input.Method
	if method == "" {
		method = "cash"
	}
	day := input.Date
	if day == "" {
		day = ledger.DayOf(s.now().UnixMilli())
	}

	p := ledger.Payout{
		ID:          "PAYOUT-" + uuid.NewString(),
		CreatedAt:   s.now().UnixMilli(),
		Day:         day,
		ValidatorID: input.ValidatorID,
		Amount:      input.Amount,
		Method:      method,
		Note:        input.Note,
		CreatedBy:   input.Actor,
	}
	if err := s.store.InsertPayout(ctx, p); err != nil {
		return ledger.Payout{}, fmt.Errorf("insert payout: %w", err)
	}

	if err := s.audit.Record(ctx, audit.Entry{
		Actor:      input.Actor,
		Action:     audit.ActionCreatePayout,
		TargetType: "validator",
		TargetID:   input.ValidatorID,
		Reason:     input.Note,
		IP:         input.IP,
	}); err != nil {
		return ledger.Payout{}, fmt.Errorf("record audit: %w", err)
	}
	return p, nil
}

// DashboardForToday assembles the admin landing metrics.
func (s *Service) DashboardForToday(ctx context.Context) (Dashboard, error) {
	nowMs := s.now().UnixMilli()
	today := ledger.DayOf(nowMs)

	txs, err := s.store.ListTransactionsByDay(ctx, today)
	if err != nil {
		return Dashboard{}, err
	}
	var d Dashboard
	d.TransactionsCount = len(txs)
	for _, tx := range txs {
		if tx.Status == ledger.TxStatusOK {
			d.TodayRevenue += tx.Amount
		}
	}
	payouts, err := s.store.ListPayoutsByDay(ctx, today)
	if err != nil {
		return Dashboard{}, err
	}
	for _, p := range payouts {
		d.TodayExpense += p.Amount
	}
	d.NetRevenue = d.TodayRevenue - d.TodayExpense

	d.UniqueActiveUsers, err = s.store.CountDistinctEventActors(ctx, ledger.EventAppOpen, today)
	if err != nil {
		return Dashboard{}, err
	}

	validators, err := s.store.ListValidators(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	for _, v := range validators {
		if v.LastSeen > 0 && nowMs-v.LastSeen <= OnlineWindow.Milliseconds() {
			d.ActiveValidators++
		}
	}
	return d, nil
}
