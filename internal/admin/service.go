package admin

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/transit-pay/transit_pay/internal/accounting"
	"github.com/transit-pay/transit_pay/internal/audit"
	"github.com/transit-pay/transit_pay/internal/ledger"
)

var (
	// ErrInvalidCredentials covers both unknown usernames and wrong
	// passwords so a caller cannot probe which half failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken indicates a missing, malformed or expired session token.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrInvalidAdjustment indicates a zero balance adjustment.
	ErrInvalidAdjustment = errors.New("adjustment amount must be non-zero")

	// ErrInvalidFare indicates a fare with a missing name or non-positive amount.
	ErrInvalidFare = errors.New("fare requires a name and a positive amount")
)

// DefaultTokenTTL bounds how long an issued admin session stays valid.
const DefaultTokenTTL = 12 * time.Hour

// Credentials holds the single admin account, supplied via configuration.
// The password is stored only as a bcrypt hash.
type Credentials struct {
	Username     string
	PasswordHash string
}

// MutationMeta identifies who performed an audited mutation and from where.
type MutationMeta struct {
	Actor  string
	Reason string
	IP     string
}

// ValidatorOverview augments a validator record with liveness and today's
// income for the admin triage list. The device key is never included.
type ValidatorOverview struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Route       string `json:"route"`
	FareID      string `json:"fareId"`
	IsActive    bool   `json:"isActive"`
	LastSeen    int64  `json:"lastSeen"`
	Online      bool   `json:"online"`
	TodayIncome int64  `json:"todayIncome"`
}

// RegisterValidatorInput describes a new field device.
type RegisterValidatorInput struct {
	ID     string
	Name   string
	Route  string
	FareID string
}

// Service implements the administrative operations: session management and
// every audited mutation over the central ledger.
type Service struct {
	store        ledger.Store
	audit        *audit.Recorder
	creds        Credentials
	secret       []byte
	tokenTTL     time.Duration
	onlineWindow time.Duration
	now          func() time.Time
}

// NewService wires the admin service. secret signs session tokens and must
// come from configuration, never from source.
func NewService(store ledger.Store, recorder *audit.Recorder, creds Credentials, secret []byte) *Service {
	return &Service{
		store:        store,
		audit:        recorder,
		creds:        creds,
		secret:       secret,
		tokenTTL:     DefaultTokenTTL,
		onlineWindow: accounting.OnlineWindow,
		now:          time.Now,
	}
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Login checks the credentials and issues a signed bearer token.
func (s *Service) Login(_ context.Context, username, password string) (string, error) {
	if username != s.creds.Username {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.creds.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	now := s.now()
	claims := map[string]any{
		"sub":  username,
		"role": "admin",
		"iat":  now.Unix(),
		"exp":  now.Add(s.tokenTTL).Unix(),
	}
	token, err := signHS256(claims, s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// VerifyToken validates a bearer token and returns the acting username.
func (s *Service) VerifyToken(token string) (string, error) {
	claims, err := parseAndVerifyHS256(token, s.secret)
	if err != nil {
		return "", ErrInvalidToken
	}
	if role, _ := claims["role"].(string); role != "admin" {
		return "", ErrInvalidToken
	}
	exp, _ := claims["exp"].(float64)
	if int64(exp) <= s.now().Unix() {
		return "", ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}

// BlockCard flags a card so every subsequent tap is rejected on-device once
// the status reaches the card. The mutation is audited.
func (s *Service) BlockCard(ctx context.Context, uid string, meta MutationMeta) (ledger.Card, error) {
	return s.setCardStatus(ctx, uid, ledger.CardBlocked, audit.ActionBlockCard, meta)
}

// UnblockCard returns a blocked card to service. The mutation is audited.
func (s *Service) UnblockCard(ctx context.Context, uid string, meta MutationMeta) (ledger.Card, error) {
	return s.setCardStatus(ctx, uid, ledger.CardActive, audit.ActionUnblockCard, meta)
}

func (s *Service) setCardStatus(ctx context.Context, uid, status, action string, meta MutationMeta) (ledger.Card, error) {
	if err := audit.ValidateReason(meta.Reason); err != nil {
		return ledger.Card{}, err
	}
	card, err := s.store.GetCard(ctx, uid)
	if err != nil {
		return ledger.Card{}, err
	}
	card.Status = status
	card.UpdatedAt = s.now().UnixMilli()
	if err := s.store.PutCard(ctx, card); err != nil {
		return ledger.Card{}, err
	}
	if err := s.audit.Record(ctx, audit.Entry{
		Actor:      meta.Actor,
		Action:     action,
		TargetType: "card",
		TargetID:   uid,
		Reason:     meta.Reason,
		IP:         meta.IP,
	}); err != nil {
		return ledger.Card{}, fmt.Errorf("append audit: %w", err)
	}
	return card, nil
}

// AdjustCustomerBalance applies a signed delta to a customer balance. The
// amount must be non-zero and the reason non-trivial; the mutation is audited.
func (s *Service) AdjustCustomerBalance(ctx context.Context, customerID string, amount int64, meta MutationMeta) (ledger.Customer, error) {
	if amount == 0 {
		return ledger.Customer{}, ErrInvalidAdjustment
	}
	if err := audit.ValidateReason(meta.Reason); err != nil {
		return ledger.Customer{}, err
	}
	customer, err := s.store.GetCustomer(ctx, customerID)
	if err != nil {
		return ledger.Customer{}, err
	}
	customer.Balance += amount
	customer.UpdatedAt = s.now().UnixMilli()
	if err := s.store.PutCustomer(ctx, customer); err != nil {
		return ledger.Customer{}, err
	}
	if err := s.audit.Record(ctx, audit.Entry{
		Actor:      meta.Actor,
		Action:     audit.ActionAdjustBalance,
		TargetType: "customer",
		TargetID:   customerID,
		Reason:     fmt.Sprintf("%s (amount: %d)", meta.Reason, amount),
		IP:         meta.IP,
	}); err != nil {
		return ledger.Customer{}, fmt.Errorf("append audit: %w", err)
	}
	return customer, nil
}

// RegisterValidator creates a field device record with a freshly generated
// device key. The key is returned exactly once, here; list and config
// surfaces redact it.
func (s *Service) RegisterValidator(ctx context.Context, in RegisterValidatorInput) (ledger.Validator, error) {
	if strings.TrimSpace(in.Name) == "" {
		return ledger.Validator{}, errors.New("validator name is required")
	}
	if in.FareID != "" {
		if _, err := s.store.GetFare(ctx, in.FareID); err != nil {
			return ledger.Validator{}, err
		}
	}
	id := in.ID
	if id == "" {
		id = "VAL-" + uuid.NewString()
	}
	key, err := newDeviceKey()
	if err != nil {
		return ledger.Validator{}, fmt.Errorf("generate device key: %w", err)
	}
	v := ledger.Validator{
		ID:        id,
		Name:      in.Name,
		Route:     in.Route,
		FareID:    in.FareID,
		DeviceKey: key,
		IsActive:  true,
	}
	if err := s.store.PutValidator(ctx, v); err != nil {
		return ledger.Validator{}, err
	}
	return v, nil
}

// ValidatorOverviews lists every validator with its online flag (heartbeat
// within the recency window) and today's accepted income.
func (s *Service) ValidatorOverviews(ctx context.Context) ([]ValidatorOverview, error) {
	validators, err := s.store.ListValidators(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	day := ledger.DayOf(now.UnixMilli())
	txs, err := s.store.ListTransactionsByDay(ctx, day)
	if err != nil {
		return nil, err
	}
	income := make(map[string]int64)
	for _, tx := range txs {
		if tx.Status == ledger.TxStatusOK {
			income[tx.ValidatorID] += tx.Amount
		}
	}

	out := make([]ValidatorOverview, 0, len(validators))
	for _, v := range validators {
		online := v.LastSeen > 0 && now.UnixMilli()-v.LastSeen <= s.onlineWindow.Milliseconds()
		out = append(out, ValidatorOverview{
			ID:          v.ID,
			Name:        v.Name,
			Route:       v.Route,
			FareID:      v.FareID,
			IsActive:    v.IsActive,
			LastSeen:    v.LastSeen,
			Online:      online,
			TodayIncome: income[v.ID],
		})
	}
	return out, nil
}

// CreateFare registers a named fare. A generated id is used when none is given.
func (s *Service) CreateFare(ctx context.Context, f ledger.Fare) (ledger.Fare, error) {
	if strings.TrimSpace(f.Name) == "" || f.Amount <= 0 {
		return ledger.Fare{}, ErrInvalidFare
	}
	if f.ID == "" {
		f.ID = "FARE-" + uuid.NewString()
	}
	if err := s.store.PutFare(ctx, f); err != nil {
		return ledger.Fare{}, err
	}
	return f, nil
}

// SetDefaultFare points validators without an explicit fare at the given id.
func (s *Service) SetDefaultFare(ctx context.Context, fareID string) error {
	return s.store.SetDefaultFareID(ctx, fareID)
}

func newDeviceKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
