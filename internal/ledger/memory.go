package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type memoryStore struct {
	mu            sync.RWMutex
	fares         map[string]Fare
	defaultFareID string
	validators    map[string]Validator
	cards         map[string]Card
	customers     map[string]Customer
	transactions  []Transaction
	txIDs         map[string]struct{}
	payouts       []Payout
	audit         []AuditEntry
	events        []Event
}

// NewMemory creates a concurrency-safe in-memory store for tests and for
// running the API without a database in development.
func NewMemory() Store {
	return &memoryStore{
		fares:      make(map[string]Fare),
		validators: make(map[string]Validator),
		cards:      make(map[string]Card),
		customers:  make(map[string]Customer),
		txIDs:      make(map[string]struct{}),
	}
}

func (s *memoryStore) PutFare(_ context.Context, f Fare) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fares[f.ID] = f
	if s.defaultFareID == "" {
		s.defaultFareID = f.ID
	}
	return nil
}

func (s *memoryStore) GetFare(_ context.Context, id string) (Fare, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.fares[id]
	if !ok {
		return Fare{}, ErrNotFound
	}
	return f, nil
}

func (s *memoryStore) ListFares(_ context.Context) ([]Fare, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Fare, 0, len(s.fares))
	for _, f := range s.fares {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) DefaultFareID(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultFareID, nil
}

func (s *memoryStore) SetDefaultFareID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.fares[id]; !ok {
		return ErrUnknownFare
	}
	s.defaultFareID = id
	return nil
}

func (s *memoryStore) PutValidator(_ context.Context, v Validator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validators[v.ID] = v
	return nil
}

func (s *memoryStore) GetValidator(_ context.Context, id string) (Validator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.validators[id]
	if !ok {
		return Validator{}, ErrNotFound
	}
	return v, nil
}

func (s *memoryStore) ListValidators(_ context.Context) ([]Validator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Validator, 0, len(s.validators))
	for _, v := range s.validators {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) TouchValidator(_ context.Context, id string, seenAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.validators[id]
	if !ok {
		return ErrNotFound
	}
	v.LastSeen = seenAt
	s.validators[id] = v
	return nil
}

func (s *memoryStore) PutCard(_ context.Context, c Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards[c.UID] = c
	return nil
}

func (s *memoryStore) GetCard(_ context.Context, uid string) (Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cards[uid]
	if !ok {
		return Card{}, ErrNotFound
	}
	return c, nil
}

func (s *memoryStore) ListCards(_ context.Context, query string, limit int) ([]Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Card
	for _, c := range s.cards {
		if query != "" && !strings.Contains(c.UID, query) && !strings.Contains(c.Notes, query) && c.Status != query {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return clip(out, limit), nil
}

func (s *memoryStore) PutCustomer(_ context.Context, c Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[c.ID] = c
	return nil
}

func (s *memoryStore) GetCustomer(_ context.Context, id string) (Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[id]
	if !ok {
		return Customer{}, ErrNotFound
	}
	return c, nil
}

func (s *memoryStore) ListCustomers(_ context.Context, query string, limit int) ([]Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Customer
	for _, c := range s.customers {
		if query != "" && !strings.Contains(c.ID, query) && !strings.Contains(c.Name, query) && !strings.Contains(c.Phone, query) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return clip(out, limit), nil
}

func (s *memoryStore) InsertTransactions(_ context.Context, txs []Transaction) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	accepted := 0
	for _, tx := range txs {
		if _, dup := s.txIDs[tx.ID]; dup {
			continue
		}
		s.txIDs[tx.ID] = struct{}{}
		s.transactions = append(s.transactions, tx)
		accepted++
	}
	return accepted, nil
}

func (s *memoryStore) ListTransactionsByDay(_ context.Context, day string) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Transaction
	for _, tx := range s.transactions {
		if tx.Day == day {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *memoryStore) ListRecentTransactions(_ context.Context, limit int) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Transaction, len(s.transactions))
	copy(out, s.transactions)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return clip(out, limit), nil
}

func (s *memoryStore) InsertPayout(_ context.Context, p Payout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payouts = append(s.payouts, p)
	return nil
}

func (s *memoryStore) ListPayoutsByDay(_ context.Context, day string) ([]Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Payout
	for _, p := range s.payouts {
		if p.Day == day {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memoryStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, e)
	return nil
}

func (s *memoryStore) ListAudit(_ context.Context, limit int) ([]AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AuditEntry, len(s.audit))
	copy(out, s.audit)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return clip(out, limit), nil
}

func (s *memoryStore) AppendEvent(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *memoryStore) CountDistinctEventActors(_ context.Context, eventType, day string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, e := range s.events {
		if e.Type != eventType || DayOf(e.CreatedAt) != day {
			continue
		}
		key := e.SubjectID
		if key == "" {
			key = e.ID
		}
		seen[key] = struct{}{}
	}
	return len(seen), nil
}

func clip[T any](in []T, limit int) []T {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}
