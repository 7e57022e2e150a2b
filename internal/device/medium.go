package device

import (
	"context"
	"errors"
	"sync"

	"github.com/transit-pay/transit_pay/internal/card"
)

var (
	// ErrNoCard indicates no card is presented to the reader.
	ErrNoCard = errors.New("no card presented")

	// ErrWriteFailed indicates the card medium rejected the write-back.
	ErrWriteFailed = errors.New("card write failed")
)

// Medium abstracts the physical card interface. Production adapters talk to
// reader hardware; tests use the in-memory implementation. The tap logic is
// identical either way.
type Medium interface {
	Read(ctx context.Context) (card.State, error)
	Write(ctx context.Context, s card.State) error
}

// MemoryMedium simulates a card reader over an in-memory card store. One card
// at a time can be presented to the reader.
type MemoryMedium struct {
	mu        sync.Mutex
	cards     map[string]card.State
	presented string
	failWrite bool
}

// NewMemoryMedium creates an empty simulated reader.
func NewMemoryMedium() *MemoryMedium {
	return &MemoryMedium{cards: make(map[string]card.State)}
}

// Store places a card into the simulated store without presenting it.
func (m *MemoryMedium) Store(s card.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cards[s.UID] = s
}

// Present puts the card with the given uid on the reader.
func (m *MemoryMedium) Present(uid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presented = uid
}

// FailNextWrites toggles write failure injection.
func (m *MemoryMedium) FailNextWrites(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrite = fail
}

// Card returns the stored state for uid.
func (m *MemoryMedium) Card(uid string) (card.State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.cards[uid]
	return s, ok
}

func (m *MemoryMedium) Read(_ context.Context) (card.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.presented == "" {
		return card.State{}, ErrNoCard
	}
	s, ok := m.cards[m.presented]
	if !ok {
		return card.State{}, ErrNoCard
	}
	return s, nil
}

func (m *MemoryMedium) Write(_ context.Context, s card.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite {
		return ErrWriteFailed
	}
	m.cards[s.UID] = s
	return nil
}
