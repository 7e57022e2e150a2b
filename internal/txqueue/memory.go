package txqueue

import (
	"context"
	"sync"

	"github.com/transit-pay/transit_pay/internal/wallet"
)

type memoryQueue struct {
	mu      sync.RWMutex
	records []Record
	byID    map[string]int
}

// NewMemory creates an in-memory queue for tests and simulations.
func NewMemory() Queue {
	return &memoryQueue{byID: make(map[string]int)}
}

func (q *memoryQueue) Enqueue(_ context.Context, tx wallet.Transaction) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.byID[tx.ID]; exists {
		return ErrDuplicateID
	}
	q.byID[tx.ID] = len(q.records)
	q.records = append(q.records, Record{Tx: tx, SyncStatus: StatusPending})
	return nil
}

func (q *memoryQueue) Pending(_ context.Context) ([]wallet.Transaction, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var out []wallet.Transaction
	for _, rec := range q.records {
		if rec.SyncStatus == StatusPending {
			out = append(out, rec.Tx)
		}
	}
	return out, nil
}

func (q *memoryQueue) PendingCount(_ context.Context) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	n := 0
	for _, rec := range q.records {
		if rec.SyncStatus == StatusPending {
			n++
		}
	}
	return n, nil
}

func (q *memoryQueue) MarkSynced(_ context.Context, ids []string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range ids {
		if i, ok := q.byID[id]; ok {
			q.records[i].SyncStatus = StatusSynced
		}
	}
	return nil
}

func (q *memoryQueue) All(_ context.Context) ([]Record, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]Record, 0, len(q.records))
	for i := len(q.records) - 1; i >= 0; i-- {
		out = append(out, q.records[i])
	}
	return out, nil
}

func (q *memoryQueue) TrimSynced(_ context.Context, keep int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	synced := 0
	for _, rec := range q.records {
		if rec.SyncStatus == StatusSynced {
			synced++
		}
	}
	drop := synced - keep
	if drop <= 0 {
		return nil
	}
	kept := q.records[:0]
	for _, rec := range q.records {
		if rec.SyncStatus == StatusSynced && drop > 0 {
			drop--
			continue
		}
		kept = append(kept, rec)
	}
	q.records = kept
	q.byID = make(map[string]int, len(kept))
	for i, rec := range kept {
		q.byID[rec.Tx.ID] = i
	}
	return nil
}
