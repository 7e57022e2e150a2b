package txqueue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/glebarez/go-sqlite"

	"github.com/transit-pay/transit_pay/internal/wallet"
)

const schema = `
CREATE TABLE IF NOT EXISTS transactions (
    id             TEXT PRIMARY KEY,
    card_uid       TEXT NOT NULL,
    amount         INTEGER NOT NULL,
    fare_id        TEXT NOT NULL,
    method         TEXT NOT NULL,
    role           TEXT NOT NULL DEFAULT '',
    device_id      TEXT NOT NULL,
    route_id       TEXT NOT NULL DEFAULT '',
    created_at     INTEGER NOT NULL,
    counter_before INTEGER NOT NULL,
    counter_after  INTEGER NOT NULL,
    sync_status    TEXT NOT NULL DEFAULT 'pending'
);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions (sync_status, created_at);
`

// SQLiteQueue persists the offline log in a local SQLite file so it survives
// device restarts and power loss.
type SQLiteQueue struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the queue database at path. Use
// ":memory:" for throwaway queues in tests.
func OpenSQLite(ctx context.Context, path string) (*SQLiteQueue, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	// A single writer keeps enqueue-then-report ordering trivial.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate queue db: %w", err)
	}
	return &SQLiteQueue{db: db}, nil
}

// Close releases the underlying database handle.
func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}

// Enqueue appends a transaction as pending. The insert is committed before
// this returns, which is what makes the debit durable.
func (q *SQLiteQueue) Enqueue(ctx context.Context, tx wallet.Transaction) error {
	_, err := q.db.ExecContext(ctx, `INSERT INTO transactions
        (id, card_uid, amount, fare_id, method, role, device_id, route_id, created_at, counter_before, counter_after, sync_status)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.CardUID, tx.Amount, tx.FareID, tx.Method, tx.Role, tx.DeviceID, tx.RouteID,
		tx.Timestamp, tx.CounterBefore, tx.CounterAfter, string(StatusPending))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateID
		}
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

// Pending returns the queued transactions not yet confirmed by the ledger,
// oldest first so upload order matches debit order.
func (q *SQLiteQueue) Pending(ctx context.Context) ([]wallet.Transaction, error) {
	rows, err := q.db.QueryContext(ctx, selectColumns+` WHERE sync_status = ? ORDER BY created_at ASC`, string(StatusPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []wallet.Transaction
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec.Tx)
	}
	return out, rows.Err()
}

// PendingCount reports how many transactions await sync.
func (q *SQLiteQueue) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE sync_status = ?`, string(StatusPending)).Scan(&n)
	return n, err
}

// MarkSynced flips the given ids to synced. Only called with ids the ledger
// confirmed accepted.
func (q *SQLiteQueue) MarkSynced(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, string(StatusSynced))
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := q.db.ExecContext(ctx, `UPDATE transactions SET sync_status = ? WHERE id IN (`+placeholders+`)`, args...)
	return err
}

// All returns the full log, newest first, for the device admin history view.
func (q *SQLiteQueue) All(ctx context.Context) ([]Record, error) {
	rows, err := q.db.QueryContext(ctx, selectColumns+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// TrimSynced bounds the log by deleting the oldest synced entries beyond
// keep. Pending entries are never eligible.
func (q *SQLiteQueue) TrimSynced(ctx context.Context, keep int) error {
	if keep < 0 {
		keep = 0
	}
	_, err := q.db.ExecContext(ctx, `DELETE FROM transactions WHERE sync_status = ? AND id NOT IN (
        SELECT id FROM transactions WHERE sync_status = ? ORDER BY created_at DESC LIMIT ?)`,
		string(StatusSynced), string(StatusSynced), keep)
	return err
}

const selectColumns = `SELECT id, card_uid, amount, fare_id, method, role, device_id, route_id, created_at, counter_before, counter_after, sync_status FROM transactions`

func scanRecord(rows *sql.Rows) (Record, error) {
	var rec Record
	var status string
	err := rows.Scan(&rec.Tx.ID, &rec.Tx.CardUID, &rec.Tx.Amount, &rec.Tx.FareID, &rec.Tx.Method,
		&rec.Tx.Role, &rec.Tx.DeviceID, &rec.Tx.RouteID, &rec.Tx.Timestamp,
		&rec.Tx.CounterBefore, &rec.Tx.CounterAfter, &status)
	if err != nil {
		return Record{}, err
	}
	rec.SyncStatus = Status(status)
	return rec, nil
}
