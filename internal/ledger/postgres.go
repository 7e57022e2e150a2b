package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the central ledger in PostgreSQL. Mutations run in a
// transaction per call so concurrent read-modify-write sequences cannot lose
// updates.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the schema if it does not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS fares (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    amount     BIGINT NOT NULL,
    is_default BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE TABLE IF NOT EXISTS validators (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    route      TEXT NOT NULL DEFAULT '',
    fare_id    TEXT NOT NULL REFERENCES fares (id),
    device_key TEXT NOT NULL,
    is_active  BOOLEAN NOT NULL DEFAULT TRUE,
    last_seen  BIGINT NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS cards (
    uid            TEXT PRIMARY KEY,
    customer_id    TEXT NOT NULL DEFAULT '',
    status         TEXT NOT NULL,
    notes          TEXT NOT NULL DEFAULT '',
    fraud_attempts INT NOT NULL DEFAULT 0,
    updated_at     BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS customers (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    phone      TEXT NOT NULL DEFAULT '',
    balance    BIGINT NOT NULL DEFAULT 0,
    status     TEXT NOT NULL,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS transactions (
    id           TEXT PRIMARY KEY,
    created_at   BIGINT NOT NULL,
    day          TEXT NOT NULL,
    validator_id TEXT NOT NULL,
    method       TEXT NOT NULL,
    fare_id      TEXT NOT NULL DEFAULT '',
    amount       BIGINT NOT NULL,
    card_uid     TEXT NOT NULL DEFAULT '',
    status       TEXT NOT NULL,
    reason       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_transactions_day ON transactions (day, status);
CREATE TABLE IF NOT EXISTS payouts (
    id           TEXT PRIMARY KEY,
    created_at   BIGINT NOT NULL,
    day          TEXT NOT NULL,
    validator_id TEXT NOT NULL,
    amount       BIGINT NOT NULL,
    method       TEXT NOT NULL,
    note         TEXT NOT NULL DEFAULT '',
    created_by   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_payouts_day ON payouts (day);
CREATE TABLE IF NOT EXISTS audit_entries (
    id          TEXT PRIMARY KEY,
    created_at  BIGINT NOT NULL,
    actor       TEXT NOT NULL,
    action      TEXT NOT NULL,
    target_type TEXT NOT NULL,
    target_id   TEXT NOT NULL,
    reason      TEXT NOT NULL,
    ip          TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS events (
    id         TEXT PRIMARY KEY,
    type       TEXT NOT NULL,
    created_at BIGINT NOT NULL,
    day        TEXT NOT NULL,
    actor      TEXT NOT NULL DEFAULT '',
    subject_id TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_events_type_day ON events (type, day);`
	if _, err := s.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("migrate ledger schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) PutFare(ctx context.Context, f Fare) error {
	_, err := s.db.Exec(ctx, `INSERT INTO fares (id, name, amount) VALUES ($1, $2, $3)
        ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, amount = EXCLUDED.amount`,
		f.ID, f.Name, f.Amount)
	return err
}

func (s *PostgresStore) GetFare(ctx context.Context, id string) (Fare, error) {
	var f Fare
	err := s.db.QueryRow(ctx, `SELECT id, name, amount FROM fares WHERE id = $1`, id).
		Scan(&f.ID, &f.Name, &f.Amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return Fare{}, ErrNotFound
	}
	return f, err
}

func (s *PostgresStore) ListFares(ctx context.Context) ([]Fare, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, amount FROM fares ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Fare
	for rows.Next() {
		var f Fare
		if err := rows.Scan(&f.ID, &f.Name, &f.Amount); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DefaultFareID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRow(ctx, `SELECT id FROM fares WHERE is_default LIMIT 1`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return id, err
}

func (s *PostgresStore) SetDefaultFareID(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM fares WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrUnknownFare
	}
	if _, err := tx.Exec(ctx, `UPDATE fares SET is_default = (id = $1)`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) PutValidator(ctx context.Context, v Validator) error {
	_, err := s.db.Exec(ctx, `INSERT INTO validators (id, name, route, fare_id, device_key, is_active, last_seen)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, route = EXCLUDED.route,
            fare_id = EXCLUDED.fare_id, device_key = EXCLUDED.device_key,
            is_active = EXCLUDED.is_active, last_seen = EXCLUDED.last_seen`,
		v.ID, v.Name, v.Route, v.FareID, v.DeviceKey, v.IsActive, v.LastSeen)
	return err
}

func (s *PostgresStore) GetValidator(ctx context.Context, id string) (Validator, error) {
	var v Validator
	err := s.db.QueryRow(ctx, `SELECT id, name, route, fare_id, device_key, is_active, last_seen
        FROM validators WHERE id = $1`, id).
		Scan(&v.ID, &v.Name, &v.Route, &v.FareID, &v.DeviceKey, &v.IsActive, &v.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return Validator{}, ErrNotFound
	}
	return v, err
}

func (s *PostgresStore) ListValidators(ctx context.Context) ([]Validator, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, route, fare_id, device_key, is_active, last_seen
        FROM validators ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Validator
	for rows.Next() {
		var v Validator
		if err := rows.Scan(&v.ID, &v.Name, &v.Route, &v.FareID, &v.DeviceKey, &v.IsActive, &v.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) TouchValidator(ctx context.Context, id string, seenAt int64) error {
	cmd, err := s.db.Exec(ctx, `UPDATE validators SET last_seen = $1 WHERE id = $2`, seenAt, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) PutCard(ctx context.Context, c Card) error {
	_, err := s.db.Exec(ctx, `INSERT INTO cards (uid, customer_id, status, notes, fraud_attempts, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (uid) DO UPDATE SET customer_id = EXCLUDED.customer_id, status = EXCLUDED.status,
            notes = EXCLUDED.notes, fraud_attempts = EXCLUDED.fraud_attempts, updated_at = EXCLUDED.updated_at`,
		c.UID, c.CustomerID, c.Status, c.Notes, c.FraudAttempts, c.UpdatedAt)
	return err
}

func (s *PostgresStore) GetCard(ctx context.Context, uid string) (Card, error) {
	var c Card
	err := s.db.QueryRow(ctx, `SELECT uid, customer_id, status, notes, fraud_attempts, updated_at
        FROM cards WHERE uid = $1`, uid).
		Scan(&c.UID, &c.CustomerID, &c.Status, &c.Notes, &c.FraudAttempts, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Card{}, ErrNotFound
	}
	return c, err
}

func (s *PostgresStore) ListCards(ctx context.Context, query string, limit int) ([]Card, error) {
	rows, err := s.db.Query(ctx, `SELECT uid, customer_id, status, notes, fraud_attempts, updated_at
        FROM cards
        WHERE $1 = '' OR uid LIKE '%' || $1 || '%' OR notes LIKE '%' || $1 || '%' OR status = $1
        ORDER BY uid LIMIT $2`, query, normLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Card
	for rows.Next() {
		var c Card
		if err := rows.Scan(&c.UID, &c.CustomerID, &c.Status, &c.Notes, &c.FraudAttempts, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) PutCustomer(ctx context.Context, c Customer) error {
	_, err := s.db.Exec(ctx, `INSERT INTO customers (id, name, phone, balance, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, phone = EXCLUDED.phone,
            balance = EXCLUDED.balance, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		c.ID, c.Name, c.Phone, c.Balance, c.Status, c.CreatedAt, c.UpdatedAt)
	return err
}

func (s *PostgresStore) GetCustomer(ctx context.Context, id string) (Customer, error) {
	var c Customer
	err := s.db.QueryRow(ctx, `SELECT id, name, phone, balance, status, created_at, updated_at
        FROM customers WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Phone, &c.Balance, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, ErrNotFound
	}
	return c, err
}

func (s *PostgresStore) ListCustomers(ctx context.Context, query string, limit int) ([]Customer, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, phone, balance, status, created_at, updated_at
        FROM customers
        WHERE $1 = '' OR id LIKE '%' || $1 || '%' OR name LIKE '%' || $1 || '%' OR phone LIKE '%' || $1 || '%'
        ORDER BY id LIMIT $2`, query, normLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Customer
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Balance, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertTransactions(ctx context.Context, txs []Transaction) (int, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	accepted := 0
	for _, t := range txs {
		cmd, err := tx.Exec(ctx, `INSERT INTO transactions
            (id, created_at, day, validator_id, method, fare_id, amount, card_uid, status, reason)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
            ON CONFLICT (id) DO NOTHING`,
			t.ID, t.CreatedAt, t.Day, t.ValidatorID, t.Method, t.FareID, t.Amount, t.CardUID, t.Status, t.Reason)
		if err != nil {
			return 0, err
		}
		accepted += int(cmd.RowsAffected())
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return accepted, nil
}

func (s *PostgresStore) ListTransactionsByDay(ctx context.Context, day string) ([]Transaction, error) {
	return s.queryTransactions(ctx, `SELECT id, created_at, day, validator_id, method, fare_id, amount, card_uid, status, reason
        FROM transactions WHERE day = $1 ORDER BY created_at`, day)
}

func (s *PostgresStore) ListRecentTransactions(ctx context.Context, limit int) ([]Transaction, error) {
	return s.queryTransactions(ctx, `SELECT id, created_at, day, validator_id, method, fare_id, amount, card_uid, status, reason
        FROM transactions ORDER BY created_at DESC LIMIT $1`, normLimit(limit))
}

func (s *PostgresStore) queryTransactions(ctx context.Context, sql string, args ...any) ([]Transaction, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.CreatedAt, &t.Day, &t.ValidatorID, &t.Method, &t.FareID,
			&t.Amount, &t.CardUID, &t.Status, &t.Reason); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertPayout(ctx context.Context, p Payout) error {
	_, err := s.db.Exec(ctx, `INSERT INTO payouts (id, created_at, day, validator_id, amount, method, note, created_by)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.CreatedAt, p.Day, p.ValidatorID, p.Amount, p.Method, p.Note, p.CreatedBy)
	return err
}

func (s *PostgresStore) ListPayoutsByDay(ctx context.Context, day string) ([]Payout, error) {
	rows, err := s.db.Query(ctx, `SELECT id, created_at, day, validator_id, amount, method, note, created_by
        FROM payouts WHERE day = $1 ORDER BY created_at`, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payout
	for rows.Next() {
		var p Payout
		if err := rows.Scan(&p.ID, &p.CreatedAt, &p.Day, &p.ValidatorID, &p.Amount, &p.Method, &p.Note, &p.CreatedBy); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_, err := s.db.Exec(ctx, `INSERT INTO audit_entries (id, created_at, actor, action, target_type, target_id, reason, ip)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.CreatedAt, e.Actor, e.Action, e.TargetType, e.TargetID, e.Reason, e.IP)
	return err
}

func (s *PostgresStore) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	rows, err := s.db.Query(ctx, `SELECT id, created_at, actor, action, target_type, target_id, reason, ip
        FROM audit_entries ORDER BY created_at DESC LIMIT $1`, normLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.Actor, &e.Action, &e.TargetType, &e.TargetID, &e.Reason, &e.IP); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendEvent(ctx context.Context, e Event) error {
	_, err := s.db.Exec(ctx, `INSERT INTO events (id, type, created_at, day, actor, subject_id)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.Type, e.CreatedAt, DayOf(e.CreatedAt), e.Actor, e.SubjectID)
	return err
}

func (s *PostgresStore) CountDistinctEventActors(ctx context.Context, eventType, day string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(DISTINCT COALESCE(NULLIF(subject_id, ''), id))
        FROM events WHERE type = $1 AND day = $2`, eventType, day).Scan(&n)
	return n, err
}

func normLimit(limit int) int {
	if limit <= 0 {
		return 500
	}
	return limit
}
