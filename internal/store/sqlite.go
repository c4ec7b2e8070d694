package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const createOperationsTable = `
CREATE TABLE IF NOT EXISTS operations (
    id          TEXT PRIMARY KEY,
    kind        TEXT NOT NULL,
    scope       TEXT NOT NULL,
    remote_id   TEXT NOT NULL,
    state       TEXT NOT NULL,
    detail      TEXT,
    error       TEXT,
    created_at  DATETIME NOT NULL,
    finished_at DATETIME
)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createOperationsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create operations table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordSubmitted inserts a new operation record in the submitted state.
func (s *SQLiteStore) RecordSubmitted(ctx context.Context, op *Operation) error {
	if op.State == "" {
		op.State = StateSubmitted
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO operations (id, kind, scope, remote_id, state, detail, error, created_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.Kind, op.Scope, op.RemoteID, op.State, op.Detail, op.Error, op.CreatedAt, op.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}
	return nil
}

// RecordOutcome marks an operation finished. Outcomes are write-once: a
// record that already has a terminal state keeps it and the call is a no-op.
func (s *SQLiteStore) RecordOutcome(ctx context.Context, id, state, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE operations SET state = ?, error = ?, finished_at = ?
		 WHERE id = ? AND finished_at IS NULL`,
		state, errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record outcome rows: %w", err)
	}
	if n == 0 {
		// Either the record is already terminal (first outcome wins) or it
		// never existed; only the latter is an error.
		if _, gerr := s.Get(ctx, id); gerr != nil {
			return gerr
		}
	}
	return nil
}

// Get retrieves an operation record by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Operation, error) {
	op := &Operation{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, kind, scope, remote_id, state, detail, error, created_at, finished_at
		 FROM operations WHERE id = ?`, id,
	).Scan(
		&op.ID, &op.Kind, &op.Scope, &op.RemoteID, &op.State, &op.Detail, &op.Error,
		&op.CreatedAt, &op.FinishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get operation: %w", err)
	}
	return op, nil
}

// List returns a paginated list of operations ordered by created_at DESC,
// along with the total count.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*Operation, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM operations").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count operations: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, kind, scope, remote_id, state, detail, error, created_at, finished_at
		 FROM operations ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	var ops []*Operation
	for rows.Next() {
		op := &Operation{}
		if err := rows.Scan(
			&op.ID, &op.Kind, &op.Scope, &op.RemoteID, &op.State, &op.Detail, &op.Error,
			&op.CreatedAt, &op.FinishedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate operations: %w", err)
	}

	return ops, total, nil
}

// Stats computes aggregate history statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		CountByKind:  make(map[string]int),
		CountByState: make(map[string]int),
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM operations").Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("count operations: %w", err)
	}

	rows, err := tx.QueryContext(ctx, "SELECT kind, COUNT(*) FROM operations GROUP BY kind")
	if err != nil {
		return nil, fmt.Errorf("count by kind: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("scan kind count: %w", err)
		}
		stats.CountByKind[kind] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kind counts: %w", err)
	}

	stateRows, err := tx.QueryContext(ctx, "SELECT state, COUNT(*) FROM operations GROUP BY state")
	if err != nil {
		return nil, fmt.Errorf("count by state: %w", err)
	}
	defer stateRows.Close()
	for stateRows.Next() {
		var state string
		var count int
		if err := stateRows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scan state count: %w", err)
		}
		stats.CountByState[state] = count
	}
	if err := stateRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state counts: %w", err)
	}

	var avg sql.NullFloat64
	err = tx.QueryRowContext(ctx,
		`SELECT AVG((julianday(finished_at) - julianday(created_at)) * 86400000.0)
		 FROM operations WHERE finished_at IS NOT NULL`,
	).Scan(&avg)
	if err != nil {
		return nil, fmt.Errorf("avg wait: %w", err)
	}
	if avg.Valid {
		stats.AvgWaitMS = avg.Float64
	}

	return stats, nil
}
