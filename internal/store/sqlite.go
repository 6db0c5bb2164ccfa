package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const createWorkersTable = `
CREATE TABLE IF NOT EXISTS workers (
    id             TEXT PRIMARY KEY,
    name           TEXT,
    state          TEXT NOT NULL,
    task_type      TEXT NOT NULL,
    deployment     TEXT,
    pid            INTEGER,
    correlation_id TEXT,
    parent_id      TEXT,
    tags           TEXT,
    exit_code      INTEGER,
    error          TEXT,
    duration_ms    INTEGER,
    created_at     DATETIME NOT NULL,
    finished_at    DATETIME
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

	if _, err := db.Exec(createWorkersTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create workers table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordSpawn inserts the registration row for a freshly spawned worker.
func (s *SQLiteStore) RecordSpawn(ctx context.Context, rec *WorkerRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workers (
			id, name, state, task_type, deployment, pid, correlation_id,
			parent_id, tags, exit_code, error, duration_ms, created_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.State, rec.TaskType, rec.Deployment, rec.PID,
		rec.CorrelationID, rec.ParentID, strings.Join(rec.Tags, ","),
		rec.ExitCode, rec.Error, rec.DurationMS, rec.CreatedAt, rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert worker record: %w", err)
	}
	return nil
}

// RecordTerminal updates a worker row with its terminal outcome.
func (s *SQLiteStore) RecordTerminal(ctx context.Context, id, state string, exitCode *int, errMsg string, durationMS int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE workers
		SET state = ?, exit_code = ?, error = ?, duration_ms = ?, finished_at = ?
		WHERE id = ?`,
		state, exitCode, errMsg, durationMS, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update worker record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetWorker retrieves a worker record by ID.
func (s *SQLiteStore) GetWorker(ctx context.Context, id string) (*WorkerRecord, error) {
	rec, err := scanWorker(s.db.QueryRowContext(ctx,
		`SELECT id, name, state, task_type, deployment, pid, correlation_id,
			parent_id, tags, exit_code, error, duration_ms, created_at, finished_at
		FROM workers WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get worker record: %w", err)
	}
	return rec, nil
}

// ListWorkers returns a paginated list of worker records ordered by
// created_at DESC, along with the total count.
func (s *SQLiteStore) ListWorkers(ctx context.Context, limit, offset int) ([]*WorkerRecord, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM workers").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count worker records: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, name, state, task_type, deployment, pid, correlation_id,
			parent_id, tags, exit_code, error, duration_ms, created_at, finished_at
		FROM workers ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list worker records: %w", err)
	}
	defer rows.Close()

	var records []*WorkerRecord
	for rows.Next() {
		rec, err := scanWorker(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan worker record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate worker records: %w", err)
	}

	return records, total, nil
}

// Stats aggregates counts by state and task type plus the average
// duration of finished workers.
func (s *SQLiteStore) Stats(ctx context.Context) (*WorkerStats, error) {
	stats := &WorkerStats{
		CountByState:    make(map[string]int),
		CountByTaskType: make(map[string]int),
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workers").Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("count workers: %w", err)
	}

	if err := s.countBy(ctx, "state", stats.CountByState); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, "task_type", stats.CountByTaskType); err != nil {
		return nil, err
	}

	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		"SELECT AVG(duration_ms) FROM workers WHERE duration_ms IS NOT NULL",
	).Scan(&avg)
	if err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}

	return stats, nil
}

func (s *SQLiteStore) countBy(ctx context.Context, column string, out map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s, COUNT(*) FROM workers GROUP BY %s", column, column),
	)
	if err != nil {
		return fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		out[key] = n
	}
	return rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for scanWorker.
type scanner interface {
	Scan(dest ...any) error
}

func scanWorker(sc scanner) (*WorkerRecord, error) {
	rec := &WorkerRecord{}
	var tags string
	err := sc.Scan(
		&rec.ID, &rec.Name, &rec.State, &rec.TaskType, &rec.Deployment,
		&rec.PID, &rec.CorrelationID, &rec.ParentID, &tags,
		&rec.ExitCode, &rec.Error, &rec.DurationMS, &rec.CreatedAt, &rec.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	if tags != "" {
		rec.Tags = strings.Split(tags, ",")
	}
	return rec, nil
}
