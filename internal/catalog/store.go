package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes incompatibly.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was created by another schema version.
var ErrSchemaMismatch = errors.New("catalog schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond

	recordColumns = "id, cycle_id, device_path, volume_label, block_size, block_count, total_bytes, outcome, image_path, error_message, started_at, finished_at"
)

// Store persists cycle records in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the catalog database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("catalog path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create catalog directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (move %s aside to start a new catalog)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Record stores the outcome of a cycle. A second record for the same cycle
// replaces the first.
func (s *Store) Record(ctx context.Context, rec Record) (Record, error) {
	if strings.TrimSpace(rec.CycleID) == "" {
		return Record{}, errors.New("cycle id is required")
	}
	if _, err := ParseOutcome(string(rec.Outcome)); err != nil {
		return Record{}, err
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = rec.FinishedAt
	}
	if rec.TotalBytes == 0 {
		rec.TotalBytes = rec.BlockSize * rec.BlockCount
	}

	var id int64
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			`INSERT INTO cycles (
                cycle_id, device_path, volume_label, block_size, block_count, total_bytes,
                outcome, image_path, error_message, started_at, finished_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(cycle_id) DO UPDATE SET
                outcome = excluded.outcome,
                image_path = excluded.image_path,
                error_message = excluded.error_message,
                finished_at = excluded.finished_at
            RETURNING id`,
			rec.CycleID,
			rec.DevicePath,
			nullableString(rec.VolumeLabel),
			rec.BlockSize,
			rec.BlockCount,
			rec.TotalBytes,
			string(rec.Outcome),
			nullableString(rec.ImagePath),
			nullableString(rec.ErrorMessage),
			formatTime(rec.StartedAt),
			formatTime(rec.FinishedAt),
		).Scan(&id)
	})
	if err != nil {
		return Record{}, fmt.Errorf("insert cycle record: %w", err)
	}
	rec.ID = id
	return rec, nil
}

// List returns the most recent records first. A non-positive limit returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM cycles ORDER BY finished_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetByCycle returns the record for cycleID, or nil when none exists.
func (s *Store) GetByCycle(ctx context.Context, cycleID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM cycles WHERE cycle_id = ?`, cycleID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cycle: %w", err)
	}
	return &rec, nil
}

// Summarize counts records by outcome.
func (s *Store) Summarize(ctx context.Context) (Summary, error) {
	summary := Summary{ByOutcome: make(map[Outcome]int)}
	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, COUNT(1), COALESCE(SUM(CASE WHEN outcome = ? THEN total_bytes ELSE 0 END), 0)
         FROM cycles GROUP BY outcome`, string(OutcomeCommitted))
	if err != nil {
		return summary, fmt.Errorf("summarize cycles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			outcome string
			count   int
			bytes   int64
		)
		if err := rows.Scan(&outcome, &count, &bytes); err != nil {
			return summary, fmt.Errorf("scan summary: %w", err)
		}
		summary.ByOutcome[Outcome(outcome)] = count
		summary.Total += count
		summary.Bytes += bytes
	}
	return summary, rows.Err()
}
