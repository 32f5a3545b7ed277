package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// Store persists run history in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the ledger database and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("ledger path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// BeginRun records the start of a run.
func (s *Store) BeginRun(ctx context.Context, id string, modes []string, startedAt time.Time) error {
	_, err := s.execWithRetry(ctx,
		`INSERT INTO runs (id, started_at, status, modes) VALUES (?, ?, ?, ?)`,
		id, formatTime(startedAt), RunRunning, strings.Join(modes, ","),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordAsset stores the outcome of one asset.
func (s *Store) RecordAsset(ctx context.Context, asset Asset) error {
	recorded := asset.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now()
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO assets (
            run_id, mode, kind, container, base_name, source_path,
            bundle_path, digest, size_bytes, status, error_message, recorded_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		asset.RunID,
		asset.Mode,
		asset.Kind,
		asset.Container,
		asset.BaseName,
		asset.SourcePath,
		nullableString(asset.BundlePath),
		nullableString(asset.Digest),
		asset.SizeBytes,
		asset.Status,
		nullableString(asset.Error),
		formatTime(recorded),
	)
	if err != nil {
		return fmt.Errorf("insert asset %s: %w", asset.BaseName, err)
	}
	return nil
}

// FinishRun records the final status and counts of a run.
func (s *Store) FinishRun(ctx context.Context, id string, status RunStatus, succeeded, failed int, runErr error, finishedAt time.Time) error {
	message := ""
	if runErr != nil {
		message = runErr.Error()
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, succeeded = ?, failed = ?, error_message = ? WHERE id = ?`,
		formatTime(finishedAt), status, succeeded, failed, nullableString(message), id,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT id, started_at, finished_at, status, modes, succeeded, failed, error_message
        FROM runs ORDER BY started_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run      Run
			started  string
			finished sql.NullString
			status   string
			message  sql.NullString
		)
		if err := rows.Scan(&run.ID, &started, &finished, &status, &run.Modes, &run.Succeeded, &run.Failed, &message); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.StartedAt = parseTime(started)
		if finished.Valid {
			run.FinishedAt = parseTime(finished.String)
		}
		run.Status = RunStatus(status)
		run.Error = message.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListAssets returns the assets of a run in recording order.
func (s *Store) ListAssets(ctx context.Context, runID string) ([]Asset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, mode, kind, container, base_name, source_path, bundle_path,
            digest, size_bytes, status, error_message, recorded_at
        FROM assets WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query assets: %w", err)
	}
	defer rows.Close()

	var assets []Asset
	for rows.Next() {
		var (
			asset    Asset
			bundle   sql.NullString
			digest   sql.NullString
			status   string
			message  sql.NullString
			recorded string
		)
		if err := rows.Scan(&asset.RunID, &asset.Mode, &asset.Kind, &asset.Container, &asset.BaseName,
			&asset.SourcePath, &bundle, &digest, &asset.SizeBytes, &status, &message, &recorded); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		asset.BundlePath = bundle.String
		asset.Digest = digest.String
		asset.Status = AssetStatus(status)
		asset.Error = message.String
		asset.RecordedAt = parseTime(recorded)
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
