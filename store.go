package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// RunStore persists provisioning run history in SQLite. Live device
// state is never stored; only completed runs and their per-device
// outcomes land here.
type RunStore struct {
	db     *sql.DB
	dbPath string

	stmtInsertRun    *sql.Stmt
	stmtInsertResult *sql.Stmt
}

const runSchemaSQL = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA cache_size = -64000;
PRAGMA temp_store = MEMORY;

CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    profile TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    finished_at INTEGER DEFAULT 0,
    total_devices INTEGER DEFAULT 0,
    provisioned INTEGER DEFAULT 0,
    already_owner INTEGER DEFAULT 0,
    skipped INTEGER DEFAULT 0,
    failed INTEGER DEFAULT 0,
    server_restarts INTEGER DEFAULT 0,
    created_at INTEGER DEFAULT (strftime('%s', 'now') * 1000)
);

CREATE INDEX IF NOT EXISTS idx_runs_time ON runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_profile ON runs(profile);

CREATE TABLE IF NOT EXISTS run_devices (
    run_id TEXT NOT NULL,
    device_id TEXT NOT NULL,
    serial TEXT,
    model TEXT,
    outcome TEXT NOT NULL,
    steps TEXT DEFAULT '',
    error TEXT DEFAULT '',
    duration_ms INTEGER DEFAULT 0,
    PRIMARY KEY (run_id, device_id),
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_run_devices_serial ON run_devices(serial);
CREATE INDEX IF NOT EXISTS idx_run_devices_outcome ON run_devices(outcome);
`

// NewRunStore opens (or creates) the history database under dataDir.
func NewRunStore(dataDir string) (*RunStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "drover.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=-64000&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &RunStore{db: db, dbPath: dbPath}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	return store, nil
}

func (s *RunStore) initSchema() error {
	if _, err := s.db.Exec(runSchemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *RunStore) prepareStatements() error {
	var err error

	s.stmtInsertRun, err = s.db.Prepare(`
		INSERT INTO runs (
			id, profile, started_at, finished_at, total_devices,
			provisioned, already_owner, skipped, failed, server_restarts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}

	s.stmtInsertResult, err = s.db.Prepare(`
		INSERT INTO run_devices (
			run_id, device_id, serial, model, outcome, steps, error, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	return err
}

// SaveRun writes a completed run and its per-device results atomically.
func (s *RunStore) SaveRun(summary *RunSummary) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmtRun := tx.Stmt(s.stmtInsertRun)
	stmtResult := tx.Stmt(s.stmtInsertResult)

	_, err = stmtRun.Exec(
		summary.RunID, summary.Profile, summary.StartedAt, summary.FinishedAt,
		summary.TotalDevices, summary.Provisioned, summary.AlreadyOwner,
		summary.Skipped, summary.Failed, summary.ServerRestarts,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", summary.RunID, err)
	}

	for _, r := range summary.Results {
		_, err := stmtResult.Exec(
			summary.RunID, r.DeviceID, nullString(r.Serial), nullString(r.Model),
			r.Outcome, strings.Join(r.Steps, ","), r.Error, r.DurationMs,
		)
		if err != nil {
			return fmt.Errorf("insert run device %s/%s: %w", summary.RunID, r.DeviceID, err)
		}
	}

	return tx.Commit()
}

// GetRun loads one run with its device results.
func (s *RunStore) GetRun(runID string) (*RunSummary, error) {
	row := s.db.QueryRow(`
		SELECT id, profile, started_at, finished_at, total_devices,
			provisioned, already_owner, skipped, failed, server_restarts
		FROM runs WHERE id = ?
	`, runID)

	summary, err := scanRun(row)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT device_id, serial, model, outcome, steps, error, duration_ms
		FROM run_devices WHERE run_id = ? ORDER BY rowid
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRunDevice(rows)
		if err != nil {
			return nil, err
		}
		summary.Results = append(summary.Results, r)
	}
	return summary, rows.Err()
}

// ListRuns returns recent runs, newest first, without device results.
func (s *RunStore) ListRuns(profile string, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, profile, started_at, finished_at, total_devices,
			provisioned, already_owner, skipped, failed, server_restarts
		FROM runs
	`
	args := []interface{}{}
	if profile != "" {
		query += ` WHERE profile = ?`
		args = append(args, profile)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]RunSummary, 0)
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(
			&r.RunID, &r.Profile, &r.StartedAt, &r.FinishedAt, &r.TotalDevices,
			&r.Provisioned, &r.AlreadyOwner, &r.Skipped, &r.Failed, &r.ServerRestarts,
		); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// DeviceHistory returns the recorded outcomes for one device serial,
// newest first.
func (s *RunStore) DeviceHistory(serial string, limit int) ([]ProvisionResult, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`
		SELECT d.device_id, d.serial, d.model, d.outcome, d.steps, d.error, d.duration_ms
		FROM run_devices d
		JOIN runs r ON r.id = d.run_id
		WHERE d.serial = ?
		ORDER BY r.started_at DESC
		LIMIT ?
	`, serial, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]ProvisionResult, 0)
	for rows.Next() {
		r, err := scanRunDevice(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// CleanupOldRuns removes runs that finished before the retention window.
func (s *RunStore) CleanupOldRuns(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	result, err := s.db.Exec(`
		DELETE FROM runs
		WHERE finished_at > 0 AND finished_at < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

// VacuumDatabase compacts the database file.
func (s *RunStore) VacuumDatabase() error {
	_, err := s.db.Exec("VACUUM")
	return err
}

// Close releases the prepared statements and the database handle.
func (s *RunStore) Close() error {
	if s.stmtInsertRun != nil {
		s.stmtInsertRun.Close()
	}
	if s.stmtInsertResult != nil {
		s.stmtInsertResult.Close()
	}
	return s.db.Close()
}

func scanRun(row *sql.Row) (*RunSummary, error) {
	var r RunSummary
	err := row.Scan(
		&r.RunID, &r.Profile, &r.StartedAt, &r.FinishedAt, &r.TotalDevices,
		&r.Provisioned, &r.AlreadyOwner, &r.Skipped, &r.Failed, &r.ServerRestarts,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found")
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanRunDevice(rows *sql.Rows) (ProvisionResult, error) {
	var r ProvisionResult
	var serial, model, steps sql.NullString
	err := rows.Scan(&r.DeviceID, &serial, &model, &r.Outcome, &steps, &r.Error, &r.DurationMs)
	if err != nil {
		return r, err
	}
	r.Serial = serial.String
	r.Model = model.String
	if steps.String != "" {
		r.Steps = strings.Split(steps.String, ",")
	}
	return r, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
