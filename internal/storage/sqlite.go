package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Errors returned by run lookups.
var (
	ErrRunNotFound    = errors.New("run not found")
	ErrAmbiguousRunID = errors.New("ambiguous run ID prefix")
)

// MinRunIDPrefix is the shortest prefix ResolveRunID accepts.
const MinRunIDPrefix = 4

// DB wraps a SQLite database connection.
type DB struct {
	db *sql.DB
}

// selectRunFields contains the standard field list for SELECT queries.
const selectRunFields = `id, setting, mode, started_at, finished_at,
	records, degraded,
	final_train_loss, final_train_acc, final_val_loss, final_val_acc`

// OpenDB opens or creates a SQLite database at the given path.
func OpenDB(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	// Create schema if needed
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// createSchema creates the database schema if it doesn't exist.
func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			setting TEXT NOT NULL,
			mode TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			finished_at INTEGER,
			records INTEGER NOT NULL DEFAULT 0,
			degraded INTEGER NOT NULL DEFAULT 0,
			final_train_loss REAL,
			final_train_acc REAL,
			final_val_loss REAL,
			final_val_acc REAL
		);

		CREATE INDEX IF NOT EXISTS idx_runs_setting ON runs(setting);

		-- One row per epoch; loaded runs have none
		CREATE TABLE IF NOT EXISTS epochs (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			epoch INTEGER NOT NULL,
			train_loss REAL NOT NULL,
			train_acc REAL NOT NULL,
			val_loss REAL NOT NULL,
			val_acc REAL NOT NULL,
			PRIMARY KEY (run_id, epoch)
		);

		CREATE TABLE IF NOT EXISTS threshold_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			setting TEXT NOT NULL,
			mode TEXT NOT NULL,
			threshold REAL NOT NULL,
			accuracy REAL NOT NULL,
			queries INTEGER NOT NULL,
			diluted INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);
	`

	_, err := db.Exec(schema)
	return err
}

// BeginRun inserts a run that has not finished yet.
func (d *DB) BeginRun(run Run) error {
	_, err := d.db.Exec(`
		INSERT INTO runs (id, setting, mode, started_at, records, degraded)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Setting, run.Mode, run.StartedAt.UnixMilli(), run.Records, run.Degraded)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}
	return nil
}

// RecordEpoch stores the metrics of one epoch of a run.
func (d *DB) RecordEpoch(runID string, e Epoch) error {
	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO epochs (run_id, epoch, train_loss, train_acc, val_loss, val_acc)
		VALUES (?, ?, ?, ?, ?, ?)`,
		runID, e.Epoch, e.TrainLoss, e.TrainAcc, e.ValLoss, e.ValAcc)
	if err != nil {
		return fmt.Errorf("recording epoch %d of run %s: %w", e.Epoch, runID, err)
	}
	return nil
}

// FinishRun stores the final metrics and completion time of a run.
func (d *DB) FinishRun(run Run) error {
	res, err := d.db.Exec(`
		UPDATE runs SET finished_at = ?, records = ?, degraded = ?,
			final_train_loss = ?, final_train_acc = ?, final_val_loss = ?, final_val_acc = ?
		WHERE id = ?`,
		run.FinishedAt.UnixMilli(), run.Records, run.Degraded,
		run.FinalTrainLoss, run.FinalTrainAcc, run.FinalValLoss, run.FinalValAcc,
		run.ID)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", run.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}
	return nil
}

// GetRun retrieves a run and its epochs by ID.
func (d *DB) GetRun(id string) (*Run, error) {
	row := d.db.QueryRow(`SELECT `+selectRunFields+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return nil, err
	}
	run.Epochs, err = d.Epochs(id)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ResolveRunID returns the full ID of the run whose ID equals id or, for
// prefixes of at least MinRunIDPrefix characters, starts with it.
func (d *DB) ResolveRunID(id string) (string, error) {
	var full string
	err := d.db.QueryRow(`SELECT id FROM runs WHERE id = ?`, id).Scan(&full)
	if err == nil {
		return full, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("resolving run %s: %w", id, err)
	}
	if len(id) < MinRunIDPrefix {
		return "", fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	rows, err := d.db.Query(`SELECT id FROM runs WHERE substr(id, 1, ?) = ? LIMIT 2`, len(id), id)
	if err != nil {
		return "", fmt.Errorf("resolving run %s: %w", id, err)
	}
	defer rows.Close()

	var matches []string
	for rows.Next() {
		if err := rows.Scan(&full); err != nil {
			return "", err
		}
		matches = append(matches, full)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrRunNotFound, id)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %s", ErrAmbiguousRunID, id)
	}
}

// ListRuns returns runs newest first, optionally restricted to one setting.
// Epochs are not loaded.
func (d *DB) ListRuns(setting string, limit int) ([]Run, error) {
	query := `SELECT ` + selectRunFields + ` FROM runs`
	var args []interface{}
	if setting != "" {
		query += ` WHERE setting = ?`
		args = append(args, setting)
	}
	query += ` ORDER BY started_at DESC, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// Epochs returns the recorded epochs of a run in order.
func (d *DB) Epochs(runID string) ([]Epoch, error) {
	rows, err := d.db.Query(`
		SELECT epoch, train_loss, train_acc, val_loss, val_acc
		FROM epochs WHERE run_id = ? ORDER BY epoch`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing epochs: %w", err)
	}
	defer rows.Close()

	var epochs []Epoch
	for rows.Next() {
		var e Epoch
		if err := rows.Scan(&e.Epoch, &e.TrainLoss, &e.TrainAcc, &e.ValLoss, &e.ValAcc); err != nil {
			return nil, err
		}
		epochs = append(epochs, e)
	}
	return epochs, rows.Err()
}

// RecordThreshold stores the result of a threshold search.
func (d *DB) RecordThreshold(r ThresholdResult) error {
	_, err := d.db.Exec(`
		INSERT INTO threshold_results (setting, mode, threshold, accuracy, queries, diluted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Setting, r.Mode, r.Threshold, r.Accuracy, r.Queries, r.Diluted, r.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("recording threshold result for %s: %w", r.Setting, err)
	}
	return nil
}

// ListThresholds returns threshold results newest first, optionally for one setting.
func (d *DB) ListThresholds(setting string) ([]ThresholdResult, error) {
	query := `SELECT setting, mode, threshold, accuracy, queries, diluted, created_at FROM threshold_results`
	var args []interface{}
	if setting != "" {
		query += ` WHERE setting = ?`
		args = append(args, setting)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing threshold results: %w", err)
	}
	defer rows.Close()

	var results []ThresholdResult
	for rows.Next() {
		var r ThresholdResult
		var created int64
		if err := rows.Scan(&r.Setting, &r.Mode, &r.Threshold, &r.Accuracy, &r.Queries, &r.Diluted, &created); err != nil {
			return nil, err
		}
		r.CreatedAt = time.UnixMilli(created).UTC()
		results = append(results, r)
	}
	return results, rows.Err()
}

// RebuildFromJSONL clears the run tables and rebuilds them from a JSONL
// run log. Threshold results are rebuilt separately by
// RebuildThresholdsFromJSONL.
func (d *DB) RebuildFromJSONL(jsonlPath string) (int, error) {
	runs, err := ReadRuns(jsonlPath)
	if err != nil {
		return 0, fmt.Errorf("reading JSONL: %w", err)
	}

	tx, err := d.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM epochs"); err != nil {
		return 0, fmt.Errorf("clearing epochs table: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM runs"); err != nil {
		return 0, fmt.Errorf("clearing runs table: %w", err)
	}

	for _, run := range runs {
		var finished sql.NullInt64
		if run.Finished() {
			finished = sql.NullInt64{Int64: run.FinishedAt.UnixMilli(), Valid: true}
		}
		_, err := tx.Exec(`
			INSERT INTO runs (`+selectRunFields+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, run.Setting, run.Mode, run.StartedAt.UnixMilli(), finished,
			run.Records, run.Degraded,
			run.FinalTrainLoss, run.FinalTrainAcc, run.FinalValLoss, run.FinalValAcc)
		if err != nil {
			return 0, fmt.Errorf("inserting run %s: %w", run.ID, err)
		}
		for _, e := range run.Epochs {
			_, err := tx.Exec(`
				INSERT INTO epochs (run_id, epoch, train_loss, train_acc, val_loss, val_acc)
				VALUES (?, ?, ?, ?, ?, ?)`,
				run.ID, e.Epoch, e.TrainLoss, e.TrainAcc, e.ValLoss, e.ValAcc)
			if err != nil {
				return 0, fmt.Errorf("inserting epoch %d of run %s: %w", e.Epoch, run.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing rebuild: %w", err)
	}
	return len(runs), nil
}

// RebuildThresholdsFromJSONL replaces the threshold results with those of a
// JSONL threshold log.
func (d *DB) RebuildThresholdsFromJSONL(jsonlPath string) (int, error) {
	results, err := ReadThresholds(jsonlPath)
	if err != nil {
		return 0, fmt.Errorf("reading JSONL: %w", err)
	}

	tx, err := d.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM threshold_results"); err != nil {
		return 0, fmt.Errorf("clearing threshold_results table: %w", err)
	}
	for _, r := range results {
		_, err := tx.Exec(`
			INSERT INTO threshold_results (setting, mode, threshold, accuracy, queries, diluted, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.Setting, r.Mode, r.Threshold, r.Accuracy, r.Queries, r.Diluted, r.CreatedAt.UnixMilli())
		if err != nil {
			return 0, fmt.Errorf("inserting threshold result for %s: %w", r.Setting, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing rebuild: %w", err)
	}
	return len(results), nil
}

// scanner interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var started int64
	var finished sql.NullInt64
	var trainLoss, trainAcc, valLoss, valAcc sql.NullFloat64

	err := s.Scan(
		&run.ID, &run.Setting, &run.Mode, &started, &finished,
		&run.Records, &run.Degraded,
		&trainLoss, &trainAcc, &valLoss, &valAcc,
	)
	if err != nil {
		return nil, err
	}

	run.StartedAt = time.UnixMilli(started).UTC()
	if finished.Valid {
		run.FinishedAt = time.UnixMilli(finished.Int64).UTC()
	}
	run.FinalTrainLoss = trainLoss.Float64
	run.FinalTrainAcc = trainAcc.Float64
	run.FinalValLoss = valLoss.Float64
	run.FinalValAcc = valAcc.Float64

	return &run, nil
}
