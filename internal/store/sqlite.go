package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/eligibility-cli/internal/model"
)

// SQLiteStore persists runs in a local SQLite file via modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens the database file at dsn in WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	trial_id   TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     TEXT,
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_trial_id ON runs(trial_id);

CREATE TABLE IF NOT EXISTS patient_outcomes (
	run_id     TEXT    NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position   INTEGER NOT NULL,
	patient_id TEXT    NOT NULL,
	status     TEXT    NOT NULL,
	confidence REAL,
	reasons    TEXT    NOT NULL DEFAULT '[]',
	PRIMARY KEY (run_id, position)
);
CREATE INDEX IF NOT EXISTS idx_outcomes_status ON patient_outcomes(run_id, status);
`

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, trialID string) (*model.Run, error) {
	run := &model.Run{
		ID:      uuid.New().String(),
		TrialID: trialID,
		Status:  model.RunStatusRunning,
	}
	run.CreatedAt = time.Now().UTC()
	run.UpdatedAt = run.CreatedAt

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, trial_id, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.TrialID, string(run.Status), run.CreatedAt, run.UpdatedAt,
	); err != nil {
		return nil, eris.Wrapf(err, "sqlite: create run for trial %s", trialID)
	}
	return run, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, result *model.RunResult) (err error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: encode run result")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin complete")
	}
	defer func() {
		if err != nil {
			tx.Rollback() //nolint:errcheck
		}
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE runs SET result = ?, status = ?, error = '', updated_at = ? WHERE id = ?`,
		string(payload), string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	if err = requireRow(res, runID); err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM patient_outcomes WHERE run_id = ?`, runID); err != nil {
		return eris.Wrapf(err, "sqlite: clear outcomes for %s", runID)
	}
	for i, o := range outcomes(runID, result) {
		var reasons []byte
		if reasons, err = json.Marshal(nonNil(o.Reasons)); err != nil {
			return eris.Wrap(err, "sqlite: encode reasons")
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO patient_outcomes (run_id, position, patient_id, status, confidence, reasons) VALUES (?, ?, ?, ?, ?, ?)`,
			runID, i, o.PatientID, o.Status, o.Confidence, string(reasons),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert outcome for patient %s", o.PatientID)
		}
	}

	if err = tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit complete")
	}
	return nil
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET error = ?, status = ?, updated_at = ? WHERE id = ?`,
		errMsg, string(model.RunStatusFailed), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return requireRow(res, runID)
}

const sqliteRunColumns = `id, trial_id, status, result, error, created_at, updated_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM runs WHERE id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get run %s", runID)
	}
	return run, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + sqliteRunColumns + ` FROM runs WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.TrialID != "" {
		query += ` AND trial_id = ?`
		args = append(args, filter.TrialID)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, listLimit(filter.Limit), max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

func (s *SQLiteStore) ListOutcomes(ctx context.Context, runID string, filter OutcomeFilter) ([]model.PatientOutcome, error) {
	query := `SELECT patient_id, status, confidence, reasons FROM patient_outcomes WHERE run_id = ?`
	args := []any{runID}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY position LIMIT ? OFFSET ?`
	args = append(args, listLimit(filter.Limit), max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list outcomes for %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	out := []model.PatientOutcome{}
	for rows.Next() {
		o := model.PatientOutcome{RunID: runID}
		var conf sql.NullFloat64
		var reasons string
		if err := rows.Scan(&o.PatientID, &o.Status, &conf, &reasons); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan outcome")
		}
		if conf.Valid {
			o.Confidence = &conf.Float64
		}
		if err := decodeReasons([]byte(reasons), &o); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate outcomes")
}

// requireRow maps an update that touched nothing to ErrNotFound.
func requireRow(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: run %s", runID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*model.Run, error) {
	var (
		run     model.Run
		status  string
		payload sql.NullString
	)
	err := row.Scan(&run.ID, &run.TrialID, &status, &payload, &run.Error, &run.CreatedAt, &run.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	run.Status = model.RunStatus(status)
	if payload.Valid && payload.String != "" {
		run.Result = new(model.RunResult)
		if err := json.Unmarshal([]byte(payload.String), run.Result); err != nil {
			return nil, eris.Wrapf(err, "sqlite: decode result of run %s", run.ID)
		}
	}
	return &run, nil
}
