// Package runlog keeps a SQLite history of pipeline runs and the outcome of
// each stage. The schema is managed with golang-migrate from embedded
// migrations.
package runlog

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/colmap-zup/internal/recon"
	"github.com/banshee-data/colmap-zup/internal/timeutil"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Run and stage statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
}

// Ledger records runs in a SQLite database.
type Ledger struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Open opens or creates the ledger at path and applies pending migrations.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	l := &Ledger{db: db, clock: timeutil.RealClock{}}
	if err := l.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	diagf("opened run ledger %s", path)
	return l, nil
}

// SetClock replaces the clock used for timestamps.
func (l *Ledger) SetClock(c timeutil.Clock) {
	l.clock = c
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) migrateUp() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(l.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// Closing m would close the shared *sql.DB.
	m.Log = &migrateLogger{}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// migrateLogger implements migrate.Logger on the diag stream.
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	diagf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// RunRecord is one row of the runs table.
type RunRecord struct {
	ID          string
	SourcePath  string
	OptionsJSON string
	StartedAt   time.Time
	FinishedAt  time.Time // zero while running
	Status      string
	ExitCode    int
	FailedStage string
	Error       string
}

// StageRecord is one row of the run_stages table.
type StageRecord struct {
	RunID     string
	Stage     string
	Seq       int
	StartedAt time.Time
	Duration  time.Duration
	Status    string
	ExitCode  int
	Error     string
}

// Run is an open ledger entry. It implements recon.Observer.
type Run struct {
	ID string

	ledger *Ledger
	mu     sync.Mutex
	seq    int
}

// StartRun inserts a new run in the running state. opts is stored as JSON.
func (l *Ledger) StartRun(ctx context.Context, source string, opts interface{}) (*Run, error) {
	optsJSON, err := json.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("encode run options: %w", err)
	}
	id := uuid.New().String()
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, source_path, options_json, started_unix_ns, status) VALUES (?, ?, ?, ?, ?)`,
		id, source, string(optsJSON), l.clock.Now().UnixNano(), StatusRunning)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	opsf("run %s started for %s", id, source)
	return &Run{ID: id, ledger: l}, nil
}

// StageStarted records a stage in the running state.
func (r *Run) StageStarted(ctx context.Context, stage string, at time.Time) {
	r.mu.Lock()
	r.seq++
	seq := r.seq
	r.mu.Unlock()

	_, err := r.ledger.db.ExecContext(context.WithoutCancel(ctx),
		`INSERT INTO run_stages (run_id, stage, seq, started_unix_ns, status) VALUES (?, ?, ?, ?, ?)`,
		r.ID, stage, seq, at.UnixNano(), StatusRunning)
	if err != nil {
		opsf("record stage %s start: %v", stage, err)
		return
	}
	tracef("run %s stage %d %s started", r.ID, seq, stage)
}

// StageFinished records the outcome of the most recently started stage.
func (r *Run) StageFinished(ctx context.Context, res recon.StageResult) {
	r.mu.Lock()
	seq := r.seq
	r.mu.Unlock()

	status, msg := outcome(res.Err)
	_, err := r.ledger.db.ExecContext(context.WithoutCancel(ctx),
		`UPDATE run_stages SET duration_ms = ?, status = ?, exit_code = ?, error = ? WHERE run_id = ? AND seq = ?`,
		res.Duration.Milliseconds(), status, recon.ExitCode(res.Err), msg, r.ID, seq)
	if err != nil {
		opsf("record stage %s result: %v", res.Stage, err)
		return
	}
	tracef("run %s stage %d %s %s in %v", r.ID, seq, res.Stage, status, res.Duration)
}

// Finish closes the run with the pipeline's result.
func (r *Run) Finish(ctx context.Context, runErr error) error {
	status, msg := outcome(runErr)
	var failed sql.NullString
	var se *recon.StageError
	if errors.As(runErr, &se) {
		failed = sql.NullString{String: se.Stage, Valid: true}
	}
	_, err := r.ledger.db.ExecContext(context.WithoutCancel(ctx),
		`UPDATE runs SET finished_unix_ns = ?, status = ?, exit_code = ?, failed_stage = ?, error = ? WHERE run_id = ?`,
		r.ledger.clock.Now().UnixNano(), status, recon.ExitCode(runErr), failed, msg, r.ID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", r.ID, err)
	}
	opsf("run %s %s", r.ID, status)
	return nil
}

func outcome(err error) (string, sql.NullString) {
	if err == nil {
		return StatusSucceeded, sql.NullString{}
	}
	return StatusFailed, sql.NullString{String: err.Error(), Valid: true}
}

// Recent returns up to limit runs, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT run_id, source_path, options_json, started_unix_ns, finished_unix_ns,
		       status, exit_code, failed_stage, error
		FROM runs
		ORDER BY started_unix_ns DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			rec      RunRecord
			started  int64
			finished sql.NullInt64
			code     sql.NullInt64
			stage    sql.NullString
			msg      sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.SourcePath, &rec.OptionsJSON, &started, &finished,
			&rec.Status, &code, &stage, &msg); err != nil {
			return nil, err
		}
		rec.StartedAt = time.Unix(0, started).UTC()
		if finished.Valid {
			rec.FinishedAt = time.Unix(0, finished.Int64).UTC()
		}
		rec.ExitCode = int(code.Int64)
		rec.FailedStage = stage.String
		rec.Error = msg.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Stages returns the stage rows of a run in execution order.
func (l *Ledger) Stages(ctx context.Context, runID string) ([]StageRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT run_id, stage, seq, started_unix_ns, duration_ms, status, exit_code, error
		FROM run_stages
		WHERE run_id = ?
		ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("query stages: %w", err)
	}
	defer rows.Close()

	var out []StageRecord
	for rows.Next() {
		var (
			rec      StageRecord
			started  int64
			duration sql.NullInt64
			code     sql.NullInt64
			msg      sql.NullString
		)
		if err := rows.Scan(&rec.RunID, &rec.Stage, &rec.Seq, &started, &duration, &rec.Status, &code, &msg); err != nil {
			return nil, err
		}
		rec.StartedAt = time.Unix(0, started).UTC()
		rec.Duration = time.Duration(duration.Int64) * time.Millisecond
		rec.ExitCode = int(code.Int64)
		rec.Error = msg.String
		out = append(out, rec)
	}
	return out, rows.Err()
}
