package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for runs, traces,
// suggestions, snapshot records, and the background job queue.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database
// (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "pengeplan.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for collaborators that manage
// their own queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

// --- Runs ---

// CreateRun inserts a new run in the running state.
func (s *Store) CreateRun(r Run) error {
	status := r.Status
	if status == "" {
		status = RunRunning
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (id, user_id, entry_point, status, started_at, latency_ms, result_summary)
		VALUES (?, ?, ?, ?, ?, 0, '')`,
		r.ID, r.UserID, r.EntryPoint, status, fmtTime(r.StartedAt),
	)
	return err
}

// FinalizeRun transitions a running run to a terminal state. A run
// finalizes exactly once; a second attempt returns ErrNotFound.
func (s *Store) FinalizeRun(id, status string, finishedAt time.Time, latencyMs int64, resultSummary string) error {
	res, err := s.db.Exec(`
		UPDATE runs SET status = ?, finished_at = ?, latency_ms = ?, result_summary = ?
		WHERE id = ? AND status = ?`,
		status, fmtTime(finishedAt), latencyMs, resultSummary, id, RunRunning,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetRun(id string) (Run, error) {
	var r Run
	var startedAt string
	var finishedAt sql.NullString
	err := s.db.QueryRow(`
		SELECT id, user_id, entry_point, status, started_at, finished_at, latency_ms, result_summary
		FROM runs WHERE id = ?`, id,
	).Scan(&r.ID, &r.UserID, &r.EntryPoint, &r.Status, &startedAt, &finishedAt, &r.LatencyMs, &r.ResultSummary)
	if err == sql.ErrNoRows {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, err
	}
	if r.StartedAt, err = parseTime(startedAt); err != nil {
		return Run{}, err
	}
	if finishedAt.Valid {
		if r.FinishedAt, err = parseTime(finishedAt.String); err != nil {
			return Run{}, err
		}
	}
	return r, nil
}

// ListRunsSince returns runs started at or after the cutoff, newest first.
func (s *Store) ListRunsSince(since time.Time) ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, entry_point, status, started_at, finished_at, latency_ms, result_summary
		FROM runs WHERE started_at >= ? ORDER BY started_at DESC`, fmtTime(since),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Run
	for rows.Next() {
		var r Run
		var startedAt string
		var finishedAt sql.NullString
		if err := rows.Scan(&r.ID, &r.UserID, &r.EntryPoint, &r.Status, &startedAt, &finishedAt, &r.LatencyMs, &r.ResultSummary); err != nil {
			return nil, err
		}
		if r.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if finishedAt.Valid {
			if r.FinishedAt, err = parseTime(finishedAt.String); err != nil {
				return nil, err
			}
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Node traces ---

// AppendTrace appends one stage trace. Traces are immutable once written.
func (s *Store) AppendTrace(t NodeTrace) error {
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO node_traces (run_id, stage_name, step_index, state_in, state_out, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.RunID, t.StageName, t.StepIndex, t.StateIn, t.StateOut, t.LatencyMs, fmtTime(createdAt),
	)
	return err
}

// ListTraces returns the traces for one run in step order.
func (s *Store) ListTraces(runID string) ([]NodeTrace, error) {
	return s.queryTraces(`
		SELECT id, run_id, stage_name, step_index, state_in, state_out, latency_ms, created_at
		FROM node_traces WHERE run_id = ? ORDER BY step_index ASC`, runID)
}

// ListTracesSince returns traces created at or after the cutoff.
func (s *Store) ListTracesSince(since time.Time) ([]NodeTrace, error) {
	return s.queryTraces(`
		SELECT id, run_id, stage_name, step_index, state_in, state_out, latency_ms, created_at
		FROM node_traces WHERE created_at >= ? ORDER BY created_at ASC`, fmtTime(since))
}

func (s *Store) queryTraces(query string, arg any) ([]NodeTrace, error) {
	rows, err := s.db.Query(query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []NodeTrace
	for rows.Next() {
		var t NodeTrace
		var createdAt string
		if err := rows.Scan(&t.ID, &t.RunID, &t.StageName, &t.StepIndex, &t.StateIn, &t.StateOut, &t.LatencyMs, &createdAt); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

// --- Suggestions ---

func (s *Store) SaveSuggestion(rec Suggestion) error {
	status := rec.Status
	if status == "" {
		status = SuggestionProposed
	}
	hints := rec.PolicyHints
	if hints == "" {
		hints = "[]"
	}
	_, err := s.db.Exec(`
		INSERT INTO suggestions (id, run_id, user_id, kind, reasoning, confidence, target_json, impact_json, policy_hints, risk_level, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RunID, rec.UserID, rec.Kind, rec.Reasoning, rec.Confidence,
		rec.TargetJSON, rec.ImpactJSON, hints, rec.RiskLevel, status, fmtTime(rec.CreatedAt),
	)
	return err
}

func (s *Store) GetSuggestion(id string) (Suggestion, error) {
	row := s.db.QueryRow(`
		SELECT id, run_id, user_id, kind, reasoning, confidence, target_json, impact_json, policy_hints, risk_level, status, created_at
		FROM suggestions WHERE id = ?`, id)
	rec, err := scanSuggestion(row.Scan)
	if err == sql.ErrNoRows {
		return Suggestion{}, ErrNotFound
	}
	return rec, err
}

func (s *Store) ListSuggestionsByRun(runID string) ([]Suggestion, error) {
	return s.querySuggestions(`
		SELECT id, run_id, user_id, kind, reasoning, confidence, target_json, impact_json, policy_hints, risk_level, status, created_at
		FROM suggestions WHERE run_id = ? ORDER BY created_at ASC, id ASC`, runID)
}

func (s *Store) ListSuggestionsByUser(userID string, limit int) ([]Suggestion, error) {
	return s.querySuggestions(`
		SELECT id, run_id, user_id, kind, reasoning, confidence, target_json, impact_json, policy_hints, risk_level, status, created_at
		FROM suggestions WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
}

func (s *Store) ListSuggestionsSince(since time.Time) ([]Suggestion, error) {
	return s.querySuggestions(`
		SELECT id, run_id, user_id, kind, reasoning, confidence, target_json, impact_json, policy_hints, risk_level, status, created_at
		FROM suggestions WHERE created_at >= ?`, fmtTime(since))
}

// ReviewSuggestion records a human verdict on a proposed suggestion.
func (s *Store) ReviewSuggestion(id, status string) error {
	if status != SuggestionApplied && status != SuggestionRejected {
		return fmt.Errorf("invalid review status %q", status)
	}
	res, err := s.db.Exec(`UPDATE suggestions SET status = ? WHERE id = ? AND status = ?`,
		status, id, SuggestionProposed)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) querySuggestions(query string, args ...any) ([]Suggestion, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Suggestion
	for rows.Next() {
		rec, err := scanSuggestion(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

func scanSuggestion(scan func(...any) error) (Suggestion, error) {
	var rec Suggestion
	var createdAt string
	if err := scan(&rec.ID, &rec.RunID, &rec.UserID, &rec.Kind, &rec.Reasoning, &rec.Confidence,
		&rec.TargetJSON, &rec.ImpactJSON, &rec.PolicyHints, &rec.RiskLevel, &rec.Status, &createdAt); err != nil {
		return Suggestion{}, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return Suggestion{}, err
	}
	rec.CreatedAt = t
	return rec, nil
}

// --- Blocked suggestions ---

func (s *Store) SaveBlockedSuggestion(rec BlockedSuggestion) error {
	_, err := s.db.Exec(`
		INSERT INTO blocked_suggestions (id, run_id, kind, target_json, violation_type, block_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RunID, rec.Kind, rec.TargetJSON, rec.ViolationType, rec.BlockReason, fmtTime(rec.CreatedAt),
	)
	return err
}

func (s *Store) ListBlockedByRun(runID string) ([]BlockedSuggestion, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, kind, target_json, violation_type, block_reason, created_at
		FROM blocked_suggestions WHERE run_id = ? ORDER BY created_at ASC, id ASC`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []BlockedSuggestion
	for rows.Next() {
		var rec BlockedSuggestion
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Kind, &rec.TargetJSON, &rec.ViolationType, &rec.BlockReason, &createdAt); err != nil {
			return nil, err
		}
		if rec.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

// --- Audit events ---

func (s *Store) SaveAuditEvent(ev AuditEvent) error {
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO audit_events (run_id, type, payload_json, created_at)
		VALUES (?, ?, ?, ?)`,
		ev.RunID, ev.Type, ev.PayloadJSON, fmtTime(createdAt),
	)
	return err
}

func (s *Store) ListAuditEvents(runID string) ([]AuditEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, type, payload_json, created_at
		FROM audit_events WHERE run_id = ? ORDER BY id ASC`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []AuditEvent
	for rows.Next() {
		var ev AuditEvent
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Type, &ev.PayloadJSON, &createdAt); err != nil {
			return nil, err
		}
		if ev.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		results = append(results, ev)
	}
	return results, rows.Err()
}

// --- Jobs ---

func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now, now,
	)
	return err
}

func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]any, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return &j, nil
}

func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}

	if err != nil {
		return err
	}

	return tx.Commit()
}
