package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/prospector-cli/internal/model"
	"github.com/sells-group/prospector-cli/internal/resilience"
)

// SQLiteStore is the single-file Store used by one-operator installs.
type SQLiteStore struct {
	db *sql.DB
}

// defaultListLimit caps list queries whose filter sets no Limit.
const defaultListLimit = 100

// sqlitePragmas tune the connection for one writer and concurrent
// readers. busy_timeout queues colliding writers instead of failing.
var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
}

// NewSQLite opens the database file at dsn, creating it if needed.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, p := range sqlitePragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: %s", p)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	account      TEXT NOT NULL,
	options      TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	doc          TEXT,
	started_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS run_artifacts (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	stage      TEXT NOT NULL,
	status     TEXT NOT NULL,
	result     TEXT NOT NULL,
	body       TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (run_id, stage)
);

CREATE TABLE IF NOT EXISTS pending_updates (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	account_id  TEXT NOT NULL,
	record_type TEXT NOT NULL,
	fields      TEXT NOT NULL,
	provenance  TEXT,
	status      TEXT NOT NULL DEFAULT 'queued',
	queued_id   TEXT,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	account        TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	failed_stage   TEXT,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  DATETIME NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	last_failed_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_account_id ON runs(json_extract(account, '$.id'));
CREATE INDEX IF NOT EXISTS idx_run_artifacts_run_id ON run_artifacts(run_id);
CREATE INDEX IF NOT EXISTS idx_pending_updates_status ON pending_updates(status);
CREATE INDEX IF NOT EXISTS idx_pending_updates_run_id ON pending_updates(run_id);
CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, account model.AccountRef, opts model.RunOptions) (*model.PipelineRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	accountJSON, err := json.Marshal(account)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal account")
	}
	optionsJSON, err := json.Marshal(opts)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal options")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, account, options, status, started_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, string(accountJSON), string(optionsJSON), string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.PipelineRun{
		ID:        id,
		Account:   account,
		Options:   opts,
		Status:    model.RunStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run %s status", runID)
	}
	return affectedOrNotFound(res, "run", runID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, run *model.PipelineRun) error {
	doc, err := json.Marshal(run)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run")
	}

	completed := time.Now().UTC()
	if run.CompletedAt != nil {
		completed = run.CompletedAt.UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET doc = ?, status = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		string(doc), string(run.Status), completed, time.Now().UTC(), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", run.ID)
	}
	return affectedOrNotFound(res, "run", run.ID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.PipelineRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, account, options, status, doc, started_at, completed_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error) {
	query := `SELECT id, account, options, status, doc, started_at, completed_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.AccountID != "" {
		query += ` AND json_extract(account, '$.id') = ?`
		args = append(args, filter.AccountID)
	}
	if !filter.StartedAfter.IsZero() {
		query += ` AND started_at > ?`
		args = append(args, filter.StartedAfter.UTC())
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, orDefaultLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveStageArtifact(ctx context.Context, runID string, result model.StageResult, artifact []byte) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal stage result")
	}

	var body any
	if len(artifact) > 0 {
		body = string(artifact)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_artifacts (run_id, stage, status, result, body, created_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, stage) DO UPDATE SET
		   status = excluded.status, result = excluded.result, body = excluded.body, created_at = excluded.created_at`,
		runID, string(result.Stage), string(result.Status), string(resultJSON), body, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save %s artifact for run %s", result.Stage, runID)
}

func (s *SQLiteStore) GetArtifact(ctx context.Context, runID string, stage model.Stage) ([]byte, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT body FROM run_artifacts WHERE run_id = ? AND stage = ?`,
		runID, string(stage),
	)

	var body sql.NullString
	err := row.Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get %s artifact for run %s", stage, runID)
	}
	if !body.Valid {
		return nil, nil
	}
	return []byte(body.String), nil
}

func (s *SQLiteStore) ListStageResults(ctx context.Context, runID string) ([]model.StageResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT result FROM run_artifacts WHERE run_id = ? ORDER BY created_at ASC`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list stage results for run %s", runID)
	}
	defer rows.Close()

	var results []model.StageResult
	for rows.Next() {
		var resultJSON string
		if err := rows.Scan(&resultJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stage result")
		}
		var sr model.StageResult
		if err := json.Unmarshal([]byte(resultJSON), &sr); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal stage result")
		}
		results = append(results, sr)
	}
	return results, eris.Wrap(rows.Err(), "sqlite: list stage results iterate")
}

func (s *SQLiteStore) SavePendingUpdate(ctx context.Context, pu *model.PendingUpdate) error {
	if pu.ID == "" {
		pu.ID = uuid.New().String()
	}
	if pu.Status == "" {
		pu.Status = model.PendingQueued
	}
	if pu.CreatedAt.IsZero() {
		pu.CreatedAt = time.Now().UTC()
	}

	fieldsJSON, err := json.Marshal(pu.Fields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal pending fields")
	}
	provJSON, err := json.Marshal(pu.Provenance)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal pending provenance")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pending_updates (id, run_id, account_id, record_type, fields, provenance, status, queued_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   fields = excluded.fields, provenance = excluded.provenance, status = excluded.status,
		   queued_id = excluded.queued_id, updated_at = excluded.updated_at`,
		pu.ID, pu.RunID, pu.AccountID, string(pu.RecordType), string(fieldsJSON), string(provJSON),
		string(pu.Status), pu.QueuedID, pu.CreatedAt, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: save pending update")
}

func (s *SQLiteStore) ListPendingUpdates(ctx context.Context, filter PendingFilter) ([]model.PendingUpdate, error) {
	query := `SELECT id, run_id, account_id, record_type, fields, provenance, status, queued_id, created_at FROM pending_updates WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.AccountID != "" {
		query += ` AND account_id = ?`
		args = append(args, filter.AccountID)
	}
	query += ` ORDER BY created_at ASC LIMIT ?`
	args = append(args, orDefaultLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending updates")
	}
	defer rows.Close()

	var updates []model.PendingUpdate
	for rows.Next() {
		pu, err := scanPendingUpdate(rows)
		if err != nil {
			return nil, err
		}
		updates = append(updates, *pu)
	}
	return updates, eris.Wrap(rows.Err(), "sqlite: list pending updates iterate")
}

func (s *SQLiteStore) UpdatePendingUpdateStatus(ctx context.Context, id string, status model.PendingStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_updates SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update pending update status %s", id)
	}
	return affectedOrNotFound(res, "pending_update", id)
}

// Dead letter queue methods

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	accountJSON, err := json.Marshal(entry.Account)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal dlq account")
	}

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue
		 (id, account, error, error_type, failed_stage, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   error = excluded.error, error_type = excluded.error_type, failed_stage = excluded.failed_stage,
		   retry_count = excluded.retry_count, next_retry_at = excluded.next_retry_at, last_failed_at = excluded.last_failed_at`,
		entry.ID, string(accountJSON), entry.Error, entry.ErrorType,
		entry.FailedStage, entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt.UTC(), entry.CreatedAt.UTC(), entry.LastFailedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: enqueue dlq")
}

func (s *SQLiteStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, account, error, error_type, failed_stage, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM dead_letter_queue
	          WHERE next_retry_at <= ? AND retry_count < max_retries`
	args := []any{time.Now().UTC()}

	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}

	query += ` ORDER BY next_retry_at ASC LIMIT ?`
	args = append(args, orDefaultLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: dequeue dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var accountJSON string
		if err := rows.Scan(&e.ID, &accountJSON, &e.Error, &e.ErrorType,
			&e.FailedStage, &e.RetryCount, &e.MaxRetries,
			&e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		if err := json.Unmarshal([]byte(accountJSON), &e.Account); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal dlq account")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: dequeue dlq iterate")
}

func (s *SQLiteStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = ?, error = ?, last_failed_at = ?
		 WHERE id = ?`,
		nextRetryAt.UTC(), lastErr, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment dlq retry %s", id)
	}
	return affectedOrNotFound(res, "dlq_entry", id)
}

func (s *SQLiteStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE id = ?`, id)
	return eris.Wrap(err, "sqlite: remove dlq")
}

func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count dlq")
}

func orDefaultLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

// affectedOrNotFound turns a zero-row write into ErrNotFound for the
// named entity.
func affectedOrNotFound(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

// scanRun assembles a PipelineRun from a runs row. The completed document,
// when present, is the source of truth for everything except status, which
// can still move after the document lands.
func scanRun(row scannable) (*model.PipelineRun, error) {
	var (
		id, accountJSON, optionsJSON, status string

		doc         sql.NullString
		startedAt   time.Time
		completedAt sql.NullTime
	)

	err := row.Scan(&id, &accountJSON, &optionsJSON, &status, &doc, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	r := &model.PipelineRun{}
	if doc.Valid {
		if err := json.Unmarshal([]byte(doc.String), r); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal run doc")
		}
	} else {
		if err := json.Unmarshal([]byte(accountJSON), &r.Account); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal account")
		}
		if err := json.Unmarshal([]byte(optionsJSON), &r.Options); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal options")
		}
		r.StartedAt = startedAt
	}
	r.ID = id
	r.Status = model.RunStatus(status)
	if completedAt.Valid && r.CompletedAt == nil {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return r, nil
}

func scanPendingUpdate(row scannable) (*model.PendingUpdate, error) {
	var (
		pu         model.PendingUpdate
		recordType string
		status     string

		fieldsJSON, provJSON string
	)

	err := row.Scan(&pu.ID, &pu.RunID, &pu.AccountID, &recordType,
		&fieldsJSON, &provJSON, &status, &pu.QueuedID, &pu.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "pending_update")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan pending update")
	}

	pu.RecordType = model.RecordType(recordType)
	pu.Status = model.PendingStatus(status)
	if err := json.Unmarshal([]byte(fieldsJSON), &pu.Fields); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal pending fields")
	}
	if err := json.Unmarshal([]byte(provJSON), &pu.Provenance); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal pending provenance")
	}
	return &pu, nil
}
