package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector-cli/internal/db"
	"github.com/sells-group/prospector-cli/internal/model"
	"github.com/sells-group/prospector-cli/internal/resilience"
)

// PostgresStore is the Store for multi-operator installs. It talks to
// the pool through the db.Pool interface so tests can swap in pgxmock.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig sizes the connection pool. Zero fields keep the defaults.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

func (pc *PoolConfig) maxConns() int32 {
	if pc != nil && pc.MaxConns > 0 {
		return pc.MaxConns
	}
	return 10
}

func (pc *PoolConfig) minConns() int32 {
	if pc != nil && pc.MinConns > 0 {
		return pc.MinConns
	}
	return 2
}

// NewPostgres connects a pool and verifies it with a ping. Statement
// preparation is left to pgx's per-connection cache so a fresh database
// can connect before Migrate has created the tables.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = poolCfg.maxConns()
	pgxCfg.MinConns = poolCfg.minConns()
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	account      JSONB NOT NULL,
	options      JSONB NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	doc          JSONB,
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS run_artifacts (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	stage      TEXT NOT NULL,
	status     TEXT NOT NULL,
	result     JSONB NOT NULL,
	body       JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, stage)
);

CREATE TABLE IF NOT EXISTS pending_updates (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	account_id  TEXT NOT NULL,
	record_type TEXT NOT NULL,
	fields      JSONB NOT NULL,
	provenance  JSONB,
	status      TEXT NOT NULL DEFAULT 'queued',
	queued_id   TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	account        JSONB NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	failed_stage   TEXT,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_account_id ON runs ((account->>'id'));
CREATE INDEX IF NOT EXISTS idx_run_artifacts_run_id ON run_artifacts(run_id);
CREATE INDEX IF NOT EXISTS idx_pending_updates_status ON pending_updates(status);
CREATE INDEX IF NOT EXISTS idx_pending_updates_run_id ON pending_updates(run_id);
CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, account model.AccountRef, opts model.RunOptions) (*model.PipelineRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	accountJSON, err := json.Marshal(account)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal account")
	}
	optionsJSON, err := json.Marshal(opts)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal options")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, account, options, status, started_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, accountJSON, optionsJSON, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.PipelineRun{
		ID:        id,
		Account:   account,
		Options:   opts,
		Status:    model.RunStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, run *model.PipelineRun) error {
	doc, err := json.Marshal(run)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run")
	}

	completed := time.Now().UTC()
	if run.CompletedAt != nil {
		completed = run.CompletedAt.UTC()
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET doc = $1, status = $2, completed_at = $3, updated_at = $4 WHERE id = $5`,
		doc, string(run.Status), completed, time.Now().UTC(), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.PipelineRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, account, options, status, doc, started_at, completed_at FROM runs WHERE id = $1`,
		runID,
	)
	r, err := scanPgRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error) {
	query := `SELECT id, account, options, status, doc, started_at, completed_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.AccountID != "" {
		query += fmt.Sprintf(` AND account->>'id' = $%d`, argIdx)
		args = append(args, filter.AccountID)
		argIdx++
	}
	if !filter.StartedAfter.IsZero() {
		query += fmt.Sprintf(` AND started_at > $%d`, argIdx)
		args = append(args, filter.StartedAfter.UTC())
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, orDefaultLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) SaveStageArtifact(ctx context.Context, runID string, result model.StageResult, artifact []byte) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal stage result")
	}

	var body []byte
	if len(artifact) > 0 {
		body = artifact
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO run_artifacts (run_id, stage, status, result, body, created_at) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (run_id, stage) DO UPDATE SET
		   status = $3, result = $4, body = $5, created_at = $6`,
		runID, string(result.Stage), string(result.Status), resultJSON, body, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save %s artifact for run %s", result.Stage, runID)
}

func (s *PostgresStore) GetArtifact(ctx context.Context, runID string, stage model.Stage) ([]byte, error) {
	var body []byte
	err := s.pool.QueryRow(ctx,
		`SELECT body FROM run_artifacts WHERE run_id = $1 AND stage = $2`,
		runID, string(stage),
	).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get %s artifact for run %s", stage, runID)
	}
	return body, nil
}

func (s *PostgresStore) ListStageResults(ctx context.Context, runID string) ([]model.StageResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT result FROM run_artifacts WHERE run_id = $1 ORDER BY created_at ASC`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list stage results for run %s", runID)
	}
	defer rows.Close()

	var results []model.StageResult
	for rows.Next() {
		var resultJSON []byte
		if err := rows.Scan(&resultJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stage result")
		}
		var sr model.StageResult
		if err := json.Unmarshal(resultJSON, &sr); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal stage result")
		}
		results = append(results, sr)
	}
	return results, eris.Wrap(rows.Err(), "postgres: list stage results iterate")
}

func (s *PostgresStore) SavePendingUpdate(ctx context.Context, pu *model.PendingUpdate) error {
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
		return eris.Wrap(err, "postgres: marshal pending fields")
	}
	provJSON, err := json.Marshal(pu.Provenance)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal pending provenance")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO pending_updates (id, run_id, account_id, record_type, fields, provenance, status, queued_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   fields = $5, provenance = $6, status = $7, queued_id = $8, updated_at = $10`,
		pu.ID, pu.RunID, pu.AccountID, string(pu.RecordType), fieldsJSON, provJSON,
		string(pu.Status), pu.QueuedID, pu.CreatedAt, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: save pending update")
}

func (s *PostgresStore) ListPendingUpdates(ctx context.Context, filter PendingFilter) ([]model.PendingUpdate, error) {
	query := `SELECT id, run_id, account_id, record_type, fields, provenance, status, queued_id, created_at FROM pending_updates WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.RunID != "" {
		query += fmt.Sprintf(` AND run_id = $%d`, argIdx)
		args = append(args, filter.RunID)
		argIdx++
	}
	if filter.AccountID != "" {
		query += fmt.Sprintf(` AND account_id = $%d`, argIdx)
		args = append(args, filter.AccountID)
		argIdx++
	}
	query += ` ORDER BY created_at ASC`

	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, orDefaultLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending updates")
	}
	defer rows.Close()

	var updates []model.PendingUpdate
	for rows.Next() {
		var (
			pu                   model.PendingUpdate
			recordType, status   string
			fieldsJSON, provJSON []byte
			queuedID             *string
		)
		if err := rows.Scan(&pu.ID, &pu.RunID, &pu.AccountID, &recordType,
			&fieldsJSON, &provJSON, &status, &queuedID, &pu.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan pending update")
		}
		pu.RecordType = model.RecordType(recordType)
		pu.Status = model.PendingStatus(status)
		if queuedID != nil {
			pu.QueuedID = *queuedID
		}
		if err := json.Unmarshal(fieldsJSON, &pu.Fields); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal pending fields")
		}
		if provJSON != nil {
			if err := json.Unmarshal(provJSON, &pu.Provenance); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal pending provenance")
			}
		}
		updates = append(updates, pu)
	}
	return updates, eris.Wrap(rows.Err(), "postgres: list pending updates iterate")
}

func (s *PostgresStore) UpdatePendingUpdateStatus(ctx context.Context, id string, status model.PendingStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pending_updates SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update pending update status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "pending_update %s", id)
	}
	return nil
}

// Dead letter queue methods

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	accountJSON, err := json.Marshal(entry.Account)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal dlq account")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue
		 (id, account, error, error_type, failed_stage, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   error = $3, error_type = $4, failed_stage = $5, retry_count = $6,
		   next_retry_at = $8, last_failed_at = $10`,
		entry.ID, accountJSON, entry.Error, entry.ErrorType,
		entry.FailedStage, entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "postgres: enqueue dlq")
}

func (s *PostgresStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	// Eligibility lives in the WHERE clause: due for retry and not yet
	// exhausted. Everything else is optional narrowing.
	query := `SELECT id, account, error, error_type, failed_stage, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM dead_letter_queue
	          WHERE next_retry_at <= now() AND retry_count < max_retries`
	args := []any{}
	argIdx := 1
	if filter.ErrorType != "" {
		query += fmt.Sprintf(` AND error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}

	query += fmt.Sprintf(` ORDER BY next_retry_at ASC LIMIT $%d`, argIdx)
	args = append(args, orDefaultLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: dequeue dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		e, err := scanPgDLQEntry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: dequeue dlq iterate")
}

func (s *PostgresStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = $1, error = $2, last_failed_at = now()
		 WHERE id = $3`,
		nextRetryAt, lastErr, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment dlq retry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "dlq_entry %s", id)
	}
	return nil
}

func (s *PostgresStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE id = $1`, id)
	return eris.Wrap(err, "postgres: remove dlq")
}

func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dlq")
}

// scanPgDLQEntry reads one dead_letter_queue row. failed_stage is nullable
// in the schema, so it scans through a pointer.
func scanPgDLQEntry(row scannable) (resilience.DLQEntry, error) {
	var (
		e           resilience.DLQEntry
		accountJSON []byte
		failedStage *string
	)
	if err := row.Scan(&e.ID, &accountJSON, &e.Error, &e.ErrorType,
		&failedStage, &e.RetryCount, &e.MaxRetries,
		&e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
		return e, err
	}
	if failedStage != nil {
		e.FailedStage = *failedStage
	}
	if err := json.Unmarshal(accountJSON, &e.Account); err != nil {
		return e, eris.Wrap(err, "unmarshal dlq account")
	}
	return e, nil
}

// scanPgRun assembles a PipelineRun from a runs row, mirroring the sqlite
// scanner. Callers wrap the returned error; pgx.ErrNoRows passes through.
func scanPgRun(row scannable) (*model.PipelineRun, error) {
	var (
		id, status               string
		accountJSON, optionsJSON []byte
		doc                      []byte
		startedAt                time.Time
		completedAt              *time.Time
	)

	if err := row.Scan(&id, &accountJSON, &optionsJSON, &status, &doc, &startedAt, &completedAt); err != nil {
		return nil, err
	}

	r := &model.PipelineRun{}
	if doc != nil {
		if err := json.Unmarshal(doc, r); err != nil {
			return nil, eris.Wrap(err, "unmarshal run doc")
		}
	} else {
		if err := json.Unmarshal(accountJSON, &r.Account); err != nil {
			return nil, eris.Wrap(err, "unmarshal account")
		}
		if err := json.Unmarshal(optionsJSON, &r.Options); err != nil {
			return nil, eris.Wrap(err, "unmarshal options")
		}
		r.StartedAt = startedAt
	}
	r.ID = id
	r.Status = model.RunStatus(status)
	if completedAt != nil && r.CompletedAt == nil {
		r.CompletedAt = completedAt
	}
	return r, nil
}
