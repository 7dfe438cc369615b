package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/caseworks/docpipe/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses, satisfied by pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
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
CREATE TABLE IF NOT EXISTS documents (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tenant_id    TEXT NOT NULL DEFAULT '',
	case_id      TEXT NOT NULL,
	name         TEXT NOT NULL,
	source       TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	uploaded_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	document_id      TEXT NOT NULL REFERENCES documents(id),
	status           TEXT NOT NULL DEFAULT 'queued',
	current_stage    TEXT NOT NULL DEFAULT '',
	stage_statuses   JSONB NOT NULL,
	doc_type         TEXT NOT NULL DEFAULT '',
	doc_confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
	findings_count   INTEGER NOT NULL DEFAULT 0,
	actions_count    INTEGER NOT NULL DEFAULT 0,
	cancel_requested BOOLEAN NOT NULL DEFAULT false,
	error            TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS findings (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id         TEXT NOT NULL REFERENCES runs(id),
	case_id        TEXT NOT NULL,
	category_key   TEXT NOT NULL DEFAULT '',
	field_key      TEXT NOT NULL,
	label          TEXT NOT NULL DEFAULT '',
	value          TEXT NOT NULL DEFAULT '',
	source_quote   TEXT NOT NULL DEFAULT '',
	confidence     DOUBLE PRECISION NOT NULL DEFAULT 0,
	impact         TEXT NOT NULL DEFAULT 'info',
	status         TEXT NOT NULL DEFAULT 'pending',
	existing_value TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS case_fields (
	case_id    TEXT NOT NULL,
	field_key  TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (case_id, field_key)
);

CREATE TABLE IF NOT EXISTS actions (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	case_id    TEXT NOT NULL,
	trigger_id TEXT NOT NULL,
	finding_id TEXT NOT NULL DEFAULT '',
	type       TEXT NOT NULL,
	title      TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	due_date   TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_documents_case_id ON documents(case_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_document_id ON runs(document_id);
CREATE INDEX IF NOT EXISTS idx_findings_run_id ON findings(run_id);
CREATE INDEX IF NOT EXISTS idx_findings_case_id ON findings(case_id);
CREATE INDEX IF NOT EXISTS idx_findings_status ON findings(status);
CREATE INDEX IF NOT EXISTS idx_actions_run_id ON actions(run_id);
`

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

func (s *PostgresStore) CreateDocument(ctx context.Context, doc model.Document) (*model.Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	doc.UploadedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, tenant_id, case_id, name, source, content_type, uploaded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		doc.ID, doc.TenantID, doc.CaseID, doc.Name, doc.Source, doc.ContentType, doc.UploadedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert document")
	}
	return &doc, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, docID string) (*model.Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, case_id, name, source, content_type, uploaded_at
		 FROM documents WHERE id = $1`, docID)

	var d model.Document
	err := row.Scan(&d.ID, &d.TenantID, &d.CaseID, &d.Name, &d.Source, &d.ContentType, &d.UploadedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: document %s", docID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get document")
	}
	return &d, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, documentID string) (*model.PipelineRun, error) {
	run := newRun(uuid.New().String(), documentID)
	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now

	statusJSON, err := json.Marshal(run.StageStatuses)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal stage statuses")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, document_id, status, stage_statuses, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, documentID, string(run.Status), statusJSON, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

const pgRunColumns = `id, document_id, status, current_stage, stage_statuses, doc_type,
	doc_confidence, findings_count, actions_count, cancel_requested, error,
	created_at, updated_at, completed_at`

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.PipelineRun, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgRunColumns+` FROM runs WHERE id = $1`, runID)
	return scanPgRun(row, runID)
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *model.PipelineRun) error {
	statusJSON, err := json.Marshal(run.StageStatuses)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal stage statuses")
	}

	run.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, current_stage = $2, stage_statuses = $3, doc_type = $4,
		 doc_confidence = $5, findings_count = $6, actions_count = $7, error = $8,
		 updated_at = $9, completed_at = $10 WHERE id = $11`,
		string(run.Status), string(run.CurrentStage), statusJSON, run.ClassifiedDocType,
		run.ClassificationConfidence, run.FindingsCount, run.ActionsCount, run.Error,
		run.UpdatedAt, run.CompletedAt, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run: %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error) {
	query := `SELECT ` + pgRunColumns + ` FROM runs WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	if filter.DocumentID != "" {
		query += ` AND document_id = ` + arg(filter.DocumentID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + arg(limit)
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		r, err := scanPgRun(rows, "")
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) RequestCancel(ctx context.Context, runID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET cancel_requested = true, updated_at = $1
		 WHERE id = $2 AND status IN ('queued', 'running')`,
		time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: request cancel %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "cancellable run: %s", runID)
	}
	return nil
}

func (s *PostgresStore) SaveFindings(ctx context.Context, findings []model.Finding) error {
	if len(findings) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save findings")
	}
	defer tx.Rollback(ctx)

	for i := range findings {
		f := &findings[i]
		if f.ID == "" {
			f.ID = uuid.New().String()
		}
		if f.CreatedAt.IsZero() {
			f.CreatedAt = time.Now().UTC()
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO findings (id, run_id, case_id, category_key, field_key, label, value,
			 source_quote, confidence, impact, status, existing_value, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			f.ID, f.RunID, f.CaseID, f.CategoryKey, f.FieldKey, f.Label, f.Value,
			f.SourceQuote, f.Confidence, string(f.Impact), string(f.Status), f.ExistingValue, f.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert finding %s", f.Key())
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit findings")
}

const pgFindingColumns = `id, run_id, case_id, category_key, field_key, label, value,
	source_quote, confidence, impact, status, existing_value, created_at`

func (s *PostgresStore) GetFinding(ctx context.Context, findingID string) (*model.Finding, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgFindingColumns+` FROM findings WHERE id = $1`, findingID)

	var f model.Finding
	err := row.Scan(&f.ID, &f.RunID, &f.CaseID, &f.CategoryKey, &f.FieldKey, &f.Label,
		&f.Value, &f.SourceQuote, &f.Confidence, &f.Impact, &f.Status, &f.ExistingValue, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: finding %s", findingID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get finding")
	}
	return &f, nil
}

func (s *PostgresStore) ListFindings(ctx context.Context, filter FindingFilter) ([]model.Finding, error) {
	query := `SELECT ` + pgFindingColumns + ` FROM findings WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.RunID != "" {
		query += ` AND run_id = ` + arg(filter.RunID)
	}
	if filter.CaseID != "" {
		query += ` AND case_id = ` + arg(filter.CaseID)
	}
	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	query += ` ORDER BY created_at ASC, id ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += ` LIMIT ` + arg(limit)
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list findings")
	}
	defer rows.Close()

	var findings []model.Finding
	for rows.Next() {
		var f model.Finding
		err := rows.Scan(&f.ID, &f.RunID, &f.CaseID, &f.CategoryKey, &f.FieldKey, &f.Label,
			&f.Value, &f.SourceQuote, &f.Confidence, &f.Impact, &f.Status, &f.ExistingValue, &f.CreatedAt)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan finding")
		}
		findings = append(findings, f)
	}
	return findings, eris.Wrap(rows.Err(), "postgres: list findings iterate")
}

func (s *PostgresStore) ResolveFinding(ctx context.Context, findingID string, status model.FindingStatus) (*model.Finding, error) {
	current, err := s.GetFinding(ctx, findingID)
	if err != nil {
		return nil, err
	}
	if !resolvable(current.Status, status) {
		return nil, eris.Wrapf(ErrNotResolvable, "postgres: finding %s is %s, requested %s",
			findingID, current.Status, status)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE findings SET status = $1 WHERE id = $2 AND status IN ('pending', 'conflict')`,
		string(status), findingID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: resolve finding %s", findingID)
	}
	if tag.RowsAffected() == 0 {
		return nil, eris.Wrapf(ErrNotFound, "finding: %s", findingID)
	}
	current.Status = status
	return current, nil
}

func (s *PostgresStore) GetCaseFields(ctx context.Context, caseID string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT field_key, value FROM case_fields WHERE case_id = $1`, caseID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get case fields")
	}
	defer rows.Close()

	fields := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, eris.Wrap(err, "postgres: scan case field")
		}
		fields[k] = v
	}
	return fields, eris.Wrap(rows.Err(), "postgres: case fields iterate")
}

func (s *PostgresStore) SetCaseField(ctx context.Context, caseID, fieldKey, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO case_fields (case_id, field_key, value, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (case_id, field_key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		caseID, fieldKey, value, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: set case field %s", fieldKey)
}

func (s *PostgresStore) SaveActions(ctx context.Context, actions []model.Action) error {
	if len(actions) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save actions")
	}
	defer tx.Rollback(ctx)

	for i := range actions {
		a := &actions[i]
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = time.Now().UTC()
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO actions (id, run_id, case_id, trigger_id, finding_id, type, title, detail, due_date, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			a.ID, a.RunID, a.CaseID, a.TriggerID, a.FindingID, string(a.Type), a.Title, a.Detail, a.DueDate, a.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert action %s", a.Title)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit actions")
}

func (s *PostgresStore) ListActions(ctx context.Context, runID string) ([]model.Action, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, case_id, trigger_id, finding_id, type, title, detail, due_date, created_at
		 FROM actions WHERE run_id = $1 ORDER BY created_at ASC, id ASC`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list actions")
	}
	defer rows.Close()

	var actions []model.Action
	for rows.Next() {
		var a model.Action
		err := rows.Scan(&a.ID, &a.RunID, &a.CaseID, &a.TriggerID, &a.FindingID,
			&a.Type, &a.Title, &a.Detail, &a.DueDate, &a.CreatedAt)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan action")
		}
		actions = append(actions, a)
	}
	return actions, eris.Wrap(rows.Err(), "postgres: list actions iterate")
}

func scanPgRun(row pgx.Row, runID string) (*model.PipelineRun, error) {
	var r model.PipelineRun
	var statusJSON []byte

	err := row.Scan(&r.ID, &r.DocumentID, &r.Status, &r.CurrentStage, &statusJSON,
		&r.ClassifiedDocType, &r.ClassificationConfidence, &r.FindingsCount,
		&r.ActionsCount, &r.CancelRequested, &r.Error,
		&r.CreatedAt, &r.UpdatedAt, &r.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}

	if err := json.Unmarshal(statusJSON, &r.StageStatuses); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal stage statuses")
	}
	return &r, nil
}
