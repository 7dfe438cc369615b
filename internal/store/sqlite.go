package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/caseworks/docpipe/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id           TEXT PRIMARY KEY,
	tenant_id    TEXT NOT NULL DEFAULT '',
	case_id      TEXT NOT NULL,
	name         TEXT NOT NULL,
	source       TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	uploaded_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS runs (
	id               TEXT PRIMARY KEY,
	document_id      TEXT NOT NULL REFERENCES documents(id),
	status           TEXT NOT NULL DEFAULT 'queued',
	current_stage    TEXT NOT NULL DEFAULT '',
	stage_statuses   TEXT NOT NULL,
	doc_type         TEXT NOT NULL DEFAULT '',
	doc_confidence   REAL NOT NULL DEFAULT 0,
	findings_count   INTEGER NOT NULL DEFAULT 0,
	actions_count    INTEGER NOT NULL DEFAULT 0,
	cancel_requested INTEGER NOT NULL DEFAULT 0,
	error            TEXT NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at     DATETIME
);

CREATE TABLE IF NOT EXISTS findings (
	id             TEXT PRIMARY KEY,
	run_id         TEXT NOT NULL REFERENCES runs(id),
	case_id        TEXT NOT NULL,
	category_key   TEXT NOT NULL DEFAULT '',
	field_key      TEXT NOT NULL,
	label          TEXT NOT NULL DEFAULT '',
	value          TEXT NOT NULL DEFAULT '',
	source_quote   TEXT NOT NULL DEFAULT '',
	confidence     REAL NOT NULL DEFAULT 0,
	impact         TEXT NOT NULL DEFAULT 'info',
	status         TEXT NOT NULL DEFAULT 'pending',
	existing_value TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS case_fields (
	case_id    TEXT NOT NULL,
	field_key  TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (case_id, field_key)
);

CREATE TABLE IF NOT EXISTS actions (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	case_id    TEXT NOT NULL,
	trigger_id TEXT NOT NULL,
	finding_id TEXT NOT NULL DEFAULT '',
	type       TEXT NOT NULL,
	title      TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	due_date   DATETIME,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_documents_case_id ON documents(case_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_document_id ON runs(document_id);
CREATE INDEX IF NOT EXISTS idx_findings_run_id ON findings(run_id);
CREATE INDEX IF NOT EXISTS idx_findings_case_id ON findings(case_id);
CREATE INDEX IF NOT EXISTS idx_findings_status ON findings(status);
CREATE INDEX IF NOT EXISTS idx_actions_run_id ON actions(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateDocument(ctx context.Context, doc model.Document) (*model.Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	doc.UploadedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, tenant_id, case_id, name, source, content_type, uploaded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.TenantID, doc.CaseID, doc.Name, doc.Source, doc.ContentType, doc.UploadedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert document")
	}
	return &doc, nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, docID string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, case_id, name, source, content_type, uploaded_at
		 FROM documents WHERE id = ?`, docID)

	var d model.Document
	err := row.Scan(&d.ID, &d.TenantID, &d.CaseID, &d.Name, &d.Source, &d.ContentType, &d.UploadedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: document %s", docID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get document")
	}
	return &d, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, documentID string) (*model.PipelineRun, error) {
	run := newRun(uuid.New().String(), documentID)
	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now

	statusJSON, err := json.Marshal(run.StageStatuses)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal stage statuses")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, document_id, status, stage_statuses, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, documentID, string(run.Status), string(statusJSON), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return run, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.PipelineRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	return scanRun(row, runID)
}

// UpdateRun persists the orchestrator's view of a run. cancel_requested is
// deliberately excluded so a concurrent cancel request is never clobbered.
func (s *SQLiteStore) UpdateRun(ctx context.Context, run *model.PipelineRun) error {
	statusJSON, err := json.Marshal(run.StageStatuses)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal stage statuses")
	}

	run.UpdatedAt = time.Now().UTC()
	var completedAt any
	if run.CompletedAt != nil {
		completedAt = *run.CompletedAt
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, current_stage = ?, stage_statuses = ?, doc_type = ?,
		 doc_confidence = ?, findings_count = ?, actions_count = ?, error = ?,
		 updated_at = ?, completed_at = ? WHERE id = ?`,
		string(run.Status), string(run.CurrentStage), string(statusJSON), run.ClassifiedDocType,
		run.ClassificationConfidence, run.FindingsCount, run.ActionsCount, run.Error,
		run.UpdatedAt, completedAt, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run %s", run.ID)
	}
	return checkRowsAffected(res, "run", run.ID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.DocumentID != "" {
		query += ` AND document_id = ?`
		args = append(args, filter.DocumentID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
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
		r, err := scanRun(rows, "")
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) RequestCancel(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET cancel_requested = 1, updated_at = ?
		 WHERE id = ? AND status IN ('queued', 'running')`,
		time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: request cancel %s", runID)
	}
	return checkRowsAffected(res, "cancellable run", runID)
}

func (s *SQLiteStore) SaveFindings(ctx context.Context, findings []model.Finding) error {
	if len(findings) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save findings")
	}
	defer tx.Rollback()

	for i := range findings {
		f := &findings[i]
		if f.ID == "" {
			f.ID = uuid.New().String()
		}
		if f.CreatedAt.IsZero() {
			f.CreatedAt = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO findings (id, run_id, case_id, category_key, field_key, label, value,
			 source_quote, confidence, impact, status, existing_value, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ID, f.RunID, f.CaseID, f.CategoryKey, f.FieldKey, f.Label, f.Value,
			f.SourceQuote, f.Confidence, string(f.Impact), string(f.Status), f.ExistingValue, f.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert finding %s", f.Key())
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit findings")
}

func (s *SQLiteStore) GetFinding(ctx context.Context, findingID string) (*model.Finding, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+findingColumns+` FROM findings WHERE id = ?`, findingID)
	f, err := scanFinding(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: finding %s", findingID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get finding")
	}
	return f, nil
}

func (s *SQLiteStore) ListFindings(ctx context.Context, filter FindingFilter) ([]model.Finding, error) {
	query := `SELECT ` + findingColumns + ` FROM findings WHERE 1=1`
	var args []any

	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.CaseID != "" {
		query += ` AND case_id = ?`
		args = append(args, filter.CaseID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at ASC, id ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list findings")
	}
	defer rows.Close()

	var findings []model.Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan finding")
		}
		findings = append(findings, *f)
	}
	return findings, eris.Wrap(rows.Err(), "sqlite: list findings iterate")
}

func (s *SQLiteStore) ResolveFinding(ctx context.Context, findingID string, status model.FindingStatus) (*model.Finding, error) {
	current, err := s.GetFinding(ctx, findingID)
	if err != nil {
		return nil, err
	}
	if !resolvable(current.Status, status) {
		return nil, eris.Wrapf(ErrNotResolvable, "sqlite: finding %s is %s, requested %s",
			findingID, current.Status, status)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE findings SET status = ? WHERE id = ? AND status IN ('pending', 'conflict')`,
		string(status), findingID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: resolve finding %s", findingID)
	}
	if err := checkRowsAffected(res, "finding", findingID); err != nil {
		return nil, err
	}
	current.Status = status
	return current, nil
}

func (s *SQLiteStore) GetCaseFields(ctx context.Context, caseID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT field_key, value FROM case_fields WHERE case_id = ?`, caseID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get case fields")
	}
	defer rows.Close()

	fields := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan case field")
		}
		fields[k] = v
	}
	return fields, eris.Wrap(rows.Err(), "sqlite: case fields iterate")
}

func (s *SQLiteStore) SetCaseField(ctx context.Context, caseID, fieldKey, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO case_fields (case_id, field_key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (case_id, field_key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		caseID, fieldKey, value, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: set case field %s", fieldKey)
}

func (s *SQLiteStore) SaveActions(ctx context.Context, actions []model.Action) error {
	if len(actions) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save actions")
	}
	defer tx.Rollback()

	for i := range actions {
		a := &actions[i]
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = time.Now().UTC()
		}
		var due any
		if a.DueDate != nil {
			due = *a.DueDate
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO actions (id, run_id, case_id, trigger_id, finding_id, type, title, detail, due_date, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.RunID, a.CaseID, a.TriggerID, a.FindingID, string(a.Type), a.Title, a.Detail, due, a.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert action %s", a.Title)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit actions")
}

func (s *SQLiteStore) ListActions(ctx context.Context, runID string) ([]model.Action, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, case_id, trigger_id, finding_id, type, title, detail, due_date, created_at
		 FROM actions WHERE run_id = ? ORDER BY created_at ASC, id ASC`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list actions")
	}
	defer rows.Close()

	var actions []model.Action
	for rows.Next() {
		var a model.Action
		var due sql.NullTime
		err := rows.Scan(&a.ID, &a.RunID, &a.CaseID, &a.TriggerID, &a.FindingID,
			&a.Type, &a.Title, &a.Detail, &due, &a.CreatedAt)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan action")
		}
		if due.Valid {
			t := due.Time
			a.DueDate = &t
		}
		actions = append(actions, a)
	}
	return actions, eris.Wrap(rows.Err(), "sqlite: list actions iterate")
}

// helpers

const runColumns = `id, document_id, status, current_stage, stage_statuses, doc_type,
	doc_confidence, findings_count, actions_count, cancel_requested, error,
	created_at, updated_at, completed_at`

const findingColumns = `id, run_id, case_id, category_key, field_key, label, value,
	source_quote, confidence, impact, status, existing_value, created_at`

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable, runID string) (*model.PipelineRun, error) {
	var r model.PipelineRun
	var statusJSON string
	var completedAt sql.NullTime

	err := row.Scan(&r.ID, &r.DocumentID, &r.Status, &r.CurrentStage, &statusJSON,
		&r.ClassifiedDocType, &r.ClassificationConfidence, &r.FindingsCount,
		&r.ActionsCount, &r.CancelRequested, &r.Error,
		&r.CreatedAt, &r.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if err := json.Unmarshal([]byte(statusJSON), &r.StageStatuses); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal stage statuses")
	}
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return &r, nil
}

func scanFinding(row scannable) (*model.Finding, error) {
	var f model.Finding
	err := row.Scan(&f.ID, &f.RunID, &f.CaseID, &f.CategoryKey, &f.FieldKey, &f.Label,
		&f.Value, &f.SourceQuote, &f.Confidence, &f.Impact, &f.Status, &f.ExistingValue, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s: %s", entity, id)
	}
	return nil
}
