package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseworks/docpipe/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func seedDocument(t *testing.T, s *SQLiteStore) *model.Document {
	t.Helper()
	doc, err := s.CreateDocument(context.Background(), model.Document{
		CaseID:      "case-1",
		Name:        "complaint.pdf",
		Source:      "file:///tmp/complaint.pdf",
		ContentType: "application/pdf",
	})
	require.NoError(t, err)
	return doc
}

func TestSQLite_DocumentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	doc := seedDocument(t, s)
	require.NotEmpty(t, doc.ID)

	got, err := s.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "case-1", got.CaseID)
	assert.Equal(t, "complaint.pdf", got.Name)
	assert.Equal(t, "application/pdf", got.ContentType)

	_, err = s.GetDocument(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_CreateRunInitializesAllStagesQueued(t *testing.T) {
	s := newTestStore(t)
	doc := seedDocument(t, s)

	run, err := s.CreateRun(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusQueued, run.Status)

	got, err := s.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, got.StageStatuses, 6)
	for _, stage := range model.Stages() {
		require.NotNil(t, got.StageStatuses[stage], "stage %s", stage)
		assert.Equal(t, model.StageStatusQueued, got.StageStatuses[stage].Status)
	}
	assert.False(t, got.CancelRequested)
}

func TestSQLite_UpdateRunPersistsProgress(t *testing.T) {
	s := newTestStore(t)
	doc := seedDocument(t, s)
	run, err := s.CreateRun(context.Background(), doc.ID)
	require.NoError(t, err)

	started := time.Now().UTC()
	run.Status = model.RunStatusRunning
	run.CurrentStage = model.StageClassify
	run.StageStatuses[model.StageIntake].Status = model.StageStatusCompleted
	run.StageStatuses[model.StageClassify].Status = model.StageStatusRunning
	run.StageStatuses[model.StageClassify].StartedAt = &started
	run.ClassifiedDocType = "contract"
	run.ClassificationConfidence = 0.91
	run.FindingsCount = 4
	require.NoError(t, s.UpdateRun(context.Background(), run))

	got, err := s.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, got.Status)
	assert.Equal(t, model.StageClassify, got.CurrentStage)
	assert.Equal(t, model.StageStatusCompleted, got.StageStatuses[model.StageIntake].Status)
	assert.Equal(t, "contract", got.ClassifiedDocType)
	assert.InDelta(t, 0.91, got.ClassificationConfidence, 0.001)
	assert.Equal(t, 4, got.FindingsCount)
}

func TestSQLite_UpdateRunDoesNotClobberCancelRequest(t *testing.T) {
	s := newTestStore(t)
	doc := seedDocument(t, s)
	run, err := s.CreateRun(context.Background(), doc.ID)
	require.NoError(t, err)

	require.NoError(t, s.RequestCancel(context.Background(), run.ID))

	// Orchestrator writes its stale view of the run.
	run.Status = model.RunStatusRunning
	require.NoError(t, s.UpdateRun(context.Background(), run))

	got, err := s.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.True(t, got.CancelRequested)
}

func TestSQLite_RequestCancelOnlyForActiveRuns(t *testing.T) {
	s := newTestStore(t)
	doc := seedDocument(t, s)
	run, err := s.CreateRun(context.Background(), doc.ID)
	require.NoError(t, err)

	run.Status = model.RunStatusCompleted
	require.NoError(t, s.UpdateRun(context.Background(), run))

	err = s.RequestCancel(context.Background(), run.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_ListRunsFilters(t *testing.T) {
	s := newTestStore(t)
	doc := seedDocument(t, s)

	r1, err := s.CreateRun(context.Background(), doc.ID)
	require.NoError(t, err)
	_, err = s.CreateRun(context.Background(), doc.ID)
	require.NoError(t, err)

	r1.Status = model.RunStatusCompleted
	require.NoError(t, s.UpdateRun(context.Background(), r1))

	queued, err := s.ListRuns(context.Background(), RunFilter{Status: model.RunStatusQueued})
	require.NoError(t, err)
	require.Len(t, queued, 1)

	all, err := s.ListRuns(context.Background(), RunFilter{DocumentID: doc.ID})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLite_FindingsRoundTripAndResolve(t *testing.T) {
	s := newTestStore(t)
	doc := seedDocument(t, s)
	run, err := s.CreateRun(context.Background(), doc.ID)
	require.NoError(t, err)

	findings := []model.Finding{
		{RunID: run.ID, CaseID: "case-1", CategoryKey: "amounts", FieldKey: "settlement",
			Value: "137500", Confidence: 0.9, Impact: model.ImpactHigh, Status: model.FindingPending},
		{RunID: run.ID, CaseID: "case-1", FieldKey: "opposing_counsel",
			Value: "Smith LLP", ExistingValue: "Jones LLP", Confidence: 0.7,
			Impact: model.ImpactMedium, Status: model.FindingConflict},
	}
	require.NoError(t, s.SaveFindings(context.Background(), findings))

	listed, err := s.ListFindings(context.Background(), FindingFilter{RunID: run.ID})
	require.NoError(t, err)
	require.Len(t, listed, 2)

	pending, err := s.ListFindings(context.Background(), FindingFilter{
		CaseID: "case-1", Status: model.FindingPending,
	})
	require.NoError(t, err)
	require.Len(t, pending, 1)

	resolved, err := s.ResolveFinding(context.Background(), pending[0].ID, model.FindingAccepted)
	require.NoError(t, err)
	assert.Equal(t, model.FindingAccepted, resolved.Status)

	// Second resolution of the same finding is rejected.
	_, err = s.ResolveFinding(context.Background(), pending[0].ID, model.FindingRejected)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotResolvable))
}

func TestSQLite_ResolveFindingRejectsInvalidTarget(t *testing.T) {
	s := newTestStore(t)
	doc := seedDocument(t, s)
	run, err := s.CreateRun(context.Background(), doc.ID)
	require.NoError(t, err)

	findings := []model.Finding{
		{RunID: run.ID, CaseID: "case-1", FieldKey: "k", Value: "v",
			Confidence: 0.6, Impact: model.ImpactLow, Status: model.FindingPending},
	}
	require.NoError(t, s.SaveFindings(context.Background(), findings))

	_, err = s.ResolveFinding(context.Background(), findings[0].ID, model.FindingAutoApplied)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotResolvable))
}

func TestSQLite_CaseFieldsUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetCaseField(ctx, "case-1", "settlement", "100000"))
	require.NoError(t, s.SetCaseField(ctx, "case-1", "settlement", "137500"))
	require.NoError(t, s.SetCaseField(ctx, "case-1", "court", "SDNY"))
	require.NoError(t, s.SetCaseField(ctx, "case-2", "court", "EDNY"))

	fields, err := s.GetCaseFields(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"settlement": "137500", "court": "SDNY"}, fields)
}

func TestSQLite_ActionsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	doc := seedDocument(t, s)
	run, err := s.CreateRun(context.Background(), doc.ID)
	require.NoError(t, err)

	due := time.Now().UTC().AddDate(0, 0, 7).Truncate(time.Second)
	actions := []model.Action{
		{RunID: run.ID, CaseID: "case-1", TriggerID: "high-settlement",
			Type: model.ActionAlert, Title: "Settlement above $100k"},
		{RunID: run.ID, CaseID: "case-1", TriggerID: "response-due", FindingID: "f-1",
			Type: model.ActionDeadline, Title: "Response due", DueDate: &due},
	}
	require.NoError(t, s.SaveActions(context.Background(), actions))

	listed, err := s.ListActions(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, model.ActionAlert, listed[0].Type)
	require.NotNil(t, listed[1].DueDate)
	assert.Equal(t, due.Unix(), listed[1].DueDate.Unix())
}
