package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasfm/be-am-workflows/internal/apperr"
	"github.com/atlasfm/be-am-workflows/internal/client"
	"github.com/atlasfm/be-am-workflows/internal/repository"
	"github.com/atlasfm/be-am-workflows/internal/service"
)

// stubStore holds a single one-step workflow, enough to drive every endpoint.
type stubStore struct {
	wf   *repository.Workflow
	step *repository.WorkflowStep
}

func newStubStore() *stubStore {
	return &stubStore{
		wf: &repository.Workflow{
			ID:              "wf-1",
			EntityID:        "ent-1",
			AssetID:         "asset-1",
			Kind:            repository.KindMaintenance,
			PlannedDate:     time.Now().Add(24 * time.Hour),
			Status:          repository.WorkflowInitiated,
			TotalSteps:      1,
			CurrentSequence: 1,
			ScheduledBy:     "scheduler",
		},
		step: &repository.WorkflowStep{
			ID:           "wf-1-s1",
			WorkflowID:   "wf-1",
			EntityID:     "ent-1",
			Sequence:     1,
			RequiredRole: "Supervisor",
			Status:       repository.StepActionPending,
		},
	}
}

func (s *stubStore) GetByID(ctx context.Context, id string) (*repository.Workflow, error) {
	if id != s.wf.ID {
		return nil, apperr.NotFound("workflow", id)
	}
	return s.wf, nil
}

func (s *stubStore) GetSteps(ctx context.Context, workflowID string) ([]*repository.WorkflowStep, error) {
	return []*repository.WorkflowStep{s.step}, nil
}

func (s *stubStore) Transition(ctx context.Context, workflowID string, decide repository.TransitionFunc) (*repository.TransitionResult, error) {
	if workflowID != s.wf.ID {
		return nil, apperr.NotFound("workflow", workflowID)
	}
	var pending *repository.WorkflowStep
	if s.step.Status == repository.StepActionPending {
		pending = s.step
	}
	t, err := decide(s.wf, pending)
	if err != nil {
		return nil, err
	}
	res := &repository.TransitionResult{Workflow: s.wf, Step: pending}
	if t == nil {
		return res, nil
	}
	now := time.Now()
	if t.StepStatus != "" {
		pending.Status = t.StepStatus
		pending.ActedBy = &t.ActedBy
		pending.ActedAt = &now
	}
	if t.AppendNote != "" {
		note := t.AppendNote
		pending.Notes = &note
	}
	if t.ActivateNext {
		s.wf.Status = repository.WorkflowCompleted
		s.wf.CompletedAt = &now
		res.Completed = true
	}
	if t.CancelWorkflow {
		s.wf.Status = repository.WorkflowCancelled
		res.Cancelled = true
	}
	return res, nil
}

func (s *stubStore) ClearAssignedUsers(ctx context.Context, workflowID string) (int64, error) {
	if s.step.AssignedUserID == nil {
		return 0, nil
	}
	s.step.AssignedUserID = nil
	return 1, nil
}

func (s *stubStore) PendingForUser(ctx context.Context, entityID, userID string, roles []string) ([]*repository.WorkflowStep, error) {
	for _, r := range roles {
		if s.step.Status == repository.StepActionPending && r == s.step.RequiredRole {
			return []*repository.WorkflowStep{s.step}, nil
		}
	}
	return nil, nil
}

func (s *stubStore) Create(ctx context.Context, wf *repository.Workflow, steps []*repository.WorkflowStep) error {
	wf.ID = "wf-new"
	for _, st := range steps {
		st.WorkflowID = wf.ID
	}
	return nil
}

func (s *stubStore) ListDueBefore(ctx context.Context, cutoff time.Time) ([]*repository.Workflow, error) {
	return nil, nil
}

type stubRoles struct{ byUser map[string][]string }

func (s *stubRoles) RolesForUser(ctx context.Context, entityID, userID string) ([]string, error) {
	return s.byUser[userID], nil
}

func (s *stubRoles) UsersWithRole(ctx context.Context, entityID, role string) ([]string, error) {
	return nil, nil
}

type stubAudit struct{}

func (stubAudit) Append(ctx context.Context, entry *repository.AuditEntry) error { return nil }
func (stubAudit) ListByWorkflowID(ctx context.Context, workflowID string) ([]*repository.AuditEntry, error) {
	return nil, nil
}

type stubEvents struct{}

func (stubEvents) PublishWorkflowEvent(ctx context.Context, eventKind, workflowID, entityID, actorID, role string, recipients []string, payload map[string]interface{}) {
}

type stubTemplates struct{}

func (stubTemplates) FindForCategory(ctx context.Context, entityID, assetCategory string) (*repository.StepTemplate, error) {
	return nil, nil
}

type stubAssets struct{}

func (stubAssets) GetAsset(ctx context.Context, assetID, entityID string) (*client.Asset, bool, error) {
	if assetID == "asset-1" {
		return &client.Asset{ID: assetID, Category: "hvac"}, true, nil
	}
	return nil, false, nil
}

func newTestHandler(store *stubStore) *HTTPHandler {
	log := zerolog.Nop()
	roles := &stubRoles{byUser: map[string][]string{"u1": {"Supervisor"}}}
	approvals := service.NewApprovalService(store, roles, stubAudit{}, stubEvents{}, log)
	scheduling := service.NewSchedulingService(stubTemplates{}, store, stubAssets{}, roles, stubAudit{}, stubEvents{}, log)
	return NewHTTPHandler(approvals, scheduling, log)
}

func doJSON(t *testing.T, fn http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	fn(rec, req)
	return rec
}

func TestApproveStepOK(t *testing.T) {
	h := newTestHandler(newStubStore())

	rec := doJSON(t, h.ApproveStep, http.MethodPost, "/api/v1/workflows/approve",
		`{"workflow_id":"wf-1","acting_user_id":"u1"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"completed":true`)
}

func TestApproveStepForbidden(t *testing.T) {
	h := newTestHandler(newStubStore())

	rec := doJSON(t, h.ApproveStep, http.MethodPost, "/api/v1/workflows/approve",
		`{"workflow_id":"wf-1","acting_user_id":"intruder"}`)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), string(apperr.CodeForbidden))
}

func TestApproveStepNoPendingConflict(t *testing.T) {
	store := newStubStore()
	store.step.Status = repository.StepApproved
	store.wf.Status = repository.WorkflowCompleted
	h := newTestHandler(store)

	rec := doJSON(t, h.ApproveStep, http.MethodPost, "/api/v1/workflows/approve",
		`{"workflow_id":"wf-1","acting_user_id":"u1"}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestApproveStepBadBody(t *testing.T) {
	h := newTestHandler(newStubStore())

	rec := doJSON(t, h.ApproveStep, http.MethodPost, "/api/v1/workflows/approve", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetWorkflowNotFound(t *testing.T) {
	h := newTestHandler(newStubStore())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/workflows/get?id=nope", nil)
	rec := httptest.NewRecorder()
	h.GetWorkflow(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetWorkflowMissingID(t *testing.T) {
	h := newTestHandler(newStubStore())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/workflows/get", nil)
	rec := httptest.NewRecorder()
	h.GetWorkflow(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRejectStepOK(t *testing.T) {
	h := newTestHandler(newStubStore())

	rec := doJSON(t, h.RejectStep, http.MethodPost, "/api/v1/workflows/reject",
		`{"workflow_id":"wf-1","acting_user_id":"u1","reason":"asset retired"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cancelled":true`)
}

func TestRejectStepMissingReason(t *testing.T) {
	h := newTestHandler(newStubStore())

	rec := doJSON(t, h.RejectStep, http.MethodPost, "/api/v1/workflows/reject",
		`{"workflow_id":"wf-1","acting_user_id":"u1"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduleWorkflowCreated(t *testing.T) {
	h := newTestHandler(newStubStore())

	rec := doJSON(t, h.ScheduleWorkflow, http.MethodPost, "/api/v1/workflows",
		`{"entity_id":"ent-1","asset_id":"asset-1","kind":"maintenance","planned_date":"2026-09-15T08:00:00Z","scheduled_by":"scheduler"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"wf-new"`)
}

func TestScheduleWorkflowUnknownAsset(t *testing.T) {
	h := newTestHandler(newStubStore())

	rec := doJSON(t, h.ScheduleWorkflow, http.MethodPost, "/api/v1/workflows",
		`{"entity_id":"ent-1","asset_id":"ghost","kind":"maintenance","planned_date":"2026-09-15T08:00:00Z","scheduled_by":"scheduler"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPendingApprovals(t *testing.T) {
	h := newTestHandler(newStubStore())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/approvals/pending?entity_id=ent-1&user_id=u1", nil)
	rec := httptest.NewRecorder()
	h.PendingApprovals(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"wf-1-s1"`)
}

func TestMigrateWorkflow(t *testing.T) {
	store := newStubStore()
	assigned := "legacy-user"
	store.step.AssignedUserID = &assigned
	h := newTestHandler(store)

	rec := doJSON(t, h.MigrateWorkflow, http.MethodPost, "/api/v1/workflows/migrate",
		`{"workflow_id":"wf-1","performed_by":"admin"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, store.step.AssignedUserID)
}
