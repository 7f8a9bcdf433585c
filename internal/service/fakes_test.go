package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/atlasfm/be-am-workflows/internal/apperr"
	"github.com/atlasfm/be-am-workflows/internal/client"
	"github.com/atlasfm/be-am-workflows/internal/repository"
)

// fakeStore is an in-memory WorkflowStore / SchedulingStore.
type fakeStore struct {
	workflows map[string]*repository.Workflow
	steps     map[string][]*repository.WorkflowStep
	nextID    int

	// transitionErrs are popped and returned before the real transition runs,
	// simulating storage-level failures.
	transitionErrs []error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		workflows: make(map[string]*repository.Workflow),
		steps:     make(map[string][]*repository.WorkflowStep),
	}
}

func (f *fakeStore) Create(ctx context.Context, wf *repository.Workflow, steps []*repository.WorkflowStep) error {
	f.nextID++
	wf.ID = fmt.Sprintf("wf-%d", f.nextID)
	wf.CreatedAt = time.Now()
	wf.UpdatedAt = wf.CreatedAt
	for i, s := range steps {
		s.ID = fmt.Sprintf("%s-s%d", wf.ID, i+1)
		s.WorkflowID = wf.ID
		s.EntityID = wf.EntityID
	}
	f.workflows[wf.ID] = wf
	f.steps[wf.ID] = steps
	return nil
}

func (f *fakeStore) GetByID(ctx context.Context, id string) (*repository.Workflow, error) {
	wf, ok := f.workflows[id]
	if !ok {
		return nil, apperr.NotFound("workflow", id)
	}
	return wf, nil
}

func (f *fakeStore) GetSteps(ctx context.Context, workflowID string) ([]*repository.WorkflowStep, error) {
	return f.steps[workflowID], nil
}

func (f *fakeStore) pendingStep(workflowID string) *repository.WorkflowStep {
	for _, s := range f.steps[workflowID] {
		if s.Status == repository.StepActionPending {
			return s
		}
	}
	return nil
}

func (f *fakeStore) Transition(ctx context.Context, workflowID string, decide repository.TransitionFunc) (*repository.TransitionResult, error) {
	if len(f.transitionErrs) > 0 {
		err := f.transitionErrs[0]
		f.transitionErrs = f.transitionErrs[1:]
		return nil, err
	}

	wf, ok := f.workflows[workflowID]
	if !ok {
		return nil, apperr.NotFound("workflow", workflowID)
	}
	pending := f.pendingStep(workflowID)

	t, err := decide(wf, pending)
	if err != nil {
		return nil, err
	}

	result := &repository.TransitionResult{Workflow: wf, Step: pending}
	if t == nil {
		return result, nil
	}

	now := time.Now()
	if t.StepStatus != "" {
		pending.Status = t.StepStatus
		pending.ActedBy = &t.ActedBy
		pending.ActedAt = &now
		if t.Notes != nil {
			pending.Notes = t.Notes
		}
	}
	if t.AppendNote != "" {
		if pending.Notes == nil || *pending.Notes == "" {
			note := t.AppendNote
			pending.Notes = &note
		} else {
			joined := *pending.Notes + "\n" + t.AppendNote
			pending.Notes = &joined
		}
	}
	if t.ActivateNext {
		var next *repository.WorkflowStep
		for _, s := range f.steps[workflowID] {
			if s.Status != repository.StepInactive {
				continue
			}
			if next == nil || s.Sequence < next.Sequence {
				next = s
			}
		}
		if next != nil {
			next.Status = repository.StepActionPending
			wf.Status = repository.WorkflowInProgress
			wf.CurrentSequence = next.Sequence
			result.Activated = next
		} else {
			wf.Status = repository.WorkflowCompleted
			wf.CompletedAt = &now
			result.Completed = true
		}
	}
	if t.CancelWorkflow {
		wf.Status = repository.WorkflowCancelled
		wf.CompletedAt = &now
		result.Cancelled = true
	}
	return result, nil
}

func (f *fakeStore) ClearAssignedUsers(ctx context.Context, workflowID string) (int64, error) {
	var cleared int64
	for _, s := range f.steps[workflowID] {
		if s.AssignedUserID != nil && !s.Status.IsTerminal() {
			s.AssignedUserID = nil
			cleared++
		}
	}
	return cleared, nil
}

func (f *fakeStore) PendingForUser(ctx context.Context, entityID, userID string, roles []string) ([]*repository.WorkflowStep, error) {
	roleSet := make(map[string]bool, len(roles))
	for _, r := range roles {
		roleSet[r] = true
	}

	var out []*repository.WorkflowStep
	for _, steps := range f.steps {
		for _, s := range steps {
			if s.EntityID != entityID || s.Status != repository.StepActionPending {
				continue
			}
			if s.AssignedUserID != nil {
				if *s.AssignedUserID == userID {
					out = append(out, s)
				}
			} else if roleSet[s.RequiredRole] {
				out = append(out, s)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) ListDueBefore(ctx context.Context, cutoff time.Time) ([]*repository.Workflow, error) {
	var out []*repository.Workflow
	for _, wf := range f.workflows {
		if !wf.Status.IsTerminal() && !wf.PlannedDate.After(cutoff) {
			out = append(out, wf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// fakeRoles is an in-memory RoleDirectory.
type fakeRoles struct {
	byUser map[string][]string // userID -> role names
}

func (f *fakeRoles) RolesForUser(ctx context.Context, entityID, userID string) ([]string, error) {
	return f.byUser[userID], nil
}

func (f *fakeRoles) UsersWithRole(ctx context.Context, entityID, role string) ([]string, error) {
	var users []string
	for user, roles := range f.byUser {
		for _, r := range roles {
			if r == role {
				users = append(users, user)
			}
		}
	}
	sort.Strings(users)
	return users, nil
}

// fakeAudit records appended entries; failErr simulates audit failures.
type fakeAudit struct {
	entries []*repository.AuditEntry
	failErr error
}

func (f *fakeAudit) Append(ctx context.Context, entry *repository.AuditEntry) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAudit) ListByWorkflowID(ctx context.Context, workflowID string) ([]*repository.AuditEntry, error) {
	var out []*repository.AuditEntry
	for _, e := range f.entries {
		if e.WorkflowID == workflowID {
			out = append(out, e)
		}
	}
	return out, nil
}

// publishedEvent captures one EventPublisher call.
type publishedEvent struct {
	Kind       string
	WorkflowID string
	ActorID    string
	Role       string
	Recipients []string
}

type fakeEvents struct {
	published []publishedEvent
}

func (f *fakeEvents) PublishWorkflowEvent(ctx context.Context, eventKind, workflowID, entityID, actorID, role string, recipients []string, payload map[string]interface{}) {
	f.published = append(f.published, publishedEvent{
		Kind:       eventKind,
		WorkflowID: workflowID,
		ActorID:    actorID,
		Role:       role,
		Recipients: recipients,
	})
}

func (f *fakeEvents) kinds() []string {
	out := make([]string, 0, len(f.published))
	for _, e := range f.published {
		out = append(out, e.Kind)
	}
	return out
}

// fakeAssets is an in-memory AssetRegistry.
type fakeAssets struct {
	assets map[string]*client.Asset
	err    error
}

func (f *fakeAssets) GetAsset(ctx context.Context, assetID, entityID string) (*client.Asset, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	asset, ok := f.assets[assetID]
	return asset, ok, nil
}
