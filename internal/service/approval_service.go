package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/atlasfm/be-am-workflows/internal/apperr"
	"github.com/atlasfm/be-am-workflows/internal/repository"
)

// Event kinds published on workflow transitions.
const (
	EventWorkflowScheduled = "workflow_scheduled"
	EventApprovalRequired  = "approval_required"
	EventStepApproved      = "step_approved"
	EventStepRejected      = "step_rejected"
	EventStepEscalated     = "step_escalated"
	EventWorkflowCompleted = "workflow_completed"
	EventWorkflowCancelled = "workflow_cancelled"
	EventDueSoon           = "maintenance_due_soon"
)

// storageRetryLimit bounds backoff retries on transient storage failures.
const storageRetryLimit = 3

// WorkflowStore is the storage surface the engine needs.
type WorkflowStore interface {
	GetByID(ctx context.Context, id string) (*repository.Workflow, error)
	GetSteps(ctx context.Context, workflowID string) ([]*repository.WorkflowStep, error)
	Transition(ctx context.Context, workflowID string, decide repository.TransitionFunc) (*repository.TransitionResult, error)
	ClearAssignedUsers(ctx context.Context, workflowID string) (int64, error)
	PendingForUser(ctx context.Context, entityID, userID string, roles []string) ([]*repository.WorkflowStep, error)
}

// RoleDirectory resolves users to job roles and back. An empty role set means
// the user cannot act on anything.
type RoleDirectory interface {
	RolesForUser(ctx context.Context, entityID, userID string) ([]string, error)
	UsersWithRole(ctx context.Context, entityID, role string) ([]string, error)
}

// AuditLog records immutable workflow history.
type AuditLog interface {
	Append(ctx context.Context, entry *repository.AuditEntry) error
	ListByWorkflowID(ctx context.Context, workflowID string) ([]*repository.AuditEntry, error)
}

// EventPublisher delivers workflow events to the notification service.
// Implementations must never block on or fail the approval path.
type EventPublisher interface {
	PublishWorkflowEvent(ctx context.Context, eventKind, workflowID, entityID, actorID, role string, recipients []string, payload map[string]interface{})
}

// ApprovalService advances workflow instances through their approval chain.
type ApprovalService struct {
	workflows WorkflowStore
	roles     RoleDirectory
	audit     AuditLog
	events    EventPublisher
	log       zerolog.Logger
}

// NewApprovalService creates a new ApprovalService.
func NewApprovalService(
	workflows WorkflowStore,
	roles RoleDirectory,
	audit AuditLog,
	events EventPublisher,
	log zerolog.Logger,
) *ApprovalService {
	return &ApprovalService{
		workflows: workflows,
		roles:     roles,
		audit:     audit,
		events:    events,
		log:       log,
	}
}

// ── Approve ───────────────────────────────────────────────────────────────────

// Approve marks the workflow's pending step approved by the acting user, then
// activates the next step or completes the workflow when none remains.
func (s *ApprovalService) Approve(ctx context.Context, workflowID, actingUserID string, notes *string) (*repository.TransitionResult, error) {
	if workflowID == "" {
		return nil, apperr.InvalidInput("workflow_id", "required")
	}
	if actingUserID == "" {
		return nil, apperr.InvalidInput("acting_user_id", "required")
	}

	decide := func(wf *repository.Workflow, pending *repository.WorkflowStep) (*repository.Transition, error) {
		if pending == nil {
			return nil, apperr.NoPendingStep(workflowID)
		}
		if err := s.assertCanAct(ctx, wf, pending, actingUserID); err != nil {
			return nil, err
		}
		return &repository.Transition{
			StepStatus:   repository.StepApproved,
			ActedBy:      actingUserID,
			Notes:        notes,
			ActivateNext: true,
		}, nil
	}

	res, err := s.transition(ctx, workflowID, decide)
	if err != nil {
		return nil, err
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		WorkflowID:  workflowID,
		StepID:      &res.Step.ID,
		EntityID:    res.Workflow.EntityID,
		Action:      "approved",
		PerformedBy: actingUserID,
		Metadata: map[string]interface{}{
			"sequence":  res.Step.Sequence,
			"completed": res.Completed,
		},
	})

	s.events.PublishWorkflowEvent(ctx, EventStepApproved, workflowID, res.Workflow.EntityID,
		actingUserID, res.Step.RequiredRole, []string{res.Workflow.ScheduledBy},
		map[string]interface{}{"sequence": res.Step.Sequence})

	if res.Activated != nil {
		s.notifyApprovalRequired(ctx, res.Workflow, res.Activated)
	}
	if res.Completed {
		s.events.PublishWorkflowEvent(ctx, EventWorkflowCompleted, workflowID, res.Workflow.EntityID,
			actingUserID, "", []string{res.Workflow.ScheduledBy}, nil)
	}

	s.log.Info().
		Str("workflow_id", workflowID).
		Str("acted_by", actingUserID).
		Int("sequence", res.Step.Sequence).
		Bool("completed", res.Completed).
		Msg("Step approved")

	return res, nil
}

// ── Reject ────────────────────────────────────────────────────────────────────

// Reject marks the pending step rejected and cancels the workflow. Rejection
// is terminal: the chain does not revert to an earlier step.
func (s *ApprovalService) Reject(ctx context.Context, workflowID, actingUserID, reason string) (*repository.TransitionResult, error) {
	if workflowID == "" {
		return nil, apperr.InvalidInput("workflow_id", "required")
	}
	if actingUserID == "" {
		return nil, apperr.InvalidInput("acting_user_id", "required")
	}
	if reason == "" {
		return nil, apperr.InvalidInput("reason", "rejection reason is required")
	}

	decide := func(wf *repository.Workflow, pending *repository.WorkflowStep) (*repository.Transition, error) {
		if pending == nil {
			return nil, apperr.NoPendingStep(workflowID)
		}
		if err := s.assertCanAct(ctx, wf, pending, actingUserID); err != nil {
			return nil, err
		}
		return &repository.Transition{
			StepStatus:     repository.StepRejected,
			ActedBy:        actingUserID,
			Notes:          &reason,
			CancelWorkflow: true,
		}, nil
	}

	res, err := s.transition(ctx, workflowID, decide)
	if err != nil {
		return nil, err
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		WorkflowID:  workflowID,
		StepID:      &res.Step.ID,
		EntityID:    res.Workflow.EntityID,
		Action:      "rejected",
		PerformedBy: actingUserID,
		Metadata: map[string]interface{}{
			"sequence": res.Step.Sequence,
			"reason":   reason,
		},
	})

	s.events.PublishWorkflowEvent(ctx, EventStepRejected, workflowID, res.Workflow.EntityID,
		actingUserID, res.Step.RequiredRole, []string{res.Workflow.ScheduledBy},
		map[string]interface{}{"sequence": res.Step.Sequence, "reason": reason})
	s.events.PublishWorkflowEvent(ctx, EventWorkflowCancelled, workflowID, res.Workflow.EntityID,
		actingUserID, "", []string{res.Workflow.ScheduledBy}, nil)

	s.log.Info().
		Str("workflow_id", workflowID).
		Str("acted_by", actingUserID).
		Int("sequence", res.Step.Sequence).
		Msg("Step rejected; workflow cancelled")

	return res, nil
}

// ── Escalate ──────────────────────────────────────────────────────────────────

// Escalate records an escalation marker on the pending step's notes and
// notifies the step's role. The step keeps awaiting action; escalation is a
// flag, not a state transition.
func (s *ApprovalService) Escalate(ctx context.Context, workflowID, actingUserID, reason string) (*repository.TransitionResult, error) {
	if reason == "" {
		return nil, apperr.InvalidInput("reason", "escalation reason is required")
	}

	marker := fmt.Sprintf("[escalated by %s at %s] %s",
		actingUserID, time.Now().UTC().Format(time.RFC3339), reason)

	decide := func(wf *repository.Workflow, pending *repository.WorkflowStep) (*repository.Transition, error) {
		if pending == nil {
			return nil, apperr.NoPendingStep(workflowID)
		}
		return &repository.Transition{AppendNote: marker}, nil
	}

	res, err := s.transition(ctx, workflowID, decide)
	if err != nil {
		return nil, err
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		WorkflowID:  workflowID,
		StepID:      &res.Step.ID,
		EntityID:    res.Workflow.EntityID,
		Action:      "escalated",
		PerformedBy: actingUserID,
		Metadata: map[string]interface{}{
			"sequence": res.Step.Sequence,
			"reason":   reason,
		},
	})

	recipients := s.recipientsForStep(ctx, res.Workflow, res.Step)
	s.events.PublishWorkflowEvent(ctx, EventStepEscalated, workflowID, res.Workflow.EntityID,
		actingUserID, res.Step.RequiredRole, recipients,
		map[string]interface{}{"sequence": res.Step.Sequence, "reason": reason})

	return res, nil
}

// ── Migration ─────────────────────────────────────────────────────────────────

// MigrateToRoleBased clears the legacy assigned-user field on all not-yet-acted
// steps of a workflow so that only the job role gates them. Idempotent: a
// workflow that is already role-bound is left unchanged.
func (s *ApprovalService) MigrateToRoleBased(ctx context.Context, workflowID, performedBy string) error {
	wf, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return err
	}

	cleared, err := s.workflows.ClearAssignedUsers(ctx, workflowID)
	if err != nil {
		return err
	}
	if cleared == 0 {
		return nil
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		WorkflowID:  workflowID,
		EntityID:    wf.EntityID,
		Action:      "migrated",
		PerformedBy: performedBy,
		Metadata:    map[string]interface{}{"steps_cleared": cleared},
	})

	s.log.Info().
		Str("workflow_id", workflowID).
		Int64("steps_cleared", cleared).
		Msg("Workflow migrated to role-based approval")

	return nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

// GetWorkflow returns a workflow by ID.
func (s *ApprovalService) GetWorkflow(ctx context.Context, workflowID string) (*repository.Workflow, error) {
	return s.workflows.GetByID(ctx, workflowID)
}

// WorkflowSteps returns all steps of a workflow ordered by sequence.
func (s *ApprovalService) WorkflowSteps(ctx context.Context, workflowID string) ([]*repository.WorkflowStep, error) {
	if _, err := s.workflows.GetByID(ctx, workflowID); err != nil {
		return nil, err
	}
	return s.workflows.GetSteps(ctx, workflowID)
}

// PendingForUser returns all steps currently awaiting action from a user:
// legacy steps assigned to them plus role-bound steps matching their role set.
func (s *ApprovalService) PendingForUser(ctx context.Context, entityID, userID string) ([]*repository.WorkflowStep, error) {
	roles, err := s.roles.RolesForUser(ctx, entityID, userID)
	if err != nil {
		return nil, err
	}
	return s.workflows.PendingForUser(ctx, entityID, userID, roles)
}

// History returns the audit trail of a workflow oldest-first.
func (s *ApprovalService) History(ctx context.Context, workflowID string) ([]*repository.AuditEntry, error) {
	if _, err := s.workflows.GetByID(ctx, workflowID); err != nil {
		return nil, err
	}
	return s.audit.ListByWorkflowID(ctx, workflowID)
}

// ── Authorization ─────────────────────────────────────────────────────────────

// assertCanAct checks that the user may act on the pending step: the assigned
// individual on legacy user-bound steps, otherwise anyone holding the step's
// required role.
func (s *ApprovalService) assertCanAct(ctx context.Context, wf *repository.Workflow, step *repository.WorkflowStep, userID string) error {
	if step.AssignedUserID != nil {
		if *step.AssignedUserID == userID {
			return nil
		}
		return apperr.Forbidden(fmt.Sprintf("step %d is assigned to another user", step.Sequence))
	}

	roles, err := s.roles.RolesForUser(ctx, wf.EntityID, userID)
	if err != nil {
		return err
	}
	for _, role := range roles {
		if role == step.RequiredRole {
			return nil
		}
	}
	return apperr.Forbidden(fmt.Sprintf("user does not hold required role %q", step.RequiredRole))
}

// ── Internal helpers ──────────────────────────────────────────────────────────

// transition runs a locked transition, retrying once when a concurrent
// transition was detected.
func (s *ApprovalService) transition(ctx context.Context, workflowID string, decide repository.TransitionFunc) (*repository.TransitionResult, error) {
	res, err := s.transitionOnce(ctx, workflowID, decide)
	if apperr.Is(err, apperr.CodeConflict) {
		s.log.Warn().
			Str("workflow_id", workflowID).
			Msg("Concurrent transition detected; retrying once")
		res, err = s.transitionOnce(ctx, workflowID, decide)
	}
	return res, err
}

// transitionOnce runs the transition, retrying transient storage failures
// with bounded exponential backoff. Permanent errors surface immediately.
func (s *ApprovalService) transitionOnce(ctx context.Context, workflowID string, decide repository.TransitionFunc) (*repository.TransitionResult, error) {
	var res *repository.TransitionResult

	op := func() error {
		r, err := s.workflows.Transition(ctx, workflowID, decide)
		if err != nil {
			if apperr.Is(err, apperr.CodeUnavailable) {
				return err
			}
			return backoff.Permanent(err)
		}
		res = r
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), storageRetryLimit), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	return res, nil
}

// recipientsForStep resolves who should be notified about a step: the
// assigned individual on legacy steps, otherwise everyone holding the role.
func (s *ApprovalService) recipientsForStep(ctx context.Context, wf *repository.Workflow, step *repository.WorkflowStep) []string {
	if step.AssignedUserID != nil {
		return []string{*step.AssignedUserID}
	}
	users, err := s.roles.UsersWithRole(ctx, wf.EntityID, step.RequiredRole)
	if err != nil {
		s.log.Warn().Err(err).
			Str("role", step.RequiredRole).
			Msg("Could not resolve notification recipients for role")
		return nil
	}
	return users
}

// notifyApprovalRequired announces a newly activated step to its approvers.
func (s *ApprovalService) notifyApprovalRequired(ctx context.Context, wf *repository.Workflow, step *repository.WorkflowStep) {
	recipients := s.recipientsForStep(ctx, wf, step)
	s.events.PublishWorkflowEvent(ctx, EventApprovalRequired, wf.ID, wf.EntityID,
		"", step.RequiredRole, recipients,
		map[string]interface{}{"sequence": step.Sequence})
}

// appendAudit writes an audit entry and logs a warning on failure (never returns error).
func (s *ApprovalService) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("workflow_id", entry.WorkflowID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}
