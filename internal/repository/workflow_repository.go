package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/atlasfm/be-am-workflows/internal/apperr"
	"github.com/atlasfm/be-am-workflows/internal/database"
)

// WorkflowRepository manages workflow instances and their steps.
// Workflow + step creation is always done together in a single transaction,
// and every state transition runs through Transition, which locks the header
// and the pending step before applying updates. That lock is what guarantees
// at most one action_pending step per workflow under concurrent approvals.
type WorkflowRepository struct {
	db *database.DB
}

// NewWorkflowRepository creates a new WorkflowRepository.
func NewWorkflowRepository(db *database.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// ── Creation ─────────────────────────────────────────────────────────────────

// Create inserts a workflow and its steps in one transaction.
func (r *WorkflowRepository) Create(ctx context.Context, wf *Workflow, steps []*WorkflowStep) error {
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		wfQuery := `
			INSERT INTO maintenance_workflows
			    (entity_id, asset_id, template_id, kind, planned_date,
			     status, total_steps, current_sequence, scheduled_by)
			VALUES ($1, $2, $3, $4::workflow_kind, $5,
			        $6::workflow_status, $7, $8, $9)
			RETURNING id, created_at, updated_at
		`

		err := tx.QueryRow(ctx, wfQuery,
			wf.EntityID,
			wf.AssetID,
			wf.TemplateID,
			wf.Kind,
			wf.PlannedDate,
			wf.Status,
			wf.TotalSteps,
			wf.CurrentSequence,
			wf.ScheduledBy,
		).Scan(&wf.ID, &wf.CreatedAt, &wf.UpdatedAt)
		if err != nil {
			return err
		}

		stepQuery := `
			INSERT INTO maintenance_workflow_steps
			    (workflow_id, entity_id, sequence, required_role,
			     assigned_user_id, status, notes)
			VALUES ($1, $2, $3, $4, $5, $6::workflow_step_status, $7)
			RETURNING id, created_at, updated_at
		`

		for _, step := range steps {
			step.WorkflowID = wf.ID
			step.EntityID = wf.EntityID

			err := tx.QueryRow(ctx, stepQuery,
				step.WorkflowID,
				step.EntityID,
				step.Sequence,
				step.RequiredRole,
				step.AssignedUserID,
				step.Status,
				step.Notes,
			).Scan(&step.ID, &step.CreatedAt, &step.UpdatedAt)
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return apperr.FromStorage(err, "failed to create workflow")
	}
	return nil
}

// ── Reads ────────────────────────────────────────────────────────────────────

const workflowColumns = `
	id, entity_id, asset_id, template_id, kind, planned_date,
	status, total_steps, current_sequence, scheduled_by,
	completed_at, created_at, updated_at`

const stepColumns = `
	id, workflow_id, entity_id, sequence, required_role,
	assigned_user_id, status, acted_by, acted_at, notes,
	created_at, updated_at`

// GetByID retrieves a workflow by its primary key.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*Workflow, error) {
	query := `SELECT` + workflowColumns + `
		FROM maintenance_workflows
		WHERE id = $1
	`

	wf, err := scanWorkflow(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("workflow", id)
	}
	if err != nil {
		return nil, apperr.FromStorage(err, "failed to get workflow")
	}
	return wf, nil
}

// GetSteps returns all steps for a workflow ordered by sequence.
func (r *WorkflowRepository) GetSteps(ctx context.Context, workflowID string) ([]*WorkflowStep, error) {
	query := `SELECT` + stepColumns + `
		FROM maintenance_workflow_steps
		WHERE workflow_id = $1
		ORDER BY sequence ASC
	`

	rows, err := r.db.Query(ctx, query, workflowID)
	if err != nil {
		return nil, apperr.FromStorage(err, "failed to get workflow steps")
	}
	defer rows.Close()

	return scanSteps(rows)
}

// PendingForUser returns all action_pending steps the user may act on within
// an entity: steps assigned to them (legacy user-bound) plus unassigned steps
// whose required role is in the user's role set.
func (r *WorkflowRepository) PendingForUser(ctx context.Context, entityID, userID string, roles []string) ([]*WorkflowStep, error) {
	query := `
		SELECT s.id, s.workflow_id, s.entity_id, s.sequence, s.required_role,
		       s.assigned_user_id, s.status, s.acted_by, s.acted_at, s.notes,
		       s.created_at, s.updated_at
		FROM maintenance_workflow_steps s
		JOIN maintenance_workflows w ON w.id = s.workflow_id
		WHERE s.entity_id = $1
		  AND s.status = 'action_pending'
		  AND w.status IN ('initiated', 'in_progress')
		  AND (s.assigned_user_id = $2
		       OR (s.assigned_user_id IS NULL AND s.required_role = ANY($3)))
		ORDER BY w.planned_date ASC, s.created_at ASC
	`

	rows, err := r.db.Query(ctx, query, entityID, userID, roles)
	if err != nil {
		return nil, apperr.FromStorage(err, "failed to get pending steps")
	}
	defer rows.Close()

	return scanSteps(rows)
}

// ListDueBefore returns non-terminal workflows whose planned date falls on or
// before the cutoff. Used by the advance-warning scanner; read-only.
func (r *WorkflowRepository) ListDueBefore(ctx context.Context, cutoff time.Time) ([]*Workflow, error) {
	query := `SELECT` + workflowColumns + `
		FROM maintenance_workflows
		WHERE status IN ('initiated', 'in_progress')
		  AND planned_date <= $1
		ORDER BY planned_date ASC
	`

	rows, err := r.db.Query(ctx, query, cutoff)
	if err != nil {
		return nil, apperr.FromStorage(err, "failed to list due workflows")
	}
	defer rows.Close()

	var workflows []*Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, apperr.FromStorage(err, "failed to scan workflow")
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

// ── Migration ────────────────────────────────────────────────────────────────

// ClearAssignedUsers nulls the legacy assigned_user_id on all not-yet-acted
// steps of a workflow so that only the job role gates them. Idempotent:
// returns the number of rows actually changed, zero on repeat calls.
func (r *WorkflowRepository) ClearAssignedUsers(ctx context.Context, workflowID string) (int64, error) {
	query := `
		UPDATE maintenance_workflow_steps
		SET assigned_user_id = NULL,
		    updated_at       = NOW()
		WHERE workflow_id = $1
		  AND status IN ('inactive', 'action_pending')
		  AND assigned_user_id IS NOT NULL
	`

	tag, err := r.db.Exec(ctx, query, workflowID)
	if err != nil {
		return 0, apperr.FromStorage(err, "failed to clear assigned users")
	}
	return tag.RowsAffected(), nil
}

// ── Transitions ──────────────────────────────────────────────────────────────

// Transition describes the updates a TransitionFunc wants applied to the
// locked pending step and its workflow.
type Transition struct {
	// StepStatus, when set, is written to the pending step together with
	// ActedBy and Notes.
	StepStatus StepStatus
	ActedBy    string
	Notes      *string

	// AppendNote, when non-empty, is appended to the pending step's notes
	// on its own line. Used for escalation markers.
	AppendNote string

	// ActivateNext activates the lowest inactive step; when none remains
	// the workflow is marked completed.
	ActivateNext bool

	// CancelWorkflow marks the workflow cancelled.
	CancelWorkflow bool
}

// TransitionResult reports the post-transition state.
type TransitionResult struct {
	Workflow  *Workflow
	Step      *WorkflowStep // the pending step that was acted on (nil if none existed)
	Activated *WorkflowStep // the step newly made action_pending, nil when none
	Completed bool
	Cancelled bool
}

// TransitionFunc inspects the locked workflow and its pending step (nil when
// no step is awaiting action) and decides what to apply. Returning a nil
// Transition applies nothing. Errors abort and roll back the transaction.
type TransitionFunc func(wf *Workflow, pending *WorkflowStep) (*Transition, error)

// Transition locks the workflow header and its pending step, calls decide,
// and applies the requested updates, all within one transaction. Concurrent
// calls on the same workflow serialize on the header row lock.
func (r *WorkflowRepository) Transition(ctx context.Context, workflowID string, decide TransitionFunc) (*TransitionResult, error) {
	result := &TransitionResult{}

	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		wf, err := r.getForUpdate(ctx, tx, workflowID)
		if err != nil {
			return err
		}
		pending, err := r.getPendingStepForUpdate(ctx, tx, workflowID)
		if err != nil {
			return err
		}

		result.Workflow = wf
		result.Step = pending

		t, err := decide(wf, pending)
		if err != nil {
			return err
		}
		if t == nil {
			return nil
		}

		return r.apply(ctx, tx, wf, pending, t, result)
	})
	if err != nil {
		return nil, apperr.FromStorage(err, "workflow transition failed")
	}
	return result, nil
}

func (r *WorkflowRepository) getForUpdate(ctx context.Context, tx pgx.Tx, id string) (*Workflow, error) {
	query := `SELECT` + workflowColumns + `
		FROM maintenance_workflows
		WHERE id = $1
		FOR UPDATE
	`

	wf, err := scanWorkflow(tx.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("workflow", id)
	}
	return wf, err
}

func (r *WorkflowRepository) getPendingStepForUpdate(ctx context.Context, tx pgx.Tx, workflowID string) (*WorkflowStep, error) {
	query := `SELECT` + stepColumns + `
		FROM maintenance_workflow_steps
		WHERE workflow_id = $1 AND status = 'action_pending'
		FOR UPDATE
	`

	step, err := scanStep(tx.QueryRow(ctx, query, workflowID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return step, err
}

func (r *WorkflowRepository) apply(ctx context.Context, tx pgx.Tx, wf *Workflow, pending *WorkflowStep, t *Transition, result *TransitionResult) error {
	if t.StepStatus != "" {
		query := `
			UPDATE maintenance_workflow_steps
			SET status     = $2::workflow_step_status,
			    acted_by   = $3,
			    acted_at   = NOW(),
			    notes      = COALESCE($4, notes),
			    updated_at = NOW()
			WHERE id = $1
			RETURNING acted_at, notes, updated_at
		`
		err := tx.QueryRow(ctx, query, pending.ID, t.StepStatus, t.ActedBy, t.Notes).
			Scan(&pending.ActedAt, &pending.Notes, &pending.UpdatedAt)
		if err != nil {
			return err
		}
		pending.Status = t.StepStatus
		pending.ActedBy = &t.ActedBy
	}

	if t.AppendNote != "" {
		query := `
			UPDATE maintenance_workflow_steps
			SET notes      = CASE WHEN notes IS NULL OR notes = ''
			                      THEN $2
			                      ELSE notes || E'\n' || $2 END,
			    updated_at = NOW()
			WHERE id = $1
			RETURNING notes, updated_at
		`
		if err := tx.QueryRow(ctx, query, pending.ID, t.AppendNote).Scan(&pending.Notes, &pending.UpdatedAt); err != nil {
			return err
		}
	}

	if t.ActivateNext {
		activateQuery := `
			UPDATE maintenance_workflow_steps
			SET status     = 'action_pending'::workflow_step_status,
			    updated_at = NOW()
			WHERE id = (
				SELECT id FROM maintenance_workflow_steps
				WHERE workflow_id = $1 AND status = 'inactive'
				ORDER BY sequence ASC
				LIMIT 1
				FOR UPDATE
			)
			RETURNING` + stepColumns + `
		`
		next, err := scanStep(tx.QueryRow(ctx, activateQuery, wf.ID))
		switch {
		case err == pgx.ErrNoRows:
			// Last step approved: close the workflow.
			if err := r.setWorkflowStatus(ctx, tx, wf, WorkflowCompleted, true, wf.CurrentSequence); err != nil {
				return err
			}
			result.Completed = true
		case err != nil:
			return err
		default:
			result.Activated = next
			if err := r.setWorkflowStatus(ctx, tx, wf, WorkflowInProgress, false, next.Sequence); err != nil {
				return err
			}
		}
	}

	if t.CancelWorkflow {
		if err := r.setWorkflowStatus(ctx, tx, wf, WorkflowCancelled, true, wf.CurrentSequence); err != nil {
			return err
		}
		result.Cancelled = true
	}

	return nil
}

func (r *WorkflowRepository) setWorkflowStatus(ctx context.Context, tx pgx.Tx, wf *Workflow, status WorkflowStatus, closed bool, currentSequence int) error {
	query := `
		UPDATE maintenance_workflows
		SET status           = $2::workflow_status,
		    current_sequence = $3,
		    completed_at     = CASE WHEN $4 THEN NOW() ELSE completed_at END,
		    updated_at       = NOW()
		WHERE id = $1
		RETURNING completed_at, updated_at
	`
	if err := tx.QueryRow(ctx, query, wf.ID, status, currentSequence, closed).Scan(&wf.CompletedAt, &wf.UpdatedAt); err != nil {
		return err
	}
	wf.Status = status
	wf.CurrentSequence = currentSequence
	return nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*Workflow, error) {
	wf := &Workflow{}
	err := row.Scan(
		&wf.ID,
		&wf.EntityID,
		&wf.AssetID,
		&wf.TemplateID,
		&wf.Kind,
		&wf.PlannedDate,
		&wf.Status,
		&wf.TotalSteps,
		&wf.CurrentSequence,
		&wf.ScheduledBy,
		&wf.CompletedAt,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return wf, nil
}

func scanStep(row rowScanner) (*WorkflowStep, error) {
	s := &WorkflowStep{}
	err := row.Scan(
		&s.ID,
		&s.WorkflowID,
		&s.EntityID,
		&s.Sequence,
		&s.RequiredRole,
		&s.AssignedUserID,
		&s.Status,
		&s.ActedBy,
		&s.ActedAt,
		&s.Notes,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func scanSteps(rows pgx.Rows) ([]*WorkflowStep, error) {
	var steps []*WorkflowStep
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, apperr.FromStorage(err, "failed to scan workflow step")
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}
