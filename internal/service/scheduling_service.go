package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/atlasfm/be-am-workflows/internal/apperr"
	"github.com/atlasfm/be-am-workflows/internal/client"
	"github.com/atlasfm/be-am-workflows/internal/repository"
)

// defaultApprovalRole is used when no template matches the asset's category.
const defaultApprovalRole = "MAINTENANCE_SUPERVISOR"

// TemplateStore resolves step templates for scheduling.
type TemplateStore interface {
	FindForCategory(ctx context.Context, entityID, assetCategory string) (*repository.StepTemplate, error)
}

// SchedulingStore is the storage surface for workflow instantiation and the
// due-date scan.
type SchedulingStore interface {
	Create(ctx context.Context, wf *repository.Workflow, steps []*repository.WorkflowStep) error
	ListDueBefore(ctx context.Context, cutoff time.Time) ([]*repository.Workflow, error)
}

// AssetRegistry validates assets against the external asset service.
type AssetRegistry interface {
	GetAsset(ctx context.Context, assetID, entityID string) (*client.Asset, bool, error)
}

// ScheduleRequest describes one maintenance/inspection event to instantiate.
type ScheduleRequest struct {
	EntityID    string                  `json:"entity_id"`
	AssetID     string                  `json:"asset_id"`
	Kind        repository.WorkflowKind `json:"kind"`
	PlannedDate time.Time               `json:"planned_date"`
	ScheduledBy string                  `json:"scheduled_by"`
}

// SchedulingService instantiates workflow instances from step templates.
type SchedulingService struct {
	templates TemplateStore
	workflows SchedulingStore
	assets    AssetRegistry
	roles     RoleDirectory
	audit     AuditLog
	events    EventPublisher
	log       zerolog.Logger
}

// NewSchedulingService creates a new SchedulingService.
func NewSchedulingService(
	templates TemplateStore,
	workflows SchedulingStore,
	assets AssetRegistry,
	roles RoleDirectory,
	audit AuditLog,
	events EventPublisher,
	log zerolog.Logger,
) *SchedulingService {
	return &SchedulingService{
		templates: templates,
		workflows: workflows,
		assets:    assets,
		roles:     roles,
		audit:     audit,
		events:    events,
		log:       log,
	}
}

// ScheduleWorkflow instantiates a workflow for an asset: the matching
// template's chain is materialized into steps, the lowest sequence is made
// action_pending and everything else inactive.
func (s *SchedulingService) ScheduleWorkflow(ctx context.Context, req *ScheduleRequest) (*repository.Workflow, []*repository.WorkflowStep, error) {
	if req.EntityID == "" {
		return nil, nil, apperr.InvalidInput("entity_id", "required")
	}
	if req.AssetID == "" {
		return nil, nil, apperr.InvalidInput("asset_id", "required")
	}
	if !req.Kind.IsValid() {
		return nil, nil, apperr.InvalidInput("kind", fmt.Sprintf("unknown workflow kind %q", req.Kind))
	}
	if req.PlannedDate.IsZero() {
		return nil, nil, apperr.InvalidInput("planned_date", "required")
	}

	asset, found, err := s.assets.GetAsset(ctx, req.AssetID, req.EntityID)
	if err != nil {
		return nil, nil, apperr.Wrap(err, apperr.CodeUnavailable, "asset registry unavailable")
	}
	if !found {
		return nil, nil, apperr.NotFound("asset", req.AssetID)
	}

	tpl, err := s.templates.FindForCategory(ctx, req.EntityID, asset.Category)
	if err != nil {
		return nil, nil, err
	}

	defs, err := resolveStepDefs(tpl)
	if err != nil {
		return nil, nil, err
	}

	steps := make([]*repository.WorkflowStep, 0, len(defs))
	for i, def := range defs {
		status := repository.StepInactive
		if i == 0 {
			status = repository.StepActionPending
		}
		steps = append(steps, &repository.WorkflowStep{
			Sequence:     def.Sequence,
			RequiredRole: def.Role,
			Status:       status,
		})
	}

	var templateID *string
	if tpl != nil {
		templateID = &tpl.ID
	}

	wf := &repository.Workflow{
		EntityID:        req.EntityID,
		AssetID:         req.AssetID,
		TemplateID:      templateID,
		Kind:            req.Kind,
		PlannedDate:     req.PlannedDate,
		Status:          repository.WorkflowInitiated,
		TotalSteps:      len(steps),
		CurrentSequence: steps[0].Sequence,
		ScheduledBy:     req.ScheduledBy,
	}

	if err := s.workflows.Create(ctx, wf, steps); err != nil {
		return nil, nil, err
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		WorkflowID:  wf.ID,
		EntityID:    wf.EntityID,
		Action:      "scheduled",
		PerformedBy: req.ScheduledBy,
		Metadata: map[string]interface{}{
			"asset_id":    req.AssetID,
			"kind":        string(req.Kind),
			"total_steps": wf.TotalSteps,
		},
	})

	s.events.PublishWorkflowEvent(ctx, EventWorkflowScheduled, wf.ID, wf.EntityID,
		req.ScheduledBy, "", []string{req.ScheduledBy},
		map[string]interface{}{"asset_id": req.AssetID, "planned_date": req.PlannedDate})
	s.notifyFirstStep(ctx, wf, steps[0])

	s.log.Info().
		Str("workflow_id", wf.ID).
		Str("asset_id", req.AssetID).
		Int("total_steps", wf.TotalSteps).
		Msg("Workflow scheduled")

	return wf, steps, nil
}

// DueSoon returns non-terminal workflows whose planned date falls within the
// warning window. Read-only: the hint never transitions state.
func (s *SchedulingService) DueSoon(ctx context.Context, window time.Duration) ([]*repository.Workflow, error) {
	return s.workflows.ListDueBefore(ctx, time.Now().Add(window))
}

// resolveStepDefs returns the template's chain ordered by sequence, or a
// single default step when no template matched. Duplicate sequence numbers
// are rejected: activation order would be ambiguous.
func resolveStepDefs(tpl *repository.StepTemplate) ([]repository.TemplateStep, error) {
	if tpl == nil || len(tpl.Steps) == 0 {
		return []repository.TemplateStep{{Sequence: 1, Role: defaultApprovalRole}}, nil
	}

	defs := make([]repository.TemplateStep, len(tpl.Steps))
	copy(defs, tpl.Steps)
	sort.Slice(defs, func(i, j int) bool { return defs[i].Sequence < defs[j].Sequence })

	for i := 1; i < len(defs); i++ {
		if defs[i].Sequence == defs[i-1].Sequence {
			return nil, apperr.New(apperr.CodeInvalidInput,
				fmt.Sprintf("template %q has duplicate sequence %d", tpl.Name, defs[i].Sequence))
		}
	}
	return defs, nil
}

func (s *SchedulingService) notifyFirstStep(ctx context.Context, wf *repository.Workflow, step *repository.WorkflowStep) {
	recipients, err := s.roles.UsersWithRole(ctx, wf.EntityID, step.RequiredRole)
	if err != nil {
		s.log.Warn().Err(err).
			Str("role", step.RequiredRole).
			Msg("Could not resolve recipients for first step")
	}
	s.events.PublishWorkflowEvent(ctx, EventApprovalRequired, wf.ID, wf.EntityID,
		"", step.RequiredRole, recipients,
		map[string]interface{}{"sequence": step.Sequence})
}

func (s *SchedulingService) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("workflow_id", entry.WorkflowID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}
