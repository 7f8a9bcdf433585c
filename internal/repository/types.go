package repository

import "time"

// ── Status enums ─────────────────────────────────────────────────────────────

// WorkflowStatus is the overall status of a maintenance/inspection workflow.
type WorkflowStatus string

const (
	WorkflowInitiated  WorkflowStatus = "initiated"
	WorkflowInProgress WorkflowStatus = "in_progress"
	WorkflowCompleted  WorkflowStatus = "completed"
	WorkflowCancelled  WorkflowStatus = "cancelled"
)

var validWorkflowStatuses = map[WorkflowStatus]bool{
	WorkflowInitiated:  true,
	WorkflowInProgress: true,
	WorkflowCompleted:  true,
	WorkflowCancelled:  true,
}

var terminalWorkflowStatuses = map[WorkflowStatus]bool{
	WorkflowCompleted: true,
	WorkflowCancelled: true,
}

func (s WorkflowStatus) String() string { return string(s) }

// IsValid reports whether the status is a known workflow status.
func (s WorkflowStatus) IsValid() bool { return validWorkflowStatuses[s] }

// IsTerminal reports whether no further transitions are allowed.
func (s WorkflowStatus) IsTerminal() bool { return terminalWorkflowStatuses[s] }

// StepStatus is the status of a single approval step.
type StepStatus string

const (
	StepInactive      StepStatus = "inactive"
	StepActionPending StepStatus = "action_pending"
	StepApproved      StepStatus = "approved"
	StepRejected      StepStatus = "rejected"
)

var validStepStatuses = map[StepStatus]bool{
	StepInactive:      true,
	StepActionPending: true,
	StepApproved:      true,
	StepRejected:      true,
}

var terminalStepStatuses = map[StepStatus]bool{
	StepApproved: true,
	StepRejected: true,
}

func (s StepStatus) String() string { return string(s) }

// IsValid reports whether the status is a known step status.
func (s StepStatus) IsValid() bool { return validStepStatuses[s] }

// IsTerminal reports whether the step has been acted on.
func (s StepStatus) IsTerminal() bool { return terminalStepStatuses[s] }

// WorkflowKind distinguishes scheduled maintenance from inspections.
type WorkflowKind string

const (
	KindMaintenance WorkflowKind = "maintenance"
	KindInspection  WorkflowKind = "inspection"
)

// IsValid reports whether the kind is known.
func (k WorkflowKind) IsValid() bool {
	return k == KindMaintenance || k == KindInspection
}

// ── Domain types ─────────────────────────────────────────────────────────────

// JobRole is a named capability tag referenced by workflow steps.
type JobRole struct {
	ID          string
	EntityID    string
	Name        string
	Description *string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TemplateStep is one entry in a template's approval_steps JSONB array.
type TemplateStep struct {
	Sequence int    `json:"sequence"`
	Role     string `json:"role"`
}

// StepTemplate defines the shape of an approval chain for an asset category.
type StepTemplate struct {
	ID            string
	EntityID      string
	Name          string
	AssetCategory string // empty matches any category
	IsActive      bool
	Steps         []TemplateStep
	Priority      int // lower = evaluated first
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Workflow is one scheduled maintenance/inspection event and its overall status.
type Workflow struct {
	ID              string
	EntityID        string
	AssetID         string
	TemplateID      *string
	Kind            WorkflowKind
	PlannedDate     time.Time
	Status          WorkflowStatus
	TotalSteps      int
	CurrentSequence int
	ScheduledBy     string
	CompletedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// WorkflowStep is one ordered approval checkpoint within a workflow.
// AssignedUserID is the legacy user-bound gate: when set, only that user may
// act on the step; once cleared by migration the step is gated by job role.
type WorkflowStep struct {
	ID             string
	WorkflowID     string
	EntityID       string
	Sequence       int
	RequiredRole   string
	AssignedUserID *string
	Status         StepStatus
	ActedBy        *string
	ActedAt        *time.Time
	Notes          *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AuditEntry is one immutable record in the workflow audit log.
type AuditEntry struct {
	ID          string
	WorkflowID  string
	StepID      *string
	EntityID    string
	Action      string // scheduled | approved | rejected | escalated | migrated
	PerformedBy string
	PerformedAt time.Time
	Metadata    map[string]interface{}
}
