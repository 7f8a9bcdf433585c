package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkflowStatus(t *testing.T) {
	for _, s := range []WorkflowStatus{WorkflowInitiated, WorkflowInProgress, WorkflowCompleted, WorkflowCancelled} {
		assert.True(t, s.IsValid(), s)
	}
	assert.False(t, WorkflowStatus("IP").IsValid())
	assert.False(t, WorkflowStatus("").IsValid())

	assert.False(t, WorkflowInitiated.IsTerminal())
	assert.False(t, WorkflowInProgress.IsTerminal())
	assert.True(t, WorkflowCompleted.IsTerminal())
	assert.True(t, WorkflowCancelled.IsTerminal())
}

func TestStepStatus(t *testing.T) {
	for _, s := range []StepStatus{StepInactive, StepActionPending, StepApproved, StepRejected} {
		assert.True(t, s.IsValid(), s)
	}
	assert.False(t, StepStatus("UA").IsValid())

	assert.False(t, StepInactive.IsTerminal())
	assert.False(t, StepActionPending.IsTerminal())
	assert.True(t, StepApproved.IsTerminal())
	assert.True(t, StepRejected.IsTerminal())
}

func TestWorkflowKind(t *testing.T) {
	assert.True(t, KindMaintenance.IsValid())
	assert.True(t, KindInspection.IsValid())
	assert.False(t, WorkflowKind("repair").IsValid())
}
