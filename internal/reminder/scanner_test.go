package reminder

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasfm/be-am-workflows/internal/repository"
)

type fakeLister struct {
	due    []*repository.Workflow
	err    error
	cutoff time.Time
}

func (f *fakeLister) ListDueBefore(ctx context.Context, cutoff time.Time) ([]*repository.Workflow, error) {
	f.cutoff = cutoff
	return f.due, f.err
}

type capturedEvent struct {
	Kind       string
	WorkflowID string
	Recipients []string
	Payload    map[string]interface{}
}

type fakePublisher struct {
	events []capturedEvent
}

func (f *fakePublisher) PublishWorkflowEvent(ctx context.Context, eventKind, workflowID, entityID, actorID, role string, recipients []string, payload map[string]interface{}) {
	f.events = append(f.events, capturedEvent{
		Kind:       eventKind,
		WorkflowID: workflowID,
		Recipients: recipients,
		Payload:    payload,
	})
}

func TestScanPublishesDueSoonEvents(t *testing.T) {
	lister := &fakeLister{due: []*repository.Workflow{
		{
			ID:          "wf-1",
			EntityID:    "ent-1",
			AssetID:     "asset-1",
			PlannedDate: time.Now().Add(12 * time.Hour),
			Status:      repository.WorkflowInProgress,
			ScheduledBy: "scheduler",
		},
		{
			ID:          "wf-2",
			EntityID:    "ent-1",
			AssetID:     "asset-2",
			PlannedDate: time.Now().Add(36 * time.Hour),
			Status:      repository.WorkflowInitiated,
			ScheduledBy: "scheduler",
		},
	}}
	publisher := &fakePublisher{}
	scanner := NewScanner(lister, publisher, 72*time.Hour, zerolog.Nop())

	scanner.scan()

	require.Len(t, publisher.events, 2)
	assert.Equal(t, "maintenance_due_soon", publisher.events[0].Kind)
	assert.Equal(t, "wf-1", publisher.events[0].WorkflowID)
	assert.Equal(t, []string{"scheduler"}, publisher.events[0].Recipients)
	assert.Equal(t, "asset-1", publisher.events[0].Payload["asset_id"])

	// Cutoff reflects the configured window.
	assert.WithinDuration(t, time.Now().Add(72*time.Hour), lister.cutoff, time.Minute)
}

func TestScanSurvivesListerFailure(t *testing.T) {
	lister := &fakeLister{err: assert.AnError}
	publisher := &fakePublisher{}
	scanner := NewScanner(lister, publisher, 72*time.Hour, zerolog.Nop())

	scanner.scan()

	assert.Empty(t, publisher.events)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	scanner := NewScanner(&fakeLister{}, &fakePublisher{}, time.Hour, zerolog.Nop())

	err := scanner.Start("not a cron spec")
	assert.Error(t, err)

	require.NoError(t, scanner.Start("@daily"))
	scanner.Stop()
}
