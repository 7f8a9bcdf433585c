// Package reminder publishes advance-warning events for workflows whose
// planned date is approaching. The scan is read-only: it never transitions
// workflow state, it only feeds the notification service.
package reminder

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/atlasfm/be-am-workflows/internal/repository"
)

// DueLister lists non-terminal workflows due before a cutoff.
type DueLister interface {
	ListDueBefore(ctx context.Context, cutoff time.Time) ([]*repository.Workflow, error)
}

// EventPublisher is the outbound event boundary (see service.EventPublisher).
type EventPublisher interface {
	PublishWorkflowEvent(ctx context.Context, eventKind, workflowID, entityID, actorID, role string, recipients []string, payload map[string]interface{})
}

// Scanner runs the due-soon scan on a cron schedule.
type Scanner struct {
	cron      *cron.Cron
	workflows DueLister
	events    EventPublisher
	window    time.Duration
	log       zerolog.Logger
}

// NewScanner creates a Scanner with the given advance-warning window.
func NewScanner(workflows DueLister, events EventPublisher, window time.Duration, log zerolog.Logger) *Scanner {
	return &Scanner{
		cron:      cron.New(),
		workflows: workflows,
		events:    events,
		window:    window,
		log:       log,
	}
}

// Start registers the scan on the given cron schedule and starts the runner.
func (s *Scanner) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, s.scan); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info().
		Str("schedule", schedule).
		Dur("window", s.window).
		Msg("Reminder scanner started")
	return nil
}

// Stop stops the cron runner and waits for a running scan to finish.
func (s *Scanner) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scanner) scan() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().Add(s.window)
	due, err := s.workflows.ListDueBefore(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("Due-soon scan failed")
		return
	}

	for _, wf := range due {
		s.events.PublishWorkflowEvent(ctx, "maintenance_due_soon", wf.ID, wf.EntityID,
			"", "", []string{wf.ScheduledBy},
			map[string]interface{}{
				"asset_id":     wf.AssetID,
				"planned_date": wf.PlannedDate,
				"status":       wf.Status.String(),
			})
	}

	s.log.Info().
		Int("workflows", len(due)).
		Time("cutoff", cutoff).
		Msg("Due-soon scan completed")
}
