package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NotificationPublisher publishes workflow events to NATS for consumption by
// the notification service (push/e-mail delivery happens there, not here).
//
// Subject convention: notifications.am.<event_kind>
// Event kinds: workflow_scheduled, approval_required, step_approved,
//              step_rejected, step_escalated, workflow_completed,
//              workflow_cancelled, maintenance_due_soon
//
// All publish operations are non-fatal — errors are logged but never
// propagated to the caller, so notification failures never interrupt an
// approval transaction.
type NotificationPublisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventKind    string                 `json:"event_kind"`
	EntityID     string                 `json:"entity_id"`
	ActorID      string                 `json:"actor_id"`
	Recipients   []string               `json:"recipients"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	Role         string                 `json:"role,omitempty"`
	Severity     string                 `json:"severity,omitempty"`
	Category     string                 `json:"category,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS
// connection. A nil connection disables publishing.
func NewNotificationPublisher(conn *nats.Conn, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{conn: conn, log: log}
}

// PublishWorkflowEvent publishes a workflow approval event.
// Subject: notifications.am.<eventKind>
func (p *NotificationPublisher) PublishWorkflowEvent(ctx context.Context, eventKind, workflowID, entityID, actorID, role string, recipients []string, payload map[string]interface{}) {
	if p.conn == nil {
		return
	}

	event := &NotificationEvent{
		EventKind:    eventKind,
		EntityID:     entityID,
		ActorID:      actorID,
		Recipients:   recipients,
		ResourceType: "workflow",
		ResourceID:   workflowID,
		Role:         role,
		Severity:     "info",
		Category:     "am_approval",
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_kind", eventKind).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.am.%s", eventKind)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("workflow_id", workflowID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("workflow_id", workflowID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}
