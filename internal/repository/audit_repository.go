package repository

import (
	"context"
	"encoding/json"

	"github.com/atlasfm/be-am-workflows/internal/apperr"
	"github.com/atlasfm/be-am-workflows/internal/database"
)

// AuditRepository appends and reads immutable workflow audit log entries.
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts one audit entry. The table has a delete-prevention trigger
// so this is the only mutation operation exposed.
func (r *AuditRepository) Append(ctx context.Context, entry *AuditEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO workflow_audit_log
		    (workflow_id, step_id, entity_id, action, performed_by, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, performed_at
	`

	err := r.db.QueryRow(ctx, query,
		entry.WorkflowID,
		entry.StepID,
		entry.EntityID,
		entry.Action,
		entry.PerformedBy,
		metadataJSON,
	).Scan(&entry.ID, &entry.PerformedAt)
	if err != nil {
		return apperr.FromStorage(err, "failed to append audit entry")
	}
	return nil
}

// ListByWorkflowID returns the audit trail for a workflow ordered oldest-first.
func (r *AuditRepository) ListByWorkflowID(ctx context.Context, workflowID string) ([]*AuditEntry, error) {
	query := `
		SELECT id, workflow_id, step_id, entity_id,
		       action, performed_by, performed_at, metadata
		FROM workflow_audit_log
		WHERE workflow_id = $1
		ORDER BY performed_at ASC
	`

	rows, err := r.db.Query(ctx, query, workflowID)
	if err != nil {
		return nil, apperr.FromStorage(err, "failed to get audit log")
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		entry := &AuditEntry{}
		var metadataJSON []byte

		err := rows.Scan(
			&entry.ID,
			&entry.WorkflowID,
			&entry.StepID,
			&entry.EntityID,
			&entry.Action,
			&entry.PerformedBy,
			&entry.PerformedAt,
			&metadataJSON,
		)
		if err != nil {
			return nil, apperr.FromStorage(err, "failed to scan audit entry")
		}

		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to unmarshal audit metadata")
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
