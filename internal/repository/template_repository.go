package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/atlasfm/be-am-workflows/internal/apperr"
	"github.com/atlasfm/be-am-workflows/internal/database"
)

// TemplateRepository handles CRUD for workflow_step_templates.
type TemplateRepository struct {
	db *database.DB
}

// NewTemplateRepository creates a new TemplateRepository.
func NewTemplateRepository(db *database.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// Create inserts a new step template.
func (r *TemplateRepository) Create(ctx context.Context, tpl *StepTemplate) error {
	stepsJSON, err := json.Marshal(tpl.Steps)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to marshal template steps")
	}

	query := `
		INSERT INTO workflow_step_templates
		    (entity_id, name, asset_category, is_active, approval_steps, priority)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		tpl.EntityID,
		tpl.Name,
		tpl.AssetCategory,
		tpl.IsActive,
		stepsJSON,
		tpl.Priority,
	).Scan(&tpl.ID, &tpl.CreatedAt, &tpl.UpdatedAt)
	if err != nil {
		return apperr.FromStorage(err, "failed to create step template")
	}
	return nil
}

// GetByID retrieves a template by primary key.
func (r *TemplateRepository) GetByID(ctx context.Context, id, entityID string) (*StepTemplate, error) {
	query := `
		SELECT id, entity_id, name, asset_category, is_active,
		       approval_steps, priority, created_at, updated_at
		FROM workflow_step_templates
		WHERE id = $1 AND entity_id = $2
	`

	tpl, err := r.scanTemplate(r.db.QueryRow(ctx, query, id, entityID))
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("step_template", id)
	}
	return tpl, err
}

// List returns all templates for an entity, optionally filtered to active only.
func (r *TemplateRepository) List(ctx context.Context, entityID string, activeOnly bool) ([]*StepTemplate, error) {
	query := `
		SELECT id, entity_id, name, asset_category, is_active,
		       approval_steps, priority, created_at, updated_at
		FROM workflow_step_templates
		WHERE entity_id = $1
	`
	if activeOnly {
		query += " AND is_active = TRUE"
	}
	query += " ORDER BY priority ASC, name ASC"

	rows, err := r.db.Query(ctx, query, entityID)
	if err != nil {
		return nil, apperr.FromStorage(err, "failed to list step templates")
	}
	defer rows.Close()

	var templates []*StepTemplate
	for rows.Next() {
		tpl, err := r.scanTemplate(rows)
		if err != nil {
			return nil, apperr.FromStorage(err, "failed to scan step template")
		}
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}

// FindForCategory evaluates active templates in priority order and returns
// the first one matching the asset category. Returns nil (no error) when no
// template matches; templates with an empty category match any asset.
func (r *TemplateRepository) FindForCategory(ctx context.Context, entityID, assetCategory string) (*StepTemplate, error) {
	// Load all active templates ordered by priority; evaluate in Go to keep SQL simple.
	templates, err := r.List(ctx, entityID, true)
	if err != nil {
		return nil, err
	}
	return pickTemplate(templates, assetCategory), nil
}

// pickTemplate returns the first template whose category matches, or nil.
func pickTemplate(templates []*StepTemplate, assetCategory string) *StepTemplate {
	for _, tpl := range templates {
		if tpl.AssetCategory == "" || tpl.AssetCategory == assetCategory {
			return tpl
		}
	}
	return nil
}

// Update persists changes to an existing template.
func (r *TemplateRepository) Update(ctx context.Context, tpl *StepTemplate) error {
	stepsJSON, err := json.Marshal(tpl.Steps)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to marshal template steps")
	}

	query := `
		UPDATE workflow_step_templates
		SET name           = $3,
		    asset_category = $4,
		    is_active      = $5,
		    approval_steps = $6,
		    priority       = $7,
		    updated_at     = NOW()
		WHERE id = $1 AND entity_id = $2
		RETURNING updated_at
	`

	err = r.db.QueryRow(ctx, query,
		tpl.ID,
		tpl.EntityID,
		tpl.Name,
		tpl.AssetCategory,
		tpl.IsActive,
		stepsJSON,
		tpl.Priority,
	).Scan(&tpl.UpdatedAt)

	if err == pgx.ErrNoRows {
		return apperr.NotFound("step_template", tpl.ID)
	}
	if err != nil {
		return apperr.FromStorage(err, "failed to update step template")
	}
	return nil
}

// Delete removes a step template. Existing workflows keep their instantiated
// steps; only new scheduling is affected.
func (r *TemplateRepository) Delete(ctx context.Context, id, entityID string) error {
	query := `
		DELETE FROM workflow_step_templates
		WHERE id = $1 AND entity_id = $2
	`

	tag, err := r.db.Exec(ctx, query, id, entityID)
	if err != nil {
		return apperr.FromStorage(err, "failed to delete step template")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("step_template", id)
	}
	return nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type templateScanner interface {
	Scan(dest ...any) error
}

func (r *TemplateRepository) scanTemplate(row templateScanner) (*StepTemplate, error) {
	tpl := &StepTemplate{}
	var stepsJSON []byte

	err := row.Scan(
		&tpl.ID,
		&tpl.EntityID,
		&tpl.Name,
		&tpl.AssetCategory,
		&tpl.IsActive,
		&stepsJSON,
		&tpl.Priority,
		&tpl.CreatedAt,
		&tpl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(stepsJSON, &tpl.Steps); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to unmarshal template steps")
	}
	return tpl, nil
}
