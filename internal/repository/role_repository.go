package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/atlasfm/be-am-workflows/internal/apperr"
	"github.com/atlasfm/be-am-workflows/internal/database"
)

// RoleRepository is the role directory: users hold zero or more job roles
// via user_job_roles. Lookups fail closed — a user with no active assignment
// gets an empty role set.
type RoleRepository struct {
	db *database.DB
}

// NewRoleRepository creates a new RoleRepository.
func NewRoleRepository(db *database.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// RolesForUser returns the names of all active roles held by a user.
func (r *RoleRepository) RolesForUser(ctx context.Context, entityID, userID string) ([]string, error) {
	query := `
		SELECT jr.name
		FROM user_job_roles ujr
		JOIN job_roles jr ON jr.id = ujr.role_id
		WHERE ujr.entity_id = $1
		  AND ujr.user_id = $2
		  AND ujr.is_active = TRUE
		  AND jr.is_active = TRUE
		ORDER BY jr.name ASC
	`

	rows, err := r.db.Query(ctx, query, entityID, userID)
	if err != nil {
		return nil, apperr.FromStorage(err, "failed to get user roles")
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperr.FromStorage(err, "failed to scan role name")
		}
		roles = append(roles, name)
	}
	return roles, rows.Err()
}

// UsersWithRole returns the IDs of all users holding the given role.
// Used to resolve notification recipients when a step becomes pending.
func (r *RoleRepository) UsersWithRole(ctx context.Context, entityID, roleName string) ([]string, error) {
	query := `
		SELECT ujr.user_id
		FROM user_job_roles ujr
		JOIN job_roles jr ON jr.id = ujr.role_id
		WHERE ujr.entity_id = $1
		  AND jr.name = $2
		  AND ujr.is_active = TRUE
		  AND jr.is_active = TRUE
		ORDER BY ujr.user_id ASC
	`

	rows, err := r.db.Query(ctx, query, entityID, roleName)
	if err != nil {
		return nil, apperr.FromStorage(err, "failed to get users with role")
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.FromStorage(err, "failed to scan user id")
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// GetRoleByName returns an active role by its name.
func (r *RoleRepository) GetRoleByName(ctx context.Context, entityID, name string) (*JobRole, error) {
	query := `
		SELECT id, entity_id, name, description, is_active, created_at, updated_at
		FROM job_roles
		WHERE entity_id = $1 AND name = $2 AND is_active = TRUE
	`

	role := &JobRole{}
	err := r.db.QueryRow(ctx, query, entityID, name).Scan(
		&role.ID,
		&role.EntityID,
		&role.Name,
		&role.Description,
		&role.IsActive,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("job_role", name)
	}
	if err != nil {
		return nil, apperr.FromStorage(err, "failed to get job role")
	}
	return role, nil
}

// AssignRole grants a role to a user. Re-assigning an existing pair
// reactivates it.
func (r *RoleRepository) AssignRole(ctx context.Context, entityID, userID, roleID string) error {
	query := `
		INSERT INTO user_job_roles (entity_id, user_id, role_id, is_active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (entity_id, user_id, role_id)
		DO UPDATE SET is_active = TRUE, updated_at = NOW()
	`

	if _, err := r.db.Exec(ctx, query, entityID, userID, roleID); err != nil {
		return apperr.FromStorage(err, "failed to assign role")
	}
	return nil
}

// RevokeRole deactivates a user's role assignment.
func (r *RoleRepository) RevokeRole(ctx context.Context, entityID, userID, roleID string) error {
	query := `
		UPDATE user_job_roles
		SET is_active = FALSE, updated_at = NOW()
		WHERE entity_id = $1 AND user_id = $2 AND role_id = $3
		RETURNING user_id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, entityID, userID, roleID).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperr.NotFound("role_assignment", userID)
	}
	if err != nil {
		return apperr.FromStorage(err, "failed to revoke role")
	}
	return nil
}
