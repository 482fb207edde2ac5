package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Project is the projected project row.
type Project struct {
	ID                string
	Namespace         string
	Name              string
	Owner             string
	Status            string
	BillingProvider   string
	BillingProviderID string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ProjectUser is one membership row.
type ProjectUser struct {
	UserID    string
	ProjectID string
	Role      string
	CreatedAt time.Time
}

const projectColumns = `id, namespace, name, owner, status, billing_provider, billing_provider_id, created_at, updated_at`

func scanProject(row pgx.Row) (Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.Namespace, &p.Name, &p.Owner, &p.Status,
		&p.BillingProvider, &p.BillingProviderID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, fmt.Errorf("scan project: %w", err)
	}
	return p, nil
}

// InsertProject projects a ProjectCreated event: the project row plus the
// owner membership, in one transaction. A primary-key conflict means the
// event was already projected and is a no-op; a live-namespace conflict means
// a different event claimed the namespace first and is ErrLiveConflict.
func (s *Store) InsertProject(ctx context.Context, p Project) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO projects (`+projectColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING`,
			p.ID, p.Namespace, p.Name, p.Owner, p.Status,
			p.BillingProvider, p.BillingProviderID, p.CreatedAt, p.UpdatedAt)
		if isUniqueViolation(err, "projects_live_namespace") {
			return fmt.Errorf("namespace %s held by another live project: %w", p.Namespace, ErrLiveConflict)
		}
		if err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO project_users (user_id, project_id, role, created_at)
			VALUES ($1, $2, 'owner', $3)
			ON CONFLICT (user_id, project_id) DO NOTHING`,
			p.Owner, p.ID, p.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert owner membership: %w", err)
		}
		return nil
	})
}

// UpdateProject applies only the fields present in the patch.
func (s *Store) UpdateProject(ctx context.Context, id string, name, status *string, updatedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE projects
		SET name = COALESCE($2, name),
		    status = COALESCE($3, status),
		    updated_at = $4
		WHERE id = $1`,
		id, name, status, updatedAt)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return nil
}

// DeleteProjectCascade marks the project deleted and cascades the tombstone
// to every resource of the project, in one transaction. Re-applying it
// rewrites the same terminal state.
func (s *Store) DeleteProjectCascade(ctx context.Context, id string, deletedAt time.Time) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE projects SET status = 'deleted', updated_at = $2 WHERE id = $1`,
			id, deletedAt)
		if err != nil {
			return fmt.Errorf("delete project: %w", err)
		}
		_, err = tx.Exec(ctx, `
			UPDATE resources SET status = 'deleted', updated_at = $2
			WHERE project_id = $1 AND status <> 'deleted'`,
			id, deletedAt)
		if err != nil {
			return fmt.Errorf("cascade resource delete: %w", err)
		}
		return nil
	})
}

// FindProjectByID returns a project regardless of status.
func (s *Store) FindProjectByID(ctx context.Context, id string) (Project, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	return scanProject(row)
}

// FindProjectByNamespace returns the live project holding a namespace.
func (s *Store) FindProjectByNamespace(ctx context.Context, namespace string) (Project, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+projectColumns+` FROM projects
		WHERE namespace = $1 AND status <> 'deleted'`, namespace)
	return scanProject(row)
}

// FindProjectsByUser pages through the live projects a user belongs to.
func (s *Store) FindProjectsByUser(ctx context.Context, userID string, page, pageSize int) ([]Project, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.namespace, p.name, p.owner, p.status,
		       p.billing_provider, p.billing_provider_id, p.created_at, p.updated_at
		FROM projects p
		JOIN project_users pu ON pu.project_id = p.id
		WHERE pu.user_id = $1 AND p.status <> 'deleted'
		ORDER BY p.created_at DESC
		LIMIT $2 OFFSET $3`,
		userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("find projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertProjectUser adds a membership row; conflicts are no-ops.
func (s *Store) InsertProjectUser(ctx context.Context, u ProjectUser) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO project_users (user_id, project_id, role, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, project_id) DO NOTHING`,
		u.UserID, u.ProjectID, u.Role, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert project user: %w", err)
	}
	return nil
}

// DeleteProjectUser removes a membership row.
func (s *Store) DeleteProjectUser(ctx context.Context, userID, projectID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM project_users WHERE user_id = $1 AND project_id = $2`,
		userID, projectID)
	if err != nil {
		return fmt.Errorf("delete project user: %w", err)
	}
	return nil
}

// FindMembership returns the membership of a user in a project.
func (s *Store) FindMembership(ctx context.Context, userID, projectID string) (ProjectUser, error) {
	var u ProjectUser
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, project_id, role, created_at
		FROM project_users WHERE user_id = $1 AND project_id = $2`,
		userID, projectID).Scan(&u.UserID, &u.ProjectID, &u.Role, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ProjectUser{}, ErrNotFound
	}
	if err != nil {
		return ProjectUser{}, fmt.Errorf("find membership: %w", err)
	}
	return u, nil
}
