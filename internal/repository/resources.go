package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	jsonpatch "gopkg.in/evanphx/json-patch.v4"
)

// Resource is the projected tenant resource row. Spec is the raw JSON object.
type Resource struct {
	ID        string
	ProjectID string
	Name      string
	Kind      string
	Category  string
	Spec      string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

const resourceColumns = `id, project_id, name, kind, category, spec, status, created_at, updated_at`

func scanResource(row pgx.Row) (Resource, error) {
	var r Resource
	err := row.Scan(&r.ID, &r.ProjectID, &r.Name, &r.Kind, &r.Category,
		&r.Spec, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Resource{}, ErrNotFound
	}
	if err != nil {
		return Resource{}, fmt.Errorf("scan resource: %w", err)
	}
	return r, nil
}

// InsertResource projects a ResourceCreated event. A primary-key conflict is
// a redelivery no-op; a live-name conflict means a different event claimed
// the (project, name) pair first and is ErrLiveConflict.
func (s *Store) InsertResource(ctx context.Context, r Resource) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO resources (`+resourceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		r.ID, r.ProjectID, r.Name, r.Kind, r.Category, r.Spec, r.Status,
		r.CreatedAt, r.UpdatedAt)
	if isUniqueViolation(err, "resources_live_name") {
		return fmt.Errorf("name %s held by another live resource: %w", r.Name, ErrLiveConflict)
	}
	if err != nil {
		return fmt.Errorf("insert resource: %w", err)
	}
	return nil
}

// MergeResourceSpec applies an RFC 7396 merge patch to the stored spec
// (arrays replaced, not merged). The row is locked for the duration so
// concurrent redeliveries serialize.
func (s *Store) MergeResourceSpec(ctx context.Context, id, specPatch string, updatedAt time.Time) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		var current string
		err := tx.QueryRow(ctx, `
			SELECT spec::text FROM resources WHERE id = $1 FOR UPDATE`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock resource spec: %w", err)
		}

		merged, err := jsonpatch.MergePatch([]byte(current), []byte(specPatch))
		if err != nil {
			return fmt.Errorf("merge spec patch: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE resources SET spec = $2, updated_at = $3 WHERE id = $1`,
			id, string(merged), updatedAt)
		if err != nil {
			return fmt.Errorf("update resource spec: %w", err)
		}
		return nil
	})
}

// MarkResourceDeleted tombstones a resource. Re-applying it rewrites the
// same terminal state.
func (s *Store) MarkResourceDeleted(ctx context.Context, id string, deletedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE resources SET status = 'deleted', updated_at = $2 WHERE id = $1`,
		id, deletedAt)
	if err != nil {
		return fmt.Errorf("mark resource deleted: %w", err)
	}
	return nil
}

// FindResourceByID returns a resource regardless of status.
func (s *Store) FindResourceByID(ctx context.Context, id string) (Resource, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, project_id, name, kind, category, spec::text, status, created_at, updated_at
		FROM resources WHERE id = $1`, id)
	return scanResource(row)
}

// FindResourceByName returns the live resource with a name in a project.
func (s *Store) FindResourceByName(ctx context.Context, projectID, name string) (Resource, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, project_id, name, kind, category, spec::text, status, created_at, updated_at
		FROM resources
		WHERE project_id = $1 AND name = $2 AND status <> 'deleted'`, projectID, name)
	return scanResource(row)
}

// FindResourcesByProject pages through the live resources of a project.
func (s *Store) FindResourcesByProject(ctx context.Context, projectID string, page, pageSize int) ([]Resource, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, name, kind, category, spec::text, status, created_at, updated_at
		FROM resources
		WHERE project_id = $1 AND status <> 'deleted'
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		projectID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("find resources: %w", err)
	}
	defer rows.Close()

	var out []Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
