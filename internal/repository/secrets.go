package repository

import (
	"context"
	"fmt"
	"time"
)

// ProjectSecret is one issued API key: the PHC hash and the pepper bytes
// used as the Argon2 secret. The clear key is never stored.
type ProjectSecret struct {
	ID           string
	ProjectID    string
	Name         string
	PHC          string
	SaltedSecret []byte
	CreatedAt    time.Time
}

// InsertSecret projects a ProjectSecretCreated event; conflicts are no-ops.
func (s *Store) InsertSecret(ctx context.Context, sec ProjectSecret) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO project_secrets (id, project_id, name, phc, salted_secret, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		sec.ID, sec.ProjectID, sec.Name, sec.PHC, sec.SaltedSecret, sec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert secret: %w", err)
	}
	return nil
}

// FindSecretsByProject returns every secret of a project, oldest first.
func (s *Store) FindSecretsByProject(ctx context.Context, projectID string) ([]ProjectSecret, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, name, phc, salted_secret, created_at
		FROM project_secrets WHERE project_id = $1
		ORDER BY created_at ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("find secrets: %w", err)
	}
	defer rows.Close()

	var out []ProjectSecret
	for rows.Next() {
		var sec ProjectSecret
		if err := rows.Scan(&sec.ID, &sec.ProjectID, &sec.Name, &sec.PHC,
			&sec.SaltedSecret, &sec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan secret: %w", err)
		}
		out = append(out, sec)
	}
	return out, rows.Err()
}
