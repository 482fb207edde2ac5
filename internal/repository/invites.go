package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ProjectUserInvite is one invitation row. AcceptedBy/AcceptedAt are nil
// while the invite is open.
type ProjectUserInvite struct {
	ID         string
	ProjectID  string
	Email      string
	Code       string
	Role       string
	ExpiresAt  time.Time
	AcceptedBy *string
	AcceptedAt *time.Time
}

// InsertInvite projects a ProjectUserInviteCreated event.
func (s *Store) InsertInvite(ctx context.Context, inv ProjectUserInvite) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO project_user_invites (id, project_id, email, code, role, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		inv.ID, inv.ProjectID, inv.Email, inv.Code, inv.Role, inv.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert invite: %w", err)
	}
	return nil
}

// FindInviteByCode looks an invite up by its one-time code.
func (s *Store) FindInviteByCode(ctx context.Context, code string) (ProjectUserInvite, error) {
	var inv ProjectUserInvite
	err := s.pool.QueryRow(ctx, `
		SELECT id, project_id, email, code, role, expires_at, accepted_by, accepted_at
		FROM project_user_invites WHERE code = $1`, code).
		Scan(&inv.ID, &inv.ProjectID, &inv.Email, &inv.Code, &inv.Role,
			&inv.ExpiresAt, &inv.AcceptedBy, &inv.AcceptedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ProjectUserInvite{}, ErrNotFound
	}
	if err != nil {
		return ProjectUserInvite{}, fmt.Errorf("find invite: %w", err)
	}
	return inv, nil
}

// AcceptInvite projects a ProjectUserInviteAccepted event: marks the invite
// accepted and inserts the membership in one transaction.
func (s *Store) AcceptInvite(ctx context.Context, inviteID, projectID, userID, role string, acceptedAt time.Time) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE project_user_invites
			SET accepted_by = $2, accepted_at = $3
			WHERE id = $1 AND accepted_by IS NULL`,
			inviteID, userID, acceptedAt)
		if err != nil {
			return fmt.Errorf("mark invite accepted: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO project_users (user_id, project_id, role, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, project_id) DO NOTHING`,
			userID, projectID, role, acceptedAt)
		if err != nil {
			return fmt.Errorf("insert invited membership: %w", err)
		}
		return nil
	})
}

// DeleteExpiredInvites removes open invites whose expiry has passed. Used by
// the daily hygiene sweep; accepted invites are kept as history.
func (s *Store) DeleteExpiredInvites(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM project_user_invites
		WHERE accepted_by IS NULL AND expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired invites: %w", err)
	}
	return tag.RowsAffected(), nil
}
