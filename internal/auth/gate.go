package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/demeter-run/fabric-sub000/internal/domain"
	"github.com/demeter-run/fabric-sub000/internal/repository"
)

// MembershipReader is the slice of the read model the gate needs.
type MembershipReader interface {
	FindMembership(ctx context.Context, userID, projectID string) (repository.ProjectUser, error)
}

// Gate checks principals against project membership.
type Gate struct {
	members MembershipReader
}

// NewGate builds a Gate over the read model.
func NewGate(members MembershipReader) *Gate {
	return &Gate{members: members}
}

// AssertPermission fails with Unauthorized unless the principal may act on
// the project. Token principals must hold a membership meeting the required
// role; API-key principals succeed iff the key is bound to that project.
func (g *Gate) AssertPermission(ctx context.Context, p Principal, projectID string, required Role) error {
	switch p.Kind {
	case CredentialAPIKey:
		if p.ProjectID != projectID {
			return domain.NewUnauthorized("api key not valid for this project")
		}
		return nil
	case CredentialToken:
		membership, err := g.members.FindMembership(ctx, p.UserID, projectID)
		if errors.Is(err, repository.ErrNotFound) {
			return domain.NewUnauthorized("not a member of this project")
		}
		if err != nil {
			return domain.NewUnexpected("membership lookup failed", err)
		}
		if !Role(membership.Role).Satisfies(required) {
			return domain.NewUnauthorized(fmt.Sprintf("requires %s role", required))
		}
		return nil
	default:
		return domain.NewUnauthorized("missing credential")
	}
}

// RequireToken rejects API-key principals for operations that only make
// sense for a user, such as listing the caller's projects.
func RequireToken(p Principal) error {
	if p.Kind != CredentialToken {
		return domain.NewUnauthorized("not supported")
	}
	return nil
}
