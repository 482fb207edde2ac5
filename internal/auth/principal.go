// Package auth resolves credentials into principals and gates every command
// on project membership. Two credential variants exist: an access token
// verified against the identity provider, and a bech32 API key bound to a
// single project.
package auth

import "context"

// CredentialKind distinguishes the two principal variants.
type CredentialKind string

const (
	// CredentialToken is a user principal derived from a verified access token.
	CredentialToken CredentialKind = "token"
	// CredentialAPIKey is a machine principal bound to one project.
	CredentialAPIKey CredentialKind = "apikey"
)

// Principal is the resolved identity attached to every request.
type Principal struct {
	Kind CredentialKind
	// UserID is set for token principals.
	UserID string
	// ProjectID is the project an API key is bound to.
	ProjectID string
	// SecretID identifies the matched secret for API-key principals.
	SecretID string
}

// Role orders project membership. Owner outranks Member.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

func roleRank(r Role) int {
	switch r {
	case RoleOwner:
		return 2
	case RoleMember:
		return 1
	default:
		return 0
	}
}

// Satisfies reports whether holding r meets the required role.
func (r Role) Satisfies(required Role) bool {
	return roleRank(r) >= roleRank(required)
}

// ParseRole validates a role string.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleOwner, RoleMember:
		return Role(s), true
	default:
		return "", false
	}
}

type principalKey struct{}

// WithPrincipal attaches the resolved principal to the request context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// GetPrincipal extracts the principal from the context.
func GetPrincipal(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
