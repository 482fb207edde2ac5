// Package project implements the project aggregate: lifecycle commands,
// membership invitations, and the paged listings users see. Commands validate
// against the read model and emit events; they never write the read model
// directly.
package project

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/demeter-run/fabric-sub000/internal/auth"
	"github.com/demeter-run/fabric-sub000/internal/domain"
	"github.com/demeter-run/fabric-sub000/internal/event"
	"github.com/demeter-run/fabric-sub000/internal/repository"
)

const (
	namespacePrefix   = "prj-"
	namespaceAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	namespaceRandLen  = 6

	inviteCodeLen = 10
	// InviteTTL is how long an invitation stays redeemable.
	InviteTTL = 7 * 24 * time.Hour
)

// Store is the slice of the read model the project aggregate needs.
type Store interface {
	FindProjectByID(ctx context.Context, id string) (repository.Project, error)
	FindProjectByNamespace(ctx context.Context, namespace string) (repository.Project, error)
	FindProjectsByUser(ctx context.Context, userID string, page, pageSize int) ([]repository.Project, error)
	FindMembership(ctx context.Context, userID, projectID string) (repository.ProjectUser, error)
	FindInviteByCode(ctx context.Context, code string) (repository.ProjectUserInvite, error)
}

// UserDirectory searches identity-provider users. Implemented by
// auth.OIDCClient; nil disables invitee lookup.
type UserDirectory interface {
	FindInfoByQuery(ctx context.Context, query string) ([]auth.Profile, error)
}

// Service is the project aggregate.
type Service struct {
	store     Store
	gate      *auth.Gate
	publisher event.Publisher
	email     EmailSender
	directory UserDirectory
	logger    *zap.Logger
}

// NewService wires the project aggregate.
func NewService(store Store, gate *auth.Gate, publisher event.Publisher, email EmailSender, directory UserDirectory, logger *zap.Logger) *Service {
	return &Service{store: store, gate: gate, publisher: publisher, email: email, directory: directory, logger: logger}
}

func randomString(alphabet string, n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("random string: %w", err)
	}
	for i, b := range buf {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(buf), nil
}

// NewNamespace generates a candidate project namespace.
func NewNamespace() (string, error) {
	suffix, err := randomString(namespaceAlphabet, namespaceRandLen)
	if err != nil {
		return "", err
	}
	return namespacePrefix + suffix, nil
}

// CreateProject registers a new project owned by the caller. The namespace is
// drawn at random; a collision with a live project fails the command rather
// than silently retrying, so the caller decides whether to try again.
func (s *Service) CreateProject(ctx context.Context, p auth.Principal, name string) (event.ProjectCreated, error) {
	if err := auth.RequireToken(p); err != nil {
		return event.ProjectCreated{}, err
	}
	if name == "" {
		return event.ProjectCreated{}, domain.NewCommandMalformed("name is required")
	}

	namespace, err := NewNamespace()
	if err != nil {
		return event.ProjectCreated{}, domain.NewUnexpected("namespace generation failed", err)
	}
	_, err = s.store.FindProjectByNamespace(ctx, namespace)
	if err == nil {
		return event.ProjectCreated{}, domain.NewCommandMalformed("namespace already taken, try again")
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return event.ProjectCreated{}, domain.NewUnexpected("namespace lookup failed", err)
	}

	now := time.Now().UTC()
	ev := event.ProjectCreated{
		ID:        uuid.NewString(),
		Namespace: namespace,
		Name:      name,
		Owner:     p.UserID,
		Status:    event.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		return event.ProjectCreated{}, domain.NewUnexpected("publish failed", err)
	}

	s.logger.Info("project created",
		zap.String("project_id", ev.ID),
		zap.String("namespace", ev.Namespace),
	)
	return ev, nil
}

// UpdateProject patches project fields; absent fields stay untouched.
func (s *Service) UpdateProject(ctx context.Context, p auth.Principal, projectID string, name, status *string) (event.ProjectUpdated, error) {
	if err := s.gate.AssertPermission(ctx, p, projectID, auth.RoleMember); err != nil {
		return event.ProjectUpdated{}, err
	}
	if name == nil && status == nil {
		return event.ProjectUpdated{}, domain.NewCommandMalformed("empty patch")
	}
	if name != nil && *name == "" {
		return event.ProjectUpdated{}, domain.NewCommandMalformed("name cannot be empty")
	}
	if status != nil && *status != event.StatusActive {
		return event.ProjectUpdated{}, domain.NewCommandMalformed("invalid status")
	}

	project, err := s.findLiveProject(ctx, projectID)
	if err != nil {
		return event.ProjectUpdated{}, err
	}

	ev := event.ProjectUpdated{
		ID:        project.ID,
		Name:      name,
		Status:    status,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		return event.ProjectUpdated{}, domain.NewUnexpected("publish failed", err)
	}
	return ev, nil
}

// DeleteProject tombstones a project. The single ProjectDeleted event drives
// the full cascade downstream: read-model tombstones and namespace teardown.
func (s *Service) DeleteProject(ctx context.Context, p auth.Principal, projectID string) error {
	if err := s.gate.AssertPermission(ctx, p, projectID, auth.RoleOwner); err != nil {
		return err
	}
	project, err := s.findLiveProject(ctx, projectID)
	if err != nil {
		return err
	}

	ev := event.ProjectDeleted{
		ID:        project.ID,
		Namespace: project.Namespace,
		DeletedAt: time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		return domain.NewUnexpected("publish failed", err)
	}

	s.logger.Info("project deleted", zap.String("project_id", project.ID))
	return nil
}

// InviteUser issues a membership invitation. The email is dispatched after the
// event is durably published; a send failure is logged and does not fail the
// command, the code can still be relayed out of band.
func (s *Service) InviteUser(ctx context.Context, p auth.Principal, projectID, email, role string) (event.ProjectUserInviteCreated, error) {
	if err := auth.RequireToken(p); err != nil {
		return event.ProjectUserInviteCreated{}, err
	}
	if err := s.gate.AssertPermission(ctx, p, projectID, auth.RoleOwner); err != nil {
		return event.ProjectUserInviteCreated{}, err
	}
	if !strings.Contains(email, "@") {
		return event.ProjectUserInviteCreated{}, domain.NewCommandMalformed("invalid email")
	}
	parsedRole, ok := auth.ParseRole(role)
	if !ok {
		return event.ProjectUserInviteCreated{}, domain.NewCommandMalformed("invalid role")
	}

	project, err := s.findLiveProject(ctx, projectID)
	if err != nil {
		return event.ProjectUserInviteCreated{}, err
	}

	code, err := randomString(namespaceAlphabet, inviteCodeLen)
	if err != nil {
		return event.ProjectUserInviteCreated{}, domain.NewUnexpected("code generation failed", err)
	}

	ev := event.ProjectUserInviteCreated{
		ID:        uuid.NewString(),
		ProjectID: project.ID,
		Email:     email,
		Code:      code,
		Role:      string(parsedRole),
		ExpiresAt: time.Now().UTC().Add(InviteTTL),
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		return event.ProjectUserInviteCreated{}, domain.NewUnexpected("publish failed", err)
	}

	if err := s.email.SendInvite(ctx, email, s.lookupInvitee(ctx, email), project.Name, code); err != nil {
		s.logger.Warn("invite email failed",
			zap.String("invite_id", ev.ID),
			zap.Error(err),
		)
	}
	return ev, nil
}

// lookupInvitee resolves the invitee's display name from the identity
// provider. Best-effort: the invitee may not have an account yet, and a
// provider outage must not fail the command.
func (s *Service) lookupInvitee(ctx context.Context, email string) string {
	if s.directory == nil {
		return ""
	}
	profiles, err := s.directory.FindInfoByQuery(ctx, fmt.Sprintf("email:%q", email))
	if err != nil {
		s.logger.Warn("invitee lookup failed", zap.String("email", email), zap.Error(err))
		return ""
	}
	if len(profiles) == 0 {
		return ""
	}
	return profiles[0].Name
}

// AcceptInvite redeems an invitation code for the calling user.
func (s *Service) AcceptInvite(ctx context.Context, p auth.Principal, code string) (event.ProjectUserInviteAccepted, error) {
	if err := auth.RequireToken(p); err != nil {
		return event.ProjectUserInviteAccepted{}, err
	}

	invite, err := s.store.FindInviteByCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return event.ProjectUserInviteAccepted{}, domain.NewCommandMalformed("invite not found")
	}
	if err != nil {
		return event.ProjectUserInviteAccepted{}, domain.NewUnexpected("invite lookup failed", err)
	}
	if invite.AcceptedBy != nil {
		return event.ProjectUserInviteAccepted{}, domain.NewCommandMalformed("invite already accepted")
	}
	if time.Now().After(invite.ExpiresAt) {
		return event.ProjectUserInviteAccepted{}, domain.NewCommandMalformed("invite expired")
	}

	_, err = s.store.FindMembership(ctx, p.UserID, invite.ProjectID)
	if err == nil {
		return event.ProjectUserInviteAccepted{}, domain.NewCommandMalformed("already a member")
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return event.ProjectUserInviteAccepted{}, domain.NewUnexpected("membership lookup failed", err)
	}

	ev := event.ProjectUserInviteAccepted{
		InviteID:   invite.ID,
		ProjectID:  invite.ProjectID,
		UserID:     p.UserID,
		Role:       invite.Role,
		AcceptedAt: time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		return event.ProjectUserInviteAccepted{}, domain.NewUnexpected("publish failed", err)
	}

	s.logger.Info("invite accepted",
		zap.String("invite_id", invite.ID),
		zap.String("project_id", invite.ProjectID),
	)
	return ev, nil
}

// DeleteUser removes a member from a project. Owners cannot remove themselves;
// deleting the project is the way to give up ownership.
func (s *Service) DeleteUser(ctx context.Context, p auth.Principal, projectID, userID string) error {
	if err := s.gate.AssertPermission(ctx, p, projectID, auth.RoleOwner); err != nil {
		return err
	}
	if p.UserID == userID {
		return domain.NewCommandMalformed("cannot remove yourself")
	}
	if _, err := s.store.FindMembership(ctx, userID, projectID); errors.Is(err, repository.ErrNotFound) {
		return domain.NewCommandMalformed("user is not a member")
	} else if err != nil {
		return domain.NewUnexpected("membership lookup failed", err)
	}

	ev := event.ProjectUserDeleted{
		ProjectID: projectID,
		UserID:    userID,
		DeletedAt: time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		return domain.NewUnexpected("publish failed", err)
	}
	return nil
}

// FetchProjects pages through the caller's live projects.
func (s *Service) FetchProjects(ctx context.Context, p auth.Principal, page, pageSize int) ([]repository.Project, error) {
	if err := auth.RequireToken(p); err != nil {
		return nil, err
	}
	page, pageSize, err := domain.NormalizePage(page, pageSize)
	if err != nil {
		return nil, err
	}
	projects, err := s.store.FindProjectsByUser(ctx, p.UserID, page, pageSize)
	if err != nil {
		return nil, domain.NewUnexpected("project listing failed", err)
	}
	return projects, nil
}

// FetchProject returns one project to its members.
func (s *Service) FetchProject(ctx context.Context, p auth.Principal, projectID string) (repository.Project, error) {
	if err := s.gate.AssertPermission(ctx, p, projectID, auth.RoleMember); err != nil {
		return repository.Project{}, err
	}
	project, err := s.store.FindProjectByID(ctx, projectID)
	if errors.Is(err, repository.ErrNotFound) {
		return repository.Project{}, domain.NewCommandMalformed("project not found")
	}
	if err != nil {
		return repository.Project{}, domain.NewUnexpected("project lookup failed", err)
	}
	return project, nil
}

func (s *Service) findLiveProject(ctx context.Context, projectID string) (repository.Project, error) {
	project, err := s.store.FindProjectByID(ctx, projectID)
	if errors.Is(err, repository.ErrNotFound) {
		return repository.Project{}, domain.NewCommandMalformed("project not found")
	}
	if err != nil {
		return repository.Project{}, domain.NewUnexpected("project lookup failed", err)
	}
	if project.Status == event.StatusDeleted {
		return repository.Project{}, domain.NewCommandMalformed("project is deleted")
	}
	return project, nil
}
