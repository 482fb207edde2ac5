package secret

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/demeter-run/fabric-sub000/internal/auth"
	"github.com/demeter-run/fabric-sub000/internal/domain"
	"github.com/demeter-run/fabric-sub000/internal/event"
	"github.com/demeter-run/fabric-sub000/internal/repository"
)

// MaxSecrets is the per-project quota of active API keys.
const MaxSecrets = 2

// Store is the slice of the read model the secret aggregate needs.
type Store interface {
	FindProjectByID(ctx context.Context, id string) (repository.Project, error)
	FindSecretsByProject(ctx context.Context, projectID string) ([]repository.ProjectSecret, error)
}

// Service is the secret aggregate: it validates intent, emits
// ProjectSecretCreated, and verifies presented keys.
type Service struct {
	store     Store
	gate      *auth.Gate
	publisher event.Publisher
	pepper    []byte
	logger    *zap.Logger
}

// NewService wires the secret aggregate.
func NewService(store Store, gate *auth.Gate, publisher event.Publisher, pepper []byte, logger *zap.Logger) *Service {
	return &Service{store: store, gate: gate, publisher: publisher, pepper: pepper, logger: logger}
}

// CreateSecret issues a new API key for a project. The returned string is the
// bech32m-encoded clear key; it is never recoverable afterwards.
func (s *Service) CreateSecret(ctx context.Context, p auth.Principal, projectID, name string) (string, repository.ProjectSecret, error) {
	if err := auth.RequireToken(p); err != nil {
		return "", repository.ProjectSecret{}, err
	}
	if err := s.gate.AssertPermission(ctx, p, projectID, auth.RoleMember); err != nil {
		return "", repository.ProjectSecret{}, err
	}
	if name == "" {
		return "", repository.ProjectSecret{}, domain.NewCommandMalformed("name is required")
	}

	project, err := s.store.FindProjectByID(ctx, projectID)
	if errors.Is(err, repository.ErrNotFound) {
		return "", repository.ProjectSecret{}, domain.NewCommandMalformed("project not found")
	}
	if err != nil {
		return "", repository.ProjectSecret{}, domain.NewUnexpected("project lookup failed", err)
	}
	if project.Status == event.StatusDeleted {
		return "", repository.ProjectSecret{}, domain.NewCommandMalformed("project is deleted")
	}

	existing, err := s.store.FindSecretsByProject(ctx, projectID)
	if err != nil {
		return "", repository.ProjectSecret{}, domain.NewUnexpected("secret lookup failed", err)
	}
	if len(existing) >= MaxSecrets {
		return "", repository.ProjectSecret{}, domain.NewSecretExceeded("secret quota reached")
	}

	clearKey, err := GenerateKey()
	if err != nil {
		return "", repository.ProjectSecret{}, domain.NewUnexpected("key generation failed", err)
	}
	phc, err := HashKey([]byte(clearKey), s.pepper)
	if err != nil {
		return "", repository.ProjectSecret{}, domain.NewUnexpected("key hashing failed", err)
	}
	encoded, err := EncodeBech32(KeyHRP, []byte(clearKey))
	if err != nil {
		return "", repository.ProjectSecret{}, domain.NewUnexpected("key encoding failed", err)
	}

	ev := event.ProjectSecretCreated{
		ID:           uuid.NewString(),
		ProjectID:    projectID,
		Name:         name,
		PHC:          phc,
		SaltedSecret: s.pepper,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		return "", repository.ProjectSecret{}, domain.NewUnexpected("publish failed", err)
	}

	s.logger.Info("secret created",
		zap.String("project_id", projectID),
		zap.String("secret_id", ev.ID),
	)

	sec := repository.ProjectSecret{
		ID:           ev.ID,
		ProjectID:    projectID,
		Name:         name,
		PHC:          phc,
		SaltedSecret: s.pepper,
		CreatedAt:    ev.CreatedAt,
	}
	return encoded, sec, nil
}

// VerifySecret decodes a presented bech32 key and checks it against every
// stored secret of the project. All secrets are tried even after a match so
// timing does not reveal which key (if any) matched.
func (s *Service) VerifySecret(ctx context.Context, projectID, bech32Key string) (repository.ProjectSecret, error) {
	clearKey, err := DecodeBech32(KeyHRP, bech32Key)
	if err != nil {
		return repository.ProjectSecret{}, domain.NewUnauthorized("invalid api key")
	}

	secrets, err := s.store.FindSecretsByProject(ctx, projectID)
	if err != nil {
		return repository.ProjectSecret{}, domain.NewUnexpected("secret lookup failed", err)
	}

	var matched *repository.ProjectSecret
	for i := range secrets {
		if VerifyKey(secrets[i].PHC, clearKey, secrets[i].SaltedSecret) && matched == nil {
			matched = &secrets[i]
		}
	}
	if matched == nil {
		return repository.ProjectSecret{}, domain.NewUnauthorized("invalid api key")
	}
	return *matched, nil
}

// FetchSecrets lists a project's secrets for its members. PHC strings and
// pepper bytes are stripped before anything leaves the aggregate.
func (s *Service) FetchSecrets(ctx context.Context, p auth.Principal, projectID string) ([]repository.ProjectSecret, error) {
	if err := s.gate.AssertPermission(ctx, p, projectID, auth.RoleMember); err != nil {
		return nil, err
	}
	secrets, err := s.store.FindSecretsByProject(ctx, projectID)
	if err != nil {
		return nil, domain.NewUnexpected("secret lookup failed", err)
	}
	for i := range secrets {
		secrets[i].PHC = ""
		secrets[i].SaltedSecret = nil
	}
	return secrets, nil
}
