package resource

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aymerick/raymond"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/demeter-run/fabric-sub000/internal/auth"
	"github.com/demeter-run/fabric-sub000/internal/domain"
	"github.com/demeter-run/fabric-sub000/internal/event"
	"github.com/demeter-run/fabric-sub000/internal/metadata"
	"github.com/demeter-run/fabric-sub000/internal/repository"
)

// Store is the slice of the read model the resource aggregate needs.
type Store interface {
	FindProjectByID(ctx context.Context, id string) (repository.Project, error)
	FindResourceByID(ctx context.Context, id string) (repository.Resource, error)
	FindResourceByName(ctx context.Context, projectID, name string) (repository.Resource, error)
	FindResourcesByProject(ctx context.Context, projectID string, page, pageSize int) ([]repository.Resource, error)
}

// AnnotatedResource is a read-model resource plus its rendered annotations.
// Annotations is empty when the kind has no template or rendering failed.
type AnnotatedResource struct {
	repository.Resource
	Annotations string
}

// Service is the resource aggregate.
type Service struct {
	store     Store
	gate      *auth.Gate
	publisher event.Publisher
	registry  *metadata.Registry
	logger    *zap.Logger
}

// NewService wires the resource aggregate.
func NewService(store Store, gate *auth.Gate, publisher event.Publisher, registry *metadata.Registry, logger *zap.Logger) *Service {
	return &Service{store: store, gate: gate, publisher: publisher, registry: registry, logger: logger}
}

// CreateResource provisions a resource of a registered kind. The random name
// is drawn once; a collision with a live resource of the project surfaces as
// Unexpected so the caller retries with a fresh draw.
func (s *Service) CreateResource(ctx context.Context, p auth.Principal, projectID, kind, specJSON string) (event.ResourceCreated, error) {
	if err := s.gate.AssertPermission(ctx, p, projectID, auth.RoleMember); err != nil {
		return event.ResourceCreated{}, err
	}

	meta, ok := s.registry.Get(kind)
	if !ok {
		return event.ResourceCreated{}, domain.NewCommandMalformed("unknown kind")
	}

	var spec map[string]any
	if err := json.Unmarshal([]byte(specJSON), &spec); err != nil || spec == nil {
		return event.ResourceCreated{}, domain.NewCommandMalformed("spec must be a JSON object")
	}

	project, err := s.findLiveProject(ctx, projectID)
	if err != nil {
		return event.ResourceCreated{}, err
	}

	name, err := NewResourceName(kind)
	if err != nil {
		return event.ResourceCreated{}, domain.NewUnexpected("name generation failed", err)
	}
	_, err = s.store.FindResourceByName(ctx, projectID, name)
	if err == nil {
		return event.ResourceCreated{}, domain.NewUnexpected("invalid random name, try again", nil)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return event.ResourceCreated{}, domain.NewUnexpected("name lookup failed", err)
	}

	id := uuid.NewString()
	for _, prop := range meta.StatusProperties() {
		value, derived, err := DeriveStatusValue(prop, kind, projectID, id)
		if err != nil {
			return event.ResourceCreated{}, domain.NewUnexpected("status derivation failed", err)
		}
		if derived {
			spec[prop] = value
		}
	}
	enriched, err := json.Marshal(spec)
	if err != nil {
		return event.ResourceCreated{}, domain.NewUnexpected("spec encoding failed", err)
	}

	now := time.Now().UTC()
	ev := event.ResourceCreated{
		ID:               id,
		ProjectID:        projectID,
		ProjectNamespace: project.Namespace,
		Name:             name,
		Kind:             kind,
		Category:         meta.Category,
		Spec:             string(enriched),
		Status:           event.StatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		return event.ResourceCreated{}, domain.NewUnexpected("publish failed", err)
	}

	s.logger.Info("resource created",
		zap.String("resource_id", ev.ID),
		zap.String("project_id", projectID),
		zap.String("kind", kind),
	)
	return ev, nil
}

// UpdateResource emits a merge patch over the resource spec. The patch itself
// must be a JSON object; the merge is applied downstream by the cache
// projector.
func (s *Service) UpdateResource(ctx context.Context, p auth.Principal, resourceID, specPatch string) (event.ResourceUpdated, error) {
	res, err := s.findLiveResource(ctx, resourceID)
	if err != nil {
		return event.ResourceUpdated{}, err
	}
	if err := s.gate.AssertPermission(ctx, p, res.ProjectID, auth.RoleMember); err != nil {
		return event.ResourceUpdated{}, err
	}

	var patch map[string]any
	if err := json.Unmarshal([]byte(specPatch), &patch); err != nil || patch == nil {
		return event.ResourceUpdated{}, domain.NewCommandMalformed("spec_patch must be a JSON object")
	}

	project, err := s.findLiveProject(ctx, res.ProjectID)
	if err != nil {
		return event.ResourceUpdated{}, err
	}

	ev := event.ResourceUpdated{
		ID:               res.ID,
		ProjectID:        res.ProjectID,
		ProjectNamespace: project.Namespace,
		Name:             res.Name,
		Kind:             res.Kind,
		SpecPatch:        specPatch,
		UpdatedAt:        time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		return event.ResourceUpdated{}, domain.NewUnexpected("publish failed", err)
	}
	return ev, nil
}

// DeleteResource tombstones a resource.
func (s *Service) DeleteResource(ctx context.Context, p auth.Principal, resourceID string) error {
	res, err := s.findLiveResource(ctx, resourceID)
	if err != nil {
		return err
	}
	if err := s.gate.AssertPermission(ctx, p, res.ProjectID, auth.RoleMember); err != nil {
		return err
	}
	project, err := s.findLiveProject(ctx, res.ProjectID)
	if err != nil {
		return err
	}

	ev := event.ResourceDeleted{
		ID:               res.ID,
		ProjectID:        res.ProjectID,
		ProjectNamespace: project.Namespace,
		Name:             res.Name,
		Kind:             res.Kind,
		Status:           event.StatusDeleted,
		DeletedAt:        time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		return domain.NewUnexpected("publish failed", err)
	}

	s.logger.Info("resource deleted", zap.String("resource_id", res.ID))
	return nil
}

// FetchResources pages through a project's live resources with annotations.
func (s *Service) FetchResources(ctx context.Context, p auth.Principal, projectID string, page, pageSize int) ([]AnnotatedResource, error) {
	if err := s.gate.AssertPermission(ctx, p, projectID, auth.RoleMember); err != nil {
		return nil, err
	}
	page, pageSize, err := domain.NormalizePage(page, pageSize)
	if err != nil {
		return nil, err
	}
	resources, err := s.store.FindResourcesByProject(ctx, projectID, page, pageSize)
	if err != nil {
		return nil, domain.NewUnexpected("resource listing failed", err)
	}

	out := make([]AnnotatedResource, 0, len(resources))
	for _, r := range resources {
		out = append(out, AnnotatedResource{Resource: r, Annotations: s.renderAnnotations(r)})
	}
	return out, nil
}

// FetchResourceByID returns one resource, annotated, to project members.
func (s *Service) FetchResourceByID(ctx context.Context, p auth.Principal, resourceID string) (AnnotatedResource, error) {
	res, err := s.store.FindResourceByID(ctx, resourceID)
	if errors.Is(err, repository.ErrNotFound) {
		return AnnotatedResource{}, domain.NewCommandMalformed("resource not found")
	}
	if err != nil {
		return AnnotatedResource{}, domain.NewUnexpected("resource lookup failed", err)
	}
	if err := s.gate.AssertPermission(ctx, p, res.ProjectID, auth.RoleMember); err != nil {
		return AnnotatedResource{}, err
	}
	return AnnotatedResource{Resource: res, Annotations: s.renderAnnotations(res)}, nil
}

// renderAnnotations runs the kind's Handlebars template over the stored spec.
// Best-effort: any failure logs and returns empty annotations.
func (s *Service) renderAnnotations(r repository.Resource) string {
	meta, ok := s.registry.Get(r.Kind)
	if !ok || meta.Template == "" {
		return ""
	}
	var spec map[string]any
	if err := json.Unmarshal([]byte(r.Spec), &spec); err != nil {
		s.logger.Warn("annotation spec parse failed",
			zap.String("resource_id", r.ID), zap.Error(err))
		return ""
	}
	rendered, err := raymond.Render(meta.Template, map[string]any{
		"name": r.Name,
		"spec": spec,
	})
	if err != nil {
		s.logger.Warn("annotation render failed",
			zap.String("resource_id", r.ID), zap.Error(err))
		return ""
	}
	return rendered
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

func (s *Service) findLiveResource(ctx context.Context, resourceID string) (repository.Resource, error) {
	res, err := s.store.FindResourceByID(ctx, resourceID)
	if errors.Is(err, repository.ErrNotFound) {
		return repository.Resource{}, domain.NewCommandMalformed("resource not found")
	}
	if err != nil {
		return repository.Resource{}, domain.NewUnexpected("resource lookup failed", err)
	}
	if res.Status == event.StatusDeleted {
		return repository.Resource{}, domain.NewCommandMalformed("resource is deleted")
	}
	return res, nil
}
