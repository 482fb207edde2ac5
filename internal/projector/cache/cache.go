// Package cache projects the event log into the Postgres read model. Every
// write is idempotent, so redelivered records collapse into the state already
// projected and the read model can be rebuilt from scratch by replaying the
// stream into a fresh database.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/demeter-run/fabric-sub000/internal/domain"
	"github.com/demeter-run/fabric-sub000/internal/event"
	"github.com/demeter-run/fabric-sub000/internal/repository"
)

// Group is the durable consumer group of the cache projector.
const Group = "fabric-cache"

// Store is the write side of the read model.
type Store interface {
	InsertProject(ctx context.Context, p repository.Project) error
	UpdateProject(ctx context.Context, id string, name, status *string, updatedAt time.Time) error
	DeleteProjectCascade(ctx context.Context, id string, deletedAt time.Time) error
	InsertProjectUser(ctx context.Context, u repository.ProjectUser) error
	DeleteProjectUser(ctx context.Context, userID, projectID string) error
	InsertSecret(ctx context.Context, sec repository.ProjectSecret) error
	InsertInvite(ctx context.Context, inv repository.ProjectUserInvite) error
	AcceptInvite(ctx context.Context, inviteID, projectID, userID, role string, acceptedAt time.Time) error
	InsertResource(ctx context.Context, r repository.Resource) error
	MergeResourceSpec(ctx context.Context, id, specPatch string, updatedAt time.Time) error
	MarkResourceDeleted(ctx context.Context, id string, deletedAt time.Time) error
	InsertUsageBatch(ctx context.Context, eventID, clusterID string, createdAt time.Time, lines []repository.UsageLine) error
}

// Projector applies events to the read model.
type Projector struct {
	store  Store
	logger *zap.Logger
}

// NewProjector builds the cache projector.
func NewProjector(store Store, logger *zap.Logger) *Projector {
	return &Projector{store: store, logger: logger}
}

// Apply projects one event. A nil return commits the offset; a plain error is
// redelivered; a poison error is terminated.
func (p *Projector) Apply(ctx context.Context, ev event.Event) error {
	err := p.apply(ctx, ev)
	if err != nil {
		domain.CountError("cache", "projector", err)
	}
	return err
}

func (p *Projector) apply(ctx context.Context, ev event.Event) error {
	switch e := ev.(type) {
	case event.ProjectCreated:
		err := p.store.InsertProject(ctx, repository.Project{
			ID:                e.ID,
			Namespace:         e.Namespace,
			Name:              e.Name,
			Owner:             e.Owner,
			Status:            e.Status,
			BillingProvider:   e.BillingProvider,
			BillingProviderID: e.BillingProviderID,
			CreatedAt:         e.CreatedAt,
			UpdatedAt:         e.UpdatedAt,
		})
		if errors.Is(err, repository.ErrLiveConflict) {
			// Lost the namespace race to an earlier event; no redelivery
			// can ever apply this record.
			return event.Poison(err)
		}
		return err

	case event.ProjectUpdated:
		return p.store.UpdateProject(ctx, e.ID, e.Name, e.Status, e.UpdatedAt)

	case event.ProjectDeleted:
		return p.store.DeleteProjectCascade(ctx, e.ID, e.DeletedAt)

	case event.ProjectSecretCreated:
		return p.store.InsertSecret(ctx, repository.ProjectSecret{
			ID:           e.ID,
			ProjectID:    e.ProjectID,
			Name:         e.Name,
			PHC:          e.PHC,
			SaltedSecret: e.SaltedSecret,
			CreatedAt:    e.CreatedAt,
		})

	case event.ProjectUserInviteCreated:
		return p.store.InsertInvite(ctx, repository.ProjectUserInvite{
			ID:        e.ID,
			ProjectID: e.ProjectID,
			Email:     e.Email,
			Code:      e.Code,
			Role:      e.Role,
			ExpiresAt: e.ExpiresAt,
		})

	case event.ProjectUserInviteAccepted:
		return p.store.AcceptInvite(ctx, e.InviteID, e.ProjectID, e.UserID, e.Role, e.AcceptedAt)

	case event.ProjectUserDeleted:
		return p.store.DeleteProjectUser(ctx, e.UserID, e.ProjectID)

	case event.ResourceCreated:
		err := p.store.InsertResource(ctx, repository.Resource{
			ID:        e.ID,
			ProjectID: e.ProjectID,
			Name:      e.Name,
			Kind:      e.Kind,
			Category:  e.Category,
			Spec:      e.Spec,
			Status:    e.Status,
			CreatedAt: e.CreatedAt,
			UpdatedAt: e.UpdatedAt,
		})
		if errors.Is(err, repository.ErrLiveConflict) {
			// Lost the (project, name) race to an earlier event.
			return event.Poison(err)
		}
		return err

	case event.ResourceUpdated:
		err := p.store.MergeResourceSpec(ctx, e.ID, e.SpecPatch, e.UpdatedAt)
		if errors.Is(err, repository.ErrNotFound) {
			// Arrived before its ResourceCreated; redeliver.
			return fmt.Errorf("resource %s not projected yet: %w", e.ID, err)
		}
		return err

	case event.ResourceDeleted:
		return p.store.MarkResourceDeleted(ctx, e.ID, e.DeletedAt)

	case event.UsageCreated:
		lines := make([]repository.UsageLine, 0, len(e.Usages))
		for _, u := range e.Usages {
			lines = append(lines, repository.UsageLine{
				ProjectNamespace: u.ProjectNamespace,
				ResourceName:     u.ResourceName,
				Tier:             u.Tier,
				Units:            u.Units,
				Interval:         u.Interval,
			})
		}
		// ErrUnresolvedResource bubbles up as transient: the batch raced its
		// ResourceCreated and wins on redelivery.
		return p.store.InsertUsageBatch(ctx, e.ID, e.ClusterID, e.CreatedAt, lines)

	default:
		return event.Poison(fmt.Errorf("unhandled event type %s", ev.EventType()))
	}
}
