package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	jsonpatch "gopkg.in/evanphx/json-patch.v4"

	"github.com/demeter-run/fabric-sub000/internal/event"
	"github.com/demeter-run/fabric-sub000/internal/repository"
)

// memStore mimics the Postgres read model semantics in memory: conflict
// no-ops, the live-namespace and live-name partial unique indexes, absolute
// updates, and the (event_id, resource_id, tier) usage key.
type memStore struct {
	projects  map[string]repository.Project
	users     map[string]repository.ProjectUser // userID|projectID
	secrets   map[string]repository.ProjectSecret
	invites   map[string]repository.ProjectUserInvite
	resources map[string]repository.Resource
	usages    map[string]repository.UsageLine // eventID|resourceID|tier
}

func newMemStore() *memStore {
	return &memStore{
		projects:  map[string]repository.Project{},
		users:     map[string]repository.ProjectUser{},
		secrets:   map[string]repository.ProjectSecret{},
		invites:   map[string]repository.ProjectUserInvite{},
		resources: map[string]repository.Resource{},
		usages:    map[string]repository.UsageLine{},
	}
}

func (m *memStore) InsertProject(_ context.Context, p repository.Project) error {
	if _, ok := m.projects[p.ID]; ok {
		return nil
	}
	for _, other := range m.projects {
		if other.Namespace == p.Namespace && other.Status != event.StatusDeleted {
			return fmt.Errorf("namespace %s held by another live project: %w",
				p.Namespace, repository.ErrLiveConflict)
		}
	}
	m.projects[p.ID] = p
	m.users[p.Owner+"|"+p.ID] = repository.ProjectUser{
		UserID: p.Owner, ProjectID: p.ID, Role: "owner", CreatedAt: p.CreatedAt,
	}
	return nil
}

func (m *memStore) UpdateProject(_ context.Context, id string, name, status *string, updatedAt time.Time) error {
	p, ok := m.projects[id]
	if !ok {
		return nil
	}
	if name != nil {
		p.Name = *name
	}
	if status != nil {
		p.Status = *status
	}
	p.UpdatedAt = updatedAt
	m.projects[id] = p
	return nil
}

func (m *memStore) DeleteProjectCascade(_ context.Context, id string, deletedAt time.Time) error {
	if p, ok := m.projects[id]; ok {
		p.Status = event.StatusDeleted
		p.UpdatedAt = deletedAt
		m.projects[id] = p
	}
	for rid, r := range m.resources {
		if r.ProjectID == id && r.Status != event.StatusDeleted {
			r.Status = event.StatusDeleted
			r.UpdatedAt = deletedAt
			m.resources[rid] = r
		}
	}
	return nil
}

func (m *memStore) InsertProjectUser(_ context.Context, u repository.ProjectUser) error {
	key := u.UserID + "|" + u.ProjectID
	if _, ok := m.users[key]; !ok {
		m.users[key] = u
	}
	return nil
}

func (m *memStore) DeleteProjectUser(_ context.Context, userID, projectID string) error {
	delete(m.users, userID+"|"+projectID)
	return nil
}

func (m *memStore) InsertSecret(_ context.Context, sec repository.ProjectSecret) error {
	if _, ok := m.secrets[sec.ID]; !ok {
		m.secrets[sec.ID] = sec
	}
	return nil
}

func (m *memStore) InsertInvite(_ context.Context, inv repository.ProjectUserInvite) error {
	if _, ok := m.invites[inv.ID]; !ok {
		m.invites[inv.ID] = inv
	}
	return nil
}

func (m *memStore) AcceptInvite(_ context.Context, inviteID, projectID, userID, role string, acceptedAt time.Time) error {
	if inv, ok := m.invites[inviteID]; ok && inv.AcceptedBy == nil {
		inv.AcceptedBy = &userID
		inv.AcceptedAt = &acceptedAt
		m.invites[inviteID] = inv
	}
	return m.InsertProjectUser(context.Background(), repository.ProjectUser{
		UserID: userID, ProjectID: projectID, Role: role, CreatedAt: acceptedAt,
	})
}

func (m *memStore) InsertResource(_ context.Context, r repository.Resource) error {
	if _, ok := m.resources[r.ID]; ok {
		return nil
	}
	for _, other := range m.resources {
		if other.ProjectID == r.ProjectID && other.Name == r.Name && other.Status != event.StatusDeleted {
			return fmt.Errorf("name %s held by another live resource: %w",
				r.Name, repository.ErrLiveConflict)
		}
	}
	m.resources[r.ID] = r
	return nil
}

func (m *memStore) MergeResourceSpec(_ context.Context, id, specPatch string, updatedAt time.Time) error {
	r, ok := m.resources[id]
	if !ok {
		return repository.ErrNotFound
	}
	merged, err := jsonpatch.MergePatch([]byte(r.Spec), []byte(specPatch))
	if err != nil {
		return err
	}
	r.Spec = string(merged)
	r.UpdatedAt = updatedAt
	m.resources[id] = r
	return nil
}

func (m *memStore) MarkResourceDeleted(_ context.Context, id string, deletedAt time.Time) error {
	if r, ok := m.resources[id]; ok {
		r.Status = event.StatusDeleted
		r.UpdatedAt = deletedAt
		m.resources[id] = r
	}
	return nil
}

func (m *memStore) InsertUsageBatch(_ context.Context, eventID, _ string, _ time.Time, lines []repository.UsageLine) error {
	type resolved struct {
		key  string
		line repository.UsageLine
	}
	var batch []resolved
	for _, line := range lines {
		var resourceID string
		for _, r := range m.resources {
			p, ok := m.projects[r.ProjectID]
			if ok && p.Namespace == line.ProjectNamespace && r.Name == line.ResourceName {
				resourceID = r.ID
				break
			}
		}
		if resourceID == "" {
			return repository.ErrUnresolvedResource
		}
		batch = append(batch, resolved{key: eventID + "|" + resourceID + "|" + line.Tier, line: line})
	}
	for _, item := range batch {
		if _, ok := m.usages[item.key]; !ok {
			m.usages[item.key] = item.line
		}
	}
	return nil
}

// ── fixtures ──────────────────────────────────────────────────────────────

func projectCreated() event.ProjectCreated {
	now := time.Now().UTC()
	return event.ProjectCreated{
		ID: "p1", Namespace: "prj-ab12cd", Name: "Acme", Owner: "u1",
		Status: event.StatusActive, CreatedAt: now, UpdatedAt: now,
	}
}

func resourceCreated() event.ResourceCreated {
	now := time.Now().UTC()
	return event.ResourceCreated{
		ID: "r1", ProjectID: "p1", ProjectNamespace: "prj-ab12cd",
		Name: "cardanonode-x1y2z3", Kind: "CardanoNodePort", Category: "demeter-port",
		Spec: `{"network":"mainnet","throughputTier":["a","b"]}`, Status: event.StatusActive,
		CreatedAt: now, UpdatedAt: now,
	}
}

func newProjector(t *testing.T) (*Projector, *memStore) {
	t.Helper()
	store := newMemStore()
	return NewProjector(store, zaptest.NewLogger(t)), store
}

// ── tests ─────────────────────────────────────────────────────────────────

func TestApplyProjectCreatedIdempotent(t *testing.T) {
	proj, store := newProjector(t)
	ctx := context.Background()
	ev := projectCreated()

	require.NoError(t, proj.Apply(ctx, ev))
	require.NoError(t, proj.Apply(ctx, ev), "redelivery is a no-op")

	assert.Len(t, store.projects, 1)
	assert.Contains(t, store.users, "u1|p1", "owner membership projected")
	assert.Equal(t, "owner", store.users["u1|p1"].Role)
}

func TestApplyProjectCreatedLosingNamespaceRaceIsPoison(t *testing.T) {
	proj, store := newProjector(t)
	ctx := context.Background()

	require.NoError(t, proj.Apply(ctx, projectCreated()))

	// Both commands passed the namespace check before either projection
	// landed; the second event carries a different id but the same namespace.
	loser := projectCreated()
	loser.ID = "p2"
	loser.Owner = "u2"
	err := proj.Apply(ctx, loser)
	require.Error(t, err)
	var poison *event.PoisonError
	assert.True(t, errors.As(err, &poison), "a record that can never apply must be terminated, not redelivered")
	assert.Len(t, store.projects, 1)
	assert.NotContains(t, store.users, "u2|p2")

	// A deleted project releases the namespace.
	require.NoError(t, proj.Apply(ctx, event.ProjectDeleted{
		ID: "p1", Namespace: "prj-ab12cd", DeletedAt: time.Now().UTC(),
	}))
	require.NoError(t, proj.Apply(ctx, loser))
	assert.Len(t, store.projects, 2)
}

func TestApplyResourceCreatedLosingNameRaceIsPoison(t *testing.T) {
	proj, store := newProjector(t)
	ctx := context.Background()

	require.NoError(t, proj.Apply(ctx, projectCreated()))
	require.NoError(t, proj.Apply(ctx, resourceCreated()))

	loser := resourceCreated()
	loser.ID = "r2"
	err := proj.Apply(ctx, loser)
	require.Error(t, err)
	var poison *event.PoisonError
	assert.True(t, errors.As(err, &poison))
	assert.Len(t, store.resources, 1)
}

func TestApplyProjectDeletedCascades(t *testing.T) {
	proj, store := newProjector(t)
	ctx := context.Background()

	require.NoError(t, proj.Apply(ctx, projectCreated()))
	require.NoError(t, proj.Apply(ctx, resourceCreated()))

	del := event.ProjectDeleted{ID: "p1", Namespace: "prj-ab12cd", DeletedAt: time.Now().UTC()}
	require.NoError(t, proj.Apply(ctx, del))
	require.NoError(t, proj.Apply(ctx, del), "cascade is idempotent")

	assert.Equal(t, event.StatusDeleted, store.projects["p1"].Status)
	assert.Equal(t, event.StatusDeleted, store.resources["r1"].Status)
}

func TestApplyInviteLifecycle(t *testing.T) {
	proj, store := newProjector(t)
	ctx := context.Background()

	require.NoError(t, proj.Apply(ctx, projectCreated()))
	require.NoError(t, proj.Apply(ctx, event.ProjectUserInviteCreated{
		ID: "i1", ProjectID: "p1", Email: "new@acme.io", Code: "c0de",
		Role: "member", ExpiresAt: time.Now().Add(time.Hour),
	}))
	require.NoError(t, proj.Apply(ctx, event.ProjectUserInviteAccepted{
		InviteID: "i1", ProjectID: "p1", UserID: "u2", Role: "member",
		AcceptedAt: time.Now().UTC(),
	}))

	require.Contains(t, store.users, "u2|p1")
	assert.Equal(t, "member", store.users["u2|p1"].Role)
	require.NotNil(t, store.invites["i1"].AcceptedBy)
	assert.Equal(t, "u2", *store.invites["i1"].AcceptedBy)

	require.NoError(t, proj.Apply(ctx, event.ProjectUserDeleted{
		ProjectID: "p1", UserID: "u2", DeletedAt: time.Now().UTC(),
	}))
	assert.NotContains(t, store.users, "u2|p1")
}

func TestApplyResourceUpdatedMergesSpec(t *testing.T) {
	proj, store := newProjector(t)
	ctx := context.Background()

	require.NoError(t, proj.Apply(ctx, projectCreated()))
	require.NoError(t, proj.Apply(ctx, resourceCreated()))

	require.NoError(t, proj.Apply(ctx, event.ResourceUpdated{
		ID: "r1", ProjectID: "p1", SpecPatch: `{"version":"stable","throughputTier":["c"]}`,
		UpdatedAt: time.Now().UTC(),
	}))

	spec := store.resources["r1"].Spec
	assert.Contains(t, spec, `"network":"mainnet"`, "untouched fields survive")
	assert.Contains(t, spec, `"version":"stable"`)
	assert.Contains(t, spec, `["c"]`, "arrays are replaced, not merged")
	assert.NotContains(t, spec, `"a"`)
}

func TestApplyResourceUpdatedBeforeCreateIsTransient(t *testing.T) {
	proj, _ := newProjector(t)

	err := proj.Apply(context.Background(), event.ResourceUpdated{
		ID: "r1", SpecPatch: `{"version":"stable"}`, UpdatedAt: time.Now().UTC(),
	})
	require.Error(t, err)
	var poison *event.PoisonError
	assert.False(t, errors.As(err, &poison), "out-of-order update must be redelivered, not terminated")
}

func TestApplyUsageCreated(t *testing.T) {
	proj, store := newProjector(t)
	ctx := context.Background()

	usage := event.UsageCreated{
		ID: "e1", ClusterID: "cluster-1", CreatedAt: time.Now().UTC(),
		Usages: []event.UsageUnit{
			{ProjectNamespace: "prj-ab12cd", ResourceName: "cardanonode-x1y2z3", Tier: "1", Units: 120, Interval: 5},
		},
	}

	// Batch before its resource: transient, whole batch retried.
	err := proj.Apply(ctx, usage)
	require.Error(t, err)
	assert.True(t, errors.Is(err, repository.ErrUnresolvedResource))
	var poison *event.PoisonError
	assert.False(t, errors.As(err, &poison))

	require.NoError(t, proj.Apply(ctx, projectCreated()))
	require.NoError(t, proj.Apply(ctx, resourceCreated()))

	require.NoError(t, proj.Apply(ctx, usage))
	require.NoError(t, proj.Apply(ctx, usage), "redelivered batch dedupes")
	assert.Len(t, store.usages, 1)
}

func TestApplySecretCreated(t *testing.T) {
	proj, store := newProjector(t)
	ctx := context.Background()

	ev := event.ProjectSecretCreated{
		ID: "s1", ProjectID: "p1", Name: "Key 1", PHC: "$argon2id$...",
		SaltedSecret: []byte("pepper"), CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, proj.Apply(ctx, ev))
	require.NoError(t, proj.Apply(ctx, ev))
	assert.Len(t, store.secrets, 1)
}

func TestApplyProjectUpdatedPatchSemantics(t *testing.T) {
	proj, store := newProjector(t)
	ctx := context.Background()

	require.NoError(t, proj.Apply(ctx, projectCreated()))

	name := "Renamed"
	require.NoError(t, proj.Apply(ctx, event.ProjectUpdated{
		ID: "p1", Name: &name, UpdatedAt: time.Now().UTC(),
	}))

	assert.Equal(t, "Renamed", store.projects["p1"].Name)
	assert.Equal(t, event.StatusActive, store.projects["p1"].Status, "absent fields untouched")
}
