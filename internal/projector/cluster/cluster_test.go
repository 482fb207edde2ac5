package cluster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	dynamicfake "k8s.io/client-go/dynamic/fake"

	"github.com/demeter-run/fabric-sub000/internal/event"
)

func newFakeClient() dynamic.Interface {
	return dynamicfake.NewSimpleDynamicClientWithCustomListKinds(
		runtime.NewScheme(),
		map[schema.GroupVersionResource]string{
			{Group: "demeter.run", Version: "v1alpha1", Resource: "cardanonodeports"}: "CardanoNodePortList",
			{Version: "v1", Resource: "namespaces"}:                                   "NamespaceList",
		},
	)
}

func newProjector(t *testing.T) (*Projector, dynamic.Interface) {
	t.Helper()
	client := newFakeClient()
	return NewProjector(client, zaptest.NewLogger(t)), client
}

func resourceCreated() event.ResourceCreated {
	return event.ResourceCreated{
		ID: "r1", ProjectID: "p1", ProjectNamespace: "prj-ab12cd",
		Name: "cardanonode-x1y2z3", Kind: "CardanoNodePort",
		Spec:      `{"network":"mainnet"}`,
		Status:    event.StatusActive,
		CreatedAt: time.Now().UTC(),
	}
}

func TestApplyResourceCreatedIdempotent(t *testing.T) {
	proj, client := newProjector(t)
	ctx := context.Background()
	ev := resourceCreated()

	require.NoError(t, proj.Apply(ctx, ev))
	require.NoError(t, proj.Apply(ctx, ev), "AlreadyExists is success")

	obj, err := client.Resource(resourceGVR("CardanoNodePort")).
		Namespace("prj-ab12cd").Get(ctx, "r1", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "CardanoNodePort", obj.GetKind())

	spec, _, err := unstructured.NestedMap(obj.Object, "spec")
	require.NoError(t, err)
	assert.Equal(t, "mainnet", spec["network"])
}

func TestApplyResourceCreatedBadSpecIsPoison(t *testing.T) {
	proj, _ := newProjector(t)
	ev := resourceCreated()
	ev.Spec = `not json`

	err := proj.Apply(context.Background(), ev)
	require.Error(t, err)
	var poison *event.PoisonError
	assert.True(t, errors.As(err, &poison))
}

func TestApplyResourceUpdated(t *testing.T) {
	proj, client := newProjector(t)
	ctx := context.Background()

	require.NoError(t, proj.Apply(ctx, resourceCreated()))
	require.NoError(t, proj.Apply(ctx, event.ResourceUpdated{
		ID: "r1", ProjectID: "p1", ProjectNamespace: "prj-ab12cd",
		Kind: "CardanoNodePort", SpecPatch: `{"version":"stable"}`,
		UpdatedAt: time.Now().UTC(),
	}))

	obj, err := client.Resource(resourceGVR("CardanoNodePort")).
		Namespace("prj-ab12cd").Get(ctx, "r1", metav1.GetOptions{})
	require.NoError(t, err)
	spec, _, err := unstructured.NestedMap(obj.Object, "spec")
	require.NoError(t, err)
	assert.Equal(t, "stable", spec["version"])
	assert.Equal(t, "mainnet", spec["network"])
}

func TestApplyResourceUpdatedBeforeCreateIsTransient(t *testing.T) {
	proj, _ := newProjector(t)

	err := proj.Apply(context.Background(), event.ResourceUpdated{
		ID: "missing", ProjectNamespace: "prj-ab12cd", Kind: "CardanoNodePort",
		SpecPatch: `{"version":"stable"}`,
	})
	require.Error(t, err)
	var poison *event.PoisonError
	assert.False(t, errors.As(err, &poison), "redeliver until the object is applied")
}

func TestApplyResourceDeleted(t *testing.T) {
	proj, client := newProjector(t)
	ctx := context.Background()

	require.NoError(t, proj.Apply(ctx, resourceCreated()))

	del := event.ResourceDeleted{
		ID: "r1", ProjectID: "p1", ProjectNamespace: "prj-ab12cd",
		Kind: "CardanoNodePort", Status: event.StatusDeleted, DeletedAt: time.Now().UTC(),
	}
	require.NoError(t, proj.Apply(ctx, del))
	require.NoError(t, proj.Apply(ctx, del), "NotFound is success")

	_, err := client.Resource(resourceGVR("CardanoNodePort")).
		Namespace("prj-ab12cd").Get(ctx, "r1", metav1.GetOptions{})
	require.Error(t, err)
}

func TestApplyProjectNamespaceLifecycle(t *testing.T) {
	proj, client := newProjector(t)
	ctx := context.Background()

	created := event.ProjectCreated{ID: "p1", Namespace: "prj-ab12cd"}
	require.NoError(t, proj.Apply(ctx, created))
	require.NoError(t, proj.Apply(ctx, created), "existing namespace is success")

	obj, err := client.Resource(namespaceGVR).Get(ctx, "prj-ab12cd", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Namespace", obj.GetKind())

	deleted := event.ProjectDeleted{ID: "p1", Namespace: "prj-ab12cd"}
	require.NoError(t, proj.Apply(ctx, deleted))
	require.NoError(t, proj.Apply(ctx, deleted))
}

func TestApplyIgnoresNonClusterEvents(t *testing.T) {
	proj, _ := newProjector(t)

	err := proj.Apply(context.Background(), event.ProjectSecretCreated{ID: "s1", ProjectID: "p1"})
	assert.NoError(t, err, "no orchestrator state, commit immediately")
}
