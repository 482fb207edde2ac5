// Package cluster projects resource and project events onto the Kubernetes
// orchestrator: one custom object per resource under the demeter.run group,
// one namespace per project. AlreadyExists on create and NotFound on delete
// are successes, so redelivered records converge instead of failing.
package cluster

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/demeter-run/fabric-sub000/internal/domain"
	"github.com/demeter-run/fabric-sub000/internal/event"
	"github.com/demeter-run/fabric-sub000/internal/metadata"
)

// Group is the durable consumer group of the cluster projector.
const Group = "fabric-cluster"

const (
	crdGroup   = "demeter.run"
	crdVersion = "v1alpha1"
)

var namespaceGVR = schema.GroupVersionResource{Version: "v1", Resource: "namespaces"}

func resourceGVR(kind string) schema.GroupVersionResource {
	return schema.GroupVersionResource{
		Group:    crdGroup,
		Version:  crdVersion,
		Resource: metadata.KindPlural(kind),
	}
}

// NewDynamicClient builds the orchestrator client. An empty kubeconfig path
// selects in-cluster configuration.
func NewDynamicClient(kubeconfig string) (dynamic.Interface, error) {
	var cfg *rest.Config
	var err error
	if kubeconfig == "" {
		cfg, err = rest.InClusterConfig()
	} else {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if err != nil {
		return nil, fmt.Errorf("kubernetes config: %w", err)
	}
	client, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("dynamic client: %w", err)
	}
	return client, nil
}

// Projector applies events to the orchestrator.
type Projector struct {
	client dynamic.Interface
	logger *zap.Logger
}

// NewProjector builds the cluster projector.
func NewProjector(client dynamic.Interface, logger *zap.Logger) *Projector {
	return &Projector{client: client, logger: logger}
}

// Apply projects one event. Events that carry no orchestrator state (secrets,
// memberships, usage) commit immediately.
func (p *Projector) Apply(ctx context.Context, ev event.Event) error {
	err := p.apply(ctx, ev)
	if err != nil {
		domain.CountError("cluster", "projector", err)
	}
	return err
}

func (p *Projector) apply(ctx context.Context, ev event.Event) error {
	switch e := ev.(type) {
	case event.ProjectCreated:
		return p.createNamespace(ctx, e.Namespace)
	case event.ProjectDeleted:
		return p.deleteNamespace(ctx, e.Namespace)
	case event.ResourceCreated:
		return p.createResource(ctx, e)
	case event.ResourceUpdated:
		return p.patchResource(ctx, e)
	case event.ResourceDeleted:
		return p.deleteResource(ctx, e)
	default:
		return nil
	}
}

func (p *Projector) createNamespace(ctx context.Context, name string) error {
	obj := &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "v1",
		"kind":       "Namespace",
		"metadata":   map[string]any{"name": name},
	}}
	_, err := p.client.Resource(namespaceGVR).Create(ctx, obj, metav1.CreateOptions{})
	if k8serrors.IsAlreadyExists(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create namespace %s: %w", name, err)
	}
	p.logger.Info("namespace created", zap.String("namespace", name))
	return nil
}

func (p *Projector) deleteNamespace(ctx context.Context, name string) error {
	err := p.client.Resource(namespaceGVR).Delete(ctx, name, metav1.DeleteOptions{})
	if k8serrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete namespace %s: %w", name, err)
	}
	p.logger.Info("namespace deleted", zap.String("namespace", name))
	return nil
}

func (p *Projector) createResource(ctx context.Context, e event.ResourceCreated) error {
	var spec map[string]any
	if err := json.Unmarshal([]byte(e.Spec), &spec); err != nil {
		return event.Poison(fmt.Errorf("resource %s spec: %w", e.ID, err))
	}

	obj := &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": crdGroup + "/" + crdVersion,
		"kind":       e.Kind,
		"metadata": map[string]any{
			"name":      e.ID,
			"namespace": e.ProjectNamespace,
		},
		"spec": spec,
	}}
	_, err := p.client.Resource(resourceGVR(e.Kind)).Namespace(e.ProjectNamespace).
		Create(ctx, obj, metav1.CreateOptions{})
	if k8serrors.IsAlreadyExists(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create %s %s: %w", e.Kind, e.ID, err)
	}
	p.logger.Info("orchestrator object created",
		zap.String("kind", e.Kind),
		zap.String("name", e.ID),
		zap.String("namespace", e.ProjectNamespace),
	)
	return nil
}

func (p *Projector) patchResource(ctx context.Context, e event.ResourceUpdated) error {
	patch, err := json.Marshal(map[string]json.RawMessage{"spec": json.RawMessage(e.SpecPatch)})
	if err != nil {
		return event.Poison(fmt.Errorf("resource %s patch: %w", e.ID, err))
	}

	_, err = p.client.Resource(resourceGVR(e.Kind)).Namespace(e.ProjectNamespace).
		Patch(ctx, e.ID, types.MergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		// NotFound included: the object may not be applied yet, redeliver.
		return fmt.Errorf("patch %s %s: %w", e.Kind, e.ID, err)
	}
	return nil
}

func (p *Projector) deleteResource(ctx context.Context, e event.ResourceDeleted) error {
	err := p.client.Resource(resourceGVR(e.Kind)).Namespace(e.ProjectNamespace).
		Delete(ctx, e.ID, metav1.DeleteOptions{})
	if k8serrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", e.Kind, e.ID, err)
	}
	p.logger.Info("orchestrator object deleted",
		zap.String("kind", e.Kind),
		zap.String("name", e.ID),
	)
	return nil
}
