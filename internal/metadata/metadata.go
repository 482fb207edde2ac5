// Package metadata holds the per-kind resource metadata registered at boot:
// the CRD schema used for validation and status-field derivation, the plan
// and cost tables used for usage pricing, and the Handlebars template that
// renders human-readable annotations. The registry is immutable at runtime.
package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// CostEntry prices one tier: Delta per unit plus a monthly minimum.
type CostEntry struct {
	Minimum float64 `json:"minimum"`
	Delta   float64 `json:"delta"`
}

// PlanEntry describes how a kind is exposed on a given plan.
type PlanEntry struct {
	DNS  string   `json:"dns"`
	Cost *float64 `json:"cost,omitempty"`
}

// Metadata is everything the control plane knows about one resource kind.
type Metadata struct {
	Kind     string               `json:"kind"`
	Category string               `json:"category"`
	CRD      map[string]any       `json:"crd"`
	Plan     map[string]PlanEntry `json:"plan"`
	Cost     map[string]CostEntry `json:"cost"`
	Template string               `json:"template"`
}

// StatusProperties lists the property names of the CRD's status sub-schema.
// The resource aggregate derives values for the recognised subset
// (authToken, username, password) before emitting ResourceCreated.
func (m Metadata) StatusProperties() []string {
	props, ok := m.CRD["properties"].(map[string]any)
	if !ok {
		return nil
	}
	status, ok := props["status"].(map[string]any)
	if !ok {
		return nil
	}
	statusProps, ok := status["properties"].(map[string]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(statusProps))
	for name := range statusProps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CostFor returns the cost entry for a tier.
func (m Metadata) CostFor(tier string) (CostEntry, bool) {
	c, ok := m.Cost[tier]
	return c, ok
}

// KindResourceName is the kind rendered the way resource names and bech32
// HRPs use it: lowercased, with the trailing "port" stripped.
// "CardanoNodePort" → "cardanonode".
func KindResourceName(kind string) string {
	return strings.TrimSuffix(strings.ToLower(kind), "port")
}

// KindPlural is the CRD plural: lower(kind)+"s".
func KindPlural(kind string) string {
	return strings.ToLower(kind) + "s"
}

// Registry is the boot-time index of metadata by kind.
type Registry struct {
	byKind map[string]Metadata
}

// NewRegistry builds a registry from explicit entries.
func NewRegistry(entries ...Metadata) *Registry {
	byKind := make(map[string]Metadata, len(entries))
	for _, m := range entries {
		byKind[m.Kind] = m
	}
	return &Registry{byKind: byKind}
}

// LoadDir reads every *.json file under path into the registry.
func LoadDir(path string) (*Registry, error) {
	dirEntries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata dir: %w", err)
	}

	var entries []Metadata
	for _, de := range dirEntries {
		if de.IsDir() || filepath.Ext(de.Name()) != ".json" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(path, de.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", de.Name(), err)
		}
		var m Metadata
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("parse %s: %w", de.Name(), err)
		}
		if m.Kind == "" {
			return nil, fmt.Errorf("%s: missing kind", de.Name())
		}
		entries = append(entries, m)
	}
	return NewRegistry(entries...), nil
}

// Get looks a kind up.
func (r *Registry) Get(kind string) (Metadata, bool) {
	m, ok := r.byKind[kind]
	return m, ok
}

// Kinds lists every registered kind, sorted.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.byKind))
	for k := range r.byKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
