package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cardanoNodeMetadata() Metadata {
	return Metadata{
		Kind:     "CardanoNodePort",
		Category: "demeter-port",
		CRD: map[string]any{
			"properties": map[string]any{
				"spec": map[string]any{
					"properties": map[string]any{
						"network":        map[string]any{"type": "string"},
						"version":        map[string]any{"type": "string"},
						"throughputTier": map[string]any{"type": "string"},
					},
				},
				"status": map[string]any{
					"properties": map[string]any{
						"authToken":       map[string]any{"type": "string"},
						"authenticatedEndpointUrl": map[string]any{"type": "string"},
					},
				},
			},
		},
		Plan: map[string]PlanEntry{"CardanoNodePort": {DNS: "cnode.demeter.run"}},
		Cost: map[string]CostEntry{"1": {Minimum: 1.5, Delta: 0.002}},
		Template: "Network: {{network}}",
	}
}

func TestStatusProperties(t *testing.T) {
	m := cardanoNodeMetadata()
	assert.Equal(t, []string{"authToken", "authenticatedEndpointUrl"}, m.StatusProperties())

	assert.Nil(t, Metadata{CRD: map[string]any{}}.StatusProperties())
	assert.Nil(t, Metadata{}.StatusProperties())
}

func TestKindNaming(t *testing.T) {
	assert.Equal(t, "cardanonode", KindResourceName("CardanoNodePort"))
	assert.Equal(t, "utxorpc", KindResourceName("UtxoRpcPort"))
	assert.Equal(t, "frontend", KindResourceName("Frontend"))
	assert.Equal(t, "cardanonodeports", KindPlural("CardanoNodePort"))
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry(cardanoNodeMetadata())

	m, ok := r.Get("CardanoNodePort")
	require.True(t, ok)
	assert.Equal(t, "demeter-port", m.Category)

	_, ok = r.Get("UnknownPort")
	assert.False(t, ok)

	cost, ok := m.CostFor("1")
	require.True(t, ok)
	assert.Equal(t, 0.002, cost.Delta)
	_, ok = m.CostFor("0")
	assert.False(t, ok)

	assert.Equal(t, []string{"CardanoNodePort"}, r.Kinds())
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	raw := `{
		"kind": "KupoPort",
		"category": "demeter-port",
		"crd": {"properties": {"status": {"properties": {"authToken": {"type": "string"}}}}},
		"cost": {"1": {"minimum": 1, "delta": 0.001}},
		"template": "Pruned: {{pruneUtxo}}"
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kupo.json"), []byte(raw), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	r, err := LoadDir(dir)
	require.NoError(t, err)

	m, ok := r.Get("KupoPort")
	require.True(t, ok)
	assert.Equal(t, []string{"authToken"}, m.StatusProperties())

	// Malformed metadata fails the boot, not a later request.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o644))
	_, err = LoadDir(dir)
	require.Error(t, err)
}
