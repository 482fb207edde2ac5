package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalDecodeRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	name := "renamed"

	events := []Event{
		ProjectCreated{
			ID: "p1", Namespace: "prj-ab12cd", Name: "Acme", Owner: "user-1",
			Status: StatusActive, BillingProvider: "stripe", BillingProviderID: "cus_1",
			CreatedAt: now, UpdatedAt: now,
		},
		ProjectUpdated{ID: "p1", Name: &name, UpdatedAt: now},
		ProjectDeleted{ID: "p1", Namespace: "prj-ab12cd", DeletedAt: now},
		ProjectSecretCreated{ID: "s1", ProjectID: "p1", Name: "Key 1", PHC: "$argon2id$...", SaltedSecret: []byte("pepper"), CreatedAt: now},
		ProjectUserInviteCreated{ID: "i1", ProjectID: "p1", Email: "a@b.c", Code: "xyz", Role: "member", ExpiresAt: now},
		ProjectUserInviteAccepted{InviteID: "i1", ProjectID: "p1", UserID: "user-2", Role: "member", AcceptedAt: now},
		ProjectUserDeleted{ProjectID: "p1", UserID: "user-2", DeletedAt: now},
		ResourceCreated{ID: "r1", ProjectID: "p1", ProjectNamespace: "prj-ab12cd", Name: "cardanonode-x1y2z3", Kind: "CardanoNodePort", Category: "demeter-port", Spec: `{"network":"mainnet"}`, Status: StatusActive, CreatedAt: now, UpdatedAt: now},
		ResourceUpdated{ID: "r1", ProjectID: "p1", ProjectNamespace: "prj-ab12cd", Name: "cardanonode-x1y2z3", Kind: "CardanoNodePort", SpecPatch: `{"throughputTier":"2"}`, UpdatedAt: now},
		ResourceDeleted{ID: "r1", ProjectID: "p1", ProjectNamespace: "prj-ab12cd", Name: "cardanonode-x1y2z3", Kind: "CardanoNodePort", Status: StatusDeleted, DeletedAt: now},
		UsageCreated{ID: "u1", ClusterID: "c1", Usages: []UsageUnit{{ProjectNamespace: "prj-ab12cd", ResourceName: "cardanonode-x1y2z3", Tier: "1", Units: 120, Interval: 60}}, CreatedAt: now},
	}

	for _, ev := range events {
		t.Run(ev.EventType(), func(t *testing.T) {
			tag, data, err := Marshal(ev)
			require.NoError(t, err)
			assert.Equal(t, ev.EventType(), tag)

			decoded, err := Decode(tag, data)
			require.NoError(t, err)
			assert.Equal(t, ev, decoded)
		})
	}
}

func TestDecodeUnknownTag(t *testing.T) {
	_, err := Decode("ProjectExploded", []byte(`{}`))
	require.Error(t, err)

	var unknown *ErrUnknownEventType
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "ProjectExploded", unknown.Tag)
}

func TestDecodeLegacyProjectCreated(t *testing.T) {
	// Records written before status/timestamps/billing existed must decode
	// with defaults rather than fail.
	raw := []byte(`{"id":"p1","namespace":"prj-ab12cd","name":"Acme","owner":"user-1"}`)

	decoded, err := Decode("ProjectCreated", raw)
	require.NoError(t, err)

	ev, ok := decoded.(ProjectCreated)
	require.True(t, ok)
	assert.Equal(t, StatusActive, ev.Status)
	assert.False(t, ev.CreatedAt.IsZero())
	assert.Equal(t, ev.CreatedAt, ev.UpdatedAt)
	assert.Empty(t, ev.BillingProvider)
}

func TestEventKeys(t *testing.T) {
	assert.Equal(t, "p1", ProjectCreated{ID: "p1"}.Key())
	assert.Equal(t, "p1", ResourceCreated{ID: "r1", ProjectID: "p1"}.Key())
	assert.Equal(t, "p1", ProjectSecretCreated{ID: "s1", ProjectID: "p1"}.Key())
	assert.Equal(t, "c1", UsageCreated{ID: "u1", ClusterID: "c1"}.Key())
}

func TestPoisonWrapping(t *testing.T) {
	assert.Nil(t, Poison(nil))

	err := Poison(assert.AnError)
	var poison *PoisonError
	require.ErrorAs(t, err, &poison)
	assert.ErrorIs(t, err, assert.AnError)
}
