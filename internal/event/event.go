// Package event defines the closed set of Fabric domain events, their wire
// codec, and the durable bus they travel over.
//
// Every state transition in the control plane is captured as exactly one
// event appended to a single named stream. Records are partitioned by key:
// project events use the project id, usage events the cluster id. Ordering is
// guaranteed only within a key.
package event

import (
	"time"
)

// Status values shared by project and resource events.
const (
	StatusActive  = "active"
	StatusDeleted = "deleted"
)

// Event is one variant of the closed tagged union. EventType is the wire
// type tag; Key selects the partition the record is appended to.
type Event interface {
	EventType() string
	Key() string
}

// ProjectCreated announces a new project with its owner membership.
type ProjectCreated struct {
	ID                string    `json:"id"`
	Namespace         string    `json:"namespace"`
	Name              string    `json:"name"`
	Owner             string    `json:"owner"`
	Status            string    `json:"status"`
	BillingProvider   string    `json:"billing_provider"`
	BillingProviderID string    `json:"billing_provider_id"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (e ProjectCreated) EventType() string { return "ProjectCreated" }
func (e ProjectCreated) Key() string       { return e.ID }

// ProjectUpdated carries a partial patch; nil fields were not touched.
type ProjectUpdated struct {
	ID        string    `json:"id"`
	Name      *string   `json:"name,omitempty"`
	Status    *string   `json:"status,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (e ProjectUpdated) EventType() string { return "ProjectUpdated" }
func (e ProjectUpdated) Key() string       { return e.ID }

// ProjectDeleted is the single event from which every projector derives the
// full deletion cascade (project row, resource rows, namespace teardown).
type ProjectDeleted struct {
	ID        string    `json:"id"`
	Namespace string    `json:"namespace"`
	DeletedAt time.Time `json:"deleted_at"`
}

func (e ProjectDeleted) EventType() string { return "ProjectDeleted" }
func (e ProjectDeleted) Key() string       { return e.ID }

// ProjectSecretCreated records an issued API key. It carries the PHC string
// and the pepper bytes used as the Argon2 secret, never the clear key.
type ProjectSecretCreated struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	Name         string    `json:"name"`
	PHC          string    `json:"phc"`
	SaltedSecret []byte    `json:"salted_secret"`
	CreatedAt    time.Time `json:"created_at"`
}

func (e ProjectSecretCreated) EventType() string { return "ProjectSecretCreated" }
func (e ProjectSecretCreated) Key() string       { return e.ProjectID }

// ProjectUserInviteCreated issues a membership invitation.
type ProjectUserInviteCreated struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Email     string    `json:"email"`
	Code      string    `json:"code"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (e ProjectUserInviteCreated) EventType() string { return "ProjectUserInviteCreated" }
func (e ProjectUserInviteCreated) Key() string       { return e.ProjectID }

// ProjectUserInviteAccepted converts an invite into a membership.
type ProjectUserInviteAccepted struct {
	InviteID   string    `json:"invite_id"`
	ProjectID  string    `json:"project_id"`
	UserID     string    `json:"user_id"`
	Role       string    `json:"role"`
	AcceptedAt time.Time `json:"accepted_at"`
}

func (e ProjectUserInviteAccepted) EventType() string { return "ProjectUserInviteAccepted" }
func (e ProjectUserInviteAccepted) Key() string       { return e.ProjectID }

// ProjectUserDeleted removes a membership.
type ProjectUserDeleted struct {
	ProjectID string    `json:"project_id"`
	UserID    string    `json:"user_id"`
	DeletedAt time.Time `json:"deleted_at"`
}

func (e ProjectUserDeleted) EventType() string { return "ProjectUserDeleted" }
func (e ProjectUserDeleted) Key() string       { return e.ProjectID }

// ResourceCreated announces a tenant resource. Spec is the raw JSON object,
// already enriched with derived status fields.
type ResourceCreated struct {
	ID               string    `json:"id"`
	ProjectID        string    `json:"project_id"`
	ProjectNamespace string    `json:"project_namespace"`
	Name             string    `json:"name"`
	Kind             string    `json:"kind"`
	Category         string    `json:"category"`
	Spec             string    `json:"spec"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (e ResourceCreated) EventType() string { return "ResourceCreated" }
func (e ResourceCreated) Key() string       { return e.ProjectID }

// ResourceUpdated carries an RFC 7396 merge patch over the resource spec.
type ResourceUpdated struct {
	ID               string    `json:"id"`
	ProjectID        string    `json:"project_id"`
	ProjectNamespace string    `json:"project_namespace"`
	Name             string    `json:"name"`
	Kind             string    `json:"kind"`
	SpecPatch        string    `json:"spec_patch"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (e ResourceUpdated) EventType() string { return "ResourceUpdated" }
func (e ResourceUpdated) Key() string       { return e.ProjectID }

// ResourceDeleted tombstones a resource.
type ResourceDeleted struct {
	ID               string    `json:"id"`
	ProjectID        string    `json:"project_id"`
	ProjectNamespace string    `json:"project_namespace"`
	Name             string    `json:"name"`
	Kind             string    `json:"kind"`
	Status           string    `json:"status"`
	DeletedAt        time.Time `json:"deleted_at"`
}

func (e ResourceDeleted) EventType() string { return "ResourceDeleted" }
func (e ResourceDeleted) Key() string       { return e.ProjectID }

// UsageUnit is one scraped line inside a UsageCreated batch.
type UsageUnit struct {
	ProjectNamespace string  `json:"project_namespace"`
	ResourceName     string  `json:"resource_name"`
	Tier             string  `json:"tier"`
	Units            int64   `json:"units"`
	Interval         float64 `json:"interval"`
}

// UsageCreated bundles every usage line of one scrape window for a cluster.
type UsageCreated struct {
	ID        string      `json:"id"`
	ClusterID string      `json:"cluster_id"`
	Usages    []UsageUnit `json:"usages"`
	CreatedAt time.Time   `json:"created_at"`
}

func (e UsageCreated) EventType() string { return "UsageCreated" }
func (e UsageCreated) Key() string       { return e.ClusterID }
