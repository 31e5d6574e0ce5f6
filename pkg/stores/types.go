package stores

import (
	"context"
	"time"
)

// DeploymentStatus represents the status of a deployment pass.
type DeploymentStatus string

const (
	DeploymentStatusRunning   DeploymentStatus = "running"
	DeploymentStatusCompleted DeploymentStatus = "completed"
	DeploymentStatusPartial   DeploymentStatus = "partial"
	DeploymentStatusFailed    DeploymentStatus = "failed"
)

// Deployment represents one reconciliation pass over a policy file.
type Deployment struct {
	ID          string           `json:"id"`
	Source      string           `json:"source"` // policy file path
	Status      DeploymentStatus `json:"status"`
	Policies    int              `json:"policies"`
	Changed     int              `json:"changed"`
	Failed      int              `json:"failed"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// RevisionAction describes what a pass did to one policy function.
type RevisionAction string

const (
	RevisionActionCreated   RevisionAction = "created"
	RevisionActionUpdated   RevisionAction = "updated"
	RevisionActionUnchanged RevisionAction = "unchanged"
	RevisionActionRemoved   RevisionAction = "removed"
	RevisionActionFailed    RevisionAction = "failed"
)

// FunctionRevision is the per-policy outcome of a deployment: which
// bundle and version the function carries after the pass, or why the
// pass failed for it.
type FunctionRevision struct {
	ID           string         `json:"id"`
	DeploymentID string         `json:"deployment_id"`
	Policy       string         `json:"policy"` // derived function name
	Action       RevisionAction `json:"action"`
	CodeSha256   string         `json:"code_sha256,omitempty"`
	Version      string         `json:"version,omitempty"`
	AliasArn     string         `json:"alias_arn,omitempty"`
	Error        *string        `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Store defines the interface for the deployment history layer.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Deployment operations
	CreateDeployment(ctx context.Context, d *Deployment) error
	CompleteDeployment(ctx context.Context, id string, status DeploymentStatus, changed, failed int) error
	GetDeployment(ctx context.Context, id string) (*Deployment, error)
	ListDeployments(ctx context.Context, limit, offset int) ([]*Deployment, error)

	// Revision operations
	RecordRevision(ctx context.Context, rev *FunctionRevision) error
	ListRevisions(ctx context.Context, deploymentID string) ([]*FunctionRevision, error)
	LatestRevision(ctx context.Context, policy string) (*FunctionRevision, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
