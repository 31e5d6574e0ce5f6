package policy

import (
	"context"
	"encoding/json"
	"fmt"
)

// Mode type identifiers. Exactly one event binding descriptor is derived
// per declared mode; anything outside this set is a configuration error.
const (
	ModeCloudTrail    = "cloudtrail"
	ModeInstanceState = "instance-state"
	ModeAutoScaling   = "autoscaling-instance-state"
	ModePeriodic      = "periodic"
)

// Mode describes how and when a policy function is triggered.
type Mode struct {
	// Type selects the event source kind.
	Type string `json:"type" yaml:"type" validate:"required,oneof=cloudtrail instance-state autoscaling-instance-state periodic"`

	// Sources are the originating API services for cloudtrail modes
	// (e.g. "ec2.amazonaws.com").
	Sources []string `json:"sources,omitempty" yaml:"sources,omitempty"`

	// Events are API call names (cloudtrail), instance states
	// (instance-state), or lifecycle event aliases (autoscaling).
	Events []string `json:"events,omitempty" yaml:"events,omitempty"`

	// Schedule is a rate or cron expression for periodic modes.
	Schedule string `json:"schedule,omitempty" yaml:"schedule,omitempty"`

	// Role is the execution role assumed by the policy function.
	Role string `json:"role,omitempty" yaml:"role,omitempty"`

	// Memory is the function memory size in MB. Zero means the default.
	Memory int32 `json:"memory,omitempty" yaml:"memory,omitempty" validate:"omitempty,min=128,max=10240"`

	// Timeout is the function timeout in seconds. Zero means the default.
	Timeout int32 `json:"timeout,omitempty" yaml:"timeout,omitempty" validate:"omitempty,min=1,max=900"`

	// Resources is an expression locating resource identifiers inside the
	// event payload, used by cloudtrail modes to rehydrate state.
	Resources string `json:"resources,omitempty" yaml:"resources,omitempty"`
}

// Description is one declarative policy document. It is owned by the
// loader and immutable for the duration of a reconciliation pass; the
// filters and actions payloads are opaque to this package and pass through
// to the execution engine verbatim.
type Description struct {
	// Name identifies the policy and anchors all derived resource names.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Description is free-form operator documentation.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Resource is the resource type the policy operates on (e.g. "ec2").
	Resource string `json:"resource,omitempty" yaml:"resource,omitempty"`

	// Mode declares how the policy function is triggered.
	Mode Mode `json:"mode" yaml:"mode" validate:"required"`

	// Filters select the resources the policy applies to.
	Filters []map[string]interface{} `json:"filters,omitempty" yaml:"filters,omitempty"`

	// Actions are applied to resources that match the filters.
	Actions []interface{} `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// File is the top-level shape of a policy configuration document, both on
// the operator's disk and embedded inside a deployed bundle (where it
// carries exactly one policy).
type File struct {
	Policies []Description `json:"policies" yaml:"policies" validate:"required,dive"`
}

// Runner is an executable policy: the external filter/action evaluation
// engine behind a narrow seam. Push hands the inbound event and any
// externally resolved resource state to the policy; resolution itself is
// the collaborator's concern.
type Runner interface {
	Push(ctx context.Context, event json.RawMessage, resources interface{}) error
}

// RunnerFactory reconstructs an executable policy from its description.
type RunnerFactory func(Description) (Runner, error)

var runnerFactory RunnerFactory

// RegisterRunnerFactory installs the execution engine used to reconstruct
// policies at dispatch time. Typically called from the policy function
// binary's init path.
func RegisterRunnerFactory(f RunnerFactory) {
	runnerFactory = f
}

// NewRunner builds an executable policy from its description using the
// registered factory.
func NewRunner(d Description) (Runner, error) {
	if runnerFactory == nil {
		return nil, fmt.Errorf("policy: no runner factory registered")
	}
	return runnerFactory(d)
}
