package deploy

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"github.com/stewardhq/steward/pkg/archive"
	"github.com/stewardhq/steward/pkg/events"
	"github.com/stewardhq/steward/pkg/policy"
)

const (
	// FunctionPrefix anchors every managed function name to the policy that
	// owns it. Function names are derived, never freely chosen.
	FunctionPrefix = "steward-"

	// DefaultRuntime is the provider runtime identifier for bundles built
	// around a compiled bootstrap binary.
	DefaultRuntime = "provided.al2023"

	// DefaultHandler is the fixed handler name custom runtimes require.
	DefaultHandler = "bootstrap"

	// DefaultMemorySize is the function memory size in MB when the mode
	// declares none.
	DefaultMemorySize int32 = 512

	// DefaultTimeout is the function timeout in seconds when the mode
	// declares none.
	DefaultTimeout int32 = 60
)

// FunctionSpec is the capability surface the reconciler requires of a
// deployable function. It is a closed set of accessors, not an extension
// point: the reconciler diffs exactly these fields against remote state.
type FunctionSpec interface {
	// Name is the derived function name.
	Name() string

	// Runtime is the provider runtime identifier.
	Runtime() string

	// Handler is the provider handler string.
	Handler() string

	// Description is free-form function documentation.
	Description() string

	// Role is the execution role ARN assumed by the function.
	Role() string

	// MemorySize is the memory allocation in MB.
	MemorySize() int32

	// Timeout is the execution timeout in seconds.
	Timeout() int32

	// Events are the event bindings to converge, in declaration order.
	Events() []events.Descriptor

	// Archive builds the sealed content bundle for this spec. The caller
	// owns the returned archive and must dispose of it.
	Archive(logger zerolog.Logger) (*archive.Archive, error)
}

// PolicyFunctionSpec adapts a policy description into a deployable
// function spec. The bundle it builds carries the runtime tree, the
// single-policy configuration document, and the generated entry source
// the runtime binary was compiled from.
type PolicyFunctionSpec struct {
	policy      policy.Description
	runtimeRoot string
	descriptors []events.Descriptor
}

// NewPolicyFunctionSpec validates the description and derives its event
// bindings. Validation failures here are configuration errors: nothing
// remote has been touched yet.
func NewPolicyFunctionSpec(d policy.Description, runtimeRoot string) (*PolicyFunctionSpec, error) {
	if d.Name == "" {
		return nil, NewConfigurationError("", "policy has no name", nil)
	}
	if d.Mode.Role == "" {
		return nil, NewConfigurationError(d.Name, "mode declares no execution role", nil)
	}

	desc, err := events.NewDescriptor(d.Mode)
	if err != nil {
		return nil, NewConfigurationError(d.Name, "invalid event mode", err)
	}

	return &PolicyFunctionSpec{
		policy:      d,
		runtimeRoot: runtimeRoot,
		descriptors: []events.Descriptor{desc},
	}, nil
}

// Policy returns the underlying policy description.
func (p *PolicyFunctionSpec) Policy() policy.Description {
	return p.policy
}

// Name derives the function name from the policy name. Already-prefixed
// names pass through unchanged.
func (p *PolicyFunctionSpec) Name() string {
	if strings.HasPrefix(p.policy.Name, FunctionPrefix) {
		return p.policy.Name
	}
	return FunctionPrefix + p.policy.Name
}

// Runtime returns the provider runtime identifier.
func (p *PolicyFunctionSpec) Runtime() string { return DefaultRuntime }

// Handler returns the provider handler string.
func (p *PolicyFunctionSpec) Handler() string { return DefaultHandler }

// Description returns the operator-supplied policy description.
func (p *PolicyFunctionSpec) Description() string {
	if p.policy.Description != "" {
		return p.policy.Description
	}
	return "steward policy function: " + p.policy.Name
}

// Role returns the execution role declared on the mode.
func (p *PolicyFunctionSpec) Role() string { return p.policy.Mode.Role }

// MemorySize returns the declared memory size or the default.
func (p *PolicyFunctionSpec) MemorySize() int32 {
	if p.policy.Mode.Memory != 0 {
		return p.policy.Mode.Memory
	}
	return DefaultMemorySize
}

// Timeout returns the declared timeout or the default.
func (p *PolicyFunctionSpec) Timeout() int32 {
	if p.policy.Mode.Timeout != 0 {
		return p.policy.Mode.Timeout
	}
	return DefaultTimeout
}

// Events returns the derived event binding descriptors.
func (p *PolicyFunctionSpec) Events() []events.Descriptor {
	return p.descriptors
}

// Archive builds and seals the bundle: the runtime tree at the top level,
// the embedded single-policy config.json, and the generated entry source.
// Identical inputs produce byte-identical bundles, which is what makes
// the bundle checksum usable as the code identity.
func (p *PolicyFunctionSpec) Archive(logger zerolog.Logger) (*archive.Archive, error) {
	if p.runtimeRoot == "" {
		return nil, NewConfigurationError(p.policy.Name, "no runtime root to bundle", nil)
	}
	arch, err := archive.Build(logger, archive.Options{
		LibraryRoot: p.runtimeRoot,
		SkipPattern: "*.zip",
	})
	if err != nil {
		return nil, classify(p.policy.Name, "build bundle", err)
	}

	cfg, err := json.Marshal(policy.File{Policies: []policy.Description{p.policy}})
	if err != nil {
		_ = arch.Dispose()
		return nil, NewConfigurationError(p.policy.Name, "marshal embedded config", err)
	}
	if err := arch.AddContents("config.json", cfg); err != nil {
		_ = arch.Dispose()
		return nil, classify(p.policy.Name, "add embedded config", err)
	}

	entry, err := EntrySource(p.policy)
	if err != nil {
		_ = arch.Dispose()
		return nil, NewConfigurationError(p.policy.Name, "generate entry point", err)
	}
	if err := arch.AddContents("main.go", entry); err != nil {
		_ = arch.Dispose()
		return nil, classify(p.policy.Name, "add entry point", err)
	}

	if err := arch.Seal(); err != nil {
		_ = arch.Dispose()
		return nil, classify(p.policy.Name, "seal bundle", err)
	}
	return arch, nil
}
