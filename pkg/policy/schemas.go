package policy

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// builtinPolicySchema constrains a policy document beyond what struct tags
// can express: mode-specific field requirements live here.
const builtinPolicySchema = `
{
	name: string & !=""
	description?: string
	resource?: string
	mode: {
		type: "cloudtrail" | "instance-state" | "autoscaling-instance-state" | "periodic"
		sources?: [...string]
		events?: [...string]
		schedule?: string
		role?: string
		memory?: int & >=128 & <=10240
		timeout?: int & >=1 & <=900
		resources?: string

		if type == "cloudtrail" {
			sources: [...string] & [_, ...]
			events:  [...string] & [_, ...]
		}
		if type == "instance-state" {
			events: [...string] & [_, ...]
		}
		if type == "autoscaling-instance-state" {
			events: [...string] & [_, ...]
		}
		if type == "periodic" {
			schedule: string & !=""
		}
	}
	filters?: [...]
	actions?: [...]
}
`

// SchemaRegistry compiles and caches CUE schemas used to validate policy
// documents.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a registry with the built-in policy schema
// registered.
func NewSchemaRegistry() (*SchemaRegistry, error) {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	if err := sr.Register("policy", builtinPolicySchema); err != nil {
		return nil, err
	}
	return sr, nil
}

// Register compiles and stores a schema under the given name.
func (sr *SchemaRegistry) Register(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("compile schema %s: %w", name, err)
	}
	sr.schemas[name] = val
	return nil
}

// ValidateDescription checks a policy description against the built-in
// policy schema.
func (sr *SchemaRegistry) ValidateDescription(d Description) error {
	sr.mu.RLock()
	schema, ok := sr.schemas["policy"]
	sr.mu.RUnlock()
	if !ok {
		return fmt.Errorf("policy schema not registered")
	}

	val := sr.ctx.Encode(d)
	if err := val.Err(); err != nil {
		return fmt.Errorf("encode policy %s: %w", d.Name, err)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("policy %s: %w", d.Name, err)
	}
	return nil
}
