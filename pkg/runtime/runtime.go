// Package runtime is the dispatch layer that runs inside a deployed
// policy function. It loads the policy description embedded in the
// bundle, reconstructs the executable policy, and pushes each inbound
// event into it.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/rs/zerolog"

	"github.com/stewardhq/steward/pkg/policy"
)

// ConfigFileName is the policy document name inside the bundle.
const ConfigFileName = "config.json"

// handlerNames is the closed set of dispatch handlers the generated
// entry point may name.
var handlerNames = map[string]struct{}{
	"cloudtrail":                 {},
	"instance_state":             {},
	"autoscaling_instance_state": {},
	"periodic":                   {},
}

// HandlerFunc is the shape the provider invokes.
type HandlerFunc func(ctx context.Context, event json.RawMessage) error

// ConfigPath locates the embedded policy document. The provider extracts
// the bundle under LAMBDA_TASK_ROOT; outside the provider the working
// directory is used.
func ConfigPath() string {
	root := os.Getenv("LAMBDA_TASK_ROOT")
	if root == "" {
		root = "."
	}
	return filepath.Join(root, ConfigFileName)
}

// Dispatcher loads the bundled policy lazily on first invocation and
// pushes events into it. Load failures are sticky: a bundle with a bad
// config document fails every invocation the same way.
type Dispatcher struct {
	configPath string
	logger     zerolog.Logger

	once    sync.Once
	runner  policy.Runner
	desc    policy.Description
	loadErr error
}

// NewDispatcher creates a dispatcher reading the policy document at the
// given path.
func NewDispatcher(configPath string, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		configPath: configPath,
		logger:     logger.With().Str("component", "dispatch").Logger(),
	}
}

func (d *Dispatcher) load() error {
	d.once.Do(func() {
		data, err := os.ReadFile(d.configPath)
		if err != nil {
			d.loadErr = fmt.Errorf("runtime: read %s: %w", d.configPath, err)
			return
		}

		var file policy.File
		if err := json.Unmarshal(data, &file); err != nil {
			d.loadErr = fmt.Errorf("runtime: parse %s: %w", d.configPath, err)
			return
		}
		if len(file.Policies) != 1 {
			d.loadErr = fmt.Errorf("runtime: bundle carries %d policies, want exactly 1", len(file.Policies))
			return
		}

		d.desc = file.Policies[0]
		d.runner, d.loadErr = policy.NewRunner(d.desc)
	})
	return d.loadErr
}

// Handle pushes one inbound event into the bundled policy.
func (d *Dispatcher) Handle(ctx context.Context, event json.RawMessage) error {
	if err := d.load(); err != nil {
		return err
	}

	logger := d.logger.With().Str("policy", d.desc.Name).Logger()
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		logger = logger.With().Str("request_id", lc.AwsRequestID).Logger()
	}

	logger.Info().Int("event_bytes", len(event)).Msg("Dispatching event")
	if err := d.runner.Push(ctx, event, nil); err != nil {
		logger.Error().Err(err).Msg("Policy execution failed")
		return err
	}
	return nil
}

// Handler returns the dispatch handler the generated entry point names.
// The name selects nothing beyond its own validity: every mode dispatches
// the same way, and an unknown name fails fast on every invocation
// instead of silently dropping events.
func Handler(name string) HandlerFunc {
	if _, ok := handlerNames[name]; !ok {
		return func(context.Context, json.RawMessage) error {
			return fmt.Errorf("runtime: unknown dispatch handler %q", name)
		}
	}

	d := NewDispatcher(ConfigPath(), zerolog.New(os.Stderr).With().Timestamp().Logger())
	return d.Handle
}

// Start hands the named dispatch handler to the provider runtime loop.
// This is what the generated entry point's main calls, indirectly,
// through lambda.Start.
func Start(name string) {
	lambda.Start(Handler(name))
}
