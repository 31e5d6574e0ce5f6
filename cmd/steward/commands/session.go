package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stewardhq/steward/pkg/awsapi"
	"github.com/stewardhq/steward/pkg/deploy"
	"github.com/stewardhq/steward/pkg/events"
	"github.com/stewardhq/steward/pkg/policy"
	"github.com/stewardhq/steward/pkg/stores"
	"github.com/stewardhq/steward/pkg/telemetry"
)

// session bundles everything a reconciling command needs: the telemetry
// handle, the provider clients, and the reconciler built on them.
type session struct {
	tel        *telemetry.Telemetry
	clients    *awsapi.Clients
	reconciler *deploy.Reconciler
	store      stores.Store
}

func buildTelemetry() (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if jsonOutput {
		cfg.Logging.Format = "json"
	}
	return telemetry.NewTelemetry(cfg)
}

// newSession constructs the reconciling session. The history store is
// opened only when --db is set; commands run fine without one.
func newSession(ctx context.Context) (*session, error) {
	tel, err := buildTelemetry()
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}

	clients, err := awsapi.NewClients(ctx, awsapi.Options{
		Region:   region,
		Profile:  profile,
		Endpoint: endpoint,
	})
	if err != nil {
		return nil, err
	}

	logger := tel.Logger.Zerolog()
	bindings := events.NewReconciler(clients.Events, logger)
	reconciler := deploy.NewReconciler(clients.Lambda, bindings, logger,
		deploy.WithRecorder(tel.Metrics))

	s := &session{
		tel:        tel,
		clients:    clients,
		reconciler: reconciler,
	}

	if dbPath != "" {
		store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
		if err != nil {
			return nil, err
		}
		if err := store.Init(ctx); err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		s.store = store
	}

	return s, nil
}

func (s *session) close(ctx context.Context) {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Closing history store failed")
		}
	}
	if err := s.tel.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
}

// loadSpecs parses and validates the policy file and turns each policy
// into a deployable function spec.
func loadSpecs(logger zerolog.Logger, path, runtimeRoot string) ([]deploy.FunctionSpec, error) {
	loader, err := policy.NewLoader(logger)
	if err != nil {
		return nil, err
	}

	policies, err := loader.Load(path)
	if err != nil {
		return nil, err
	}
	return buildSpecs(policies, runtimeRoot)
}

func buildSpecs(policies []policy.Description, runtimeRoot string) ([]deploy.FunctionSpec, error) {
	specs := make([]deploy.FunctionSpec, 0, len(policies))
	for _, d := range policies {
		spec, err := deploy.NewPolicyFunctionSpec(d, runtimeRoot)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
