// Package telemetry provides observability instrumentation for steward:
// structured logging (zerolog), distributed tracing (OpenTelemetry), and
// Prometheus metrics, behind a single Telemetry handle that travels on
// the context.
//
// Initialize at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// Deployment passes are instrumented end to end:
//
//	ctx = telemetry.WithDeploymentContext(ctx, deploymentID, source, "cli")
//	timer := telemetry.NewTimer()
//	// ... reconcile ...
//	telemetry.EndDeploymentContext(ctx, status, timer, err)
//
// Key metrics exposed at /metrics:
//
//   - steward_deployments_started_total{trigger}
//   - steward_deployments_completed_total{status}
//   - steward_deployment_duration_seconds{status}
//   - steward_reconciliations_total{status}
//   - steward_reconcile_duration_seconds{status}
//   - steward_function_mutations_total{kind}
//   - steward_errors_by_class_total{class}
//   - steward_active_deployments
package telemetry
