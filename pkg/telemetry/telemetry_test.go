package telemetry

import (
	"context"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default is valid", mutate: func(*Config) {}},
		{name: "production is valid", mutate: func(c *Config) { *c = *ProductionConfig() }},
		{name: "missing service name", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: true},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{
			name: "bad exporter",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "jaeger"
			},
			wantErr: true,
		},
		{
			name:    "sampling rate out of range",
			mutate:  func(c *Config) { c.Tracing.SamplingRate = 1.5 },
			wantErr: true,
		},
		{
			name: "metrics without listen address",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.ListenAddress = ""
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate: %v", err)
			}
		})
	}
}

func TestDisabledMetricsAreNoOps(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	// None of these may panic on a disabled collector.
	m.RecordDeploymentStarted("cli")
	m.RecordDeploymentCompleted("completed", time.Second)
	m.ReconcileCompleted("steward-p", "succeeded", time.Second)
	m.MutationApplied("create")
	m.RecordError("remote")
}

func TestEnabledMetricsRegister(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{
		Enabled:       true,
		ListenAddress: ":0",
		Path:          "/metrics",
		Namespace:     "steward",
	})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	m.RecordDeploymentStarted("cli")
	m.ReconcileCompleted("steward-p", "succeeded", 250*time.Millisecond)
	m.MutationApplied("rule")
	m.RecordDeploymentCompleted("completed", time.Second)

	if m.Handler() == nil {
		t.Fatal("enabled metrics should expose a handler")
	}
}

func TestTelemetryContextRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Output = "stderr"

	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry: %v", err)
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	ctx := tel.WithContext(context.Background())
	if FromTelemetryContext(ctx) != tel {
		t.Error("telemetry not recoverable from context")
	}
	if FromTelemetryContext(context.Background()) != nil {
		t.Error("empty context should carry no telemetry")
	}
}

func TestStartOperationWithoutTelemetry(t *testing.T) {
	ic := StartOperation(context.Background(), "deploy")
	if ic.Logger == nil || ic.Timer == nil {
		t.Fatal("bare context should still yield logger and timer")
	}
	ic.End(nil)
}
