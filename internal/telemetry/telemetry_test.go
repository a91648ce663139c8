package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/loopd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"disabled skips checks", func(c *Config) { c.Endpoint = "" }, ""},
		{"enabled defaults", func(c *Config) { c.Enabled = true }, ""},
		{"missing endpoint", func(c *Config) { c.Enabled = true; c.Endpoint = "" }, "endpoint is required"},
		{"bad protocol", func(c *Config) { c.Enabled = true; c.Protocol = "udp" }, "protocol"},
		{"insecure remote", func(c *Config) { c.Enabled = true; c.Endpoint = "collector.example.com:4317" }, "local endpoint"},
		{"secure remote", func(c *Config) {
			c.Enabled = true
			c.Endpoint = "collector.example.com:4317"
			c.Insecure = false
		}, ""},
		{"loopback ipv6", func(c *Config) { c.Enabled = true; c.Endpoint = "[::1]:4317" }, ""},
		{"http scheme local", func(c *Config) {
			c.Enabled = true
			c.Protocol = "http/protobuf"
			c.Endpoint = "http://127.0.0.1:4318"
		}, ""},
		{"bad rate", func(c *Config) { c.Enabled = true; c.SampleRate = 1.5 }, "sample rate"},
		{"zero interval", func(c *Config) { c.Enabled = true; c.ExportInterval = 0 }, "export interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.TelemetryConfig{
		Enabled:    true,
		Endpoint:   "localhost:4318",
		Protocol:   "http/protobuf",
		Insecure:   true,
		SampleRate: 0.25,
	}, "1.2.3")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "localhost:4318", cfg.Endpoint)
	assert.Equal(t, "http/protobuf", cfg.Protocol)
	assert.Equal(t, 0.25, cfg.SampleRate)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, "loopd", cfg.ServiceName)
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	assert.False(t, tel.IsEnabled())
	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))

	degraded, problems := tel.Degraded()
	assert.False(t, degraded)
	assert.NoError(t, problems)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_Invalid(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.ServiceName = ""

	tel, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Nil(t, tel)
	assert.Contains(t, err.Error(), "invalid telemetry config")
}

func TestNilTelemetry(t *testing.T) {
	var tel *Telemetry
	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.False(t, tel.IsEnabled())
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestMetrics(t *testing.T) {
	tt := NewTestTelemetry()
	m, err := NewMetrics(tt.Meter("loopd"))
	require.NoError(t, err)

	ctx := context.Background()
	m.Iteration(ctx, true)
	m.Iteration(ctx, false)
	m.Iteration(ctx, false)
	m.FailedAttempt(ctx, "timeout")
	m.FailedAttempt(ctx, "gate")
	m.Recovery(ctx)
	m.Generate(ctx, "claude-cli", 1500*time.Millisecond)

	assert.Equal(t, int64(3), tt.CounterValue(t, MetricIterations))
	assert.Equal(t, int64(2), tt.CounterValue(t, MetricFailedAttempts))
	assert.Equal(t, int64(1), tt.CounterValue(t, MetricRecoveries))
	assert.Equal(t, uint64(1), tt.HistogramCount(t, MetricGenerateDuration))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.Iteration(ctx, true)
	m.FailedAttempt(ctx, "timeout")
	m.Recovery(ctx)
	m.Generate(ctx, "openai", time.Second)
}

func TestTestTelemetry_Spans(t *testing.T) {
	tt := NewTestTelemetry()
	_, span := tt.Tracer("loopd").Start(context.Background(), "iteration")
	span.End()

	assert.Equal(t, []string{"iteration"}, tt.SpanNames())
}
