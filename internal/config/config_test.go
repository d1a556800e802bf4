package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadReadsObservabilitySettings(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("LOG_LEVEL", " WARN ")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "HTTP")
	t.Setenv("OTEL_SAMPLING_RATIO", "not-a-number")
	t.Setenv("METRICS_PUSH_INTERVAL_SECONDS", "15")

	cfg := Load()

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.True(t, cfg.OtelEnabled)
	assert.Equal(t, "collector:4318", cfg.OTLPEndpoint)
	assert.Equal(t, "http", cfg.OtelProtocol)
	assert.Equal(t, 0.1, cfg.OtelSamplingRatio)
	assert.Equal(t, 15*time.Second, cfg.MetricsPushInterval)
	assert.False(t, cfg.Debug())
}

func TestConfigDebug(t *testing.T) {
	assert.True(t, Config{Environment: "Local"}.Debug())
	assert.True(t, Config{Environment: "production", LogLevel: "debug"}.Debug())
	assert.False(t, Config{}.Debug())
}
