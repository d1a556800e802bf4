package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/agentmarket/internal/config"
	"github.com/smallbiznis/agentmarket/internal/ledgertx"
	"github.com/smallbiznis/agentmarket/internal/observability/logger"
	"github.com/smallbiznis/agentmarket/internal/observability/metrics"
	"github.com/smallbiznis/agentmarket/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		provideLoggerConfig,
		logger.New,
		provideTracingConfig,
		tracing.NewProvider,
		provideMetricsConfig,
		metrics.NewProvider,
		metrics.New,
		provideRegistry,
		metrics.NewHTTPMetrics,
		metrics.NewLedgerMetrics,
		func(m *metrics.LedgerMetrics) ledgertx.Observer { return m },
	),
	fx.Invoke(ensureTracingProvider),
)

func ensureTracingProvider(_ *sdktrace.TracerProvider) {}

// provideRegistry holds the marketplace collectors. /metrics serves it next
// to the default registry, which already carries the runtime collectors and
// the gorm pool stats.
func provideRegistry() (*prometheus.Registry, prometheus.Registerer, prometheus.Gatherer) {
	registry := prometheus.NewRegistry()
	return registry, registry, registry
}

func provideLoggerConfig(cfg config.Config) logger.Config {
	return logger.Config{
		ServiceName:         cfg.AppName,
		Environment:         cfg.Environment,
		Version:             cfg.AppVersion,
		Level:               cfg.LogLevel,
		Format:              cfg.LogFormat,
		Debug:               cfg.Debug(),
		IncludeCaller:       true,
		IncludeStackOnError: cfg.Debug(),
	}
}

func provideTracingConfig(cfg config.Config) tracing.Config {
	return tracing.Config{
		Enabled:          cfg.OtelEnabled,
		ServiceName:      cfg.AppName,
		ServiceVersion:   cfg.AppVersion,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.OTLPEndpoint,
		ExporterProtocol: cfg.OtelProtocol,
		SamplingRatio:    cfg.OtelSamplingRatio,
	}
}

func provideMetricsConfig(cfg config.Config) metrics.Config {
	return metrics.Config{
		Enabled:          cfg.OtelEnabled,
		ExporterEndpoint: cfg.OTLPEndpoint,
		ExporterProtocol: cfg.OtelProtocol,
		ServiceName:      cfg.AppName,
		Environment:      cfg.Environment,
	}
}
