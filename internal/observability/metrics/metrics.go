package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes marketplace instruments.
type Metrics struct {
	offeringsRegistered metric.Int64Counter
	rentalsCreated      metric.Int64Counter
	agentUses           metric.Int64Counter
	usageRecorded       metric.Int64Counter
	usageVerified       metric.Int64Counter
	escrowReleased      metric.Int64Counter
	escrowRefunded      metric.Int64Counter
	ledgerEntries       metric.Int64Counter
	rateLimitAllowed    metric.Int64Counter
	rateLimitDenied     metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

// New configures the domain instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "agentmarket"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	counters := []struct {
		target *metric.Int64Counter
		name   string
	}{
		{&m.offeringsRegistered, "agentmarket_offerings_registered_total"},
		{&m.rentalsCreated, "agentmarket_rentals_created_total"},
		{&m.agentUses, "agentmarket_agent_uses_total"},
		{&m.usageRecorded, "agentmarket_usage_recorded_total"},
		{&m.usageVerified, "agentmarket_usage_verified_total"},
		{&m.escrowReleased, "agentmarket_escrow_released_amount_total"},
		{&m.escrowRefunded, "agentmarket_escrow_refunded_amount_total"},
		{&m.ledgerEntries, "agentmarket_ledger_entries_total"},
		{&m.rateLimitAllowed, "agentmarket_rate_limit_allowed_total"},
		{&m.rateLimitDenied, "agentmarket_rate_limit_denied_total"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name)
		if err != nil {
			return nil, err
		}
		*c.target = counter
	}
	return m, nil
}

func (m *Metrics) RecordOfferingRegistered(ctx context.Context, category string) {
	if m == nil {
		return
	}
	m.offeringsRegistered.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("category", strings.TrimSpace(category)),
	)...))
}

func (m *Metrics) RecordRentalCreated(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.rentalsCreated.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("kind", kind))...))
}

func (m *Metrics) RecordAgentUse(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.agentUses.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("kind", kind))...))
}

func (m *Metrics) RecordUsageRecorded(ctx context.Context) {
	if m == nil {
		return
	}
	m.usageRecorded.Add(ctx, 1)
}

func (m *Metrics) RecordUsageVerified(ctx context.Context, verified bool) {
	if m == nil {
		return
	}
	m.usageVerified.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.Bool("verified", verified))...))
}

func (m *Metrics) RecordEscrowReleased(ctx context.Context, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.escrowReleased.Add(ctx, amount)
}

func (m *Metrics) RecordEscrowRefunded(ctx context.Context, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.escrowRefunded.Add(ctx, amount)
}

// RecordLedgerEntry increments ledger entry counts.
func (m *Metrics) RecordLedgerEntry(ctx context.Context, sourceType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("source_type", strings.TrimSpace(sourceType)))
	m.ledgerEntries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// Addresses and ids never become labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint":    {},
	"status_code": {},
	"category":    {},
	"kind":        {},
	"verified":    {},
	"source_type": {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
