package marketmetrics

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus/push"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prometheus/prompb"
	"github.com/smallbiznis/agentmarket/internal/config"
	obstracing "github.com/smallbiznis/agentmarket/internal/observability/tracing"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/protoadapt"
)

const (
	exporterRemoteWrite = "prometheus_remote_write"
	exporterPushgateway = "prometheus_pushgateway"
	defaultPushTimeout  = 5 * time.Second
)

// Pusher ships the current market gauges to an external collector.
type Pusher interface {
	Push(ctx context.Context, gauges *Gauges) error
}

// NewPusher returns nil when pushing is not configured or the settings are
// unusable; the gauges stay available on /metrics either way.
func NewPusher(cfg config.Config, logger *zap.Logger) Pusher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.MetricsPushExporter) == "" {
		return nil
	}
	pusher, err := pusherFor(cfg)
	if err != nil {
		logger.Warn("market metrics push disabled",
			zap.String("exporter", cfg.MetricsPushExporter),
			zap.Error(err),
		)
		return nil
	}
	return pusher
}

func pusherFor(cfg config.Config) (Pusher, error) {
	endpoint := strings.TrimSpace(cfg.MetricsPushEndpoint)
	if endpoint == "" {
		return nil, errors.New("METRICS_PUSH_ENDPOINT is required")
	}
	labels := seriesLabels{job: strings.TrimSpace(cfg.AppName), environment: strings.TrimSpace(cfg.Environment)}

	switch strings.ToLower(strings.TrimSpace(cfg.MetricsPushExporter)) {
	case exporterRemoteWrite:
		if _, err := url.ParseRequestURI(endpoint); err != nil {
			return nil, fmt.Errorf("invalid remote write endpoint: %w", err)
		}
		return newRemoteWritePusher(endpoint, cfg.MetricsPushAuthToken, labels), nil
	case exporterPushgateway:
		if labels.job == "" {
			return nil, errors.New("APP_SERVICE is required as the pushgateway job")
		}
		return newPushgatewayPusher(endpoint, labels), nil
	default:
		return nil, errors.New("unknown exporter")
	}
}

// seriesLabels identify this deployment on every pushed series.
type seriesLabels struct {
	job         string
	environment string
}

// RemoteWritePusher posts gauge samples to a Prometheus remote_write endpoint.
type RemoteWritePusher struct {
	endpoint  string
	authToken string
	labels    seriesLabels
	client    *http.Client
	now       func() time.Time
}

func newRemoteWritePusher(endpoint, authToken string, labels seriesLabels) *RemoteWritePusher {
	return &RemoteWritePusher{
		endpoint:  endpoint,
		authToken: strings.TrimSpace(authToken),
		labels:    labels,
		client:    obstracing.WrapHTTPClient(&http.Client{Timeout: defaultPushTimeout}),
		now:       time.Now,
	}
}

func (p *RemoteWritePusher) Push(ctx context.Context, gauges *Gauges) error {
	if p == nil || gauges == nil {
		return nil
	}
	families, err := gauges.Registry().Gather()
	if err != nil {
		return err
	}
	series := p.series(families, p.now().UnixMilli())
	if len(series) == 0 {
		return nil
	}

	payload, err := proto.Marshal(protoadapt.MessageV2Of(&prompb.WriteRequest{Timeseries: series}))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(snappy.Encode(nil, payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Content-Encoding", "snappy")
	req.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	if p.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.authToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("remote write returned %s", resp.Status)
	}
	return nil
}

// series flattens the gauge families into one sample each. The market
// registry only carries gauges, so other metric types are skipped.
func (p *RemoteWritePusher) series(families []*dto.MetricFamily, timestampMs int64) []prompb.TimeSeries {
	var out []prompb.TimeSeries
	for _, family := range families {
		if family.GetType() != dto.MetricType_GAUGE {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := []prompb.Label{{Name: "__name__", Value: family.GetName()}}
			if p.labels.job != "" {
				labels = append(labels, prompb.Label{Name: "job", Value: p.labels.job})
			}
			if p.labels.environment != "" {
				labels = append(labels, prompb.Label{Name: "environment", Value: p.labels.environment})
			}
			for _, label := range metric.GetLabel() {
				labels = append(labels, prompb.Label{Name: label.GetName(), Value: label.GetValue()})
			}
			slices.SortFunc(labels, func(a, b prompb.Label) int { return cmp.Compare(a.Name, b.Name) })

			out = append(out, prompb.TimeSeries{
				Labels:  labels,
				Samples: []prompb.Sample{{Value: metric.GetGauge().GetValue(), Timestamp: timestampMs}},
			})
		}
	}
	return out
}

// PushgatewayPusher replaces this deployment's group on a Pushgateway.
type PushgatewayPusher struct {
	endpoint string
	labels   seriesLabels
}

func newPushgatewayPusher(endpoint string, labels seriesLabels) *PushgatewayPusher {
	return &PushgatewayPusher{endpoint: endpoint, labels: labels}
}

func (p *PushgatewayPusher) Push(ctx context.Context, gauges *Gauges) error {
	if p == nil || gauges == nil {
		return nil
	}
	pusher := push.New(p.endpoint, p.labels.job).Gatherer(gauges.Registry())
	if p.labels.environment != "" {
		pusher = pusher.Grouping("environment", p.labels.environment)
	}
	return pusher.PushContext(ctx)
}
