package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/agentmarket/internal/ledgererr"
	"github.com/smallbiznis/agentmarket/pkg/db"
)

const (
	TxReasonDeadlineExceeded = "deadline_exceeded"
	TxReasonRetryable        = "serialization_failure"
	TxReasonUniqueViolation  = "unique_violation"
	TxReasonUnknown          = "unknown"
)

// LedgerMetrics tracks ledger transaction latency and rollbacks in Prometheus.
type LedgerMetrics struct {
	txDuration  *prometheus.HistogramVec
	txRollbacks *prometheus.CounterVec
}

// NewLedgerMetrics registers the ledger collectors on registerer.
func NewLedgerMetrics(registerer prometheus.Registerer, cfg Config) (*LedgerMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "agentmarket"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &LedgerMetrics{
		txDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "agentmarket_ledger_tx_duration_seconds",
			Help:        "Ledger transaction latency including lock wait.",
			Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			ConstLabels: constLabels,
		}, []string{"operation"}),
		txRollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "agentmarket_ledger_tx_rollbacks_total",
			Help:        "Ledger transactions rolled back by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"operation", "reason"}),
	}
	for _, collector := range []prometheus.Collector{m.txDuration, m.txRollbacks} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveTx satisfies ledgertx.Observer.
func (m *LedgerMetrics) ObserveTx(operation string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.txDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
	if err != nil {
		m.txRollbacks.WithLabelValues(operation, ClassifyTxReason(err)).Inc()
	}
}

// ClassifyTxReason maps a rollback cause to a metric label.
func ClassifyTxReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return TxReasonDeadlineExceeded
	case db.IsRetryableTxErr(err):
		return TxReasonRetryable
	case db.IsDuplicateKeyErr(err):
		return TxReasonUniqueViolation
	}
	if kind := ledgererr.KindOf(err); kind != "" {
		return string(kind)
	}
	return TxReasonUnknown
}
