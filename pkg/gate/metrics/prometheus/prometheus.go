package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/transcribomatic/gateway/pkg/gate"
)

// Metrics implements gate.Metrics using Prometheus.
type Metrics struct {
	validationsTotal  *prometheus.CounterVec
	costCheckDuration prometheus.Histogram
	ledgerWritesTotal *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		validationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_validations_total",
			Help:      "Total number of token validation attempts.",
		}, []string{"scope", "outcome"}),

		costCheckDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cost_check_duration_seconds",
			Help:      "Latency of weekly cost computations.",
			Buckets:   prometheus.DefBuckets,
		}),

		ledgerWritesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_writes_total",
			Help:      "Total number of ledger write attempts.",
		}, []string{"kind", "success"}),
	}
}

func (m *Metrics) RecordValidation(scope gate.Scope, outcome string) {
	m.validationsTotal.WithLabelValues(string(scope), outcome).Inc()
}

func (m *Metrics) RecordCostCheck(duration time.Duration) {
	m.costCheckDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordLedgerWrite(kind string, err error) {
	m.ledgerWritesTotal.WithLabelValues(kind, strconv.FormatBool(err == nil)).Inc()
}
