package observability

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors for the batch pipeline.
type Metrics struct {
	registry *prometheus.Registry

	batchesTotal      *prometheus.CounterVec
	batchDuration     prometheus.Histogram
	pairsEvaluated    *prometheus.CounterVec
	recoveriesTotal   *prometheus.CounterVec
	batchAccuracy     prometheus.Gauge
	judgeCallDuration prometheus.Histogram
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		batchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "evalbatch",
				Name:      "batches_total",
				Help:      "Total number of daily batches by terminal status.",
			},
			[]string{"status"},
		),
		batchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "evalbatch",
				Name:      "batch_duration_seconds",
				Help:      "End-to-end duration of one day's evaluation run.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
			},
		),
		pairsEvaluated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "evalbatch",
				Name:      "pairs_evaluated_total",
				Help:      "Total transcript-summary pairs judged, by verdict.",
			},
			[]string{"status"},
		),
		recoveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "evalbatch",
				Name:      "recoveries_total",
				Help:      "Recovery attempts by outcome.",
			},
			[]string{"outcome"},
		),
		batchAccuracy: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "evalbatch",
				Name:      "batch_accuracy",
				Help:      "Accuracy ratio of the most recent completed batch.",
			},
		),
		judgeCallDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "evalbatch",
				Name:      "judge_call_duration_seconds",
				Help:      "Duration of individual judge evaluations.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.batchesTotal,
		m.batchDuration,
		m.pairsEvaluated,
		m.recoveriesTotal,
		m.batchAccuracy,
		m.judgeCallDuration,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncBatch(status string) {
	if m == nil {
		return
	}
	m.batchesTotal.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) ObserveBatchDuration(d time.Duration) {
	if m == nil {
		return
	}
	seconds := d.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.batchDuration.Observe(seconds)
}

func (m *Metrics) IncPairsEvaluated(status string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.pairsEvaluated.WithLabelValues(normalizeLabel(status)).Add(float64(n))
}

func (m *Metrics) IncRecovery(outcome string) {
	if m == nil {
		return
	}
	m.recoveriesTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) SetBatchAccuracy(accuracy float64) {
	if m == nil {
		return
	}
	m.batchAccuracy.Set(accuracy)
}

func (m *Metrics) ObserveJudgeCallDuration(d time.Duration) {
	if m == nil {
		return
	}
	seconds := d.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.judgeCallDuration.Observe(seconds)
}

func normalizeLabel(v string) string {
	normalized := strings.ToLower(strings.TrimSpace(v))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
