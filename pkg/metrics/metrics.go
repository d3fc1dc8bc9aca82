// Package metrics owns the Prometheus registry for the timelapse service.
package metrics

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/renameio/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"

	"github.com/sireskandari/Aransite/pkg/models"
)

const namespace = "timelapse"

// StatusCounter is the slice of the job store the status gauge needs.
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[models.TimelapseStatus]int, error)
}

// Metrics holds every collector the service exports. All methods are safe
// on a nil receiver so callers may run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	jobsEnqueued           prometheus.Counter
	jobsFinished           *prometheus.CounterVec
	queueRejections        prometheus.Counter
	processingUpdateErrors prometheus.Counter
	terminalUpdateErrors   prometheus.Counter
	encodeDuration         *prometheus.HistogramVec
	queueDepth             prometheus.Gauge
	inFlight               prometheus.Gauge
	sweeperDeleted         *prometheus.CounterVec
	sweeperFailures        prometheus.Counter
	reconciled             *prometheus.CounterVec
	retentionDeleted       prometheus.Counter
	httpRequests           *prometheus.CounterVec
	httpDuration           *prometheus.HistogramVec
}

// New builds a registry with the service collectors. withRuntime adds the Go
// and process collectors, which a one-shot CLI run does not want.
func New(withRuntime bool) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		jobsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_enqueued_total",
			Help: "Generation requests accepted and scheduled.",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_finished_total",
			Help: "Jobs that reached a terminal state, by status.",
		}, []string{"status"}),
		queueRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "queue_rejections_total",
			Help: "Generation requests refused because the work queue was full.",
		}),
		processingUpdateErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "processing_update_failures_total",
			Help: "Failed attempts to record the Processing state.",
		}),
		terminalUpdateErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "terminal_update_failures_total",
			Help: "Jobs whose terminal state could not be persisted.",
		}),
		encodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "encode_duration_seconds",
			Help:    "Wall time of encoder invocations.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_depth",
			Help: "Jobs waiting for a worker.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "jobs_in_flight",
			Help: "Jobs currently being run.",
		}),
		sweeperDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sweeper_deleted_total",
			Help: "Artifact entries removed by the maintenance sweeper.",
		}, []string{"kind"}),
		sweeperFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sweeper_failures_total",
			Help: "Artifact entries the sweeper could not remove.",
		}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconciled_jobs_total",
			Help: "Jobs failed by the reconciliation sweep, by reason.",
		}, []string{"reason"}),
		retentionDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "retention_deleted_total",
			Help: "Terminal job rows removed by retention cleanup.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests served, by route template, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	reg.MustRegister(
		m.jobsEnqueued, m.jobsFinished, m.queueRejections,
		m.processingUpdateErrors, m.terminalUpdateErrors, m.encodeDuration,
		m.queueDepth, m.inFlight, m.sweeperDeleted, m.sweeperFailures,
		m.reconciled, m.retentionDeleted, m.httpRequests, m.httpDuration,
	)
	if withRuntime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// WatchStore exports per-status job counts read from s at scrape time.
func (m *Metrics) WatchStore(s StatusCounter) {
	if m == nil {
		return
	}
	m.registry.MustRegister(&statusCollector{
		store: s,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "jobs"),
			"Jobs currently stored, by status.",
			[]string{"status"}, nil,
		),
	})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the current registry contents to path atomically,
// for the node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return renameio.WriteFile(path, buf.Bytes(), 0o644)
}

func (m *Metrics) JobEnqueued() {
	if m != nil {
		m.jobsEnqueued.Inc()
	}
}

func (m *Metrics) QueueRejected() {
	if m != nil {
		m.queueRejections.Inc()
	}
}

func (m *Metrics) JobFinished(status models.TimelapseStatus) {
	if m != nil {
		m.jobsFinished.WithLabelValues(string(status)).Inc()
	}
}

func (m *Metrics) ProcessingUpdateFailed() {
	if m != nil {
		m.processingUpdateErrors.Inc()
	}
}

func (m *Metrics) TerminalUpdateFailed() {
	if m != nil {
		m.terminalUpdateErrors.Inc()
	}
}

func (m *Metrics) EncodeObserved(d time.Duration, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.encodeDuration.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.queueDepth.Set(float64(n))
	}
}

func (m *Metrics) SetInFlight(n int) {
	if m != nil {
		m.inFlight.Set(float64(n))
	}
}

func (m *Metrics) SweeperDeleted(kind string, n int) {
	if m != nil && n > 0 {
		m.sweeperDeleted.WithLabelValues(kind).Add(float64(n))
	}
}

func (m *Metrics) SweeperFailed(n int) {
	if m != nil && n > 0 {
		m.sweeperFailures.Add(float64(n))
	}
}

func (m *Metrics) JobReconciled(reason string) {
	if m != nil {
		m.reconciled.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) RetentionDeleted(n int64) {
	if m != nil && n > 0 {
		m.retentionDeleted.Add(float64(n))
	}
}

// HTTPObserved records one served request. route is the matched route
// template so label cardinality stays bounded.
func (m *Metrics) HTTPObserved(route, method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

type statusCollector struct {
	store StatusCounter
	desc  *prometheus.Desc
}

func (c *statusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *statusCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	counts, err := c.store.CountByStatus(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.desc, err)
		return
	}
	for _, st := range []models.TimelapseStatus{
		models.StatusPending, models.StatusProcessing, models.StatusCompleted, models.StatusFailed,
	} {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(counts[st]), string(st))
	}
}
