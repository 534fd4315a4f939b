package metrics

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scanchain"

// PrometheusCollector wraps the Collector and mirrors its metrics into
// Prometheus format. It also records pipeline stages, which makes it a
// verification.Recorder.
type PrometheusCollector struct {
	collector *Collector
	registry  *prometheus.Registry

	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	stageDuration    *prometheus.HistogramVec
	stageFailures    *prometheus.CounterVec
	pipelineTotal    *prometheus.CounterVec
	pipelineDuration *prometheus.HistogramVec

	eventClients   prometheus.Gauge
	goroutineCount prometheus.Gauge
	uptimeSeconds  prometheus.Gauge
}

// NewPrometheusCollector creates a PrometheusCollector that wraps c.
// Metrics live in a dedicated registry, not the global default one.
func NewPrometheusCollector(c *Collector) *PrometheusCollector {
	reg := prometheus.NewRegistry()

	// Uploads and ledger writes are slow; buckets reach into minutes.
	pipelineBuckets := []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 180}

	p := &PrometheusCollector{
		collector: c,
		registry:  reg,
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5, 30},
		}, []string{"route"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Duration of each store/verify pipeline stage.",
			Buckets:   pipelineBuckets,
		}, []string{"op", "stage"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_failures_total",
			Help:      "Pipeline stages that returned an error.",
		}, []string{"op", "stage"}),
		pipelineTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_total",
			Help:      "Finished pipelines by outcome.",
		}, []string{"op", "outcome"}),
		pipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "End-to-end pipeline duration.",
			Buckets:   pipelineBuckets,
		}, []string{"op"}),
		eventClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_clients",
			Help:      "Number of connected websocket event clients.",
		}),
		goroutineCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutine_count",
			Help:      "Number of goroutines.",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the server started in seconds.",
		}),
	}

	reg.MustRegister(
		p.requestCount,
		p.requestDuration,
		p.stageDuration,
		p.stageFailures,
		p.pipelineTotal,
		p.pipelineDuration,
		p.eventClients,
		p.goroutineCount,
		p.uptimeSeconds,
	)
	return p
}

// Registry returns the Prometheus registry used by this collector.
func (p *PrometheusCollector) Registry() *prometheus.Registry {
	return p.registry
}

// Collector returns the underlying custom Collector.
func (p *PrometheusCollector) Collector() *Collector {
	return p.collector
}

// RecordRequest records a finished HTTP request in both collectors.
func (p *PrometheusCollector) RecordRequest(route string, status int, duration time.Duration) {
	p.collector.RecordRequest(route)
	p.collector.RecordLatency(route, duration)
	p.requestCount.WithLabelValues(route, strconv.Itoa(status)).Inc()
	p.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// ObserveStage implements verification.Recorder.
func (p *PrometheusCollector) ObserveStage(op, stage string, d time.Duration, err error) {
	p.stageDuration.WithLabelValues(op, stage).Observe(d.Seconds())
	if err != nil {
		p.stageFailures.WithLabelValues(op, stage).Inc()
	}
}

// ObservePipeline implements verification.Recorder.
func (p *PrometheusCollector) ObservePipeline(op, outcome string, d time.Duration) {
	p.collector.RecordOutcome(op, outcome)
	p.pipelineTotal.WithLabelValues(op, outcome).Inc()
	p.pipelineDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ClientConnected increments the websocket client gauge in both collectors.
func (p *PrometheusCollector) ClientConnected() {
	p.collector.ClientConnected()
	p.eventClients.Inc()
}

// ClientDisconnected decrements the websocket client gauge in both collectors.
func (p *PrometheusCollector) ClientDisconnected() {
	p.collector.ClientDisconnected()
	p.eventClients.Dec()
}

// Sync refreshes the gauges that are sampled rather than counted.
func (p *PrometheusCollector) Sync() {
	m := p.collector.GetMetrics()
	p.eventClients.Set(float64(m.EventClients))
	p.uptimeSeconds.Set(m.UptimeSeconds)
	p.goroutineCount.Set(float64(runtime.NumGoroutine()))
}

// GetMetricsJSON returns JSON-encoded metrics from the underlying Collector.
func (p *PrometheusCollector) GetMetricsJSON() ([]byte, error) {
	return p.collector.GetMetricsJSON()
}

// PrometheusHandler serves the registry in the Prometheus text exposition
// format, syncing gauges before each scrape.
func (p *PrometheusCollector) PrometheusHandler() http.Handler {
	h := promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.Sync()
		h.ServeHTTP(w, r)
	})
}
