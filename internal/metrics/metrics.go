package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector keeps in-process counters for the JSON metrics endpoint.
type Collector struct {
	// Request counts by route
	requestCounts   map[string]*uint64
	requestCountsMu sync.RWMutex

	// Request latencies by route
	latencies   map[string]*LatencyHistogram
	latenciesMu sync.RWMutex

	// Pipeline outcomes keyed "op/outcome"
	outcomes   map[string]*uint64
	outcomesMu sync.RWMutex

	// Connected websocket clients
	eventClients int64

	startTime time.Time
}

// LatencyHistogram tracks latencies in millisecond buckets
type LatencyHistogram struct {
	// Buckets: [0-1ms], [1-5ms], [5-10ms], [10-25ms], [25-50ms], [50-100ms], [100-250ms], [250-500ms], [500-1000ms], [1000ms+]
	buckets [10]uint64
	sum     uint64 // nanoseconds
	count   uint64
	mu      sync.Mutex
}

var bucketBoundaries = []int64{1, 5, 10, 25, 50, 100, 250, 500, 1000}

var bucketLabels = []string{
	"0-1ms", "1-5ms", "5-10ms", "10-25ms", "25-50ms",
	"50-100ms", "100-250ms", "250-500ms", "500-1000ms", "1000ms+",
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		requestCounts: make(map[string]*uint64),
		latencies:     make(map[string]*LatencyHistogram),
		outcomes:      make(map[string]*uint64),
		startTime:     time.Now(),
	}
}

func increment(mu *sync.RWMutex, m map[string]*uint64, key string) {
	mu.Lock()
	counter, exists := m[key]
	if !exists {
		var val uint64
		counter = &val
		m[key] = counter
	}
	mu.Unlock()

	atomic.AddUint64(counter, 1)
}

func snapshot(mu *sync.RWMutex, m map[string]*uint64) map[string]uint64 {
	out := make(map[string]uint64)
	mu.RLock()
	for k, counter := range m {
		out[k] = atomic.LoadUint64(counter)
	}
	mu.RUnlock()
	return out
}

// RecordRequest counts a request for route
func (c *Collector) RecordRequest(route string) {
	increment(&c.requestCountsMu, c.requestCounts, route)
}

// RecordOutcome counts a finished pipeline
func (c *Collector) RecordOutcome(op, outcome string) {
	increment(&c.outcomesMu, c.outcomes, op+"/"+outcome)
}

// RecordLatency records the latency of a request
func (c *Collector) RecordLatency(route string, duration time.Duration) {
	c.latenciesMu.Lock()
	hist, exists := c.latencies[route]
	if !exists {
		hist = &LatencyHistogram{}
		c.latencies[route] = hist
	}
	c.latenciesMu.Unlock()

	hist.Record(duration)
}

// Record records a latency value in the histogram
func (h *LatencyHistogram) Record(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ms := d.Milliseconds()

	bucketIdx := len(bucketBoundaries)
	for i, boundary := range bucketBoundaries {
		if ms < boundary {
			bucketIdx = i
			break
		}
	}

	h.buckets[bucketIdx]++
	h.sum += uint64(d.Nanoseconds())
	h.count++
}

// ClientConnected increments the websocket client gauge
func (c *Collector) ClientConnected() {
	atomic.AddInt64(&c.eventClients, 1)
}

// ClientDisconnected decrements the websocket client gauge
func (c *Collector) ClientDisconnected() {
	atomic.AddInt64(&c.eventClients, -1)
}

// Metrics is a point-in-time view of the collector
type Metrics struct {
	Uptime           string                  `json:"uptime"`
	UptimeSeconds    float64                 `json:"uptime_seconds"`
	RequestCounts    map[string]uint64       `json:"request_counts"`
	RequestLatencies map[string]LatencyStats `json:"request_latencies"`
	PipelineOutcomes map[string]uint64       `json:"pipeline_outcomes"`
	EventClients     int64                   `json:"event_clients"`
	CollectedAt      time.Time               `json:"collected_at"`
}

// LatencyStats contains latency statistics for a route
type LatencyStats struct {
	Count   uint64            `json:"count"`
	SumMs   float64           `json:"sum_ms"`
	AvgMs   float64           `json:"avg_ms"`
	Buckets map[string]uint64 `json:"buckets"`
}

// GetMetrics returns the current metrics
func (c *Collector) GetMetrics() *Metrics {
	uptime := time.Since(c.startTime)

	latencies := make(map[string]LatencyStats)
	c.latenciesMu.RLock()
	for route, hist := range c.latencies {
		hist.mu.Lock()
		stats := LatencyStats{
			Count:   hist.count,
			SumMs:   float64(hist.sum) / float64(time.Millisecond),
			Buckets: make(map[string]uint64),
		}
		if hist.count > 0 {
			stats.AvgMs = float64(hist.sum) / float64(hist.count) / float64(time.Millisecond)
		}
		for i, count := range hist.buckets {
			if count > 0 {
				stats.Buckets[bucketLabels[i]] = count
			}
		}
		hist.mu.Unlock()
		latencies[route] = stats
	}
	c.latenciesMu.RUnlock()

	return &Metrics{
		Uptime:           uptime.Round(time.Second).String(),
		UptimeSeconds:    uptime.Seconds(),
		RequestCounts:    snapshot(&c.requestCountsMu, c.requestCounts),
		RequestLatencies: latencies,
		PipelineOutcomes: snapshot(&c.outcomesMu, c.outcomes),
		EventClients:     atomic.LoadInt64(&c.eventClients),
		CollectedAt:      time.Now(),
	}
}

// GetMetricsJSON returns the current metrics as JSON
func (c *Collector) GetMetricsJSON() ([]byte, error) {
	return json.Marshal(c.GetMetrics())
}

// Reset clears all metrics (useful for testing)
func (c *Collector) Reset() {
	c.requestCountsMu.Lock()
	c.requestCounts = make(map[string]*uint64)
	c.requestCountsMu.Unlock()

	c.latenciesMu.Lock()
	c.latencies = make(map[string]*LatencyHistogram)
	c.latenciesMu.Unlock()

	c.outcomesMu.Lock()
	c.outcomes = make(map[string]*uint64)
	c.outcomesMu.Unlock()

	atomic.StoreInt64(&c.eventClients, 0)
	c.startTime = time.Now()
}
