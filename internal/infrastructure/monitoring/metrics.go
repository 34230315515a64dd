package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Capture metrics
	Captures   *prometheus.CounterVec
	Duplicates *prometheus.CounterVec

	// Isolation metrics
	BridgeMessages *prometheus.CounterVec
	FrameBuilds    prometheus.Counter

	// Tag lifecycle
	TagStatus *prometheus.CounterVec

	// Session metrics
	SessionsActive prometheus.Gauge

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	registry *prometheus.Registry

	mu       sync.Mutex
	snapshot Snapshot
}

// Snapshot holds current values for the JSON summary endpoint.
type Snapshot struct {
	Requests       int64            `json:"requests"`
	Errors         int64            `json:"errors"`
	AvgLatencyMs   float64          `json:"avg_latency_ms"`
	Captured       map[string]int64 `json:"captured"`
	Duplicates     int64            `json:"duplicates"`
	FrameBuilds    int64            `json:"frame_builds"`
	ActiveSessions int64            `json:"active_sessions"`
	WSConnections  int64            `json:"ws_connections"`
	UptimeSeconds  float64          `json:"uptime_seconds"`

	totalDuration float64
}

// NewMetrics creates a collector on its own registry, so several servers
// (and tests) can live in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),
		registry:  reg,
		snapshot:  Snapshot{Captured: make(map[string]int64)},

		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracklab_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracklab_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		ResponseSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracklab_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),

		Captures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracklab_captures_total",
				Help: "Egress calls seen by interceptors",
			},
			[]string{"context", "kind", "captured"},
		),
		Duplicates: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracklab_capture_duplicates_total",
				Help: "Captures suppressed by the dedup window",
			},
			[]string{"kind"},
		),

		BridgeMessages: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracklab_bridge_messages_total",
				Help: "Messages received from isolated frames",
			},
			[]string{"type", "outcome"},
		),
		FrameBuilds: f.NewCounter(
			prometheus.CounterOpts{
				Name: "tracklab_frame_builds_total",
				Help: "Isolated documents built",
			},
		),

		TagStatus: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracklab_tag_status_changes_total",
				Help: "Tag lifecycle status transitions",
			},
			[]string{"status"},
		),

		SessionsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracklab_sessions_active",
				Help: "Number of live sessions",
			},
		),

		WSConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracklab_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracklab_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),

		Uptime: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracklab_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
	}
	return m
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.Requests++
	m.snapshot.totalDuration += duration.Seconds()
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.Errors++
	}
	m.mu.Unlock()
}

// RecordCapture counts one interceptor invocation.
func (m *Metrics) RecordCapture(context, kind string, captured bool) {
	label := "false"
	if captured {
		label = "true"
	}
	m.Captures.WithLabelValues(context, kind, label).Inc()
	if captured {
		m.mu.Lock()
		m.snapshot.Captured[kind]++
		m.mu.Unlock()
	}
}

// RecordDuplicate counts a suppressed capture.
func (m *Metrics) RecordDuplicate(kind string) {
	m.Duplicates.WithLabelValues(kind).Inc()
	m.mu.Lock()
	m.snapshot.Duplicates++
	m.mu.Unlock()
}

// RecordBridgeMessage counts an inbound frame message.
func (m *Metrics) RecordBridgeMessage(msgType, outcome string) {
	if msgType == "" {
		msgType = "unknown"
	}
	m.BridgeMessages.WithLabelValues(msgType, outcome).Inc()
}

// RecordFrameBuild counts a document build.
func (m *Metrics) RecordFrameBuild() {
	m.FrameBuilds.Inc()
	m.mu.Lock()
	m.snapshot.FrameBuilds++
	m.mu.Unlock()
}

// RecordTagStatus counts a lifecycle transition.
func (m *Metrics) RecordTagStatus(status string) {
	m.TagStatus.WithLabelValues(status).Inc()
}

// SetActiveSessions sets the number of live sessions
func (m *Metrics) SetActiveSessions(n int) {
	m.SessionsActive.Set(float64(n))
	m.mu.Lock()
	m.snapshot.ActiveSessions = int64(n)
	m.mu.Unlock()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.WSConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.WSConnections--
	m.mu.Unlock()
}

// Snapshot returns a copy of the running totals.
func (m *Metrics) Snapshot() Snapshot {
	uptime := time.Since(m.startTime).Seconds()
	m.Uptime.Set(uptime)

	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.snapshot
	out.Captured = make(map[string]int64, len(m.snapshot.Captured))
	for k, v := range m.snapshot.Captured {
		out.Captured[k] = v
	}
	if out.Requests > 0 {
		out.AvgLatencyMs = out.totalDuration / float64(out.Requests) * 1000
	}
	out.UptimeSeconds = uptime
	return out
}
