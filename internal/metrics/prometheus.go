package metrics

import (
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollectors owns every Prometheus collector exported by the server. Hooks handed out
// by it record into the same collectors, distinguished by labels.
type PrometheusCollectors struct {
	sessions        *prometheus.CounterVec
	sessionErrors   prometheus.Counter
	sessionOpen     prometheus.Histogram
	ioEvents        *prometheus.CounterVec
	queries         *prometheus.CounterVec
	answerRecords   prometheus.Histogram
	requestSize     prometheus.Histogram
	responseSize    prometheus.Histogram
	rtt             prometheus.Histogram
	upstreamLatency prometheus.Histogram
	errors          prometheus.Counter
}

// PrometheusSessionLifecycleHook is an implementation of SessionLifecycleHook backed by
// Prometheus collectors.
type PrometheusSessionLifecycleHook struct {
	c *PrometheusCollectors
}

// PrometheusConnectionIOHook is an implementation of ConnectionIOHook backed by Prometheus
// collectors.
type PrometheusConnectionIOHook struct {
	c      *PrometheusCollectors
	source string
}

// PrometheusResolverHook is an implementation of ResolverHook backed by Prometheus collectors.
type PrometheusResolverHook struct {
	c *PrometheusCollectors
}

// NewPrometheusCollectors creates all collectors and registers them with reg.
func NewPrometheusCollectors(reg prometheus.Registerer) (*PrometheusCollectors, error) {
	latencyBuckets := prometheus.ExponentialBuckets(0.0005, 2, 14)
	sizeBuckets := prometheus.ExponentialBuckets(32, 2, 12)

	c := &PrometheusCollectors{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "overdns",
			Name:      "forward_sessions_total",
			Help:      "Forward sessions closed, by terminal outcome.",
		}, []string{"outcome"}),
		sessionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "overdns",
			Name:      "forward_session_errors_total",
			Help:      "Forward sessions that could not be opened.",
		}),
		sessionOpen: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "overdns",
			Name:      "forward_session_open_seconds",
			Help:      "Time taken to open a forward session.",
			Buckets:   latencyBuckets,
		}),
		ioEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "overdns",
			Name:      "io_events_total",
			Help:      "Read errors, write errors and discarded datagrams, by peer.",
		}, []string{"source", "event"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "overdns",
			Name:      "queries_total",
			Help:      "Queries received, by how they were resolved.",
		}, []string{"path"}),
		answerRecords: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "overdns",
			Name:      "answer_records",
			Help:      "Number of answer records in direct responses.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
		}),
		requestSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "overdns",
			Name:      "request_size_bytes",
			Help:      "Size of client requests.",
			Buckets:   sizeBuckets,
		}),
		responseSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "overdns",
			Name:      "response_size_bytes",
			Help:      "Size of responses written to clients.",
			Buckets:   sizeBuckets,
		}),
		rtt: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "overdns",
			Name:      "request_duration_seconds",
			Help:      "End-to-end time to serve a request.",
			Buckets:   latencyBuckets,
		}),
		upstreamLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "overdns",
			Name:      "upstream_duration_seconds",
			Help:      "Time between forwarding a query and receiving its reply.",
			Buckets:   latencyBuckets,
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "overdns",
			Name:      "errors_total",
			Help:      "Requests that failed to be served.",
		}),
	}

	collectors := []prometheus.Collector{
		c.sessions,
		c.sessionErrors,
		c.sessionOpen,
		c.ioEvents,
		c.queries,
		c.answerRecords,
		c.requestSize,
		c.responseSize,
		c.rtt,
		c.upstreamLatency,
		c.errors,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// SessionLifecycleHook returns a hook recording forward session events.
func (c *PrometheusCollectors) SessionLifecycleHook() SessionLifecycleHook {
	return &PrometheusSessionLifecycleHook{c}
}

// ConnectionIOHook returns a hook recording I/O events against the given source.
func (c *PrometheusCollectors) ConnectionIOHook(source string) ConnectionIOHook {
	return &PrometheusConnectionIOHook{c: c, source: source}
}

// ResolverHook returns a hook recording query resolution events.
func (c *PrometheusCollectors) ResolverHook() ResolverHook {
	return &PrometheusResolverHook{c}
}

// EmitSessionOpen Prometheus implementation
func (h *PrometheusSessionLifecycleHook) EmitSessionOpen(latency time.Duration, addr net.Addr) {
	h.c.sessionOpen.Observe(latency.Seconds())
}

// EmitSessionClose Prometheus implementation
func (h *PrometheusSessionLifecycleHook) EmitSessionClose(outcome string, addr net.Addr) {
	h.c.sessions.WithLabelValues(outcome).Inc()
}

// EmitSessionError Prometheus implementation
func (h *PrometheusSessionLifecycleHook) EmitSessionError() {
	h.c.sessionErrors.Inc()
}

// EmitReadError Prometheus implementation
func (h *PrometheusConnectionIOHook) EmitReadError(addr net.Addr) {
	h.c.ioEvents.WithLabelValues(h.source, "read_error").Inc()
}

// EmitWriteError Prometheus implementation
func (h *PrometheusConnectionIOHook) EmitWriteError(addr net.Addr) {
	h.c.ioEvents.WithLabelValues(h.source, "write_error").Inc()
}

// EmitDiscard Prometheus implementation
func (h *PrometheusConnectionIOHook) EmitDiscard(addr net.Addr) {
	h.c.ioEvents.WithLabelValues(h.source, "discard").Inc()
}

// EmitRequestSize Prometheus implementation
func (h *PrometheusResolverHook) EmitRequestSize(bytes int64, client net.Addr) {
	h.c.requestSize.Observe(float64(bytes))
}

// EmitResponseSize Prometheus implementation
func (h *PrometheusResolverHook) EmitResponseSize(bytes int64, client net.Addr) {
	h.c.responseSize.Observe(float64(bytes))
}

// EmitAnswer Prometheus implementation
func (h *PrometheusResolverHook) EmitAnswer(answers int, client net.Addr) {
	h.c.queries.WithLabelValues("answer").Inc()
	h.c.answerRecords.Observe(float64(answers))
}

// EmitForward Prometheus implementation
func (h *PrometheusResolverHook) EmitForward(client net.Addr) {
	h.c.queries.WithLabelValues("forward").Inc()
}

// EmitMalformed Prometheus implementation
func (h *PrometheusResolverHook) EmitMalformed(client net.Addr) {
	h.c.queries.WithLabelValues("malformed").Inc()
}

// EmitRTT Prometheus implementation
func (h *PrometheusResolverHook) EmitRTT(latency time.Duration, client net.Addr) {
	h.c.rtt.Observe(latency.Seconds())
}

// EmitUpstreamLatency Prometheus implementation
func (h *PrometheusResolverHook) EmitUpstreamLatency(latency time.Duration, upstream net.Addr) {
	h.c.upstreamLatency.Observe(latency.Seconds())
}

// EmitError Prometheus implementation
func (h *PrometheusResolverHook) EmitError() {
	h.c.errors.Inc()
}
