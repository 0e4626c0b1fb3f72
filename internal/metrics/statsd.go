package metrics

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cactus/go-statsd-client/statsd"
)

// statsdFlushInterval bounds how long buffered statsd metrics wait before being sent.
const statsdFlushInterval = 250 * time.Millisecond

// StatsdClient emits InfluxDB-style tagged metrics to a statsd server over UDP. Metrics are
// buffered and flushed periodically so that the resolver's hot path never waits on the socket.
type StatsdClient struct {
	backend     statsd.Statter
	defaultTags map[string]string
	sampleRate  float32
}

// NewStatsdClient creates a buffered statsd client for the server at addr. Every metric name is
// prefixed with prefix and carries defaultTags in addition to its own tags.
func NewStatsdClient(addr string, prefix string, defaultTags map[string]string, sampleRate float32) (*StatsdClient, error) {
	backend, err := statsd.NewBufferedClient(addr, prefix, statsdFlushInterval, 0)
	if err != nil {
		return nil, fmt.Errorf("statsd: error creating statsd client: addr=%s err=%v", addr, err)
	}

	return &StatsdClient{
		backend:     backend,
		defaultTags: defaultTags,
		sampleRate:  sampleRate,
	}, nil
}

// Count increments a counter by delta.
func (c *StatsdClient) Count(metric string, delta int64, tags map[string]string) error {
	return c.backend.Inc(c.formatMetric(metric, tags), delta, c.sampleRate)
}

// Gauge sets a gauge.
func (c *StatsdClient) Gauge(metric string, value int64, tags map[string]string) error {
	return c.backend.Gauge(c.formatMetric(metric, tags), value, c.sampleRate)
}

// Timing records a latency.
func (c *StatsdClient) Timing(metric string, duration time.Duration, tags map[string]string) error {
	return c.backend.TimingDuration(c.formatMetric(metric, tags), duration, c.sampleRate)
}

// Size records a message size in bytes. Sizes are shipped as timers so that the server computes
// the same percentiles it does for latencies.
func (c *StatsdClient) Size(metric string, size int64, tags map[string]string) error {
	return c.backend.Timing(c.formatMetric(metric, tags), size, c.sampleRate)
}

// Close flushes any buffered metrics and releases the statsd socket.
func (c *StatsdClient) Close() error {
	return c.backend.Close()
}

// formatMetric renders metric followed by its tags, merged over the default tags, in key order.
// Names, keys, and values are URL escaped since characters like colons would otherwise corrupt
// the statsd line protocol.
func (c *StatsdClient) formatMetric(metric string, tags map[string]string) string {
	merged := make(map[string]string, len(c.defaultTags)+len(tags))
	for key, value := range c.defaultTags {
		merged[key] = value
	}
	for key, value := range tags {
		merged[key] = value
	}

	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(url.QueryEscape(metric))

	for _, key := range keys {
		b.WriteByte(',')
		b.WriteString(url.QueryEscape(key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(merged[key]))
	}

	return b.String()
}
