package metrics

import (
	"fmt"
	"net"
	"os"
	"time"
)

// SessionLifecycleHook is a metrics hook interface for reporting events that occur during the
// lifecycle of a forward session: the ephemeral upstream transport opened for a single query.
type SessionLifecycleHook interface {
	// EmitSessionOpen reports the event that a session was successfully opened.
	EmitSessionOpen(latency time.Duration, addr net.Addr)

	// EmitSessionClose reports the event that a session was closed, along with the terminal
	// outcome of the session (for example "relayed" or "timed_out").
	EmitSessionClose(outcome string, addr net.Addr)

	// EmitSessionError reports occurrence of an error opening a session.
	EmitSessionError()
}

// ConnectionIOHook is a metrics hook interface for reporting events related to I/O with a client
// or upstream address.
type ConnectionIOHook interface {
	// EmitReadError reports the event that a read failed.
	EmitReadError(addr net.Addr)

	// EmitWriteError reports the event that a write failed.
	EmitWriteError(addr net.Addr)

	// EmitDiscard reports the event that a datagram was read but discarded because it did not
	// correspond to the outstanding query.
	EmitDiscard(addr net.Addr)
}

// ResolverHook is a metrics hook interface for reporting events and latencies related to
// resolving a single client query, either from the rule table or by forwarding it upstream.
type ResolverHook interface {
	// EmitRequestSize reports the size of the client request on the wire.
	EmitRequestSize(bytes int64, client net.Addr)

	// EmitResponseSize reports the size of the response written back to the client.
	EmitResponseSize(bytes int64, client net.Addr)

	// EmitAnswer reports a query answered directly from the rule table with the given number of
	// answer records. A zero count denotes a server failure reply.
	EmitAnswer(answers int, client net.Addr)

	// EmitForward reports a query handed off to an upstream server.
	EmitForward(client net.Addr)

	// EmitMalformed reports a datagram that was dropped because it could not be decoded.
	EmitMalformed(client net.Addr)

	// EmitRTT reports the total, end-to-end latency associated with serving a single request
	// from a client, from the time it is read until the time a response is written.
	EmitRTT(latency time.Duration, client net.Addr)

	// EmitUpstreamLatency reports the latency between sending a query upstream and receiving its
	// reply.
	EmitUpstreamLatency(latency time.Duration, upstream net.Addr)

	// EmitError reports the occurrence of a critical error that causes the request to not be
	// served.
	EmitError()
}

// AsyncStatsdSessionLifecycleHook is an implementation of SessionLifecycleHook that outputs
// metrics asynchronously to statsd.
type AsyncStatsdSessionLifecycleHook struct {
	client *StatsdClient
	source string
}

// AsyncStatsdConnectionIOHook is an implementation of ConnectionIOHook that outputs metrics
// asynchronously to statsd.
type AsyncStatsdConnectionIOHook struct {
	client *StatsdClient
	source string
}

// AsyncStatsdResolverHook is an implementation of ResolverHook that outputs metrics
// asynchronously to statsd.
type AsyncStatsdResolverHook struct {
	client *StatsdClient
}

// NoopSessionLifecycleHook implements the SessionLifecycleHook interface but noops on all
// emissions.
type NoopSessionLifecycleHook struct{}

// NoopConnectionIOHook implements the ConnectionIOHook interface but noops on all emissions.
type NoopConnectionIOHook struct{}

// NoopResolverHook implements the ResolverHook interface but noops on all emissions.
type NoopResolverHook struct{}

// NewAsyncStatsdSessionLifecycleHook creates a new client with the specified source, statsd
// address, and statsd sample rate. The source denotes the entity with whom the server is opening
// and closing sessions.
func NewAsyncStatsdSessionLifecycleHook(source string, addr string, sampleRate float32, version string) (SessionLifecycleHook, error) {
	client, err := statsdClientFactory(addr, sampleRate, version)
	if err != nil {
		return nil, err
	}

	return &AsyncStatsdSessionLifecycleHook{
		client: client,
		source: source,
	}, nil
}

// EmitSessionOpen statsd implementation
func (h *AsyncStatsdSessionLifecycleHook) EmitSessionOpen(latency time.Duration, addr net.Addr) {
	go func() {
		tags := map[string]string{
			"addr":      ipFromAddr(addr),
			"transport": transportFromAddr(addr),
		}

		h.client.Count(fmt.Sprintf("event.%s.session_open", h.source), 1, tags)

		if latency > 0 {
			h.client.Timing(fmt.Sprintf("latency.%s.session_open", h.source), latency, tags)
		}
	}()
}

// EmitSessionClose statsd implementation
func (h *AsyncStatsdSessionLifecycleHook) EmitSessionClose(outcome string, addr net.Addr) {
	go h.client.Count(fmt.Sprintf("event.%s.session_close", h.source), 1, map[string]string{
		"addr":    ipFromAddr(addr),
		"outcome": outcome,
	})
}

// EmitSessionError statsd implementation
func (h *AsyncStatsdSessionLifecycleHook) EmitSessionError() {
	go h.client.Count(fmt.Sprintf("event.%s.session_error", h.source), 1, nil)
}

// NewNoopSessionLifecycleHook creates a noop implementation of SessionLifecycleHook.
func NewNoopSessionLifecycleHook() SessionLifecycleHook {
	return &NoopSessionLifecycleHook{}
}

// EmitSessionOpen noops.
func (h *NoopSessionLifecycleHook) EmitSessionOpen(latency time.Duration, addr net.Addr) {}

// EmitSessionClose noops.
func (h *NoopSessionLifecycleHook) EmitSessionClose(outcome string, addr net.Addr) {}

// EmitSessionError noops.
func (h *NoopSessionLifecycleHook) EmitSessionError() {}

// NewAsyncStatsdConnectionIOHook creates a new client with the specified source, statsd address,
// and statsd sample rate. The source denotes the entity with whom the server is performing I/O.
func NewAsyncStatsdConnectionIOHook(source string, addr string, sampleRate float32, version string) (ConnectionIOHook, error) {
	client, err := statsdClientFactory(addr, sampleRate, version)
	if err != nil {
		return nil, err
	}

	return &AsyncStatsdConnectionIOHook{
		client: client,
		source: source,
	}, nil
}

// EmitReadError statsd implementation.
func (h *AsyncStatsdConnectionIOHook) EmitReadError(addr net.Addr) {
	go h.client.Count(fmt.Sprintf("event.%s.read_error", h.source), 1, map[string]string{
		"addr":      ipFromAddr(addr),
		"transport": transportFromAddr(addr),
	})
}

// EmitWriteError statsd implementation.
func (h *AsyncStatsdConnectionIOHook) EmitWriteError(addr net.Addr) {
	go h.client.Count(fmt.Sprintf("event.%s.write_error", h.source), 1, map[string]string{
		"addr":      ipFromAddr(addr),
		"transport": transportFromAddr(addr),
	})
}

// EmitDiscard statsd implementation.
func (h *AsyncStatsdConnectionIOHook) EmitDiscard(addr net.Addr) {
	go h.client.Count(fmt.Sprintf("event.%s.discard", h.source), 1, map[string]string{
		"addr":      ipFromAddr(addr),
		"transport": transportFromAddr(addr),
	})
}

// NewNoopConnectionIOHook creates a noop implementation of ConnectionIOHook.
func NewNoopConnectionIOHook() ConnectionIOHook {
	return &NoopConnectionIOHook{}
}

// EmitReadError noops.
func (h *NoopConnectionIOHook) EmitReadError(addr net.Addr) {}

// EmitWriteError noops.
func (h *NoopConnectionIOHook) EmitWriteError(addr net.Addr) {}

// EmitDiscard noops.
func (h *NoopConnectionIOHook) EmitDiscard(addr net.Addr) {}

// NewAsyncStatsdResolverHook creates a new client with the specified statsd address and sample
// rate.
func NewAsyncStatsdResolverHook(addr string, sampleRate float32, version string) (ResolverHook, error) {
	client, err := statsdClientFactory(addr, sampleRate, version)
	if err != nil {
		return nil, err
	}

	return &AsyncStatsdResolverHook{client}, nil
}

// EmitRequestSize statsd implementation
func (h *AsyncStatsdResolverHook) EmitRequestSize(bytes int64, client net.Addr) {
	go h.client.Size("size.resolver.request", bytes, map[string]string{
		"addr": ipFromAddr(client),
	})
}

// EmitResponseSize statsd implementation
func (h *AsyncStatsdResolverHook) EmitResponseSize(bytes int64, client net.Addr) {
	go h.client.Size("size.resolver.response", bytes, map[string]string{
		"addr": ipFromAddr(client),
	})
}

// EmitAnswer statsd implementation
func (h *AsyncStatsdResolverHook) EmitAnswer(answers int, client net.Addr) {
	go func() {
		tags := map[string]string{"addr": ipFromAddr(client)}

		h.client.Count("event.resolver.answer", 1, tags)
		h.client.Gauge("gauge.resolver.answer_records", int64(answers), tags)
	}()
}

// EmitForward statsd implementation
func (h *AsyncStatsdResolverHook) EmitForward(client net.Addr) {
	go h.client.Count("event.resolver.forward", 1, map[string]string{
		"addr": ipFromAddr(client),
	})
}

// EmitMalformed statsd implementation
func (h *AsyncStatsdResolverHook) EmitMalformed(client net.Addr) {
	go h.client.Count("event.resolver.malformed", 1, map[string]string{
		"addr": ipFromAddr(client),
	})
}

// EmitRTT statsd implementation
func (h *AsyncStatsdResolverHook) EmitRTT(latency time.Duration, client net.Addr) {
	go h.client.Timing("latency.resolver.tx_rtt", latency, map[string]string{
		"client":    ipFromAddr(client),
		"transport": transportFromAddr(client),
	})
}

// EmitUpstreamLatency statsd implementation
func (h *AsyncStatsdResolverHook) EmitUpstreamLatency(latency time.Duration, upstream net.Addr) {
	go h.client.Timing("latency.resolver.tx_upstream", latency, map[string]string{
		"upstream": ipFromAddr(upstream),
	})
}

// EmitError statsd implementation
func (h *AsyncStatsdResolverHook) EmitError() {
	go h.client.Count("event.resolver.error", 1, nil)
}

// NewNoopResolverHook creates a noop implementation of ResolverHook.
func NewNoopResolverHook() ResolverHook {
	return &NoopResolverHook{}
}

// EmitRequestSize noops.
func (h *NoopResolverHook) EmitRequestSize(bytes int64, client net.Addr) {}

// EmitResponseSize noops.
func (h *NoopResolverHook) EmitResponseSize(bytes int64, client net.Addr) {}

// EmitAnswer noops.
func (h *NoopResolverHook) EmitAnswer(answers int, client net.Addr) {}

// EmitForward noops.
func (h *NoopResolverHook) EmitForward(client net.Addr) {}

// EmitMalformed noops.
func (h *NoopResolverHook) EmitMalformed(client net.Addr) {}

// EmitRTT noops.
func (h *NoopResolverHook) EmitRTT(latency time.Duration, client net.Addr) {}

// EmitUpstreamLatency noops.
func (h *NoopResolverHook) EmitUpstreamLatency(latency time.Duration, upstream net.Addr) {}

// EmitError noops.
func (h *NoopResolverHook) EmitError() {}

// Close flushes buffered metrics and releases the statsd socket.
func (h *AsyncStatsdSessionLifecycleHook) Close() error {
	return h.client.Close()
}

// Close flushes buffered metrics and releases the statsd socket.
func (h *AsyncStatsdConnectionIOHook) Close() error {
	return h.client.Close()
}

// Close flushes buffered metrics and releases the statsd socket.
func (h *AsyncStatsdResolverHook) Close() error {
	return h.client.Close()
}

// statsdClientFactory creates a configured StatsdClient with reasonable defaults for the given
// statsd server address and sample rate.
func statsdClientFactory(addr string, sampleRate float32, version string) (*StatsdClient, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, err
	}

	defaultTags := map[string]string{
		"host": hostname,
	}

	if version != "" {
		defaultTags["version"] = version
	}

	return NewStatsdClient(addr, "overdns", defaultTags, sampleRate)
}

// ipFromAddr returns the IP address from a full net.Addr, or null if unavailable.
func ipFromAddr(addr net.Addr) string {
	switch networkAddr := addr.(type) {
	case *net.UDPAddr:
		return networkAddr.IP.String()
	case *net.TCPAddr:
		return networkAddr.IP.String()
	default:
		return "null"
	}
}

// transportFromAddr returns the transport protocol (as a string) behind a net.Addr, or null if
// unavailable.
func transportFromAddr(addr net.Addr) string {
	switch addr.(type) {
	case *net.UDPAddr:
		return "udp"
	case *net.TCPAddr:
		return "tcp"
	default:
		return "null"
	}
}
