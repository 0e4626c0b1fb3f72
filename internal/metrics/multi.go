package metrics

import (
	"net"
	"time"
)

// MultiSessionLifecycleHook fans every emission out to several hooks.
type MultiSessionLifecycleHook []SessionLifecycleHook

// MultiConnectionIOHook fans every emission out to several hooks.
type MultiConnectionIOHook []ConnectionIOHook

// MultiResolverHook fans every emission out to several hooks.
type MultiResolverHook []ResolverHook

// EmitSessionOpen emits to all hooks.
func (m MultiSessionLifecycleHook) EmitSessionOpen(latency time.Duration, addr net.Addr) {
	for _, h := range m {
		h.EmitSessionOpen(latency, addr)
	}
}

// EmitSessionClose emits to all hooks.
func (m MultiSessionLifecycleHook) EmitSessionClose(outcome string, addr net.Addr) {
	for _, h := range m {
		h.EmitSessionClose(outcome, addr)
	}
}

// EmitSessionError emits to all hooks.
func (m MultiSessionLifecycleHook) EmitSessionError() {
	for _, h := range m {
		h.EmitSessionError()
	}
}

// EmitReadError emits to all hooks.
func (m MultiConnectionIOHook) EmitReadError(addr net.Addr) {
	for _, h := range m {
		h.EmitReadError(addr)
	}
}

// EmitWriteError emits to all hooks.
func (m MultiConnectionIOHook) EmitWriteError(addr net.Addr) {
	for _, h := range m {
		h.EmitWriteError(addr)
	}
}

// EmitDiscard emits to all hooks.
func (m MultiConnectionIOHook) EmitDiscard(addr net.Addr) {
	for _, h := range m {
		h.EmitDiscard(addr)
	}
}

// EmitRequestSize emits to all hooks.
func (m MultiResolverHook) EmitRequestSize(bytes int64, client net.Addr) {
	for _, h := range m {
		h.EmitRequestSize(bytes, client)
	}
}

// EmitResponseSize emits to all hooks.
func (m MultiResolverHook) EmitResponseSize(bytes int64, client net.Addr) {
	for _, h := range m {
		h.EmitResponseSize(bytes, client)
	}
}

// EmitAnswer emits to all hooks.
func (m MultiResolverHook) EmitAnswer(answers int, client net.Addr) {
	for _, h := range m {
		h.EmitAnswer(answers, client)
	}
}

// EmitForward emits to all hooks.
func (m MultiResolverHook) EmitForward(client net.Addr) {
	for _, h := range m {
		h.EmitForward(client)
	}
}

// EmitMalformed emits to all hooks.
func (m MultiResolverHook) EmitMalformed(client net.Addr) {
	for _, h := range m {
		h.EmitMalformed(client)
	}
}

// EmitRTT emits to all hooks.
func (m MultiResolverHook) EmitRTT(latency time.Duration, client net.Addr) {
	for _, h := range m {
		h.EmitRTT(latency, client)
	}
}

// EmitUpstreamLatency emits to all hooks.
func (m MultiResolverHook) EmitUpstreamLatency(latency time.Duration, upstream net.Addr) {
	for _, h := range m {
		h.EmitUpstreamLatency(latency, upstream)
	}
}

// EmitError emits to all hooks.
func (m MultiResolverHook) EmitError() {
	for _, h := range m {
		h.EmitError()
	}
}
