package metrics

import (
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var client = &net.UDPAddr{IP: net.IPv4(192, 0, 2, 10), Port: 40000}

func TestFormatMetric(t *testing.T) {
	c := &StatsdClient{defaultTags: map[string]string{"host": "ns1"}}

	assert.Equal(t, "event.resolver.error,host=ns1", c.formatMetric("event.resolver.error", nil))
	assert.Equal(
		t,
		"event.resolver.forward,addr=192.0.2.10,host=ns1",
		c.formatMetric("event.resolver.forward", map[string]string{"addr": "192.0.2.10"}),
	)
	assert.Equal(
		t,
		"event.x,host=override",
		c.formatMetric("event.x", map[string]string{"host": "override"}),
	)

	bare := &StatsdClient{}
	assert.Equal(t, "a%3Ab", bare.formatMetric("a:b", nil))
}

func TestAddrHelpers(t *testing.T) {
	assert.Equal(t, "192.0.2.10", ipFromAddr(client))
	assert.Equal(t, "udp", transportFromAddr(client))
	assert.Equal(t, "null", ipFromAddr(nil))
	assert.Equal(t, "null", transportFromAddr(nil))

	tcp := &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 53}
	assert.Equal(t, "10.0.0.1", ipFromAddr(tcp))
	assert.Equal(t, "tcp", transportFromAddr(tcp))
}

func TestPrometheusHooks(t *testing.T) {
	reg := prometheus.NewRegistry()

	c, err := NewPrometheusCollectors(reg)
	require.NoError(t, err)

	resolver := c.ResolverHook()
	resolver.EmitAnswer(2, client)
	resolver.EmitForward(client)
	resolver.EmitForward(client)
	resolver.EmitMalformed(client)
	resolver.EmitError()
	resolver.EmitRTT(time.Millisecond, client)

	sessions := c.SessionLifecycleHook()
	sessions.EmitSessionClose("relayed", client)
	sessions.EmitSessionClose("timed_out", client)
	sessions.EmitSessionClose("timed_out", client)
	sessions.EmitSessionError()

	c.ConnectionIOHook("upstream").EmitDiscard(client)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.queries.WithLabelValues("answer")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.queries.WithLabelValues("forward")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.queries.WithLabelValues("malformed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.errors))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.sessions.WithLabelValues("timed_out")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ioEvents.WithLabelValues("upstream", "discard")))

	_, err = NewPrometheusCollectors(reg)
	assert.Error(t, err, "registering twice must fail")
}

type countingResolverHook struct {
	NoopResolverHook
	forwards int
}

func (h *countingResolverHook) EmitForward(client net.Addr) {
	h.forwards++
}

func TestMultiResolverHook(t *testing.T) {
	a, b := &countingResolverHook{}, &countingResolverHook{}

	hook := MultiResolverHook{a, b, NewNoopResolverHook()}
	hook.EmitForward(client)
	hook.EmitError()

	assert.Equal(t, 1, a.forwards)
	assert.Equal(t, 1, b.forwards)
}

func TestStatsdClientCloseFlushes(t *testing.T) {
	server, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	c, err := NewStatsdClient(server.LocalAddr().String(), "overdns", nil, 1)
	require.NoError(t, err)

	require.NoError(t, c.Count("event.resolver.error", 1, nil))
	require.NoError(t, c.Close())

	require.NoError(t, server.SetReadDeadline(time.Now().Add(2*time.Second)))

	buf := make([]byte, 512)
	n, _, err := server.ReadFrom(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "overdns.event.resolver.error:1|c")
}

func TestAsyncStatsdHooksClose(t *testing.T) {
	sessions, err := NewAsyncStatsdSessionLifecycleHook("upstream", "127.0.0.1:8125", 1, "")
	require.NoError(t, err)

	cxIO, err := NewAsyncStatsdConnectionIOHook("client", "127.0.0.1:8125", 1, "")
	require.NoError(t, err)

	resolver, err := NewAsyncStatsdResolverHook("127.0.0.1:8125", 1, "")
	require.NoError(t, err)

	for _, hook := range []interface{}{sessions, cxIO, resolver} {
		closer, ok := hook.(interface{ Close() error })
		require.True(t, ok)
		assert.NoError(t, closer.Close())
	}
}
