package protocol

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"overdns/internal/log"
	"overdns/internal/metrics"
	"overdns/internal/network"
)

// fakeUpstream is a loopback resolver that records every query it reads and answers with the
// datagrams returned by respond.
type fakeUpstream struct {
	addr     string
	received chan []byte
}

func newFakeUpstream(t *testing.T, respond func(query []byte) [][]byte) *fakeUpstream {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	upstream := &fakeUpstream{
		addr:     conn.LocalAddr().String(),
		received: make(chan []byte, 16),
	}

	go func() {
		buf := make([]byte, 65535)

		for {
			n, remote, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}

			query := append([]byte(nil), buf[:n]...)
			upstream.received <- query

			for _, reply := range respond(query) {
				conn.WriteTo(reply, remote)
			}
		}
	}()

	return upstream
}

// recordingWriter is a network.ResponseWriter that records every datagram written to it.
type recordingWriter struct {
	mutex   sync.Mutex
	writes  [][]byte
	written chan []byte
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{written: make(chan []byte, 16)}
}

func (w *recordingWriter) Write(buf []byte) (int, error) {
	data := append([]byte(nil), buf...)

	w.mutex.Lock()
	w.writes = append(w.writes, data)
	w.mutex.Unlock()

	w.written <- data

	return len(buf), nil
}

func (w *recordingWriter) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 53}
}

func (w *recordingWriter) RemoteAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
}

func (w *recordingWriter) count() int {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	return len(w.writes)
}

func (w *recordingWriter) next(t *testing.T) []byte {
	t.Helper()

	select {
	case data := <-w.written:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a reply to the client")
		return nil
	}
}

func newTestUpstreamClient(t *testing.T, addr string, readTimeout time.Duration) *network.UDPClient {
	t.Helper()

	client, err := network.NewUDPClient(
		addr,
		metrics.NewNoopSessionLifecycleHook(),
		metrics.NewNoopConnectionIOHook(),
		network.UDPClientOpts{ReadTimeout: readTimeout, WriteTimeout: time.Second},
	)
	require.NoError(t, err)

	return client
}

// replyTo packs an upstream answer to query carrying a single A record.
func replyTo(t *testing.T, query []byte, id uint16) []byte {
	t.Helper()

	req := new(dns.Msg)
	require.NoError(t, req.Unpack(query))

	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.Id = id
	resp.Answer = append(resp.Answer, &dns.A{
		Hdr: dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
		A:   net.IPv4(198, 51, 100, 7),
	})

	wire, err := resp.Pack()
	require.NoError(t, err)

	return wire
}

type errorSink struct {
	mutex sync.Mutex
	errs  []error
}

func (s *errorSink) consume(ctx context.Context, err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.errs = append(s.errs, err)
}

func (s *errorSink) errors() []error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return append([]error(nil), s.errs...)
}

func TestForwarder_RelaysReplyVerbatim(t *testing.T) {
	var expected []byte
	var expectedMutex sync.Mutex

	upstream := newFakeUpstream(t, func(query []byte) [][]byte {
		reply := replyTo(t, query, 0xBEEF)

		expectedMutex.Lock()
		expected = reply
		expectedMutex.Unlock()

		return [][]byte{reply}
	})

	sink := &errorSink{}
	forwarder := NewForwarder(
		newTestUpstreamClient(t, upstream.addr, time.Second),
		metrics.NewNoopResolverHook(),
		log.NewNopLogger(),
		ForwarderOpts{ErrorHandler: sink.consume},
	)

	query := packQuery(t, "example.com", dns.TypeA)
	w := newRecordingWriter()

	require.NoError(t, forwarder.Forward(context.Background(), query, w))

	assert.Equal(t, query, <-upstream.received)

	relayed := w.next(t)
	forwarder.Wait()

	expectedMutex.Lock()
	assert.Equal(t, expected, relayed)
	expectedMutex.Unlock()

	assert.Equal(t, 1, w.count())
	assert.Empty(t, sink.errors())
}

func TestForwarder_IgnoresMismatchedReplies(t *testing.T) {
	upstream := newFakeUpstream(t, func(query []byte) [][]byte {
		return [][]byte{
			replyTo(t, query, 0x1111),
			query,
			replyTo(t, query, 0xBEEF),
		}
	})

	forwarder := NewForwarder(
		newTestUpstreamClient(t, upstream.addr, time.Second),
		metrics.NewNoopResolverHook(),
		log.NewNopLogger(),
		ForwarderOpts{},
	)

	w := newRecordingWriter()
	require.NoError(t, forwarder.Forward(context.Background(), packQuery(t, "example.com", dns.TypeA), w))

	relayed := w.next(t)
	forwarder.Wait()

	msg := new(dns.Msg)
	require.NoError(t, msg.Unpack(relayed))
	assert.Equal(t, uint16(0xBEEF), msg.Id)
	assert.True(t, msg.Response)
	assert.Equal(t, 1, w.count())
}

func TestForwarder_TimeoutClosesSession(t *testing.T) {
	upstream := newFakeUpstream(t, func(query []byte) [][]byte { return nil })

	sink := &errorSink{}
	forwarder := NewForwarder(
		newTestUpstreamClient(t, upstream.addr, 50*time.Millisecond),
		metrics.NewNoopResolverHook(),
		log.NewNopLogger(),
		ForwarderOpts{ErrorHandler: sink.consume},
	)

	w := newRecordingWriter()
	require.NoError(t, forwarder.Forward(context.Background(), packQuery(t, "example.com", dns.TypeA), w))

	forwarder.Wait()

	errs := sink.errors()
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], network.ErrUpstreamTimeout))
	assert.Zero(t, w.count())
}

func TestForwarder_Capacity(t *testing.T) {
	upstream := newFakeUpstream(t, func(query []byte) [][]byte { return nil })

	sink := &errorSink{}
	forwarder := NewForwarder(
		newTestUpstreamClient(t, upstream.addr, time.Minute),
		metrics.NewNoopResolverHook(),
		log.NewNopLogger(),
		ForwarderOpts{MaxSessions: 1, ErrorHandler: sink.consume},
	)

	ctx, cancel := context.WithCancel(context.Background())
	query := packQuery(t, "example.com", dns.TypeA)

	require.NoError(t, forwarder.Forward(ctx, query, newRecordingWriter()))

	err := forwarder.Forward(ctx, query, newRecordingWriter())
	assert.True(t, errors.Is(err, ErrForwardCapacity))

	// Shutdown expires the pending session without reporting an error
	cancel()
	forwarder.Wait()
	assert.Empty(t, sink.errors())

	// The slot is released once the session closes
	upstreamClient := newTestUpstreamClient(t, upstream.addr, 50*time.Millisecond)
	forwarder.upstream = upstreamClient
	assert.NoError(t, forwarder.Forward(context.Background(), query, newRecordingWriter()))
	forwarder.Wait()
}

func TestForwarder_SessionError(t *testing.T) {
	client, err := network.NewUDPClient(
		"127.0.0.1:99999",
		metrics.NewNoopSessionLifecycleHook(),
		metrics.NewNoopConnectionIOHook(),
		network.UDPClientOpts{},
	)
	require.NoError(t, err)

	forwarder := NewForwarder(client, metrics.NewNoopResolverHook(), log.NewNopLogger(), ForwarderOpts{MaxSessions: 1})

	w := newRecordingWriter()
	query := packQuery(t, "example.com", dns.TypeA)

	assert.Error(t, forwarder.Forward(context.Background(), query, w))

	// A failed forward does not leak its slot
	err = forwarder.Forward(context.Background(), query, w)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrForwardCapacity))
}
