package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"overdns/internal/metrics"
)

// SessionState describes where a Session is in its single query/reply exchange.
//
//	Idle -> Sent -> AwaitingReply -> Relayed -> Closed
//	Idle -> SendError -> Closed
//	AwaitingReply -> TimedOut | ReceiveError | RelayError -> Closed
//
// A session may be closed from any state.
type SessionState int

const (
	// Idle sessions have been opened but nothing was sent yet.
	Idle SessionState = iota
	// Sent sessions have written their query upstream.
	Sent
	// AwaitingReply sessions are blocked waiting for the upstream reply.
	AwaitingReply
	// Relayed sessions have written the upstream reply back to the client.
	Relayed
	// SendError sessions failed to write their query upstream.
	SendError
	// TimedOut sessions received no matching reply before their deadline or cancellation.
	TimedOut
	// ReceiveError sessions failed to read from the upstream for a reason other than timeout.
	ReceiveError
	// RelayError sessions received a reply but could not write it back to the client.
	RelayError
	// Closed sessions have released their transport.
	Closed
)

// String returns the snake-case name of the state.
func (s SessionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sent:
		return "sent"
	case AwaitingReply:
		return "awaiting_reply"
	case Relayed:
		return "relayed"
	case SendError:
		return "send_error"
	case TimedOut:
		return "timed_out"
	case ReceiveError:
		return "receive_error"
	case RelayError:
		return "relay_error"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// maxReplySize is the largest datagram a session will read from its upstream.
const maxReplySize = 65535

// Session is an ephemeral upstream transport bound to exactly one query and its reply. Sessions
// are never reused: every session must be closed once, whatever the outcome of the exchange.
type Session struct {
	conn         net.Conn
	cxHook       metrics.SessionLifecycleHook
	ioHook       metrics.ConnectionIOHook
	readTimeout  time.Duration
	writeTimeout time.Duration

	mutex sync.Mutex
	state SessionState
	// outcome is the last state before Closed, reported when the session is closed.
	outcome SessionState
}

// newSession wraps a connected UDP transport in an Idle session.
func newSession(conn net.Conn, cxHook metrics.SessionLifecycleHook, ioHook metrics.ConnectionIOHook, opts UDPClientOpts) *Session {
	return &Session{
		conn:         conn,
		cxHook:       cxHook,
		ioHook:       ioHook,
		readTimeout:  opts.ReadTimeout,
		writeTimeout: opts.WriteTimeout,
		state:        Idle,
		outcome:      Idle,
	}
}

// Send writes the query upstream, unmodified, as a single datagram.
func (s *Session) Send(query []byte) error {
	if err := s.transition(Idle, Sent); err != nil {
		return err
	}

	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			s.setState(SendError)
			return fmt.Errorf("session: %w: addr=%v err=%v", ErrUpstreamSend, s.RemoteAddr(), err)
		}
	}

	n, err := s.conn.Write(query)
	if err != nil || n != len(query) {
		s.setState(SendError)
		s.ioHook.EmitWriteError(s.RemoteAddr())

		return fmt.Errorf(
			"session: %w: addr=%v bytes=%d expected=%d err=%v",
			ErrUpstreamSend,
			s.RemoteAddr(),
			n,
			len(query),
			err,
		)
	}

	return nil
}

// Relay waits for the first upstream datagram accepted by accept and writes it, unmodified, to
// client. Datagrams rejected by accept are discarded and the wait continues. The wait is bounded
// by the session's read timeout and ends early if ctx is done. A nil accept takes the first
// datagram received.
func (s *Session) Relay(ctx context.Context, client io.Writer, accept func(reply []byte) bool) (int, error) {
	if err := s.transition(Sent, AwaitingReply); err != nil {
		return 0, err
	}

	deadline := time.Now().Add(s.readTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	if err := s.conn.SetReadDeadline(deadline); err != nil {
		s.setState(ReceiveError)
		return 0, fmt.Errorf("session: error setting read deadline: addr=%v err=%v", s.RemoteAddr(), err)
	}

	// Cancellation expires the pending read immediately.
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, maxReplySize)

	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				s.setState(TimedOut)

				return 0, fmt.Errorf(
					"session: %w: addr=%v timeout=%v ctx_err=%v",
					ErrUpstreamTimeout,
					s.RemoteAddr(),
					s.readTimeout,
					ctx.Err(),
				)
			}

			s.setState(ReceiveError)
			s.ioHook.EmitReadError(s.RemoteAddr())

			return 0, fmt.Errorf("session: error reading reply: addr=%v err=%w", s.RemoteAddr(), err)
		}

		reply := buf[:n]

		if accept != nil && !accept(reply) {
			s.ioHook.EmitDiscard(s.RemoteAddr())
			continue
		}

		written, err := client.Write(reply)
		if err != nil || written != n {
			s.setState(RelayError)

			return written, fmt.Errorf(
				"session: %w: bytes=%d expected=%d err=%v",
				ErrClientSend,
				written,
				n,
				err,
			)
		}

		s.setState(Relayed)

		return written, nil
	}
}

// Close releases the session's transport. It is safe to call more than once; only the first call
// has any effect.
func (s *Session) Close() error {
	s.mutex.Lock()
	if s.state == Closed {
		s.mutex.Unlock()
		return nil
	}

	s.outcome = s.state
	s.state = Closed
	outcome := s.outcome
	s.mutex.Unlock()

	s.cxHook.EmitSessionClose(outcome.String(), s.RemoteAddr())

	return s.conn.Close()
}

// State returns the session's current state.
func (s *Session) State() SessionState {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.state
}

// Outcome returns the state the session was in when it was closed, or its current state if it is
// still open.
func (s *Session) Outcome() SessionState {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.state == Closed {
		return s.outcome
	}

	return s.state
}

// RemoteAddr is the upstream address of the session.
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// LocalAddr is the ephemeral local address of the session.
func (s *Session) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// transition moves the session from one state to the next, failing if it is not in from.
func (s *Session) transition(from SessionState, to SessionState) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.state != from {
		return fmt.Errorf("session: %w: expected=%s actual=%s", ErrSessionState, from, s.state)
	}

	s.state = to

	return nil
}

// setState records a state reached during the exchange, unless the session was closed
// concurrently.
func (s *Session) setState(state SessionState) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.state != Closed {
		s.state = state
	}
}
