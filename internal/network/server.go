package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
)

// contextKey is a type alias for context keys passed to server handlers.
type contextKey int

// Transport describes a network transport type.
type Transport int

// ResponseWriter writes replies back to the client that sent a request.
type ResponseWriter interface {
	// Write sends a single reply datagram to the client.
	Write(buf []byte) (int, error)

	// LocalAddr is the address of the listening socket.
	LocalAddr() net.Addr

	// RemoteAddr is the address of the client, captured when its request was read.
	RemoteAddr() net.Addr
}

// ServerHandler is a common interface that wraps logic for handling incoming requests.
type ServerHandler interface {
	// Handle describes the routine to run for every datagram the server reads. The request
	// buffer is owned by the handler; replies are written through w, which may be retained and
	// written after Handle returns.
	Handle(ctx context.Context, req []byte, w ResponseWriter) error

	// ConsumeError is a callback invoked when the server fails to read from its socket, or when
	// the handler returns an error.
	ConsumeError(ctx context.Context, err error)
}

// UDPServer describes a server that listens on a UDP address.
type UDPServer struct {
	addr string
	opts UDPServerOpts

	mutex sync.RWMutex
	conn  net.PacketConn
}

// UDPServerOpts formalizes UDP server configuration options.
type UDPServerOpts struct {
	// BufferSize is the size of the buffer each datagram is read into. Datagrams larger than
	// the buffer are truncated by the kernel, so it should be at least as large as the largest
	// query the server is expected to forward verbatim.
	BufferSize int
}

const (
	// TransportContextKey is the name of the context key used to indicate the network transport
	// protocol the handler is serving.
	TransportContextKey contextKey = iota
)

const (
	// UDP describes a UDP transport.
	UDP Transport = iota
)

// String returns the lower-case name of the transport.
func (t Transport) String() string {
	switch t {
	case UDP:
		return "udp"
	default:
		return "unknown"
	}
}

// NewUDPServer creates a UDP server listening on the specified address.
func NewUDPServer(addr string, opts UDPServerOpts) *UDPServer {
	// Sane option defaults
	if opts.BufferSize <= 0 {
		opts.BufferSize = 65535
	}

	return &UDPServer{addr: addr, opts: opts}
}

// ListenAndServe binds the UDP address with which the server was configured and serves datagrams
// with the specified handler until ctx is cancelled. It returns an error immediately if it fails
// to bind to the address.
func (s *UDPServer) ListenAndServe(ctx context.Context, handler ServerHandler) error {
	conn, err := net.ListenPacket("udp", s.addr)
	if err != nil {
		return fmt.Errorf("server: failed to listen on UDP socket: addr=%s err=%w", s.addr, err)
	}

	return s.Serve(ctx, conn, handler)
}

// Serve reads datagrams from an already bound socket, invoking handler once per datagram, one at
// a time. The socket is closed when ctx is cancelled, at which point Serve returns nil.
func (s *UDPServer) Serve(ctx context.Context, conn net.PacketConn, handler ServerHandler) error {
	s.mutex.Lock()
	s.conn = conn
	s.mutex.Unlock()

	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	ctx = context.WithValue(ctx, TransportContextKey, UDP)
	buf := make([]byte, s.opts.BufferSize)

	for {
		n, remote, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}

			handler.ConsumeError(ctx, fmt.Errorf("server: error reading from UDP socket: err=%w", err))
			continue
		}

		// The read buffer is reused; the request must outlive this iteration if it is
		// forwarded.
		req := make([]byte, n)
		copy(req, buf[:n])

		if err := handler.Handle(ctx, req, NewUDPConn(conn, remote)); err != nil {
			handler.ConsumeError(ctx, err)
		}
	}
}

// Addr returns the address the server is bound to, or nil if it is not serving yet.
func (s *UDPServer) Addr() net.Addr {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.conn == nil {
		return nil
	}

	return s.conn.LocalAddr()
}
