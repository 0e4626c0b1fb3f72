package network

import (
	"fmt"
	"net"
	"sync"
	"time"

	"lib.kevinlin.info/aperture/lib"

	"overdns/internal/metrics"
)

// DefaultPort is the port assumed for upstream addresses that do not name one.
const DefaultPort = "53"

// Client defines the interface for an upstream network client.
type Client interface {
	// Session opens a fresh session for a single query/reply exchange.
	Session() (*Session, error)

	// Stats returns historical client stats.
	Stats() Stats
}

// Stats formalizes stats tracked per-client.
type Stats struct {
	// SuccessfulSessions is the number of sessions that the client has successfully opened.
	SuccessfulSessions int
	// FailedSessions is the number of times that the client has failed to open a session.
	FailedSessions int
}

// UDPClient opens one connected UDP socket per session against a single upstream resolver.
type UDPClient struct {
	addr       string
	cxHook     metrics.SessionLifecycleHook
	ioHook     metrics.ConnectionIOHook
	opts       UDPClientOpts
	stats      Stats
	statsMutex sync.RWMutex
}

// UDPClientOpts formalizes UDP client configuration options.
type UDPClientOpts struct {
	// ConnectTimeout is the timeout associated with opening a session, which includes
	// resolving the upstream address if it is a hostname.
	ConnectTimeout time.Duration
	// ReadTimeout bounds the time a session waits for the upstream reply. Sessions that
	// receive no reply within this duration are torn down.
	ReadTimeout time.Duration
	// WriteTimeout is the timeout associated with sending the query upstream.
	WriteTimeout time.Duration
}

// NewUDPClient creates a UDPClient for the upstream at addr. A missing port defaults to 53.
func NewUDPClient(addr string, cxHook metrics.SessionLifecycleHook, ioHook metrics.ConnectionIOHook, opts UDPClientOpts) (*UDPClient, error) {
	normalized, err := NormalizeAddr(addr)
	if err != nil {
		return nil, err
	}

	// Sane option defaults
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 5 * time.Second
	}

	return &UDPClient{
		addr:   normalized,
		cxHook: cxHook,
		ioHook: ioHook,
		opts:   opts,
	}, nil
}

// Session dials a new connected UDP socket to the upstream.
func (c *UDPClient) Session() (*Session, error) {
	dialTimer := lib.NewStopwatch()

	conn, err := net.DialTimeout("udp", c.addr, c.opts.ConnectTimeout)

	c.statsMutex.Lock()
	if err != nil {
		c.stats.FailedSessions++
	} else {
		c.stats.SuccessfulSessions++
	}
	c.statsMutex.Unlock()

	if err != nil {
		c.cxHook.EmitSessionError()
		return nil, fmt.Errorf("client: error opening session: addr=%s err=%v", c.addr, err)
	}

	c.cxHook.EmitSessionOpen(dialTimer.Elapsed(), conn.RemoteAddr())

	return newSession(conn, c.cxHook, c.ioHook, c.opts), nil
}

// Stats returns current client stats.
func (c *UDPClient) Stats() Stats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()

	return c.stats
}

// Addr returns the normalized upstream address.
func (c *UDPClient) Addr() string {
	return c.addr
}

// String returns a string representation of the client.
func (c *UDPClient) String() string {
	return fmt.Sprintf("UDPClient{addr: %s, read_timeout: %v}", c.addr, c.opts.ReadTimeout)
}

// NormalizeAddr returns addr in host:port form, appending DefaultPort if it has no port.
func NormalizeAddr(addr string) (string, error) {
	if addr == "" {
		return "", fmt.Errorf("client: empty upstream address")
	}

	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr, nil
	}

	// Bare IPv6 literals may be bracketed or not.
	host := addr
	if len(host) > 1 && host[0] == '[' && host[len(host)-1] == ']' {
		host = host[1 : len(host)-1]
	}

	normalized := net.JoinHostPort(host, DefaultPort)
	if _, _, err := net.SplitHostPort(normalized); err != nil {
		return "", fmt.Errorf("client: invalid upstream address: addr=%s err=%v", addr, err)
	}

	return normalized, nil
}
