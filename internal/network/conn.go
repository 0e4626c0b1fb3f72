package network

import (
	"net"
)

// UDPConn is a reply writer bound to a single client of a shared UDP socket. The remote address
// is captured when the client's datagram is read, so replies always go back to whichever
// address/port originated the query, even when written long after the read from another
// goroutine.
type UDPConn struct {
	conn   net.PacketConn
	remote net.Addr
}

// NewUDPConn creates a UDPConn that writes to remote through the backing net.PacketConn.
func NewUDPConn(conn net.PacketConn, remote net.Addr) *UDPConn {
	return &UDPConn{
		conn:   conn,
		remote: remote,
	}
}

// Write sends buf to the client as a single datagram.
func (c *UDPConn) Write(buf []byte) (n int, err error) {
	return c.conn.WriteTo(buf, c.remote)
}

// LocalAddr obtains the listening socket's local address.
func (c *UDPConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr obtains the client's address.
func (c *UDPConn) RemoteAddr() net.Addr {
	return c.remote
}
