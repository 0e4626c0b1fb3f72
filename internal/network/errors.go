package network

import (
	"errors"
)

var (
	// ErrUpstreamSend is returned when a query cannot be written to an upstream session.
	ErrUpstreamSend = errors.New("upstream send error")
	// ErrUpstreamTimeout is returned when no matching reply arrives before the session expires.
	ErrUpstreamTimeout = errors.New("upstream timeout")
	// ErrClientSend is returned when a reply cannot be written back to the client.
	ErrClientSend = errors.New("client send error")
	// ErrSessionState is returned when a session operation is attempted out of order.
	ErrSessionState = errors.New("invalid session state")
)
