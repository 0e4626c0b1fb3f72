package protocol

import (
	"errors"
)

var (
	// ErrMalformedQuery is returned for datagrams that cannot be decoded as a DNS query.
	ErrMalformedQuery = errors.New("malformed query")
	// ErrEncoding is returned when a wire-valid response cannot be built.
	ErrEncoding = errors.New("encoding error")
	// ErrForwardCapacity is returned when every forward session slot is in use.
	ErrForwardCapacity = errors.New("forward capacity exhausted")
)
