package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
	"lib.kevinlin.info/aperture/lib"

	"overdns/internal/log"
	"overdns/internal/metrics"
	"overdns/internal/network"
)

// Forwarder relays queries that cannot be answered locally to an upstream resolver. Every forward
// runs in its own session: the query is sent synchronously, and the reply is awaited and relayed
// back to the client asynchronously.
type Forwarder struct {
	upstream     network.Client
	resolverHook metrics.ResolverHook
	logger       log.Logger
	opts         ForwarderOpts

	sessions *semaphore.Weighted
	inflight sync.WaitGroup
}

// ForwarderOpts formalizes configuration options for the forwarder.
type ForwarderOpts struct {
	// MaxSessions bounds the number of forward sessions that may be awaiting a reply at once.
	// Queries forwarded while every slot is taken are dropped.
	MaxSessions int64
	// ErrorHandler is invoked with errors that occur after Forward has returned, while the
	// reply is awaited or relayed. Errors are logged when it is nil.
	ErrorHandler func(ctx context.Context, err error)
}

// NewForwarder creates a Forwarder that opens sessions from upstream.
func NewForwarder(upstream network.Client, resolverHook metrics.ResolverHook, logger log.Logger, opts ForwarderOpts) *Forwarder {
	// Sane option defaults
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 1024
	}

	f := &Forwarder{
		upstream:     upstream,
		resolverHook: resolverHook,
		logger:       logger,
		opts:         opts,
		sessions:     semaphore.NewWeighted(opts.MaxSessions),
	}

	if f.opts.ErrorHandler == nil {
		f.opts.ErrorHandler = func(ctx context.Context, err error) {
			f.logger.Error("%v", err)
		}
	}

	return f
}

// Forward sends query, unmodified, to the upstream and returns once it has been sent. The first
// upstream datagram that is a reply to query is then written, unmodified, to w. Forward returns an
// error if no session slot is available or if the query could not be sent, in which case nothing
// is ever written to w.
func (f *Forwarder) Forward(ctx context.Context, query []byte, w network.ResponseWriter) error {
	if !f.sessions.TryAcquire(1) {
		return fmt.Errorf(
			"forwarder: %w: max_sessions=%d client=%v",
			ErrForwardCapacity,
			f.opts.MaxSessions,
			w.RemoteAddr(),
		)
	}

	session, err := f.upstream.Session()
	if err != nil {
		f.sessions.Release(1)
		return fmt.Errorf("forwarder: error opening upstream session: err=%w", err)
	}

	upstreamTimer := lib.NewStopwatch()

	if err := session.Send(query); err != nil {
		session.Close()
		f.sessions.Release(1)

		return fmt.Errorf("forwarder: error forwarding query: client=%v err=%w", w.RemoteAddr(), err)
	}

	f.logger.Debug(
		"forwarder: sent query upstream: upstream=%v client=%v request_bytes=%d",
		session.RemoteAddr(),
		w.RemoteAddr(),
		len(query),
	)

	f.inflight.Add(1)

	go func() {
		defer f.inflight.Done()
		defer f.sessions.Release(1)
		defer session.Close()

		written, err := session.Relay(ctx, w, func(reply []byte) bool {
			return IsReplyTo(query, reply)
		})
		if err != nil {
			// Sessions expired by shutdown are not failures.
			if ctx.Err() != nil && errors.Is(err, network.ErrUpstreamTimeout) {
				f.logger.Debug("forwarder: session expired on shutdown: upstream=%v", session.RemoteAddr())
				return
			}

			f.opts.ErrorHandler(ctx, fmt.Errorf(
				"forwarder: error relaying reply: upstream=%v client=%v err=%w",
				session.RemoteAddr(),
				w.RemoteAddr(),
				err,
			))

			return
		}

		f.resolverHook.EmitUpstreamLatency(upstreamTimer.Elapsed(), session.RemoteAddr())
		f.resolverHook.EmitResponseSize(int64(written), w.RemoteAddr())

		f.logger.Debug(
			"forwarder: relayed upstream reply: upstream=%v client=%v response_bytes=%d latency=%v",
			session.RemoteAddr(),
			w.RemoteAddr(),
			written,
			upstreamTimer.Elapsed(),
		)
	}()

	return nil
}

// Wait blocks until every in-flight session has been closed.
func (f *Forwarder) Wait() {
	f.inflight.Wait()
}
