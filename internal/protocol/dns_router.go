package protocol

import (
	"context"
	"errors"
	"fmt"

	"github.com/getsentry/raven-go"
	"lib.kevinlin.info/aperture/lib"

	"overdns/internal/log"
	"overdns/internal/metrics"
	"overdns/internal/network"
	"overdns/internal/rules"
)

// DNSRouterHandler is a server handler that answers A queries from a rule table and forwards every
// other query upstream.
type DNSRouterHandler struct {
	Rules          *rules.Table
	Forwarder      *Forwarder
	ClientCxIOHook metrics.ConnectionIOHook
	ResolverHook   metrics.ResolverHook
	Logger         log.Logger
	Opts           DNSRouterOpts
}

// DNSRouterOpts formalizes configuration options for the router handler.
type DNSRouterOpts struct {
	// NoMatchLevel is the level at which names that match no rule are logged before being
	// forwarded.
	NoMatchLevel log.Level
}

// ConsumeError logs the routing error. Errors other than dropped malformed datagrams are reported
// as metrics, and unexpected ones are captured by Sentry.
func (h *DNSRouterHandler) ConsumeError(ctx context.Context, err error) {
	if errors.Is(err, ErrMalformedQuery) {
		h.Logger.Warn("%v", err)
		return
	}

	h.Logger.Error("%v", err)
	h.ResolverHook.EmitError()

	if errors.Is(err, ErrForwardCapacity) ||
		errors.Is(err, network.ErrUpstreamTimeout) ||
		errors.Is(err, network.ErrUpstreamSend) {
		return
	}

	transport := "unknown"
	if t, ok := ctx.Value(network.TransportContextKey).(network.Transport); ok {
		transport = t.String()
	}

	raven.CaptureError(err, map[string]string{
		"transport": transport,
	})
}

// Handle decodes a single query datagram. A plain A query for a name that matches a rule is
// answered directly; anything else is forwarded upstream verbatim. Datagrams that cannot be
// decoded are dropped without a reply.
func (h *DNSRouterHandler) Handle(ctx context.Context, req []byte, w network.ResponseWriter) error {
	rttTimer := lib.NewStopwatch()

	h.ResolverHook.EmitRequestSize(int64(len(req)), w.RemoteAddr())

	question, err := ParseQuestion(req)
	if err != nil {
		h.ResolverHook.EmitMalformed(w.RemoteAddr())
		return fmt.Errorf("dns_router: dropping datagram: client=%v err=%w", w.RemoteAddr(), err)
	}

	h.Logger.Debug(
		"dns_router: read query from client: id=%d name=%s type=%d class=%d client=%v",
		question.ID,
		question.Name,
		question.Type,
		question.Class,
		w.RemoteAddr(),
	)

	if !question.Answerable() {
		h.Logger.Debug(
			"dns_router: query cannot be answered locally; forwarding: name=%q type=%d qdcount=%d opcode=%d dotted_label=%t",
			question.Name,
			question.Type,
			question.QDCount,
			question.Opcode(),
			question.DottedLabel,
		)

		return h.forward(ctx, req, w)
	}

	rule, ok := h.Rules.Match(question.Name)
	if !ok {
		h.Logger.Log(
			h.Opts.NoMatchLevel,
			"dns_router: no rule matches name; forwarding: name=%s client=%v",
			question.Name,
			w.RemoteAddr(),
		)

		return h.forward(ctx, req, w)
	}

	if err := h.answer(req, question, rule, w); err != nil {
		return err
	}

	h.ResolverHook.EmitRTT(rttTimer.Elapsed(), w.RemoteAddr())

	return nil
}

// answer writes a response built from rule's targets, or SERVFAIL if no valid response for the
// question can be encoded.
func (h *DNSRouterHandler) answer(req []byte, question Question, rule *rules.Rule, w network.ResponseWriter) error {
	targets := rule.Targets()

	resp, err := BuildResponse(req, question.Name, targets)
	if err != nil {
		h.Logger.Warn(
			"dns_router: error encoding response; replying SERVFAIL: name=%s rule=%s err=%v",
			question.Name,
			rule,
			err,
		)

		if resp, err = BuildServerFailure(req); err != nil {
			return fmt.Errorf("dns_router: error encoding SERVFAIL: name=%s err=%w", question.Name, err)
		}

		targets = nil
	}

	written, err := w.Write(resp)
	if err != nil || written != len(resp) {
		h.ClientCxIOHook.EmitWriteError(w.RemoteAddr())

		return fmt.Errorf(
			"dns_router: %w: client=%v bytes=%d expected=%d err=%v",
			network.ErrClientSend,
			w.RemoteAddr(),
			written,
			len(resp),
			err,
		)
	}

	h.ResolverHook.EmitAnswer(len(targets), w.RemoteAddr())
	h.ResolverHook.EmitResponseSize(int64(written), w.RemoteAddr())

	h.Logger.Debug(
		"dns_router: answered query from rule table: name=%s rule=%s answers=%d client=%v",
		question.Name,
		rule,
		len(targets),
		w.RemoteAddr(),
	)

	return nil
}

// forward hands the query off to the forwarder.
func (h *DNSRouterHandler) forward(ctx context.Context, req []byte, w network.ResponseWriter) error {
	if err := h.Forwarder.Forward(ctx, req, w); err != nil {
		return fmt.Errorf("dns_router: error forwarding query: err=%w", err)
	}

	h.ResolverHook.EmitForward(w.RemoteAddr())

	return nil
}
