package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"

	"webhook-proxy-go/internal/dedup"
	"webhook-proxy-go/internal/fingerprint"
	"webhook-proxy-go/internal/metrics"
	"webhook-proxy-go/internal/model"
	"webhook-proxy-go/internal/ratelimit"
)

var (
	// ErrGatewayFailure is returned by Redeliver when the upstream answers 502 again.
	ErrGatewayFailure = errors.New("upstream gateway failure")
	// ErrUpstreamUnreachable is returned by Redeliver when no response was obtained.
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
)

// secretParamPattern matches credential-like query parameters in URLs embedded
// in transport errors.
var secretParamPattern = regexp.MustCompile(`(?i)((?:token|secret|signature|sig|key|apikey|api_key)=)[^&\s"]+`)

// Enqueuer hands a failed request to the durable retry queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, env *model.RetryEnvelope) error
}

// Pipeline composes the rate limit gate, the dedup store, the forwarder and
// the retry queue for every inbound request.
type Pipeline struct {
	forwarder *Forwarder
	store     *dedup.Store
	gate      *ratelimit.Gate
	enqueuer  Enqueuer
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewPipeline creates a Pipeline. m may be nil.
func NewPipeline(f *Forwarder, store *dedup.Store, gate *ratelimit.Gate, enq Enqueuer, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		forwarder: f,
		store:     store,
		gate:      gate,
		enqueuer:  enq,
		metrics:   m,
		logger:    logger.With("component", "pipeline"),
	}
}

// Handle runs the full pipeline for a request on the primary webhook route.
func (p *Pipeline) Handle(ctx context.Context, req *model.InboundRequest) *model.Reply {
	var reply *model.Reply
	switch {
	case req.Method == http.MethodOptions:
		reply = preflightReply(http.StatusNoContent)
	case req.Method == http.MethodHead:
		reply = preflightReply(http.StatusOK)
	case req.Method == http.MethodGet:
		reply = p.handleRead(ctx, req)
	case model.IsWriteMethod(req.Method):
		reply = p.handleWrite(ctx, req)
	default:
		reply = errorReply(http.StatusMethodNotAllowed, "")
	}

	p.logReply(req, reply)
	return reply
}

// HandleTest forwards a request on the debug route. It skips rate limiting,
// deduplication and retry routing.
func (p *Pipeline) HandleTest(ctx context.Context, req *model.InboundRequest) *model.Reply {
	var reply *model.Reply
	switch {
	case req.Method == http.MethodOptions:
		reply = preflightReply(http.StatusNoContent)
	case req.Method == http.MethodHead:
		reply = preflightReply(http.StatusOK)
	case req.Method == http.MethodGet || model.IsWriteMethod(req.Method):
		out := p.forwarder.Forward(ctx, req)
		if out.Kind == model.OutcomeTransportFailure {
			p.logTransportFailure(req, out.Err)
			reply = transportFailureReply(req.Method)
		} else {
			reply = passthroughReply(out)
		}
	default:
		reply = errorReply(http.StatusMethodNotAllowed, "")
	}

	p.logReply(req, reply)
	return reply
}

func (p *Pipeline) handleRead(ctx context.Context, req *model.InboundRequest) *model.Reply {
	if reply := p.admit(ctx, req); reply != nil {
		return reply
	}

	out := p.forwarder.Forward(ctx, req)
	switch {
	case out.Kind == model.OutcomeTransportFailure:
		p.logTransportFailure(req, out.Err)
		return transportFailureReply(req.Method)
	case out.IsGatewayFailure():
		return p.enqueue(ctx, req)
	default:
		return passthroughReply(out)
	}
}

func (p *Pipeline) handleWrite(ctx context.Context, req *model.InboundRequest) *model.Reply {
	if reply := p.admit(ctx, req); reply != nil {
		return reply
	}

	fp := fingerprint.Generate(req.Method, req.Path, req.Body)
	if p.isDuplicate(ctx, fp) {
		p.logger.Info("duplicate request rejected", "path", req.Path, "fingerprint", fp)
		return errorReply(http.StatusConflict, msgDuplicate)
	}

	out := p.forwarder.Forward(ctx, req)
	switch out.Kind {
	case model.OutcomeTransportFailure:
		p.logTransportFailure(req, out.Err)
		p.rollback(ctx, fp)
		return transportFailureReply(req.Method)
	case model.OutcomeServerError:
		if out.IsGatewayFailure() {
			return p.enqueue(ctx, req)
		}
		p.logger.Error("upstream server error", "path", req.Path, "status", out.StatusCode)
		return headersOnlyReply(out)
	case model.OutcomeNotFound:
		p.logger.Error("upstream not found", "path", req.Path)
		return headersOnlyReply(out)
	default:
		p.save(ctx, fp)
		return passthroughReply(out)
	}
}

// Redeliver re-drives a queued request. It returns an error when the message
// must be retried: the envelope is unusable, the call failed in transport or
// the upstream answered 502 again. A repeated 502 is therefore not
// acknowledged; it goes back on the queue with the rest of its batch until
// the queue's retry limit dead-letters it. Duplicates are skipped. Redelivery
// is never rate limited and never enqueues.
func (p *Pipeline) Redeliver(ctx context.Context, env *model.RetryEnvelope) error {
	req, err := requestFromEnvelope(env)
	if err != nil {
		return err
	}

	if req.Method != http.MethodGet && !model.IsWriteMethod(req.Method) {
		p.logger.Warn("dropping retry message with unsupported method", "method", req.Method, "path", req.Path)
		return nil
	}

	write := model.IsWriteMethod(req.Method)
	var fp string
	if write {
		fp = fingerprint.Generate(req.Method, req.Path, req.Body)
		if p.isDuplicate(ctx, fp) {
			p.logger.Info("skipping duplicate retry message", "path", req.Path, "fingerprint", fp)
			return nil
		}
	}

	out := p.forwarder.Forward(ctx, req)
	switch {
	case out.Kind == model.OutcomeTransportFailure:
		if write {
			p.rollback(ctx, fp)
		}
		return fmt.Errorf("redeliver %s %s: %w: %s", req.Method, req.Path, ErrUpstreamUnreachable, sanitizeError(out.Err))
	case out.IsGatewayFailure():
		return fmt.Errorf("redeliver %s %s: %w", req.Method, req.Path, ErrGatewayFailure)
	case out.Kind == model.OutcomeSuccess && write:
		p.save(ctx, fp)
	}

	p.logger.Info("retry message delivered",
		"method", req.Method,
		"path", req.Path,
		"status", out.StatusCode,
	)
	return nil
}

// admit applies the rate limit gate. A limiter failure admits the request.
func (p *Pipeline) admit(ctx context.Context, req *model.InboundRequest) *model.Reply {
	d, err := p.gate.Admit(ctx, req.ClientKey)
	if err != nil {
		p.logger.Warn("rate limiter unavailable, admitting request", "err", err, "path", req.Path)
	}
	if d.Allowed {
		return nil
	}
	p.metrics.IncRateLimited()
	return rateLimitedReply(req.Path)
}

// isDuplicate reports whether fp has a live record. A store failure is "not a duplicate".
func (p *Pipeline) isDuplicate(ctx context.Context, fp string) bool {
	found, err := p.store.Check(ctx, fp)
	if err != nil {
		p.logger.Warn("dedup check failed, treating as new", "err", err, "fingerprint", fp)
		p.metrics.IncDedupError("check")
		return false
	}
	if found {
		p.metrics.IncDuplicate()
	}
	return found
}

func (p *Pipeline) save(ctx context.Context, fp string) {
	if err := p.store.Save(ctx, fp); err != nil {
		p.logger.Error("dedup save failed", "err", err, "fingerprint", fp)
		p.metrics.IncDedupError("save")
	}
}

func (p *Pipeline) rollback(ctx context.Context, fp string) {
	if err := p.store.Delete(ctx, fp); err != nil {
		p.logger.Error("dedup delete failed", "err", err, "fingerprint", fp)
		p.metrics.IncDedupError("delete")
	}
}

// enqueue sends req to the retry queue. The caller gets 202 whether or not
// the enqueue succeeded.
func (p *Pipeline) enqueue(ctx context.Context, req *model.InboundRequest) *model.Reply {
	env := &model.RetryEnvelope{
		URL:     req.URL,
		Method:  req.Method,
		Headers: req.Header.Clone(),
		Body:    req.Body,
	}

	if p.enqueuer == nil {
		p.logger.Error("retry queue not configured, dropping request", "path", req.Path)
		p.metrics.IncEnqueued("error")
	} else if err := p.enqueuer.Enqueue(ctx, env); err != nil {
		p.logger.Error("enqueue failed", "err", err, "path", req.Path)
		p.metrics.IncEnqueued("error")
	} else {
		p.logger.Warn("upstream gateway failure, request queued for retry", "method", req.Method, "path", req.Path)
		p.metrics.IncEnqueued("ok")
	}

	return errorReply(http.StatusAccepted, msgQueued)
}

func (p *Pipeline) logTransportFailure(req *model.InboundRequest, err error) {
	p.logger.Error("upstream request failed",
		"err", sanitizeError(err),
		"method", req.Method,
		"path", req.Path,
	)
}

func (p *Pipeline) logReply(req *model.InboundRequest, reply *model.Reply) {
	p.logger.Info("proxied response",
		"method", req.Method,
		"path", req.Path,
		"status", reply.StatusCode,
		"headers", reply.Header,
	)
}

// transportFailureReply is the 500 sent when no upstream response was obtained.
// Reads report the generic failure; writes report the status text.
func transportFailureReply(method string) *model.Reply {
	if model.IsWriteMethod(method) {
		return errorReply(http.StatusInternalServerError, "")
	}
	return errorReply(http.StatusInternalServerError, msgUnavailable)
}

func requestFromEnvelope(env *model.RetryEnvelope) (*model.InboundRequest, error) {
	u, err := url.Parse(env.URL)
	if err != nil {
		return nil, fmt.Errorf("parse envelope url: %w", err)
	}
	path, escaped := u.Path, u.EscapedPath()
	if path == "" {
		path, escaped = "/", "/"
	}
	return &model.InboundRequest{
		Method:      env.Method,
		URL:         env.URL,
		Path:        path,
		EscapedPath: escaped,
		RawQuery:    u.RawQuery,
		Header:      env.Headers.Clone(),
		Body:        env.Body,
	}, nil
}

// sanitizeError redacts credential-like query parameters from error messages
// that may contain upstream URLs.
func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return secretParamPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]")
}
