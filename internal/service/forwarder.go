// Package service implements the upstream forwarder and the request pipeline
// that layers rate limiting, deduplication and retry routing on top of it.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"webhook-proxy-go/internal/client"
	"webhook-proxy-go/internal/config"
	"webhook-proxy-go/internal/model"
)

// Forwarder sends captured requests to the upstream origin and classifies
// the result.
type Forwarder struct {
	client  *client.UpstreamClient
	baseURL string
	logger  *slog.Logger
}

// NewForwarder creates a Forwarder for cfg.Upstream.BaseURL.
func NewForwarder(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) (*Forwarder, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream base_url must be absolute; got %q", cfg.Upstream.BaseURL)
	}

	return &Forwarder{
		client:  c,
		baseURL: strings.TrimSuffix(u.String(), "/"),
		logger:  logger.With("component", "forwarder"),
	}, nil
}

// Forward performs one upstream call for req. It never returns an error;
// failures are reported as OutcomeTransportFailure.
func (f *Forwarder) Forward(ctx context.Context, req *model.InboundRequest) model.UpstreamOutcome {
	target := f.targetURL(req)

	var body []byte
	if model.IsWriteMethod(req.Method) {
		body = req.Body
	}

	f.logger.Debug("forwarding request",
		"method", req.Method,
		"path", req.Path,
	)

	resp, err := f.client.Do(ctx, req.Method, target, filterRequestHeaders(req.Header), body)
	if err != nil {
		return model.UpstreamOutcome{Kind: model.OutcomeTransportFailure, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.UpstreamOutcome{
			Kind: model.OutcomeTransportFailure,
			Err:  fmt.Errorf("read upstream response: %w", err),
		}
	}

	return model.UpstreamOutcome{
		Kind:       classify(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Header:     filterResponseHeaders(resp.Header),
		Body:       data,
	}
}

// targetURL concatenates the upstream origin with the inbound path and query.
func (f *Forwarder) targetURL(req *model.InboundRequest) string {
	return f.baseURL + req.PathWithQuery()
}

func classify(status int) model.OutcomeKind {
	switch {
	case status >= 500 && status < 600:
		return model.OutcomeServerError
	case status == http.StatusNotFound:
		return model.OutcomeNotFound
	default:
		return model.OutcomeSuccess
	}
}

// filterRequestHeaders copies src without hop-by-hop headers and the ones the
// transport computes itself.
func filterRequestHeaders(src http.Header) http.Header {
	dst := stripHopByHop(src)
	dst.Del("Host")
	dst.Del("Content-Length")
	return dst
}

// filterResponseHeaders drops hop-by-hop headers and Content-Length, which is
// recomputed when the reply is written.
func filterResponseHeaders(src http.Header) http.Header {
	dst := stripHopByHop(src)
	dst.Del("Content-Length")
	return dst
}

func stripHopByHop(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	// Headers named in Connection are hop-by-hop as well.
	for _, v := range dst.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				dst.Del(name)
			}
		}
	}
	for _, h := range model.HopByHopHeaders {
		dst.Del(h)
	}
	return dst
}
