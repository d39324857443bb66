// Package model defines shared types for the proxy.
package model

import (
	"net/http"
	"net/url"
)

// Methods that carry a payload and go through rate limiting, deduplication and retry.
var writeMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// IsWriteMethod reports whether method is POST, PUT, PATCH or DELETE.
func IsWriteMethod(method string) bool {
	return writeMethods[method]
}

// InboundRequest is a client request captured once at the pipeline entry.
// Body holds the already-read payload so it can be hashed, forwarded and
// enqueued without touching the original stream again. GET and HEAD requests
// carry no body.
type InboundRequest struct {
	Method      string
	URL         string // URL as received, used for retry envelopes
	Path        string // decoded; fingerprinting and messages
	EscapedPath string // as sent on the wire; forwarded verbatim
	RawQuery    string
	Header      http.Header
	Body        []byte

	ClientKey string // rate limit bucket, resolved by the transport layer
}

// PathWithQuery returns the escaped path followed by the raw query, if any.
// Percent-encoded bytes such as %3F, %23 and %2F stay encoded.
func (r *InboundRequest) PathWithQuery() string {
	p := r.EscapedPath
	if p == "" {
		p = (&url.URL{Path: r.Path}).EscapedPath()
	}
	if r.RawQuery == "" {
		return p
	}
	return p + "?" + r.RawQuery
}

// OutcomeKind classifies a single forward attempt.
type OutcomeKind int

const (
	// OutcomeSuccess is any upstream response that is neither 404 nor 5xx.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeNotFound is an upstream 404; terminal and never deduplicated.
	OutcomeNotFound
	// OutcomeServerError is an upstream status in [500,600).
	OutcomeServerError
	// OutcomeTransportFailure means no response was obtained.
	OutcomeTransportFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeServerError:
		return "server_error"
	case OutcomeTransportFailure:
		return "transport_failure"
	default:
		return "unknown"
	}
}

// UpstreamOutcome is the result of one forward attempt. StatusCode, Header and
// Body are set for every kind except OutcomeTransportFailure, which sets Err.
type UpstreamOutcome struct {
	Kind       OutcomeKind
	StatusCode int
	Header     http.Header
	Body       []byte
	Err        error
}

// IsGatewayFailure reports whether the upstream answered 502, the only status
// routed to the durable retry queue.
func (o UpstreamOutcome) IsGatewayFailure() bool {
	return o.Kind == OutcomeServerError && o.StatusCode == http.StatusBadGateway
}

// Reply is the response the proxy sends back to its caller.
type Reply struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// RetryEnvelope is the queue payload describing a request to redeliver.
// It is serialized as {url, method, headers, body}; body is base64 in JSON.
type RetryEnvelope struct {
	URL     string      `json:"url"`
	Method  string      `json:"method"`
	Headers http.Header `json:"headers"`
	Body    []byte      `json:"body,omitempty"`
}

// HopByHopHeaders are meaningful only for a single transport-level connection
// and are never forwarded in either direction.
var HopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}
