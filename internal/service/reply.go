package service

import (
	"encoding/json"
	"fmt"
	"net/http"

	"webhook-proxy-go/internal/model"
)

const (
	msgDuplicate   = "Conflict: Request is considered a duplicate."
	msgQueued      = "Request sent to error queue."
	msgUnavailable = "Something went wrong"
)

var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Methods": "GET, POST, PUT, PATCH, DELETE, OPTIONS, HEAD",
	"Access-Control-Allow-Headers": "*",
	"Access-Control-Max-Age":       "86400",
}

// errorBody is the JSON envelope of every locally generated error reply.
type errorBody struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
}

// preflightReply answers OPTIONS (204) and HEAD (200) locally.
func preflightReply(status int) *model.Reply {
	h := make(http.Header, len(corsHeaders))
	for k, v := range corsHeaders {
		h.Set(k, v)
	}
	return &model.Reply{StatusCode: status, Header: h}
}

// errorReply builds a JSON error reply. An empty msg uses the status text.
func errorReply(status int, msg string) *model.Reply {
	if msg == "" {
		msg = http.StatusText(status)
	}
	// Marshalling a struct of a string and an int cannot fail.
	body, _ := json.Marshal(errorBody{Status: status, Error: msg})
	return &model.Reply{
		StatusCode: status,
		Header:     http.Header{"Content-Type": {"application/json; charset=utf-8"}},
		Body:       body,
	}
}

func rateLimitedReply(path string) *model.Reply {
	return &model.Reply{
		StatusCode: http.StatusTooManyRequests,
		Header:     http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
		Body:       []byte(fmt.Sprintf("429 Failure – rate limit exceeded for %s", path)),
	}
}

// passthroughReply returns the upstream response unchanged.
func passthroughReply(out model.UpstreamOutcome) *model.Reply {
	return &model.Reply{StatusCode: out.StatusCode, Header: out.Header, Body: out.Body}
}

// headersOnlyReply keeps the upstream status and headers but drops the body.
func headersOnlyReply(out model.UpstreamOutcome) *model.Reply {
	h := out.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	h.Del("Content-Encoding")
	return &model.Reply{StatusCode: out.StatusCode, Header: h}
}
