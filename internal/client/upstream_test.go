package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"webhook-proxy-go/internal/config"
	"webhook-proxy-go/internal/metrics"
)

func newTestClient(timeout int, m *metrics.Metrics) *UpstreamClient {
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:  timeout,
			IdleConnections: 10,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewUpstreamClient(cfg, logger, m)
}

func TestUpstreamClient_Do(t *testing.T) {
	var gotBody, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotHeader = r.Header.Get("X-Signature")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	m := metrics.New()
	c := newTestClient(10, m)

	header := http.Header{"X-Signature": {"sha256=abc"}}
	resp, err := c.Do(context.Background(), http.MethodPost, srv.URL+"/hook", header, []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != `{"status":"ok"}` {
		t.Errorf("body = %q, want %q", string(body), `{"status":"ok"}`)
	}
	if gotBody != `{"a":1}` {
		t.Errorf("upstream body = %q, want %q", gotBody, `{"a":1}`)
	}
	if gotHeader != "sha256=abc" {
		t.Errorf("upstream X-Signature = %q, want %q", gotHeader, "sha256=abc")
	}
	if got := testutil.ToFloat64(m.UpstreamResponses.WithLabelValues("POST", "201")); got != 1 {
		t.Errorf("upstream responses{POST,201} = %v, want 1", got)
	}
}

func TestUpstreamClient_DoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	resp, err := newTestClient(10, nil).Do(context.Background(), http.MethodGet, srv.URL+"/hook", http.Header{}, nil)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusFound {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusFound)
	}
}

func TestUpstreamClient_Do_Error(t *testing.T) {
	_, err := newTestClient(1, nil).Do(context.Background(), http.MethodGet, "http://127.0.0.1:1/nonexistent", http.Header{}, nil)
	if err == nil {
		t.Fatal("Do() expected error for unreachable host, got nil")
	}
}

func TestUpstreamClient_Do_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(30, nil).Do(ctx, http.MethodGet, srv.URL+"/slow", http.Header{}, nil)
	if err == nil {
		t.Fatal("Do() expected error for canceled context, got nil")
	}
}
