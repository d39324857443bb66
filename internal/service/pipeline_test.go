package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"webhook-proxy-go/internal/client"
	"webhook-proxy-go/internal/config"
	"webhook-proxy-go/internal/dedup"
	"webhook-proxy-go/internal/fingerprint"
	"webhook-proxy-go/internal/model"
	"webhook-proxy-go/internal/ratelimit"
)

type fakeEnqueuer struct {
	mu   sync.Mutex
	envs []*model.RetryEnvelope
	err  error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, env *model.RetryEnvelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.envs = append(f.envs, env)
	return nil
}

func (f *fakeEnqueuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.envs)
}

type harness struct {
	pipeline *Pipeline
	store    *dedup.Store
	enq      *fakeEnqueuer
	hits     *atomic.Int32
	upstream *httptest.Server
}

type harnessOpts struct {
	cfg     func(*config.Config)
	backend dedup.Backend
}

func newHarness(t *testing.T, h http.HandlerFunc, opts harnessOpts) *harness {
	t.Helper()

	hits := &atomic.Int32{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		h(w, r)
	}))
	t.Cleanup(upstream.Close)

	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			BaseURL:         upstream.URL,
			TimeoutSeconds:  5,
			IdleConnections: 10,
		},
		Dedup: config.DedupConfig{
			Enabled:    true,
			TTLSeconds: 60,
			KeyPrefix:  "dedup:",
		},
		RateLimit: config.RateLimitConfig{
			Limit:         100,
			PeriodSeconds: 60,
		},
	}
	if opts.cfg != nil {
		opts.cfg(cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fwd, err := NewForwarder(client.NewUpstreamClient(cfg, logger, nil), cfg, logger)
	if err != nil {
		t.Fatalf("NewForwarder: %v", err)
	}

	backend := opts.backend
	if backend == nil {
		backend = dedup.NewMemoryBackend()
	}
	store := dedup.NewStore(cfg, backend, logger)
	gate := ratelimit.NewGate(cfg, ratelimit.NewMemoryLimiter(cfg.RateLimit.Limit, time.Duration(cfg.RateLimit.PeriodSeconds)*time.Second), logger)
	enq := &fakeEnqueuer{}

	return &harness{
		pipeline: NewPipeline(fwd, store, gate, enq, nil, logger),
		store:    store,
		enq:      enq,
		hits:     hits,
		upstream: upstream,
	}
}

func newRequest(method, path, body string) *model.InboundRequest {
	return &model.InboundRequest{
		Method:    method,
		URL:       "https://proxy.example.com" + path,
		Path:      path,
		Header:    http.Header{"Content-Type": {"application/json"}, "X-Signature": {"sha256=abc"}},
		Body:      []byte(body),
		ClientKey: "203.0.113.7",
	}
}

func fingerprintOf(req *model.InboundRequest) string {
	return fingerprint.Generate(req.Method, req.Path, req.Body)
}

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func statusHandler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(status)
		_, _ = w.Write([]byte("upstream body"))
	}
}

func decodeError(t *testing.T, body []byte) errorBody {
	t.Helper()
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		t.Fatalf("unmarshal error body %q: %v", body, err)
	}
	return eb
}

func TestHandle_IdempotentWindow(t *testing.T) {
	h := newHarness(t, okHandler, harnessOpts{})
	ctx := context.Background()

	first := h.pipeline.Handle(ctx, newRequest(http.MethodPost, "/webhook/github", `{"id":1}`))
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first status = %d, want %d", first.StatusCode, http.StatusOK)
	}
	if string(first.Body) != `{"ok":true}` {
		t.Errorf("first body = %q, want %q", first.Body, `{"ok":true}`)
	}

	second := h.pipeline.Handle(ctx, newRequest(http.MethodPost, "/webhook/github", `{"id":1}`))
	if second.StatusCode != http.StatusConflict {
		t.Fatalf("second status = %d, want %d", second.StatusCode, http.StatusConflict)
	}
	eb := decodeError(t, second.Body)
	if eb.Error != msgDuplicate || eb.Status != http.StatusConflict {
		t.Errorf("second body = %+v, want status 409 and %q", eb, msgDuplicate)
	}

	if got := h.hits.Load(); got != 1 {
		t.Errorf("upstream hits = %d, want 1", got)
	}
}

func TestHandle_DifferentPayloadsAreForwarded(t *testing.T) {
	h := newHarness(t, okHandler, harnessOpts{})
	ctx := context.Background()

	h.pipeline.Handle(ctx, newRequest(http.MethodPost, "/webhook/github", `{"id":1}`))
	h.pipeline.Handle(ctx, newRequest(http.MethodPost, "/webhook/github", `{"id":2}`))
	h.pipeline.Handle(ctx, newRequest(http.MethodPut, "/webhook/github", `{"id":1}`))
	h.pipeline.Handle(ctx, newRequest(http.MethodPost, "/webhook/gitlab", `{"id":1}`))

	if got := h.hits.Load(); got != 4 {
		t.Errorf("upstream hits = %d, want 4", got)
	}
}

func TestHandle_TTLExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := newHarness(t, okHandler, harnessOpts{backend: dedup.NewRedisBackend(rdb)})
	ctx := context.Background()

	if r := h.pipeline.Handle(ctx, newRequest(http.MethodPost, "/webhook/a", "payload")); r.StatusCode != http.StatusOK {
		t.Fatalf("first status = %d, want %d", r.StatusCode, http.StatusOK)
	}

	mr.FastForward(59 * time.Second)
	if r := h.pipeline.Handle(ctx, newRequest(http.MethodPost, "/webhook/a", "payload")); r.StatusCode != http.StatusConflict {
		t.Fatalf("within window status = %d, want %d", r.StatusCode, http.StatusConflict)
	}

	mr.FastForward(2 * time.Second)
	if r := h.pipeline.Handle(ctx, newRequest(http.MethodPost, "/webhook/a", "payload")); r.StatusCode != http.StatusOK {
		t.Fatalf("after expiry status = %d, want %d", r.StatusCode, http.StatusOK)
	}

	if got := h.hits.Load(); got != 2 {
		t.Errorf("upstream hits = %d, want 2", got)
	}
}

func TestHandle_RollbackOnTransportFailure(t *testing.T) {
	var calls atomic.Int32
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Error("response writer does not support hijacking")
				return
			}
			conn, _, err := hj.Hijack()
			if err == nil {
				_ = conn.Close()
			}
			return
		}
		okHandler(w, r)
	}, harnessOpts{})
	ctx := context.Background()

	first := h.pipeline.Handle(ctx, newRequest(http.MethodPost, "/webhook/a", "payload"))
	if first.StatusCode != http.StatusInternalServerError {
		t.Fatalf("first status = %d, want %d", first.StatusCode, http.StatusInternalServerError)
	}
	if eb := decodeError(t, first.Body); eb.Error != "Internal Server Error" {
		t.Errorf("first error = %q, want %q", eb.Error, "Internal Server Error")
	}

	second := h.pipeline.Handle(ctx, newRequest(http.MethodPost, "/webhook/a", "payload"))
	if second.StatusCode != http.StatusOK {
		t.Fatalf("retry status = %d, want %d (record must have been rolled back)", second.StatusCode, http.StatusOK)
	}
	if h.enq.count() != 0 {
		t.Errorf("enqueued = %d, want 0", h.enq.count())
	}
}

func TestHandle_GatewayFailureRouting(t *testing.T) {
	var gotBody string
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusBadGateway)
	}, harnessOpts{})
	ctx := context.Background()

	req := newRequest(http.MethodPost, "/webhook/stripe", `{"event":"paid"}`)
	reply := h.pipeline.Handle(ctx, req)

	if reply.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", reply.StatusCode, http.StatusAccepted)
	}
	if eb := decodeError(t, reply.Body); eb.Error != msgQueued {
		t.Errorf("error = %q, want %q", eb.Error, msgQueued)
	}
	if gotBody != `{"event":"paid"}` {
		t.Errorf("upstream body = %q, want original payload", gotBody)
	}

	if n := h.enq.count(); n != 1 {
		t.Fatalf("enqueued = %d, want 1", n)
	}
	env := h.enq.envs[0]
	if env.URL != req.URL {
		t.Errorf("envelope url = %q, want %q", env.URL, req.URL)
	}
	if env.Method != http.MethodPost {
		t.Errorf("envelope method = %q, want POST", env.Method)
	}
	if env.Headers.Get("X-Signature") != "sha256=abc" {
		t.Errorf("envelope X-Signature = %q, want %q", env.Headers.Get("X-Signature"), "sha256=abc")
	}
	if string(env.Body) != `{"event":"paid"}` {
		t.Errorf("envelope body = %q, want original payload", env.Body)
	}

	found, err := h.store.Check(ctx, fingerprintOf(req))
	if err != nil || found {
		t.Errorf("dedup record after 502: found=%v err=%v, want absent", found, err)
	}
}

func TestHandle_GatewayFailureOnGet(t *testing.T) {
	h := newHarness(t, statusHandler(http.StatusBadGateway), harnessOpts{})

	reply := h.pipeline.Handle(context.Background(), newRequest(http.MethodGet, "/webhook/a", ""))
	if reply.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", reply.StatusCode, http.StatusAccepted)
	}
	if n := h.enq.count(); n != 1 {
		t.Errorf("enqueued = %d, want 1", n)
	}
}

func TestHandle_EnqueueFailureStillAccepted(t *testing.T) {
	h := newHarness(t, statusHandler(http.StatusBadGateway), harnessOpts{})
	h.enq.err = errors.New("queue down")

	reply := h.pipeline.Handle(context.Background(), newRequest(http.MethodPost, "/webhook/a", "x"))
	if reply.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want %d", reply.StatusCode, http.StatusAccepted)
	}
}

func TestHandle_PassthroughWithoutRetry(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"not found", http.StatusNotFound},
		{"service unavailable", http.StatusServiceUnavailable},
		{"internal server error", http.StatusInternalServerError},
		{"gateway timeout", http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, statusHandler(tt.status), harnessOpts{})
			ctx := context.Background()
			req := newRequest(http.MethodPost, "/webhook/a", "payload")

			reply := h.pipeline.Handle(ctx, req)
			if reply.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", reply.StatusCode, tt.status)
			}
			if len(reply.Body) != 0 {
				t.Errorf("body = %q, want empty", reply.Body)
			}
			if reply.Header.Get("X-Upstream") != "yes" {
				t.Errorf("upstream headers not passed through: %v", reply.Header)
			}
			if n := h.enq.count(); n != 0 {
				t.Errorf("enqueued = %d, want 0", n)
			}
			found, err := h.store.Check(ctx, fingerprintOf(req))
			if err != nil || found {
				t.Errorf("dedup record: found=%v err=%v, want absent", found, err)
			}
		})
	}
}

func TestHandle_GetPassesUpstreamBody(t *testing.T) {
	h := newHarness(t, statusHandler(http.StatusServiceUnavailable), harnessOpts{})

	reply := h.pipeline.Handle(context.Background(), newRequest(http.MethodGet, "/webhook/a", ""))
	if reply.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", reply.StatusCode, http.StatusServiceUnavailable)
	}
	if string(reply.Body) != "upstream body" {
		t.Errorf("body = %q, want %q", reply.Body, "upstream body")
	}
}

func TestHandle_ClientErrorIsDeduplicated(t *testing.T) {
	h := newHarness(t, statusHandler(http.StatusBadRequest), harnessOpts{})
	ctx := context.Background()

	first := h.pipeline.Handle(ctx, newRequest(http.MethodPost, "/webhook/a", "x"))
	if first.StatusCode != http.StatusBadRequest {
		t.Fatalf("first status = %d, want %d", first.StatusCode, http.StatusBadRequest)
	}
	if string(first.Body) != "upstream body" {
		t.Errorf("first body = %q, want upstream body", first.Body)
	}

	second := h.pipeline.Handle(ctx, newRequest(http.MethodPost, "/webhook/a", "x"))
	if second.StatusCode != http.StatusConflict {
		t.Errorf("second status = %d, want %d", second.StatusCode, http.StatusConflict)
	}
}

func TestHandle_MethodTable(t *testing.T) {
	h := newHarness(t, okHandler, harnessOpts{})

	tests := []struct {
		method     string
		wantStatus int
		wantCORS   bool
	}{
		{http.MethodOptions, http.StatusNoContent, true},
		{http.MethodHead, http.StatusOK, true},
		{http.MethodConnect, http.StatusMethodNotAllowed, false},
		{http.MethodTrace, http.StatusMethodNotAllowed, false},
		{"PROPFIND", http.StatusMethodNotAllowed, false},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			reply := h.pipeline.Handle(context.Background(), newRequest(tt.method, "/webhook/a", ""))
			if reply.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", reply.StatusCode, tt.wantStatus)
			}
			if tt.wantCORS {
				for k, v := range corsHeaders {
					if got := reply.Header.Get(k); got != v {
						t.Errorf("%s = %q, want %q", k, got, v)
					}
				}
				if len(reply.Body) != 0 {
					t.Errorf("body = %q, want empty", reply.Body)
				}
			}
		})
	}

	if got := h.hits.Load(); got != 0 {
		t.Errorf("upstream hits = %d, want 0", got)
	}
}

func TestHandle_RateLimit(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		h := newHarness(t, okHandler, harnessOpts{cfg: func(c *config.Config) {
			c.RateLimit.Enabled = true
			c.RateLimit.Limit = 2
		}})
		ctx := context.Background()

		for i := range 2 {
			body := strings.Repeat("x", i+1)
			if r := h.pipeline.Handle(ctx, newRequest(http.MethodPost, "/webhook/a", body)); r.StatusCode != http.StatusOK {
				t.Fatalf("request %d status = %d, want %d", i+1, r.StatusCode, http.StatusOK)
			}
		}

		reply := h.pipeline.Handle(ctx, newRequest(http.MethodGet, "/webhook/a", ""))
		if reply.StatusCode != http.StatusTooManyRequests {
			t.Fatalf("status = %d, want %d", reply.StatusCode, http.StatusTooManyRequests)
		}
		want := "429 Failure – rate limit exceeded for /webhook/a"
		if string(reply.Body) != want {
			t.Errorf("body = %q, want %q", reply.Body, want)
		}
		if got := h.hits.Load(); got != 2 {
			t.Errorf("upstream hits = %d, want 2", got)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		h := newHarness(t, okHandler, harnessOpts{cfg: func(c *config.Config) {
			c.RateLimit.Enabled = false
			c.RateLimit.Limit = 1
		}})

		for i := range 10 {
			if r := h.pipeline.Handle(context.Background(), newRequest(http.MethodGet, "/webhook/a", "")); r.StatusCode != http.StatusOK {
				t.Fatalf("request %d status = %d, want %d", i+1, r.StatusCode, http.StatusOK)
			}
		}
	})
}

func TestHandle_DedupDisabled(t *testing.T) {
	h := newHarness(t, okHandler, harnessOpts{cfg: func(c *config.Config) {
		c.Dedup.Enabled = false
	}})

	for range 3 {
		h.pipeline.Handle(context.Background(), newRequest(http.MethodPost, "/webhook/a", "same"))
	}
	if got := h.hits.Load(); got != 3 {
		t.Errorf("upstream hits = %d, want 3", got)
	}
}

func TestHandle_DedupBackendDownFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	h := newHarness(t, okHandler, harnessOpts{backend: dedup.NewRedisBackend(rdb)})

	for i := range 2 {
		r := h.pipeline.Handle(context.Background(), newRequest(http.MethodPost, "/webhook/a", "same"))
		if r.StatusCode != http.StatusOK {
			t.Fatalf("request %d status = %d, want %d", i+1, r.StatusCode, http.StatusOK)
		}
	}
	if got := h.hits.Load(); got != 2 {
		t.Errorf("upstream hits = %d, want 2", got)
	}
}

func TestHandle_GetTransportFailure(t *testing.T) {
	h := newHarness(t, okHandler, harnessOpts{})
	h.upstream.Close()

	reply := h.pipeline.Handle(context.Background(), newRequest(http.MethodGet, "/webhook/a", ""))
	if reply.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", reply.StatusCode, http.StatusInternalServerError)
	}
	if eb := decodeError(t, reply.Body); eb.Error != msgUnavailable {
		t.Errorf("error = %q, want %q", eb.Error, msgUnavailable)
	}
}

func TestHandleTest_SkipsDedupAndRetry(t *testing.T) {
	t.Run("no dedup", func(t *testing.T) {
		h := newHarness(t, okHandler, harnessOpts{})
		for range 2 {
			r := h.pipeline.HandleTest(context.Background(), newRequest(http.MethodPost, "/webhook-test/a", "same"))
			if r.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want %d", r.StatusCode, http.StatusOK)
			}
		}
		if got := h.hits.Load(); got != 2 {
			t.Errorf("upstream hits = %d, want 2", got)
		}
	})

	t.Run("502 passed through", func(t *testing.T) {
		h := newHarness(t, statusHandler(http.StatusBadGateway), harnessOpts{})
		r := h.pipeline.HandleTest(context.Background(), newRequest(http.MethodPost, "/webhook-test/a", "x"))
		if r.StatusCode != http.StatusBadGateway {
			t.Errorf("status = %d, want %d", r.StatusCode, http.StatusBadGateway)
		}
		if string(r.Body) != "upstream body" {
			t.Errorf("body = %q, want upstream body", r.Body)
		}
		if n := h.enq.count(); n != 0 {
			t.Errorf("enqueued = %d, want 0", n)
		}
	})

	t.Run("no rate limit", func(t *testing.T) {
		h := newHarness(t, okHandler, harnessOpts{cfg: func(c *config.Config) {
			c.RateLimit.Enabled = true
			c.RateLimit.Limit = 1
		}})
		for range 3 {
			if r := h.pipeline.HandleTest(context.Background(), newRequest(http.MethodGet, "/webhook-test/a", "")); r.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want %d", r.StatusCode, http.StatusOK)
			}
		}
	})

	t.Run("method table", func(t *testing.T) {
		h := newHarness(t, okHandler, harnessOpts{})
		if r := h.pipeline.HandleTest(context.Background(), newRequest(http.MethodOptions, "/webhook-test/a", "")); r.StatusCode != http.StatusNoContent {
			t.Errorf("OPTIONS status = %d, want %d", r.StatusCode, http.StatusNoContent)
		}
		if r := h.pipeline.HandleTest(context.Background(), newRequest(http.MethodConnect, "/webhook-test/a", "")); r.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("CONNECT status = %d, want %d", r.StatusCode, http.StatusMethodNotAllowed)
		}
		if got := h.hits.Load(); got != 0 {
			t.Errorf("upstream hits = %d, want 0", got)
		}
	})
}

func TestRedeliver(t *testing.T) {
	envelope := func() *model.RetryEnvelope {
		return &model.RetryEnvelope{
			URL:     "https://proxy.example.com/webhook/a?attempt=1",
			Method:  http.MethodPost,
			Headers: http.Header{"X-Signature": {"sha256=abc"}},
			Body:    []byte("payload"),
		}
	}

	t.Run("success saves record", func(t *testing.T) {
		var gotQuery string
		h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
			gotQuery = r.URL.RawQuery
			okHandler(w, r)
		}, harnessOpts{})
		ctx := context.Background()

		if err := h.pipeline.Redeliver(ctx, envelope()); err != nil {
			t.Fatalf("Redeliver() error = %v", err)
		}
		if gotQuery != "attempt=1" {
			t.Errorf("upstream query = %q, want %q", gotQuery, "attempt=1")
		}

		// A second delivery of the same message is a duplicate and is skipped.
		if err := h.pipeline.Redeliver(ctx, envelope()); err != nil {
			t.Fatalf("Redeliver() duplicate error = %v", err)
		}
		if got := h.hits.Load(); got != 1 {
			t.Errorf("upstream hits = %d, want 1", got)
		}
	})

	t.Run("502 asks for retry", func(t *testing.T) {
		h := newHarness(t, statusHandler(http.StatusBadGateway), harnessOpts{})
		err := h.pipeline.Redeliver(context.Background(), envelope())
		if !errors.Is(err, ErrGatewayFailure) {
			t.Errorf("Redeliver() error = %v, want ErrGatewayFailure", err)
		}
		if n := h.enq.count(); n != 0 {
			t.Errorf("enqueued = %d, want 0 (redelivery never re-enqueues)", n)
		}
	})

	t.Run("transport failure asks for retry", func(t *testing.T) {
		h := newHarness(t, okHandler, harnessOpts{})
		h.upstream.Close()
		err := h.pipeline.Redeliver(context.Background(), envelope())
		if !errors.Is(err, ErrUpstreamUnreachable) {
			t.Errorf("Redeliver() error = %v, want ErrUpstreamUnreachable", err)
		}
	})

	t.Run("503 is terminal", func(t *testing.T) {
		h := newHarness(t, statusHandler(http.StatusServiceUnavailable), harnessOpts{})
		if err := h.pipeline.Redeliver(context.Background(), envelope()); err != nil {
			t.Errorf("Redeliver() error = %v, want nil", err)
		}
	})

	t.Run("invalid url", func(t *testing.T) {
		h := newHarness(t, okHandler, harnessOpts{})
		env := envelope()
		env.URL = "://bad"
		if err := h.pipeline.Redeliver(context.Background(), env); err == nil {
			t.Error("Redeliver() expected error for invalid url, got nil")
		}
	})
}

func TestSanitizeError(t *testing.T) {
	err := errors.New(`Post "https://hooks.example.com/x?token=s3cret&id=1": EOF`)
	got := sanitizeError(err)
	if strings.Contains(got, "s3cret") {
		t.Errorf("sanitizeError() = %q, secret not redacted", got)
	}
	if !strings.Contains(got, "token=[REDACTED]&id=1") {
		t.Errorf("sanitizeError() = %q, want redacted token and kept id", got)
	}
}
