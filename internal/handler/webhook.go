package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"webhook-proxy-go/internal/config"
	"webhook-proxy-go/internal/model"
	"webhook-proxy-go/internal/ratelimit"
	"webhook-proxy-go/internal/service"
)

// WebhookHandler adapts echo requests to the pipeline and writes its replies.
type WebhookHandler struct {
	pipeline       *service.Pipeline
	clientIPHeader string
	logger         *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(p *service.Pipeline, cfg *config.Config, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		pipeline:       p,
		clientIPHeader: cfg.RateLimit.ClientIPHeader,
		logger:         logger.With("component", "webhook_handler"),
	}
}

// Handle serves the primary webhook route.
func (h *WebhookHandler) Handle(c echo.Context) error {
	return h.serve(c, h.pipeline.Handle)
}

// HandleTest serves the debug webhook route.
func (h *WebhookHandler) HandleTest(c echo.Context) error {
	return h.serve(c, h.pipeline.HandleTest)
}

func (h *WebhookHandler) serve(c echo.Context, run func(context.Context, *model.InboundRequest) *model.Reply) error {
	in, err := h.capture(c)
	if err != nil {
		return h.mapError(c, err)
	}

	reply := run(c.Request().Context(), in)
	return h.write(c, reply)
}

// capture reads the request once into an InboundRequest. Only write methods
// carry a body.
func (h *WebhookHandler) capture(c echo.Context) (*model.InboundRequest, error) {
	req := c.Request()

	var body []byte
	if model.IsWriteMethod(req.Method) {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		body = b
	}

	return &model.InboundRequest{
		Method:      req.Method,
		URL:         c.Scheme() + "://" + req.Host + req.URL.RequestURI(),
		Path:        req.URL.Path,
		EscapedPath: req.URL.EscapedPath(),
		RawQuery:    req.URL.RawQuery,
		Header:      req.Header.Clone(),
		Body:        body,
		ClientKey:   ratelimit.ClientKey(req, h.clientIPHeader),
	}, nil
}

func (h *WebhookHandler) write(c echo.Context, reply *model.Reply) error {
	for key, vals := range reply.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	c.Response().WriteHeader(reply.StatusCode)
	if len(reply.Body) == 0 {
		return nil
	}
	if _, err := c.Response().Write(reply.Body); err != nil {
		h.logger.Error("writing response body",
			"err", err,
			"path", c.Request().URL.Path,
		)
	}
	return nil
}

func (h *WebhookHandler) mapError(c echo.Context, err error) error {
	// Errors raised by echo middleware (e.g. body limit) keep their status.
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}

	h.logger.Error("reading request body",
		"err", err,
		"path", c.Request().URL.Path,
	)
	return c.JSON(http.StatusInternalServerError, map[string]any{
		"status": http.StatusInternalServerError,
		"error":  "Something went wrong",
	})
}
