package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"webhook-proxy-go/internal/model"
)

// StripHopByHop returns an Echo middleware that removes hop-by-hop headers
// from the inbound request, including any named by its Connection header,
// and drops them from the response right before it is committed.
func StripHopByHop() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			stripHopByHop(c.Request().Header)

			res := c.Response()
			res.Before(func() {
				stripHopByHop(res.Header())
			})

			return next(c)
		}
	}
}

func stripHopByHop(h http.Header) {
	for _, v := range h.Values("Connection") {
		for name := range strings.SplitSeq(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range model.HopByHopHeaders {
		h.Del(name)
	}
}
