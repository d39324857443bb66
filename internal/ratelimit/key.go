package ratelimit

import (
	"net"
	"net/http"
)

// ClientKey identifies the caller of r. With a header configured the key is
// that header's value, which is empty when the header is absent; all such
// requests share one bucket. Without a header the peer address is used.
func ClientKey(r *http.Request, header string) string {
	if header != "" {
		return r.Header.Get(header)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
