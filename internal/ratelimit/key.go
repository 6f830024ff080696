package ratelimit

import (
	"net/http"
	"strings"

	"github.com/opsdeck/gateway/internal/util"
)

// DefaultCallerHeader is the identity header used for the rate-limit key
// when none is configured.
const DefaultCallerHeader = "X-User-ID"

// KeyFunc extracts a rate limit key from an HTTP request.
type KeyFunc func(r *http.Request) string

// IPKeyFunc uses the client IP as the rate limit key.
func IPKeyFunc(r *http.Request) string {
	return util.ClientIP(r)
}

// HeaderKeyFunc uses the named header as the rate limit key, falling back
// to the client IP when the header is absent.
func HeaderKeyFunc(header string) KeyFunc {
	if header == "" {
		header = DefaultCallerHeader
	}
	return func(r *http.Request) string {
		if value := strings.TrimSpace(r.Header.Get(header)); value != "" {
			return value
		}
		return util.ClientIP(r)
	}
}

// CompositeKeyFunc joins the keys produced by multiple key functions.
func CompositeKeyFunc(funcs ...KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		parts := make([]string, 0, len(funcs))
		for _, fn := range funcs {
			if key := fn(r); key != "" {
				parts = append(parts, key)
			}
		}
		if len(parts) == 0 {
			return util.ClientIP(r)
		}
		return strings.Join(parts, ":")
	}
}
