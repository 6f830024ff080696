package middleware

import (
	"net/http"
	"time"

	"github.com/opsdeck/gateway/internal/observability"
	"github.com/opsdeck/gateway/internal/util"
)

// AccessLog returns a middleware that logs every HTTP request after it
// has been served, including the final status and response size.
func AccessLog(logger observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := util.ContextWithStartTime(r.Context(), start)
			r = r.WithContext(ctx)

			rw := util.NewStatusCapturingResponseWriter(w)

			next.ServeHTTP(rw, r)

			duration := time.Since(start)
			requestID := observability.RequestIDFromContext(r.Context())

			logger.Info("http request",
				observability.String("method", r.Method),
				observability.String("path", r.URL.Path),
				observability.String("query", r.URL.RawQuery),
				observability.Int("status", rw.StatusCode),
				observability.Int64("size", rw.BytesWritten),
				observability.Duration("duration", duration),
				observability.String("client_ip", util.ClientIP(r)),
				observability.String("user_agent", r.UserAgent()),
				observability.String("request_id", requestID),
			)
		})
	}
}
