// Package middleware provides HTTP middleware shared by the proxy data
// plane and the admin surface.
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// HeaderRequestID is the correlation header echoed to clients and
// forwarded to upstream targets.
const HeaderRequestID = "X-Request-Id"

// requestIDKey is the context key for the request ID.
type requestIDKey struct{}

// RequestID assigns each request a correlation ID. An inbound ID is kept
// so a caller's trace spans the proxy; otherwise one is generated. The ID
// is echoed in the response and stamped on the request headers, so every
// upstream attempt for the request carries the same ID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = "req_" + uuid.New().String()[:22]
			r.Header.Set(HeaderRequestID, requestID)
		}

		w.Header().Set(HeaderRequestID, requestID)

		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
