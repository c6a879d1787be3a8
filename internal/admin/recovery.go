package admin

import (
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/failgate/failgate/internal/proxy/middleware"
)

// Recovery returns a middleware that recovers from panics on the admin
// surface and answers with an RFC7807 internal-error problem. The proxy
// data plane has its own recovery that answers 502 instead, since its
// clients expect upstream-shaped errors.
func Recovery(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					requestID := middleware.GetRequestID(r.Context())

					log.Error().
						Str("request_id", requestID).
						Interface("error", err).
						Str("stack", string(debug.Stack())).
						Msg("panic recovered")

					problem := NewInternalError(requestID, "an unexpected error occurred")
					problem.Instance = r.URL.Path
					problem.Write(w)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
