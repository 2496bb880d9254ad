package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/emf-platform/gateway/internal/errors"
	"github.com/emf-platform/gateway/internal/logging"
	"go.uber.org/zap"
)

// Recovery converts panics into 500 responses with the standard error body.
// The panic value never reaches the client.
func Recovery() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logging.Error("panic recovered",
						zap.Any("error", rec),
						zap.String("path", r.URL.Path),
						zap.String("correlation_id", CorrelationID(r.Context())),
						zap.ByteString("stack", debug.Stack()),
					)
					errors.ErrInternal.
						WithRequest(r.URL.Path, CorrelationID(r.Context())).
						WriteJSON(w)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
