package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

func init() {
	// Batch crypto/rand reads into a pool to avoid a syscall per UUID.
	uuid.EnableRandPool()
}

// CorrelationHeader is the canonical correlation id header. X-Request-ID is
// accepted as an inbound alias.
const (
	CorrelationHeader = "X-Correlation-ID"
	RequestIDHeader   = "X-Request-ID"
)

type correlationKey struct{}

// Correlation returns a middleware that ensures every request carries a
// correlation id: header-supplied when present, generated otherwise. The id
// is echoed on the response and propagated to backends via the request
// header.
func Correlation() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(CorrelationHeader)
			if id == "" {
				id = r.Header.Get(RequestIDHeader)
			}
			if id == "" {
				id = uuid.New().String()
			}

			r.Header.Set(CorrelationHeader, id)
			w.Header().Set(CorrelationHeader, id)

			ctx := context.WithValue(r.Context(), correlationKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CorrelationID extracts the correlation id from a request context. Returns
// "" when the middleware did not run.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
