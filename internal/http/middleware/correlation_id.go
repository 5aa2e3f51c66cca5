package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/clipsight/clipsight/internal/observability"
)

// CorrelationIDHeader is the HTTP header carrying the correlation ID.
const CorrelationIDHeader = "X-Correlation-ID"

// CorrelationID injects a correlation ID into the request context and
// echoes it in the response. A caller-supplied header is honoured so IDs
// survive across service hops; otherwise a new UUID is generated.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		w.Header().Set(CorrelationIDHeader, id)

		ctx := observability.ContextWithCorrelationID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
