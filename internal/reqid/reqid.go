// Package reqid attaches a stable request identifier to every HTTP
// request, echoed back as X-Request-Id and stored in the request context
// for FromContext.
package reqid

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey struct{}

const Header = "X-Request-Id"

// Middleware assigns a request id (reusing one the caller supplied) and
// stores it in the request context and response header.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(Header)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(Header, id)
		ctx := context.WithValue(r.Context(), contextKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromContext returns the request id stored by Middleware, or "" if none.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}
