package http

import (
	"net/http"

	"github.com/palengke/marketplace/internal/identity"
)

// EnableCORS is a middleware to allow the mobile and web frontends to connect.
func EnableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID, X-User-Name")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithHeaderIdentity attaches the caller identity carried in the X-User-ID
// and X-User-Name headers to the request context. Requests without an
// X-User-ID header pass through unauthenticated and fail at the handlers
// that require a caller.
func WithHeaderIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID := r.Header.Get("X-User-ID"); userID != "" {
			ctx := identity.WithIdentity(r.Context(), identity.Identity{
				ID:          userID,
				DisplayName: r.Header.Get("X-User-Name"),
			})
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}
