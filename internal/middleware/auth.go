package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

// APIKeyContextKey stores the validated API key in the request context.
const APIKeyContextKey contextKey = "api_key"

// Auth validates a static API key on incoming dashboard requests.
// An empty expectedKey disables auth entirely — used for local/dev runs.
type Auth struct {
	expectedKey string
	headerKey   string
}

// NewAuth builds an Auth middleware. headerKey defaults to Authorization.
func NewAuth(expectedKey, headerKey string) *Auth {
	if headerKey == "" {
		headerKey = "Authorization"
	}
	return &Auth{expectedKey: expectedKey, headerKey: headerKey}
}

// Handler returns the middleware handler.
func (a *Auth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.expectedKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		raw := r.Header.Get(a.headerKey)
		if raw == "" {
			http.Error(w, `{"error":"missing authentication"}`, http.StatusUnauthorized)
			return
		}
		key := raw
		if strings.HasPrefix(strings.ToLower(raw), "bearer ") {
			key = raw[len("bearer "):]
		}
		if key != a.expectedKey {
			http.Error(w, `{"error":"invalid authentication"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), APIKeyContextKey, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAPIKey extracts the validated key from a request context.
func GetAPIKey(ctx context.Context) string {
	if v, ok := ctx.Value(APIKeyContextKey).(string); ok {
		return v
	}
	return ""
}
