package middleware

import (
	"crypto/subtle"
	"net/http"
)

// KeyHeader carries the shared key the session pipeline presents.
const KeyHeader = "X-Roomlink-Key"

// APIKey returns middleware that rejects requests missing the shared key.
// An empty key disables the check entirely, which is only sensible for
// local development.
func APIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			got := r.Header.Get(KeyHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"invalid or missing api key"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
