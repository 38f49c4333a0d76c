package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"
)

// RequireRequestToken compares the Authorization header with a shared secret.
// An empty secret disables the check.
func RequireRequestToken(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("Authorization")
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				response.WriteJSONError(w, http.StatusUnauthorized, "Authorization code is incorrect")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
