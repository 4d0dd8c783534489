package middleware

import (
	"net/http"
	"strings"

	"github.com/kiranshivaraju/ocrbatch/internal/api/response"
	"golang.org/x/crypto/bcrypt"
)

const keyPrefixLen = 8

// Auth checks requests against a single bcrypt-hashed API key.
type Auth struct {
	hash []byte
}

// NewAuth creates the middleware. An empty hash disables authentication.
func NewAuth(keyHash string) *Auth {
	return &Auth{hash: []byte(keyHash)}
}

// Enabled reports whether requests are checked at all.
func (a *Auth) Enabled() bool {
	return len(a.hash) > 0
}

// Authenticate accepts the key as a Bearer token or in X-API-Key and sets
// the key prefix in the request context for rate limiting.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		rawKey := extractKey(r)
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				response.CodeUnauthorized, "Missing or invalid Authorization header", nil)
			return
		}
		if len(rawKey) < keyPrefixLen {
			response.Error(w, http.StatusUnauthorized,
				response.CodeUnauthorized, "Invalid API key format", nil)
			return
		}

		if bcrypt.CompareHashAndPassword(a.hash, []byte(rawKey)) != nil {
			response.Error(w, http.StatusUnauthorized,
				response.CodeUnauthorized, "Invalid API key", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(setKeyPrefix(r.Context(), rawKey[:keyPrefixLen])))
	})
}

func extractKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
