// Package adminapi implements the admin surface: pattern reputation
// inspection and manual override, a training-data export, policy
// hot-reload, and a websocket live stream of recent verdicts.
//
// Grounded on internal/handlers/reputation.go's HandleXxx(deps)
// http.HandlerFunc closure style and internal/multitenancy/tenant_manager.go's
// bcrypt API-key hashing for the bearer-token check.
package adminapi

import (
	"crypto/subtle"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// Auth guards every admin route behind a single bcrypt-hashed bearer
// token, configured out of band (admin_api.token_hash_base64).
type Auth struct {
	tokenHash []byte
}

func NewAuth(tokenHash string) *Auth {
	return &Auth{tokenHash: []byte(tokenHash)}
}

// Wrap rejects requests whose "Authorization: Bearer <token>" does not
// match the configured hash. Uses bcrypt's constant-time comparison
// rather than a raw equality check against a stored plaintext secret.
func (a *Auth) Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(a.tokenHash) == 0 {
			http.Error(w, `{"error":"admin api not configured"}`, http.StatusServiceUnavailable)
			return
		}
		token := bearerToken(r)
		if token == "" {
			http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
			return
		}
		if err := bcrypt.CompareHashAndPassword(a.tokenHash, []byte(token)); err != nil {
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || subtle.ConstantTimeCompare([]byte(h[:len(prefix)]), []byte(prefix)) != 1 {
		return ""
	}
	return h[len(prefix):]
}
