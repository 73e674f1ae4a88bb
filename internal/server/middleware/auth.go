package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// HeaderAPIKey carries the operator key when no Authorization header is sent.
const HeaderAPIKey = "X-API-Key"

// Auth closes operator routes behind a static key. The key may arrive as a
// Bearer token or in HeaderAPIKey. An empty apiKey answers 403 to everyone.
func Auth(apiKey string) func(http.Handler) http.Handler {
	want := sha256.Sum256([]byte(apiKey))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch token := operatorKey(r); {
			case apiKey == "":
				writeJSONError(w, http.StatusForbidden, "admin api disabled")
			case token == "":
				writeUnauthorized(w, "missing operator key")
			default:
				// Digests have equal length, so the comparison leaks nothing
				// about the configured key.
				got := sha256.Sum256([]byte(token))
				if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
					writeUnauthorized(w, "invalid operator key")
					return
				}
				next.ServeHTTP(w, r)
			}
		})
	}
}

func operatorKey(r *http.Request) string {
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(r.Header.Get(HeaderAPIKey))
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusUnauthorized, msg)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	body, _ := json.Marshal(map[string]string{"error": msg})
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(body)
}
