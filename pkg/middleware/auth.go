package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/ratelimit"
)

type contextKey string

const callerKey contextKey = "caller"

// Auth returns middleware that admits requests carrying one of the configured
// static tokens, via Authorization: Bearer <token> or X-API-Key. Health
// endpoints are exempt. With no tokens configured every request is admitted,
// which is meant for local development only.
func Auth(tokens []string) func(http.Handler) http.Handler {
	digests := make([][]byte, 0, len(tokens))
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			d := sha256.Sum256([]byte(t))
			digests = append(digests, d[:])
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(digests) == 0 || strings.HasPrefix(r.URL.Path, "/health") {
				next.ServeHTTP(w, r)
				return
			}
			key := extractAPIKey(r)
			if key == "" {
				writeError(w, http.StatusUnauthorized, "missing api key")
				return
			}
			d := sha256.Sum256([]byte(key))
			matched := 0
			for _, want := range digests {
				matched |= subtle.ConstantTimeCompare(d[:], want)
			}
			if matched != 1 {
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			}
			ctx := context.WithValue(r.Context(), callerKey, hex.EncodeToString(d[:8]))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Caller returns a stable, non-secret identifier for the authenticated token.
func Caller(ctx context.Context) string {
	c, _ := ctx.Value(callerKey).(string)
	return c
}

// RateLimit enforces limitPerWindow requests per authenticated caller.
// Unauthenticated requests share the "anonymous" bucket.
func RateLimit(limiter *ratelimit.Limiter, limitPerWindow int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limitPerWindow <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/health") {
				next.ServeHTTP(w, r)
				return
			}
			caller := Caller(r.Context())
			if caller == "" {
				caller = "anonymous"
			}
			if !limiter.Allow(caller, limitPerWindow) {
				w.Header().Set("Retry-After", "60")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractAPIKey reads the API key from the request in priority order:
// Authorization: Bearer header, then X-API-Key header.
func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}

// writeError writes a JSON error response to the client.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
