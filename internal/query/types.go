// Package query answers natural-language questions against the indexed
// corpus, serving repeated questions from a cache of confident answers.
package query

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/backend"
)

// Answer is the result of one query.
type Answer struct {
	Text       string           `json:"text"`
	Sources    []backend.Source `json:"sources"`
	Confidence float64          `json:"confidence"`
	Cached     bool             `json:"cached"`
	ElapsedMs  int64            `json:"elapsedMs"`
	Errored    bool             `json:"errored"`
}

// CacheEntry is a stored answer. Only confident, non-errored answers are
// stored, and an entry past ExpiresAt is never served.
type CacheEntry struct {
	QueryKey  string    `json:"queryKey"`
	Result    Answer    `json:"result"`
	HitCount  int64     `json:"hitCount"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the entry must no longer be served at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Request is the body of a query call.
type Request struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// Normalize trims and lower-cases a query.
func Normalize(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

// Key is the cache key of a query: the SHA-256 hex digest of its normalized
// form. Queries differing only in case or surrounding whitespace share a key.
func Key(q string) string {
	sum := sha256.Sum256([]byte(Normalize(q)))
	return hex.EncodeToString(sum[:])
}
