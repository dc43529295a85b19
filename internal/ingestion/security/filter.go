// Package security decides whether a document may be indexed and computes
// the content fingerprint used for deduplication. Both functions are pure.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"regexp"
	"strings"
)

// noIndexMarker matches explicit "must not index" tags and private key
// material anywhere in the content.
var noIndexMarker = regexp.MustCompile(`(?i)\[confidential\]|\[do-not-index\]|<!--\s*noindex\s*-->|-----BEGIN\s+(?:RSA\s+|EC\s+|OPENSSH\s+|ENCRYPTED\s+)?PRIVATE\s+KEY-----`)

// sensitiveFilePatterns are matched against the lower-cased base name.
var sensitiveFilePatterns = []string{
	".env",
	".env.*",
	"*.env",
	"*.pem",
	"*.key",
	"*.p12",
	"*.pfx",
	"*.jks",
	"*.keystore",
	"id_rsa*",
	"id_dsa*",
	"id_ecdsa*",
	"id_ed25519*",
	".npmrc",
	".netrc",
	".pgpass",
	"credentials*",
	".ds_store",
	"thumbs.db",
}

// excludedDirs are dependency caches, build output and VCS metadata.
var excludedDirs = map[string]struct{}{
	"node_modules": {},
	"vendor":       {},
	".git":         {},
	".svn":         {},
	".hg":          {},
	".venv":        {},
	"venv":         {},
	"__pycache__":  {},
	".next":        {},
	".cache":       {},
	"dist":         {},
	"build":        {},
	".terraform":   {},
}

// IsIndexable reports whether a document may be sent to the search backend.
func IsIndexable(filename, content string) bool {
	if noIndexMarker.MatchString(content) {
		return false
	}
	return !IsSensitivePath(filename)
}

// IsSensitivePath reports whether filename names a secret or system file, or
// lies under an excluded directory. Both / and \ separate segments.
func IsSensitivePath(filename string) bool {
	normalized := strings.ToLower(strings.ReplaceAll(filename, `\`, "/"))
	segments := strings.Split(normalized, "/")
	for _, seg := range segments[:len(segments)-1] {
		if _, ok := excludedDirs[seg]; ok {
			return true
		}
	}
	base := segments[len(segments)-1]
	for _, pattern := range sensitiveFilePatterns {
		if matched, err := path.Match(pattern, base); err == nil && matched {
			return true
		}
	}
	return false
}

// IsExcludedDir reports whether a directory name is skipped wholesale.
func IsExcludedDir(name string) bool {
	_, ok := excludedDirs[strings.ToLower(name)]
	return ok
}

// Fingerprint returns the hex-encoded SHA-256 of the raw content.
func Fingerprint(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
