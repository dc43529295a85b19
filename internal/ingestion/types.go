// Package ingestion defines the document metadata record, the request and
// response types of the ingestion HTTP endpoint, and the id derivation shared
// by the indexer and the search backend.
package ingestion

import (
	"time"

	"github.com/google/uuid"
)

// documentNamespace scopes DocumentID so ids never collide with other UUIDv5
// users of the same filename.
var documentNamespace = uuid.MustParse("6f1c3a52-4c1e-5d8b-9a57-2b0e7f3c9d41")

// DocumentRecord is the metadata kept for every document handed to the
// search backend. Records are never mutated after creation.
type DocumentRecord struct {
	ID            string    `json:"id"`
	Locator       string    `json:"locator"`
	Filename      string    `json:"filename"`
	MimeType      string    `json:"mime_type"`
	ContentHash   string    `json:"content_hash"`
	IndexedAt     time.Time `json:"indexed_at"`
	TokenEstimate int       `json:"token_estimate"`
	Tags          []string  `json:"tags,omitempty"`
}

// DocumentID derives a record id from the filename alone, so the same
// filename always maps to the same id regardless of content or source.
func DocumentID(filename string) string {
	return uuid.NewSHA1(documentNamespace, []byte(filename)).String()
}

// IngestRequest is the JSON body accepted by the document ingestion endpoint.
type IngestRequest struct {
	Filename string   `json:"filename"`
	Content  string   `json:"content"`
	MimeType string   `json:"mime_type"`
	Tags     []string `json:"tags,omitempty"`
}

// IngestResponse is returned by the ingestion endpoint. Document is nil when
// the security filter rejected the input.
type IngestResponse struct {
	Status   string          `json:"status"`
	Document *DocumentRecord `json:"document,omitempty"`
}

const (
	StatusIndexed  = "indexed"
	StatusFiltered = "filtered"
)
