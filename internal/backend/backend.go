// Package backend defines the two-operation surface the pipeline needs from
// the managed search-and-generation service.
package backend

import "context"

// Source is a retrieved passage that contributed to an answer.
type Source struct {
	DocumentID string  `json:"documentId"`
	Filename   string  `json:"filename"`
	Snippet    string  `json:"snippet"`
	Relevance  float64 `json:"relevance"`
}

// Generation is a retrieval-grounded answer. Errored marks an answer the
// backend produced but could not stand behind, such as an unparseable
// completion.
type Generation struct {
	Text       string   `json:"text"`
	Confidence float64  `json:"confidence"`
	Sources    []Source `json:"sources"`
	Errored    bool     `json:"errored"`
}

// Backend stores documents and answers queries over them.
type Backend interface {
	// Upload stores content and returns an opaque locator for it.
	Upload(ctx context.Context, content []byte, mimeType, displayName string) (string, error)
	Generate(ctx context.Context, query string, limit int) (*Generation, error)
}
