// Package validator provides input validation for ingestion requests. It
// enforces filename, content and tag constraints and returns per-field error
// details.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/ingestion"
)

const (
	maxFilenameLength = 512
	maxContentLength  = 1 << 20
	maxTags           = 16
	maxTagLength      = 64
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// ValidateIngestRequest checks the request and fills in a default MIME type.
func ValidateIngestRequest(req *ingestion.IngestRequest) error {
	errs := make(map[string]string)

	filename := strings.TrimSpace(req.Filename)
	switch {
	case filename == "":
		errs["filename"] = "filename is required"
	case len(filename) > maxFilenameLength:
		errs["filename"] = fmt.Sprintf("filename must be at most %d characters", maxFilenameLength)
	}
	if strings.TrimSpace(req.Content) == "" {
		errs["content"] = "content is required and must not be empty"
	} else if len(req.Content) > maxContentLength {
		errs["content"] = fmt.Sprintf("content must be at most %d bytes", maxContentLength)
	}
	if len(req.Tags) > maxTags {
		errs["tags"] = fmt.Sprintf("at most %d tags are allowed", maxTags)
	}
	for _, tag := range req.Tags {
		if tag == "" || len(tag) > maxTagLength {
			errs["tags"] = fmt.Sprintf("tags must be 1 to %d characters", maxTagLength)
			break
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	req.Filename = filename
	if req.MimeType == "" {
		req.MimeType = "text/plain"
	}
	return nil
}
