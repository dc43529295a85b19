package validator

import (
	"errors"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/ingestion"
)

func TestValidateIngestRequest(t *testing.T) {
	tests := []struct {
		name      string
		req       ingestion.IngestRequest
		badFields []string
	}{
		{"valid", ingestion.IngestRequest{Filename: "a.md", Content: "x"}, nil},
		{"missing filename", ingestion.IngestRequest{Content: "x"}, []string{"filename"}},
		{"blank content", ingestion.IngestRequest{Filename: "a.md", Content: "   "}, []string{"content"}},
		{"long filename", ingestion.IngestRequest{Filename: strings.Repeat("a", 600), Content: "x"}, []string{"filename"}},
		{"empty tag", ingestion.IngestRequest{Filename: "a.md", Content: "x", Tags: []string{""}}, []string{"tags"}},
		{"everything wrong", ingestion.IngestRequest{Tags: make([]string, 20)}, []string{"filename", "content", "tags"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			err := ValidateIngestRequest(&req)
			if len(tt.badFields) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want *ValidationError", err)
			}
			for _, f := range tt.badFields {
				if _, ok := verr.Fields[f]; !ok {
					t.Errorf("missing error for field %q in %v", f, verr.Fields)
				}
			}
		})
	}
}

func TestValidateDefaultsMimeAndTrims(t *testing.T) {
	req := ingestion.IngestRequest{Filename: "  notes.md ", Content: "hello"}
	if err := ValidateIngestRequest(&req); err != nil {
		t.Fatal(err)
	}
	if req.Filename != "notes.md" {
		t.Errorf("filename = %q, want trimmed", req.Filename)
	}
	if req.MimeType != "text/plain" {
		t.Errorf("mime = %q, want text/plain", req.MimeType)
	}
}
