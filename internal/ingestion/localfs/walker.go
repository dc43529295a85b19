// Package localfs ingests a directory tree of local files. It honours a
// .ragignore file (gitignore syntax), skips binary and oversized files, and
// converts HTML to Markdown before handing each file to the indexer.
package localfs

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/ingestion/indexer"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/ingestion/security"
)

const (
	IgnoreFile      = ".ragignore"
	DefaultMaxBytes = 1 << 20
	sniffLen        = 8000
)

// Report summarises one walk.
type Report struct {
	Seen        int      `json:"seen"`
	Indexed     int      `json:"indexed"`
	Filtered    int      `json:"filtered"`
	Skipped     int      `json:"skipped"`
	Failed      int      `json:"failed"`
	FailedFiles []string `json:"failed_files,omitempty"`
}

type Walker struct {
	ingester indexer.Ingester
	maxBytes int64
	tags     []string
	md       *converter.Converter
	logger   *slog.Logger
}

func NewWalker(ing indexer.Ingester, maxBytes int64, tags ...string) *Walker {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Walker{
		ingester: ing,
		maxBytes: maxBytes,
		tags:     tags,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		logger: slog.Default().With("component", "localfs-walker"),
	}
}

// Ingest walks root and ingests every eligible file sequentially, in lexical
// order. Per-file failures are counted and do not stop the walk; only an
// unreadable root or a cancelled context fails the call.
func (w *Walker) Ingest(ctx context.Context, root string) (*Report, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("reading root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	ignore, err := loadIgnore(root)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			w.logger.Warn("cannot read path", "path", path, "error", walkErr)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if security.IsExcludedDir(d.Name()) || (ignore != nil && ignore.MatchesPath(rel+"/")) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || d.Name() == IgnoreFile {
			return nil
		}
		report.Seen++
		if ignore != nil && ignore.MatchesPath(rel) {
			report.Skipped++
			return nil
		}
		w.ingestFile(ctx, path, rel, report)
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("walking %s: %w", root, err)
	}
	w.logger.Info("local ingestion finished",
		"root", root,
		"seen", report.Seen,
		"indexed", report.Indexed,
		"filtered", report.Filtered,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	return report, nil
}

func (w *Walker) ingestFile(ctx context.Context, path, rel string, report *Report) {
	info, err := os.Stat(path)
	if err != nil {
		w.fail(report, rel, err)
		return
	}
	if info.Size() > w.maxBytes {
		w.logger.Debug("file too large, skipping", "path", rel, "size", info.Size())
		report.Skipped++
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		w.fail(report, rel, err)
		return
	}
	if isBinary(data) {
		report.Skipped++
		return
	}

	content, mimeType := string(data), DetectMIME(rel)
	if mimeType == "text/html" {
		md, err := w.md.ConvertString(content)
		if err != nil {
			w.fail(report, rel, fmt.Errorf("converting html: %w", err))
			return
		}
		content, mimeType = md, "text/markdown"
	}

	rec, err := w.ingester.Ingest(ctx, rel, content, mimeType, w.tags...)
	if err != nil {
		w.fail(report, rel, err)
		return
	}
	if rec == nil {
		report.Filtered++
		return
	}
	report.Indexed++
}

func (w *Walker) fail(report *Report, rel string, err error) {
	w.logger.Warn("file ingestion failed", "path", rel, "error", err)
	report.Failed++
	report.FailedFiles = append(report.FailedFiles, rel)
}

func loadIgnore(root string) (*gitignore.GitIgnore, error) {
	path := filepath.Join(root, IgnoreFile)
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	ignore, err := gitignore.CompileIgnoreFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return ignore, nil
}

// isBinary treats content with a NUL byte or invalid UTF-8 in its first
// sniffLen bytes as binary.
func isBinary(data []byte) bool {
	head := data
	if len(head) > sniffLen {
		head = head[:sniffLen]
		// do not reject a multi-byte rune cut at the boundary
		for i := 0; i < utf8.UTFMax && !utf8.Valid(head); i++ {
			head = head[:len(head)-1]
		}
	}
	return bytes.IndexByte(head, 0) >= 0 || !utf8.Valid(head)
}

var textTypes = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".mdx":      "text/markdown",
	".txt":      "text/plain",
	".rst":      "text/x-rst",
	".html":     "text/html",
	".htm":      "text/html",
	".json":     "application/json",
	".yaml":     "application/yaml",
	".yml":      "application/yaml",
	".csv":      "text/csv",
	".go":       "text/x-go",
	".py":       "text/x-python",
	".ts":       "text/x-typescript",
	".js":       "text/javascript",
}

// DetectMIME maps a filename to a MIME type by extension, defaulting to
// text/plain.
func DetectMIME(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := textTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if i := strings.IndexByte(t, ';'); i >= 0 {
			t = t[:i]
		}
		return t
	}
	return "text/plain"
}
