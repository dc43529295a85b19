// Package store persists document metadata records in PostgreSQL. The
// documents table is keyed by id and carries a unique index on content_hash.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/postgres"
)

const contentHashConstraint = "documents_content_hash_key"

type PostgresStore struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewPostgresStore(db *postgres.Client) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: slog.Default().With("component", "document-store"),
	}
}

const selectColumns = `id, locator, filename, mime_type, content_hash, token_estimate, tags, indexed_at`

func (s *PostgresStore) FindByHash(ctx context.Context, contentHash string) (*ingestion.DocumentRecord, error) {
	row := s.db.DB.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM documents WHERE content_hash = $1`, contentHash)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying by content hash: %w", err)
	}
	return rec, nil
}

// Save inserts rec. A record with the same id (same filename) is replaced by
// the newer upload. A content_hash collision means another filename already
// holds this content; that is reported as an error for the caller to log.
func (s *PostgresStore) Save(ctx context.Context, rec *ingestion.DocumentRecord) error {
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := s.db.DB.ExecContext(ctx,
		`INSERT INTO documents (id, locator, filename, mime_type, content_hash, token_estimate, tags, indexed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			locator = EXCLUDED.locator,
			mime_type = EXCLUDED.mime_type,
			content_hash = EXCLUDED.content_hash,
			token_estimate = EXCLUDED.token_estimate,
			tags = EXCLUDED.tags,
			indexed_at = EXCLUDED.indexed_at`,
		rec.ID, rec.Locator, rec.Filename, rec.MimeType, rec.ContentHash,
		rec.TokenEstimate, pq.Array(tags), rec.IndexedAt,
	)
	if postgres.IsUniqueViolation(err, contentHashConstraint) {
		return apperrors.Newf(apperrors.ErrConflict, 409, "content %s already recorded under another filename", rec.ContentHash)
	}
	if err != nil {
		return fmt.Errorf("saving document %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*ingestion.DocumentRecord, error) {
	row := s.db.DB.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM documents WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, 404, "document %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying document %s: %w", id, err)
	}
	return rec, nil
}

// List returns records newest first.
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]ingestion.DocumentRecord, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM documents ORDER BY indexed_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	records := make([]ingestion.DocumentRecord, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*ingestion.DocumentRecord, error) {
	var rec ingestion.DocumentRecord
	var tags []string
	if err := row.Scan(&rec.ID, &rec.Locator, &rec.Filename, &rec.MimeType, &rec.ContentHash,
		&rec.TokenEstimate, pq.Array(&tags), &rec.IndexedAt); err != nil {
		return nil, err
	}
	if len(tags) > 0 {
		rec.Tags = tags
	}
	rec.IndexedAt = rec.IndexedAt.UTC()
	return &rec, nil
}
