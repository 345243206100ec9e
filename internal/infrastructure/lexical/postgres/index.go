package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/paper-rag-service/internal/core/domain"
)

// Index serves BM25-style keyword search from a Postgres full-text
// index over document chunks. Ranking uses ts_rank_cd over a stored
// tsvector column; the ingestion pipeline owns writes.
type Index struct {
	db *sql.DB
}

func NewIndex(db *sql.DB) *Index {
	return &Index{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

const searchQuery = `
SELECT chunk_id, source_doc_id, title, category, ordinal, body, token_count
FROM chunks
WHERE search_vector @@ websearch_to_tsquery('english', $1)%s
ORDER BY ts_rank_cd(search_vector, websearch_to_tsquery('english', $1)) DESC
LIMIT %s`

func (i *Index) Search(ctx context.Context, query string, topK int, filter domain.SearchFilter) ([]domain.Chunk, error) {
	args := []any{query}
	categoryClause := ""
	limitPlaceholder := "$2"
	if len(filter.Categories) > 0 {
		categoryClause = "\n  AND category = ANY($2)"
		args = append(args, categoryList(filter.Categories))
		limitPlaceholder = "$3"
	}
	args = append(args, topK)

	rows, err := i.db.QueryContext(ctx, fmt.Sprintf(searchQuery, categoryClause, limitPlaceholder), args...)
	if err != nil {
		return nil, fmt.Errorf("fulltext search: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Chunk, 0, topK)
	for rows.Next() {
		var chunk domain.Chunk
		if err := rows.Scan(
			&chunk.ID, &chunk.SourceDocID, &chunk.Title, &chunk.Category,
			&chunk.Ordinal, &chunk.Text, &chunk.TokenCount,
		); err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}
		out = append(out, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk rows: %w", err)
	}
	return out, nil
}

// Healthy reports whether the chunks table is reachable.
func (i *Index) Healthy(ctx context.Context) error {
	var one int
	if err := i.db.QueryRowContext(ctx, `SELECT 1 FROM chunks LIMIT 1`).Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return fmt.Errorf("chunks probe: %w", err)
	}
	return nil
}

// categoryList renders a text[] literal, avoiding a driver-specific
// array type in the hot path.
func categoryList(categories []string) string {
	escaped := make([]string, 0, len(categories))
	for _, c := range categories {
		escaped = append(escaped, `"`+strings.ReplaceAll(strings.ReplaceAll(c, `\`, `\\`), `"`, `\"`)+`"`)
	}
	return "{" + strings.Join(escaped, ",") + "}"
}
