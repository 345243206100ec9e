package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/paper-rag-service/internal/core/domain"
)

func newIndexWithMock(t *testing.T) (*Index, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &Index{db: db}, mock, func() { _ = db.Close() }
}

func chunkColumns() []string {
	return []string{"chunk_id", "source_doc_id", "title", "category", "ordinal", "body", "token_count"}
}

func TestSearchScansChunkRows(t *testing.T) {
	index, mock, done := newIndexWithMock(t)
	defer done()

	rows := sqlmock.NewRows(chunkColumns()).
		AddRow("c1", "paper-1", "Attention", "nlp", 2, "chunk body", 42).
		AddRow("c2", "paper-2", "BERT", "nlp", 0, "other body", 17)
	mock.ExpectQuery("SELECT chunk_id, source_doc_id, title").
		WithArgs("attention mechanism", 5).
		WillReturnRows(rows)

	chunks, err := index.Search(context.Background(), "attention mechanism", 5, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	first := chunks[0]
	if first.ID != "c1" || first.SourceDocID != "paper-1" || first.Ordinal != 2 || first.TokenCount != 42 {
		t.Fatalf("row mapping wrong: %+v", first)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchFiltersByCategory(t *testing.T) {
	index, mock, done := newIndexWithMock(t)
	defer done()

	mock.ExpectQuery("AND category = ANY").
		WithArgs("attention", `{"nlp","cv"}`, 3).
		WillReturnRows(sqlmock.NewRows(chunkColumns()))

	_, err := index.Search(context.Background(), "attention", 3, domain.SearchFilter{Categories: []string{"nlp", "cv"}})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchPropagatesQueryError(t *testing.T) {
	index, mock, done := newIndexWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT chunk_id").
		WillReturnError(errors.New("connection refused"))

	_, err := index.Search(context.Background(), "attention", 5, domain.SearchFilter{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
