package neo4j

import (
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func TestSanitizeLuceneStripsSyntax(t *testing.T) {
	cases := map[string]string{
		"attention mechanism":    "attention mechanism",
		`title:"foo" AND (bar)`:  "title  foo  AND  bar",
		"wildcard* fuzzy~2":      "wildcard  fuzzy 2",
		`\\escaped /path [x..y]`: "escaped  path  x..y",
		"+must -not":             "must  not",
	}
	for in, want := range cases {
		if got := sanitizeLucene(in); got != want {
			t.Fatalf("sanitizeLucene(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestChunkFromNodeMapsProperties(t *testing.T) {
	node := neo4j.Node{Props: map[string]any{
		"chunk_id":      "c1",
		"source_doc_id": "paper-1",
		"title":         "Attention",
		"category":      "nlp",
		"ordinal":       int64(4),
		"body":          "chunk body",
		"token_count":   int64(42),
	}}

	chunk := chunkFromNode(node)
	if chunk.ID != "c1" || chunk.SourceDocID != "paper-1" || chunk.Ordinal != 4 || chunk.TokenCount != 42 {
		t.Fatalf("node mapping wrong: %+v", chunk)
	}
	if chunk.Text != "chunk body" || chunk.Category != "nlp" {
		t.Fatalf("node mapping wrong: %+v", chunk)
	}
}

func TestChunkFromNodeToleratesMissingProps(t *testing.T) {
	chunk := chunkFromNode(neo4j.Node{Props: map[string]any{"chunk_id": "c1"}})
	if chunk.ID != "c1" {
		t.Fatalf("id = %q", chunk.ID)
	}
	if chunk.Ordinal != 0 || chunk.TokenCount != 0 || chunk.Text != "" {
		t.Fatalf("missing props must zero-value: %+v", chunk)
	}
}
