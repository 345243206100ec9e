package neo4j

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kirillkom/paper-rag-service/internal/core/domain"
)

// Index serves keyword search from a Neo4j Lucene fulltext index over
// Chunk nodes. It is the alternative lexical backend for deployments
// that already keep the document graph in Neo4j.
type Index struct {
	driver    neo4j.DriverWithContext
	database  string
	indexName string
}

func NewIndex(driver neo4j.DriverWithContext, database, indexName string) *Index {
	if indexName == "" {
		indexName = "chunk_text"
	}
	return &Index{driver: driver, database: database, indexName: indexName}
}

func Open(uri, user, password string) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	return driver, nil
}

const searchCypher = `
CALL db.index.fulltext.queryNodes($index, $query)
YIELD node, score
WHERE size($categories) = 0 OR node.category IN $categories
RETURN node
ORDER BY score DESC
LIMIT $topK`

func (i *Index) Search(ctx context.Context, query string, topK int, filter domain.SearchFilter) ([]domain.Chunk, error) {
	sanitized := sanitizeLucene(query)
	if sanitized == "" {
		return nil, nil
	}

	categories := filter.Categories
	if categories == nil {
		categories = []string{}
	}

	result, err := neo4j.ExecuteQuery(ctx, i.driver, searchCypher,
		map[string]any{
			"index":      i.indexName,
			"query":      sanitized,
			"categories": categories,
			"topK":       topK,
		},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(i.database),
		neo4j.ExecuteQueryWithReadersRouting(),
	)
	if err != nil {
		return nil, fmt.Errorf("fulltext query: %w", err)
	}

	out := make([]domain.Chunk, 0, len(result.Records))
	for _, record := range result.Records {
		value, ok := record.Get("node")
		if !ok {
			continue
		}
		node, ok := value.(neo4j.Node)
		if !ok {
			continue
		}
		out = append(out, chunkFromNode(node))
	}
	return out, nil
}

// Healthy verifies server connectivity.
func (i *Index) Healthy(ctx context.Context) error {
	return i.driver.VerifyConnectivity(ctx)
}

func chunkFromNode(node neo4j.Node) domain.Chunk {
	return domain.Chunk{
		ID:          propString(node, "chunk_id"),
		SourceDocID: propString(node, "source_doc_id"),
		Title:       propString(node, "title"),
		Category:    propString(node, "category"),
		Ordinal:     propInt(node, "ordinal"),
		Text:        propString(node, "body"),
		TokenCount:  propInt(node, "token_count"),
	}
}

func propString(node neo4j.Node, key string) string {
	v, ok := node.Props[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Sprintf("%v", v)
	}
	return s
}

func propInt(node neo4j.Node, key string) int {
	v, ok := node.Props[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

// sanitizeLucene strips query syntax so user input cannot break the
// fulltext parser.
func sanitizeLucene(query string) string {
	var b strings.Builder
	for _, r := range query {
		switch r {
		case '+', '-', '&', '|', '!', '(', ')', '{', '}', '[', ']', '^', '"', '~', '*', '?', ':', '\\', '/':
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
