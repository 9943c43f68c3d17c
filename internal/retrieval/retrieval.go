// Package retrieval turns a query into ranked, context-enlarged passages:
// hybrid search with rank fusion, neighbor enrichment and reranking.
package retrieval

import (
	"context"

	"dgchat/internal/document"
	"dgchat/internal/index"
)

type Result struct {
	Chunk         document.Chunk
	Score         float64
	Enriched      bool
	ContextChunks int
}

// Metadata is the chunk metadata plus the retrieval annotations.
func (r Result) Metadata() map[string]any {
	m := r.Chunk.Fields()
	m["relevance_score"] = r.Score
	if r.Enriched {
		m["enriched"] = true
		m["context_chunks"] = r.ContextChunks
	}
	return m
}

// Searcher is implemented by both index backends.
type Searcher interface {
	SimilaritySearch(ctx context.Context, query string, k int) ([]index.Hit, error)
	DiversitySearch(ctx context.Context, query string, k int) ([]index.Hit, error)
}

// Ranking is one scored document position as returned by a reranker.
type Ranking struct {
	Index int
	Score float64
}

type Reranker interface {
	Rerank(ctx context.Context, query string, docs []string) ([]Ranking, error)
}
