package retrieval

import (
	"context"
	"fmt"
	"sort"
)

const DefaultTopN = 5

type Compressor struct {
	reranker Reranker
}

func NewCompressor(r Reranker) *Compressor {
	return &Compressor{reranker: r}
}

// Compress reranks candidates against query and keeps the topN best. The
// relevance score replaces the fusion score.
func (c *Compressor) Compress(ctx context.Context, query string, candidates []Result, topN int) ([]Result, error) {
	if len(candidates) == 0 || topN <= 0 {
		return nil, nil
	}

	docs := make([]string, len(candidates))
	for i, r := range candidates {
		docs[i] = r.Chunk.Content
	}

	rankings, err := c.reranker.Rerank(ctx, query, docs)
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}

	out := make([]Result, 0, len(rankings))
	seen := make(map[int]bool, len(rankings))
	for _, rk := range rankings {
		if rk.Index < 0 || rk.Index >= len(candidates) || seen[rk.Index] {
			continue
		}
		seen[rk.Index] = true
		r := candidates[rk.Index]
		r.Score = rk.Score
		out = append(out, r)
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Score > out[b].Score
	})

	if len(out) > topN {
		out = out[:topN]
	}
	return out, nil
}
