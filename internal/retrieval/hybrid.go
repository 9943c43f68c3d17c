package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"dgchat/internal/document"
	"dgchat/internal/index"

	"golang.org/x/sync/errgroup"
)

// rrfOffset dampens the weight of top ranks in reciprocal rank fusion.
const rrfOffset = 60

var (
	DefaultFusionWeights = []float64{0.8, 0.2}

	ErrInvalidWeights = errors.New("fusion weights must be two non-negative numbers with a positive sum")
)

type HybridRetriever struct {
	searcher Searcher
	simW     float64
	divW     float64
}

// NewHybridRetriever weights the similarity list by weights[0] and the
// diversity list by weights[1]. No weights selects DefaultFusionWeights.
func NewHybridRetriever(s Searcher, weights ...float64) (*HybridRetriever, error) {
	if len(weights) == 0 {
		weights = DefaultFusionWeights
	}
	if len(weights) != 2 || weights[0] < 0 || weights[1] < 0 || weights[0]+weights[1] == 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWeights, weights)
	}
	return &HybridRetriever{searcher: s, simW: weights[0], divW: weights[1]}, nil
}

// Retrieve runs both searches with the same k and fuses them by weighted
// reciprocal rank. Chunks found by both lists appear once; equal fused
// scores keep first-appearance order. Sentinel entries are dropped.
func (h *HybridRetriever) Retrieve(ctx context.Context, query string, k int) ([]Result, error) {
	var sim, div []index.Hit

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sim, err = h.searcher.SimilaritySearch(gctx, query, k)
		if err != nil {
			return fmt.Errorf("similarity search: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		div, err = h.searcher.DiversitySearch(gctx, query, k)
		if err != nil {
			return fmt.Errorf("diversity search: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := Fuse([][]index.Hit{sim, div}, []float64{h.simW, h.divW})
	slog.DebugContext(ctx, "hybrid retrieval", "similarity", len(sim), "diversity", len(div), "fused", len(results))
	return results, nil
}

// Fuse merges ranked lists by summing weight/(rank+1+60) per chunk.
func Fuse(lists [][]index.Hit, weights []float64) []Result {
	pos := make(map[string]int)
	var out []Result

	for li, hits := range lists {
		w := 0.0
		if li < len(weights) {
			w = weights[li]
		}
		for rank, h := range hits {
			if document.IsSentinel(h.Chunk) {
				continue
			}
			score := w / float64(rank+1+rrfOffset)
			key := h.Chunk.Key()
			if i, ok := pos[key]; ok {
				out[i].Score += score
				continue
			}
			pos[key] = len(out)
			out = append(out, Result{Chunk: h.Chunk, Score: score})
		}
	}

	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Score > out[b].Score
	})
	return out
}
