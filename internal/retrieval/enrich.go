package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"dgchat/internal/document"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultContextSize = 1
	DefaultOversample  = 50

	labelBefore = "[CONTEXT BEFORE]:"
	labelMain   = "[MAIN CONTENT]:"
	labelAfter  = "[CONTEXT AFTER]:"

	enrichConcurrency = 4
)

type Enricher struct {
	searcher    Searcher
	contextSize int
	oversample  int
}

func NewEnricher(s Searcher, contextSize, oversample int) *Enricher {
	if contextSize < 0 {
		contextSize = DefaultContextSize
	}
	if oversample <= 0 {
		oversample = DefaultOversample
	}
	return &Enricher{searcher: s, contextSize: contextSize, oversample: oversample}
}

// Enrich replaces the hit's content with its labeled sequence window. Any
// miss returns r unchanged.
func (e *Enricher) Enrich(ctx context.Context, r Result) Result {
	src := r.Chunk.Metadata.SourceID
	if src == "" {
		return r
	}

	hits, err := e.searcher.SimilaritySearch(ctx, "source:"+src, e.oversample)
	if err != nil {
		slog.WarnContext(ctx, "neighbor lookup failed, keeping hit as is", "source_id", src, "error", err)
		return r
	}

	var same []document.Chunk
	for _, h := range hits {
		if h.Chunk.Metadata.SourceID == src {
			same = append(same, h.Chunk)
		}
	}
	sort.SliceStable(same, func(a, b int) bool {
		return same[a].Metadata.SequenceIndex < same[b].Metadata.SequenceIndex
	})
	same = dedupeSequence(same)

	seq := r.Chunk.Metadata.SequenceIndex
	at := -1
	for i, c := range same {
		if c.Metadata.SequenceIndex == seq {
			at = i
			break
		}
	}
	if at < 0 {
		slog.DebugContext(ctx, "hit not found among neighbors", "source_id", src, "sequence_index", seq, "candidates", len(same))
		return r
	}

	window := same[max(0, at-e.contextSize):min(len(same), at+e.contextSize+1)]
	parts := make([]string, 0, len(window))
	for _, c := range window {
		label := labelMain
		switch {
		case c.Metadata.SequenceIndex < seq:
			label = labelBefore
		case c.Metadata.SequenceIndex > seq:
			label = labelAfter
		}
		content := c.Content
		if c.Metadata.SequenceIndex == seq {
			content = r.Chunk.Content
		}
		parts = append(parts, label+"\n"+content)
	}

	out := r
	out.Chunk.Content = strings.Join(parts, "\n\n")
	out.Enriched = true
	out.ContextChunks = len(window)
	return out
}

func dedupeSequence(sorted []document.Chunk) []document.Chunk {
	out := sorted[:0:0]
	for i, c := range sorted {
		if i > 0 && c.Metadata.SequenceIndex == sorted[i-1].Metadata.SequenceIndex {
			continue
		}
		out = append(out, c)
	}
	return out
}

// EnrichAll enriches every result, preserving order.
func (e *Enricher) EnrichAll(ctx context.Context, results []Result) []Result {
	out := make([]Result, len(results))
	var g errgroup.Group
	g.SetLimit(enrichConcurrency)
	for i, r := range results {
		g.Go(func() error {
			out[i] = e.Enrich(ctx, r)
			return nil
		})
	}
	g.Wait()
	return out
}
