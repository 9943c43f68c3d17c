package text

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"dgchat/internal/document"
	"dgchat/internal/vecmath"
)

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type ChunkerConfig struct {
	// ChunkSize is the token budget of one chunk.
	ChunkSize    int
	Threshold    float64
	MinSentences int
	SkipWindow   int
}

func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{ChunkSize: 1024, Threshold: 0.5, MinSentences: 2, SkipWindow: 1}
}

// SemanticChunker groups sentences whose embeddings stay close, then merges
// neighbouring groups that turn out to be about the same thing.
type SemanticChunker struct {
	embedder Embedder
	tokens   TokenCounter
	cfg      ChunkerConfig
}

func NewSemanticChunker(e Embedder, tc TokenCounter, cfg ChunkerConfig) *SemanticChunker {
	if tc == nil {
		tc = EstimateCounter{}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkerConfig().ChunkSize
	}
	if cfg.MinSentences < 1 {
		cfg.MinSentences = 1
	}
	if cfg.SkipWindow < 0 {
		cfg.SkipWindow = 0
	}
	return &SemanticChunker{embedder: e, tokens: tc, cfg: cfg}
}

type group struct {
	start, end int // sentence range [start, end)
	tokens     int
}

// Split chunks documents in order. SequenceIndex counts emitted chunks per
// source, so pages of one source continue the same sequence. A document whose
// sentences cannot be embedded contributes no chunks and one Failure.
func (c *SemanticChunker) Split(ctx context.Context, docs []document.Document) ([]document.Chunk, []document.Failure) {
	var chunks []document.Chunk
	var failures []document.Failure
	next := make(map[string]int)

	for _, doc := range docs {
		texts, err := c.splitDocument(ctx, doc.Content)
		if err != nil {
			path := doc.Metadata.Filename
			if path == "" {
				path = doc.Metadata.SourceID
			}
			slog.WarnContext(ctx, "chunking failed", "source_id", doc.Metadata.SourceID, "page", doc.Metadata.Page, "error", err)
			failures = append(failures, document.Failure{Path: path, Stage: "chunk", Err: err})
			continue
		}

		for _, t := range texts {
			if IsNoiseChunk(t) {
				continue
			}
			src := doc.Metadata.SourceID
			chunks = append(chunks, document.Chunk{
				Content: t,
				Metadata: document.ChunkMetadata{
					SourceID:      src,
					SequenceIndex: next[src],
					Page:          doc.Metadata.Page,
					Filename:      doc.Metadata.Filename,
					Extra:         copyExtra(doc.Metadata.Extra),
				},
			})
			next[src]++
		}
	}
	return chunks, failures
}

func (c *SemanticChunker) splitDocument(ctx context.Context, content string) ([]string, error) {
	sentences := SplitSentences(content)
	if len(sentences) == 0 {
		return nil, nil
	}
	if len(sentences) <= c.cfg.MinSentences {
		return []string{strings.TrimSpace(strings.Join(sentences, ""))}, nil
	}

	embs, err := c.embedder.EmbedBatch(ctx, sentences)
	if err != nil {
		return nil, fmt.Errorf("embed sentences: %w", err)
	}
	if len(embs) != len(sentences) {
		return nil, fmt.Errorf("embed sentences: got %d vectors for %d sentences", len(embs), len(sentences))
	}

	toks := make([]int, len(sentences))
	for i, s := range sentences {
		toks[i] = c.tokens.CountTokens(s)
	}

	groups := c.mergeGroups(c.initialGroups(embs, toks), embs)

	out := make([]string, 0, len(groups))
	for _, g := range groups {
		out = append(out, strings.TrimSpace(strings.Join(sentences[g.start:g.end], "")))
	}
	return out, nil
}

// initialGroups is the first pass: a sentence joins the running group while it
// is similar to the group centroid or the group is still below MinSentences,
// as long as the token budget holds.
func (c *SemanticChunker) initialGroups(embs [][]float32, toks []int) []group {
	var groups []group
	cur := group{start: 0, end: 1, tokens: toks[0]}
	for i := 1; i < len(embs); i++ {
		fits := cur.tokens+toks[i] <= c.cfg.ChunkSize
		short := cur.end-cur.start < c.cfg.MinSentences
		similar := vecmath.Cosine(vecmath.Mean(embs[cur.start:cur.end]...), embs[i]) >= c.cfg.Threshold
		if fits && (short || similar) {
			cur.end = i + 1
			cur.tokens += toks[i]
			continue
		}
		groups = append(groups, cur)
		cur = group{start: i, end: i + 1, tokens: toks[i]}
	}
	return append(groups, cur)
}

// mergeGroups is the second pass: a group absorbs everything up to a later
// group within SkipWindow+1 positions when the two are similar and the merged
// span fits the budget. The farthest candidate is tried first.
func (c *SemanticChunker) mergeGroups(groups []group, embs [][]float32) []group {
	var out []group
	for i := 0; i < len(groups); {
		cur := groups[i]
		j := i + 1
		merged := true
		for merged {
			merged = false
			for k := min(j+c.cfg.SkipWindow, len(groups)-1); k >= j; k-- {
				span := cur.tokens
				for m := j; m <= k; m++ {
					span += groups[m].tokens
				}
				if span > c.cfg.ChunkSize {
					continue
				}
				sim := vecmath.Cosine(vecmath.Mean(embs[cur.start:cur.end]...), vecmath.Mean(embs[groups[k].start:groups[k].end]...))
				if sim < c.cfg.Threshold {
					continue
				}
				cur.end = groups[k].end
				cur.tokens = span
				j = k + 1
				merged = true
				break
			}
		}
		out = append(out, cur)
		i = j
	}
	return out
}

func copyExtra(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
