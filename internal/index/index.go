// Package index is the local, file-backed vector index. Entries are only ever
// appended; readers work on an immutable snapshot of the entry slice while a
// single writer builds, persists and then publishes the next one.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"dgchat/internal/document"
	"dgchat/internal/vecmath"
)

const (
	DefaultBatchSize = 5
	DefaultFetchK    = 20
	DefaultLambda    = 0.5
)

var (
	ErrNoChunks          = errors.New("no chunks to add")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Entry struct {
	Chunk     document.Chunk
	Embedding []float32
}

type Hit struct {
	Chunk document.Chunk
	Score float64
}

type Option func(*Index)

func WithBatchSize(n int) Option {
	return func(i *Index) {
		if n > 0 {
			i.batchSize = n
		}
	}
}

func WithMMR(fetchK int, lambda float64) Option {
	return func(i *Index) {
		if fetchK > 0 {
			i.fetchK = fetchK
		}
		if lambda >= 0 && lambda <= 1 {
			i.lambda = lambda
		}
	}
}

type Index struct {
	dir       string
	embedder  Embedder
	batchSize int
	fetchK    int
	lambda    float64

	writeMu    sync.Mutex
	mu         sync.RWMutex
	entries    []Entry
	generation uint64
}

// LoadOrInit opens the index persisted in dir. When the current files are
// missing, empty, corrupt or mismatched, the previous committed pair is
// restored if it is intact. Otherwise the result is a fresh index holding only
// the sentinel entry, which is persisted right away. It never fails; if the
// fresh index cannot be written it still serves reads from memory.
func LoadOrInit(ctx context.Context, dir string, e Embedder, opts ...Option) *Index {
	idx := &Index{
		dir:       dir,
		embedder:  e,
		batchSize: DefaultBatchSize,
		fetchK:    DefaultFetchK,
		lambda:    DefaultLambda,
	}
	for _, opt := range opts {
		opt(idx)
	}

	entries, gen, err := load(dir)
	if err == nil {
		idx.entries = entries
		idx.generation = gen
		slog.InfoContext(ctx, "vector index loaded", "dir", dir, "entries", len(entries), "generation", gen)
		return idx
	}
	if errors.Is(err, errNotFound) {
		slog.InfoContext(ctx, "no vector index found, initializing", "dir", dir)
	} else {
		slog.WarnContext(ctx, "vector index unreadable, reinitializing", "dir", dir, "error", err)
	}

	sentinel := document.SentinelChunk()
	vec, err := e.Embed(ctx, sentinel.Content)
	if err != nil {
		slog.WarnContext(ctx, "failed to embed sentinel, storing it without a vector", "error", err)
		vec = nil
	}
	idx.entries = []Entry{{Chunk: sentinel, Embedding: vec}}
	idx.generation = 1

	if err := save(dir, idx.entries, idx.generation); err != nil {
		slog.ErrorContext(ctx, "failed to persist fresh vector index", "dir", dir, "error", err)
	}
	return idx
}

func (i *Index) Len() int {
	return len(i.snapshot())
}

func (i *Index) Generation() uint64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.generation
}

func (i *Index) snapshot() []Entry {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.entries
}

// Add embeds chunks in batches and appends them. The new state is persisted
// once after every batch succeeded and only then becomes visible; on any
// error memory and disk stay at the previous state. Calls are serialized.
func (i *Index) Add(ctx context.Context, chunks []document.Chunk) error {
	if len(chunks) == 0 {
		return ErrNoChunks
	}

	i.writeMu.Lock()
	defer i.writeMu.Unlock()

	i.mu.RLock()
	base, gen := i.entries, i.generation
	i.mu.RUnlock()

	dim := dimension(base)
	next := make([]Entry, len(base), len(base)+len(chunks))
	copy(next, base)

	for start, n := 0, 1; start < len(chunks); start, n = start+i.batchSize, n+1 {
		batch := chunks[start:min(start+i.batchSize, len(chunks))]
		texts := make([]string, len(batch))
		for j, c := range batch {
			texts[j] = c.Content
		}

		vecs, err := i.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch %d: %w", n, err)
		}
		if len(vecs) != len(batch) {
			return fmt.Errorf("embed batch %d: got %d vectors for %d chunks", n, len(vecs), len(batch))
		}
		for j, v := range vecs {
			if dim == 0 {
				dim = len(v)
			}
			if len(v) == 0 || len(v) != dim {
				return fmt.Errorf("embed batch %d: %w (got %d, want %d)", n, ErrDimensionMismatch, len(v), dim)
			}
			next = append(next, Entry{Chunk: batch[j], Embedding: v})
		}
		slog.DebugContext(ctx, "index batch embedded", "batch", n, "size", len(batch))
	}

	if err := save(i.dir, next, gen+1); err != nil {
		return fmt.Errorf("persist index: %w", err)
	}

	i.mu.Lock()
	i.entries = next
	i.generation = gen + 1
	i.mu.Unlock()

	slog.InfoContext(ctx, "chunks added to index", "added", len(chunks), "entries", len(next), "generation", gen+1)
	return nil
}

// SimilaritySearch returns the k entries closest to query by cosine
// similarity. Ties keep insertion order.
func (i *Index) SimilaritySearch(ctx context.Context, query string, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	qv, err := i.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	cands := nearest(i.snapshot(), qv, k)
	hits := make([]Hit, len(cands))
	for j, c := range cands {
		hits[j] = c.Hit
	}
	return hits, nil
}

// DiversitySearch runs maximal marginal relevance over the fetchK nearest
// entries.
func (i *Index) DiversitySearch(ctx context.Context, query string, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	qv, err := i.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return SelectMMR(qv, nearest(i.snapshot(), qv, max(i.fetchK, k)), k, i.lambda), nil
}

func nearest(entries []Entry, qv []float32, k int) []Candidate {
	cands := make([]Candidate, 0, len(entries))
	for _, e := range entries {
		if len(e.Embedding) == 0 || len(e.Embedding) != len(qv) {
			continue
		}
		cands = append(cands, Candidate{
			Hit:    Hit{Chunk: e.Chunk, Score: vecmath.Cosine(qv, e.Embedding)},
			Vector: e.Embedding,
		})
	}
	sort.SliceStable(cands, func(a, b int) bool {
		return cands[a].Hit.Score > cands[b].Hit.Score
	})
	if len(cands) > k {
		cands = cands[:k]
	}
	return cands
}

func dimension(entries []Entry) int {
	for _, e := range entries {
		if len(e.Embedding) > 0 {
			return len(e.Embedding)
		}
	}
	return 0
}
