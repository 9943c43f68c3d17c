package index_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"dgchat/internal/document"
	"dgchat/internal/index"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder returns fixed vectors for known texts and a letter profile
// for everything else.
type fakeEmbedder struct {
	mu        sync.Mutex
	vectors   map[string][]float32
	batches   []int
	failBatch int
	failEmbed error
	block     chan struct{}
	entered   chan struct{}
}

func (f *fakeEmbedder) vector(text string) []float32 {
	if v, ok := f.vectors[text]; ok {
		return v
	}
	return []float32{
		float32(strings.Count(text, "a") + 1),
		float32(strings.Count(text, "e") + 1),
		float32(len(text)%7 + 1),
	}
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.failEmbed != nil {
		return nil, f.failEmbed
	}
	return f.vector(text), nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.batches = append(f.batches, len(texts))
	n := len(f.batches)
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if f.failBatch == n {
		return nil, errors.New("rate limited")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vector(t)
	}
	return out, nil
}

func chunks(source string, n int) []document.Chunk {
	out := make([]document.Chunk, n)
	for i := range out {
		out[i] = document.Chunk{
			Content:  fmt.Sprintf("%s passage %d about stowage", source, i),
			Metadata: document.ChunkMetadata{SourceID: source, SequenceIndex: i, Filename: source},
		}
	}
	return out
}

func readFiles(t *testing.T, dir string) (vec, meta []byte) {
	t.Helper()
	vec, err := os.ReadFile(filepath.Join(dir, index.VectorFile))
	require.NoError(t, err)
	meta, err = os.ReadFile(filepath.Join(dir, index.MetaFile))
	require.NoError(t, err)
	return vec, meta
}

func TestLoadOrInit_ColdStart(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	idx := index.LoadOrInit(context.Background(), dir, &fakeEmbedder{})

	assert.Equal(t, 1, idx.Len())
	vec, meta := readFiles(t, dir)
	assert.NotEmpty(t, vec)
	assert.NotEmpty(t, meta)

	hits, err := idx.SimilaritySearch(context.Background(), "un 1263", 1)
	require.NoError(t, err)
	require.LessOrEqual(t, len(hits), 1)
	for _, h := range hits {
		assert.True(t, document.IsSentinel(h.Chunk))
	}
}

func TestLoadOrInit_SentinelEmbeddingFails(t *testing.T) {
	dir := t.TempDir()
	idx := index.LoadOrInit(context.Background(), dir, &fakeEmbedder{failEmbed: errors.New("offline")})
	assert.Equal(t, 1, idx.Len())

	reloaded := index.LoadOrInit(context.Background(), dir, &fakeEmbedder{})
	assert.Equal(t, 1, reloaded.Len())
	assert.Equal(t, idx.Generation(), reloaded.Generation())
}

func TestLoadOrInit_Reload(t *testing.T) {
	dir := t.TempDir()
	e := &fakeEmbedder{}
	idx := index.LoadOrInit(context.Background(), dir, e)
	require.NoError(t, idx.Add(context.Background(), chunks("imdg.pdf", 7)))

	reloaded := index.LoadOrInit(context.Background(), dir, e)
	assert.Equal(t, 8, reloaded.Len())
	assert.Equal(t, idx.Generation(), reloaded.Generation())

	want, err := idx.SimilaritySearch(context.Background(), "imdg.pdf passage 3 about stowage", 3)
	require.NoError(t, err)
	got, err := reloaded.SimilaritySearch(context.Background(), "imdg.pdf passage 3 about stowage", 3)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadOrInit_Reinitializes(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(t *testing.T, dir string)
	}{
		{
			name: "metadata garbage",
			corrupt: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, index.MetaFile), []byte("{nope"), 0o600))
			},
		},
		{
			name: "empty vector file",
			corrupt: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, index.VectorFile), nil, 0o600))
			},
		},
		{
			name: "missing metadata",
			corrupt: func(t *testing.T, dir string) {
				require.NoError(t, os.Remove(filepath.Join(dir, index.MetaFile)))
			},
		},
		{
			name: "truncated vectors",
			corrupt: func(t *testing.T, dir string) {
				path := filepath.Join(dir, index.VectorFile)
				raw, err := os.ReadFile(path)
				require.NoError(t, err)
				require.NoError(t, os.WriteFile(path, raw[:len(raw)-3], 0o600))
			},
		},
		{
			name: "generation mismatch",
			corrupt: func(t *testing.T, dir string) {
				old, _ := readFiles(t, dir)
				idx := index.LoadOrInit(context.Background(), dir, &fakeEmbedder{})
				require.NoError(t, idx.Add(context.Background(), chunks("more.pdf", 1)))
				require.NoError(t, os.WriteFile(filepath.Join(dir, index.VectorFile), old, 0o600))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			idx := index.LoadOrInit(context.Background(), dir, &fakeEmbedder{})
			require.NoError(t, idx.Add(context.Background(), chunks("imdg.pdf", 3)))

			tt.corrupt(t, dir)
			require.NoError(t, os.Remove(filepath.Join(dir, index.VectorFile+index.BackupSuffix)))

			fresh := index.LoadOrInit(context.Background(), dir, &fakeEmbedder{})
			assert.Equal(t, 1, fresh.Len())

			again := index.LoadOrInit(context.Background(), dir, &fakeEmbedder{})
			assert.Equal(t, 1, again.Len(), "fresh index must be persisted")
		})
	}
}

func TestLoadOrInit_RestoresPreviousGeneration(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(t *testing.T, dir string)
	}{
		{
			name: "vectors from an unfinished save",
			corrupt: func(t *testing.T, dir string) {
				newer := t.TempDir()
				idx := index.LoadOrInit(context.Background(), newer, &fakeEmbedder{})
				require.NoError(t, idx.Add(context.Background(), chunks("a.pdf", 1)))
				require.NoError(t, idx.Add(context.Background(), chunks("b.pdf", 1)))
				require.NoError(t, idx.Add(context.Background(), chunks("c.pdf", 1)))
				vec, _ := readFiles(t, newer)
				require.NoError(t, os.WriteFile(filepath.Join(dir, index.VectorFile), vec, 0o600))
			},
		},
		{
			name: "metadata garbage",
			corrupt: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, index.MetaFile), []byte("{nope"), 0o600))
			},
		},
		{
			name: "missing metadata",
			corrupt: func(t *testing.T, dir string) {
				require.NoError(t, os.Remove(filepath.Join(dir, index.MetaFile)))
			},
		},
		{
			name: "both current files missing",
			corrupt: func(t *testing.T, dir string) {
				require.NoError(t, os.Remove(filepath.Join(dir, index.VectorFile)))
				require.NoError(t, os.Remove(filepath.Join(dir, index.MetaFile)))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			idx := index.LoadOrInit(context.Background(), dir, &fakeEmbedder{})
			require.NoError(t, idx.Add(context.Background(), chunks("imdg.pdf", 3)))
			require.NoError(t, idx.Add(context.Background(), chunks("dgl.md", 2)))
			require.Equal(t, uint64(3), idx.Generation())

			tt.corrupt(t, dir)

			restored := index.LoadOrInit(context.Background(), dir, &fakeEmbedder{})
			assert.Equal(t, 4, restored.Len(), "previous generation: sentinel + 3")
			assert.Equal(t, uint64(2), restored.Generation())

			again := index.LoadOrInit(context.Background(), dir, &fakeEmbedder{})
			assert.Equal(t, 4, again.Len(), "restored files are written back")

			require.NoError(t, again.Add(context.Background(), chunks("extra.pdf", 1)))
			assert.Equal(t, 5, index.LoadOrInit(context.Background(), dir, &fakeEmbedder{}).Len())
		})
	}
}

func TestAdd_Empty(t *testing.T) {
	idx := index.LoadOrInit(context.Background(), t.TempDir(), &fakeEmbedder{})
	assert.ErrorIs(t, idx.Add(context.Background(), nil), index.ErrNoChunks)
}

func TestAdd_Batches(t *testing.T) {
	e := &fakeEmbedder{}
	idx := index.LoadOrInit(context.Background(), t.TempDir(), e)

	require.NoError(t, idx.Add(context.Background(), chunks("imdg.pdf", 11)))
	assert.Equal(t, []int{5, 5, 1}, e.batches)
	assert.Equal(t, 12, idx.Len())
	assert.Equal(t, uint64(2), idx.Generation())
}

func TestAdd_CustomBatchSize(t *testing.T) {
	e := &fakeEmbedder{}
	idx := index.LoadOrInit(context.Background(), t.TempDir(), e, index.WithBatchSize(4))

	require.NoError(t, idx.Add(context.Background(), chunks("imdg.pdf", 9)))
	assert.Equal(t, []int{4, 4, 1}, e.batches)
}

func TestAdd_FailedBatchLeavesStateUntouched(t *testing.T) {
	dir := t.TempDir()
	e := &fakeEmbedder{}
	idx := index.LoadOrInit(context.Background(), dir, e)
	require.NoError(t, idx.Add(context.Background(), chunks("first.pdf", 2)))

	beforeVec, beforeMeta := readFiles(t, dir)
	beforeLen, beforeGen := idx.Len(), idx.Generation()

	e.batches = nil
	e.failBatch = 2
	err := idx.Add(context.Background(), chunks("second.pdf", 15))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embed batch 2")

	assert.Equal(t, beforeLen, idx.Len())
	assert.Equal(t, beforeGen, idx.Generation())
	afterVec, afterMeta := readFiles(t, dir)
	assert.Equal(t, beforeVec, afterVec)
	assert.Equal(t, beforeMeta, afterMeta)

	reloaded := index.LoadOrInit(context.Background(), dir, &fakeEmbedder{})
	assert.Equal(t, beforeLen, reloaded.Len())
}

func TestAdd_DimensionMismatch(t *testing.T) {
	e := &fakeEmbedder{vectors: map[string][]float32{"odd one": {1, 2}}}
	idx := index.LoadOrInit(context.Background(), t.TempDir(), e)

	err := idx.Add(context.Background(), []document.Chunk{{Content: "odd one"}})
	assert.ErrorIs(t, err, index.ErrDimensionMismatch)
	assert.Equal(t, 1, idx.Len())
}

func TestAdd_PersistFailure(t *testing.T) {
	parent := t.TempDir()
	blocker := filepath.Join(parent, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	idx := index.LoadOrInit(context.Background(), filepath.Join(blocker, "index"), &fakeEmbedder{})
	assert.Equal(t, 1, idx.Len())

	err := idx.Add(context.Background(), chunks("imdg.pdf", 2))
	assert.Error(t, err)
	assert.Equal(t, 1, idx.Len())
}

func TestAdd_ConcurrentWritersAreSerialized(t *testing.T) {
	dir := t.TempDir()
	idx := index.LoadOrInit(context.Background(), dir, &fakeEmbedder{})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			assert.NoError(t, idx.Add(context.Background(), chunks(fmt.Sprintf("src-%d.pdf", w), 3)))
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 25, idx.Len())
	assert.Equal(t, uint64(9), idx.Generation())
	assert.Equal(t, 25, index.LoadOrInit(context.Background(), dir, &fakeEmbedder{}).Len())
}

func TestSearch_ReadersSeePreWriteStateDuringAdd(t *testing.T) {
	e := &fakeEmbedder{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	idx := index.LoadOrInit(context.Background(), t.TempDir(), e)

	done := make(chan error, 1)
	go func() { done <- idx.Add(context.Background(), chunks("imdg.pdf", 3)) }()

	select {
	case <-e.entered:
	case <-time.After(time.Second):
		t.Fatal("add never reached the embedder")
	}

	hits, err := idx.SimilaritySearch(context.Background(), "imdg.pdf passage 1 about stowage", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
	assert.Equal(t, 1, idx.Len())

	close(e.block)
	require.NoError(t, <-done)

	hits, err = idx.SimilaritySearch(context.Background(), "imdg.pdf passage 1 about stowage", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 4)
}

func TestSimilaritySearch_Ordering(t *testing.T) {
	e := &fakeEmbedder{vectors: map[string][]float32{
		" ":      {0, 0, 1},
		"query":  {1, 0, 0},
		"best":   {1, 0, 0},
		"twin":   {1, 0, 0},
		"middle": {1, 1, 0},
		"far":    {0, 1, 0},
	}}
	idx := index.LoadOrInit(context.Background(), t.TempDir(), e)
	require.NoError(t, idx.Add(context.Background(), []document.Chunk{
		{Content: "far"}, {Content: "best"}, {Content: "middle"}, {Content: "twin"},
	}))

	hits, err := idx.SimilaritySearch(context.Background(), "query", 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "best", hits[0].Chunk.Content)
	assert.Equal(t, "twin", hits[1].Chunk.Content)
	assert.Equal(t, "middle", hits[2].Chunk.Content)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)

	none, err := idx.SimilaritySearch(context.Background(), "query", 0)
	assert.NoError(t, err)
	assert.Empty(t, none)
}

func TestDiversitySearch(t *testing.T) {
	e := &fakeEmbedder{vectors: map[string][]float32{
		" ":         {0, 0, 1},
		"query":     {1, 0, 0},
		"paint":     {1, 0.2, 0},
		"paint dup": {1, 0.21, 0},
		"adhesive":  {1, -0.6, 0},
	}}
	idx := index.LoadOrInit(context.Background(), t.TempDir(), e, index.WithMMR(20, 0.5))
	require.NoError(t, idx.Add(context.Background(), []document.Chunk{
		{Content: "paint"}, {Content: "paint dup"}, {Content: "adhesive"},
	}))

	hits, err := idx.DiversitySearch(context.Background(), "query", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "paint", hits[0].Chunk.Content)
	assert.Equal(t, "adhesive", hits[1].Chunk.Content)

	sim, err := idx.SimilaritySearch(context.Background(), "query", 2)
	require.NoError(t, err)
	assert.Equal(t, "paint dup", sim[1].Chunk.Content)
}

func TestSearch_EmbedError(t *testing.T) {
	e := &fakeEmbedder{}
	idx := index.LoadOrInit(context.Background(), t.TempDir(), e)
	e.failEmbed = errors.New("unavailable")

	_, err := idx.SimilaritySearch(context.Background(), "q", 3)
	assert.Error(t, err)
	_, err = idx.DiversitySearch(context.Background(), "q", 3)
	assert.Error(t, err)
}
