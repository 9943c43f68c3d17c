package retrieval_test

import (
	"context"
	"errors"
	"testing"

	"dgchat/internal/retrieval"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCompressor_Compress(t *testing.T) {
	cands := []retrieval.Result{
		{Chunk: chunk("s", 0), Score: 0.1},
		{Chunk: chunk("s", 1), Score: 0.1},
		{Chunk: chunk("s", 2), Score: 0.1},
		{Chunk: chunk("s", 3), Score: 0.1},
	}
	docs := []string{cands[0].Chunk.Content, cands[1].Chunk.Content, cands[2].Chunk.Content, cands[3].Chunk.Content}

	r := &MockReranker{}
	r.On("Rerank", mock.Anything, "segregation", docs).Return([]retrieval.Ranking{
		{Index: 1, Score: 0.4},
		{Index: 3, Score: 0.9},
		{Index: 9, Score: 1.0},
		{Index: 0, Score: 0.4},
		{Index: 2, Score: 0.05},
	}, nil)

	got, err := retrieval.NewCompressor(r).Compress(context.Background(), "segregation", cands, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, 3, got[0].Chunk.Metadata.SequenceIndex)
	assert.Equal(t, 0.9, got[0].Score)
	assert.Equal(t, 1, got[1].Chunk.Metadata.SequenceIndex, "ties keep reranker order")
	assert.Equal(t, 0, got[2].Chunk.Metadata.SequenceIndex)
}

func TestCompressor_Compress_Edges(t *testing.T) {
	r := &MockReranker{}
	c := retrieval.NewCompressor(r)

	got, err := c.Compress(context.Background(), "q", nil, 5)
	assert.NoError(t, err)
	assert.Empty(t, got)

	got, err = c.Compress(context.Background(), "q", []retrieval.Result{{Chunk: chunk("s", 0)}}, 0)
	assert.NoError(t, err)
	assert.Empty(t, got)

	r.AssertNotCalled(t, "Rerank", mock.Anything, mock.Anything, mock.Anything)
}

func TestCompressor_Compress_RerankerError(t *testing.T) {
	r := &MockReranker{}
	r.On("Rerank", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("401"))

	_, err := retrieval.NewCompressor(r).Compress(context.Background(), "q", []retrieval.Result{{Chunk: chunk("s", 0)}}, 5)
	assert.ErrorContains(t, err, "rerank")
}

func TestResult_Metadata(t *testing.T) {
	r := retrieval.Result{Chunk: chunk("dgl.md", 2), Score: 0.5, Enriched: true, ContextChunks: 3}
	r.Chunk.Metadata.Extra = map[string]string{"un_number": "1090"}

	m := r.Metadata()
	assert.Equal(t, "dgl.md", m["source_id"])
	assert.Equal(t, 2, m["sequence_index"])
	assert.Equal(t, "1090", m["un_number"])
	assert.Equal(t, true, m["enriched"])
	assert.Equal(t, 3, m["context_chunks"])
	assert.Equal(t, 0.5, m["relevance_score"])

	plain := retrieval.Result{Chunk: chunk("x", 0)}.Metadata()
	assert.NotContains(t, plain, "enriched")
}
