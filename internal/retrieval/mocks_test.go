package retrieval_test

import (
	"context"
	"strconv"

	"dgchat/internal/document"
	"dgchat/internal/index"
	"dgchat/internal/retrieval"

	"github.com/stretchr/testify/mock"
)

type MockSearcher struct {
	mock.Mock
}

func (m *MockSearcher) SimilaritySearch(ctx context.Context, query string, k int) ([]index.Hit, error) {
	args := m.Called(ctx, query, k)
	hits, _ := args.Get(0).([]index.Hit)
	return hits, args.Error(1)
}

func (m *MockSearcher) DiversitySearch(ctx context.Context, query string, k int) ([]index.Hit, error) {
	args := m.Called(ctx, query, k)
	hits, _ := args.Get(0).([]index.Hit)
	return hits, args.Error(1)
}

type MockReranker struct {
	mock.Mock
}

func (m *MockReranker) Rerank(ctx context.Context, query string, docs []string) ([]retrieval.Ranking, error) {
	args := m.Called(ctx, query, docs)
	r, _ := args.Get(0).([]retrieval.Ranking)
	return r, args.Error(1)
}

func chunk(source string, seq int) document.Chunk {
	return document.Chunk{
		Content:  source + " chunk " + strconv.Itoa(seq),
		Metadata: document.ChunkMetadata{SourceID: source, SequenceIndex: seq, Filename: source},
	}
}

func hits(chunks ...document.Chunk) []index.Hit {
	out := make([]index.Hit, len(chunks))
	for i, c := range chunks {
		out[i] = index.Hit{Chunk: c, Score: 1 - float64(i)*0.1}
	}
	return out
}
