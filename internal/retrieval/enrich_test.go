package retrieval_test

import (
	"context"
	"errors"
	"testing"

	"dgchat/internal/document"
	"dgchat/internal/retrieval"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestEnricher_Enrich(t *testing.T) {
	src := "imdg.pdf"
	c0, c1, c2, c3 := chunk(src, 0), chunk(src, 1), chunk(src, 2), chunk(src, 3)
	foreign := chunk("other.pdf", 1)

	tests := []struct {
		name        string
		neighbors   []document.Chunk
		hit         document.Chunk
		contextSize int
		want        string
		wantCount   int
	}{
		{
			name:        "middle of document",
			neighbors:   []document.Chunk{c3, foreign, c1, c0, c2},
			hit:         c2,
			contextSize: 1,
			want:        "[CONTEXT BEFORE]:\n" + c1.Content + "\n\n[MAIN CONTENT]:\n" + c2.Content + "\n\n[CONTEXT AFTER]:\n" + c3.Content,
			wantCount:   3,
		},
		{
			name:        "first chunk has no before",
			neighbors:   []document.Chunk{c1, c0, c2},
			hit:         c0,
			contextSize: 1,
			want:        "[MAIN CONTENT]:\n" + c0.Content + "\n\n[CONTEXT AFTER]:\n" + c1.Content,
			wantCount:   2,
		},
		{
			name:        "wider window",
			neighbors:   []document.Chunk{c0, c1, c2, c3},
			hit:         c1,
			contextSize: 2,
			want: "[CONTEXT BEFORE]:\n" + c0.Content + "\n\n[MAIN CONTENT]:\n" + c1.Content +
				"\n\n[CONTEXT AFTER]:\n" + c2.Content + "\n\n[CONTEXT AFTER]:\n" + c3.Content,
			wantCount: 4,
		},
		{
			name:        "gap in sequence",
			neighbors:   []document.Chunk{c0, c3},
			hit:         c3,
			contextSize: 1,
			want:        "[CONTEXT BEFORE]:\n" + c0.Content + "\n\n[MAIN CONTENT]:\n" + c3.Content,
			wantCount:   2,
		},
		{
			name:        "zero context keeps only main",
			neighbors:   []document.Chunk{c0, c1, c2},
			hit:         c1,
			contextSize: 0,
			want:        "[MAIN CONTENT]:\n" + c1.Content,
			wantCount:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &MockSearcher{}
			s.On("SimilaritySearch", mock.Anything, "source:"+src, 50).Return(hits(tt.neighbors...), nil)

			e := retrieval.NewEnricher(s, tt.contextSize, 0)
			in := retrieval.Result{Chunk: tt.hit, Score: 0.7}
			got := e.Enrich(context.Background(), in)

			assert.True(t, got.Enriched)
			assert.Equal(t, tt.wantCount, got.ContextChunks)
			assert.Equal(t, tt.want, got.Chunk.Content)
			assert.Equal(t, tt.hit.Metadata, got.Chunk.Metadata)
			assert.Equal(t, 0.7, got.Score)
		})
	}
}

func TestEnricher_Misses(t *testing.T) {
	hit := chunk("imdg.pdf", 40)

	tests := []struct {
		name  string
		setup func(s *MockSearcher)
		hit   document.Chunk
	}{
		{
			name: "outside oversample",
			setup: func(s *MockSearcher) {
				s.On("SimilaritySearch", mock.Anything, mock.Anything, 10).Return(hits(chunk("imdg.pdf", 1), chunk("imdg.pdf", 2)), nil)
			},
			hit: hit,
		},
		{
			name: "search error",
			setup: func(s *MockSearcher) {
				s.On("SimilaritySearch", mock.Anything, mock.Anything, 10).Return(nil, errors.New("timeout"))
			},
			hit: hit,
		},
		{
			name:  "no source id",
			setup: func(s *MockSearcher) {},
			hit:   document.Chunk{Content: "orphan"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &MockSearcher{}
			tt.setup(s)
			in := retrieval.Result{Chunk: tt.hit, Score: 0.3}

			got := retrieval.NewEnricher(s, 1, 10).Enrich(context.Background(), in)
			assert.Equal(t, in, got)
		})
	}
}

func TestEnricher_EnrichAllPreservesOrder(t *testing.T) {
	s := &MockSearcher{}
	s.On("SimilaritySearch", mock.Anything, "source:a", 50).Return(hits(chunk("a", 0), chunk("a", 1)), nil)
	s.On("SimilaritySearch", mock.Anything, "source:b", 50).Return(nil, errors.New("down"))

	in := []retrieval.Result{
		{Chunk: chunk("b", 3)},
		{Chunk: chunk("a", 1)},
		{Chunk: chunk("b", 4)},
		{Chunk: chunk("a", 0)},
	}
	out := retrieval.NewEnricher(s, 1, 50).EnrichAll(context.Background(), in)

	assert.Len(t, out, 4)
	assert.Equal(t, []bool{false, true, false, true}, []bool{out[0].Enriched, out[1].Enriched, out[2].Enriched, out[3].Enriched})
	assert.Equal(t, in[0], out[0])
	assert.Equal(t, in[1].Chunk.Metadata, out[1].Chunk.Metadata)
}
