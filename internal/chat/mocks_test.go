package chat_test

import (
	"context"
	"sync"
	"time"

	"dgchat/internal/chat"
	"dgchat/internal/conversation"
	"dgchat/internal/document"
	"dgchat/internal/retrieval"

	"github.com/stretchr/testify/mock"
)

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, system string, history []conversation.Message, prompt string) (string, error) {
	args := m.Called(ctx, system, history, prompt)
	return args.String(0), args.Error(1)
}

type MockRetriever struct {
	mock.Mock
}

func (m *MockRetriever) Retrieve(ctx context.Context, query string, k int) ([]retrieval.Result, error) {
	args := m.Called(ctx, query, k)
	r, _ := args.Get(0).([]retrieval.Result)
	return r, args.Error(1)
}

// passEnricher marks every result whose content starts with "enriched" as
// enriched and leaves the rest alone.
type passEnricher struct{}

func (passEnricher) EnrichAll(ctx context.Context, results []retrieval.Result) []retrieval.Result {
	out := make([]retrieval.Result, len(results))
	for i, r := range results {
		if len(r.Chunk.Content) >= 8 && r.Chunk.Content[:8] == "enriched" {
			r.Enriched = true
			r.ContextChunks = 3
		}
		out[i] = r
	}
	return out
}

type MockCompressor struct {
	mock.Mock
}

func (m *MockCompressor) Compress(ctx context.Context, query string, candidates []retrieval.Result, topN int) ([]retrieval.Result, error) {
	args := m.Called(ctx, query, candidates, topN)
	r, _ := args.Get(0).([]retrieval.Result)
	return r, args.Error(1)
}

type recordingPublisher struct {
	mu      sync.Mutex
	records []chat.TurnRecord
	err     error
}

func (p *recordingPublisher) PublishTurn(ctx context.Context, rec chat.TurnRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, rec)
	return p.err
}

type recordingMetrics struct {
	mu        sync.Mutex
	turns     []string
	fallbacks int
	hits      int
	misses    int
}

func (m *recordingMetrics) ObserveTurn(status string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, status)
}

func (m *recordingMetrics) CondenseFallback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks++
}

func (m *recordingMetrics) ObserveEnrichment(hits, misses int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits += hits
	m.misses += misses
}

// failingStore wraps a store and fails the chosen operation.
type failingStore struct {
	conversation.Store
	getErr    error
	appendErr error
}

func (s *failingStore) GetOrCreate(ctx context.Context, threadID string) (*conversation.Thread, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.Store.GetOrCreate(ctx, threadID)
}

func (s *failingStore) Append(ctx context.Context, threadID string, msgs ...conversation.Message) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	return s.Store.Append(ctx, threadID, msgs...)
}

func result(content string, score float64) retrieval.Result {
	return retrieval.Result{
		Chunk: document.Chunk{
			Content:  content,
			Metadata: document.ChunkMetadata{SourceID: "imdg.pdf", Filename: "imdg.pdf", Page: 3},
		},
		Score: score,
	}
}
