// Package chat answers questions about the indexed regulations, one turn at a
// time per conversation thread.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"dgchat/internal/conversation"
	"dgchat/internal/metrics"
	"dgchat/internal/middleware"
	"dgchat/internal/retrieval"
	"dgchat/internal/text"
)

const (
	DefaultK    = 6
	DefaultTopN = retrieval.DefaultTopN
)

var (
	ErrTurnFailed    = errors.New("turn failed")
	ErrEmptyQuestion = errors.New("question is empty")
)

type Generator interface {
	Generate(ctx context.Context, system string, history []conversation.Message, prompt string) (string, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]retrieval.Result, error)
}

type Enricher interface {
	EnrichAll(ctx context.Context, results []retrieval.Result) []retrieval.Result
}

type Compressor interface {
	Compress(ctx context.Context, query string, candidates []retrieval.Result, topN int) ([]retrieval.Result, error)
}

type TurnPublisher interface {
	PublishTurn(ctx context.Context, rec TurnRecord) error
}

type Metrics interface {
	ObserveTurn(status string, d time.Duration)
	CondenseFallback()
	ObserveEnrichment(hits, misses int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveTurn(string, time.Duration) {}
func (nopMetrics) CondenseFallback()                 {}
func (nopMetrics) ObserveEnrichment(int, int)        {}

type Passage struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

type Answer struct {
	Answer   string    `json:"answer"`
	Passages []Passage `json:"passages"`
}

// TurnRecord is handed to the audit collaborator after a successful turn.
type TurnRecord struct {
	ThreadID       string    `json:"thread_id"`
	Question       string    `json:"question"`
	CondensedQuery string    `json:"condensed_query"`
	Answer         string    `json:"answer"`
	Passages       []Passage `json:"passages"`
	CorrelationID  string    `json:"correlation_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// TurnState carries one turn through the pipeline steps.
type TurnState struct {
	ThreadID   string
	Input      string
	History    []conversation.Message
	Query      string
	Candidates int
	Context    []retrieval.Result
	Answer     string
}

type step struct {
	name string
	run  func(ctx context.Context, s *TurnState) error
}

type Deps struct {
	Store      conversation.Store
	Generator  Generator
	Retriever  Retriever
	Enricher   Enricher
	Compressor Compressor

	// Optional.
	Publisher TurnPublisher
	QueryLog  *retrieval.QueryLogger
	Metrics   Metrics
}

type Config struct {
	K    int
	TopN int
}

type Engine struct {
	deps      Deps
	cfg       Config
	condenser *Condenser
	locks     *threadLocks
	steps     []step
}

func NewEngine(d Deps, cfg Config) (*Engine, error) {
	if d.Store == nil || d.Generator == nil || d.Retriever == nil || d.Enricher == nil || d.Compressor == nil {
		return nil, errors.New("chat engine requires store, generator, retriever, enricher and compressor")
	}
	if d.Metrics == nil {
		d.Metrics = nopMetrics{}
	}
	if cfg.K <= 0 {
		cfg.K = DefaultK
	}
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultTopN
	}

	e := &Engine{
		deps:      d,
		cfg:       cfg,
		condenser: NewCondenser(d.Generator, d.Metrics),
		locks:     newThreadLocks(),
	}
	e.steps = []step{
		{"load_history", e.loadHistory},
		{"condense", e.condense},
		{"retrieve", e.retrieve},
		{"generate", e.generate},
	}
	return e, nil
}

// Ask answers question within thread threadID. Turns on the same thread run
// one after another; the question and answer are appended together once the
// answer exists. A failed turn appends nothing.
func (e *Engine) Ask(ctx context.Context, question, threadID string) (*Answer, error) {
	if threadID == "" {
		return nil, conversation.ErrEmptyThreadID
	}
	input := text.Normalize(question)
	if strings.TrimSpace(input) == "" {
		return nil, ErrEmptyQuestion
	}

	ctx = middleware.EnsureCorrelationID(middleware.WithThreadID(ctx, threadID))
	start := time.Now()

	unlock := e.locks.lock(threadID)
	defer unlock()

	state := &TurnState{ThreadID: threadID, Input: input}
	if err := e.run(ctx, state); err != nil {
		e.finish(ctx, state, start, err)
		return nil, err
	}

	err := e.deps.Store.Append(ctx, threadID,
		conversation.Message{Role: conversation.RoleUser, Content: state.Input},
		conversation.Message{Role: conversation.RoleAssistant, Content: state.Answer},
	)
	if err != nil {
		err = fmt.Errorf("%w: append history: %w", ErrTurnFailed, err)
		e.finish(ctx, state, start, err)
		return nil, err
	}

	ans := &Answer{Answer: state.Answer, Passages: passages(state.Context)}
	e.finish(ctx, state, start, nil)
	e.publish(ctx, state, ans)
	return ans, nil
}

func (e *Engine) run(ctx context.Context, s *TurnState) error {
	for _, st := range e.steps {
		if err := st.run(ctx, s); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrTurnFailed, st.name, err)
		}
	}
	return nil
}

func (e *Engine) loadHistory(ctx context.Context, s *TurnState) error {
	th, err := e.deps.Store.GetOrCreate(ctx, s.ThreadID)
	if err != nil {
		return err
	}
	s.History = th.Messages
	return nil
}

func (e *Engine) condense(ctx context.Context, s *TurnState) error {
	s.Query = e.condenser.Condense(ctx, s.Input, s.History)
	return nil
}

func (e *Engine) retrieve(ctx context.Context, s *TurnState) error {
	hits, err := e.deps.Retriever.Retrieve(ctx, s.Query, e.cfg.K)
	if err != nil {
		return err
	}
	s.Candidates = len(hits)

	enriched := e.deps.Enricher.EnrichAll(ctx, hits)
	n := 0
	for _, r := range enriched {
		if r.Enriched {
			n++
		}
	}
	e.deps.Metrics.ObserveEnrichment(n, len(enriched)-n)

	s.Context, err = e.deps.Compressor.Compress(ctx, s.Query, enriched, e.cfg.TopN)
	return err
}

func (e *Engine) generate(ctx context.Context, s *TurnState) error {
	parts := make([]string, len(s.Context))
	for i, r := range s.Context {
		parts[i] = r.Chunk.Content
	}
	answer, err := e.deps.Generator.Generate(ctx, answerPrompt(strings.Join(parts, "\n\n")), s.History, s.Input)
	if err != nil {
		return err
	}
	s.Answer = answer
	return nil
}

func (e *Engine) finish(ctx context.Context, s *TurnState, start time.Time, err error) {
	d := time.Since(start)
	status := metrics.StatusOK
	entry := retrieval.QueryLogEntry{
		Question:       s.Input,
		CondensedQuery: s.Query,
		Candidates:     s.Candidates,
		NumResults:     len(s.Context),
		Duration:       d,
	}
	for _, r := range s.Context {
		if r.Enriched {
			entry.Enriched++
		}
	}

	if err != nil {
		status = metrics.StatusFailed
		entry.Error = err.Error()
		slog.ErrorContext(ctx, "turn failed", "error", err, "duration_ms", d.Milliseconds())
	} else {
		slog.InfoContext(ctx, "turn answered", "passages", len(s.Context), "duration_ms", d.Milliseconds())
	}
	entry.Status = status

	e.deps.Metrics.ObserveTurn(status, d)
	if e.deps.QueryLog != nil {
		e.deps.QueryLog.Log(ctx, entry)
	}
}

func (e *Engine) publish(ctx context.Context, s *TurnState, ans *Answer) {
	if e.deps.Publisher == nil {
		return
	}
	rec := TurnRecord{
		ThreadID:       s.ThreadID,
		Question:       s.Input,
		CondensedQuery: s.Query,
		Answer:         ans.Answer,
		Passages:       ans.Passages,
		CorrelationID:  middleware.GetCorrelationID(ctx),
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.deps.Publisher.PublishTurn(ctx, rec); err != nil {
		slog.WarnContext(ctx, "failed to publish turn record", "error", err)
	}
}

func passages(results []retrieval.Result) []Passage {
	out := make([]Passage, len(results))
	for i, r := range results {
		out[i] = Passage{Content: r.Chunk.Content, Metadata: r.Metadata()}
	}
	return out
}
