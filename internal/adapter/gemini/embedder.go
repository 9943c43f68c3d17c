package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
)

const (
	DefaultEmbeddingModel = "gemini-embedding-001"

	// maxBatchRequests is the per-call limit of batchEmbedContents.
	maxBatchRequests = 100
)

var ErrEmptyEmbedding = errors.New("empty embedding received")

type EmbedderConfig struct {
	APIKey string
	Model  string
	// RatePerSecond caps embedding requests; zero means unlimited.
	RatePerSecond float64
}

type Embedder struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
}

func NewEmbedder(ctx context.Context, cfg EmbedderConfig, opts ...option.ClientOption) (*Embedder, error) {
	client, err := genai.NewClient(ctx, append(opts, option.WithAPIKey(cfg.APIKey))...)
	if err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = DefaultEmbeddingModel
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return &Embedder{client: client, model: model, limiter: limiter}, nil
}

func (e *Embedder) Close() error {
	return e.client.Close()
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "embedding content", "model", e.model, "length", len(text))
	em := e.client.EmbeddingModel(e.model)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		slog.ErrorContext(ctx, "embedding failed", "error", err)
		return nil, err
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return res.Embedding.Values, nil
}

// EmbedBatch embeds texts in order, splitting into as many requests as the
// API limit requires.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	em := e.client.EmbeddingModel(e.model)
	out := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += maxBatchRequests {
		part := texts[start:min(start+maxBatchRequests, len(texts))]
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		b := em.NewBatch()
		for _, t := range part {
			b.AddContent(genai.Text(t))
		}
		slog.DebugContext(ctx, "embedding batch", "model", e.model, "size", len(part))
		res, err := em.BatchEmbedContents(ctx, b)
		if err != nil {
			slog.ErrorContext(ctx, "batch embedding failed", "error", err)
			return nil, err
		}
		if len(res.Embeddings) != len(part) {
			return nil, fmt.Errorf("got %d embeddings for %d texts", len(res.Embeddings), len(part))
		}
		for _, emb := range res.Embeddings {
			if emb == nil || len(emb.Values) == 0 {
				return nil, ErrEmptyEmbedding
			}
			out = append(out, emb.Values)
		}
	}
	return out, nil
}
