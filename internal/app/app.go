// Package app wires the configured backends into the chat engine, the
// ingestion service and the queue workers.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"dgchat/internal/adapter/gemini"
	"dgchat/internal/adapter/rediscache"
	"dgchat/internal/adapter/reranker"
	wstore "dgchat/internal/adapter/weaviate"
	"dgchat/internal/chat"
	"dgchat/internal/config"
	"dgchat/internal/conversation"
	"dgchat/internal/document"
	"dgchat/internal/index"
	"dgchat/internal/ingest"
	"dgchat/internal/loader"
	"dgchat/internal/metrics"
	"dgchat/internal/middleware"
	"dgchat/internal/retrieval"
	"dgchat/internal/text"
	"dgchat/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/api/option"
)

// VectorIndex is what both index backends provide.
type VectorIndex interface {
	retrieval.Searcher
	Add(ctx context.Context, chunks []document.Chunk) error
}

type embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type App struct {
	Engine         *chat.Engine
	Ingest         *ingest.Service
	IngestConsumer *worker.IngestConsumer
	Metrics        *metrics.Collector
	Index          VectorIndex
	Handler        http.Handler

	closers []io.Closer
}

// New builds the application from cfg and the bootstrapped dependencies.
// opts are passed to every Gemini client.
func New(ctx context.Context, cfg *config.Config, deps *Dependencies, opts ...option.ClientOption) (*App, error) {
	a := &App{Metrics: metrics.NewCollector()}

	geminiEmbedder, err := gemini.NewEmbedder(ctx, gemini.EmbedderConfig{
		APIKey:        cfg.GeminiAPIKey,
		Model:         cfg.EmbeddingModel,
		RatePerSecond: cfg.EmbedRatePerSecond,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("gemini embedder: %w", err)
	}
	a.closers = append(a.closers, geminiEmbedder)

	var emb embedder = geminiEmbedder
	if deps.Redis != nil {
		emb = rediscache.NewCachedEmbedder(geminiEmbedder, deps.Redis, cfg.EmbeddingModel, cfg.EmbedCacheTTL)
	}

	a.Index, err = newIndex(ctx, cfg, deps, emb)
	if err != nil {
		a.Close()
		return nil, err
	}

	generator, err := gemini.NewGenerator(ctx, gemini.GeneratorConfig{
		APIKey:      cfg.GeminiAPIKey,
		Model:       cfg.GenerationModel,
		MaxTokens:   cfg.GenerationMaxTokens,
		Temperature: cfg.GenerationTemperature,
		MaxRetries:  cfg.GenerationMaxRetries,
	}, opts...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("gemini generator: %w", err)
	}
	a.closers = append(a.closers, generator)

	retriever, err := retrieval.NewHybridRetriever(a.Index, cfg.FusionWeights...)
	if err != nil {
		a.Close()
		return nil, err
	}
	rr := reranker.NewClient(cfg.RerankProvider, cfg.RerankModel, cfg.RerankAPIKey)

	var store conversation.Store = conversation.NewMemoryStore()
	if cfg.ConversationBackend == config.ConversationBackendPostgres {
		if deps.DB == nil {
			a.Close()
			return nil, errors.New("postgres conversation backend needs a database")
		}
		store = conversation.NewPostgresStore(deps.DB)
	}

	queryLogger, closer, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	} else {
		a.closers = append(a.closers, closer)
	}

	var publisher chat.TurnPublisher
	if deps.NSQProducer != nil && cfg.PublishTurns {
		publisher = worker.NewTurnPublisher(deps.NSQProducer)
	}

	a.Engine, err = chat.NewEngine(chat.Deps{
		Store:      store,
		Generator:  generator,
		Retriever:  retriever,
		Enricher:   retrieval.NewEnricher(a.Index, cfg.ContextSize, cfg.EnrichOversample),
		Compressor: retrieval.NewCompressor(rr),
		Publisher:  publisher,
		QueryLog:   queryLogger,
		Metrics:    a.Metrics,
	}, chat.Config{K: cfg.RetrievalK, TopN: cfg.RerankTopN})
	if err != nil {
		a.Close()
		return nil, err
	}

	chunker := text.NewSemanticChunker(emb, text.NewTiktokenCounter(""), text.ChunkerConfig{
		ChunkSize:    cfg.ChunkSize,
		Threshold:    cfg.ChunkThreshold,
		MinSentences: cfg.ChunkMinSentences,
		SkipWindow:   cfg.ChunkSkipWindow,
	})
	a.Ingest = ingest.NewService(loader.NewDefaultRegistry(), chunker, a.Index, a.Metrics, cfg.IngestConcurrency)
	a.IngestConsumer = worker.NewIngestConsumer(a.Ingest)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.Metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	a.Handler = middleware.CorrelationID(mux)

	return a, nil
}

func newIndex(ctx context.Context, cfg *config.Config, deps *Dependencies, e embedder) (VectorIndex, error) {
	switch cfg.IndexBackend {
	case config.IndexBackendWeaviate:
		if deps.Weaviate == nil {
			return nil, errors.New("weaviate index backend needs a weaviate client")
		}
		store := wstore.NewStore(deps.Weaviate, e, wstore.Options{
			BatchSize: cfg.IngestBatchSize,
			FetchK:    cfg.MMRFetchK,
			Lambda:    cfg.MMRLambda,
		})
		delay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
		if err := InitWithRetry(ctx, store, cfg.BootstrapRetryAttempts, delay); err != nil {
			return nil, fmt.Errorf("weaviate schema error: %w", err)
		}
		return store, nil
	default:
		return index.LoadOrInit(ctx, cfg.IndexDir, e,
			index.WithBatchSize(cfg.IngestBatchSize),
			index.WithMMR(cfg.MMRFetchK, cfg.MMRLambda),
		), nil
	}
}

// Run serves the ops handler on addr until ctx is done.
func (a *App) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "addr", addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			slog.Warn("failed to close resource", "error", err)
		}
	}
	a.closers = nil
}
