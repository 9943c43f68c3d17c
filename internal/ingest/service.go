// Package ingest runs the offline pipeline: load files, chunk them and add the
// chunks to the index.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"dgchat/internal/document"
	"dgchat/internal/loader"
)

type Loader interface {
	LoadMany(ctx context.Context, paths []string, maxConcurrency int) loader.BatchResult
	Discover(dir string, recursive bool) ([]string, error)
}

type Chunker interface {
	Split(ctx context.Context, docs []document.Document) ([]document.Chunk, []document.Failure)
}

type Indexer interface {
	Add(ctx context.Context, chunks []document.Chunk) error
}

type Metrics interface {
	ObserveIngest(succeeded, failed, chunks int)
}

// Report summarizes one ingestion call. Failures holds one entry per file that
// failed to load and per document that failed to chunk.
type Report struct {
	Succeeded   int                `json:"succeeded"`
	Failed      int                `json:"failed"`
	ChunksAdded int                `json:"chunks_added"`
	Failures    []document.Failure `json:"-"`
}

type Service struct {
	loader      Loader
	chunker     Chunker
	index       Indexer
	metrics     Metrics
	concurrency int
}

func NewService(l Loader, c Chunker, idx Indexer, m Metrics, concurrency int) *Service {
	if concurrency <= 0 {
		concurrency = loader.DefaultConcurrency
	}
	return &Service{loader: l, chunker: c, index: idx, metrics: m, concurrency: concurrency}
}

// Ingest loads, chunks and indexes paths. Unreadable files only count as
// failed; an index error is returned with ChunksAdded left at zero.
func (s *Service) Ingest(ctx context.Context, paths []string) (Report, error) {
	start := time.Now()
	batch := s.loader.LoadMany(ctx, paths, s.concurrency)
	report := Report{
		Succeeded: batch.Succeeded,
		Failed:    batch.Failed,
		Failures:  batch.Failures(),
	}

	chunks, failures := s.chunker.Split(ctx, batch.Documents())
	report.Failures = append(report.Failures, failures...)

	if len(chunks) == 0 {
		slog.WarnContext(ctx, "ingestion produced no chunks", "files", len(paths), "failed", report.Failed)
		s.observe(report)
		return report, nil
	}

	if err := s.index.Add(ctx, chunks); err != nil {
		slog.ErrorContext(ctx, "failed to index chunks", "chunks", len(chunks), "error", err)
		s.observe(report)
		return report, fmt.Errorf("index chunks: %w", err)
	}
	report.ChunksAdded = len(chunks)

	slog.InfoContext(ctx, "ingestion finished",
		"files", len(paths),
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"chunks_added", report.ChunksAdded,
		"duration", time.Since(start))
	s.observe(report)
	return report, nil
}

// IngestDir ingests every supported file under dir.
func (s *Service) IngestDir(ctx context.Context, dir string, recursive bool) (Report, error) {
	paths, err := s.loader.Discover(dir, recursive)
	if err != nil {
		return Report{}, err
	}
	if len(paths) == 0 {
		slog.WarnContext(ctx, "no supported files found", "dir", dir)
		return Report{}, nil
	}
	return s.Ingest(ctx, paths)
}

func (s *Service) observe(r Report) {
	if s.metrics != nil {
		s.metrics.ObserveIngest(r.Succeeded, r.Failed, r.ChunksAdded)
	}
}
