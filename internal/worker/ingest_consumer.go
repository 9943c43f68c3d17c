package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"dgchat/internal/ingest"
	"dgchat/internal/middleware"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"
)

type IngestConsumer struct {
	ingester Ingester
}

func NewIngestConsumer(i Ingester) *IngestConsumer {
	return &IngestConsumer{ingester: i}
}

// HandleMessage ingests the files named in the message. Malformed messages are
// finished without retry; an index failure is returned so nsqd requeues.
func (h *IngestConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload IngestFilePayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		// Poison Pill: Invalid JSON, don't retry
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}

	correlationID := payload.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(context.Background(), correlationID)

	if len(payload.Paths) == 0 && payload.Dir == "" {
		slog.WarnContext(ctx, "ingest task names no files, dropping")
		return nil
	}

	// A message maps to exactly one ingest call.
	if len(payload.Paths) > 0 && payload.Dir != "" {
		slog.WarnContext(ctx, "poison pill: ingest task names both a directory and paths, dropping",
			"dir", payload.Dir, "paths", len(payload.Paths))
		return nil
	}

	var (
		total ingest.Report
		err   error
	)
	if payload.Dir != "" {
		total, err = h.ingester.IngestDir(ctx, payload.Dir, payload.Recursive)
	} else {
		total, err = h.ingester.Ingest(ctx, payload.Paths)
	}
	if err != nil {
		slog.ErrorContext(ctx, "ingest task failed",
			"dir", payload.Dir, "paths", len(payload.Paths), "error", err, "attempts", m.Attempts)
		return err // Retry
	}

	slog.InfoContext(ctx, "ingest task done",
		"succeeded", total.Succeeded,
		"failed", total.Failed,
		"chunks_added", total.ChunksAdded)
	return nil
}
