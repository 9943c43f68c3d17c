package worker

import (
	"context"

	"dgchat/internal/ingest"
)

// IngestFilePayload is the body of an ingest.task.file message. It names
// either a directory or a list of paths, never both.
type IngestFilePayload struct {
	Paths         []string `json:"paths"`
	Dir           string   `json:"dir,omitempty"`
	Recursive     bool     `json:"recursive,omitempty"`
	CorrelationID string   `json:"correlation_id"`
}

type Ingester interface {
	Ingest(ctx context.Context, paths []string) (ingest.Report, error)
	IngestDir(ctx context.Context, dir string, recursive bool) (ingest.Report, error)
}

type Publisher interface {
	Publish(topic string, body []byte) error
}
