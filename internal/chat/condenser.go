package chat

import (
	"context"
	"log/slog"
	"strings"

	"dgchat/internal/conversation"
)

type Condenser struct {
	gen     Generator
	metrics Metrics
}

func NewCondenser(gen Generator, m Metrics) *Condenser {
	if m == nil {
		m = nopMetrics{}
	}
	return &Condenser{gen: gen, metrics: m}
}

// Condense rewrites question into a standalone query using history. Without
// history the question is returned as is; on failure the raw question is
// used.
func (c *Condenser) Condense(ctx context.Context, question string, history []conversation.Message) string {
	if len(history) == 0 {
		return question
	}

	out, err := c.gen.Generate(ctx, condenseSystemPrompt, history, question)
	if err != nil {
		slog.WarnContext(ctx, "query condensation failed, using raw question", "error", err)
		c.metrics.CondenseFallback()
		return question
	}
	out = strings.TrimSpace(out)
	if out == "" {
		slog.WarnContext(ctx, "query condensation returned nothing, using raw question")
		c.metrics.CondenseFallback()
		return question
	}
	return out
}
