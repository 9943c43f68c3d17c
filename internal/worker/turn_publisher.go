package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"dgchat/internal/chat"
	"dgchat/internal/config"
)

// TurnPublisher hands completed turns to the audit collaborator over NSQ.
type TurnPublisher struct {
	publisher Publisher
	topic     string
}

func NewTurnPublisher(p Publisher) *TurnPublisher {
	return &TurnPublisher{publisher: p, topic: config.TopicChatTurn}
}

func (t *TurnPublisher) PublishTurn(ctx context.Context, rec chat.TurnRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode turn record: %w", err)
	}
	if err := t.publisher.Publish(t.topic, body); err != nil {
		return fmt.Errorf("publish %s: %w", t.topic, err)
	}
	slog.DebugContext(ctx, "turn record published", "topic", t.topic, "bytes", len(body))
	return nil
}
