// Package conversation keeps per-thread chat history. Threads are created on
// first use and only ever grow; one Append call lands as a unit.
package conversation

import (
	"context"
	"errors"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

var (
	ErrEmptyThreadID = errors.New("thread id is empty")
	ErrInvalidRole   = errors.New("invalid message role")
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Thread struct {
	ID       string    `json:"id"`
	Messages []Message `json:"messages"`
}

type Store interface {
	// GetOrCreate returns a copy of the thread, creating an empty one if
	// needed.
	GetOrCreate(ctx context.Context, threadID string) (*Thread, error)
	// Append adds msgs to the end of the thread atomically.
	Append(ctx context.Context, threadID string, msgs ...Message) error
}

func validate(threadID string, msgs []Message) error {
	if threadID == "" {
		return ErrEmptyThreadID
	}
	for _, m := range msgs {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			return ErrInvalidRole
		}
	}
	return nil
}
