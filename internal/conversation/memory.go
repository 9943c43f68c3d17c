package conversation

import (
	"context"
	"sync"
)

type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string][]Message)}
}

func (s *MemoryStore) GetOrCreate(ctx context.Context, threadID string) (*Thread, error) {
	if err := validate(threadID, nil); err != nil {
		return nil, err
	}

	s.mu.RLock()
	msgs, ok := s.threads[threadID]
	s.mu.RUnlock()

	if !ok {
		s.mu.Lock()
		if msgs, ok = s.threads[threadID]; !ok {
			s.threads[threadID] = nil
		}
		s.mu.Unlock()
	}

	return &Thread{ID: threadID, Messages: append([]Message(nil), msgs...)}, nil
}

func (s *MemoryStore) Append(ctx context.Context, threadID string, msgs ...Message) error {
	if err := validate(threadID, msgs); err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[threadID] = append(s.threads[threadID], msgs...)
	return nil
}
