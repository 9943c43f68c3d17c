package conversation

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists threads in the conversation_threads and
// conversation_messages tables.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetOrCreate(ctx context.Context, threadID string) (*Thread, error) {
	if err := validate(threadID, nil); err != nil {
		return nil, err
	}

	query := `INSERT INTO conversation_threads (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, query, threadID); err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}

	query = `SELECT role, content FROM conversation_messages WHERE thread_id = $1 ORDER BY position`
	rows, err := s.db.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	t := &Thread{ID: threadID}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, err
		}
		t.Messages = append(t.Messages, m)
	}
	return t, rows.Err()
}

// Append locks the thread row so concurrent appends to one thread queue up
// and positions stay contiguous.
func (s *PostgresStore) Append(ctx context.Context, threadID string, msgs ...Message) error {
	if err := validate(threadID, msgs); err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `INSERT INTO conversation_threads (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`
	if _, err := tx.ExecContext(ctx, query, threadID); err != nil {
		return fmt.Errorf("create thread: %w", err)
	}

	var next int
	query = `SELECT message_count FROM conversation_threads WHERE id = $1 FOR UPDATE`
	if err := tx.QueryRowContext(ctx, query, threadID).Scan(&next); err != nil {
		return fmt.Errorf("lock thread: %w", err)
	}

	query = `INSERT INTO conversation_messages (thread_id, position, role, content) VALUES ($1, $2, $3, $4)`
	for i, m := range msgs {
		if _, err := tx.ExecContext(ctx, query, threadID, next+i, string(m.Role), m.Content); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	query = `UPDATE conversation_threads SET message_count = $2, updated_at = NOW() WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, threadID, next+len(msgs)); err != nil {
		return fmt.Errorf("update thread: %w", err)
	}

	return tx.Commit()
}
