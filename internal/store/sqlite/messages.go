package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nugget/prenatal-clinic/internal/store"
)

const messageColumns = `message_id, conversation_id, type, content, timestamp, metadata`

// AddMessage inserts m. The conversation is not required to exist.
func (s *Store) AddMessage(ctx context.Context, m *store.Message) error {
	meta, err := encodeJSON(m.Metadata)
	if err != nil {
		return fmt.Errorf("encode message metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		m.MessageID,
		m.ConversationID,
		m.Type,
		m.Content,
		formatTime(m.Timestamp),
		meta,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert message %s: %w", m.MessageID, store.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert message %s: %w", m.MessageID, err)
	}
	return nil
}

// GetMessage returns the message only when it belongs to conversationID.
func (s *Store) GetMessage(ctx context.Context, conversationID, messageID string) (*store.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE message_id = ? AND conversation_id = ?`,
		messageID, conversationID,
	)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", messageID, err)
	}
	return m, nil
}

// ListMessages returns every message in the conversation ordered by
// timestamp. Equal timestamps fall back to insertion order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]store.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE conversation_id = ?
		 ORDER BY timestamp ASC, rowid ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", conversationID, err)
	}
	defer rows.Close()

	list := []store.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		list = append(list, *m)
	}
	return list, rows.Err()
}

// DeleteMessages removes every message of the conversation.
func (s *Store) DeleteMessages(ctx context.Context, conversationID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id = ?`,
		conversationID,
	)
	if err != nil {
		return 0, fmt.Errorf("delete messages for %s: %w", conversationID, err)
	}
	return res.RowsAffected()
}

func scanMessage(sc scanner) (*store.Message, error) {
	var m store.Message
	var ts string
	var meta sql.NullString
	if err := sc.Scan(&m.MessageID, &m.ConversationID, &m.Type, &m.Content, &ts, &meta); err != nil {
		return nil, err
	}

	var err error
	if m.Timestamp, err = parseTime(ts); err != nil {
		return nil, fmt.Errorf("parse timestamp: %w", err)
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &m.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &m, nil
}
