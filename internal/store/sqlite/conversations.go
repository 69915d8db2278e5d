package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nugget/prenatal-clinic/internal/store"
)

const conversationColumns = `conversation_id, user_id, title, created_at, updated_at, message_count, last_message_preview`

// CreateConversation inserts c. A conversation id collision returns
// [store.ErrDuplicate].
func (s *Store) CreateConversation(ctx context.Context, c *store.Conversation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (`+conversationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ConversationID,
		c.UserID,
		c.Title,
		formatTime(c.CreatedAt),
		formatTime(c.UpdatedAt),
		c.MessageCount,
		c.LastMessagePreview,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert conversation %s: %w", c.ConversationID, store.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert conversation %s: %w", c.ConversationID, err)
	}
	return nil
}

// GetConversation returns the conversation with the given id.
func (s *Store) GetConversation(ctx context.Context, conversationID string) (*store.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE conversation_id = ?`,
		conversationID,
	)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", conversationID, err)
	}
	return c, nil
}

// ListConversations returns the user's most recently updated
// conversations.
func (s *Store) ListConversations(ctx context.Context, userID string, limit int) ([]store.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE user_id = ?
		 ORDER BY updated_at DESC
		 LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations for %s: %w", userID, err)
	}
	defer rows.Close()

	list := []store.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		list = append(list, *c)
	}
	return list, rows.Err()
}

// ConversationTitles looks up the titles of the given conversations in
// one query. Ids with no conversation are absent from the result.
func (s *Store) ConversationTitles(ctx context.Context, conversationIDs []string) (map[string]string, error) {
	titles := make(map[string]string, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return titles, nil
	}

	args := make([]any, len(conversationIDs))
	for i, id := range conversationIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id, title FROM conversations
		 WHERE conversation_id IN (`+placeholders(len(args))+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversation titles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, title string
		if err := rows.Scan(&id, &title); err != nil {
			return nil, fmt.Errorf("scan conversation title: %w", err)
		}
		titles[id] = title
	}
	return titles, rows.Err()
}

// UpdateConversation sets updated_at and the preview and increments
// message_count in a single statement.
func (s *Store) UpdateConversation(ctx context.Context, conversationID string, u store.ConversationUpdate) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations
		 SET updated_at = ?, last_message_preview = ?, message_count = message_count + ?
		 WHERE conversation_id = ?`,
		formatTime(u.UpdatedAt), u.Preview, u.CountDelta, conversationID,
	)
	if err != nil {
		return fmt.Errorf("update conversation %s: %w", conversationID, err)
	}
	return requireAffected(res, conversationID)
}

// DeleteConversation removes the conversation row only; messages are
// deleted separately by the caller.
func (s *Store) DeleteConversation(ctx context.Context, conversationID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE conversation_id = ?`,
		conversationID,
	)
	if err != nil {
		return fmt.Errorf("delete conversation %s: %w", conversationID, err)
	}
	return requireAffected(res, conversationID)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(sc scanner) (*store.Conversation, error) {
	var c store.Conversation
	var created, updated string
	if err := sc.Scan(
		&c.ConversationID,
		&c.UserID,
		&c.Title,
		&created,
		&updated,
		&c.MessageCount,
		&c.LastMessagePreview,
	); err != nil {
		return nil, err
	}

	var err error
	if c.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &c, nil
}

func requireAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s: %w", id, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
