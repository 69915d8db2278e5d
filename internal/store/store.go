// Package store defines the persisted records of the clinic chat
// (conversations, messages, favorites) and the Store interface that
// backends implement. Backends live in subpackages: sqlite for a local
// database file and mongo for a MongoDB deployment.
//
// Every Store operation is individually atomic. Callers that chain
// several operations (a chat turn, a conversation delete) accept that a
// failure part way through leaves the earlier writes in place.
package store

import (
	"context"
	"errors"
	"time"
)

// Message types.
const (
	TypeUser = "user"
	TypeAI   = "ai"
)

var (
	// ErrNotFound is returned when a lookup, update or single-row delete
	// matches nothing.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when an insert violates a unique index.
	ErrDuplicate = errors.New("duplicate record")

	// ErrUnavailable wraps connection-level failures reaching the
	// backing database.
	ErrUnavailable = errors.New("store unavailable")
)

// Metadata is a free-form JSON object attached to messages.
type Metadata map[string]any

// Conversation is a thread owned by one user. MessageCount is an
// independently incremented counter, not a derived aggregate.
type Conversation struct {
	ConversationID     string    `json:"conversation_id" bson:"conversation_id"`
	UserID             string    `json:"user_id" bson:"user_id"`
	Title              string    `json:"title" bson:"title"`
	CreatedAt          time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" bson:"updated_at"`
	MessageCount       int       `json:"message_count" bson:"message_count"`
	LastMessagePreview string    `json:"last_message_preview" bson:"last_message_preview"`
}

// Message is one immutable entry in a conversation.
type Message struct {
	ConversationID string    `json:"conversation_id" bson:"conversation_id"`
	MessageID      string    `json:"message_id" bson:"message_id"`
	Type           string    `json:"type" bson:"type"`
	Content        string    `json:"content" bson:"content"`
	Timestamp      time.Time `json:"timestamp" bson:"timestamp"`
	Metadata       Metadata  `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// FavoriteMetadata is the snapshot of the source message taken when the
// favorite was created.
type FavoriteMetadata struct {
	MessageType      string   `json:"message_type" bson:"message_type"`
	OriginalMetadata Metadata `json:"original_metadata,omitempty" bson:"original_metadata,omitempty"`
}

// Favorite bookmarks one message for one user. The content fields are
// a denormalized copy of the message at favoriting time.
type Favorite struct {
	FavoriteID       string           `json:"favorite_id" bson:"favorite_id"`
	UserID           string           `json:"user_id" bson:"user_id"`
	MessageID        string           `json:"message_id" bson:"message_id"`
	ConversationID   string           `json:"conversation_id" bson:"conversation_id"`
	MessageContent   string           `json:"message_content" bson:"message_content"`
	MessageTimestamp time.Time        `json:"message_timestamp" bson:"message_timestamp"`
	FavoritedAt      time.Time        `json:"favorited_at" bson:"favorited_at"`
	Metadata         FavoriteMetadata `json:"metadata" bson:"metadata"`
}

// ConversationUpdate is applied after a completed chat turn.
type ConversationUpdate struct {
	UpdatedAt time.Time
	Preview   string
	// CountDelta is added to MessageCount atomically.
	CountDelta int
}

// Store is the persistence contract for the three record collections.
type Store interface {
	CreateConversation(ctx context.Context, c *Conversation) error
	// GetConversation returns ErrNotFound if no conversation has the id.
	GetConversation(ctx context.Context, conversationID string) (*Conversation, error)
	// ListConversations returns the user's conversations, most recently
	// updated first, at most limit of them.
	ListConversations(ctx context.Context, userID string, limit int) ([]Conversation, error)
	// ConversationTitles returns id → title for the ids that exist.
	ConversationTitles(ctx context.Context, conversationIDs []string) (map[string]string, error)
	// UpdateConversation returns ErrNotFound if no conversation matched.
	UpdateConversation(ctx context.Context, conversationID string, u ConversationUpdate) error
	// DeleteConversation returns ErrNotFound if no conversation matched.
	DeleteConversation(ctx context.Context, conversationID string) error

	AddMessage(ctx context.Context, m *Message) error
	// GetMessage returns ErrNotFound unless the message exists in the
	// given conversation.
	GetMessage(ctx context.Context, conversationID, messageID string) (*Message, error)
	// ListMessages returns the conversation's messages, oldest first.
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
	// DeleteMessages removes every message of the conversation and
	// reports how many were removed.
	DeleteMessages(ctx context.Context, conversationID string) (int64, error)

	// AddFavorite returns ErrDuplicate if the (user, message) pair is
	// already favorited.
	AddFavorite(ctx context.Context, f *Favorite) error
	// GetFavorite returns ErrNotFound if the pair is not favorited.
	GetFavorite(ctx context.Context, userID, messageID string) (*Favorite, error)
	// DeleteFavorite returns ErrNotFound if the pair is not favorited.
	DeleteFavorite(ctx context.Context, userID, messageID string) error
	// ListFavorites returns the user's favorites, newest first.
	ListFavorites(ctx context.Context, userID string, offset, limit int) ([]Favorite, error)
	CountFavorites(ctx context.Context, userID string) (int, error)

	// Ping checks that the backing database is reachable.
	Ping(ctx context.Context) error
	Close() error
}
