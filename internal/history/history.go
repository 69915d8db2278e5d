// Package history answers the read side of the clinic chat: a user's
// conversation list, one conversation's transcript, and the user's
// paged favorites. It also owns conversation deletion.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nugget/prenatal-clinic/internal/apperr"
	"github.com/nugget/prenatal-clinic/internal/store"
)

// Defaults and limits.
const (
	DefaultConversationLimit = 50
	DefaultPage              = 1
	DefaultPageSize          = 10
	MaxPageSize              = 100

	// UntitledConversation labels favorites whose conversation is gone.
	UntitledConversation = "Untitled Conversation"
)

var (
	ErrConversationNotFound = apperr.New(apperr.NotFound, "Conversation not found")
	// ErrNotOwner is returned when deleting a conversation that belongs
	// to another user. It reads the same as a missing conversation.
	ErrNotOwner = apperr.New(apperr.NotFound, "Conversation not found or unauthorized")
)

// Pagination describes one page of a listing.
type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

// NewPagination computes page bookkeeping for total items.
func NewPagination(page, limit, total int) Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: pages,
		HasNext:    page < pages,
		HasPrev:    page > 1,
	}
}

// FavoriteEntry is a favorite with the title of its conversation.
type FavoriteEntry struct {
	store.Favorite
	ConversationTitle string `json:"conversation_title"`
}

// FavoritesPage is one page of a user's favorites.
type FavoritesPage struct {
	Favorites  []FavoriteEntry `json:"favorites"`
	Pagination Pagination      `json:"pagination"`
}

// Service serves history queries from a store.
type Service struct {
	store  store.Store
	logger *slog.Logger
}

// New creates a Service.
func New(s store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, logger: logger}
}

// ListConversations returns the user's conversations, most recently
// updated first. A non-positive limit means DefaultConversationLimit.
func (s *Service) ListConversations(ctx context.Context, userID string, limit int) ([]store.Conversation, error) {
	if userID == "" {
		return nil, apperr.New(apperr.Validation, "user_id is required")
	}
	if limit <= 0 {
		limit = DefaultConversationLimit
	}
	list, err := s.store.ListConversations(ctx, userID, limit)
	if err != nil {
		return nil, storeError("list conversations", err)
	}
	return list, nil
}

// GetConversationWithMessages returns the conversation and its messages
// in timestamp order.
func (s *Service) GetConversationWithMessages(ctx context.Context, conversationID string) (*store.Conversation, []store.Message, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, nil, storeError("get conversation", err)
	}

	msgs, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, nil, storeError("list messages", err)
	}
	if conv.MessageCount != len(msgs) {
		s.logger.Debug("message count drift",
			"conversation_id", conversationID, "message_count", conv.MessageCount, "stored", len(msgs))
	}
	return conv, msgs, nil
}

// ListFavorites returns one page of the user's favorites, newest first,
// each labeled with its conversation title.
func (s *Service) ListFavorites(ctx context.Context, userID string, page, pageSize int) (*FavoritesPage, error) {
	if userID == "" {
		return nil, apperr.New(apperr.Validation, "user_id is required")
	}
	if page < 1 {
		return nil, apperr.New(apperr.Validation, "page must be a positive integer")
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return nil, apperr.New(apperr.Validation, fmt.Sprintf("limit must be between 1 and %d", MaxPageSize))
	}

	favs, err := s.store.ListFavorites(ctx, userID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, storeError("list favorites", err)
	}
	total, err := s.store.CountFavorites(ctx, userID)
	if err != nil {
		return nil, storeError("count favorites", err)
	}

	seen := make(map[string]bool, len(favs))
	var ids []string
	for _, f := range favs {
		if !seen[f.ConversationID] {
			seen[f.ConversationID] = true
			ids = append(ids, f.ConversationID)
		}
	}
	titles, err := s.store.ConversationTitles(ctx, ids)
	if err != nil {
		return nil, storeError("conversation titles", err)
	}

	entries := make([]FavoriteEntry, 0, len(favs))
	for _, f := range favs {
		title, ok := titles[f.ConversationID]
		if !ok || title == "" {
			title = UntitledConversation
		}
		entries = append(entries, FavoriteEntry{Favorite: f, ConversationTitle: title})
	}

	return &FavoritesPage{
		Favorites:  entries,
		Pagination: NewPagination(page, pageSize, total),
	}, nil
}

// DeleteConversation removes a conversation and its messages if userID
// owns it. An empty userID owns nothing. Favorites pointing into it are
// kept.
func (s *Service) DeleteConversation(ctx context.Context, conversationID, userID string) error {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotOwner
	}
	if err != nil {
		return storeError("get conversation", err)
	}
	if conv.UserID != userID {
		s.logger.Warn("conversation delete refused",
			"conversation_id", conversationID, "user_id", userID)
		return ErrNotOwner
	}

	n, err := s.store.DeleteMessages(ctx, conversationID)
	if err != nil {
		return storeError("delete messages", err)
	}
	if err := s.store.DeleteConversation(ctx, conversationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotOwner
		}
		return storeError("delete conversation", err)
	}

	s.logger.Info("conversation deleted",
		"conversation_id", conversationID, "user_id", userID, "messages", n)
	return nil
}

func storeError(op string, err error) error {
	if errors.Is(err, store.ErrUnavailable) {
		return apperr.Wrap(apperr.StoreUnavailable, "Database service unavailable", err)
	}
	return apperr.Wrap(apperr.Internal, "Internal server error", fmt.Errorf("%s: %w", op, err))
}
