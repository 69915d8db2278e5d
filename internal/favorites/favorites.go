// Package favorites lets a user bookmark individual chat messages.
// A favorite stores a copy of the message content, so it survives the
// deletion of its conversation.
package favorites

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/prenatal-clinic/internal/apperr"
	"github.com/nugget/prenatal-clinic/internal/store"
)

var (
	ErrMessageNotFound  = apperr.New(apperr.NotFound, "Message not found")
	ErrAlreadyFavorited = apperr.New(apperr.Conflict, "Message already favorited")
	ErrFavoriteNotFound = apperr.New(apperr.NotFound, "Favorite not found")
)

// Manager adds, removes and checks favorites.
type Manager struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Manager.
func New(s store.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  s,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Add favorites messageID for userID. The message must belong to
// conversationID.
func (m *Manager) Add(ctx context.Context, userID, messageID, conversationID string) (*store.Favorite, error) {
	if userID == "" || messageID == "" || conversationID == "" {
		return nil, apperr.New(apperr.Validation, "user_id, message_id, and conversation_id are required")
	}

	msg, err := m.store.GetMessage(ctx, conversationID, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, storeError("look up message", err)
	}

	_, err = m.store.GetFavorite(ctx, userID, messageID)
	switch {
	case err == nil:
		return nil, ErrAlreadyFavorited
	case !errors.Is(err, store.ErrNotFound):
		return nil, storeError("check favorite", err)
	}

	fav := &store.Favorite{
		FavoriteID:       uuid.NewString(),
		UserID:           userID,
		MessageID:        messageID,
		ConversationID:   conversationID,
		MessageContent:   msg.Content,
		MessageTimestamp: msg.Timestamp,
		FavoritedAt:      m.now(),
		Metadata: store.FavoriteMetadata{
			MessageType:      msg.Type,
			OriginalMetadata: msg.Metadata,
		},
	}
	if err := m.store.AddFavorite(ctx, fav); err != nil {
		// Lost a race with a concurrent Add for the same pair.
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrAlreadyFavorited
		}
		return nil, storeError("insert favorite", err)
	}

	m.logger.Info("message favorited",
		"user_id", userID, "message_id", messageID, "favorite_id", fav.FavoriteID)
	return fav, nil
}

// Remove deletes the user's favorite for messageID.
func (m *Manager) Remove(ctx context.Context, userID, messageID string) error {
	if userID == "" || messageID == "" {
		return apperr.New(apperr.Validation, "user_id and message_id are required")
	}

	err := m.store.DeleteFavorite(ctx, userID, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrFavoriteNotFound
	}
	if err != nil {
		return storeError("delete favorite", err)
	}
	m.logger.Info("favorite removed", "user_id", userID, "message_id", messageID)
	return nil
}

// IsFavorited reports whether userID has favorited messageID, and the
// favorite's id if so.
func (m *Manager) IsFavorited(ctx context.Context, userID, messageID string) (bool, string, error) {
	if userID == "" || messageID == "" {
		return false, "", apperr.New(apperr.Validation, "user_id and message_id are required")
	}

	fav, err := m.store.GetFavorite(ctx, userID, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return false, "", nil
	}
	if err != nil {
		return false, "", storeError("check favorite", err)
	}
	return true, fav.FavoriteID, nil
}

func storeError(op string, err error) error {
	if errors.Is(err, store.ErrUnavailable) {
		return apperr.Wrap(apperr.StoreUnavailable, "Database service unavailable", err)
	}
	return apperr.Wrap(apperr.Internal, "Internal server error", fmt.Errorf("%s: %w", op, err))
}
