package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nugget/prenatal-clinic/internal/store"
)

const favoriteColumns = `favorite_id, user_id, message_id, conversation_id, message_content, message_timestamp, favorited_at, metadata`

// AddFavorite inserts f. The unique (user_id, message_id) index turns a
// second insert for the same pair into [store.ErrDuplicate].
func (s *Store) AddFavorite(ctx context.Context, f *store.Favorite) error {
	meta, err := encodeJSON(f.Metadata)
	if err != nil {
		return fmt.Errorf("encode favorite metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO favorites (`+favoriteColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.FavoriteID,
		f.UserID,
		f.MessageID,
		f.ConversationID,
		f.MessageContent,
		formatTime(f.MessageTimestamp),
		formatTime(f.FavoritedAt),
		meta,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert favorite %s/%s: %w", f.UserID, f.MessageID, store.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert favorite %s/%s: %w", f.UserID, f.MessageID, err)
	}
	return nil
}

// GetFavorite returns the user's favorite for the message.
func (s *Store) GetFavorite(ctx context.Context, userID, messageID string) (*store.Favorite, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+favoriteColumns+` FROM favorites WHERE user_id = ? AND message_id = ?`,
		userID, messageID,
	)
	f, err := scanFavorite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get favorite %s/%s: %w", userID, messageID, err)
	}
	return f, nil
}

// DeleteFavorite removes the user's favorite for the message.
func (s *Store) DeleteFavorite(ctx context.Context, userID, messageID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM favorites WHERE user_id = ? AND message_id = ?`,
		userID, messageID,
	)
	if err != nil {
		return fmt.Errorf("delete favorite %s/%s: %w", userID, messageID, err)
	}
	return requireAffected(res, messageID)
}

// ListFavorites returns one page of the user's favorites, newest first.
func (s *Store) ListFavorites(ctx context.Context, userID string, offset, limit int) ([]store.Favorite, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+favoriteColumns+` FROM favorites
		 WHERE user_id = ?
		 ORDER BY favorited_at DESC
		 LIMIT ? OFFSET ?`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list favorites for %s: %w", userID, err)
	}
	defer rows.Close()

	list := []store.Favorite{}
	for rows.Next() {
		f, err := scanFavorite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan favorite: %w", err)
		}
		list = append(list, *f)
	}
	return list, rows.Err()
}

// CountFavorites returns the number of favorites the user has.
func (s *Store) CountFavorites(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM favorites WHERE user_id = ?`,
		userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count favorites for %s: %w", userID, err)
	}
	return n, nil
}

func scanFavorite(sc scanner) (*store.Favorite, error) {
	var f store.Favorite
	var msgTS, favTS string
	var meta sql.NullString
	if err := sc.Scan(
		&f.FavoriteID,
		&f.UserID,
		&f.MessageID,
		&f.ConversationID,
		&f.MessageContent,
		&msgTS,
		&favTS,
		&meta,
	); err != nil {
		return nil, err
	}

	var err error
	if f.MessageTimestamp, err = parseTime(msgTS); err != nil {
		return nil, fmt.Errorf("parse message_timestamp: %w", err)
	}
	if f.FavoritedAt, err = parseTime(favTS); err != nil {
		return nil, fmt.Errorf("parse favorited_at: %w", err)
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &f.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &f, nil
}
