// Package bolt implements [store.Store] on a single bbolt file, for
// deployments that want an embedded database without cgo or SQL.
//
// Layout:
//
//	conversations  conversation_id → Conversation JSON
//	messages       one nested bucket per conversation_id,
//	               8-byte sequence → Message JSON
//	message_index  message_id → conversation_id NUL sequence
//	favorites      user_id NUL message_id → Favorite JSON
//
// bbolt serializes write transactions, so the existence check and the
// insert of a favorite happen atomically.
package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/nugget/prenatal-clinic/internal/store"
)

var (
	bucketConversations = []byte("conversations")
	bucketMessages      = []byte("messages")
	bucketMessageIndex  = []byte("message_index")
	bucketFavorites     = []byte("favorites")
)

// Store is a bbolt-backed [store.Store]. Safe for concurrent use.
type Store struct {
	db *bolt.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database file at path. It fails
// after a second if another process holds the file lock.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketConversations, bucketMessages, bucketMessageIndex, bucketFavorites} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database file is still open.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.View(func(tx *bolt.Tx) error { return nil }); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

// view and update run fn in a transaction unless ctx is already done.
// bbolt transactions cannot be interrupted once started.
func (s *Store) view(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return classify(s.db.View(fn))
}

func (s *Store) update(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return classify(s.db.Update(fn))
}

func classify(err error) error {
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return err
}

// CreateConversation inserts c.
func (s *Store) CreateConversation(ctx context.Context, c *store.Conversation) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConversations)
		key := []byte(c.ConversationID)
		if b.Get(key) != nil {
			return fmt.Errorf("insert conversation %s: %w", c.ConversationID, store.ErrDuplicate)
		}
		return putJSON(b, key, c)
	})
}

// GetConversation returns the conversation with the given id.
func (s *Store) GetConversation(ctx context.Context, conversationID string) (*store.Conversation, error) {
	var c *store.Conversation
	err := s.view(ctx, func(tx *bolt.Tx) error {
		var err error
		c, err = getConversation(tx, conversationID)
		return err
	})
	return c, err
}

func getConversation(tx *bolt.Tx, id string) (*store.Conversation, error) {
	v := tx.Bucket(bucketConversations).Get([]byte(id))
	if v == nil {
		return nil, store.ErrNotFound
	}
	var c store.Conversation
	if err := json.Unmarshal(v, &c); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	return &c, nil
}

// ListConversations scans every conversation; the bucket is keyed by
// id, so there is no index on user or time.
func (s *Store) ListConversations(ctx context.Context, userID string, limit int) ([]store.Conversation, error) {
	list := []store.Conversation{}
	err := s.view(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConversations).ForEach(func(k, v []byte) error {
			var c store.Conversation
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("decode conversation %s: %w", k, err)
			}
			if c.UserID == userID {
				list = append(list, c)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(list, func(a, b store.Conversation) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	if limit >= 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// ConversationTitles looks up each id in one read transaction.
func (s *Store) ConversationTitles(ctx context.Context, conversationIDs []string) (map[string]string, error) {
	titles := make(map[string]string, len(conversationIDs))
	err := s.view(ctx, func(tx *bolt.Tx) error {
		for _, id := range conversationIDs {
			c, err := getConversation(tx, id)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			titles[id] = c.Title
		}
		return nil
	})
	return titles, err
}

// UpdateConversation applies u in one write transaction.
func (s *Store) UpdateConversation(ctx context.Context, conversationID string, u store.ConversationUpdate) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		c, err := getConversation(tx, conversationID)
		if err != nil {
			return err
		}
		c.UpdatedAt = u.UpdatedAt
		c.LastMessagePreview = u.Preview
		c.MessageCount += u.CountDelta
		return putJSON(tx.Bucket(bucketConversations), []byte(conversationID), c)
	})
}

// DeleteConversation removes the conversation record only.
func (s *Store) DeleteConversation(ctx context.Context, conversationID string) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConversations)
		key := []byte(conversationID)
		if b.Get(key) == nil {
			return store.ErrNotFound
		}
		return b.Delete(key)
	})
}

// AddMessage appends m to its conversation's bucket.
func (s *Store) AddMessage(ctx context.Context, m *store.Message) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		index := tx.Bucket(bucketMessageIndex)
		if index.Get([]byte(m.MessageID)) != nil {
			return fmt.Errorf("insert message %s: %w", m.MessageID, store.ErrDuplicate)
		}

		b, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(m.ConversationID))
		if err != nil {
			return fmt.Errorf("create message bucket %s: %w", m.ConversationID, err)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := seqKey(seq)
		if err := putJSON(b, key, m); err != nil {
			return err
		}
		return index.Put([]byte(m.MessageID), indexValue(m.ConversationID, key))
	})
}

// GetMessage returns the message only when it belongs to conversationID.
func (s *Store) GetMessage(ctx context.Context, conversationID, messageID string) (*store.Message, error) {
	var m store.Message
	err := s.view(ctx, func(tx *bolt.Tx) error {
		ref := tx.Bucket(bucketMessageIndex).Get([]byte(messageID))
		conv, key, ok := parseIndexValue(ref)
		if !ok || conv != conversationID {
			return store.ErrNotFound
		}
		b := tx.Bucket(bucketMessages).Bucket([]byte(conv))
		if b == nil {
			return store.ErrNotFound
		}
		v := b.Get(key)
		if v == nil {
			return store.ErrNotFound
		}
		return json.Unmarshal(v, &m)
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns the conversation's messages by timestamp, with
// insertion order breaking ties.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]store.Message, error) {
	list := []store.Message{}
	err := s.view(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var m store.Message
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("decode message: %w", err)
			}
			list = append(list, m)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(list, func(a, b store.Message) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return list, nil
}

// DeleteMessages drops the conversation's message bucket and its index
// entries.
func (s *Store) DeleteMessages(ctx context.Context, conversationID string) (int64, error) {
	var n int64
	err := s.update(ctx, func(tx *bolt.Tx) error {
		msgs := tx.Bucket(bucketMessages)
		b := msgs.Bucket([]byte(conversationID))
		if b == nil {
			return nil
		}
		index := tx.Bucket(bucketMessageIndex)
		err := b.ForEach(func(k, v []byte) error {
			var m store.Message
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("decode message: %w", err)
			}
			n++
			return index.Delete([]byte(m.MessageID))
		})
		if err != nil {
			return err
		}
		return msgs.DeleteBucket([]byte(conversationID))
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// AddFavorite inserts f unless the user already favorited the message.
func (s *Store) AddFavorite(ctx context.Context, f *store.Favorite) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFavorites)
		key := favoriteKey(f.UserID, f.MessageID)
		if b.Get(key) != nil {
			return fmt.Errorf("insert favorite %s/%s: %w", f.UserID, f.MessageID, store.ErrDuplicate)
		}
		return putJSON(b, key, f)
	})
}

// GetFavorite returns the user's favorite for the message.
func (s *Store) GetFavorite(ctx context.Context, userID, messageID string) (*store.Favorite, error) {
	var f store.Favorite
	err := s.view(ctx, func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketFavorites).Get(favoriteKey(userID, messageID))
		if v == nil {
			return store.ErrNotFound
		}
		return json.Unmarshal(v, &f)
	})
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// DeleteFavorite removes the user's favorite for the message.
func (s *Store) DeleteFavorite(ctx context.Context, userID, messageID string) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFavorites)
		key := favoriteKey(userID, messageID)
		if b.Get(key) == nil {
			return store.ErrNotFound
		}
		return b.Delete(key)
	})
}

// ListFavorites returns one page of the user's favorites, newest first.
func (s *Store) ListFavorites(ctx context.Context, userID string, offset, limit int) ([]store.Favorite, error) {
	var all []store.Favorite
	err := s.view(ctx, func(tx *bolt.Tx) error {
		return scanUser(tx, userID, func(v []byte) error {
			var f store.Favorite
			if err := json.Unmarshal(v, &f); err != nil {
				return fmt.Errorf("decode favorite: %w", err)
			}
			all = append(all, f)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(all, func(a, b store.Favorite) int {
		return b.FavoritedAt.Compare(a.FavoritedAt)
	})
	page := []store.Favorite{}
	if offset < len(all) {
		end := min(offset+limit, len(all))
		page = append(page, all[offset:end]...)
	}
	return page, nil
}

// CountFavorites returns the number of favorites the user has.
func (s *Store) CountFavorites(ctx context.Context, userID string) (int, error) {
	n := 0
	err := s.view(ctx, func(tx *bolt.Tx) error {
		return scanUser(tx, userID, func([]byte) error {
			n++
			return nil
		})
	})
	return n, err
}

// scanUser calls fn for each favorite value under the user's key prefix.
func scanUser(tx *bolt.Tx, userID string, fn func(v []byte) error) error {
	prefix := favoriteKey(userID, "")
	c := tx.Bucket(bucketFavorites).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return b.Put(key, data)
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func favoriteKey(userID, messageID string) []byte {
	return []byte(userID + "\x00" + messageID)
}

func indexValue(conversationID string, key []byte) []byte {
	v := make([]byte, 0, len(conversationID)+1+len(key))
	v = append(v, conversationID...)
	v = append(v, 0)
	return append(v, key...)
}

// parseIndexValue splits an index value; the sequence key is always
// the last 8 bytes.
func parseIndexValue(v []byte) (string, []byte, bool) {
	i := len(v) - 9
	if i < 0 || v[i] != 0 {
		return "", nil, false
	}
	return string(v[:i]), v[i+1:], true
}
