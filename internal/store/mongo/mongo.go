// Package mongo implements [store.Store] on MongoDB using three
// collections (conversations, messages, favorites) with the same
// uniqueness and ordering indexes as the SQLite backend.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/nugget/prenatal-clinic/internal/store"
)

// Collection names.
const (
	ConversationsCollection = "conversations"
	MessagesCollection      = "messages"
	FavoritesCollection     = "favorites"
)

// DefaultDatabase is used when no database name is configured.
const DefaultDatabase = "prenatal_chatbot"

// Store is a MongoDB-backed [store.Store].
type Store struct {
	client        *mongo.Client
	conversations *mongo.Collection
	messages      *mongo.Collection
	favorites     *mongo.Collection
}

var _ store.Store = (*Store)(nil)

// Open connects to uri, selects database, and creates the indexes.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	if database == "" {
		database = DefaultDatabase
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", uri, err)
	}

	db := client.Database(database)
	s := &Store{
		client:        client,
		conversations: db.Collection(ConversationsCollection),
		messages:      db.Collection(MessagesCollection),
		favorites:     db.Collection(FavoritesCollection),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create indexes: %w", err)
	}
	return s, nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ping checks that the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

// indexModels returns the index set for each collection.
func indexModels() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		ConversationsCollection: {
			{Keys: bson.D{{Key: "conversation_id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "updated_at", Value: -1}}},
		},
		MessagesCollection: {
			{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "timestamp", Value: 1}}},
			{Keys: bson.D{{Key: "message_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		FavoritesCollection: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "favorited_at", Value: -1}}},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "message_id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "conversation_id", Value: 1}}},
		},
	}
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	collections := map[string]*mongo.Collection{
		ConversationsCollection: s.conversations,
		MessagesCollection:      s.messages,
		FavoritesCollection:     s.favorites,
	}
	for name, models := range indexModels() {
		if _, err := collections[name].Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// classify maps driver errors onto the store sentinels.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return store.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%s: %w", op, store.ErrDuplicate)
	case mongo.IsNetworkError(err), mongo.IsTimeout(err), errors.Is(err, mongo.ErrClientDisconnected):
		return fmt.Errorf("%s: %w: %v", op, store.ErrUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
