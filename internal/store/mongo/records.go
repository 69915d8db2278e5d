package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nugget/prenatal-clinic/internal/store"
)

// CreateConversation inserts c.
func (s *Store) CreateConversation(ctx context.Context, c *store.Conversation) error {
	_, err := s.conversations.InsertOne(ctx, c)
	return classify("insert conversation "+c.ConversationID, err)
}

// GetConversation returns the conversation with the given id.
func (s *Store) GetConversation(ctx context.Context, conversationID string) (*store.Conversation, error) {
	var c store.Conversation
	err := s.conversations.FindOne(ctx, bson.M{"conversation_id": conversationID}).Decode(&c)
	if err != nil {
		return nil, classify("get conversation "+conversationID, err)
	}
	return &c, nil
}

// ListConversations returns the user's most recently updated
// conversations.
func (s *Store) ListConversations(ctx context.Context, userID string, limit int) ([]store.Conversation, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.conversations.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, classify("list conversations", err)
	}

	list := []store.Conversation{}
	if err := cur.All(ctx, &list); err != nil {
		return nil, classify("decode conversations", err)
	}
	return list, nil
}

// ConversationTitles fetches the titles of the given conversations with
// one $in query.
func (s *Store) ConversationTitles(ctx context.Context, conversationIDs []string) (map[string]string, error) {
	titles := make(map[string]string, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return titles, nil
	}

	opts := options.Find().SetProjection(bson.M{"conversation_id": 1, "title": 1})
	cur, err := s.conversations.Find(ctx, bson.M{"conversation_id": bson.M{"$in": conversationIDs}}, opts)
	if err != nil {
		return nil, classify("query conversation titles", err)
	}

	var rows []struct {
		ConversationID string `bson:"conversation_id"`
		Title          string `bson:"title"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, classify("decode conversation titles", err)
	}
	for _, r := range rows {
		titles[r.ConversationID] = r.Title
	}
	return titles, nil
}

// conversationUpdateDoc builds the $set/$inc update for a finished turn.
func conversationUpdateDoc(u store.ConversationUpdate) bson.M {
	return bson.M{
		"$set": bson.M{
			"updated_at":           u.UpdatedAt,
			"last_message_preview": u.Preview,
		},
		"$inc": bson.M{"message_count": u.CountDelta},
	}
}

// UpdateConversation applies u with a single atomic update.
func (s *Store) UpdateConversation(ctx context.Context, conversationID string, u store.ConversationUpdate) error {
	res, err := s.conversations.UpdateOne(ctx, bson.M{"conversation_id": conversationID}, conversationUpdateDoc(u))
	if err != nil {
		return classify("update conversation "+conversationID, err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteConversation removes the conversation document only.
func (s *Store) DeleteConversation(ctx context.Context, conversationID string) error {
	res, err := s.conversations.DeleteOne(ctx, bson.M{"conversation_id": conversationID})
	if err != nil {
		return classify("delete conversation "+conversationID, err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AddMessage inserts m.
func (s *Store) AddMessage(ctx context.Context, m *store.Message) error {
	_, err := s.messages.InsertOne(ctx, m)
	return classify("insert message "+m.MessageID, err)
}

// GetMessage returns the message only when it belongs to conversationID.
func (s *Store) GetMessage(ctx context.Context, conversationID, messageID string) (*store.Message, error) {
	var m store.Message
	filter := bson.M{"message_id": messageID, "conversation_id": conversationID}
	if err := s.messages.FindOne(ctx, filter).Decode(&m); err != nil {
		return nil, classify("get message "+messageID, err)
	}
	return &m, nil
}

// ListMessages returns the conversation's messages by ascending
// timestamp.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]store.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	cur, err := s.messages.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, classify("list messages", err)
	}

	list := []store.Message{}
	if err := cur.All(ctx, &list); err != nil {
		return nil, classify("decode messages", err)
	}
	return list, nil
}

// DeleteMessages removes every message of the conversation.
func (s *Store) DeleteMessages(ctx context.Context, conversationID string) (int64, error) {
	res, err := s.messages.DeleteMany(ctx, bson.M{"conversation_id": conversationID})
	if err != nil {
		return 0, classify("delete messages", err)
	}
	return res.DeletedCount, nil
}

// AddFavorite inserts f; the unique (user_id, message_id) index rejects
// a second favorite for the same pair.
func (s *Store) AddFavorite(ctx context.Context, f *store.Favorite) error {
	_, err := s.favorites.InsertOne(ctx, f)
	return classify("insert favorite "+f.MessageID, err)
}

// GetFavorite returns the user's favorite for the message.
func (s *Store) GetFavorite(ctx context.Context, userID, messageID string) (*store.Favorite, error) {
	var f store.Favorite
	err := s.favorites.FindOne(ctx, favoriteFilter(userID, messageID)).Decode(&f)
	if err != nil {
		return nil, classify("get favorite "+messageID, err)
	}
	return &f, nil
}

// DeleteFavorite removes the user's favorite for the message.
func (s *Store) DeleteFavorite(ctx context.Context, userID, messageID string) error {
	res, err := s.favorites.DeleteOne(ctx, favoriteFilter(userID, messageID))
	if err != nil {
		return classify("delete favorite "+messageID, err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListFavorites returns one page of the user's favorites, newest first.
func (s *Store) ListFavorites(ctx context.Context, userID string, offset, limit int) ([]store.Favorite, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "favorited_at", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	cur, err := s.favorites.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, classify("list favorites", err)
	}

	list := []store.Favorite{}
	if err := cur.All(ctx, &list); err != nil {
		return nil, classify("decode favorites", err)
	}
	return list, nil
}

// CountFavorites returns the number of favorites the user has.
func (s *Store) CountFavorites(ctx context.Context, userID string) (int, error) {
	n, err := s.favorites.CountDocuments(ctx, bson.M{"user_id": userID})
	if err != nil {
		return 0, classify("count favorites", err)
	}
	return int(n), nil
}

func favoriteFilter(userID, messageID string) bson.M {
	return bson.M{"user_id": userID, "message_id": messageID}
}
