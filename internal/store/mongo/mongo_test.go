package mongo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/nugget/prenatal-clinic/internal/store"
	"github.com/nugget/prenatal-clinic/internal/store/storetest"
)

// TestStore_Conformance runs the shared store suite against a live
// server. Set CLINIC_TEST_MONGO_URI (e.g. mongodb://localhost:27017)
// to enable it; each subtest gets its own throwaway database.
func TestStore_Conformance(t *testing.T) {
	uri := os.Getenv("CLINIC_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("CLINIC_TEST_MONGO_URI not set")
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		dbName := "clinic_test_" + uuid.NewString()[:8]
		s, err := Open(ctx, uri, dbName)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		t.Cleanup(func() {
			_ = s.client.Database(dbName).Drop(context.Background())
			s.Close()
		})
		return s
	})
}

func TestIndexModels(t *testing.T) {
	models := indexModels()

	var uniqueFavorite bool
	for _, m := range models[FavoritesCollection] {
		keys, ok := m.Keys.(bson.D)
		if !ok || len(keys) != 2 {
			continue
		}
		if keys[0].Key == "user_id" && keys[1].Key == "message_id" {
			uniqueFavorite = m.Options != nil && m.Options.Unique != nil && *m.Options.Unique
		}
	}
	if !uniqueFavorite {
		t.Error("favorites must have a unique (user_id, message_id) index")
	}

	for _, name := range []string{ConversationsCollection, MessagesCollection, FavoritesCollection} {
		if len(models[name]) == 0 {
			t.Errorf("no indexes defined for %s", name)
		}
	}
}

func TestConversationUpdateDoc(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	doc := conversationUpdateDoc(store.ConversationUpdate{UpdatedAt: at, Preview: "hi", CountDelta: 2})

	set, ok := doc["$set"].(bson.M)
	if !ok {
		t.Fatalf("$set missing: %v", doc)
	}
	if set["updated_at"] != at || set["last_message_preview"] != "hi" {
		t.Errorf("$set = %v", set)
	}
	inc, ok := doc["$inc"].(bson.M)
	if !ok || inc["message_count"] != 2 {
		t.Errorf("$inc = %v, want message_count 2", doc["$inc"])
	}
}

func TestClassify(t *testing.T) {
	if err := classify("op", nil); err != nil {
		t.Errorf("classify(nil) = %v", err)
	}
	if err := classify("op", mongo.ErrNoDocuments); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("classify(ErrNoDocuments) = %v, want ErrNotFound", err)
	}

	dup := mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000, Message: "E11000 duplicate key"}}}
	if err := classify("op", dup); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("classify(duplicate) = %v, want ErrDuplicate", err)
	}

	if err := classify("op", mongo.ErrClientDisconnected); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("classify(disconnected) = %v, want ErrUnavailable", err)
	}

	other := fmt.Errorf("boom")
	if err := classify("op", other); !errors.Is(err, other) {
		t.Errorf("classify(other) = %v, should wrap original", err)
	}
}
