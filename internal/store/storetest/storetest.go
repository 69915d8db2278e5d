// Package storetest holds a behavioral test suite that every
// [store.Store] backend must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nugget/prenatal-clinic/internal/store"
)

// Factory returns a fresh, empty store. It registers its own cleanup.
type Factory func(t *testing.T) store.Store

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"ConversationRoundTrip", testConversationRoundTrip},
		{"DuplicateConversation", testDuplicateConversation},
		{"ListConversationsOrderAndLimit", testListConversationsOrderAndLimit},
		{"UpdateConversationIncrements", testUpdateConversationIncrements},
		{"UpdateMissingConversation", testUpdateMissingConversation},
		{"MessagesOrdered", testMessagesOrdered},
		{"GetMessageScopedToConversation", testGetMessageScopedToConversation},
		{"DeleteConversationAndMessages", testDeleteConversationAndMessages},
		{"ConversationTitles", testConversationTitles},
		{"FavoriteLifecycle", testFavoriteLifecycle},
		{"FavoriteUniqueUnderConcurrency", testFavoriteUniqueUnderConcurrency},
		{"ListFavoritesPaged", testListFavoritesPaged},
		{"Ping", testPing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func conversation(id, user string, updated time.Time) *store.Conversation {
	return &store.Conversation{
		ConversationID:     id,
		UserID:             user,
		Title:              "title " + id,
		CreatedAt:          base,
		UpdatedAt:          updated,
		LastMessagePreview: "preview " + id,
	}
}

func message(conv, id, typ string, ts time.Time) *store.Message {
	return &store.Message{
		ConversationID: conv,
		MessageID:      id,
		Type:           typ,
		Content:        "content " + id,
		Timestamp:      ts,
		Metadata:       store.Metadata{"user_id": "u1"},
	}
}

func testConversationRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	want := conversation("c1", "u1", base.Add(time.Minute))
	if err := s.CreateConversation(ctx, want); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	got, err := s.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.UserID != want.UserID || got.Title != want.Title || got.LastMessagePreview != want.LastMessagePreview {
		t.Errorf("GetConversation = %+v, want %+v", got, want)
	}
	if !got.UpdatedAt.Equal(want.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, want.UpdatedAt)
	}

	if _, err := s.GetConversation(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetConversation(missing) error = %v, want ErrNotFound", err)
	}
}

func testDuplicateConversation(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.CreateConversation(ctx, conversation("c1", "u1", base)); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	err := s.CreateConversation(ctx, conversation("c1", "u2", base))
	if !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("second CreateConversation error = %v, want ErrDuplicate", err)
	}
}

func testListConversationsOrderAndLimit(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := 0; i < 60; i++ {
		c := conversation(fmt.Sprintf("c%02d", i), "u1", base.Add(time.Duration(i)*time.Second))
		if err := s.CreateConversation(ctx, c); err != nil {
			t.Fatalf("CreateConversation: %v", err)
		}
	}
	if err := s.CreateConversation(ctx, conversation("other", "u2", base.Add(time.Hour))); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	list, err := s.ListConversations(ctx, "u1", 50)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(list) != 50 {
		t.Fatalf("len = %d, want 50", len(list))
	}
	if list[0].ConversationID != "c59" {
		t.Errorf("first = %s, want c59", list[0].ConversationID)
	}
	for i := 1; i < len(list); i++ {
		if list[i].UpdatedAt.After(list[i-1].UpdatedAt) {
			t.Fatalf("not newest-first at %d: %v after %v", i, list[i].UpdatedAt, list[i-1].UpdatedAt)
		}
		if list[i].UserID != "u1" {
			t.Fatalf("foreign conversation %s in list", list[i].ConversationID)
		}
	}
}

func testUpdateConversationIncrements(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.CreateConversation(ctx, conversation("c1", "u1", base)); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	later := base.Add(5 * time.Minute)
	for i := 0; i < 2; i++ {
		err := s.UpdateConversation(ctx, "c1", store.ConversationUpdate{
			UpdatedAt:  later,
			Preview:    "latest reply",
			CountDelta: 2,
		})
		if err != nil {
			t.Fatalf("UpdateConversation: %v", err)
		}
	}

	got, err := s.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.MessageCount != 4 {
		t.Errorf("MessageCount = %d, want 4", got.MessageCount)
	}
	if got.LastMessagePreview != "latest reply" {
		t.Errorf("LastMessagePreview = %q", got.LastMessagePreview)
	}
	if !got.UpdatedAt.Equal(later) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, later)
	}
}

func testUpdateMissingConversation(t *testing.T, s store.Store) {
	err := s.UpdateConversation(context.Background(), "nope", store.ConversationUpdate{UpdatedAt: base, CountDelta: 2})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("UpdateConversation(missing) error = %v, want ErrNotFound", err)
	}
}

func testMessagesOrdered(t *testing.T, s store.Store) {
	ctx := context.Background()
	// Inserted out of order on purpose.
	offsets := []int{3, 1, 4, 0, 2}
	for _, off := range offsets {
		m := message("c1", fmt.Sprintf("m%d", off), store.TypeUser, base.Add(time.Duration(off)*time.Millisecond))
		if err := s.AddMessage(ctx, m); err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
	}
	if err := s.AddMessage(ctx, message("c2", "other", store.TypeAI, base)); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	list, err := s.ListMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(list) != len(offsets) {
		t.Fatalf("len = %d, want %d", len(list), len(offsets))
	}
	for i := 1; i < len(list); i++ {
		if list[i].Timestamp.Before(list[i-1].Timestamp) {
			t.Errorf("messages out of order at %d", i)
		}
	}
	if list[0].Metadata["user_id"] != "u1" {
		t.Errorf("metadata = %v, want user_id u1", list[0].Metadata)
	}
}

func testGetMessageScopedToConversation(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.AddMessage(ctx, message("c1", "m1", store.TypeAI, base)); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	got, err := s.GetMessage(ctx, "c1", "m1")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.Type != store.TypeAI || got.Content != "content m1" {
		t.Errorf("GetMessage = %+v", got)
	}

	if _, err := s.GetMessage(ctx, "c2", "m1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetMessage(wrong conversation) error = %v, want ErrNotFound", err)
	}
}

func testDeleteConversationAndMessages(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.CreateConversation(ctx, conversation("c1", "u1", base)); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.AddMessage(ctx, message("c1", fmt.Sprintf("m%d", i), store.TypeUser, base)); err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
	}

	n, err := s.DeleteMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("DeleteMessages: %v", err)
	}
	if n != 3 {
		t.Errorf("DeleteMessages removed %d, want 3", n)
	}
	if err := s.DeleteConversation(ctx, "c1"); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if err := s.DeleteConversation(ctx, "c1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second DeleteConversation error = %v, want ErrNotFound", err)
	}
	list, err := s.ListMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("ListMessages after delete = %d rows", len(list))
	}
}

func testConversationTitles(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, id := range []string{"c1", "c2"} {
		if err := s.CreateConversation(ctx, conversation(id, "u1", base)); err != nil {
			t.Fatalf("CreateConversation: %v", err)
		}
	}

	titles, err := s.ConversationTitles(ctx, []string{"c1", "c2", "gone"})
	if err != nil {
		t.Fatalf("ConversationTitles: %v", err)
	}
	if len(titles) != 2 || titles["c1"] != "title c1" || titles["c2"] != "title c2" {
		t.Errorf("ConversationTitles = %v", titles)
	}

	empty, err := s.ConversationTitles(ctx, nil)
	if err != nil {
		t.Fatalf("ConversationTitles(nil): %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("ConversationTitles(nil) = %v, want empty", empty)
	}
}

func favorite(id, user, msg string, at time.Time) *store.Favorite {
	return &store.Favorite{
		FavoriteID:       id,
		UserID:           user,
		MessageID:        msg,
		ConversationID:   "c1",
		MessageContent:   "content " + msg,
		MessageTimestamp: base,
		FavoritedAt:      at,
		Metadata: store.FavoriteMetadata{
			MessageType:      store.TypeAI,
			OriginalMetadata: store.Metadata{"model_used": "test-model"},
		},
	}
}

func testFavoriteLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.AddFavorite(ctx, favorite("f1", "u1", "m1", base)); err != nil {
		t.Fatalf("AddFavorite: %v", err)
	}

	got, err := s.GetFavorite(ctx, "u1", "m1")
	if err != nil {
		t.Fatalf("GetFavorite: %v", err)
	}
	if got.FavoriteID != "f1" || got.Metadata.MessageType != store.TypeAI {
		t.Errorf("GetFavorite = %+v", got)
	}
	if got.Metadata.OriginalMetadata["model_used"] != "test-model" {
		t.Errorf("original metadata = %v", got.Metadata.OriginalMetadata)
	}

	if _, err := s.GetFavorite(ctx, "u2", "m1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetFavorite(other user) error = %v, want ErrNotFound", err)
	}

	if err := s.DeleteFavorite(ctx, "u1", "m1"); err != nil {
		t.Fatalf("DeleteFavorite: %v", err)
	}
	if err := s.DeleteFavorite(ctx, "u1", "m1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second DeleteFavorite error = %v, want ErrNotFound", err)
	}
}

func testFavoriteUniqueUnderConcurrency(t *testing.T, s store.Store) {
	ctx := context.Background()
	const workers = 8

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.AddFavorite(ctx, favorite(fmt.Sprintf("f%d", i), "u1", "m1", base))
		}(i)
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, store.ErrDuplicate):
			dup++
		default:
			t.Errorf("unexpected AddFavorite error: %v", err)
		}
	}
	if ok != 1 || dup != workers-1 {
		t.Errorf("ok = %d, dup = %d; want 1 and %d", ok, dup, workers-1)
	}

	n, err := s.CountFavorites(ctx, "u1")
	if err != nil {
		t.Fatalf("CountFavorites: %v", err)
	}
	if n != 1 {
		t.Errorf("CountFavorites = %d, want 1", n)
	}
}

func testListFavoritesPaged(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		f := favorite(fmt.Sprintf("f%d", i), "u1", fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Second))
		if err := s.AddFavorite(ctx, f); err != nil {
			t.Fatalf("AddFavorite: %v", err)
		}
	}

	page1, err := s.ListFavorites(ctx, "u1", 0, 3)
	if err != nil {
		t.Fatalf("ListFavorites: %v", err)
	}
	if len(page1) != 3 || page1[0].FavoriteID != "f6" || page1[2].FavoriteID != "f4" {
		t.Errorf("page1 = %v", favoriteIDs(page1))
	}

	page3, err := s.ListFavorites(ctx, "u1", 6, 3)
	if err != nil {
		t.Fatalf("ListFavorites: %v", err)
	}
	if len(page3) != 1 || page3[0].FavoriteID != "f0" {
		t.Errorf("page3 = %v", favoriteIDs(page3))
	}

	n, err := s.CountFavorites(ctx, "u1")
	if err != nil {
		t.Fatalf("CountFavorites: %v", err)
	}
	if n != 7 {
		t.Errorf("CountFavorites = %d, want 7", n)
	}
}

func testPing(t *testing.T, s store.Store) {
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func favoriteIDs(list []store.Favorite) []string {
	ids := make([]string, len(list))
	for i, f := range list {
		ids[i] = f.FavoriteID
	}
	return ids
}
