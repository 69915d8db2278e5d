package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nugget/prenatal-clinic/internal/store"
	"github.com/nugget/prenatal-clinic/internal/store/storetest"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clinic.bolt")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open(%q): %v", path, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return testStore(t) })
}

func TestOpen_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "clinic.bolt")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Close()
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.bolt")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := &store.Conversation{ConversationID: "c1", UserID: "u1", Title: "Nausea", CreatedAt: now, UpdatedAt: now}
	if err := s.CreateConversation(ctx, c); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if err := s.AddMessage(ctx, &store.Message{ConversationID: "c1", MessageID: "m1", Type: store.TypeUser, Content: "hi", Timestamp: now}); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	got, err := s.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("GetConversation after reopen: %v", err)
	}
	if got.Title != "Nausea" {
		t.Errorf("Title = %q, want %q", got.Title, "Nausea")
	}
	// The message index survives, so duplicates are still caught.
	err = s.AddMessage(ctx, &store.Message{ConversationID: "c1", MessageID: "m1", Type: store.TypeUser, Timestamp: now})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("AddMessage duplicate after reopen = %v, want ErrDuplicate", err)
	}
}

func TestDeleteMessages_ClearsIndex(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := s.AddMessage(ctx, &store.Message{ConversationID: "c1", MessageID: "m1", Type: store.TypeAI, Timestamp: now}); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	n, err := s.DeleteMessages(ctx, "c1")
	if err != nil || n != 1 {
		t.Fatalf("DeleteMessages = %d, %v; want 1, nil", n, err)
	}
	if _, err := s.GetMessage(ctx, "c1", "m1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetMessage after delete = %v, want ErrNotFound", err)
	}
	if err := s.AddMessage(ctx, &store.Message{ConversationID: "c2", MessageID: "m1", Type: store.TypeAI, Timestamp: now}); err != nil {
		t.Errorf("reusing a deleted message id: %v", err)
	}
}

func TestCanceledContext(t *testing.T) {
	s := testStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.GetConversation(ctx, "c1"); !errors.Is(err, context.Canceled) {
		t.Errorf("GetConversation = %v, want context.Canceled", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Ping = %v, want context.Canceled", err)
	}
}

func TestPing_Closed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "closed.bolt")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Close()
	if err := s.Ping(context.Background()); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("Ping after Close = %v, want ErrUnavailable", err)
	}
}

func TestParseIndexValue(t *testing.T) {
	conv, key, ok := parseIndexValue(indexValue("c\x00weird", seqKey(7)))
	if !ok || conv != "c\x00weird" || len(key) != 8 || key[7] != 7 {
		t.Errorf("parseIndexValue = %q, %v, %v", conv, key, ok)
	}
	if _, _, ok := parseIndexValue(nil); ok {
		t.Error("nil value should not parse")
	}
}
