package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nugget/prenatal-clinic/internal/apperr"
	"github.com/nugget/prenatal-clinic/internal/gateway"
	"github.com/nugget/prenatal-clinic/internal/store"
	"github.com/nugget/prenatal-clinic/internal/store/sqlite"
)

type fakeGateway struct {
	mu    sync.Mutex
	reply string
	err   error
	calls []gateway.Request
	// hook runs inside Complete, before returning.
	hook func()
}

func (g *fakeGateway) Complete(ctx context.Context, text, threadID, userID string) (*gateway.Reply, error) {
	g.mu.Lock()
	g.calls = append(g.calls, gateway.Request{Message: text, ThreadID: threadID, UserID: userID})
	g.mu.Unlock()
	if g.hook != nil {
		g.hook()
	}
	// A real HTTP call fails once its context is canceled.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.err != nil {
		return nil, g.err
	}
	return &gateway.Reply{Response: g.reply, ThreadID: "t-" + threadID}, nil
}

func testStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(sqlite.DriverModernc, filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// steppingClock advances one second per call.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func TestSubmitTurn_NewConversation(t *testing.T) {
	s := testStore(t)
	gw := &fakeGateway{reply: "Hi there"}
	o := New(s, gw, "gpt-4o-mini", nil, WithClock(steppingClock()), WithIDs(sequentialIDs()))
	ctx := context.Background()

	res, err := o.SubmitTurn(ctx, TurnRequest{Text: "Hello", UserID: "u1"})
	if err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}
	if res.Reply != "Hi there" || res.ConversationID == "" || res.MessageID == "" {
		t.Fatalf("result = %+v", res)
	}

	conv, err := s.GetConversation(ctx, res.ConversationID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if conv.MessageCount != 2 {
		t.Errorf("message_count = %d, want 2", conv.MessageCount)
	}
	if conv.Title != "Hello" {
		t.Errorf("title = %q, want Hello", conv.Title)
	}
	if conv.LastMessagePreview != "Hi there" {
		t.Errorf("preview = %q, want AI reply", conv.LastMessagePreview)
	}
	if !conv.UpdatedAt.Equal(res.Timestamp) {
		t.Errorf("updated_at = %v, want AI timestamp %v", conv.UpdatedAt, res.Timestamp)
	}

	msgs, err := s.ListMessages(ctx, res.ConversationID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Type != store.TypeUser || msgs[0].Content != "Hello" || msgs[0].Metadata["user_id"] != "u1" {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].Type != store.TypeAI || msgs[1].MessageID != res.MessageID {
		t.Errorf("second message = %+v", msgs[1])
	}
	if msgs[1].Metadata["model_used"] != "gpt-4o-mini" || msgs[1].Metadata["fastapi_thread_id"] != "t-"+res.ConversationID {
		t.Errorf("AI metadata = %v", msgs[1].Metadata)
	}

	if len(gw.calls) != 1 || gw.calls[0].ThreadID != res.ConversationID {
		t.Errorf("gateway calls = %+v, want thread id = conversation id", gw.calls)
	}
}

func TestSubmitTurn_ExistingConversation(t *testing.T) {
	s := testStore(t)
	gw := &fakeGateway{reply: "Second answer"}
	o := New(s, gw, "m", nil, WithClock(steppingClock()))
	ctx := context.Background()

	first, err := o.SubmitTurn(ctx, TurnRequest{Text: "First", UserID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := o.SubmitTurn(ctx, TurnRequest{Text: "Second", UserID: "u1", ConversationID: first.ConversationID})
	if err != nil {
		t.Fatal(err)
	}
	if second.ConversationID != first.ConversationID {
		t.Errorf("conversation changed: %s != %s", second.ConversationID, first.ConversationID)
	}

	conv, _ := s.GetConversation(ctx, first.ConversationID)
	if conv.MessageCount != 4 {
		t.Errorf("message_count = %d, want 4", conv.MessageCount)
	}
	if conv.Title != "First" {
		t.Errorf("title changed to %q", conv.Title)
	}
}

func TestSubmitTurn_GatewayFailureKeepsUserMessage(t *testing.T) {
	s := testStore(t)
	gw := &fakeGateway{err: gateway.ErrUnavailable.WithCause(errors.New("connection refused"))}
	o := New(s, gw, "m", nil, WithIDs(sequentialIDs()))
	ctx := context.Background()

	_, err := o.SubmitTurn(ctx, TurnRequest{Text: "Hello", UserID: "u1"})
	if !errors.Is(err, gateway.ErrUnavailable) {
		t.Fatalf("err = %v, want gateway unavailable", err)
	}
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Step != StepGateway {
		t.Errorf("err = %v, want StepError at %s", err, StepGateway)
	}
	if k := apperr.KindOf(err); k != apperr.GatewayUnavailable {
		t.Errorf("kind = %v", k)
	}

	// id-1 is the conversation allocated for this turn.
	msgs, err := s.ListMessages(ctx, "id-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Type != store.TypeUser {
		t.Fatalf("messages = %+v, want only the user message", msgs)
	}
	conv, err := s.GetConversation(ctx, "id-1")
	if err != nil {
		t.Fatal(err)
	}
	if conv.MessageCount != 0 {
		t.Errorf("message_count = %d, want 0 after failed turn", conv.MessageCount)
	}
}

func TestSubmitTurn_PersistsAfterCancel(t *testing.T) {
	s := testStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	gw := &fakeGateway{reply: "late reply", hook: cancel}
	o := New(s, gw, "m", nil)

	res, err := o.SubmitTurn(ctx, TurnRequest{Text: "Hello", UserID: "u1"})
	if err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}
	assertTurnStored(t, s, res.ConversationID, "late reply")
}

func TestSubmitTurn_SlowGatewayAfterClientAbort(t *testing.T) {
	s := testStore(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"response":"slow reply","thread_id":"t1"}`)
	}))
	defer srv.Close()
	o := New(s, gateway.New(srv.URL, nil), "m", nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	defer cancel()

	res, err := o.SubmitTurn(ctx, TurnRequest{Text: "Hello", UserID: "u1"})
	if err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}
	if res.Reply != "slow reply" {
		t.Errorf("reply = %q", res.Reply)
	}
	assertTurnStored(t, s, res.ConversationID, "slow reply")
}

// assertTurnStored checks that both halves of a turn were persisted and
// counted.
func assertTurnStored(t *testing.T, s store.Store, convID, reply string) {
	t.Helper()
	ctx := context.Background()
	msgs, err := s.ListMessages(ctx, convID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 despite canceled request", len(msgs))
	}
	if msgs[0].Type != store.TypeUser || msgs[1].Type != store.TypeAI || msgs[1].Content != reply {
		t.Errorf("messages = %+v", msgs)
	}
	conv, err := s.GetConversation(ctx, convID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if conv.MessageCount != 2 {
		t.Errorf("message_count = %d, want 2", conv.MessageCount)
	}
}

func TestSubmitTurn_UnknownConversationID(t *testing.T) {
	s := testStore(t)
	o := New(s, &fakeGateway{reply: "ok"}, "m", nil)
	ctx := context.Background()

	res, err := o.SubmitTurn(ctx, TurnRequest{Text: "Hello", UserID: "u1", ConversationID: "ghost"})
	if err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}
	if res.ConversationID != "ghost" {
		t.Errorf("conversation id = %q", res.ConversationID)
	}
	msgs, _ := s.ListMessages(ctx, "ghost")
	if len(msgs) != 2 {
		t.Errorf("got %d messages, want 2", len(msgs))
	}
}

func TestSubmitTurn_Validation(t *testing.T) {
	o := New(testStore(t), &fakeGateway{}, "m", nil)
	for _, req := range []TurnRequest{{UserID: "u1"}, {Text: "Hello"}} {
		_, err := o.SubmitTurn(context.Background(), req)
		if !errors.Is(err, ErrMissingFields) {
			t.Errorf("SubmitTurn(%+v) = %v, want ErrMissingFields", req, err)
		}
	}
}

func TestSubmitTurn_TitleTruncation(t *testing.T) {
	s := testStore(t)
	o := New(s, &fakeGateway{reply: "ok"}, "m", nil)
	text := strings.Repeat("é", 120)

	res, err := o.SubmitTurn(context.Background(), TurnRequest{Text: text, UserID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	conv, _ := s.GetConversation(context.Background(), res.ConversationID)
	if want := strings.Repeat("é", 50) + "..."; conv.Title != want {
		t.Errorf("title = %q, want %q", conv.Title, want)
	}
}

func TestNewConversation(t *testing.T) {
	s := testStore(t)
	o := New(s, &fakeGateway{}, "m", nil)
	ctx := context.Background()

	id, err := o.NewConversation(ctx, "u1", "")
	if err != nil {
		t.Fatal(err)
	}
	conv, err := s.GetConversation(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if conv.Title != DefaultTitle || conv.MessageCount != 0 || conv.LastMessagePreview != "" {
		t.Errorf("conversation = %+v", conv)
	}

	id2, _ := o.NewConversation(ctx, "u1", "Week 20 questions")
	conv2, _ := s.GetConversation(ctx, id2)
	if conv2.Title != "Week 20 questions" {
		t.Errorf("title = %q", conv2.Title)
	}

	if _, err := o.NewConversation(ctx, "", "x"); apperr.KindOf(err) != apperr.Validation {
		t.Errorf("missing user id: err = %v, want validation", err)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in     string
		n      int
		suffix string
		want   string
	}{
		{"short", 10, "...", "short"},
		{"exactly10!", 10, "...", "exactly10!"},
		{"this is too long", 7, "...", "this is..."},
		{"日本語のテキスト", 3, "", "日本語"},
		{"", 5, "...", ""},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.n, tt.suffix); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
