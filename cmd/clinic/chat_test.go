package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/nugget/prenatal-clinic/internal/api"
	"github.com/nugget/prenatal-clinic/internal/chat"
	"github.com/nugget/prenatal-clinic/internal/favorites"
	"github.com/nugget/prenatal-clinic/internal/gateway"
	"github.com/nugget/prenatal-clinic/internal/history"
	"github.com/nugget/prenatal-clinic/internal/store/sqlite"
)

// newTestAPI runs the real API over a temp database. The stub gateway
// echoes messages back after failing the first failures chat calls.
func newTestAPI(t *testing.T, failures int32) string {
	t.Helper()

	var calls atomic.Int32
	gwSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.Write([]byte(`{}`))
			return
		}
		if calls.Add(1) <= failures {
			http.Error(w, "model overloaded", http.StatusBadGateway)
			return
		}
		var req gateway.Request
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(gateway.Reply{Response: "echo: " + req.Message, ThreadID: req.ThreadID})
	}))
	t.Cleanup(gwSrv.Close)

	s, err := sqlite.Open(sqlite.DriverModernc, filepath.Join(t.TempDir(), "cmd.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	gw := gateway.New(gwSrv.URL, nil)
	srv := api.NewServer(api.Options{}, api.Deps{
		Chat:      chat.New(s, gw, "test-model", nil),
		Favorites: favorites.New(s, nil),
		History:   history.New(s, nil),
		Store:     s,
		Gateway:   gw,
	}, nil)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func TestRunAsk(t *testing.T) {
	url := newTestAPI(t, 0)

	var out bytes.Buffer
	err := run(context.Background(), nil, &out, &out, []string{"ask", "-url", url, "-user", "u1", "is", "coffee", "ok?"})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !strings.HasPrefix(out.String(), "echo: is coffee ok?\n") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "conversation: ") {
		t.Errorf("output lacks conversation id:\n%s", out.String())
	}
}

func TestRunAsk_JSON(t *testing.T) {
	url := newTestAPI(t, 0)

	var out bytes.Buffer
	if err := run(context.Background(), nil, &out, &out, []string{"-o", "json", "ask", "-url=" + url, "hello"}); err != nil {
		t.Fatalf("ask: %v", err)
	}
	var reply struct {
		Response       string `json:"response"`
		ConversationID string `json:"conversation_id"`
		MessageID      string `json:"message_id"`
	}
	if err := json.Unmarshal(out.Bytes(), &reply); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if reply.Response != "echo: hello" || reply.ConversationID == "" || reply.MessageID == "" {
		t.Errorf("reply = %+v", reply)
	}
}

func TestRunAsk_GatewayFailure(t *testing.T) {
	url := newTestAPI(t, 1)

	var out bytes.Buffer
	err := run(context.Background(), nil, &out, &out, []string{"ask", "-url", url, "hello"})
	if err == nil || !strings.Contains(err.Error(), "api 500") {
		t.Errorf("ask error = %v, want api 500", err)
	}
}

func TestRunChat_RetryAndFavorite(t *testing.T) {
	url := newTestAPI(t, 1)

	in := strings.NewReader(strings.Join([]string{
		"hello there",
		"/retry",
		"/retry",
		"/favorite",
		"/favorites",
		"/quit",
		"never sent",
	}, "\n"))
	var out bytes.Buffer
	if err := run(context.Background(), in, &out, &out, []string{"chat", "-url", url, "-user", "u1"}); err != nil {
		t.Fatalf("chat: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"! not delivered",
		"clinic: echo: hello there",
		"Nothing to retry.",
		"Saved to favorites.",
		"[hello there] echo: hello there",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output lacks %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "never sent") {
		t.Errorf("input after /quit was processed:\n%s", got)
	}
}

func TestRunChat_OpenAndNew(t *testing.T) {
	url := newTestAPI(t, 0)

	var first bytes.Buffer
	if err := run(context.Background(), nil, &first, &first, []string{"-o", "json", "ask", "-url", url, "-user", "u1", "first question"}); err != nil {
		t.Fatal(err)
	}
	var reply struct {
		ConversationID string `json:"conversation_id"`
	}
	json.Unmarshal(first.Bytes(), &reply)

	in := strings.NewReader("second question\n/history\n/new\n/favorite\n")
	var out bytes.Buffer
	args := []string{"chat", "-url", url, "-user", "u1", "-conversation", reply.ConversationID}
	if err := run(context.Background(), in, &out, &out, args); err != nil {
		t.Fatalf("chat: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"first question (2 messages)",
		"you: first question",
		"clinic: echo: first question",
		"clinic: echo: second question",
		reply.ConversationID,
		"4 messages",
		"Started a new conversation.",
		"No answer to save yet.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output lacks %q:\n%s", want, got)
		}
	}
}

func TestRunChat_OpenUnknown(t *testing.T) {
	url := newTestAPI(t, 0)

	var out bytes.Buffer
	err := run(context.Background(), strings.NewReader(""), &out, &out, []string{"chat", "-url", url, "-conversation", "missing"})
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("chat error = %v, want 404", err)
	}
}

func TestRunChat_LongLine(t *testing.T) {
	url := newTestAPI(t, 0)
	long := strings.Repeat("a", 200<<10)

	in := strings.NewReader(long + "\n/quit\n")
	var out bytes.Buffer
	if err := run(context.Background(), in, &out, &out, []string{"chat", "-url", url, "-user", "u1"}); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !strings.Contains(out.String(), "clinic: echo: "+long+"\n") {
		t.Errorf("long message was not delivered in full (output %d bytes)", out.Len())
	}
}
