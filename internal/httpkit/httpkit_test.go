package httpkit

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestNewClient_DefaultTimeout(t *testing.T) {
	c := NewClient()
	if c.Timeout != DefaultTimeout {
		t.Errorf("expected %v timeout, got %v", DefaultTimeout, c.Timeout)
	}
}

func TestNewClient_CustomTimeout(t *testing.T) {
	c := NewClient(WithTimeout(5 * time.Second))
	if c.Timeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %v", c.Timeout)
	}
}

func echoUserAgent(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("User-Agent")))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, c *http.Client, req *http.Request) string {
	t.Helper()
	resp, err := c.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}

func TestNewClient_DefaultUserAgent(t *testing.T) {
	srv := echoUserAgent(t)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	if got := get(t, NewClient(), req); !strings.HasPrefix(got, "prenatal-clinic/") {
		t.Errorf("expected prenatal-clinic/ prefix, got %q", got)
	}
}

func TestNewClient_CustomUserAgent(t *testing.T) {
	srv := echoUserAgent(t)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	if got := get(t, NewClient(WithUserAgent("ClinicTest/1.0")), req); got != "ClinicTest/1.0" {
		t.Errorf("expected ClinicTest/1.0, got %q", got)
	}
}

func TestNewClient_RequestUserAgentWins(t *testing.T) {
	srv := echoUserAgent(t)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("User-Agent", "Explicit/2.0")
	if got := get(t, NewClient(), req); got != "Explicit/2.0" {
		t.Errorf("expected Explicit/2.0, got %q", got)
	}
}

type stubTransport struct{ calls int }

func (s *stubTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.calls++
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(req.Header.Get("User-Agent"))),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

func TestNewClient_WithTransport(t *testing.T) {
	stub := &stubTransport{}
	req, _ := http.NewRequest(http.MethodGet, "http://gateway.invalid/", nil)
	got := get(t, NewClient(WithTransport(stub)), req)
	if stub.calls != 1 {
		t.Errorf("stub transport calls = %d, want 1", stub.calls)
	}
	if !strings.HasPrefix(got, "prenatal-clinic/") {
		t.Errorf("user agent not applied over custom transport: %q", got)
	}
}

func TestIsUnreachable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"refused", syscall.ECONNREFUSED, true},
		{"host unreachable", syscall.EHOSTUNREACH, true},
		{"net unreachable", syscall.ENETUNREACH, true},
		{"wrapped refused", fmt.Errorf("post: %w", &net.OpError{Op: "dial", Err: &os.SyscallError{Syscall: "connect", Err: syscall.ECONNREFUSED}}), true},
		{"dns miss", &net.DNSError{Err: "no such host", Name: "fastapi", IsNotFound: true}, true},
		{"reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUnreachable(tt.err); got != tt.want {
				t.Errorf("IsUnreachable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsUnreachable_ClosedPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	_, err = NewClient(WithTimeout(2 * time.Second)).Get("http://" + addr)
	if err == nil {
		t.Fatal("expected error dialing closed port")
	}
	if !IsUnreachable(err) {
		t.Errorf("IsUnreachable(%v) = false, want true", err)
	}
}

type trackingBody struct {
	io.Reader
	closed bool
}

func (b *trackingBody) Close() error {
	b.closed = true
	return nil
}

func TestReadErrorBody(t *testing.T) {
	body := &trackingBody{Reader: strings.NewReader(`{"detail":"bad field"}` + strings.Repeat("x", 4096))}
	got := ReadErrorBody(body, 22)
	if got != `{"detail":"bad field"}` {
		t.Errorf("ReadErrorBody = %q", got)
	}
	if !body.closed {
		t.Error("body not closed")
	}
	if ReadErrorBody(nil, 10) != "" {
		t.Error("nil body should yield empty string")
	}
}

func TestDrainAndClose(t *testing.T) {
	body := &trackingBody{Reader: strings.NewReader("leftover")}
	DrainAndClose(body, 1024)
	if !body.closed {
		t.Error("body not closed")
	}
	DrainAndClose(nil, 1024)
}
