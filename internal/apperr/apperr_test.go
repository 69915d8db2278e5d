package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKind_HTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{Internal, http.StatusInternalServerError},
		{Validation, http.StatusBadRequest},
		{NotFound, http.StatusNotFound},
		{Conflict, http.StatusConflict},
		{GatewayUnavailable, http.StatusServiceUnavailable},
		{GatewayTimeout, http.StatusServiceUnavailable},
		{GatewayBadRequest, http.StatusBadRequest},
		{StoreUnavailable, http.StatusServiceUnavailable},
		{Kind(99), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := tt.kind.HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestKindOf_Wrapped(t *testing.T) {
	base := New(Conflict, "Message already favorited")
	wrapped := fmt.Errorf("add favorite: %w", base)

	if got := KindOf(wrapped); got != Conflict {
		t.Errorf("KindOf(wrapped) = %v, want %v", got, Conflict)
	}
	if got := KindOf(errors.New("plain")); got != Internal {
		t.Errorf("KindOf(plain) = %v, want %v", got, Internal)
	}
}

func TestError_IsMatchesSentinelWithCause(t *testing.T) {
	sentinel := New(NotFound, "Conversation not found")
	cause := errors.New("no rows")
	err := fmt.Errorf("lookup: %w", sentinel.WithCause(cause))

	if !errors.Is(err, sentinel) {
		t.Error("errors.Is should match sentinel through WithCause copy")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the underlying cause")
	}
	if errors.Is(err, New(NotFound, "Message not found")) {
		t.Error("errors.Is should not match a sentinel with a different message")
	}
}

func TestWrap_Nil(t *testing.T) {
	if Wrap(Internal, "x", nil) != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestError_Message(t *testing.T) {
	err := Wrap(StoreUnavailable, "Database service unavailable", errors.New("dial tcp: refused"))
	want := "Database service unavailable: dial tcp: refused"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
