// Package client is a Go client for the clinic chat HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/prenatal-clinic/internal/httpkit"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string // the body's "error" field
	Detail  string // the body's "message" field, if any
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api %d: %s (%s)", e.Status, e.Message, e.Detail)
	}
	return fmt.Sprintf("api %d: %s", e.Status, e.Message)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusServiceUnavailable || e.Status == http.StatusTooManyRequests
}

// Conversation mirrors the server's conversation record.
type Conversation struct {
	ConversationID     string    `json:"conversation_id"`
	UserID             string    `json:"user_id"`
	Title              string    `json:"title"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	MessageCount       int       `json:"message_count"`
	LastMessagePreview string    `json:"last_message_preview"`
}

// Message mirrors the server's message record.
type Message struct {
	ConversationID string         `json:"conversation_id"`
	MessageID      string         `json:"message_id"`
	Type           string         `json:"type"`
	Content        string         `json:"content"`
	Timestamp      time.Time      `json:"timestamp"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Favorite is one entry of a favorites page.
type Favorite struct {
	FavoriteID        string    `json:"favorite_id"`
	UserID            string    `json:"user_id"`
	MessageID         string    `json:"message_id"`
	ConversationID    string    `json:"conversation_id"`
	MessageContent    string    `json:"message_content"`
	MessageTimestamp  time.Time `json:"message_timestamp"`
	FavoritedAt       time.Time `json:"favorited_at"`
	ConversationTitle string    `json:"conversation_title"`
}

// Pagination mirrors the server's page bookkeeping.
type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

// FavoritesPage is the answer to Favorites.
type FavoritesPage struct {
	Favorites  []Favorite `json:"favorites"`
	Pagination Pagination `json:"pagination"`
}

// ChatReply is the answer to SendMessage.
type ChatReply struct {
	Response       string    `json:"response"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	Timestamp      time.Time `json:"timestamp"`
}

// Thread is a conversation with its messages.
type Thread struct {
	Conversation  Conversation `json:"conversation"`
	Messages      []Message    `json:"messages"`
	TotalMessages int          `json:"total_messages"`
}

// Health is the answer to Health.
type Health struct {
	Status    string    `json:"status"`
	Database  string    `json:"database"`
	FastAPI   string    `json:"fastapi"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// Client calls one clinic server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for baseURL (for example http://localhost:3001).
// A nil hc gets an httpkit client with a timeout above the server's
// gateway ceiling.
func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = httpkit.NewClient(httpkit.WithTimeout(45 * time.Second))
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: hc}
}

// SendMessage runs one chat turn. An empty conversationID starts a new
// conversation.
func (c *Client) SendMessage(ctx context.Context, userID, conversationID, text string) (*ChatReply, error) {
	body := map[string]string{"message": text, "user_id": userID}
	if conversationID != "" {
		body["conversation_id"] = conversationID
	}
	var out ChatReply
	if err := c.do(ctx, http.MethodPost, "/api/chat", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Conversations lists the user's most recent conversations.
func (c *Client) Conversations(ctx context.Context, userID string) ([]Conversation, error) {
	var out struct {
		Conversations []Conversation `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(userID), nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// Messages fetches a conversation with its messages.
func (c *Client) Messages(ctx context.Context, conversationID string) (*Thread, error) {
	var out Thread
	if err := c.do(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(conversationID)+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// NewConversation creates an empty conversation and returns its id.
func (c *Client) NewConversation(ctx context.Context, userID, title string) (string, error) {
	body := map[string]string{"user_id": userID}
	if title != "" {
		body["title"] = title
	}
	var out struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/conversations/new", body, &out); err != nil {
		return "", err
	}
	return out.ConversationID, nil
}

// DeleteConversation deletes a conversation the user owns.
func (c *Client) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	return c.do(ctx, http.MethodDelete, "/api/conversations/"+url.PathEscape(conversationID),
		map[string]string{"user_id": userID}, nil)
}

// AddFavorite favorites a message and returns the favorite id.
func (c *Client) AddFavorite(ctx context.Context, userID, messageID, conversationID string) (string, error) {
	var out struct {
		FavoriteID string `json:"favorite_id"`
	}
	err := c.do(ctx, http.MethodPost, "/api/favorites", map[string]string{
		"user_id":         userID,
		"message_id":      messageID,
		"conversation_id": conversationID,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.FavoriteID, nil
}

// RemoveFavorite removes the user's favorite for a message.
func (c *Client) RemoveFavorite(ctx context.Context, userID, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/api/favorites/"+url.PathEscape(messageID),
		map[string]string{"user_id": userID}, nil)
}

// Favorites fetches one page of the user's favorites. Zero page or
// limit uses the server default.
func (c *Client) Favorites(ctx context.Context, userID string, page, limit int) (*FavoritesPage, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/favorites/" + url.PathEscape(userID)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out FavoritesPage
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckFavorite reports whether the user has favorited the message.
func (c *Client) CheckFavorite(ctx context.Context, userID, messageID string) (bool, string, error) {
	var out struct {
		IsFavorited bool    `json:"is_favorited"`
		FavoriteID  *string `json:"favorite_id"`
	}
	path := "/api/favorites/" + url.PathEscape(userID) + "/check/" + url.PathEscape(messageID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return false, "", err
	}
	if out.FavoriteID == nil {
		return out.IsFavorited, "", nil
	}
	return out.IsFavorited, *out.FavoriteID, nil
}

// Health fetches the server's health report. An unhealthy server
// answers 503; the report is still returned alongside the *APIError.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	err := c.do(ctx, http.MethodGet, "/api/health", nil, &out)
	if err != nil && out.Status == "" {
		return nil, err
	}
	return &out, err
}

// do sends a JSON request and decodes a JSON response into out. Error
// bodies are decoded into an *APIError, and also into out when the
// server sent a structured report (health).
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	}
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw := httpkit.ReadErrorBody(resp.Body, 64<<10)
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var eb struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal([]byte(raw), &eb) == nil && eb.Error != "" {
			apiErr.Message = eb.Error
			apiErr.Detail = eb.Message
		}
		if out != nil && method == http.MethodGet {
			_ = json.Unmarshal([]byte(raw), out)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
