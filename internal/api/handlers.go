package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/nugget/prenatal-clinic/internal/chat"
	"github.com/nugget/prenatal-clinic/internal/history"
	"github.com/nugget/prenatal-clinic/internal/store"
)

// decodeBody reads a JSON body into v. An empty body leaves v at its
// zero value so the handler's own validation answers.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
	UserID         string `json:"user_id"`
}

// ChatResponse is the reply to POST /api/chat.
type ChatResponse struct {
	Response       string    `json:"response"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	Timestamp      time.Time `json:"timestamp"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeBody(r, &req); err != nil {
		s.bodyError(w, r, err)
		return
	}

	res, err := s.deps.Chat.SubmitTurn(r.Context(), chat.TurnRequest{
		Text:           req.Message,
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
	})
	if err != nil {
		s.fail(w, r, err, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{
		Response:       res.Reply,
		ConversationID: res.ConversationID,
		MessageID:      res.MessageID,
		Timestamp:      res.Timestamp,
	}, s.logger)
}

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.History.ListConversations(r.Context(), r.PathValue("user_id"), history.DefaultConversationLimit)
	if err != nil {
		s.fail(w, r, err, "Failed to fetch conversations")
		return
	}
	if list == nil {
		list = []store.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": list}, s.logger)
}

func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	conv, msgs, err := s.deps.History.GetConversationWithMessages(r.Context(), r.PathValue("conversation_id"))
	if err != nil {
		s.fail(w, r, err, "Failed to fetch messages")
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation":   conv,
		"messages":       msgs,
		"total_messages": len(msgs),
	}, s.logger)
}

type newConversationRequest struct {
	UserID string `json:"user_id"`
	Title  string `json:"title,omitempty"`
}

func (s *Server) handleConversationNew(w http.ResponseWriter, r *http.Request) {
	var req newConversationRequest
	if err := decodeBody(r, &req); err != nil {
		s.bodyError(w, r, err)
		return
	}

	id, err := s.deps.Chat.NewConversation(r.Context(), req.UserID, req.Title)
	if err != nil {
		s.fail(w, r, err, "Failed to create conversation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"conversation_id": id,
		"message":         "New conversation created",
	}, s.logger)
}

type userRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) handleConversationDelete(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeBody(r, &req); err != nil {
		s.bodyError(w, r, err)
		return
	}

	if err := s.deps.History.DeleteConversation(r.Context(), r.PathValue("conversation_id"), req.UserID); err != nil {
		s.fail(w, r, err, "Failed to delete conversation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Conversation deleted successfully"}, s.logger)
}

type addFavoriteRequest struct {
	UserID         string `json:"user_id"`
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

func (s *Server) handleFavoriteAdd(w http.ResponseWriter, r *http.Request) {
	var req addFavoriteRequest
	if err := decodeBody(r, &req); err != nil {
		s.bodyError(w, r, err)
		return
	}

	fav, err := s.deps.Favorites.Add(r.Context(), req.UserID, req.MessageID, req.ConversationID)
	if err != nil {
		s.fail(w, r, err, "Failed to add favorite")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"favorite_id":  fav.FavoriteID,
		"message":      "Message added to favorites",
		"favorited_at": fav.FavoritedAt,
	}, s.logger)
}

func (s *Server) handleFavoriteRemove(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeBody(r, &req); err != nil {
		s.bodyError(w, r, err)
		return
	}

	if err := s.deps.Favorites.Remove(r.Context(), req.UserID, r.PathValue("message_id")); err != nil {
		s.fail(w, r, err, "Failed to remove favorite")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Message removed from favorites"}, s.logger)
}

// queryInt parses an integer query parameter, returning def when it is
// absent. Range checks are the service's job.
func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func (s *Server) handleFavoriteList(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", history.DefaultPage)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "page must be an integer"}, s.logger)
		return
	}
	limit, err := queryInt(r, "limit", history.DefaultPageSize)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be an integer"}, s.logger)
		return
	}

	res, err := s.deps.History.ListFavorites(r.Context(), r.PathValue("user_id"), page, limit)
	if err != nil {
		s.fail(w, r, err, "Failed to fetch favorites")
		return
	}
	writeJSON(w, http.StatusOK, res, s.logger)
}

func (s *Server) handleFavoriteCheck(w http.ResponseWriter, r *http.Request) {
	ok, id, err := s.deps.Favorites.IsFavorited(r.Context(), r.PathValue("user_id"), r.PathValue("message_id"))
	if err != nil {
		s.fail(w, r, err, "Failed to check favorite status")
		return
	}

	var favoriteID *string
	if ok {
		favoriteID = &id
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"is_favorited": ok,
		"favorite_id":  favoriteID,
	}, s.logger)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error":  "Route not found",
		"path":   r.URL.RequestURI(),
		"method": r.Method,
	}, s.logger)
}
