// Package chat runs a chat turn: it stores the user's message, asks the
// AI gateway for a reply, and stores the reply against the same
// conversation.
//
// A turn is a sequence of independent store writes around one external
// call. Nothing is rolled back: if the gateway fails, the user message
// stays stored and no AI message is written. Once a reply has arrived it
// is persisted even if the caller has gone away.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/prenatal-clinic/internal/apperr"
	"github.com/nugget/prenatal-clinic/internal/gateway"
	"github.com/nugget/prenatal-clinic/internal/store"
)

// Truncation limits, in characters.
const (
	TitleLength   = 50
	PreviewLength = 100
)

// DefaultTitle is used when a conversation is created without one.
const DefaultTitle = "New Conversation"

// ErrMissingFields rejects a turn without text or user.
var ErrMissingFields = apperr.New(apperr.Validation, "Message and user_id are required")

// Step names used in logs and error wrapping.
const (
	StepCreateConversation = "create_conversation"
	StepStoreUserMessage   = "store_user_message"
	StepGateway            = "gateway"
	StepStoreAIMessage     = "store_ai_message"
	StepUpdateConversation = "update_conversation"
)

// Completer produces an AI reply for one message. *gateway.Client
// implements it.
type Completer interface {
	Complete(ctx context.Context, text, threadID, userID string) (*gateway.Reply, error)
}

// TurnRequest is one user message.
type TurnRequest struct {
	Text           string
	ConversationID string // empty starts a new conversation
	UserID         string
}

// TurnResult describes the stored AI reply.
type TurnResult struct {
	Reply          string
	ConversationID string
	MessageID      string
	Timestamp      time.Time
}

// StepError records which step of a turn failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return e.Step + ": " + e.Err.Error() }
func (e *StepError) Unwrap() error { return e.Err }

// Orchestrator runs turns against a store and a gateway.
type Orchestrator struct {
	store   store.Store
	gateway Completer
	model   string
	logger  *slog.Logger

	now   func() time.Time
	newID func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDs replaces the UUID generator.
func WithIDs(newID func() string) Option {
	return func(o *Orchestrator) { o.newID = newID }
}

// New creates an Orchestrator. model is recorded on AI messages as
// model_used.
func New(s store.Store, g Completer, model string, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		store:   s,
		gateway: g,
		model:   model,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SubmitTurn processes one user message.
func (o *Orchestrator) SubmitTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if req.Text == "" || req.UserID == "" {
		return nil, ErrMissingFields
	}

	convID := req.ConversationID
	log := o.logger.With("user_id", req.UserID)

	if convID == "" {
		convID = o.newID()
		now := o.now()
		conv := &store.Conversation{
			ConversationID:     convID,
			UserID:             req.UserID,
			Title:              Truncate(req.Text, TitleLength, "..."),
			CreatedAt:          now,
			UpdatedAt:          now,
			LastMessagePreview: Truncate(req.Text, PreviewLength, ""),
		}
		if err := o.store.CreateConversation(ctx, conv); err != nil {
			return nil, o.fail(log, StepCreateConversation, convID, err)
		}
		log.Info("conversation created", "conversation_id", convID)
	}
	log = log.With("conversation_id", convID)

	userMsg := &store.Message{
		ConversationID: convID,
		MessageID:      o.newID(),
		Type:           store.TypeUser,
		Content:        req.Text,
		Timestamp:      o.now(),
		Metadata:       store.Metadata{"user_id": req.UserID},
	}
	if err := o.store.AddMessage(ctx, userMsg); err != nil {
		return nil, o.fail(log, StepStoreUserMessage, convID, err)
	}
	log.Debug("user message stored", "message_id", userMsg.MessageID)

	// From here on a client disconnect must not stop the turn: the
	// gateway call runs to its own timeout and a late reply is stored.
	persistCtx := context.WithoutCancel(ctx)

	reply, err := o.gateway.Complete(persistCtx, req.Text, convID, req.UserID)
	if err != nil {
		return nil, o.fail(log, StepGateway, convID, err)
	}

	aiMsg := &store.Message{
		ConversationID: convID,
		MessageID:      o.newID(),
		Type:           store.TypeAI,
		Content:        reply.Response,
		Timestamp:      o.now(),
		Metadata: store.Metadata{
			"fastapi_thread_id": reply.ThreadID,
			"model_used":        o.model,
		},
	}
	if err := o.store.AddMessage(persistCtx, aiMsg); err != nil {
		return nil, o.fail(log, StepStoreAIMessage, convID, err)
	}

	update := store.ConversationUpdate{
		UpdatedAt:  aiMsg.Timestamp,
		Preview:    Truncate(reply.Response, PreviewLength, ""),
		CountDelta: 2,
	}
	switch err := o.store.UpdateConversation(persistCtx, convID, update); {
	case errors.Is(err, store.ErrNotFound):
		// Messages were stored under a conversation id that has no
		// record; the turn still succeeds.
		log.Warn("turn stored under unknown conversation", "step", StepUpdateConversation)
	case err != nil:
		return nil, o.fail(log, StepUpdateConversation, convID, err)
	}

	log.Info("turn completed", "message_id", aiMsg.MessageID)
	return &TurnResult{
		Reply:          reply.Response,
		ConversationID: convID,
		MessageID:      aiMsg.MessageID,
		Timestamp:      aiMsg.Timestamp,
	}, nil
}

// NewConversation creates an empty conversation and returns its id.
func (o *Orchestrator) NewConversation(ctx context.Context, userID, title string) (string, error) {
	if userID == "" {
		return "", apperr.New(apperr.Validation, "user_id is required")
	}
	if title == "" {
		title = DefaultTitle
	}

	now := o.now()
	conv := &store.Conversation{
		ConversationID: o.newID(),
		UserID:         userID,
		Title:          title,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.store.CreateConversation(ctx, conv); err != nil {
		return "", o.fail(o.logger.With("user_id", userID), StepCreateConversation, conv.ConversationID, err)
	}
	o.logger.Info("conversation created", "conversation_id", conv.ConversationID, "user_id", userID)
	return conv.ConversationID, nil
}

// fail logs a failed step and wraps err with the step name. Store
// connection failures are classified so the API answers 503.
func (o *Orchestrator) fail(log *slog.Logger, step, convID string, err error) error {
	log.Error("turn step failed", "step", step, "error", err)
	if errors.Is(err, store.ErrUnavailable) {
		err = apperr.Wrap(apperr.StoreUnavailable, "Database service unavailable", err)
	}
	return &StepError{Step: step, Err: fmt.Errorf("conversation %s: %w", convID, err)}
}

// Truncate shortens s to at most n characters, appending suffix when
// anything was cut.
func Truncate(s string, n int, suffix string) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + suffix
}
