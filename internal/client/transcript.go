package client

import (
	"fmt"
	"slices"
	"time"
)

// State is the delivery state of a transcript entry.
type State string

const (
	StatePending State = "pending"
	StateSent    State = "sent"
	StateError   State = "error"
)

// Roles of transcript entries.
const (
	RoleUser = "user"
	RoleAI   = "ai"
)

// Entry is one line of the local transcript. User entries are keyed by
// a client-generated correlation id; AI entries carry the server's
// message id.
type Entry struct {
	CorrelationID string
	MessageID     string
	Role          string
	Text          string
	State         State
	Err           string
	Timestamp     time.Time
}

// Event is a change applied to a Transcript.
type Event interface {
	apply(t *Transcript) error
}

// Submitted records a user message sent to the server.
type Submitted struct {
	CorrelationID string
	Text          string
	At            time.Time
}

// Replied records the server's answer to a submitted message.
type Replied struct {
	CorrelationID  string
	ConversationID string
	MessageID      string
	Reply          string
	At             time.Time
}

// Failed records that a submitted message got no reply.
type Failed struct {
	CorrelationID string
	Err           error
}

// Retried replaces a failed entry with a fresh pending one carrying the
// same text under a new correlation id. The caller resubmits the text.
type Retried struct {
	FailedID      string
	CorrelationID string
	At            time.Time
}

// Transcript is the optimistic local view of a conversation: user
// messages appear as pending immediately and settle when the server
// answers. It is not safe for concurrent use.
type Transcript struct {
	ConversationID string
	entries        []Entry
}

// Apply folds ev into the transcript.
func (t *Transcript) Apply(ev Event) error {
	return ev.apply(t)
}

// Entries returns a copy of the transcript lines in display order.
func (t *Transcript) Entries() []Entry {
	return slices.Clone(t.entries)
}

// LastFailed returns the most recent failed user entry.
func (t *Transcript) LastFailed() (Entry, bool) {
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].State == StateError {
			return t.entries[i], true
		}
	}
	return Entry{}, false
}

// Pending counts user entries still awaiting a reply.
func (t *Transcript) Pending() int {
	n := 0
	for _, e := range t.entries {
		if e.State == StatePending {
			n++
		}
	}
	return n
}

// Reset empties the transcript and points it at conversationID, which
// may be empty to start a new conversation on the next send.
func (t *Transcript) Reset(conversationID string) {
	t.ConversationID = conversationID
	t.entries = nil
}

// Load replaces the transcript with messages fetched from the server.
func (t *Transcript) Load(conversationID string, msgs []Message) {
	t.Reset(conversationID)
	for _, m := range msgs {
		t.entries = append(t.entries, Entry{
			MessageID: m.MessageID,
			Role:      m.Type,
			Text:      m.Content,
			State:     StateSent,
			Timestamp: m.Timestamp,
		})
	}
}

func (t *Transcript) find(correlationID string) int {
	if correlationID == "" {
		return -1
	}
	return slices.IndexFunc(t.entries, func(e Entry) bool {
		return e.Role == RoleUser && e.CorrelationID == correlationID
	})
}

func (ev Submitted) apply(t *Transcript) error {
	if ev.CorrelationID == "" {
		return fmt.Errorf("submitted: empty correlation id")
	}
	if t.find(ev.CorrelationID) >= 0 {
		return fmt.Errorf("submitted: duplicate correlation id %s", ev.CorrelationID)
	}
	t.entries = append(t.entries, Entry{
		CorrelationID: ev.CorrelationID,
		Role:          RoleUser,
		Text:          ev.Text,
		State:         StatePending,
		Timestamp:     ev.At,
	})
	return nil
}

func (ev Replied) apply(t *Transcript) error {
	i := t.find(ev.CorrelationID)
	if i < 0 {
		return fmt.Errorf("replied: unknown correlation id %s", ev.CorrelationID)
	}
	if t.entries[i].State != StatePending {
		return fmt.Errorf("replied: entry %s is %s, not pending", ev.CorrelationID, t.entries[i].State)
	}

	t.entries[i].State = StateSent
	if t.ConversationID == "" {
		t.ConversationID = ev.ConversationID
	}
	reply := Entry{
		CorrelationID: ev.CorrelationID,
		MessageID:     ev.MessageID,
		Role:          RoleAI,
		Text:          ev.Reply,
		State:         StateSent,
		Timestamp:     ev.At,
	}
	t.entries = slices.Insert(t.entries, i+1, reply)
	return nil
}

func (ev Failed) apply(t *Transcript) error {
	i := t.find(ev.CorrelationID)
	if i < 0 {
		return fmt.Errorf("failed: unknown correlation id %s", ev.CorrelationID)
	}
	t.entries[i].State = StateError
	if ev.Err != nil {
		t.entries[i].Err = ev.Err.Error()
	}
	return nil
}

func (ev Retried) apply(t *Transcript) error {
	i := t.find(ev.FailedID)
	if i < 0 {
		return fmt.Errorf("retried: unknown correlation id %s", ev.FailedID)
	}
	if t.entries[i].State != StateError {
		return fmt.Errorf("retried: entry %s is %s, not failed", ev.FailedID, t.entries[i].State)
	}
	text := t.entries[i].Text
	t.entries = slices.Delete(t.entries, i, i+1)
	return Submitted{CorrelationID: ev.CorrelationID, Text: text, At: ev.At}.apply(t)
}
