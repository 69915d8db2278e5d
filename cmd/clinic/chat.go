package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/prenatal-clinic/internal/api"
	"github.com/nugget/prenatal-clinic/internal/client"
)

const chatHelp = `Commands:
  /new            start a new conversation
  /retry          resend the last message that failed
  /history        list your conversations
  /open <id>      continue a conversation
  /favorite       save the last answer to your favorites
  /favorites      list your saved answers
  /quit           leave`

// chatSession is one interactive terminal chat. Lines typed by the user
// go through the local transcript first so a failed send can be
// retried without retyping.
type chatSession struct {
	api   *client.Client
	user  string
	out   io.Writer
	log   client.Transcript
	now   func() time.Time
	newID func() string
}

// runChat handles "clinic chat": a line-oriented chat loop reading from
// in until EOF or /quit.
func runChat(ctx context.Context, in io.Reader, stdout io.Writer, configPath string, args []string) error {
	f, err := parseClientFlags(args)
	if err != nil {
		return err
	}
	base, err := serverURL(configPath, f.url)
	if err != nil {
		return err
	}

	s := &chatSession{
		api:   client.New(base, nil),
		user:  f.user,
		out:   stdout,
		now:   time.Now,
		newID: uuid.NewString,
	}
	if f.conversation != "" {
		if err := s.open(ctx, f.conversation); err != nil {
			return err
		}
	}
	fmt.Fprintf(stdout, "Connected to %s as %s. Type /help for commands.\n", base, f.user)
	return s.loop(ctx, in)
}

func (s *chatSession) loop(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	// Pasted text may run far past bufio's default 64 KiB line limit.
	scanner.Buffer(make([]byte, 0, 64<<10), api.MaxBodyBytes)
	for {
		fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		cmd, arg, _ := strings.Cut(line, " ")
		var err error
		switch cmd {
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Fprintln(s.out, chatHelp)
		case "/new":
			s.log.Reset("")
			fmt.Fprintln(s.out, "Started a new conversation.")
		case "/retry":
			err = s.retry(ctx)
		case "/history":
			err = s.history(ctx)
		case "/open":
			err = s.open(ctx, strings.TrimSpace(arg))
		case "/favorite":
			err = s.favorite(ctx)
		case "/favorites":
			err = s.favorites(ctx)
		default:
			err = s.send(ctx, line)
		}
		if err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
}

// send submits text as a new user message.
func (s *chatSession) send(ctx context.Context, text string) error {
	id := s.newID()
	if err := s.log.Apply(client.Submitted{CorrelationID: id, Text: text, At: s.now()}); err != nil {
		return err
	}
	return s.deliver(ctx, id, text)
}

// retry resubmits the most recent failed message.
func (s *chatSession) retry(ctx context.Context) error {
	failed, ok := s.log.LastFailed()
	if !ok {
		fmt.Fprintln(s.out, "Nothing to retry.")
		return nil
	}
	id := s.newID()
	if err := s.log.Apply(client.Retried{FailedID: failed.CorrelationID, CorrelationID: id, At: s.now()}); err != nil {
		return err
	}
	return s.deliver(ctx, id, failed.Text)
}

func (s *chatSession) deliver(ctx context.Context, id, text string) error {
	reply, err := s.api.SendMessage(ctx, s.user, s.log.ConversationID, text)
	if err != nil {
		if applyErr := s.log.Apply(client.Failed{CorrelationID: id, Err: err}); applyErr != nil {
			return applyErr
		}
		fmt.Fprintf(s.out, "! not delivered: %v (type /retry to resend)\n", err)
		return nil
	}
	if err := s.log.Apply(client.Replied{
		CorrelationID:  id,
		ConversationID: reply.ConversationID,
		MessageID:      reply.MessageID,
		Reply:          reply.Response,
		At:             reply.Timestamp,
	}); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "clinic: %s\n", reply.Response)
	return nil
}

func (s *chatSession) history(ctx context.Context) error {
	convs, err := s.api.Conversations(ctx, s.user)
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Fprintln(s.out, "No conversations yet.")
		return nil
	}
	for _, c := range convs {
		fmt.Fprintf(s.out, "  %s  %-50s  %d messages  %s\n",
			c.ConversationID, c.Title, c.MessageCount, c.UpdatedAt.Local().Format(time.DateTime))
	}
	return nil
}

// open loads an existing conversation into the transcript and prints
// it.
func (s *chatSession) open(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return fmt.Errorf("usage: /open <conversation id>")
	}
	thread, err := s.api.Messages(ctx, conversationID)
	if err != nil {
		return err
	}
	s.log.Load(conversationID, thread.Messages)
	fmt.Fprintf(s.out, "%s (%d messages)\n", thread.Conversation.Title, thread.TotalMessages)
	for _, e := range s.log.Entries() {
		speaker := "you"
		if e.Role == client.RoleAI {
			speaker = "clinic"
		}
		fmt.Fprintf(s.out, "%s: %s\n", speaker, e.Text)
	}
	return nil
}

func (s *chatSession) favorite(ctx context.Context) error {
	entries := s.log.Entries()
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Role != client.RoleAI || e.MessageID == "" {
			continue
		}
		if _, err := s.api.AddFavorite(ctx, s.user, e.MessageID, s.log.ConversationID); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "Saved to favorites.")
		return nil
	}
	fmt.Fprintln(s.out, "No answer to save yet.")
	return nil
}

func (s *chatSession) favorites(ctx context.Context) error {
	page, err := s.api.Favorites(ctx, s.user, 1, 10)
	if err != nil {
		return err
	}
	if len(page.Favorites) == 0 {
		fmt.Fprintln(s.out, "No favorites yet.")
		return nil
	}
	for _, f := range page.Favorites {
		fmt.Fprintf(s.out, "  [%s] %s\n", f.ConversationTitle, f.MessageContent)
	}
	if page.Pagination.HasNext {
		fmt.Fprintf(s.out, "  ... %d more\n", page.Pagination.Total-len(page.Favorites))
	}
	return nil
}
