package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"glados/backend/internal/export"
	"glados/backend/internal/interfaces"
	"glados/backend/internal/model"
	"glados/backend/internal/service"
)

const listTitleWidth = 40

const helpText = `Commands:
  /new                     start a new chat
  /list [query]            list chats, optionally filtered
  /switch N                switch to chat N from the last /list
  /rename TITLE            rename the current chat
  /pin                     pin or unpin the current chat
  /delete                  delete the current chat
  /history                 show the visible messages of the current chat
  /more                    show one more page of older messages
  /regen                   regenerate the last reply
  /edit N TEXT             replace message N and regenerate from there
  /rm N                    delete message N
  /image PROMPT            generate an image
  /export [md|txt|json]    write the current chat to a file
  exit                     quit
`

var (
	youLabel   = color.New(color.FgGreen, color.Bold).SprintFunc()
	aiLabel    = color.New(color.FgCyan, color.Bold).SprintFunc()
	errorLabel = color.New(color.FgRed).SprintFunc()
	dimLabel   = color.New(color.Faint).SprintFunc()
)

type repl struct {
	chat     interfaces.ChatService
	sessions interfaces.SessionStore
	settings interfaces.SettingsService
	out      io.Writer

	interrupts <-chan os.Signal
	// render formats a finished reply. nil prints replies as plain text.
	render func(string) string
	plain  bool

	// listed is the session order shown by the last /list, for /switch.
	listed []string
	now    func() time.Time
}

func (r *repl) prompt() {
	fmt.Fprint(r.out, youLabel("You: "))
}

// command splits a line into its command word and the rest. Lines that are
// not commands return an empty name.
func command(line string) (name, arg string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return "", line
	}
	name, arg, _ = strings.Cut(line, " ")
	return name, strings.TrimSpace(arg)
}

// indexArg parses a 1-based message number followed by optional text.
func indexArg(arg string) (int, string, error) {
	num, rest, _ := strings.Cut(strings.TrimSpace(arg), " ")
	n, err := strconv.Atoi(num)
	if err != nil || n < 1 {
		return 0, "", fmt.Errorf("expected a message number, got %q", num)
	}
	return n - 1, strings.TrimSpace(rest), nil
}

// handle runs one input line and reports whether the loop should continue.
func (r *repl) handle(ctx context.Context, line string) bool {
	name, arg := command(line)
	var err error
	switch name {
	case "":
		switch arg {
		case "":
			return true
		case "exit", "quit":
			return false
		}
		err = r.send(ctx, arg)
	case "/help":
		fmt.Fprint(r.out, helpText)
	case "/new":
		r.sessions.CreateSession(ctx)
		fmt.Fprintln(r.out, dimLabel("Started a new chat."))
	case "/list":
		r.list(arg)
	case "/switch":
		err = r.switchTo(ctx, arg)
	case "/rename":
		err = r.withCurrent(func(id string) error { return r.sessions.RenameSession(ctx, id, arg) })
	case "/pin":
		err = r.withCurrent(func(id string) error {
			pinned, err := r.sessions.TogglePin(ctx, id)
			if err == nil {
				fmt.Fprintln(r.out, dimLabel(fmt.Sprintf("Pinned: %t", pinned)))
			}
			return err
		})
	case "/delete":
		err = r.withCurrent(func(id string) error { return r.chat.DeleteSession(ctx, id) })
	case "/history":
		err = r.history()
	case "/more":
		err = r.withCurrent(func(id string) error {
			if _, err := r.sessions.GrowWindow(ctx, id); err != nil {
				return err
			}
			return r.history()
		})
	case "/regen":
		err = r.regenerate(ctx)
	case "/edit":
		err = r.edit(ctx, arg)
	case "/rm":
		err = r.withCurrent(func(id string) error {
			index, _, err := indexArg(arg)
			if err != nil {
				return err
			}
			return r.chat.DeleteMessage(ctx, id, index)
		})
	case strings.TrimSpace(service.ImageCommand):
		err = r.send(ctx, service.ImageCommand+arg)
	case "/export":
		err = r.export(ctx, arg)
	default:
		err = fmt.Errorf("unknown command %s, try /help", name)
	}
	if err != nil {
		fmt.Fprintln(r.out, errorLabel("Error: "+err.Error()))
	}
	return true
}

func (r *repl) withCurrent(fn func(id string) error) error {
	id := r.sessions.Current()
	if id == "" {
		return errors.New("no chat selected, start one with /new")
	}
	return fn(id)
}

func (r *repl) list(query string) {
	sessions := r.sessions.Search(query)
	current := r.sessions.Current()
	r.listed = r.listed[:0]
	if len(sessions) == 0 {
		fmt.Fprintln(r.out, dimLabel("No chats."))
		return
	}
	for i, sess := range sessions {
		r.listed = append(r.listed, sess.ID)
		marker := " "
		if sess.ID == current {
			marker = "*"
		}
		pin := ""
		if sess.Pinned {
			pin = " [pinned]"
		}
		title := runewidth.FillRight(runewidth.Truncate(sess.Title, listTitleWidth, "..."), listTitleWidth)
		fmt.Fprintf(r.out, "%s %2d. %s %s%s\n", marker, i+1, title, dimLabel(fmt.Sprintf("%d messages", len(sess.Messages))), pin)
	}
}

func (r *repl) switchTo(ctx context.Context, arg string) error {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(r.listed) {
		return fmt.Errorf("expected a chat number from /list, got %q", arg)
	}
	if err := r.sessions.SelectSession(ctx, r.listed[n-1]); err != nil {
		return err
	}
	return r.history()
}

func (r *repl) aiName(ctx context.Context) string {
	if r.settings != nil {
		if st, err := r.settings.Get(ctx); err == nil && st.AIName != "" {
			return st.AIName
		}
	}
	return "AI"
}

func (r *repl) history() error {
	return r.withCurrent(func(id string) error {
		view, err := r.sessions.VisibleWindow(id)
		if err != nil {
			return err
		}
		name := r.aiName(context.Background())
		if view.HasOlder {
			fmt.Fprintln(r.out, dimLabel(fmt.Sprintf("%d older messages, /more shows them", view.Total-len(view.Messages))))
		}
		first := view.Total - len(view.Messages)
		for i, msg := range view.Messages {
			label := youLabel(fmt.Sprintf("[%d] You:", first+i+1))
			if msg.Role != model.RoleUser {
				label = aiLabel(fmt.Sprintf("[%d] %s:", first+i+1, name))
			}
			fmt.Fprintln(r.out, label)
			if len(msg.Images) > 0 {
				fmt.Fprintln(r.out, dimLabel(fmt.Sprintf("[%d image(s) attached]", len(msg.Images))))
			}
			r.printReply(msg.Content, msg.IsError())
		}
		return nil
	})
}

func (r *repl) printReply(content string, failed bool) {
	switch {
	case failed:
		fmt.Fprintln(r.out, errorLabel(content))
	case r.render != nil:
		fmt.Fprint(r.out, r.render(content))
	default:
		fmt.Fprintln(r.out, content)
	}
}

// lastAssistant returns the index of the last assistant message of the
// current session.
func (r *repl) lastAssistant(id string) (int, error) {
	sess, err := r.sessions.Get(id)
	if err != nil {
		return 0, err
	}
	for i := len(sess.Messages) - 1; i >= 0; i-- {
		if sess.Messages[i].Role == model.RoleAssistant {
			return i, nil
		}
	}
	return 0, errors.New("there is no reply to regenerate")
}

func (r *repl) send(ctx context.Context, content string) error {
	return r.stream(ctx, r.sessions.Current(), func(ctx context.Context, ch chan<- model.StreamResponse) error {
		return r.chat.HandleNewMessage(ctx, &service.CreateMessageRequest{Content: content}, ch)
	})
}

func (r *repl) regenerate(ctx context.Context) error {
	return r.withCurrent(func(id string) error {
		index, err := r.lastAssistant(id)
		if err != nil {
			return err
		}
		return r.stream(ctx, id, func(ctx context.Context, ch chan<- model.StreamResponse) error {
			return r.chat.Regenerate(ctx, id, index, ch)
		})
	})
}

func (r *repl) edit(ctx context.Context, arg string) error {
	return r.withCurrent(func(id string) error {
		index, text, err := indexArg(arg)
		if err != nil {
			return err
		}
		if text == "" {
			return errors.New("usage: /edit N TEXT")
		}
		return r.stream(ctx, id, func(ctx context.Context, ch chan<- model.StreamResponse) error {
			return r.chat.Edit(ctx, id, index, text, ch)
		})
	})
}

// stream runs start in the background and prints its reply. An interrupt
// stops the reply, which keeps what arrived so far.
func (r *repl) stream(ctx context.Context, sessionID string, start func(context.Context, chan<- model.StreamResponse) error) error {
	ch := make(chan model.StreamResponse)
	errCh := make(chan error, 1)
	go func() { errCh <- start(ctx, ch) }()

	var reply strings.Builder
	header := false
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return <-errCh
			}
			if chunk.SessionID != "" {
				sessionID = chunk.SessionID
			}
			if !header && (chunk.Content != "" || chunk.Done) {
				fmt.Fprintln(r.out, aiLabel(r.aiName(ctx)+":"))
				header = true
			}
			reply.WriteString(chunk.Content)
			if r.plain || r.render == nil {
				fmt.Fprint(r.out, chunk.Content)
			}
			if !chunk.Done {
				continue
			}
			if !r.plain && r.render != nil && reply.Len() > 0 {
				fmt.Fprint(r.out, r.render(reply.String()))
			} else {
				fmt.Fprintln(r.out)
			}
			if chunk.Error != "" {
				fmt.Fprintln(r.out, errorLabel("Error: "+chunk.Error))
			}
		case <-r.interrupts:
			if sessionID != "" && r.chat.Stop(sessionID) {
				fmt.Fprintln(r.out, dimLabel("\n(stopped)"))
			}
		}
	}
}

func (r *repl) export(ctx context.Context, arg string) error {
	return r.withCurrent(func(id string) error {
		format, err := export.ParseFormat(arg)
		if err != nil {
			return err
		}
		sess, err := r.sessions.Get(id)
		if err != nil {
			return err
		}
		now := time.Now
		if r.now != nil {
			now = r.now
		}
		doc, err := export.Export(sess, format, r.aiName(ctx), now())
		if err != nil {
			return err
		}
		if err := os.WriteFile(doc.Filename, doc.Content, 0o644); err != nil {
			return fmt.Errorf("could not write %s: %w", doc.Filename, err)
		}
		fmt.Fprintln(r.out, dimLabel("Wrote "+doc.Filename))
		return nil
	})
}
