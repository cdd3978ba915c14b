// Package stream folds an incremental completion into one assistant message.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"glados/backend/internal/model"
)

// State of one in-flight reply.
type State int

const (
	Idle State = iota
	Sending
	Streaming
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sending:
		return "sending"
	case Streaming:
		return "streaming"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// KeepPartialOnFailure is the default failure policy: text streamed before
// an error stays in the message and the error is appended below it.
const KeepPartialOnFailure = true

var ErrInvalidTransition = errors.New("invalid stream state transition")

// MessageLog is what an Accumulator writes into.
type MessageLog interface {
	AppendMessage(ctx context.Context, sessionID string, msg model.Message) (model.Message, error)
	StreamContent(sessionID, messageID, content string) error
	CommitContent(ctx context.Context, sessionID, messageID, content string) error
	FailContent(ctx context.Context, sessionID, messageID, content string) error
}

// Accumulator drives the placeholder message of one reply through
// Idle, Sending, Streaming and finally Done or Failed.
type Accumulator struct {
	log         MessageLog
	sessionID   string
	keepPartial bool

	mu        sync.Mutex
	state     State
	messageID string
	buf       strings.Builder
}

func NewAccumulator(log MessageLog, sessionID string, keepPartial bool) *Accumulator {
	return &Accumulator{log: log, sessionID: sessionID, keepPartial: keepPartial}
}

// Begin appends the empty assistant placeholder.
func (a *Accumulator) Begin(ctx context.Context) (model.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Idle {
		return model.Message{}, a.badTransition(Sending)
	}
	msg, err := a.log.AppendMessage(ctx, a.sessionID, model.Message{Role: model.RoleAssistant})
	if err != nil {
		return model.Message{}, err
	}
	a.messageID = msg.ID
	a.state = Sending
	return msg, nil
}

// Delta appends text and replaces the placeholder content with everything
// received so far. It returns the accumulated content.
func (a *Accumulator) Delta(text string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Sending && a.state != Streaming {
		return "", a.badTransition(Streaming)
	}
	a.state = Streaming
	a.buf.WriteString(text)
	content := a.buf.String()
	return content, a.log.StreamContent(a.sessionID, a.messageID, content)
}

// Finish settles the accumulated content as the final reply.
func (a *Accumulator) Finish(ctx context.Context) (string, error) {
	return a.settle(ctx, Done, nil)
}

// Cancel stops accumulation and keeps what arrived so far. A cancelled reply
// is Done, not Failed.
func (a *Accumulator) Cancel(ctx context.Context) (string, error) {
	return a.settle(ctx, Done, nil)
}

// Fail turns the placeholder into a visible error message.
func (a *Accumulator) Fail(ctx context.Context, cause error) (string, error) {
	return a.settle(ctx, Failed, cause)
}

func (a *Accumulator) settle(ctx context.Context, to State, cause error) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Sending && a.state != Streaming {
		return "", a.badTransition(to)
	}
	content := a.buf.String()
	a.state = to
	if to == Failed {
		content = FailureContent(content, cause, a.keepPartial)
		return content, a.log.FailContent(ctx, a.sessionID, a.messageID, content)
	}
	return content, a.log.CommitContent(ctx, a.sessionID, a.messageID, content)
}

func (a *Accumulator) badTransition(to State) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.state, to)
}

func (a *Accumulator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Accumulator) MessageID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.messageID
}

func (a *Accumulator) Content() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.String()
}

// FailureContent renders a failed reply. With keepPartial the error follows
// any partial text after a blank line; otherwise only the error remains.
func FailureContent(partial string, cause error, keepPartial bool) string {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	marker := model.ErrorPrefix + msg
	if keepPartial && partial != "" {
		return partial + "\n\n" + marker
	}
	return marker
}
