package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	apperrors "glados/backend/internal/errors"
	"glados/backend/internal/llm"
	"glados/backend/internal/model"
	"glados/backend/internal/session"
	"glados/backend/internal/stream"
)

// ImageCommand prefixes a message that asks for an image instead of a reply.
const ImageCommand = "/image "

const titleTimeout = 30 * time.Second

// SettingsReader is the part of SettingsService the chat flow reads.
type SettingsReader interface {
	Get(ctx context.Context) (*Settings, error)
}

// ChatOptions tunes a ChatService.
type ChatOptions struct {
	// Provider is the backend name from configuration, used to decide
	// whether an API key is required.
	Provider             string
	KeepPartialOnFailure bool
	// TitleModel enables background title generation when set.
	TitleModel    string
	TitleMaxWidth int
}

type ChatService struct {
	store    *session.Store
	llm      llm.LLMProvider
	settings SettingsReader
	streams  *stream.Registry
	opts     ChatOptions
	titles   sync.WaitGroup
}

// CreateMessageRequest is a user submission. An empty SessionID targets the
// current session, creating one when there is none.
type CreateMessageRequest struct {
	SessionID string   `json:"session_id,omitempty"`
	Content   string   `json:"content" example:"What is the capital of France?"`
	Images    []string `json:"images,omitempty"`
	Model     string   `json:"model,omitempty"`
}

func NewChatService(store *session.Store, provider llm.LLMProvider, settings SettingsReader, opts ChatOptions) *ChatService {
	if opts.TitleMaxWidth <= 0 {
		opts.TitleMaxWidth = session.DefaultTitleMaxWidth
	}
	return &ChatService{
		store:    store,
		llm:      provider,
		settings: settings,
		streams:  stream.NewRegistry(),
		opts:     opts,
	}
}

// loadSettings returns the settings, or ErrConfiguration when the backend
// needs a credential and none is stored.
func (s *ChatService) loadSettings(ctx context.Context) (*Settings, error) {
	st, err := s.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not read settings: %w", err)
	}
	if llm.RequiresKey(s.opts.Provider) && !st.HasAPIKey() {
		return nil, fmt.Errorf("%w: an API key is required before sending messages", apperrors.ErrConfiguration)
	}
	return st, nil
}

// HandleNewMessage appends the user's message and streams the assistant
// reply into the session, forwarding every chunk on streamChan. Errors that
// prevent the exchange from starting are returned before anything is sent
// or stored. Failures during the reply end up in the assistant message and
// in the final chunk instead. streamChan is closed in every case.
func (s *ChatService) HandleNewMessage(ctx context.Context, req *CreateMessageRequest, streamChan chan<- model.StreamResponse) error {
	defer close(streamChan)

	st, err := s.loadSettings(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(req.Content) == "" && len(req.Images) == 0 {
		return fmt.Errorf("%w: message content cannot be empty", apperrors.ErrValidation)
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = s.store.Current()
	}
	if sessionID == "" {
		sessionID = s.store.CreateSession(ctx)
	} else if _, err := s.store.Get(sessionID); err != nil {
		return err
	}

	streamCtx, release, err := s.streams.Acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer release()

	if prompt, ok := strings.CutPrefix(req.Content, ImageCommand); ok {
		if _, supported := s.llm.(llm.ImageGenerator); supported {
			return s.imageReply(streamCtx, sessionID, strings.TrimSpace(prompt), st, streamChan)
		}
	}

	if _, err := s.store.AppendMessage(ctx, sessionID, model.Message{
		Role:    model.RoleUser,
		Content: req.Content,
		Images:  req.Images,
	}); err != nil {
		return err
	}
	slog.Info("User message appended", "session_id", sessionID, "images", len(req.Images))

	return s.reply(ctx, streamCtx, sessionID, modelFor(req.Model, st), st, streamChan)
}

// Regenerate discards the assistant message at index and everything after
// it, then streams a fresh reply to the remaining prefix.
func (s *ChatService) Regenerate(ctx context.Context, sessionID string, index int, streamChan chan<- model.StreamResponse) error {
	defer close(streamChan)

	st, err := s.loadSettings(ctx)
	if err != nil {
		return err
	}
	streamCtx, release, err := s.streams.Acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer release()

	if err := s.expectRole(sessionID, index, model.RoleAssistant); err != nil {
		return err
	}
	if err := s.store.TruncateMessages(ctx, sessionID, index); err != nil {
		return err
	}
	slog.Info("Regenerating reply", "session_id", sessionID, "index", index)

	return s.reply(ctx, streamCtx, sessionID, st.Model, st, streamChan)
}

// Edit replaces the user message at index with newContent, discards every
// message after it and streams a fresh reply. Attached images are kept.
func (s *ChatService) Edit(ctx context.Context, sessionID string, index int, newContent string, streamChan chan<- model.StreamResponse) error {
	defer close(streamChan)

	st, err := s.loadSettings(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(newContent) == "" {
		return fmt.Errorf("%w: message content cannot be empty", apperrors.ErrValidation)
	}
	streamCtx, release, err := s.streams.Acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer release()

	if err := s.expectRole(sessionID, index, model.RoleUser); err != nil {
		return err
	}
	if _, err := s.store.RewriteMessage(ctx, sessionID, index, newContent); err != nil {
		return err
	}
	slog.Info("User message edited", "session_id", sessionID, "index", index)

	return s.reply(ctx, streamCtx, sessionID, st.Model, st, streamChan)
}

func (s *ChatService) expectRole(sessionID string, index int, role model.Role) error {
	msgs, err := s.store.Messages(sessionID)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(msgs) {
		return fmt.Errorf("%w: message index %d out of range", apperrors.ErrNotFound, index)
	}
	if msgs[index].Role != role {
		return fmt.Errorf("%w: message %d is a %s message, expected %s", apperrors.ErrValidation, index, msgs[index].Role, role)
	}
	return nil
}

// DeleteMessage removes one message without regenerating anything.
func (s *ChatService) DeleteMessage(ctx context.Context, sessionID string, index int) error {
	if s.streams.Busy(sessionID) {
		return fmt.Errorf("%w: a reply is streaming in session %s", apperrors.ErrConflict, sessionID)
	}
	return s.store.DeleteMessage(ctx, sessionID, index)
}

// DeleteSession removes a session unless a reply is streaming into it.
func (s *ChatService) DeleteSession(ctx context.Context, sessionID string) error {
	if s.streams.Busy(sessionID) {
		return fmt.Errorf("%w: a reply is streaming in session %s", apperrors.ErrConflict, sessionID)
	}
	return s.store.DeleteSession(ctx, sessionID)
}

// ClearMessages empties a session log unless a reply is streaming into it.
func (s *ChatService) ClearMessages(ctx context.Context, sessionID string) error {
	if s.streams.Busy(sessionID) {
		return fmt.Errorf("%w: a reply is streaming in session %s", apperrors.ErrConflict, sessionID)
	}
	return s.store.ClearMessages(ctx, sessionID)
}

// Stop cancels the reply streaming in sessionID. The partial reply is kept.
func (s *ChatService) Stop(sessionID string) bool {
	stopped := s.streams.Cancel(sessionID)
	if stopped {
		slog.Info("Reply stopped by user", "session_id", sessionID)
	}
	return stopped
}

// Busy reports whether a reply is streaming in sessionID.
func (s *ChatService) Busy(sessionID string) bool {
	return s.streams.Busy(sessionID)
}

func modelFor(requested string, st *Settings) string {
	if requested != "" {
		return requested
	}
	return st.Model
}

// buildMessages turns the session log into the request history. Empty and
// failed assistant turns are left out. Content is never inspected for error
// text, so replies quoting errors are sent as they are.
func buildMessages(systemPrompt string, history []model.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history)+1)
	if strings.TrimSpace(systemPrompt) != "" {
		out = append(out, llm.Message{Role: string(model.RoleSystem), Content: systemPrompt})
	}
	for _, m := range history {
		if m.Role == model.RoleAssistant && (m.Content == "" || m.IsError()) {
			continue
		}
		out = append(out, llm.Message{Role: string(m.Role), Content: m.Content, Images: m.Images})
	}
	return out
}

// emit forwards chunk unless ctx is done; a gone consumer must not stall the
// reply.
func emit(ctx context.Context, ch chan<- model.StreamResponse, chunk model.StreamResponse) {
	select {
	case ch <- chunk:
	case <-ctx.Done():
	}
}

// reply appends the assistant placeholder and folds the provider stream into
// it. ctx is the caller's context and streamCtx the cancellable one from the
// registry; persistence outlives both.
func (s *ChatService) reply(ctx, streamCtx context.Context, sessionID, modelName string, st *Settings, streamChan chan<- model.StreamResponse) error {
	history, err := s.store.Messages(sessionID)
	if err != nil {
		return err
	}

	persistCtx := context.WithoutCancel(ctx)
	acc := stream.NewAccumulator(s.store, sessionID, s.opts.KeepPartialOnFailure)
	placeholder, err := acc.Begin(persistCtx)
	if err != nil {
		return err
	}
	emit(ctx, streamChan, model.StreamResponse{SessionID: sessionID, MessageID: placeholder.ID})

	llmReq := &llm.GenerateRequest{
		Model:    modelName,
		Messages: buildMessages(st.SystemPrompt, history),
		APIKey:   st.APIKey,
	}
	llmStreamChan := make(chan llm.StreamResponse)
	errChan := make(chan error, 1)
	go func() { errChan <- s.llm.GenerateStream(streamCtx, llmReq, llmStreamChan) }()

	for chunk := range llmStreamChan {
		if chunk.Content == "" {
			continue
		}
		if _, err := acc.Delta(chunk.Content); err != nil {
			slog.Warn("Could not apply stream delta", "session_id", sessionID, "error", err)
		}
		emit(ctx, streamChan, model.StreamResponse{SessionID: sessionID, MessageID: placeholder.ID, Content: chunk.Content})
	}
	streamErr := <-errChan

	final := model.StreamResponse{SessionID: sessionID, MessageID: placeholder.ID, Done: true}
	switch {
	case streamCtx.Err() != nil:
		content, err := acc.Cancel(persistCtx)
		slog.Info("Reply cancelled, keeping partial content", "session_id", sessionID, "chars", len(content), "persist_error", err)
	case streamErr != nil:
		_, err := acc.Fail(persistCtx, streamErr)
		slog.Warn("Reply failed", "session_id", sessionID, "model", modelName, "error", streamErr, "persist_error", err)
		final.Error = streamErr.Error()
	default:
		content, err := acc.Finish(persistCtx)
		if err != nil {
			slog.Warn("Could not persist final reply", "session_id", sessionID, "error", err)
		}
		slog.Info("Reply completed", "session_id", sessionID, "model", modelName, "chars", len(content))
		s.maybeGenerateTitle(sessionID, st)
	}
	emit(ctx, streamChan, final)
	return nil
}

// imageReply answers an ImageCommand with a generated image rendered as a
// markdown image in the assistant message.
func (s *ChatService) imageReply(ctx context.Context, sessionID, prompt string, st *Settings, streamChan chan<- model.StreamResponse) error {
	if prompt == "" {
		return fmt.Errorf("%w: image prompt cannot be empty", apperrors.ErrValidation)
	}
	persistCtx := context.WithoutCancel(ctx)
	if _, err := s.store.AppendMessage(persistCtx, sessionID, model.Message{Role: model.RoleUser, Content: ImageCommand + prompt}); err != nil {
		return err
	}
	acc := stream.NewAccumulator(s.store, sessionID, s.opts.KeepPartialOnFailure)
	placeholder, err := acc.Begin(persistCtx)
	if err != nil {
		return err
	}
	emit(ctx, streamChan, model.StreamResponse{SessionID: sessionID, MessageID: placeholder.ID})

	final := model.StreamResponse{SessionID: sessionID, MessageID: placeholder.ID, Done: true}
	url, genErr := s.generateImage(ctx, prompt, st)
	if genErr != nil {
		if ctx.Err() != nil {
			_, _ = acc.Cancel(persistCtx)
		} else {
			_, _ = acc.Fail(persistCtx, genErr)
			final.Error = genErr.Error()
		}
	} else {
		content := fmt.Sprintf("![%s](%s)", prompt, url)
		_, _ = acc.Delta(content)
		_, _ = acc.Finish(persistCtx)
		final.Content = content
	}
	emit(ctx, streamChan, final)
	return nil
}

func (s *ChatService) generateImage(ctx context.Context, prompt string, st *Settings) (string, error) {
	gen, ok := s.llm.(llm.ImageGenerator)
	if !ok {
		return "", fmt.Errorf("%w: the configured provider cannot generate images", apperrors.ErrUnsupported)
	}
	resp, err := gen.GenerateImage(ctx, &llm.ImageRequest{Prompt: prompt, Model: st.Model, APIKey: st.APIKey})
	if err != nil {
		return "", err
	}
	slog.Info("Image generated", "model", resp.Model)
	return resp.URL, nil
}

// GenerateImage creates one image outside of any session and returns its URL.
func (s *ChatService) GenerateImage(ctx context.Context, prompt string) (string, error) {
	st, err := s.loadSettings(ctx)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("%w: image prompt cannot be empty", apperrors.ErrValidation)
	}
	return s.generateImage(ctx, prompt, st)
}

// maybeGenerateTitle starts background title generation after the first
// exchange of a session whose title was derived from its first message.
func (s *ChatService) maybeGenerateTitle(sessionID string, st *Settings) {
	if s.opts.TitleModel == "" {
		return
	}
	sess, err := s.store.Get(sessionID)
	if err != nil {
		return
	}
	firstUser, users := "", 0
	for _, m := range sess.Messages {
		if m.Role == model.RoleUser {
			if users == 0 {
				firstUser = m.Content
			}
			users++
		}
	}
	if users != 1 || sess.Title != session.DeriveTitle(firstUser, s.opts.TitleMaxWidth) {
		return
	}

	derived := sess.Title
	s.titles.Add(1)
	go func() {
		defer s.titles.Done()
		ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
		defer cancel()
		s.generateTitle(ctx, sessionID, derived, firstUser, st)
	}()
}

// generateTitle asks the title model for a short title and applies it unless
// the session was renamed in the meantime.
func (s *ChatService) generateTitle(ctx context.Context, sessionID, derived, userQuery string, st *Settings) {
	slog.Debug("Generating title", "session_id", sessionID, "model", s.opts.TitleModel)

	resp, err := s.llm.Generate(ctx, &llm.GenerateRequest{
		Model:  s.opts.TitleModel,
		APIKey: st.APIKey,
		Messages: []llm.Message{
			{Role: string(model.RoleSystem), Content: "You are a helpful assistant that generates short titles."},
			{Role: string(model.RoleUser), Content: "Generate a very short, concise title (max 4-5 words, under 28 chars) for the following user message. " +
				"Do not use quotes or punctuation. Ensure words are separated by spaces. Return ONLY the title.\n\nUser message: \"" + userQuery + "\""},
		},
	})
	if err != nil {
		slog.Warn("Failed to generate title", "session_id", sessionID, "error", err)
		return
	}
	title := strings.NewReplacer(`"`, "", `'`, "").Replace(strings.TrimSpace(resp.Response))
	if strings.TrimSpace(title) == "" {
		slog.Debug("Generated title was empty, keeping derived title", "session_id", sessionID)
		return
	}

	sess, err := s.store.Get(sessionID)
	if err != nil || sess.Title != derived {
		return
	}
	if err := s.store.RenameSession(ctx, sessionID, title); err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			slog.Warn("Failed to apply generated title", "session_id", sessionID, "error", err)
		}
		return
	}
	slog.Info("Applied generated title", "session_id", sessionID)
}

// Wait blocks until background title generation has finished.
func (s *ChatService) Wait() {
	s.titles.Wait()
}
