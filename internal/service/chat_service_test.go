package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "glados/backend/internal/errors"
	"glados/backend/internal/kv"
	"glados/backend/internal/llm"
	mock_llm "glados/backend/internal/llm/mocks"
	"glados/backend/internal/model"
	"glados/backend/internal/service"
	"glados/backend/internal/session"
)

const (
	testTimeout = 2 * time.Second
	testTick    = 10 * time.Millisecond
)

type Mocks struct {
	llm      *mock_llm.MockLLMProvider
	store    *session.Store
	kv       *kv.Store
	settings *service.SettingsService
}

var testDefaults = service.Settings{
	APIKey:       "xai-test",
	Model:        "grok-3-mini",
	SystemPrompt: "You are GLaDOS.",
	AIName:       "GLaDOS",
	SiteName:     "GLaDOS",
}

func setupChatService(t *testing.T, opts service.ChatOptions) (*service.ChatService, Mocks) {
	t.Helper()
	return setupChatServiceWith(t, mock_llm.NewMockLLMProvider(t), opts)
}

func setupChatServiceWith(t *testing.T, provider *mock_llm.MockLLMProvider, opts service.ChatOptions) (*service.ChatService, Mocks) {
	t.Helper()
	kvs := kv.NewStore(kv.NewMemoryBackend(0), nil)
	store := session.Load(context.Background(), kvs, session.Options{})
	settings := service.NewSettingsService(kvs, testDefaults)
	if opts.Provider == "" {
		opts.Provider = llm.ProviderGrok
	}
	return service.NewChatService(store, provider, settings, opts), Mocks{llm: provider, store: store, kv: kvs, settings: settings}
}

func setupImageChatService(t *testing.T) (*service.ChatService, *mock_llm.MockImageProvider, Mocks) {
	t.Helper()
	provider := mock_llm.NewMockImageProvider(t)
	kvs := kv.NewStore(kv.NewMemoryBackend(0), nil)
	store := session.Load(context.Background(), kvs, session.Options{})
	settings := service.NewSettingsService(kvs, testDefaults)
	svc := service.NewChatService(store, provider, settings, service.ChatOptions{Provider: llm.ProviderGrok, KeepPartialOnFailure: true})
	return svc, provider, Mocks{store: store, kv: kvs, settings: settings}
}

// streamDeltas makes a GenerateStream expectation push deltas and close.
func streamDeltas(deltas ...string) func(mock.Arguments) {
	return func(args mock.Arguments) {
		ch := args.Get(2).(chan<- llm.StreamResponse)
		for _, d := range deltas {
			ch <- llm.StreamResponse{Content: d}
		}
		ch <- llm.StreamResponse{Done: true}
		close(ch)
	}
}

// run calls fn with a fresh channel and collects what it forwards.
func run(fn func(chan<- model.StreamResponse) error) ([]model.StreamResponse, error) {
	ch := make(chan model.StreamResponse)
	errCh := make(chan error, 1)
	go func() { errCh <- fn(ch) }()
	var chunks []model.StreamResponse
	for c := range ch {
		chunks = append(chunks, c)
	}
	return chunks, <-errCh
}

func contents(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func seedExchange(t *testing.T, store *session.Store, sid string, texts ...string) {
	t.Helper()
	for i, text := range texts {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		_, err := store.AppendMessage(context.Background(), sid, model.Message{Role: role, Content: text})
		require.NoError(t, err)
	}
}

func TestChatService_HandleNewMessage(t *testing.T) {
	ctx := context.Background()
	chatService, mocks := setupChatService(t, service.ChatOptions{KeepPartialOnFailure: true})

	var captured *llm.GenerateRequest
	mocks.llm.On("GenerateStream", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(1).(*llm.GenerateRequest)
			streamDeltas("Hel", "lo, ", "world!")(args)
		}).
		Return(nil).Once()

	chunks, err := run(func(ch chan<- model.StreamResponse) error {
		return chatService.HandleNewMessage(ctx, &service.CreateMessageRequest{Content: "Say hello"}, ch)
	})
	require.NoError(t, err)

	sid := mocks.store.Current()
	require.NotEmpty(t, sid)
	msgs, err := mocks.store.Messages(sid)
	require.NoError(t, err)
	assert.Equal(t, []string{"Say hello", "Hello, world!"}, contents(msgs))

	require.Len(t, chunks, 5)
	assert.Equal(t, msgs[1].ID, chunks[0].MessageID)
	assert.Equal(t, "Hel", chunks[1].Content)
	assert.True(t, chunks[4].Done)
	assert.Empty(t, chunks[4].Error)

	assert.Equal(t, "grok-3-mini", captured.Model)
	assert.Equal(t, "xai-test", captured.APIKey)
	assert.Equal(t, []llm.Message{
		{Role: "system", Content: "You are GLaDOS."},
		{Role: "user", Content: "Say hello"},
	}, captured.Messages)

	sess, _ := mocks.store.Get(sid)
	assert.Equal(t, "Say hello", sess.Title)
}

func TestChatService_HandleNewMessage_ConfigurationError(t *testing.T) {
	ctx := context.Background()
	chatService, mocks := setupChatService(t, service.ChatOptions{})
	sid := mocks.store.CreateSession(ctx)
	require.NoError(t, mocks.settings.Save(ctx, &service.Settings{Model: "grok-3-mini", AIName: "GLaDOS", SiteName: "GLaDOS"}))

	chunks, err := run(func(ch chan<- model.StreamResponse) error {
		return chatService.HandleNewMessage(ctx, &service.CreateMessageRequest{SessionID: sid, Content: "hi"}, ch)
	})

	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
	assert.Empty(t, chunks)
	msgs, _ := mocks.store.Messages(sid)
	assert.Empty(t, msgs)
}

func TestChatService_HandleNewMessage_Validation(t *testing.T) {
	ctx := context.Background()
	chatService, mocks := setupChatService(t, service.ChatOptions{})

	_, err := run(func(ch chan<- model.StreamResponse) error {
		return chatService.HandleNewMessage(ctx, &service.CreateMessageRequest{Content: "   "}, ch)
	})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = run(func(ch chan<- model.StreamResponse) error {
		return chatService.HandleNewMessage(ctx, &service.CreateMessageRequest{SessionID: "missing", Content: "hi"}, ch)
	})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Empty(t, mocks.store.Sessions())
}

func TestChatService_StreamFailureKeepsPartial(t *testing.T) {
	ctx := context.Background()
	chatService, mocks := setupChatService(t, service.ChatOptions{KeepPartialOnFailure: true})
	sid := mocks.store.CreateSession(ctx)

	mocks.llm.On("GenerateStream", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			ch := args.Get(2).(chan<- llm.StreamResponse)
			ch <- llm.StreamResponse{Content: "Partial"}
			close(ch)
		}).
		Return(errors.New("stream interrupted: connection reset")).Once()

	chunks, err := run(func(ch chan<- model.StreamResponse) error {
		return chatService.HandleNewMessage(ctx, &service.CreateMessageRequest{SessionID: sid, Content: "hi"}, ch)
	})
	require.NoError(t, err)

	msgs, _ := mocks.store.Messages(sid)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, "Partial\n\nError: stream interrupted: connection reset", msgs[1].Content)
	assert.True(t, msgs[1].IsError())

	last := chunks[len(chunks)-1]
	assert.True(t, last.Done)
	assert.Equal(t, "stream interrupted: connection reset", last.Error)
}

func TestChatService_NonSuccessStatusBeforeAnyDelta(t *testing.T) {
	ctx := context.Background()
	chatService, mocks := setupChatService(t, service.ChatOptions{KeepPartialOnFailure: true})
	sid := mocks.store.CreateSession(ctx)

	mocks.llm.On("GenerateStream", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { close(args.Get(2).(chan<- llm.StreamResponse)) }).
		Return(errors.New("api returned status 500: upstream error")).Once()

	_, err := run(func(ch chan<- model.StreamResponse) error {
		return chatService.HandleNewMessage(ctx, &service.CreateMessageRequest{SessionID: sid, Content: "hi"}, ch)
	})
	require.NoError(t, err)

	msgs, _ := mocks.store.Messages(sid)
	assert.Equal(t, []string{"hi", "Error: api returned status 500: upstream error"}, contents(msgs))
}

func TestChatService_StopKeepsPartialAsDone(t *testing.T) {
	ctx := context.Background()
	chatService, mocks := setupChatService(t, service.ChatOptions{KeepPartialOnFailure: true})
	sid := mocks.store.CreateSession(ctx)

	mocks.llm.On("GenerateStream", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			streamCtx := args.Get(0).(context.Context)
			ch := args.Get(2).(chan<- llm.StreamResponse)
			ch <- llm.StreamResponse{Content: "Half a thought"}
			assert.True(t, chatService.Stop(sid))
			<-streamCtx.Done()
			close(ch)
		}).
		Return(context.Canceled).Once()

	chunks, err := run(func(ch chan<- model.StreamResponse) error {
		return chatService.HandleNewMessage(ctx, &service.CreateMessageRequest{SessionID: sid, Content: "think"}, ch)
	})
	require.NoError(t, err)

	msgs, _ := mocks.store.Messages(sid)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Half a thought", msgs[1].Content)
	assert.False(t, msgs[1].IsError())
	assert.Empty(t, chunks[len(chunks)-1].Error)
	assert.False(t, chatService.Busy(sid))
	assert.False(t, chatService.Stop(sid))
}

func TestChatService_PerSessionConcurrency(t *testing.T) {
	ctx := context.Background()
	chatService, mocks := setupChatService(t, service.ChatOptions{KeepPartialOnFailure: true})
	a := mocks.store.CreateSession(ctx)
	b := mocks.store.CreateSession(ctx)

	started := make(chan struct{}, 2)
	gate := make(chan struct{})
	mocks.llm.On("GenerateStream", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			req := args.Get(1).(*llm.GenerateRequest)
			ch := args.Get(2).(chan<- llm.StreamResponse)
			started <- struct{}{}
			<-gate
			// Echo the user's text so each session's reply is recognisable.
			ch <- llm.StreamResponse{Content: "reply to " + req.Messages[len(req.Messages)-1].Content}
			close(ch)
		}).
		Return(nil).Twice()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, sid := range []string{a, b} {
		wg.Add(1)
		go func(i int, sid string) {
			defer wg.Done()
			_, errs[i] = run(func(ch chan<- model.StreamResponse) error {
				return chatService.HandleNewMessage(ctx, &service.CreateMessageRequest{SessionID: sid, Content: sid}, ch)
			})
		}(i, sid)
	}
	<-started
	<-started

	// Both sessions are streaming at once; a second submit to either conflicts.
	_, err := run(func(ch chan<- model.StreamResponse) error {
		return chatService.HandleNewMessage(ctx, &service.CreateMessageRequest{SessionID: a, Content: "again"}, ch)
	})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.ErrorIs(t, chatService.DeleteMessage(ctx, b, 0), apperrors.ErrConflict)

	close(gate)
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	for _, sid := range []string{a, b} {
		msgs, _ := mocks.store.Messages(sid)
		assert.Equal(t, []string{sid, "reply to " + sid}, contents(msgs))
	}
}

func TestChatService_Regenerate(t *testing.T) {
	ctx := context.Background()

	t.Run("Success - Truncates at the assistant message and streams a new one", func(t *testing.T) {
		chatService, mocks := setupChatService(t, service.ChatOptions{KeepPartialOnFailure: true})
		sid := mocks.store.CreateSession(ctx)
		seedExchange(t, mocks.store, sid, "U1", "A1", "U2", "A2")

		var captured *llm.GenerateRequest
		mocks.llm.On("GenerateStream", mock.Anything, mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				captured = args.Get(1).(*llm.GenerateRequest)
				streamDeltas("A1'")(args)
			}).
			Return(nil).Once()

		_, err := run(func(ch chan<- model.StreamResponse) error {
			return chatService.Regenerate(ctx, sid, 1, ch)
		})
		require.NoError(t, err)

		msgs, _ := mocks.store.Messages(sid)
		assert.Len(t, msgs, 2)
		assert.Equal(t, []string{"U1", "A1'"}, contents(msgs))
		assert.Equal(t, []llm.Message{
			{Role: "system", Content: "You are GLaDOS."},
			{Role: "user", Content: "U1"},
		}, captured.Messages)
	})

	t.Run("Failure - Index is not an assistant message", func(t *testing.T) {
		chatService, mocks := setupChatService(t, service.ChatOptions{})
		sid := mocks.store.CreateSession(ctx)
		seedExchange(t, mocks.store, sid, "U1", "A1")

		_, err := run(func(ch chan<- model.StreamResponse) error {
			return chatService.Regenerate(ctx, sid, 0, ch)
		})
		assert.ErrorIs(t, err, apperrors.ErrValidation)

		_, err = run(func(ch chan<- model.StreamResponse) error {
			return chatService.Regenerate(ctx, sid, 5, ch)
		})
		assert.ErrorIs(t, err, apperrors.ErrNotFound)

		msgs, _ := mocks.store.Messages(sid)
		assert.Len(t, msgs, 2)
	})
}

func TestChatService_Edit(t *testing.T) {
	ctx := context.Background()
	chatService, mocks := setupChatService(t, service.ChatOptions{KeepPartialOnFailure: true})
	sid := mocks.store.CreateSession(ctx)
	seedExchange(t, mocks.store, sid, "U1", "A1", "U2", "A2")
	original, _ := mocks.store.Messages(sid)

	gate := make(chan struct{})
	mocks.llm.On("GenerateStream", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-gate
			streamDeltas("A2'")(args)
		}).
		Return(nil).Once()

	done := make(chan error, 1)
	go func() {
		_, err := run(func(ch chan<- model.StreamResponse) error {
			return chatService.Edit(ctx, sid, 2, "new U2 text", ch)
		})
		done <- err
	}()

	// While generation is pending the log is [U1, A1, U2'] plus the placeholder.
	require.Eventually(t, func() bool {
		msgs, _ := mocks.store.Messages(sid)
		return len(msgs) == 4 && msgs[3].Content == "" && msgs[2].Content == "new U2 text"
	}, testTimeout, testTick)

	close(gate)
	require.NoError(t, <-done)

	msgs, _ := mocks.store.Messages(sid)
	assert.Equal(t, []string{"U1", "A1", "new U2 text", "A2'"}, contents(msgs))
	assert.NotEqual(t, original[2].ID, msgs[2].ID)
	for _, m := range msgs {
		assert.NotEqual(t, original[3].ID, m.ID, "original A2 must be gone")
	}

	_, err := run(func(ch chan<- model.StreamResponse) error {
		return chatService.Edit(ctx, sid, 1, "edit an assistant turn", ch)
	})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestChatService_DeleteMessage(t *testing.T) {
	ctx := context.Background()
	chatService, mocks := setupChatService(t, service.ChatOptions{})
	sid := mocks.store.CreateSession(ctx)
	seedExchange(t, mocks.store, sid, "U1", "A1", "U2")

	require.NoError(t, chatService.DeleteMessage(ctx, sid, 1))
	msgs, _ := mocks.store.Messages(sid)
	assert.Equal(t, []string{"U1", "U2"}, contents(msgs))
}

func TestChatService_SessionMutationsWaitForStream(t *testing.T) {
	ctx := context.Background()
	chatService, mocks := setupChatService(t, service.ChatOptions{KeepPartialOnFailure: true})
	sid := mocks.store.CreateSession(ctx)

	started := make(chan struct{})
	gate := make(chan struct{})
	mocks.llm.On("GenerateStream", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			ch := args.Get(2).(chan<- llm.StreamResponse)
			close(started)
			<-gate
			ch <- llm.StreamResponse{Content: "done"}
			close(ch)
		}).
		Return(nil).Once()

	errCh := make(chan error, 1)
	go func() {
		_, err := run(func(ch chan<- model.StreamResponse) error {
			return chatService.HandleNewMessage(ctx, &service.CreateMessageRequest{SessionID: sid, Content: "hi"}, ch)
		})
		errCh <- err
	}()
	<-started

	assert.ErrorIs(t, chatService.DeleteSession(ctx, sid), apperrors.ErrConflict)
	assert.ErrorIs(t, chatService.ClearMessages(ctx, sid), apperrors.ErrConflict)

	close(gate)
	require.NoError(t, <-errCh)

	msgs, _ := mocks.store.Messages(sid)
	assert.Equal(t, []string{"hi", "done"}, contents(msgs))

	require.NoError(t, chatService.ClearMessages(ctx, sid))
	msgs, _ = mocks.store.Messages(sid)
	assert.Empty(t, msgs)

	require.NoError(t, chatService.DeleteSession(ctx, sid))
	_, err := mocks.store.Get(sid)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestChatService_TitleGeneration(t *testing.T) {
	ctx := context.Background()
	chatService, mocks := setupChatService(t, service.ChatOptions{TitleModel: "grok-3-mini", KeepPartialOnFailure: true})

	mocks.llm.On("GenerateStream", mock.Anything, mock.Anything, mock.Anything).
		Run(streamDeltas("Paris.")).Return(nil).Once()
	mocks.llm.On("Generate", mock.Anything, mock.MatchedBy(func(req *llm.GenerateRequest) bool {
		return req.Model == "grok-3-mini" && len(req.Messages) == 2
	})).Return(&llm.GenerateResponse{Response: ` "Capital of France" `}, nil).Once()

	_, err := run(func(ch chan<- model.StreamResponse) error {
		return chatService.HandleNewMessage(ctx, &service.CreateMessageRequest{Content: "What is the capital of France?"}, ch)
	})
	require.NoError(t, err)
	chatService.Wait()

	sess, err := mocks.store.Get(mocks.store.Current())
	require.NoError(t, err)
	assert.Equal(t, "Capital of France", sess.Title)
}

func TestChatService_TitleGenerationFailureKeepsDerivedTitle(t *testing.T) {
	ctx := context.Background()
	chatService, mocks := setupChatService(t, service.ChatOptions{TitleModel: "grok-3-mini"})

	mocks.llm.On("GenerateStream", mock.Anything, mock.Anything, mock.Anything).
		Run(streamDeltas("ok")).Return(nil).Once()
	mocks.llm.On("Generate", mock.Anything, mock.Anything).Return(nil, errors.New("timeout")).Once()

	_, err := run(func(ch chan<- model.StreamResponse) error {
		return chatService.HandleNewMessage(ctx, &service.CreateMessageRequest{Content: "Plan a trip"}, ch)
	})
	require.NoError(t, err)
	chatService.Wait()

	sess, _ := mocks.store.Get(mocks.store.Current())
	assert.Equal(t, "Plan a trip", sess.Title)
}

func TestChatService_ImageCommand(t *testing.T) {
	ctx := context.Background()
	chatService, provider, mocks := setupImageChatService(t)

	provider.On("GenerateImage", mock.Anything, mock.MatchedBy(func(req *llm.ImageRequest) bool {
		return req.Prompt == "a cat in space" && req.APIKey == "xai-test"
	})).Return(&llm.ImageResponse{URL: "https://img.example/cat.png", Model: llm.DefaultImageModel}, nil).Once()

	chunks, err := run(func(ch chan<- model.StreamResponse) error {
		return chatService.HandleNewMessage(ctx, &service.CreateMessageRequest{Content: "/image a cat in space"}, ch)
	})
	require.NoError(t, err)

	msgs, _ := mocks.store.Messages(mocks.store.Current())
	assert.Equal(t, []string{"/image a cat in space", "![a cat in space](https://img.example/cat.png)"}, contents(msgs))
	assert.Equal(t, msgs[1].Content, chunks[len(chunks)-1].Content)
}

func TestChatService_GenerateImage_Unsupported(t *testing.T) {
	chatService, _ := setupChatService(t, service.ChatOptions{})

	_, err := chatService.GenerateImage(context.Background(), "a cat")
	assert.ErrorIs(t, err, apperrors.ErrUnsupported)
}

func TestChatService_HistorySkipsOnlyFailedReplies(t *testing.T) {
	ctx := context.Background()
	chatService, mocks := setupChatService(t, service.ChatOptions{KeepPartialOnFailure: true})
	sid := mocks.store.CreateSession(ctx)

	quoted := "Your program printed:\n\nError: open config.yaml: no such file\n\nCreate the file first."
	seedExchange(t, mocks.store, sid, "Why does it crash?", quoted)
	_, err := mocks.store.AppendMessage(ctx, sid, model.Message{Role: model.RoleUser, Content: "Thanks, and now?"})
	require.NoError(t, err)
	_, err = mocks.store.AppendMessage(ctx, sid, model.Message{Role: model.RoleAssistant, Content: "Error: timeout", Failed: true})
	require.NoError(t, err)

	var captured *llm.GenerateRequest
	mocks.llm.On("GenerateStream", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(1).(*llm.GenerateRequest)
			streamDeltas("Run it again.")(args)
		}).
		Return(nil).Once()

	_, err = run(func(ch chan<- model.StreamResponse) error {
		return chatService.HandleNewMessage(ctx, &service.CreateMessageRequest{SessionID: sid, Content: "Retry?"}, ch)
	})
	require.NoError(t, err)

	assert.Equal(t, []llm.Message{
		{Role: "system", Content: "You are GLaDOS."},
		{Role: "user", Content: "Why does it crash?"},
		{Role: "assistant", Content: quoted},
		{Role: "user", Content: "Thanks, and now?"},
		{Role: "user", Content: "Retry?"},
	}, captured.Messages)

	msgs, _ := mocks.store.Messages(sid)
	assert.False(t, msgs[1].IsError())
	assert.True(t, msgs[3].IsError())
	assert.False(t, msgs[len(msgs)-1].IsError())
}
