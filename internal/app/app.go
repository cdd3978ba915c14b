package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"glados/backend/internal/api"
	"glados/backend/internal/config"
	"glados/backend/internal/database"
	"glados/backend/internal/kv"
	"glados/backend/internal/llm"
	"glados/backend/internal/migration"
	"glados/backend/internal/service"
	"glados/backend/internal/session"
)

const shutdownTimeout = 10 * time.Second

// App holds the wired application. DB and Redis are only set for the
// matching storage driver.
type App struct {
	Config   *config.Config
	DB       *sql.DB
	Redis    *redis.Client
	KV       *kv.Store
	Sessions *session.Store
	Settings *service.SettingsService
	Chat     *service.ChatService
	Models   *service.ModelService
	Server   *http.Server
}

// Run is the server entry point and returns the process exit code.
func Run() int {
	cfg, err := config.LoadConfig()
	if err != nil {
		// slog is not yet configured, so use the default logger for this critical error.
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	setupLogger(cfg.LogLevel)
	logConfigSource()
	config.Watch(func(level string) {
		setLogLevel(level)
		slog.Info("Configuration file changed, log level re-applied", "log_level", level)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := NewApp(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize application", "error", err)
		return 1
	}
	defer a.Close()

	if err := a.Serve(ctx); err != nil {
		slog.Error("Server failed", "error", err)
		return 1
	}
	return 0
}

// NewApp opens storage, restores and migrates the session state, and wires
// the services and HTTP server.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	backend, err := a.openBackend(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.KV = kv.NewStore(backend, slog.Default())

	a.Sessions = session.Load(ctx, a.KV, session.Options{
		PageSize:      cfg.PageSize,
		TitleMaxWidth: cfg.TitleMaxWidth,
		Logger:        slog.Default(),
	})
	if res := migration.New(a.KV, a.Sessions, slog.Default()).Run(ctx); res.Migrated {
		slog.Info("Migrated legacy conversation", "session_id", res.SessionID, "messages", res.Messages)
	}

	a.Settings = service.NewSettingsService(a.KV, service.Settings{
		APIKey:       cfg.APIKey,
		Model:        cfg.DefaultModel,
		SystemPrompt: cfg.SystemPrompt,
		AIName:       cfg.AIName,
		SiteName:     cfg.SiteName,
	})
	appSettings, err := a.Settings.InitAndGet(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("could not initialize settings: %w", err)
	}
	slog.Info("Loaded application settings", "model", appSettings.Model, "ai_name", appSettings.AIName, "has_api_key", appSettings.HasAPIKey())

	provider, err := llm.New(llm.Config{
		Provider: cfg.LLMProvider,
		BaseURL:  cfg.LLMBaseURL,
		APIKey:   cfg.APIKey,
		Timeout:  cfg.LLMTimeout,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	if cfg.LLMProvider == llm.ProviderOllama && cfg.LLMBaseURL != "" {
		waitForOllama(ctx, cfg.LLMBaseURL, cfg.LLMWait)
	}

	a.Chat = service.NewChatService(a.Sessions, provider, a.Settings, service.ChatOptions{
		Provider:             cfg.LLMProvider,
		KeepPartialOnFailure: cfg.KeepPartial,
		TitleModel:           cfg.TitleModel,
		TitleMaxWidth:        cfg.TitleMaxWidth,
	})
	a.Models = service.NewModelService(provider, a.Settings)

	router := api.NewRouter(api.Handlers{
		Chat:      api.NewChatHandler(a.Chat),
		Sessions:  api.NewSessionHandler(a.Sessions, a.Settings),
		Settings:  api.NewSettingsHandler(a.Settings),
		Models:    api.NewModelHandler(a.Models),
		Events:    api.NewEventsHandler(a.Sessions),
		StaticDir: cfg.StaticDir,
	})
	a.Server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.AppPort),
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second,
		WriteTimeout:      0, // Disabled for streaming endpoints
		IdleTimeout:       120 * time.Second,
	}
	return a, nil
}

func (a *App) openBackend(ctx context.Context) (kv.Backend, error) {
	switch a.Config.StorageDriver {
	case config.DriverMemory:
		slog.Warn("Using in-memory storage, sessions are lost on restart")
		return kv.NewMemoryBackend(a.Config.StorageQuotaBytes), nil
	case config.DriverRedis:
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     a.Config.RedisAddr,
			Password: a.Config.RedisPassword,
		})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("could not connect to redis at %s: %w", a.Config.RedisAddr, err)
		}
		slog.Info("Successfully connected to Redis.", "addr", a.Config.RedisAddr)
		return kv.NewRedisBackend(a.Redis, a.Config.RedisPrefix), nil
	default:
		db, err := database.InitDB(a.Config.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("could not initialize database: %w", err)
		}
		a.DB = db
		slog.Info("Successfully connected to SQLite database.", "path", a.Config.DatabasePath)
		return kv.NewSQLiteBackend(db), nil
	}
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down and
// waits for background title generation.
func (a *App) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Starting server", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := a.Server.Shutdown(shutdownCtx)
		a.Chat.Wait()
		return err
	})
	return g.Wait()
}

// Close releases the storage connections.
func (a *App) Close() {
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			slog.Error("Failed to close database connection", "error", err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			slog.Error("Failed to close redis connection", "error", err)
		}
	}
}

func logConfigSource() {
	configFileUsed := viper.ConfigFileUsed()
	if configFileUsed != "" {
		slog.Info("Successfully loaded configuration from file.", "file", configFileUsed)
	} else {
		slog.Info("Configuration file not found. Using environment variables and defaults.")
	}
}

var logLevel = new(slog.LevelVar)

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupLogger(level string) {
	logLevel.Set(parseLevel(level))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
}

func setLogLevel(level string) {
	logLevel.Set(parseLevel(level))
}

// waitForOllama polls a local Ollama until it answers or maxWait elapses.
// Starting without it is allowed; requests fail until it is up.
func waitForOllama(ctx context.Context, ollamaURL string, maxWait time.Duration) {
	if maxWait <= 0 {
		return
	}
	slog.Info("Waiting for Ollama to be ready...", "url", ollamaURL)
	ctx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ollamaURL, nil)
		if err != nil {
			slog.Warn("Invalid Ollama URL, not waiting", "url", ollamaURL, "error", err)
			return
		}
		resp, err := client.Do(req)
		if err == nil {
			if bErr := resp.Body.Close(); bErr != nil {
				slog.Warn("Failed to close response body in ollama health check", "error", bErr)
			}
			if resp.StatusCode == http.StatusOK {
				slog.Info("Ollama is ready.")
				return
			}
		}
		slog.Debug("Ollama not ready yet, retrying", "url", ollamaURL, "error", err)
		select {
		case <-ctx.Done():
			slog.Warn("Ollama did not become ready in time, continuing", "waited", maxWait)
			return
		case <-ticker.C:
		}
	}
}
