package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	apperrors "glados/backend/internal/errors"
	"glados/backend/internal/validation"
)

// Storage drivers accepted in STORAGE_DRIVER.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

type Config struct {
	AppPort   int    `mapstructure:"APP_PORT" validate:"min=1,max=65535"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	StaticDir string `mapstructure:"STATIC_DIR"`

	StorageDriver     string `mapstructure:"STORAGE_DRIVER" validate:"oneof=memory sqlite redis"`
	DatabasePath      string `mapstructure:"DATABASE_PATH"`
	RedisAddr         string `mapstructure:"REDIS_ADDR"`
	RedisPassword     string `mapstructure:"REDIS_PASSWORD"`
	RedisPrefix       string `mapstructure:"REDIS_PREFIX"`
	StorageQuotaBytes int    `mapstructure:"STORAGE_QUOTA_BYTES" validate:"min=0"`

	LLMProvider   string        `mapstructure:"LLM_PROVIDER" validate:"oneof=grok openai ollama"`
	LLMBaseURL    string        `mapstructure:"LLM_BASE_URL"`
	LLMTimeout    time.Duration `mapstructure:"LLM_TIMEOUT"`
	LLMWait       time.Duration `mapstructure:"LLM_WAIT"`
	APIKey        string        `mapstructure:"API_KEY"`
	DefaultModel  string        `mapstructure:"DEFAULT_MODEL" validate:"required"`
	TitleModel    string        `mapstructure:"TITLE_MODEL"`
	SystemPrompt  string        `mapstructure:"INITIAL_SYSTEM_PROMPT"`
	AIName        string        `mapstructure:"AI_NAME" validate:"required"`
	SiteName      string        `mapstructure:"SITE_NAME" validate:"required"`
	KeepPartial   bool          `mapstructure:"KEEP_PARTIAL_ON_FAILURE"`
	PageSize      int           `mapstructure:"WINDOW_PAGE_SIZE" validate:"min=1"`
	TitleMaxWidth int           `mapstructure:"TITLE_MAX_WIDTH" validate:"min=4"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", 3000)
	v.SetDefault("LOG_LEVEL", "INFO")
	v.SetDefault("STATIC_DIR", "")
	v.SetDefault("STORAGE_DRIVER", DriverSQLite)
	v.SetDefault("DATABASE_PATH", "/data/glados.db")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_PREFIX", "")
	v.SetDefault("STORAGE_QUOTA_BYTES", 5*1024*1024)
	v.SetDefault("LLM_PROVIDER", "grok")
	v.SetDefault("LLM_BASE_URL", "")
	v.SetDefault("LLM_TIMEOUT", 2*time.Minute)
	v.SetDefault("LLM_WAIT", 30*time.Second)
	v.SetDefault("API_KEY", "")
	v.SetDefault("DEFAULT_MODEL", "grok-3-mini")
	v.SetDefault("TITLE_MODEL", "")
	v.SetDefault("INITIAL_SYSTEM_PROMPT", "You are GLaDOS, a sarcastic and darkly humorous AI. Answer accurately, then add a cutting remark.")
	v.SetDefault("AI_NAME", "GLaDOS")
	v.SetDefault("SITE_NAME", "GLaDOS")
	v.SetDefault("KEEP_PARTIAL_ON_FAILURE", true)
	v.SetDefault("WINDOW_PAGE_SIZE", 20)
	v.SetDefault("TITLE_MAX_WIDTH", 40)
}

// LoadConfig reads defaults, then an optional .env file, then the
// environment, in increasing precedence.
func LoadConfig() (*Config, error) {
	return load(viper.GetViper(), ".", "./backend")
}

func load(v *viper.Viper, paths ...string) (*Config, error) {
	setDefaults(v)

	v.SetConfigName(".env")
	v.SetConfigType("env")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	if err := validation.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrConfiguration, err)
	}
	return &cfg, nil
}

// Watch calls onChange with the new log level whenever the config file in use
// changes. Other settings need a restart. Nothing is watched when no file was
// loaded.
func Watch(onChange func(logLevel string)) {
	watch(viper.GetViper(), onChange)
}

func watch(v *viper.Viper, onChange func(logLevel string)) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(v.GetString("LOG_LEVEL"))
	})
	v.WatchConfig()
}
