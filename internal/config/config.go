package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `envconfig:"SERVER"`
	Database  DatabaseConfig  `envconfig:"DATABASE"`
	Redis     RedisConfig     `envconfig:"REDIS"`
	OpenAI    OpenAIConfig    `envconfig:"OPENAI"`
	Intake    IntakeConfig    `envconfig:"INTAKE"`
	Auth      AuthConfig      `envconfig:"AUTH"`
	RateLimit RateLimitConfig `envconfig:"RATE_LIMIT"`
}

type ServerConfig struct {
	Port            int           `envconfig:"PORT" default:"8080"`
	Env             string        `envconfig:"ENV" default:"development"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// DatabaseConfig points at Postgres. An empty URL selects the in-memory store.
type DatabaseConfig struct {
	URL             string        `envconfig:"URL"`
	MaxOpenConns    int           `envconfig:"MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"CONN_MAX_LIFETIME" default:"30m"`
	NotifyChannel   string        `envconfig:"NOTIFY_CHANNEL" default:"intake_events"`
}

// RedisConfig points at the context cache. An empty URL selects the in-memory cache.
type RedisConfig struct {
	URL string        `envconfig:"URL"`
	TTL time.Duration `envconfig:"TTL" default:"1h"`
}

type OpenAIConfig struct {
	APIKey       string        `envconfig:"API_KEY"`
	BaseURL      string        `envconfig:"BASE_URL"`
	ChatModel    string        `envconfig:"MODEL_CHAT" default:"gpt-4o-mini"`
	SummaryModel string        `envconfig:"MODEL_SUMMARY"`
	Temperature  float32       `envconfig:"TEMPERATURE" default:"0.2"`
	Timeout      time.Duration `envconfig:"TIMEOUT" default:"30s"`
	RPS          float64       `envconfig:"RPS" default:"5"`
	Burst        int           `envconfig:"BURST" default:"10"`
}

// IntakeConfig tunes the conversation engine.
type IntakeConfig struct {
	AssistantName         string        `envconfig:"ASSISTANT_NAME" default:"Vi"`
	IdleTimeoutMinutes    int           `envconfig:"IDLE_TIMEOUT_MINUTES" default:"5"`
	SessionTimeoutMinutes int           `envconfig:"SESSION_TIMEOUT_MINUTES" default:"30"`
	SweepInterval         time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
	ExpireAfter           time.Duration `envconfig:"EXPIRE_AFTER" default:"24h"`
	MaxSteps              int           `envconfig:"MAX_STEPS" default:"25"`
	MaxQuestionAttempts   int           `envconfig:"MAX_QUESTION_ATTEMPTS" default:"3"`
	HistoryLimit          int           `envconfig:"HISTORY_LIMIT" default:"50"`
}

// AuthConfig controls session tokens. Tokens are only required when Enabled.
type AuthConfig struct {
	Enabled  bool          `envconfig:"ENABLED" default:"false"`
	Secret   string        `envconfig:"JWT_SECRET"`
	Issuer   string        `envconfig:"ISSUER" default:"intake-assistant"`
	TokenTTL time.Duration `envconfig:"TOKEN_TTL" default:"2h"`
}

type RateLimitConfig struct {
	RPS   int `envconfig:"RPS" default:"10"`
	Burst int `envconfig:"BURST" default:"20"`
}

// Load reads .env (if present) and binds the environment to Config.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		// a missing .env is normal outside local development
		_ = godotenv.Load(f)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.OpenAI.SummaryModel == "" {
		cfg.OpenAI.SummaryModel = cfg.OpenAI.ChatModel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Intake.IdleTimeoutMinutes <= 0 {
		return errors.New("INTAKE_IDLE_TIMEOUT_MINUTES must be positive")
	}
	if c.Intake.SessionTimeoutMinutes < c.Intake.IdleTimeoutMinutes {
		return errors.New("INTAKE_SESSION_TIMEOUT_MINUTES must not be shorter than the idle timeout")
	}
	if c.Intake.MaxSteps <= 0 {
		return errors.New("INTAKE_MAX_STEPS must be positive")
	}
	if c.Auth.Enabled && c.Auth.Secret == "" {
		return errors.New("AUTH_JWT_SECRET is required when AUTH_ENABLED=true")
	}
	return nil
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}
