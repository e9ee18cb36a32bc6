package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load("does-not-exist.env")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.OpenAI.APIKey != "sk-test" {
		t.Errorf("api key = %q", cfg.OpenAI.APIKey)
	}
	if cfg.OpenAI.SummaryModel != cfg.OpenAI.ChatModel {
		t.Errorf("summary model should default to chat model, got %q", cfg.OpenAI.SummaryModel)
	}
	if cfg.Intake.IdleTimeoutMinutes != 5 || cfg.Intake.SessionTimeoutMinutes != 30 {
		t.Errorf("timeouts = %d/%d, want 5/30", cfg.Intake.IdleTimeoutMinutes, cfg.Intake.SessionTimeoutMinutes)
	}
	if cfg.Intake.MaxSteps != 25 {
		t.Errorf("max steps = %d, want 25", cfg.Intake.MaxSteps)
	}
	if cfg.Redis.TTL != time.Hour {
		t.Errorf("redis ttl = %v, want 1h", cfg.Redis.TTL)
	}
	if cfg.Auth.Enabled {
		t.Error("auth should be disabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("INTAKE_ASSISTANT_NAME", "Ada")
	t.Setenv("INTAKE_IDLE_TIMEOUT_MINUTES", "2")
	t.Setenv("DATABASE_URL", "postgres://localhost/intake")
	t.Setenv("SERVER_ENV", "production")

	cfg, err := Load("does-not-exist.env")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Intake.AssistantName != "Ada" {
		t.Errorf("assistant = %q", cfg.Intake.AssistantName)
	}
	if cfg.Intake.IdleTimeoutMinutes != 2 {
		t.Errorf("idle = %d", cfg.Intake.IdleTimeoutMinutes)
	}
	if cfg.Database.URL == "" {
		t.Error("database url not bound")
	}
	if !cfg.IsProduction() {
		t.Error("expected production")
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{Intake: IntakeConfig{IdleTimeoutMinutes: 5, SessionTimeoutMinutes: 30, MaxSteps: 25}}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"zero idle", func(c *Config) { c.Intake.IdleTimeoutMinutes = 0 }, true},
		{"session shorter than idle", func(c *Config) { c.Intake.SessionTimeoutMinutes = 3 }, true},
		{"no steps", func(c *Config) { c.Intake.MaxSteps = 0 }, true},
		{"auth without secret", func(c *Config) { c.Auth.Enabled = true }, true},
		{"auth with secret", func(c *Config) { c.Auth.Enabled = true; c.Auth.Secret = "s" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
