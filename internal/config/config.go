// Package config loads server and CLI settings from the environment.
package config

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"waitroom-intake/internal/core"
	"waitroom-intake/internal/db"
	"waitroom-intake/internal/llm"
)

// Config holds all configuration for the intake server
type Config struct {
	Port        string
	DatabaseURL string
	LogLevel    string
	CORSOrigins []string

	// OpenAI settings
	OpenAIKey    string
	ChatModel    string
	SummaryModel string
	MaxRetries   int
	RetryDelay   time.Duration

	// Interview settings
	OracleTimeout  time.Duration
	TurnCap        int
	ContextMode    string
	ContextTurns   int
	AskedTail      int
	SummaryTurns   int
	PolicyFile     string
	NotifyChannel  string
	ReportFontPath string
	SessionTTL     time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	defaults := core.DefaultControllerOptions()
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		CORSOrigins:    getEnvList("CORS_ORIGINS", []string{"*"}),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		ChatModel:      getEnv("OPENAI_MODEL_CHAT", llm.DefaultChatModel),
		SummaryModel:   os.Getenv("OPENAI_MODEL_SUMMARY"),
		MaxRetries:     getEnvInt("OPENAI_MAX_RETRIES", 3),
		RetryDelay:     getEnvDuration("OPENAI_RETRY_DELAY", 2*time.Second),
		OracleTimeout:  getEnvDuration("ORACLE_TIMEOUT", defaults.OracleTimeout),
		TurnCap:        getEnvInt("TURN_CAP", 0),
		ContextMode:    getEnv("CONTEXT_MODE", string(defaults.ContextMode)),
		ContextTurns:   getEnvInt("CONTEXT_TURNS", defaults.ContextTurns),
		AskedTail:      getEnvInt("ASKED_TAIL", defaults.AskedTail),
		SummaryTurns:   getEnvInt("SUMMARY_TURNS", defaults.SummaryTurns),
		PolicyFile:     os.Getenv("COMPLETION_POLICY_FILE"),
		NotifyChannel:  getEnv("POSTGRES_NOTIFY_CHANNEL", db.DefaultNotifyChannel),
		ReportFontPath: os.Getenv("REPORT_FONT_PATH"),
		SessionTTL:     getEnvDuration("SESSION_TTL", 2*time.Hour),
	}

	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.MaxRetries, validation.Min(0), validation.Max(10)),
		validation.Field(&c.OracleTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.TurnCap, validation.Min(0)),
		validation.Field(&c.ContextMode, validation.In(string(core.ContextSliding), string(core.ContextFull))),
		validation.Field(&c.ContextTurns, validation.Min(1)),
		validation.Field(&c.AskedTail, validation.Min(1)),
		validation.Field(&c.SummaryTurns, validation.Min(1)),
		validation.Field(&c.SessionTTL, validation.Min(time.Duration(0))),
	)
}

// RequireOpenAI reports a missing API key.  Only commands that talk to the
// oracle call it, so `intake policy` works without credentials.
func (c *Config) RequireOpenAI() error {
	if c.OpenAIKey == "" {
		return errors.New("OPENAI_API_KEY must be set")
	}
	return nil
}

// Policy returns the completion policy: the policy file when one is
// configured, otherwise the defaults.  TURN_CAP overrides either.
func (c *Config) Policy() (core.CompletionPolicy, error) {
	policy := core.DefaultCompletionPolicy()
	if c.PolicyFile != "" {
		p, err := core.LoadPolicyFile(c.PolicyFile)
		if err != nil {
			return core.CompletionPolicy{}, err
		}
		policy = p
	}
	if c.TurnCap > 0 {
		policy.TurnCap = c.TurnCap
	}
	return policy, nil
}

// ControllerOptions assembles the interview settings.
func (c *Config) ControllerOptions() (core.ControllerOptions, error) {
	policy, err := c.Policy()
	if err != nil {
		return core.ControllerOptions{}, err
	}
	opts := core.DefaultControllerOptions()
	opts.Policy = policy
	opts.ContextMode = core.ContextMode(c.ContextMode)
	opts.ContextTurns = c.ContextTurns
	opts.AskedTail = c.AskedTail
	opts.OracleTimeout = c.OracleTimeout
	opts.SummaryTurns = c.SummaryTurns
	return opts, nil
}

// LLMConfig returns the oracle client settings.
func (c *Config) LLMConfig() llm.ClientConfig {
	return llm.ClientConfig{
		APIKey:       c.OpenAIKey,
		ChatModel:    c.ChatModel,
		SummaryModel: c.SummaryModel,
		MaxRetries:   c.MaxRetries,
		RetryDelay:   c.RetryDelay,
	}
}

// SweepInterval is how often idle sessions are expired: a quarter of the TTL,
// at least once a minute.
func (c *Config) SweepInterval() time.Duration {
	if c.SessionTTL <= 0 {
		return 0
	}
	return max(c.SessionTTL/4, time.Minute)
}

// SlogLevel maps LOG_LEVEL to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Helper functions
func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
