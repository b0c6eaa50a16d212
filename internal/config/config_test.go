package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"waitroom-intake/internal/core"
)

var envKeys = []string{
	"PORT", "DATABASE_URL", "LOG_LEVEL", "CORS_ORIGINS",
	"OPENAI_API_KEY", "OPENAI_MODEL_CHAT", "OPENAI_MODEL_SUMMARY", "OPENAI_MAX_RETRIES", "OPENAI_RETRY_DELAY",
	"ORACLE_TIMEOUT", "TURN_CAP", "CONTEXT_MODE", "CONTEXT_TURNS", "ASKED_TAIL", "SUMMARY_TURNS",
	"COMPLETION_POLICY_FILE", "POSTGRES_NOTIFY_CHANNEL", "REPORT_FONT_PATH", "SESSION_TTL",
}

// clearEnv blanks every key Load reads; empty values count as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %s, want 8080", cfg.Port)
	}
	if cfg.ChatModel != "gpt-4o-mini" {
		t.Errorf("ChatModel = %s, want gpt-4o-mini", cfg.ChatModel)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.RetryDelay != 2*time.Second {
		t.Errorf("RetryDelay = %v, want 2s", cfg.RetryDelay)
	}
	if cfg.OracleTimeout != 30*time.Second {
		t.Errorf("OracleTimeout = %v, want 30s", cfg.OracleTimeout)
	}
	if cfg.ContextMode != "sliding" || cfg.ContextTurns != 6 || cfg.AskedTail != 12 {
		t.Errorf("context settings = %s/%d/%d", cfg.ContextMode, cfg.ContextTurns, cfg.AskedTail)
	}
	if cfg.SessionTTL != 2*time.Hour || cfg.SweepInterval() != 30*time.Minute {
		t.Errorf("session expiry = %v every %v", cfg.SessionTTL, cfg.SweepInterval())
	}
	if cfg.NotifyChannel != "intake_ready" {
		t.Errorf("NotifyChannel = %s, want intake_ready", cfg.NotifyChannel)
	}
	if !reflect.DeepEqual(cfg.CORSOrigins, []string{"*"}) {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
	if cfg.SlogLevel() != slog.LevelInfo {
		t.Errorf("SlogLevel() = %v, want info", cfg.SlogLevel())
	}
	if err := cfg.RequireOpenAI(); err == nil {
		t.Error("RequireOpenAI() should fail without a key")
	}

	policy, err := cfg.Policy()
	if err != nil {
		t.Fatalf("Policy() error = %v", err)
	}
	if !reflect.DeepEqual(policy, core.DefaultCompletionPolicy()) {
		t.Errorf("Policy() = %+v, want defaults", policy)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("OPENAI_MODEL_CHAT", "gpt-4o")
	t.Setenv("OPENAI_MODEL_SUMMARY", "gpt-4o-mini")
	t.Setenv("OPENAI_MAX_RETRIES", "5")
	t.Setenv("ORACLE_TIMEOUT", "10s")
	t.Setenv("TURN_CAP", "12")
	t.Setenv("CONTEXT_MODE", "full")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Port != "9090" || cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("Port/LogLevel = %s/%s", cfg.Port, cfg.LogLevel)
	}
	if !reflect.DeepEqual(cfg.CORSOrigins, []string{"https://a.example", "https://b.example"}) {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
	if err := cfg.RequireOpenAI(); err != nil {
		t.Errorf("RequireOpenAI() error = %v", err)
	}

	llmCfg := cfg.LLMConfig()
	if llmCfg.ChatModel != "gpt-4o" || llmCfg.SummaryModel != "gpt-4o-mini" || llmCfg.MaxRetries != 5 {
		t.Errorf("LLMConfig() = %+v", llmCfg)
	}

	opts, err := cfg.ControllerOptions()
	if err != nil {
		t.Fatalf("ControllerOptions() error = %v", err)
	}
	if opts.Policy.TurnCap != 12 {
		t.Errorf("TurnCap = %d, want 12", opts.Policy.TurnCap)
	}
	if opts.ContextMode != core.ContextFull || opts.OracleTimeout != 10*time.Second {
		t.Errorf("options = %+v", opts)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"OPENAI_MAX_RETRIES", "11"},
		{"LOG_LEVEL", "verbose"},
		{"CONTEXT_MODE", "everything"},
		{"CONTEXT_TURNS", "0"},
		{"TURN_CAP", "-3"},
		{"SESSION_TTL", "-1m"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load() with %s=%s should fail", tt.key, tt.value)
			}
		})
	}
}

func TestSweepInterval(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want time.Duration
	}{
		{0, 0},
		{2 * time.Minute, time.Minute},
		{8 * time.Hour, 2 * time.Hour},
	}
	for _, tt := range tests {
		cfg := &Config{SessionTTL: tt.ttl}
		if got := cfg.SweepInterval(); got != tt.want {
			t.Errorf("SweepInterval() with TTL %v = %v, want %v", tt.ttl, got, tt.want)
		}
	}
}

func TestLoad_UnparseableFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_MAX_RETRIES", "many")
	t.Setenv("ORACLE_TIMEOUT", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.MaxRetries != 3 || cfg.OracleTimeout != 30*time.Second {
		t.Errorf("fallbacks = %d/%v", cfg.MaxRetries, cfg.OracleTimeout)
	}
}

func TestPolicyFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("turn_cap: 8\nrequired:\n  - chief_complaint\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("COMPLETION_POLICY_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	policy, err := cfg.Policy()
	if err != nil {
		t.Fatalf("Policy() error = %v", err)
	}
	if policy.TurnCap != 8 || len(policy.Required) != 1 {
		t.Errorf("Policy() = %+v", policy)
	}

	t.Setenv("TURN_CAP", "20")
	cfg, _ = Load()
	policy, _ = cfg.Policy()
	if policy.TurnCap != 20 {
		t.Errorf("TURN_CAP should override the file, got %d", policy.TurnCap)
	}

	cfg.PolicyFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := cfg.Policy(); err == nil {
		t.Error("Policy() should fail for a missing file")
	}
}
