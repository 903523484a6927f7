package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadTOMLWithDefaults(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.toml", `
mode = "primary"

[auth]
jwt_secret = "s3cret"

[telegram]
bot_token = "123:abc"
log_channel = -1001
auth_users = [1, 2]

[stream]
chunk_timeout = "10s"
`)
	cfg, err := load(path, envMap(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pool.Workers != DefaultWorkers {
		t.Fatalf("workers = %d, want default %d", cfg.Pool.Workers, DefaultWorkers)
	}
	if cfg.Stream.ChunkTimeout != 10*time.Second {
		t.Fatalf("chunk timeout = %s", cfg.Stream.ChunkTimeout)
	}
	if cfg.Stream.ChunkSize != DefaultChunkSize {
		t.Fatalf("chunk size = %d", cfg.Stream.ChunkSize)
	}
	if len(cfg.Telegram.AuthUsers) != 2 {
		t.Fatalf("auth users = %v", cfg.Telegram.AuthUsers)
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.yaml", `
mode: secondary
telegram:
  bot_token: "123:abc"
  multi_tokens: ["456:def"]
  log_channel: -1002
store:
  driver: memory
`)
	cfg, err := load(path, envMap(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.IsPrimary() {
		t.Fatal("expected secondary mode")
	}
	if got := cfg.Telegram.Tokens(); len(got) != 2 || got[0] != "123:abc" {
		t.Fatalf("tokens = %v", got)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.toml", `
[telegram]
bot_token = "file-token"
log_channel = -1
`)
	cfg, err := load(path, envMap(map[string]string{
		"BOT_TOKEN":       "env-token",
		"FLOG_CHANNEL":    "-100200",
		"AUTH_USERS":      "7 8 7",
		"HAS_SSL":         "yes",
		"NO_PORT":         "true",
		"FQDN":            "files.example.org",
		"PING_INTERVAL":   "0",
		"SLEEP_THRESHOLD": "15",
		"JWT_SECRET":      "x",
		"DATABASE_URL":    "postgres://u:p@db/files",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.BotToken != "env-token" || cfg.Telegram.LogChannel != -100200 {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if len(cfg.Telegram.AuthUsers) != 2 {
		t.Fatalf("auth users not deduplicated: %v", cfg.Telegram.AuthUsers)
	}
	if cfg.Server.PingInterval != 0 || cfg.Flood.SleepThreshold != 15*time.Second {
		t.Fatalf("durations = %s %s", cfg.Server.PingInterval, cfg.Flood.SleepThreshold)
	}
	if got := cfg.Server.PublicURL(); got != "https://files.example.org/" {
		t.Fatalf("public url = %q", got)
	}
	if got := cfg.Postgres.DSN(); got != "postgres://u:p@db/files" {
		t.Fatalf("dsn = %q", got)
	}
}

func TestValidateAggregatesErrors(t *testing.T) {
	t.Parallel()

	_, err := load(filepath.Join(t.TempDir(), "missing.toml"), envMap(map[string]string{
		"MODE":    "tertiary",
		"WORKERS": "1",
	}))
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"Mode", "BotToken", "LogChannel", "jwt_secret"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("error %q does not mention %s", msg, want)
		}
	}
}

func TestValidateTooManyTokens(t *testing.T) {
	t.Parallel()

	cfg := defaults()
	cfg.Auth.JWTSecret = "x"
	cfg.Telegram.BotToken = "a"
	cfg.Telegram.LogChannel = -1
	cfg.Telegram.MultiTokens = []string{"b", "c"}
	cfg.Pool.Workers = 2
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "exceed") {
		t.Fatalf("expected token/worker error, got %v", err)
	}
}

func TestEnvRejectsBadNumbers(t *testing.T) {
	t.Parallel()

	cfg := defaults()
	err := applyEnv(&cfg, envMap(map[string]string{"PORT": "eighty", "AUTH_USERS": "1 x"}))
	if err == nil {
		t.Fatal("expected parse errors")
	}
	var numErr interface{ Unwrap() []error }
	if !errors.As(err, &numErr) || len(numErr.Unwrap()) != 2 {
		t.Fatalf("expected two joined errors, got %v", err)
	}
}

func TestPublicURLWithPort(t *testing.T) {
	t.Parallel()

	c := ServerConfig{BindAddress: "0.0.0.0", Port: 8080}
	if got := c.PublicURL(); got != "http://0.0.0.0:8080/" {
		t.Fatalf("public url = %q", got)
	}
	if got := c.Addr(); got != "0.0.0.0:8080" {
		t.Fatalf("addr = %q", got)
	}
}

func TestSecondaryNeedsSecretWhenLinksAreSigned(t *testing.T) {
	t.Parallel()

	base := map[string]string{
		"MODE":         "secondary",
		"BOT_TOKEN":    "t",
		"FLOG_CHANNEL": "-100",
	}
	missing := filepath.Join(t.TempDir(), "missing.toml")

	if _, err := load(missing, envMap(base)); err != nil {
		t.Fatalf("open secondary without secret: %v", err)
	}
	for _, extra := range []map[string]string{
		{"AUTH_USERS": "42"},
		{"FORCE_SUB_ID": "-100900"},
	} {
		env := make(map[string]string, len(base)+1)
		for k, v := range base {
			env[k] = v
		}
		for k, v := range extra {
			env[k] = v
		}
		_, err := load(missing, envMap(env))
		if err == nil || !strings.Contains(err.Error(), "jwt_secret") {
			t.Fatalf("env %v: expected jwt_secret error, got %v", extra, err)
		}
	}
}

func TestLoadReportsEnvAndValidationErrorsTogether(t *testing.T) {
	t.Parallel()

	_, err := load(filepath.Join(t.TempDir(), "missing.toml"), envMap(map[string]string{
		"PORT":      "eighty",
		"BOT_TOKEN": "t",
	}))
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	for _, want := range []string{"PORT", "LogChannel", "jwt_secret"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("error %q does not mention %s", msg, want)
		}
	}
}
