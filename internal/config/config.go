package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath     = "config.toml"
	DefaultBindAddress    = "0.0.0.0"
	DefaultPort           = 8080
	DefaultWorkers        = 6
	DefaultPingInterval   = 1200 * time.Second
	DefaultSleepThreshold = 60 * time.Second
	DefaultMinCallSpacing = 50 * time.Millisecond
	DefaultChunkSize      = 1 << 20
	DefaultChunkAttempts  = 4
	DefaultChunkTimeout   = 30 * time.Second
	DefaultLinkTTL        = 7 * 24 * time.Hour
	DefaultCacheTTL       = 30 * time.Minute
	DefaultMaxUploadBytes = 2 << 30
	DefaultMaxConcurrent  = 128
	DefaultUpdatesChannel = "https://t.me/UHD_Bots"
	DefaultPGHost         = "127.0.0.1"
	DefaultPGPort         = 5432
	DefaultPGUser         = "postgres"
	DefaultPGDatabase     = "filelinks"
	DefaultPGSSLMode      = "disable"

	ModePrimary   = "primary"
	ModeSecondary = "secondary"

	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config is built once at startup and treated as immutable afterwards.
type Config struct {
	Mode     string         `toml:"mode" yaml:"mode" validate:"oneof=primary secondary"`
	Log      LogConfig      `toml:"log" yaml:"log"`
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Auth     AuthConfig     `toml:"auth" yaml:"auth"`
	Telegram TelegramConfig `toml:"telegram" yaml:"telegram"`
	Pool     PoolConfig     `toml:"pool" yaml:"pool"`
	Flood    FloodConfig    `toml:"flood" yaml:"flood"`
	Stream   StreamConfig   `toml:"stream" yaml:"stream"`
	Store    StoreConfig    `toml:"store" yaml:"store"`
	Postgres PostgresConfig `toml:"postgres" yaml:"postgres"`
}

type LogConfig struct {
	Level  string `toml:"level" yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `toml:"format" yaml:"format" validate:"omitempty,oneof=text json"`
}

type ServerConfig struct {
	BindAddress    string        `toml:"bind_address" yaml:"bind_address"`
	Port           int           `toml:"port" yaml:"port" validate:"min=1,max=65535"`
	FQDN           string        `toml:"fqdn" yaml:"fqdn"`
	HasSSL         bool          `toml:"has_ssl" yaml:"has_ssl"`
	NoPort         bool          `toml:"no_port" yaml:"no_port"`
	PingInterval   time.Duration `toml:"ping_interval" yaml:"ping_interval" validate:"gte=0"`
	MaxUploadBytes int64         `toml:"max_upload_bytes" yaml:"max_upload_bytes" validate:"gt=0"`
	// MaxConcurrent caps in-flight HTTP requests; further requests get 503.
	MaxConcurrent  int           `toml:"max_concurrent" yaml:"max_concurrent" validate:"min=1"`
}

type AuthConfig struct {
	JWTSecret string        `toml:"jwt_secret" yaml:"jwt_secret"`
	LinkTTL   time.Duration `toml:"link_ttl" yaml:"link_ttl" validate:"gt=0"`
}

type TelegramConfig struct {
	BotToken        string   `toml:"bot_token" yaml:"bot_token" validate:"required"`
	MultiTokens     []string `toml:"multi_tokens" yaml:"multi_tokens" validate:"dive,required"`
	APIEndpoint     string   `toml:"api_endpoint" yaml:"api_endpoint"`
	FileEndpoint    string   `toml:"file_endpoint" yaml:"file_endpoint"`
	OwnerID         int64    `toml:"owner_id" yaml:"owner_id"`
	LogChannel      int64    `toml:"log_channel" yaml:"log_channel" validate:"required"`
	CacheChannel    int64    `toml:"cache_channel" yaml:"cache_channel"`
	ForceSubChannel int64    `toml:"force_sub_channel" yaml:"force_sub_channel"`
	UpdatesChannel  string   `toml:"updates_channel" yaml:"updates_channel"`
	AuthUsers       []int64  `toml:"auth_users" yaml:"auth_users"`
}

type PoolConfig struct {
	Workers         int `toml:"workers" yaml:"workers" validate:"min=1"`
	MaxAuthFailures int `toml:"max_auth_failures" yaml:"max_auth_failures" validate:"min=1"`
}

type FloodConfig struct {
	MinCallSpacing time.Duration `toml:"min_call_spacing" yaml:"min_call_spacing" validate:"gte=0"`
	SleepThreshold time.Duration `toml:"sleep_threshold" yaml:"sleep_threshold" validate:"gt=0"`
}

type StreamConfig struct {
	ChunkSize     int           `toml:"chunk_size" yaml:"chunk_size" validate:"min=4096"`
	ChunkAttempts int           `toml:"chunk_attempts" yaml:"chunk_attempts" validate:"min=1"`
	ChunkTimeout  time.Duration `toml:"chunk_timeout" yaml:"chunk_timeout" validate:"gt=0"`
}

type StoreConfig struct {
	Driver   string        `toml:"driver" yaml:"driver" validate:"oneof=postgres memory"`
	CacheTTL time.Duration `toml:"cache_ttl" yaml:"cache_ttl" validate:"gte=0"`
}

type PostgresConfig struct {
	URL      string `toml:"url" yaml:"url"`
	Host     string `toml:"host" yaml:"host"`
	Port     int    `toml:"port" yaml:"port"`
	User     string `toml:"user" yaml:"user"`
	Password string `toml:"password" yaml:"password"`
	Database string `toml:"database" yaml:"database"`
	SSLMode  string `toml:"sslmode" yaml:"sslmode"`
}

// DSN returns the connection string, preferring an explicit URL.
func (c PostgresConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// Addr is the listen address of the HTTP server.
func (c ServerConfig) Addr() string {
	host := c.BindAddress
	if host == "" {
		host = DefaultBindAddress
	}
	return host + ":" + strconv.Itoa(c.Port)
}

// PublicURL is the externally reachable base URL with a trailing slash.
func (c ServerConfig) PublicURL() string {
	host := c.FQDN
	if host == "" {
		host = c.BindAddress
	}
	scheme := "http"
	if c.HasSSL {
		scheme = "https"
	}
	port := ""
	if !c.NoPort {
		port = ":" + strconv.Itoa(c.Port)
	}
	return scheme + "://" + host + port + "/"
}

func (c Config) IsPrimary() bool { return c.Mode == ModePrimary }

// Tokens lists the main bot token first, followed by the extra tokens.
func (c TelegramConfig) Tokens() []string {
	out := make([]string, 0, 1+len(c.MultiTokens))
	out = append(out, c.BotToken)
	out = append(out, c.MultiTokens...)
	return out
}

func defaults() Config {
	return Config{
		Mode: ModePrimary,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			BindAddress:    DefaultBindAddress,
			Port:           DefaultPort,
			PingInterval:   DefaultPingInterval,
			MaxUploadBytes: DefaultMaxUploadBytes,
			MaxConcurrent:  DefaultMaxConcurrent,
		},
		Auth: AuthConfig{
			LinkTTL: DefaultLinkTTL,
		},
		Telegram: TelegramConfig{
			UpdatesChannel: DefaultUpdatesChannel,
		},
		Pool: PoolConfig{
			Workers:         DefaultWorkers,
			MaxAuthFailures: 3,
		},
		Flood: FloodConfig{
			MinCallSpacing: DefaultMinCallSpacing,
			SleepThreshold: DefaultSleepThreshold,
		},
		Stream: StreamConfig{
			ChunkSize:     DefaultChunkSize,
			ChunkAttempts: DefaultChunkAttempts,
			ChunkTimeout:  DefaultChunkTimeout,
		},
		Store: StoreConfig{
			Driver:   StoreDriverPostgres,
			CacheTTL: DefaultCacheTTL,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
	}
}

// Load reads the file at path (TOML, or YAML for .yaml/.yml), applies
// environment overrides and validates the result. A missing file is not an
// error; the environment alone may carry a complete configuration.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := defaults()

	if path == "" {
		path = DefaultConfigPath
	}
	if err := decodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	envErr := applyEnv(&cfg, lookup)
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if err := errors.Join(envErr, Validate(cfg)); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	default:
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field and cross-field rule and reports all
// problems at once.
func Validate(cfg Config) error {
	var errs []error
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("config: %s fails %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}
	if n := len(cfg.Telegram.Tokens()); n > cfg.Pool.Workers {
		errs = append(errs, fmt.Errorf("config: %d bot tokens exceed pool.workers=%d", n, cfg.Pool.Workers))
	}
	if cfg.Stream.ChunkSize%4096 != 0 {
		errs = append(errs, fmt.Errorf("config: stream.chunk_size must be a multiple of 4096"))
	}
	if cfg.Auth.JWTSecret == "" {
		switch {
		case cfg.Mode != ModeSecondary:
			errs = append(errs, errors.New("config: auth.jwt_secret is required in primary mode"))
		case len(cfg.Telegram.AuthUsers) > 0 || cfg.Telegram.ForceSubChannel != 0:
			errs = append(errs, errors.New("config: auth.jwt_secret is required to verify signed links when auth_users or force_sub_channel is set"))
		}
	}
	return errors.Join(errs...)
}
