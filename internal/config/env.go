package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// applyEnv overlays the deployment variables the bot has always honored.
// Values set in the environment win over the config file.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	i64 := func(key string, dst *int64) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("env %s: %w", key, err))
			return
		}
		*dst = n
	}
	integer := func(key string, dst *int) {
		n := int64(*dst)
		i64(key, &n)
		*dst = int(n)
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = parseBool(v)
		}
	}
	seconds := func(key string, dst *time.Duration) {
		n := int64(-1)
		i64(key, &n)
		if n >= 0 {
			*dst = time.Duration(n) * time.Second
		}
	}

	str("MODE", &cfg.Mode)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)

	str("BIND_ADDRESS", &cfg.Server.BindAddress)
	integer("PORT", &cfg.Server.Port)
	str("FQDN", &cfg.Server.FQDN)
	boolean("HAS_SSL", &cfg.Server.HasSSL)
	boolean("NO_PORT", &cfg.Server.NoPort)
	seconds("PING_INTERVAL", &cfg.Server.PingInterval)

	str("JWT_SECRET", &cfg.Auth.JWTSecret)

	str("BOT_TOKEN", &cfg.Telegram.BotToken)
	if v, ok := lookup("MULTI_TOKENS"); ok && strings.TrimSpace(v) != "" {
		cfg.Telegram.MultiTokens = strings.Fields(v)
	}
	i64("OWNER_ID", &cfg.Telegram.OwnerID)
	i64("FLOG_CHANNEL", &cfg.Telegram.LogChannel)
	i64("CACHE_CHANNEL", &cfg.Telegram.CacheChannel)
	i64("FORCE_SUB_ID", &cfg.Telegram.ForceSubChannel)
	str("UPDATES_CHANNEL", &cfg.Telegram.UpdatesChannel)
	if v, ok := lookup("AUTH_USERS"); ok && strings.TrimSpace(v) != "" {
		ids, err := parseIDs(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("env AUTH_USERS: %w", err))
		} else {
			cfg.Telegram.AuthUsers = ids
		}
	}

	integer("WORKERS", &cfg.Pool.Workers)
	seconds("SLEEP_THRESHOLD", &cfg.Flood.SleepThreshold)

	str("DATABASE_URL", &cfg.Postgres.URL)
	str("STORE_DRIVER", &cfg.Store.Driver)

	return errors.Join(errs...)
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y":
		return true
	default:
		return false
	}
}

// parseIDs reads a whitespace separated id list, dropping duplicates.
func parseIDs(v string) ([]int64, error) {
	seen := make(map[int64]struct{})
	var out []int64
	for _, f := range strings.Fields(v) {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}
