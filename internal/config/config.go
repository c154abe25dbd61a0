// Package config reads service settings from the environment.
package config

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Auth modes accepted in AUTH_MODE.
const (
	AuthDemo  = "demo"
	AuthHS256 = "hs256"
	AuthJWKS  = "jwks"
)

// Config holds the settings shared by the board subcommands.
type Config struct {
	Debug bool

	StorageConnStr string
	BoardTable     string
	FallbackQueue  string
	RedisConnStr   string

	BoardCacheTTL   time.Duration
	DeduperTTL      time.Duration
	MoveTxTimeout   time.Duration
	MoveMaxAttempts int

	AuthMode      string
	DemoUserID    string
	AuthSecret    string
	Auth0Domain   string
	Auth0Audience string

	ListenAddr string
	CORSOrigin string
}

// Load reads the configuration through lookup, normally os.LookupEnv.
func Load(lookup func(string) (string, bool)) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var err error
	cfg := Config{
		StorageConnStr: envString(lookup, "STORAGE_CONNECTION_STRING", ""),
		BoardTable:     envString(lookup, "BOARD_TABLE", "board"),
		FallbackQueue:  envString(lookup, "EVENTS_FALLBACK_QUEUE", "board-events"),
		RedisConnStr:   envString(lookup, "REDIS_CONNECTION_STRING", ""),
		AuthMode:       strings.ToLower(envString(lookup, "AUTH_MODE", AuthDemo)),
		DemoUserID:     envString(lookup, "DEMO_USER_ID", "demo-user"),
		AuthSecret:     envString(lookup, "AUTH_SHARED_SECRET", ""),
		Auth0Domain:    envString(lookup, "AUTH0_DOMAIN", ""),
		Auth0Audience:  envString(lookup, "AUTH0_AUDIENCE", ""),
		ListenAddr:     envString(lookup, "LISTEN_ADDR", ":8080"),
		CORSOrigin:     envString(lookup, "CORS_ORIGIN", "*"),
	}
	if cfg.Debug, err = envBool(lookup, "DEBUG", false); err != nil {
		return Config{}, err
	}
	if cfg.BoardCacheTTL, err = envDur(lookup, "BOARD_CACHE_TTL", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.DeduperTTL, err = envDur(lookup, "DEDUPER_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.MoveTxTimeout, err = envDur(lookup, "MOVE_TX_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.MoveMaxAttempts, err = envInt(lookup, "MOVE_MAX_ATTEMPTS", 5); err != nil {
		return Config{}, err
	}
	if cfg.MoveTxTimeout <= 0 {
		return Config{}, fmt.Errorf("invalid MOVE_TX_TIMEOUT: must be greater than zero")
	}
	if cfg.MoveMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("invalid MOVE_MAX_ATTEMPTS: must be greater than zero")
	}
	switch cfg.AuthMode {
	case AuthDemo:
	case AuthHS256:
		if cfg.AuthSecret == "" {
			return Config{}, fmt.Errorf("AUTH_SHARED_SECRET is required for AUTH_MODE=%s", AuthHS256)
		}
	case AuthJWKS:
		if cfg.Auth0Domain == "" || cfg.Auth0Audience == "" {
			return Config{}, fmt.Errorf("missing Auth0 config")
		}
	default:
		return Config{}, fmt.Errorf("invalid AUTH_MODE %q", cfg.AuthMode)
	}
	return cfg, nil
}

// RedisOptions parses either a redis:// URL or the
// "host:port,password=...,ssl=True" form used by managed Redis offerings.
func RedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, fmt.Errorf("missing redis config")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}

func envString(lookup func(string) (string, bool), key, def string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(lookup func(string) (string, bool), key string, def int) (int, error) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envDur(lookup func(string) (string, bool), key string, def time.Duration) (time.Duration, error) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func envBool(lookup func(string) (string, bool), key string, def bool) (bool, error) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
