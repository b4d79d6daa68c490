package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"taskmatrix/api"
	"taskmatrix/board"
	"taskmatrix/live"
)

const envPrefix = "TASKMATRIX"

type LiveConfig struct {
	Mode     string
	RedisURL string
}

type CacheConfig struct {
	RedisURL string
	TTL      time.Duration
}

type MoveConfig struct {
	Policy         string
	Workers        int
	Buffer         int
	HandoffTimeout time.Duration
}

// Config is the resolved client configuration.
type Config struct {
	APIBase         string
	CredentialsFile string
	RequestTimeout  time.Duration
	Debug           bool
	Live            LiveConfig
	Cache           CacheConfig
	Move            MoveConfig
}

// Dir is where the config file and stored credentials live by default.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".taskmatrix"
	}
	return filepath.Join(home, ".config", "taskmatrix")
}

// Load reads configuration from path, or from config.yaml in Dir when path is
// empty, and applies TASKMATRIX_ environment overrides. A missing default
// file is not an error; a missing explicit one is.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("api_base", api.DefaultBaseURL)
	v.SetDefault("credentials_file", filepath.Join(Dir(), "credentials.yaml"))
	v.SetDefault("request_timeout", 15*time.Second)
	v.SetDefault("debug", false)
	v.SetDefault("live.mode", live.ModeNone)
	v.SetDefault("live.redis_url", "")
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.ttl", 10*time.Minute)
	v.SetDefault("move.policy", board.FireAndForget.String())
	v.SetDefault("move.workers", 4)
	v.SetDefault("move.buffer", 64)
	v.SetDefault("move.handoff_timeout", 50*time.Millisecond)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(Dir())
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		APIBase:         strings.TrimRight(v.GetString("api_base"), "/"),
		CredentialsFile: expandHome(v.GetString("credentials_file")),
		RequestTimeout:  v.GetDuration("request_timeout"),
		Debug:           v.GetBool("debug"),
		Live: LiveConfig{
			Mode:     strings.ToLower(strings.TrimSpace(v.GetString("live.mode"))),
			RedisURL: v.GetString("live.redis_url"),
		},
		Cache: CacheConfig{
			RedisURL: v.GetString("cache.redis_url"),
			TTL:      v.GetDuration("cache.ttl"),
		},
		Move: MoveConfig{
			Policy:         v.GetString("move.policy"),
			Workers:        v.GetInt("move.workers"),
			Buffer:         v.GetInt("move.buffer"),
			HandoffTimeout: v.GetDuration("move.handoff_timeout"),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.APIBase == "" {
		return errors.New("api_base must not be empty")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request_timeout must be a positive duration")
	}
	switch c.Live.Mode {
	case live.ModeNone, live.ModeSSE:
	case live.ModeRedis:
		if c.Live.RedisURL == "" {
			return errors.New("live.redis_url is required when live.mode is redis")
		}
	default:
		return fmt.Errorf("unknown live.mode %q", c.Live.Mode)
	}
	if c.Cache.TTL < 0 {
		return errors.New("cache.ttl must not be negative")
	}
	if _, err := board.ParseMovePolicy(c.Move.Policy); err != nil {
		return err
	}
	if c.Move.Workers < 0 || c.Move.Buffer < 0 {
		return errors.New("move.workers and move.buffer must not be negative")
	}
	return nil
}

// SessionConfig maps the move settings onto a board session.
func (c *Config) SessionConfig() board.SessionConfig {
	policy, _ := board.ParseMovePolicy(c.Move.Policy)
	return board.SessionConfig{
		Policy: policy,
		Persist: board.PersistConfig{
			Workers:        c.Move.Workers,
			Buffer:         c.Move.Buffer,
			RequestTimeout: c.RequestTimeout,
			HandoffTimeout: c.Move.HandoffTimeout,
		},
	}
}

// RedisOptions accepts a redis:// URL or a "host:port,password=...,ssl=true"
// connection string.
func RedisOptions(raw string) (*redis.Options, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty redis connection string")
	}
	opts, err := redis.ParseURL(raw)
	if err == nil {
		return opts, nil
	}
	parts := strings.Split(raw, ",")
	if strings.Contains(parts[0], "://") || parts[0] == "" {
		return nil, fmt.Errorf("parse redis connection string: %w", err)
	}
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}

// RedisClient returns nil for an empty connection string.
func RedisClient(raw string) (*redis.Client, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	opts, err := RedisOptions(raw)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
