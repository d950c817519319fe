package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/matheus3301/wppsync/internal/reconcile"
)

// Config represents the global ~/.wppsync/config.toml.
type Config struct {
	DefaultSession string         `toml:"default_session"`
	Store          StoreConfig    `toml:"store"`
	Log            LogConfig      `toml:"log"`
	Sync           SyncConfig     `toml:"sync"`
	WhatsApp       WhatsAppConfig `toml:"whatsapp"`
	AMQP           AMQPConfig     `toml:"amqp"`
	Redis          RedisConfig    `toml:"redis"`
}

// StoreConfig locates the chat and message database. An empty path means
// the per-session default.
type StoreConfig struct {
	Path string `toml:"path"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// SyncConfig tunes the reconcilers.
type SyncConfig struct {
	ChatDeleteScope    reconcile.ChatDeleteScope    `toml:"chat_delete_scope"`
	MessageDeleteScope reconcile.MessageDeleteScope `toml:"message_delete_scope"`
	ChatUpsertPolicy   reconcile.UpsertPolicy       `toml:"chat_upsert_policy"`
}

// Options converts the section into reconciler options.
func (s SyncConfig) Options() reconcile.Options {
	return reconcile.Options{
		ChatDelete:    s.ChatDeleteScope,
		MessageDelete: s.MessageDeleteScope,
		ChatUpsert:    s.ChatUpsertPolicy,
	}
}

type WhatsAppConfig struct {
	Enabled bool `toml:"enabled"`
}

// AMQPConfig configures the broker source. It is disabled when URL is empty.
type AMQPConfig struct {
	URL        string `toml:"url"`
	Exchange   string `toml:"exchange"`
	Queue      string `toml:"queue"`
	BindingKey string `toml:"binding_key"`
	Prefetch   int    `toml:"prefetch"`
}

func (a AMQPConfig) Enabled() bool { return a.URL != "" }

// RedisConfig configures the duplicate filter. An empty Addr selects the
// in-memory filter.
type RedisConfig struct {
	Addr             string `toml:"addr"`
	Password         string `toml:"password"`
	DB               int    `toml:"db"`
	DedupeTTLSeconds int    `toml:"dedupe_ttl_seconds"`
}

// DedupeTTL returns how long an envelope id is remembered.
func (r RedisConfig) DedupeTTL() time.Duration {
	return time.Duration(r.DedupeTTLSeconds) * time.Second
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DefaultSession: "main",
		Log:            LogConfig{Level: "info"},
		Sync: SyncConfig{
			ChatDeleteScope:    reconcile.ChatDeleteGlobal,
			MessageDeleteScope: reconcile.MessageDeleteFirstKey,
			ChatUpsertPolicy:   reconcile.UpsertAny,
		},
		WhatsApp: WhatsAppConfig{Enabled: true},
		AMQP: AMQPConfig{
			Exchange:   "wppsync.events",
			Queue:      "wppsync",
			BindingKey: "#",
			Prefetch:   32,
		},
		Redis: RedisConfig{DedupeTTLSeconds: 86400},
	}
}

// Load reads config from the given path over the defaults. Returns nil and
// an error if the file is missing, malformed, carries unknown keys or fails
// validation.
func Load(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default().
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks values the decoder cannot.
func (c *Config) Validate() error {
	if err := c.Sync.Options().Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if c.AMQP.Enabled() && c.AMQP.Queue == "" {
		return errors.New("amqp: queue is required")
	}
	if c.AMQP.Prefetch < 0 {
		return errors.New("amqp: prefetch must not be negative")
	}
	if c.Redis.DedupeTTLSeconds <= 0 {
		return errors.New("redis: dedupe_ttl_seconds must be positive")
	}
	if !c.WhatsApp.Enabled && !c.AMQP.Enabled() {
		return errors.New("no event source: enable whatsapp or set amqp.url")
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
