// Package config loads chatsync settings. Values are layered: built-in
// defaults, then a TOML file, then a .env file, then CHATSYNC_* environment
// variables. Later layers win.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	toml "github.com/pelletier/go-toml/v2"
)

// EnvPrefix prefixes every environment override, e.g. CHATSYNC_REMOTE_KIND.
const EnvPrefix = "chatsync"

// Remote kinds.
const (
	RemoteMemory    = "memory"
	RemoteHTTP      = "http"
	RemoteFirestore = "firestore"
)

// Retry policies.
const (
	RetryManual  = "manual"
	RetryOnStart = "on_start"
)

// Config is the full chatsync configuration.
type Config struct {
	DataDir     string `toml:"data_dir" envconfig:"data_dir"`
	UserID      string `toml:"user_id" envconfig:"user_id"`
	MetricsAddr string `toml:"metrics_addr" envconfig:"metrics_addr"`

	Log       LogConfig       `toml:"log" envconfig:"log"`
	Remote    RemoteConfig    `toml:"remote" envconfig:"remote"`
	Media     MediaConfig     `toml:"media" envconfig:"media"`
	Cache     CacheConfig     `toml:"cache" envconfig:"cache"`
	Retention RetentionConfig `toml:"retention" envconfig:"retention"`
	Retry     RetryConfig     `toml:"retry" envconfig:"retry"`
	Chat      ChatConfig      `toml:"chat" envconfig:"chat"`
}

type LogConfig struct {
	Level  string `toml:"level" envconfig:"level"`
	Format string `toml:"format" envconfig:"format"`
}

// RemoteConfig selects and configures the remote system of record.
type RemoteConfig struct {
	Kind             string   `toml:"kind" envconfig:"kind"`
	BaseURL          string   `toml:"base_url" envconfig:"base_url"`
	Token            string   `toml:"token" envconfig:"token"`
	Timeout          Duration `toml:"timeout" envconfig:"timeout"`
	RealtimeURL      string   `toml:"realtime_url" envconfig:"realtime_url"`
	FirestoreProject string   `toml:"firestore_project" envconfig:"firestore_project"`
	CredentialsFile  string   `toml:"credentials_file" envconfig:"credentials_file"`
}

// MediaConfig enables S3 attachment uploads when Bucket is set.
type MediaConfig struct {
	Bucket          string `toml:"bucket" envconfig:"bucket"`
	Region          string `toml:"region" envconfig:"region"`
	PublicBaseURL   string `toml:"public_base_url" envconfig:"public_base_url"`
	AccessKeyID     string `toml:"access_key_id" envconfig:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key" envconfig:"secret_access_key"`
}

// CacheConfig enables Redis invalidation fan-out when RedisURL is set.
type CacheConfig struct {
	RedisURL string `toml:"redis_url" envconfig:"redis_url"`
	Channel  string `toml:"channel" envconfig:"channel"`
}

type RetentionConfig struct {
	MaxAgeDays int    `toml:"max_age_days" envconfig:"max_age_days"`
	Cron       string `toml:"cron" envconfig:"cron"`
}

type RetryConfig struct {
	Policy        string `toml:"policy" envconfig:"policy"`
	IncludeFailed bool   `toml:"include_failed" envconfig:"include_failed"`
}

type ChatConfig struct {
	MaxGroupParticipants int `toml:"max_group_participants" envconfig:"max_group_participants"`
	PageSize             int `toml:"page_size" envconfig:"page_size"`
}

// Default returns the built-in settings.
func Default() *Config {
	dataDir := ".chatsync"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".chatsync")
	}
	return &Config{
		DataDir:   dataDir,
		Log:       LogConfig{Level: "info", Format: "console"},
		Remote:    RemoteConfig{Kind: RemoteMemory, Timeout: Duration{15 * time.Second}},
		Cache:     CacheConfig{Channel: "chatsync:invalidate"},
		Retention: RetentionConfig{MaxAgeDays: 90, Cron: "0 3 * * *"},
		Retry:     RetryConfig{Policy: RetryManual},
		Chat:      ChatConfig{MaxGroupParticipants: 20, PageSize: 50},
	}
}

// DefaultPath is where Load looks for a config file when none is named.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".chatsync", "config.toml")
}

// Load builds the configuration. An explicit path must exist; the default
// path is optional. envFile names a dotenv file to read if present; existing
// environment variables are never overwritten by it.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv("CHATSYNC_CONFIG")
		explicit = path != ""
	}
	if !explicit {
		path = DefaultPath()
	}
	if err := cfg.mergeFile(path, explicit); err != nil {
		return nil, err
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("cannot load %s: %w", envFile, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("cannot read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("cannot read config: %w", err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("cannot parse config %s: %w", path, err)
	}
	return nil
}

// Save writes cfg to path as TOML, creating parent directories.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// Validate rejects unknown enum values and incomplete remote settings.
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q must be trace, debug, info, warn or error", c.Log.Level))
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q must be console or json", c.Log.Format))
	}

	switch c.Remote.Kind {
	case RemoteMemory:
	case RemoteHTTP:
		if c.Remote.BaseURL == "" {
			errs = append(errs, errors.New("remote.base_url is required for the http remote"))
		}
	case RemoteFirestore:
		if c.Remote.FirestoreProject == "" {
			errs = append(errs, errors.New("remote.firestore_project is required for the firestore remote"))
		}
	default:
		errs = append(errs, fmt.Errorf("remote.kind %q must be memory, http or firestore", c.Remote.Kind))
	}
	if c.Remote.Timeout.Duration <= 0 {
		errs = append(errs, errors.New("remote.timeout must be positive"))
	}

	if c.Media.Bucket != "" && c.Media.Region == "" {
		errs = append(errs, errors.New("media.region is required when media.bucket is set"))
	}

	if c.Retention.MaxAgeDays <= 0 {
		errs = append(errs, fmt.Errorf("retention.max_age_days must be positive, got %d", c.Retention.MaxAgeDays))
	}
	if c.Retention.Cron != "" && !gronx.IsValid(c.Retention.Cron) {
		errs = append(errs, fmt.Errorf("retention.cron %q is not a valid cron expression", c.Retention.Cron))
	}

	if c.Retry.Policy != RetryManual && c.Retry.Policy != RetryOnStart {
		errs = append(errs, fmt.Errorf("retry.policy %q must be manual or on_start", c.Retry.Policy))
	}

	if c.Chat.MaxGroupParticipants < 3 {
		errs = append(errs, fmt.Errorf("chat.max_group_participants must be at least 3, got %d", c.Chat.MaxGroupParticipants))
	}
	if c.Chat.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("chat.page_size must be positive, got %d", c.Chat.PageSize))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Duration is a time.Duration written as a string such as "15s" in TOML and
// the environment.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}
