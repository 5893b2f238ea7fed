package common

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"golang.org/x/crypto/argon2"
)

// masterKeySalt is the fixed application salt used when the master key is
// supplied as a passphrase rather than a raw 32-byte hex key. Changing it
// invalidates every credential at rest.
var masterKeySalt = []byte("camsync.vault.v1")

// MasterKeyEnv is the environment variable holding the vault master key.
// The key never appears in config files.
const MasterKeyEnv = "CAMSYNC_MASTER_KEY"

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Logging     LoggingConfig   `toml:"logging"`
	Storage     StorageConfig   `toml:"storage"`
	Downloads   DownloadsConfig `toml:"downloads"`
	OAuth       OAuthConfig     `toml:"oauth"`
	Providers   ProvidersConfig `toml:"providers"`
	Sources     []SourceEntry   `toml:"sources"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
	// VideoDir is where completed downloads land; the detection pipeline
	// reads from here.
	VideoDir string `toml:"video_dir" validate:"required"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

// DownloadsConfig bounds download concurrency and retry behavior.
type DownloadsConfig struct {
	Concurrency int           `toml:"concurrency" validate:"gte=1,lte=64"` // Parallel downloads per sync run
	MaxAttempts int           `toml:"max_attempts" validate:"gte=1"`       // Attempts per record (transient errors only)
	BaseDelay   time.Duration `toml:"base_delay"`                          // First backoff delay
	MaxDelay    time.Duration `toml:"max_delay"`                           // Backoff cap
}

// OAuthConfig holds session behavior shared by all OAuth providers.
type OAuthConfig struct {
	SessionTTL    time.Duration `toml:"session_ttl"`    // Callback must arrive within this window (default 10m)
	SweepInterval time.Duration `toml:"sweep_interval"` // Expired-session sweep cadence
}

// ProvidersConfig carries per-provider client settings.
type ProvidersConfig struct {
	Dropbox   DropboxConfig   `toml:"dropbox"`
	Imou      ImouConfig      `toml:"imou"`
	Hikvision HikvisionConfig `toml:"hikvision"`
}

type DropboxConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURL  string `toml:"redirect_url"`
	RateLimit    int    `toml:"rate_limit"` // Requests per second
	// RefreshOnPermissionDenied controls whether an ambiguous authorization
	// failure triggers one token refresh before being reported.
	RefreshOnPermissionDenied bool `toml:"refresh_on_permission_denied"`
}

type ImouConfig struct {
	ClientID                  string `toml:"client_id"`
	ClientSecret              string `toml:"client_secret"`
	RedirectURL               string `toml:"redirect_url"`
	RateLimit                 int    `toml:"rate_limit"`
	RefreshOnPermissionDenied bool   `toml:"refresh_on_permission_denied"`
}

type HikvisionConfig struct {
	RateLimit int `toml:"rate_limit"`
}

// SourceEntry configures one video source to sync.
type SourceEntry struct {
	ID         string   `toml:"id" validate:"required"`
	Provider   string   `toml:"provider" validate:"required,oneof=dropbox imou hikvision"`
	AccountKey string   `toml:"account_key" validate:"required"`
	Containers []string `toml:"containers"` // Folder paths, device/channel refs, or channel numbers
	Schedule   string   `toml:"schedule"`   // Cron expression; empty = manual only
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/camsync",
			},
			VideoDir: "./data/videos",
		},
		Downloads: DownloadsConfig{
			Concurrency: 4,
			MaxAttempts: 3,
			BaseDelay:   2 * time.Second,
			MaxDelay:    30 * time.Second,
		},
		OAuth: OAuthConfig{
			SessionTTL:    10 * time.Minute,
			SweepInterval: time.Minute,
		},
		Providers: ProvidersConfig{
			Dropbox:   DropboxConfig{RateLimit: 10, RefreshOnPermissionDenied: true},
			Imou:      ImouConfig{RateLimit: 5, RefreshOnPermissionDenied: false},
			Hikvision: HikvisionConfig{RateLimit: 5},
		},
	}
}

// LoadConfig loads configuration from a TOML file, applying defaults for
// anything the file omits. An empty path returns defaults.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies CAMSYNC_* environment overrides on top of file values
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("CAMSYNC_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("CAMSYNC_BADGER_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("CAMSYNC_VIDEO_DIR"); v != "" {
		config.Storage.VideoDir = v
	}
	if v := os.Getenv("CAMSYNC_DROPBOX_CLIENT_ID"); v != "" {
		config.Providers.Dropbox.ClientID = v
	}
	if v := os.Getenv("CAMSYNC_DROPBOX_CLIENT_SECRET"); v != "" {
		config.Providers.Dropbox.ClientSecret = v
	}
	if v := os.Getenv("CAMSYNC_IMOU_CLIENT_ID"); v != "" {
		config.Providers.Imou.ClientID = v
	}
	if v := os.Getenv("CAMSYNC_IMOU_CLIENT_SECRET"); v != "" {
		config.Providers.Imou.ClientSecret = v
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	return nil
}

// MasterKey resolves the vault master key from the environment. A 64-char
// hex value is used directly as the 32-byte key; anything else is treated
// as a passphrase and stretched with argon2id.
func MasterKey() ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(MasterKeyEnv))
	if raw == "" {
		return nil, fmt.Errorf("%s is not set", MasterKeyEnv)
	}

	if len(raw) == 64 {
		if key, err := hex.DecodeString(raw); err == nil {
			return key, nil
		}
	}

	return argon2.IDKey([]byte(raw), masterKeySalt, 1, 64*1024, 4, 32), nil
}
