package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile      = "config.yaml"
	DefaultEnvFile         = ".env"
	DefaultStoragePath     = ".feeder/feeder.db"
	DefaultSessionDir      = ".feeder/session"
	DefaultFilesDirectory  = ".feeder/files"
	DefaultLogLevel        = "info"
	DefaultSyncDepth       = 72 * time.Hour
	DefaultPollInterval    = time.Minute
	DefaultScrapeInterval  = time.Minute
	DefaultVKTick          = time.Second
	DefaultVKRequests      = 3
	DefaultDownloadSlots   = 1
	DefaultTelegramIDEnv   = "TELEGRAM_API_ID"
	DefaultTelegramHashEnv = "TELEGRAM_API_HASH"
	DefaultVKTokenEnv      = "VK_TOKEN"
)

// Duration wraps time.Duration for YAML values like "72h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	HTTP     HTTPConfig     `yaml:"http"`
	Storage  StorageConfig  `yaml:"storage"`
	Sync     SyncConfig     `yaml:"sync"`
	Web      WebConfig      `yaml:"web"`
	Telegram TelegramConfig `yaml:"telegram"`
	VK       VKConfig       `yaml:"vk"`
	Privacy  PrivacyConfig  `yaml:"privacy"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type HTTPConfig struct {
	// Addr is the listen address of the HTTP API. Empty disables it.
	Addr string `yaml:"addr"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
	// RetainDays prunes older records on start. Zero keeps everything.
	RetainDays int `yaml:"retain_days"`
}

type SyncConfig struct {
	OnStart bool     `yaml:"on_start"`
	Depth   Duration `yaml:"depth"`
}

type WebConfig struct {
	Enabled        bool     `yaml:"enabled"`
	PollInterval   Duration `yaml:"poll_interval"`
	ScrapeInterval Duration `yaml:"scrape_interval"`
}

type TelegramConfig struct {
	Enabled                  bool     `yaml:"enabled"`
	APIIDEnv                 string   `yaml:"api_id_env"`
	APIHashEnv               string   `yaml:"api_hash_env"`
	PhoneEnv                 string   `yaml:"phone_env"`
	SessionDir               string   `yaml:"session_dir"`
	FilesDirectory           string   `yaml:"files_directory"`
	MaxDownloadQueueSize     int      `yaml:"max_download_queue_size"`
	LogDownloadStateInterval Duration `yaml:"log_download_state_interval"`

	// Resolved from env vars at load time.
	APIID   int    `yaml:"-"`
	APIHash string `yaml:"-"`
	Phone   string `yaml:"-"`
}

type VKConfig struct {
	Enabled            bool     `yaml:"enabled"`
	TokenEnv           string   `yaml:"token_env"`
	PollInterval       Duration `yaml:"poll_interval"`
	ScrapeInterval     Duration `yaml:"scrape_interval"`
	Tick               Duration `yaml:"tick"`
	MaxRequestsPerTick int      `yaml:"max_requests_per_tick"`

	// Resolved from env var at load time.
	Token string `yaml:"-"`
}

type PrivacyConfig struct {
	Redact RedactConfig `yaml:"redact"`
}

type RedactConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Patterns []string `yaml:"patterns"`
}

// overrides are deployment settings read from the environment. They win
// over the file.
type overrides struct {
	LogLevel    string `env:"FEEDER_LOG_LEVEL"`
	StoragePath string `env:"FEEDER_STORAGE_PATH"`
	HTTPAddr    string `env:"FEEDER_HTTP_ADDR"`
}

// Load reads config.yaml from dir. A .env file next to it is loaded into the
// environment first; variables already set are kept.
func Load(dir string) (*Config, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("config dir is required")
	}

	if err := godotenv.Load(filepath.Join(dir, DefaultEnvFile)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", DefaultEnvFile, err)
	}

	data, err := os.ReadFile(filepath.Join(dir, DefaultConfigFile))
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	if err := applyOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	if err := resolveEnv(&cfg); err != nil {
		return nil, fmt.Errorf("resolve env: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	setString(&cfg.Logging.Level, DefaultLogLevel)
	setString(&cfg.Storage.Path, DefaultStoragePath)
	setDuration(&cfg.Sync.Depth, DefaultSyncDepth)

	setDuration(&cfg.Web.PollInterval, DefaultPollInterval)
	setDuration(&cfg.Web.ScrapeInterval, DefaultScrapeInterval)

	setString(&cfg.Telegram.APIIDEnv, DefaultTelegramIDEnv)
	setString(&cfg.Telegram.APIHashEnv, DefaultTelegramHashEnv)
	setString(&cfg.Telegram.SessionDir, DefaultSessionDir)
	setString(&cfg.Telegram.FilesDirectory, DefaultFilesDirectory)
	if cfg.Telegram.MaxDownloadQueueSize == 0 {
		cfg.Telegram.MaxDownloadQueueSize = DefaultDownloadSlots
	}

	setString(&cfg.VK.TokenEnv, DefaultVKTokenEnv)
	setDuration(&cfg.VK.PollInterval, DefaultPollInterval)
	setDuration(&cfg.VK.ScrapeInterval, DefaultScrapeInterval)
	setDuration(&cfg.VK.Tick, DefaultVKTick)
	if cfg.VK.MaxRequestsPerTick == 0 {
		cfg.VK.MaxRequestsPerTick = DefaultVKRequests
	}
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setDuration(dst *Duration, def time.Duration) {
	if dst.Duration == 0 {
		dst.Duration = def
	}
}

func applyOverrides(cfg *Config) error {
	o, err := env.ParseAs[overrides]()
	if err != nil {
		return err
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if o.StoragePath != "" {
		cfg.Storage.Path = o.StoragePath
	}
	if o.HTTPAddr != "" {
		cfg.HTTP.Addr = o.HTTPAddr
	}
	return nil
}

func resolveEnv(cfg *Config) error {
	if id := strings.TrimSpace(os.Getenv(cfg.Telegram.APIIDEnv)); id != "" && cfg.Telegram.Enabled {
		n, err := strconv.Atoi(id)
		if err != nil {
			return fmt.Errorf("%s: api id must be a number", cfg.Telegram.APIIDEnv)
		}
		cfg.Telegram.APIID = n
	}
	cfg.Telegram.APIHash = os.Getenv(cfg.Telegram.APIHashEnv)
	if cfg.Telegram.PhoneEnv != "" {
		cfg.Telegram.Phone = os.Getenv(cfg.Telegram.PhoneEnv)
	}
	cfg.VK.Token = os.Getenv(cfg.VK.TokenEnv)
	return nil
}

func validate(cfg *Config) error {
	if !cfg.Web.Enabled && !cfg.Telegram.Enabled && !cfg.VK.Enabled {
		return errors.New("at least one of web, telegram, vk must be enabled")
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level)
	}

	if cfg.Storage.RetainDays < 0 {
		return errors.New("storage.retain_days must not be negative")
	}

	if cfg.Telegram.Enabled {
		if cfg.Telegram.APIID == 0 || cfg.Telegram.APIHash == "" {
			return fmt.Errorf("telegram: %s and %s must be set", cfg.Telegram.APIIDEnv, cfg.Telegram.APIHashEnv)
		}
		if cfg.Telegram.MaxDownloadQueueSize < 1 {
			return errors.New("telegram.max_download_queue_size must be positive")
		}
	}
	if cfg.VK.Enabled {
		if cfg.VK.Token == "" {
			return fmt.Errorf("vk: %s must be set", cfg.VK.TokenEnv)
		}
		if cfg.VK.MaxRequestsPerTick < 1 {
			return errors.New("vk.max_requests_per_tick must be positive")
		}
	}

	positive := []struct {
		name string
		d    time.Duration
	}{
		{"sync.depth", cfg.Sync.Depth.Duration},
		{"web.poll_interval", cfg.Web.PollInterval.Duration},
		{"web.scrape_interval", cfg.Web.ScrapeInterval.Duration},
		{"vk.poll_interval", cfg.VK.PollInterval.Duration},
		{"vk.scrape_interval", cfg.VK.ScrapeInterval.Duration},
		{"vk.tick", cfg.VK.Tick.Duration},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return fmt.Errorf("%s must be positive", p.name)
		}
	}
	if cfg.Telegram.LogDownloadStateInterval.Duration < 0 {
		return errors.New("telegram.log_download_state_interval must not be negative")
	}
	return nil
}
