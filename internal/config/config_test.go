package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTestFile(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write test file: %v", err)
	}
	return path
}

// --- Load tests ---

func TestLoad_FullConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TEST_TG_ID", "12345")
	t.Setenv("TEST_TG_HASH", "abcdef")
	t.Setenv("TEST_TG_PHONE", "+15550100")
	t.Setenv("TEST_VK_TOKEN", "vk-secret")

	writeTestFile(t, dir, DefaultConfigFile, `
logging:
  level: debug
http:
  addr: ":9090"
storage:
  path: custom.db
  retain_days: 60
sync:
  on_start: true
  depth: 48h
web:
  enabled: true
  poll_interval: 30s
  scrape_interval: 5m
telegram:
  enabled: true
  api_id_env: TEST_TG_ID
  api_hash_env: TEST_TG_HASH
  phone_env: TEST_TG_PHONE
  session_dir: tg/session
  files_directory: tg/files
  max_download_queue_size: 4
  log_download_state_interval: 10s
vk:
  enabled: true
  token_env: TEST_VK_TOKEN
  tick: 2s
  max_requests_per_tick: 5
privacy:
  redact:
    enabled: true
    patterns:
      - "(?i)token"
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Logging.Level != "debug" || cfg.HTTP.Addr != ":9090" {
		t.Errorf("logging/http = %+v %+v", cfg.Logging, cfg.HTTP)
	}
	if cfg.Storage.Path != "custom.db" || cfg.Storage.RetainDays != 60 {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if !cfg.Sync.OnStart || cfg.Sync.Depth.Duration != 48*time.Hour {
		t.Errorf("sync = %+v", cfg.Sync)
	}
	if cfg.Web.PollInterval.Duration != 30*time.Second || cfg.Web.ScrapeInterval.Duration != 5*time.Minute {
		t.Errorf("web = %+v", cfg.Web)
	}

	tg := cfg.Telegram
	if tg.APIID != 12345 || tg.APIHash != "abcdef" || tg.Phone != "+15550100" {
		t.Errorf("telegram credentials = %d %q %q", tg.APIID, tg.APIHash, tg.Phone)
	}
	if tg.SessionDir != "tg/session" || tg.FilesDirectory != "tg/files" || tg.MaxDownloadQueueSize != 4 {
		t.Errorf("telegram = %+v", tg)
	}
	if tg.LogDownloadStateInterval.Duration != 10*time.Second {
		t.Errorf("log interval = %v", tg.LogDownloadStateInterval)
	}

	if cfg.VK.Token != "vk-secret" || cfg.VK.Tick.Duration != 2*time.Second || cfg.VK.MaxRequestsPerTick != 5 {
		t.Errorf("vk = %+v", cfg.VK)
	}
	if cfg.VK.PollInterval.Duration != DefaultPollInterval {
		t.Errorf("vk poll default = %v", cfg.VK.PollInterval)
	}

	if !cfg.Privacy.Redact.Enabled || len(cfg.Privacy.Redact.Patterns) != 1 {
		t.Errorf("privacy = %+v", cfg.Privacy)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, DefaultConfigFile, `
web:
  enabled: true
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Logging.Level != DefaultLogLevel {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
	if cfg.Storage.Path != DefaultStoragePath || cfg.Storage.RetainDays != 0 {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Sync.Depth.Duration != DefaultSyncDepth {
		t.Errorf("depth = %v", cfg.Sync.Depth)
	}
	if cfg.HTTP.Addr != "" {
		t.Errorf("http addr = %q, want disabled", cfg.HTTP.Addr)
	}
	if cfg.Telegram.MaxDownloadQueueSize != DefaultDownloadSlots || cfg.Telegram.APIIDEnv != DefaultTelegramIDEnv {
		t.Errorf("telegram = %+v", cfg.Telegram)
	}
	if cfg.VK.Tick.Duration != DefaultVKTick || cfg.VK.MaxRequestsPerTick != DefaultVKRequests {
		t.Errorf("vk = %+v", cfg.VK)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FEEDER_LOG_LEVEL", "error")
	t.Setenv("FEEDER_STORAGE_PATH", "/data/feeder.db")
	t.Setenv("FEEDER_HTTP_ADDR", ":7070")

	writeTestFile(t, dir, DefaultConfigFile, `
logging:
  level: debug
storage:
  path: file.db
web:
  enabled: true
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "error" || cfg.Storage.Path != "/data/feeder.db" || cfg.HTTP.Addr != ":7070" {
		t.Errorf("overrides not applied: %+v %+v %+v", cfg.Logging, cfg.Storage, cfg.HTTP)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	key := "FEEDER_TEST_VK_TOKEN"
	t.Setenv(key, "")
	os.Unsetenv(key)
	t.Cleanup(func() { os.Unsetenv(key) })

	writeTestFile(t, dir, DefaultEnvFile, key+"=from-dotenv\n")
	writeTestFile(t, dir, DefaultConfigFile, `
vk:
  enabled: true
  token_env: `+key+`
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.VK.Token != "from-dotenv" {
		t.Errorf("token = %q, want from-dotenv", cfg.VK.Token)
	}
}

func TestLoad_DurationParsing(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, DefaultConfigFile, `
sync:
  depth: 90m
web:
  enabled: true
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Sync.Depth.Duration != 90*time.Minute {
		t.Errorf("depth = %v, want 90m", cfg.Sync.Depth)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"no providers", "logging:\n  level: info\n", "at least one"},
		{"bad level", "logging:\n  level: loud\nweb:\n  enabled: true\n", "logging.level"},
		{"bad duration", "web:\n  enabled: true\n  poll_interval: soon\n", "parse duration"},
		{"negative duration", "web:\n  enabled: true\n  poll_interval: -1s\n", "web.poll_interval"},
		{"negative retain", "storage:\n  retain_days: -1\nweb:\n  enabled: true\n", "retain_days"},
		{"telegram without credentials", "telegram:\n  enabled: true\n  api_id_env: FEEDER_NO_ID\n  api_hash_env: FEEDER_NO_HASH\n", "FEEDER_NO_ID"},
		{"vk without token", "vk:\n  enabled: true\n  token_env: FEEDER_NO_TOKEN\n", "FEEDER_NO_TOKEN"},
		{"invalid yaml", "web: [[[", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeTestFile(t, dir, DefaultConfigFile, tt.yaml)

			_, err := Load(dir)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_TelegramIDMustBeNumeric(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TEST_TG_ID", "not-a-number")
	t.Setenv("TEST_TG_HASH", "abcdef")
	writeTestFile(t, dir, DefaultConfigFile, `
telegram:
  enabled: true
  api_id_env: TEST_TG_ID
  api_hash_env: TEST_TG_HASH
`)

	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "must be a number") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected error for missing config")
	}
}

func TestLoad_EmptyDir(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty dir")
	}
}
