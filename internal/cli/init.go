package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/feeder/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config directory with example files",
	RunE:  initAction,
}

func initAction(_ *cobra.Command, _ []string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	created := 0
	for _, f := range []struct {
		name string
		data string
		mode os.FileMode
	}{
		{config.DefaultConfigFile, exampleConfig, 0o644},
		{config.DefaultEnvFile, exampleEnv, 0o600},
	} {
		wrote, err := writeIfNotExists(filepath.Join(configDir, f.name), []byte(f.data), f.mode)
		if err != nil {
			return err
		}
		if wrote {
			created++
		}
	}

	if created == 0 {
		fmt.Printf("Config directory %s already initialized.\n", configDir)
	} else {
		fmt.Printf("Initialized %s with %d config files.\n", configDir, created)
	}
	return nil
}

// writeIfNotExists writes data to path if the file does not exist.
// Returns true if the file was created.
func writeIfNotExists(path string, data []byte, mode os.FileMode) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("  exists: %s\n", path)
		return false, nil
	}
	if err := os.WriteFile(path, data, mode); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("  created: %s\n", path)
	return true, nil
}

const exampleConfig = `# feeder configuration

logging:
  level: info

http:
  addr: ""              # e.g. ":8080" to serve the API and /metrics

storage:
  path: .feeder/feeder.db
  retain_days: 0        # 0 keeps everything

sync:
  on_start: false
  depth: 72h

web:
  enabled: true
  poll_interval: 60s
  scrape_interval: 60s

telegram:
  enabled: false
  api_id_env: TELEGRAM_API_ID
  api_hash_env: TELEGRAM_API_HASH
  phone_env: TELEGRAM_PHONE
  session_dir: .feeder/session
  files_directory: .feeder/files
  max_download_queue_size: 1
  log_download_state_interval: 0s

vk:
  enabled: false
  token_env: VK_TOKEN
  poll_interval: 60s
  scrape_interval: 60s
  tick: 1s
  max_requests_per_tick: 3

privacy:
  redact:
    enabled: false
    patterns: []
`

const exampleEnv = `# Secrets for feeder. Variables already set in the environment win.
# TELEGRAM_API_ID=
# TELEGRAM_API_HASH=
# TELEGRAM_PHONE=
# VK_TOKEN=
`
