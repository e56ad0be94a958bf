package appconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the provided path. If path is empty, uses
// DefaultConfigPath. A missing file yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("capture.settle_delay_ms", cfg.Capture.SettleDelayMs)
	v.SetDefault("capture.inter_capture_delay_ms", cfg.Capture.InterCaptureDelayMs)
	v.SetDefault("capture.snapshot_attempts", cfg.Capture.SnapshotAttempts)
	v.SetDefault("capture.snapshot_backoff_base_ms", cfg.Capture.SnapshotBackoffBaseMs)
	v.SetDefault("capture.snapshot_backoff_max_ms", cfg.Capture.SnapshotBackoffMaxMs)
	v.SetDefault("capture.snapshot_timeout_seconds", cfg.Capture.SnapshotTimeoutSeconds)
	v.SetDefault("capture.provision_timeout_seconds", cfg.Capture.ProvisionTimeoutSeconds)
	v.SetDefault("capture.decode_timeout_seconds", cfg.Capture.DecodeTimeoutSeconds)
	v.SetDefault("capture.max_tiles", cfg.Capture.MaxTiles)
	v.SetDefault("browser.exec_path", cfg.Browser.ExecPath)
	v.SetDefault("browser.headless", cfg.Browser.Headless)
	v.SetDefault("browser.window_width", cfg.Browser.WindowWidth)
	v.SetDefault("browser.window_height", cfg.Browser.WindowHeight)
	v.SetDefault("browser.navigate_timeout_seconds", cfg.Browser.NavigateTimeoutSeconds)
	v.SetDefault("stash.default_tags", cfg.Stash.DefaultTags)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return Config{}, err
			}
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	cfg.Browser.ExecPath = expandEnv(cfg.Browser.ExecPath)
	return cfg, nil
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
