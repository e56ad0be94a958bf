// Package appconfig loads and writes the pagestash YAML configuration.
package appconfig

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pagestash/pagestash/internal/browser"
	"github.com/pagestash/pagestash/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int           `mapstructure:"config_version" yaml:"config_version"`
	Capture       CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Browser       BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Stash         StashConfig   `mapstructure:"stash" yaml:"stash"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// CaptureConfig tunes the capture orchestrator. Delays are empirical
// values tied to the host browser's paint and screenshot rate limits.
type CaptureConfig struct {
	SettleDelayMs           int `mapstructure:"settle_delay_ms" yaml:"settle_delay_ms"`
	InterCaptureDelayMs     int `mapstructure:"inter_capture_delay_ms" yaml:"inter_capture_delay_ms"`
	SnapshotAttempts        int `mapstructure:"snapshot_attempts" yaml:"snapshot_attempts"`
	SnapshotBackoffBaseMs   int `mapstructure:"snapshot_backoff_base_ms" yaml:"snapshot_backoff_base_ms"`
	SnapshotBackoffMaxMs    int `mapstructure:"snapshot_backoff_max_ms" yaml:"snapshot_backoff_max_ms"`
	SnapshotTimeoutSeconds  int `mapstructure:"snapshot_timeout_seconds" yaml:"snapshot_timeout_seconds"`
	ProvisionTimeoutSeconds int `mapstructure:"provision_timeout_seconds" yaml:"provision_timeout_seconds"`
	DecodeTimeoutSeconds    int `mapstructure:"decode_timeout_seconds" yaml:"decode_timeout_seconds"`
	MaxTiles                int `mapstructure:"max_tiles" yaml:"max_tiles"`
}

// BrowserConfig configures the headless browser.
type BrowserConfig struct {
	ExecPath               string `mapstructure:"exec_path" yaml:"exec_path"`
	Headless               bool   `mapstructure:"headless" yaml:"headless"`
	WindowWidth            int    `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight           int    `mapstructure:"window_height" yaml:"window_height"`
	NavigateTimeoutSeconds int    `mapstructure:"navigate_timeout_seconds" yaml:"navigate_timeout_seconds"`
}

// StashConfig configures the page-save workflow.
type StashConfig struct {
	DefaultTags []string `mapstructure:"default_tags" yaml:"default_tags"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ConfigVersion: CurrentConfigVersion,
		Capture: CaptureConfig{
			SettleDelayMs:           int(schema.DefaultSettleDelay / time.Millisecond),
			InterCaptureDelayMs:     int(schema.DefaultInterCaptureDelay / time.Millisecond),
			SnapshotAttempts:        schema.DefaultSnapshotAttempts,
			SnapshotBackoffBaseMs:   int(schema.DefaultSnapshotBackoffBase / time.Millisecond),
			SnapshotBackoffMaxMs:    int(schema.DefaultSnapshotBackoffMax / time.Millisecond),
			SnapshotTimeoutSeconds:  int(schema.DefaultSnapshotTimeout / time.Second),
			ProvisionTimeoutSeconds: int(schema.DefaultProvisionTimeout / time.Second),
			DecodeTimeoutSeconds:    int(schema.DefaultDecodeTimeout / time.Second),
			MaxTiles:                0,
		},
		Browser: BrowserConfig{
			ExecPath:               "",
			Headless:               true,
			WindowWidth:            1280,
			WindowHeight:           800,
			NavigateTimeoutSeconds: 30,
		},
		Stash: StashConfig{
			DefaultTags: []string{},
		},
	}
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".pagestash", "config.yaml"), nil
}

// Policy converts the capture section into the orchestrator policy.
func (c CaptureConfig) Policy() schema.CapturePolicy {
	return schema.CapturePolicy{
		SettleDelay:         time.Duration(c.SettleDelayMs) * time.Millisecond,
		InterCaptureDelay:   time.Duration(c.InterCaptureDelayMs) * time.Millisecond,
		SnapshotAttempts:    c.SnapshotAttempts,
		SnapshotBackoffBase: time.Duration(c.SnapshotBackoffBaseMs) * time.Millisecond,
		SnapshotBackoffMax:  time.Duration(c.SnapshotBackoffMaxMs) * time.Millisecond,
		SnapshotTimeout:     time.Duration(c.SnapshotTimeoutSeconds) * time.Second,
		ProvisionTimeout:    time.Duration(c.ProvisionTimeoutSeconds) * time.Second,
		DecodeTimeout:       time.Duration(c.DecodeTimeoutSeconds) * time.Second,
		MaxTiles:            c.MaxTiles,
	}
}

// BrowserSettings converts the browser section into the allocator config.
func (c BrowserConfig) BrowserSettings() browser.Config {
	return browser.Config{
		ExecPath:        c.ExecPath,
		Headless:        c.Headless,
		WindowWidth:     c.WindowWidth,
		WindowHeight:    c.WindowHeight,
		NavigateTimeout: time.Duration(c.NavigateTimeoutSeconds) * time.Second,
	}
}
