// Package config loads beastsplitterd's YAML configuration, following the
// same load-defaults/overlay-YAML/apply-env-overrides pipeline as
// _examples/sagostin-goefidash/internal/server/config.go.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds everything beastsplitterd needs to run.
type Config struct {
	Receiver ReceiverConfig `yaml:"receiver" json:"receiver"`
	Settings SettingsConfig `yaml:"settings" json:"settings"`
	Monitor  MonitorConfig  `yaml:"monitor" json:"monitor"`
	Status   StatusConfig   `yaml:"status" json:"status"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`

	path string
}

// ReceiverConfig describes the serial device and, optionally, fixed values
// that skip autobaud/autodetect.
type ReceiverConfig struct {
	DevicePath              string `yaml:"device_path" json:"devicePath"`
	FixedBaudRate           int    `yaml:"fixed_baud_rate" json:"fixedBaudRate"`             // 0 = autobaud
	FixedType               string `yaml:"fixed_type" json:"fixedType"`                      // "", "beast", "radarcape"
	RadarcapeDetectMillis   int    `yaml:"radarcape_detect_ms" json:"radarcapeDetectMillis"` // 0 = engine default
}

// SettingsConfig mirrors the five user-facing Beast/Radarcape options; the
// active modesfilter.Filter (from monitor clients) is OR-ed in on top of
// these at runtime.
type SettingsConfig struct {
	FilterDF11DF17Only bool `yaml:"filter_df11_df17_only" json:"filterDf11Df17Only"`
	CRCDisable         bool `yaml:"crc_disable" json:"crcDisable"`
	MaskDF0DF4DF5      bool `yaml:"mask_df0_df4_df5" json:"maskDf0Df4Df5"`
	FECDisable         bool `yaml:"fec_disable" json:"fecDisable"`
	ModeAC             bool `yaml:"mode_ac" json:"modeAc"`
}

// MonitorConfig configures the websocket live-monitoring dashboard.
type MonitorConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// StatusConfig configures the GPS sync status JSON writer.
type StatusConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Path     string `yaml:"path" json:"path"`
	Interval int    `yaml:"interval_ms" json:"intervalMs"`
}

type LoggingConfig struct {
	Verbose bool `yaml:"verbose" json:"verbose"`
}

// Default returns a Config with sensible defaults, mirroring DefaultConfig
// in the teacher's config.go.
func Default() *Config {
	return &Config{
		Receiver: ReceiverConfig{
			DevicePath:            "/dev/ttyUSB0",
			FixedBaudRate:         0,
			FixedType:             "",
			RadarcapeDetectMillis: 5000,
		},
		Settings: SettingsConfig{},
		Monitor: MonitorConfig{
			Enabled:    true,
			ListenAddr: ":30105",
		},
		Status: StatusConfig{
			Enabled:  false,
			Path:     "/run/beastsplitterd/gpsstatus.json",
			Interval: 2500,
		},
		Logging: LoggingConfig{Verbose: false},
	}
}

// Load reads a YAML config file, falling back to defaults if it doesn't
// exist or fails to parse, then applies BEAST_* environment overrides.
func Load(path string) *Config {
	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	switch {
	case err != nil:
		log.Printf("[config] no config at %s, using defaults", path)
	default:
		if uerr := yaml.Unmarshal(data, cfg); uerr != nil {
			log.Printf("[config] error parsing %s: %v, using defaults", path, uerr)
			cfg = Default()
			cfg.path = path
		} else {
			log.Printf("[config] loaded from %s", path)
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

// applyEnvOverrides reads BEAST_DEVICE, BEAST_BAUD, BEAST_RECEIVER, and
// BEAST_LISTEN, the settings most commonly overridden per deployment
// without editing the checked-in YAML.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("BEAST_DEVICE"); v != "" {
		c.Receiver.DevicePath = v
	}
	if v := os.Getenv("BEAST_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Receiver.FixedBaudRate = n
		} else {
			log.Printf("[config] ignoring invalid BEAST_BAUD=%q: %v", v, err)
		}
	}
	if v := os.Getenv("BEAST_RECEIVER"); v != "" {
		if (&ReceiverConfig{FixedType: v}).FixedTypeValid() {
			c.Receiver.FixedType = v
		} else {
			log.Printf("[config] ignoring invalid BEAST_RECEIVER=%q: must be \"\", \"beast\", or \"radarcape\"", v)
		}
	}
	if v := os.Getenv("BEAST_LISTEN"); v != "" {
		c.Monitor.ListenAddr = v
	}
}

// Save writes the config back to its loaded path as YAML, mirroring
// Config.Save in the teacher's config.go.
func (c *Config) Save() error {
	if c.path == "" {
		return fmt.Errorf("config: no path to save to")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(c.path, data, 0644)
}

// FixedTypeValid reports whether FixedType is one of the recognized
// values, used to fail fast on a typo'd config rather than silently
// falling back to autodetect.
func (c *ReceiverConfig) FixedTypeValid() bool {
	switch strings.ToLower(c.FixedType) {
	case "", "beast", "radarcape":
		return true
	default:
		return false
	}
}
