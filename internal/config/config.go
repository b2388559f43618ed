package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/trionesctl/internal/ble"
)

// Config holds all application configuration.
type Config struct {
	Device     DeviceConfig `yaml:"device"`
	Modes      ModesConfig  `yaml:"modes"`
	Audio      AudioConfig  `yaml:"audio"`
	Hotkeys    HotkeyConfig `yaml:"hotkeys"`
	ColorsFile string       `yaml:"colors_file"`
	LogLevel   string       `yaml:"log_level"`
	LogFormat  string       `yaml:"log_format"` // "text" or "json"
}

// DeviceConfig holds bulb discovery and link settings.
type DeviceConfig struct {
	// Address skips scanning and connects to this device directly.
	Address            string        `yaml:"address"`
	NamePrefix         string        `yaml:"name_prefix"`
	ServiceUUID        string        `yaml:"service_uuid"`
	CharacteristicUUID string        `yaml:"characteristic_uuid"`
	PairTimeout        time.Duration `yaml:"pair_timeout"`
	ScanTimeout        time.Duration `yaml:"scan_timeout"`
	WriteRate          float64       `yaml:"write_rate"` // writes per second, 0 = unpaced
}

// ModesConfig holds mode cadences.
type ModesConfig struct {
	RandomInterval  time.Duration `yaml:"random_interval"`
	EmotionInterval time.Duration `yaml:"emotion_interval"`
}

// AudioConfig holds sound visualiser input settings.
type AudioConfig struct {
	SampleRate uint32  `yaml:"sample_rate"`
	Channels   uint32  `yaml:"channels"`
	Gain       float64 `yaml:"gain"`
	// WavFile replays a recording instead of the microphone.
	WavFile string `yaml:"wav_file"`
}

// HotkeyConfig maps global hotkeys to controller actions.
type HotkeyConfig struct {
	Enabled  bool                `yaml:"enabled"`
	Bindings map[string][]string `yaml:"bindings"`
}

// Actions lists the names a hotkey binding may use.
var Actions = []string{"random", "speech", "emotion", "sound", "stop", "power"}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "trionesctl")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			NamePrefix:         ble.DefaultNamePrefix,
			ServiceUUID:        ble.ServiceUUID,
			CharacteristicUUID: ble.CharacteristicUUID,
			PairTimeout:        15 * time.Second,
			ScanTimeout:        5 * time.Second,
			WriteRate:          20,
		},
		Modes: ModesConfig{
			RandomInterval:  700 * time.Millisecond,
			EmotionInterval: 500 * time.Millisecond,
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
			Gain:       4,
		},
		Hotkeys: HotkeyConfig{
			Bindings: map[string][]string{
				"random":  {"ctrl", "alt", "r"},
				"speech":  {"ctrl", "alt", "s"},
				"emotion": {"ctrl", "alt", "e"},
				"sound":   {"ctrl", "alt", "m"},
				"stop":    {"ctrl", "alt", "x"},
				"power":   {"ctrl", "alt", "p"},
			},
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in colors_file and audio.wav_file is expanded
// to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.ColorsFile = expandTilde(cfg.ColorsFile)
	cfg.Audio.WavFile = expandTilde(cfg.Audio.WavFile)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Device.NamePrefix == "" && c.Device.Address == "" {
		return errors.New("device.name_prefix or device.address must be set")
	}
	if c.Device.ServiceUUID == "" {
		return errors.New("device.service_uuid must not be empty")
	}
	if c.Device.CharacteristicUUID == "" {
		return errors.New("device.characteristic_uuid must not be empty")
	}
	if c.Device.PairTimeout <= 0 {
		return errors.New("device.pair_timeout must be > 0")
	}
	if c.Device.ScanTimeout <= 0 {
		return errors.New("device.scan_timeout must be > 0")
	}
	if c.Device.WriteRate < 0 {
		return errors.New("device.write_rate must be >= 0")
	}

	if c.Modes.RandomInterval <= 0 {
		return errors.New("modes.random_interval must be > 0")
	}
	if c.Modes.EmotionInterval <= 0 {
		return errors.New("modes.emotion_interval must be > 0")
	}

	if c.Audio.SampleRate == 0 {
		return errors.New("audio.sample_rate must be > 0")
	}
	if c.Audio.Channels == 0 {
		return errors.New("audio.channels must be > 0")
	}
	if c.Audio.Gain < 0 {
		return errors.New("audio.gain must be >= 0")
	}

	for action, keys := range c.Hotkeys.Bindings {
		if !slices.Contains(Actions, action) {
			return fmt.Errorf("hotkeys.bindings: unknown action %q (want one of %s)", action, strings.Join(Actions, ", "))
		}
		if len(keys) == 0 {
			return fmt.Errorf("hotkeys.bindings.%s must not be empty", action)
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be \"text\" or \"json\", got %q", c.LogFormat)
	}

	return nil
}

// ParseLogLevel maps a log_level value to a slog level. Unknown values
// fall back to info.
func ParseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultHeader = `# trionesctl configuration
# Durations use Go syntax (700ms, 15s). Leave device.address empty to scan
# for bulbs whose name starts with device.name_prefix.

`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the written path, or "" if a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
