// Package config loads daemon configuration from defaults, an optional
// YAML file and RETROHA_-prefixed environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/retroha/config.yaml",
	"/etc/retroha/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "RETROHA_CONFIG"

// EnvPrefix is the prefix for environment variable overrides,
// e.g. RETROHA_MQTT_HOST -> mqtt.host.
const EnvPrefix = "RETROHA_"

// MQTTConfig holds broker connection settings.
type MQTTConfig struct {
	Host            string `koanf:"host"`
	Port            int    `koanf:"port"`
	Username        string `koanf:"username"`
	Password        string `koanf:"password"`
	ClientID        string `koanf:"client_id"`
	TopicPrefix     string `koanf:"topic_prefix"`
	DiscoveryPrefix string `koanf:"discovery_prefix"`
	QueueSize       int    `koanf:"queue_size"`
}

// DeviceConfig identifies this console to the home-automation platform.
type DeviceConfig struct {
	Name     string `koanf:"name"`
	StateDir string `koanf:"state_dir"`
}

// TelemetryConfig controls the periodic sampler.
type TelemetryConfig struct {
	Interval          time.Duration `koanf:"interval"`
	PublishThumbnails bool          `koanf:"publish_thumbnails"`
	ThumbnailMaxBytes int64         `koanf:"thumbnail_max_bytes"`
}

// LibraryConfig controls the gamelist scanner and watcher.
type LibraryConfig struct {
	RomsDir  string        `koanf:"roms_dir"`
	Watch    bool          `koanf:"watch"`
	Debounce time.Duration `koanf:"debounce"`
}

// RetroArchConfig points at the emulator's network command interface.
type RetroArchConfig struct {
	Host       string        `koanf:"host"`
	Port       int           `koanf:"port"`
	ConfigPath string        `koanf:"config_path"`
	Timeout    time.Duration `koanf:"timeout"`
}

// IngestConfig controls the event-hook entry point.
type IngestConfig struct {
	SocketPath string `koanf:"socket_path"`
	// Strict rejects events with fewer arguments than their contract
	// instead of substituting placeholders.
	Strict bool `koanf:"strict"`
}

// FrontendConfig locates the EmulationStation settings store.
type FrontendConfig struct {
	SettingsPath   string   `koanf:"settings_path"`
	RestartCommand []string `koanf:"restart_command"`
}

// TTSConfig is the speech announcement command line. The text to speak is
// appended as the final argument.
type TTSConfig struct {
	Command []string `koanf:"command"`
}

// Config is the root configuration.
type Config struct {
	MQTT      MQTTConfig      `koanf:"mqtt"`
	Device    DeviceConfig    `koanf:"device"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Library   LibraryConfig   `koanf:"library"`
	RetroArch RetroArchConfig `koanf:"retroarch"`
	Ingest    IngestConfig    `koanf:"ingest"`
	Frontend  FrontendConfig  `koanf:"frontend"`
	TTS       TTSConfig       `koanf:"tts"`
	LogLevel  string          `koanf:"log_level"`
}

func defaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		MQTT: MQTTConfig{
			Host:            "",
			Port:            1883,
			ClientID:        "retroha",
			TopicPrefix:     "retropie",
			DiscoveryPrefix: "homeassistant",
			QueueSize:       256,
		},
		Device: DeviceConfig{
			Name:     "", // empty = hostname
			StateDir: filepath.Join(home, ".config", "retroha"),
		},
		Telemetry: TelemetryConfig{
			Interval:          30 * time.Second,
			PublishThumbnails: false,
			ThumbnailMaxBytes: 256 << 10,
		},
		Library: LibraryConfig{
			RomsDir:  filepath.Join(home, "RetroPie", "roms"),
			Watch:    true,
			Debounce: 5 * time.Second,
		},
		RetroArch: RetroArchConfig{
			Host:       "127.0.0.1",
			Port:       55355,
			ConfigPath: filepath.Join(home, ".config", "retroarch", "retroarch.cfg"),
			Timeout:    500 * time.Millisecond,
		},
		Ingest: IngestConfig{
			SocketPath: filepath.Join(home, ".config", "retroha", "retroha.sock"),
			Strict:     false,
		},
		Frontend: FrontendConfig{
			SettingsPath:   filepath.Join(home, ".emulationstation", "es_settings.cfg"),
			RestartCommand: []string{"killall", "emulationstation"},
		},
		TTS: TTSConfig{
			Command: []string{"espeak"},
		},
		LogLevel: "info",
	}
}

// Load builds the configuration from defaults, the config file (if any) and
// environment variables. It returns an error when required settings are
// missing; callers treat that as fatal.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// RETROHA_MQTT_HOST -> mqtt.host, RETROHA_LIBRARY_ROMS_DIR -> library.roms_dir
	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings without which the daemon cannot enter its main
// loop.
func (c *Config) Validate() error {
	if c.MQTT.Host == "" {
		return fmt.Errorf("mqtt.host is required (set RETROHA_MQTT_HOST or mqtt.host in config.yaml)")
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		return fmt.Errorf("mqtt.port %d out of range", c.MQTT.Port)
	}
	if c.MQTT.TopicPrefix == "" {
		return fmt.Errorf("mqtt.topic_prefix must not be empty")
	}
	if c.Telemetry.Interval < time.Second {
		return fmt.Errorf("telemetry.interval %s too short (minimum 1s)", c.Telemetry.Interval)
	}
	if c.Library.Debounce <= 0 {
		return fmt.Errorf("library.debounce must be positive")
	}
	return nil
}

// DeviceName returns the configured device name, falling back to the
// hostname.
func (c *Config) DeviceName() string {
	if c.Device.Name != "" {
		return c.Device.Name
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "retropie"
	}
	return hostname
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// configSections are the top-level config groups an env var may address.
var configSections = map[string]bool{
	"mqtt":      true,
	"device":    true,
	"telemetry": true,
	"library":   true,
	"retroarch": true,
	"ingest":    true,
	"frontend":  true,
	"tts":       true,
}

// envTransform maps RETROHA_MQTT_TOPIC_PREFIX to mqtt.topic_prefix. The
// first underscore separates the section from the key; names that do not
// start with a known section (e.g. RETROHA_LOG_LEVEL) stay root-level keys.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if i := strings.Index(key, "_"); i > 0 && configSections[key[:i]] {
		return key[:i] + "." + key[i+1:]
	}
	return key
}
