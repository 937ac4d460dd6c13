package fuod

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration for fuod.
type Config struct {
	Server       ServerConfig       `toml:"server"`
	Library      LibraryConfig      `toml:"library"`
	Player       PlayerConfig       `toml:"player"`
	FM           FMConfig           `toml:"fm"`
	Exec         ExecConfig         `toml:"exec"`
	MQTT         MQTTConfig         `toml:"mqtt"`
	EmbeddedMQTT EmbeddedMQTTConfig `toml:"embedded_mqtt"`
	Providers    ProvidersConfig    `toml:"providers"`
	GStreamer    GStreamerConfig    `toml:"gstreamer"`
	VLC          VLCConfig          `toml:"vlc"`
}

// ServerConfig defines the listeners, data directory and logging.
type ServerConfig struct {
	Listen     string `toml:"listen"`
	Socket     string `toml:"socket"`
	UnixSocket bool   `toml:"unix_socket"`
	DataDir    string `toml:"data_dir"`
	LogLevel   string `toml:"log_level"`
	LogFormat  string `toml:"log_format"`
	LogOutput  string `toml:"log_output"`
	LogSource  bool   `toml:"log_source"`
	LogUTC     bool   `toml:"log_utc"`
	LogColor   bool   `toml:"log_color"`
}

// LibraryConfig tunes provider access.
type LibraryConfig struct {
	Quality         string `toml:"quality"`
	QualityStrategy string `toml:"quality_strategy"`
	SearchTimeoutMS int64  `toml:"search_timeout_ms"`
	GetTimeoutMS    int64  `toml:"get_timeout_ms"`
	Workers         int    `toml:"workers"`
	CacheSize       int    `toml:"cache_size"`
	// StandbySources names the providers searched for a replacement when
	// a song has no media. Empty means all.
	StandbySources []string `toml:"standby_sources"`
	// Collections enables the collections directory under the data dir.
	Collections *bool `toml:"collections"`
}

// PlayerConfig selects the media backend.
type PlayerConfig struct {
	Backend       string `toml:"backend"`
	Volume        int    `toml:"volume"`
	MaxErrors     int    `toml:"max_errors"`
	PollMS        int64  `toml:"poll_ms"`
	OpenTimeoutMS int64  `toml:"open_timeout_ms"`
}

// FMConfig names the provider whose radio feeds FM mode.
type FMConfig struct {
	Provider string `toml:"provider"`
}

// ExecConfig configures the exec sink.
type ExecConfig struct {
	Batch bool `toml:"batch"`
}

// MQTTConfig mirrors pubsub topics onto an MQTT broker.
type MQTTConfig struct {
	Enabled   bool      `toml:"enabled"`
	Broker    string    `toml:"broker"`
	ClientID  string    `toml:"client_id"`
	TopicBase string    `toml:"topic_base"`
	Commands  bool      `toml:"commands"`
	Retain    bool      `toml:"retain"`
	Username  string    `toml:"username"`
	Password  string    `toml:"password"`
	TLS       TLSConfig `toml:"tls"`
}

// TLSConfig holds TLS paths for MQTT.
type TLSConfig struct {
	CA   string `toml:"ca"`
	Cert string `toml:"cert"`
	Key  string `toml:"key"`
}

// EmbeddedMQTTConfig configures the embedded MQTT broker.
type EmbeddedMQTTConfig struct {
	Enabled        bool   `toml:"enabled"`
	Listen         string `toml:"listen"`
	AllowAnonymous bool   `toml:"allow_anonymous"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	TLSCA          string `toml:"tls_ca"`
	TLSCert        string `toml:"tls_cert"`
	TLSKey         string `toml:"tls_key"`
}

// ProvidersConfig holds provider configurations.
type ProvidersConfig struct {
	Local    LocalConfig    `toml:"local"`
	Podcast  PodcastConfig  `toml:"podcast"`
	Jellyfin JellyfinConfig `toml:"jellyfin"`
}

// LocalConfig configures the local files provider.
type LocalConfig struct {
	Enabled        bool     `toml:"enabled"`
	Roots          []string `toml:"roots"`
	Extensions     []string `toml:"extensions"`
	ScanIntervalMS int64    `toml:"scan_interval_ms"`
}

// PodcastConfig configures the podcast provider.
type PodcastConfig struct {
	Enabled           bool     `toml:"enabled"`
	Feeds             []string `toml:"feeds"`
	RefreshIntervalMS int64    `toml:"refresh_interval_ms"`
	TimeoutMS         int64    `toml:"timeout_ms"`
	NewestFirst       bool     `toml:"newest_first"`
}

// JellyfinConfig configures the Jellyfin provider.
type JellyfinConfig struct {
	Enabled   bool   `toml:"enabled"`
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	UserID    string `toml:"user_id"`
	TimeoutMS int64  `toml:"timeout_ms"`
}

// GStreamerConfig configures the GStreamer backend.
type GStreamerConfig struct {
	Pipeline string `toml:"pipeline"`
	Device   string `toml:"device"`
}

// VLCConfig configures the VLC HTTP backend.
type VLCConfig struct {
	BaseURL   string `toml:"base_url"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	TimeoutMS int64  `toml:"timeout_ms"`
}

// Backends accepted by player.backend.
const (
	BackendGStreamer = "gstreamer"
	BackendVLC       = "vlc"
	BackendNull      = "null"
)

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen:   "127.0.0.1:23333",
			LogLevel: "info",
		},
		Library: LibraryConfig{
			Quality:         "hd",
			QualityStrategy: "better",
		},
		Player: PlayerConfig{
			Backend:   BackendGStreamer,
			Volume:    100,
			MaxErrors: 3,
		},
		MQTT: MQTTConfig{TopicBase: "fuo"},
	}
}

// LoadConfig loads a config file from path on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Config{}, err
	}
	if info.IsDir() {
		return Config{}, errors.New("config path is a directory")
	}

	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDefaultConfig behaves like LoadConfig but a missing file yields
// DefaultConfig.
func LoadDefaultConfig(path string) (Config, error) {
	cfg, err := LoadConfig(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return cfg, err
}

// DefaultConfigPath returns the default config location.
func DefaultConfigPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "feeluown", "fuod.toml"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "feeluown", "fuod.toml"), nil
}

// DefaultDataDir returns where collections and caches live.
func DefaultDataDir() (string, error) {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "feeluown"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "feeluown"), nil
}

// Millis converts a *_ms setting, returning def when ms is not positive.
func Millis(ms int64, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// CollectionsEnabled reports whether the collections directory is used.
func (c LibraryConfig) CollectionsEnabled() bool {
	return c.Collections == nil || *c.Collections
}
