package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config holds fuo CLI configuration from fuo.toml.
type Config struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Socket  string `toml:"socket"`
	Timeout string `toml:"timeout"`
	Color   *bool  `toml:"color"`
	// Aliases expand "@name" arguments into URIs.
	Aliases map[string]string `toml:"aliases"`
}

// DefaultHost and DefaultPort locate the daemon when nothing is configured.
const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 23333
)

// Load loads fuo.toml if present and applies FEELUOWN_PORT and
// FEELUOWN_SOCKET. A missing file returns the defaults.
func Load() (Config, error) {
	path, err := configPath()
	if err != nil {
		return Config{}, err
	}
	cfg, err := LoadFile(path)
	if err != nil {
		return Config{}, err
	}
	return applyEnv(cfg, os.Getenv)
}

// LoadFile decodes path. A missing file is not an error.
func LoadFile(path string) (Config, error) {
	cfg := Config{Host: DefaultHost, Port: DefaultPort}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, err
	}
	if info.IsDir() {
		return Config{}, errors.New("config path is a directory")
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	return cfg, nil
}

func applyEnv(cfg Config, getenv func(string) string) (Config, error) {
	if v := getenv("FEELUOWN_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return Config{}, errors.New("FEELUOWN_PORT must be a port number")
		}
		cfg.Port = port
	}
	if v := getenv("FEELUOWN_SOCKET"); v != "" {
		cfg.Socket = v
	}
	return cfg, nil
}

func configPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "feeluown", "fuo.toml"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "feeluown", "fuo.toml"), nil
}
