// Package config holds the paths and identities supctl needs to manage
// the daemon. Values come from built-in defaults, an optional TOML
// file, and SUPCTL_* environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/lownet/supctl/internal/dirs"
)

// Config describes the managed daemon and its provisioned files.
type Config struct {
	// Service is the supervisor's name for the daemon.
	Service string `toml:"service"`

	// Interface, when set, pins the primary interface name instead of
	// consulting the wifi.interface property.
	Interface string `toml:"interface"`

	// SocketDir is the directory holding per-interface control sockets.
	// When it does not exist, sessions fall back to the abstract socket
	// namespace.
	SocketDir string `toml:"socket_dir"`

	ConfigFile     string `toml:"config_file"`
	ConfigTemplate string `toml:"config_template"`
	P2PConfigFile  string `toml:"p2p_config_file"`
	EntropyFile    string `toml:"entropy_file"`

	// OwnerUID/OwnerGID apply to provisioned files. Negative values
	// mean "the current process identity".
	OwnerUID int `toml:"owner_uid"`
	OwnerGID int `toml:"owner_gid"`

	// CommandTimeoutSeconds bounds a single command round trip.
	CommandTimeoutSeconds int `toml:"command_timeout_seconds"`

	// LockFile serializes lifecycle operations across processes.
	LockFile string `toml:"lock_file"`
}

// Default returns the stock configuration for a wpa_supplicant-style
// daemon on a systemd host.
func Default() Config {
	return Config{
		Service:               "wpa_supplicant",
		SocketDir:             "/var/run/wpa_supplicant",
		ConfigFile:            "/etc/wpa_supplicant/wpa_supplicant.conf",
		ConfigTemplate:        "/usr/share/supctl/wpa_supplicant.conf",
		P2PConfigFile:         "/etc/wpa_supplicant/p2p_supplicant.conf",
		EntropyFile:           "/var/lib/supctl/entropy.bin",
		OwnerUID:              -1,
		OwnerGID:              -1,
		CommandTimeoutSeconds: 10,
		LockFile:              dirs.LockFile(),
	}
}

// CommandTimeout returns the configured round-trip bound.
func (c Config) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSeconds) * time.Second
}

// Load reads path (when non-empty) over the defaults, then applies
// environment overrides. A missing explicit file is an error; a missing
// default file is not.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if path == "" {
		path = "/etc/supctl/config.toml"
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		// No config file; defaults stand.
	default:
		return cfg, fmt.Errorf("reading %s: %w", path, err)
	}

	applyEnv(&cfg)

	if cfg.Service == "" {
		return cfg, errors.New("config: service name must not be empty")
	}
	if cfg.CommandTimeoutSeconds <= 0 {
		return cfg, errors.New("config: command_timeout_seconds must be positive")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("SUPCTL_SERVICE", &cfg.Service)
	setString("SUPCTL_IFACE", &cfg.Interface)
	setString("SUPCTL_SOCKET_DIR", &cfg.SocketDir)
	setString("SUPCTL_CONFIG_FILE", &cfg.ConfigFile)
	setString("SUPCTL_CONFIG_TEMPLATE", &cfg.ConfigTemplate)
	setString("SUPCTL_P2P_CONFIG_FILE", &cfg.P2PConfigFile)
	setString("SUPCTL_ENTROPY_FILE", &cfg.EntropyFile)
	setString("SUPCTL_LOCK_FILE", &cfg.LockFile)

	if v := os.Getenv("SUPCTL_COMMAND_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.CommandTimeoutSeconds = secs
		}
	}
}
