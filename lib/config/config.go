// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the variable read by Load.
const EnvironmentVariable = "APIDAEMON_CONFIG"

// Config is the api-daemon configuration.
type Config struct {
	General   GeneralConfig   `yaml:"general"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Services  ServicesConfig  `yaml:"services"`
	Settings  SettingsConfig  `yaml:"settings"`
	TCPSocket TCPSocketConfig `yaml:"tcp_socket"`
}

// GeneralConfig configures the daemon core.
type GeneralConfig struct {
	// Host and Port are the HTTP listen address for WebSocket sessions,
	// the runtime endpoint and metrics.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// MessageMaxTime is the slow-message threshold in milliseconds.
	// Zero disables the warning.
	MessageMaxTime int `yaml:"message_max_time"`

	// VerboseLog enables debug logging.
	VerboseLog bool `yaml:"verbose_log"`

	// LogPath, if set, is a file that receives the log instead of
	// stderr.
	LogPath string `yaml:"log_path"`

	// RemoteServicesConfig is the registrar's id file.
	RemoteServicesConfig string `yaml:"remote_services_config"`

	// RemoteServicesPath holds one directory per remote service. Empty
	// disables remote services.
	RemoteServicesPath string `yaml:"remote_services_path"`

	// SocketPath is the Unix socket for trusted local clients. Empty
	// disables the Unix transport.
	SocketPath string `yaml:"socket_path"`
}

// RuntimeConfig configures the runtime token registration endpoint.
type RuntimeConfig struct {
	// TokenPath is a file holding the token. The WS_RUNTIME_TOKEN
	// environment variable takes precedence.
	TokenPath string `yaml:"token_path"`

	// GenerateToken creates a random token, written to TokenPath when
	// set, if neither source provides one.
	GenerateToken bool `yaml:"generate_token"`
}

// ServicesConfig selects the offered local services.
type ServicesConfig struct {
	Disabled []string `yaml:"disabled"`
}

// SettingsConfig configures the settings service.
type SettingsConfig struct {
	// DatabasePath is the SQLite database.
	DatabasePath string `yaml:"database_path"`

	// DefaultsPath is a JSONC file of initial values, applied to
	// settings not yet in the database.
	DefaultsPath string `yaml:"defaults_path"`
}

// TCPSocketConfig configures the TCP socket service.
type TCPSocketConfig struct {
	// Workers bounds concurrent connection attempts.
	Workers int `yaml:"workers"`

	// DialTimeout is a Go duration string.
	DialTimeout string `yaml:"dial_timeout"`
}

// Default returns the default configuration. Relative paths are
// resolved against ${APIDAEMON_ROOT}.
func Default() *Config {
	return &Config{
		General: GeneralConfig{
			Host:                 "localhost",
			Port:                 8081,
			MessageMaxTime:       10,
			RemoteServicesConfig: "${APIDAEMON_ROOT}/remote_services.yaml",
			RemoteServicesPath:   "${APIDAEMON_ROOT}/remote",
			SocketPath:           "/tmp/api-daemon-socket",
		},
		Settings: SettingsConfig{
			DatabasePath: "${APIDAEMON_ROOT}/settings.sqlite",
		},
		TCPSocket: TCPSocketConfig{
			Workers:     8,
			DialTimeout: "10s",
		},
	}
}

// Load loads configuration from the APIDAEMON_CONFIG environment
// variable. It fails when the variable is not set.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your api-daemon.yaml config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	root, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolving config directory: %w", err)
	}
	cfg.expandVariables(root)
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables(root string) {
	vars := map[string]string{
		"APIDAEMON_ROOT": root,
		"HOME":           os.Getenv("HOME"),
	}
	for _, path := range []*string{
		&c.General.LogPath,
		&c.General.RemoteServicesConfig,
		&c.General.RemoteServicesPath,
		&c.General.SocketPath,
		&c.Runtime.TokenPath,
		&c.Settings.DatabasePath,
		&c.Settings.DefaultsPath,
	} {
		*path = expandVars(*path, vars)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.General.Host == "" {
		errs = append(errs, errors.New("general.host is required"))
	}
	if c.General.Port < 0 || c.General.Port > 65535 {
		errs = append(errs, fmt.Errorf("general.port %d out of range", c.General.Port))
	}
	if c.General.MessageMaxTime < 0 {
		errs = append(errs, errors.New("general.message_max_time must not be negative"))
	}
	if c.General.RemoteServicesPath != "" && c.General.RemoteServicesConfig == "" {
		errs = append(errs, errors.New("general.remote_services_config is required with general.remote_services_path"))
	}
	if c.Settings.DatabasePath == "" {
		errs = append(errs, errors.New("settings.database_path is required"))
	}
	if c.TCPSocket.Workers < 1 {
		errs = append(errs, errors.New("tcp_socket.workers must be at least 1"))
	}
	if timeout, err := time.ParseDuration(c.TCPSocket.DialTimeout); err != nil {
		errs = append(errs, fmt.Errorf("tcp_socket.dial_timeout: %w", err))
	} else if timeout <= 0 {
		errs = append(errs, errors.New("tcp_socket.dial_timeout must be positive"))
	}

	return errors.Join(errs...)
}

// Address returns the HTTP listen address.
func (c *Config) Address() string {
	return net.JoinHostPort(c.General.Host, strconv.Itoa(c.General.Port))
}

// SlowThreshold returns general.message_max_time as a duration.
func (c *Config) SlowThreshold() time.Duration {
	return time.Duration(c.General.MessageMaxTime) * time.Millisecond
}

// DialTimeout returns tcp_socket.dial_timeout. Call Validate first.
func (c *Config) DialTimeout() time.Duration {
	timeout, _ := time.ParseDuration(c.TCPSocket.DialTimeout)
	return timeout
}
