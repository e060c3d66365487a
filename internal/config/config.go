// Package config loads udpcpd's configuration from an optional YAML file,
// environment variables, and command-line overrides, in that precedence
// order (flags win over env, env wins over the file, the file wins over
// built-in defaults).
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rcarmo/go-rdp/internal/protocol/udpcp"
)

// globalConfig stores the configuration loaded with command-line overrides,
// so packages other than the one that called Load can access it.
var (
	globalConfig *Config
	configMutex  sync.Mutex
)

// Config holds the full udpcpd application configuration.
type Config struct {
	Socket  SocketConfig  `yaml:"socket" json:"socket"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Monitor MonitorConfig `yaml:"monitor" json:"monitor"`
}

// SocketConfig mirrors the constructor configuration of §6: bind address,
// default transfer/checksum policy, retransmission bounds, and the
// advisory connection cap.
type SocketConfig struct {
	LocalAddress           string        `yaml:"localAddress" env:"UDPCP_LOCAL_ADDRESS" default:"0.0.0.0:0"`
	TransferMode           string        `yaml:"transferMode" env:"UDPCP_TRANSFER_MODE" default:"ack-every-packet"`
	ChecksumMode           string        `yaml:"checksumMode" env:"UDPCP_CHECKSUM_MODE" default:"enabled"`
	RetransmissionTimeout  time.Duration `yaml:"retransmissionTimeout" env:"UDPCP_RETRANSMISSION_TIMEOUT" default:"100ms"`
	RetransmissionAttempts int           `yaml:"retransmissionAttempts" env:"UDPCP_RETRANSMISSION_ATTEMPTS" default:"5"`
	MaximumConnections     int           `yaml:"maximumConnections" env:"UDPCP_MAXIMUM_CONNECTIONS" default:"5"`
	PollInterval           time.Duration `yaml:"pollInterval" env:"UDPCP_POLL_INTERVAL" default:"500ms"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" env:"UDPCP_LOG_LEVEL" default:"info"`
}

// MonitorConfig configures the optional websocket observability bridge.
// ListenAddress is left empty to disable it.
type MonitorConfig struct {
	ListenAddress string `yaml:"listenAddress" env:"UDPCP_MONITOR_LISTEN_ADDRESS" default:""`
}

// LoadOptions holds command-line override options, the highest-precedence
// source.
type LoadOptions struct {
	ConfigFile    string
	LocalAddress  string
	LogLevel      string
	MonitorListen string
}

// Load loads configuration from an optional file and environment variables,
// with no command-line overrides.
func Load() (*Config, error) {
	return LoadWithOverrides(LoadOptions{})
}

// LoadWithOverrides loads configuration from defaults, then opts.ConfigFile
// (if set), then environment variables, then opts, in ascending precedence.
func LoadWithOverrides(opts LoadOptions) (*Config, error) {
	config := defaultConfig()

	if opts.ConfigFile != "" {
		if err := mergeYAMLFile(config, opts.ConfigFile); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	config.Socket.LocalAddress = getEnvWithDefault("UDPCP_LOCAL_ADDRESS", config.Socket.LocalAddress)
	config.Socket.TransferMode = getEnvWithDefault("UDPCP_TRANSFER_MODE", config.Socket.TransferMode)
	config.Socket.ChecksumMode = getEnvWithDefault("UDPCP_CHECKSUM_MODE", config.Socket.ChecksumMode)
	config.Socket.RetransmissionTimeout = getDurationWithDefault("UDPCP_RETRANSMISSION_TIMEOUT", config.Socket.RetransmissionTimeout)
	config.Socket.RetransmissionAttempts = getIntWithDefault("UDPCP_RETRANSMISSION_ATTEMPTS", config.Socket.RetransmissionAttempts)
	config.Socket.MaximumConnections = getIntWithDefault("UDPCP_MAXIMUM_CONNECTIONS", config.Socket.MaximumConnections)
	config.Socket.PollInterval = getDurationWithDefault("UDPCP_POLL_INTERVAL", config.Socket.PollInterval)
	config.Logging.Level = getEnvWithDefault("UDPCP_LOG_LEVEL", config.Logging.Level)
	config.Monitor.ListenAddress = getEnvWithDefault("UDPCP_MONITOR_LISTEN_ADDRESS", config.Monitor.ListenAddress)

	if opts.LocalAddress != "" {
		config.Socket.LocalAddress = opts.LocalAddress
	}
	if opts.LogLevel != "" {
		config.Logging.Level = opts.LogLevel
	}
	if opts.MonitorListen != "" {
		config.Monitor.ListenAddress = opts.MonitorListen
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	configMutex.Lock()
	globalConfig = config
	configMutex.Unlock()

	return config, nil
}

// GetGlobalConfig returns the configuration loaded by the most recent Load
// or LoadWithOverrides call, or nil if neither has run yet.
func GetGlobalConfig() *Config {
	configMutex.Lock()
	defer configMutex.Unlock()
	return globalConfig
}

func defaultConfig() *Config {
	return &Config{
		Socket: SocketConfig{
			LocalAddress:           "0.0.0.0:0",
			TransferMode:           "ack-every-packet",
			ChecksumMode:           "enabled",
			RetransmissionTimeout:  100 * time.Millisecond,
			RetransmissionAttempts: 5,
			MaximumConnections:     5,
			PollInterval:           500 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func mergeYAMLFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// TransferModeValue parses the configured transfer mode string.
func (c SocketConfig) TransferModeValue() (udpcp.TransferMode, error) {
	switch c.TransferMode {
	case "ack-every-packet":
		return udpcp.AckEveryPacket, nil
	case "ack-last-fragment-only":
		return udpcp.AckLastFragmentOnly, nil
	case "ack-none":
		return udpcp.AckNone, nil
	default:
		return 0, fmt.Errorf("config: invalid transfer mode %q", c.TransferMode)
	}
}

// ChecksumModeValue parses the configured checksum mode string.
func (c SocketConfig) ChecksumModeValue() (udpcp.ChecksumMode, error) {
	switch c.ChecksumMode {
	case "enabled":
		return udpcp.ChecksumEnabled, nil
	case "disabled":
		return udpcp.ChecksumDisabled, nil
	default:
		return 0, fmt.Errorf("config: invalid checksum mode %q", c.ChecksumMode)
	}
}

// Validate checks the configuration for internally-consistent values.
func (c *Config) Validate() error {
	if c.Socket.LocalAddress == "" {
		return fmt.Errorf("socket local address cannot be empty")
	}

	if _, err := c.Socket.TransferModeValue(); err != nil {
		return err
	}

	if _, err := c.Socket.ChecksumModeValue(); err != nil {
		return err
	}

	if c.Socket.RetransmissionAttempts <= 0 {
		return fmt.Errorf("retransmission attempts must be positive")
	}

	if c.Socket.RetransmissionTimeout <= 0 {
		return fmt.Errorf("retransmission timeout must be positive")
	}

	if c.Socket.MaximumConnections <= 0 {
		return fmt.Errorf("maximum connections must be positive")
	}

	if c.Socket.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
