// Package config provides layered configuration loading for the conformance
// harness and the stub relay: defaults, then an optional YAML file, then
// environment variables. Command-line arguments are applied by the caller.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration.
type Config struct {
	Relay   RelayConfig   `yaml:"relay"`
	Stub    StubConfig    `yaml:"stub"`
	TLS     TLSConfig     `yaml:"tls"`
	Logging LoggingConfig `yaml:"logging"`
}

// RelayConfig describes the relay under test.
type RelayConfig struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	Timeout       time.Duration `yaml:"timeout"`
	Pacing        time.Duration `yaml:"pacing"`
	LocalName     string        `yaml:"local_name"`
	StartTLS      bool          `yaml:"starttls"`
	AuthMechanism string        `yaml:"auth_mechanism"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`

	// TLS verification settings for STARTTLS.
	ServerName  string `yaml:"server_name"`
	CAFile      string `yaml:"ca_file"`
	TLSInsecure bool   `yaml:"tls_insecure"`
}

// StubConfig holds the local stub relay configuration.
type StubConfig struct {
	Listen        string   `yaml:"listen"`
	Hostname      string   `yaml:"hostname"`
	Username      string   `yaml:"username"`
	Password      string   `yaml:"password"`
	AllowFallback bool     `yaml:"allow_fallback"`
	Mechanisms    []string `yaml:"mechanisms"`
	RejectSubject string   `yaml:"reject_subject"`
	MetricsListen string   `yaml:"metrics_listen"`
}

// TLSConfig holds the stub's certificate file paths.
// When both are empty a self-signed certificate is generated.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// file cannot be read or parsed.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// StubAuthEnabled returns true if both stub credentials are set.
func (c *Config) StubAuthEnabled() bool {
	return c.Stub.Username != "" && c.Stub.Password != ""
}

func (c *Config) applyDefaults() {
	c.Relay.Host = "127.0.0.1"
	c.Relay.Port = 2526
	c.Relay.Timeout = 30 * time.Second
	c.Relay.Pacing = time.Second
	c.Relay.LocalName = "localhost"
	c.Relay.AuthMechanism = "auto"

	c.Stub.Listen = ":2526"
	c.Stub.Hostname = "localhost"
	c.Stub.AllowFallback = true
	c.Stub.Mechanisms = []string{"PLAIN", "LOGIN"}

	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty, well-formed values override existing ones.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("RELAY_HOST"); v != "" {
		c.Relay.Host = v
	}
	if v := os.Getenv("RELAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Relay.Port = port
		}
	}
	if v := os.Getenv("RELAY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Relay.Timeout = d
		}
	}
	if v := os.Getenv("RELAY_PACING"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Relay.Pacing = d
		}
	}
	if v := os.Getenv("RELAY_STARTTLS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Relay.StartTLS = b
		}
	}
	if v := os.Getenv("RELAY_AUTH_MECHANISM"); v != "" {
		c.Relay.AuthMechanism = v
	}
	if v := os.Getenv("RELAY_USERNAME"); v != "" {
		c.Relay.Username = v
	}
	if v := os.Getenv("RELAY_PASSWORD"); v != "" {
		c.Relay.Password = v
	}

	if v := os.Getenv("STUB_LISTEN"); v != "" {
		c.Stub.Listen = v
	}
	if v := os.Getenv("STUB_USERNAME"); v != "" {
		c.Stub.Username = v
	}
	if v := os.Getenv("STUB_PASSWORD"); v != "" {
		c.Stub.Password = v
	}
	if v := os.Getenv("STUB_REJECT_SUBJECT"); v != "" {
		c.Stub.RejectSubject = v
	}

	if v := os.Getenv("TLS_CERT_FILE"); v != "" {
		c.TLS.CertFile = v
	}
	if v := os.Getenv("TLS_KEY_FILE"); v != "" {
		c.TLS.KeyFile = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}
