// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the forwarder.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shineum/ses-forwarder/internal/domain"
)

const (
	defaultMaxSizeMB = 10
	maxSizeMBLimit   = 10
	defaultRetries   = 3
)

var (
	// ErrMissingValue is returned by Validate when a required key is unset.
	ErrMissingValue = errors.New("missing configuration value")
	// ErrInvalidValue is returned when a key is set to an unusable value.
	ErrInvalidValue = errors.New("invalid configuration value")
)

// Config holds the complete application configuration.
type Config struct {
	Storage  StorageConfig `yaml:"storage"`
	Forward  ForwardConfig `yaml:"forward"`
	Provider string        `yaml:"provider"`
	SES      SESConfig     `yaml:"ses"`
	Graph    GraphConfig   `yaml:"graph"`
	Relay    RelayConfig   `yaml:"relay"`
	Inbound  InboundConfig `yaml:"inbound"`
	TLS      TLSConfig     `yaml:"tls"`
	Logging  LoggingConfig `yaml:"logging"`
}

// StorageConfig locates stored inbound messages. Without static keys the
// store uses the default AWS credential chain.
type StorageConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// ForwardConfig holds the forwarding target and rewrite settings.
type ForwardConfig struct {
	To                string   `yaml:"to"`
	MaxSizeMB         int      `yaml:"max_size_mb"`
	SiteDomain        string   `yaml:"site_domain"`
	ForwarderAddress  string   `yaml:"forwarder_address"`
	Mode              string   `yaml:"mode"`
	PrimaryLocalParts []string `yaml:"primary_local_parts"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	MaxRetries      int    `yaml:"max_retries"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// RelayConfig holds the outbound SMTP relay configuration.
type RelayConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	StartTLS bool   `yaml:"starttls"`
}

// InboundConfig holds the local SMTP receiver configuration.
type InboundConfig struct {
	Listen         string `yaml:"listen"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	Hostname       string `yaml:"hostname"`
	MaxMessageSize int64  `yaml:"max_message_size"`
}

// TLSConfig holds TLS certificate file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
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
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks everything the forwarding pipeline needs. It is run once
// at startup.
func (c *Config) Validate() error {
	required := []struct {
		key   string
		value string
	}{
		{"EMAIL_BUCKET", c.Storage.Bucket},
		{"INCOMING_PREFIX", c.Storage.Prefix},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%w: %s", ErrMissingValue, r.key)
		}
	}

	if err := c.ValidateForward(); err != nil {
		return err
	}
	return c.validateProvider()
}

// ValidateForward checks the forward target and rewrite settings only. It
// is enough for rewriting messages that are not read from storage.
func (c *Config) ValidateForward() error {
	if c.Forward.To == "" {
		return fmt.Errorf("%w: FORWARD_TO_EMAIL", ErrMissingValue)
	}
	if c.Forward.SiteDomain == "" {
		return fmt.Errorf("%w: SITE_DOMAIN", ErrMissingValue)
	}
	if _, err := domain.NewEmailAddress(c.Forward.To); err != nil {
		return fmt.Errorf("%w: FORWARD_TO_EMAIL: %v", ErrInvalidValue, err)
	}
	if _, err := domain.NewEmailAddress(c.ForwarderAddress()); err != nil {
		return fmt.Errorf("%w: FORWARDER_ADDRESS: %v", ErrInvalidValue, err)
	}
	if c.Forward.MaxSizeMB < 1 || c.Forward.MaxSizeMB > maxSizeMBLimit {
		return fmt.Errorf("%w: MAX_EMAIL_SIZE_MB must be between 1 and %d, got %d",
			ErrInvalidValue, maxSizeMBLimit, c.Forward.MaxSizeMB)
	}
	switch c.Forward.Mode {
	case "raw", "simple":
		return nil
	default:
		return fmt.Errorf("%w: FORWARD_MODE %q", ErrInvalidValue, c.Forward.Mode)
	}
}

func (c *Config) validateProvider() error {
	switch c.Provider {
	case "ses", "stdout":
		return nil
	case "graph":
		if !c.GraphConfigured() {
			return fmt.Errorf("%w: graph provider requires GRAPH_TENANT_ID, GRAPH_CLIENT_ID and GRAPH_CLIENT_SECRET", ErrMissingValue)
		}
		return nil
	case "smtp":
		if c.Relay.Addr == "" {
			return fmt.Errorf("%w: SMTP_RELAY_ADDR", ErrMissingValue)
		}
		return nil
	default:
		return fmt.Errorf("%w: PROVIDER %q", ErrInvalidValue, c.Provider)
	}
}

// ForwarderAddress returns the configured forwarder address, or
// forwarder@<site domain> when none is set.
func (c *Config) ForwarderAddress() string {
	if c.Forward.ForwarderAddress != "" {
		return c.Forward.ForwarderAddress
	}
	return "forwarder@" + c.Forward.SiteDomain
}

// GraphConfigured returns true if all three Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != ""
}

// AuthEnabled returns true if both inbound username and password are set.
func (c *Config) AuthEnabled() bool {
	return c.Inbound.Username != "" && c.Inbound.Password != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Forward.MaxSizeMB = defaultMaxSizeMB
	c.Forward.Mode = "raw"
	c.Provider = "ses"
	c.SES.MaxRetries = defaultRetries
	c.Inbound.Listen = ":2525"
	c.Inbound.Hostname = "localhost"
	c.Inbound.MaxMessageSize = int64(maxSizeMBLimit) * 1024 * 1024
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() error {
	setString(&c.Storage.Bucket, "EMAIL_BUCKET")
	setString(&c.Storage.Prefix, "INCOMING_PREFIX")
	setString(&c.Storage.Region, "AWS_REGION")
	setString(&c.Storage.Region, "S3_REGION")
	setString(&c.Storage.AccessKeyID, "S3_ACCESS_KEY_ID")
	setString(&c.Storage.SecretAccessKey, "S3_SECRET_ACCESS_KEY")

	setString(&c.Forward.To, "FORWARD_TO_EMAIL")
	if err := setInt(&c.Forward.MaxSizeMB, "MAX_EMAIL_SIZE_MB"); err != nil {
		return err
	}
	setString(&c.Forward.SiteDomain, "SITE_DOMAIN")
	setString(&c.Forward.ForwarderAddress, "FORWARDER_ADDRESS")
	if v := os.Getenv("FORWARD_MODE"); v != "" {
		c.Forward.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("PRIMARY_LOCAL_PARTS"); v != "" {
		c.Forward.PrimaryLocalParts = splitList(v)
	}

	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	setString(&c.SES.Region, "SES_REGION")
	setString(&c.SES.AccessKeyID, "SES_ACCESS_KEY_ID")
	setString(&c.SES.SecretAccessKey, "SES_SECRET_ACCESS_KEY")
	if err := setInt(&c.SES.MaxRetries, "SES_MAX_RETRIES"); err != nil {
		return err
	}

	setString(&c.Graph.TenantID, "GRAPH_TENANT_ID")
	setString(&c.Graph.ClientID, "GRAPH_CLIENT_ID")
	setString(&c.Graph.ClientSecret, "GRAPH_CLIENT_SECRET")

	setString(&c.Relay.Addr, "SMTP_RELAY_ADDR")
	setString(&c.Relay.Username, "SMTP_RELAY_USERNAME")
	setString(&c.Relay.Password, "SMTP_RELAY_PASSWORD")
	if err := setBool(&c.Relay.StartTLS, "SMTP_RELAY_STARTTLS"); err != nil {
		return err
	}

	setString(&c.Inbound.Listen, "INBOUND_LISTEN")
	setString(&c.Inbound.Username, "INBOUND_USERNAME")
	setString(&c.Inbound.Password, "INBOUND_PASSWORD")
	setString(&c.Inbound.Hostname, "INBOUND_HOSTNAME")

	setString(&c.TLS.CertFile, "TLS_CERT_FILE")
	setString(&c.TLS.KeyFile, "TLS_KEY_FILE")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%w: %s=%q is not a number", ErrInvalidValue, key, v)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalidValue, key, v)
	}
	*dst = b
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
