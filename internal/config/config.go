// ABOUTME: Configuration loading and parsing for certgate
// ABOUTME: Supports YAML or TOML files with environment variable expansion, env overrides and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values. The backend and auth
// service names match the deployment that predates the config file.
const (
	EnvBackendAddress  = "GRPC_AUTH_SERVICE_HOST"
	EnvAuthServiceHost = "AUTH_SERVICE_HOST"
	EnvCaptchaSecret   = "RECAPTCHA_SECRET_KEY"
	EnvCaptchaSiteKey  = "RECAPTCHA_SITE_KEY"
	EnvHTTPAddr        = "CERTGATE_HTTP_ADDR"
)

// Defaults applied when a value is not configured.
const (
	DefaultHTTPAddr          = "0.0.0.0:8000"
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultRPCTimeout        = 5 * time.Second
	DefaultConnectTimeout    = 5 * time.Second
	DefaultCaptchaTimeout    = 5 * time.Second
	DefaultReplayTTL         = 5 * time.Minute
	DefaultCaptchaVerifyURL  = "https://www.google.com/recaptcha/api/siteverify"
	DefaultResourceURL       = "https://i.ibb.co/YP90j68/Light-Live-Bootcamp-Certificate.png"
)

// ConnectionMode selects how the gateway holds its backend connection.
type ConnectionMode string

const (
	// ConnectionShared keeps one long-lived connection for all requests.
	ConnectionShared ConnectionMode = "shared"
	// ConnectionPerRequest dials the backend for every verification.
	ConnectionPerRequest ConnectionMode = "per_request"
)

// Config represents the complete certgate configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Backend     BackendConfig     `yaml:"backend" toml:"backend"`
	AuthService AuthServiceConfig `yaml:"auth_service" toml:"auth_service"`
	Captcha     CaptchaConfig     `yaml:"captcha" toml:"captcha"`
	Protected   ProtectedConfig   `yaml:"protected" toml:"protected"`
	Tailscale   TailscaleConfig   `yaml:"tailscale" toml:"tailscale"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// TrustProxyHeaders makes the gateway take the client address from
	// X-Forwarded-For / X-Real-IP. Only enable behind a proxy that sets them.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers" toml:"trust_proxy_headers"`

	ReadHeaderTimeout    time.Duration `yaml:"-" toml:"-"`
	ReadHeaderTimeoutRaw string        `yaml:"read_header_timeout" toml:"read_header_timeout"`
}

// BackendConfig describes the gRPC authentication backend.
type BackendConfig struct {
	// Address is the backend locator. An https:// prefix selects TLS.
	Address    string         `yaml:"address" toml:"address"`
	Connection ConnectionMode `yaml:"connection" toml:"connection"`

	RPCTimeout     time.Duration `yaml:"-" toml:"-"`
	ConnectTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	RPCTimeoutRaw     string `yaml:"rpc_timeout" toml:"rpc_timeout"`
	ConnectTimeoutRaw string `yaml:"connect_timeout" toml:"connect_timeout"`
}

// AuthServiceConfig holds the browser-facing login service location.
type AuthServiceConfig struct {
	Host string `yaml:"host" toml:"host"`
}

// CaptchaConfig holds the CAPTCHA provider settings
type CaptchaConfig struct {
	Secret    string `yaml:"secret" toml:"secret"`
	SiteKey   string `yaml:"site_key" toml:"site_key"`
	VerifyURL string `yaml:"verify_url" toml:"verify_url"`

	Timeout   time.Duration `yaml:"-" toml:"-"`
	ReplayTTL time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw   string `yaml:"timeout" toml:"timeout"`
	ReplayTTLRaw string `yaml:"replay_ttl" toml:"replay_ttl"`
}

// ProtectedConfig describes the resource handed out to verified callers.
type ProtectedConfig struct {
	ResourceURL string `yaml:"resource_url" toml:"resource_url"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Enable public Funnel on :443
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded, then the
// well-known environment overrides are applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	return finish(&cfg)
}

// FromEnv builds a Config from environment variables alone. It is used when
// no config file exists.
func FromEnv() (*Config, error) {
	return finish(&Config{})
}

func finish(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnvOverrides lets set environment variables win over file values.
func applyEnvOverrides(cfg *Config) {
	override := func(dst *string, name string) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}
	override(&cfg.Backend.Address, EnvBackendAddress)
	override(&cfg.AuthService.Host, EnvAuthServiceHost)
	override(&cfg.Captcha.Secret, EnvCaptchaSecret)
	override(&cfg.Captcha.SiteKey, EnvCaptchaSiteKey)
	override(&cfg.Server.HTTPAddr, EnvHTTPAddr)
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" && !cfg.Tailscale.Enabled {
		cfg.Server.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if cfg.Backend.Connection == "" {
		cfg.Backend.Connection = ConnectionShared
	}
	if cfg.Backend.RPCTimeout == 0 {
		cfg.Backend.RPCTimeout = DefaultRPCTimeout
	}
	if cfg.Backend.ConnectTimeout == 0 {
		cfg.Backend.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Captcha.VerifyURL == "" {
		cfg.Captcha.VerifyURL = DefaultCaptchaVerifyURL
	}
	if cfg.Captcha.Timeout == 0 {
		cfg.Captcha.Timeout = DefaultCaptchaTimeout
	}
	if cfg.Captcha.ReplayTTL == 0 {
		cfg.Captcha.ReplayTTL = DefaultReplayTTL
	}
	if cfg.Protected.ResourceURL == "" {
		cfg.Protected.ResourceURL = DefaultResourceURL
	}
}

// Validate checks that the configuration is internally consistent.
// A missing backend address or captcha secret is NOT an error here: the
// gateway still starts and the affected routes fail closed per request.
func (c *Config) Validate() error {
	switch c.Backend.Connection {
	case ConnectionShared, ConnectionPerRequest:
	default:
		return fmt.Errorf("backend.connection must be %q or %q, got %q", ConnectionShared, ConnectionPerRequest, c.Backend.Connection)
	}

	if c.Backend.RPCTimeout < 0 || c.Backend.ConnectTimeout < 0 || c.Captcha.Timeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.read_header_timeout", cfg.Server.ReadHeaderTimeoutRaw, &cfg.Server.ReadHeaderTimeout},
		{"backend.rpc_timeout", cfg.Backend.RPCTimeoutRaw, &cfg.Backend.RPCTimeout},
		{"backend.connect_timeout", cfg.Backend.ConnectTimeoutRaw, &cfg.Backend.ConnectTimeout},
		{"captcha.timeout", cfg.Captcha.TimeoutRaw, &cfg.Captcha.Timeout},
		{"captcha.replay_ttl", cfg.Captcha.ReplayTTLRaw, &cfg.Captcha.ReplayTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
