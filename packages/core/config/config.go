package config

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Adapter names.
const (
	AdapterSession = "session"
	AdapterHTTP    = "http"
)

// Config represents the nativehttp configuration
type Config struct {
	// Adapter selects the transport: "session" (urlsession engine) or "http"
	// (net/http).
	Adapter         string            `json:"adapter,omitempty" yaml:"adapter,omitempty"`
	Timeout         int               `json:"timeout,omitempty" yaml:"timeout,omitempty"` // milliseconds
	Verify          *bool             `json:"verify,omitempty" yaml:"verify,omitempty"`
	CertFile        string            `json:"certFile,omitempty" yaml:"certFile,omitempty"`
	KeyFile         string            `json:"keyFile,omitempty" yaml:"keyFile,omitempty"`
	Proxy           string            `json:"proxy,omitempty" yaml:"proxy,omitempty"`
	Headers         map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	FollowRedirects *bool             `json:"followRedirects,omitempty" yaml:"followRedirects,omitempty"`
	MaxRedirects    int               `json:"maxRedirects,omitempty" yaml:"maxRedirects,omitempty"`
	HTTP2           *bool             `json:"http2,omitempty" yaml:"http2,omitempty"`

	// CachePolicy is one of the urlsession cache policy names. Empty
	// disables the engine cache.
	CachePolicy string `json:"cachePolicy,omitempty" yaml:"cachePolicy,omitempty"`
	// CachePath stores cached responses in a SQLite database instead of
	// memory.
	CachePath string `json:"cachePath,omitempty" yaml:"cachePath,omitempty"`

	LogLevel    string `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`
	LogEncoding string `json:"logEncoding,omitempty" yaml:"logEncoding,omitempty"`
	MetricsAddr string `json:"metricsAddr,omitempty" yaml:"metricsAddr,omitempty"`

	// Rate limits suite dispatch in requests per second; 0 is unlimited.
	Rate    float64 `json:"rate,omitempty" yaml:"rate,omitempty"`
	Bail    *bool   `json:"bail,omitempty" yaml:"bail,omitempty"`
	Verbose *bool   `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	NoColor *bool   `json:"noColor,omitempty" yaml:"noColor,omitempty"`
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}

// getBool returns the value of a bool pointer, or the default if nil
func getBool(b *bool, defaultVal bool) bool {
	if b == nil {
		return defaultVal
	}
	return *b
}

// GetVerify returns the TLS verification setting, defaulting to true
func (c *Config) GetVerify() bool {
	return getBool(c.Verify, true)
}

// GetFollowRedirects returns the follow redirects setting, defaulting to true
func (c *Config) GetFollowRedirects() bool {
	return getBool(c.FollowRedirects, true)
}

// GetHTTP2 returns the HTTP/2 setting, defaulting to true
func (c *Config) GetHTTP2() bool {
	return getBool(c.HTTP2, true)
}

func (c *Config) GetBail() bool {
	return getBool(c.Bail, false)
}

func (c *Config) GetVerbose() bool {
	return getBool(c.Verbose, false)
}

func (c *Config) GetNoColor() bool {
	return getBool(c.NoColor, false)
}

// TimeoutDuration returns Timeout as a duration.
func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

// LoadCertificate loads the client certificate, or returns nil when none is
// configured. KeyFile defaults to CertFile for combined PEM files.
func (c *Config) LoadCertificate() (*tls.Certificate, error) {
	if c.CertFile == "" {
		return nil, nil
	}
	keyFile := c.KeyFile
	if keyFile == "" {
		keyFile = c.CertFile
	}
	cert, err := tls.LoadX509KeyPair(c.CertFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("loading client certificate: %w", err)
	}
	return &cert, nil
}

// Validate checks values that cannot be checked by decoding alone.
func (c *Config) Validate() error {
	switch c.Adapter {
	case "", AdapterSession, AdapterHTTP:
	default:
		return fmt.Errorf("unknown adapter %q (want %q or %q)", c.Adapter, AdapterSession, AdapterHTTP)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if c.MaxRedirects < 0 {
		return fmt.Errorf("maxRedirects must not be negative")
	}
	if c.Rate < 0 {
		return fmt.Errorf("rate must not be negative")
	}
	if c.KeyFile != "" && c.CertFile == "" {
		return fmt.Errorf("keyFile requires certFile")
	}
	return nil
}

// ConfigFilenames contains the possible config file names, in search order
var ConfigFilenames = []string{
	".nativehttp.yaml",
	".nativehttp.yml",
	"nativehttp.config.json",
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Adapter:         AdapterSession,
		Timeout:         30000,
		Verify:          BoolPtr(true),
		FollowRedirects: BoolPtr(true),
		MaxRedirects:    10,
		HTTP2:           BoolPtr(true),
		LogLevel:        "info",
		LogEncoding:     "console",
	}
}

// LoadConfig loads configuration from the specified path or searches for config files
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		return loadConfigFromFile(path)
	}
	return FindAndLoadConfig(".")
}

// FindAndLoadConfig searches for a config file in the given directory
func FindAndLoadConfig(dir string) (*Config, error) {
	for _, filename := range ConfigFilenames {
		configPath := filepath.Join(dir, filename)
		if _, err := os.Stat(configPath); err == nil {
			return loadConfigFromFile(configPath)
		}
	}

	return DefaultConfig(), nil
}

// loadConfigFromFile decodes YAML or JSON depending on the extension. Values
// may reference environment variables as ${VAR}.
func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = []byte(os.ExpandEnv(string(data)))

	config := DefaultConfig()
	if isJSON(path) {
		err = json.Unmarshal(data, config)
	} else {
		err = yaml.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return config, nil
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// Merge merges another config into this one, with other taking precedence
func (c *Config) Merge(other *Config) *Config {
	if other == nil {
		return c
	}

	result := *c
	result.Headers = make(map[string]string, len(c.Headers))
	for k, v := range c.Headers {
		result.Headers[k] = v
	}

	if other.Adapter != "" {
		result.Adapter = other.Adapter
	}
	if other.Timeout > 0 {
		result.Timeout = other.Timeout
	}
	if other.CertFile != "" {
		result.CertFile = other.CertFile
	}
	if other.KeyFile != "" {
		result.KeyFile = other.KeyFile
	}
	if other.Proxy != "" {
		result.Proxy = other.Proxy
	}
	if other.MaxRedirects > 0 {
		result.MaxRedirects = other.MaxRedirects
	}
	if other.CachePolicy != "" {
		result.CachePolicy = other.CachePolicy
	}
	if other.CachePath != "" {
		result.CachePath = other.CachePath
	}
	if other.LogLevel != "" {
		result.LogLevel = other.LogLevel
	}
	if other.LogEncoding != "" {
		result.LogEncoding = other.LogEncoding
	}
	if other.MetricsAddr != "" {
		result.MetricsAddr = other.MetricsAddr
	}
	if other.Rate > 0 {
		result.Rate = other.Rate
	}

	// Boolean flags - only override if explicitly set in other config
	if other.Verify != nil {
		result.Verify = other.Verify
	}
	if other.FollowRedirects != nil {
		result.FollowRedirects = other.FollowRedirects
	}
	if other.HTTP2 != nil {
		result.HTTP2 = other.HTTP2
	}
	if other.Bail != nil {
		result.Bail = other.Bail
	}
	if other.Verbose != nil {
		result.Verbose = other.Verbose
	}
	if other.NoColor != nil {
		result.NoColor = other.NoColor
	}

	for k, v := range other.Headers {
		result.Headers[k] = v
	}

	return &result
}

// SaveConfig writes the configuration as JSON or YAML depending on the
// file extension.
func (c *Config) SaveConfig(path string) error {
	var (
		data []byte
		err  error
	)
	if isJSON(path) {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
