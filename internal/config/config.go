package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied to unset fields; also used as CLI flag defaults.
const (
	DefaultListenAddr  = "0.0.0.0:4000"
	DefaultImageDir    = "wallpapers"
	DefaultAssetsDir   = "assets"
	DefaultDirectory   = "wallpapers"
	DefaultParallel    = 8
	DefaultHTTPTimeout = Duration(time.Minute)
)

// Duration wraps time.Duration so YAML values like "60s" or "2m" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the complete dynwall configuration
type Config struct {
	Client ClientConfig `yaml:"client"`
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
}

// ClientConfig configures the sync client
type ClientConfig struct {
	Endpoint    string   `yaml:"endpoint"`
	Directory   string   `yaml:"directory"`
	User        string   `yaml:"user"`
	Password    string   `yaml:"password"`
	Parallel    int      `yaml:"parallel"`
	HTTPTimeout Duration `yaml:"http_timeout"`
}

// ServerConfig configures the HTTP image service
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	ImageDir   string `yaml:"image_dir"`
	AssetsDir  string `yaml:"assets_dir"`
}

// LogConfig configures log output
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration populated with built-in defaults only,
// for running without a config file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Expand environment variables in string fields
	cfg.expandEnv()

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Client.Endpoint = os.ExpandEnv(c.Client.Endpoint)
	c.Client.Directory = os.ExpandEnv(c.Client.Directory)
	c.Client.User = os.ExpandEnv(c.Client.User)
	c.Client.Password = os.ExpandEnv(c.Client.Password)
	c.Server.ListenAddr = os.ExpandEnv(c.Server.ListenAddr)
	c.Server.ImageDir = os.ExpandEnv(c.Server.ImageDir)
	c.Server.AssetsDir = os.ExpandEnv(c.Server.AssetsDir)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Client.Directory == "" {
		c.Client.Directory = DefaultDirectory
	}
	if c.Client.Parallel == 0 {
		c.Client.Parallel = DefaultParallel
	}
	if c.Client.HTTPTimeout == 0 {
		c.Client.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.ImageDir == "" {
		c.Server.ImageDir = DefaultImageDir
	}
	if c.Server.AssetsDir == "" {
		c.Server.AssetsDir = DefaultAssetsDir
	}
}

// Validate checks the configuration for errors. Fields that are only
// required by one command (e.g. client.endpoint for sync) are checked by
// that command, not here.
func (c *Config) Validate() error {
	if c.Client.Endpoint != "" {
		u, err := url.Parse(c.Client.Endpoint)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("client.endpoint must be an absolute http(s) URL: %s", c.Client.Endpoint)
		}
	}
	if c.Client.Parallel < 1 {
		return fmt.Errorf("client.parallel must be at least 1: %d", c.Client.Parallel)
	}
	if c.Client.HTTPTimeout < 0 {
		return fmt.Errorf("client.http_timeout must not be negative: %s", c.Client.HTTPTimeout.Std())
	}
	if c.Client.Directory == "" {
		return fmt.Errorf("client.directory is required")
	}

	if _, _, err := net.SplitHostPort(c.Server.ListenAddr); err != nil {
		return fmt.Errorf("server.listen_addr must be host:port: %s", c.Server.ListenAddr)
	}
	if c.Server.ImageDir == "" {
		return fmt.Errorf("server.image_dir is required")
	}
	if c.Server.AssetsDir == "" {
		return fmt.Errorf("server.assets_dir is required")
	}

	return nil
}

// HasCredentials returns true if a basic-auth pair is configured
func (c *ClientConfig) HasCredentials() bool {
	return c.User != "" || c.Password != ""
}
