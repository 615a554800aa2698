// Package config loads glimmer's YAML configuration, applies environment
// overrides and reads the light position file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ayusman/glimmer/internal/light"
	"github.com/ayusman/glimmer/internal/transport"
)

// Defaults.
const (
	DefaultListen     = ":8080"
	DefaultRPCTimeout = 5 * time.Second
	DefaultLightCount = 50
)

// Config is the top level configuration file.
type Config struct {
	// Listen is the HTTP address of the control API.
	Listen string `yaml:"listen"`
	// Database is the sqlite file holding the active animation.
	Database string `yaml:"database"`
	// PluginDir is scanned for plugin directories and .crab archives.
	PluginDir string `yaml:"plugin_dir"`
	// Lights is a CSV (x,y,z per line) or JSON ([[x,y,z], ...]) file.
	Lights string `yaml:"lights"`
	// LightCount places that many lights on a line along x when no
	// Lights file is given.
	LightCount int `yaml:"light_count"`
	// DefaultAnimation starts when no saved state exists.
	DefaultAnimation string `yaml:"default_animation"`
	// RPCTimeout bounds every plugin call.
	RPCTimeout time.Duration `yaml:"rpc_timeout"`
	LogLevel   string        `yaml:"log_level"`

	Backoff    transport.BackoffSettings  `yaml:"backoff"`
	Transports []transport.EndpointConfig `yaml:"transports"`
}

// Default returns the configuration used when no file is given. Data lives
// under ~/.glimmer.
func Default() Config {
	dataDir := ".glimmer"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".glimmer")
	}
	return Config{
		Listen:           DefaultListen,
		Database:         filepath.Join(dataDir, "glimmer.db"),
		PluginDir:        filepath.Join(dataDir, "plugins"),
		LightCount:       DefaultLightCount,
		DefaultAnimation: "blank",
		RPCTimeout:       DefaultRPCTimeout,
		LogLevel:         "info",
		Backoff: transport.BackoffSettings{
			Start: 100 * time.Millisecond,
			Max:   5 * time.Second,
		},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path uses the defaults alone.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Listen = getEnv("GLIMMER_LISTEN", c.Listen)
	c.PluginDir = getEnv("GLIMMER_PLUGIN_DIR", c.PluginDir)
	c.Database = getEnv("GLIMMER_DB_PATH", c.Database)
	c.LogLevel = getEnv("GLIMMER_LOG_LEVEL", c.LogLevel)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// Validate reports every problem in c at once.
func (c Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.PluginDir == "" {
		errs = append(errs, errors.New("plugin_dir is required"))
	}
	if c.RPCTimeout <= 0 {
		errs = append(errs, fmt.Errorf("rpc_timeout must be positive, got %s", c.RPCTimeout))
	}
	if c.Lights == "" && c.LightCount <= 0 {
		errs = append(errs, errors.New("either lights or light_count is required"))
	}
	if c.Backoff.Start < 0 || c.Backoff.Max < 0 {
		errs = append(errs, errors.New("backoff durations must not be negative"))
	}
	if c.Backoff.Max > 0 && c.Backoff.Start > c.Backoff.Max {
		errs = append(errs, fmt.Errorf("backoff start %s exceeds max %s", c.Backoff.Start, c.Backoff.Max))
	}
	for i, t := range c.Transports {
		if err := t.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("transports[%d]: %w", i, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Points returns the configured light positions.
func (c Config) Points() ([]light.Point, error) {
	if c.Lights != "" {
		return LoadPoints(c.Lights)
	}
	points := make([]light.Point, c.LightCount)
	for i := range points {
		points[i] = light.Point{X: float64(i)}
	}
	return points, nil
}
