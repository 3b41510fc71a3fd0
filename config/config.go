// Package config loads message bus configuration from YAML or TOML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/glimte/mmate-bus/contracts"
	"github.com/glimte/mmate-bus/messaging"
)

// DefaultTimeoutMillis is the synchronous send timeout used when none is configured
const DefaultTimeoutMillis = 10000

// Format identifies a configuration file syntax
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFromPath picks the format from the file extension
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("%w: unsupported configuration file %q", contracts.ErrInvalidConfiguration, path)
	}
}

// Config describes a message bus and its destinations
type Config struct {
	SynchronousSenderMode       string        `yaml:"synchronousSenderMode" toml:"synchronousSenderMode"`
	TimeoutMillis               int64         `yaml:"timeoutMillis" toml:"timeoutMillis"`
	RegisterDefaultDestinations *bool         `yaml:"registerDefaultDestinations" toml:"registerDefaultDestinations"`
	Destinations                []Destination `yaml:"destinations" toml:"destinations"`
}

// Destination describes one destination to register
type Destination struct {
	Name            string `yaml:"name" toml:"name"`
	Type            string `yaml:"type" toml:"type"`
	MaxQueueSize    int    `yaml:"maxQueueSize" toml:"maxQueueSize"`
	WorkersCoreSize int    `yaml:"workersCoreSize" toml:"workersCoreSize"`
	WorkersMaxSize  int    `yaml:"workersMaxSize" toml:"workersMaxSize"`
	Rank            int    `yaml:"rank" toml:"rank"`
}

// Default returns an empty configuration with defaults applied
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and validates the configuration file at path
func Load(path string) (*Config, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates configuration data
func Parse(data []byte, format Format) (*Config, error) {
	cfg := &Config{}
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: failed to parse yaml: %w", contracts.ErrInvalidConfiguration, err)
		}
	case FormatTOML:
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to parse toml: %w", contracts.ErrInvalidConfiguration, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("%w: unknown keys %v", contracts.ErrInvalidConfiguration, undecoded)
		}
	default:
		return nil, fmt.Errorf("%w: unknown format %q", contracts.ErrInvalidConfiguration, format)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.TimeoutMillis == 0 {
		c.TimeoutMillis = DefaultTimeoutMillis
	}
	if c.RegisterDefaultDestinations == nil {
		register := true
		c.RegisterDefaultDestinations = &register
	}
}

// Validate checks the sender mode, the timeout and every destination.
// Destination names must be unique.
func (c *Config) Validate() error {
	var errs []error
	if _, err := messaging.ParseSenderMode(c.SynchronousSenderMode); err != nil {
		errs = append(errs, err)
	}
	if c.TimeoutMillis < 0 {
		errs = append(errs, fmt.Errorf("%w: negative timeoutMillis %d", contracts.ErrInvalidConfiguration, c.TimeoutMillis))
	}

	seen := make(map[string]bool, len(c.Destinations))
	for i, d := range c.Destinations {
		dc, err := d.DestinationConfiguration()
		if err == nil {
			err = dc.Validate()
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("destinations[%d]: %w", i, err))
			continue
		}
		if seen[d.Name] {
			errs = append(errs, fmt.Errorf("destinations[%d]: %w: duplicate destination %q", i, contracts.ErrInvalidConfiguration, d.Name))
		}
		seen[d.Name] = true
	}
	return errors.Join(errs...)
}

// SenderMode returns the configured synchronous sender mode
func (c *Config) SenderMode() messaging.SenderMode {
	mode, err := messaging.ParseSenderMode(c.SynchronousSenderMode)
	if err != nil {
		return messaging.SenderModeDefault
	}
	return mode
}

// Timeout returns the synchronous send timeout
func (c *Config) Timeout() time.Duration {
	if c.TimeoutMillis <= 0 {
		return DefaultTimeoutMillis * time.Millisecond
	}
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

// RegistersDefaultDestinations reports whether Apply registers the
// default response and message status destinations
func (c *Config) RegistersDefaultDestinations() bool {
	return c.RegisterDefaultDestinations == nil || *c.RegisterDefaultDestinations
}

// BusOptions returns the bus options carried by the configuration
func (c *Config) BusOptions() []messaging.BusOption {
	return []messaging.BusOption{
		messaging.WithSynchronousSenderMode(c.SenderMode()),
		messaging.WithDefaultTimeout(c.Timeout()),
	}
}

// DestinationConfiguration converts d into a destination configuration
func (d Destination) DestinationConfiguration() (contracts.DestinationConfiguration, error) {
	typ, err := contracts.ParseDestinationType(d.Type)
	if err != nil {
		return contracts.DestinationConfiguration{}, err
	}
	cfg := contracts.NewDestinationConfiguration(typ, d.Name)
	cfg.MaxQueueSize = d.MaxQueueSize
	if d.WorkersCoreSize != 0 || d.WorkersMaxSize != 0 {
		cfg.WorkersCoreSize = d.WorkersCoreSize
		cfg.WorkersMaxSize = d.WorkersMaxSize
	}
	return cfg.Normalized(), nil
}

// Registrar registers destinations
type Registrar interface {
	RegisterDestination(cfg contracts.DestinationConfiguration, props contracts.Properties) (messaging.Destination, error)
	RegisterDefaultDestinations() error
}

// Apply registers the default destinations when enabled, then every
// configured destination in order. It stops at the first failure.
func (c *Config) Apply(bus Registrar) error {
	if c.RegistersDefaultDestinations() {
		if err := bus.RegisterDefaultDestinations(); err != nil {
			return fmt.Errorf("failed to register default destinations: %w", err)
		}
	}
	for _, d := range c.Destinations {
		dc, err := d.DestinationConfiguration()
		if err != nil {
			return err
		}
		if _, err := bus.RegisterDestination(dc, contracts.NewProperties(d.Name).WithRanking(d.Rank)); err != nil {
			return fmt.Errorf("failed to register destination %s: %w", d.Name, err)
		}
	}
	return nil
}
