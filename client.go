// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mmate

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/mmate-bus/config"
	"github.com/glimte/mmate-bus/health"
	"github.com/glimte/mmate-bus/messaging"
)

// Client provides the main entry point for mmate-bus. It owns a message
// bus wired with synchronous senders, message builders and a health
// registry.
type Client struct {
	bus      *messaging.MessageBus
	senders  *messaging.SenderFactory
	builders *messaging.MessageBuilderFactory
	health   *health.Registry
	logger   *slog.Logger
}

// NewClient creates a client with the default logger and default destinations
func NewClient() (*Client, error) {
	return NewClientWithOptions(WithDefaultLogger())
}

// NewClientWithOptions creates a new client with options
func NewClientWithOptions(options ...ClientOption) (*Client, error) {
	cfg := &clientConfig{
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(cfg)
	}

	busConfig := cfg.config
	if cfg.configFile != "" {
		loaded, err := config.Load(cfg.configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		busConfig = loaded
	}
	if busConfig == nil {
		busConfig = config.Default()
	} else if err := busConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.skipDefaults {
		copied := *busConfig
		register := false
		copied.RegisterDefaultDestinations = &register
		busConfig = &copied
	}

	busOpts := append(busConfig.BusOptions(), messaging.WithBusLogger(cfg.logger))
	if cfg.senderMode != "" {
		busOpts = append(busOpts, messaging.WithSynchronousSenderMode(cfg.senderMode))
	}
	if cfg.timeout > 0 {
		busOpts = append(busOpts, messaging.WithDefaultTimeout(cfg.timeout))
	}

	bus := messaging.NewMessageBus(busOpts...)
	senders := messaging.NewSenderFactory(bus, messaging.WithSenderLogger(cfg.logger))
	bus.SetSenderFactory(senders)

	if err := busConfig.Apply(bus); err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("failed to configure message bus: %w", err)
	}

	registry := health.NewRegistry()
	registry.Register(health.NewBusChecker(bus, cfg.pendingThreshold))

	cfg.logger.Info("Message bus started", "destinations", bus.DestinationCount(), "timeout", bus.DefaultTimeout())

	return &Client{
		bus:      bus,
		senders:  senders,
		builders: messaging.NewMessageBuilderFactory(bus),
		health:   registry,
		logger:   cfg.logger,
	}, nil
}

// Bus returns the message bus
func (c *Client) Bus() *messaging.MessageBus {
	return c.bus
}

// Senders returns the synchronous sender factory
func (c *Client) Senders() *messaging.SenderFactory {
	return c.senders
}

// Builders returns the message builder factory
func (c *Client) Builders() *messaging.MessageBuilderFactory {
	return c.builders
}

// Health returns the health registry. It checks every destination of the bus.
func (c *Client) Health() *health.Registry {
	return c.health
}

// Close closes all destinations
func (c *Client) Close() error {
	err := c.bus.Close()
	c.logger.Info("Message bus stopped")
	return err
}

// clientConfig holds client configuration
type clientConfig struct {
	logger           *slog.Logger
	config           *config.Config
	configFile       string
	senderMode       messaging.SenderMode
	timeout          time.Duration
	skipDefaults     bool
	pendingThreshold int64
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithDefaultLogger uses the default logger
func WithDefaultLogger() ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = slog.Default()
	}
}

// WithConfig registers the destinations of an already loaded configuration
func WithConfig(c *config.Config) ClientOption {
	return func(cfg *clientConfig) {
		cfg.config = c
	}
}

// WithConfigFile loads the configuration from a YAML or TOML file
func WithConfigFile(path string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.configFile = path
	}
}

// WithSenderMode overrides the configured synchronous sender mode
func WithSenderMode(mode messaging.SenderMode) ClientOption {
	return func(cfg *clientConfig) {
		cfg.senderMode = mode
	}
}

// WithTimeout overrides the configured synchronous send timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.timeout = timeout
	}
}

// WithoutDefaultDestinations skips the default response and message
// status destinations
func WithoutDefaultDestinations() ClientOption {
	return func(cfg *clientConfig) {
		cfg.skipDefaults = true
	}
}

// WithPendingThreshold sets the pending message count at which the health
// check reports a destination as degraded
func WithPendingThreshold(threshold int64) ClientOption {
	return func(cfg *clientConfig) {
		cfg.pendingThreshold = threshold
	}
}
