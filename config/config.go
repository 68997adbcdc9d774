// Package config loads the mediator's YAML configuration file
// (SPEC_FULL.md §4.10) and resolves it into a mediator.Config.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coregx/relay/mediator"
)

// Config is the on-disk shape of the mediator's configuration. Zero
// values for every field fall back to mediator.DefaultConfig.
type Config struct {
	ListenAddr   string `yaml:"listen_addr"`
	TLSCertFile  string `yaml:"tls_cert_file"`
	TLSKeyFile   string `yaml:"tls_key_file"`
	MetricsAddr  string `yaml:"metrics_addr"`

	RefreshTimeout          time.Duration  `yaml:"refresh_timeout"`
	BufferCapacities        map[string]int `yaml:"buffer_capacities"`
	CommandQueueCapacity    int            `yaml:"command_queue_capacity"`
	AllowMultipleConnectors bool           `yaml:"allow_multiple_connectors"`
}

// Load parses the YAML file at path into a Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Mediator resolves c into a mediator.Config, falling back to
// mediator.DefaultConfig for any field left at its zero value (Open
// Questions (b) and (c) of SPEC_FULL.md).
func (c *Config) Mediator() (mediator.Config, error) {
	cfg := mediator.DefaultConfig()

	if c.RefreshTimeout > 0 {
		cfg.RefreshTimeout = c.RefreshTimeout
	}
	if c.CommandQueueCapacity > 0 {
		cfg.CommandQueueCapacity = c.CommandQueueCapacity
	}
	cfg.AllowMultipleConnectors = c.AllowMultipleConnectors

	if len(c.BufferCapacities) > 0 {
		capacities := make(map[mediator.Role]int, len(c.BufferCapacities))
		for name, cap := range c.BufferCapacities {
			role, ok := mediator.ParseRole(name)
			if !ok {
				return mediator.Config{}, fmt.Errorf("config: unknown role %q in buffer_capacities", name)
			}
			capacities[role] = cap
		}
		cfg.BufferCapacities = capacities
	}

	if c.TLSCertFile != "" && c.TLSKeyFile != "" {
		tlsCfg, err := loadTLS(c.TLSCertFile, c.TLSKeyFile)
		if err != nil {
			return mediator.Config{}, err
		}
		cfg.TLSConfig = tlsCfg
	}

	return cfg, nil
}
