package config

import (
	"fmt"

	"github.com/kbukum/pvkit/channel"
	apperrors "github.com/kbukum/pvkit/errors"
	"github.com/kbukum/pvkit/logger"
	"github.com/kbukum/pvkit/observability"
	"github.com/kbukum/pvkit/validation"
	"github.com/kbukum/pvkit/version"
)

// Config is the complete configuration of a pvkit application.
//
// Example config.yml:
//
//	name: beamline-monitor
//	environment: production
//	logging:
//	  level: info
//	  format: json
//	channel:
//	  provider: memory
//	  get_policy: cached
//	  max_pending_connects: 64
//	observability:
//	  enabled: true
//	  endpoint: otel-collector:4318
type Config struct {
	Name        string `yaml:"name" mapstructure:"name" validate:"required"`
	Environment string `yaml:"environment" mapstructure:"environment" validate:"oneof=development staging production"`
	Version     string `yaml:"version" mapstructure:"version"`
	Debug       bool   `yaml:"debug" mapstructure:"debug"`

	Logging       logger.Config        `yaml:"logging" mapstructure:"logging"`
	Channel       channel.Config       `yaml:"channel" mapstructure:"channel"`
	Observability observability.Config `yaml:"observability" mapstructure:"observability"`
}

// ApplyDefaults applies default values to every section.
func (c *Config) ApplyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Version == "" {
		c.Version = version.Get().Version
	}
	if c.Environment == "development" {
		c.Debug = true
	}
	if c.Debug && c.Logging.Level == "" {
		c.Logging.Level = "debug"
	}
	c.Logging.ApplyDefaults()

	if c.Channel.Name == "" && c.Name != "" {
		c.Channel.Name = c.Name
	}
	c.Channel.ApplyDefaults()

	// Resource attributes follow the application unless set explicitly.
	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = c.Name
	}
	if c.Observability.ServiceVersion == "" {
		c.Observability.ServiceVersion = c.Version
	}
	if c.Observability.Environment == "" {
		c.Observability.Environment = c.Environment
	}
	c.Observability.ApplyDefaults()
}

// Validate validates every section. Call ApplyDefaults first.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return apperrors.InvalidConfig(fmt.Sprintf("logging: %v", err)).WithCause(err)
	}
	return validation.Validate(c)
}
