package channel

import (
	"github.com/kbukum/pvkit/resilience"
	"github.com/kbukum/pvkit/validation"
)

// GetPolicy selects how Channel.Get obtains a value.
type GetPolicy string

const (
	// GetFresh issues a read request for every Get.
	GetFresh GetPolicy = "fresh"
	// GetCached keeps a subscription open on every channel and answers Get
	// from its latest value, reading only until the first update arrives.
	GetCached GetPolicy = "cached"
)

// ViolationPolicy selects what happens when the provider delivers a
// completion callback twice.
type ViolationPolicy string

const (
	// ViolationPanic logs, counts and then panics on the provider goroutine.
	ViolationPanic ViolationPolicy = "panic"
	// ViolationLog logs and counts the violation only.
	ViolationLog ViolationPolicy = "log"
)

// Config configures a Client.
type Config struct {
	// Name identifies the client as a component. Defaults to "channel-client".
	Name string `yaml:"name" mapstructure:"name"`
	// Provider is the backend name looked up in a provider.Registry.
	Provider string `yaml:"provider" mapstructure:"provider" validate:"required"`
	// ProviderOptions is passed to the provider factory.
	ProviderOptions map[string]any `yaml:"provider_options" mapstructure:"provider_options"`
	// GetPolicy defaults to fresh.
	GetPolicy GetPolicy `yaml:"get_policy" mapstructure:"get_policy" validate:"oneof=fresh cached"`
	// MaxPendingConnects bounds connects awaiting their first connection
	// event. Zero means unlimited.
	MaxPendingConnects int64 `yaml:"max_pending_connects" mapstructure:"max_pending_connects" validate:"gte=0"`
	// OnViolation defaults to panic.
	OnViolation ViolationPolicy `yaml:"on_violation" mapstructure:"on_violation" validate:"oneof=panic log"`
	// LogProviderCalls wraps the provider with debug logging of every call.
	LogProviderCalls bool `yaml:"log_provider_calls" mapstructure:"log_provider_calls"`
	// ConnectRetry governs retries of synchronous, retryable provider
	// errors during Connect.
	ConnectRetry resilience.RetryConfig `yaml:"connect_retry" mapstructure:"connect_retry"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "channel-client"
	}
	if c.Provider == "" {
		c.Provider = "memory"
	}
	if c.GetPolicy == "" {
		c.GetPolicy = GetFresh
	}
	if c.OnViolation == "" {
		c.OnViolation = ViolationPanic
	}
	c.ConnectRetry.ApplyDefaults()
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	return validation.Validate(c)
}
