package bootstrap

import (
	"time"

	"github.com/kbukum/pvkit/channel"
	"github.com/kbukum/pvkit/logger"
	"github.com/kbukum/pvkit/provider"
)

// Option configures the App during creation.
type Option func(*appOptions)

type appOptions struct {
	logger          *logger.Logger
	registry        *provider.Registry
	provider        provider.Provider
	clientOpts      []channel.Option
	gracefulTimeout time.Duration
}

// WithLogger sets the application logger instead of building one from the
// logging section.
func WithLogger(l *logger.Logger) Option {
	return func(o *appOptions) { o.logger = l }
}

// WithRegistry sets the provider registry. The default registry knows the
// memory provider only.
func WithRegistry(reg *provider.Registry) Option {
	return func(o *appOptions) { o.registry = reg }
}

// WithProvider uses p directly, bypassing the registry.
func WithProvider(p provider.Provider) Option {
	return func(o *appOptions) { o.provider = p }
}

// WithClientOptions passes extra options to channel.New.
func WithClientOptions(opts ...channel.Option) Option {
	return func(o *appOptions) { o.clientOpts = append(o.clientOpts, opts...) }
}

// WithGracefulTimeout bounds shutdown. Defaults to 15s.
func WithGracefulTimeout(d time.Duration) Option {
	return func(o *appOptions) { o.gracefulTimeout = d }
}
