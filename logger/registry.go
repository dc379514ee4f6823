package logger

import (
	"sort"
	"sync"
)

// registry holds component loggers by name. Packages look their logger up
// with Get so an application can configure it before they are built.
var registry = &loggerRegistry{
	loggers: make(map[string]*Logger),
}

type loggerRegistry struct {
	mu      sync.RWMutex
	loggers map[string]*Logger
}

// Register stores a named logger in the registry.
func Register(name string, l *Logger) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.loggers[name] = l
}

// Unregister removes a named logger; later Get calls fall back to the global logger.
func Unregister(name string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	delete(registry.loggers, name)
}

// Get retrieves a named logger. If the name is not registered it returns the
// global logger tagged with the requested component name.
func Get(name string) *Logger {
	registry.mu.RLock()
	l, ok := registry.loggers[name]
	registry.mu.RUnlock()
	if ok {
		return l
	}
	return GetGlobalLogger().WithComponent(name)
}

// Registered returns the registered names in sorted order.
func Registered() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	names := make([]string, 0, len(registry.loggers))
	for name := range registry.loggers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterComponents registers base.WithComponent(name) for every name,
// applying the per-component level from cfg when one is set. It returns
// a function that unregisters them again.
func RegisterComponents(base *Logger, cfg *Config, names ...string) (unregister func()) {
	for _, name := range names {
		l := base.WithComponent(name)
		if cfg != nil {
			if level, ok := cfg.ComponentLevel(name); ok {
				l = l.WithLevel(level)
			}
		}
		Register(name, l)
	}
	return func() {
		for _, name := range names {
			Unregister(name)
		}
	}
}
