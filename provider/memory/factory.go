package memory

import (
	"fmt"
	"time"

	apperrors "github.com/kbukum/pvkit/errors"
	"github.com/kbukum/pvkit/provider"
)

// Factory builds a Provider from a configuration map, for use with
// provider.Registry. Recognised keys:
//
//	name           string
//	connect_delay  duration string or time.Duration
//	latency        duration string or time.Duration
//	channels       map of channel name to initial value
func Factory(cfg map[string]any) (provider.Provider, error) {
	var opts []Option

	if v, ok := cfg["name"]; ok {
		name, ok := v.(string)
		if !ok || name == "" {
			return nil, apperrors.InvalidConfig("memory: name must be a non-empty string")
		}
		opts = append(opts, WithName(name))
	}
	if v, ok := cfg["connect_delay"]; ok {
		d, err := toDuration(v)
		if err != nil {
			return nil, apperrors.InvalidConfig("memory: connect_delay").WithCause(err)
		}
		opts = append(opts, WithConnectDelay(d))
	}
	if v, ok := cfg["latency"]; ok {
		d, err := toDuration(v)
		if err != nil {
			return nil, apperrors.InvalidConfig("memory: latency").WithCause(err)
		}
		opts = append(opts, WithLatency(d))
	}
	if v, ok := cfg["channels"]; ok {
		channels, ok := v.(map[string]any)
		if !ok {
			return nil, apperrors.InvalidConfig("memory: channels must be a map")
		}
		for name, initial := range channels {
			opts = append(opts, WithChannel(name, initial))
		}
	}

	return New(opts...), nil
}

func toDuration(v any) (time.Duration, error) {
	switch d := v.(type) {
	case time.Duration:
		return d, nil
	case string:
		return time.ParseDuration(d)
	default:
		return 0, fmt.Errorf("unsupported duration type %T", v)
	}
}
