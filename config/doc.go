// Package config loads pvkit application configuration.
//
// It uses Viper to read a YAML file, godotenv to load a .env file into the
// process environment, and PVKIT_-prefixed environment variables to
// override individual keys (PVKIT_CHANNEL_GET_POLICY=cached sets
// channel.get_policy).
//
// # Usage
//
//	cfg, err := config.Load("beamline-monitor")
//	if err != nil { ... }
//	logger.Init(cfg.Logging)
//	client, err := channel.NewFromRegistry(cfg.Channel, registry)
package config
