// Package logger provides structured logging for pvkit using zerolog.
//
// Loggers are component-scoped: the channel client logs under "channel",
// the in-memory provider under "provider.memory", and so on. Fields are
// passed as maps so call sites stay terse:
//
//	log := logger.Get("channel")
//	log.Debug("connected", logger.Fields(logger.FieldChannel, name))
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
package logger
