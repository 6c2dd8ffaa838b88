// Package logging provides structured logging for the EMS bridge service.
//
// It wraps log/slog with the service defaults: JSON or text output,
// level filtering and the service and version fields on every entry.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr or a file path
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	emsLog := logger.Component("ems")
//	emsLog.Info("telegram received", "type", "0x18")
//
// Never log MQTT or InfluxDB credentials.
package logging
