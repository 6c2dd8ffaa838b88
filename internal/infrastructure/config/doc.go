// Package config loads and validates the EMS bridge service configuration.
//
// The file describes the service surroundings: database, MQTT broker,
// HTTP API, InfluxDB and logging. The bus itself (gateway connection,
// devices, polling) is configured in the bridge file named by
// protocols.ems.config_file and loaded by the ems package.
//
// Sensitive values (MQTT password, InfluxDB token) should come from
// GRAYLOGIC_* environment variables rather than the file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
package config
