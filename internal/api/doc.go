// Package api implements the HTTP REST API, WebSocket stream and metrics
// endpoint of the EMS bridge.
//
// This package provides:
//   - REST endpoints to list devices, read their values and write them
//   - On-demand fetches of a device's polled telegram types
//   - The telegram type statistics kept by the type recorder
//   - A WebSocket hub relaying decoded value changes
//   - Prometheus metrics of the bridge and of the API itself
//
// # Writes
//
// PUT /api/v1/devices/{id}/values/{tag}/{name} answers 202 once the write
// telegram is queued. The device confirms by broadcasting the new value,
// which reaches WebSocket clients on "ems.values" and "ems.values/{id}".
// Every write, from the API or from MQTT, lands in the write log served
// by GET /api/v1/writes.
//
// # Lifecycle
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
