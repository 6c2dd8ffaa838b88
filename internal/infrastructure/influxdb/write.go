package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	MeasurementValues = "ems_values"
	MeasurementBus    = "ems_bus"
)

// WriteDeviceValue records one numeric device value change.
//
// The point is tagged with the device, the value key ("hc1/setpoint")
// and the unit, so one series exists per field. The telegram timestamp is
// used rather than the write time.
//
// Example:
//
//	client.WriteDeviceValue("em100", "headerTemp", 12.8, "°C", tg.Timestamp)
func (c *Client) WriteDeviceValue(deviceID, key string, value float64, unit string, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"device_id": deviceID,
		"field":     key,
	}
	if unit != "" {
		tags["unit"] = unit
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	c.writeAPI.WritePoint(write.NewPoint(MeasurementValues, tags, map[string]interface{}{"value": value}, ts))
}

// BusCounters is a snapshot of gateway traffic counters.
type BusCounters struct {
	Received uint64
	Sent     uint64
	Echoes   uint64
	Errors   uint64
}

// WriteBusCounters records gateway traffic counters for one gateway.
func (c *Client) WriteBusCounters(gateway string, counters BusCounters, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(MeasurementBus,
		map[string]string{"gateway": gateway},
		map[string]interface{}{
			"received": counters.Received,
			"sent":     counters.Sent,
			"echoes":   counters.Echoes,
			"errors":   counters.Errors,
		},
		ts))
}
