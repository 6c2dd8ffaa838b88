// Package influxdb stores EMS value history in InfluxDB v2.
//
// Every numeric value change decoded from the bus becomes a point in the
// ems_values measurement, tagged by device, field key and unit. Gateway
// traffic counters go to ems_bus. Writes are batched and non-blocking.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteDeviceValue("boiler", "flowTemp", 54.3, "°C", time.Now())
package influxdb
