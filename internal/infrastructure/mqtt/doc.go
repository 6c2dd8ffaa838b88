// Package mqtt provides the MQTT client used by the EMS bridge service.
//
// The bridge publishes device state, acks, health and discovery to the
// broker and receives commands and requests from it. This package owns
// the connection: auto-reconnect, subscription restore, and the retained
// service status with its Last Will.
//
//	EMS bus ↔ emsbridge ↔ MQTT broker ↔ Gray Logic Core, dashboards
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe("graylogic/command/ems/+", 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
//
// Use TLS (broker.tls) outside a trusted LAN; payloads are not encrypted
// beyond the transport.
package mqtt
