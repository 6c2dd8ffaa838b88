package main

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-ems/internal/audit"
	"github.com/nerrad567/gray-logic-ems/internal/bridges/ems"
	"github.com/nerrad567/gray-logic-ems/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-ems/internal/infrastructure/mqtt"
)

// writeLogTimeout bounds one write log insert.
const writeLogTimeout = 2 * time.Second

// mqttPubSub is the part of the infrastructure MQTT client the bridge uses.
type mqttPubSub interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the EMS bridge's
// MQTTClient interface. The bridge's handlers return nothing; the client's
// return an error.
type mqttBridgeAdapter struct {
	client mqttPubSub
}

// Publish implements ems.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements ems.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements ems.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// Disconnect implements ems.MQTTClient.
// The service owns the MQTT client and closes it on shutdown.
func (a *mqttBridgeAdapter) Disconnect(_ uint) {}

// auditWriteLog stores the bridge's writes in the audit repository.
type auditWriteLog struct {
	repo   audit.Repository
	logger *logging.Logger
}

// RecordWrite implements ems.WriteLog.
func (a *auditWriteLog) RecordWrite(deviceID, source, key, text string, res ems.WriteResult) {
	e := &audit.Entry{
		DeviceID: deviceID,
		Key:      key,
		Value:    text,
		Source:   source,
		State:    res.State.String(),
	}
	if res.Err != nil {
		e.Error = res.Err.Error()
	}
	if res.OK() {
		e.Telegram = ems.EncodeHexFrame(res.Telegram.Encode())
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeLogTimeout)
	defer cancel()
	if err := a.repo.Create(ctx, e); err != nil {
		a.logger.Error("failed to record write", "device_id", deviceID, "key", key, "error", err)
	}
}
