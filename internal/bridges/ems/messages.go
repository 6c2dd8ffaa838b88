package ems

import (
	"encoding/json"
	"fmt"
	"time"
)

// MQTT message types exchanged between Gray Logic Core and the EMS bridge.

// Protocol is the protocol identifier used in messages and topics.
const Protocol = "ems"

// Command names understood by the bridge.
const (
	// CommandSet writes one value. Parameters: tag (optional), field, value.
	CommandSet = "set"

	// CommandRead fetches the device's actively polled telegram types.
	CommandRead = "read"
)

// CommandMessage is sent from Core to Bridge to change a device value.
// Topic: graylogic/command/ems/{device_id}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acknowledgments.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the bridge device identifier.
	DeviceID string `json:"device_id"`

	// Command is CommandSet or CommandRead.
	Command string `json:"command"`

	// Parameters contains command-specific values, for example
	// {"field": "minT", "value": "23"}.
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated ("api", "automation").
	Source string `json:"source"`
}

// StringParam returns a parameter rendered as text, "" when absent.
func (m CommandMessage) StringParam(key string) string {
	v, ok := m.Parameters[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%g", t)
	case bool:
		if t {
			return "on"
		}
		return "off"
	default:
		return fmt.Sprint(t)
	}
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the telegram was queued for the bus.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// AckMessage is sent from Bridge to Core to acknowledge a command.
// Topic: graylogic/ack/ems/{device_id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`

	// Address is the device's bus address (e.g. "0x15").
	Address string `json:"address"`

	// Telegram is the frame submitted for an accepted set, in hex.
	Telegram string `json:"telegram,omitempty"`

	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeUnknownDevice     = "UNKNOWN_DEVICE"
	ErrCodeReadOnly          = "READ_ONLY"
	ErrCodeBusUnavailable    = "BUS_UNAVAILABLE"
)

// StateMessage is sent from Bridge to Core when device values change.
// Topic: graylogic/state/ems/{device_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`

	// State maps value keys (see StateKey) to their presented values.
	State map[string]any `json:"state"`

	// Units maps the same keys to unit symbols, omitting unitless values.
	Units map[string]string `json:"units,omitempty"`

	Protocol string `json:"protocol"`
	Address  string `json:"address"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge's operational status.
// Topic: graylogic/health/ems
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge         string            `json:"bridge"`
	Timestamp      time.Time         `json:"timestamp"`
	Status         HealthStatus      `json:"status"`
	Version        string            `json:"version"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	Connection     *ConnectionStatus `json:"connection,omitempty"`
	Statistics     *BridgeStatistics `json:"statistics,omitempty"`
	Polling        *PollingStatus    `json:"polling,omitempty"`
	DevicesManaged int               `json:"devices_managed"`
	Reason         string            `json:"reason,omitempty"`
}

// ConnectionStatus describes the gateway connection state.
// Status is "connected", "reconnecting" or "disconnected".
type ConnectionStatus struct {
	Status       string     `json:"status"`
	Address      string     `json:"address,omitempty"`
	Reconnects   uint64     `json:"reconnects"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// BridgeStatistics contains the gateway's bus counters.
type BridgeStatistics struct {
	TelegramsReceived uint64 `json:"telegrams_received"`
	TelegramsSent     uint64 `json:"telegrams_sent"`
	TelegramsEchoed   uint64 `json:"telegrams_echoed"`
	TelegramsDropped  uint64 `json:"telegrams_dropped"`
	Errors            uint64 `json:"errors"`
}

// PollingStatus describes the poller that fetches non-broadcast types.
type PollingStatus struct {
	Active          bool       `json:"active"`
	IntervalSeconds int64      `json:"interval_seconds,omitempty"`
	LastPoll        *time.Time `json:"last_poll,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
}

// HealthSnapshot is the state a HealthMessage is built from.
type HealthSnapshot struct {
	Stats      GatewayStats
	Connection string
	Devices    int
	Polling    PollingStatus
	Started    time.Time
}

// RequestMessage is sent from Core to Bridge for request/response operations.
// Topic: graylogic/request/ems/{request_id}
type RequestMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	// Action is "read_state" (values of DeviceID) or "read_all".
	Action string `json:"action"`

	DeviceID string `json:"device_id,omitempty"`
}

// ResponseMessage answers a RequestMessage.
// Topic: graylogic/response/ems/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *AckError      `json:"error,omitempty"`
}

// DiscoveryMessage announces the configured devices and their values.
// Topic: graylogic/discovery/ems
type DiscoveryMessage struct {
	Timestamp time.Time          `json:"timestamp"`
	Bridge    string             `json:"bridge"`
	Devices   []DiscoveredDevice `json:"devices"`
}

// DiscoveredDevice describes one device in a DiscoveryMessage.
type DiscoveredDevice struct {
	DeviceID string            `json:"device_id"`
	Type     string            `json:"type"`
	Name     string            `json:"name"`
	Address  string            `json:"address"`
	Values   []DiscoveredValue `json:"values"`
}

// DiscoveredValue describes one field of a device.
type DiscoveredValue struct {
	Key      string   `json:"key"`
	Label    string   `json:"label,omitempty"`
	Type     string   `json:"type"`
	Unit     string   `json:"unit,omitempty"`
	Writable bool     `json:"writable"`
	Options  []string `json:"options,omitempty"`
}

// MarshalJSON marshals a CommandMessage with an RFC 3339 timestamp.
func (m *CommandMessage) MarshalJSON() ([]byte, error) {
	type Alias CommandMessage
	return json.Marshal(&struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias:     (*Alias)(m),
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339),
	})
}

// UnmarshalJSON unmarshals a CommandMessage, tolerating a missing timestamp.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// FormatAddress renders a bus address as "0x15".
func FormatAddress(addr byte) string {
	return fmt.Sprintf("0x%02X", addr)
}

// StateKey is the key of a value in state messages: the field name for
// device-level values, "tag.name" otherwise.
func StateKey(f FieldDescriptor) string {
	if f.Tag == TagDevice {
		return f.Name
	}
	return f.Tag.String() + "." + f.Name
}

// NewAckMessage creates an acknowledgment for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus, address string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  Protocol,
		Address:   address,
	}
}

// NewAckError creates a failed acknowledgment with error details.
func NewAckError(cmd CommandMessage, address, code, message string) AckMessage {
	ack := NewAckMessage(cmd, AckFailed, address)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage builds a state message from the given values.
// Values without data are skipped.
func NewStateMessage(d *Device, values []Value) StateMessage {
	msg := StateMessage{
		DeviceID:  d.ID,
		Timestamp: time.Now().UTC(),
		State:     make(map[string]any, len(values)),
		Units:     make(map[string]string),
		Protocol:  Protocol,
		Address:   FormatAddress(d.BusID),
	}
	for _, v := range values {
		if !v.Set {
			continue
		}
		key := StateKey(v.Field)
		msg.State[key] = v.Any()
		if u := v.Field.Unit.String(); u != "" {
			msg.Units[key] = u
		}
	}
	return msg
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(bridgeID, version string, status HealthStatus, snap HealthSnapshot) HealthMessage {
	stats := snap.Stats
	msg := HealthMessage{
		Bridge:         bridgeID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        version,
		UptimeSeconds:  int64(time.Since(snap.Started).Seconds()),
		DevicesManaged: snap.Devices,
	}

	conn := &ConnectionStatus{
		Status:     "disconnected",
		Address:    snap.Connection,
		Reconnects: stats.ReconnectsTotal,
	}
	switch {
	case stats.Reconnecting:
		conn.Status = "reconnecting"
	case stats.Connected:
		conn.Status = "connected"
	}
	if !stats.LastActivity.IsZero() {
		last := stats.LastActivity
		conn.LastActivity = &last
	}
	msg.Connection = conn

	msg.Statistics = &BridgeStatistics{
		TelegramsReceived: stats.TelegramsRx,
		TelegramsSent:     stats.TelegramsTx,
		TelegramsEchoed:   stats.TelegramsEcho,
		TelegramsDropped:  stats.TelegramsDropped,
		Errors:            stats.ErrorsTotal,
	}

	polling := snap.Polling
	msg.Polling = &polling
	return msg
}

// NewDiscoveryMessage describes devices for the discovery topic.
func NewDiscoveryMessage(bridgeID string, devices []*Device) DiscoveryMessage {
	msg := DiscoveryMessage{
		Timestamp: time.Now().UTC(),
		Bridge:    bridgeID,
		Devices:   make([]DiscoveredDevice, 0, len(devices)),
	}
	for _, d := range devices {
		dd := DiscoveredDevice{
			DeviceID: d.ID,
			Type:     d.Type,
			Name:     d.Name,
			Address:  FormatAddress(d.BusID),
		}
		for f := range d.Registry().All() {
			dd.Values = append(dd.Values, DiscoveredValue{
				Key:      StateKey(f),
				Label:    f.Label,
				Type:     f.Type.String(),
				Unit:     f.Unit.String(),
				Writable: f.Writable(),
				Options:  f.Options,
			})
		}
		msg.Devices = append(msg.Devices, dd)
	}
	return msg
}

// Topic helpers

// TopicPrefix is the base topic for all Gray Logic messages.
const TopicPrefix = "graylogic"

// CommandTopic returns the command topic of a device.
// Example: graylogic/command/ems/em100
func CommandTopic(deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, Protocol, deviceID)
}

// AckTopic returns the acknowledgment topic of a device.
func AckTopic(deviceID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, Protocol, deviceID)
}

// StateTopic returns the state topic of a device.
func StateTopic(deviceID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, Protocol, deviceID)
}

// HealthTopic returns the bridge health topic.
func HealthTopic() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}

// RequestTopic returns the topic of one request.
func RequestTopic(requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefix, Protocol, requestID)
}

// ResponseTopic returns the topic answering one request.
func ResponseTopic(requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefix, Protocol, requestID)
}

// DiscoveryTopic returns the device discovery topic.
func DiscoveryTopic() string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefix, Protocol)
}

// CommandSubscribeTopic matches the command topics of all devices.
func CommandSubscribeTopic() string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, Protocol)
}

// RequestSubscribeTopic matches all request topics.
func RequestSubscribeTopic() string {
	return fmt.Sprintf("%s/request/%s/+", TopicPrefix, Protocol)
}

// lastTopicSegment returns the part after the final '/'.
func lastTopicSegment(topic string) string {
	for i := len(topic) - 1; i >= 0; i-- {
		if topic[i] == '/' {
			return topic[i+1:]
		}
	}
	return topic
}
