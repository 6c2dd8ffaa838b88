package ems

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Bridge operation constants.
const (
	// minTopicParts is the minimum number of parts in a valid MQTT topic.
	minTopicParts = 3

	// interFetchDelay spaces read requests so the poller does not flood
	// the transmit queue.
	interFetchDelay = 50 * time.Millisecond
)

// Bridge connects the bus to MQTT.
//
// It decodes incoming telegrams into device values and publishes the
// changes, turns command messages into write telegrams, polls telegram
// types that devices only send on request and reports its own health.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg      *Config
	mqtt     MQTTClient
	gateway  Connector
	factory  *Factory
	router   *Router
	writer   *CommandWriter
	health   *HealthReporter
	metrics  *Metrics
	recorder TelegramRecorder
	history  HistoryWriter
	writeLog WriteLog
	logger   Logger

	listeners   []func(ValueChange)
	listenersMu sync.RWMutex

	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc
}

// MQTTClient is the interface for MQTT operations.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	IsConnected() bool
	Disconnect(quiesce uint)
}

// TelegramRecorder records telegram types seen on the bus. Optional.
type TelegramRecorder interface {
	RecordTelegram(t *Telegram, handled bool)
}

// HistoryWriter stores value changes as time series. Optional.
type HistoryWriter interface {
	WriteDeviceValue(deviceID, key string, value float64, unit string, ts time.Time)
}

// WriteLog records requested value writes. Optional.
// RecordWrite runs on the caller's goroutine and should not block for long.
type WriteLog interface {
	RecordWrite(deviceID, source, key, text string, res WriteResult)
}

// Write sources passed to WriteLog.
const (
	WriteSourceAPI  = "api"
	WriteSourceMQTT = "mqtt"
)

// ValueChange lists the values of one device changed by one telegram.
type ValueChange struct {
	DeviceID  string
	Values    []Value
	Timestamp time.Time
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Config is the loaded bridge configuration.
	Config *Config

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Gateway is the bus connection.
	Gateway Connector

	// Factory builds devices from their profile names.
	// Default: DefaultFactory(). It is frozen by NewBridge.
	Factory *Factory

	// Recorder is the optional telegram type recorder.
	Recorder TelegramRecorder

	// History is the optional time-series writer.
	History HistoryWriter

	// WriteLog optionally records every requested write.
	WriteLog WriteLog

	// Version is reported in health messages.
	Version string

	// Logger is optional structured logger.
	Logger Logger
}

// NewBridge creates a bridge and builds its configured devices.
// Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}

	factory := opts.Factory
	if factory == nil {
		factory = DefaultFactory()
	}
	factory.Freeze()

	logger := loggerOrNop(opts.Logger)
	router := NewRouter(logger)
	for _, info := range opts.Config.DeviceInfos() {
		d, err := factory.Build(info, logger)
		if err != nil {
			return nil, fmt.Errorf("building device %s: %w", info.ID, err)
		}
		if err := router.Add(d); err != nil {
			return nil, err
		}
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:       opts.Config,
		mqtt:      opts.MQTTClient,
		gateway:   opts.Gateway,
		factory:   factory,
		router:    router,
		recorder:  opts.Recorder,
		history:   opts.History,
		writeLog:  opts.WriteLog,
		logger:    logger,
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
	}

	gwCfg := opts.Config.ToGatewayConfig()
	b.writer = NewCommandWriter(opts.Gateway,
		WithSource(gwCfg.Address),
		WithFahrenheit(opts.Config.Bridge.Fahrenheit),
		WithWriterLogger(logger),
	)
	b.metrics = NewMetrics(router.Devices, opts.Gateway)

	version := opts.Version
	if version == "" {
		version = "dev"
	}
	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:     opts.Config.Bridge.ID,
		Version:      version,
		Interval:     opts.Config.GetHealthInterval(),
		Connection:   opts.Config.Gateway.Connection,
		PollInterval: opts.Config.GetPollInterval(),
		Publisher:    opts.MQTTClient,
		Gateway:      opts.Gateway,
	})
	b.health.SetDeviceCount(len(router.Devices()))
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to commands, hooks the gateway and starts health
// reporting and polling.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	b.gateway.SetOnTelegram(b.handleTelegram)

	commandTopic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logger.Info("subscribed to commands", "topic", commandTopic)

	requestTopic := RequestSubscribeTopic()
	if err := b.mqtt.Subscribe(requestTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logger.Info("subscribed to requests", "topic", requestTopic)

	b.publishDiscovery()
	b.health.Start(ctx)

	if interval := b.cfg.GetPollInterval(); interval > 0 {
		b.wg.Add(1)
		go b.pollLoop(interval)
	}

	b.logger.Info("bridge started",
		"bridge_id", b.cfg.Bridge.ID,
		"devices", len(b.router.Devices()))
	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()
		b.health.Stop()
		b.wg.Wait()
		b.logger.Info("bridge stopped")
	})
}

// Devices returns the bridge's devices in configuration order.
func (b *Bridge) Devices() []*Device {
	return b.router.Devices()
}

// Device returns one device by ID.
func (b *Bridge) Device(id string) (*Device, bool) {
	return b.router.Device(id)
}

// Profiles returns the device profiles the bridge can build.
func (b *Bridge) Profiles() []Profile {
	return b.factory.Profiles()
}

// Metrics returns the bridge's Prometheus collector.
func (b *Bridge) Metrics() *Metrics {
	return b.metrics
}

// GatewayStats returns the bus connection statistics.
func (b *Bridge) GatewayStats() GatewayStats {
	return b.gateway.Stats()
}

// OnValueChange registers fn to be called after every decoded change.
// fn runs on the receive path and must not block.
func (b *Bridge) OnValueChange(fn func(ValueChange)) {
	b.listenersMu.Lock()
	b.listeners = append(b.listeners, fn)
	b.listenersMu.Unlock()
}

// SetValue writes one value of a device.
//
// Parameters:
//   - deviceID: Bridge device identifier
//   - tag: Value group (TagDevice for device-level values)
//   - name: Field name within the tag
//   - text: Requested value as text ("23", "on", an option label)
//
// Returns:
//   - WriteResult: Final writer state; Err explains a rejection
//   - error: ErrDeviceNotFound if the device is unknown
func (b *Bridge) SetValue(deviceID string, tag Tag, name, text string) (WriteResult, error) {
	return b.setValue(WriteSourceAPI, deviceID, tag, name, text)
}

func (b *Bridge) setValue(source, deviceID string, tag Tag, name, text string) (WriteResult, error) {
	d, ok := b.router.Device(deviceID)
	if !ok {
		return WriteResult{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	res := b.writer.Write(d, tag, name, text)
	b.metrics.ObserveWrite(deviceID, res)
	if b.writeLog != nil {
		b.writeLog.RecordWrite(deviceID, source, tag.String()+"/"+name, text, res)
	}
	return res, nil
}

// Fetch requests every actively polled telegram type of one device.
func (b *Bridge) Fetch(deviceID string) (int, error) {
	d, ok := b.router.Device(deviceID)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	return b.fetchDevice(b.ctx, d)
}

// handleTelegram processes one telegram from the gateway.
// The gateway calls it from a single worker goroutine.
func (b *Bridge) handleTelegram(t Telegram) {
	if t.IsRead {
		return
	}

	handled := b.router.Route(&t, b.onValuesChanged)
	b.metrics.ObserveTelegram(&t, handled)
	if b.recorder != nil {
		b.recorder.RecordTelegram(&t, handled)
	}
}

// onValuesChanged publishes the state of d after a decode changed values.
func (b *Bridge) onValuesChanged(d *Device, changed []FieldID) {
	b.metrics.ObserveChanges(d.ID, len(changed))

	values := make([]Value, 0, len(changed))
	for _, id := range changed {
		if v, ok := d.Value(id); ok {
			values = append(values, v)
		}
	}

	msg := NewStateMessage(d, d.Snapshot())
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal state", err)
	} else if err := b.mqtt.Publish(StateTopic(d.ID), payload, 1, true); err != nil {
		b.logError("failed to publish state", err)
	}

	if b.history != nil {
		for _, v := range values {
			if v.Field.Type == TypeEnum {
				continue
			}
			b.history.WriteDeviceValue(d.ID, StateKey(v.Field), v.Float(), v.Field.Unit.String(), v.Updated)
		}
	}

	b.listenersMu.RLock()
	listeners := b.listeners
	b.listenersMu.RUnlock()
	if len(listeners) == 0 {
		return
	}
	change := ValueChange{DeviceID: d.ID, Values: values, Timestamp: time.Now().UTC()}
	for _, fn := range listeners {
		fn(change)
	}
}

// handleMQTTMessage routes incoming MQTT messages to appropriate handlers.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		b.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}

	switch parts[1] {
	case "command":
		b.handleCommand(lastTopicSegment(topic), payload)
	case "request":
		b.handleRequest(lastTopicSegment(topic), payload)
	default:
		b.logError("unknown message type", fmt.Errorf("type: %s", parts[1]))
	}
}

// handleCommand processes a command message from Core.
func (b *Bridge) handleCommand(topicDeviceID string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = topicDeviceID
	}

	b.logger.Info("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command)

	d, ok := b.router.Device(cmd.DeviceID)
	if !ok {
		b.publishAckError(cmd, "", ErrCodeUnknownDevice,
			fmt.Sprintf("device %s not configured", cmd.DeviceID))
		return
	}
	address := FormatAddress(d.BusID)

	switch cmd.Command {
	case CommandSet:
		b.executeSet(cmd, address)
	case CommandRead:
		if _, err := b.fetchDevice(b.ctx, d); err != nil {
			b.publishAckError(cmd, address, ErrCodeBusUnavailable, err.Error())
			return
		}
		b.publishAck(NewAckMessage(cmd, AckAccepted, address))
	default:
		b.publishAckError(cmd, address, ErrCodeInvalidCommand,
			fmt.Sprintf("unknown command: %s", cmd.Command))
	}
}

// executeSet runs a set command through the command writer.
func (b *Bridge) executeSet(cmd CommandMessage, address string) {
	tag, err := ParseTag(cmd.StringParam("tag"))
	if err != nil {
		b.publishAckError(cmd, address, ErrCodeInvalidParameters, err.Error())
		return
	}
	field := cmd.StringParam("field")
	value := cmd.StringParam("value")
	if field == "" || value == "" {
		b.publishAckError(cmd, address, ErrCodeInvalidParameters,
			"'field' and 'value' parameters are required")
		return
	}

	res, err := b.setValue(WriteSourceMQTT, cmd.DeviceID, tag, field, value)
	if err != nil {
		b.publishAckError(cmd, address, ErrCodeUnknownDevice, err.Error())
		return
	}
	if !res.OK() {
		b.publishAckError(cmd, address, ackCodeFor(res.Err), res.Err.Error())
		return
	}

	ack := NewAckMessage(cmd, AckAccepted, address)
	ack.Telegram = EncodeHexFrame(res.Telegram.Encode())
	b.publishAck(ack)
}

// ackCodeFor maps a writer rejection to an ack error code.
func ackCodeFor(err error) string {
	switch {
	case errors.Is(err, ErrReadOnly):
		return ErrCodeReadOnly
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrQueueFull):
		return ErrCodeBusUnavailable
	default:
		return ErrCodeInvalidParameters
	}
}

func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(AckTopic(ack.DeviceID), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

func (b *Bridge) publishAckError(cmd CommandMessage, address, code, message string) {
	b.publishAck(NewAckError(cmd, address, code, message))
	b.logger.Warn("command failed",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"code", code,
		"message", message)
}

// handleRequest processes a request message from Core.
func (b *Bridge) handleRequest(topicRequestID string, payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logError("failed to parse request", err)
		return
	}
	if req.RequestID == "" {
		req.RequestID = topicRequestID
	}

	b.logger.Info("received request",
		"request_id", req.RequestID,
		"action", req.Action)

	var resp ResponseMessage
	switch req.Action {
	case "read_state":
		resp = b.handleReadState(req)
	case "read_all":
		resp = b.handleReadAll(req)
	case "list_types":
		resp = b.handleListTypes(req)
	default:
		resp = failedResponse(req, ErrCodeInvalidCommand, fmt.Sprintf("unknown action: %s", req.Action))
	}

	respPayload, err := json.Marshal(resp)
	if err != nil {
		b.logError("failed to marshal response", err)
		return
	}
	if err := b.mqtt.Publish(ResponseTopic(req.RequestID), respPayload, 1, false); err != nil {
		b.logError("failed to publish response", err)
	}
}

// handleReadState answers with the cached values of one device.
func (b *Bridge) handleReadState(req RequestMessage) ResponseMessage {
	if req.DeviceID == "" {
		return failedResponse(req, ErrCodeInvalidParameters, "device_id is required")
	}
	d, ok := b.router.Device(req.DeviceID)
	if !ok {
		return failedResponse(req, ErrCodeUnknownDevice, fmt.Sprintf("device %s not configured", req.DeviceID))
	}

	state := NewStateMessage(d, d.Snapshot())
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data: map[string]any{
			"state": state.State,
			"units": state.Units,
		},
	}
}

// handleReadAll requests every polled type of every device.
func (b *Bridge) handleReadAll(req RequestMessage) ResponseMessage {
	sent, err := b.fetchAll(b.ctx)
	if err != nil {
		return failedResponse(req, ErrCodeBusUnavailable, err.Error())
	}
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data: map[string]any{
			"reads_sent": sent,
			"message":    "read requests sent, state updates will follow",
		},
	}
}

// handleListTypes reports the telegram type bindings of one device.
func (b *Bridge) handleListTypes(req RequestMessage) ResponseMessage {
	d, ok := b.router.Device(req.DeviceID)
	if !ok {
		return failedResponse(req, ErrCodeUnknownDevice, fmt.Sprintf("device %s not configured", req.DeviceID))
	}

	types := make([]map[string]any, 0)
	for _, tt := range d.TelegramTypes() {
		entry := map[string]any{
			"type_id":     typeLabel(tt.ID),
			"name":        tt.Name,
			"needs_fetch": tt.NeedsFetch,
			"received":    tt.Received,
		}
		if !tt.LastSeen.IsZero() {
			entry["last_seen"] = tt.LastSeen.UTC()
		}
		types = append(types, entry)
	}
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      map[string]any{"types": types},
	}
}

func failedResponse(req RequestMessage, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error:     &AckError{Code: code, Message: message},
	}
}

// publishDiscovery publishes the retained device description.
func (b *Bridge) publishDiscovery() {
	msg := NewDiscoveryMessage(b.cfg.Bridge.ID, b.router.Devices())
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal discovery", err)
		return
	}
	if err := b.mqtt.Publish(DiscoveryTopic(), payload, 1, true); err != nil {
		b.logError("failed to publish discovery", err)
	}
}

// pollLoop fetches all devices once at start and then every interval.
func (b *Bridge) pollLoop(interval time.Duration) {
	defer b.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_, err := b.fetchAll(b.ctx)
		if errors.Is(err, context.Canceled) {
			return
		}
		if err != nil {
			b.logger.Debug("poll incomplete", "error", err)
		}
		b.health.RecordPoll(time.Now(), err)
		select {
		case <-b.done:
			return
		case <-ticker.C:
		}
	}
}

// fetchAll fetches every device and returns the number of reads sent.
func (b *Bridge) fetchAll(ctx context.Context) (int, error) {
	total := 0
	var errs []error
	for _, d := range b.router.Devices() {
		n, err := b.fetchDevice(ctx, d)
		total += n
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return total, err
			}
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// fetchDevice submits a read request for each type d needs fetched.
func (b *Bridge) fetchDevice(ctx context.Context, d *Device) (int, error) {
	src := b.cfg.ToGatewayConfig().Address
	sent := 0
	for i, typeID := range d.FetchTypes() {
		if i > 0 {
			select {
			case <-ctx.Done():
				return sent, ctx.Err()
			case <-time.After(interFetchDelay):
			}
		}
		t := NewReadTelegram(src, d.BusID, typeID, 0, DefaultReadLength)
		if err := b.gateway.Submit(t); err != nil {
			return sent, fmt.Errorf("fetch %s type 0x%X: %w", d.ID, typeID, err)
		}
		sent++
	}
	return sent, nil
}

func (b *Bridge) logError(msg string, err error) {
	b.logger.Error(msg, "error", err)
}
