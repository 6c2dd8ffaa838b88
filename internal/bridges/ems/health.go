package ems

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

const (
	// defaultHealthInterval is used when HealthReporterConfig.Interval is zero.
	defaultHealthInterval = 30 * time.Second

	// defaultBusSilence is used when HealthReporterConfig.BusSilence is zero.
	// A boiler broadcasts its monitor telegrams every few seconds, so a bus
	// that stays quiet this long has lost its gateway or its devices.
	defaultBusSilence = 2 * time.Minute
)

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	// Publish sends a message to a topic with the given QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	BridgeID string
	Version  string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// BusSilence is how long the gateway may go without receiving a
	// telegram before the bridge reports itself degraded.
	// Default: 2 minutes.
	BusSilence time.Duration

	// Connection is the gateway URL shown in health messages.
	Connection string

	// PollInterval is the fetch interval of the poller. Zero means the
	// bridge does not poll and relies on broadcasts alone.
	PollInterval time.Duration

	Publisher HealthPublisher

	// Gateway provides the bus connection state and counters.
	Gateway Connector
}

// HealthReporter publishes the bridge status to MQTT at regular intervals.
//
// The status combines the MQTT connection, the gateway connection and bus
// traffic: a connected gateway that has not received a telegram for
// BusSilence is reported as degraded.
type HealthReporter struct {
	cfg       HealthReporterConfig
	startTime time.Time

	mu       sync.Mutex
	devices  int
	lastPoll time.Time
	pollErr  string
	logger   Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHealthReporter creates a new health reporter. Call Start to begin
// reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}
	if cfg.BusSilence <= 0 {
		cfg.BusSilence = defaultBusSilence
	}
	return &HealthReporter{
		cfg:       cfg,
		startTime: time.Now(),
		logger:    nopLogger{},
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting until ctx is cancelled or Stop
// is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop stops reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publish(HealthStopping, "bridge stopping")
	})
}

// SetDeviceCount updates the managed device count.
func (h *HealthReporter) SetDeviceCount(count int) {
	h.mu.Lock()
	h.devices = count
	h.mu.Unlock()
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.mu.Lock()
	h.logger = loggerOrNop(logger)
	h.mu.Unlock()
}

// RecordPoll notes the end of one poll round. err is the round's combined
// fetch error, or nil when every read request was queued.
func (h *HealthReporter) RecordPoll(at time.Time, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastPoll = at
	h.pollErr = ""
	if err != nil {
		h.pollErr = err.Error()
	}
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "bridge starting")
}

// PublishNow assesses and publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	snap := h.Snapshot()
	mqttUp := h.cfg.Publisher != nil && h.cfg.Publisher.IsConnected()
	status, reason := assessHealth(mqttUp, snap, time.Now(), h.cfg.BusSilence)
	return h.publishSnapshot(status, reason, snap)
}

// Snapshot collects the state a health message is built from.
func (h *HealthReporter) Snapshot() HealthSnapshot {
	snap := HealthSnapshot{
		Connection: h.cfg.Connection,
		Started:    h.startTime,
		Polling: PollingStatus{
			Active:          h.cfg.PollInterval > 0,
			IntervalSeconds: int64(h.cfg.PollInterval.Seconds()),
		},
	}
	if h.cfg.Gateway != nil {
		snap.Stats = h.cfg.Gateway.Stats()
	}

	h.mu.Lock()
	snap.Devices = h.devices
	if !h.lastPoll.IsZero() {
		last := h.lastPoll
		snap.Polling.LastPoll = &last
	}
	snap.Polling.LastError = h.pollErr
	h.mu.Unlock()

	return snap
}

// assessHealth derives the bridge status from a snapshot.
//
// Parameters:
//   - mqttUp: Whether health messages can reach the broker
//   - snap: Gateway state and counters
//   - now: Assessment time
//   - silence: Longest tolerated gap in bus traffic
//
// Returns:
//   - HealthStatus: healthy or degraded
//   - string: Reason for a degraded status, empty when healthy
func assessHealth(mqttUp bool, snap HealthSnapshot, now time.Time, silence time.Duration) (HealthStatus, string) {
	switch {
	case !mqttUp:
		return HealthDegraded, "MQTT disconnected"
	case snap.Stats.Reconnecting:
		return HealthDegraded, "gateway reconnecting"
	case !snap.Stats.Connected:
		return HealthDegraded, "gateway disconnected"
	}

	// Until the first telegram arrives the gap is measured from start-up.
	last := snap.Stats.LastActivity
	if last.IsZero() {
		last = snap.Started
	}
	if gap := now.Sub(last); gap > silence {
		return HealthDegraded, fmt.Sprintf("no bus traffic for %s", gap.Truncate(time.Second))
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	return h.publishSnapshot(status, reason, h.Snapshot())
}

func (h *HealthReporter) publishSnapshot(status HealthStatus, reason string, snap HealthSnapshot) error {
	if h.cfg.Publisher == nil {
		return nil
	}

	msg := NewHealthMessage(h.cfg.BridgeID, h.cfg.Version, status, snap)
	msg.Reason = reason

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.cfg.Publisher.Publish(HealthTopic(), payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.mu.Lock()
	logger := h.logger
	h.mu.Unlock()
	logger.Error(msg, "error", err)
}
