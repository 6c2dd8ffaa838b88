package ems

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric label names.
const (
	labelDevice = "device_id"
	labelKey    = "key"
	labelUnit   = "unit"
	labelType   = "type"
	labelResult = "result"
)

// Metrics holds the bridge's Prometheus instruments.
//
// Counters are updated as telegrams flow. Device values are exported at
// scrape time by the Collect method, so a scrape always sees the latest
// decoded state without a second copy of it.
type Metrics struct {
	telegramsRx      *prometheus.CounterVec
	telegramsUnknown prometheus.Counter
	valuesChanged    *prometheus.CounterVec
	writes           *prometheus.CounterVec

	valueDesc     *prometheus.Desc
	lastSeenDesc  *prometheus.Desc
	connectedDesc *prometheus.Desc
	txDesc        *prometheus.Desc
	echoDesc      *prometheus.Desc

	devices func() []*Device
	gateway Connector
}

// NewMetrics creates the instruments. devices and gateway are read at
// scrape time; either may be nil.
func NewMetrics(devices func() []*Device, gateway Connector) *Metrics {
	return &Metrics{
		telegramsRx: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ems_telegrams_received_total",
			Help: "Telegrams received from the bus, by telegram type.",
		}, []string{labelType}),
		telegramsUnknown: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ems_telegrams_unhandled_total",
			Help: "Telegrams no configured device had a type binding for.",
		}),
		valuesChanged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ems_value_changes_total",
			Help: "Decoded value changes, by device.",
		}, []string{labelDevice}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ems_writes_total",
			Help: "Value write attempts, by device and result.",
		}, []string{labelDevice, labelResult}),

		valueDesc: prometheus.NewDesc(
			"ems_value",
			"Current decoded value of a device field.",
			[]string{labelDevice, labelKey, labelUnit}, nil,
		),
		lastSeenDesc: prometheus.NewDesc(
			"ems_telegram_last_seen_timestamp_seconds",
			"Unix time a telegram type was last dispatched to a device.",
			[]string{labelDevice, labelType}, nil,
		),
		connectedDesc: prometheus.NewDesc(
			"ems_gateway_connected",
			"1 if the bus gateway is connected.",
			nil, nil,
		),
		txDesc: prometheus.NewDesc(
			"ems_telegrams_sent_total",
			"Telegrams written to the bus.",
			nil, nil,
		),
		echoDesc: prometheus.NewDesc(
			"ems_telegrams_echo_total",
			"Own telegrams echoed back by the bus and dropped.",
			nil, nil,
		),

		devices: devices,
		gateway: gateway,
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.telegramsRx.Describe(ch)
	m.telegramsUnknown.Describe(ch)
	m.valuesChanged.Describe(ch)
	m.writes.Describe(ch)
	ch <- m.valueDesc
	ch <- m.lastSeenDesc
	ch <- m.connectedDesc
	ch <- m.txDesc
	ch <- m.echoDesc
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.telegramsRx.Collect(ch)
	m.telegramsUnknown.Collect(ch)
	m.valuesChanged.Collect(ch)
	m.writes.Collect(ch)

	if m.gateway != nil {
		stats := m.gateway.Stats()
		connected := 0.0
		if stats.Connected {
			connected = 1
		}
		ch <- prometheus.MustNewConstMetric(m.connectedDesc, prometheus.GaugeValue, connected)
		ch <- prometheus.MustNewConstMetric(m.txDesc, prometheus.CounterValue, float64(stats.TelegramsTx))
		ch <- prometheus.MustNewConstMetric(m.echoDesc, prometheus.CounterValue, float64(stats.TelegramsEcho))
	}

	if m.devices == nil {
		return
	}
	for _, d := range m.devices() {
		for _, v := range d.Snapshot() {
			if !v.Set {
				continue
			}
			ch <- prometheus.MustNewConstMetric(m.valueDesc, prometheus.GaugeValue, v.Float(),
				d.ID, StateKey(v.Field), v.Field.Unit.String())
		}
		for _, tt := range d.TelegramTypes() {
			if tt.LastSeen.IsZero() {
				continue
			}
			ch <- prometheus.MustNewConstMetric(m.lastSeenDesc, prometheus.GaugeValue,
				float64(tt.LastSeen.Unix()), d.ID, tt.Name)
		}
	}
}

// ObserveTelegram counts one received telegram.
func (m *Metrics) ObserveTelegram(t *Telegram, handled bool) {
	m.telegramsRx.WithLabelValues(typeLabel(t.TypeID)).Inc()
	if !handled {
		m.telegramsUnknown.Inc()
	}
}

// ObserveChanges counts value changes of one device.
func (m *Metrics) ObserveChanges(deviceID string, n int) {
	m.valuesChanged.WithLabelValues(deviceID).Add(float64(n))
}

// ObserveWrite counts one write by its final state.
func (m *Metrics) ObserveWrite(deviceID string, res WriteResult) {
	m.writes.WithLabelValues(deviceID, res.State.String()).Inc()
}

// typeLabel renders a telegram type ID for the type label.
func typeLabel(typeID uint16) string {
	return "0x" + strconv.FormatUint(uint64(typeID), 16)
}
