package ems

import (
	"sync"
	"time"
)

// DeviceInfo identifies a device on the bus.
type DeviceInfo struct {
	// ID is the bridge-wide identifier, used in MQTT topics and the API.
	ID string

	// Type is the factory profile name (e.g. "extension").
	Type string

	// BusID is the device's EMS bus address.
	BusID byte

	// ProductID and Version are reported by the device itself.
	ProductID byte
	Version   string

	Name  string
	Brand string
}

// Value is a point-in-time copy of one field and its cell.
type Value struct {
	Field   FieldDescriptor
	Raw     int64
	Set     bool
	Updated time.Time
}

// Float returns the value with its scale applied.
func (v Value) Float() float64 {
	return v.Field.Op.Apply(v.Raw)
}

// String renders the value for display, "" when no data has arrived.
func (v Value) String() string {
	if !v.Set {
		return ""
	}
	return FormatValue(v.Raw, v.Field.Type, v.Field.Op, v.Field.Options)
}

// Any returns the value in the JSON-friendly form used in state messages:
// bool for booleans, the option label for enums, int64 for unscaled
// numbers and float64 otherwise. It returns nil when no data has arrived.
func (v Value) Any() any {
	if !v.Set {
		return nil
	}
	switch v.Field.Type {
	case TypeBool:
		return v.Raw != 0
	case TypeEnum:
		return v.String()
	}
	if v.Field.Op == OpNone {
		return v.Raw
	}
	return v.Float()
}

// Device is one bus participant: its identity, its field registry, the
// cells holding the decoded values and the telegram type bindings.
//
// Fields and types are registered while the device is constructed, before
// the first Dispatch. Dispatch must be called from a single goroutine;
// Value, Lookup and Snapshot are safe from any goroutine.
type Device struct {
	DeviceInfo

	registry   *Registry
	dispatcher *Dispatcher
	logger     Logger

	mu      sync.RWMutex
	cells   []Cell
	changed []FieldID
	// updated lists the cells HasUpdate changed during the running
	// dispatch, whatever the decoder returns.
	updated []FieldID
}

// NewDevice creates a device with an empty registry.
func NewDevice(info DeviceInfo, logger Logger) *Device {
	logger = loggerOrNop(logger)
	return &Device{
		DeviceInfo: info,
		registry:   NewRegistry(logger),
		dispatcher: NewDispatcher(logger),
		logger:     logger,
	}
}

// RegisterValue adds a field and allocates its cell.
// Refused registrations leave the device unchanged; see Registry.Register.
func (d *Device) RegisterValue(desc FieldDescriptor) (FieldID, error) {
	id, err := d.registry.Register(desc)
	if err != nil {
		return id, err
	}
	d.mu.Lock()
	d.cells = append(d.cells, Cell{})
	d.mu.Unlock()
	return id, nil
}

// RegisterTelegramType binds a telegram type; see Dispatcher.RegisterTelegramType.
func (d *Device) RegisterTelegramType(typeID uint16, name string, needsFetch bool, decoder Decoder) error {
	return d.dispatcher.RegisterTelegramType(typeID, name, needsFetch, decoder)
}

// Registry returns the device's field registry.
func (d *Device) Registry() *Registry {
	return d.registry
}

// Dispatcher returns the device's telegram type bindings.
func (d *Device) Dispatcher() *Dispatcher {
	return d.dispatcher
}

// Dispatch decodes t with the decoder bound to its type.
//
// The returned slice lists the fields whose raw value changed, in decode
// order. It is reused by the next call and must be copied to be kept.
//
// Returns:
//   - handled: false when the type is not bound on this device
//   - changed: Fields updated by this telegram
func (d *Device) Dispatch(t *Telegram) (handled bool, changed []FieldID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.updated = d.updated[:0]
	handled, d.changed = d.dispatcher.dispatch(d, t, d.changed[:0])
	return handled, d.changed
}

// HasUpdate decodes one field from t into its cell. It may only be called
// by a Decoder while Dispatch is running.
func (d *Device) HasUpdate(t *Telegram, id FieldID) bool {
	f, ok := d.registry.Field(id)
	if !ok {
		return false
	}
	if !HasUpdate(t, &d.cells[id], f) {
		return false
	}
	d.updated = append(d.updated, id)
	return true
}

// Value returns a copy of one field and its cell.
func (d *Device) Value(id FieldID) (Value, bool) {
	f, ok := d.registry.Field(id)
	if !ok {
		return Value{}, false
	}
	d.mu.RLock()
	c := d.cells[id]
	d.mu.RUnlock()
	return Value{Field: f, Raw: c.Raw, Set: c.Set, Updated: c.Updated}, true
}

// Lookup returns the value of the field identified by tag and name.
func (d *Device) Lookup(tag Tag, name string) (Value, bool) {
	f, ok := d.registry.Lookup(tag, name)
	if !ok {
		return Value{}, false
	}
	return d.Value(f.ID)
}

// Snapshot copies every value in registration order under one read lock,
// so the result is consistent with a single point between telegrams.
func (d *Device) Snapshot() []Value {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Value, 0, d.registry.Len())
	for f := range d.registry.All() {
		c := d.cells[f.ID]
		out = append(out, Value{Field: f, Raw: c.Raw, Set: c.Set, Updated: c.Updated})
	}
	return out
}

// FetchTypes returns the types the device has to be polled for.
func (d *Device) FetchTypes() []uint16 {
	return d.dispatcher.FetchTypes()
}

// TelegramTypes returns the device's type bindings with their counters.
func (d *Device) TelegramTypes() []TelegramType {
	return d.dispatcher.Types()
}
