package ems

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Decoder turns a telegram into field updates for one device.
//
// Decode appends the IDs of changed fields to changed and returns the
// result. It runs with the device's write lock held and must only touch
// cells through Device.HasUpdate.
type Decoder interface {
	Decode(d *Device, t *Telegram, changed []FieldID) []FieldID
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(d *Device, t *Telegram, changed []FieldID) []FieldID

// Decode calls f.
func (f DecoderFunc) Decode(d *Device, t *Telegram, changed []FieldID) []FieldID {
	return f(d, t, changed)
}

// FieldTable decodes every field registered for the telegram's type at its
// registered offset. It is the decoder used by table-driven profiles.
type FieldTable struct{}

// Decode implements Decoder.
func (FieldTable) Decode(d *Device, t *Telegram, changed []FieldID) []FieldID {
	for _, id := range d.registry.ForType(t.TypeID) {
		if d.HasUpdate(t, id) {
			changed = append(changed, id)
		}
	}
	return changed
}

// TelegramType is the binding of a type ID to its decoder.
type TelegramType struct {
	ID         uint16
	Name       string
	NeedsFetch bool
	Decoder    Decoder

	// Received counts dispatched telegrams of this type.
	Received uint64
	// LastSeen is the time of the most recent dispatch.
	LastSeen time.Time
}

// Dispatcher holds the telegram type bindings of one device.
type Dispatcher struct {
	mu     sync.RWMutex
	types  map[uint16]*TelegramType
	order  []uint16
	logger Logger
}

// NewDispatcher creates an empty dispatcher. A nil logger discards messages.
func NewDispatcher(logger Logger) *Dispatcher {
	return &Dispatcher{
		types:  make(map[uint16]*TelegramType),
		logger: loggerOrNop(logger),
	}
}

// RegisterTelegramType binds a type ID to a decoder.
//
// Parameters:
//   - typeID: Telegram type
//   - name: Descriptive name used in logs (e.g. "EM100TempMessage")
//   - needsFetch: Whether the type must be requested with a read telegram
//     because the device does not broadcast it
//   - decoder: Decoder for the type; nil selects FieldTable
//
// Returns:
//   - error: ErrDuplicateType if the type is already bound
func (p *Dispatcher) RegisterTelegramType(typeID uint16, name string, needsFetch bool, decoder Decoder) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.types[typeID]; ok {
		err := fmt.Errorf("%w: 0x%X", ErrDuplicateType, typeID)
		p.logger.Warn("telegram type registration refused", "type_id", fmt.Sprintf("0x%X", typeID), "name", name, "error", err)
		return err
	}
	if decoder == nil {
		decoder = FieldTable{}
	}
	p.types[typeID] = &TelegramType{
		ID:         typeID,
		Name:       name,
		NeedsFetch: needsFetch,
		Decoder:    decoder,
	}
	p.order = append(p.order, typeID)
	return nil
}

// Lookup returns a copy of the binding for typeID.
func (p *Dispatcher) Lookup(typeID uint16) (TelegramType, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	tt, ok := p.types[typeID]
	if !ok {
		return TelegramType{}, false
	}
	return *tt, true
}

// TypeName returns the registered name of a type, or its hex ID.
func (p *Dispatcher) TypeName(typeID uint16) string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if tt, ok := p.types[typeID]; ok {
		return tt.Name
	}
	return fmt.Sprintf("0x%X", typeID)
}

// FetchTypes returns the types that must be actively requested, in
// registration order.
func (p *Dispatcher) FetchTypes() []uint16 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var ids []uint16
	for _, id := range p.order {
		if p.types[id].NeedsFetch {
			ids = append(ids, id)
		}
	}
	return ids
}

// Types returns copies of all bindings sorted by type ID.
func (p *Dispatcher) Types() []TelegramType {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]TelegramType, 0, len(p.types))
	for _, tt := range p.types {
		out = append(out, *tt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// dispatch runs the decoder bound to t.TypeID. Unknown types are ignored.
// A panicking decoder is logged; the cells it changed before the panic
// are still reported.
func (p *Dispatcher) dispatch(d *Device, t *Telegram, changed []FieldID) (handled bool, out []FieldID) {
	p.mu.Lock()
	tt, ok := p.types[t.TypeID]
	var decoder Decoder
	var name string
	if ok {
		tt.Received++
		tt.LastSeen = t.Timestamp
		decoder, name = tt.Decoder, tt.Name
	}
	p.mu.Unlock()

	if !ok {
		p.logger.Debug("ignoring unknown telegram type",
			"device_id", d.ID,
			"type_id", fmt.Sprintf("0x%X", t.TypeID),
		)
		return false, changed
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("telegram decoder panicked",
				"device_id", d.ID,
				"type", name,
				"panic", r,
				"changed", len(d.updated),
			)
			handled, out = true, append(changed[:0], d.updated...)
		}
	}()

	return true, decoder.Decode(d, t, changed)
}
