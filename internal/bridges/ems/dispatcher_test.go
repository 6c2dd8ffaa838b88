package ems

import (
	"errors"
	"slices"
	"testing"
	"time"
)

// newTestDevice builds a device with two fields in type 0x10 and one in 0x11.
func newTestDevice(t *testing.T, logger Logger) *Device {
	t.Helper()
	d := NewDevice(DeviceInfo{ID: "dev", Type: "test", BusID: 0x21}, logger)
	fields := []FieldDescriptor{
		{Name: "a", Type: TypeUint8, TypeID: 0x10, Offset: 0},
		{Name: "b", Type: TypeShort, Op: OpDiv10, TypeID: 0x10, Offset: 1},
		{Name: "c", Type: TypeUint8, TypeID: 0x11, Offset: 0},
	}
	for _, f := range fields {
		if _, err := d.RegisterValue(f); err != nil {
			t.Fatalf("RegisterValue(%s) error = %v", f.Name, err)
		}
	}
	if err := d.RegisterTelegramType(0x10, "TypeA", false, nil); err != nil {
		t.Fatal(err)
	}
	if err := d.RegisterTelegramType(0x11, "TypeB", true, nil); err != nil {
		t.Fatal(err)
	}
	return d
}

func TestDispatcher_DuplicateTypeRefused(t *testing.T) {
	log := &recordingLogger{}
	p := NewDispatcher(log)
	if err := p.RegisterTelegramType(0x10, "first", false, nil); err != nil {
		t.Fatal(err)
	}
	err := p.RegisterTelegramType(0x10, "second", true, nil)
	if !errors.Is(err, ErrDuplicateType) {
		t.Fatalf("error = %v, want ErrDuplicateType", err)
	}
	tt, _ := p.Lookup(0x10)
	if tt.Name != "first" || tt.NeedsFetch {
		t.Errorf("binding replaced: %+v", tt)
	}
	if log.count("warn") != 1 {
		t.Errorf("warn count = %d, want 1", log.count("warn"))
	}
}

func TestDispatcher_FetchTypesAndNames(t *testing.T) {
	p := NewDispatcher(nil)
	//nolint:errcheck // unique IDs
	p.RegisterTelegramType(0x30, "late", true, nil)
	//nolint:errcheck // unique IDs
	p.RegisterTelegramType(0x20, "plain", false, nil)
	//nolint:errcheck // unique IDs
	p.RegisterTelegramType(0x10, "early", true, nil)

	if got := p.FetchTypes(); !slices.Equal(got, []uint16{0x30, 0x10}) {
		t.Errorf("FetchTypes() = %v, want registration order [0x30 0x10]", got)
	}
	if got := p.TypeName(0x20); got != "plain" {
		t.Errorf("TypeName(0x20) = %q", got)
	}
	if got := p.TypeName(0x99); got != "0x99" {
		t.Errorf("TypeName(0x99) = %q, want hex id", got)
	}

	types := p.Types()
	if len(types) != 3 || types[0].ID != 0x10 || types[2].ID != 0x30 {
		t.Errorf("Types() not sorted by ID: %+v", types)
	}
}

func TestDevice_Dispatch(t *testing.T) {
	d := newTestDevice(t, nil)
	ts := time.Unix(2000, 0)

	handled, changed := d.Dispatch(&Telegram{TypeID: 0x10, Data: []byte{5, 0xE8, 0x03}, Timestamp: ts})
	if !handled {
		t.Fatal("handled = false for bound type")
	}
	if !slices.Equal(changed, []FieldID{0, 1}) {
		t.Errorf("changed = %v, want [0 1]", changed)
	}

	b, ok := d.Lookup(TagDevice, "b")
	if !ok || b.Raw != 1000 || b.Float() != 100 {
		t.Errorf("b = %+v, want raw 1000 (100.0)", b)
	}

	// Same data again: handled, nothing changed.
	handled, changed = d.Dispatch(&Telegram{TypeID: 0x10, Data: []byte{5, 0xE8, 0x03}, Timestamp: ts})
	if !handled || len(changed) != 0 {
		t.Errorf("repeat dispatch = %v, %v; want true, []", handled, changed)
	}

	tt, _ := d.Dispatcher().Lookup(0x10)
	if tt.Received != 2 || !tt.LastSeen.Equal(ts) {
		t.Errorf("counters = %d, %v", tt.Received, tt.LastSeen)
	}
}

func TestDevice_DispatchUnknownType(t *testing.T) {
	log := &recordingLogger{}
	d := newTestDevice(t, log)
	before := d.Snapshot()

	handled, changed := d.Dispatch(&Telegram{TypeID: 0x99, Data: []byte{1, 2, 3}})
	if handled || len(changed) != 0 {
		t.Errorf("Dispatch(unknown) = %v, %v", handled, changed)
	}
	if !slices.EqualFunc(before, d.Snapshot(), func(a, b Value) bool { return a.Raw == b.Raw && a.Set == b.Set }) {
		t.Error("unknown type modified values")
	}
	if log.count("debug") == 0 {
		t.Error("unknown type not logged at debug")
	}
}

func TestDevice_CustomDecoder(t *testing.T) {
	d := NewDevice(DeviceInfo{ID: "dev"}, nil)
	id, err := d.RegisterValue(FieldDescriptor{Name: "flags", Type: TypeUint8, TypeID: 0x40, Offset: 0})
	if err != nil {
		t.Fatal(err)
	}
	calls := 0
	dec := DecoderFunc(func(d *Device, tg *Telegram, changed []FieldID) []FieldID {
		calls++
		if d.HasUpdate(tg, id) {
			changed = append(changed, id)
		}
		return changed
	})
	if err := d.RegisterTelegramType(0x40, "Flags", false, dec); err != nil {
		t.Fatal(err)
	}

	_, changed := d.Dispatch(&Telegram{TypeID: 0x40, Data: []byte{3}})
	if calls != 1 || !slices.Equal(changed, []FieldID{id}) {
		t.Errorf("calls = %d changed = %v", calls, changed)
	}
}

func TestDevice_PanickingDecoderRecovered(t *testing.T) {
	log := &recordingLogger{}
	d := NewDevice(DeviceInfo{ID: "dev"}, log)
	dec := DecoderFunc(func(*Device, *Telegram, []FieldID) []FieldID {
		panic("boom")
	})
	if err := d.RegisterTelegramType(0x41, "Broken", false, dec); err != nil {
		t.Fatal(err)
	}

	handled, changed := d.Dispatch(&Telegram{TypeID: 0x41, Data: []byte{1}})
	if !handled || len(changed) != 0 {
		t.Errorf("Dispatch() = %v, %v", handled, changed)
	}
	if log.count("error") != 1 {
		t.Errorf("error count = %d, want 1", log.count("error"))
	}
}

func TestDevice_PanicAfterUpdateReportsChangedCells(t *testing.T) {
	log := &recordingLogger{}
	d := newTestDevice(t, log)
	a, _ := d.Registry().Lookup(TagDevice, "a")
	dec := DecoderFunc(func(d *Device, tg *Telegram, changed []FieldID) []FieldID {
		d.HasUpdate(tg, a.ID)
		panic("decoder bug after first field")
	})
	if err := d.RegisterTelegramType(0x42, "HalfBroken", false, dec); err != nil {
		t.Fatal(err)
	}

	handled, changed := d.Dispatch(&Telegram{TypeID: 0x42, Data: []byte{7}})
	if !handled || !slices.Equal(changed, []FieldID{a.ID}) {
		t.Errorf("Dispatch() = %v, %v, want [%d]", handled, changed, a.ID)
	}
	if v, _ := d.Value(a.ID); !v.Set || v.Raw != 7 {
		t.Errorf("a = %+v", v)
	}

	// The next dispatch starts with a clean list.
	_, changed = d.Dispatch(&Telegram{TypeID: 0x10, Data: []byte{7, 0x00, 0x01}})
	if len(changed) != 1 {
		t.Errorf("changed = %v, want only b", changed)
	}
}

func TestDevice_FetchTypes(t *testing.T) {
	d := newTestDevice(t, nil)
	if got := d.FetchTypes(); !slices.Equal(got, []uint16{0x11}) {
		t.Errorf("FetchTypes() = %v, want [0x11]", got)
	}
}

func TestDevice_ValueAny(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want any
	}{
		{"unset", Value{Field: FieldDescriptor{Type: TypeUint8}}, nil},
		{"bool", Value{Field: FieldDescriptor{Type: TypeBool}, Raw: 1, Set: true}, true},
		{"enum", Value{Field: FieldDescriptor{Type: TypeEnum, Options: []string{"off", "on"}}, Raw: 1, Set: true}, "on"},
		{"integer", Value{Field: FieldDescriptor{Type: TypeUint8}, Raw: 23, Set: true}, int64(23)},
		{"scaled", Value{Field: FieldDescriptor{Type: TypeShort, Op: OpDiv10}, Raw: 128, Set: true}, 12.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.Any(); got != tt.want {
				t.Errorf("Any() = %#v, want %#v", got, tt.want)
			}
		})
	}
}
