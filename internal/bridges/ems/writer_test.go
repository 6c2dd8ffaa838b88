package ems

import (
	"bytes"
	"errors"
	"sync"
	"testing"
)

// MockTransport implements Transport for testing.
type MockTransport struct {
	mu        sync.Mutex
	submitted []Telegram
	err       error
}

func (m *MockTransport) Submit(t Telegram) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.submitted = append(m.submitted, t)
	return nil
}

func (m *MockTransport) Submitted() []Telegram {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Telegram(nil), m.submitted...)
}

func (m *MockTransport) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// newWriterDevice builds a device with one writable field per parse path.
func newWriterDevice(t *testing.T) *Device {
	t.Helper()
	d := NewDevice(DeviceInfo{ID: "boiler", BusID: 0x08}, nil)
	fields := []FieldDescriptor{
		{Name: "wwOn", Type: TypeBool, TypeID: 0x33, Offset: 1,
			Write: &WriteHandler{TypeID: 0x33, Offset: 1}},
		{Name: "mode", Type: TypeEnum, Options: []string{"off", "auto", "manual"}, TypeID: 0x33, Offset: 2,
			Write: &WriteHandler{TypeID: 0x33, Offset: 2}},
		{Tag: TagHC1, Name: "setpoint", Type: TypeUint8, Op: OpDiv2, Unit: UnitDegrees, Min: 5, Max: 30, TypeID: 0x2A5, Offset: 3,
			Write: &WriteHandler{TypeID: 0x2B9, Offset: 8, ReadBack: true}},
		{Name: "flowMax", Type: TypeUint8, Unit: UnitDegrees, Min: 30, Max: 90, TypeID: 0x33, Offset: 3,
			Write: &WriteHandler{TypeID: 0x33, Offset: 3}},
		{Name: "pumpMod", Type: TypeUint8, Unit: UnitPercent, Min: 10, Max: 100, TypeID: 0x33, Offset: 4,
			Write: &WriteHandler{TypeID: 0x33, Offset: 4}},
		{Name: "offset", Type: TypeInt8, Unit: UnitNone, TypeID: 0x33, Offset: 5,
			Write: &WriteHandler{TypeID: 0x33, Offset: 5}},
		{Name: "flowTemp", Type: TypeUShort, Op: OpDiv10, Unit: UnitDegrees, TypeID: 0x18, Offset: 1},
	}
	for _, f := range fields {
		if _, err := d.RegisterValue(f); err != nil {
			t.Fatalf("RegisterValue(%s) error = %v", f.Name, err)
		}
	}
	return d
}

func TestCommandWriter_Write(t *testing.T) {
	tests := []struct {
		name     string
		tag      Tag
		field    string
		text     string
		typeID   uint16
		offset   byte
		wantData []byte
	}{
		{"bool on", TagDevice, "wwOn", "on", 0x33, 1, []byte{0xFF}},
		{"bool off", TagDevice, "wwOn", "0", 0x33, 1, []byte{0x00}},
		{"enum label", TagDevice, "mode", "manual", 0x33, 2, []byte{2}},
		{"enum index", TagDevice, "mode", "1", 0x33, 2, []byte{1}},
		{"half degrees", TagHC1, "setpoint", "21.5", 0x2B9, 8, []byte{43}},
		{"whole degrees", TagDevice, "flowMax", "75", 0x33, 3, []byte{75}},
		{"percent", TagDevice, "pumpMod", "60", 0x33, 4, []byte{60}},
		{"negative", TagDevice, "offset", "-3", 0x33, 5, []byte{0xFD}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newWriterDevice(t)
			tr := &MockTransport{}
			w := NewCommandWriter(tr)

			res := w.Write(d, tt.tag, tt.field, tt.text)
			if !res.OK() {
				t.Fatalf("Write() state = %s, err = %v", res.State, res.Err)
			}
			sent := tr.Submitted()
			if len(sent) == 0 {
				t.Fatal("nothing submitted")
			}
			got := sent[0]
			if got.Source != AddrGateway || got.Dest != 0x08 || !got.IsWrite {
				t.Errorf("header = %02X->%02X write=%v", got.Source, got.Dest, got.IsWrite)
			}
			if got.TypeID != tt.typeID || got.Offset != tt.offset {
				t.Errorf("slot = 0x%X/%d, want 0x%X/%d", got.TypeID, got.Offset, tt.typeID, tt.offset)
			}
			if !bytes.Equal(got.Data, tt.wantData) {
				t.Errorf("data = % X, want % X", got.Data, tt.wantData)
			}
		})
	}
}

func TestCommandWriter_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		tag   Tag
		field string
		text  string
		want  error
	}{
		{"unknown field", TagDevice, "nope", "1", ErrFieldNotFound},
		{"wrong tag", TagHC2, "setpoint", "21", ErrFieldNotFound},
		{"read only", TagDevice, "flowTemp", "50", ErrReadOnly},
		{"garbage", TagDevice, "flowMax", "hot", ErrInvalidValue},
		{"below min", TagDevice, "flowMax", "20", ErrInvalidValue},
		{"above max", TagHC1, "setpoint", "31", ErrInvalidValue},
		{"percent over 100", TagDevice, "pumpMod", "120", ErrInvalidValue},
		{"percent below min", TagDevice, "pumpMod", "5", ErrInvalidValue},
		{"bad bool", TagDevice, "wwOn", "maybe", ErrInvalidValue},
		{"bad enum", TagDevice, "mode", "eco", ErrInvalidValue},
		{"empty", TagDevice, "offset", "", ErrInvalidValue},
		{"int8 overflow", TagDevice, "offset", "128", ErrInvalidValue},
		{"int8 no data", TagDevice, "offset", "-128", ErrInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newWriterDevice(t)
			tr := &MockTransport{}
			w := NewCommandWriter(tr)

			res := w.Write(d, tt.tag, tt.field, tt.text)
			if res.State != WriteRejected {
				t.Errorf("state = %s, want rejected", res.State)
			}
			if !errors.Is(res.Err, tt.want) {
				t.Errorf("err = %v, want %v", res.Err, tt.want)
			}
			if n := len(tr.Submitted()); n != 0 {
				t.Errorf("%d telegrams submitted on rejection", n)
			}
			if w.SetField(d, tt.tag, tt.field, tt.text) {
				t.Error("SetField() = true for rejected input")
			}
		})
	}
}

func TestCommandWriter_TransportError(t *testing.T) {
	d := newWriterDevice(t)
	tr := &MockTransport{}
	tr.SetError(ErrQueueFull)
	w := NewCommandWriter(tr)

	res := w.Write(d, TagDevice, "flowMax", "60")
	if res.State != WriteRejected || !errors.Is(res.Err, ErrQueueFull) {
		t.Errorf("Write() = %s, %v; want rejected with ErrQueueFull", res.State, res.Err)
	}
	if res.Telegram.TypeID != 0x33 {
		t.Error("composed telegram not reported on transport failure")
	}
}

func TestCommandWriter_ReadBack(t *testing.T) {
	d := newWriterDevice(t)
	tr := &MockTransport{}
	w := NewCommandWriter(tr, WithSource(0x0A))

	if !w.SetField(d, TagHC1, "setpoint", "20") {
		t.Fatal("SetField() = false")
	}
	sent := tr.Submitted()
	if len(sent) != 2 {
		t.Fatalf("submitted %d telegrams, want write and read-back", len(sent))
	}
	rb := sent[1]
	if !rb.IsRead || rb.TypeID != 0x2B9 || rb.Offset != 8 || rb.Source != 0x0A {
		t.Errorf("read-back = %+v", rb)
	}
	if len(rb.Data) != 1 || rb.Data[0] != 1 {
		t.Errorf("read-back length = % X, want 01", rb.Data)
	}
}

func TestCommandWriter_Fahrenheit(t *testing.T) {
	d := newWriterDevice(t)
	tr := &MockTransport{}
	w := NewCommandWriter(tr, WithFahrenheit(true))

	// 167 °F = 75 °C
	if !w.SetField(d, TagDevice, "flowMax", "167") {
		t.Fatal("SetField() = false")
	}
	if got := tr.Submitted()[0].Data; !bytes.Equal(got, []byte{75}) {
		t.Errorf("data = % X, want 4B", got)
	}

	// 70 °F is 21.1 °C, raw 42 on a half-degree scale
	if !w.SetField(d, TagHC1, "setpoint", "70") {
		t.Fatal("SetField(setpoint) = false")
	}
	if got := tr.Submitted()[1].Data; !bytes.Equal(got, []byte{42}) {
		t.Errorf("setpoint data = % X, want 2A", got)
	}
}

func TestCommandWriter_CustomParser(t *testing.T) {
	d := NewDevice(DeviceInfo{ID: "dev", BusID: 0x10}, nil)
	parser := func(text string, _ FieldDescriptor) (float64, bool) {
		if text == "eco" {
			return 3, true
		}
		return 0, false
	}
	if _, err := d.RegisterValue(FieldDescriptor{
		Name: "program", Type: TypeUint8, TypeID: 0x3E, Offset: 0,
		Write: &WriteHandler{TypeID: 0x3E, Offset: 0, Parse: parser},
	}); err != nil {
		t.Fatal(err)
	}

	tr := &MockTransport{}
	w := NewCommandWriter(tr)
	if !w.SetField(d, TagDevice, "program", "eco") {
		t.Fatal("custom parser input refused")
	}
	if w.SetField(d, TagDevice, "program", "3") {
		t.Error("custom parser bypassed")
	}
	if got := tr.Submitted(); len(got) != 1 || got[0].Data[0] != 3 {
		t.Errorf("submitted = %+v", got)
	}
}

func TestWriteState_String(t *testing.T) {
	states := map[WriteState]string{
		WriteIdle:       "idle",
		WriteValidating: "validating",
		WriteRejected:   "rejected",
		WriteEncoding:   "encoding",
		WriteSubmitted:  "submitted",
	}
	for s, want := range states {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", s, got, want)
		}
	}
}
