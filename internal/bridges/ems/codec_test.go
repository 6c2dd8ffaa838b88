package ems

import (
	"bytes"
	"testing"
	"time"
)

func TestHasUpdate_ShortLittleEndian(t *testing.T) {
	f := FieldDescriptor{Name: "headerTemp", Type: TypeShort, Op: OpDiv10, TypeID: TypeEM100Temp, Offset: 0}
	tg := &Telegram{TypeID: TypeEM100Temp, Data: []byte{0x80, 0x00}, Timestamp: time.Unix(1000, 0)}
	var cell Cell

	if !HasUpdate(tg, &cell, f) {
		t.Fatal("first decode reported no change")
	}
	if cell.Raw != 128 || !cell.Set {
		t.Errorf("cell = %+v, want raw 128", cell)
	}
	if !cell.Updated.Equal(tg.Timestamp) {
		t.Errorf("Updated = %v, want telegram timestamp", cell.Updated)
	}
	if HasUpdate(tg, &cell, f) {
		t.Error("identical telegram reported a change")
	}
}

func TestHasUpdate_Sentinels(t *testing.T) {
	tests := []struct {
		name string
		typ  ValueType
		data []byte
	}{
		{"uint8", TypeUint8, []byte{0xFF}},
		{"int8", TypeInt8, []byte{0x80}},
		{"short", TypeShort, []byte{0x00, 0x80}},
		{"ushort", TypeUShort, []byte{0xFF, 0xFF}},
		{"uint24", TypeUint24, []byte{0xFF, 0xFF, 0xFF}},
		{"uint", TypeUint, []byte{0xFF, 0xFF, 0xFF, 0xFF}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := FieldDescriptor{Name: "v", Type: tt.typ}
			cell := Cell{Raw: 7, Set: true}
			if HasUpdate(&Telegram{Data: tt.data}, &cell, f) {
				t.Error("sentinel reported as change")
			}
			if cell.Raw != 7 || !cell.Set {
				t.Errorf("sentinel modified cell: %+v", cell)
			}
		})
	}
}

func TestHasUpdate_SignedValues(t *testing.T) {
	tests := []struct {
		name string
		typ  ValueType
		data []byte
		want int64
	}{
		{"int8 negative", TypeInt8, []byte{0xFE}, -2},
		{"short negative", TypeShort, []byte{0xFB, 0xFF}, -5},
		{"short max", TypeShort, []byte{0xFF, 0x7F}, 32767},
		{"ushort", TypeUShort, []byte{0x34, 0x12}, 0x1234},
		{"uint24", TypeUint24, []byte{0x01, 0x02, 0x03}, 0x030201},
		{"uint", TypeUint, []byte{0x01, 0x00, 0x00, 0x80}, 0x80000001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cell Cell
			if !HasUpdate(&Telegram{Data: tt.data}, &cell, FieldDescriptor{Name: "v", Type: tt.typ}) {
				t.Fatal("no change reported")
			}
			if cell.Raw != tt.want {
				t.Errorf("Raw = %d, want %d", cell.Raw, tt.want)
			}
		})
	}
}

func TestHasUpdate_OffsetWindow(t *testing.T) {
	f := FieldDescriptor{Name: "maxT", Type: TypeUint8, Offset: 4}

	tests := []struct {
		name    string
		offset  byte
		data    []byte
		changed bool
		want    int64
	}{
		{"covers field", 0, []byte{1, 2, 3, 4, 50}, true, 50},
		{"partial from offset 3", 3, []byte{9, 60}, true, 60},
		{"starts at field", 4, []byte{70}, true, 70},
		{"ends before field", 0, []byte{1, 2, 3}, false, 0},
		{"starts after field", 5, []byte{1, 2}, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cell Cell
			got := HasUpdate(&Telegram{Offset: tt.offset, Data: tt.data}, &cell, f)
			if got != tt.changed {
				t.Fatalf("HasUpdate() = %v, want %v", got, tt.changed)
			}
			if cell.Raw != tt.want {
				t.Errorf("Raw = %d, want %d", cell.Raw, tt.want)
			}
		})
	}
}

func TestHasUpdate_WideFieldCrossingEnd(t *testing.T) {
	f := FieldDescriptor{Name: "input", Type: TypeUShort, Offset: 1}
	var cell Cell
	if HasUpdate(&Telegram{Data: []byte{0x10, 0x20}}, &cell, f) {
		t.Error("field crossing the end of data decoded")
	}
}

func TestHasUpdate_ReadRequestIgnored(t *testing.T) {
	var cell Cell
	tg := &Telegram{IsRead: true, Data: []byte{0x1B}}
	if HasUpdate(tg, &cell, FieldDescriptor{Name: "v", Type: TypeUint8}) {
		t.Error("read request decoded as value")
	}
}

func TestHasUpdate_MaskedBool(t *testing.T) {
	pump := FieldDescriptor{Name: "pump", Type: TypeBool, Mask: 0x04}
	burner := FieldDescriptor{Name: "burner", Type: TypeBool, Mask: 0x01}
	tg := &Telegram{Data: []byte{0x05}}

	var pc, bc Cell
	if !HasUpdate(tg, &pc, pump) || pc.Raw != 1 {
		t.Errorf("pump = %+v, want on", pc)
	}
	if !HasUpdate(tg, &bc, burner) || bc.Raw != 1 {
		t.Errorf("burner = %+v, want on", bc)
	}

	tg = &Telegram{Data: []byte{0x01}}
	if !HasUpdate(tg, &pc, pump) || pc.Raw != 0 {
		t.Errorf("pump = %+v, want off", pc)
	}
	if HasUpdate(tg, &bc, burner) {
		t.Error("burner unchanged but reported")
	}
}

func TestHasUpdate_BoolNoSentinel(t *testing.T) {
	var cell Cell
	if !HasUpdate(&Telegram{Data: []byte{0xFF}}, &cell, FieldDescriptor{Name: "b", Type: TypeBool}) {
		t.Fatal("0xFF bool not decoded")
	}
	if cell.Raw != 1 {
		t.Errorf("Raw = %d, want 1", cell.Raw)
	}
}

func TestDecodeRaw(t *testing.T) {
	if raw, ok := DecodeRaw([]byte{0x80, 0x00}, TypeShort); !ok || raw != 128 {
		t.Errorf("DecodeRaw(short) = %d, %v; want 128, true", raw, ok)
	}
	if _, ok := DecodeRaw([]byte{0x80}, TypeShort); ok {
		t.Error("DecodeRaw() accepted short data")
	}
	if _, ok := DecodeRaw([]byte{0xFF}, TypeUint8); ok {
		t.Error("DecodeRaw() accepted sentinel")
	}
}

func TestEncodeRaw(t *testing.T) {
	tests := []struct {
		name string
		raw  int64
		typ  ValueType
		want []byte
	}{
		{"uint8", 23, TypeUint8, []byte{23}},
		{"short", 128, TypeShort, []byte{0x80, 0x00}},
		{"short negative", -5, TypeShort, []byte{0xFB, 0xFF}},
		{"uint24", 0x030201, TypeUint24, []byte{0x01, 0x02, 0x03}},
		{"uint", 1, TypeUint, []byte{0x01, 0x00, 0x00, 0x00}},
		{"truncates", 0x1FF, TypeUint8, []byte{0xFF}},
		{"bool on", 1, TypeBool, []byte{0xFF}},
		{"bool off", 0, TypeBool, []byte{0x00}},
		{"unknown type", 1, ValueType(0), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EncodeRaw(tt.raw, tt.typ); !bytes.Equal(got, tt.want) {
				t.Errorf("EncodeRaw() = % X, want % X", got, tt.want)
			}
		})
	}
}

// roundTripSamples returns the raw values checked for typ: every value of
// a one-byte type, the ends and a few inner points of wider ones.
func roundTripSamples(typ ValueType) []int64 {
	lo, hi := RawRange(typ)
	if typ.Width() == 1 {
		out := make([]int64, 0, hi-lo+1)
		for r := lo; r <= hi; r++ {
			out = append(out, r)
		}
		return out
	}
	out := []int64{lo, lo + 1, 0, 1, 2, 99, 1234, hi/2 + 1, hi - 1, hi}
	if typ.Signed() {
		out = append(out, -1, -2, -1234, lo/2)
	}
	return out
}

func TestCodec_RoundTrip(t *testing.T) {
	types := []ValueType{TypeInt8, TypeUint8, TypeShort, TypeUShort, TypeUint24, TypeUint, TypeTime}
	ops := []NumOp{OpNone, OpDiv2, OpDiv10, OpDiv100, OpMul10, OpMul15}

	for _, typ := range types {
		for _, op := range ops {
			t.Run(typ.String()+"/"+op.String(), func(t *testing.T) {
				for _, raw := range roundTripSamples(typ) {
					v := op.Apply(raw)
					back := op.Invert(v)
					if back != raw {
						t.Fatalf("Invert(Apply(%d)) = %d", raw, back)
					}
					if !Representable(back, typ) {
						t.Fatalf("Representable(%d) = false", back)
					}
					got, ok := DecodeRaw(EncodeRaw(back, typ), typ)
					if !ok || got != raw {
						t.Fatalf("DecodeRaw(EncodeRaw(%d)) = %d, %v", raw, got, ok)
					}
					if shown := op.Apply(got); shown != v {
						t.Fatalf("value %v came back as %v", v, shown)
					}
				}
			})
		}
	}
}

func TestCodec_OutsideRangeIsNoData(t *testing.T) {
	tests := []struct {
		typ    ValueType
		lo, hi int64
	}{
		{TypeInt8, -127, 127},
		{TypeUint8, 0, 254},
		{TypeShort, -32767, 32767},
		{TypeUShort, 0, 65534},
		{TypeUint24, 0, 1<<24 - 2},
		{TypeUint, 0, 1<<32 - 2},
		{TypeTime, 0, 1<<32 - 2},
		{TypeEnum, 0, 254},
		{TypeBool, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			lo, hi := RawRange(tt.typ)
			if lo != tt.lo || hi != tt.hi {
				t.Fatalf("RawRange() = %d..%d, want %d..%d", lo, hi, tt.lo, tt.hi)
			}
			for _, raw := range []int64{lo - 1, hi + 1} {
				if Representable(raw, tt.typ) {
					t.Errorf("Representable(%d) = true", raw)
				}
				if tt.typ == TypeBool {
					continue
				}
				// one step past either end wraps onto the "no data" pattern
				if got, ok := DecodeRaw(EncodeRaw(raw, tt.typ), tt.typ); ok {
					t.Errorf("DecodeRaw(EncodeRaw(%d)) = %d, want no data", raw, got)
				}
			}
		})
	}

	if lo, hi := RawRange(ValueType(0)); lo <= hi {
		t.Errorf("RawRange(unknown) = %d..%d, want empty", lo, hi)
	}
}
