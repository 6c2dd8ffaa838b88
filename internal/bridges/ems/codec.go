package ems

import "time"

// boolOn is the byte written for a true boolean.
const boolOn byte = 0xFF

// Cell is the stored state of one field. Raw is kept in the wire domain;
// scaling happens only when the value is presented.
type Cell struct {
	Raw     int64
	Set     bool
	Updated time.Time
}

// HasUpdate decodes field f from t into cell.
//
// It returns true only when the telegram carries a valid value for the
// field that differs from the raw value already stored. Fields outside the
// telegram's slice, read requests and "no data" sentinels leave the cell
// untouched and return false.
//
// Parameters:
//   - t: Received telegram
//   - cell: Cell of the field, updated in place on change
//   - f: Field descriptor giving offset, type and bit mask
//
// Returns:
//   - bool: true if the cell changed
func HasUpdate(t *Telegram, cell *Cell, f FieldDescriptor) bool {
	if t.IsRead {
		return false
	}

	width := f.Type.Width()
	idx := int(f.Offset) - int(t.Offset)
	if width == 0 || idx < 0 || idx+width > len(t.Data) {
		return false
	}

	raw, ok := decodeField(t.Data[idx:idx+width], f.Type, f.Mask)
	if !ok {
		return false
	}
	if cell.Set && cell.Raw == raw {
		return false
	}

	cell.Raw = raw
	cell.Set = true
	cell.Updated = t.Timestamp
	if cell.Updated.IsZero() {
		cell.Updated = time.Now()
	}
	return true
}

// DecodeRaw reads a value of type typ from the start of data.
// ok is false when data is too short or holds the type's sentinel.
func DecodeRaw(data []byte, typ ValueType) (raw int64, ok bool) {
	width := typ.Width()
	if width == 0 || len(data) < width {
		return 0, false
	}
	return decodeField(data[:width], typ, 0)
}

func decodeField(b []byte, typ ValueType, mask byte) (int64, bool) {
	if typ == TypeBool {
		if mask != 0 {
			return boolRaw(b[0]&mask != 0), true
		}
		return boolRaw(b[0] != 0), true
	}

	bits := uint(len(b)) * 8 //nolint:mnd // bits per byte
	var u uint64
	for i := len(b) - 1; i >= 0; i-- {
		u = u<<8 | uint64(b[i])
	}

	signBit := uint64(1) << (bits - 1)
	if typ.Signed() {
		if u == signBit {
			return 0, false
		}
		if u&signBit != 0 {
			return int64(u) - int64(1)<<bits, true //nolint:gosec // width is at most 32 bits
		}
		return int64(u), true //nolint:gosec // width is at most 32 bits
	}

	if u == (uint64(1)<<bits)-1 {
		return 0, false
	}
	return int64(u), true //nolint:gosec // width is at most 32 bits
}

func boolRaw(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

// RawRange returns the smallest and largest raw value typ carries. The
// type's "no data" pattern lies outside the range. An unknown type yields
// an empty range (lo > hi).
func RawRange(typ ValueType) (lo, hi int64) {
	if typ == TypeBool {
		return 0, 1
	}
	width := typ.Width()
	if width == 0 {
		return 0, -1
	}
	bits := uint(width) * 8 //nolint:mnd // bits per byte
	if typ.Signed() {
		return -(int64(1) << (bits - 1)) + 1, int64(1)<<(bits-1) - 1
	}
	return 0, int64(1)<<bits - 2 //nolint:mnd // all bits set is "no data"
}

// Representable reports whether raw survives EncodeRaw and DecodeRaw
// unchanged for typ.
func Representable(raw int64, typ ValueType) bool {
	lo, hi := RawRange(typ)
	return raw >= lo && raw <= hi
}

// EncodeRaw renders raw as little-endian bytes of the type's width,
// truncating bits that do not fit; check Representable first. Booleans
// encode as 0x00 or 0xFF.
func EncodeRaw(raw int64, typ ValueType) []byte {
	width := typ.Width()
	if width == 0 {
		return nil
	}

	buf := make([]byte, width)
	if typ == TypeBool {
		if raw != 0 {
			buf[0] = boolOn
		}
		return buf
	}

	u := uint64(raw) //nolint:gosec // two's complement truncation is intended
	for i := range buf {
		buf[i] = byte(u)
		u >>= 8
	}
	return buf
}
