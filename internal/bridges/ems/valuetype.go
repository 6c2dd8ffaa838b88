package ems

import (
	"fmt"
	"strings"
)

// ValueType is the wire representation of a device value.
type ValueType uint8

// Supported value types.
const (
	TypeBool   ValueType = iota + 1 // 1 byte, optionally bit-mapped
	TypeInt8                        // 1 byte signed
	TypeUint8                       // 1 byte unsigned
	TypeShort                       // 2 bytes signed
	TypeUShort                      // 2 bytes unsigned
	TypeUint24                      // 3 bytes unsigned
	TypeUint                        // 4 bytes unsigned
	TypeTime                        // 4 bytes unsigned, minutes
	TypeEnum                        // 1 byte index into Options
)

// Width returns the number of payload bytes the type occupies,
// or 0 for an unknown type.
func (v ValueType) Width() int {
	switch v {
	case TypeBool, TypeInt8, TypeUint8, TypeEnum:
		return 1
	case TypeShort, TypeUShort:
		return 2 //nolint:mnd // 16-bit value
	case TypeUint24:
		return 3 //nolint:mnd // 24-bit value
	case TypeUint, TypeTime:
		return 4 //nolint:mnd // 32-bit value
	default:
		return 0
	}
}

// Signed reports whether the raw value is two's complement.
func (v ValueType) Signed() bool {
	return v == TypeInt8 || v == TypeShort
}

// Valid reports whether v is one of the supported types.
func (v ValueType) Valid() bool {
	return v.Width() > 0
}

// String returns the type name.
func (v ValueType) String() string {
	switch v {
	case TypeBool:
		return "bool"
	case TypeInt8:
		return "int8"
	case TypeUint8:
		return "uint8"
	case TypeShort:
		return "short"
	case TypeUShort:
		return "ushort"
	case TypeUint24:
		return "uint24"
	case TypeUint:
		return "uint"
	case TypeTime:
		return "time"
	case TypeEnum:
		return "enum"
	default:
		return fmt.Sprintf("type(%d)", uint8(v))
	}
}

// NumOp is the presentation scale applied to a raw value.
// Displayed value = raw * mul / div.
type NumOp uint8

// Supported scale operations.
const (
	OpNone NumOp = iota
	OpDiv2
	OpDiv10
	OpDiv100
	OpDiv60
	OpMul10
	OpMul15
)

// factors returns the multiplier and divisor for the operation.
func (o NumOp) factors() (mul, div float64) {
	switch o {
	case OpDiv2:
		return 1, 2 //nolint:mnd // half steps
	case OpDiv10:
		return 1, 10 //nolint:mnd // tenths
	case OpDiv100:
		return 1, 100 //nolint:mnd // hundredths
	case OpDiv60:
		return 1, 60 //nolint:mnd // minutes to hours
	case OpMul10:
		return 10, 1 //nolint:mnd // tens
	case OpMul15:
		return 15, 1 //nolint:mnd // quarter hours
	default:
		return 1, 1
	}
}

// Apply converts a raw integer into its display value.
func (o NumOp) Apply(raw int64) float64 {
	mul, div := o.factors()
	return float64(raw) * mul / div
}

// Invert converts a display value back into the raw domain and rounds
// half away from zero.
func (o NumOp) Invert(v float64) int64 {
	mul, div := o.factors()
	return RoundHalfAwayFromZero(v * div / mul)
}

// Decimals is the number of fractional digits worth displaying.
func (o NumOp) Decimals() int {
	switch o {
	case OpDiv2, OpDiv10:
		return 1
	case OpDiv100:
		return 2 //nolint:mnd // hundredths
	case OpDiv60:
		return 2 //nolint:mnd // fractional hours
	default:
		return 0
	}
}

// String returns the operation name.
func (o NumOp) String() string {
	switch o {
	case OpDiv2:
		return "div2"
	case OpDiv10:
		return "div10"
	case OpDiv100:
		return "div100"
	case OpDiv60:
		return "div60"
	case OpMul10:
		return "mul10"
	case OpMul15:
		return "mul15"
	default:
		return "none"
	}
}

// Unit is the unit of measure of a displayed value.
type Unit uint8

// Supported units.
const (
	UnitNone Unit = iota
	UnitDegrees
	UnitPercent
	UnitVolts
	UnitMilliVolts
	UnitMicroAmps
	UnitKWh
	UnitWh
	UnitKW
	UnitW
	UnitHours
	UnitMinutes
	UnitSeconds
	UnitBar
	UnitLitresPerMinute
)

var unitSymbols = map[Unit]string{
	UnitNone:            "",
	UnitDegrees:         "°C",
	UnitPercent:         "%",
	UnitVolts:           "V",
	UnitMilliVolts:      "mV",
	UnitMicroAmps:       "µA",
	UnitKWh:             "kWh",
	UnitWh:              "Wh",
	UnitKW:              "kW",
	UnitW:               "W",
	UnitHours:           "hours",
	UnitMinutes:         "minutes",
	UnitSeconds:         "seconds",
	UnitBar:             "bar",
	UnitLitresPerMinute: "l/min",
}

// String returns the unit symbol.
func (u Unit) String() string {
	return unitSymbols[u]
}

// Tag groups related values of a device, such as a heating circuit.
type Tag uint8

// Supported tags.
const (
	TagDevice Tag = iota
	TagHC1
	TagHC2
	TagHC3
	TagHC4
	TagDHW1
	TagDHW2
)

var tagNames = []string{"device", "hc1", "hc2", "hc3", "hc4", "dhw1", "dhw2"}

// String returns the tag's short name.
func (t Tag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return fmt.Sprintf("tag(%d)", uint8(t))
}

// ParseTag converts a short name such as "hc1" into a Tag.
// An empty string selects TagDevice.
func ParseTag(s string) (Tag, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return TagDevice, nil
	}
	for i, name := range tagNames {
		if name == s {
			return Tag(i), nil //nolint:gosec // bounded by tagNames length
		}
	}
	return 0, fmt.Errorf("%w: unknown tag %q", ErrInvalidValue, s)
}
