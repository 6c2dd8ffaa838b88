package ems

import (
	"math"
	"strconv"
	"strings"
)

// RoundHalfAwayFromZero rounds v to the nearest integer; ties move away
// from zero so 5.5 becomes 6 and -5.5 becomes -6.
func RoundHalfAwayFromZero(v float64) int64 {
	return int64(math.Round(v))
}

// normaliseNumber trims text and accepts a comma as decimal separator.
func normaliseNumber(text string) string {
	return strings.ReplaceAll(strings.TrimSpace(text), ",", ".")
}

// Value2Float parses a decimal number.
func Value2Float(text string) (float64, bool) {
	s := normaliseNumber(text)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Value2Number parses an integer. Decimal input is rounded half away
// from zero.
func Value2Number(text string) (int, bool) {
	v, ok := Value2Float(text)
	if !ok || v > math.MaxInt32 || v < math.MinInt32 {
		return 0, false
	}
	return int(RoundHalfAwayFromZero(v)), true
}

// Value2Temperature parses a temperature in degrees Celsius, converting
// from Fahrenheit first when fahrenheit is set. The result is rejected when
// it falls outside [minC, maxC]; pass minC == maxC to skip the range check.
func Value2Temperature(text string, fahrenheit bool, minC, maxC int) (int, bool) {
	v, ok := Value2Float(text)
	if !ok {
		return 0, false
	}
	if fahrenheit {
		v = (v - 32) * 5 / 9 //nolint:mnd // Fahrenheit to Celsius
	}
	t := int(RoundHalfAwayFromZero(v))
	if minC != maxC && (t < minC || t > maxC) {
		return 0, false
	}
	return t, true
}

// Value2Bool parses on/off style text.
func Value2Bool(text string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "1", "on", "true", "yes":
		return true, true
	case "0", "off", "false", "no":
		return false, true
	default:
		return false, false
	}
}

// Value2Enum returns the index of text within options. Matching is case
// insensitive; a numeric index within range is accepted as well.
func Value2Enum(text string, options []string) (int, bool) {
	s := strings.TrimSpace(text)
	for i, opt := range options {
		if strings.EqualFold(opt, s) {
			return i, true
		}
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n < len(options) {
		return n, true
	}
	return 0, false
}

// Value2Percent parses an integer percentage in [0, 100].
func Value2Percent(text string) (int, bool) {
	n, ok := Value2Number(text)
	if !ok || n < 0 || n > 100 {
		return 0, false
	}
	return n, true
}

// FormatValue renders a raw value for display with its scale applied.
func FormatValue(raw int64, typ ValueType, op NumOp, options []string) string {
	switch typ {
	case TypeBool:
		if raw != 0 {
			return "on"
		}
		return "off"
	case TypeEnum:
		if raw >= 0 && raw < int64(len(options)) {
			return options[raw]
		}
		return strconv.FormatInt(raw, 10)
	}
	if op == OpNone {
		return strconv.FormatInt(raw, 10)
	}
	return strconv.FormatFloat(op.Apply(raw), 'f', op.Decimals(), 64)
}
