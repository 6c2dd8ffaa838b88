package ems

import "testing"

func TestRoundHalfAwayFromZero(t *testing.T) {
	tests := []struct {
		in   float64
		want int64
	}{
		{5.5, 6},
		{-5.5, -6},
		{5.4, 5},
		{0.5, 1},
		{-0.4, 0},
		{55.0, 55},
	}
	for _, tt := range tests {
		if got := RoundHalfAwayFromZero(tt.in); got != tt.want {
			t.Errorf("RoundHalfAwayFromZero(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestValue2Float(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		want   float64
		wantOK bool
	}{
		{"integer", "23", 23, true},
		{"decimal", "5.5", 5.5, true},
		{"comma decimal", "5,5", 5.5, true},
		{"whitespace", "  -2.25 ", -2.25, true},
		{"empty", "", 0, false},
		{"text", "abc", 0, false},
		{"nan", "NaN", 0, false},
		{"inf", "+Inf", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Value2Float(tt.in)
			if ok != tt.wantOK || (ok && got != tt.want) {
				t.Errorf("Value2Float(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestValue2Number(t *testing.T) {
	tests := []struct {
		in     string
		want   int
		wantOK bool
	}{
		{"42", 42, true},
		{"4.5", 5, true},
		{"-4.5", -5, true},
		{"x", 0, false},
		{"1e12", 0, false},
	}
	for _, tt := range tests {
		got, ok := Value2Number(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("Value2Number(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestValue2Temperature(t *testing.T) {
	tests := []struct {
		name       string
		in         string
		fahrenheit bool
		minC, maxC int
		want       int
		wantOK     bool
	}{
		{"celsius", "23", false, 0, 0, 23, true},
		{"rounded", "22.5", false, 0, 0, 23, true},
		{"fahrenheit", "212", true, 0, 0, 100, true},
		{"in range", "20", false, 5, 30, 20, true},
		{"below range", "4", false, 5, 30, 0, false},
		{"above range", "31", false, 5, 30, 0, false},
		{"fahrenheit range", "50", true, 5, 30, 10, true},
		{"garbage", "warm", false, 0, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Value2Temperature(tt.in, tt.fahrenheit, tt.minC, tt.maxC)
			if ok != tt.wantOK || (ok && got != tt.want) {
				t.Errorf("Value2Temperature(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestValue2Bool(t *testing.T) {
	tests := []struct {
		in     string
		want   bool
		wantOK bool
	}{
		{"on", true, true},
		{"ON", true, true},
		{"1", true, true},
		{"yes", true, true},
		{"off", false, true},
		{"false", false, true},
		{"0", false, true},
		{"maybe", false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		got, ok := Value2Bool(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("Value2Bool(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestValue2Enum(t *testing.T) {
	options := []string{"off", "auto", "manual"}
	tests := []struct {
		in     string
		want   int
		wantOK bool
	}{
		{"auto", 1, true},
		{"MANUAL", 2, true},
		{"0", 0, true},
		{"2", 2, true},
		{"3", 0, false},
		{"-1", 0, false},
		{"eco", 0, false},
	}
	for _, tt := range tests {
		got, ok := Value2Enum(tt.in, options)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("Value2Enum(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestValue2Percent(t *testing.T) {
	tests := []struct {
		in     string
		want   int
		wantOK bool
	}{
		{"0", 0, true},
		{"100", 100, true},
		{"49.5", 50, true},
		{"101", 0, false},
		{"-1", 0, false},
	}
	for _, tt := range tests {
		got, ok := Value2Percent(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("Value2Percent(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name    string
		raw     int64
		typ     ValueType
		op      NumOp
		options []string
		want    string
	}{
		{"plain", 23, TypeUint8, OpNone, nil, "23"},
		{"div10", 128, TypeShort, OpDiv10, nil, "12.8"},
		{"div10 negative", -5, TypeShort, OpDiv10, nil, "-0.5"},
		{"div2", 45, TypeUint8, OpDiv2, nil, "22.5"},
		{"mul15", 4, TypeUint8, OpMul15, nil, "60"},
		{"bool on", 1, TypeBool, OpNone, nil, "on"},
		{"bool off", 0, TypeBool, OpNone, nil, "off"},
		{"enum", 1, TypeEnum, OpNone, []string{"off", "auto"}, "auto"},
		{"enum out of range", 7, TypeEnum, OpNone, []string{"off", "auto"}, "7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatValue(tt.raw, tt.typ, tt.op, tt.options); got != tt.want {
				t.Errorf("FormatValue() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNumOp_InvertApply(t *testing.T) {
	tests := []struct {
		op      NumOp
		display float64
		raw     int64
	}{
		{OpDiv10, 5.5, 55},
		{OpDiv2, 22.5, 45},
		{OpDiv100, 1.23, 123},
		{OpMul10, 250, 25},
		{OpNone, 23, 23},
	}
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			if got := tt.op.Invert(tt.display); got != tt.raw {
				t.Errorf("Invert(%v) = %d, want %d", tt.display, got, tt.raw)
			}
			if got := tt.op.Apply(tt.raw); got != tt.display {
				t.Errorf("Apply(%d) = %v, want %v", tt.raw, got, tt.display)
			}
		})
	}
}
