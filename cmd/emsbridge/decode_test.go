package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/nerrad567/gray-logic-ems/internal/bridges/ems"
)

const (
	// EM100 at 0x15 broadcasting headerTemp 30.0 °C.
	frameEM100Temp = "15 00 FF 00 08 37 2C 01 51"
	// EM100 at 0x15 broadcasting outPower 50 % and input 10.0 V.
	frameEM100Input = "15 00 FF 00 08 38 32 64 00 68"
)

func TestDecodeFrames_HeaderOnly(t *testing.T) {
	var out bytes.Buffer
	if err := decodeFrames(&out, strings.NewReader(frameEM100Temp), nil); err != nil {
		t.Fatalf("decodeFrames() error = %v", err)
	}

	got := out.String()
	for _, want := range []string{"15 -> 00", "type 0x937", "broadcast, 2 bytes"} {
		if !strings.Contains(got, want) {
			t.Errorf("output %q missing %q", got, want)
		}
	}
}

func TestDecodeFrames_WithProfile(t *testing.T) {
	dev, err := buildDevice(ems.ProfileExtension, "0x15")
	if err != nil {
		t.Fatalf("buildDevice() error = %v", err)
	}

	in := "# capture\n" + frameEM100Temp + "\n\n" + frameEM100Input + "\n"
	var out bytes.Buffer
	if err := decodeFrames(&out, strings.NewReader(in), dev); err != nil {
		t.Fatalf("decodeFrames() error = %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"EM100TempMessage",
		"device/headerTemp",
		"30.0 °C",
		"EM100InputMessage",
		"device/outPower",
		"50 %",
		"device/input",
		"10.0 V",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestDecodeFrames_OtherSourceNotDispatched(t *testing.T) {
	dev, err := buildDevice(ems.ProfileExtension, "0x16")
	if err != nil {
		t.Fatalf("buildDevice() error = %v", err)
	}

	var out bytes.Buffer
	if err := decodeFrames(&out, strings.NewReader(frameEM100Temp), dev); err != nil {
		t.Fatalf("decodeFrames() error = %v", err)
	}
	if strings.Contains(out.String(), "headerTemp") {
		t.Errorf("frame from 0x15 decoded by device at 0x16:\n%s", out.String())
	}
	if v, _ := dev.Lookup(ems.TagDevice, "headerTemp"); v.Set {
		t.Error("headerTemp set on device at 0x16")
	}
}

func TestDecodeFrames_BadFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"bad crc", "15 00 FF 00 08 37 2C 01 52"},
		{"not hex", "zz 00"},
		{"too short", "15 00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := decodeFrames(&out, strings.NewReader(tt.frame+"\n"+frameEM100Temp), nil); err != nil {
				t.Fatalf("decodeFrames() error = %v", err)
			}
			lines := strings.Split(strings.TrimSpace(out.String()), "\n")
			if len(lines) != 2 {
				t.Fatalf("got %d lines, want 2:\n%s", len(lines), out.String())
			}
			if !strings.HasPrefix(lines[0], "ERR") {
				t.Errorf("line 1 = %q, want ERR", lines[0])
			}
			if !strings.Contains(lines[1], "type 0x937") {
				t.Errorf("line 2 = %q, want the following frame decoded", lines[1])
			}
		})
	}
}

func TestBuildDevice_Errors(t *testing.T) {
	tests := []struct {
		name    string
		profile string
		busID   string
	}{
		{"missing bus id", ems.ProfileExtension, ""},
		{"bad bus id", ems.ProfileExtension, "0xZZ"},
		{"bus id out of range", ems.ProfileExtension, "0x80"},
		{"unknown profile", "toaster", "0x15"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := buildDevice(tt.profile, tt.busID); err == nil {
				t.Errorf("buildDevice(%q, %q) error = nil", tt.profile, tt.busID)
			}
		})
	}
}

func TestDecodeCmd_Args(t *testing.T) {
	out, err := execute(t, "", "decode", "--profile", "extension", "--bus-id", "0x15", frameEM100Temp)
	if err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if !strings.Contains(out, "30.0 °C") {
		t.Errorf("decode output = %q", out)
	}
}

func TestDecodeCmd_Stdin(t *testing.T) {
	out, err := execute(t, frameEM100Input+"\n", "decode")
	if err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if !strings.Contains(out, "type 0x938") {
		t.Errorf("decode output = %q", out)
	}
}
