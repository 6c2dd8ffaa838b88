package ems

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// withCRC appends the checksum to a frame body.
func withCRC(body ...byte) []byte {
	return append(body, CRC(body))
}

func TestCRC(t *testing.T) {
	// Broadcast of type 0x06 (RC time) from the thermostat.
	body := []byte{0x10, 0x00, 0x06, 0x00, 0x18, 0x03, 0x0F, 0x0A, 0x2E, 0x18, 0x01, 0x01}
	got := CRC(body)

	// A corrupted byte must change the checksum.
	corrupted := append([]byte(nil), body...)
	corrupted[5] ^= 0x01
	if CRC(corrupted) == got {
		t.Error("CRC() did not change after corrupting a byte")
	}
	if CRC(nil) != 0 {
		t.Errorf("CRC(nil) = %02X, want 00", CRC(nil))
	}
}

func TestParseTelegram_EMS1(t *testing.T) {
	frame := withCRC(0x08, 0x00, 0x18, 0x00, 0x01, 0x02, 0x03)

	tg, err := ParseTelegram(frame)
	if err != nil {
		t.Fatalf("ParseTelegram() error = %v", err)
	}
	if tg.Source != 0x08 || tg.Dest != AddrBroadcast {
		t.Errorf("addresses = %02X->%02X, want 08->00", tg.Source, tg.Dest)
	}
	if tg.TypeID != 0x18 {
		t.Errorf("TypeID = 0x%X, want 0x18", tg.TypeID)
	}
	if !bytes.Equal(tg.Data, []byte{0x01, 0x02, 0x03}) {
		t.Errorf("Data = % X, want 01 02 03", tg.Data)
	}
	if tg.IsWrite || tg.IsRead {
		t.Errorf("broadcast flagged IsWrite=%v IsRead=%v", tg.IsWrite, tg.IsRead)
	}
	if tg.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
}

func TestParseTelegram_EMSPlus(t *testing.T) {
	// 0x937 travels as 0x0837 on the wire.
	frame := withCRC(0x09, 0x00, 0xFF, 0x00, 0x08, 0x37, 0x80, 0x00)

	tg, err := ParseTelegram(frame)
	if err != nil {
		t.Fatalf("ParseTelegram() error = %v", err)
	}
	if tg.TypeID != TypeEM100Temp {
		t.Errorf("TypeID = 0x%X, want 0x937", tg.TypeID)
	}
	if !tg.IsEMSPlus() {
		t.Error("IsEMSPlus() = false")
	}
	if !bytes.Equal(tg.Data, []byte{0x80, 0x00}) {
		t.Errorf("Data = % X, want 80 00", tg.Data)
	}
}

func TestParseTelegram_ReadRequest(t *testing.T) {
	req := NewReadTelegram(0x0B, 0x09, TypeEM100Set, 0, DefaultReadLength)
	frame := req.Encode()

	if frame[1]&readFlag == 0 {
		t.Fatalf("encoded dest %02X lacks read flag", frame[1])
	}
	// EMS+ read: length precedes the type bytes.
	if frame[4] != DefaultReadLength || frame[5] != 0x08 || frame[6] != 0x35 {
		t.Fatalf("EMS+ read layout = % X", frame)
	}

	tg, err := ParseTelegram(frame)
	if err != nil {
		t.Fatalf("ParseTelegram() error = %v", err)
	}
	if !tg.IsRead || tg.IsWrite {
		t.Errorf("IsRead=%v IsWrite=%v, want read", tg.IsRead, tg.IsWrite)
	}
	if tg.Dest != 0x09 {
		t.Errorf("Dest = %02X, want 09", tg.Dest)
	}
	if tg.TypeID != TypeEM100Set {
		t.Errorf("TypeID = 0x%X, want 0x935", tg.TypeID)
	}
	if len(tg.Data) != 1 || tg.Data[0] != DefaultReadLength {
		t.Errorf("Data = % X, want requested length", tg.Data)
	}
}

func TestParseTelegram_DirectedWrite(t *testing.T) {
	w := NewWriteTelegram(0x0B, 0x09, TypeEM100Set, 3, []byte{23})
	tg, err := ParseTelegram(w.Encode())
	if err != nil {
		t.Fatalf("ParseTelegram() error = %v", err)
	}
	if !tg.IsWrite {
		t.Error("IsWrite = false for directed frame")
	}
	if tg.Offset != 3 || !bytes.Equal(tg.Data, []byte{23}) {
		t.Errorf("offset %d data % X, want 3 / 17", tg.Offset, tg.Data)
	}
}

func TestParseTelegram_Errors(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  error
	}{
		{"empty", nil, ErrInvalidTelegram},
		{"header only", []byte{0x08, 0x00, 0x18, 0x00}, ErrInvalidTelegram},
		{"bad crc", []byte{0x08, 0x00, 0x18, 0x00, 0x01, 0x00}, ErrCRCMismatch},
		{"too long", withCRC(make([]byte, MaxFrameLength)...), ErrInvalidTelegram},
		{"truncated ems+", withCRC(0x09, 0x00, 0xFF, 0x00, 0x08), ErrInvalidTelegram},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTelegram(tt.frame)
			if !errors.Is(err, tt.want) {
				t.Errorf("ParseTelegram() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTelegram_EncodeEMS1(t *testing.T) {
	w := NewWriteTelegram(0x0B, 0x08, 0x33, 2, []byte{0x2D})
	got := w.Encode()
	want := withCRC(0x0B, 0x08, 0x33, 0x02, 0x2D)
	if !bytes.Equal(got, want) {
		t.Errorf("Encode() = % X, want % X", got, want)
	}
}

func TestTelegram_String(t *testing.T) {
	w := NewWriteTelegram(0x0B, 0x09, TypeEM100Set, 3, []byte{23})
	s := w.String()
	for _, part := range []string{"0B->09", "WRITE", "0x935", "offset:3", "17"} {
		if !strings.Contains(s, part) {
			t.Errorf("String() = %q, missing %q", s, part)
		}
	}
}
