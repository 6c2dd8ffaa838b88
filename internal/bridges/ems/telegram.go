package ems

import (
	"fmt"
	"time"
)

// Bus addressing.
const (
	// AddrBroadcast is the destination of broadcast telegrams.
	AddrBroadcast byte = 0x00

	// AddrGateway is the default bus address used by the bridge.
	AddrGateway byte = 0x0B

	// readFlag marks a read request in the destination byte.
	readFlag byte = 0x80
)

// Frame layout constants.
const (
	// emsPlusMarker is the lowest type byte that introduces an EMS+ header.
	emsPlusMarker byte = 0xF0

	// emsPlusType is the type byte written for EMS+ telegrams.
	emsPlusType byte = 0xFF

	// emsPlusBase is added to the 16-bit wire type to form an EMS+ type ID.
	emsPlusBase uint16 = 0x100

	// emsHeaderSize is src, dest, type and offset.
	emsHeaderSize = 4

	// emsPlusHeaderSize adds the two wire type bytes.
	emsPlusHeaderSize = 6

	// MaxFrameLength is the longest frame the bus carries, including CRC.
	MaxFrameLength = 32

	// MaxMessageLength bounds the absolute offset space of one telegram type.
	MaxMessageLength = 256

	// DefaultReadLength is the number of bytes requested by a fetch.
	DefaultReadLength byte = 0x1B
)

// Telegram is one decoded bus frame.
//
// A Telegram is never modified after construction. Decoders receive it by
// pointer and must treat Data as read-only.
type Telegram struct {
	// Source is the sender's bus address.
	Source byte

	// Dest is the destination bus address, AddrBroadcast for broadcasts.
	Dest byte

	// TypeID identifies the telegram layout.
	TypeID uint16

	// Offset is the absolute position of Data[0] within the message.
	Offset byte

	// Data is the payload, without header and CRC.
	Data []byte

	// IsWrite is true for directed writes that set a value on Dest.
	IsWrite bool

	// IsRead is true for read requests. Data[0] then holds the
	// requested length and no values are carried.
	IsRead bool

	// Timestamp records when the telegram was received or created.
	Timestamp time.Time
}

// IsEMSPlus reports whether the type needs the extended header.
func (t Telegram) IsEMSPlus() bool {
	return t.TypeID >= emsPlusBase
}

// ParseTelegram parses a raw frame including its trailing CRC byte.
//
// EMS 1.0 frame:
//
//	src | dest | type | offset | data... | crc
//
// EMS+ frame (type byte >= 0xF0):
//
//	src | dest | 0xFF | offset | typeHi | typeLo | data... | crc
//
// Read requests set bit 7 of dest. For EMS+ reads the requested length
// precedes the type bytes.
//
// Directed frames (dest not broadcast) are flagged IsWrite. A receiver
// that owns the destination address should treat them as responses.
//
// Parameters:
//   - frame: Raw bytes as delivered by the gateway
//
// Returns:
//   - Telegram: Parsed telegram with timestamp set to now
//   - error: ErrInvalidTelegram or ErrCRCMismatch
func ParseTelegram(frame []byte) (Telegram, error) {
	if len(frame) < emsHeaderSize+1 {
		return Telegram{}, fmt.Errorf("%w: too short (%d bytes)", ErrInvalidTelegram, len(frame))
	}
	if len(frame) > MaxFrameLength {
		return Telegram{}, fmt.Errorf("%w: too long (%d bytes)", ErrInvalidTelegram, len(frame))
	}

	body := frame[:len(frame)-1]
	if want, got := CRC(body), frame[len(frame)-1]; want != got {
		return Telegram{}, fmt.Errorf("%w: got %02X, want %02X", ErrCRCMismatch, got, want)
	}

	t := Telegram{
		Source:    body[0] & 0x7F,
		Dest:      body[1] &^ readFlag,
		Offset:    body[3],
		IsRead:    body[1]&readFlag != 0,
		Timestamp: time.Now(),
	}

	var data []byte
	if body[2] < emsPlusMarker {
		t.TypeID = uint16(body[2])
		data = body[emsHeaderSize:]
	} else {
		hdr := emsPlusHeaderSize
		typeAt := emsHeaderSize
		if t.IsRead {
			// length byte sits before the type bytes
			hdr++
			typeAt++
		}
		if len(body) < hdr {
			return Telegram{}, fmt.Errorf("%w: truncated EMS+ header", ErrInvalidTelegram)
		}
		t.TypeID = (uint16(body[typeAt])<<8 | uint16(body[typeAt+1])) + emsPlusBase
		data = body[hdr:]
		if t.IsRead {
			data = body[emsHeaderSize : emsHeaderSize+1]
		}
	}

	if len(data) > 0 {
		t.Data = make([]byte, len(data))
		copy(t.Data, data)
	}
	t.IsWrite = !t.IsRead && t.Dest != AddrBroadcast
	return t, nil
}

// Encode returns the wire frame for the telegram, CRC included.
func (t Telegram) Encode() []byte {
	dest := t.Dest
	if t.IsRead {
		dest |= readFlag
	}

	buf := make([]byte, 0, emsPlusHeaderSize+1+len(t.Data)+1)
	buf = append(buf, t.Source, dest)

	if !t.IsEMSPlus() {
		buf = append(buf, byte(t.TypeID), t.Offset)
		buf = append(buf, t.Data...)
	} else {
		wire := t.TypeID - emsPlusBase
		buf = append(buf, emsPlusType, t.Offset)
		if t.IsRead {
			// requested length precedes the type
			buf = append(buf, t.Data...)
			buf = append(buf, byte(wire>>8), byte(wire))
		} else {
			buf = append(buf, byte(wire>>8), byte(wire))
			buf = append(buf, t.Data...)
		}
	}

	return append(buf, CRC(buf))
}

// String returns a human-readable representation of the telegram.
func (t Telegram) String() string {
	kind := "BROADCAST"
	switch {
	case t.IsRead:
		kind = "READ"
	case t.IsWrite:
		kind = "WRITE"
	}

	return fmt.Sprintf("Telegram{%02X->%02X, %s, type:0x%X, offset:%d, data:<%s>}",
		t.Source, t.Dest, kind, t.TypeID, t.Offset, EncodeHexFrame(t.Data))
}

// NewWriteTelegram creates a directed write telegram.
//
// Parameters:
//   - src: Sender bus address (normally the gateway)
//   - dest: Device bus address
//   - typeID: Telegram type holding the value
//   - offset: Absolute offset of data[0]
//   - data: Encoded value bytes
//
// Returns:
//   - Telegram: Ready to submit to a Transport
func NewWriteTelegram(src, dest byte, typeID uint16, offset byte, data []byte) Telegram {
	return Telegram{
		Source:    src,
		Dest:      dest,
		TypeID:    typeID,
		Offset:    offset,
		Data:      data,
		IsWrite:   true,
		Timestamp: time.Now(),
	}
}

// NewReadTelegram creates a read request for length bytes of a type,
// starting at offset.
func NewReadTelegram(src, dest byte, typeID uint16, offset, length byte) Telegram {
	return Telegram{
		Source:    src,
		Dest:      dest,
		TypeID:    typeID,
		Offset:    offset,
		Data:      []byte{length},
		IsRead:    true,
		Timestamp: time.Now(),
	}
}

// CRC computes the EMS checksum of a frame body.
func CRC(data []byte) byte {
	var crc byte
	for _, b := range data {
		carry := crc&0x80 != 0
		if carry {
			crc ^= 0x0C
		}
		crc <<= 1
		if carry {
			crc |= 0x01
		}
		crc ^= b
	}
	return crc
}
