// Package ems implements the EMS heating bus bridge for Gray Logic.
//
// EMS (Energy Management System) is the two-wire bus used by Bosch,
// Buderus, Nefit and related boilers, thermostats and extension modules.
// Devices broadcast fixed-layout binary telegrams identified by a type ID.
// Each device value (a temperature, a voltage, a mode) lives at a byte
// offset inside one telegram type.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐
//	│   Gray Logic    │   MQTT   │   EMS Bridge    │  gateway
//	│      Core       │◄────────►│   (this pkg)    │◄────────► EMS Bus
//	└─────────────────┘          └─────────────────┘
//
// The protocol core is made of four parts:
//
//   - Registry: ordered, append-only field descriptors per device
//   - Codec: decodes a field out of a telegram and reports whether the
//     stored raw value changed (HasUpdate)
//   - CommandWriter: turns a textual set-request into a write telegram
//   - Dispatcher: routes a telegram by type ID to its Decoder
//
// Device profiles are built once through an explicit Factory that is frozen
// after startup. Values are stored in a per-device cell arena addressed by
// FieldID.
//
// # Byte order and sentinels
//
// Multi-byte values are read least significant byte first. Payloads that
// carry the "no data" pattern for their width (all bits set for unsigned
// values, the most negative pattern for signed values) never update a cell.
//
// # Thread Safety
//
// Telegrams are decoded on a single goroutine. Device values may be read
// concurrently from any goroutine through Device.Value and Device.Snapshot.
package ems
