package ems

import "errors"

// Domain errors for the EMS bridge package.
var (
	// ErrInvalidTelegram is returned when a frame is malformed.
	ErrInvalidTelegram = errors.New("ems: invalid telegram")

	// ErrCRCMismatch is returned when a frame's checksum does not match.
	ErrCRCMismatch = errors.New("ems: crc mismatch")

	// ErrInvalidField is returned when a field descriptor cannot be registered.
	ErrInvalidField = errors.New("ems: invalid field descriptor")

	// ErrDuplicateField is returned when a (tag, name) pair or a
	// (type, offset, bit) slot is registered twice.
	ErrDuplicateField = errors.New("ems: duplicate field")

	// ErrFieldNotFound is returned when a field lookup fails.
	ErrFieldNotFound = errors.New("ems: field not found")

	// ErrReadOnly is returned when a write targets a field without a setter.
	ErrReadOnly = errors.New("ems: field is read-only")

	// ErrInvalidValue is returned when a textual value cannot be converted.
	ErrInvalidValue = errors.New("ems: invalid value")

	// ErrDuplicateType is returned when a telegram type is bound twice.
	ErrDuplicateType = errors.New("ems: duplicate telegram type")

	// ErrUnknownDeviceType is returned when the factory has no constructor
	// for a device type.
	ErrUnknownDeviceType = errors.New("ems: unknown device type")

	// ErrFactoryFrozen is returned when a constructor is registered after
	// the factory has been frozen.
	ErrFactoryFrozen = errors.New("ems: factory is frozen")

	// ErrFactoryNotFrozen is returned when a device is built before the
	// factory has been frozen.
	ErrFactoryNotFrozen = errors.New("ems: factory is not frozen")

	// ErrDeviceNotFound is returned when a device ID is not known.
	ErrDeviceNotFound = errors.New("ems: device not found")

	// ErrNotConnected is returned when the gateway connection is down.
	ErrNotConnected = errors.New("ems: not connected to gateway")

	// ErrConnectionFailed is returned when connecting to the gateway fails.
	ErrConnectionFailed = errors.New("ems: connection to gateway failed")

	// ErrQueueFull is returned when the transmit queue cannot accept a
	// telegram without blocking.
	ErrQueueFull = errors.New("ems: transmit queue full")
)
