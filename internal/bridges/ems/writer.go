package ems

import (
	"fmt"
)

// Transport accepts outbound telegrams. Submit must not wait for the bus;
// it queues the telegram or fails immediately (e.g. ErrQueueFull).
type Transport interface {
	Submit(t Telegram) error
}

// WriteState is a step of a set-request.
type WriteState uint8

// Write states. A request moves Idle → Validating and then either to
// Rejected, or through Encoding to Submitted.
const (
	WriteIdle WriteState = iota
	WriteValidating
	WriteRejected
	WriteEncoding
	WriteSubmitted
)

// String returns the state name.
func (s WriteState) String() string {
	switch s {
	case WriteValidating:
		return "validating"
	case WriteRejected:
		return "rejected"
	case WriteEncoding:
		return "encoding"
	case WriteSubmitted:
		return "submitted"
	default:
		return "idle"
	}
}

// WriteResult is the outcome of one set-request.
type WriteResult struct {
	State    WriteState
	Field    FieldDescriptor
	Telegram Telegram
	Err      error
}

// OK reports whether the telegram was handed to the transport.
func (r WriteResult) OK() bool {
	return r.State == WriteSubmitted
}

// CommandWriter turns textual set-requests into write telegrams.
type CommandWriter struct {
	transport  Transport
	source     byte
	fahrenheit bool
	logger     Logger
}

// WriterOption configures a CommandWriter.
type WriterOption func(*CommandWriter)

// WithSource sets the bus address written as telegram source.
func WithSource(addr byte) WriterOption {
	return func(w *CommandWriter) { w.source = addr }
}

// WithFahrenheit makes temperature input be read as Fahrenheit.
func WithFahrenheit(enabled bool) WriterOption {
	return func(w *CommandWriter) { w.fahrenheit = enabled }
}

// WithWriterLogger sets the logger.
func WithWriterLogger(l Logger) WriterOption {
	return func(w *CommandWriter) { w.logger = loggerOrNop(l) }
}

// NewCommandWriter creates a writer that submits to transport.
func NewCommandWriter(transport Transport, opts ...WriterOption) *CommandWriter {
	w := &CommandWriter{
		transport: transport,
		source:    AddrGateway,
		logger:    nopLogger{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// SetField sets a device value from text. It returns false, and sends
// nothing, when the field is unknown, read-only or the text does not parse.
func (w *CommandWriter) SetField(d *Device, tag Tag, name, text string) bool {
	return w.Write(d, tag, name, text).OK()
}

// Write runs a set-request through validation, encoding and submission.
//
// Parameters:
//   - d: Target device
//   - tag: Field tag
//   - name: Field name
//   - text: New value as entered by the user
//
// Returns:
//   - WriteResult: Final state, the composed telegram and the reason for
//     a rejection
func (w *CommandWriter) Write(d *Device, tag Tag, name, text string) WriteResult {
	res := WriteResult{State: WriteValidating}

	f, ok := d.Registry().Lookup(tag, name)
	if !ok {
		return w.reject(d, res, fmt.Errorf("%w: %s/%s", ErrFieldNotFound, tag, name))
	}
	res.Field = f
	if f.Write == nil {
		return w.reject(d, res, fmt.Errorf("%w: %s", ErrReadOnly, f.Key()))
	}

	v, ok := w.parse(f, text)
	if !ok {
		return w.reject(d, res, fmt.Errorf("%w: %q for %s", ErrInvalidValue, text, f.Key()))
	}

	raw := f.Op.Invert(v)
	if !Representable(raw, f.Type) {
		lo, hi := RawRange(f.Type)
		return w.reject(d, res, fmt.Errorf("%w: %q for %s encodes to %d, outside %d..%d",
			ErrInvalidValue, text, f.Key(), raw, lo, hi))
	}

	res.State = WriteEncoding
	h := f.Write
	res.Telegram = NewWriteTelegram(w.source, d.BusID, h.TypeID, h.Offset, EncodeRaw(raw, f.Type))

	if err := w.transport.Submit(res.Telegram); err != nil {
		return w.reject(d, res, fmt.Errorf("submitting write: %w", err))
	}
	res.State = WriteSubmitted

	w.logger.Debug("write submitted",
		"device_id", d.ID,
		"field", f.Key(),
		"value", text,
		"raw", raw,
		"telegram", res.Telegram.String(),
	)

	if h.ReadBack {
		width := byte(f.Type.Width()) //nolint:gosec // width is at most 4
		if err := w.transport.Submit(NewReadTelegram(w.source, d.BusID, h.TypeID, h.Offset, width)); err != nil {
			w.logger.Debug("read-back not queued", "device_id", d.ID, "field", f.Key(), "error", err)
		}
	}
	return res
}

func (w *CommandWriter) reject(d *Device, res WriteResult, err error) WriteResult {
	res.State = WriteRejected
	res.Err = err
	w.logger.Warn("write rejected", "device_id", d.ID, "error", err)
	return res
}

// parse converts text into the display domain according to the field's
// type and unit, honouring a custom Parser on the write handler.
func (w *CommandWriter) parse(f FieldDescriptor, text string) (float64, bool) {
	if f.Write.Parse != nil {
		return f.Write.Parse(text, f)
	}

	switch f.Type {
	case TypeBool:
		b, ok := Value2Bool(text)
		return float64(boolRaw(b)), ok
	case TypeEnum:
		n, ok := Value2Enum(text, f.Options)
		return float64(n), ok
	}

	switch {
	case f.Unit == UnitDegrees && f.Op == OpNone:
		t, ok := Value2Temperature(text, w.fahrenheit, int(f.Min), int(f.Max))
		return float64(t), ok
	case f.Unit == UnitPercent && f.Op == OpNone:
		p, ok := Value2Percent(text)
		return float64(p), ok && inRange(f, float64(p))
	}

	v, ok := Value2Float(text)
	if !ok {
		return 0, false
	}
	if f.Unit == UnitDegrees && w.fahrenheit {
		v = (v - 32) * 5 / 9 //nolint:mnd // Fahrenheit to Celsius
	}
	return v, inRange(f, v)
}

func inRange(f FieldDescriptor, v float64) bool {
	if f.Min == f.Max {
		return true
	}
	return v >= f.Min && v <= f.Max
}
