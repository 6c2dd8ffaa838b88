package ems

import (
	"fmt"
	"iter"
)

// FieldID addresses a field descriptor and its value cell within a device.
type FieldID int

// Parser converts user text into a display-domain number for a field.
type Parser func(text string, f FieldDescriptor) (float64, bool)

// WriteHandler gives a field its setter capability: where a new value is
// written on the bus and, optionally, how its text is parsed.
type WriteHandler struct {
	// TypeID is the telegram type that accepts the write.
	TypeID uint16

	// Offset is the absolute offset of the value in that type.
	Offset byte

	// Parse overrides the unit-based default parser when set.
	Parse Parser

	// ReadBack requests the written type again after submission.
	ReadBack bool
}

// FieldDescriptor describes one device value and where it lives on the bus.
type FieldDescriptor struct {
	ID    FieldID
	Tag   Tag
	Name  string
	Label string

	Type ValueType
	Op   NumOp
	Unit Unit

	// TypeID and Offset locate the value in broadcast telegrams.
	TypeID uint16
	Offset byte

	// Mask selects a single bit for TypeBool. Zero means the whole byte.
	Mask byte

	// Min and Max bound accepted writes in the display domain.
	// Equal values disable the check.
	Min float64
	Max float64

	// Options names the values of a TypeEnum field.
	Options []string

	// Write is nil for read-only fields.
	Write *WriteHandler
}

// Writable reports whether the field accepts set-requests.
func (f FieldDescriptor) Writable() bool {
	return f.Write != nil
}

// Key returns "tag/name", the field's external identifier.
func (f FieldDescriptor) Key() string {
	return f.Tag.String() + "/" + f.Name
}

type fieldKey struct {
	tag  Tag
	name string
}

type slotKey struct {
	typeID uint16
	offset byte
	mask   byte
}

// Registry is the append-only, ordered set of field descriptors of one
// device. Fields are registered while the device is constructed; after
// that the registry is only read.
type Registry struct {
	fields []FieldDescriptor
	byName map[fieldKey]FieldID
	bySlot map[slotKey]FieldID
	byType map[uint16][]FieldID
	logger Logger
}

// NewRegistry creates an empty registry. A nil logger discards messages.
func NewRegistry(logger Logger) *Registry {
	return &Registry{
		byName: make(map[fieldKey]FieldID),
		bySlot: make(map[slotKey]FieldID),
		byType: make(map[uint16][]FieldID),
		logger: loggerOrNop(logger),
	}
}

// Register appends a descriptor and returns its FieldID.
//
// Invalid descriptors are refused with an error wrapping ErrInvalidField or
// ErrDuplicateField; the registry stays usable and unchanged.
//
// Parameters:
//   - desc: Descriptor to add; its ID field is assigned here
//
// Returns:
//   - FieldID: Index of the new field
//   - error: If the descriptor was refused
func (r *Registry) Register(desc FieldDescriptor) (FieldID, error) {
	if err := r.validate(desc); err != nil {
		r.logger.Warn("field registration refused",
			"tag", desc.Tag.String(),
			"name", desc.Name,
			"type_id", fmt.Sprintf("0x%X", desc.TypeID),
			"offset", desc.Offset,
			"error", err,
		)
		return -1, err
	}

	id := FieldID(len(r.fields))
	desc.ID = id
	r.fields = append(r.fields, desc)
	r.byName[fieldKey{desc.Tag, desc.Name}] = id
	r.bySlot[slotKey{desc.TypeID, desc.Offset, desc.Mask}] = id
	r.byType[desc.TypeID] = append(r.byType[desc.TypeID], id)
	return id, nil
}

func (r *Registry) validate(desc FieldDescriptor) error {
	if desc.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidField)
	}
	if !desc.Type.Valid() {
		return fmt.Errorf("%w: unknown value type %s", ErrInvalidField, desc.Type)
	}
	if int(desc.Offset)+desc.Type.Width() > MaxMessageLength {
		return fmt.Errorf("%w: offset %d with width %d exceeds message length",
			ErrInvalidField, desc.Offset, desc.Type.Width())
	}
	if desc.Mask != 0 && desc.Type != TypeBool {
		return fmt.Errorf("%w: bit mask on non-bool field", ErrInvalidField)
	}
	if desc.Mask != 0 && desc.Write != nil {
		return fmt.Errorf("%w: bit-mapped fields are read-only", ErrInvalidField)
	}
	if desc.Type == TypeEnum && len(desc.Options) == 0 {
		return fmt.Errorf("%w: enum without options", ErrInvalidField)
	}
	if w := desc.Write; w != nil && int(w.Offset)+desc.Type.Width() > MaxMessageLength {
		return fmt.Errorf("%w: write offset %d exceeds message length", ErrInvalidField, w.Offset)
	}
	if _, ok := r.byName[fieldKey{desc.Tag, desc.Name}]; ok {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateField, desc.Tag, desc.Name)
	}
	if other, ok := r.bySlot[slotKey{desc.TypeID, desc.Offset, desc.Mask}]; ok {
		return fmt.Errorf("%w: type 0x%X offset %d already holds %s",
			ErrDuplicateField, desc.TypeID, desc.Offset, r.fields[other].Name)
	}
	return nil
}

// Lookup finds a field by tag and name.
func (r *Registry) Lookup(tag Tag, name string) (FieldDescriptor, bool) {
	id, ok := r.byName[fieldKey{tag, name}]
	if !ok {
		return FieldDescriptor{}, false
	}
	return r.fields[id], true
}

// Field returns the descriptor with the given ID.
func (r *Registry) Field(id FieldID) (FieldDescriptor, bool) {
	if id < 0 || int(id) >= len(r.fields) {
		return FieldDescriptor{}, false
	}
	return r.fields[id], true
}

// All yields every descriptor in registration order. The sequence can be
// ranged over any number of times.
func (r *Registry) All() iter.Seq[FieldDescriptor] {
	return func(yield func(FieldDescriptor) bool) {
		for _, f := range r.fields {
			if !yield(f) {
				return
			}
		}
	}
}

// ByTag yields the descriptors of one tag in registration order.
func (r *Registry) ByTag(tag Tag) iter.Seq[FieldDescriptor] {
	return func(yield func(FieldDescriptor) bool) {
		for _, f := range r.fields {
			if f.Tag == tag && !yield(f) {
				return
			}
		}
	}
}

// ForType returns the fields located in a telegram type, in registration
// order. The returned slice must not be modified.
func (r *Registry) ForType(typeID uint16) []FieldID {
	return r.byType[typeID]
}

// Len returns the number of registered fields.
func (r *Registry) Len() int {
	return len(r.fields)
}
