// Package value implements the runtime value model (C5): the tagged
// in-memory representation every codec encodes from and decodes into,
// independent of any particular wire format.
package value

import "github.com/blinkproto/blink/schema"

// Value is the closed sum of everything a Blink field can hold (§3.6): an
// integer, float, bool, string, byte slice, Decimal, Sequence,
// StaticGroup, or Message. Absence (an optional field with no value) is
// represented by the field simply being missing from a FieldMap, never by
// a sentinel Value.
type Value interface {
	val()
}

// Int wraps a signed integer value (i8/i16/i32/i64).
type Int struct {
	V int64
}

func (Int) val() {}

// Uint wraps an unsigned integer value (u8/u16/u32/u64), plus date/time
// primitives, all of which are VLC integers on the wire (§4.5.2).
type Uint struct {
	V uint64
}

func (Uint) val() {}

// Float wraps an f64 value.
type Float struct {
	V float64
}

func (Float) val() {}

// Bool wraps a boolean value.
type Bool struct {
	V bool
}

func (Bool) val() {}

// Str wraps a string value.
type Str struct {
	V string
}

func (Str) val() {}

// Bytes wraps a binary or fixed(N) value.
type Bytes struct {
	V []byte
}

func (Bytes) val() {}

// Decimal is the exponent/mantissa pair backing the decimal primitive
// (§3.6).
type Decimal struct {
	Exponent int8
	Mantissa int64
}

func (Decimal) val() {}

// Sequence is an ordered list of values sharing a single element type.
type Sequence struct {
	Items []Value
}

func (Sequence) val() {}

// StaticGroup is an inlined group value: fields only, no type id or
// extension, since its type is known statically from the containing
// field's declared type (§3.6).
type StaticGroup struct {
	Fields FieldMap
}

func (StaticGroup) val() {}

// Message is a dynamic group value (§3.6): a self-describing frame
// carrying its own qualified type name, fields, and optional extension
// messages.
type Message struct {
	Type        schema.QName
	Fields      FieldMap
	Extension   []Message
	UnknownType bool
	RawTypeID   uint64
}

func (Message) val() {}

// FieldMap is an ordered name -> Value map, preserving declared field
// order the way GroupDef.AllFields() does, so re-encoding reproduces the
// original field order deterministically.
type FieldMap struct {
	entries []fieldEntry
}

type fieldEntry struct {
	Name  string
	Value Value
}

// Set assigns value to name, appending a new entry if name is new or
// overwriting in place if it already exists.
func (m *FieldMap) Set(name string, v Value) {
	for i := range m.entries {
		if m.entries[i].Name == name {
			m.entries[i].Value = v
			return
		}
	}
	m.entries = append(m.entries, fieldEntry{Name: name, Value: v})
}

// Get returns the value stored for name, ok false if the field is absent
// (an absent optional field, never an explicit null).
func (m *FieldMap) Get(name string) (Value, bool) {
	for _, e := range m.entries {
		if e.Name == name {
			return e.Value, true
		}
	}
	return nil, false
}

// Len reports the number of fields present.
func (m *FieldMap) Len() int { return len(m.entries) }

// Each calls fn for every field in insertion order.
func (m *FieldMap) Each(fn func(name string, v Value)) {
	for _, e := range m.entries {
		fn(e.Name, e.Value)
	}
}
