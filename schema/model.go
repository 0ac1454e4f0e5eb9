package schema

import "fmt"

// PrimitiveKind is one of the fixed scalar primitive types named in §3.2.
// Modeled as a closed Go constant set the way vdl.Kind closes over VOM's
// value kinds, rather than as a free-form string, so resolution and every
// codec switch exhaustively over it.
type PrimitiveKind int

const (
	U8 PrimitiveKind = iota
	U16
	U32
	U64
	I8
	I16
	I32
	I64
	Bool
	F64
	Decimal
	MilliTime
	NanoTime
	Date
	TimeOfDayMilli
	TimeOfDayNano
)

var primitiveNames = [...]string{
	U8: "u8", U16: "u16", U32: "u32", U64: "u64",
	I8: "i8", I16: "i16", I32: "i32", I64: "i64",
	Bool: "bool", F64: "f64", Decimal: "decimal",
	MilliTime: "millitime", NanoTime: "nanotime", Date: "date",
	TimeOfDayMilli: "timeOfDayMilli", TimeOfDayNano: "timeOfDayNano",
}

func (k PrimitiveKind) String() string {
	if int(k) < len(primitiveNames) {
		return primitiveNames[k]
	}
	return fmt.Sprintf("PrimitiveKind(%d)", int(k))
}

// PrimitiveKindFromName maps a schema-text primitive name to its Kind, ok
// false if name isn't one of the sixteen primitives.
func PrimitiveKindFromName(name string) (PrimitiveKind, bool) {
	for i, n := range primitiveNames {
		if n == name {
			return PrimitiveKind(i), true
		}
	}
	return 0, false
}

// Type is the closed sum of resolved field/typedef/sequence-element types
// (§3.2). Every codec and the resolver switch over this with a type switch;
// there is no escape hatch for an unrecognized variant because the set is
// closed at compile time, mirroring vdl.Type's approach to a fixed Kind
// universe rather than open interface dispatch.
type Type interface {
	typ()
}

// PrimitiveType wraps one scalar primitive kind.
type PrimitiveType struct {
	Kind PrimitiveKind
}

func (PrimitiveType) typ() {}

// BinaryKind distinguishes the three byte-bearing shapes in §3.2.
type BinaryKind int

const (
	BinaryKindString BinaryKind = iota
	BinaryKindBinary
	BinaryKindFixed
)

// BinaryType is string/binary (optional Max) or fixed (mandatory exact
// Size, Kind == BinaryKindFixed, Size >= 1 enforced by the resolver).
type BinaryType struct {
	Kind   BinaryKind
	Max    int
	HasMax bool
	Size   int
}

func (BinaryType) typ() {}

// SequenceType is `sequence<Element>`. The resolver rejects Element being
// itself a SequenceType (nested sequences, §3.2/§4.3 rule 5).
type SequenceType struct {
	Element Type
}

func (SequenceType) typ() {}

// StaticGroupRef inlines another group's fields directly (nullable via
// presence, never carrying its own type id on the wire).
type StaticGroupRef struct {
	Group *GroupDef
}

func (StaticGroupRef) typ() {}

// DynamicGroupRef is a runtime-polymorphic reference: the decoded value's
// actual type must be Group or one of its descendants (§3.2, W15).
type DynamicGroupRef struct {
	Group *GroupDef
}

func (DynamicGroupRef) typ() {}

// ObjectType is `object`, the universal dynamic reference: any group at
// all, with no base-type constraint.
type ObjectType struct{}

func (ObjectType) typ() {}

// EnumRef references a resolved EnumDef as a field's type.
type EnumRef struct {
	Enum *EnumDef
}

func (EnumRef) typ() {}

// Annotations is an ordered set of opaque key/value pairs keyed by QName.
// Iteration order is insertion order (lexical merge order, §4.3 rule 4), so
// it is a slice rather than a map; Get still does point lookup.
type Annotations struct {
	entries []annotationEntry
}

type annotationEntry struct {
	Name  QName
	Value string
}

// Set assigns value to name, overwriting any earlier value for the same
// name (later values win during merge, §4.3 rule 4) while preserving that
// name's original position when it already existed.
func (a *Annotations) Set(name QName, value string) {
	for i := range a.entries {
		if a.entries[i].Name.Equal(name) {
			a.entries[i].Value = value
			return
		}
	}
	a.entries = append(a.entries, annotationEntry{Name: name, Value: value})
}

// Get returns the value for name and whether it is present.
func (a *Annotations) Get(name QName) (string, bool) {
	for _, e := range a.entries {
		if e.Name.Equal(name) {
			return e.Value, true
		}
	}
	return "", false
}

// Len reports the number of distinct annotation names.
func (a *Annotations) Len() int { return len(a.entries) }

// Each calls fn for every annotation in merge order.
func (a *Annotations) Each(fn func(name QName, value string)) {
	for _, e := range a.entries {
		fn(e.Name, e.Value)
	}
}

// FieldDef is a single resolved field (§3.4). Name uniqueness across a
// group's linearized field list is validated by the resolver, not here.
type FieldDef struct {
	Name        string
	Type        Type
	Optional    bool
	Annotations Annotations
}

// GroupDef is a resolved group (§3.3). Super is nil for a root group.
// Fields holds only this group's locally declared fields; AllFields walks
// the inheritance chain to produce the linearized list.
type GroupDef struct {
	Name        QName
	TypeID      uint64
	HasTypeID   bool
	Fields      []FieldDef
	Super       *GroupDef
	Annotations Annotations
}

// AllFields returns the linearized field list: super's fields, in their own
// linearized order, followed by this group's local fields (§3.3).
func (g *GroupDef) AllFields() []FieldDef {
	if g.Super == nil {
		return g.Fields
	}
	out := append([]FieldDef{}, g.Super.AllFields()...)
	return append(out, g.Fields...)
}

// IsDescendantOf reports whether g is base or a group derived from base
// through zero or more Super links, used to validate DynamicGroupRef values
// (§3.2, W15) and Object values against their declared field's base.
func (g *GroupDef) IsDescendantOf(base *GroupDef) bool {
	for cur := g; cur != nil; cur = cur.Super {
		if cur == base {
			return true
		}
	}
	return false
}

// EnumDef is a resolved enum (§3.5): an ordered symbol -> i32 mapping with
// unique values, plus per-symbol annotations supplementing the spec's
// group/enum-level annotation merging (SPEC_FULL §3).
type EnumDef struct {
	Name        QName
	Symbols     []EnumSymbol
	Annotations Annotations
}

// EnumSymbol is one name/value pair within an EnumDef.
type EnumSymbol struct {
	Name        string
	Value       int32
	Annotations Annotations
}

// ToSymbol returns the symbol name for value, ok false if no symbol has
// that value (an unmapped enum value is a weak error at the codec layer,
// not here).
func (e *EnumDef) ToSymbol(value int32) (string, bool) {
	for _, s := range e.Symbols {
		if s.Value == value {
			return s.Name, true
		}
	}
	return "", false
}

// ToValue returns the i32 value for symbol, ok false if symbol is unknown.
func (e *EnumDef) ToValue(symbol string) (int32, bool) {
	for _, s := range e.Symbols {
		if s.Name == symbol {
			return s.Value, true
		}
	}
	return 0, false
}

// Schema is the resolver's frozen output (§3.8): groups and enums indexed
// by qualified name, plus the numeric type-id index used by the Compact and
// Native codecs. TypeDefs are resolved away during resolution (every
// TypeDef reference is replaced by its resolved Type), so Schema carries no
// typedef table of its own.
type Schema struct {
	Namespace   string
	Groups      map[string]*GroupDef
	Enums       map[string]*EnumDef
	TypeIDs     map[uint64]*GroupDef
	Annotations Annotations
}

// NewSchema returns an empty Schema for namespace, ready for AddGroup/AddEnum.
func NewSchema(namespace string) *Schema {
	return &Schema{
		Namespace: namespace,
		Groups:    make(map[string]*GroupDef),
		Enums:     make(map[string]*EnumDef),
		TypeIDs:   make(map[uint64]*GroupDef),
	}
}

// GroupByName returns the group named by qname, ok false if absent.
func (s *Schema) GroupByName(qname QName) (*GroupDef, bool) {
	g, ok := s.Groups[qname.String()]
	return g, ok
}

// GroupByID returns the group registered at typeID, ok false if absent.
func (s *Schema) GroupByID(typeID uint64) (*GroupDef, bool) {
	g, ok := s.TypeIDs[typeID]
	return g, ok
}

// EnumByName returns the enum named by qname, ok false if absent.
func (s *Schema) EnumByName(qname QName) (*EnumDef, bool) {
	e, ok := s.Enums[qname.String()]
	return e, ok
}
