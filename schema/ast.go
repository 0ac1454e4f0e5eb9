package schema

// The AST types below mirror the untyped tree the parser (C2) produces
// directly from schema text. Nodes that can fail independently during
// resolution carry Line/Col fields, which the parser leaves at zero. The
// resolver (C3)
// consumes a SchemaAst and produces a resolved Schema (model.go); nothing in
// this file performs lookups or validation.

// AnnotationAst is a single `@name=value` annotation attached inline to a
// group, field, enum, typedef, or the schema itself.
type AnnotationAst struct {
	Name  QName
	Value string
}

// TypeRefAst is a closed sum of the ways a field, typedef, or sequence
// element can reference a type in source text, before resolution binds
// NamedTypeRef to an actual GroupDef/EnumDef/TypeDef.
type TypeRefAst interface {
	typeRefAst()
}

// PrimitiveTypeRef names one of the fixed primitive kinds (§3.2), e.g. "u32"
// or "decimal".
type PrimitiveTypeRef struct {
	Name string
}

func (PrimitiveTypeRef) typeRefAst() {}

// BinaryTypeRef is string/binary (Kind "string"/"binary", optional max size)
// or fixed (Kind "fixed", mandatory exact Size).
type BinaryTypeRef struct {
	Kind    string
	Size    int
	HasSize bool
}

func (BinaryTypeRef) typeRefAst() {}

// SequenceTypeRef is `sequence<Element>`. Element must not itself be a
// SequenceTypeRef; that constraint is enforced by the resolver, not the
// parser, since it requires a resolved Element to check.
type SequenceTypeRef struct {
	Element TypeRefAst
}

func (SequenceTypeRef) typeRefAst() {}

// ObjectTypeRef is the universal dynamic reference `object`: any group.
type ObjectTypeRef struct{}

func (ObjectTypeRef) typeRefAst() {}

// GroupRefMode records how a named reference is marked in source text: a
// trailing `*` (`Foo*`) yields GroupRefModeDynamic and a bare `Foo` yields
// GroupRefModeUnspecified, which the resolver treats as a static reference.
// The parser never produces GroupRefModeStatic.
type GroupRefMode int

const (
	GroupRefModeUnspecified GroupRefMode = iota
	GroupRefModeStatic
	GroupRefModeDynamic
)

// NamedTypeRef references a typedef, enum, or group by qualified name,
// resolved against the schema's namespace at resolve time.
type NamedTypeRef struct {
	Name QName
	Mode GroupRefMode
}

func (NamedTypeRef) typeRefAst() {}

// FieldAst is one field in a group definition's field list.
type FieldAst struct {
	Name        string
	TypeRef     TypeRefAst
	Optional    bool
	Annotations []AnnotationAst
	Line, Col   int
}

// GroupDefAst is a parsed `Name/typeId : Super { fields }` declaration.
type GroupDefAst struct {
	Name        QName
	TypeID      uint64
	HasTypeID   bool
	Fields      []FieldAst
	Super       QName
	HasSuper    bool
	Annotations []AnnotationAst
	Line, Col   int
}

// EnumSymbolAst is one `Symbol = N` entry in an enum definition.
type EnumSymbolAst struct {
	Name        string
	Value       int32
	Annotations []AnnotationAst
}

// EnumDefAst is a parsed `enum Name { symbols }` declaration.
type EnumDefAst struct {
	Name        QName
	Symbols     []EnumSymbolAst
	Annotations []AnnotationAst
	Line, Col   int
}

// TypeDefAst is a parsed `Name = TypeRef` alias declaration.
type TypeDefAst struct {
	Name        QName
	TypeRef     TypeRefAst
	Annotations []AnnotationAst
	Line, Col   int
}

// ComponentRefAst names a schema component, optionally drilling into one of
// its members (a field or enum symbol), as the target of an incremental
// annotation: `Group.field <- @x="y"` or `Enum.symbol <- @x="y"`.
type ComponentRefAst struct {
	Name      QName
	Member    string
	HasMember bool
}

// IncrementalAnnotationAst is a standalone `target <- @x="y", @a="b"`
// directive, merged onto its target after the target's own inline
// annotations, in lexical order (§4.3 rule 4).
type IncrementalAnnotationAst struct {
	Target      ComponentRefAst
	Annotations []AnnotationAst
	Line, Col   int
}

// SchemaAst is the parser's complete output for one schema text: the
// namespace directive plus every top-level declaration in lexical order.
type SchemaAst struct {
	Namespace              string
	HasNamespace           bool
	Enums                  []EnumDefAst
	TypeDefs               []TypeDefAst
	Groups                 []GroupDefAst
	SchemaAnnotations      []AnnotationAst
	IncrementalAnnotations []IncrementalAnnotationAst
}
