package schema

import (
	"github.com/blinkproto/blink/errs"
)

// Resolver turns a SchemaAst into a frozen Schema (§4.3). It performs name
// qualification, transitive enum/typedef/group resolution with cycle
// detection, inheritance linearization, and annotation merging in one pass
// driven lazily off the group/enum/typedef declaration tables, mirroring
// the lazy ensure_* memoization original_source/blink/schema/resolve.py
// uses to resolve forward references regardless of declaration order.
type Resolver struct {
	ast       SchemaAst
	namespace string

	enumAsts    map[string]EnumDefAst
	enumNames   map[string]QName
	enumCache   map[string]*EnumDef
	groupAsts   map[string]GroupDefAst
	groupNames  map[string]QName
	groupCache  map[string]*GroupDef
	typeDefAsts map[string]TypeDefAst
	typeCache   map[string]Type

	incremental map[string][]AnnotationAst

	building       map[string]bool
	resolvingTypes map[string]bool
	definitions    map[string]bool

	schema *Schema
}

// NewResolver builds a Resolver for ast.
func NewResolver(ast SchemaAst) *Resolver {
	r := &Resolver{
		ast:            ast,
		namespace:      ast.Namespace,
		enumAsts:       map[string]EnumDefAst{},
		enumNames:      map[string]QName{},
		enumCache:      map[string]*EnumDef{},
		groupAsts:      map[string]GroupDefAst{},
		groupNames:     map[string]QName{},
		groupCache:     map[string]*GroupDef{},
		typeDefAsts:    map[string]TypeDefAst{},
		typeCache:      map[string]Type{},
		incremental:    map[string][]AnnotationAst{},
		building:       map[string]bool{},
		resolvingTypes: map[string]bool{},
		definitions:    map[string]bool{},
	}
	if ast.HasNamespace {
		r.schema = NewSchema(ast.Namespace)
	} else {
		r.schema = NewSchema("")
	}
	return r
}

// Resolve runs the full resolution pipeline and returns the frozen Schema.
func Resolve(ast SchemaAst) (*Schema, error) {
	return NewResolver(ast).Resolve()
}

// Resolve drives registration then forces every declared enum and group,
// returning the assembled Schema or the first ResolveError encountered.
func (r *Resolver) Resolve() (*Schema, error) {
	if err := r.registerEnums(); err != nil {
		return nil, err
	}
	if err := r.registerTypeDefs(); err != nil {
		return nil, err
	}
	if err := r.registerGroups(); err != nil {
		return nil, err
	}
	if err := r.indexIncremental(); err != nil {
		return nil, err
	}
	r.schema.Annotations = r.collectAnnotations(r.ast.SchemaAnnotations, "schema")

	for key := range r.enumAsts {
		if _, err := r.ensureEnum(key); err != nil {
			return nil, err
		}
	}
	for key := range r.groupAsts {
		if _, err := r.ensureGroup(key, true); err != nil {
			return nil, err
		}
	}
	return r.schema, nil
}

func (r *Resolver) qualifyDeclName(raw QName) QName {
	if raw.HasNamespace() {
		return raw
	}
	return NewQName(r.namespace, raw.Name)
}

func (r *Resolver) ensureUniqueName(key string) error {
	if r.definitions[key] {
		return errs.Resolve("duplicate definition for %s", key)
	}
	r.definitions[key] = true
	return nil
}

func (r *Resolver) registerEnums() error {
	for _, ea := range r.ast.Enums {
		qname := r.qualifyDeclName(ea.Name)
		key := qname.String()
		if err := r.ensureUniqueName(key); err != nil {
			return err
		}
		r.enumAsts[key] = ea
		r.enumNames[key] = qname
	}
	return nil
}

func (r *Resolver) registerTypeDefs() error {
	for _, td := range r.ast.TypeDefs {
		qname := r.qualifyDeclName(td.Name)
		key := qname.String()
		if err := r.ensureUniqueName(key); err != nil {
			return err
		}
		r.typeDefAsts[key] = td
	}
	return nil
}

func (r *Resolver) registerGroups() error {
	for _, ga := range r.ast.Groups {
		qname := r.qualifyDeclName(ga.Name)
		key := qname.String()
		if err := r.ensureUniqueName(key); err != nil {
			return err
		}
		r.groupAsts[key] = ga
		r.groupNames[key] = qname
	}
	return nil
}

// candidateKeys yields the lookup order for an unresolved reference:
// explicit namespace first, else the schema's default namespace, else bare.
func (r *Resolver) candidateKeys(raw QName) []string {
	if raw.HasNamespace() {
		return []string{raw.String()}
	}
	var out []string
	if r.namespace != "" {
		out = append(out, r.namespace+":"+raw.Name)
	}
	out = append(out, raw.Name)
	return out
}

func (r *Resolver) collectAnnotations(annots []AnnotationAst, extraKey string) Annotations {
	var result Annotations
	for _, a := range annots {
		result.Set(r.qualifyDeclName(a.Name), a.Value)
	}
	if extraKey != "" {
		for _, a := range r.incremental[extraKey] {
			result.Set(r.qualifyDeclName(a.Name), a.Value)
		}
	}
	return result
}

func (r *Resolver) ensureGroup(key string, allowPartial bool) (*GroupDef, error) {
	if g, ok := r.groupCache[key]; ok {
		if !allowPartial && r.building[key] {
			return nil, errs.Resolve("cyclic inheritance involving %s", r.groupNames[key])
		}
		return g, nil
	}
	ast, ok := r.groupAsts[key]
	if !ok {
		return nil, errs.Resolve("unknown group %s", key)
	}
	group := &GroupDef{
		Name:        r.groupNames[key],
		TypeID:      ast.TypeID,
		HasTypeID:   ast.HasTypeID,
		Annotations: r.collectAnnotations(ast.Annotations, key),
	}
	r.groupCache[key] = group
	r.building[key] = true
	super, err := r.resolveSuper(ast)
	if err != nil {
		delete(r.building, key)
		return nil, err
	}
	group.Super = super
	fields, err := r.resolveFields(key, ast)
	delete(r.building, key)
	if err != nil {
		return nil, err
	}
	group.Fields = fields

	if err := r.checkLinearizedFieldNames(group); err != nil {
		return nil, err
	}
	if _, exists := r.schema.Groups[group.Name.String()]; !exists {
		if err := r.addGroup(group); err != nil {
			return nil, err
		}
	}
	return group, nil
}

func (r *Resolver) addGroup(g *GroupDef) error {
	key := g.Name.String()
	if _, exists := r.schema.Groups[key]; exists {
		return errs.Resolve("duplicate group definition for %s", key)
	}
	if g.HasTypeID {
		if _, exists := r.schema.TypeIDs[g.TypeID]; exists {
			return errs.Resolve("duplicate type id %d", g.TypeID)
		}
		r.schema.TypeIDs[g.TypeID] = g
	}
	r.schema.Groups[key] = g
	return nil
}

func (r *Resolver) checkLinearizedFieldNames(g *GroupDef) error {
	seen := map[string]bool{}
	for _, f := range g.AllFields() {
		if seen[f.Name] {
			return errs.Resolve("duplicate field name %q in %s", f.Name, g.Name)
		}
		seen[f.Name] = true
	}
	return nil
}

func (r *Resolver) resolveSuper(ast GroupDefAst) (*GroupDef, error) {
	if !ast.HasSuper {
		return nil, nil
	}
	superKey, err := r.resolveNameAgainst(ast.Super, r.groupAsts, "group")
	if err != nil {
		return nil, err
	}
	return r.ensureGroup(superKey, false)
}

func (r *Resolver) resolveNameAgainst(raw QName, population map[string]GroupDefAst, kind string) (string, error) {
	for _, cand := range r.candidateKeys(raw) {
		if _, ok := population[cand]; ok {
			return cand, nil
		}
	}
	return "", errs.Resolve("unknown %s %s", kind, raw)
}

func (r *Resolver) resolveFields(groupKey string, ast GroupDefAst) ([]FieldDef, error) {
	fields := make([]FieldDef, 0, len(ast.Fields))
	for _, fa := range ast.Fields {
		t, err := r.resolveType(fa.TypeRef, false)
		if err != nil {
			return nil, err
		}
		annots := r.collectAnnotations(fa.Annotations, groupKey+"."+fa.Name)
		fields = append(fields, FieldDef{
			Name:        fa.Name,
			Type:        t,
			Optional:    fa.Optional,
			Annotations: annots,
		})
	}
	return fields, nil
}

func (r *Resolver) resolveType(ref TypeRefAst, inSequence bool) (Type, error) {
	switch t := ref.(type) {
	case PrimitiveTypeRef:
		k, ok := PrimitiveKindFromName(t.Name)
		if !ok {
			return nil, errs.Resolve("unknown primitive type %s", t.Name)
		}
		return PrimitiveType{Kind: k}, nil
	case BinaryTypeRef:
		switch t.Kind {
		case "string":
			return BinaryType{Kind: BinaryKindString, Max: t.Size, HasMax: t.HasSize}, nil
		case "binary":
			return BinaryType{Kind: BinaryKindBinary, Max: t.Size, HasMax: t.HasSize}, nil
		case "fixed":
			if !t.HasSize || t.Size < 1 {
				return nil, errs.Resolve("fixed type requires a positive size")
			}
			return BinaryType{Kind: BinaryKindFixed, Size: t.Size}, nil
		}
		return nil, errs.Resolve("unknown binary type %s", t.Kind)
	case SequenceTypeRef:
		if inSequence {
			return nil, errs.Resolve("blink does not allow nested sequences")
		}
		elem, err := r.resolveType(t.Element, true)
		if err != nil {
			return nil, err
		}
		if _, ok := elem.(SequenceType); ok {
			return nil, errs.Resolve("blink does not allow nested sequences")
		}
		return SequenceType{Element: elem}, nil
	case ObjectTypeRef:
		return ObjectType{}, nil
	case NamedTypeRef:
		return r.resolveNamedType(t)
	}
	return nil, errs.Resolve("unsupported type reference")
}

func (r *Resolver) resolveNamedType(ref NamedTypeRef) (Type, error) {
	for _, cand := range r.candidateKeys(ref.Name) {
		if _, ok := r.enumAsts[cand]; ok {
			if ref.Mode != GroupRefModeUnspecified {
				return nil, errs.Resolve("enum %s cannot use a group reference mode", r.enumNames[cand])
			}
			enum, err := r.ensureEnum(cand)
			if err != nil {
				return nil, err
			}
			return EnumRef{Enum: enum}, nil
		}
		if _, ok := r.groupAsts[cand]; ok {
			group, err := r.ensureGroup(cand, true)
			if err != nil {
				return nil, err
			}
			if ref.Mode == GroupRefModeDynamic {
				return DynamicGroupRef{Group: group}, nil
			}
			return StaticGroupRef{Group: group}, nil
		}
		if _, ok := r.typeDefAsts[cand]; ok {
			return r.ensureTypeDef(cand)
		}
	}
	return nil, errs.Resolve("unknown type %s", ref.Name)
}

func (r *Resolver) ensureTypeDef(key string) (Type, error) {
	if t, ok := r.typeCache[key]; ok {
		return t, nil
	}
	td, ok := r.typeDefAsts[key]
	if !ok {
		return nil, errs.Resolve("unknown type definition %s", key)
	}
	if r.resolvingTypes[key] {
		return nil, errs.Resolve("cyclic type definition involving %s", td.Name)
	}
	r.resolvingTypes[key] = true
	t, err := r.resolveType(td.TypeRef, false)
	delete(r.resolvingTypes, key)
	if err != nil {
		return nil, err
	}
	r.typeCache[key] = t
	return t, nil
}

func (r *Resolver) ensureEnum(key string) (*EnumDef, error) {
	if e, ok := r.enumCache[key]; ok {
		return e, nil
	}
	ast, ok := r.enumAsts[key]
	if !ok {
		return nil, errs.Resolve("unknown enum %s", key)
	}
	seen := map[string]bool{}
	symbols := make([]EnumSymbol, 0, len(ast.Symbols))
	values := map[int32]bool{}
	for _, sa := range ast.Symbols {
		if seen[sa.Name] {
			return nil, errs.Resolve("duplicate enum symbol %s in %s", sa.Name, key)
		}
		seen[sa.Name] = true
		if values[sa.Value] {
			return nil, errs.Resolve("duplicate enum value %d for symbol %s", sa.Value, sa.Name)
		}
		values[sa.Value] = true
		symbols = append(symbols, EnumSymbol{
			Name:        sa.Name,
			Value:       sa.Value,
			Annotations: r.collectAnnotations(sa.Annotations, key+"."+sa.Name),
		})
	}
	enum := &EnumDef{
		Name:        r.enumNames[key],
		Symbols:     symbols,
		Annotations: r.collectAnnotations(ast.Annotations, key),
	}
	r.enumCache[key] = enum
	r.schema.Enums[enum.Name.String()] = enum
	return enum, nil
}

func (r *Resolver) indexIncremental() error {
	for _, entry := range r.ast.IncrementalAnnotations {
		qname := r.qualifyDeclName(entry.Target.Name)
		baseKey := qname.String()
		key := baseKey
		if entry.Target.HasMember {
			key = baseKey + "." + entry.Target.Member
			if ga, ok := r.groupAsts[baseKey]; ok {
				if !hasFieldNamed(ga.Fields, entry.Target.Member) {
					return errs.Resolve("unknown field %s on %s", entry.Target.Member, baseKey)
				}
			} else if ea, ok := r.enumAsts[baseKey]; ok {
				if !hasSymbolNamed(ea.Symbols, entry.Target.Member) {
					return errs.Resolve("unknown enum symbol %s on %s", entry.Target.Member, baseKey)
				}
			} else {
				return errs.Resolve("unknown component %s for incremental annotation", baseKey)
			}
		} else {
			_, isGroup := r.groupAsts[baseKey]
			_, isEnum := r.enumAsts[baseKey]
			_, isTypeDef := r.typeDefAsts[baseKey]
			if !isGroup && !isEnum && !isTypeDef {
				return errs.Resolve("unknown component %s for incremental annotation", baseKey)
			}
		}
		r.incremental[key] = append(r.incremental[key], entry.Annotations...)
	}
	return nil
}

func hasFieldNamed(fields []FieldAst, name string) bool {
	for _, f := range fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

func hasSymbolNamed(symbols []EnumSymbolAst, name string) bool {
	for _, s := range symbols {
		if s.Name == name {
			return true
		}
	}
	return false
}
