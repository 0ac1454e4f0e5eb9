// Package dynschema implements Dynamic Schema Exchange (C11, §4.8): a
// handful of self-describing message types, carried at reserved type ids
// 16000-16383, that mutate a live Registry instead of describing ordinary
// application data. It implements compact.ReservedHandler and
// native.ReservedHandler so either binary codec can dispatch reserved
// frames to it transparently, mirroring vom2/type.go's bootstrap wire
// types rebuilding a *vdl.Type on the decode side from ordinary values
// carried inline in the stream.
package dynschema

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/blinkproto/blink/compact"
	"github.com/blinkproto/blink/errs"
	"github.com/blinkproto/blink/registry"
	"github.com/blinkproto/blink/schema"
	"github.com/blinkproto/blink/value"
	"github.com/blinkproto/blink/vlc"
)

// ReservedIDMin and ReservedIDMax bound the type id range this package
// owns, matching compact.ReservedIDMin/Max and native.ReservedIDMin/Max.
const (
	ReservedIDMin uint64 = 16000
	ReservedIDMax uint64 = 16383
)

// IDTable names the type id assigned to each schema-transport message kind.
// Two concrete tables resolve Open Question #1 (SPEC_FULL §4.1): which
// numbering a deployment actually uses is a runtime choice, not a constant.
type IDTable struct {
	GroupDecl        uint64
	GroupDef         uint64
	FieldDef         uint64
	Define           uint64
	TypeDef          uint64
	Symbol           uint64
	SchemaAnnotation uint64
	Annotated        uint64
	Annotation       uint64
}

// IDsAsShipped mirrors original_source/blink/dynschema/exchange.py's
// TYPE_ID_* constants byte-for-byte: a sparse numbering left over from the
// message set's own evolution (Symbol jumps to 16019, the three annotation
// messages pick up unused ids afterward).
var IDsAsShipped = IDTable{
	GroupDecl:        16000,
	GroupDef:         16001,
	FieldDef:         16002,
	Define:           16003,
	TypeDef:          16004,
	Symbol:           16019,
	SchemaAnnotation: 16037,
	Annotated:        16038,
	Annotation:       16039,
}

// IDsAsDocumented assigns the same nine message kinds sequential ids
// starting at 16000, in GLOSSARY declaration order.
var IDsAsDocumented = IDTable{
	GroupDecl:        16000,
	GroupDef:         16001,
	FieldDef:         16002,
	TypeDef:          16003,
	Define:           16004,
	Symbol:           16005,
	SchemaAnnotation: 16006,
	Annotated:        16007,
	Annotation:       16008,
}

// IsSchemaTransportMessage reports whether typeID is one of the six ids
// that actually drive a registry mutation (GroupDecl, GroupDef, FieldDef,
// Define, TypeDef, Symbol) under ids. SchemaAnnotation/Annotated/Annotation
// occupy the same reserved range for self-description but are never
// dispatched on their own, matching the original implementation.
func IsSchemaTransportMessage(ids IDTable, typeID uint64) bool {
	switch typeID {
	case ids.GroupDecl, ids.GroupDef, ids.FieldDef, ids.Define, ids.TypeDef, ids.Symbol:
		return true
	default:
		return false
	}
}

// groupDecl is the decoded shape of a GroupDecl message: NsName Name, u64 Id.
type groupDecl struct {
	Ns, Name string
	ID       uint64
}

// groupDef is the decoded shape of a GroupDef message: NsName Name, u64?
// Id, FieldDef[] Fields, NsName? Super. Fields is parsed only far enough to
// skip its bytes correctly; its contents are not yet turned into resolved
// FieldDefs, matching exchange.py's own "for now... placeholder" handling
// of GroupDef.
type groupDef struct {
	Ns, Name   string
	HasID      bool
	ID         uint64
	FieldCount int
	HasSuper   bool
	SuperNs    string
	SuperName  string
}

// Handler implements compact.ReservedHandler and native.ReservedHandler,
// decoding reserved frames against IDs and applying the resulting mutation
// to Registry. Log receives one structured line per handled frame, tagged
// with a per-call correlation id, when a non-Nop logger is configured.
type Handler struct {
	Registry *registry.Registry
	IDs      IDTable
	Log      zerolog.Logger
}

// NewHandler returns a Handler bound to reg under ids, logging through log
// (a nil log is the same as a Nop logger).
func NewHandler(reg *registry.Registry, ids IDTable, log *zerolog.Logger) *Handler {
	h := &Handler{Registry: reg, IDs: ids}
	if log != nil {
		h.Log = *log
	} else {
		h.Log = zerolog.Nop()
	}
	return h
}

// HandleReservedFrame decodes payload as the schema-transport message named
// by typeID and applies it to h.Registry.
func (h *Handler) HandleReservedFrame(typeID uint64, payload []byte, strict bool) error {
	correlation := uuid.New().String()
	log := h.Log.With().Str("correlation_id", correlation).Uint64("type_id", typeID).Logger()

	if !IsSchemaTransportMessage(h.IDs, typeID) {
		log.Debug().Msg("dynschema: reserved id is not a dispatched transport message, ignoring")
		return nil
	}
	switch typeID {
	case h.IDs.GroupDecl:
		return h.applyGroupDecl(payload, log)
	case h.IDs.GroupDef:
		return h.applyGroupDef(payload, log)
	default:
		return errs.SchemaUpdate("schema transport message %d not yet implemented", typeID)
	}
}

func (h *Handler) applyGroupDecl(payload []byte, log zerolog.Logger) error {
	decl, _, err := decodeGroupDecl(payload, 0)
	if err != nil {
		return err
	}
	group := &schema.GroupDef{
		Name:      qnameFor(decl.Ns, decl.Name),
		TypeID:    decl.ID,
		HasTypeID: true,
	}
	if err := h.Registry.ApplyUpdate(registry.Update{Group: group}); err != nil {
		return err
	}
	log.Info().Str("group", group.Name.String()).Msg("dynschema: group declared")
	return nil
}

func (h *Handler) applyGroupDef(payload []byte, log zerolog.Logger) error {
	def, _, err := decodeGroupDef(payload, 0)
	if err != nil {
		return err
	}
	if !def.HasID {
		return errs.SchemaUpdate("GroupDef for %s has no type id", qnameFor(def.Ns, def.Name))
	}
	group := &schema.GroupDef{
		Name:      qnameFor(def.Ns, def.Name),
		TypeID:    def.ID,
		HasTypeID: true,
	}
	if def.HasSuper {
		super, err := h.Registry.GroupByName(qnameFor(def.SuperNs, def.SuperName))
		if err != nil {
			return errs.SchemaUpdate("GroupDef %s: super group not found: %v", group.Name, err)
		}
		group.Super = super
	}
	if err := h.Registry.ApplyUpdate(registry.Update{Group: group}); err != nil {
		return err
	}
	log.Info().Str("group", group.Name.String()).Int("declaredFields", def.FieldCount).
		Msg("dynschema: group defined (field contents not materialized)")
	return nil
}

func qnameFor(ns, name string) schema.QName {
	if ns == "" {
		return schema.NewBareQName(name)
	}
	return schema.NewQName(ns, name)
}

// decodeNsName decodes the static NsName group: string Ns (optional),
// string Name (required) — the wire shape compact's decodeStaticGroup
// produces for an always-present static-group field: no presence byte,
// fields in declared order.
func decodeNsName(buf []byte, offset int) (ns, name string, next int, err error) {
	ns, cursor, err := decodeString(buf, offset)
	if err != nil {
		return "", "", offset, err
	}
	name, cursor, err = decodeString(buf, cursor)
	if err != nil {
		return "", "", offset, err
	}
	return ns, name, cursor, nil
}

func decodeString(buf []byte, offset int) (string, int, error) {
	length, isNull, cursor, err := vlc.DecodeUnsigned(buf, offset)
	if err != nil {
		return "", offset, err
	}
	if isNull {
		return "", cursor, nil
	}
	end := cursor + int(length)
	if end > len(buf) {
		return "", cursor, errs.Framing(int64(cursor), "truncated string field")
	}
	return string(buf[cursor:end]), end, nil
}

func decodeGroupDecl(buf []byte, offset int) (groupDecl, int, error) {
	ns, name, cursor, err := decodeNsName(buf, offset)
	if err != nil {
		return groupDecl{}, offset, err
	}
	id, isNull, cursor, err := vlc.DecodeUnsigned(buf, cursor)
	if err != nil {
		return groupDecl{}, offset, err
	}
	if isNull {
		return groupDecl{}, offset, errs.Value("GroupDecl.Id cannot be null")
	}
	return groupDecl{Ns: ns, Name: name, ID: id}, cursor, nil
}

func decodeGroupDef(buf []byte, offset int) (groupDef, int, error) {
	ns, name, cursor, err := decodeNsName(buf, offset)
	if err != nil {
		return groupDef{}, offset, err
	}
	var def groupDef
	def.Ns, def.Name = ns, name

	id, isNull, cursor, err := vlc.DecodeUnsigned(buf, cursor)
	if err != nil {
		return groupDef{}, offset, err
	}
	if !isNull {
		def.HasID, def.ID = true, id
	}

	count, isNull, cursor, err := vlc.DecodeUnsigned(buf, cursor)
	if err != nil {
		return groupDef{}, offset, err
	}
	if !isNull {
		def.FieldCount = int(count)
		for i := uint64(0); i < count; i++ {
			frameLen, isNullFrame, afterLen, err := vlc.DecodeUnsigned(buf, cursor)
			if err != nil {
				return groupDef{}, offset, err
			}
			if isNullFrame {
				return groupDef{}, offset, errs.Value("GroupDef.Fields element cannot be null")
			}
			cursor = afterLen + int(frameLen)
			if cursor > len(buf) {
				return groupDef{}, offset, errs.Framing(int64(afterLen), "truncated FieldDef element")
			}
		}
	}

	if cursor < len(buf) {
		p := buf[cursor]
		switch p {
		case 0xC0:
			cursor++
		case 0x01:
			cursor++
			superNs, superName, next, err := decodeNsName(buf, cursor)
			if err != nil {
				return groupDef{}, offset, err
			}
			def.HasSuper, def.SuperNs, def.SuperName = true, superNs, superName
			cursor = next
		}
	}
	return def, cursor, nil
}

// SelfSchema builds the schema describing Dynamic Schema Exchange's own
// message kinds under ids, for registration into any Registry alongside an
// application schema (Open Question #3: the "blink" namespace is subject
// to the ordinary duplicate-name check, not a special exemption).
func SelfSchema(ids IDTable) *schema.Schema {
	s := schema.NewSchema("blink")

	nsName := &schema.GroupDef{
		Name: schema.NewQName("blink", "NsName"),
		Fields: []schema.FieldDef{
			{Name: "Ns", Type: schema.BinaryType{Kind: schema.BinaryKindString}, Optional: true},
			{Name: "Name", Type: schema.BinaryType{Kind: schema.BinaryKindString}},
		},
	}
	s.Groups[nsName.Name.String()] = nsName

	fieldDef := &schema.GroupDef{
		Name:      schema.NewQName("blink", "FieldDef"),
		TypeID:    ids.FieldDef,
		HasTypeID: true,
		Fields: []schema.FieldDef{
			{Name: "Name", Type: schema.BinaryType{Kind: schema.BinaryKindString}},
			{Name: "TypeExpr", Type: schema.BinaryType{Kind: schema.BinaryKindString}},
			{Name: "Optional", Type: schema.PrimitiveType{Kind: schema.Bool}},
		},
	}
	s.Groups[fieldDef.Name.String()] = fieldDef
	s.TypeIDs[fieldDef.TypeID] = fieldDef

	groupDeclGroup := &schema.GroupDef{
		Name:      schema.NewQName("blink", "GroupDecl"),
		TypeID:    ids.GroupDecl,
		HasTypeID: true,
		Fields: []schema.FieldDef{
			{Name: "Name", Type: schema.StaticGroupRef{Group: nsName}},
			{Name: "Id", Type: schema.PrimitiveType{Kind: schema.U64}},
		},
	}
	s.Groups[groupDeclGroup.Name.String()] = groupDeclGroup
	s.TypeIDs[groupDeclGroup.TypeID] = groupDeclGroup

	groupDefGroup := &schema.GroupDef{
		Name:      schema.NewQName("blink", "GroupDef"),
		TypeID:    ids.GroupDef,
		HasTypeID: true,
		Fields: []schema.FieldDef{
			{Name: "Name", Type: schema.StaticGroupRef{Group: nsName}},
			{Name: "Id", Type: schema.PrimitiveType{Kind: schema.U64}, Optional: true},
			{Name: "Fields", Type: schema.SequenceType{Element: schema.DynamicGroupRef{Group: fieldDef}}},
			{Name: "Super", Type: schema.StaticGroupRef{Group: nsName}, Optional: true},
		},
	}
	s.Groups[groupDefGroup.Name.String()] = groupDefGroup
	s.TypeIDs[groupDefGroup.TypeID] = groupDefGroup

	define := &schema.GroupDef{
		Name:      schema.NewQName("blink", "Define"),
		TypeID:    ids.Define,
		HasTypeID: true,
		Fields: []schema.FieldDef{
			{Name: "Name", Type: schema.StaticGroupRef{Group: nsName}},
			{Name: "TypeExpr", Type: schema.BinaryType{Kind: schema.BinaryKindString}},
		},
	}
	s.Groups[define.Name.String()] = define
	s.TypeIDs[define.TypeID] = define

	typeDef := &schema.GroupDef{
		Name:      schema.NewQName("blink", "TypeDef"),
		TypeID:    ids.TypeDef,
		HasTypeID: true,
		Fields: []schema.FieldDef{
			{Name: "Name", Type: schema.StaticGroupRef{Group: nsName}},
			{Name: "TypeExpr", Type: schema.BinaryType{Kind: schema.BinaryKindString}},
		},
	}
	s.Groups[typeDef.Name.String()] = typeDef
	s.TypeIDs[typeDef.TypeID] = typeDef

	symbol := &schema.GroupDef{
		Name:      schema.NewQName("blink", "Symbol"),
		TypeID:    ids.Symbol,
		HasTypeID: true,
		Fields: []schema.FieldDef{
			{Name: "Name", Type: schema.BinaryType{Kind: schema.BinaryKindString}},
			{Name: "Value", Type: schema.PrimitiveType{Kind: schema.I32}},
		},
	}
	s.Groups[symbol.Name.String()] = symbol
	s.TypeIDs[symbol.TypeID] = symbol

	schemaAnnotation := &schema.GroupDef{
		Name:      schema.NewQName("blink", "SchemaAnnotation"),
		TypeID:    ids.SchemaAnnotation,
		HasTypeID: true,
		Fields: []schema.FieldDef{
			{Name: "Name", Type: schema.StaticGroupRef{Group: nsName}},
			{Name: "Value", Type: schema.BinaryType{Kind: schema.BinaryKindString}},
		},
	}
	s.Groups[schemaAnnotation.Name.String()] = schemaAnnotation
	s.TypeIDs[schemaAnnotation.TypeID] = schemaAnnotation

	annotated := &schema.GroupDef{
		Name:      schema.NewQName("blink", "Annotated"),
		TypeID:    ids.Annotated,
		HasTypeID: true,
		Fields: []schema.FieldDef{
			{Name: "Target", Type: schema.BinaryType{Kind: schema.BinaryKindString}},
			{Name: "Member", Type: schema.BinaryType{Kind: schema.BinaryKindString}, Optional: true},
		},
	}
	s.Groups[annotated.Name.String()] = annotated
	s.TypeIDs[annotated.TypeID] = annotated

	annotation := &schema.GroupDef{
		Name:      schema.NewQName("blink", "Annotation"),
		TypeID:    ids.Annotation,
		HasTypeID: true,
		Fields: []schema.FieldDef{
			{Name: "Name", Type: schema.BinaryType{Kind: schema.BinaryKindString}},
			{Name: "Value", Type: schema.BinaryType{Kind: schema.BinaryKindString}},
		},
	}
	s.Groups[annotation.Name.String()] = annotation
	s.TypeIDs[annotation.TypeID] = annotation

	return s
}

// RegisterSelfSchema merges SelfSchema(ids) into reg via the ordinary
// ApplyUpdate path, so it participates in the same duplicate-type-id check
// a live schema update would. A self-schema group whose name is already
// registered in reg is rejected as a SchemaUpdateError.
func RegisterSelfSchema(reg *registry.Registry, ids IDTable) error {
	s := SelfSchema(ids)
	for _, g := range s.Groups {
		if _, err := reg.GroupByName(g.Name); err == nil {
			return errs.SchemaUpdate("self-schema group %s is already registered", g.Name)
		}
		if err := reg.ApplyUpdate(registry.Update{Group: g}); err != nil {
			return err
		}
	}
	return nil
}

// DecodeStreamWithExchange decodes every application message in buf,
// applying any Dynamic Schema Exchange frames against reg as they're
// encountered instead of surfacing them (§6.6, §6.5). It builds its own
// compact.Codec bound to reg so the Handler mutating reg and the Codec
// resolving reg are always looking at the same live registry.
func DecodeStreamWithExchange(reg *registry.Registry, ids IDTable, strict bool, log *zerolog.Logger, buf []byte) ([]value.Message, error) {
	c := compact.New(reg, strict).WithReserved(NewHandler(reg, ids, log))
	return c.DecodeStream(buf)
}
