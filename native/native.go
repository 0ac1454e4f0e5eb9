// Package native implements the Native Binary codec (C7): a little-endian,
// fixed-layout format optimized for random access rather than minimal size.
// Every group's fixed-width region is computed structurally from its
// schema, independent of the data being encoded, so pointer targets can be
// placed while the fixed region is still being filled in.
package native

import (
	"encoding/binary"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/blinkproto/blink/errs"
	"github.com/blinkproto/blink/registry"
	"github.com/blinkproto/blink/schema"
	"github.com/blinkproto/blink/value"
)

// ReservedIDMin and ReservedIDMax bound the type id range Dynamic Schema
// Exchange reserves for itself (§4.8), same range as the Compact codec.
const (
	ReservedIDMin uint64 = 16000
	ReservedIDMax uint64 = 16383
)

// IsReservedTypeID reports whether typeID falls in the Dynamic Schema
// Exchange reserved range.
func IsReservedTypeID(typeID uint64) bool {
	return typeID >= ReservedIDMin && typeID <= ReservedIDMax
}

// ReservedHandler processes a reserved-type-id frame's raw payload (the
// bytes following the 16-byte header, up to the frame's declared size).
type ReservedHandler interface {
	HandleReservedFrame(typeID uint64, payload []byte, strict bool) error
}

// headerSize is the fixed 16-byte frame header (§4.6.1): u32 size, u64
// typeId, u32 extensionOffset.
const headerSize = 16

// presentByte and absentByte mark an inline optional slot's presence byte.
const (
	absentByte  byte = 0x00
	presentByte byte = 0x01
)

// Codec encodes and decodes Native Binary frames against Registry.
type Codec struct {
	Registry *registry.Registry
	Strict   bool
	Reserved ReservedHandler
}

// New returns a Codec bound to reg with the given default strictness.
func New(reg *registry.Registry, strict bool) *Codec {
	return &Codec{Registry: reg, Strict: strict}
}

// WithReserved returns a copy of c with its ReservedHandler set.
func (c *Codec) WithReserved(h ReservedHandler) *Codec {
	n := *c
	n.Reserved = h
	return &n
}

// EncodeMessage encodes msg as a single self-contained frame.
func (c *Codec) EncodeMessage(msg value.Message) ([]byte, error) {
	group, err := c.Registry.GroupByName(msg.Type)
	if err != nil {
		return nil, err
	}
	if !group.HasTypeID {
		return nil, errs.Value("group %s has no type id, cannot encode a frame", group.Name)
	}
	return c.buildFrame(group, msg.Fields, msg.Extension)
}

// DecodeMessage decodes exactly one application message starting at
// offset, transparently consuming any Dynamic Schema Exchange frames first.
func (c *Codec) DecodeMessage(buf []byte, offset int) (value.Message, int, error) {
	for {
		if offset >= len(buf) {
			return value.Message{}, offset, errs.Framing(int64(offset), "no message available in buffer")
		}
		msg, isUpdate, n, err := c.decodeOneFrame(buf[offset:])
		if err != nil {
			return value.Message{}, offset, err
		}
		offset += n
		if !isUpdate {
			return msg, offset, nil
		}
	}
}

// DecodeStream decodes every application message in buf in order.
func (c *Codec) DecodeStream(buf []byte) ([]value.Message, error) {
	var msgs []value.Message
	offset := 0
	for offset < len(buf) {
		msg, isUpdate, n, err := c.decodeOneFrame(buf[offset:])
		if err != nil {
			return msgs, err
		}
		offset += n
		if !isUpdate {
			msgs = append(msgs, msg)
		}
	}
	return msgs, nil
}

func (c *Codec) decodeOneFrame(buf []byte) (value.Message, bool, int, error) {
	if len(buf) < headerSize {
		return value.Message{}, false, 0, errs.Framing(0, "truncated frame header")
	}
	size := binary.LittleEndian.Uint32(buf[0:4])
	typeID := binary.LittleEndian.Uint64(buf[4:12])
	if int(size) > len(buf) {
		return value.Message{}, false, 0, errs.Framing(0, "frame size exceeds available bytes")
	}
	if IsReservedTypeID(typeID) {
		payload := buf[headerSize:size]
		if c.Reserved != nil {
			if err := c.Reserved.HandleReservedFrame(typeID, payload, c.Strict); err != nil {
				return value.Message{}, true, int(size), err
			}
		} else if c.Strict {
			return value.Message{}, true, int(size), errs.SchemaUpdate("reserved type id %d received with no schema-exchange handler configured", typeID)
		}
		return value.Message{}, true, int(size), nil
	}
	msg, n, err := c.decodeFrame(buf)
	return msg, false, n, err
}

// decodeFrame decodes the self-contained frame starting at buf[0]. n is the
// frame's declared size (the number of bytes consumed).
func (c *Codec) decodeFrame(buf []byte) (value.Message, int, error) {
	if len(buf) < headerSize {
		return value.Message{}, 0, errs.Framing(0, "truncated frame header")
	}
	size := binary.LittleEndian.Uint32(buf[0:4])
	typeID := binary.LittleEndian.Uint64(buf[4:12])
	extOffset := binary.LittleEndian.Uint32(buf[12:16])
	if int(size) > len(buf) {
		return value.Message{}, 0, errs.Framing(0, "frame size exceeds available bytes")
	}
	frame := buf[:size]
	group, gerr := c.Registry.GroupByID(typeID)
	if gerr != nil {
		if c.Strict {
			return value.Message{}, int(size), errs.Weak(0, "unknown type id %d", typeID)
		}
		return value.Message{UnknownType: true, RawTypeID: typeID}, int(size), nil
	}
	fixedSize := c.groupFixedSize(group)
	if headerSize+fixedSize > len(frame) {
		return value.Message{}, int(size), errs.Framing(headerSize, "truncated fixed region")
	}
	fixedEnd := headerSize + fixedSize
	fields, _, err := c.decodeGroupFields(group, frame, headerSize, fixedEnd)
	if err != nil {
		return value.Message{}, int(size), err
	}
	var ext []value.Message
	if extOffset != 0 {
		ext, err = c.decodeExtensionBlock(frame, int(extOffset))
		if err != nil {
			return value.Message{}, int(size), err
		}
	}
	return value.Message{Type: group.Name, Fields: fields, Extension: ext}, int(size), nil
}

func (c *Codec) decodeExtensionBlock(frame []byte, start int) ([]value.Message, error) {
	var msgs []value.Message
	offset := start
	for offset < len(frame) {
		msg, n, err := c.decodeFrame(frame[offset:])
		if err != nil {
			return msgs, err
		}
		if n == 0 {
			return msgs, errs.Framing(int64(offset), "zero-length extension frame")
		}
		msgs = append(msgs, msg)
		offset += n
	}
	return msgs, nil
}

// buildFrame assembles a complete self-contained frame (header + fixed
// region + variable region + extension block) for group/fields/extension.
// Any DynamicGroupRef/ObjectType/extension value nested within is itself a
// fully self-contained frame built the same way (§4.6.2): pointers are
// always absolute offsets from the start of the frame that directly
// contains them, never from an outer enclosing frame.
func (c *Codec) buildFrame(group *schema.GroupDef, fields value.FieldMap, extension []value.Message) ([]byte, error) {
	fixedSize := c.groupFixedSize(group)
	fixed := make([]byte, fixedSize)
	var variableBuf []byte
	if _, err := c.encodeGroupInto(group, fields, fixed, 0, &variableBuf, headerSize+fixedSize); err != nil {
		return nil, err
	}
	var extOffset uint32
	var extBlock []byte
	if len(extension) > 0 {
		extOffset = uint32(headerSize + fixedSize + len(variableBuf))
		block, err := c.encodeExtensionBlock(extension)
		if err != nil {
			return nil, err
		}
		extBlock = block
	}
	total := headerSize + fixedSize + len(variableBuf) + len(extBlock)
	out := make([]byte, headerSize, total)
	binary.LittleEndian.PutUint32(out[0:4], uint32(total))
	binary.LittleEndian.PutUint64(out[4:12], group.TypeID)
	binary.LittleEndian.PutUint32(out[12:16], extOffset)
	out = append(out, fixed...)
	out = append(out, variableBuf...)
	out = append(out, extBlock...)
	return out, nil
}

func (c *Codec) encodeExtensionBlock(msgs []value.Message) ([]byte, error) {
	var out []byte
	for i, m := range msgs {
		group, err := c.Registry.GroupByName(m.Type)
		if err != nil {
			return nil, wrapField(err, indexPath(i))
		}
		if !group.HasTypeID {
			return nil, errs.Value("group %s has no type id, cannot encode as extension", group.Name)
		}
		frame, err := c.buildFrame(group, m.Fields, m.Extension)
		if err != nil {
			return nil, wrapField(err, indexPath(i))
		}
		out = append(out, frame...)
	}
	return out, nil
}

func wrapField(err error, name string) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*errs.Error); ok {
		return e.WithField(name)
	}
	return err
}

func indexPath(i int) string { return "[" + itoa(i) + "]" }

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

func binaryKindName(k schema.BinaryKind) string {
	switch k {
	case schema.BinaryKindString:
		return "string"
	case schema.BinaryKindFixed:
		return "fixed"
	default:
		return "binary"
	}
}

// primitiveWidth is the natural little-endian byte width of kind's fixed
// slot (§4.6.2). Decimal packs its i8 exponent and i64 mantissa into one
// contiguous 9-byte slot rather than using a pointer, since both are fixed
// width.
func primitiveWidth(kind schema.PrimitiveKind) int {
	switch kind {
	case schema.U8, schema.I8, schema.Bool:
		return 1
	case schema.U16, schema.I16:
		return 2
	case schema.U32, schema.I32, schema.Date, schema.TimeOfDayMilli:
		return 4
	case schema.Decimal:
		return 9
	default:
		return 8
	}
}

func isSignedKind(kind schema.PrimitiveKind) bool {
	switch kind {
	case schema.I8, schema.I16, schema.I32, schema.I64:
		return true
	default:
		return false
	}
}

func putUintWidth(buf []byte, v uint64, width int) {
	switch width {
	case 1:
		buf[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(buf, v)
	}
}

func getUintWidth(buf []byte, width int) uint64 {
	switch width {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf))
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf))
	case 8:
		return binary.LittleEndian.Uint64(buf)
	}
	return 0
}

func getIntWidth(buf []byte, width int) int64 {
	u := getUintWidth(buf, width)
	switch width {
	case 1:
		return int64(int8(u))
	case 2:
		return int64(int16(u))
	case 4:
		return int64(int32(u))
	default:
		return int64(u)
	}
}

// groupFixedSize is the total byte width of group's linearized fields in
// the fixed region, computed purely from the schema (§4.6.2): every field's
// slot width is determined by its declared type and optionality, never by
// the data actually being encoded.
func (c *Codec) groupFixedSize(group *schema.GroupDef) int {
	total := 0
	for _, f := range group.AllFields() {
		total += c.fieldFixedWidth(f.Type, f.Optional)
	}
	return total
}

func (c *Codec) fieldFixedWidth(t schema.Type, optional bool) int {
	switch tt := t.(type) {
	case schema.PrimitiveType:
		w := primitiveWidth(tt.Kind)
		if optional {
			w++
		}
		return w
	case schema.BinaryType:
		if tt.Kind == schema.BinaryKindFixed {
			w := tt.Size
			if optional {
				w++
			}
			return w
		}
		if tt.HasMax && tt.Max <= 255 {
			w := 1 + tt.Max
			if optional {
				w++
			}
			return w
		}
		return 4
	case schema.EnumRef:
		w := 4
		if optional {
			w++
		}
		return w
	case schema.SequenceType:
		return 4
	case schema.StaticGroupRef:
		w := c.groupFixedSize(tt.Group)
		if optional {
			w++
		}
		return w
	case schema.DynamicGroupRef, schema.ObjectType:
		return 4
	default:
		return 0
	}
}

func (c *Codec) encodeGroupInto(group *schema.GroupDef, fields value.FieldMap, fixed []byte, cursor int, variable *[]byte, varBase int) (int, error) {
	for _, f := range group.AllFields() {
		v, ok := fields.Get(f.Name)
		if !ok && !f.Optional {
			return cursor, errs.Value("missing required field %q", f.Name)
		}
		next, err := c.encodeTypeInto(f.Type, f.Optional, v, ok, fixed, cursor, variable, varBase)
		if err != nil {
			return cursor, wrapField(err, f.Name)
		}
		cursor = next
	}
	return cursor, nil
}

func (c *Codec) decodeGroupFields(group *schema.GroupDef, buf []byte, cursor int, fixedEnd int) (value.FieldMap, int, error) {
	var fm value.FieldMap
	for _, f := range group.AllFields() {
		v, present, next, err := c.decodeTypeInto(f.Type, f.Optional, buf, cursor, fixedEnd)
		cursor = next
		if err != nil {
			return fm, cursor, wrapField(err, f.Name)
		}
		switch {
		case present:
			fm.Set(f.Name, v)
		case !f.Optional:
			return fm, cursor, errs.Value("required field %q has no value", f.Name).WithField(f.Name)
		}
	}
	return fm, cursor, nil
}

func (c *Codec) encodeTypeInto(t schema.Type, optional bool, v value.Value, present bool, fixed []byte, cursor int, variable *[]byte, varBase int) (int, error) {
	switch tt := t.(type) {
	case schema.PrimitiveType:
		return c.encodePrimitiveInline(tt.Kind, optional, v, present, fixed, cursor)
	case schema.BinaryType:
		if tt.Kind == schema.BinaryKindFixed {
			return c.encodeFixedInline(tt, optional, v, present, fixed, cursor)
		}
		if tt.HasMax && tt.Max <= 255 {
			return c.encodeInlineBinary(tt, optional, v, present, fixed, cursor)
		}
		return c.encodePointerBinary(tt, v, present, fixed, cursor, variable, varBase)
	case schema.EnumRef:
		return c.encodeEnumInline(tt.Enum, optional, v, present, fixed, cursor)
	case schema.SequenceType:
		return c.encodePointerSequence(tt, v, present, fixed, cursor, variable, varBase)
	case schema.StaticGroupRef:
		return c.encodeStaticGroupInline(tt.Group, optional, v, present, fixed, cursor, variable, varBase)
	case schema.DynamicGroupRef:
		return c.encodePointerDynamicGroup(tt.Group, v, present, fixed, cursor, variable, varBase)
	case schema.ObjectType:
		return c.encodePointerDynamicGroup(nil, v, present, fixed, cursor, variable, varBase)
	default:
		return cursor, errs.Value("unsupported field type")
	}
}

func (c *Codec) decodeTypeInto(t schema.Type, optional bool, buf []byte, cursor int, fixedEnd int) (value.Value, bool, int, error) {
	switch tt := t.(type) {
	case schema.PrimitiveType:
		return c.decodePrimitiveInline(tt.Kind, optional, buf, cursor)
	case schema.BinaryType:
		if tt.Kind == schema.BinaryKindFixed {
			return c.decodeFixedInline(tt, optional, buf, cursor)
		}
		if tt.HasMax && tt.Max <= 255 {
			return c.decodeInlineBinary(tt, optional, buf, cursor)
		}
		return c.decodePointerBinary(tt, buf, cursor, fixedEnd)
	case schema.EnumRef:
		return c.decodeEnumInline(tt.Enum, optional, buf, cursor)
	case schema.SequenceType:
		return c.decodePointerSequence(tt, buf, cursor, fixedEnd)
	case schema.StaticGroupRef:
		return c.decodeStaticGroupInline(tt.Group, optional, buf, cursor, fixedEnd)
	case schema.DynamicGroupRef:
		return c.decodePointerDynamicGroup(tt.Group, buf, cursor, fixedEnd)
	case schema.ObjectType:
		return c.decodePointerDynamicGroup(nil, buf, cursor, fixedEnd)
	default:
		return nil, false, cursor, errs.Value("unsupported field type")
	}
}

func (c *Codec) encodePrimitiveInline(kind schema.PrimitiveKind, optional bool, v value.Value, present bool, fixed []byte, cursor int) (int, error) {
	width := primitiveWidth(kind)
	if optional {
		if present {
			fixed[cursor] = presentByte
		} else {
			fixed[cursor] = absentByte
		}
		cursor++
	}
	if !present {
		return cursor + width, nil
	}
	switch kind {
	case schema.Bool:
		b, ok := v.(value.Bool)
		if !ok {
			return cursor, errs.Value("expected a bool value")
		}
		if b.V {
			fixed[cursor] = 1
		} else {
			fixed[cursor] = 0
		}
		return cursor + 1, nil
	case schema.F64:
		f, ok := v.(value.Float)
		if !ok {
			return cursor, errs.Value("expected a float value")
		}
		binary.LittleEndian.PutUint64(fixed[cursor:cursor+8], math.Float64bits(f.V))
		return cursor + 8, nil
	case schema.Decimal:
		d, ok := v.(value.Decimal)
		if !ok {
			return cursor, errs.Value("expected a decimal value")
		}
		fixed[cursor] = byte(d.Exponent)
		binary.LittleEndian.PutUint64(fixed[cursor+1:cursor+9], uint64(d.Mantissa))
		return cursor + 9, nil
	default:
		if isSignedKind(kind) {
			i, ok := v.(value.Int)
			if !ok {
				return cursor, errs.Value("expected an integer value")
			}
			putUintWidth(fixed[cursor:cursor+width], uint64(i.V), width)
			return cursor + width, nil
		}
		u, ok := v.(value.Uint)
		if !ok {
			return cursor, errs.Value("expected an unsigned integer value")
		}
		putUintWidth(fixed[cursor:cursor+width], u.V, width)
		return cursor + width, nil
	}
}

func (c *Codec) decodePrimitiveInline(kind schema.PrimitiveKind, optional bool, buf []byte, cursor int) (value.Value, bool, int, error) {
	width := primitiveWidth(kind)
	if optional {
		if cursor >= len(buf) {
			return nil, false, cursor, errs.Framing(int64(cursor), "truncated presence byte")
		}
		p := buf[cursor]
		cursor++
		if p == absentByte {
			return nil, false, cursor + width, nil
		}
	}
	end := cursor + width
	if end > len(buf) {
		return nil, false, cursor, errs.Framing(int64(cursor), "truncated fixed field")
	}
	switch kind {
	case schema.Bool:
		return value.Bool{V: buf[cursor] != 0}, true, end, nil
	case schema.F64:
		return value.Float{V: math.Float64frombits(binary.LittleEndian.Uint64(buf[cursor:end]))}, true, end, nil
	case schema.Decimal:
		exp := int8(buf[cursor])
		mant := int64(binary.LittleEndian.Uint64(buf[cursor+1 : cursor+9]))
		return value.Decimal{Exponent: exp, Mantissa: mant}, true, end, nil
	default:
		if isSignedKind(kind) {
			return value.Int{V: getIntWidth(buf[cursor:end], width)}, true, end, nil
		}
		return value.Uint{V: getUintWidth(buf[cursor:end], width)}, true, end, nil
	}
}

func (c *Codec) encodeEnumInline(enum *schema.EnumDef, optional bool, v value.Value, present bool, fixed []byte, cursor int) (int, error) {
	if optional {
		if present {
			fixed[cursor] = presentByte
		} else {
			fixed[cursor] = absentByte
		}
		cursor++
	}
	if !present {
		return cursor + 4, nil
	}
	s, ok := v.(value.Str)
	if !ok {
		return cursor, errs.Value("expected a string symbol value for enum %s", enum.Name)
	}
	num, ok := enum.ToValue(s.V)
	if !ok {
		return cursor, errs.Value("unknown enum symbol %q for %s", s.V, enum.Name)
	}
	putUintWidth(fixed[cursor:cursor+4], uint64(uint32(num)), 4)
	return cursor + 4, nil
}

func (c *Codec) decodeEnumInline(enum *schema.EnumDef, optional bool, buf []byte, cursor int) (value.Value, bool, int, error) {
	if optional {
		if cursor >= len(buf) {
			return nil, false, cursor, errs.Framing(int64(cursor), "truncated presence byte")
		}
		p := buf[cursor]
		cursor++
		if p == absentByte {
			return nil, false, cursor + 4, nil
		}
	}
	end := cursor + 4
	if end > len(buf) {
		return nil, false, cursor, errs.Framing(int64(cursor), "truncated enum field")
	}
	n := int32(getUintWidth(buf[cursor:end], 4))
	sym, ok := enum.ToSymbol(n)
	if !ok {
		if c.Strict {
			return nil, false, end, errs.Weak(int64(cursor), "unmapped enum value %d for %s", n, enum.Name)
		}
		return value.Str{V: "unknown"}, true, end, nil
	}
	return value.Str{V: sym}, true, end, nil
}

func (c *Codec) encodeFixedInline(t schema.BinaryType, optional bool, v value.Value, present bool, fixed []byte, cursor int) (int, error) {
	width := t.Size
	if optional {
		if present {
			fixed[cursor] = presentByte
		} else {
			fixed[cursor] = absentByte
		}
		cursor++
	}
	if !present {
		return cursor + width, nil
	}
	b, ok := v.(value.Bytes)
	if !ok {
		return cursor, errs.Value("expected a byte value")
	}
	if len(b.V) != t.Size {
		return cursor, errs.Value("fixed field requires exactly %d bytes, got %d", t.Size, len(b.V))
	}
	copy(fixed[cursor:cursor+width], b.V)
	return cursor + width, nil
}

func (c *Codec) decodeFixedInline(t schema.BinaryType, optional bool, buf []byte, cursor int) (value.Value, bool, int, error) {
	width := t.Size
	if optional {
		if cursor >= len(buf) {
			return nil, false, cursor, errs.Framing(int64(cursor), "truncated presence byte")
		}
		p := buf[cursor]
		cursor++
		if p == absentByte {
			return nil, false, cursor + width, nil
		}
	}
	end := cursor + width
	if end > len(buf) {
		return nil, false, cursor, errs.Framing(int64(cursor), "truncated fixed field")
	}
	return value.Bytes{V: append([]byte{}, buf[cursor:end]...)}, true, end, nil
}

func (c *Codec) encodeInlineBinary(t schema.BinaryType, optional bool, v value.Value, present bool, fixed []byte, cursor int) (int, error) {
	width := 1 + t.Max
	if optional {
		if present {
			fixed[cursor] = presentByte
		} else {
			fixed[cursor] = absentByte
		}
		cursor++
	}
	if !present {
		return cursor + width, nil
	}
	data, err := binaryPayload(t, v)
	if err != nil {
		return cursor, err
	}
	if len(data) > t.Max {
		return cursor, errs.Value("%s exceeds declared max size %d", binaryKindName(t.Kind), t.Max)
	}
	fixed[cursor] = byte(len(data))
	copy(fixed[cursor+1:cursor+1+len(data)], data)
	return cursor + width, nil
}

func (c *Codec) decodeInlineBinary(t schema.BinaryType, optional bool, buf []byte, cursor int) (value.Value, bool, int, error) {
	width := 1 + t.Max
	if optional {
		if cursor >= len(buf) {
			return nil, false, cursor, errs.Framing(int64(cursor), "truncated presence byte")
		}
		p := buf[cursor]
		cursor++
		if p == absentByte {
			return nil, false, cursor + width, nil
		}
	}
	if cursor >= len(buf) {
		return nil, false, cursor, errs.Framing(int64(cursor), "truncated inline binary length")
	}
	n := int(buf[cursor])
	start := cursor + 1
	end := start + n
	if end > len(buf) || n > t.Max {
		return nil, false, cursor, errs.Framing(int64(cursor), "truncated or oversized inline binary")
	}
	data := buf[start:end]
	v, present, err := stringOrBytes(t, c.Strict, data, int64(start))
	return v, present, cursor + width, err
}

func (c *Codec) encodePointerBinary(t schema.BinaryType, v value.Value, present bool, fixed []byte, cursor int, variable *[]byte, varBase int) (int, error) {
	if !present {
		putUintWidth(fixed[cursor:cursor+4], 0, 4)
		return cursor + 4, nil
	}
	data, err := binaryPayload(t, v)
	if err != nil {
		return cursor, err
	}
	if t.HasMax && len(data) > t.Max {
		return cursor, errs.Value("%s exceeds declared max size %d", binaryKindName(t.Kind), t.Max)
	}
	ptr := uint32(varBase + len(*variable))
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(data)))
	*variable = append(*variable, lenBuf...)
	*variable = append(*variable, data...)
	putUintWidth(fixed[cursor:cursor+4], uint64(ptr), 4)
	return cursor + 4, nil
}

func (c *Codec) decodePointerBinary(t schema.BinaryType, buf []byte, cursor int, fixedEnd int) (value.Value, bool, int, error) {
	if cursor+4 > len(buf) {
		return nil, false, cursor, errs.Framing(int64(cursor), "truncated pointer")
	}
	ptr := binary.LittleEndian.Uint32(buf[cursor : cursor+4])
	if ptr == 0 {
		return nil, false, cursor + 4, nil
	}
	if int(ptr) < fixedEnd || int(ptr)+4 > len(buf) {
		return nil, false, cursor + 4, errs.Framing(int64(cursor), "pointer out of range")
	}
	length := binary.LittleEndian.Uint32(buf[ptr : ptr+4])
	start := int(ptr) + 4
	end := start + int(length)
	if end > len(buf) {
		return nil, false, cursor + 4, errs.Framing(int64(start), "truncated variable data")
	}
	data := buf[start:end]
	if t.HasMax && int(length) > t.Max {
		if c.Strict {
			return nil, false, cursor + 4, errs.Weak(int64(start), "%s exceeds declared max size %d", binaryKindName(t.Kind), t.Max)
		}
		data = data[:t.Max]
	}
	v, present, err := stringOrBytes(t, c.Strict, data, int64(start))
	return v, present, cursor + 4, err
}

func binaryPayload(t schema.BinaryType, v value.Value) ([]byte, error) {
	switch t.Kind {
	case schema.BinaryKindString:
		s, ok := v.(value.Str)
		if !ok {
			return nil, errs.Value("expected a string value")
		}
		return []byte(s.V), nil
	default:
		b, ok := v.(value.Bytes)
		if !ok {
			return nil, errs.Value("expected a byte value")
		}
		return b.V, nil
	}
}

func stringOrBytes(t schema.BinaryType, strict bool, data []byte, offset int64) (value.Value, bool, error) {
	if t.Kind != schema.BinaryKindString {
		return value.Bytes{V: append([]byte{}, data...)}, true, nil
	}
	if !utf8.Valid(data) {
		if strict {
			return nil, false, errs.Weak(offset, "invalid utf-8 in string field")
		}
		data = []byte(strings.ToValidUTF8(string(data), "�"))
	}
	return value.Str{V: string(data)}, true, nil
}

func (c *Codec) encodeStaticGroupInline(group *schema.GroupDef, optional bool, v value.Value, present bool, fixed []byte, cursor int, variable *[]byte, varBase int) (int, error) {
	width := c.groupFixedSize(group)
	if optional {
		if present {
			fixed[cursor] = presentByte
		} else {
			fixed[cursor] = absentByte
		}
		cursor++
	}
	if !present {
		return cursor + width, nil
	}
	sg, ok := v.(value.StaticGroup)
	if !ok {
		return cursor, errs.Value("expected a static group value")
	}
	return c.encodeGroupInto(group, sg.Fields, fixed, cursor, variable, varBase)
}

func (c *Codec) decodeStaticGroupInline(group *schema.GroupDef, optional bool, buf []byte, cursor int, fixedEnd int) (value.Value, bool, int, error) {
	width := c.groupFixedSize(group)
	if optional {
		if cursor >= len(buf) {
			return nil, false, cursor, errs.Framing(int64(cursor), "truncated presence byte")
		}
		p := buf[cursor]
		cursor++
		if p == absentByte {
			return nil, false, cursor + width, nil
		}
	}
	fields, next, err := c.decodeGroupFields(group, buf, cursor, fixedEnd)
	if err != nil {
		return nil, false, next, err
	}
	return value.StaticGroup{Fields: fields}, true, next, nil
}

func (c *Codec) encodePointerDynamicGroup(base *schema.GroupDef, v value.Value, present bool, fixed []byte, cursor int, variable *[]byte, varBase int) (int, error) {
	if !present {
		putUintWidth(fixed[cursor:cursor+4], 0, 4)
		return cursor + 4, nil
	}
	msg, ok := v.(value.Message)
	if !ok {
		return cursor, errs.Value("expected a message value")
	}
	group, err := c.Registry.GroupByName(msg.Type)
	if err != nil {
		return cursor, err
	}
	if base != nil && !group.IsDescendantOf(base) {
		return cursor, errs.Weak(0, "%s is not %s or a descendant", group.Name, base.Name)
	}
	if !group.HasTypeID {
		return cursor, errs.Value("group %s has no type id, cannot encode as a dynamic reference", group.Name)
	}
	nested, err := c.buildFrame(group, msg.Fields, msg.Extension)
	if err != nil {
		return cursor, err
	}
	ptr := varBase + len(*variable)
	*variable = append(*variable, nested...)
	putUintWidth(fixed[cursor:cursor+4], uint64(ptr), 4)
	return cursor + 4, nil
}

func (c *Codec) decodePointerDynamicGroup(base *schema.GroupDef, buf []byte, cursor int, fixedEnd int) (value.Value, bool, int, error) {
	if cursor+4 > len(buf) {
		return nil, false, cursor, errs.Framing(int64(cursor), "truncated pointer")
	}
	ptr := binary.LittleEndian.Uint32(buf[cursor : cursor+4])
	if ptr == 0 {
		return nil, false, cursor + 4, nil
	}
	if int(ptr) < fixedEnd || int(ptr) >= len(buf) {
		return nil, false, cursor + 4, errs.Framing(int64(cursor), "pointer out of range")
	}
	msg, _, err := c.decodeFrame(buf[ptr:])
	if err != nil {
		return nil, false, cursor + 4, err
	}
	if base != nil && !msg.UnknownType {
		group, gerr := c.Registry.GroupByName(msg.Type)
		if gerr == nil && !group.IsDescendantOf(base) {
			if c.Strict {
				return nil, false, cursor + 4, errs.Weak(int64(cursor), "%s is not %s or a descendant", msg.Type, base.Name)
			}
			return value.Message{UnknownType: true, RawTypeID: group.TypeID}, true, cursor + 4, nil
		}
	}
	return msg, true, cursor + 4, nil
}

func (c *Codec) encodePointerSequence(t schema.SequenceType, v value.Value, present bool, fixed []byte, cursor int, variable *[]byte, varBase int) (int, error) {
	if !present {
		putUintWidth(fixed[cursor:cursor+4], 0, 4)
		return cursor + 4, nil
	}
	seq, ok := v.(value.Sequence)
	if !ok {
		return cursor, errs.Value("expected a sequence value")
	}
	itemWidth := c.fieldFixedWidth(t.Element, false)
	items := make([]byte, itemWidth*len(seq.Items))
	ptr := varBase + len(*variable)
	localBase := ptr + 4 + len(items)
	var extra []byte
	for i, item := range seq.Items {
		if _, err := c.encodeTypeInto(t.Element, false, item, true, items, i*itemWidth, &extra, localBase); err != nil {
			return cursor, wrapField(err, indexPath(i))
		}
	}
	countBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(countBuf, uint32(len(seq.Items)))
	*variable = append(*variable, countBuf...)
	*variable = append(*variable, items...)
	*variable = append(*variable, extra...)
	putUintWidth(fixed[cursor:cursor+4], uint64(ptr), 4)
	return cursor + 4, nil
}

func (c *Codec) decodePointerSequence(t schema.SequenceType, buf []byte, cursor int, fixedEnd int) (value.Value, bool, int, error) {
	if cursor+4 > len(buf) {
		return nil, false, cursor, errs.Framing(int64(cursor), "truncated pointer")
	}
	ptr := binary.LittleEndian.Uint32(buf[cursor : cursor+4])
	if ptr == 0 {
		return nil, false, cursor + 4, nil
	}
	if int(ptr) < fixedEnd || int(ptr)+4 > len(buf) {
		return nil, false, cursor + 4, errs.Framing(int64(cursor), "pointer out of range")
	}
	count := binary.LittleEndian.Uint32(buf[ptr : ptr+4])
	itemWidth := c.fieldFixedWidth(t.Element, false)
	itemsStart := int(ptr) + 4
	items := make([]value.Value, 0, count)
	for i := uint32(0); i < count; i++ {
		itemCursor := itemsStart + int(i)*itemWidth
		v, present, _, err := c.decodeTypeInto(t.Element, false, buf, itemCursor, fixedEnd)
		if err != nil {
			return nil, false, cursor + 4, wrapField(err, indexPath(int(i)))
		}
		if !present {
			return nil, false, cursor + 4, errs.Value("sequence element cannot be absent").WithField(indexPath(int(i)))
		}
		items = append(items, v)
	}
	return value.Sequence{Items: items}, true, cursor + 4, nil
}
