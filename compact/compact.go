// Package compact implements the Compact Binary codec (C6): the
// self-describing wire format built directly on VLC (C1), where every
// frame carries its own length and type id and a group's fields are
// packed with no padding and no field tags.
package compact

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/blinkproto/blink/errs"
	"github.com/blinkproto/blink/registry"
	"github.com/blinkproto/blink/schema"
	"github.com/blinkproto/blink/value"
	"github.com/blinkproto/blink/vlc"
)

// ReservedIDMin and ReservedIDMax bound the type id range Dynamic Schema
// Exchange (C11) reserves for itself (§4.8); a Codec never resolves ids in
// this range against its Registry.
const (
	ReservedIDMin uint64 = 16000
	ReservedIDMax uint64 = 16383
)

// IsReservedTypeID reports whether typeID falls in the Dynamic Schema
// Exchange reserved range.
func IsReservedTypeID(typeID uint64) bool {
	return typeID >= ReservedIDMin && typeID <= ReservedIDMax
}

// ReservedHandler processes a reserved-type-id frame's raw payload. A Codec
// never interprets the payload itself; it just recognizes the range and
// hands the bytes off, the way a demuxer dispatches by a channel id without
// knowing the channel's own wire format. dynschema implements this
// interface to drive registry updates from Dynamic Schema Exchange frames.
type ReservedHandler interface {
	HandleReservedFrame(typeID uint64, payload []byte, strict bool) error
}

// Codec encodes and decodes Compact Binary frames against Registry. Strict
// selects the failure mode for recoverable (WeakError) conditions: true
// aborts on the first one, false records a best-effort substitute and
// continues (§4.5.4, §7).
type Codec struct {
	Registry *registry.Registry
	Strict   bool
	Reserved ReservedHandler
}

// New returns a Codec bound to reg with the given default strictness. Call
// WithReserved to wire a Dynamic Schema Exchange handler in afterward.
func New(reg *registry.Registry, strict bool) *Codec {
	return &Codec{Registry: reg, Strict: strict}
}

// WithReserved returns a copy of c with its ReservedHandler set.
func (c *Codec) WithReserved(h ReservedHandler) *Codec {
	n := *c
	n.Reserved = h
	return &n
}

// EncodeMessage encodes msg as a single top-level frame (§4.5.1): a
// length-prefixed, type-id-tagged sequence of the group's linearized
// fields followed by any extension messages.
func (c *Codec) EncodeMessage(msg value.Message) ([]byte, error) {
	group, err := c.Registry.GroupByName(msg.Type)
	if err != nil {
		return nil, err
	}
	if !group.HasTypeID {
		return nil, errs.Value("group %s has no type id, cannot encode a top-level frame", group.Name)
	}
	fieldsEnc, err := c.encodeGroupFields(group, msg.Fields)
	if err != nil {
		return nil, err
	}
	extEnc, err := c.encodeExtension(msg.Extension)
	if err != nil {
		return nil, err
	}
	payload := append(fieldsEnc, extEnc...)
	return encodeFrame(group.TypeID, payload), nil
}

// DecodeMessage decodes exactly one application message starting at offset,
// transparently consuming and dispatching any Dynamic Schema Exchange
// frames it encounters first (those frames produce no value.Message of
// their own). next is the offset of the first unconsumed byte.
func (c *Codec) DecodeMessage(buf []byte, offset int) (msg value.Message, next int, err error) {
	for {
		if offset >= len(buf) {
			return value.Message{}, offset, errs.Framing(int64(offset), "no message available in buffer")
		}
		m, isUpdate, n, err := c.decodeOneFrame(buf, offset)
		if err != nil {
			return value.Message{}, offset, err
		}
		offset = n
		if !isUpdate {
			return m, offset, nil
		}
	}
}

// DecodeStream decodes every application message in buf in order, skipping
// any interleaved Dynamic Schema Exchange frames.
func (c *Codec) DecodeStream(buf []byte) ([]value.Message, error) {
	var msgs []value.Message
	offset := 0
	for offset < len(buf) {
		m, isUpdate, next, err := c.decodeOneFrame(buf, offset)
		if err != nil {
			return msgs, err
		}
		offset = next
		if !isUpdate {
			msgs = append(msgs, m)
		}
	}
	return msgs, nil
}

// decodeOneFrame decodes the single frame at offset. isUpdate reports
// whether typeID fell in the reserved range, in which case msg is the zero
// value and was already handed to c.Reserved (if configured).
func (c *Codec) decodeOneFrame(buf []byte, offset int) (msg value.Message, isUpdate bool, next int, err error) {
	length, isNull, cursor, err := vlc.DecodeUnsigned(buf, offset)
	if err != nil {
		return value.Message{}, false, offset, err
	}
	if isNull {
		return value.Message{}, false, cursor, errs.Framing(int64(offset), "frame length cannot be null")
	}
	frameEnd := cursor + int(length)
	if frameEnd > len(buf) {
		return value.Message{}, false, offset, errs.Framing(int64(cursor), "truncated frame body")
	}
	typeID, isNull2, afterID, err := vlc.DecodeUnsigned(buf, cursor)
	if err != nil {
		return value.Message{}, false, offset, err
	}
	if isNull2 {
		return value.Message{}, false, frameEnd, errs.Framing(int64(cursor), "frame type id cannot be null")
	}
	if IsReservedTypeID(typeID) {
		payload := buf[afterID:frameEnd]
		if c.Reserved != nil {
			if err := c.Reserved.HandleReservedFrame(typeID, payload, c.Strict); err != nil {
				return value.Message{}, true, frameEnd, err
			}
		} else if c.Strict {
			return value.Message{}, true, frameEnd, errs.SchemaUpdate("reserved type id %d received with no schema-exchange handler configured", typeID)
		}
		return value.Message{}, true, frameEnd, nil
	}
	group, gerr := c.Registry.GroupByID(typeID)
	if gerr != nil {
		if c.Strict {
			return value.Message{}, false, frameEnd, errs.Weak(int64(cursor), "unknown type id %d", typeID)
		}
		return value.Message{UnknownType: true, RawTypeID: typeID}, false, frameEnd, nil
	}
	fields, fieldsEnd, err := c.decodeGroupFields(group, buf[:frameEnd], afterID)
	if err != nil {
		return value.Message{}, false, frameEnd, err
	}
	ext, extEnd, err := c.decodeExtension(buf[:frameEnd], fieldsEnd)
	if err != nil {
		return value.Message{}, false, frameEnd, err
	}
	if extEnd != frameEnd {
		return value.Message{}, false, frameEnd, errs.Framing(int64(extEnd), "trailing bytes inside frame payload")
	}
	return value.Message{Type: group.Name, Fields: fields, Extension: ext}, false, frameEnd, nil
}

func encodeFrame(typeID uint64, payload []byte) []byte {
	body := append(vlc.EncodeUnsigned(typeID), payload...)
	length := vlc.EncodeUnsigned(uint64(len(body)))
	return append(length, body...)
}

func (c *Codec) encodeGroupFields(group *schema.GroupDef, fields value.FieldMap) ([]byte, error) {
	var out []byte
	for _, f := range group.AllFields() {
		v, ok := fields.Get(f.Name)
		if !ok {
			if !f.Optional {
				return nil, errs.Value("missing required field %q", f.Name)
			}
			enc, err := c.encodeAbsent(f.Type)
			if err != nil {
				return nil, wrapField(err, f.Name)
			}
			out = append(out, enc...)
			continue
		}
		enc, err := c.encodeValue(f.Type, v, f.Optional)
		if err != nil {
			return nil, wrapField(err, f.Name)
		}
		out = append(out, enc...)
	}
	return out, nil
}

func (c *Codec) decodeGroupFields(group *schema.GroupDef, buf []byte, offset int) (value.FieldMap, int, error) {
	var fm value.FieldMap
	cursor := offset
	for _, f := range group.AllFields() {
		v, present, next, err := c.decodeValue(f.Type, buf, cursor, f.Optional)
		cursor = next
		if err != nil {
			return fm, cursor, wrapField(err, f.Name)
		}
		switch {
		case present:
			fm.Set(f.Name, v)
		case !f.Optional:
			return fm, cursor, errs.Value("required field %q received null", f.Name).WithField(f.Name)
		}
	}
	return fm, cursor, nil
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

// encodeExtension encodes msgs as the optional extension block (§4.5.3): a
// count VLC followed by that many nested dynamic-group frames. Zero
// messages encode to zero bytes, matching the "only present if bytes
// remain" rule decodeExtension applies.
func (c *Codec) encodeExtension(msgs []value.Message) ([]byte, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	out := vlc.EncodeUnsigned(uint64(len(msgs)))
	for _, m := range msgs {
		group, err := c.Registry.GroupByName(m.Type)
		if err != nil {
			return nil, err
		}
		if !group.HasTypeID {
			return nil, errs.Value("group %s has no type id, cannot encode as extension", group.Name)
		}
		fieldsEnc, err := c.encodeGroupFields(group, m.Fields)
		if err != nil {
			return nil, err
		}
		nestedExt, err := c.encodeExtension(m.Extension)
		if err != nil {
			return nil, err
		}
		out = append(out, encodeFrame(group.TypeID, append(fieldsEnc, nestedExt...))...)
	}
	return out, nil
}

func (c *Codec) decodeExtension(buf []byte, offset int) ([]value.Message, int, error) {
	if offset >= len(buf) {
		return nil, offset, nil
	}
	count, isNull, cursor, err := vlc.DecodeUnsigned(buf, offset)
	if err != nil {
		return nil, offset, err
	}
	if isNull {
		return nil, cursor, errs.Framing(int64(offset), "extension count cannot be null")
	}
	var items []value.Message
	for i := uint64(0); i < count; i++ {
		length, isNull2, afterLen, err := vlc.DecodeUnsigned(buf, cursor)
		if err != nil {
			return items, cursor, err
		}
		if isNull2 {
			return items, cursor, errs.Value("extension frame length cannot be null")
		}
		frameEnd := afterLen + int(length)
		if frameEnd > len(buf) {
			return items, cursor, errs.Framing(int64(cursor), "truncated extension frame")
		}
		typeID, isNull3, afterID, err := vlc.DecodeUnsigned(buf, afterLen)
		if err != nil {
			return items, cursor, err
		}
		if isNull3 {
			return items, cursor, errs.Value("extension frame type id cannot be null")
		}
		group, gerr := c.Registry.GroupByID(typeID)
		if gerr != nil {
			if c.Strict {
				return items, cursor, errs.Weak(int64(afterLen), "unknown type id %d in extension", typeID)
			}
			cursor = frameEnd
			continue
		}
		fields, fieldsEnd, err := c.decodeGroupFields(group, buf[:frameEnd], afterID)
		if err != nil {
			return items, cursor, err
		}
		nestedExt, extEnd, err := c.decodeExtension(buf[:frameEnd], fieldsEnd)
		if err != nil {
			return items, cursor, err
		}
		if extEnd != frameEnd {
			return items, cursor, errs.Framing(int64(extEnd), "trailing bytes inside extension frame")
		}
		items = append(items, value.Message{Type: group.Name, Fields: fields, Extension: nestedExt})
		cursor = frameEnd
	}
	return items, cursor, nil
}

// encodeValue and decodeValue dispatch over schema.Type's closed variant
// set (§4.5.2). A Type implementer outside that set falls to each switch's
// default case, which returns a ValueError.

func (c *Codec) encodeValue(t schema.Type, v value.Value, optional bool) ([]byte, error) {
	switch tt := t.(type) {
	case schema.PrimitiveType:
		return c.encodePrimitive(tt.Kind, v)
	case schema.BinaryType:
		return c.encodeBinary(tt, v, optional)
	case schema.EnumRef:
		return c.encodeEnum(tt.Enum, v)
	case schema.SequenceType:
		return c.encodeSequence(tt, v)
	case schema.StaticGroupRef:
		return c.encodeStaticGroup(tt.Group, v, optional)
	case schema.DynamicGroupRef:
		return c.encodeDynamicGroup(tt.Group, v)
	case schema.ObjectType:
		return c.encodeDynamicGroup(nil, v)
	default:
		return nil, errs.Value("unsupported field type")
	}
}

func (c *Codec) decodeValue(t schema.Type, buf []byte, offset int, optional bool) (value.Value, bool, int, error) {
	switch tt := t.(type) {
	case schema.PrimitiveType:
		return c.decodePrimitive(tt.Kind, buf, offset)
	case schema.BinaryType:
		return c.decodeBinary(tt, buf, offset, optional)
	case schema.EnumRef:
		return c.decodeEnum(tt.Enum, buf, offset)
	case schema.SequenceType:
		return c.decodeSequence(tt, buf, offset)
	case schema.StaticGroupRef:
		return c.decodeStaticGroup(tt.Group, buf, offset, optional)
	case schema.DynamicGroupRef:
		return c.decodeDynamicGroup(tt.Group, buf, offset)
	case schema.ObjectType:
		return c.decodeDynamicGroup(nil, buf, offset)
	default:
		return nil, false, offset, errs.Value("unsupported field type")
	}
}

// encodeAbsent returns the wire bytes for an absent optional field: most
// types use the VLC NULL sentinel, fixed(N) and static groups use a
// dedicated presence byte since neither has a length prefix to steal a
// sentinel from (§4.5.2).
func (c *Codec) encodeAbsent(t schema.Type) ([]byte, error) {
	switch tt := t.(type) {
	case schema.BinaryType:
		if tt.Kind == schema.BinaryKindFixed {
			return []byte{0xC0}, nil
		}
		return vlc.EncodeNull(), nil
	case schema.StaticGroupRef:
		return []byte{0xC0}, nil
	default:
		return vlc.EncodeNull(), nil
	}
}

func widthFor(kind schema.PrimitiveKind) int {
	switch kind {
	case schema.U8, schema.I8:
		return 8
	case schema.U16, schema.I16:
		return 16
	case schema.U32, schema.I32:
		return 32
	default:
		return 64
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

func clampUnsigned(u uint64, bits int) uint64 {
	if bits >= 64 {
		return u
	}
	max := (uint64(1) << uint(bits)) - 1
	if u > max {
		return max
	}
	return u
}

func clampSigned(v int64, bits int) int64 {
	if bits >= 64 {
		return v
	}
	min := int64(-1) << uint(bits-1)
	max := (int64(1) << uint(bits-1)) - 1
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func (c *Codec) encodePrimitive(kind schema.PrimitiveKind, v value.Value) ([]byte, error) {
	switch kind {
	case schema.Bool:
		b, ok := v.(value.Bool)
		if !ok {
			return nil, errs.Value("expected a bool value")
		}
		n := uint64(0)
		if b.V {
			n = 1
		}
		return vlc.EncodeUnsigned(n), nil
	case schema.F64:
		f, ok := v.(value.Float)
		if !ok {
			return nil, errs.Value("expected a float value")
		}
		return vlc.EncodeUnsigned(math.Float64bits(f.V)), nil
	case schema.Decimal:
		d, ok := v.(value.Decimal)
		if !ok {
			return nil, errs.Value("expected a decimal value")
		}
		out := vlc.EncodeSigned(int64(d.Exponent))
		return append(out, vlc.EncodeSigned(d.Mantissa)...), nil
	default:
		bits := widthFor(kind)
		if isSignedKind(kind) {
			i, ok := v.(value.Int)
			if !ok {
				return nil, errs.Value("expected an integer value")
			}
			if !vlc.FitsSigned(i.V, bits) {
				return nil, errs.Value("%d does not fit in %s", i.V, kind)
			}
			return vlc.EncodeSigned(i.V), nil
		}
		u, ok := v.(value.Uint)
		if !ok {
			return nil, errs.Value("expected an unsigned integer value")
		}
		if !vlc.FitsUnsigned(u.V, bits) {
			return nil, errs.Value("%d does not fit in %s", u.V, kind)
		}
		return vlc.EncodeUnsigned(u.V), nil
	}
}

func (c *Codec) decodePrimitive(kind schema.PrimitiveKind, buf []byte, offset int) (value.Value, bool, int, error) {
	switch kind {
	case schema.Decimal:
		exp, isNull, cursor, err := vlc.DecodeSigned(buf, offset)
		if err != nil {
			return nil, false, offset, err
		}
		if isNull {
			return nil, false, cursor, nil
		}
		if exp < math.MinInt8 || exp > math.MaxInt8 {
			return nil, false, cursor, errs.Weak(int64(offset), "decimal exponent out of i8 range")
		}
		mantissa, isNull2, cursor2, err := vlc.DecodeSigned(buf, cursor)
		if err != nil {
			return nil, false, cursor, err
		}
		if isNull2 {
			return nil, false, cursor2, errs.Value("decimal mantissa cannot be null")
		}
		return value.Decimal{Exponent: int8(exp), Mantissa: mantissa}, true, cursor2, nil
	case schema.Bool:
		u, isNull, cursor, err := vlc.DecodeUnsigned(buf, offset)
		if err != nil {
			return nil, false, offset, err
		}
		if isNull {
			return nil, false, cursor, nil
		}
		return value.Bool{V: u != 0}, true, cursor, nil
	case schema.F64:
		u, isNull, cursor, err := vlc.DecodeUnsigned(buf, offset)
		if err != nil {
			return nil, false, offset, err
		}
		if isNull {
			return nil, false, cursor, nil
		}
		return value.Float{V: math.Float64frombits(u)}, true, cursor, nil
	default:
		bits := widthFor(kind)
		if isSignedKind(kind) {
			i, isNull, cursor, err := vlc.DecodeSigned(buf, offset)
			if err != nil {
				return nil, false, offset, err
			}
			if isNull {
				return nil, false, cursor, nil
			}
			if !vlc.FitsSigned(i, bits) {
				if c.Strict {
					return nil, false, cursor, errs.Weak(int64(offset), "integer out of range for %s", kind)
				}
				i = clampSigned(i, bits)
			}
			return value.Int{V: i}, true, cursor, nil
		}
		u, isNull, cursor, err := vlc.DecodeUnsigned(buf, offset)
		if err != nil {
			return nil, false, offset, err
		}
		if isNull {
			return nil, false, cursor, nil
		}
		if !vlc.FitsUnsigned(u, bits) {
			if c.Strict {
				return nil, false, cursor, errs.Weak(int64(offset), "integer out of range for %s", kind)
			}
			u = clampUnsigned(u, bits)
		}
		return value.Uint{V: u}, true, cursor, nil
	}
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

func (c *Codec) encodeBinary(t schema.BinaryType, v value.Value, optional bool) ([]byte, error) {
	if t.Kind == schema.BinaryKindFixed {
		b, ok := v.(value.Bytes)
		if !ok {
			return nil, errs.Value("expected a byte value")
		}
		if len(b.V) != t.Size {
			return nil, errs.Value("fixed field requires exactly %d bytes, got %d", t.Size, len(b.V))
		}
		var out []byte
		if optional {
			out = append(out, 0x01)
		}
		return append(out, b.V...), nil
	}
	var data []byte
	switch t.Kind {
	case schema.BinaryKindString:
		s, ok := v.(value.Str)
		if !ok {
			return nil, errs.Value("expected a string value")
		}
		data = []byte(s.V)
	case schema.BinaryKindBinary:
		b, ok := v.(value.Bytes)
		if !ok {
			return nil, errs.Value("expected a byte value")
		}
		data = b.V
	}
	if t.HasMax && len(data) > t.Max {
		return nil, errs.Value("%s exceeds declared max size %d", binaryKindName(t.Kind), t.Max)
	}
	out := vlc.EncodeUnsigned(uint64(len(data)))
	return append(out, data...), nil
}

func (c *Codec) decodeBinary(t schema.BinaryType, buf []byte, offset int, optional bool) (value.Value, bool, int, error) {
	if t.Kind == schema.BinaryKindFixed {
		cursor := offset
		if optional {
			if cursor >= len(buf) {
				return nil, false, cursor, errs.Framing(int64(cursor), "truncated fixed presence byte")
			}
			p := buf[cursor]
			if p == 0xC0 {
				return nil, false, cursor + 1, nil
			}
			if p != 0x01 {
				return nil, false, cursor, errs.Framing(int64(cursor), "invalid fixed presence byte %#x", p)
			}
			cursor++
		}
		end := cursor + t.Size
		if end > len(buf) {
			return nil, false, cursor, errs.Framing(int64(cursor), "truncated fixed field")
		}
		return value.Bytes{V: append([]byte{}, buf[cursor:end]...)}, true, end, nil
	}
	length, isNull, cursor, err := vlc.DecodeUnsigned(buf, offset)
	if err != nil {
		return nil, false, offset, err
	}
	if isNull {
		return nil, false, cursor, nil
	}
	end := cursor + int(length)
	if end > len(buf) {
		return nil, false, cursor, errs.Framing(int64(cursor), "truncated binary/string field")
	}
	data := buf[cursor:end]
	if t.HasMax && length > uint64(t.Max) {
		if c.Strict {
			return nil, false, end, errs.Weak(int64(cursor), "%s exceeds declared max size %d", binaryKindName(t.Kind), t.Max)
		}
		data = data[:t.Max]
	}
	if t.Kind == schema.BinaryKindString {
		if !utf8.Valid(data) {
			if c.Strict {
				return nil, false, end, errs.Weak(int64(cursor), "invalid utf-8 in string field")
			}
			data = []byte(strings.ToValidUTF8(string(data), "�"))
		}
		return value.Str{V: string(data)}, true, end, nil
	}
	return value.Bytes{V: append([]byte{}, data...)}, true, end, nil
}

func (c *Codec) encodeEnum(enum *schema.EnumDef, v value.Value) ([]byte, error) {
	s, ok := v.(value.Str)
	if !ok {
		return nil, errs.Value("expected a string symbol value for enum %s", enum.Name)
	}
	num, ok := enum.ToValue(s.V)
	if !ok {
		return nil, errs.Value("unknown enum symbol %q for %s", s.V, enum.Name)
	}
	return vlc.EncodeSigned(int64(num)), nil
}

func (c *Codec) decodeEnum(enum *schema.EnumDef, buf []byte, offset int) (value.Value, bool, int, error) {
	n, isNull, cursor, err := vlc.DecodeSigned(buf, offset)
	if err != nil {
		return nil, false, offset, err
	}
	if isNull {
		return nil, false, cursor, nil
	}
	sym, ok := enum.ToSymbol(int32(n))
	if !ok {
		if c.Strict {
			return nil, false, cursor, errs.Weak(int64(offset), "unmapped enum value %d for %s", n, enum.Name)
		}
		return value.Str{V: "unknown"}, true, cursor, nil
	}
	return value.Str{V: sym}, true, cursor, nil
}

func (c *Codec) encodeSequence(t schema.SequenceType, v value.Value) ([]byte, error) {
	seq, ok := v.(value.Sequence)
	if !ok {
		return nil, errs.Value("expected a sequence value")
	}
	out := vlc.EncodeUnsigned(uint64(len(seq.Items)))
	for i, item := range seq.Items {
		enc, err := c.encodeValue(t.Element, item, false)
		if err != nil {
			return nil, wrapField(err, indexPath(i))
		}
		out = append(out, enc...)
	}
	return out, nil
}

func (c *Codec) decodeSequence(t schema.SequenceType, buf []byte, offset int) (value.Value, bool, int, error) {
	count, isNull, cursor, err := vlc.DecodeUnsigned(buf, offset)
	if err != nil {
		return nil, false, offset, err
	}
	if isNull {
		return nil, false, cursor, nil
	}
	items := make([]value.Value, 0, count)
	for i := uint64(0); i < count; i++ {
		v, present, next, err := c.decodeValue(t.Element, buf, cursor, false)
		cursor = next
		if err != nil {
			return nil, false, cursor, wrapField(err, indexPath(int(i)))
		}
		if !present {
			return nil, false, cursor, errs.Value("sequence element cannot be absent").WithField(indexPath(int(i)))
		}
		items = append(items, v)
	}
	return value.Sequence{Items: items}, true, cursor, nil
}

func indexPath(i int) string {
	return "[" + itoa(i) + "]"
}

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

func (c *Codec) encodeStaticGroup(group *schema.GroupDef, v value.Value, optional bool) ([]byte, error) {
	sg, ok := v.(value.StaticGroup)
	if !ok {
		return nil, errs.Value("expected a static group value for %s", group.Name)
	}
	var out []byte
	if optional {
		out = append(out, 0x01)
	}
	fieldsEnc, err := c.encodeGroupFields(group, sg.Fields)
	if err != nil {
		return nil, err
	}
	return append(out, fieldsEnc...), nil
}

func (c *Codec) decodeStaticGroup(group *schema.GroupDef, buf []byte, offset int, optional bool) (value.Value, bool, int, error) {
	cursor := offset
	if optional {
		if cursor >= len(buf) {
			return nil, false, cursor, errs.Framing(int64(cursor), "truncated static group presence byte")
		}
		p := buf[cursor]
		if p == 0xC0 {
			return nil, false, cursor + 1, nil
		}
		if p != 0x01 {
			return nil, false, cursor, errs.Framing(int64(cursor), "invalid static group presence byte %#x", p)
		}
		cursor++
	}
	fields, next, err := c.decodeGroupFields(group, buf, cursor)
	if err != nil {
		return nil, false, next, err
	}
	return value.StaticGroup{Fields: fields}, true, next, nil
}

// encodeDynamicGroup encodes v (a value.Message) as a nested frame. base is
// the declared field's base group for DynamicGroupRef, nil for object
// (§3.2, W15 polymorphism check).
func (c *Codec) encodeDynamicGroup(base *schema.GroupDef, v value.Value) ([]byte, error) {
	msg, ok := v.(value.Message)
	if !ok {
		return nil, errs.Value("expected a message value")
	}
	group, err := c.Registry.GroupByName(msg.Type)
	if err != nil {
		return nil, err
	}
	if base != nil && !group.IsDescendantOf(base) {
		return nil, errs.Weak(0, "%s is not %s or a descendant", group.Name, base.Name)
	}
	if !group.HasTypeID {
		return nil, errs.Value("group %s has no type id, cannot encode as a dynamic reference", group.Name)
	}
	fieldsEnc, err := c.encodeGroupFields(group, msg.Fields)
	if err != nil {
		return nil, err
	}
	extEnc, err := c.encodeExtension(msg.Extension)
	if err != nil {
		return nil, err
	}
	return encodeFrame(group.TypeID, append(fieldsEnc, extEnc...)), nil
}

func (c *Codec) decodeDynamicGroup(base *schema.GroupDef, buf []byte, offset int) (value.Value, bool, int, error) {
	length, isNull, cursor, err := vlc.DecodeUnsigned(buf, offset)
	if err != nil {
		return nil, false, offset, err
	}
	if isNull {
		return nil, false, cursor, nil
	}
	frameEnd := cursor + int(length)
	if frameEnd > len(buf) {
		return nil, false, cursor, errs.Framing(int64(cursor), "truncated nested frame")
	}
	typeID, isNull2, afterID, err := vlc.DecodeUnsigned(buf, cursor)
	if err != nil {
		return nil, false, cursor, err
	}
	if isNull2 {
		return nil, false, frameEnd, errs.Value("nested frame type id cannot be null")
	}
	group, gerr := c.Registry.GroupByID(typeID)
	if gerr != nil {
		if c.Strict {
			return nil, false, frameEnd, errs.Weak(int64(afterID), "unknown type id %d", typeID)
		}
		return value.Message{UnknownType: true, RawTypeID: typeID}, true, frameEnd, nil
	}
	if base != nil && !group.IsDescendantOf(base) {
		if c.Strict {
			return nil, false, frameEnd, errs.Weak(int64(afterID), "%s is not %s or a descendant", group.Name, base.Name)
		}
		return value.Message{UnknownType: true, RawTypeID: typeID}, true, frameEnd, nil
	}
	fields, fieldsEnd, err := c.decodeGroupFields(group, buf[:frameEnd], afterID)
	if err != nil {
		return nil, false, frameEnd, err
	}
	ext, extEnd, err := c.decodeExtension(buf[:frameEnd], fieldsEnd)
	if err != nil {
		return nil, false, frameEnd, err
	}
	if extEnd != frameEnd {
		return nil, false, frameEnd, errs.Framing(int64(extEnd), "trailing bytes inside nested frame")
	}
	return value.Message{Type: group.Name, Fields: fields, Extension: ext}, true, frameEnd, nil
}
