// Package tag implements the Tag codec (C8): a line-oriented, human
// readable text rendering of a Blink message, one message per line,
// intended for logs and manual inspection rather than wire efficiency.
package tag

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/blinkproto/blink/errs"
	"github.com/blinkproto/blink/registry"
	"github.com/blinkproto/blink/schema"
	"github.com/blinkproto/blink/value"
)

// Codec encodes and decodes Tag text against Registry. Strict selects the
// failure mode for recoverable conditions the same way compact.Codec and
// native.Codec do (§4.5.4, §7).
type Codec struct {
	Registry *registry.Registry
	Strict   bool
}

// New returns a Codec bound to reg with the given default strictness.
func New(reg *registry.Registry, strict bool) *Codec {
	return &Codec{Registry: reg, Strict: strict}
}

// EncodeMessage renders msg as a single Tag line: "@Ns:Name|f=v|...".
// Optional fields with no value are simply omitted (no "|f=" segment).
func (c *Codec) EncodeMessage(msg value.Message) (string, error) {
	group, err := c.Registry.GroupByName(msg.Type)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteByte('@')
	b.WriteString(msg.Type.String())
	for _, f := range group.AllFields() {
		v, ok := msg.Fields.Get(f.Name)
		if !ok {
			if !f.Optional {
				return "", errs.Value("missing required field %q", f.Name)
			}
			continue
		}
		enc, err := c.encodeValue(f.Type, v)
		if err != nil {
			return "", wrapField(err, f.Name)
		}
		b.WriteByte('|')
		b.WriteString(f.Name)
		b.WriteByte('=')
		b.WriteString(enc)
	}
	if len(msg.Extension) > 0 {
		b.WriteByte('|')
		b.WriteByte('[')
		for i, m := range msg.Extension {
			if i > 0 {
				b.WriteByte(';')
			}
			enc, err := c.encodeNestedMessage(m)
			if err != nil {
				return "", err
			}
			b.WriteString(enc)
		}
		b.WriteByte(']')
	}
	return b.String(), nil
}

// EncodeStream renders msgs as one Tag line per message, newline separated.
func (c *Codec) EncodeStream(msgs []value.Message) (string, error) {
	lines := make([]string, len(msgs))
	for i, m := range msgs {
		line, err := c.EncodeMessage(m)
		if err != nil {
			return "", wrapField(err, indexPath(i))
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n"), nil
}

// DecodeMessage parses a single Tag line into a value.Message.
func (c *Codec) DecodeMessage(line string) (value.Message, error) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "@") {
		return value.Message{}, errs.Parse(0, 0, "tag message must start with '@'")
	}
	segments := splitTopLevel(line[1:], '|')
	if len(segments) == 0 || segments[0] == "" {
		return value.Message{}, errs.Parse(0, 0, "tag message missing type name")
	}
	qname := schema.ParseQName(segments[0], "")
	group, err := c.Registry.GroupByName(qname)
	if err != nil {
		if c.Strict {
			return value.Message{}, errs.Weak(0, "unknown group %s", qname)
		}
		return value.Message{UnknownType: true}, nil
	}
	fm, ext, err := c.parseFieldSegments(group, segments[1:])
	if err != nil {
		return value.Message{}, err
	}
	return value.Message{Type: group.Name, Fields: fm, Extension: ext}, nil
}

// DecodeStream parses text as newline-separated Tag lines, skipping blank
// lines.
func (c *Codec) DecodeStream(text string) ([]value.Message, error) {
	var msgs []value.Message
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m, err := c.DecodeMessage(line)
		if err != nil {
			return msgs, wrapField(err, indexPath(i))
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (c *Codec) parseFieldSegments(group *schema.GroupDef, segments []string) (value.FieldMap, []value.Message, error) {
	var fm value.FieldMap
	var ext []value.Message
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		if strings.HasPrefix(seg, "[") {
			inner := strings.TrimSuffix(strings.TrimPrefix(seg, "["), "]")
			for _, item := range splitTopLevel(inner, ';') {
				if item == "" {
					continue
				}
				m, err := c.parseNestedMessage(item)
				if err != nil {
					return fm, ext, err
				}
				ext = append(ext, m)
			}
			continue
		}
		eq := strings.IndexByte(seg, '=')
		if eq < 0 {
			return fm, ext, errs.Parse(0, 0, "malformed field segment %q", seg)
		}
		name, raw := seg[:eq], seg[eq+1:]
		fd := findField(group, name)
		if fd == nil {
			if c.Strict {
				return fm, ext, errs.Weak(0, "unknown field %q in %s", name, group.Name)
			}
			continue
		}
		v, err := c.decodeValue(fd.Type, raw)
		if err != nil {
			return fm, ext, wrapField(err, name)
		}
		fm.Set(name, v)
	}
	for _, f := range group.AllFields() {
		if f.Optional {
			continue
		}
		if _, ok := fm.Get(f.Name); !ok {
			return fm, ext, errs.Value("required field %q missing", f.Name).WithField(f.Name)
		}
	}
	return fm, ext, nil
}

// encodeNestedMessage renders an extension message, a DynamicGroupRef
// field's value, or an object field's value uniformly as
// "Ns:Name{f=v,...}", the qualified name disambiguating the runtime type
// the way a bare static-group literal never needs to.
func (c *Codec) encodeNestedMessage(m value.Message) (string, error) {
	group, err := c.Registry.GroupByName(m.Type)
	if err != nil {
		return "", err
	}
	inner, err := c.encodeStaticFields(group, m.Fields)
	if err != nil {
		return "", err
	}
	return m.Type.String() + "{" + inner + "}", nil
}

func (c *Codec) parseNestedMessage(s string) (value.Message, error) {
	idx := strings.IndexByte(s, '{')
	if idx < 0 || !strings.HasSuffix(s, "}") {
		return value.Message{}, errs.Parse(0, 0, "malformed nested message %q", s)
	}
	qname := schema.ParseQName(s[:idx], "")
	group, err := c.Registry.GroupByName(qname)
	if err != nil {
		if c.Strict {
			return value.Message{}, errs.Weak(0, "unknown group %s", qname)
		}
		return value.Message{UnknownType: true}, nil
	}
	fm, err := c.decodeStaticFields(group, s[idx+1:len(s)-1])
	if err != nil {
		return value.Message{}, err
	}
	return value.Message{Type: group.Name, Fields: fm}, nil
}

func (c *Codec) encodeStaticFields(group *schema.GroupDef, fields value.FieldMap) (string, error) {
	var parts []string
	for _, f := range group.AllFields() {
		v, ok := fields.Get(f.Name)
		if !ok {
			if !f.Optional {
				return "", errs.Value("missing required field %q", f.Name)
			}
			continue
		}
		enc, err := c.encodeValue(f.Type, v)
		if err != nil {
			return "", wrapField(err, f.Name)
		}
		parts = append(parts, f.Name+"="+enc)
	}
	return strings.Join(parts, ","), nil
}

func (c *Codec) decodeStaticFields(group *schema.GroupDef, inner string) (value.FieldMap, error) {
	var fm value.FieldMap
	for _, seg := range splitTopLevel(inner, ',') {
		if seg == "" {
			continue
		}
		eq := strings.IndexByte(seg, '=')
		if eq < 0 {
			return fm, errs.Parse(0, 0, "malformed field segment %q", seg)
		}
		name, raw := seg[:eq], seg[eq+1:]
		fd := findField(group, name)
		if fd == nil {
			if c.Strict {
				return fm, errs.Weak(0, "unknown field %q in %s", name, group.Name)
			}
			continue
		}
		v, err := c.decodeValue(fd.Type, raw)
		if err != nil {
			return fm, wrapField(err, name)
		}
		fm.Set(name, v)
	}
	for _, f := range group.AllFields() {
		if f.Optional {
			continue
		}
		if _, ok := fm.Get(f.Name); !ok {
			return fm, errs.Value("required field %q missing", f.Name).WithField(f.Name)
		}
	}
	return fm, nil
}

func findField(group *schema.GroupDef, name string) *schema.FieldDef {
	fields := group.AllFields()
	for i := range fields {
		if fields[i].Name == name {
			return &fields[i]
		}
	}
	return nil
}

// encodeValue and decodeValue dispatch over schema.Type's closed variant
// set the same way compact.Codec's do, rendering to/from Tag's text forms
// instead of wire bytes.

func (c *Codec) encodeValue(t schema.Type, v value.Value) (string, error) {
	switch tt := t.(type) {
	case schema.PrimitiveType:
		return c.encodePrimitive(tt.Kind, v)
	case schema.BinaryType:
		return c.encodeBinary(tt, v)
	case schema.EnumRef:
		return c.encodeEnum(tt.Enum, v)
	case schema.SequenceType:
		return c.encodeSequence(tt, v)
	case schema.StaticGroupRef:
		return c.encodeStaticGroupValue(tt.Group, v)
	case schema.DynamicGroupRef:
		return c.encodeDynamicField(tt.Group, v)
	case schema.ObjectType:
		return c.encodeDynamicField(nil, v)
	default:
		return "", errs.Value("unsupported field type")
	}
}

func (c *Codec) decodeValue(t schema.Type, raw string) (value.Value, error) {
	switch tt := t.(type) {
	case schema.PrimitiveType:
		return c.decodePrimitive(tt.Kind, raw)
	case schema.BinaryType:
		return c.decodeBinary(tt, raw)
	case schema.EnumRef:
		return c.decodeEnum(tt.Enum, raw)
	case schema.SequenceType:
		return c.decodeSequence(tt, raw)
	case schema.StaticGroupRef:
		return c.decodeStaticGroupValue(tt.Group, raw)
	case schema.DynamicGroupRef:
		return c.decodeDynamicField(tt.Group, raw)
	case schema.ObjectType:
		return c.decodeDynamicField(nil, raw)
	default:
		return nil, errs.Value("unsupported field type")
	}
}

func (c *Codec) encodeStaticGroupValue(group *schema.GroupDef, v value.Value) (string, error) {
	sg, ok := v.(value.StaticGroup)
	if !ok {
		return "", errs.Value("expected a static group value for %s", group.Name)
	}
	inner, err := c.encodeStaticFields(group, sg.Fields)
	if err != nil {
		return "", err
	}
	return "{" + inner + "}", nil
}

func (c *Codec) decodeStaticGroupValue(group *schema.GroupDef, raw string) (value.Value, error) {
	if !strings.HasPrefix(raw, "{") || !strings.HasSuffix(raw, "}") {
		return nil, errs.Parse(0, 0, "expected a brace-wrapped static group literal, got %q", raw)
	}
	fm, err := c.decodeStaticFields(group, raw[1:len(raw)-1])
	if err != nil {
		return nil, err
	}
	return value.StaticGroup{Fields: fm}, nil
}

// encodeDynamicField renders a DynamicGroupRef or object field's value. base
// is the field's declared base group, nil for object (§3.2, W15 check).
func (c *Codec) encodeDynamicField(base *schema.GroupDef, v value.Value) (string, error) {
	msg, ok := v.(value.Message)
	if !ok {
		return "", errs.Value("expected a message value")
	}
	if base != nil {
		group, err := c.Registry.GroupByName(msg.Type)
		if err != nil {
			return "", err
		}
		if !group.IsDescendantOf(base) {
			return "", errs.Weak(0, "%s is not %s or a descendant", group.Name, base.Name)
		}
	}
	return c.encodeNestedMessage(msg)
}

func (c *Codec) decodeDynamicField(base *schema.GroupDef, raw string) (value.Value, error) {
	m, err := c.parseNestedMessage(raw)
	if err != nil {
		return nil, err
	}
	if base != nil && !m.UnknownType {
		group, gerr := c.Registry.GroupByName(m.Type)
		if gerr == nil && !group.IsDescendantOf(base) {
			if c.Strict {
				return nil, errs.Weak(0, "%s is not %s or a descendant", m.Type, base.Name)
			}
			return value.Message{UnknownType: true}, nil
		}
	}
	return m, nil
}

func (c *Codec) encodeSequence(t schema.SequenceType, v value.Value) (string, error) {
	seq, ok := v.(value.Sequence)
	if !ok {
		return "", errs.Value("expected a sequence value")
	}
	parts := make([]string, len(seq.Items))
	for i, item := range seq.Items {
		enc, err := c.encodeValue(t.Element, item)
		if err != nil {
			return "", wrapField(err, indexPath(i))
		}
		parts[i] = enc
	}
	return "[" + strings.Join(parts, ";") + "]", nil
}

func (c *Codec) decodeSequence(t schema.SequenceType, raw string) (value.Value, error) {
	if !strings.HasPrefix(raw, "[") || !strings.HasSuffix(raw, "]") {
		return nil, errs.Parse(0, 0, "expected a bracket-wrapped sequence literal, got %q", raw)
	}
	inner := raw[1 : len(raw)-1]
	if inner == "" {
		return value.Sequence{Items: []value.Value{}}, nil
	}
	items := splitTopLevel(inner, ';')
	out := make([]value.Value, len(items))
	for i, item := range items {
		v, err := c.decodeValue(t.Element, item)
		if err != nil {
			return nil, wrapField(err, indexPath(i))
		}
		out[i] = v
	}
	return value.Sequence{Items: out}, nil
}

func (c *Codec) encodeEnum(enum *schema.EnumDef, v value.Value) (string, error) {
	s, ok := v.(value.Str)
	if !ok {
		return "", errs.Value("expected a string symbol value for enum %s", enum.Name)
	}
	if _, ok := enum.ToValue(s.V); !ok {
		return "", errs.Value("unknown enum symbol %q for %s", s.V, enum.Name)
	}
	return s.V, nil
}

func (c *Codec) decodeEnum(enum *schema.EnumDef, raw string) (value.Value, error) {
	if _, ok := enum.ToValue(raw); !ok {
		if c.Strict {
			return nil, errs.Weak(0, "unmapped enum symbol %q for %s", raw, enum.Name)
		}
		return value.Str{V: "unknown"}, nil
	}
	return value.Str{V: raw}, nil
}

func (c *Codec) encodeBinary(t schema.BinaryType, v value.Value) (string, error) {
	if t.Kind == schema.BinaryKindString {
		s, ok := v.(value.Str)
		if !ok {
			return "", errs.Value("expected a string value")
		}
		return escapeTagString(s.V), nil
	}
	b, ok := v.(value.Bytes)
	if !ok {
		return "", errs.Value("expected a byte value")
	}
	if t.Kind == schema.BinaryKindFixed && len(b.V) != t.Size {
		return "", errs.Value("fixed field requires exactly %d bytes, got %d", t.Size, len(b.V))
	}
	return encodeHexBrackets(b.V), nil
}

func (c *Codec) decodeBinary(t schema.BinaryType, raw string) (value.Value, error) {
	if t.Kind == schema.BinaryKindString {
		s, err := unescapeTagString(raw)
		if err != nil {
			return nil, err
		}
		return value.Str{V: s}, nil
	}
	b, err := decodeHexBrackets(raw)
	if err != nil {
		return nil, err
	}
	if t.Kind == schema.BinaryKindFixed && len(b) != t.Size {
		return nil, errs.Value("fixed field requires exactly %d bytes, got %d", t.Size, len(b))
	}
	return value.Bytes{V: b}, nil
}

func (c *Codec) encodePrimitive(kind schema.PrimitiveKind, v value.Value) (string, error) {
	switch kind {
	case schema.Bool:
		b, ok := v.(value.Bool)
		if !ok {
			return "", errs.Value("expected a bool value")
		}
		if b.V {
			return "Y", nil
		}
		return "N", nil
	case schema.F64:
		f, ok := v.(value.Float)
		if !ok {
			return "", errs.Value("expected a float value")
		}
		switch {
		case math.IsNaN(f.V):
			return "NaN", nil
		case math.IsInf(f.V, 1):
			return "Inf", nil
		case math.IsInf(f.V, -1):
			return "-Inf", nil
		}
		return strconv.FormatFloat(f.V, 'g', -1, 64), nil
	case schema.Decimal:
		d, ok := v.(value.Decimal)
		if !ok {
			return "", errs.Value("expected a decimal value")
		}
		return fmt.Sprintf("%de%d", d.Mantissa, d.Exponent), nil
	case schema.MilliTime, schema.NanoTime, schema.Date, schema.TimeOfDayMilli, schema.TimeOfDayNano:
		return encodeTimeTag(kind, v)
	default:
		if isSignedKind(kind) {
			i, ok := v.(value.Int)
			if !ok {
				return "", errs.Value("expected an integer value")
			}
			return strconv.FormatInt(i.V, 10), nil
		}
		u, ok := v.(value.Uint)
		if !ok {
			return "", errs.Value("expected an unsigned integer value")
		}
		return strconv.FormatUint(u.V, 10), nil
	}
}

func (c *Codec) decodePrimitive(kind schema.PrimitiveKind, raw string) (value.Value, error) {
	switch kind {
	case schema.Bool:
		switch raw {
		case "Y":
			return value.Bool{V: true}, nil
		case "N":
			return value.Bool{V: false}, nil
		default:
			return nil, errs.Value("invalid bool literal %q, want Y or N", raw)
		}
	case schema.F64:
		switch raw {
		case "Inf":
			return value.Float{V: math.Inf(1)}, nil
		case "-Inf":
			return value.Float{V: math.Inf(-1)}, nil
		case "NaN":
			return value.Float{V: math.NaN()}, nil
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, errs.Value("invalid float literal %q", raw)
		}
		return value.Float{V: f}, nil
	case schema.Decimal:
		return parseDecimalTag(raw)
	case schema.MilliTime, schema.NanoTime, schema.Date, schema.TimeOfDayMilli, schema.TimeOfDayNano:
		return decodeTimeTag(kind, raw)
	default:
		if isSignedKind(kind) {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, errs.Value("invalid integer literal %q", raw)
			}
			return value.Int{V: n}, nil
		}
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, errs.Value("invalid integer literal %q", raw)
		}
		return value.Uint{V: n}, nil
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

func parseDecimalTag(raw string) (value.Value, error) {
	idx := strings.IndexByte(raw, 'e')
	if idx < 0 {
		return nil, errs.Value("invalid decimal literal %q, want MANTISSAeEXP", raw)
	}
	mant, err := strconv.ParseInt(raw[:idx], 10, 64)
	if err != nil {
		return nil, errs.Value("invalid decimal mantissa %q", raw[:idx])
	}
	exp, err := strconv.ParseInt(raw[idx+1:], 10, 8)
	if err != nil {
		return nil, errs.Value("invalid decimal exponent %q", raw[idx+1:])
	}
	return value.Decimal{Exponent: int8(exp), Mantissa: mant}, nil
}

const (
	milliLayout = "2006-01-02T15:04:05.000Z07:00"
	nanoLayout  = "2006-01-02T15:04:05.000000000Z07:00"
	dateLayout  = "2006-01-02"
	todMilli    = "15:04:05.000"
	todNano     = "15:04:05.000000000"
)

func encodeTimeTag(kind schema.PrimitiveKind, v value.Value) (string, error) {
	u, ok := v.(value.Uint)
	if !ok {
		return "", errs.Value("expected an unsigned integer value for %s", kind)
	}
	switch kind {
	case schema.MilliTime:
		return time.UnixMilli(int64(u.V)).UTC().Format(milliLayout), nil
	case schema.NanoTime:
		return time.Unix(0, int64(u.V)).UTC().Format(nanoLayout), nil
	case schema.Date:
		return time.Unix(int64(u.V)*86400, 0).UTC().Format(dateLayout), nil
	case schema.TimeOfDayMilli:
		ms := int64(u.V)
		d := time.Duration(ms) * time.Millisecond
		return time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC).Add(d).Format(todMilli), nil
	default: // TimeOfDayNano
		ns := int64(u.V)
		d := time.Duration(ns)
		return time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC).Add(d).Format(todNano), nil
	}
}

func decodeTimeTag(kind schema.PrimitiveKind, raw string) (value.Value, error) {
	switch kind {
	case schema.MilliTime:
		t, err := time.Parse(milliLayout, raw)
		if err != nil {
			t, err = time.Parse(time.RFC3339Nano, raw)
		}
		if err != nil {
			return nil, errs.Value("invalid millitime literal %q", raw)
		}
		return value.Uint{V: uint64(t.UnixMilli())}, nil
	case schema.NanoTime:
		t, err := time.Parse(nanoLayout, raw)
		if err != nil {
			t, err = time.Parse(time.RFC3339Nano, raw)
		}
		if err != nil {
			return nil, errs.Value("invalid nanotime literal %q", raw)
		}
		return value.Uint{V: uint64(t.UnixNano())}, nil
	case schema.Date:
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			return nil, errs.Value("invalid date literal %q", raw)
		}
		return value.Uint{V: uint64(t.Unix() / 86400)}, nil
	case schema.TimeOfDayMilli:
		t, err := time.Parse(todMilli, raw)
		if err != nil {
			return nil, errs.Value("invalid timeOfDayMilli literal %q", raw)
		}
		ms := (t.Hour()*3600+t.Minute()*60+t.Second())*1000 + t.Nanosecond()/1_000_000
		return value.Uint{V: uint64(ms)}, nil
	default: // TimeOfDayNano
		t, err := time.Parse(todNano, raw)
		if err != nil {
			return nil, errs.Value("invalid timeOfDayNano literal %q", raw)
		}
		ns := int64(t.Hour())*3600e9 + int64(t.Minute())*60e9 + int64(t.Second())*1e9 + int64(t.Nanosecond())
		return value.Uint{V: uint64(ns)}, nil
	}
}

func encodeHexBrackets(b []byte) string {
	parts := make([]string, len(b))
	for i, x := range b {
		parts[i] = fmt.Sprintf("%02x", x)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func decodeHexBrackets(raw string) ([]byte, error) {
	if !strings.HasPrefix(raw, "[") || !strings.HasSuffix(raw, "]") {
		return nil, errs.Parse(0, 0, "expected a bracket-wrapped hex list, got %q", raw)
	}
	inner := strings.TrimSpace(raw[1 : len(raw)-1])
	if inner == "" {
		return nil, nil
	}
	parts := strings.Fields(inner)
	out := make([]byte, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return nil, errs.Value("invalid hex byte %q", p)
		}
		out[i] = byte(n)
	}
	return out, nil
}

// escapeTagString escapes the reserved delimiter characters and control
// characters a Tag field value can't carry literally (§4.7.1).
func escapeTagString(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '|', '[', ']', '{', '}', ';', '#', '=', ',':
			fmt.Fprintf(&b, `\x%02X`, r)
		default:
			if r < 0x20 {
				fmt.Fprintf(&b, `\x%02X`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

func unescapeTagString(s string) (string, error) {
	var b strings.Builder
	i := 0
	for i < len(s) {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			i++
			continue
		}
		i++
		if i >= len(s) {
			return "", errs.Parse(0, 0, "dangling escape at end of string")
		}
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
			i++
		case 'r':
			b.WriteByte('\r')
			i++
		case 't':
			b.WriteByte('\t')
			i++
		case '\\':
			b.WriteByte('\\')
			i++
		case 'x':
			if i+3 > len(s) {
				return "", errs.Parse(0, 0, "truncated \\x escape")
			}
			n, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
			if err != nil {
				return "", errs.Parse(0, 0, "invalid \\x escape")
			}
			b.WriteByte(byte(n))
			i += 3
		case 'u':
			if i+5 > len(s) {
				return "", errs.Parse(0, 0, "truncated \\u escape")
			}
			n, err := strconv.ParseUint(s[i+1:i+5], 16, 32)
			if err != nil {
				return "", errs.Parse(0, 0, "invalid \\u escape")
			}
			b.WriteRune(rune(n))
			i += 5
		case 'U':
			if i+9 > len(s) {
				return "", errs.Parse(0, 0, "truncated \\U escape")
			}
			n, err := strconv.ParseUint(s[i+1:i+9], 16, 32)
			if err != nil {
				return "", errs.Parse(0, 0, "invalid \\U escape")
			}
			b.WriteRune(rune(n))
			i += 9
		default:
			return "", errs.Parse(0, 0, "unknown escape \\%c", s[i])
		}
	}
	return b.String(), nil
}

// splitTopLevel splits s on sep, ignoring occurrences nested inside
// {...} or [...] and occurrences escaped with a leading backslash. Hex,
// unicode, and mnemonic escape payload bytes never collide with a brace
// or separator byte, so a flat two-byte skip per escape is enough to keep
// depth tracking correct without re-parsing the escape itself.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	start := 0
	i := 0
	for i < len(s) {
		switch s[i] {
		case '\\':
			i += 2
			continue
		case '{', '[':
			depth++
		case '}', ']':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
		i++
	}
	parts = append(parts, s[start:])
	return parts
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

func indexPath(i int) string {
	return "[" + strconv.Itoa(i) + "]"
}
