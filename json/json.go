// Package json implements the JSON codec (C9): each message is a JSON
// object carrying a "$type" discriminator and an optional "$extension"
// array, built and parsed by hand rather than through struct tags since
// the field set is schema-driven at runtime (§4.7.2).
package json

import (
	"bytes"
	stdjson "encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/blinkproto/blink/errs"
	"github.com/blinkproto/blink/registry"
	"github.com/blinkproto/blink/schema"
	"github.com/blinkproto/blink/value"
)

// intThreshold is the magnitude below which an integer or decimal mantissa
// renders as a bare JSON number; at or beyond it, integers render as quoted
// decimal strings and decimals as an {"exponent":..,"mantissa":..} object,
// to survive round-tripping through JSON numbers backed by float64 (§4.7.2).
const intThreshold = 1_000_000_000_000_000

// Codec encodes and decodes JSON message objects against Registry. Strict
// selects the failure mode for recoverable conditions the same way the
// other codecs do (§4.5.4, §7).
type Codec struct {
	Registry *registry.Registry
	Strict   bool
}

// New returns a Codec bound to reg with the given default strictness.
func New(reg *registry.Registry, strict bool) *Codec {
	return &Codec{Registry: reg, Strict: strict}
}

// EncodeMessage renders msg as a single JSON object.
func (c *Codec) EncodeMessage(msg value.Message) ([]byte, error) {
	s, err := c.encodeMessageObject(msg)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// EncodeStream renders msgs as a JSON array of message objects.
func (c *Codec) EncodeStream(msgs []value.Message) ([]byte, error) {
	var b strings.Builder
	b.WriteByte('[')
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte(',')
		}
		s, err := c.encodeMessageObject(m)
		if err != nil {
			return nil, wrapField(err, indexPath(i))
		}
		b.WriteString(s)
	}
	b.WriteByte(']')
	return []byte(b.String()), nil
}

func (c *Codec) encodeMessageObject(msg value.Message) (string, error) {
	group, err := c.Registry.GroupByName(msg.Type)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteByte('{')
	b.WriteString(`"$type":`)
	b.WriteString(encodeJSONString(msg.Type.String()))
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
		b.WriteByte(',')
		b.WriteString(encodeJSONString(f.Name))
		b.WriteByte(':')
		b.WriteString(enc)
	}
	if len(msg.Extension) > 0 {
		b.WriteString(`,"$extension":[`)
		for i, m := range msg.Extension {
			if i > 0 {
				b.WriteByte(',')
			}
			enc, err := c.encodeMessageObject(m)
			if err != nil {
				return "", wrapField(err, indexPath(i))
			}
			b.WriteString(enc)
		}
		b.WriteByte(']')
	}
	b.WriteByte('}')
	return b.String(), nil
}

type rawObj = map[string]stdjson.RawMessage

// DecodeMessage parses a single JSON message object.
func (c *Codec) DecodeMessage(data []byte) (value.Message, error) {
	var raw rawObj
	if err := stdjson.Unmarshal(data, &raw); err != nil {
		return value.Message{}, errs.Parse(0, 0, "invalid json message: %v", err)
	}
	return c.decodeRawMessage(raw)
}

// DecodeStream parses data as a JSON array of message objects.
func (c *Codec) DecodeStream(data []byte) ([]value.Message, error) {
	var items []rawObj
	if err := stdjson.Unmarshal(data, &items); err != nil {
		return nil, errs.Parse(0, 0, "invalid json message stream: %v", err)
	}
	out := make([]value.Message, 0, len(items))
	for i, it := range items {
		m, err := c.decodeRawMessage(it)
		if err != nil {
			return out, wrapField(err, indexPath(i))
		}
		out = append(out, m)
	}
	return out, nil
}

func (c *Codec) decodeRawMessage(raw rawObj) (value.Message, error) {
	typeRaw, ok := raw["$type"]
	if !ok {
		return value.Message{}, errs.Parse(0, 0, `message object missing "$type"`)
	}
	var typeStr string
	if err := stdjson.Unmarshal(typeRaw, &typeStr); err != nil {
		return value.Message{}, errs.Parse(0, 0, `invalid "$type": %v`, err)
	}
	qname := schema.ParseQName(typeStr, "")
	group, err := c.Registry.GroupByName(qname)
	if err != nil {
		if c.Strict {
			return value.Message{}, errs.Weak(0, "unknown group %s", qname)
		}
		return value.Message{UnknownType: true}, nil
	}
	var fm value.FieldMap
	for _, f := range group.AllFields() {
		fr, present := raw[f.Name]
		if !present {
			if !f.Optional {
				return value.Message{}, errs.Value("required field %q missing", f.Name).WithField(f.Name)
			}
			continue
		}
		v, err := c.decodeValue(f.Type, fr)
		if err != nil {
			return value.Message{}, wrapField(err, f.Name)
		}
		fm.Set(f.Name, v)
	}
	var ext []value.Message
	if extRaw, ok := raw["$extension"]; ok {
		var items []rawObj
		if err := stdjson.Unmarshal(extRaw, &items); err != nil {
			return value.Message{}, errs.Parse(0, 0, `invalid "$extension": %v`, err)
		}
		for i, it := range items {
			m, err := c.decodeRawMessage(it)
			if err != nil {
				return value.Message{}, wrapField(err, indexPath(i))
			}
			ext = append(ext, m)
		}
	}
	return value.Message{Type: group.Name, Fields: fm, Extension: ext}, nil
}

// encodeValue and decodeValue dispatch over schema.Type's closed variant
// set the same way every other codec's do.

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
		return c.encodeStaticGroup(tt.Group, v)
	case schema.DynamicGroupRef:
		return c.encodeDynamic(tt.Group, v)
	case schema.ObjectType:
		return c.encodeDynamic(nil, v)
	default:
		return "", errs.Value("unsupported field type")
	}
}

func (c *Codec) decodeValue(t schema.Type, raw stdjson.RawMessage) (value.Value, error) {
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
		return c.decodeStaticGroup(tt.Group, raw)
	case schema.DynamicGroupRef:
		return c.decodeDynamic(tt.Group, raw)
	case schema.ObjectType:
		return c.decodeDynamic(nil, raw)
	default:
		return nil, errs.Value("unsupported field type")
	}
}

func (c *Codec) encodeStaticGroup(group *schema.GroupDef, v value.Value) (string, error) {
	sg, ok := v.(value.StaticGroup)
	if !ok {
		return "", errs.Value("expected a static group value for %s", group.Name)
	}
	var b strings.Builder
	b.WriteByte('{')
	first := true
	for _, f := range group.AllFields() {
		fv, ok := sg.Fields.Get(f.Name)
		if !ok {
			if !f.Optional {
				return "", errs.Value("missing required field %q", f.Name)
			}
			continue
		}
		enc, err := c.encodeValue(f.Type, fv)
		if err != nil {
			return "", wrapField(err, f.Name)
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteString(encodeJSONString(f.Name))
		b.WriteByte(':')
		b.WriteString(enc)
	}
	b.WriteByte('}')
	return b.String(), nil
}

func (c *Codec) decodeStaticGroup(group *schema.GroupDef, raw stdjson.RawMessage) (value.Value, error) {
	var obj rawObj
	if err := stdjson.Unmarshal(raw, &obj); err != nil {
		return nil, errs.Value("invalid static group object: %v", err)
	}
	var fm value.FieldMap
	for _, f := range group.AllFields() {
		fr, present := obj[f.Name]
		if !present {
			if !f.Optional {
				return nil, errs.Value("required field %q missing", f.Name).WithField(f.Name)
			}
			continue
		}
		v, err := c.decodeValue(f.Type, fr)
		if err != nil {
			return nil, wrapField(err, f.Name)
		}
		fm.Set(f.Name, v)
	}
	return value.StaticGroup{Fields: fm}, nil
}

// encodeDynamic renders a DynamicGroupRef or object field's value. base is
// the field's declared base group, nil for object (§3.2, W15 check).
func (c *Codec) encodeDynamic(base *schema.GroupDef, v value.Value) (string, error) {
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
	return c.encodeMessageObject(msg)
}

func (c *Codec) decodeDynamic(base *schema.GroupDef, raw stdjson.RawMessage) (value.Value, error) {
	var obj rawObj
	if err := stdjson.Unmarshal(raw, &obj); err != nil {
		return nil, errs.Value("invalid nested message object: %v", err)
	}
	msg, err := c.decodeRawMessage(obj)
	if err != nil {
		return nil, err
	}
	if base != nil && !msg.UnknownType {
		group, gerr := c.Registry.GroupByName(msg.Type)
		if gerr == nil && !group.IsDescendantOf(base) {
			if c.Strict {
				return nil, errs.Weak(0, "%s is not %s or a descendant", msg.Type, base.Name)
			}
			return value.Message{UnknownType: true}, nil
		}
	}
	return msg, nil
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
	return "[" + strings.Join(parts, ",") + "]", nil
}

func (c *Codec) decodeSequence(t schema.SequenceType, raw stdjson.RawMessage) (value.Value, error) {
	var items []stdjson.RawMessage
	if err := stdjson.Unmarshal(raw, &items); err != nil {
		return nil, errs.Value("invalid sequence array: %v", err)
	}
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
	return encodeJSONString(s.V), nil
}

func (c *Codec) decodeEnum(enum *schema.EnumDef, raw stdjson.RawMessage) (value.Value, error) {
	var s string
	if err := stdjson.Unmarshal(raw, &s); err != nil {
		return nil, errs.Value("invalid enum symbol: %v", err)
	}
	if _, ok := enum.ToValue(s); !ok {
		if c.Strict {
			return nil, errs.Weak(0, "unmapped enum symbol %q for %s", s, enum.Name)
		}
		return value.Str{V: "unknown"}, nil
	}
	return value.Str{V: s}, nil
}

func (c *Codec) encodeBinary(t schema.BinaryType, v value.Value) (string, error) {
	if t.Kind == schema.BinaryKindString {
		s, ok := v.(value.Str)
		if !ok {
			return "", errs.Value("expected a string value")
		}
		return encodeJSONString(s.V), nil
	}
	b, ok := v.(value.Bytes)
	if !ok {
		return "", errs.Value("expected a byte value")
	}
	if t.Kind == schema.BinaryKindFixed && len(b.V) != t.Size {
		return "", errs.Value("fixed field requires exactly %d bytes, got %d", t.Size, len(b.V))
	}
	if utf8.Valid(b.V) {
		return encodeJSONString(string(b.V)), nil
	}
	parts := make([]string, len(b.V))
	for i, x := range b.V {
		parts[i] = fmt.Sprintf("%02x", x)
	}
	return "[" + encodeJSONString(strings.Join(parts, " ")) + "]", nil
}

func (c *Codec) decodeBinary(t schema.BinaryType, raw stdjson.RawMessage) (value.Value, error) {
	if t.Kind == schema.BinaryKindString {
		var s string
		if err := stdjson.Unmarshal(raw, &s); err != nil {
			return nil, errs.Value("invalid string value: %v", err)
		}
		return value.Str{V: s}, nil
	}
	trimmed := bytes.TrimSpace(raw)
	var b []byte
	switch {
	case len(trimmed) > 0 && trimmed[0] == '"':
		var s string
		if err := stdjson.Unmarshal(raw, &s); err != nil {
			return nil, errs.Value("invalid binary string value: %v", err)
		}
		b = []byte(s)
	default:
		var entries []string
		if err := stdjson.Unmarshal(raw, &entries); err != nil {
			return nil, errs.Value("invalid binary hex array: %v", err)
		}
		fields := strings.Fields(strings.Join(entries, " "))
		b = make([]byte, len(fields))
		for i, p := range fields {
			n, err := strconv.ParseUint(p, 16, 8)
			if err != nil {
				return nil, errs.Value("invalid hex byte %q", p)
			}
			b[i] = byte(n)
		}
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
			return "true", nil
		}
		return "false", nil
	case schema.F64:
		f, ok := v.(value.Float)
		if !ok {
			return "", errs.Value("expected a float value")
		}
		switch {
		case math.IsNaN(f.V):
			return `"NaN"`, nil
		case math.IsInf(f.V, 1):
			return `"Inf"`, nil
		case math.IsInf(f.V, -1):
			return `"-Inf"`, nil
		}
		return strconv.FormatFloat(f.V, 'g', -1, 64), nil
	case schema.Decimal:
		d, ok := v.(value.Decimal)
		if !ok {
			return "", errs.Value("expected a decimal value")
		}
		if d.Mantissa > -intThreshold && d.Mantissa < intThreshold {
			return formatDecimalLiteral(d.Mantissa, int(d.Exponent)), nil
		}
		return fmt.Sprintf(`{"exponent":%d,"mantissa":%d}`, d.Exponent, d.Mantissa), nil
	case schema.MilliTime, schema.NanoTime, schema.Date, schema.TimeOfDayMilli, schema.TimeOfDayNano:
		s, err := encodeTimeTag(kind, v)
		if err != nil {
			return "", err
		}
		return encodeJSONString(s), nil
	default:
		if isSignedKind(kind) {
			i, ok := v.(value.Int)
			if !ok {
				return "", errs.Value("expected an integer value")
			}
			if i.V > -intThreshold && i.V < intThreshold {
				return strconv.FormatInt(i.V, 10), nil
			}
			return encodeJSONString(strconv.FormatInt(i.V, 10)), nil
		}
		u, ok := v.(value.Uint)
		if !ok {
			return "", errs.Value("expected an unsigned integer value")
		}
		if u.V < intThreshold {
			return strconv.FormatUint(u.V, 10), nil
		}
		return encodeJSONString(strconv.FormatUint(u.V, 10)), nil
	}
}

func (c *Codec) decodePrimitive(kind schema.PrimitiveKind, raw stdjson.RawMessage) (value.Value, error) {
	switch kind {
	case schema.Bool:
		var b bool
		if err := stdjson.Unmarshal(raw, &b); err != nil {
			return nil, errs.Value("invalid bool value: %v", err)
		}
		return value.Bool{V: b}, nil
	case schema.F64:
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) > 0 && trimmed[0] == '"' {
			var s string
			if err := stdjson.Unmarshal(raw, &s); err != nil {
				return nil, errs.Value("invalid float string: %v", err)
			}
			switch s {
			case "NaN":
				return value.Float{V: math.NaN()}, nil
			case "Inf":
				return value.Float{V: math.Inf(1)}, nil
			case "-Inf":
				return value.Float{V: math.Inf(-1)}, nil
			default:
				return nil, errs.Value("invalid float literal %q", s)
			}
		}
		var f float64
		if err := stdjson.Unmarshal(raw, &f); err != nil {
			return nil, errs.Value("invalid float value: %v", err)
		}
		return value.Float{V: f}, nil
	case schema.Decimal:
		return decodeDecimalJSON(raw)
	case schema.MilliTime, schema.NanoTime, schema.Date, schema.TimeOfDayMilli, schema.TimeOfDayNano:
		var s string
		if err := stdjson.Unmarshal(raw, &s); err != nil {
			return nil, errs.Value("invalid time/date string: %v", err)
		}
		return decodeTimeTag(kind, s)
	default:
		i, u, err := decodeIntRaw(raw, isSignedKind(kind))
		if err != nil {
			return nil, errs.Value("invalid integer value: %v", err)
		}
		if isSignedKind(kind) {
			return value.Int{V: i}, nil
		}
		return value.Uint{V: u}, nil
	}
}

func decodeIntRaw(raw stdjson.RawMessage, signed bool) (int64, uint64, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := stdjson.Unmarshal(raw, &s); err != nil {
			return 0, 0, err
		}
		if signed {
			i, err := strconv.ParseInt(s, 10, 64)
			return i, 0, err
		}
		u, err := strconv.ParseUint(s, 10, 64)
		return 0, u, err
	}
	if signed {
		var i int64
		err := stdjson.Unmarshal(raw, &i)
		return i, 0, err
	}
	var u uint64
	err := stdjson.Unmarshal(raw, &u)
	return 0, u, err
}

func decodeDecimalJSON(raw stdjson.RawMessage) (value.Value, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var obj struct {
			Exponent int8  `json:"exponent"`
			Mantissa int64 `json:"mantissa"`
		}
		if err := stdjson.Unmarshal(raw, &obj); err != nil {
			return nil, errs.Value("invalid decimal object: %v", err)
		}
		return value.Decimal{Exponent: obj.Exponent, Mantissa: obj.Mantissa}, nil
	}
	mantissa, exponent, err := parseDecimalLiteral(string(trimmed))
	if err != nil {
		return nil, errs.Value("invalid decimal literal %q: %v", trimmed, err)
	}
	return value.Decimal{Exponent: exponent, Mantissa: mantissa}, nil
}

// formatDecimalLiteral renders mantissa*10^exponent as an exact digit-shifted
// JSON number literal, avoiding any float64 round trip that could lose
// precision near the §4.7.2 magnitude threshold.
func formatDecimalLiteral(mantissa int64, exponent int) string {
	neg := mantissa < 0
	m := mantissa
	if neg {
		m = -m
	}
	digits := strconv.FormatInt(m, 10)
	switch {
	case exponent > 0:
		digits += strings.Repeat("0", exponent)
	case exponent < 0:
		e := -exponent
		if e >= len(digits) {
			digits = strings.Repeat("0", e-len(digits)+1) + digits
		}
		intPart, fracPart := digits[:len(digits)-e], digits[len(digits)-e:]
		digits = intPart + "." + fracPart
	}
	if neg {
		digits = "-" + digits
	}
	return digits
}

func parseDecimalLiteral(text string) (int64, int8, error) {
	neg := strings.HasPrefix(text, "-")
	if neg {
		text = text[1:]
	}
	dot := strings.IndexByte(text, '.')
	var mantissaStr string
	var exponent int
	if dot < 0 {
		mantissaStr = text
	} else {
		mantissaStr = text[:dot] + text[dot+1:]
		exponent = -(len(text) - dot - 1)
	}
	m, err := strconv.ParseInt(mantissaStr, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	if neg {
		m = -m
	}
	if exponent < math.MinInt8 || exponent > math.MaxInt8 {
		return 0, 0, fmt.Errorf("exponent %d out of i8 range", exponent)
	}
	return m, int8(exponent), nil
}

func isSignedKind(kind schema.PrimitiveKind) bool {
	switch kind {
	case schema.I8, schema.I16, schema.I32, schema.I64:
		return true
	default:
		return false
	}
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
		d := time.Duration(int64(u.V)) * time.Millisecond
		return time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC).Add(d).Format(todMilli), nil
	default: // TimeOfDayNano
		d := time.Duration(int64(u.V))
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

func encodeJSONString(s string) string {
	b, _ := stdjson.Marshal(s)
	return string(b)
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
