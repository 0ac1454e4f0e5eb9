// Package xml implements the XML codec (C10): each message is an element
// named after its group's local name in the group's own namespace, with
// fields as child elements; driven by encoding/xml's token API rather than
// struct-tag unmarshaling since the element set is schema-driven at
// runtime (§4.7.3), the same token-at-a-time technique used to walk
// arbitrary XML documents elsewhere in the pack.
package xml

import (
	"bytes"
	stdxml "encoding/xml"
	"fmt"
	"io"
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

// blinkExtensionNS is the fixed namespace URI for blink:extension wrapper
// elements, distinguishing an extension message from an ordinary field
// regardless of what the enclosing group's own namespace is (§4.7.3).
const blinkExtensionNS = "http://blinkprotocol.org/ns/blink"

// streamRootLocal names the synthetic root element EncodeStream/DecodeStream
// wrap a message stream in (§4.7.3: "a stream is wrapped in a single root
// element whose children are messages").
const streamRootLocal = "stream"

// Codec encodes and decodes XML message elements against Registry. Strict
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

// EncodeMessage renders msg as a single XML element.
func (c *Codec) EncodeMessage(msg value.Message) ([]byte, error) {
	var b strings.Builder
	if err := c.writeMessageElement(&b, msg); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

// EncodeStream renders msgs as message elements under a single
// blink:stream root element.
func (c *Codec) EncodeStream(msgs []value.Message) ([]byte, error) {
	var b strings.Builder
	b.WriteString(`<blink:` + streamRootLocal + ` xmlns:blink="` + blinkExtensionNS + `">`)
	for i, m := range msgs {
		if err := c.writeMessageElement(&b, m); err != nil {
			return nil, wrapField(err, indexPath(i))
		}
	}
	b.WriteString(`</blink:` + streamRootLocal + `>`)
	return []byte(b.String()), nil
}

// DecodeMessage parses a single XML message element.
func (c *Codec) DecodeMessage(data []byte) (value.Message, error) {
	node, err := parseXMLDocument(bytes.NewReader(data))
	if err != nil {
		return value.Message{}, errs.Parse(0, 0, "invalid xml message: %v", err)
	}
	return c.decodeMessageNode(node)
}

// DecodeStream parses data as a blink:stream root element whose children
// are message elements.
func (c *Codec) DecodeStream(data []byte) ([]value.Message, error) {
	node, err := parseXMLDocument(bytes.NewReader(data))
	if err != nil {
		return nil, errs.Parse(0, 0, "invalid xml stream: %v", err)
	}
	out := make([]value.Message, 0, len(node.Children))
	for i, child := range node.Children {
		m, err := c.decodeMessageNode(child)
		if err != nil {
			return out, wrapField(err, indexPath(i))
		}
		out = append(out, m)
	}
	return out, nil
}

func (c *Codec) writeMessageElement(b *strings.Builder, msg value.Message) error {
	group, err := c.Registry.GroupByName(msg.Type)
	if err != nil {
		return err
	}
	tag := group.Name.Name
	b.WriteByte('<')
	b.WriteString(tag)
	if group.Name.HasNamespace() {
		b.WriteString(` xmlns="`)
		b.WriteString(escapeXMLAttr(group.Name.Namespace))
		b.WriteByte('"')
	}
	b.WriteByte('>')
	for _, f := range group.AllFields() {
		v, ok := msg.Fields.Get(f.Name)
		if !ok {
			if !f.Optional {
				return errs.Value("missing required field %q", f.Name)
			}
			continue
		}
		if err := c.writeFieldElement(b, f, v); err != nil {
			return wrapField(err, f.Name)
		}
	}
	for _, m := range msg.Extension {
		b.WriteString(`<blink:extension xmlns:blink="` + blinkExtensionNS + `">`)
		if err := c.writeMessageElement(b, m); err != nil {
			return err
		}
		b.WriteString(`</blink:extension>`)
	}
	b.WriteString("</")
	b.WriteString(tag)
	b.WriteByte('>')
	return nil
}

func (c *Codec) writeFieldElement(b *strings.Builder, f schema.FieldDef, v value.Value) error {
	if seqT, ok := f.Type.(schema.SequenceType); ok {
		seq, ok := v.(value.Sequence)
		if !ok {
			return errs.Value("expected a sequence value")
		}
		for i, item := range seq.Items {
			if err := c.writeScalarFieldElement(b, f.Name, seqT.Element, item); err != nil {
				return wrapField(err, indexPath(i))
			}
		}
		return nil
	}
	return c.writeScalarFieldElement(b, f.Name, f.Type, v)
}

func (c *Codec) writeScalarFieldElement(b *strings.Builder, name string, t schema.Type, v value.Value) error {
	switch tt := t.(type) {
	case schema.StaticGroupRef:
		sg, ok := v.(value.StaticGroup)
		if !ok {
			return errs.Value("expected a static group value for %s", tt.Group.Name)
		}
		b.WriteByte('<')
		b.WriteString(name)
		b.WriteByte('>')
		for _, sf := range tt.Group.AllFields() {
			fv, ok := sg.Fields.Get(sf.Name)
			if !ok {
				if !sf.Optional {
					return errs.Value("missing required field %q", sf.Name)
				}
				continue
			}
			if err := c.writeFieldElement(b, sf, fv); err != nil {
				return wrapField(err, sf.Name)
			}
		}
		b.WriteString("</")
		b.WriteString(name)
		b.WriteString(">")
		return nil
	case schema.DynamicGroupRef:
		return c.writeDynamicFieldElement(b, name, tt.Group, v)
	case schema.ObjectType:
		return c.writeDynamicFieldElement(b, name, nil, v)
	case schema.BinaryType:
		return c.writeBinaryElement(b, name, tt, v)
	case schema.EnumRef:
		s, ok := v.(value.Str)
		if !ok {
			return errs.Value("expected a string symbol value for enum %s", tt.Enum.Name)
		}
		if _, ok := tt.Enum.ToValue(s.V); !ok {
			return errs.Value("unknown enum symbol %q for %s", s.V, tt.Enum.Name)
		}
		writeTextElement(b, name, s.V)
		return nil
	case schema.PrimitiveType:
		text, err := encodePrimitiveText(tt.Kind, v)
		if err != nil {
			return err
		}
		writeTextElement(b, name, text)
		return nil
	default:
		return errs.Value("unsupported field type")
	}
}

// writeDynamicFieldElement renders a DynamicGroupRef or object field's
// value. base is the field's declared base group, nil for object (§3.2,
// W15 check).
func (c *Codec) writeDynamicFieldElement(b *strings.Builder, name string, base *schema.GroupDef, v value.Value) error {
	msg, ok := v.(value.Message)
	if !ok {
		return errs.Value("expected a message value")
	}
	if base != nil {
		group, err := c.Registry.GroupByName(msg.Type)
		if err != nil {
			return err
		}
		if !group.IsDescendantOf(base) {
			return errs.Weak(0, "%s is not %s or a descendant", group.Name, base.Name)
		}
	}
	b.WriteByte('<')
	b.WriteString(name)
	b.WriteByte('>')
	if err := c.writeMessageElement(b, msg); err != nil {
		return err
	}
	b.WriteString("</")
	b.WriteString(name)
	b.WriteString(">")
	return nil
}

func (c *Codec) writeBinaryElement(b *strings.Builder, name string, t schema.BinaryType, v value.Value) error {
	if t.Kind == schema.BinaryKindString {
		s, ok := v.(value.Str)
		if !ok {
			return errs.Value("expected a string value")
		}
		writeTextElement(b, name, s.V)
		return nil
	}
	bts, ok := v.(value.Bytes)
	if !ok {
		return errs.Value("expected a byte value")
	}
	if t.Kind == schema.BinaryKindFixed && len(bts.V) != t.Size {
		return errs.Value("fixed field requires exactly %d bytes, got %d", t.Size, len(bts.V))
	}
	if utf8.Valid(bts.V) {
		writeTextElement(b, name, string(bts.V))
		return nil
	}
	b.WriteByte('<')
	b.WriteString(name)
	b.WriteString(` binary="yes">`)
	for _, x := range bts.V {
		fmt.Fprintf(b, "%02x", x)
	}
	b.WriteString("</")
	b.WriteString(name)
	b.WriteString(">")
	return nil
}

func writeTextElement(b *strings.Builder, name, text string) {
	b.WriteByte('<')
	b.WriteString(name)
	b.WriteByte('>')
	b.WriteString(escapeXMLText(text))
	b.WriteString("</")
	b.WriteString(name)
	b.WriteString(">")
}

func (c *Codec) decodeMessageNode(node *xmlNode) (value.Message, error) {
	qname := resolveElementQName(node)
	group, err := c.Registry.GroupByName(qname)
	if err != nil {
		if c.Strict {
			return value.Message{}, errs.Weak(0, "unknown group %s", qname)
		}
		return value.Message{UnknownType: true}, nil
	}
	byName, extNodes := groupChildren(node)
	var fm value.FieldMap
	for _, f := range group.AllFields() {
		nodes := byName[f.Name]
		if len(nodes) == 0 {
			if _, isSeq := f.Type.(schema.SequenceType); isSeq && !f.Optional {
				fm.Set(f.Name, value.Sequence{Items: []value.Value{}})
				continue
			}
			if !f.Optional {
				return value.Message{}, errs.Value("required field %q missing", f.Name).WithField(f.Name)
			}
			continue
		}
		v, err := c.decodeFieldNodes(f, nodes)
		if err != nil {
			return value.Message{}, wrapField(err, f.Name)
		}
		fm.Set(f.Name, v)
	}
	var ext []value.Message
	for i, en := range extNodes {
		if len(en.Children) != 1 {
			return value.Message{}, errs.Parse(0, 0, "blink:extension must wrap exactly one message element")
		}
		m, err := c.decodeMessageNode(en.Children[0])
		if err != nil {
			return value.Message{}, wrapField(err, indexPath(i))
		}
		ext = append(ext, m)
	}
	return value.Message{Type: group.Name, Fields: fm, Extension: ext}, nil
}

func (c *Codec) decodeFieldNodes(f schema.FieldDef, nodes []*xmlNode) (value.Value, error) {
	if seqT, ok := f.Type.(schema.SequenceType); ok {
		items := make([]value.Value, len(nodes))
		for i, n := range nodes {
			v, err := c.decodeScalarFieldNode(seqT.Element, n)
			if err != nil {
				return nil, wrapField(err, indexPath(i))
			}
			items[i] = v
		}
		return value.Sequence{Items: items}, nil
	}
	return c.decodeScalarFieldNode(f.Type, nodes[0])
}

func (c *Codec) decodeScalarFieldNode(t schema.Type, node *xmlNode) (value.Value, error) {
	switch tt := t.(type) {
	case schema.StaticGroupRef:
		return c.decodeStaticGroupNode(tt.Group, node)
	case schema.DynamicGroupRef:
		return c.decodeDynamicFieldNode(tt.Group, node)
	case schema.ObjectType:
		return c.decodeDynamicFieldNode(nil, node)
	case schema.BinaryType:
		return c.decodeBinaryNode(tt, node)
	case schema.EnumRef:
		if _, ok := tt.Enum.ToValue(node.Text); !ok {
			if c.Strict {
				return nil, errs.Weak(0, "unmapped enum symbol %q for %s", node.Text, tt.Enum.Name)
			}
			return value.Str{V: "unknown"}, nil
		}
		return value.Str{V: node.Text}, nil
	case schema.PrimitiveType:
		return decodePrimitiveText(tt.Kind, node.Text)
	default:
		return nil, errs.Value("unsupported field type")
	}
}

func (c *Codec) decodeDynamicFieldNode(base *schema.GroupDef, node *xmlNode) (value.Value, error) {
	if len(node.Children) != 1 {
		return nil, errs.Parse(0, 0, "dynamic field element must wrap exactly one message element")
	}
	m, err := c.decodeMessageNode(node.Children[0])
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

func (c *Codec) decodeStaticGroupNode(group *schema.GroupDef, node *xmlNode) (value.Value, error) {
	byName, _ := groupChildren(node)
	var fm value.FieldMap
	for _, f := range group.AllFields() {
		nodes := byName[f.Name]
		if len(nodes) == 0 {
			if _, isSeq := f.Type.(schema.SequenceType); isSeq && !f.Optional {
				fm.Set(f.Name, value.Sequence{Items: []value.Value{}})
				continue
			}
			if !f.Optional {
				return nil, errs.Value("required field %q missing", f.Name).WithField(f.Name)
			}
			continue
		}
		v, err := c.decodeFieldNodes(f, nodes)
		if err != nil {
			return nil, wrapField(err, f.Name)
		}
		fm.Set(f.Name, v)
	}
	return value.StaticGroup{Fields: fm}, nil
}

func (c *Codec) decodeBinaryNode(t schema.BinaryType, node *xmlNode) (value.Value, error) {
	if t.Kind == schema.BinaryKindString {
		return value.Str{V: node.Text}, nil
	}
	var b []byte
	if isBinaryAttr(node) {
		text := strings.TrimSpace(node.Text)
		b = make([]byte, len(text)/2)
		for i := range b {
			n, err := strconv.ParseUint(text[i*2:i*2+2], 16, 8)
			if err != nil {
				return nil, errs.Value("invalid hex byte %q", text[i*2:i*2+2])
			}
			b[i] = byte(n)
		}
	} else {
		b = []byte(node.Text)
	}
	if t.Kind == schema.BinaryKindFixed && len(b) != t.Size {
		return nil, errs.Value("fixed field requires exactly %d bytes, got %d", t.Size, len(b))
	}
	return value.Bytes{V: b}, nil
}

func isBinaryAttr(node *xmlNode) bool {
	for _, a := range node.Attr {
		if a.Name.Local == "binary" && a.Value == "yes" {
			return true
		}
	}
	return false
}

func resolveElementQName(node *xmlNode) schema.QName {
	if node.Name.Space == "" {
		return schema.NewBareQName(node.Name.Local)
	}
	return schema.NewQName(node.Name.Space, node.Name.Local)
}

// groupChildren partitions node's direct children into field-name buckets
// (preserving arrival order within each name, for sequence reconstruction)
// and a separate slice of blink:extension wrapper children.
func groupChildren(node *xmlNode) (map[string][]*xmlNode, []*xmlNode) {
	byName := map[string][]*xmlNode{}
	var ext []*xmlNode
	for _, child := range node.Children {
		if child.Name.Local == "extension" && child.Name.Space == blinkExtensionNS {
			ext = append(ext, child)
			continue
		}
		byName[child.Name.Local] = append(byName[child.Name.Local], child)
	}
	return byName, ext
}

// xmlNode is a minimal in-memory element tree, built by draining
// encoding/xml's token stream one element at a time (§4.7.3's dynamic,
// schema-driven shape rules out struct-tag Unmarshal).
type xmlNode struct {
	Name     stdxml.Name
	Attr     []stdxml.Attr
	Children []*xmlNode
	Text     string
}

func parseXMLDocument(r io.Reader) (*xmlNode, error) {
	dec := stdxml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if se, ok := tok.(stdxml.StartElement); ok {
			return readXMLElement(dec, se)
		}
	}
}

func readXMLElement(dec *stdxml.Decoder, start stdxml.StartElement) (*xmlNode, error) {
	node := &xmlNode{Name: start.Name, Attr: start.Attr}
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case stdxml.StartElement:
			child, err := readXMLElement(dec, t)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, child)
		case stdxml.CharData:
			node.Text += string(t)
		case stdxml.EndElement:
			return node, nil
		}
	}
}

func escapeXMLText(s string) string {
	var buf bytes.Buffer
	_ = stdxml.EscapeText(&buf, []byte(s))
	return buf.String()
}

func escapeXMLAttr(s string) string {
	return escapeXMLText(s)
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

func encodePrimitiveText(kind schema.PrimitiveKind, v value.Value) (string, error) {
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
		return encodeTimeText(kind, v)
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

func decodePrimitiveText(kind schema.PrimitiveKind, raw string) (value.Value, error) {
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
	case schema.MilliTime, schema.NanoTime, schema.Date, schema.TimeOfDayMilli, schema.TimeOfDayNano:
		return decodeTimeText(kind, raw)
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

func encodeTimeText(kind schema.PrimitiveKind, v value.Value) (string, error) {
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

func decodeTimeText(kind schema.PrimitiveKind, raw string) (value.Value, error) {
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
