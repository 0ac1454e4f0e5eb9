package xml_test

import (
	"strings"
	"testing"

	"github.com/blinkproto/blink/registry"
	"github.com/blinkproto/blink/schema"
	"github.com/blinkproto/blink/value"
	xmlcodec "github.com/blinkproto/blink/xml"
)

func buildTestSchema() *schema.Schema {
	s := schema.NewSchema("test")

	colorEnum := &schema.EnumDef{
		Name: schema.NewQName("test", "Color"),
		Symbols: []schema.EnumSymbol{
			{Name: "Red", Value: 0},
			{Name: "Blue", Value: 2},
		},
	}
	s.Enums[colorEnum.Name.String()] = colorEnum

	point := &schema.GroupDef{
		Name:      schema.NewQName("test", "Point"),
		TypeID:    1,
		HasTypeID: true,
		Fields: []schema.FieldDef{
			{Name: "x", Type: schema.PrimitiveType{Kind: schema.I32}},
			{Name: "y", Type: schema.PrimitiveType{Kind: schema.I32}},
		},
	}
	s.Groups[point.Name.String()] = point
	s.TypeIDs[point.TypeID] = point

	shape := &schema.GroupDef{
		Name:      schema.NewQName("test", "Shape"),
		TypeID:    2,
		HasTypeID: true,
		Fields: []schema.FieldDef{
			{Name: "name", Type: schema.BinaryType{Kind: schema.BinaryKindString}},
			{Name: "label", Type: schema.BinaryType{Kind: schema.BinaryKindString}, Optional: true},
			{Name: "color", Type: schema.EnumRef{Enum: colorEnum}},
			{Name: "origin", Type: schema.StaticGroupRef{Group: point}},
			{Name: "vertices", Type: schema.SequenceType{Element: schema.StaticGroupRef{Group: point}}},
			{Name: "id", Type: schema.BinaryType{Kind: schema.BinaryKindFixed, Size: 2}},
			{Name: "tag", Type: schema.DynamicGroupRef{Group: point}, Optional: true},
		},
	}
	s.Groups[shape.Name.String()] = shape
	s.TypeIDs[shape.TypeID] = shape

	return s
}

func pointFields(x, y int64) value.FieldMap {
	var fm value.FieldMap
	fm.Set("x", value.Int{V: x})
	fm.Set("y", value.Int{V: y})
	return fm
}

func buildCodec(t *testing.T) *xmlcodec.Codec {
	t.Helper()
	return xmlcodec.New(registry.New(buildTestSchema(), nil), true)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := buildCodec(t)

	var fields value.FieldMap
	fields.Set("name", value.Str{V: "triangle"})
	fields.Set("color", value.Str{V: "Blue"})
	fields.Set("origin", value.StaticGroup{Fields: pointFields(0, 0)})
	fields.Set("vertices", value.Sequence{Items: []value.Value{
		value.StaticGroup{Fields: pointFields(1, 1)},
		value.StaticGroup{Fields: pointFields(2, 3)},
	}})
	fields.Set("id", value.Bytes{V: []byte{0xff, 0xfe}})

	msg := value.Message{Type: schema.NewQName("test", "Shape"), Fields: fields}

	data, err := c.EncodeMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	if !strings.HasPrefix(string(data), `<Shape xmlns="test">`) {
		t.Fatalf("data = %s, want a <Shape xmlns=\"test\"> root element", data)
	}
	if !strings.Contains(string(data), `binary="yes">fffe</id>`) {
		t.Errorf("data = %s, want id rendered as a binary=\"yes\" hex element", data)
	}

	got, err := c.DecodeMessage(data)
	if err != nil {
		t.Fatalf("DecodeMessage(%s): %v", data, err)
	}
	name, ok := got.Fields.Get("name")
	if !ok || name.(value.Str).V != "triangle" {
		t.Errorf("name = %+v", name)
	}
	if _, ok := got.Fields.Get("label"); ok {
		t.Errorf("label should be absent")
	}
	id, ok := got.Fields.Get("id")
	if !ok || string(id.(value.Bytes).V) != "\xff\xfe" {
		t.Errorf("id = %+v", id)
	}
	vertices, ok := got.Fields.Get("vertices")
	if !ok || len(vertices.(value.Sequence).Items) != 2 {
		t.Fatalf("vertices = %+v", vertices)
	}
	second := vertices.(value.Sequence).Items[1].(value.StaticGroup)
	y, _ := second.Fields.Get("y")
	if y.(value.Int).V != 3 {
		t.Errorf("vertices[1].y = %+v, want 3", y)
	}
}

func TestEncodeDecodeDynamicGroupFieldAndExtension(t *testing.T) {
	c := buildCodec(t)

	var fields value.FieldMap
	fields.Set("name", value.Str{V: "tagged"})
	fields.Set("color", value.Str{V: "Red"})
	fields.Set("origin", value.StaticGroup{Fields: pointFields(0, 0)})
	fields.Set("vertices", value.Sequence{Items: []value.Value{}})
	fields.Set("id", value.Bytes{V: []byte{0, 0}})
	fields.Set("tag", value.Message{Type: schema.NewQName("test", "Point"), Fields: pointFields(9, 9)})

	msg := value.Message{
		Type:   schema.NewQName("test", "Shape"),
		Fields: fields,
		Extension: []value.Message{
			{Type: schema.NewQName("test", "Point"), Fields: pointFields(5, 6)},
		},
	}

	data, err := c.EncodeMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	if !strings.Contains(string(data), `<blink:extension xmlns:blink="http://blinkprotocol.org/ns/blink">`) {
		t.Fatalf("data = %s, want a blink:extension wrapper element", data)
	}
	got, err := c.DecodeMessage(data)
	if err != nil {
		t.Fatalf("DecodeMessage(%s): %v", data, err)
	}
	tagVal, ok := got.Fields.Get("tag")
	if !ok {
		t.Fatalf("tag missing")
	}
	tagMsg := tagVal.(value.Message)
	x, _ := tagMsg.Fields.Get("x")
	if x.(value.Int).V != 9 {
		t.Errorf("tag.x = %+v, want 9", x)
	}
	if len(got.Extension) != 1 {
		t.Fatalf("Extension = %+v, want 1 message", got.Extension)
	}
	extX, _ := got.Extension[0].Fields.Get("x")
	if extX.(value.Int).V != 5 {
		t.Errorf("extension[0].x = %+v, want 5", extX)
	}
}

func TestDynamicGroupMismatchIsWeakErrorWhenStrictAndUnknownTypeWhenPermissive(t *testing.T) {
	s := buildTestSchema()
	other := &schema.GroupDef{
		Name:      schema.NewQName("test", "Other"),
		TypeID:    99,
		HasTypeID: true,
		Fields: []schema.FieldDef{
			{Name: "n", Type: schema.PrimitiveType{Kind: schema.I32}},
		},
	}
	s.Groups[other.Name.String()] = other
	s.TypeIDs[other.TypeID] = other
	reg := registry.New(s, nil)

	var fields value.FieldMap
	fields.Set("name", value.Str{V: "tagged"})
	fields.Set("color", value.Str{V: "Red"})
	fields.Set("origin", value.StaticGroup{Fields: pointFields(0, 0)})
	fields.Set("vertices", value.Sequence{Items: []value.Value{}})
	fields.Set("id", value.Bytes{V: []byte{0, 0}})
	fields.Set("tag", value.Message{Type: schema.NewQName("test", "Point"), Fields: pointFields(9, 9)})
	msg := value.Message{Type: schema.NewQName("test", "Shape"), Fields: fields}

	strict := xmlcodec.New(reg, true)
	data, err := strict.EncodeMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}

	// writeDynamicFieldElement renders the nested "tag" value as a
	// self-contained "<Name xmlns=...>...</Name>" element. Swapping that
	// element for an unrelated group's rendering simulates a document
	// whose nested type isn't a descendant of the field's declared base,
	// without needing to encode it there directly (writeDynamicFieldElement
	// itself always rejects that regardless of Strict).
	nestedPoint := `<Point xmlns="test"><x>9</x><y>9</y></Point>`
	nestedOther := `<Other xmlns="test"><n>5</n></Other>`
	corrupted := strings.Replace(string(data), nestedPoint, nestedOther, 1)
	if corrupted == string(data) {
		t.Fatalf("nested point element not found in encoded message")
	}

	if _, err := strict.DecodeMessage([]byte(corrupted)); err == nil {
		t.Fatalf("expected a weak error for a non-descendant dynamic group in strict mode")
	}

	permissive := xmlcodec.New(reg, false)
	got, err := permissive.DecodeMessage([]byte(corrupted))
	if err != nil {
		t.Fatalf("DecodeMessage (permissive): %v", err)
	}
	tagVal, ok := got.Fields.Get("tag")
	if !ok {
		t.Fatalf("tag missing")
	}
	tagMsg := tagVal.(value.Message)
	if !tagMsg.UnknownType {
		t.Errorf("tag = %+v, want UnknownType true for a non-descendant dynamic group in permissive mode", tagMsg)
	}
}

func TestMissingRequiredFieldIsError(t *testing.T) {
	c := buildCodec(t)
	var fields value.FieldMap
	fields.Set("color", value.Str{V: "Red"})
	msg := value.Message{Type: schema.NewQName("test", "Shape"), Fields: fields}
	if _, err := c.EncodeMessage(msg); err == nil {
		t.Fatalf("expected error for missing required field")
	}
}

func TestUnmappedEnumIsWeakErrorWhenStrictAndSentinelWhenPermissive(t *testing.T) {
	s := schema.NewSchema("test")
	colorEnum := &schema.EnumDef{
		Name:    schema.NewQName("test", "Color"),
		Symbols: []schema.EnumSymbol{{Name: "Red", Value: 0}},
	}
	s.Enums[colorEnum.Name.String()] = colorEnum
	tagGroup := &schema.GroupDef{
		Name:      schema.NewQName("test", "Tag"),
		TypeID:    1,
		HasTypeID: true,
		Fields: []schema.FieldDef{
			{Name: "color", Type: schema.EnumRef{Enum: colorEnum}},
		},
	}
	s.Groups[tagGroup.Name.String()] = tagGroup
	s.TypeIDs[tagGroup.TypeID] = tagGroup

	reg := registry.New(s, nil)
	strict := xmlcodec.New(reg, true)
	permissive := xmlcodec.New(reg, false)

	data := []byte(`<Tag xmlns="test"><color>Purple</color></Tag>`)

	if _, err := strict.DecodeMessage(data); err == nil {
		t.Fatalf("expected a weak error in strict mode")
	} else if !strings.Contains(err.Error(), "WeakError") {
		t.Errorf("err = %v, want a WeakError", err)
	}

	got, err := permissive.DecodeMessage(data)
	if err != nil {
		t.Fatalf("permissive DecodeMessage: %v", err)
	}
	color, _ := got.Fields.Get("color")
	if color.(value.Str).V != "unknown" {
		t.Errorf("color = %+v, want unknown sentinel", color)
	}
}

func TestEscapingRoundTripsReservedCharacters(t *testing.T) {
	s := schema.NewSchema("test")
	note := &schema.GroupDef{
		Name:      schema.NewQName("test", "Note"),
		TypeID:    1,
		HasTypeID: true,
		Fields: []schema.FieldDef{
			{Name: "text", Type: schema.BinaryType{Kind: schema.BinaryKindString}},
		},
	}
	s.Groups[note.Name.String()] = note
	s.TypeIDs[note.TypeID] = note
	c := xmlcodec.New(registry.New(s, nil), true)

	raw := `a<b>c&d"e'f`
	var fields value.FieldMap
	fields.Set("text", value.Str{V: raw})
	msg := value.Message{Type: note.Name, Fields: fields}

	data, err := c.EncodeMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	got, err := c.DecodeMessage(data)
	if err != nil {
		t.Fatalf("DecodeMessage(%s): %v", data, err)
	}
	text, _ := got.Fields.Get("text")
	if text.(value.Str).V != raw {
		t.Errorf("text = %q, want %q", text.(value.Str).V, raw)
	}
}

func TestEncodeDecodeStream(t *testing.T) {
	c := buildCodec(t)
	msgs := []value.Message{
		{Type: schema.NewQName("test", "Point"), Fields: pointFields(1, 2)},
		{Type: schema.NewQName("test", "Point"), Fields: pointFields(3, 4)},
	}
	data, err := c.EncodeStream(msgs)
	if err != nil {
		t.Fatalf("EncodeStream: %v", err)
	}
	if !strings.HasPrefix(string(data), `<blink:stream xmlns:blink="http://blinkprotocol.org/ns/blink">`) {
		t.Fatalf("data = %s, want a blink:stream root element", data)
	}
	got, err := c.DecodeStream(data)
	if err != nil {
		t.Fatalf("DecodeStream(%s): %v", data, err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	y, _ := got[1].Fields.Get("y")
	if y.(value.Int).V != 4 {
		t.Errorf("got[1].y = %+v, want 4", y)
	}
}
