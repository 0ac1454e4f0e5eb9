package blink_test

import (
	"strings"
	"testing"

	blink "github.com/blinkproto/blink"
	"github.com/blinkproto/blink/internal/config"
	"github.com/blinkproto/blink/schema"
	"github.com/blinkproto/blink/value"
)

const testSchemaText = `namespace test
Point/1 -> i32 x, i32 y`

func TestCompileSchema(t *testing.T) {
	s, err := blink.CompileSchema(testSchemaText)
	if err != nil {
		t.Fatalf("CompileSchema: %v", err)
	}
	g, ok := s.GroupByName(schema.NewQName("test", "Point"))
	if !ok || !g.HasTypeID || g.TypeID != 1 {
		t.Fatalf("Point = %+v/%v", g, ok)
	}
}

func TestLoadSchemaFileMissingFileIsError(t *testing.T) {
	if _, err := blink.LoadSchemaFile("/nonexistent/path/does-not-exist.blink"); err == nil {
		t.Fatalf("expected an error for a missing schema file")
	}
}

func TestSessionCodecsShareARegistry(t *testing.T) {
	s, err := blink.CompileSchema(testSchemaText)
	if err != nil {
		t.Fatalf("CompileSchema: %v", err)
	}
	sess, err := blink.NewSession(s, config.Default(), nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	var fields value.FieldMap
	fields.Set("x", value.Int{V: 1})
	fields.Set("y", value.Int{V: 2})
	msg := value.Message{Type: schema.NewQName("test", "Point"), Fields: fields}

	compactData, err := sess.Compact().EncodeMessage(msg)
	if err != nil {
		t.Fatalf("Compact().EncodeMessage: %v", err)
	}
	got, _, err := sess.Compact().DecodeMessage(compactData, 0)
	if err != nil {
		t.Fatalf("Compact().DecodeMessage: %v", err)
	}
	y, _ := got.Fields.Get("y")
	if y.(value.Int).V != 2 {
		t.Errorf("y = %+v, want 2", y)
	}

	tagLine, err := sess.Tag().EncodeMessage(msg)
	if err != nil {
		t.Fatalf("Tag().EncodeMessage: %v", err)
	}
	if !strings.HasPrefix(tagLine, "@test:Point|") {
		t.Errorf("tagLine = %q", tagLine)
	}

	jsonData, err := sess.JSON().EncodeMessage(msg)
	if err != nil {
		t.Fatalf("JSON().EncodeMessage: %v", err)
	}
	if !strings.Contains(string(jsonData), `"$type":"test:Point"`) {
		t.Errorf("jsonData = %s", jsonData)
	}

	xmlData, err := sess.XML().EncodeMessage(msg)
	if err != nil {
		t.Fatalf("XML().EncodeMessage: %v", err)
	}
	if !strings.HasPrefix(string(xmlData), `<Point xmlns="test">`) {
		t.Errorf("xmlData = %s", xmlData)
	}

	// Every codec above resolved "test:Point" against the same Registry
	// the Session built; a lookup the Session itself performs must agree.
	group, err := sess.Registry.GroupByName(schema.NewQName("test", "Point"))
	if err != nil || group.TypeID != 1 {
		t.Errorf("Registry.GroupByName(test:Point) = %+v/%v", group, err)
	}
}

func TestSessionDecodeStreamWithExchangeAppliesDynamicSchemaUpdates(t *testing.T) {
	s, err := blink.CompileSchema(testSchemaText)
	if err != nil {
		t.Fatalf("CompileSchema: %v", err)
	}
	sess, err := blink.NewSession(s, config.Default(), nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	var nameFields value.FieldMap
	nameFields.Set("Ns", value.Str{V: "test"})
	nameFields.Set("Name", value.Str{V: "Extra"})
	var declFields value.FieldMap
	declFields.Set("Name", value.StaticGroup{Fields: nameFields})
	declFields.Set("Id", value.Uint{V: 900})
	declMsg := value.Message{Type: schema.NewQName("blink", "GroupDecl"), Fields: declFields}

	data, err := sess.Compact().EncodeMessage(declMsg)
	if err != nil {
		t.Fatalf("EncodeMessage(GroupDecl): %v", err)
	}
	msgs, err := sess.DecodeStreamWithExchange(data)
	if err != nil {
		t.Fatalf("DecodeStreamWithExchange: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("msgs = %+v, want none", msgs)
	}
	extra, err := sess.Registry.GroupByName(schema.NewQName("test", "Extra"))
	if err != nil || extra.TypeID != 900 {
		t.Errorf("GroupByName(test:Extra) = %+v/%v, want TypeID 900", extra, err)
	}
}
