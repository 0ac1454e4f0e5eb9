package dynschema_test

import (
	"strings"
	"testing"

	"github.com/blinkproto/blink/compact"
	"github.com/blinkproto/blink/dynschema"
	"github.com/blinkproto/blink/registry"
	"github.com/blinkproto/blink/schema"
	"github.com/blinkproto/blink/value"
)

func TestRegisterSelfSchemaResolvesGroups(t *testing.T) {
	reg := registry.New(schema.NewSchema("app"), nil)
	if err := dynschema.RegisterSelfSchema(reg, dynschema.IDsAsShipped); err != nil {
		t.Fatalf("RegisterSelfSchema: %v", err)
	}
	group, err := reg.GroupByID(dynschema.IDsAsShipped.GroupDecl)
	if err != nil {
		t.Fatalf("GroupByID(GroupDecl): %v", err)
	}
	if group.Name.String() != "blink:GroupDecl" {
		t.Errorf("group.Name = %q, want blink:GroupDecl", group.Name.String())
	}
	byName, err := reg.GroupByName(schema.NewQName("blink", "GroupDef"))
	if err != nil {
		t.Fatalf("GroupByName(GroupDef): %v", err)
	}
	if byName.TypeID != dynschema.IDsAsShipped.GroupDef {
		t.Errorf("GroupDef.TypeID = %d, want %d", byName.TypeID, dynschema.IDsAsShipped.GroupDef)
	}
}

func TestIsSchemaTransportMessage(t *testing.T) {
	for _, ids := range []dynschema.IDTable{dynschema.IDsAsShipped, dynschema.IDsAsDocumented} {
		transport := []uint64{ids.GroupDecl, ids.GroupDef, ids.FieldDef, ids.Define, ids.TypeDef, ids.Symbol}
		for _, id := range transport {
			if !dynschema.IsSchemaTransportMessage(ids, id) {
				t.Errorf("IsSchemaTransportMessage(%+v, %d) = false, want true", ids, id)
			}
		}
		notTransport := []uint64{ids.SchemaAnnotation, ids.Annotated, ids.Annotation}
		for _, id := range notTransport {
			if dynschema.IsSchemaTransportMessage(ids, id) {
				t.Errorf("IsSchemaTransportMessage(%+v, %d) = true, want false", ids, id)
			}
		}
	}
}

func nsNameValue(ns, name string) value.StaticGroup {
	var fm value.FieldMap
	if ns != "" {
		fm.Set("Ns", value.Str{V: ns})
	}
	fm.Set("Name", value.Str{V: name})
	return value.StaticGroup{Fields: fm}
}

func TestHandleReservedFrameGroupDeclAndGroupDef(t *testing.T) {
	ids := dynschema.IDsAsShipped
	schemaReg := registry.New(dynschema.SelfSchema(ids), nil)
	schemaCodec := compact.New(schemaReg, true)

	appReg := registry.New(schema.NewSchema("app"), nil)
	handler := dynschema.NewHandler(appReg, ids, nil)
	appCodec := compact.New(appReg, true).WithReserved(handler)

	var declFields value.FieldMap
	declFields.Set("Name", nsNameValue("app", "Widget"))
	declFields.Set("Id", value.Uint{V: 500})
	declMsg := value.Message{Type: schema.NewQName("blink", "GroupDecl"), Fields: declFields}

	data, err := schemaCodec.EncodeMessage(declMsg)
	if err != nil {
		t.Fatalf("EncodeMessage(GroupDecl): %v", err)
	}
	if _, _, err := appCodec.DecodeMessage(data, 0); err == nil {
		t.Fatalf("DecodeMessage(GroupDecl-only buffer) unexpectedly returned no error")
	} else if !strings.Contains(err.Error(), "no message available") {
		t.Errorf("err = %v, want a no-message-available framing error", err)
	}

	widget, err := appReg.GroupByName(schema.NewQName("app", "Widget"))
	if err != nil {
		t.Fatalf("GroupByName(app:Widget) after GroupDecl dispatch: %v", err)
	}
	if widget.TypeID != 500 {
		t.Errorf("widget.TypeID = %d, want 500", widget.TypeID)
	}

	var fieldDefFields value.FieldMap
	fieldDefFields.Set("Name", value.Str{V: "extra"})
	fieldDefFields.Set("TypeExpr", value.Str{V: "string"})
	fieldDefFields.Set("Optional", value.Bool{V: false})
	fieldDefMsg := value.Message{Type: schema.NewQName("blink", "FieldDef"), Fields: fieldDefFields}

	var defFields value.FieldMap
	defFields.Set("Name", nsNameValue("app", "WidgetExt"))
	defFields.Set("Id", value.Uint{V: 501})
	defFields.Set("Fields", value.Sequence{Items: []value.Value{fieldDefMsg}})
	defFields.Set("Super", nsNameValue("app", "Widget"))
	defMsg := value.Message{Type: schema.NewQName("blink", "GroupDef"), Fields: defFields}

	data2, err := schemaCodec.EncodeMessage(defMsg)
	if err != nil {
		t.Fatalf("EncodeMessage(GroupDef): %v", err)
	}
	if _, _, err := appCodec.DecodeMessage(data2, 0); err == nil {
		t.Fatalf("DecodeMessage(GroupDef-only buffer) unexpectedly returned no error")
	} else if !strings.Contains(err.Error(), "no message available") {
		t.Errorf("err = %v, want a no-message-available framing error", err)
	}

	widgetExt, err := appReg.GroupByName(schema.NewQName("app", "WidgetExt"))
	if err != nil {
		t.Fatalf("GroupByName(app:WidgetExt) after GroupDef dispatch: %v", err)
	}
	if widgetExt.TypeID != 501 {
		t.Errorf("widgetExt.TypeID = %d, want 501", widgetExt.TypeID)
	}
	if widgetExt.Super == nil || widgetExt.Super.Name.String() != "app:Widget" {
		t.Fatalf("widgetExt.Super = %+v, want app:Widget", widgetExt.Super)
	}
}

func TestGroupDefWithUnknownSuperIsSchemaUpdateError(t *testing.T) {
	ids := dynschema.IDsAsShipped
	schemaReg := registry.New(dynschema.SelfSchema(ids), nil)
	schemaCodec := compact.New(schemaReg, true)

	appReg := registry.New(schema.NewSchema("app"), nil)
	handler := dynschema.NewHandler(appReg, ids, nil)
	appCodec := compact.New(appReg, true).WithReserved(handler)

	var defFields value.FieldMap
	defFields.Set("Name", nsNameValue("app", "Orphan"))
	defFields.Set("Id", value.Uint{V: 600})
	defFields.Set("Fields", value.Sequence{Items: []value.Value{}})
	defFields.Set("Super", nsNameValue("app", "NoSuchGroup"))
	defMsg := value.Message{Type: schema.NewQName("blink", "GroupDef"), Fields: defFields}

	data, err := schemaCodec.EncodeMessage(defMsg)
	if err != nil {
		t.Fatalf("EncodeMessage(GroupDef): %v", err)
	}
	_, _, err = appCodec.DecodeMessage(data, 0)
	if err == nil {
		t.Fatalf("expected an error for an unresolvable Super reference")
	}
	if !strings.Contains(err.Error(), "SchemaUpdateError") {
		t.Errorf("err = %v, want a SchemaUpdateError", err)
	}
}

func TestUnimplementedTransportMessagesReturnSchemaUpdateError(t *testing.T) {
	ids := dynschema.IDsAsShipped
	appReg := registry.New(schema.NewSchema("app"), nil)
	handler := dynschema.NewHandler(appReg, ids, nil)

	for _, id := range []uint64{ids.FieldDef, ids.Define, ids.TypeDef, ids.Symbol} {
		err := handler.HandleReservedFrame(id, nil, true)
		if err == nil {
			t.Fatalf("HandleReservedFrame(%d): expected an error", id)
		}
		if !strings.Contains(err.Error(), "SchemaUpdateError") {
			t.Errorf("HandleReservedFrame(%d) err = %v, want a SchemaUpdateError", id, err)
		}
	}
}

func TestDecodeStreamWithExchangeAppliesGroupDeclFrames(t *testing.T) {
	ids := dynschema.IDsAsShipped
	schemaReg := registry.New(dynschema.SelfSchema(ids), nil)
	schemaCodec := compact.New(schemaReg, true)

	var declFields value.FieldMap
	declFields.Set("Name", nsNameValue("app", "Gadget"))
	declFields.Set("Id", value.Uint{V: 700})
	declMsg := value.Message{Type: schema.NewQName("blink", "GroupDecl"), Fields: declFields}
	data, err := schemaCodec.EncodeMessage(declMsg)
	if err != nil {
		t.Fatalf("EncodeMessage(GroupDecl): %v", err)
	}

	appReg := registry.New(schema.NewSchema("app"), nil)
	msgs, err := dynschema.DecodeStreamWithExchange(appReg, ids, true, nil, data)
	if err != nil {
		t.Fatalf("DecodeStreamWithExchange: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("msgs = %+v, want none (the only frame was a schema update)", msgs)
	}
	gadget, err := appReg.GroupByName(schema.NewQName("app", "Gadget"))
	if err != nil {
		t.Fatalf("GroupByName(app:Gadget): %v", err)
	}
	if gadget.TypeID != 700 {
		t.Errorf("gadget.TypeID = %d, want 700", gadget.TypeID)
	}
}

func TestAnnotationIDsAreIgnoredByHandleReservedFrame(t *testing.T) {
	ids := dynschema.IDsAsShipped
	appReg := registry.New(schema.NewSchema("app"), nil)
	handler := dynschema.NewHandler(appReg, ids, nil)

	for _, id := range []uint64{ids.SchemaAnnotation, ids.Annotated, ids.Annotation} {
		if err := handler.HandleReservedFrame(id, nil, true); err != nil {
			t.Errorf("HandleReservedFrame(%d): %v, want nil", id, err)
		}
	}
}
