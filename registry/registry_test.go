package registry_test

import (
	"strings"
	"testing"

	"github.com/blinkproto/blink/registry"
	"github.com/blinkproto/blink/schema"
)

func baseGroup() *schema.GroupDef {
	return &schema.GroupDef{
		Name:      schema.NewQName("test", "Base"),
		TypeID:    1,
		HasTypeID: true,
		Fields: []schema.FieldDef{
			{Name: "id", Type: schema.PrimitiveType{Kind: schema.U32}},
		},
	}
}

func TestGroupByNameAndID(t *testing.T) {
	s := schema.NewSchema("test")
	base := baseGroup()
	s.Groups[base.Name.String()] = base
	s.TypeIDs[base.TypeID] = base

	reg := registry.New(s, nil)
	byName, err := reg.GroupByName(schema.NewQName("test", "Base"))
	if err != nil || byName != base {
		t.Fatalf("GroupByName = %+v/%v", byName, err)
	}
	byID, err := reg.GroupByID(1)
	if err != nil || byID != base {
		t.Fatalf("GroupByID = %+v/%v", byID, err)
	}
	if _, err := reg.GroupByName(schema.NewQName("test", "Missing")); err == nil {
		t.Fatalf("expected an error for an unknown group name")
	}
	if _, err := reg.GroupByID(999); err == nil {
		t.Fatalf("expected an error for an unknown type id")
	}
}

func TestApplyUpdateRejectsDuplicateTypeID(t *testing.T) {
	reg := registry.New(schema.NewSchema("test"), nil)
	if err := reg.ApplyUpdate(registry.Update{Group: baseGroup()}); err != nil {
		t.Fatalf("ApplyUpdate(Base): %v", err)
	}
	collide := &schema.GroupDef{
		Name:      schema.NewQName("test", "Other"),
		TypeID:    1,
		HasTypeID: true,
	}
	err := reg.ApplyUpdate(registry.Update{Group: collide})
	if err == nil {
		t.Fatalf("expected a duplicate type id error")
	}
	if !strings.Contains(err.Error(), "SchemaUpdateError") {
		t.Errorf("err = %v, want a SchemaUpdateError", err)
	}
	if _, err := reg.GroupByName(schema.NewQName("test", "Other")); err == nil {
		t.Fatalf("a rejected update must leave the registry unchanged")
	}
}

func TestApplyUpdateRejectsCyclicInheritance(t *testing.T) {
	reg := registry.New(schema.NewSchema("test"), nil)
	g := &schema.GroupDef{Name: schema.NewQName("test", "Loop"), TypeID: 1, HasTypeID: true}
	g.Super = g
	if err := reg.ApplyUpdate(registry.Update{Group: g}); err == nil {
		t.Fatalf("expected a cyclic inheritance error")
	}
}

func TestApplyUpdateRejectsDuplicateFieldName(t *testing.T) {
	reg := registry.New(schema.NewSchema("test"), nil)
	g := &schema.GroupDef{
		Name:      schema.NewQName("test", "Dup"),
		TypeID:    1,
		HasTypeID: true,
		Fields: []schema.FieldDef{
			{Name: "x", Type: schema.PrimitiveType{Kind: schema.U32}},
			{Name: "x", Type: schema.PrimitiveType{Kind: schema.U32}},
		},
	}
	if err := reg.ApplyUpdate(registry.Update{Group: g}); err == nil {
		t.Fatalf("expected a duplicate field name error")
	}
}

func TestApplyUpdateAllowsReDeclaringTheSameTypeID(t *testing.T) {
	reg := registry.New(schema.NewSchema("test"), nil)
	if err := reg.ApplyUpdate(registry.Update{Group: baseGroup()}); err != nil {
		t.Fatalf("ApplyUpdate(Base): %v", err)
	}
	again := baseGroup()
	again.Fields = append(again.Fields, schema.FieldDef{Name: "extra", Type: schema.PrimitiveType{Kind: schema.Bool}, Optional: true})
	if err := reg.ApplyUpdate(registry.Update{Group: again}); err != nil {
		t.Fatalf("re-declaring %s with the same type id: %v", again.Name, err)
	}
	g, err := reg.GroupByName(schema.NewQName("test", "Base"))
	if err != nil || len(g.AllFields()) != 2 {
		t.Fatalf("group = %+v/%v, want the re-declared 2-field version", g, err)
	}
}

func TestApplyUpdateEnumRejectsDuplicateSymbolOrValue(t *testing.T) {
	reg := registry.New(schema.NewSchema("test"), nil)
	dupName := &schema.EnumDef{
		Name: schema.NewQName("test", "Color"),
		Symbols: []schema.EnumSymbol{
			{Name: "Red", Value: 0},
			{Name: "Red", Value: 1},
		},
	}
	if err := reg.ApplyUpdate(registry.Update{Enum: dupName}); err == nil {
		t.Fatalf("expected a duplicate symbol name error")
	}
	dupValue := &schema.EnumDef{
		Name: schema.NewQName("test", "Color"),
		Symbols: []schema.EnumSymbol{
			{Name: "Red", Value: 0},
			{Name: "Blue", Value: 0},
		},
	}
	if err := reg.ApplyUpdate(registry.Update{Enum: dupValue}); err == nil {
		t.Fatalf("expected a duplicate symbol value error")
	}
}

func TestApplyUpdateEmptyIsError(t *testing.T) {
	reg := registry.New(schema.NewSchema("test"), nil)
	if err := reg.ApplyUpdate(registry.Update{}); err == nil {
		t.Fatalf("expected an error for an update with neither Group nor Enum set")
	}
}

func TestKnownTypeIDs(t *testing.T) {
	s := schema.NewSchema("test")
	base := baseGroup()
	s.Groups[base.Name.String()] = base
	s.TypeIDs[base.TypeID] = base
	reg := registry.New(s, nil)
	ids := reg.KnownTypeIDs()
	if len(ids) != 1 || ids[0] != 1 {
		t.Errorf("KnownTypeIDs = %v, want [1]", ids)
	}
}
