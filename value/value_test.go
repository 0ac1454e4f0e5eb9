package value_test

import (
	"testing"

	"github.com/blinkproto/blink/value"
)

func TestFieldMapPreservesOrder(t *testing.T) {
	var m value.FieldMap
	m.Set("b", value.Int{V: 2})
	m.Set("a", value.Int{V: 1})
	m.Set("b", value.Int{V: 20})

	var order []string
	m.Each(func(name string, v value.Value) {
		order = append(order, name)
	})
	if len(order) != 2 || order[0] != "b" || order[1] != "a" {
		t.Errorf("order = %v, want [b a]", order)
	}
	v, ok := m.Get("b")
	if !ok {
		t.Fatalf("b missing")
	}
	if iv, ok := v.(value.Int); !ok || iv.V != 20 {
		t.Errorf("b = %+v, want Int{20}", v)
	}
}

func TestFieldMapAbsentField(t *testing.T) {
	var m value.FieldMap
	if _, ok := m.Get("missing"); ok {
		t.Errorf("expected absent field to report ok=false")
	}
}
