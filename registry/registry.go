// Package registry provides the mutable, indexed view of a resolved schema
// (C4): lookup by qualified name and by numeric type id, plus the single
// mutation entry point schema-exchange frames (C11) drive at runtime.
package registry

import (
	"github.com/rs/zerolog"

	"github.com/blinkproto/blink/errs"
	"github.com/blinkproto/blink/schema"
)

// Registry indexes a schema.Schema by name and type id. It documents a
// single-threaded mutation discipline (§4.4): ApplyUpdate must not run
// concurrently with itself or with a read, though concurrent reads alone
// are safe. Multiple Registry instances are fully independent.
type Registry struct {
	groupsByName map[string]*schema.GroupDef
	groupsByID   map[uint64]*schema.GroupDef
	enumsByName  map[string]*schema.EnumDef
	namespace    string
	log          zerolog.Logger
}

// New builds a Registry over s, indexing every group and enum it already
// contains. A nil logger falls back to a no-op logger (zerolog.Nop()),
// matching internal/obslog's "library cost is zero with no logger
// configured" rule.
func New(s *schema.Schema, log *zerolog.Logger) *Registry {
	r := &Registry{
		groupsByName: make(map[string]*schema.GroupDef),
		groupsByID:   make(map[uint64]*schema.GroupDef),
		enumsByName:  make(map[string]*schema.EnumDef),
	}
	if s != nil {
		r.namespace = s.Namespace
		for key, g := range s.Groups {
			r.groupsByName[key] = g
			if g.HasTypeID {
				r.groupsByID[g.TypeID] = g
			}
		}
		for key, e := range s.Enums {
			r.enumsByName[key] = e
		}
	}
	if log != nil {
		r.log = *log
	} else {
		r.log = zerolog.Nop()
	}
	return r
}

// GroupByName returns the group registered under qname.
func (r *Registry) GroupByName(qname schema.QName) (*schema.GroupDef, error) {
	g, ok := r.groupsByName[qname.String()]
	if !ok {
		return nil, errs.Resolve("unknown group %s", qname)
	}
	return g, nil
}

// GroupByID returns the group registered at typeID.
func (r *Registry) GroupByID(typeID uint64) (*schema.GroupDef, error) {
	g, ok := r.groupsByID[typeID]
	if !ok {
		return nil, errs.Resolve("unknown type id %d", typeID)
	}
	return g, nil
}

// Enum returns the enum registered under qname.
func (r *Registry) Enum(qname schema.QName) (*schema.EnumDef, error) {
	e, ok := r.enumsByName[qname.String()]
	if !ok {
		return nil, errs.Resolve("unknown enum %s", qname)
	}
	return e, nil
}

// KnownTypeIDs returns every type id currently registered, for diagnostics.
func (r *Registry) KnownTypeIDs() []uint64 {
	out := make([]uint64, 0, len(r.groupsByID))
	for id := range r.groupsByID {
		out = append(out, id)
	}
	return out
}

// Update is a single registry mutation produced by interpreting a Dynamic
// Schema Exchange frame (C11). Exactly one of Group/Enum is set.
type Update struct {
	Group *schema.GroupDef
	Enum  *schema.EnumDef
}

// ApplyUpdate integrates upd, rejecting anything that would violate a
// uniqueness or inheritance invariant (§4.4, §4.8). On rejection the
// registry is left completely unchanged (atomic apply): validation runs
// fully before any map is mutated.
func (r *Registry) ApplyUpdate(upd Update) error {
	switch {
	case upd.Group != nil:
		return r.applyGroupUpdate(upd.Group)
	case upd.Enum != nil:
		return r.applyEnumUpdate(upd.Enum)
	default:
		return errs.SchemaUpdate("empty update")
	}
}

func (r *Registry) applyGroupUpdate(g *schema.GroupDef) error {
	key := g.Name.String()
	existing, hasExisting := r.groupsByName[key]
	if hasExisting && existing.HasTypeID && g.HasTypeID && existing.TypeID != g.TypeID {
		return errs.SchemaUpdate("group %s already registered with a different type id", key)
	}
	if g.HasTypeID {
		if byID, ok := r.groupsByID[g.TypeID]; ok && (!hasExisting || byID != existing) {
			return errs.SchemaUpdate("type id %d already registered", g.TypeID)
		}
	}
	for s := g.Super; s != nil; s = s.Super {
		if s == g {
			return errs.SchemaUpdate("cyclic inheritance involving %s", key)
		}
	}
	seen := map[string]bool{}
	for _, f := range g.AllFields() {
		if seen[f.Name] {
			return errs.SchemaUpdate("duplicate field name %q in %s", f.Name, key)
		}
		seen[f.Name] = true
	}

	r.groupsByName[key] = g
	if g.HasTypeID {
		r.groupsByID[g.TypeID] = g
	}
	r.log.Info().Str("group", key).Bool("hasTypeID", g.HasTypeID).Uint64("typeID", g.TypeID).Msg("registry: group updated")
	return nil
}

func (r *Registry) applyEnumUpdate(e *schema.EnumDef) error {
	key := e.Name.String()
	seenNames := map[string]bool{}
	seenValues := map[int32]bool{}
	for _, sym := range e.Symbols {
		if seenNames[sym.Name] {
			return errs.SchemaUpdate("duplicate enum symbol %s in %s", sym.Name, key)
		}
		seenNames[sym.Name] = true
		if seenValues[sym.Value] {
			return errs.SchemaUpdate("duplicate enum value %d in %s", sym.Value, key)
		}
		seenValues[sym.Value] = true
	}
	r.enumsByName[key] = e
	r.log.Info().Str("enum", key).Msg("registry: enum updated")
	return nil
}
