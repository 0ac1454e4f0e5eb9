package schema

import "strings"

// QName is a qualified Blink name: an optional namespace plus a required
// name. String form is "ns:name", or bare "name" when the namespace is
// absent.
type QName struct {
	Namespace string
	Name      string
	hasNS     bool
}

// NewQName builds a QName with an explicit namespace.
func NewQName(namespace, name string) QName {
	return QName{Namespace: namespace, Name: name, hasNS: namespace != ""}
}

// NewBareQName builds a QName with no namespace.
func NewBareQName(name string) QName {
	return QName{Name: name}
}

// HasNamespace reports whether q carries an explicit namespace, as opposed
// to one inherited from a default.
func (q QName) HasNamespace() bool { return q.hasNS }

func (q QName) String() string {
	if q.hasNS {
		return q.Namespace + ":" + q.Name
	}
	return q.Name
}

// ParseQName parses "ns:name" or bare "name" into a QName, falling back to
// defaultNamespace when raw carries none. This mirrors the resolution order
// every codec applies to a wire value's type name: explicit namespace first,
// then the caller-supplied default, then the null namespace.
func ParseQName(raw, defaultNamespace string) QName {
	if idx := strings.IndexByte(raw, ':'); idx >= 0 {
		ns, name := raw[:idx], raw[idx+1:]
		if ns == "" {
			return NewQName(defaultNamespace, name)
		}
		return NewQName(ns, name)
	}
	return NewQName(defaultNamespace, raw)
}

// Equal reports component-wise equality, matching §3.1's definition (a bare
// name and an explicitly-empty-namespace name are equal).
func (q QName) Equal(o QName) bool {
	return q.Namespace == o.Namespace && q.Name == o.Name
}
