// Package blink is the top-level facade collaborators (CLIs, a web
// playground) are expected to use instead of reaching into the
// subpackages directly (§6.6): compile or load a schema, build a Session
// over it, then ask the Session for whichever wire-format codec the
// caller needs. Every codec a Session hands out shares the same
// *registry.Registry, so a Dynamic Schema Exchange frame decoded through
// one codec is immediately visible to the others.
package blink
