package blink

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/blinkproto/blink/compact"
	"github.com/blinkproto/blink/dynschema"
	"github.com/blinkproto/blink/internal/config"
	"github.com/blinkproto/blink/internal/obslog"
	jsoncodec "github.com/blinkproto/blink/json"
	"github.com/blinkproto/blink/native"
	"github.com/blinkproto/blink/registry"
	"github.com/blinkproto/blink/schema"
	"github.com/blinkproto/blink/tag"
	"github.com/blinkproto/blink/value"
	xmlcodec "github.com/blinkproto/blink/xml"
)

// CompileSchema parses and resolves Blink beta4 schema source text into a
// frozen Schema (§6.1, §6.6).
func CompileSchema(text string) (*schema.Schema, error) {
	ast, err := schema.ParseSchema(text)
	if err != nil {
		return nil, err
	}
	return schema.Resolve(ast)
}

// LoadSchemaFile reads path and compiles it the same way CompileSchema
// does.
func LoadSchemaFile(path string) (*schema.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("blink: reading schema file %s: %w", path, err)
	}
	return CompileSchema(string(data))
}

// Session bundles a live Registry built from a Schema with the reserved-id
// table and default strictness a deployment's Config selects, and hands
// out one codec per wire format, all backed by the same Registry (§6.6).
// The self-schema (C11, §4.8) is registered into it up front, so Dynamic
// Schema Exchange frames resolve against it immediately.
type Session struct {
	Registry *registry.Registry
	Config   config.Config

	ids dynschema.IDTable
	log zerolog.Logger
}

// NewSession builds a Session over s under cfg, logging through log (nil
// falls back to obslog.Nop()).
func NewSession(s *schema.Schema, cfg config.Config, log *zerolog.Logger) (*Session, error) {
	reg := registry.New(s, log)
	ids := dynschema.IDsAsShipped
	if cfg.ReservedIDMapping == config.AsDocumented {
		ids = dynschema.IDsAsDocumented
	}
	if err := dynschema.RegisterSelfSchema(reg, ids); err != nil {
		return nil, err
	}
	sess := &Session{Registry: reg, Config: cfg, ids: ids}
	if log != nil {
		sess.log = *log
	} else {
		sess.log = obslog.Nop()
	}
	return sess, nil
}

func (s *Session) handler() *dynschema.Handler {
	return dynschema.NewHandler(s.Registry, s.ids, &s.log)
}

// Compact returns a compact.Codec over s.Registry, wired to apply Dynamic
// Schema Exchange frames in place.
func (s *Session) Compact() *compact.Codec {
	return compact.New(s.Registry, s.Config.StrictDefault).WithReserved(s.handler())
}

// Native returns a native.Codec over s.Registry, wired the same way
// Compact is. Its DecodeStream decodes back-to-back Native frames, each
// delimited by the size in its own header.
func (s *Session) Native() *native.Codec {
	return native.New(s.Registry, s.Config.StrictDefault).WithReserved(s.handler())
}

// Tag returns a tag.Codec over s.Registry (§4.7.1). The text codecs carry
// no reserved-id dispatch of their own: Dynamic Schema Exchange is defined
// only over the binary frame shape (§6.5).
func (s *Session) Tag() *tag.Codec {
	return tag.New(s.Registry, s.Config.StrictDefault)
}

// JSON returns a json.Codec over s.Registry (§4.7.2).
func (s *Session) JSON() *jsoncodec.Codec {
	return jsoncodec.New(s.Registry, s.Config.StrictDefault)
}

// XML returns an xml.Codec over s.Registry (§4.7.3).
func (s *Session) XML() *xmlcodec.Codec {
	return xmlcodec.New(s.Registry, s.Config.StrictDefault)
}

// DecodeStreamWithExchange decodes every application message in buf,
// applying any interleaved Dynamic Schema Exchange frame against
// s.Registry instead of surfacing it (§6.5, §6.6).
func (s *Session) DecodeStreamWithExchange(buf []byte) ([]value.Message, error) {
	return dynschema.DecodeStreamWithExchange(s.Registry, s.ids, s.Config.StrictDefault, &s.log, buf)
}
