package schema

import (
	"strconv"

	"github.com/blinkproto/blink/errs"
)

var numericAnnotationName = NewQName("blink", "id")

var primitiveKeywords = map[string]bool{
	"i8": true, "u8": true, "i16": true, "u16": true, "i32": true, "u32": true,
	"i64": true, "u64": true, "f64": true, "decimal": true, "bool": true,
	"date": true, "timeOfDayMilli": true, "timeOfDayNano": true,
	"nanotime": true, "millitime": true,
}

var binaryKeywords = map[string]bool{"string": true, "binary": true}

// Parser is a recursive-descent parser over a token stream, producing a
// SchemaAst. It performs no resolution; every identifier is carried through
// unresolved for the Resolver (C3).
type Parser struct {
	tokens []Token
	index  int

	namespace    string
	hasNamespace bool
	enums        []EnumDefAst
	typeDefs     []TypeDefAst
	groups       []GroupDefAst
	schemaAnnots []AnnotationAst
	incremental  []IncrementalAnnotationAst
}

// NewParser builds a Parser over tokens produced by Lex.
func NewParser(tokens []Token) *Parser {
	return &Parser{tokens: tokens}
}

// ParseSchema lexes and parses text in one call.
func ParseSchema(text string) (SchemaAst, error) {
	tokens, err := Lex(text)
	if err != nil {
		return SchemaAst{}, err
	}
	return NewParser(tokens).Parse()
}

// Parse consumes the whole token stream and returns the assembled SchemaAst.
func (p *Parser) Parse() (SchemaAst, error) {
	for !p.match(TokenEOF) {
		defAnnots, err := p.parseAnnotations()
		if err != nil {
			return SchemaAst{}, err
		}
		tok := p.peek()
		if tok.Kind == TokenKeyword && tok.Value == "schema" {
			if len(defAnnots) > 0 {
				return SchemaAst{}, errs.Parse(tok.Line, tok.Column, "annotations cannot precede schema annotations")
			}
			p.advance()
			if !p.match(TokenLArrow) {
				return SchemaAst{}, errs.Parse(tok.Line, tok.Column, "schema annotations require '<-'")
			}
			chain, err := p.parseIncrementalChain()
			if err != nil {
				return SchemaAst{}, err
			}
			p.schemaAnnots = append(p.schemaAnnots, chain...)
			continue
		}
		if tok.Kind == TokenKeyword && tok.Value == "namespace" {
			if len(defAnnots) > 0 {
				return SchemaAst{}, errs.Parse(tok.Line, tok.Column, "annotations are not allowed on namespace declarations")
			}
			p.advance()
			if err := p.parseNamespaceDecl(); err != nil {
				return SchemaAst{}, err
			}
			continue
		}
		if err := p.parseDefinition(defAnnots); err != nil {
			return SchemaAst{}, err
		}
	}
	return SchemaAst{
		Namespace:              p.namespace,
		HasNamespace:           p.hasNamespace,
		Enums:                  p.enums,
		TypeDefs:               p.typeDefs,
		Groups:                 p.groups,
		SchemaAnnotations:      p.schemaAnnots,
		IncrementalAnnotations: p.incremental,
	}, nil
}

func (p *Parser) parseDefinition(defAnnots []AnnotationAst) error {
	name, hasID, typeID, err := p.parseNameWithID()
	if err != nil {
		return err
	}
	var member string
	hasMember := false
	if p.match(TokenDot) {
		id, err := p.expectIdentifier()
		if err != nil {
			return err
		}
		member, hasMember = id.Value, true
	}
	if p.match(TokenLArrow) {
		if hasID {
			return errs.Parse(p.peek().Line, p.peek().Column, "component references cannot include identifiers")
		}
		chain, err := p.parseIncrementalChain()
		if err != nil {
			return err
		}
		p.incremental = append(p.incremental, IncrementalAnnotationAst{
			Target:      ComponentRefAst{Name: name, Member: member, HasMember: hasMember},
			Annotations: chain,
		})
		return nil
	}
	if hasMember {
		return errs.Parse(p.peek().Line, p.peek().Column, "component references must be followed by '<-'")
	}
	if p.match(TokenEqual) {
		return p.parseEnumOrTypeDef(name, defAnnots)
	}
	return p.parseGroupDef(name, hasID, typeID, defAnnots)
}

func (p *Parser) parseEnumOrTypeDef(name QName, defAnnots []AnnotationAst) error {
	savedIndex := p.index
	if _, err := p.parseAnnotations(); err != nil {
		return err
	}
	isEnum := p.detectEnum()
	p.index = savedIndex

	if isEnum {
		symbols, err := p.parseEnumSymbols()
		if err != nil {
			return err
		}
		p.enums = append(p.enums, EnumDefAst{Name: name, Symbols: symbols, Annotations: defAnnots})
		return nil
	}
	typeAnnots, err := p.parseAnnotations()
	if err != nil {
		return err
	}
	typeRef, err := p.parseType()
	if err != nil {
		return err
	}
	p.typeDefs = append(p.typeDefs, TypeDefAst{
		Name:        name,
		TypeRef:     typeRef,
		Annotations: append(append([]AnnotationAst{}, defAnnots...), typeAnnots...),
	})
	return nil
}

func (p *Parser) parseGroupDef(name QName, hasID bool, typeID uint64, defAnnots []AnnotationAst) error {
	var super QName
	hasSuper := false
	if p.match(TokenColon) {
		var err error
		super, err = p.parseQName()
		if err != nil {
			return err
		}
		hasSuper = true
	}
	var fields []FieldAst
	if p.match(TokenArrow) {
		var err error
		fields, err = p.parseFields()
		if err != nil {
			return err
		}
	}
	p.groups = append(p.groups, GroupDefAst{
		Name:        name,
		TypeID:      typeID,
		HasTypeID:   hasID,
		Fields:      fields,
		Super:       super,
		HasSuper:    hasSuper,
		Annotations: defAnnots,
	})
	return nil
}

func (p *Parser) parseNamespaceDecl() error {
	if p.hasNamespace {
		return errs.Parse(p.peek().Line, p.peek().Column, "duplicate namespace declaration")
	}
	id, err := p.expectIdentifier()
	if err != nil {
		return err
	}
	p.namespace, p.hasNamespace = id.Value, true
	return nil
}

func (p *Parser) parseFields() ([]FieldAst, error) {
	var fields []FieldAst
	for {
		annots, err := p.parseAnnotations()
		if err != nil {
			return nil, err
		}
		typeRef, err := p.parseType()
		if err != nil {
			return nil, err
		}
		more, err := p.parseAnnotations()
		if err != nil {
			return nil, err
		}
		annots = append(annots, more...)
		fieldName, hasID, fieldID, err := p.parseNameWithID()
		if err != nil {
			return nil, err
		}
		optional := p.match(TokenQuestion)
		if hasID {
			annots = append(annots, AnnotationAst{Name: numericAnnotationName, Value: strconv.FormatUint(fieldID, 10)})
		}
		fields = append(fields, FieldAst{
			Name:        fieldName.Name,
			TypeRef:     typeRef,
			Optional:    optional,
			Annotations: annots,
		})
		if !p.match(TokenComma) {
			break
		}
	}
	return fields, nil
}

func (p *Parser) parseType() (TypeRefAst, error) {
	base, err := p.parseSingleType()
	if err != nil {
		return nil, err
	}
	for p.match(TokenLBracket) {
		if _, err := p.expect(TokenRBracket); err != nil {
			return nil, err
		}
		base = SequenceTypeRef{Element: base}
	}
	return base, nil
}

func (p *Parser) parseSingleType() (TypeRefAst, error) {
	tok := p.peek()
	if tok.Kind == TokenKeyword {
		switch {
		case primitiveKeywords[tok.Value]:
			p.advance()
			return PrimitiveTypeRef{Name: tok.Value}, nil
		case binaryKeywords[tok.Value]:
			p.advance()
			size, hasSize, err := p.parseOptionalSize()
			if err != nil {
				return nil, err
			}
			kind := BinaryKindString
			if tok.Value == "binary" {
				kind = BinaryKindBinary
			}
			return BinaryTypeRef{Kind: binaryKindToName(kind), Size: size, HasSize: hasSize}, nil
		case tok.Value == "fixed":
			p.advance()
			size, err := p.parseRequiredSize()
			if err != nil {
				return nil, err
			}
			return BinaryTypeRef{Kind: "fixed", Size: size, HasSize: true}, nil
		case tok.Value == "object":
			p.advance()
			return ObjectTypeRef{}, nil
		}
	}
	qname, err := p.parseQName()
	if err != nil {
		return nil, err
	}
	mode := GroupRefModeUnspecified
	if p.match(TokenStar) {
		mode = GroupRefModeDynamic
	}
	return NamedTypeRef{Name: qname, Mode: mode}, nil
}

func binaryKindToName(k BinaryKind) string {
	if k == BinaryKindBinary {
		return "binary"
	}
	return "string"
}

func (p *Parser) parseOptionalSize() (int, bool, error) {
	if !p.match(TokenLParen) {
		return 0, false, nil
	}
	n, err := p.expect(TokenNumber)
	if err != nil {
		return 0, false, err
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return 0, false, err
	}
	v, _ := strconv.Atoi(n.Value)
	return v, true, nil
}

func (p *Parser) parseRequiredSize() (int, error) {
	size, has, err := p.parseOptionalSize()
	if err != nil {
		return 0, err
	}
	if !has {
		return 0, errs.Parse(p.peek().Line, p.peek().Column, "fixed types must specify a size, e.g. fixed(8)")
	}
	return size, nil
}

func (p *Parser) parseEnumSymbols() ([]EnumSymbolAst, error) {
	var symbols []EnumSymbolAst
	next := int32(0)
	p.match(TokenPipe)
	for {
		sym, err := p.parseEnumSymbol(next)
		if err != nil {
			return nil, err
		}
		symbols = append(symbols, sym)
		next = sym.Value + 1
		if !p.match(TokenPipe) {
			break
		}
	}
	return symbols, nil
}

func (p *Parser) parseEnumSymbol(defaultValue int32) (EnumSymbolAst, error) {
	annots, err := p.parseAnnotations()
	if err != nil {
		return EnumSymbolAst{}, err
	}
	name, err := p.expectIdentifier()
	if err != nil {
		return EnumSymbolAst{}, err
	}
	value := defaultValue
	if p.match(TokenSlash) {
		n, err := p.expect(TokenNumber)
		if err != nil {
			return EnumSymbolAst{}, err
		}
		v, _ := strconv.ParseInt(n.Value, 10, 32)
		value = int32(v)
	}
	return EnumSymbolAst{Name: name.Value, Value: value, Annotations: annots}, nil
}

func (p *Parser) parseIncrementalChain() ([]AnnotationAst, error) {
	var annots []AnnotationAst
	for {
		if p.peek().Kind == TokenNumber {
			n := p.advance()
			v, _ := strconv.ParseUint(n.Value, 10, 64)
			annots = append(annots, AnnotationAst{Name: numericAnnotationName, Value: strconv.FormatUint(v, 10)})
		} else {
			chunk, err := p.parseAnnotations()
			if err != nil {
				return nil, err
			}
			if len(chunk) == 0 {
				return nil, errs.Parse(p.peek().Line, p.peek().Column, "expected annotation after '<-'")
			}
			annots = append(annots, chunk...)
		}
		if !p.match(TokenLArrow) {
			break
		}
	}
	return annots, nil
}

func (p *Parser) parseAnnotations() ([]AnnotationAst, error) {
	var items []AnnotationAst
	for p.match(TokenAt) {
		name, err := p.parseQName()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenEqual); err != nil {
			return nil, err
		}
		var value string
		found := false
		for p.peek().Kind == TokenString {
			value += p.advance().Value
			found = true
		}
		if !found {
			return nil, errs.Parse(p.peek().Line, p.peek().Column, "annotation must have a string literal value")
		}
		items = append(items, AnnotationAst{Name: name, Value: value})
	}
	return items, nil
}

func (p *Parser) parseQName() (QName, error) {
	nameTok, err := p.expectIdentifier()
	if err != nil {
		return QName{}, err
	}
	name := nameTok.Value
	if p.match(TokenNSColon) {
		ns := name
		nameTok2, err := p.expectIdentifier()
		if err != nil {
			return QName{}, err
		}
		return NewQName(ns, nameTok2.Value), nil
	}
	return NewBareQName(name), nil
}

func (p *Parser) parseNameWithID() (QName, bool, uint64, error) {
	qname, err := p.parseQName()
	if err != nil {
		return QName{}, false, 0, err
	}
	if p.match(TokenSlash) {
		n, err := p.expect(TokenNumber)
		if err != nil {
			return QName{}, false, 0, err
		}
		v, _ := strconv.ParseUint(n.Value, 10, 64)
		return qname, true, v, nil
	}
	return qname, false, 0, nil
}

func (p *Parser) detectEnum() bool {
	tok := p.peek()
	if tok.Kind == TokenPipe {
		return true
	}
	if tok.Kind == TokenIdent {
		next := Token{Kind: TokenEOF}
		if p.index+1 < len(p.tokens) {
			next = p.tokens[p.index+1]
		}
		return next.Kind == TokenPipe || next.Kind == TokenSlash
	}
	return false
}

func (p *Parser) match(kind TokenKind) bool {
	if p.peek().Kind == kind {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expect(kind TokenKind) (Token, error) {
	tok := p.peek()
	if tok.Kind != kind {
		return Token{}, errs.Parse(tok.Line, tok.Column, "unexpected token")
	}
	p.advance()
	return tok, nil
}

func (p *Parser) expectIdentifier() (Token, error) {
	tok := p.peek()
	if tok.Kind != TokenIdent {
		return Token{}, errs.Parse(tok.Line, tok.Column, "expected identifier")
	}
	p.advance()
	return tok, nil
}

func (p *Parser) advance() Token {
	tok := p.tokens[p.index]
	p.index++
	return tok
}

func (p *Parser) peek() Token {
	return p.tokens[p.index]
}
