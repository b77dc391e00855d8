// Package codec implements eau2's self-describing, length-free, brace
// delimited text serialization. Every value on the wire and in the local
// store begins with "{type: <tag>, ...}" with the tag drawn from a closed
// set; integers/booleans are decimal/true|false, floats use 7 fractional
// digits, strings are double-quoted with '"' and '\' backslash-escaped (so
// even the empty string, or a string containing ',', '}', ']', round-trips),
// and vectors use "[elem,elem,...]". The only contract is round-trip
// identity: Decode(Encode(v)) reproduces v's value domain. Exact punctuation
// is not, and need not match, any other implementation's.
package codec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/eau2/eau2/pkg/eauerr"
)

// Tag is one of the closed set of type discriminants the format supports.
type Tag string

const (
	TagObject       Tag = "object"
	TagAck          Tag = "ack"
	TagRegister     Tag = "register"
	TagDirectory    Tag = "directory"
	TagPut          Tag = "put"
	TagGet          Tag = "get"
	TagWaitGet      Tag = "wait_get"
	TagReply        Tag = "reply"
	TagKey          Tag = "key"
	TagString       Tag = "string"
	TagVector       Tag = "vector"
	TagIntVector    Tag = "int_vector"
	TagBoolVector   Tag = "bool_vector"
	TagFloatVector  Tag = "float_vector"
	TagIntColumn    Tag = "int_column"
	TagBoolColumn   Tag = "bool_column"
	TagFloatColumn  Tag = "float_column"
	TagStringColumn Tag = "string_column"
	TagDataframe    Tag = "dataframe"
	TagChunk        Tag = "chunk"
)

// Node is the generic parsed form of any codec value: an object (tag plus
// ordered fields), a vector (ordered elements, each itself a Node), or a
// raw token (a number, true/false, or a quoted string). Domain types (Key,
// Chunk, Dataframe, the message kinds, ...) convert to/from Node rather
// than hand-rolling their own brace parsing.
type Node struct {
	isVector bool
	isRaw    bool
	quoted   bool

	tag    Tag
	fields []field
	elems  []*Node
	raw    string
}

type field struct {
	name  string
	value *Node
}

// NewObject builds an object Node with the given tag and ordered fields.
func NewObject(tag Tag, fields ...Field) *Node {
	n := &Node{tag: tag}
	for _, f := range fields {
		n.fields = append(n.fields, field{name: f.Name, value: f.Value})
	}
	return n
}

// Field is one named field of an object Node, constructed via F.
type Field struct {
	Name  string
	Value *Node
}

// F constructs a Field.
func F(name string, value *Node) Field { return Field{Name: name, Value: value} }

// NewVector builds a vector Node from its elements.
func NewVector(elems ...*Node) *Node {
	return &Node{isVector: true, elems: elems}
}

// RawInt encodes a signed integer as a raw decimal token.
func RawInt(v int64) *Node { return &Node{isRaw: true, raw: strconv.FormatInt(v, 10)} }

// RawUint encodes an unsigned integer as a raw decimal token.
func RawUint(v uint64) *Node { return &Node{isRaw: true, raw: strconv.FormatUint(v, 10)} }

// RawBool encodes a boolean as the raw token true|false.
func RawBool(v bool) *Node { return &Node{isRaw: true, raw: strconv.FormatBool(v)} }

// RawFloat32 encodes a float with a fixed 7 fractional digits, per §4.A.
func RawFloat32(v float32) *Node {
	return &Node{isRaw: true, raw: strconv.FormatFloat(float64(v), 'f', 7, 32)}
}

// RawString encodes a string token. Strings are quoted and backslash-escaped
// (unlike every other raw token) so that the empty string, and any string
// containing ',', '}', ']', or '"', still round-trips.
func RawString(v string) *Node { return &Node{isRaw: true, quoted: true, raw: v} }

// Tag returns the object's tag. A vector or raw node has no tag and yields
// the empty Tag; callers should check IsVector/IsRaw first when the shape
// is not already known.
func (n *Node) Tag() Tag { return n.tag }

// IsVector reports whether n is a vector node.
func (n *Node) IsVector() bool { return n.isVector }

// IsRaw reports whether n is a raw-token node.
func (n *Node) IsRaw() bool { return n.isRaw }

// Elems returns a vector node's elements.
func (n *Node) Elems() []*Node { return n.elems }

// Field looks up a field by name on an object node.
func (n *Node) Field(name string) (*Node, bool) {
	for _, f := range n.fields {
		if f.name == name {
			return f.value, true
		}
	}
	return nil, false
}

// RequireTag returns eauerr.Malformed if n is not an object with the given tag.
func (n *Node) RequireTag(tag Tag) error {
	if n == nil || n.isVector || n.isRaw || n.tag != tag {
		return eauerr.Wrapf(eauerr.Malformed, "expected tag %q, got %s", tag, n.describe())
	}
	return nil
}

// RequireField fetches a required field, failing with Malformed if absent.
func (n *Node) RequireField(name string) (*Node, error) {
	v, ok := n.Field(name)
	if !ok {
		return nil, eauerr.Wrapf(eauerr.Malformed, "missing field %q on %s", name, n.describe())
	}
	return v, nil
}

func (n *Node) describe() string {
	switch {
	case n == nil:
		return "<nil>"
	case n.isVector:
		return "vector"
	case n.isRaw:
		return fmt.Sprintf("raw(%q)", n.raw)
	default:
		return fmt.Sprintf("object(%s)", n.tag)
	}
}

// Int parses a raw node as a signed integer.
func (n *Node) Int() (int64, error) {
	if !n.isRaw {
		return 0, eauerr.Wrapf(eauerr.Malformed, "expected raw int, got %s", n.describe())
	}
	v, err := strconv.ParseInt(strings.TrimSpace(n.raw), 10, 64)
	if err != nil {
		return 0, eauerr.Wrapf(eauerr.Malformed, "invalid int %q", n.raw)
	}
	return v, nil
}

// Uint parses a raw node as an unsigned integer.
func (n *Node) Uint() (uint64, error) {
	if !n.isRaw {
		return 0, eauerr.Wrapf(eauerr.Malformed, "expected raw uint, got %s", n.describe())
	}
	v, err := strconv.ParseUint(strings.TrimSpace(n.raw), 10, 64)
	if err != nil {
		return 0, eauerr.Wrapf(eauerr.Malformed, "invalid uint %q", n.raw)
	}
	return v, nil
}

// Bool parses a raw node as a boolean.
func (n *Node) Bool() (bool, error) {
	if !n.isRaw {
		return false, eauerr.Wrapf(eauerr.Malformed, "expected raw bool, got %s", n.describe())
	}
	switch strings.TrimSpace(n.raw) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, eauerr.Wrapf(eauerr.Malformed, "invalid bool %q", n.raw)
	}
}

// Float32 parses a raw node as a 32-bit float.
func (n *Node) Float32() (float32, error) {
	if !n.isRaw {
		return 0, eauerr.Wrapf(eauerr.Malformed, "expected raw float, got %s", n.describe())
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(n.raw), 32)
	if err != nil {
		return 0, eauerr.Wrapf(eauerr.Malformed, "invalid float %q", n.raw)
	}
	return float32(v), nil
}

// Str returns a string node's unescaped value.
func (n *Node) Str() (string, error) {
	if !n.isRaw {
		return "", eauerr.Wrapf(eauerr.Malformed, "expected raw string, got %s", n.describe())
	}
	return n.raw, nil
}

// writeQuotedString writes v as a double-quoted, backslash-escaped token.
func writeQuotedString(b *strings.Builder, v string) {
	b.WriteByte('"')
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c == '"' || c == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	b.WriteByte('"')
}

// Write serializes n onto b.
func (n *Node) Write(b *strings.Builder) {
	switch {
	case n.isRaw && n.quoted:
		writeQuotedString(b, n.raw)
	case n.isRaw:
		b.WriteString(n.raw)
	case n.isVector:
		b.WriteByte('[')
		for i, e := range n.elems {
			if i > 0 {
				b.WriteByte(',')
			}
			e.Write(b)
		}
		b.WriteByte(']')
	default:
		b.WriteByte('{')
		b.WriteString("type: ")
		b.WriteString(string(n.tag))
		for _, f := range n.fields {
			b.WriteString(", ")
			b.WriteString(f.name)
			b.WriteString(": ")
			f.value.Write(b)
		}
		b.WriteByte('}')
	}
}

// Encode serializes a Node to its text form.
func Encode(n *Node) []byte {
	var b strings.Builder
	n.Write(&b)
	return []byte(b.String())
}

// Decode parses the text form of exactly one Node. Trailing bytes after the
// top-level value's closing delimiter are an error: a frame holds one value.
func Decode(data []byte) (*Node, error) {
	p := &parser{s: string(data)}
	p.skipSpace()
	n, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.s) {
		return nil, eauerr.Wrapf(eauerr.Malformed, "trailing data after value at byte %d", p.pos)
	}
	return n, nil
}

type parser struct {
	s   string
	pos int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.s) && (p.s[p.pos] == ' ' || p.s[p.pos] == '\n' || p.s[p.pos] == '\t' || p.s[p.pos] == '\r') {
		p.pos++
	}
}

func (p *parser) peek() (byte, bool) {
	if p.pos >= len(p.s) {
		return 0, false
	}
	return p.s[p.pos], true
}

func (p *parser) parseValue() (*Node, error) {
	p.skipSpace()
	c, ok := p.peek()
	if !ok {
		return nil, eauerr.Wrapf(eauerr.Malformed, "unexpected end of input")
	}
	switch c {
	case '{':
		return p.parseObject()
	case '[':
		return p.parseVector()
	case '"':
		return p.parseQuotedString()
	default:
		return p.parseRaw()
	}
}

func (p *parser) parseObject() (*Node, error) {
	if err := p.expect('{'); err != nil {
		return nil, err
	}
	p.skipSpace()
	if err := p.expectKeyword("type"); err != nil {
		return nil, err
	}
	p.skipSpace()
	if err := p.expect(':'); err != nil {
		return nil, err
	}
	p.skipSpace()
	tagTok, err := p.rawToken()
	if err != nil {
		return nil, err
	}
	n := &Node{tag: Tag(strings.TrimSpace(tagTok))}
	for {
		p.skipSpace()
		c, ok := p.peek()
		if !ok {
			return nil, eauerr.Wrapf(eauerr.Malformed, "unterminated object")
		}
		if c == '}' {
			p.pos++
			return n, nil
		}
		if err := p.expect(','); err != nil {
			return nil, err
		}
		p.skipSpace()
		name, err := p.identifier()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if err := p.expect(':'); err != nil {
			return nil, err
		}
		p.skipSpace()
		val, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		n.fields = append(n.fields, field{name: name, value: val})
	}
}

func (p *parser) parseVector() (*Node, error) {
	if err := p.expect('['); err != nil {
		return nil, err
	}
	n := &Node{isVector: true}
	p.skipSpace()
	if c, ok := p.peek(); ok && c == ']' {
		p.pos++
		return n, nil
	}
	for {
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		n.elems = append(n.elems, v)
		p.skipSpace()
		c, ok := p.peek()
		if !ok {
			return nil, eauerr.Wrapf(eauerr.Malformed, "unterminated vector")
		}
		if c == ']' {
			p.pos++
			return n, nil
		}
		if err := p.expect(','); err != nil {
			return nil, err
		}
	}
}

func (p *parser) parseRaw() (*Node, error) {
	tok, err := p.rawToken()
	if err != nil {
		return nil, err
	}
	return &Node{isRaw: true, raw: tok}, nil
}

// parseQuotedString reads a '"'-delimited, '\'-escaped string token. This is
// the only token shape allowed to be empty, since it is length-delimited by
// its closing quote rather than by the next structural character.
func (p *parser) parseQuotedString() (*Node, error) {
	if err := p.expect('"'); err != nil {
		return nil, err
	}
	var b strings.Builder
	for {
		if p.pos >= len(p.s) {
			return nil, eauerr.Wrapf(eauerr.Malformed, "unterminated string at byte %d", p.pos)
		}
		c := p.s[p.pos]
		switch c {
		case '"':
			p.pos++
			return &Node{isRaw: true, quoted: true, raw: b.String()}, nil
		case '\\':
			p.pos++
			if p.pos >= len(p.s) {
				return nil, eauerr.Wrapf(eauerr.Malformed, "unterminated escape at byte %d", p.pos)
			}
			b.WriteByte(p.s[p.pos])
			p.pos++
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
}

// rawToken reads up to (not including) the next structural character:
// ',' '}' ']' or end of input. Used for numbers, booleans, and tags -- the
// token kinds that are never empty and never need quoting. Strings use
// parseQuotedString instead, since they are the one kind that can be empty.
func (p *parser) rawToken() (string, error) {
	start := p.pos
	for p.pos < len(p.s) {
		switch p.s[p.pos] {
		case ',', '}', ']':
			if p.pos == start {
				return "", eauerr.Wrapf(eauerr.Malformed, "empty token at byte %d", p.pos)
			}
			return p.s[start:p.pos], nil
		}
		p.pos++
	}
	if p.pos == start {
		return "", eauerr.Wrapf(eauerr.Malformed, "empty token at byte %d", p.pos)
	}
	return p.s[start:p.pos], nil
}

// identifier reads a field name: letters, digits, underscore.
func (p *parser) identifier() (string, error) {
	start := p.pos
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			p.pos++
			continue
		}
		break
	}
	if p.pos == start {
		return "", eauerr.Wrapf(eauerr.Malformed, "expected identifier at byte %d", p.pos)
	}
	return p.s[start:p.pos], nil
}

func (p *parser) expect(c byte) error {
	got, ok := p.peek()
	if !ok || got != c {
		return eauerr.Wrapf(eauerr.Malformed, "expected %q at byte %d", c, p.pos)
	}
	p.pos++
	return nil
}

func (p *parser) expectKeyword(kw string) error {
	if strings.HasPrefix(p.s[p.pos:], kw) {
		p.pos += len(kw)
		return nil
	}
	return eauerr.Wrapf(eauerr.Malformed, "expected %q at byte %d", kw, p.pos)
}
