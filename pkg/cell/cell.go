// Package cell defines eau2's single-value domain: every field in every
// column is one of Int32, Bool, Float32, Utf8String (§3). Missing is not a
// distinct wire representation: it is simply the type's zero value
// (0, false, 0.0, ""), so a column that pads with Missing is
// indistinguishable, once stored, from one where that cell was set to the
// zero value directly -- which is exactly what the spec's "per-type
// default" phrasing describes.
package cell

import "github.com/eau2/eau2/pkg/codec"

// Type is one of the four schema type tags.
type Type byte

const (
	Int    Type = 'I'
	Bool   Type = 'B'
	Float  Type = 'F'
	String Type = 'S'
)

// Valid reports whether t is one of the four known type tags.
func (t Type) Valid() bool {
	switch t {
	case Int, Bool, Float, String:
		return true
	default:
		return false
	}
}

func (t Type) String() string { return string(rune(t)) }

// Cell is a single typed value. Only the field matching Type is meaningful.
type Cell struct {
	Type Type
	I    int32
	B    bool
	F    float32
	S    string
}

// IntCell constructs an Int32 cell.
func IntCell(v int32) Cell { return Cell{Type: Int, I: v} }

// BoolCell constructs a Bool cell.
func BoolCell(v bool) Cell { return Cell{Type: Bool, B: v} }

// FloatCell constructs a Float32 cell.
func FloatCell(v float32) Cell { return Cell{Type: Float, F: v} }

// StringCell constructs a Utf8String cell.
func StringCell(v string) Cell { return Cell{Type: String, S: v} }

// Missing returns the zero-value cell for t, used to pad short columns.
func Missing(t Type) Cell {
	switch t {
	case Int:
		return IntCell(0)
	case Bool:
		return BoolCell(false)
	case Float:
		return FloatCell(0)
	case String:
		return StringCell("")
	default:
		return Cell{Type: t}
	}
}

// ToNode encodes the cell as a raw token (its type is implied by the
// enclosing chunk/vector, matching the codec's homogeneous-vector format).
func (c Cell) ToNode() *codec.Node {
	switch c.Type {
	case Int:
		return codec.RawInt(int64(c.I))
	case Bool:
		return codec.RawBool(c.B)
	case Float:
		return codec.RawFloat32(c.F)
	case String:
		return codec.RawString(c.S)
	default:
		return codec.RawString("")
	}
}

// FromNode decodes a raw token Node into a Cell of the given type.
func FromNode(t Type, n *codec.Node) (Cell, error) {
	switch t {
	case Int:
		v, err := n.Int()
		if err != nil {
			return Cell{}, err
		}
		return IntCell(int32(v)), nil
	case Bool:
		v, err := n.Bool()
		if err != nil {
			return Cell{}, err
		}
		return BoolCell(v), nil
	case Float:
		v, err := n.Float32()
		if err != nil {
			return Cell{}, err
		}
		return FloatCell(v), nil
	case String:
		v, err := n.Str()
		if err != nil {
			return Cell{}, err
		}
		return StringCell(v), nil
	default:
		return Cell{}, nil
	}
}
