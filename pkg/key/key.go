// Package key defines eau2's address space: a Key is a (name, home-node)
// pair, and is the only kind of address the KV fabric understands (§3).
package key

import (
	"github.com/eau2/eau2/pkg/codec"
)

// Key identifies a value in the distributed store. Equality is structural.
type Key struct {
	Name string
	Home uint64
}

// New constructs a Key. Keys are cheap to copy by value.
func New(name string, home uint64) Key {
	return Key{Name: name, Home: home}
}

// Equal reports structural equality.
func (k Key) Equal(o Key) bool {
	return k.Name == o.Name && k.Home == o.Home
}

// ToNode encodes k as a codec Node tagged "key".
func (k Key) ToNode() *codec.Node {
	return codec.NewObject(codec.TagKey,
		codec.F("name", codec.RawString(k.Name)),
		codec.F("home", codec.RawUint(k.Home)),
	)
}

// FromNode decodes a "key" tagged Node into a Key.
func FromNode(n *codec.Node) (Key, error) {
	if err := n.RequireTag(codec.TagKey); err != nil {
		return Key{}, err
	}
	nameNode, err := n.RequireField("name")
	if err != nil {
		return Key{}, err
	}
	name, err := nameNode.Str()
	if err != nil {
		return Key{}, err
	}
	homeNode, err := n.RequireField("home")
	if err != nil {
		return Key{}, err
	}
	home, err := homeNode.Uint()
	if err != nil {
		return Key{}, err
	}
	return Key{Name: name, Home: home}, nil
}

// Serialize is the convenience specialization combining ToNode and Encode,
// matching the spec's "serialize_key" contract.
func (k Key) Serialize() []byte {
	return codec.Encode(k.ToNode())
}

// Deserialize is the inverse of Serialize.
func Deserialize(data []byte) (Key, error) {
	n, err := codec.Decode(data)
	if err != nil {
		return Key{}, err
	}
	return FromNode(n)
}
