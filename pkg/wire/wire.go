// Package wire defines the seven message kinds eau2 nodes exchange (§6): a
// single tagged union, rather than the deep Message hierarchy of the system
// this module's spec was distilled from (§9's "Deep inheritance of Message"
// redesign note). Every Put, Get and WaitGet carries an ID assigned by its
// sender and echoed by the matching Ack or Reply, which pkg/kv uses to
// route Acks and Replies back to the right waiter (Register and Directory
// carry no ID) -- the Open Question in §4.E/§9 about request-kind-only
// correlation is resolved here in favor of explicit ids, so a node may have
// more than one outstanding Get to the same peer at a time.
package wire

import (
	"github.com/eau2/eau2/pkg/codec"
	"github.com/eau2/eau2/pkg/eauerr"
	"github.com/eau2/eau2/pkg/key"
)

// Register is sent by a joining node to the rendezvous node, and
// peer-to-peer after a Directory reply (§4.D).
type Register struct {
	Address string
	Sender  uint64
}

func (m Register) ToNode() *codec.Node {
	return codec.NewObject(codec.TagRegister,
		codec.F("address", codec.RawString(m.Address)),
		codec.F("sender", codec.RawUint(m.Sender)),
	)
}

func registerFromNode(n *codec.Node) (Register, error) {
	addrNode, err := n.RequireField("address")
	if err != nil {
		return Register{}, err
	}
	addr, err := addrNode.Str()
	if err != nil {
		return Register{}, err
	}
	senderNode, err := n.RequireField("sender")
	if err != nil {
		return Register{}, err
	}
	sender, err := senderNode.Uint()
	if err != nil {
		return Register{}, err
	}
	return Register{Address: addr, Sender: sender}, nil
}

// Directory is node 0's reply to a Register, listing every peer it knows.
type Directory struct {
	Addresses []string
	Indices   []uint64
}

func (m Directory) ToNode() *codec.Node {
	addrElems := make([]*codec.Node, len(m.Addresses))
	for i, a := range m.Addresses {
		addrElems[i] = codec.RawString(a)
	}
	idxElems := make([]*codec.Node, len(m.Indices))
	for i, idx := range m.Indices {
		idxElems[i] = codec.RawUint(idx)
	}
	return codec.NewObject(codec.TagDirectory,
		codec.F("addresses", codec.NewVector(addrElems...)),
		codec.F("indices", codec.NewVector(idxElems...)),
	)
}

func directoryFromNode(n *codec.Node) (Directory, error) {
	addrNode, err := n.RequireField("addresses")
	if err != nil {
		return Directory{}, err
	}
	idxNode, err := n.RequireField("indices")
	if err != nil {
		return Directory{}, err
	}
	if !addrNode.IsVector() || !idxNode.IsVector() {
		return Directory{}, eauerr.Wrapf(eauerr.Malformed, "directory fields must be vectors")
	}
	addrs := make([]string, len(addrNode.Elems()))
	for i, e := range addrNode.Elems() {
		s, err := e.Str()
		if err != nil {
			return Directory{}, err
		}
		addrs[i] = s
	}
	idxs := make([]uint64, len(idxNode.Elems()))
	for i, e := range idxNode.Elems() {
		v, err := e.Uint()
		if err != nil {
			return Directory{}, err
		}
		idxs[i] = v
	}
	if len(addrs) != len(idxs) {
		return Directory{}, eauerr.Wrapf(eauerr.Malformed, "directory addresses/indices length mismatch")
	}
	return Directory{Addresses: addrs, Indices: idxs}, nil
}

// Put stores Value at Key on the recipient, which must be Key.Home.
type Put struct {
	ID    uint64
	Key   key.Key
	Value *codec.Node
}

func (m Put) ToNode() *codec.Node {
	return codec.NewObject(codec.TagPut,
		codec.F("id", codec.RawUint(m.ID)),
		codec.F("key", m.Key.ToNode()),
		codec.F("value", m.Value),
	)
}

func putFromNode(n *codec.Node) (Put, error) {
	idNode, err := n.RequireField("id")
	if err != nil {
		return Put{}, err
	}
	id, err := idNode.Uint()
	if err != nil {
		return Put{}, err
	}
	keyNode, err := n.RequireField("key")
	if err != nil {
		return Put{}, err
	}
	k, err := key.FromNode(keyNode)
	if err != nil {
		return Put{}, err
	}
	val, err := n.RequireField("value")
	if err != nil {
		return Put{}, err
	}
	return Put{ID: id, Key: k, Value: val}, nil
}

// Ack completes a Put.
type Ack struct {
	ID uint64
}

func (m Ack) ToNode() *codec.Node {
	return codec.NewObject(codec.TagAck, codec.F("id", codec.RawUint(m.ID)))
}

func ackFromNode(n *codec.Node) (Ack, error) {
	idNode, err := n.RequireField("id")
	if err != nil {
		return Ack{}, err
	}
	id, err := idNode.Uint()
	if err != nil {
		return Ack{}, err
	}
	return Ack{ID: id}, nil
}

// Get retrieves the value at Key.
type Get struct {
	ID  uint64
	Key key.Key
}

func (m Get) ToNode() *codec.Node {
	return codec.NewObject(codec.TagGet,
		codec.F("id", codec.RawUint(m.ID)),
		codec.F("key", m.Key.ToNode()),
	)
}

func getFromNode(n *codec.Node) (Get, error) {
	idNode, err := n.RequireField("id")
	if err != nil {
		return Get{}, err
	}
	id, err := idNode.Uint()
	if err != nil {
		return Get{}, err
	}
	keyNode, err := n.RequireField("key")
	if err != nil {
		return Get{}, err
	}
	k, err := key.FromNode(keyNode)
	if err != nil {
		return Get{}, err
	}
	return Get{ID: id, Key: k}, nil
}

// WaitGet is like Get but the home node blocks until the key is present.
type WaitGet struct {
	ID  uint64
	Key key.Key
}

func (m WaitGet) ToNode() *codec.Node {
	return codec.NewObject(codec.TagWaitGet,
		codec.F("id", codec.RawUint(m.ID)),
		codec.F("key", m.Key.ToNode()),
	)
}

func waitGetFromNode(n *codec.Node) (WaitGet, error) {
	idNode, err := n.RequireField("id")
	if err != nil {
		return WaitGet{}, err
	}
	id, err := idNode.Uint()
	if err != nil {
		return WaitGet{}, err
	}
	keyNode, err := n.RequireField("key")
	if err != nil {
		return WaitGet{}, err
	}
	k, err := key.FromNode(keyNode)
	if err != nil {
		return WaitGet{}, err
	}
	return WaitGet{ID: id, Key: k}, nil
}

// Reply answers a Get or WaitGet. Request records which kind of request
// this answers, for implementations that want it; ID is what eau2 actually
// correlates on. Found is false when the requested key could not be read on
// the home node (for a Get, because it was absent; for a WaitGet, only if
// the read after the key appeared failed), in which case Value is nil and the field is omitted on the
// wire -- the caller must surface this as KeyNotFound rather than block
// forever or dereference a nil value (§4.E/§7).
type Reply struct {
	ID      uint64
	Request codec.Tag // TagGet or TagWaitGet
	Found   bool
	Value   *codec.Node
}

func (m Reply) ToNode() *codec.Node {
	fields := []codec.Field{
		codec.F("id", codec.RawUint(m.ID)),
		codec.F("request", codec.RawString(string(m.Request))),
		codec.F("found", codec.RawBool(m.Found)),
	}
	if m.Found {
		fields = append(fields, codec.F("value", m.Value))
	}
	return codec.NewObject(codec.TagReply, fields...)
}

func replyFromNode(n *codec.Node) (Reply, error) {
	idNode, err := n.RequireField("id")
	if err != nil {
		return Reply{}, err
	}
	id, err := idNode.Uint()
	if err != nil {
		return Reply{}, err
	}
	reqNode, err := n.RequireField("request")
	if err != nil {
		return Reply{}, err
	}
	reqStr, err := reqNode.Str()
	if err != nil {
		return Reply{}, err
	}
	foundNode, err := n.RequireField("found")
	if err != nil {
		return Reply{}, err
	}
	found, err := foundNode.Bool()
	if err != nil {
		return Reply{}, err
	}
	var val *codec.Node
	if found {
		val, err = n.RequireField("value")
		if err != nil {
			return Reply{}, err
		}
	}
	return Reply{ID: id, Request: codec.Tag(reqStr), Found: found, Value: val}, nil
}

// Message is the decoded form of one frame: exactly one of the typed
// fields is non-nil, selected by Tag.
type Message struct {
	Tag       codec.Tag
	Register  *Register
	Directory *Directory
	Put       *Put
	Ack       *Ack
	Get       *Get
	WaitGet   *WaitGet
	Reply     *Reply
}

// Encode serializes whichever single message is carried.
func Encode(m Message) []byte {
	var n *codec.Node
	switch m.Tag {
	case codec.TagRegister:
		n = m.Register.ToNode()
	case codec.TagDirectory:
		n = m.Directory.ToNode()
	case codec.TagPut:
		n = m.Put.ToNode()
	case codec.TagAck:
		n = m.Ack.ToNode()
	case codec.TagGet:
		n = m.Get.ToNode()
	case codec.TagWaitGet:
		n = m.WaitGet.ToNode()
	case codec.TagReply:
		n = m.Reply.ToNode()
	}
	return codec.Encode(n)
}

// Decode parses a single frame into a Message, dispatching on its tag.
func Decode(data []byte) (Message, error) {
	n, err := codec.Decode(data)
	if err != nil {
		return Message{}, err
	}
	if n.IsVector() || n.IsRaw() {
		return Message{}, eauerr.Wrapf(eauerr.Malformed, "top-level message must be an object")
	}
	switch n.Tag() {
	case codec.TagRegister:
		r, err := registerFromNode(n)
		if err != nil {
			return Message{}, err
		}
		return Message{Tag: codec.TagRegister, Register: &r}, nil
	case codec.TagDirectory:
		d, err := directoryFromNode(n)
		if err != nil {
			return Message{}, err
		}
		return Message{Tag: codec.TagDirectory, Directory: &d}, nil
	case codec.TagPut:
		p, err := putFromNode(n)
		if err != nil {
			return Message{}, err
		}
		return Message{Tag: codec.TagPut, Put: &p}, nil
	case codec.TagAck:
		a, err := ackFromNode(n)
		if err != nil {
			return Message{}, err
		}
		return Message{Tag: codec.TagAck, Ack: &a}, nil
	case codec.TagGet:
		g, err := getFromNode(n)
		if err != nil {
			return Message{}, err
		}
		return Message{Tag: codec.TagGet, Get: &g}, nil
	case codec.TagWaitGet:
		w, err := waitGetFromNode(n)
		if err != nil {
			return Message{}, err
		}
		return Message{Tag: codec.TagWaitGet, WaitGet: &w}, nil
	case codec.TagReply:
		r, err := replyFromNode(n)
		if err != nil {
			return Message{}, err
		}
		return Message{Tag: codec.TagReply, Reply: &r}, nil
	default:
		return Message{}, eauerr.Wrapf(eauerr.Malformed, "unknown message tag %q", n.Tag())
	}
}
