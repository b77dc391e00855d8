package wire

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eau2/eau2/pkg/codec"
	"github.com/eau2/eau2/pkg/key"
)

func TestRegisterRoundTrip(t *testing.T) {
	m := Message{Tag: codec.TagRegister, Register: &Register{Address: "127.0.0.2:9000", Sender: 2}}
	got, err := Decode(Encode(m))
	require.NoError(t, err)
	require.Equal(t, codec.TagRegister, got.Tag)
	require.Equal(t, *m.Register, *got.Register)
}

func TestDirectoryRoundTrip(t *testing.T) {
	m := Message{Tag: codec.TagDirectory, Directory: &Directory{
		Addresses: []string{"127.0.0.1:9000", "127.0.0.2:9000"},
		Indices:   []uint64{0, 1},
	}}
	got, err := Decode(Encode(m))
	require.NoError(t, err)
	require.Equal(t, *m.Directory, *got.Directory)
}

func TestDirectoryRoundTripEmpty(t *testing.T) {
	m := Message{Tag: codec.TagDirectory, Directory: &Directory{}}
	got, err := Decode(Encode(m))
	require.NoError(t, err)
	require.Empty(t, got.Directory.Addresses)
	require.Empty(t, got.Directory.Indices)
}

func TestPutRoundTrip(t *testing.T) {
	k := key.New("df-1-col-0-chunk-3", 3)
	m := Message{Tag: codec.TagPut, Put: &Put{ID: 77, Key: k, Value: codec.RawInt(42)}}
	got, err := Decode(Encode(m))
	require.NoError(t, err)
	require.Equal(t, uint64(77), got.Put.ID)
	require.True(t, k.Equal(got.Put.Key))
	v, err := got.Put.Value.Int()
	require.NoError(t, err)
	require.Equal(t, int64(42), v)
}

func TestPutRoundTripWithNestedObjectValue(t *testing.T) {
	k := key.New("df-1-col-0-chunk-3", 3)
	chunk := codec.NewObject(codec.TagChunk,
		codec.F("values", codec.NewVector(codec.RawInt(1), codec.RawInt(2))),
	)
	m := Message{Tag: codec.TagPut, Put: &Put{ID: 1, Key: k, Value: chunk}}
	got, err := Decode(Encode(m))
	require.NoError(t, err)
	require.Equal(t, codec.TagChunk, got.Put.Value.Tag())
	vals, err := got.Put.Value.RequireField("values")
	require.NoError(t, err)
	require.Len(t, vals.Elems(), 2)
}

func TestAckRoundTrip(t *testing.T) {
	m := Message{Tag: codec.TagAck, Ack: &Ack{ID: 9}}
	got, err := Decode(Encode(m))
	require.NoError(t, err)
	require.Equal(t, uint64(9), got.Ack.ID)
}

func TestGetRoundTrip(t *testing.T) {
	k := key.New("k", 0)
	m := Message{Tag: codec.TagGet, Get: &Get{ID: 5, Key: k}}
	got, err := Decode(Encode(m))
	require.NoError(t, err)
	require.Equal(t, uint64(5), got.Get.ID)
	require.True(t, k.Equal(got.Get.Key))
}

func TestWaitGetRoundTrip(t *testing.T) {
	k := key.New("k", 0)
	m := Message{Tag: codec.TagWaitGet, WaitGet: &WaitGet{ID: 6, Key: k}}
	got, err := Decode(Encode(m))
	require.NoError(t, err)
	require.Equal(t, uint64(6), got.WaitGet.ID)
	require.True(t, k.Equal(got.WaitGet.Key))
}

func TestReplyRoundTrip(t *testing.T) {
	m := Message{Tag: codec.TagReply, Reply: &Reply{ID: 8, Request: codec.TagGet, Found: true, Value: codec.RawString("hi")}}
	got, err := Decode(Encode(m))
	require.NoError(t, err)
	require.Equal(t, uint64(8), got.Reply.ID)
	require.Equal(t, codec.TagGet, got.Reply.Request)
	require.True(t, got.Reply.Found)
	s, err := got.Reply.Value.Str()
	require.NoError(t, err)
	require.Equal(t, "hi", s)
}

func TestReplyRoundTripNotFound(t *testing.T) {
	m := Message{Tag: codec.TagReply, Reply: &Reply{ID: 8, Request: codec.TagGet, Found: false}}
	got, err := Decode(Encode(m))
	require.NoError(t, err)
	require.Equal(t, uint64(8), got.Reply.ID)
	require.False(t, got.Reply.Found)
	require.Nil(t, got.Reply.Value)
}

func TestDecodeUnknownTag(t *testing.T) {
	_, err := Decode(codec.Encode(codec.NewObject(codec.Tag("bogus"))))
	require.Error(t, err)
}

func TestDecodeTopLevelVectorRejected(t *testing.T) {
	_, err := Decode(codec.Encode(codec.NewVector(codec.RawInt(1))))
	require.Error(t, err)
}
