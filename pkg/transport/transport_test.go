package transport

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eau2/eau2/pkg/codec"
	"github.com/eau2/eau2/pkg/eauerr"
	"github.com/eau2/eau2/pkg/log"
	"github.com/eau2/eau2/pkg/wire"
)

func testLogger() *log.Logger { return log.New(slog.LevelError) }

type recorder struct {
	mu   sync.Mutex
	msgs []wire.Message
	from []uint64
}

func (r *recorder) handle(from uint64, m wire.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.from = append(r.from, from)
	r.msgs = append(r.msgs, m)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestHandshakeAndSendTo(t *testing.T) {
	serverRec := &recorder{}
	clientRec := &recorder{}

	server := New(0, testLogger(), nil, serverRec.handle)
	require.NoError(t, server.Listen("127.0.0.1:0"))
	addr := server.listener.Addr().String()
	defer server.Close()

	client := New(1, testLogger(), nil, clientRec.handle)
	defer client.Close()
	require.NoError(t, client.Dial(0, addr))

	// handshake: client announces itself
	require.NoError(t, client.SendTo(0, wire.Message{
		Tag:      codec.TagRegister,
		Register: &wire.Register{Address: "127.0.0.1:1", Sender: 1},
	}))

	waitFor(t, func() bool { return serverRec.count() == 1 })
	require.Equal(t, uint64(1), serverRec.from[0])
	require.Equal(t, codec.TagRegister, serverRec.msgs[0].Tag)

	// server now has a connection back to the client; send a reply
	require.NoError(t, server.SendTo(1, wire.Message{
		Tag: codec.TagAck,
		Ack: &wire.Ack{ID: 42},
	}))
	waitFor(t, func() bool { return clientRec.count() == 1 })
	require.Equal(t, uint64(42), clientRec.msgs[0].Ack.ID)
}

func TestSendToUnknownPeerIsPeerUnknown(t *testing.T) {
	tr := New(0, testLogger(), nil, func(uint64, wire.Message) {})
	defer tr.Close()
	err := tr.SendTo(5, wire.Message{Tag: codec.TagAck, Ack: &wire.Ack{ID: 1}})
	require.ErrorIs(t, err, eauerr.PeerUnknown)
}

func TestOversizedFrameIsRejectedOnSend(t *testing.T) {
	serverRec := &recorder{}
	server := New(0, testLogger(), nil, serverRec.handle)
	require.NoError(t, server.Listen("127.0.0.1:0"))
	addr := server.listener.Addr().String()
	defer server.Close()

	client := New(1, testLogger(), nil, func(uint64, wire.Message) {})
	defer client.Close()
	require.NoError(t, client.Dial(0, addr))

	huge := make([]byte, MaxFrameSize+1)
	for i := range huge {
		huge[i] = 'x'
	}
	err := client.SendTo(0, wire.Message{
		Tag:      codec.TagRegister,
		Register: &wire.Register{Address: string(huge), Sender: 1},
	})
	require.ErrorIs(t, err, eauerr.FrameTooLarge)
}

func TestConnectedReflectsPeerCount(t *testing.T) {
	server := New(0, testLogger(), nil, func(uint64, wire.Message) {})
	require.NoError(t, server.Listen("127.0.0.1:0"))
	addr := server.listener.Addr().String()
	defer server.Close()

	require.False(t, server.Connected(1))

	client := New(1, testLogger(), nil, func(uint64, wire.Message) {})
	defer client.Close()
	require.NoError(t, client.Dial(0, addr))
	require.True(t, client.Connected(0))
}
