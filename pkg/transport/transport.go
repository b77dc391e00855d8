// Package transport implements eau2's peer-to-peer networking layer
// (§4.C): each node listens for inbound connections, maintains one
// outbound connection per known peer, and frames every Codec-encoded
// message with a length prefix so TCP's byte stream can be split back into
// discrete messages (the Codec format itself is self-delimiting via braces,
// but a length prefix lets the receiver size its read buffer up front and
// reject oversized frames before fully reading them).
package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/eau2/eau2/pkg/codec"
	"github.com/eau2/eau2/pkg/eauerr"
	"github.com/eau2/eau2/pkg/log"
	"github.com/eau2/eau2/pkg/metrics"
	"github.com/eau2/eau2/pkg/wire"
)

// MaxFrameSize bounds a single message's wire size; larger frames are
// rejected with FrameTooLarge and only the offending connection is torn
// down (§7's transport-local error class).
const MaxFrameSize = 64 << 20 // 64 MiB, comfortably above a 1024-cell chunk

// Handler is invoked for every message this node receives. Messages read
// by a connection's read loop each get their own goroutine so a slow
// handler (e.g. a WaitAndGet poll) never blocks that loop; the first frame
// of an inbound connection (its Register) is handled synchronously before
// the read loop starts.
type Handler func(from uint64, m wire.Message)

// Transport owns one listener and a table of peer connections, keyed by
// node index. It never interprets message contents beyond their Tag: all
// KV/dataframe semantics live in pkg/kv and above.
type Transport struct {
	self    uint64
	logger  *log.Logger
	metrics *metrics.Collector
	handler Handler

	mu    sync.RWMutex
	conns map[uint64]*connection

	listener net.Listener
	group    *errgroup.Group
	ctx      context.Context
	cancel   context.CancelFunc
}

type connection struct {
	peer uint64
	conn net.Conn
	w    *bufio.Writer
	wmu  sync.Mutex
}

// New creates a Transport for node self. Call Listen to start accepting
// connections and Dial to establish outbound ones; messages arrive via
// handler.
func New(self uint64, logger *log.Logger, m *metrics.Collector, handler Handler) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	return &Transport{
		self:    self,
		logger:  logger.Component("transport"),
		metrics: m,
		handler: handler,
		conns:   make(map[uint64]*connection),
		group:   g,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Listen binds addr and spawns the accept loop under the transport's
// errgroup. The actual peer index of each inbound connection is learned
// from the first message it sends (a Register), not from the TCP
// handshake, since a listener accepts from anyone.
func (t *Transport) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return eauerr.Wrapf(err, "listen %s", addr)
	}
	t.listener = ln
	t.group.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-t.ctx.Done():
					return nil
				default:
					return eauerr.Wrapf(err, "accept on %s", addr)
				}
			}
			t.group.Go(func() error {
				t.serve(conn)
				return nil
			})
		}
	})
	return nil
}

// Dial opens an outbound connection to peer at addr and begins reading
// messages from it, attributing them to peer regardless of what (if
// anything) it sends back about its own identity.
func (t *Transport) Dial(peer uint64, addr string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return eauerr.Wrapf(err, "dial peer %d at %s", peer, addr)
	}
	t.register(peer, conn)
	t.group.Go(func() error {
		t.readLoop(peer, conn)
		return nil
	})
	return nil
}

// serve handles an inbound connection whose peer index is not yet known;
// it is learned from the first frame, which by protocol convention is
// always a Register.
func (t *Transport) serve(conn net.Conn) {
	data, err := readFrame(conn)
	if err != nil {
		t.logger.Warn("dropping connection before handshake", "err", err)
		conn.Close()
		return
	}
	m, err := wire.Decode(data)
	if err != nil || m.Tag != codec.TagRegister {
		t.logger.Warn("first frame was not a register", "err", err)
		conn.Close()
		return
	}
	peer := m.Register.Sender
	t.register(peer, conn)
	t.handler(peer, m)
	t.readLoop(peer, conn)
}

// register installs or replaces the connection this node uses to reach
// peer. A later connection (e.g. a fresh Dial after a Directory update)
// wins over an earlier one.
func (t *Transport) register(peer uint64, conn net.Conn) {
	t.mu.Lock()
	t.conns[peer] = &connection{peer: peer, conn: conn, w: bufio.NewWriter(conn)}
	t.mu.Unlock()
	if t.metrics != nil {
		t.metrics.PeersUp.Set(float64(t.peerCount()))
	}
}

func (t *Transport) peerCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}

// readLoop drains frames from conn and dispatches each to the handler on
// its own goroutine, until the connection closes or sends an oversized
// frame -- both of which are transport-local errors (§7): only this
// connection is torn down, the node keeps running.
func (t *Transport) readLoop(peer uint64, conn net.Conn) {
	defer t.closePeer(peer)
	for {
		data, err := readFrame(conn)
		if err != nil {
			if err != io.EOF {
				t.logger.Warn("peer read failed", "peer", peer, "err", err)
			}
			return
		}
		if t.metrics != nil {
			t.metrics.DispatchWake.Inc()
		}
		m, err := wire.Decode(data)
		if err != nil {
			t.logger.Warn("dropping malformed frame", "peer", peer, "err", err)
			continue
		}
		go t.handler(peer, m)
	}
}

func (t *Transport) closePeer(peer uint64) {
	t.mu.Lock()
	c, ok := t.conns[peer]
	if ok {
		delete(t.conns, peer)
	}
	t.mu.Unlock()
	if ok {
		c.conn.Close()
	}
	if t.metrics != nil {
		t.metrics.PeersUp.Set(float64(t.peerCount()))
	}
}

// SendTo frames and writes m to peer's connection. Returns PeerUnknown if
// no connection to peer exists.
func (t *Transport) SendTo(peer uint64, m wire.Message) error {
	t.mu.RLock()
	c, ok := t.conns[peer]
	t.mu.RUnlock()
	if !ok {
		return eauerr.Wrapf(eauerr.PeerUnknown, "no connection to peer %d", peer)
	}
	return writeFrame(c, wire.Encode(m))
}

// Broadcast sends m to every currently connected peer, best-effort: a
// failure to one peer does not prevent delivery to the others.
func (t *Transport) Broadcast(m wire.Message) {
	t.mu.RLock()
	peers := make([]uint64, 0, len(t.conns))
	for p := range t.conns {
		peers = append(peers, p)
	}
	t.mu.RUnlock()
	data := wire.Encode(m)
	for _, p := range peers {
		t.mu.RLock()
		c, ok := t.conns[p]
		t.mu.RUnlock()
		if !ok {
			continue
		}
		if err := writeFrame(c, data); err != nil {
			t.logger.Warn("broadcast failed", "peer", p, "err", err)
		}
	}
}

// Connected reports whether this node currently has a live connection to peer.
func (t *Transport) Connected(peer uint64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.conns[peer]
	return ok
}

// Close tears down the listener and every connection, and waits for the
// read/accept goroutines under the transport's errgroup to exit.
func (t *Transport) Close() error {
	t.cancel()
	if t.listener != nil {
		t.listener.Close()
	}
	t.mu.Lock()
	for _, c := range t.conns {
		c.conn.Close()
	}
	t.conns = make(map[uint64]*connection)
	t.mu.Unlock()
	return t.group.Wait()
}

func writeFrame(c *connection, data []byte) error {
	if len(data) > MaxFrameSize {
		return eauerr.Wrapf(eauerr.FrameTooLarge, "frame of %d bytes exceeds %d", len(data), MaxFrameSize)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(data)))
	if _, err := c.w.Write(hdr[:]); err != nil {
		return eauerr.Wrapf(eauerr.TransportClosed, "write frame header: %v", err)
	}
	if _, err := c.w.Write(data); err != nil {
		return eauerr.Wrapf(eauerr.TransportClosed, "write frame body: %v", err)
	}
	return c.w.Flush()
}

func readFrame(conn net.Conn) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, eauerr.Wrapf(eauerr.FrameTooLarge, "frame header claims %d bytes", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
