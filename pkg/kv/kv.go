// Package kv implements the per-node KV shard (§4.E): put/get/wait_and_get
// routed to whichever node owns a key, transparently crossing the network
// when that owner is not this node. This is the module the rest of eau2
// (chunked columns, dataframes) is built on; nothing above this layer ever
// touches pkg/transport or pkg/directory directly.
package kv

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/eau2/eau2/pkg/codec"
	"github.com/eau2/eau2/pkg/directory"
	"github.com/eau2/eau2/pkg/eauerr"
	"github.com/eau2/eau2/pkg/key"
	"github.com/eau2/eau2/pkg/log"
	"github.com/eau2/eau2/pkg/metrics"
	"github.com/eau2/eau2/pkg/store"
	"github.com/eau2/eau2/pkg/wire"
)

// Sender is the subset of *transport.Transport the shard needs; letting
// tests substitute a fake keeps kv tests from opening real sockets.
type Sender interface {
	SendTo(peer uint64, m wire.Message) error
}

// Shard is one node's KV shard: its local store, plus routing to the rest
// of the cluster for keys it does not own.
type Shard struct {
	self      uint64
	store     *store.Store
	transport Sender
	dir       *directory.Directory
	metrics   *metrics.Collector
	logger    *log.Logger

	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan wire.Message

	notifyMu sync.Mutex
	notify   *sync.Cond
}

// New creates a Shard for node self.
func New(self uint64, st *store.Store, tr Sender, dir *directory.Directory, m *metrics.Collector, logger *log.Logger) *Shard {
	s := &Shard{
		self:      self,
		store:     st,
		transport: tr,
		dir:       dir,
		metrics:   m,
		logger:    logger.Component("kv"),
		pending:   make(map[uint64]chan wire.Message),
	}
	s.notify = sync.NewCond(&s.notifyMu)
	return s
}

func (s *Shard) nextCorrelationID() uint64 {
	return s.nextID.Add(1)
}

// Put stores value at k, routing to k.Home over the network if that is not
// this node, and blocking until the remote Ack arrives (§4.E).
func (s *Shard) Put(ctx context.Context, k key.Key, value *codec.Node) error {
	if k.Home == s.self {
		s.storeLocally(k, value)
		if s.metrics != nil {
			s.metrics.Puts.Inc()
		}
		return nil
	}
	id := s.nextCorrelationID()
	ch := s.await(id)
	defer s.forget(id)
	if err := s.transport.SendTo(k.Home, wire.Message{
		Tag: codec.TagPut,
		Put: &wire.Put{ID: id, Key: k, Value: value},
	}); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.Puts.Inc()
		s.metrics.RemoteCalls.Inc()
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Shard) storeLocally(k key.Key, value *codec.Node) {
	s.store.Put(k.Name, codec.Encode(value))
	s.notifyMu.Lock()
	s.notify.Broadcast()
	s.notifyMu.Unlock()
}

// Get returns the value at k without waiting for it to appear; KeyNotFound
// if it is not (yet) present. Routes to k.Home if remote.
func (s *Shard) Get(ctx context.Context, k key.Key) (*codec.Node, error) {
	if k.Home == s.self {
		if s.metrics != nil {
			s.metrics.Gets.Inc()
		}
		return s.getLocally(k)
	}
	if s.metrics != nil {
		s.metrics.Gets.Inc()
		s.metrics.RemoteCalls.Inc()
	}
	return s.remoteRequest(ctx, codec.TagGet, k)
}

func (s *Shard) getLocally(k key.Key) (*codec.Node, error) {
	raw, err := s.store.Get(k.Name)
	if err != nil {
		return nil, err
	}
	return codec.Decode(raw)
}

// WaitAndGet blocks until k's value is present, then returns it. Local
// keys are awaited on a condition variable that every local store
// broadcasts, re-checking this node's own store on each wake; remote keys send a
// WaitGet, which blocks on the home node's side, and this node simply
// waits for the eventual Reply.
func (s *Shard) WaitAndGet(ctx context.Context, k key.Key) (*codec.Node, error) {
	if s.metrics != nil {
		s.metrics.WaitAndGets.Inc()
	}
	if k.Home == s.self {
		if err := s.waitLocally(ctx, k.Name); err != nil {
			return nil, err
		}
		return s.getLocally(k)
	}
	if s.metrics != nil {
		s.metrics.RemoteCalls.Inc()
	}
	return s.remoteRequest(ctx, codec.TagWaitGet, k)
}

func (s *Shard) waitLocally(ctx context.Context, name string) error {
	done := make(chan struct{})
	go func() {
		s.notifyMu.Lock()
		for !s.store.Contains(name) {
			s.notify.Wait()
			select {
			case <-ctx.Done():
				s.notifyMu.Unlock()
				return
			default:
			}
		}
		s.notifyMu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// Wake the waiting goroutine so it can observe cancellation and
		// exit instead of blocking forever on a Put that never comes.
		s.notifyMu.Lock()
		s.notify.Broadcast()
		s.notifyMu.Unlock()
		return ctx.Err()
	}
}

func (s *Shard) remoteRequest(ctx context.Context, kind codec.Tag, k key.Key) (*codec.Node, error) {
	id := s.nextCorrelationID()
	ch := s.await(id)
	defer s.forget(id)

	var m wire.Message
	switch kind {
	case codec.TagGet:
		m = wire.Message{Tag: codec.TagGet, Get: &wire.Get{ID: id, Key: k}}
	case codec.TagWaitGet:
		m = wire.Message{Tag: codec.TagWaitGet, WaitGet: &wire.WaitGet{ID: id, Key: k}}
	default:
		return nil, eauerr.Wrapf(eauerr.Malformed, "remoteRequest: unsupported kind %q", kind)
	}
	if err := s.transport.SendTo(k.Home, m); err != nil {
		return nil, err
	}
	select {
	case reply := <-ch:
		if !reply.Reply.Found {
			return nil, eauerr.KeyNotFound
		}
		return reply.Reply.Value, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Shard) await(id uint64) chan wire.Message {
	ch := make(chan wire.Message, 1)
	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()
	return ch
}

func (s *Shard) forget(id uint64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *Shard) resolve(id uint64, m wire.Message) bool {
	s.mu.Lock()
	ch, ok := s.pending[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	ch <- m
	return true
}

// Dispatch is the Transport.Handler eau2 wires in: it interprets every
// inbound message against this shard's local store and pending-request
// table, spawning one goroutine per request so a slow WaitGet never
// blocks the connection's read loop (§4.C/§4.E).
func (s *Shard) Dispatch(from uint64, m wire.Message) {
	switch m.Tag {
	case codec.TagPut:
		go s.handlePut(from, m.Put)
	case codec.TagAck:
		s.resolve(m.Ack.ID, m)
	case codec.TagGet:
		go s.handleGet(from, m.Get)
	case codec.TagWaitGet:
		go s.handleWaitGet(from, m.WaitGet)
	case codec.TagReply:
		s.resolve(m.Reply.ID, m)
	case codec.TagRegister, codec.TagDirectory:
		// Handled by the directory bootstrap layer (pkg/kv's caller),
		// not the data plane; see pkg/node's dispatch.
	default:
		s.logger.Warn("dispatch: unhandled tag", "tag", m.Tag, "from", from)
	}
}

func (s *Shard) handlePut(from uint64, p *wire.Put) {
	if p.Key.Home != s.self {
		s.logger.Error("put delivered to wrong home", "key", p.Key.Name, "home", p.Key.Home, "self", s.self)
		return
	}
	s.storeLocally(p.Key, p.Value)
	if err := s.transport.SendTo(from, wire.Message{Tag: codec.TagAck, Ack: &wire.Ack{ID: p.ID}}); err != nil {
		s.logger.Warn("failed to ack put", "err", err)
	}
}

func (s *Shard) handleGet(from uint64, g *wire.Get) {
	if g.Key.Home != s.self {
		s.logger.Error("get delivered to wrong home", "key", g.Key.Name, "home", g.Key.Home, "self", s.self)
		return
	}
	val, err := s.getLocally(g.Key)
	if err != nil {
		s.logger.Warn("get for missing key", "key", g.Key.Name, "err", err)
		if err := s.transport.SendTo(from, wire.Message{
			Tag:   codec.TagReply,
			Reply: &wire.Reply{ID: g.ID, Request: codec.TagGet, Found: false},
		}); err != nil {
			s.logger.Warn("failed to reply not-found to get", "err", err)
		}
		return
	}
	if err := s.transport.SendTo(from, wire.Message{
		Tag:   codec.TagReply,
		Reply: &wire.Reply{ID: g.ID, Request: codec.TagGet, Found: true, Value: val},
	}); err != nil {
		s.logger.Warn("failed to reply to get", "err", err)
	}
}

func (s *Shard) handleWaitGet(from uint64, w *wire.WaitGet) {
	if w.Key.Home != s.self {
		s.logger.Error("wait_get delivered to wrong home", "key", w.Key.Name, "home", w.Key.Home, "self", s.self)
		return
	}
	if err := s.waitLocally(context.Background(), w.Key.Name); err != nil {
		return
	}
	val, err := s.getLocally(w.Key)
	if err != nil {
		s.logger.Warn("wait_get resolved but get failed", "key", w.Key.Name, "err", err)
		if err := s.transport.SendTo(from, wire.Message{
			Tag:   codec.TagReply,
			Reply: &wire.Reply{ID: w.ID, Request: codec.TagWaitGet, Found: false},
		}); err != nil {
			s.logger.Warn("failed to reply not-found to wait_get", "err", err)
		}
		return
	}
	if err := s.transport.SendTo(from, wire.Message{
		Tag:   codec.TagReply,
		Reply: &wire.Reply{ID: w.ID, Request: codec.TagWaitGet, Found: true, Value: val},
	}); err != nil {
		s.logger.Warn("failed to reply to wait_get", "err", err)
	}
}
