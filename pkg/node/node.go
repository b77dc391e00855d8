// Package node wires together one eau2 process's subsystems -- store,
// directory, transport, and KV shard -- and drives the Register/Directory
// bootstrap handshake (§4.D) that gets a fresh node from "just started"
// to "connected to every peer it knows about". The lifecycle has the shape
// New/Start/Stop/Wait, with a running flag under a mutex.
package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eau2/eau2/pkg/codec"
	"github.com/eau2/eau2/pkg/column"
	"github.com/eau2/eau2/pkg/config"
	"github.com/eau2/eau2/pkg/dataframe"
	"github.com/eau2/eau2/pkg/directory"
	"github.com/eau2/eau2/pkg/eauerr"
	"github.com/eau2/eau2/pkg/kv"
	"github.com/eau2/eau2/pkg/log"
	"github.com/eau2/eau2/pkg/metrics"
	"github.com/eau2/eau2/pkg/store"
	"github.com/eau2/eau2/pkg/transport"
	"github.com/eau2/eau2/pkg/wire"
)

// Node owns one eau2 process's full subsystem stack.
type Node struct {
	cfg     config.ClusterConfig
	logger  *log.Logger
	metrics *metrics.Collector

	store     *store.Store
	directory *directory.Directory
	transport *transport.Transport
	shard     *kv.Shard

	mu      sync.Mutex
	running bool
	stopped chan struct{}
}

// New validates cfg and assembles a Node's subsystems. It does not open
// any sockets; call Start for that.
func New(cfg config.ClusterConfig, logger *log.Logger) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := metrics.NewCollector(cfg.Index)
	st := store.New()
	dir := directory.New(cfg.Index, cfg.DirectorySettings(), logger)

	n := &Node{
		cfg:       cfg,
		logger:    logger.Component("node"),
		metrics:   m,
		store:     st,
		directory: dir,
		stopped:   make(chan struct{}),
	}
	n.transport = transport.New(cfg.Index, logger, m, n.dispatch)
	n.shard = kv.New(cfg.Index, st, n.transport, dir, m, logger)
	return n, nil
}

// Shard returns the node's KV shard, the entry point dataframes build on.
func (n *Node) Shard() *kv.Shard { return n.shard }

// Metrics returns the node's Prometheus collector.
func (n *Node) Metrics() *metrics.Collector { return n.metrics }

// columnOpts builds the column.Options every dataframe this node creates
// should share, currently just the optional larger chunk cache sized by
// the node's configured CacheBytes (§4.F; 0 disables it).
func (n *Node) columnOpts() []column.Option {
	if n.cfg.CacheBytes <= 0 {
		return nil
	}
	return []column.Option{column.WithCache(n.cfg.CacheBytes)}
}

// NewDataframe creates an empty, open Dataframe backed by this node's KV
// shard, distributing chunks across the whole N-node cluster and sharing
// the node's configured chunk cache (§4.F/§4.G).
func (n *Node) NewDataframe(name string) *dataframe.Dataframe {
	return dataframe.NewBuilder(name, n.cfg.N, n.shard, n.metrics, n.columnOpts()...)
}

// DataframeFromNode reconstructs a sealed Dataframe previously serialized
// with Dataframe.ToNode, wired to this node's KV shard and chunk cache.
func (n *Node) DataframeFromNode(dn *codec.Node) (*dataframe.Dataframe, error) {
	return dataframe.FromNode(dn, n.cfg.N, n.shard, n.metrics, n.columnOpts()...)
}

// Index returns this node's cluster index.
func (n *Node) Index() uint64 { return n.cfg.Index }

// Running reports whether Start has completed and Stop has not yet run.
func (n *Node) Running() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.running
}

// Start binds the listener and, for every node but the rendezvous itself,
// registers with it and waits RegistrationSettle for the resulting
// Directory reply to produce outbound connections to the rest of the
// cluster (§4.D).
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return eauerr.Wrapf(eauerr.Malformed, "node already running")
	}
	n.mu.Unlock()

	if err := n.transport.Listen(n.cfg.ListenAddr); err != nil {
		return err
	}
	n.logger.Info("listening", "addr", n.cfg.ListenAddr, "index", n.cfg.Index)

	if n.cfg.Index != 0 {
		if err := n.joinViaRendezvous(ctx); err != nil {
			return err
		}
	}

	n.mu.Lock()
	n.running = true
	n.mu.Unlock()
	return nil
}

func (n *Node) joinViaRendezvous(ctx context.Context) error {
	// Retry the dial, paced by the directory's dial limiter, until node 0
	// accepts or ctx ends, so a node may be started before the rendezvous.
	for {
		if err := n.directory.WaitForDialSlot(ctx); err != nil {
			return err
		}
		err := n.transport.Dial(0, n.cfg.RendezvousAddr)
		if err == nil {
			break
		}
		n.logger.Warn("rendezvous dial failed, retrying", "addr", n.cfg.RendezvousAddr, "err", err)
	}
	n.directory.MarkDialed(0)
	if err := n.transport.SendTo(0, wire.Message{
		Tag:      codec.TagRegister,
		Register: &wire.Register{Address: n.cfg.ListenAddr, Sender: n.cfg.Index},
	}); err != nil {
		return err
	}

	settle := n.cfg.DirectorySettings().RegistrationSettle
	select {
	case <-time.After(settle):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// dispatch is the Transport.Handler: it intercepts the bootstrap messages
// (Register, Directory) itself and forwards everything else to the KV
// shard, per kv.Shard.Dispatch's documented split of responsibilities.
func (n *Node) dispatch(from uint64, m wire.Message) {
	switch m.Tag {
	case codec.TagRegister:
		n.handleRegister(from, m.Register)
	case codec.TagDirectory:
		n.handleDirectory(m.Directory)
	default:
		n.shard.Dispatch(from, m)
	}
}

// handleRegister runs on the rendezvous node: record the new peer, then
// answer with a Directory snapshot of everyone known so far (§4.D).
func (n *Node) handleRegister(from uint64, r *wire.Register) {
	n.directory.Register(r.Sender, r.Address)
	addrs := n.directory.Addresses()
	dirMsg := wire.Directory{
		Addresses: make([]string, 0, len(addrs)),
		Indices:   make([]uint64, 0, len(addrs)),
	}
	for idx, addr := range addrs {
		dirMsg.Addresses = append(dirMsg.Addresses, addr)
		dirMsg.Indices = append(dirMsg.Indices, idx)
	}
	if err := n.transport.SendTo(from, wire.Message{Tag: codec.TagDirectory, Directory: &dirMsg}); err != nil {
		n.logger.Warn("failed to reply with directory", "to", from, "err", err)
	}
}

// handleDirectory runs on every joining node: learn every peer's address
// and dial any not yet connected (§4.D).
func (n *Node) handleDirectory(d *wire.Directory) {
	for i, addr := range d.Addresses {
		idx := d.Indices[i]
		if idx == n.cfg.Index {
			continue
		}
		n.directory.Register(idx, addr)
		if n.directory.HasDialed(idx) {
			continue
		}
		n.directory.MarkDialed(idx)
		go n.connectPeer(idx, addr)
	}
}

func (n *Node) connectPeer(idx uint64, addr string) {
	if err := n.directory.WaitForDialSlot(context.Background()); err != nil {
		return
	}
	if err := n.transport.Dial(idx, addr); err != nil {
		n.logger.Warn("dial failed", "peer", idx, "addr", addr, "err", err)
		return
	}
	if err := n.transport.SendTo(idx, wire.Message{
		Tag:      codec.TagRegister,
		Register: &wire.Register{Address: n.cfg.ListenAddr, Sender: n.cfg.Index},
	}); err != nil {
		n.logger.Warn("peer announce failed", "peer", idx, "err", err)
	}
}

// Stop tears down the transport and releases everything Start opened.
func (n *Node) Stop() error {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return nil
	}
	n.running = false
	n.mu.Unlock()

	err := n.transport.Close()
	close(n.stopped)
	return err
}

// Wait blocks until Stop has been called.
func (n *Node) Wait() {
	<-n.stopped
}

func (n *Node) String() string {
	return fmt.Sprintf("node(index=%d, addr=%s)", n.cfg.Index, n.cfg.ListenAddr)
}
