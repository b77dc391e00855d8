// Package column implements eau2's chunked distributed column (§4.F): a
// column is built by appending cells one at a time (open state), and once
// Seal is called it becomes a fixed, randomly-addressable sequence of
// ChunkSize-cell chunks, each stored as its own KV entry and distributed
// across the cluster by a deterministic hash of its chunk key -- the
// generalization of the original dist_vector.h's self-home placement
// (§4's "chunk distribution" Open Question, resolved here in favor of
// xxhash-based placement so a column's chunks spread across every node
// instead of piling up on whichever node happened to build it).
package column

import (
	"context"
	"fmt"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/cespare/xxhash/v2"

	"github.com/eau2/eau2/pkg/cell"
	"github.com/eau2/eau2/pkg/codec"
	"github.com/eau2/eau2/pkg/eauerr"
	"github.com/eau2/eau2/pkg/key"
	"github.com/eau2/eau2/pkg/metrics"
)

// ChunkSize is the fixed number of cells per chunk (§3).
const ChunkSize = 1024

// Store is the subset of *kv.Shard a column needs: put/get addressed by
// Key. Defined here (rather than imported from pkg/kv) so pkg/column does
// not depend on pkg/transport or pkg/directory transitively.
type Store interface {
	Put(ctx context.Context, k key.Key, v *codec.Node) error
	Get(ctx context.Context, k key.Key) (*codec.Node, error)
}

// Column is one chunked, distributed column of a dataframe. It starts
// open (append-only) and becomes sealed (randomly readable, immutable)
// exactly once, matching the spec's chunk lifecycle.
type Column struct {
	mu       sync.Mutex
	name     string
	typ      cell.Type
	numNodes uint64
	kv       Store
	metrics  *metrics.Collector

	sealed    bool
	length    int
	chunkKeys []key.Key
	openBuf   []cell.Cell

	cacheMu    sync.Mutex
	cacheIdx   int
	cacheCells []cell.Cell
	cacheValid bool

	big *fastcache.Cache
}

// Option configures optional behavior at construction time.
type Option func(*Column)

// WithCache attaches a larger, byte-budgeted LRU-ish cache (fastcache)
// that is consulted when the single-chunk cache misses, useful for
// columns read in scattered, non-sequential order.
func WithCache(maxBytes int) Option {
	return func(c *Column) {
		c.big = fastcache.New(maxBytes)
	}
}

// New creates an open Column named name (must be unique within its
// dataframe) of the given cell type, distributing its chunks across
// numNodes nodes.
func New(name string, typ cell.Type, numNodes uint64, kv Store, m *metrics.Collector, opts ...Option) *Column {
	c := &Column{
		name:     name,
		typ:      typ,
		numNodes: numNodes,
		kv:       kv,
		metrics:  m,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FromChunkKeys reconstructs an already-sealed Column from a chunk-key
// list previously obtained via ChunkKeys -- this is how a deserialized
// Dataframe gets its columns back without re-fetching or re-storing a
// single chunk (§4.F/§4.G: a dataframe persists only key lists).
func FromChunkKeys(name string, typ cell.Type, numNodes uint64, kv Store, m *metrics.Collector, chunkKeys []key.Key, length int, opts ...Option) *Column {
	c := New(name, typ, numNodes, kv, m, opts...)
	c.chunkKeys = append([]key.Key(nil), chunkKeys...)
	c.length = length
	c.sealed = true
	return c
}

// Name returns the column's key prefix.
func (c *Column) Name() string { return c.name }

// Type returns the column's cell type.
func (c *Column) Type() cell.Type { return c.typ }

// Len returns the number of cells appended so far (valid while open) or
// the final row count (once sealed).
func (c *Column) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.length
}

// Sealed reports whether the column has been sealed.
func (c *Column) Sealed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sealed
}

// ChunkKeys returns a copy of the sealed column's chunk keys, in order --
// this is what a Dataframe persists as its own metadata, per §4.F/§4.G:
// a dataframe never re-serializes cell data, only the key lists pointing
// at already-stored chunks.
func (c *Column) ChunkKeys() []key.Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]key.Key, len(c.chunkKeys))
	copy(out, c.chunkKeys)
	return out
}

// Append adds v to the column, which must not yet be sealed. Flushes a
// full chunk to the KV fabric as soon as ChunkSize cells accumulate.
func (c *Column) Append(ctx context.Context, v cell.Cell) error {
	c.mu.Lock()
	if c.sealed {
		c.mu.Unlock()
		return eauerr.Wrapf(eauerr.Sealed, "column %q", c.name)
	}
	c.openBuf = append(c.openBuf, v)
	c.length++
	var flush []cell.Cell
	idx := -1
	if len(c.openBuf) == ChunkSize {
		flush = c.openBuf
		idx = len(c.chunkKeys)
		c.openBuf = nil
	}
	c.mu.Unlock()
	if flush != nil {
		return c.flushChunk(ctx, idx, flush)
	}
	return nil
}

// Seal flushes any partial final chunk and makes the column immutable and
// readable by index.
func (c *Column) Seal(ctx context.Context) error {
	c.mu.Lock()
	if c.sealed {
		c.mu.Unlock()
		return nil
	}
	var flush []cell.Cell
	idx := len(c.chunkKeys)
	if len(c.openBuf) > 0 {
		flush = c.openBuf
		c.openBuf = nil
	}
	c.sealed = true
	c.mu.Unlock()
	if flush != nil {
		return c.flushChunk(ctx, idx, flush)
	}
	return nil
}

func (c *Column) flushChunk(ctx context.Context, idx int, cells []cell.Cell) error {
	k := c.chunkKeyFor(idx)
	node := chunkToNode(c.typ, cells)
	if err := c.kv.Put(ctx, k, node); err != nil {
		return err
	}
	c.mu.Lock()
	// Another flush may have raced ahead only if callers append/seal
	// concurrently on the same column, which the spec does not require;
	// appending in index order keeps chunkKeys aligned with chunk index.
	for len(c.chunkKeys) <= idx {
		c.chunkKeys = append(c.chunkKeys, key.Key{})
	}
	c.chunkKeys[idx] = k
	c.mu.Unlock()
	c.setCache(idx, cells)
	return nil
}

// chunkKeyFor derives chunk idx's key, distributing its home node by
// hashing the column name and chunk index (rather than always the
// building node's own index, as in the original).
func (c *Column) chunkKeyFor(idx int) key.Key {
	name := fmt.Sprintf("%s/chunk/%d", c.name, idx)
	home := xxhash.Sum64String(name) % c.numNodes
	return key.New(name, home)
}

// Get returns the cell at row i of a sealed column.
func (c *Column) Get(ctx context.Context, i int) (cell.Cell, error) {
	c.mu.Lock()
	sealed := c.sealed
	length := c.length
	c.mu.Unlock()
	if !sealed {
		return cell.Cell{}, eauerr.Wrapf(eauerr.NotSealed, "column %q", c.name)
	}
	if i < 0 || i >= length {
		return cell.Cell{}, eauerr.Wrapf(eauerr.OutOfBounds, "index %d of %d", i, length)
	}
	chunkIdx := i / ChunkSize
	offset := i % ChunkSize
	cells, err := c.chunk(ctx, chunkIdx)
	if err != nil {
		return cell.Cell{}, err
	}
	if offset >= len(cells) {
		return cell.Cell{}, eauerr.Wrapf(eauerr.OutOfBounds, "index %d of %d", i, length)
	}
	return cells[offset], nil
}

func (c *Column) chunk(ctx context.Context, idx int) ([]cell.Cell, error) {
	if cells, ok := c.getCache(idx); ok {
		if c.metrics != nil {
			c.metrics.ChunkHits.Inc()
		}
		return cells, nil
	}
	if c.metrics != nil {
		c.metrics.ChunkMisses.Inc()
	}
	c.mu.Lock()
	k := c.chunkKeys[idx]
	c.mu.Unlock()
	node, err := c.kv.Get(ctx, k)
	if err != nil {
		return nil, err
	}
	_, cells, err := chunkFromNode(node)
	if err != nil {
		return nil, err
	}
	c.setCache(idx, cells)
	return cells, nil
}

func (c *Column) getCache(idx int) ([]cell.Cell, bool) {
	c.cacheMu.Lock()
	if c.cacheValid && c.cacheIdx == idx {
		cells := c.cacheCells
		c.cacheMu.Unlock()
		return cells, true
	}
	c.cacheMu.Unlock()
	if c.big == nil {
		return nil, false
	}
	data := c.big.Get(nil, []byte(fmt.Sprintf("%s/%d", c.name, idx)))
	if data == nil {
		return nil, false
	}
	node, err := codec.Decode(data)
	if err != nil {
		return nil, false
	}
	_, cells, err := chunkFromNode(node)
	if err != nil {
		return nil, false
	}
	return cells, true
}

func (c *Column) setCache(idx int, cells []cell.Cell) {
	c.cacheMu.Lock()
	c.cacheIdx = idx
	c.cacheCells = cells
	c.cacheValid = true
	c.cacheMu.Unlock()
	if c.big != nil {
		c.big.Set([]byte(fmt.Sprintf("%s/%d", c.name, idx)), codec.Encode(chunkToNode(c.typ, cells)))
	}
}

func chunkToNode(t cell.Type, cells []cell.Cell) *codec.Node {
	elems := make([]*codec.Node, len(cells))
	for i, cl := range cells {
		elems[i] = cl.ToNode()
	}
	return codec.NewObject(codec.TagChunk,
		codec.F("celltype", codec.RawString(t.String())),
		codec.F("values", codec.NewVector(elems...)),
	)
}

func chunkFromNode(n *codec.Node) (cell.Type, []cell.Cell, error) {
	if err := n.RequireTag(codec.TagChunk); err != nil {
		return 0, nil, err
	}
	typNode, err := n.RequireField("celltype")
	if err != nil {
		return 0, nil, err
	}
	typStr, err := typNode.Str()
	if err != nil {
		return 0, nil, err
	}
	if len(typStr) != 1 || !cell.Type(typStr[0]).Valid() {
		return 0, nil, eauerr.Wrapf(eauerr.Malformed, "invalid chunk celltype %q", typStr)
	}
	t := cell.Type(typStr[0])
	valsNode, err := n.RequireField("values")
	if err != nil {
		return 0, nil, err
	}
	if !valsNode.IsVector() {
		return 0, nil, eauerr.Wrapf(eauerr.Malformed, "chunk values must be a vector")
	}
	cells := make([]cell.Cell, len(valsNode.Elems()))
	for i, e := range valsNode.Elems() {
		cl, err := cell.FromNode(t, e)
		if err != nil {
			return 0, nil, err
		}
		cells[i] = cl
	}
	return t, cells, nil
}
