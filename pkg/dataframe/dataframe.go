// Package dataframe implements the Dataframe facade over chunked
// distributed columns (§4.G): a named, ordered set of columns sharing a
// row count, built either row-at-a-time (AddColumn/AddRow) or from whole
// arrays (FromIntArray and friends), and serialized compactly -- only
// column metadata and chunk-key lists travel on the wire or into the
// store, never chunk contents a second time, since those already live in
// the KV fabric under their own keys.
package dataframe

import (
	"context"
	"fmt"
	"sync"

	"github.com/eau2/eau2/pkg/cell"
	"github.com/eau2/eau2/pkg/codec"
	"github.com/eau2/eau2/pkg/column"
	"github.com/eau2/eau2/pkg/eauerr"
	"github.com/eau2/eau2/pkg/key"
	"github.com/eau2/eau2/pkg/metrics"
)

// Schema is the ordered list of column names and types a Dataframe
// conforms to.
type Schema struct {
	Names []string
	Types []cell.Type
}

// NCols returns the number of columns in the schema.
func (s Schema) NCols() int { return len(s.Names) }

// Dataframe is an ordered set of chunked, distributed columns sharing a
// row count.
type Dataframe struct {
	mu       sync.Mutex
	name     string
	numNodes uint64
	kv       column.Store
	metrics  *metrics.Collector

	schema  Schema
	columns []*column.Column
	nrows   int
	sealed  bool
	colOpts []column.Option
}

// NewBuilder creates an empty, open Dataframe named name. Chunks of any
// column added to it are distributed using numNodes as the cluster size.
// opts is forwarded to every column the dataframe creates (e.g.
// column.WithCache, for a shared chunk cache sized by the node's config).
func NewBuilder(name string, numNodes uint64, kv column.Store, m *metrics.Collector, opts ...column.Option) *Dataframe {
	return &Dataframe{name: name, numNodes: numNodes, kv: kv, metrics: m, colOpts: opts}
}

// AddColumn appends a new, initially-empty column to the schema, padding
// it with Missing cells up to the row count already established by other
// columns (§3's per-type Missing default).
func (df *Dataframe) AddColumn(ctx context.Context, name string, typ cell.Type) error {
	df.mu.Lock()
	if df.sealed {
		df.mu.Unlock()
		return eauerr.Wrapf(eauerr.Sealed, "dataframe %q", df.name)
	}
	colKey := fmt.Sprintf("%s/col/%d", df.name, len(df.columns))
	pad := df.nrows
	opts := df.colOpts
	df.mu.Unlock()

	col := column.New(colKey, typ, df.numNodes, df.kv, df.metrics, opts...)
	for i := 0; i < pad; i++ {
		if err := col.Append(ctx, cell.Missing(typ)); err != nil {
			return err
		}
	}

	df.mu.Lock()
	defer df.mu.Unlock()
	df.schema.Names = append(df.schema.Names, name)
	df.schema.Types = append(df.schema.Types, typ)
	df.columns = append(df.columns, col)
	return nil
}

// AddRow appends one value per column, in schema order. Every value's
// type must match its column's type.
func (df *Dataframe) AddRow(ctx context.Context, values ...cell.Cell) error {
	df.mu.Lock()
	if df.sealed {
		df.mu.Unlock()
		return eauerr.Wrapf(eauerr.Sealed, "dataframe %q", df.name)
	}
	if len(values) != len(df.columns) {
		df.mu.Unlock()
		return eauerr.Wrapf(eauerr.TypeMismatch, "row has %d values, schema has %d columns", len(values), len(df.columns))
	}
	cols := append([]*column.Column(nil), df.columns...)
	types := append([]cell.Type(nil), df.schema.Types...)
	df.mu.Unlock()

	for i, v := range values {
		if v.Type != types[i] {
			return eauerr.Wrapf(eauerr.TypeMismatch, "column %d expects %s, got %s", i, types[i], v.Type)
		}
	}
	for i, v := range values {
		if err := cols[i].Append(ctx, v); err != nil {
			return err
		}
	}
	df.mu.Lock()
	df.nrows++
	df.mu.Unlock()
	return nil
}

// Seal flushes and seals every column, freezing the row count.
func (df *Dataframe) Seal(ctx context.Context) error {
	df.mu.Lock()
	if df.sealed {
		df.mu.Unlock()
		return nil
	}
	cols := append([]*column.Column(nil), df.columns...)
	df.sealed = true
	df.mu.Unlock()
	for _, c := range cols {
		if err := c.Seal(ctx); err != nil {
			return err
		}
	}
	return nil
}

// NRows returns the dataframe's row count.
func (df *Dataframe) NRows() int {
	df.mu.Lock()
	defer df.mu.Unlock()
	return df.nrows
}

// NCols returns the dataframe's column count.
func (df *Dataframe) NCols() int {
	df.mu.Lock()
	defer df.mu.Unlock()
	return len(df.columns)
}

// Schema returns a copy of the dataframe's schema.
func (df *Dataframe) Schema() Schema {
	df.mu.Lock()
	defer df.mu.Unlock()
	return Schema{
		Names: append([]string(nil), df.schema.Names...),
		Types: append([]cell.Type(nil), df.schema.Types...),
	}
}

func (df *Dataframe) column(col int, want cell.Type) (*column.Column, error) {
	df.mu.Lock()
	defer df.mu.Unlock()
	if col < 0 || col >= len(df.columns) {
		return nil, eauerr.Wrapf(eauerr.OutOfBounds, "column %d of %d", col, len(df.columns))
	}
	if df.schema.Types[col] != want {
		return nil, eauerr.Wrapf(eauerr.TypeMismatch, "column %d is %s, not %s", col, df.schema.Types[col], want)
	}
	return df.columns[col], nil
}

func (df *Dataframe) rowBounds(row int) error {
	df.mu.Lock()
	n := df.nrows
	df.mu.Unlock()
	if row < 0 || row >= n {
		return eauerr.Wrapf(eauerr.OutOfBounds, "row %d of %d", row, n)
	}
	return nil
}

// GetInt returns the Int32 cell at (col, row); a row within the frame's
// row count but beyond that column's own stored length yields the type's
// Missing zero value, per §3. (AddColumn already pads a column added after
// other rows existed, so this applies to reconstructed columns whose stored
// length is shorter than nrows.)
func (df *Dataframe) GetInt(ctx context.Context, col, row int) (int32, error) {
	c, err := df.column(col, cell.Int)
	if err != nil {
		return 0, err
	}
	if err := df.rowBounds(row); err != nil {
		return 0, err
	}
	if row >= c.Len() {
		return 0, nil
	}
	v, err := c.Get(ctx, row)
	if err != nil {
		return 0, err
	}
	return v.I, nil
}

// GetBool returns the Bool cell at (col, row).
func (df *Dataframe) GetBool(ctx context.Context, col, row int) (bool, error) {
	c, err := df.column(col, cell.Bool)
	if err != nil {
		return false, err
	}
	if err := df.rowBounds(row); err != nil {
		return false, err
	}
	if row >= c.Len() {
		return false, nil
	}
	v, err := c.Get(ctx, row)
	if err != nil {
		return false, err
	}
	return v.B, nil
}

// GetFloat returns the Float32 cell at (col, row).
func (df *Dataframe) GetFloat(ctx context.Context, col, row int) (float32, error) {
	c, err := df.column(col, cell.Float)
	if err != nil {
		return 0, err
	}
	if err := df.rowBounds(row); err != nil {
		return 0, err
	}
	if row >= c.Len() {
		return 0, nil
	}
	v, err := c.Get(ctx, row)
	if err != nil {
		return 0, err
	}
	return v.F, nil
}

// GetString returns the Utf8String cell at (col, row).
func (df *Dataframe) GetString(ctx context.Context, col, row int) (string, error) {
	c, err := df.column(col, cell.String)
	if err != nil {
		return "", err
	}
	if err := df.rowBounds(row); err != nil {
		return "", err
	}
	if row >= c.Len() {
		return "", nil
	}
	v, err := c.Get(ctx, row)
	if err != nil {
		return "", err
	}
	return v.S, nil
}

// buildArray is the common body of every From<Type>Array constructor:
// build a single-column dataframe and seal it immediately.
func buildArray(ctx context.Context, name string, numNodes uint64, kv column.Store, m *metrics.Collector, colName string, typ cell.Type, values []cell.Cell) (*Dataframe, error) {
	df := NewBuilder(name, numNodes, kv, m)
	if err := df.AddColumn(ctx, colName, typ); err != nil {
		return nil, err
	}
	for _, v := range values {
		if err := df.AddRow(ctx, v); err != nil {
			return nil, err
		}
	}
	if err := df.Seal(ctx); err != nil {
		return nil, err
	}
	return df, nil
}

// FromIntArray builds a sealed, single-column Int32 dataframe.
func FromIntArray(ctx context.Context, name string, numNodes uint64, kv column.Store, m *metrics.Collector, values []int32) (*Dataframe, error) {
	cells := make([]cell.Cell, len(values))
	for i, v := range values {
		cells[i] = cell.IntCell(v)
	}
	return buildArray(ctx, name, numNodes, kv, m, "0", cell.Int, cells)
}

// FromBoolArray builds a sealed, single-column Bool dataframe.
func FromBoolArray(ctx context.Context, name string, numNodes uint64, kv column.Store, m *metrics.Collector, values []bool) (*Dataframe, error) {
	cells := make([]cell.Cell, len(values))
	for i, v := range values {
		cells[i] = cell.BoolCell(v)
	}
	return buildArray(ctx, name, numNodes, kv, m, "0", cell.Bool, cells)
}

// FromFloatArray builds a sealed, single-column Float32 dataframe.
func FromFloatArray(ctx context.Context, name string, numNodes uint64, kv column.Store, m *metrics.Collector, values []float32) (*Dataframe, error) {
	cells := make([]cell.Cell, len(values))
	for i, v := range values {
		cells[i] = cell.FloatCell(v)
	}
	return buildArray(ctx, name, numNodes, kv, m, "0", cell.Float, cells)
}

// FromStringArray builds a sealed, single-column Utf8String dataframe.
func FromStringArray(ctx context.Context, name string, numNodes uint64, kv column.Store, m *metrics.Collector, values []string) (*Dataframe, error) {
	cells := make([]cell.Cell, len(values))
	for i, v := range values {
		cells[i] = cell.StringCell(v)
	}
	return buildArray(ctx, name, numNodes, kv, m, "0", cell.String, cells)
}

// FromIntScalar builds a sealed, single-row, single-column Int32 dataframe.
func FromIntScalar(ctx context.Context, name string, numNodes uint64, kv column.Store, m *metrics.Collector, v int32) (*Dataframe, error) {
	return FromIntArray(ctx, name, numNodes, kv, m, []int32{v})
}

// FromBoolScalar builds a sealed, single-row, single-column Bool dataframe.
func FromBoolScalar(ctx context.Context, name string, numNodes uint64, kv column.Store, m *metrics.Collector, v bool) (*Dataframe, error) {
	return FromBoolArray(ctx, name, numNodes, kv, m, []bool{v})
}

// FromFloatScalar builds a sealed, single-row, single-column Float32 dataframe.
func FromFloatScalar(ctx context.Context, name string, numNodes uint64, kv column.Store, m *metrics.Collector, v float32) (*Dataframe, error) {
	return FromFloatArray(ctx, name, numNodes, kv, m, []float32{v})
}

// FromStringScalar builds a sealed, single-row, single-column Utf8String dataframe.
func FromStringScalar(ctx context.Context, name string, numNodes uint64, kv column.Store, m *metrics.Collector, v string) (*Dataframe, error) {
	return FromStringArray(ctx, name, numNodes, kv, m, []string{v})
}

// ToNode serializes the dataframe's schema and each column's chunk-key
// list; chunk contents are never re-encoded here, only referenced.
func (df *Dataframe) ToNode() *codec.Node {
	df.mu.Lock()
	defer df.mu.Unlock()

	colNodes := make([]*codec.Node, len(df.columns))
	for i, c := range df.columns {
		keyElems := make([]*codec.Node, 0, len(c.ChunkKeys()))
		for _, k := range c.ChunkKeys() {
			keyElems = append(keyElems, k.ToNode())
		}
		colNodes[i] = codec.NewObject(codec.TagObject,
			codec.F("name", codec.RawString(df.schema.Names[i])),
			codec.F("celltype", codec.RawString(df.schema.Types[i].String())),
			codec.F("length", codec.RawInt(int64(c.Len()))),
			codec.F("chunks", codec.NewVector(keyElems...)),
		)
	}
	return codec.NewObject(codec.TagDataframe,
		codec.F("name", codec.RawString(df.name)),
		codec.F("nrows", codec.RawInt(int64(df.nrows))),
		codec.F("columns", codec.NewVector(colNodes...)),
	)
}

// FromNode reconstructs a sealed Dataframe purely from metadata: column
// chunk keys are trusted to already point at live chunks in the cluster.
// opts is forwarded to every reconstructed column, as in NewBuilder.
func FromNode(n *codec.Node, numNodes uint64, kv column.Store, m *metrics.Collector, opts ...column.Option) (*Dataframe, error) {
	if err := n.RequireTag(codec.TagDataframe); err != nil {
		return nil, err
	}
	nameNode, err := n.RequireField("name")
	if err != nil {
		return nil, err
	}
	name, err := nameNode.Str()
	if err != nil {
		return nil, err
	}
	nrowsNode, err := n.RequireField("nrows")
	if err != nil {
		return nil, err
	}
	nrows, err := nrowsNode.Int()
	if err != nil {
		return nil, err
	}
	colsNode, err := n.RequireField("columns")
	if err != nil {
		return nil, err
	}
	if !colsNode.IsVector() {
		return nil, eauerr.Wrapf(eauerr.Malformed, "dataframe columns must be a vector")
	}

	df := &Dataframe{name: name, numNodes: numNodes, kv: kv, metrics: m, nrows: int(nrows), sealed: true, colOpts: opts}
	for i, colNode := range colsNode.Elems() {
		cNameNode, err := colNode.RequireField("name")
		if err != nil {
			return nil, err
		}
		cName, err := cNameNode.Str()
		if err != nil {
			return nil, err
		}
		typNode, err := colNode.RequireField("celltype")
		if err != nil {
			return nil, err
		}
		typStr, err := typNode.Str()
		if err != nil {
			return nil, err
		}
		if len(typStr) != 1 || !cell.Type(typStr[0]).Valid() {
			return nil, eauerr.Wrapf(eauerr.Malformed, "invalid column celltype %q", typStr)
		}
		typ := cell.Type(typStr[0])
		lenNode, err := colNode.RequireField("length")
		if err != nil {
			return nil, err
		}
		length, err := lenNode.Int()
		if err != nil {
			return nil, err
		}
		chunksNode, err := colNode.RequireField("chunks")
		if err != nil {
			return nil, err
		}
		if !chunksNode.IsVector() {
			return nil, eauerr.Wrapf(eauerr.Malformed, "column chunks must be a vector")
		}
		chunkKeys := make([]key.Key, 0, len(chunksNode.Elems()))
		for _, kn := range chunksNode.Elems() {
			k, err := key.FromNode(kn)
			if err != nil {
				return nil, err
			}
			chunkKeys = append(chunkKeys, k)
		}
		col := column.FromChunkKeys(fmt.Sprintf("%s/col/%d", name, i), typ, numNodes, kv, m, chunkKeys, int(length), opts...)
		df.schema.Names = append(df.schema.Names, cName)
		df.schema.Types = append(df.schema.Types, typ)
		df.columns = append(df.columns, col)
	}
	return df, nil
}
