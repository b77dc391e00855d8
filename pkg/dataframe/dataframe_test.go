package dataframe

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eau2/eau2/pkg/cell"
	"github.com/eau2/eau2/pkg/codec"
	"github.com/eau2/eau2/pkg/eauerr"
	"github.com/eau2/eau2/pkg/key"
)

type fakeStore struct {
	mu   sync.Mutex
	data map[string]*codec.Node
}

func newFakeStore() *fakeStore { return &fakeStore{data: make(map[string]*codec.Node)} }

func (f *fakeStore) Put(_ context.Context, k key.Key, v *codec.Node) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[k.Name] = v
	return nil
}

func (f *fakeStore) Get(_ context.Context, k key.Key) (*codec.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[k.Name]
	if !ok {
		return nil, eauerr.Wrapf(eauerr.KeyNotFound, "key %q", k.Name)
	}
	return v, nil
}

func TestFromIntArrayRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	df, err := FromIntArray(ctx, "nums", 3, st, nil, []int32{1, 2, 3, 4})
	require.NoError(t, err)
	require.Equal(t, 4, df.NRows())
	require.Equal(t, 1, df.NCols())
	for i, want := range []int32{1, 2, 3, 4} {
		got, err := df.GetInt(ctx, 0, i)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestAddColumnAddRowMultiType(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	df := NewBuilder("people", 2, st, nil)
	require.NoError(t, df.AddColumn(ctx, "name", cell.String))
	require.NoError(t, df.AddColumn(ctx, "age", cell.Int))
	require.NoError(t, df.AddColumn(ctx, "active", cell.Bool))

	require.NoError(t, df.AddRow(ctx, cell.StringCell("ana"), cell.IntCell(30), cell.BoolCell(true)))
	require.NoError(t, df.AddRow(ctx, cell.StringCell("bo"), cell.IntCell(45), cell.BoolCell(false)))
	require.NoError(t, df.Seal(ctx))

	require.Equal(t, 2, df.NRows())
	require.Equal(t, 3, df.NCols())

	name0, err := df.GetString(ctx, 0, 0)
	require.NoError(t, err)
	require.Equal(t, "ana", name0)

	age1, err := df.GetInt(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, int32(45), age1)

	active1, err := df.GetBool(ctx, 2, 1)
	require.NoError(t, err)
	require.False(t, active1)
}

func TestAddRowTypeMismatch(t *testing.T) {
	ctx := context.Background()
	df := NewBuilder("df", 1, newFakeStore(), nil)
	require.NoError(t, df.AddColumn(ctx, "n", cell.Int))
	err := df.AddRow(ctx, cell.StringCell("nope"))
	require.ErrorIs(t, err, eauerr.TypeMismatch)
}

func TestAddColumnAfterRowsPadsShortColumn(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	df := NewBuilder("df", 2, st, nil)
	require.NoError(t, df.AddColumn(ctx, "a", cell.Int))
	require.NoError(t, df.AddRow(ctx, cell.IntCell(1)))
	require.NoError(t, df.AddRow(ctx, cell.IntCell(2)))

	require.NoError(t, df.AddColumn(ctx, "b", cell.Bool))
	require.NoError(t, df.Seal(ctx))

	// Column "b" never got rows added after it joined, so every row
	// reads back as the type's Missing zero value.
	v0, err := df.GetBool(ctx, 1, 0)
	require.NoError(t, err)
	require.False(t, v0)
	v1, err := df.GetBool(ctx, 1, 1)
	require.NoError(t, err)
	require.False(t, v1)
}

func TestGetWrongTypeIsTypeMismatch(t *testing.T) {
	ctx := context.Background()
	df := NewBuilder("df", 1, newFakeStore(), nil)
	require.NoError(t, df.AddColumn(ctx, "n", cell.Int))
	require.NoError(t, df.AddRow(ctx, cell.IntCell(1)))
	require.NoError(t, df.Seal(ctx))
	_, err := df.GetBool(ctx, 0, 0)
	require.ErrorIs(t, err, eauerr.TypeMismatch)
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	df, err := FromStringArray(ctx, "strs", 2, st, nil, []string{"x", "y", "z"})
	require.NoError(t, err)

	encoded := codec.Encode(df.ToNode())
	decodedNode, err := codec.Decode(encoded)
	require.NoError(t, err)

	restored, err := FromNode(decodedNode, 2, st, nil)
	require.NoError(t, err)
	require.Equal(t, df.NRows(), restored.NRows())
	require.Equal(t, df.NCols(), restored.NCols())

	for i, want := range []string{"x", "y", "z"} {
		got, err := restored.GetString(ctx, 0, i)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestFromFloatScalar(t *testing.T) {
	ctx := context.Background()
	df, err := FromFloatScalar(ctx, "f", 1, newFakeStore(), nil, 3.5)
	require.NoError(t, err)
	require.Equal(t, 1, df.NRows())
	v, err := df.GetFloat(ctx, 0, 0)
	require.NoError(t, err)
	require.InDelta(t, float32(3.5), v, 0.0001)
}
