package key

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyRoundTrip(t *testing.T) {
	k := New("triv", 0)
	data := k.Serialize()
	got, err := Deserialize(data)
	require.NoError(t, err)
	require.True(t, k.Equal(got))
}

func TestKeyEqualityIsStructural(t *testing.T) {
	a := New("main", 0)
	b := New("main", 0)
	c := New("main", 1)
	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
}
