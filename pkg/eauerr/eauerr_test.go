package eauerr

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestWrapfPreservesIs(t *testing.T) {
	err := Wrapf(KeyNotFound, "get %q", "triv")
	require.True(t, errors.Is(err, KeyNotFound))
	require.Contains(t, err.Error(), "triv")
}

func TestFatalClassification(t *testing.T) {
	require.True(t, Fatal(Malformed))
	require.True(t, Fatal(WrongHome))
	require.False(t, Fatal(KeyNotFound))
	require.False(t, Fatal(PeerUnknown))
}

func TestTransportLocalClassification(t *testing.T) {
	require.True(t, TransportLocal(PeerUnknown))
	require.True(t, TransportLocal(FrameTooLarge))
	require.True(t, TransportLocal(TransportClosed))
	require.False(t, TransportLocal(KeyNotFound))
}
