package directory

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eau2/eau2/pkg/log"
)

func testLogger() *log.Logger {
	return log.New(slog.LevelError)
}

func TestRegisterNewPeerReturnsTrue(t *testing.T) {
	d := New(0, DefaultSettings("127.0.0.1:9000"), testLogger())
	require.True(t, d.Register(1, "127.0.0.1:9001"))
	require.False(t, d.Register(1, "127.0.0.1:9001"))
	require.True(t, d.Register(1, "127.0.0.1:9002"))
}

func TestAddressesSnapshotIncludesSelf(t *testing.T) {
	d := New(0, DefaultSettings("127.0.0.1:9000"), testLogger())
	addrs := d.Addresses()
	require.Equal(t, "127.0.0.1:9000", addrs[0])
	require.Len(t, addrs, 1)
}

func TestLookup(t *testing.T) {
	d := New(0, DefaultSettings("127.0.0.1:9000"), testLogger())
	d.Register(2, "127.0.0.1:9002")
	addr, ok := d.Lookup(2)
	require.True(t, ok)
	require.Equal(t, "127.0.0.1:9002", addr)
	_, ok = d.Lookup(99)
	require.False(t, ok)
}

func TestMarkDialedIdempotent(t *testing.T) {
	d := New(0, DefaultSettings("127.0.0.1:9000"), testLogger())
	require.False(t, d.HasDialed(3))
	d.MarkDialed(3)
	require.True(t, d.HasDialed(3))
}

func TestWaitForDialSlotRespectsContextCancellation(t *testing.T) {
	s := DefaultSettings("127.0.0.1:9000")
	s.DialRatePerSecond = 0.001
	s.DialBurst = 1
	d := New(0, s, testLogger())

	require.NoError(t, d.WaitForDialSlot(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.WaitForDialSlot(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
