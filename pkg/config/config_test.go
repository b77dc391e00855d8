package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecodeBasic(t *testing.T) {
	raw := map[string]any{
		"n":                   3,
		"index":               1,
		"listen_addr":         "127.0.0.1:9001",
		"rendezvous_addr":     "127.0.0.1:9000",
		"registration_settle": "20ms",
		"cache_bytes":         1048576,
	}
	cfg, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, uint64(3), cfg.N)
	require.Equal(t, uint64(1), cfg.Index)
	require.Equal(t, "127.0.0.1:9001", cfg.ListenAddr)
	require.Equal(t, 20*time.Millisecond, cfg.RegistrationSettle)
	require.Equal(t, 1048576, cfg.CacheBytes)
}

func TestValidateRequiresListenAddr(t *testing.T) {
	cfg := ClusterConfig{N: 2, Index: 0}
	require.Error(t, cfg.Validate())
}

func TestValidateRequiresRendezvousForNonZeroIndex(t *testing.T) {
	cfg := ClusterConfig{N: 2, Index: 1, ListenAddr: "127.0.0.1:9001"}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsOutOfRangeIndex(t *testing.T) {
	cfg := ClusterConfig{N: 2, Index: 5, ListenAddr: "127.0.0.1:9001"}
	require.Error(t, cfg.Validate())
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := ClusterConfig{N: 2, Index: 0, ListenAddr: "127.0.0.1:9000"}
	require.NoError(t, cfg.Validate())
}

func TestDirectorySettingsDefaultsAndOverrides(t *testing.T) {
	cfg := ClusterConfig{ListenAddr: "127.0.0.1:9000"}
	s := cfg.DirectorySettings()
	require.Equal(t, "127.0.0.1:9000", s.SelfAddr)
	require.Greater(t, s.DialRatePerSecond, 0.0)

	cfg.DialRatePerSecond = 42
	s = cfg.DirectorySettings()
	require.Equal(t, 42.0, s.DialRatePerSecond)
}
