// Package config decodes an eau2 node's cluster configuration from a
// generic map (as produced by parsing a config file or building up flags),
// using mapstructure the way this module's teacher decodes its own
// loosely-typed config blobs.
package config

import (
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/eau2/eau2/pkg/directory"
	"github.com/eau2/eau2/pkg/eauerr"
)

// ClusterConfig is everything a node needs to join and run.
type ClusterConfig struct {
	// N is the total number of nodes in the cluster.
	N uint64 `mapstructure:"n"`
	// Index is this node's own index in [0, N).
	Index uint64 `mapstructure:"index"`
	// ListenAddr is the address this node accepts connections on.
	ListenAddr string `mapstructure:"listen_addr"`
	// RendezvousAddr is node 0's address, used by every other node to
	// bootstrap via Register/Directory (§4.D). Ignored by node 0 itself.
	RendezvousAddr string `mapstructure:"rendezvous_addr"`

	// RegistrationSettle overrides directory.Settings.RegistrationSettle.
	RegistrationSettle time.Duration `mapstructure:"registration_settle"`
	// DialRatePerSecond and DialBurst pace outbound connection attempts
	// to peers not yet reachable.
	DialRatePerSecond float64 `mapstructure:"dial_rate_per_second"`
	DialBurst         float64 `mapstructure:"dial_burst"`

	// CacheBytes sizes the optional larger chunk cache (0 disables it,
	// falling back to each column's single-chunk cache).
	CacheBytes int `mapstructure:"cache_bytes"`

	// MetricsAddr, if set, serves Prometheus metrics on this address.
	MetricsAddr string `mapstructure:"metrics_addr"`
	// LogFile, if set, routes logs to a rotating file instead of stderr.
	LogFile  string `mapstructure:"log_file"`
	LogLevel string `mapstructure:"log_level"`
}

// Decode builds a ClusterConfig from a loosely-typed map, such as one
// parsed from JSON/YAML/TOML or assembled from CLI flags.
func Decode(raw map[string]any) (ClusterConfig, error) {
	var cfg ClusterConfig
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return ClusterConfig{}, eauerr.Wrapf(err, "building config decoder")
	}
	if err := dec.Decode(raw); err != nil {
		return ClusterConfig{}, eauerr.Wrapf(eauerr.Malformed, "decoding cluster config: %v", err)
	}
	return cfg, nil
}

// Validate checks invariants a decoded config must satisfy before a node
// can start: a real cluster size, a self index within it, and a listen
// address.
func (c ClusterConfig) Validate() error {
	if c.N == 0 {
		return eauerr.Wrapf(eauerr.Malformed, "n must be at least 1")
	}
	if c.Index >= c.N {
		return eauerr.Wrapf(eauerr.Malformed, "index %d out of range for n=%d", c.Index, c.N)
	}
	if c.ListenAddr == "" {
		return eauerr.Wrapf(eauerr.Malformed, "listen_addr is required")
	}
	if c.Index != 0 && c.RendezvousAddr == "" {
		return eauerr.Wrapf(eauerr.Malformed, "rendezvous_addr is required for non-zero node index")
	}
	return nil
}

// DirectorySettings derives directory.Settings from the config, filling
// in defaults for any zero-valued tunable.
func (c ClusterConfig) DirectorySettings() directory.Settings {
	s := directory.DefaultSettings(c.ListenAddr)
	if c.DialRatePerSecond > 0 {
		s.DialRatePerSecond = c.DialRatePerSecond
	}
	if c.DialBurst > 0 {
		s.DialBurst = c.DialBurst
	}
	if c.RegistrationSettle > 0 {
		s.RegistrationSettle = c.RegistrationSettle
	}
	return s
}
