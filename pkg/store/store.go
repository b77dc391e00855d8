// Package store implements the per-node local key/value shard (§4.B): a
// concurrency-safe map from string key names to opaque byte blobs, with no
// iteration exposed to the rest of the core. Values are compressed with
// zstd before insertion and decompressed on read -- the spec permits a more
// compact in-store encoding as long as the on-wire Codec text is what gets
// compressed/decompressed, never altered.
package store

import (
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/eau2/eau2/pkg/eauerr"
)

// Store is a thread-safe map from key name to codec-encoded blob.
type Store struct {
	mu   sync.Mutex
	data map[string][]byte

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// New creates an empty Store.
func New() *Store {
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	dec, _ := zstd.NewReader(nil)
	return &Store{
		data: make(map[string][]byte),
		enc:  enc,
		dec:  dec,
	}
}

// Put stores codec-encoded bytes v under key name, replacing any existing
// value.
func (s *Store) Put(name string, v []byte) {
	compressed := s.enc.EncodeAll(v, nil)
	s.mu.Lock()
	s.data[name] = compressed
	s.mu.Unlock()
}

// Get returns the codec-encoded bytes stored under name, or KeyNotFound.
func (s *Store) Get(name string) ([]byte, error) {
	s.mu.Lock()
	compressed, ok := s.data[name]
	s.mu.Unlock()
	if !ok {
		return nil, eauerr.Wrapf(eauerr.KeyNotFound, "key %q", name)
	}
	v, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, eauerr.Wrapf(eauerr.Malformed, "corrupt stored blob for %q: %v", name, err)
	}
	return v, nil
}

// Contains reports whether name has a stored value.
func (s *Store) Contains(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[name]
	return ok
}

// Len returns the number of stored keys; used only for metrics/tests, not
// part of the core contract (no iteration is exposed).
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
