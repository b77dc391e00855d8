// Package directory implements cluster discovery (§4.D): a designated
// rendezvous node (index 0) accumulates Register messages from the other
// N-1 nodes and answers each with a Directory snapshot of every address it
// has seen so far, after which nodes dial each other directly and the
// rendezvous node drops out of the data path. This mirrors the original
// system's idx_to_ip_ directory, generalized from a fixed 127.0.0.x scheme
// to arbitrary listen addresses.
package directory

import (
	"context"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/cockroachdb/tokenbucket"

	"github.com/eau2/eau2/pkg/log"
)

// Directory tracks the address of every peer this node knows about, plus
// which peers it has already dialed out to (so a late-arriving Directory
// reply doesn't cause duplicate outbound connections).
type Directory struct {
	mu   sync.RWMutex
	self uint64
	peer map[uint64]string

	dialed mapset.Set[uint64]
	limiter *tokenbucket.TokenBucket

	logger *log.Logger
}

// Settings configures dial pacing and how long a joining node waits after
// receiving a Directory reply before treating the cluster as settled
// (RegistrationSettle, the bootstrap settle delay made configurable).
type Settings struct {
	SelfAddr          string
	DialRatePerSecond float64
	DialBurst         float64
	RegistrationSettle time.Duration
}

// DefaultSettings returns conservative defaults: up to 5 dial attempts per
// second, burst of 5, and a half-second settle window.
func DefaultSettings(selfAddr string) Settings {
	return Settings{
		SelfAddr:           selfAddr,
		DialRatePerSecond:  5,
		DialBurst:          5,
		RegistrationSettle: 500 * time.Millisecond,
	}
}

// New creates a Directory for node self, already knowing its own address.
func New(self uint64, settings Settings, logger *log.Logger) *Directory {
	tb := &tokenbucket.TokenBucket{}
	tb.Init(tokenbucket.TokensPerSecond(settings.DialRatePerSecond), tokenbucket.Tokens(settings.DialBurst))
	d := &Directory{
		self:    self,
		peer:    map[uint64]string{self: settings.SelfAddr},
		dialed:  mapset.NewSet[uint64](),
		limiter: tb,
		logger:  logger.Component("directory"),
	}
	return d
}

// Self returns this node's own index.
func (d *Directory) Self() uint64 { return d.self }

// Register records idx's address, returning true if this is new
// information the caller should propagate (e.g. fold into the next
// Directory reply, or dial out to).
func (d *Directory) Register(idx uint64, addr string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.peer[idx]; ok && existing == addr {
		return false
	}
	d.peer[idx] = addr
	d.logger.Info("registered peer", "index", idx, "address", addr)
	return true
}

// Addresses returns a snapshot copy of every known index -> address pair.
func (d *Directory) Addresses() map[uint64]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[uint64]string, len(d.peer))
	for k, v := range d.peer {
		out[k] = v
	}
	return out
}

// Lookup returns the address registered for idx, if any.
func (d *Directory) Lookup(idx uint64) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	addr, ok := d.peer[idx]
	return addr, ok
}

// Len returns the number of known peers, including self.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.peer)
}

// HasDialed reports whether this node has already attempted (or does not
// need) an outbound connection to idx.
func (d *Directory) HasDialed(idx uint64) bool {
	return d.dialed.Contains(idx)
}

// MarkDialed records that idx has been dialed, so future Directory
// replies naming it again don't trigger a second dial.
func (d *Directory) MarkDialed(idx uint64) {
	d.dialed.Add(idx)
}

// WaitForDialSlot blocks until the dial rate limiter admits one more
// outbound connection attempt, bounding how fast this node hammers peers
// it cannot yet reach (§4.D's "bounded backoff/retry" requirement).
func (d *Directory) WaitForDialSlot(ctx context.Context) error {
	for {
		ok, tryAgainAfter := d.limiter.TryToFulfill(1)
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(tryAgainAfter):
		}
	}
}
