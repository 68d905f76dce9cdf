package vxlan

import (
	"net/netip"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultFDBMaxEntries is the per-VNI capacity used when none is configured.
const DefaultFDBMaxEntries = 4096

// FDBEntry is a learned MAC-to-remote-VTEP mapping.
type FDBEntry struct {
	// MAC is the learned source MAC address.
	MAC MAC

	// Remote is the overlay source address the MAC was last seen from.
	Remote netip.AddrPort

	// LastSeen is the time of the most recent observation.
	LastSeen time.Time
}

// LearnResult reports what a Learn call did to the table.
type LearnResult uint8

const (
	// LearnRefreshed means the MAC was known at the same remote; only the
	// timestamp changed.
	LearnRefreshed LearnResult = iota

	// LearnCreated means the MAC was not in the table.
	LearnCreated

	// LearnMoved means the MAC was known at a different remote and has
	// been re-pointed (MAC mobility).
	LearnMoved
)

// FDB is the forwarding database of one VNI.
//
// Entries live in an LRU list ordered by last observation. Learn moves an
// entry to the newest end, Lookup does not touch the order, so the oldest
// end always holds the entry with the smallest LastSeen. AgeOut relies on
// that ordering and only visits stale entries.
//
// When the table is full, learning a new MAC evicts the least recently
// learned one.
type FDB struct {
	mu      sync.Mutex
	entries *simplelru.LRU[MAC, FDBEntry]
	evicted uint64
}

// NewFDB creates an empty FDB holding at most maxEntries MACs. A
// non-positive maxEntries selects DefaultFDBMaxEntries.
func NewFDB(maxEntries int) *FDB {
	if maxEntries <= 0 {
		maxEntries = DefaultFDBMaxEntries
	}

	// NewLRU only fails for a non-positive size.
	lru, _ := simplelru.NewLRU[MAC, FDBEntry](maxEntries, nil)

	return &FDB{entries: lru}
}

// Learn records that mac was seen behind remote. Learn never fails.
func (f *FDB) Learn(mac MAC, remote netip.AddrPort) LearnResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := LearnCreated
	if old, ok := f.entries.Peek(mac); ok {
		result = LearnRefreshed
		if old.Remote != remote {
			result = LearnMoved
		}
	}

	// Timestamp is taken under the lock so LRU order matches LastSeen order.
	if f.entries.Add(mac, FDBEntry{MAC: mac, Remote: remote, LastSeen: time.Now()}) {
		f.evicted++
	}

	return result
}

// Lookup returns the remote address learned for mac.
func (f *FDB) Lookup(mac MAC) (netip.AddrPort, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries.Peek(mac)
	if !ok {
		return netip.AddrPort{}, false
	}
	return e.Remote, true
}

// AgeOut removes every entry whose LastSeen is before now-idle and
// returns the removed entries, oldest first.
func (f *FDB) AgeOut(now time.Time, idle time.Duration) []FDBEntry {
	cutoff := now.Add(-idle)

	f.mu.Lock()
	defer f.mu.Unlock()

	var removed []FDBEntry
	for {
		_, e, ok := f.entries.GetOldest()
		if !ok || !e.LastSeen.Before(cutoff) {
			break
		}
		f.entries.RemoveOldest()
		removed = append(removed, e)
	}

	return removed
}

// Entries returns a snapshot of the table, oldest first.
func (f *FDB) Entries() []FDBEntry {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.entries.Values()
}

// Flush removes every entry and returns what was removed.
func (f *FDB) Flush() []FDBEntry {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed := f.entries.Values()
	f.entries.Purge()
	return removed
}

// Len returns the number of entries.
func (f *FDB) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.entries.Len()
}

// Evicted returns how many entries were dropped because the table was full.
func (f *FDB) Evicted() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.evicted
}
