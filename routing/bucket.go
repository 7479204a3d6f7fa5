package routing

import (
	"sync"
	"time"

	"github.com/kadnode/kadnode/identifier"
)

// Outcome is the result of offering a contact to a bucket, per spec §4.2.
type Outcome int

const (
	// Updated means a contact with the same NodeID was already present;
	// it was moved to the tail and its LastSeen refreshed.
	Updated Outcome = iota
	// Added means the bucket had room and the contact was appended.
	Added
	// Full means the bucket is at capacity and holds no duplicate of the
	// offered contact; the bucket was not mutated. The caller receives the
	// head contact (the eviction candidate) and must run the liveness
	// protocol (spec §4.2) before retrying.
	Full
)

// Bucket is a bounded, ordered list of at most K contacts: head is
// least-recently-seen, tail is most-recently-seen. Grounded on
// dht.KBucket (bounded slice, move-to-end-on-update, reject-when-full).
type Bucket struct {
	mu       sync.Mutex
	contacts []Contact
	capacity int
}

// NewBucket creates an empty bucket with the given capacity (K).
func NewBucket(capacity int) *Bucket {
	return &Bucket{contacts: make([]Contact, 0, capacity), capacity: capacity}
}

// Add offers a contact to the bucket per the rules in spec §4.2.
func (b *Bucket) Add(c Contact) (Outcome, Contact) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, existing := range b.contacts {
		if existing.Equal(c) {
			b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
			b.contacts = append(b.contacts, c)
			return Updated, Contact{}
		}
	}

	if len(b.contacts) < b.capacity {
		b.contacts = append(b.contacts, c)
		return Added, Contact{}
	}

	return Full, b.contacts[0]
}

// Remove deletes the contact with the given node ID, returning true if
// one was found and removed.
func (b *Bucket) Remove(nodeID identifier.ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, existing := range b.contacts {
		if existing.NodeID.String() == nodeID.String() {
			b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
			return true
		}
	}
	return false
}

// Has reports whether a contact with the given node ID is present.
func (b *Bucket) Has(nodeID identifier.ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.contacts {
		if existing.NodeID.String() == nodeID.String() {
			return true
		}
	}
	return false
}

// Head returns the least-recently-seen contact and whether the bucket is
// non-empty.
func (b *Bucket) Head() (Contact, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.contacts) == 0 {
		return Contact{}, false
	}
	return b.contacts[0], true
}

// Tail returns the most-recently-seen contact and whether the bucket is
// non-empty.
func (b *Bucket) Tail() (Contact, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.contacts) == 0 {
		return Contact{}, false
	}
	return b.contacts[len(b.contacts)-1], true
}

// MoveToTail promotes an already-present contact (matched by NodeID) to
// the tail and refreshes LastSeen, used by the liveness protocol when a
// bucket's head answers a PING before eviction.
func (b *Bucket) MoveToTail(nodeID identifier.ID, lastSeen time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, existing := range b.contacts {
		if existing.NodeID.String() == nodeID.String() {
			existing.LastSeen = lastSeen
			b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
			b.contacts = append(b.contacts, existing)
			return true
		}
	}
	return false
}

// SetPingStats overwrites the PingStats of the contact matched by
// NodeID in place, without reordering it. Used by the liveness protocol
// to persist the outcome of a head-eviction ping.
func (b *Bucket) SetPingStats(nodeID identifier.ID, stats PingStats) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, existing := range b.contacts {
		if existing.NodeID.String() == nodeID.String() {
			b.contacts[i].PingStats = stats
			return true
		}
	}
	return false
}

// Len returns the number of contacts currently in the bucket.
func (b *Bucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.contacts)
}

// IsFull reports whether the bucket is at capacity.
func (b *Bucket) IsFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.contacts) >= b.capacity
}

// Contacts returns a copy of all contacts in the bucket, head first.
func (b *Bucket) Contacts() []Contact {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Contact, len(b.contacts))
	copy(out, b.contacts)
	return out
}
