package routing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kadnode/kadnode/identifier"
	"github.com/sirupsen/logrus"
)

// DefaultK is the default bucket capacity and lookup breadth (K).
const DefaultK = 20

// Pinger issues a PING to a contact and reports whether it answered
// within the RPC timeout. It is the seam the routing table uses to run
// the "oldest reliable wins" liveness protocol (spec §4.2) without
// depending on the rpc package directly.
type Pinger interface {
	Ping(ctx context.Context, c Contact) bool
}

// Table is an array of buckets indexed by distance-bit from self,
// grounded on dht.RoutingTable (a fixed array of 256 k-buckets, guarded
// by sync.RWMutex, generalized here to a configurable bit length).
type Table struct {
	self     identifier.ID
	buckets  []*Bucket
	bits     int
	pingOnce sync.Mutex // serializes concurrent Update calls for the same bucket's head (spec §5 ordering guarantee ii)
	logger   logrus.FieldLogger
}

// New creates a routing table for self with bits buckets, each holding up
// to k contacts. logger may be nil, in which case the standard logger is
// used, matching rpc.New's defaulting.
func New(self identifier.ID, bits, k int, logger logrus.FieldLogger) *Table {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	t := &Table{self: self, buckets: make([]*Bucket, bits), bits: bits, logger: logger}
	for i := range t.buckets {
		t.buckets[i] = NewBucket(k)
	}
	return t
}

// Self returns the local node identifier this table is organized around.
func (t *Table) Self() identifier.ID { return t.self }

// Bits returns the configured identifier length in bits.
func (t *Table) Bits() int { return t.bits }

// bucketFor returns the bucket a contact belongs in, or nil if the
// contact shares the identifier of self (no bucket, spec §3).
func (t *Table) bucketFor(id identifier.ID) (*Bucket, int, bool) {
	idx, ok, err := identifier.BucketIndex(t.self, id)
	if err != nil || !ok {
		return nil, 0, false
	}
	return t.buckets[idx], idx, true
}

// Update applies the key liveness protocol of spec §4.2: if the target
// bucket is not full, or the contact is already present, it is simply
// added/refreshed. Otherwise the bucket's head is pinged; if it answers,
// the new contact is discarded and the head is refreshed, otherwise the
// head is evicted and the new contact appended.
//
// Update is a no-op (returns false, nil) if contact shares self's
// identifier.
func (t *Table) Update(ctx context.Context, c Contact, pinger Pinger) (bool, error) {
	bucket, _, ok := t.bucketFor(c.NodeID)
	if !ok {
		return false, nil
	}

	if !bucket.IsFull() || bucket.Has(c.NodeID) {
		outcome, _ := bucket.Add(c)
		return outcome == Added || outcome == Updated, nil
	}

	// Bucket full and contact unknown: serialize the bucket's head-ping
	// decision so two near-simultaneous observations of distinct new
	// contacts can't both evict the same head (spec §5 ordering ii).
	t.pingOnce.Lock()
	defer t.pingOnce.Unlock()

	head, hasHead := bucket.Head()
	if !hasHead {
		outcome, _ := bucket.Add(c)
		return outcome == Added || outcome == Updated, nil
	}

	if pinger != nil {
		head.RecordPingSent(time.Now())
		bucket.SetPingStats(head.NodeID, head.PingStats)

		alive := pinger.Ping(ctx, head)
		head.RecordPingResult(alive, time.Now())
		bucket.SetPingStats(head.NodeID, head.PingStats)

		if alive {
			bucket.MoveToTail(head.NodeID, time.Now())
			t.logger.WithFields(logrus.Fields{
				"function":    "Table.Update",
				"decision":    "refresh",
				"contact":     head.NodeID.String(),
				"reliability": head.PingStats.Reliability(),
			}).Debug("bucket head answered ping; refreshed ahead of new contact")
			return false, nil
		}

		t.logger.WithFields(logrus.Fields{
			"function":    "Table.Update",
			"decision":    "evict",
			"contact":     head.NodeID.String(),
			"reliability": head.PingStats.Reliability(),
		}).Info("bucket head evicted after failed ping")
	}

	bucket.Remove(head.NodeID)
	outcome, _ := bucket.Add(c)
	return outcome == Added || outcome == Updated, nil
}

// Closest returns up to n contacts with the smallest XOR distance to
// target. Per spec §4.2 it scans buckets starting at target's bucket
// index and walks outward so partial results arrive roughly pre-sorted,
// then sorts exactly by distance and truncates.
func (t *Table) Closest(target identifier.ID, n int) []Contact {
	startIdx, ok, err := identifier.BucketIndex(t.self, target)
	if err != nil {
		return nil
	}
	if !ok {
		startIdx = t.bits - 1
	}

	var collected []Contact
	for offset := 0; offset < t.bits; offset++ {
		for _, idx := range []int{startIdx + offset, startIdx - offset} {
			if offset == 0 && idx != startIdx {
				continue
			}
			if idx < 0 || idx >= t.bits {
				continue
			}
			collected = append(collected, t.buckets[idx].Contacts()...)
		}
	}

	sort.Slice(collected, func(i, j int) bool {
		di, _ := identifier.Distance(target, collected[i].NodeID)
		dj, _ := identifier.Distance(target, collected[j].NodeID)
		return identifier.LessDistance(di, dj)
	})

	if len(collected) > n {
		collected = collected[:n]
	}
	return collected
}

// Remove deletes a contact by node ID from whichever bucket it occupies.
func (t *Table) Remove(id identifier.ID) bool {
	bucket, _, ok := t.bucketFor(id)
	if !ok {
		return false
	}
	return bucket.Remove(id)
}

// AllContacts returns every contact across all buckets, used by the
// maintenance scheduler's diagnostics pass.
func (t *Table) AllContacts() []Contact {
	var out []Contact
	for _, b := range t.buckets {
		out = append(out, b.Contacts()...)
	}
	return out
}

// BucketContacts returns a copy of the contacts in the bucket at idx.
func (t *Table) BucketContacts(idx int) []Contact {
	if idx < 0 || idx >= t.bits {
		return nil
	}
	return t.buckets[idx].Contacts()
}

// BucketLen returns the number of contacts in the bucket at idx.
func (t *Table) BucketLen(idx int) int {
	if idx < 0 || idx >= t.bits {
		return 0
	}
	return t.buckets[idx].Len()
}

// NonEmptyBucketIndexes returns the indexes of every bucket holding at
// least one contact, used for join's bucket-refresh pass (spec §4.6).
func (t *Table) NonEmptyBucketIndexes() []int {
	var out []int
	for i, b := range t.buckets {
		if b.Len() > 0 {
			out = append(out, i)
		}
	}
	return out
}

// TotalNodeCount returns the total number of contacts across all
// buckets, grounded on dht.RoutingTable.GetTotalNodeCount.
func (t *Table) TotalNodeCount() int {
	total := 0
	for _, b := range t.buckets {
		total += b.Len()
	}
	return total
}
