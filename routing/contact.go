// Package routing implements the k-bucket routing table: bounded,
// liveness-aware contact lists indexed by XOR distance from the local
// node, grounded on the Kademlia k-bucket management in the teacher's
// dht.KBucket / dht.RoutingTable (bounded slice, oldest-at-head ordering,
// add-or-evict-head semantics).
package routing

import (
	"time"

	"github.com/kadnode/kadnode/identifier"
)

// PingStats tracks liveness statistics for a contact, grounded on
// dht.Node.PingStats: counters for pings sent, successes, and failures,
// plus a derived reliability score.
type PingStats struct {
	LastPingSent     time.Time
	LastPingReceived time.Time
	PingCount        uint32
	SuccessCount     uint32
	FailureCount     uint32
}

// Reliability returns a 0.0-1.0 score; 0 when no pings have been sent.
func (s PingStats) Reliability() float64 {
	if s.PingCount == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.PingCount)
}

// Contact is a routable peer descriptor: {address, port, nodeID, lastSeen}
// per spec §3. Identity equality is by NodeID.
type Contact struct {
	Address   string
	Port      uint16
	NodeID    identifier.ID
	LastSeen  time.Time
	PingStats PingStats
}

// Equal reports whether two contacts share the same node identity.
func (c Contact) Equal(other Contact) bool {
	return identifier.Equal(c.NodeID, other.NodeID)
}

// RecordPingSent marks that a ping was sent to this contact.
func (c *Contact) RecordPingSent(now time.Time) {
	c.PingStats.LastPingSent = now
	c.PingStats.PingCount++
}

// RecordPingResult marks the outcome of an outstanding ping.
func (c *Contact) RecordPingResult(success bool, now time.Time) {
	if success {
		c.PingStats.LastPingReceived = now
		c.PingStats.SuccessCount++
		c.LastSeen = now
	} else {
		c.PingStats.FailureCount++
	}
}
