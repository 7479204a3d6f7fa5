package lookup

import (
	"sort"

	"github.com/kadnode/kadnode/identifier"
	"github.com/kadnode/kadnode/routing"
)

type queryState int

const (
	unqueried queryState = iota
	pending
	responded
	failed
)

type shortlistEntry struct {
	contact routing.Contact
	state   queryState
}

// shortlist is the lookup's working set of candidate contacts, deduped
// by node ID, tracked through the unqueried/pending/responded/failed
// state machine of spec §4.5.
type shortlist struct {
	target  identifier.ID
	entries map[string]*shortlistEntry
}

func newShortlist(target identifier.ID) *shortlist {
	return &shortlist{target: target, entries: make(map[string]*shortlistEntry)}
}

// merge inserts contacts not already known and not self, leaving any
// existing entry (and its state) untouched.
func (s *shortlist) merge(self identifier.ID, contacts []routing.Contact) {
	for _, c := range contacts {
		if identifier.Equal(c.NodeID, self) {
			continue
		}
		key := c.NodeID.String()
		if _, exists := s.entries[key]; exists {
			continue
		}
		s.entries[key] = &shortlistEntry{contact: c, state: unqueried}
	}
}

func (s *shortlist) distance(e *shortlistEntry) identifier.ID {
	d, _ := identifier.Distance(s.target, e.contact.NodeID)
	return d
}

func (s *shortlist) sortedByDistance(entries []*shortlistEntry) []*shortlistEntry {
	out := make([]*shortlistEntry, len(entries))
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool {
		return identifier.LessDistance(s.distance(out[i]), s.distance(out[j]))
	})
	return out
}

// selectUnqueried returns up to n unqueried entries, closest to target
// first, and marks them pending.
func (s *shortlist) selectUnqueried(n int) []*shortlistEntry {
	var candidates []*shortlistEntry
	for _, e := range s.entries {
		if e.state == unqueried {
			candidates = append(candidates, e)
		}
	}
	candidates = s.sortedByDistance(candidates)
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	for _, e := range candidates {
		e.state = pending
	}
	return candidates
}

func (s *shortlist) hasPendingOrUnqueried() bool {
	for _, e := range s.entries {
		if e.state == pending || e.state == unqueried {
			return true
		}
	}
	return false
}

// truncate keeps only the k closest non-failed entries (spec §4.5 step
// 4), dropping every non-failed entry beyond the closest k. Failed
// entries stay in the set, so a later merge does not re-add them, but
// they do not count toward k.
func (s *shortlist) truncate(k int) {
	var alive []*shortlistEntry
	for _, e := range s.entries {
		if e.state != failed {
			alive = append(alive, e)
		}
	}
	alive = s.sortedByDistance(alive)
	if len(alive) > k {
		alive = alive[k:]
		for _, e := range alive {
			delete(s.entries, e.contact.NodeID.String())
		}
		return
	}
}

// closest returns the closest non-failed entry, or nil if none remain.
func (s *shortlist) closest() *shortlistEntry {
	var best *shortlistEntry
	for _, e := range s.entries {
		if e.state == failed {
			continue
		}
		if best == nil || identifier.LessDistance(s.distance(e), s.distance(best)) {
			best = e
		}
	}
	return best
}

// respondedClosest returns up to n responded entries, closest first.
func (s *shortlist) respondedClosest(n int) []routing.Contact {
	var candidates []*shortlistEntry
	for _, e := range s.entries {
		if e.state == responded {
			candidates = append(candidates, e)
		}
	}
	candidates = s.sortedByDistance(candidates)
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	out := make([]routing.Contact, len(candidates))
	for i, e := range candidates {
		out[i] = e.contact
	}
	return out
}

// closestKAllResponded reports whether the k closest non-failed entries
// are all in the responded state (spec §4.5's "no improvement" rule).
// If fewer than k non-failed entries exist in total, all of them must
// have responded.
func (s *shortlist) closestKAllResponded(k int) bool {
	var alive []*shortlistEntry
	for _, e := range s.entries {
		if e.state != failed {
			alive = append(alive, e)
		}
	}
	alive = s.sortedByDistance(alive)
	if len(alive) > k {
		alive = alive[:k]
	}
	if len(alive) == 0 {
		return false
	}
	for _, e := range alive {
		if e.state != responded {
			return false
		}
	}
	return true
}
