package lookup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kadnode/kadnode/identifier"
	"github.com/kadnode/kadnode/routing"
)

func mustID(t *testing.T, seed string) identifier.ID {
	t.Helper()
	id, err := identifier.FromSeed([]byte(seed), 160)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func contactFor(t *testing.T, seed string) routing.Contact {
	return routing.Contact{NodeID: mustID(t, seed), Address: "127.0.0.1", Port: 1}
}

// fakeTable is a minimal in-memory stand-in for routing.Table: Closest
// returns a fixed seed set, Update just records calls.
type fakeTable struct {
	mu      sync.Mutex
	seed    []routing.Contact
	updated []routing.Contact
}

func (f *fakeTable) Closest(target identifier.ID, n int) []routing.Contact {
	if len(f.seed) > n {
		return f.seed[:n]
	}
	return f.seed
}

func (f *fakeTable) Update(ctx context.Context, c routing.Contact, pinger routing.Pinger) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, c)
	return true, nil
}

// fakeCaller simulates a small network: each node knows a fixed set of
// neighbors to hand back on FindNode, and one designated node holds a
// value for FindValue tests.
type fakeCaller struct {
	mu        sync.Mutex
	neighbors map[string][]routing.Contact
	valueAt   string // hex node id holding the value
	value     string
	calls     int
	stored    []string // node ids that received a Store
}

func (f *fakeCaller) FindNode(ctx context.Context, to routing.Contact, target identifier.ID) ([]routing.Contact, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.neighbors[to.NodeID.String()], nil
}

func (f *fakeCaller) FindValue(ctx context.Context, to routing.Contact, target identifier.ID) (string, []routing.Contact, bool, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if to.NodeID.String() == f.valueAt {
		return f.value, nil, true, nil
	}
	return "", f.neighbors[to.NodeID.String()], false, nil
}

func (f *fakeCaller) Store(ctx context.Context, to routing.Contact, key identifier.ID, raw string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = append(f.stored, to.NodeID.String())
	return nil
}

func TestFindNodesTerminatesAndReturnsClosest(t *testing.T) {
	self := mustID(t, "self")
	target := mustID(t, "target")

	a := contactFor(t, "a")
	b := contactFor(t, "b")
	c := contactFor(t, "c")

	caller := &fakeCaller{neighbors: map[string][]routing.Contact{
		a.NodeID.String(): {b, c},
		b.NodeID.String(): {a, c},
		c.NodeID.String(): {a, b},
	}}
	table := &fakeTable{seed: []routing.Contact{a}}

	engine := New(self, table, caller, nil, 3, 3, time.Second, nil)
	contacts, err := engine.FindNodes(context.Background(), target)
	if err != nil {
		t.Fatal(err)
	}
	if len(contacts) == 0 {
		t.Fatal("expected at least one contact returned")
	}
	seen := make(map[string]bool)
	for _, c := range contacts {
		seen[c.NodeID.String()] = true
	}
	if !seen[a.NodeID.String()] {
		t.Fatalf("expected seed contact a among results, got %v", contacts)
	}
}

func TestFindValueStopsAtFirstHolderAndCaches(t *testing.T) {
	self := mustID(t, "self")
	target := mustID(t, "target")

	a := contactFor(t, "a")
	b := contactFor(t, "b")

	caller := &fakeCaller{
		neighbors: map[string][]routing.Contact{
			a.NodeID.String(): {b},
		},
		valueAt: b.NodeID.String(),
		value:   `{"value":"hello","publisher":"x","timestamp":"2026-01-01T00:00:00Z"}`,
	}
	table := &fakeTable{seed: []routing.Contact{a}}

	engine := New(self, table, caller, nil, 3, 3, time.Second, nil)
	res, err := engine.FindValue(context.Background(), target)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Found {
		t.Fatal("expected value to be found")
	}
	if res.Value != caller.value {
		t.Fatalf("unexpected value: %q", res.Value)
	}

	caller.mu.Lock()
	stored := append([]string(nil), caller.stored...)
	caller.mu.Unlock()
	if len(stored) != 1 || stored[0] != a.NodeID.String() {
		t.Fatalf("expected cache-at-closest-miss store to a, got %v", stored)
	}
}

func TestFindValueNotFoundReturnsClosestContacts(t *testing.T) {
	self := mustID(t, "self")
	target := mustID(t, "target")

	a := contactFor(t, "a")
	b := contactFor(t, "b")

	caller := &fakeCaller{
		neighbors: map[string][]routing.Contact{
			a.NodeID.String(): {b},
			b.NodeID.String(): {a},
		},
	}
	table := &fakeTable{seed: []routing.Contact{a}}

	engine := New(self, table, caller, nil, 3, 3, time.Second, nil)
	res, err := engine.FindValue(context.Background(), target)
	if err != nil {
		t.Fatal(err)
	}
	if res.Found {
		t.Fatal("expected not-found")
	}
	if len(res.Contacts) == 0 {
		t.Fatal("expected closest contacts on not-found")
	}
}

func TestFindNodesSkipsSelf(t *testing.T) {
	self := mustID(t, "self")
	target := mustID(t, "target")

	a := contactFor(t, "a")
	selfContact := routing.Contact{NodeID: self, Address: "127.0.0.1", Port: 1}

	caller := &fakeCaller{neighbors: map[string][]routing.Contact{
		a.NodeID.String(): {selfContact},
	}}
	table := &fakeTable{seed: []routing.Contact{a}}

	engine := New(self, table, caller, nil, 3, 3, time.Second, nil)
	contacts, err := engine.FindNodes(context.Background(), target)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range contacts {
		if c.NodeID.String() == self.String() {
			t.Fatal("self must never appear in lookup results")
		}
	}
}
