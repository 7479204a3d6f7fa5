// Package lookup implements the iterative FIND_NODE/FIND_VALUE lookup
// engine (spec §4.5), the algorithmic heart of the system. Grounded on
// the teacher's BootstrapManager iterative node-discovery loop (parallel
// dispatch over goroutines collected with sync.WaitGroup, "collect
// under lock, act outside lock" shape of pingAllNodes), generalized to
// the full shortlist state machine the distillation specifies, since
// the teacher's own lookup is a single non-iterative round rather than
// true iterative Kademlia lookup.
package lookup

import (
	"context"

	"github.com/kadnode/kadnode/identifier"
	"github.com/kadnode/kadnode/routing"
)

// Caller is the RPC seam the lookup engine is built against, owned here
// rather than imported from the rpc/node packages to avoid a dependency
// cycle (node wires rpc.Client into an implementation of Caller).
type Caller interface {
	// FindNode asks "to" for its K closest known contacts to target.
	FindNode(ctx context.Context, to routing.Contact, target identifier.ID) ([]routing.Contact, error)

	// FindValue asks "to" for the value stored under target. If "to"
	// holds it, found is true and raw carries the application value's
	// JSON text, opaque from this package's perspective. Otherwise found
	// is false and contacts carries "to"'s K closest known contacts to
	// target, exactly like FindNode.
	FindValue(ctx context.Context, to routing.Contact, target identifier.ID) (raw string, contacts []routing.Contact, found bool, err error)

	// Store asks "to" to hold value raw under key.
	Store(ctx context.Context, to routing.Contact, key identifier.ID, raw string) error
}

// Table is the routing-table seam the lookup engine reads and writes.
// Implemented by *routing.Table; declared here (rather than imported
// directly as a concrete type) purely for testability.
type Table interface {
	Closest(target identifier.ID, n int) []routing.Contact
	Update(ctx context.Context, c routing.Contact, pinger routing.Pinger) (bool, error)
}
