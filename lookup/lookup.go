package lookup

import (
	"context"
	"sync"
	"time"

	"github.com/kadnode/kadnode/identifier"
	"github.com/kadnode/kadnode/routing"
	"github.com/sirupsen/logrus"
)

// Mode selects what a lookup is searching for (spec §4.5).
type Mode int

const (
	// ModeNodes returns the K closest contacts to target globally known.
	ModeNodes Mode = iota
	// ModeValue returns the first value any responding contact holds for
	// target, or not-found plus the K closest contacts.
	ModeValue
)

// Defaults for an Engine's tunables, used when a zero value is supplied.
const (
	DefaultAlpha   = 3
	DefaultTimeout = 30 * time.Second
)

// Result is the outcome of a lookup.
type Result struct {
	// Contacts holds the K closest responded contacts. Always populated
	// in ModeNodes, and in ModeValue when no value was found.
	Contacts []routing.Contact
	// Value holds the found record's raw opaque bytes in ModeValue when
	// Found is true.
	Value string
	// Found reports whether a ModeValue lookup located the value.
	Found bool
}

// Engine runs iterative FIND_NODE/FIND_VALUE lookups against a routing
// table and an RPC Caller, implementing the shortlist state machine,
// ALPHA-bounded concurrency, and cache-at-closest-miss rule of spec
// §4.5. One Engine is reused across many lookups against the same node.
type Engine struct {
	Self    identifier.ID
	Table   Table
	Caller  Caller
	Pinger  routing.Pinger
	K       int
	Alpha   int
	Timeout time.Duration
	Logger  logrus.FieldLogger
}

// New builds an Engine, applying defaults for zero-valued tunables.
func New(self identifier.ID, table Table, caller Caller, pinger routing.Pinger, k, alpha int, timeout time.Duration, logger logrus.FieldLogger) *Engine {
	if k <= 0 {
		k = routing.DefaultK
	}
	if alpha <= 0 {
		alpha = DefaultAlpha
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{
		Self:    self,
		Table:   table,
		Caller:  caller,
		Pinger:  pinger,
		K:       k,
		Alpha:   alpha,
		Timeout: timeout,
		Logger:  logger,
	}
}

// FindNodes runs a nodes-mode lookup for target.
func (e *Engine) FindNodes(ctx context.Context, target identifier.ID) ([]routing.Contact, error) {
	res, err := e.run(ctx, target, ModeNodes)
	if err != nil {
		return nil, err
	}
	return res.Contacts, nil
}

// FindValue runs a value-mode lookup for target.
func (e *Engine) FindValue(ctx context.Context, target identifier.ID) (Result, error) {
	return e.run(ctx, target, ModeValue)
}

type roundOutcome struct {
	entry    *shortlistEntry
	contacts []routing.Contact
	value    string
	found    bool
	err      error
}

func (e *Engine) run(ctx context.Context, target identifier.ID, mode Mode) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	sl := newShortlist(target)
	sl.merge(e.Self, e.Table.Closest(target, e.K))

	closestSoFar := sl.closest()
	var cacheCandidate *routing.Contact

	for {
		batch := sl.selectUnqueried(e.Alpha)
		if len(batch) == 0 {
			break
		}

		var wg sync.WaitGroup
		outcomes := make([]roundOutcome, len(batch))
		for i, entry := range batch {
			i, entry := i, entry
			wg.Add(1)
			go func() {
				defer wg.Done()
				outcomes[i] = e.dispatch(ctx, entry, target, mode)
			}()
		}
		wg.Wait()

		var foundValue string
		var foundEntry *shortlistEntry
		for _, o := range outcomes {
			if o.err != nil {
				o.entry.state = failed
				continue
			}
			o.entry.state = responded
			if _, err := e.Table.Update(ctx, o.entry.contact, e.Pinger); err != nil {
				e.Logger.WithFields(logrus.Fields{
					"function": "Engine.run",
					"contact":  o.entry.contact.NodeID.String(),
					"error":    err.Error(),
				}).Debug("routing table update failed")
			}

			if mode == ModeValue && o.found {
				if foundEntry == nil {
					foundValue = o.value
					foundEntry = o.entry
				}
				continue
			}

			sl.merge(e.Self, o.contacts)

			if mode == ModeValue {
				if cacheCandidate == nil || identifier.LessDistance(
					mustDistance(target, o.entry.contact.NodeID),
					mustDistance(target, cacheCandidate.NodeID),
				) {
					c := o.entry.contact
					cacheCandidate = &c
				}
			}
		}

		if foundEntry != nil {
			if cacheCandidate != nil && e.Caller != nil {
				if err := e.Caller.Store(ctx, *cacheCandidate, target, foundValue); err != nil {
					e.Logger.WithFields(logrus.Fields{
						"function": "Engine.run",
						"contact":  cacheCandidate.NodeID.String(),
						"error":    err.Error(),
					}).Debug("cache-at-closest-miss store failed")
				}
			}
			return Result{Value: foundValue, Found: true}, nil
		}

		sl.truncate(e.K)

		newClosest := sl.closest()
		improved := false
		if newClosest != nil {
			if closestSoFar == nil || identifier.LessDistance(
				mustDistance(target, newClosest.contact.NodeID),
				mustDistance(target, closestSoFar.contact.NodeID),
			) {
				improved = true
			}
		}
		closestSoFar = newClosest

		if !improved && sl.closestKAllResponded(e.K) {
			break
		}
		if !sl.hasPendingOrUnqueried() {
			break
		}
	}

	return Result{Contacts: sl.respondedClosest(e.K)}, nil
}

func (e *Engine) dispatch(ctx context.Context, entry *shortlistEntry, target identifier.ID, mode Mode) roundOutcome {
	if mode == ModeValue {
		value, contacts, found, err := e.Caller.FindValue(ctx, entry.contact, target)
		return roundOutcome{entry: entry, contacts: contacts, value: value, found: found, err: err}
	}
	contacts, err := e.Caller.FindNode(ctx, entry.contact, target)
	return roundOutcome{entry: entry, contacts: contacts, err: err}
}

func mustDistance(a, b identifier.ID) identifier.ID {
	d, _ := identifier.Distance(a, b)
	return d
}
