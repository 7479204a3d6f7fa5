package node

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kadnode/kadnode/identifier"
	"github.com/kadnode/kadnode/routing"
	"github.com/kadnode/kadnode/storage"
	"github.com/sirupsen/logrus"
)

// Put implements spec §4.6's put: derives the key from keySeed,
// validates the value if a Validator is configured, then runs a nodes
// lookup and issues STORE to each resulting contact in parallel. Put
// succeeds if at least one STORE succeeds; the aggregate outcome does
// not require unanimity. The value travels over the wire as-is; each
// receiving node stamps its own record (publisher, timestamp) on
// acceptance.
func (n *Node) Put(ctx context.Context, keySeed []byte, value json.RawMessage) error {
	key, err := identifier.FromSeed(keySeed, n.bits)
	if err != nil {
		return fmt.Errorf("node: put: %w", err)
	}

	if n.validator != nil && !n.validator.Validate(ctx, key.String(), value) {
		return ErrInvalidValue
	}

	contacts, err := n.engine.FindNodes(ctx, key)
	if err != nil {
		return fmt.Errorf("node: put: lookup: %w", err)
	}
	if len(contacts) == 0 {
		return ErrNoContacts
	}

	raw := string(value)
	var wg sync.WaitGroup
	results := make([]error, len(contacts))
	for i, c := range contacts {
		i, c := i, c
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = n.Store(ctx, c, key, raw)
		}()
	}
	wg.Wait()

	succeeded := 0
	for i, storeErr := range results {
		if storeErr == nil {
			succeeded++
			continue
		}
		n.logger.WithFields(logrus.Fields{
			"function": "Node.Put",
			"contact":  contacts[i].NodeID.String(),
			"error":    storeErr.Error(),
		}).Debug("store attempt failed")
	}
	if succeeded == 0 {
		return ErrAllStoresFailed
	}
	return nil
}

// Get implements spec §4.6's get: consults local storage first, falling
// back to a value lookup across the network.
func (n *Node) Get(ctx context.Context, keySeed []byte) (json.RawMessage, error) {
	key, err := identifier.FromSeed(keySeed, n.bits)
	if err != nil {
		return nil, fmt.Errorf("node: get: %w", err)
	}

	if raw, err := n.storage.Get(ctx, key.String()); err == nil {
		record, decodeErr := storage.Decode(raw)
		if decodeErr != nil {
			return nil, fmt.Errorf("node: get: decode local record: %w", decodeErr)
		}
		return record.Value, nil
	} else if err != storage.ErrNotFound {
		return nil, fmt.Errorf("node: get: local storage: %w", err)
	}

	res, err := n.engine.FindValue(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("node: get: lookup: %w", err)
	}
	if !res.Found {
		return nil, storage.ErrNotFound
	}
	return json.RawMessage(res.Value), nil
}

// Join implements spec §4.6's join: inserts seed into the routing table
// (retrying with backoff if it doesn't initially respond — a resilience
// addition beyond the single-attempt distillation), runs a nodes lookup
// on self's own id to populate nearby buckets, then refreshes every
// non-empty bucket farther from self than the closest neighbor found by
// running a lookup on a random key within that bucket's range.
func (n *Node) Join(ctx context.Context, seed routing.Contact) error {
	backoff := n.joinBackoff
	alive := false
	for attempt := 0; attempt < n.joinAttempts; attempt++ {
		if n.Ping(ctx, seed) {
			alive = true
			break
		}
		if attempt == n.joinAttempts-1 {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > n.joinMaxBackoff {
			backoff = n.joinMaxBackoff
		}
	}
	if !alive {
		n.logger.WithFields(logrus.Fields{
			"function": "Node.Join",
			"seed":     seed.NodeID.String(),
		}).Warn("seed contact did not respond after retries; continuing with self-lookup anyway")
	}

	if _, err := n.table.Update(ctx, seed, n); err != nil {
		n.logger.WithFields(logrus.Fields{
			"function": "Node.Join",
			"seed":     seed.NodeID.String(),
			"error":    err.Error(),
		}).Debug("routing table update failed")
	}

	closest, err := n.engine.FindNodes(ctx, n.self.NodeID)
	if err != nil {
		return fmt.Errorf("node: join: self lookup: %w", err)
	}

	closestIdx := n.bits
	if len(closest) > 0 {
		if idx, ok, err := identifier.BucketIndex(n.self.NodeID, closest[0].NodeID); err == nil && ok {
			closestIdx = idx
		}
	}

	for _, idx := range n.table.NonEmptyBucketIndexes() {
		if idx >= closestIdx {
			continue
		}
		refreshTarget, err := identifier.RandomInBucket(n.self.NodeID, idx)
		if err != nil {
			continue
		}
		if _, err := n.engine.FindNodes(ctx, refreshTarget); err != nil {
			n.logger.WithFields(logrus.Fields{
				"function": "Node.Join",
				"bucket":   idx,
				"error":    err.Error(),
			}).Debug("bucket refresh lookup failed")
		}
	}

	return nil
}
