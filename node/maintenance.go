package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kadnode/kadnode/identifier"
	"github.com/kadnode/kadnode/storage"
	"github.com/sirupsen/logrus"
)

// maintenanceScheduler runs the three periodic passes of spec §4.7
// (replicate, expire, republish) plus a routing-table diagnostics pass,
// each a singleton goroutine driven by its own ticker. Grounded on
// dht.Maintainer's Start/Stop/ticker-per-routine shape (opd-ai/toxcore),
// retargeted from node-liveness pinging to storage-scan passes.
type maintenanceScheduler struct {
	node *Node

	tReplicate time.Duration
	tRepublish time.Duration
	tExpire    time.Duration
	logger     logrus.FieldLogger

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

func newMaintenanceScheduler(n *Node, tReplicate, tRepublish, tExpire time.Duration, logger logrus.FieldLogger) *maintenanceScheduler {
	return &maintenanceScheduler{
		node:       n,
		tReplicate: tReplicate,
		tRepublish: tRepublish,
		tExpire:    tExpire,
		logger:     logger,
	}
}

// Start begins the four maintenance passes. It is idempotent.
func (m *maintenanceScheduler) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isRunning {
		return
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.isRunning = true
	m.wg.Add(4)
	go m.loop(m.tReplicate, m.runReplicate, "replicate")
	go m.loop(m.tExpire, m.runExpire, "expire")
	go m.loop(m.tRepublish, m.runRepublish, "republish")
	go m.loop(m.tReplicate, m.runDiagnostics, "diagnostics")
}

// Stop halts every maintenance pass and waits for in-flight scans to
// drain. It is idempotent.
func (m *maintenanceScheduler) Stop() {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return
	}
	m.isRunning = false
	m.cancel()
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *maintenanceScheduler) loop(interval time.Duration, pass func(context.Context) error, name string) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if err := pass(m.ctx); err != nil {
				m.logger.WithFields(logrus.Fields{
					"function": "maintenanceScheduler.loop",
					"pass":     name,
					"error":    err.Error(),
				}).Warn("maintenance pass failed")
			}
		}
	}
}

// runDiagnostics logs routing-table operational visibility: the total
// known contact count and the mean ping-reliability across every known
// contact, grounded on dht.RoutingTable.GetTotalNodeCount's use in the
// teacher's own status logging.
func (m *maintenanceScheduler) runDiagnostics(ctx context.Context) error {
	contacts := m.node.table.AllContacts()
	var reliabilitySum float64
	for _, c := range contacts {
		reliabilitySum += c.PingStats.Reliability()
	}
	avgReliability := 0.0
	if len(contacts) > 0 {
		avgReliability = reliabilitySum / float64(len(contacts))
	}

	m.logger.WithFields(logrus.Fields{
		"function":        "maintenanceScheduler.runDiagnostics",
		"total_nodes":     m.node.table.TotalNodeCount(),
		"avg_reliability": avgReliability,
	}).Info("routing table diagnostics")
	return nil
}

// runExpire deletes every locally stored item whose timestamp is
// strictly older than tExpire (spec §4.7: a current-timestamp item must
// survive).
func (m *maintenanceScheduler) runExpire(ctx context.Context) error {
	n := m.node
	scanner, err := n.storage.Scan(ctx)
	if err != nil {
		return fmt.Errorf("node: expire pass: scan: %w", err)
	}
	defer scanner.Close()

	now := time.Now()
	var toDelete []string
	for scanner.Next() {
		entry := scanner.Entry()
		record, err := storage.Decode(entry.Value)
		if err != nil {
			continue
		}
		if now.Sub(record.Timestamp) > m.tExpire {
			toDelete = append(toDelete, entry.Key)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("node: expire pass: %w", err)
	}

	for _, key := range toDelete {
		if err := n.storage.Del(ctx, key); err != nil {
			m.logger.WithFields(logrus.Fields{
				"function": "maintenanceScheduler.runExpire",
				"key":      key,
				"error":    err.Error(),
			}).Debug("delete failed")
		}
	}
	return nil
}

// runReplicate re-publishes every item not published by this node that
// has not been touched in tRepublish, so the K closest nodes continue
// to hold it (spec §4.7). Self-published items are skipped here; they
// are handled by runRepublish on its own ticker.
func (m *maintenanceScheduler) runReplicate(ctx context.Context) error {
	return m.node.scanAndRepublish(ctx, m.tRepublish, func(record storage.Record) bool {
		return record.Publisher != m.node.self.NodeID.String()
	})
}

// runRepublish is the self-published-item specialization of replicate.
func (m *maintenanceScheduler) runRepublish(ctx context.Context) error {
	return m.node.scanAndRepublish(ctx, m.tRepublish, func(record storage.Record) bool {
		return record.Publisher == m.node.self.NodeID.String()
	})
}

// scanAndRepublish scans local storage and republishes every entry
// whose record satisfies selector and is due (untouched longer than
// due). Republished entries have their stored timestamp bumped to now
// so they are not immediately re-selected next tick.
func (n *Node) scanAndRepublish(ctx context.Context, due time.Duration, selector func(storage.Record) bool) error {
	scanner, err := n.storage.Scan(ctx)
	if err != nil {
		return fmt.Errorf("node: republish pass: scan: %w", err)
	}
	defer scanner.Close()

	type candidate struct {
		key    string
		record storage.Record
	}
	var candidates []candidate
	now := time.Now()
	for scanner.Next() {
		entry := scanner.Entry()
		record, err := storage.Decode(entry.Value)
		if err != nil {
			continue
		}
		if !selector(record) {
			continue
		}
		if now.Sub(record.Timestamp) < due {
			continue
		}
		candidates = append(candidates, candidate{key: entry.Key, record: record})
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("node: republish pass: %w", err)
	}

	for _, c := range candidates {
		id, err := identifier.FromHex(c.key)
		if err != nil {
			continue
		}
		c.record.Timestamp = now
		if err := n.republishKey(ctx, id, string(c.record.Value)); err != nil {
			n.logger.WithFields(logrus.Fields{
				"function": "Node.scanAndRepublish",
				"key":      c.key,
				"error":    err.Error(),
			}).Debug("republish failed")
			continue
		}
		raw, err := storage.Encode(c.record)
		if err != nil {
			continue
		}
		if err := n.storage.Put(ctx, c.key, raw); err != nil {
			n.logger.WithFields(logrus.Fields{
				"function": "Node.scanAndRepublish",
				"key":      c.key,
				"error":    err.Error(),
			}).Debug("local timestamp refresh failed")
		}
	}
	return nil
}

// republishKey stores the application value under key to the K closest
// known nodes, bypassing Put's seed-hashing and validator steps since
// the value already passed validation when it was first accepted.
func (n *Node) republishKey(ctx context.Context, key identifier.ID, raw string) error {
	contacts, err := n.engine.FindNodes(ctx, key)
	if err != nil {
		return fmt.Errorf("node: republish: lookup: %w", err)
	}
	if len(contacts) == 0 {
		return ErrNoContacts
	}

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

	for _, err := range results {
		if err == nil {
			return nil
		}
	}
	return ErrAllStoresFailed
}
