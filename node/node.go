package node

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/kadnode/kadnode/identifier"
	"github.com/kadnode/kadnode/lookup"
	"github.com/kadnode/kadnode/routing"
	"github.com/kadnode/kadnode/rpc"
	"github.com/kadnode/kadnode/storage"
	"github.com/kadnode/kadnode/transport"
	"github.com/kadnode/kadnode/validator"
	"github.com/sirupsen/logrus"
)

// Node is a complete DHT participant: routing table, RPC client, lookup
// engine, storage, and maintenance scheduler wired together (spec §4).
type Node struct {
	self      routing.Contact
	bits      int
	k         int
	storage   storage.Store
	validator validator.Validator
	logger    logrus.FieldLogger
	transport transport.Transport

	table  *routing.Table
	client *rpc.Client
	engine *lookup.Engine

	maint *maintenanceScheduler

	joinAttempts   int
	joinBackoff    time.Duration
	joinMaxBackoff time.Duration
}

// New validates cfg, constructs any collaborator left unset (transport,
// nodeID), and wires the routing table, RPC client, and lookup engine
// together. No I/O beyond binding the transport's local socket happens
// here; background maintenance starts only on Start.
func New(cfg Config) (*Node, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.setDefaults()

	t := cfg.Transport
	if t == nil {
		addr := net.JoinHostPort(cfg.Address, strconv.Itoa(int(cfg.Port)))
		udp, err := transport.NewUDPTransport(addr, cfg.Logger)
		if err != nil {
			return nil, fmt.Errorf("node: bind transport: %w", err)
		}
		t = udp
	}

	nodeID := cfg.NodeID
	if nodeID == nil {
		seed := []byte(fmt.Sprintf("%s:%d", cfg.Address, cfg.Port))
		id, err := identifier.FromSeed(seed, cfg.Bits)
		if err != nil {
			return nil, fmt.Errorf("node: derive node id: %w", err)
		}
		nodeID = id
	}

	n := &Node{
		bits:           cfg.Bits,
		k:              cfg.K,
		storage:        cfg.Storage,
		validator:      cfg.Validator,
		logger:         cfg.Logger,
		transport:      t,
		joinAttempts:   cfg.JoinAttempts,
		joinBackoff:    cfg.JoinBackoff,
		joinMaxBackoff: cfg.JoinMaxBackoff,
	}
	n.self = routing.Contact{Address: cfg.Address, Port: cfg.Port, NodeID: nodeID}
	n.table = routing.New(nodeID, cfg.Bits, cfg.K, cfg.Logger)
	n.client = rpc.New(t, func() routing.Contact { return n.self }, cfg.RPCTimeout, cfg.Logger)
	n.client.SetObserver(n.observe)
	n.engine = lookup.New(nodeID, n.table, n, n, cfg.K, cfg.Alpha, cfg.LookupTimeout, cfg.Logger)
	n.maint = newMaintenanceScheduler(n, cfg.TReplicate, cfg.TRepublish, cfg.TExpire, cfg.Logger)

	n.registerHandlers()

	return n, nil
}

// Self returns this node's own contact info.
func (n *Node) Self() routing.Contact { return n.self }

// Table returns the routing table, for diagnostics.
func (n *Node) Table() *routing.Table { return n.table }

// Start begins the background maintenance scheduler (spec §4.7). It is
// idempotent.
func (n *Node) Start() {
	n.maint.Start()
}

// Stop halts the background maintenance scheduler and closes the RPC
// client, releasing any pending calls with an error. It does not close
// the underlying transport, whether the caller supplied it or New
// created it.
func (n *Node) Stop() {
	n.maint.Stop()
	n.client.Close()
}

// observe is the rpc.Client observer: every well-formed inbound message
// updates the routing table with its sender before any method-specific
// handling runs (spec §4.3).
func (n *Node) observe(c routing.Contact) {
	if _, err := n.table.Update(context.Background(), c, n); err != nil {
		n.logger.WithFields(logrus.Fields{
			"function": "Node.observe",
			"contact":  c.NodeID.String(),
			"error":    err.Error(),
		}).Debug("routing table update failed")
	}
}

// Ping implements routing.Pinger by issuing a PING RPC.
func (n *Node) Ping(ctx context.Context, c routing.Contact) bool {
	_, err := n.client.Call(ctx, c, rpc.MethodPing, struct{}{})
	return err == nil
}
