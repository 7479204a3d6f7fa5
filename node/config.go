// Package node assembles the routing table, RPC layer, lookup engine,
// storage, and maintenance scheduler into the public DHT node (spec
// §4.4/4.6/4.7). Grounded on the teacher's toxcore.Options/toxcore.New
// construction pattern: a Config struct validated eagerly by New before
// any collaborator does I/O, with optional fields defaulted rather than
// required.
package node

import (
	"fmt"
	"time"

	"github.com/kadnode/kadnode/identifier"
	"github.com/kadnode/kadnode/storage"
	"github.com/kadnode/kadnode/transport"
	"github.com/kadnode/kadnode/validator"
	"github.com/sirupsen/logrus"
)

// Defaults for Config's tunables (spec §6 "Constants (tunable,
// defaults)").
const (
	DefaultBits          = identifier.DefaultBits
	DefaultK             = 20
	DefaultAlpha         = 3
	DefaultRPCTimeout    = 5 * time.Second
	DefaultLookupTimeout = 30 * time.Second
	DefaultTReplicate    = time.Hour
	DefaultTRepublish    = 24 * time.Hour
	DefaultTExpire       = 24 * time.Hour
	DefaultJoinAttempts  = 3
	DefaultJoinBackoff   = 500 * time.Millisecond
	DefaultJoinMaxBackoff = 5 * time.Second
)

// Config is the set of collaborators and tunables a Node is built from.
// Storage is the only required field; everything else either defaults
// or is constructed automatically (spec §6 "Node construction options").
type Config struct {
	// Address and Port are this node's externally reachable address.
	// Required when Transport is nil (used to bind a UDP transport and,
	// absent NodeID, to derive one).
	Address string
	Port    uint16

	// NodeID, if non-nil, is used as-is instead of deriving one from
	// {Address, Port} (spec §9 open question on nodeID derivation:
	// production deployments should permit an explicit id).
	NodeID identifier.ID

	// Storage is the local key/value backend. Required.
	Storage storage.Store

	// Transport is the network transport. If nil, a UDP transport bound
	// to Address:Port is created.
	Transport transport.Transport

	// Validator is consulted on local Put. If nil, all values are
	// accepted.
	Validator validator.Validator

	// Logger receives structured log lines. If nil, logrus's standard
	// logger is used.
	Logger logrus.FieldLogger

	Bits  int
	K     int
	Alpha int

	RPCTimeout    time.Duration
	LookupTimeout time.Duration

	TReplicate time.Duration
	TRepublish time.Duration
	TExpire    time.Duration

	JoinAttempts   int
	JoinBackoff    time.Duration
	JoinMaxBackoff time.Duration
}

func (c *Config) setDefaults() {
	if c.Bits <= 0 {
		c.Bits = DefaultBits
	}
	if c.K <= 0 {
		c.K = DefaultK
	}
	if c.Alpha <= 0 {
		c.Alpha = DefaultAlpha
	}
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = DefaultRPCTimeout
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = DefaultLookupTimeout
	}
	if c.TReplicate <= 0 {
		c.TReplicate = DefaultTReplicate
	}
	if c.TRepublish <= 0 {
		c.TRepublish = DefaultTRepublish
	}
	if c.TExpire <= 0 {
		c.TExpire = DefaultTExpire
	}
	if c.JoinAttempts <= 0 {
		c.JoinAttempts = DefaultJoinAttempts
	}
	if c.JoinBackoff <= 0 {
		c.JoinBackoff = DefaultJoinBackoff
	}
	if c.JoinMaxBackoff <= 0 {
		c.JoinMaxBackoff = DefaultJoinMaxBackoff
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
}

func (c *Config) validate() error {
	if c.Storage == nil {
		return fmt.Errorf("node: Config.Storage is required")
	}
	if c.Transport == nil && c.Address == "" {
		return fmt.Errorf("node: Config.Address is required when Config.Transport is nil")
	}
	return nil
}
