package node

import (
	"encoding/json"

	"github.com/kadnode/kadnode/rpc"
)

// Wire parameter/result shapes for the four RPCs (spec §4.4). Contacts
// are exchanged using rpc.SenderInfo, the same shape every envelope
// already carries for its own sender, so there is exactly one contact
// encoding in the whole protocol.

type findNodeParams struct {
	Target string `json:"target"`
}

type findNodeResult struct {
	Contacts []rpc.SenderInfo `json:"contacts"`
}

type findValueParams struct {
	Target string `json:"target"`
}

type findValueResult struct {
	Found    bool             `json:"found"`
	Value    json.RawMessage  `json:"value,omitempty"`
	Contacts []rpc.SenderInfo `json:"contacts"`
}

// storeParams carries the raw application value, not an encoded record:
// the receiving node builds the record itself, setting publisher to the
// sender's nodeID and timestamp to now (spec §4.4).
type storeParams struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type storeResult struct {
	OK bool `json:"ok"`
}
