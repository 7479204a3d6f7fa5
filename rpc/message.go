// Package rpc implements the typed request/response wrapper over the
// pluggable Transport: message envelopes, request/reply correlation by
// id, and per-request timeouts (spec §4.3). Grounded on the teacher's
// packet-dispatch pattern (BootstrapManager.HandlePacket switching on a
// packet-type enum, transport.Transport.RegisterHandler keyed by packet
// type) generalized from Tox's fixed binary packet types to JSON
// envelopes dispatched by method name, and extended with the
// request/response correlation table and timeout timers the spec
// requires but the teacher's fire-and-forget packet sends do not have.
package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/kadnode/kadnode/identifier"
	"github.com/kadnode/kadnode/routing"
)

// Method names for the four RPCs (spec §4.4).
const (
	MethodPing      = "PING"
	MethodStore     = "STORE"
	MethodFindNode  = "FIND_NODE"
	MethodFindValue = "FIND_VALUE"
)

// ErrorPayload is the {code, message} shape carried by a failed response.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// SenderInfo identifies the contact that produced a message. Every
// message unconditionally includes one (spec §4.3).
type SenderInfo struct {
	Address string `json:"address"`
	Port    uint16 `json:"port"`
	NodeID  string `json:"node_id"`
}

// Contact converts sender info into a routing.Contact with the given
// LastSeen stamp.
func (s SenderInfo) Contact() (routing.Contact, error) {
	id, err := identifier.FromHex(s.NodeID)
	if err != nil {
		return routing.Contact{}, fmt.Errorf("rpc: sender node id: %w", err)
	}
	return routing.Contact{Address: s.Address, Port: s.Port, NodeID: id}, nil
}

// SenderInfoFromContact builds the wire sender descriptor for c.
func SenderInfoFromContact(c routing.Contact) SenderInfo {
	return SenderInfo{Address: c.Address, Port: c.Port, NodeID: c.NodeID.String()}
}

// Envelope is the wire message shape (spec §4.3 and §6): requests carry
// Method+Params, responses carry Result or Error. id correlates a
// response to its request and is otherwise opaque.
type Envelope struct {
	ID     string          `json:"id"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorPayload   `json:"error,omitempty"`
	Sender SenderInfo      `json:"sender"`
}

// IsRequest reports whether the envelope carries a method (spec §4.3:
// "inbound messages are routed by presence of method").
func (e Envelope) IsRequest() bool { return e.Method != "" }
