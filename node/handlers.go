package node

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kadnode/kadnode/identifier"
	"github.com/kadnode/kadnode/routing"
	"github.com/kadnode/kadnode/rpc"
	"github.com/kadnode/kadnode/storage"
)

// registerHandlers wires the four RPCs (spec §4.4) to the rpc.Client's
// method dispatch table. The observer (routing-table update on every
// well-formed message, before any of these run) is wired separately in
// New via client.SetObserver.
func (n *Node) registerHandlers() {
	n.client.RegisterHandler(rpc.MethodPing, n.handlePing)
	n.client.RegisterHandler(rpc.MethodStore, n.handleStore)
	n.client.RegisterHandler(rpc.MethodFindNode, n.handleFindNode)
	n.client.RegisterHandler(rpc.MethodFindValue, n.handleFindValue)
}

// handlePing answers with an empty result; its existence is the ack.
func (n *Node) handlePing(ctx context.Context, from routing.Contact, params json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(struct{}{})
}

// handleStore validates the incoming key and value, consults the
// Validator if one is configured, and on acceptance builds the stored
// record itself: publisher is the sender's nodeID, timestamp is now
// (spec §4.4). Rejections still reply with ok=false rather than
// dropping silently, resolving spec.md §9's "STORE acknowledgments"
// open question in favor of an explicit ack either way.
func (n *Node) handleStore(ctx context.Context, from routing.Contact, params json.RawMessage) (json.RawMessage, error) {
	var p storeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("node: decode STORE params: %w", err)
	}
	key, err := identifier.FromHex(p.Key)
	if err != nil || len(p.Value) == 0 {
		return json.Marshal(storeResult{OK: false})
	}
	if n.validator != nil && !n.validator.Validate(ctx, key.String(), p.Value) {
		return json.Marshal(storeResult{OK: false})
	}

	record := storage.Record{Value: p.Value, Publisher: from.NodeID.String(), Timestamp: time.Now()}
	raw, err := storage.Encode(record)
	if err != nil {
		return nil, fmt.Errorf("node: store: encode record: %w", err)
	}
	if err := n.storage.Put(ctx, key.String(), raw); err != nil {
		return nil, fmt.Errorf("node: store: %w", err)
	}
	return json.Marshal(storeResult{OK: true})
}

// handleFindNode answers with this node's K closest known contacts to
// the requested target.
func (n *Node) handleFindNode(ctx context.Context, from routing.Contact, params json.RawMessage) (json.RawMessage, error) {
	var p findNodeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("node: decode FIND_NODE params: %w", err)
	}
	target, err := identifier.FromHex(p.Target)
	if err != nil {
		return nil, fmt.Errorf("node: decode FIND_NODE target: %w", err)
	}
	contacts := n.table.Closest(target, n.k)
	return json.Marshal(findNodeResult{Contacts: contactsToWire(contacts)})
}

// handleFindValue answers with the stored record if present, otherwise
// falls back to FIND_NODE's behavior.
func (n *Node) handleFindValue(ctx context.Context, from routing.Contact, params json.RawMessage) (json.RawMessage, error) {
	var p findValueParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("node: decode FIND_VALUE params: %w", err)
	}
	target, err := identifier.FromHex(p.Target)
	if err != nil {
		return nil, fmt.Errorf("node: decode FIND_VALUE target: %w", err)
	}

	raw, err := n.storage.Get(ctx, target.String())
	if err == nil {
		record, decodeErr := storage.Decode(raw)
		if decodeErr != nil {
			return nil, fmt.Errorf("node: find value: decode record: %w", decodeErr)
		}
		return json.Marshal(findValueResult{Found: true, Value: record.Value})
	}
	if err != storage.ErrNotFound {
		return nil, fmt.Errorf("node: find value: %w", err)
	}

	contacts := n.table.Closest(target, n.k)
	return json.Marshal(findValueResult{Found: false, Contacts: contactsToWire(contacts)})
}

func contactsToWire(in []routing.Contact) []rpc.SenderInfo {
	out := make([]rpc.SenderInfo, len(in))
	for i, c := range in {
		out[i] = rpc.SenderInfoFromContact(c)
	}
	return out
}
