package node

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kadnode/kadnode/identifier"
	"github.com/kadnode/kadnode/routing"
	"github.com/kadnode/kadnode/rpc"
)

// FindNode implements lookup.Caller by issuing a FIND_NODE RPC.
func (n *Node) FindNode(ctx context.Context, to routing.Contact, target identifier.ID) ([]routing.Contact, error) {
	raw, err := n.client.Call(ctx, to, rpc.MethodFindNode, findNodeParams{Target: target.String()})
	if err != nil {
		return nil, err
	}
	var res findNodeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("node: decode FIND_NODE result: %w", err)
	}
	return contactsFromWire(res.Contacts), nil
}

// FindValue implements lookup.Caller by issuing a FIND_VALUE RPC.
func (n *Node) FindValue(ctx context.Context, to routing.Contact, target identifier.ID) (string, []routing.Contact, bool, error) {
	raw, err := n.client.Call(ctx, to, rpc.MethodFindValue, findValueParams{Target: target.String()})
	if err != nil {
		return "", nil, false, err
	}
	var res findValueResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", nil, false, fmt.Errorf("node: decode FIND_VALUE result: %w", err)
	}
	if res.Found {
		return string(res.Value), nil, true, nil
	}
	return "", contactsFromWire(res.Contacts), false, nil
}

// Store implements lookup.Caller by issuing a STORE RPC. raw is the
// application value's JSON text; the receiving node builds and stamps
// its own record around it. A reply with ok=false is reported as an
// error.
func (n *Node) Store(ctx context.Context, to routing.Contact, key identifier.ID, raw string) error {
	reply, err := n.client.Call(ctx, to, rpc.MethodStore, storeParams{Key: key.String(), Value: json.RawMessage(raw)})
	if err != nil {
		return err
	}
	var res storeResult
	if err := json.Unmarshal(reply, &res); err != nil {
		return fmt.Errorf("node: decode STORE result: %w", err)
	}
	if !res.OK {
		return fmt.Errorf("node: STORE rejected by %s", to.NodeID.String())
	}
	return nil
}

func contactsFromWire(in []rpc.SenderInfo) []routing.Contact {
	out := make([]routing.Contact, 0, len(in))
	for _, s := range in {
		c, err := s.Contact()
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}
