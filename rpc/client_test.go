package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kadnode/kadnode/identifier"
	"github.com/kadnode/kadnode/routing"
	"github.com/kadnode/kadnode/transport"
)

// fakeNetwork wires multiple fakeTransports together in-process, keyed by
// address, so rpc.Client can be tested without real sockets.
type fakeNetwork struct {
	mu    sync.Mutex
	nodes map[string]*fakeTransport
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{nodes: make(map[string]*fakeTransport)}
}

type fakeTransport struct {
	net     *fakeNetwork
	addr    string
	handler transport.Handler
	drop    bool
}

func (n *fakeNetwork) newTransport(addr string) *fakeTransport {
	t := &fakeTransport{net: n, addr: addr}
	n.mu.Lock()
	n.nodes[addr] = t
	n.mu.Unlock()
	return t
}

func (t *fakeTransport) Send(ctx context.Context, addr string, payload []byte) error {
	if t.drop {
		return nil
	}
	t.net.mu.Lock()
	peer, ok := t.net.nodes[addr]
	t.net.mu.Unlock()
	if !ok {
		return fmt.Errorf("fake transport: no node at %s", addr)
	}
	if peer.handler != nil {
		go peer.handler(payload, t.addr)
	}
	return nil
}

func (t *fakeTransport) LocalAddr() string            { return t.addr }
func (t *fakeTransport) SetHandler(h transport.Handler) { t.handler = h }
func (t *fakeTransport) Close() error                  { return nil }

func newContact(t *testing.T, seed, addr string, port uint16) routing.Contact {
	t.Helper()
	id, err := identifier.FromSeed([]byte(seed), 160)
	if err != nil {
		t.Fatal(err)
	}
	return routing.Contact{NodeID: id, Address: addr, Port: port}
}

func TestClientPingRoundTrip(t *testing.T) {
	net := newFakeNetwork()
	aContact := newContact(t, "a", "127.0.0.1", 1)
	bContact := newContact(t, "b", "127.0.0.1", 2)

	aTransport := net.newTransport("127.0.0.1:1")
	bTransport := net.newTransport("127.0.0.1:2")

	a := New(aTransport, func() routing.Contact { return aContact }, time.Second, nil)
	b := New(bTransport, func() routing.Contact { return bContact }, time.Second, nil)

	b.RegisterHandler(MethodPing, func(ctx context.Context, from routing.Contact, params json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(map[string]string{"pong": "ok"})
	})

	var observed []routing.Contact
	var mu sync.Mutex
	b.SetObserver(func(c routing.Contact) {
		mu.Lock()
		observed = append(observed, c)
		mu.Unlock()
	})

	result, err := a.Call(context.Background(), bContact, MethodPing, map[string]string{})
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]string
	if err := json.Unmarshal(result, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["pong"] != "ok" {
		t.Fatalf("unexpected result: %v", decoded)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(observed) != 1 || !observed[0].Equal(aContact) {
		t.Fatalf("expected b to observe a exactly once, got %v", observed)
	}
}

func TestClientTimeout(t *testing.T) {
	net := newFakeNetwork()
	aContact := newContact(t, "a", "127.0.0.1", 10)
	bContact := newContact(t, "b", "127.0.0.1", 11)

	aTransport := net.newTransport("127.0.0.1:10")
	net.newTransport("127.0.0.1:11") // b never registers a handler

	a := New(aTransport, func() routing.Contact { return aContact }, 50*time.Millisecond, nil)

	_, err := a.Call(context.Background(), bContact, MethodPing, map[string]string{})
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestClientUnknownMethodDropsRequest(t *testing.T) {
	net := newFakeNetwork()
	aContact := newContact(t, "a", "127.0.0.1", 20)
	bContact := newContact(t, "b", "127.0.0.1", 21)

	aTransport := net.newTransport("127.0.0.1:20")
	bTransport := net.newTransport("127.0.0.1:21")

	a := New(aTransport, func() routing.Contact { return aContact }, 50*time.Millisecond, nil)
	New(bTransport, func() routing.Contact { return bContact }, time.Second, nil) // no handlers registered

	_, err := a.Call(context.Background(), bContact, "NOT_A_METHOD", map[string]string{})
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout for unhandled method, got %v", err)
	}
}
