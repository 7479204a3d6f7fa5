package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kadnode/kadnode/routing"
	"github.com/kadnode/kadnode/transport"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout is the default per-request RPC timeout (spec §6: "a few
// seconds").
const DefaultTimeout = 5 * time.Second

// HandlerFunc processes an inbound request and returns the result to
// reply with, or an error to reply with as an error payload.
type HandlerFunc func(ctx context.Context, from routing.Contact, params json.RawMessage) (json.RawMessage, error)

type pendingCall struct {
	resultCh chan callResult
	timer    *time.Timer
}

type callResult struct {
	result json.RawMessage
	err    error
}

// Client is the typed RPC layer wrapping a Transport: it assigns fresh
// ids to outgoing requests, tracks them in a correlation table with a
// timeout timer each, and dispatches inbound messages either to a
// pending call (responses) or to a registered method handler (requests).
type Client struct {
	transport transport.Transport
	self      func() routing.Contact
	timeout   time.Duration
	logger    logrus.FieldLogger

	mu      sync.Mutex
	pending map[string]*pendingCall

	handlersMu sync.RWMutex
	handlers   map[string]HandlerFunc

	observeMu sync.RWMutex
	observe   func(routing.Contact)

	closed bool
}

// New creates a Client over t. self is called to obtain the current
// local contact info to stamp onto every outgoing message (a function,
// not a value, because the local node id may not be finalized until
// after construction). A zero timeout selects DefaultTimeout.
func New(t transport.Transport, self func() routing.Contact, timeout time.Duration, logger logrus.FieldLogger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	c := &Client{
		transport: t,
		self:      self,
		timeout:   timeout,
		logger:    logger,
		pending:   make(map[string]*pendingCall),
		handlers:  make(map[string]HandlerFunc),
	}
	t.SetHandler(c.handleInbound)
	return c
}

// RegisterHandler associates method with the function that answers
// requests for it.
func (c *Client) RegisterHandler(method string, fn HandlerFunc) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[method] = fn
}

// SetObserver registers the function invoked for the sender of every
// well-formed inbound message, request or response alike, before any
// method-specific handling runs (spec §4.3: "every receipt of a
// well-formed message causes routing_table.update(sender) before any
// method-specific logic").
func (c *Client) SetObserver(fn func(routing.Contact)) {
	c.observeMu.Lock()
	defer c.observeMu.Unlock()
	c.observe = fn
}

// Call issues a request to "to" and blocks until a response arrives, the
// per-request timeout elapses, or ctx is canceled.
func (c *Client) Call(ctx context.Context, to routing.Contact, method string, params interface{}) (json.RawMessage, error) {
	paramsRaw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal params: %w", err)
	}

	id := uuid.NewString()
	env := Envelope{
		ID:     id,
		Method: method,
		Params: paramsRaw,
		Sender: SenderInfoFromContact(c.self()),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal envelope: %w", err)
	}

	resultCh := make(chan callResult, 1)
	call := &pendingCall{resultCh: resultCh}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = call
	c.mu.Unlock()

	call.timer = time.AfterFunc(c.timeout, func() {
		c.deliver(id, callResult{err: ErrTimeout})
	})
	defer call.timer.Stop()

	addr := net.JoinHostPort(to.Address, strconv.Itoa(int(to.Port)))
	if err := c.transport.Send(ctx, addr, payload); err != nil {
		c.deliver(id, callResult{err: fmt.Errorf("%w: %v", ErrTransport, err)})
	}

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		return res.result, nil
	case <-ctx.Done():
		c.deliver(id, callResult{err: ctx.Err()})
		return nil, ctx.Err()
	}
}

// deliver completes a pending call exactly once; later calls for the
// same id (e.g. timeout racing a late response) are no-ops.
func (c *Client) deliver(id string, res callResult) {
	c.mu.Lock()
	call, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case call.resultCh <- res:
	default:
	}
}

// handleInbound is registered as the transport's Handler. It decodes the
// envelope, observes the sender unconditionally, and then either
// dispatches to a method handler (request) or resolves a pending call
// (response). Malformed messages are dropped silently with a log line
// (spec §7).
func (c *Client) handleInbound(payload []byte, from string) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		c.logger.WithFields(logrus.Fields{
			"function": "Client.handleInbound",
			"from":     from,
			"error":    err.Error(),
		}).Debug("dropping malformed message")
		return
	}

	sender, err := env.Sender.Contact()
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"function": "Client.handleInbound",
			"from":     from,
			"error":    err.Error(),
		}).Debug("dropping message with malformed sender")
		return
	}
	if sender.Address == "" {
		if host, _, splitErr := net.SplitHostPort(from); splitErr == nil {
			sender.Address = host
		}
	}
	sender.LastSeen = time.Now()

	c.observeMu.RLock()
	observe := c.observe
	c.observeMu.RUnlock()
	if observe != nil {
		observe(sender)
	}

	if env.IsRequest() {
		c.dispatchRequest(env, sender, from)
		return
	}

	var res callResult
	if env.Error != nil {
		res.err = &RemoteError{Code: env.Error.Code, Message: env.Error.Message}
	} else {
		res.result = env.Result
	}
	c.deliver(env.ID, res)
}

func (c *Client) dispatchRequest(env Envelope, sender routing.Contact, from string) {
	c.handlersMu.RLock()
	handler, ok := c.handlers[env.Method]
	c.handlersMu.RUnlock()
	if !ok {
		c.logger.WithFields(logrus.Fields{
			"function": "Client.dispatchRequest",
			"method":   env.Method,
		}).Debug("no handler registered, dropping request")
		return
	}

	result, err := handler(context.Background(), sender, env.Params)

	resp := Envelope{
		ID:     env.ID,
		Sender: SenderInfoFromContact(c.self()),
	}
	if err != nil {
		resp.Error = &ErrorPayload{Message: err.Error()}
	} else {
		resp.Result = result
	}

	payload, marshalErr := json.Marshal(resp)
	if marshalErr != nil {
		c.logger.WithFields(logrus.Fields{
			"function": "Client.dispatchRequest",
			"error":    marshalErr.Error(),
		}).Warn("failed to marshal response")
		return
	}
	if sendErr := c.transport.Send(context.Background(), from, payload); sendErr != nil {
		c.logger.WithFields(logrus.Fields{
			"function": "Client.dispatchRequest",
			"to":       from,
			"error":    sendErr.Error(),
		}).Debug("failed to send response")
	}
}

// Close releases every pending call with ErrClosed. It does not close
// the underlying transport, which the caller owns.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]*pendingCall)
	c.mu.Unlock()

	for _, call := range pending {
		select {
		case call.resultCh <- callResult{err: ErrClosed}:
		default:
		}
	}
}
