package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rowanlm/mcphub/internal/domain"
)

// Client speaks JSON-RPC to one MCP server over a Transport. Requests and
// responses are paired by request id, never by arrival order, so concurrent
// calls on one shared pipe are safe.
type Client struct {
	serverID     string
	transport    Transport
	mu           sync.RWMutex
	nextID       atomic.Int64
	pendingCalls map[any]chan *JSONRPCResponse
	initialized  bool
	dead         bool
	serverInfo   *ServerInfo
	closeCh      chan struct{}
	closeOnce    sync.Once
}

func NewClient(serverID string, transport Transport) *Client {
	return &Client{
		serverID:     serverID,
		transport:    transport,
		pendingCalls: make(map[any]chan *JSONRPCResponse),
		closeCh:      make(chan struct{}),
	}
}

// ServerID returns the registry identifier this client is bound to.
func (c *Client) ServerID() string { return c.serverID }

// Alive reports whether the client can still be used. A dead client must be
// replaced by the connection manager, never resurrected.
func (c *Client) Alive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized && !c.dead && c.transport.IsConnected()
}

// Initialize performs the MCP handshake and starts the receive loop.
func (c *Client) Initialize(ctx context.Context) error {
	go c.receiveLoop()

	params := map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      ClientInfo{Name: "mcphub", Version: "0.1.0"},
	}

	result, err := c.call(ctx, MethodInitialize, params)
	if err != nil {
		return fmt.Errorf("initialize failed: %w", err)
	}

	var initResult InitializeResult
	if err := json.Unmarshal(result, &initResult); err != nil {
		return fmt.Errorf("unmarshal initialize result: %w", err)
	}

	c.mu.Lock()
	c.initialized = true
	c.serverInfo = &initResult.ServerInfo
	c.mu.Unlock()

	if err := c.notify(ctx, MethodInitialized, nil); err != nil {
		return fmt.Errorf("send initialized notification: %w", err)
	}

	return nil
}

// ListTools fetches the complete tool catalog, following cursor pagination.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	var allTools []Tool
	var cursor *string

	for {
		params := map[string]any{}
		if cursor != nil {
			params["cursor"] = *cursor
		}

		result, err := c.call(ctx, MethodToolsList, params)
		if err != nil {
			return nil, fmt.Errorf("tools/list failed: %w", err)
		}

		var listResult ToolsListResult
		if err := json.Unmarshal(result, &listResult); err != nil {
			return nil, fmt.Errorf("unmarshal tools/list result: %w", err)
		}

		allTools = append(allTools, listResult.Tools...)

		if listResult.NextCursor == nil {
			break
		}
		cursor = listResult.NextCursor
	}

	return allTools, nil
}

// CallTool invokes one tool. The call is bounded only by the caller's
// context; a deadline expiry surfaces as TimeoutError and leaves the
// transport connected for reuse.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolsCallResult, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	params := map[string]any{"name": name}
	if arguments != nil {
		params["arguments"] = arguments
	}

	result, err := c.call(ctx, MethodToolsCall, params)
	if err != nil {
		return nil, err
	}

	var callResult ToolsCallResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		return nil, fmt.Errorf("unmarshal tools/call result: %w", err)
	}

	return &callResult, nil
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, MethodPing, map[string]any{})
	return err
}

func (c *Client) ServerInfo() *ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)

		c.mu.Lock()
		for _, ch := range c.pendingCalls {
			close(ch)
		}
		c.pendingCalls = make(map[any]chan *JSONRPCResponse)
		c.initialized = false
		c.dead = true
		c.mu.Unlock()

		if c.transport != nil {
			err = c.transport.Close()
		}
	})
	return err
}

func (c *Client) ready() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.initialized {
		return &domain.TransportError{Server: c.serverID, Op: "call", Err: fmt.Errorf("client not initialized")}
	}
	if c.dead {
		return &domain.TransportError{Server: c.serverID, Op: "call", Err: fmt.Errorf("client marked dead")}
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	req := NewJSONRPCRequest(id, method, params)

	respCh := make(chan *JSONRPCResponse, 1)
	c.mu.Lock()
	c.pendingCalls[id] = respCh
	c.mu.Unlock()

	// The entry stays registered until the call returns, so a late response
	// is still consumed off the wire (routed by id and dropped) rather than
	// left to corrupt the next exchange.
	defer func() {
		c.mu.Lock()
		delete(c.pendingCalls, id)
		c.mu.Unlock()
	}()

	if err := c.transport.Send(ctx, req); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &domain.TimeoutError{Server: c.serverID, Op: method}
		}
		return nil, ctx.Err()
	case resp, ok := <-respCh:
		if !ok {
			return nil, &domain.TransportError{Server: c.serverID, Op: method, Err: fmt.Errorf("connection closed")}
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("JSON-RPC error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	}
}

func (c *Client) notify(ctx context.Context, method string, params map[string]any) error {
	return c.transport.Send(ctx, NewJSONRPCNotification(method, params))
}

func (c *Client) receiveLoop() {
	for {
		select {
		case <-c.closeCh:
			return
		case msg := <-c.transport.Receive():
			if msg.Error != nil {
				// Transport failure (typically the subprocess exiting):
				// mark the client dead and fail every in-flight call.
				c.failPending(msg.Error)
				continue
			}
			c.handleMessage(msg.Data)
		}
	}
}

// failPending marks the client dead and closes all pending-call channels so
// waiting callers fail with TransportError instead of hanging.
func (c *Client) failPending(err error) {
	c.mu.Lock()
	c.dead = true
	for id, ch := range c.pendingCalls {
		close(ch)
		delete(c.pendingCalls, id)
	}
	c.mu.Unlock()
	slog.Warn("mcp client marked dead", "server", c.serverID, "error", err)
}

func (c *Client) handleMessage(data []byte) {
	var resp JSONRPCResponse
	if err := json.Unmarshal(data, &resp); err == nil && resp.ID != nil {
		c.handleResponse(&resp)
		return
	}
	// Server notifications (progress, cancelled, list-changed) are ignored;
	// only request/response traffic matters to this layer.
}

func (c *Client) handleResponse(resp *JSONRPCResponse) {
	// JSON numbers decode as float64 but ids are issued as int64.
	id := resp.ID
	if f, ok := id.(float64); ok {
		id = int64(f)
	}

	c.mu.RLock()
	ch, exists := c.pendingCalls[id]
	c.mu.RUnlock()

	if !exists {
		// Late response to a cancelled call; already consumed, drop it.
		return
	}

	select {
	case ch <- resp:
	default:
	}
}
