package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rowanlm/mcphub/internal/domain"
)

// mockTransport scripts server behavior: handler receives each decoded
// request and returns the result payload (or an error object).
type mockTransport struct {
	mu        sync.Mutex
	handler   func(req *JSONRPCRequest) (any, *JSONRPCError)
	sent      []*JSONRPCRequest
	receiveCh chan Message
	closeOnce sync.Once
	connected bool
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		receiveCh: make(chan Message, 16),
		connected: true,
	}
}

func (m *mockTransport) Send(ctx context.Context, message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}

	m.mu.Lock()
	m.sent = append(m.sent, &req)
	handler := m.handler
	m.mu.Unlock()

	if req.ID == nil || handler == nil {
		return nil // notification, or no scripted reply
	}

	result, rpcErr := handler(&req)
	if result == nil && rpcErr == nil {
		return nil // handler chose not to reply
	}
	resp := JSONRPCResponse{JSONRPC: JSONRPCVersion, ID: req.ID, Error: rpcErr}
	if rpcErr == nil {
		resp.Result, _ = json.Marshal(result)
	}
	data, _ = json.Marshal(resp)
	m.receiveCh <- Message{Data: data}
	return nil
}

func (m *mockTransport) Receive() <-chan Message { return m.receiveCh }

func (m *mockTransport) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.connected = false
		m.mu.Unlock()
	})
	return nil
}

func (m *mockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// echoHandler speaks enough MCP for a full handshake + echo tool.
func echoHandler(req *JSONRPCRequest) (any, *JSONRPCError) {
	switch req.Method {
	case MethodInitialize:
		return InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      ServerInfo{Name: "echo-server", Version: "1.0"},
		}, nil
	case MethodToolsList:
		return ToolsListResult{
			Tools: []Tool{{
				Name:        "echo",
				Description: "Echoes its input back",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"text": map[string]any{"type": "string", "description": "Text to echo"},
					},
					"required": []any{"text"},
				},
			}},
		}, nil
	case MethodToolsCall:
		args, _ := req.Params["arguments"].(map[string]any)
		text, _ := args["text"].(string)
		return ToolsCallResult{Content: []ContentItem{{Type: "text", Text: text}}}, nil
	case MethodPing:
		return map[string]any{}, nil
	}
	return nil, &JSONRPCError{Code: -32601, Message: "method not found"}
}

func newEchoClient(t *testing.T) (*Client, *mockTransport) {
	t.Helper()
	transport := newMockTransport()
	transport.handler = echoHandler

	client := NewClient("echo-tool", transport)
	if err := client.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, transport
}

func TestClient_Initialize(t *testing.T) {
	client, transport := newEchoClient(t)

	if !client.Alive() {
		t.Error("expected client to be alive after initialize")
	}
	if got := client.ServerInfo().Name; got != "echo-server" {
		t.Errorf("server name = %q, want echo-server", got)
	}

	// Handshake must end with the initialized notification.
	transport.mu.Lock()
	defer transport.mu.Unlock()
	var sawNotification bool
	for _, req := range transport.sent {
		if req.Method == MethodInitialized && req.ID == nil {
			sawNotification = true
		}
	}
	if !sawNotification {
		t.Error("expected notifications/initialized to be sent")
	}
}

func TestClient_ListTools(t *testing.T) {
	client, _ := newEchoClient(t)

	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "echo" {
		t.Fatalf("tools = %+v, want one echo tool", tools)
	}
}

func TestClient_ListTools_Pagination(t *testing.T) {
	transport := newMockTransport()
	page := 0
	transport.handler = func(req *JSONRPCRequest) (any, *JSONRPCError) {
		switch req.Method {
		case MethodInitialize:
			return InitializeResult{ProtocolVersion: ProtocolVersion}, nil
		case MethodToolsList:
			page++
			if page == 1 {
				cursor := "next"
				return ToolsListResult{
					Tools:      []Tool{{Name: "first", InputSchema: map[string]any{}}},
					NextCursor: &cursor,
				}, nil
			}
			if got, _ := req.Params["cursor"].(string); got != "next" {
				return nil, &JSONRPCError{Code: -32602, Message: "bad cursor " + got}
			}
			return ToolsListResult{Tools: []Tool{{Name: "second", InputSchema: map[string]any{}}}}, nil
		}
		return nil, &JSONRPCError{Code: -32601, Message: "method not found"}
	}

	client := NewClient("paged", transport)
	if err := client.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 2 || tools[0].Name != "first" || tools[1].Name != "second" {
		t.Fatalf("tools = %+v, want first+second", tools)
	}
}

func TestClient_CallTool(t *testing.T) {
	client, _ := newEchoClient(t)

	result, err := client.CallTool(context.Background(), "echo", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "hi" {
		t.Fatalf("result = %+v, want echoed text", result)
	}
}

func TestClient_CallTool_Timeout(t *testing.T) {
	transport := newMockTransport()
	transport.handler = func(req *JSONRPCRequest) (any, *JSONRPCError) {
		if req.Method == MethodInitialize {
			return InitializeResult{ProtocolVersion: ProtocolVersion}, nil
		}
		return nil, nil // swallow: the response never arrives
	}

	client := NewClient("slow", transport)
	if err := client.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := client.CallTool(ctx, "echo", nil)
		done <- err
	}()

	select {
	case err := <-done:
		if !domain.IsTimeout(err) {
			t.Fatalf("expected TimeoutError, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("call did not return after deadline")
	}

	// A timeout is not evidence of a dead connection.
	if !client.Alive() {
		t.Error("client should remain alive after a timeout")
	}
}

func TestClient_ResponsesPairedByID(t *testing.T) {
	// Responses delivered out of order must still reach their callers.
	transport := newMockTransport()
	var mu sync.Mutex
	var pending []*JSONRPCRequest

	transport.handler = func(req *JSONRPCRequest) (any, *JSONRPCError) {
		if req.Method == MethodInitialize {
			return InitializeResult{ProtocolVersion: ProtocolVersion}, nil
		}

		mu.Lock()
		pending = append(pending, req)
		reqs := append([]*JSONRPCRequest(nil), pending...)
		n := len(pending)
		mu.Unlock()

		// Once both calls are in flight, reply in reverse arrival order.
		if n == 2 {
			for i := len(reqs) - 1; i >= 0; i-- {
				r := reqs[i]
				args, _ := r.Params["arguments"].(map[string]any)
				text, _ := args["text"].(string)
				result := ToolsCallResult{Content: []ContentItem{{Type: "text", Text: text}}}
				resp := JSONRPCResponse{JSONRPC: JSONRPCVersion, ID: r.ID}
				resp.Result, _ = json.Marshal(result)
				data, _ := json.Marshal(resp)
				transport.receiveCh <- Message{Data: data}
			}
		}
		return nil, nil // replies are delivered manually above
	}

	client := NewClient("ordered", transport)
	if err := client.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	var wg sync.WaitGroup
	results := make([]string, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := client.CallTool(context.Background(), "echo", map[string]any{"text": fmt.Sprintf("call-%d", i)})
			errs[i] = err
			if err == nil {
				results[i] = r.Content[0].Text
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("call %d failed: %v", i, errs[i])
		}
		want := fmt.Sprintf("call-%d", i)
		if results[i] != want {
			t.Errorf("call %d got %q, want %q (responses crossed)", i, results[i], want)
		}
	}
}

func TestClient_TransportFailureFailsInFlightCalls(t *testing.T) {
	transport := newMockTransport()
	transport.handler = func(req *JSONRPCRequest) (any, *JSONRPCError) {
		if req.Method == MethodInitialize {
			return InitializeResult{ProtocolVersion: ProtocolVersion}, nil
		}
		return nil, nil // swallow: call stays in flight
	}

	client := NewClient("dying", transport)
	if err := client.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	done := make(chan error, 1)
	go func() {
		_, err := client.CallTool(context.Background(), "echo", nil)
		done <- err
	}()

	// Let the call register, then simulate the subprocess dying.
	time.Sleep(20 * time.Millisecond)
	transport.receiveCh <- Message{Error: &domain.TransportError{Server: "dying", Op: "wait", Err: fmt.Errorf("process exited")}}

	select {
	case err := <-done:
		if !domain.IsTransportError(err) {
			t.Fatalf("expected TransportError, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight call did not fail after transport death")
	}

	if client.Alive() {
		t.Error("client should be dead after transport failure")
	}
}

func TestClient_NotInitialized(t *testing.T) {
	client := NewClient("raw", newMockTransport())
	if _, err := client.ListTools(context.Background()); !domain.IsTransportError(err) {
		t.Errorf("expected TransportError before initialize, got %v", err)
	}
}
