package engine

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/rowanlm/mcphub/internal/connmgr"
	"github.com/rowanlm/mcphub/internal/mcp"
	"github.com/rowanlm/mcphub/internal/registry"
)

// toolTransport is an in-process MCP server exposing one echo-style tool.
type toolTransport struct {
	toolName  string
	mu        sync.Mutex
	receiveCh chan mcp.Message
	connected bool
}

func newToolTransport(toolName string) *toolTransport {
	return &toolTransport{
		toolName:  toolName,
		receiveCh: make(chan mcp.Message, 16),
		connected: true,
	}
}

func (tr *toolTransport) Send(ctx context.Context, message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	var req mcp.JSONRPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}
	if req.ID == nil {
		return nil // notification
	}

	var result any
	switch req.Method {
	case mcp.MethodInitialize:
		result = mcp.InitializeResult{
			ProtocolVersion: mcp.ProtocolVersion,
			ServerInfo:      mcp.ServerInfo{Name: tr.toolName + "-server"},
		}
	case mcp.MethodToolsList:
		result = mcp.ToolsListResult{Tools: []mcp.Tool{{
			Name:        tr.toolName,
			Description: "Echoes its input back",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{"type": "string", "description": "Text to echo"},
				},
				"required": []any{"text"},
			},
		}}}
	case mcp.MethodToolsCall:
		name, _ := req.Params["name"].(string)
		if name != tr.toolName {
			result = mcp.ToolsCallResult{
				IsError: true,
				Content: []mcp.ContentItem{{Type: "text", Text: "unknown tool " + name}},
			}
			break
		}
		args, _ := req.Params["arguments"].(map[string]any)
		text, _ := args["text"].(string)
		result = mcp.ToolsCallResult{Content: []mcp.ContentItem{{Type: "text", Text: text}}}
	default:
		result = map[string]any{}
	}

	raw, _ := json.Marshal(result)
	resp, _ := json.Marshal(map[string]any{
		"jsonrpc": mcp.JSONRPCVersion,
		"id":      req.ID,
		"result":  json.RawMessage(raw),
	})
	tr.receiveCh <- mcp.Message{Data: resp}
	return nil
}

func (tr *toolTransport) Receive() <-chan mcp.Message { return tr.receiveCh }

func (tr *toolTransport) Close() error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.connected = false
	return nil
}

func (tr *toolTransport) IsConnected() bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.connected
}

// fakeConnector hands out pre-initialized clients keyed by server id.
type fakeConnector struct {
	mu      sync.Mutex
	clients map[string]*mcp.Client
	tools   map[string]string // server id -> tool name
}

func (f *fakeConnector) Get(ctx context.Context, cfg *registry.ServerConfig, owner connmgr.Owner) (*mcp.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if client, ok := f.clients[cfg.ID]; ok && client.Alive() {
		return client, nil
	}
	client := mcp.NewClient(cfg.ID, newToolTransport(f.tools[cfg.ID]))
	if err := client.Initialize(ctx); err != nil {
		return nil, err
	}
	f.clients[cfg.ID] = client
	return client, nil
}

func newTestEngine(t *testing.T, tools map[string]string) *Engine {
	t.Helper()
	var b strings.Builder
	b.WriteString("servers:\n")
	for serverID := range tools {
		b.WriteString("  " + serverID + ":\n    transport: stdio\n    command: " + serverID + "\n")
	}
	reg, err := registry.Parse([]byte(b.String()))
	if err != nil {
		t.Fatalf("parse registry: %v", err)
	}
	return New(&fakeConnector{clients: map[string]*mcp.Client{}, tools: tools}, reg)
}

func TestEngine_EchoRoundTrip(t *testing.T) {
	eng := newTestEngine(t, map[string]string{"echo-tool": "echo"})
	binding := AgentBinding{Agent: "planner", User: "alice", Servers: []string{"echo-tool"}}

	doc, err := eng.ListTools(context.Background(), binding)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if !strings.Contains(doc, "echo") {
		t.Errorf("documentation does not mention echo:\n%s", doc)
	}
	if !strings.Contains(doc, "text (string, required)") {
		t.Errorf("documentation does not describe the text parameter:\n%s", doc)
	}

	result, err := eng.Invoke(context.Background(), binding, "echo", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "hi" {
		t.Fatalf("result = %+v, want echoed hi", result)
	}
}

func TestEngine_NamespacingAcrossServers(t *testing.T) {
	eng := newTestEngine(t, map[string]string{"echo-tool": "echo", "shout-tool": "shout"})
	binding := AgentBinding{Agent: "planner", User: "alice", Servers: []string{"echo-tool", "shout-tool"}}

	schemas, err := eng.Schemas(context.Background(), binding)
	if err != nil {
		t.Fatalf("Schemas: %v", err)
	}
	names := map[string]bool{}
	for _, s := range schemas {
		names[s.Name] = true
	}
	if !names["echo-tool__echo"] || !names["shout-tool__shout"] {
		t.Fatalf("schemas not namespaced: %v", names)
	}

	result, err := eng.Invoke(context.Background(), binding, "echo-tool__echo", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("Invoke namespaced: %v", err)
	}
	if result.Content[0].Text != "hi" {
		t.Errorf("result = %+v", result)
	}

	// A bare name is ambiguous across two servers.
	if _, err := eng.Invoke(context.Background(), binding, "echo", nil); err == nil {
		t.Error("expected error for un-namespaced tool on multi-server binding")
	}
	// A prefix outside the binding is rejected.
	if _, err := eng.Invoke(context.Background(), binding, "other__echo", nil); err == nil {
		t.Error("expected error for foreign server prefix")
	}
}

func TestEngine_SingleServerNoNamespace(t *testing.T) {
	eng := newTestEngine(t, map[string]string{"echo-tool": "echo"})
	binding := AgentBinding{Agent: "planner", User: "alice", Servers: []string{"echo-tool"}}

	schemas, err := eng.Schemas(context.Background(), binding)
	if err != nil {
		t.Fatal(err)
	}
	if len(schemas) != 1 || schemas[0].Name != "echo" {
		t.Fatalf("schemas = %+v, want bare echo", schemas)
	}
}

func TestEngine_ToolErrorSurfaces(t *testing.T) {
	eng := newTestEngine(t, map[string]string{"echo-tool": "echo"})
	binding := AgentBinding{Agent: "planner", User: "alice", Servers: []string{"echo-tool"}}

	result, err := eng.Invoke(context.Background(), binding, "bogus", nil)
	if err == nil {
		t.Fatal("expected error for unknown tool")
	}
	if result == nil || !result.IsError {
		t.Errorf("tool error result should be returned alongside the error, got %+v", result)
	}
	if !strings.Contains(err.Error(), "unknown tool") {
		t.Errorf("error should carry the tool's message, got %v", err)
	}
}
