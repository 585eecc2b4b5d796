// Package engine is the agent-facing surface: it resolves a binding's servers
// to live connections, exposes their combined tool catalog, and routes
// invocations.
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rowanlm/mcphub/internal/connmgr"
	"github.com/rowanlm/mcphub/internal/discovery"
	"github.com/rowanlm/mcphub/internal/domain"
	"github.com/rowanlm/mcphub/internal/mcp"
	"github.com/rowanlm/mcphub/internal/metrics"
	"github.com/rowanlm/mcphub/internal/promptdoc"
	"github.com/rowanlm/mcphub/internal/registry"
)

// namespaceSep joins server and tool name when a binding spans servers.
const namespaceSep = "__"

// AgentBinding names the servers one agent works with, on behalf of one user.
type AgentBinding struct {
	Agent   string
	User    string
	Servers []string
}

// Connector hands out live clients. Implemented by connmgr.Manager.
type Connector interface {
	Get(ctx context.Context, cfg *registry.ServerConfig, owner connmgr.Owner) (*mcp.Client, error)
}

type Engine struct {
	conns Connector
	reg   *registry.Registry
}

func New(conns Connector, reg *registry.Registry) *Engine {
	return &Engine{conns: conns, reg: reg}
}

// Schemas discovers every server in the binding and returns the combined
// catalog. With more than one server, tool names are namespaced
// server__tool so collisions across servers stay distinguishable.
func (e *Engine) Schemas(ctx context.Context, binding AgentBinding) ([]domain.ToolSchema, error) {
	servers := append([]string(nil), binding.Servers...)
	sort.Strings(servers)
	namespaced := len(servers) > 1

	var all []domain.ToolSchema
	for _, serverID := range servers {
		client, err := e.connect(ctx, binding, serverID)
		if err != nil {
			return nil, err
		}
		schemas, err := discovery.Discover(ctx, client)
		if err != nil {
			return nil, err
		}
		for _, s := range schemas {
			if namespaced {
				s.Name = serverID + namespaceSep + s.Name
			}
			all = append(all, s)
		}
	}
	return all, nil
}

// ListTools renders the binding's combined catalog as prompt documentation.
func (e *Engine) ListTools(ctx context.Context, binding AgentBinding) (string, error) {
	schemas, err := e.Schemas(ctx, binding)
	if err != nil {
		return "", err
	}
	return promptdoc.Render(schemas), nil
}

// Invoke routes one tool call to the owning server. The tool name must carry
// the server namespace when the binding spans more than one server.
func (e *Engine) Invoke(ctx context.Context, binding AgentBinding, tool string, args map[string]any) (*mcp.ToolsCallResult, error) {
	serverID, name, err := e.resolve(binding, tool)
	if err != nil {
		return nil, err
	}

	client, err := e.connect(ctx, binding, serverID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := client.CallTool(ctx, name, args)
	metrics.ToolCallDuration.WithLabelValues(serverID, name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ToolCallsTotal.WithLabelValues(serverID, name, callStatus(err)).Inc()
		return nil, err
	}

	if result.IsError {
		metrics.ToolCallsTotal.WithLabelValues(serverID, name, "tool_error").Inc()
		return result, fmt.Errorf("tool %s failed: %s", tool, firstText(result))
	}
	metrics.ToolCallsTotal.WithLabelValues(serverID, name, "ok").Inc()
	return result, nil
}

func (e *Engine) resolve(binding AgentBinding, tool string) (serverID, name string, err error) {
	if len(binding.Servers) == 0 {
		return "", "", fmt.Errorf("binding %s has no servers", binding.Agent)
	}
	if len(binding.Servers) == 1 {
		return binding.Servers[0], tool, nil
	}

	serverID, name, ok := strings.Cut(tool, namespaceSep)
	if !ok {
		return "", "", fmt.Errorf("tool %q needs a server prefix, binding spans %d servers", tool, len(binding.Servers))
	}
	for _, s := range binding.Servers {
		if s == serverID {
			return serverID, name, nil
		}
	}
	return "", "", fmt.Errorf("server %s is not attached to binding %s", serverID, binding.Agent)
}

func (e *Engine) connect(ctx context.Context, binding AgentBinding, serverID string) (*mcp.Client, error) {
	cfg, err := e.reg.Get(serverID)
	if err != nil {
		return nil, err
	}
	return e.conns.Get(ctx, cfg, connmgr.Owner{Agent: binding.Agent, User: binding.User})
}

func callStatus(err error) string {
	switch {
	case domain.IsTimeout(err):
		return "timeout"
	case domain.IsAuthExpired(err):
		return "auth_expired"
	case domain.IsTransportError(err):
		return "transport_error"
	default:
		return "error"
	}
}

func firstText(result *mcp.ToolsCallResult) string {
	for _, item := range result.Content {
		if item.Type == "text" && item.Text != "" {
			return item.Text
		}
	}
	return "unknown error"
}
