// Package discovery interrogates a connected MCP server for its tool catalog
// and normalizes it into transport-independent schemas.
package discovery

import (
	"context"
	"fmt"
	"sort"

	"github.com/rowanlm/mcphub/internal/domain"
	"github.com/rowanlm/mcphub/internal/mcp"
)

// ToolLister is the client surface discovery needs.
type ToolLister interface {
	ServerID() string
	ListTools(ctx context.Context) ([]mcp.Tool, error)
}

// Discover fetches and normalizes the server's tool catalog. The result is a
// snapshot; callers wanting fresh data call again rather than patch.
func Discover(ctx context.Context, client ToolLister) ([]domain.ToolSchema, error) {
	tools, err := client.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	schemas := make([]domain.ToolSchema, 0, len(tools))
	for _, tool := range tools {
		schema, err := normalize(client.ServerID(), tool)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, schema)
	}
	return schemas, nil
}

// normalize flattens one tool's JSON-schema input declaration into a
// parameter list. A nameless tool or a malformed declaration fails the whole
// discovery: a partial catalog would silently hide tools from the agent.
func normalize(serverID string, tool mcp.Tool) (domain.ToolSchema, error) {
	if tool.Name == "" {
		return domain.ToolSchema{}, &domain.DiscoveryError{Server: serverID, Reason: "tool with empty name"}
	}

	schema := domain.ToolSchema{
		Name:        tool.Name,
		Description: tool.Description,
	}

	if tool.InputSchema == nil {
		return schema, nil
	}

	required := map[string]bool{}
	if raw, ok := tool.InputSchema["required"]; ok {
		list, ok := raw.([]any)
		if !ok {
			return domain.ToolSchema{}, &domain.DiscoveryError{
				Server: serverID,
				Reason: fmt.Sprintf("tool %s: required is not a list", tool.Name),
			}
		}
		for _, item := range list {
			name, ok := item.(string)
			if !ok {
				return domain.ToolSchema{}, &domain.DiscoveryError{
					Server: serverID,
					Reason: fmt.Sprintf("tool %s: non-string entry in required", tool.Name),
				}
			}
			required[name] = true
		}
	}

	raw, ok := tool.InputSchema["properties"]
	if !ok {
		return schema, nil
	}
	props, ok := raw.(map[string]any)
	if !ok {
		return domain.ToolSchema{}, &domain.DiscoveryError{
			Server: serverID,
			Reason: fmt.Sprintf("tool %s: properties is not an object", tool.Name),
		}
	}

	for name, rawProp := range props {
		prop, ok := rawProp.(map[string]any)
		if !ok {
			return domain.ToolSchema{}, &domain.DiscoveryError{
				Server: serverID,
				Reason: fmt.Sprintf("tool %s: parameter %s is not an object", tool.Name, name),
			}
		}
		typ, _ := prop["type"].(string)
		if typ == "" {
			typ = "string"
		}
		desc, _ := prop["description"].(string)
		schema.Params = append(schema.Params, domain.ToolParam{
			Name:        name,
			Type:        typ,
			Required:    required[name],
			Description: desc,
		})
	}

	// JSON object order does not survive decoding; sort for a stable view.
	sort.Slice(schema.Params, func(i, j int) bool {
		return schema.Params[i].Name < schema.Params[j].Name
	})
	return schema, nil
}
