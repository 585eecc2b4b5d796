// Package promptdoc renders tool schemas into the text block an LLM agent
// receives as its tool documentation.
package promptdoc

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rowanlm/mcphub/internal/domain"
)

// Render produces a deterministic documentation block for the given tools.
// Identical input always yields byte-identical output, so prompts stay
// cache-friendly.
func Render(tools []domain.ToolSchema) string {
	sorted := append([]domain.ToolSchema(nil), tools...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var b strings.Builder
	b.WriteString("# Available tools\n")
	if len(sorted) == 0 {
		b.WriteString("\nNo tools are available.\n")
		return b.String()
	}

	for _, tool := range sorted {
		b.WriteString("\n## ")
		b.WriteString(tool.Name)
		b.WriteString("\n")
		if tool.Description != "" {
			b.WriteString(tool.Description)
			b.WriteString("\n")
		}

		if len(tool.Params) > 0 {
			b.WriteString("\nParameters:\n")
			for _, p := range tool.Params {
				marker := "optional"
				if p.Required {
					marker = "required"
				}
				b.WriteString(fmt.Sprintf("- %s (%s, %s)", p.Name, p.Type, marker))
				if p.Description != "" {
					b.WriteString(": ")
					b.WriteString(p.Description)
				}
				b.WriteString("\n")
			}
		}

		b.WriteString("\nExample:\n")
		b.WriteString(exampleCall(tool))
		b.WriteString("\n")
	}
	return b.String()
}

// exampleCall builds one illustrative invocation from the parameter types.
// Only required parameters appear in the example.
func exampleCall(tool domain.ToolSchema) string {
	args := map[string]any{}
	for _, p := range tool.Params {
		if !p.Required {
			continue
		}
		args[p.Name] = exampleValue(p.Type)
	}
	// Marshal sorts map keys, keeping the example stable.
	data, _ := json.Marshal(map[string]any{"name": tool.Name, "arguments": args})
	return string(data)
}

func exampleValue(typ string) any {
	switch typ {
	case "integer", "number":
		return 1
	case "boolean":
		return true
	case "array":
		return []any{}
	case "object":
		return map[string]any{}
	default:
		return "example"
	}
}
