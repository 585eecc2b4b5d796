package promptdoc

import (
	"strings"
	"testing"

	"github.com/rowanlm/mcphub/internal/domain"
)

func sampleTools() []domain.ToolSchema {
	return []domain.ToolSchema{
		{
			Name:        "search",
			Description: "Searches the index",
			Params: []domain.ToolParam{
				{Name: "limit", Type: "integer", Required: false, Description: "Max results"},
				{Name: "query", Type: "string", Required: true, Description: "Search query"},
			},
		},
		{
			Name:        "echo",
			Description: "Echoes its input back",
			Params: []domain.ToolParam{
				{Name: "text", Type: "string", Required: true, Description: "Text to echo"},
			},
		},
	}
}

func TestRender_Deterministic(t *testing.T) {
	a := Render(sampleTools())
	b := Render(sampleTools())
	if a != b {
		t.Fatal("render is not deterministic")
	}

	// Input order must not leak into the output.
	reversed := sampleTools()
	reversed[0], reversed[1] = reversed[1], reversed[0]
	if c := Render(reversed); c != a {
		t.Fatal("render depends on input order")
	}
}

func TestRender_Content(t *testing.T) {
	doc := Render(sampleTools())

	if !strings.Contains(doc, "## echo") {
		t.Error("missing echo section")
	}
	if !strings.Contains(doc, "text (string, required): Text to echo") {
		t.Errorf("missing required marker for text:\n%s", doc)
	}
	if !strings.Contains(doc, "limit (integer, optional)") {
		t.Error("missing optional marker for limit")
	}
	// Tools sorted by name: echo before search.
	if strings.Index(doc, "## echo") > strings.Index(doc, "## search") {
		t.Error("tools are not sorted by name")
	}
	// Example includes required params only.
	if !strings.Contains(doc, `{"arguments":{"query":"example"},"name":"search"}`) {
		t.Errorf("unexpected search example:\n%s", doc)
	}
}

func TestRender_Empty(t *testing.T) {
	doc := Render(nil)
	if !strings.Contains(doc, "No tools are available") {
		t.Errorf("empty catalog doc = %q", doc)
	}
}
