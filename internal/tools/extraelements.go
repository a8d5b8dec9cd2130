package tools

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/jsonschema-go/jsonschema"
	"go.uber.org/zap"

	"github.com/standardbeagle/brdg/internal/registry"
	"github.com/standardbeagle/brdg/internal/resources"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ExtraElements pages through the interactive elements the DOM state
// overview truncates. The companion always returns the full element list;
// filtering and pagination happen here so the wire payload stays one shape.
type ExtraElements struct {
	logger *zap.Logger
	dom    *resources.DOMState
}

// NewExtraElements creates the get_dom_extra_elements tool over the shared
// DOM snapshot source.
func NewExtraElements(dom *resources.DOMState, logger *zap.Logger) *ExtraElements {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExtraElements{logger: logger, dom: dom}
}

func (t *ExtraElements) Name() string { return "get_dom_extra_elements" }

func (t *ExtraElements) Description() string {
	return "List interactive elements beyond the DOM state overview, with pagination and type filtering"
}

func (t *ExtraElements) InputSchema() *jsonschema.Schema {
	return objectSchema(map[string]*jsonschema.Schema{
		"page":         intProp("1-based page number (default 1)"),
		"page_size":    intProp("Elements per page, 1-100 (default 20)"),
		"element_type": stringProp("Filter by tag name: button, input, select, a, textarea"),
	})
}

func (t *ExtraElements) Call(ctx context.Context, args map[string]any) (registry.ToolResult, error) {
	page := argInt(args, "page", 1)
	if page < 1 {
		return registry.ToolResult{}, fmt.Errorf("page must be >= 1")
	}
	pageSize := argInt(args, "page_size", defaultPageSize)
	if pageSize < 1 || pageSize > maxPageSize {
		return registry.ToolResult{}, fmt.Errorf("page_size must be between 1 and %d", maxPageSize)
	}
	elementType := strings.ToLower(argString(args, "element_type", ""))

	snap, err := t.dom.Snapshot(ctx)
	if err != nil {
		return registry.ToolResult{}, err
	}

	elements := snap.InteractiveElements
	if elementType != "" {
		filtered := make([]map[string]any, 0, len(elements))
		for _, el := range elements {
			if tag, _ := el["tagName"].(string); strings.EqualFold(tag, elementType) {
				filtered = append(filtered, el)
			}
		}
		elements = filtered
	}

	total := len(elements)
	start := (page - 1) * pageSize
	end := min(start+pageSize, total)

	var b strings.Builder
	b.WriteString(fmt.Sprintf("# Interactive Elements — Page %d\n\n", page))
	if elementType != "" {
		b.WriteString(fmt.Sprintf("Filtered by type: %s\n\n", elementType))
	}
	if start >= total {
		b.WriteString(fmt.Sprintf("No elements on this page (%d matching in total).\n", total))
		return registry.TextResult(b.String()), nil
	}

	b.WriteString(fmt.Sprintf("Showing %d–%d of %d\n\n", start+1, end, total))
	for _, el := range elements[start:end] {
		idx := el["index"]
		tag, _ := el["tagName"].(string)
		text, _ := el["text"].(string)
		b.WriteString(fmt.Sprintf("- [%v] `<%s>` %s\n", idx, tag, truncateText(text, 80)))
	}
	if end < total {
		b.WriteString(fmt.Sprintf("\n%d more elements on later pages.\n", total-end))
	}
	return registry.TextResult(b.String()), nil
}

// truncateText caps s at max bytes, backing up to a rune boundary so the
// cut never emits invalid UTF-8.
func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	end := max
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	return s[:end] + "…"
}
