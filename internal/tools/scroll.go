package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"go.uber.org/zap"

	"github.com/standardbeagle/brdg/internal/registry"
)

const (
	scrollTimeout      = 10 * time.Second
	defaultScrollPixel = 300
)

var scrollActions = map[string]bool{
	"up":         true,
	"down":       true,
	"top":        true,
	"bottom":     true,
	"to_element": true,
}

// Scroll scrolls the page or brings a specific element into view.
type Scroll struct {
	logger *zap.Logger
	caller Caller
}

// NewScroll creates the scroll_page tool.
func NewScroll(caller Caller, logger *zap.Logger) *Scroll {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scroll{logger: logger, caller: caller}
}

func (t *Scroll) Name() string { return "scroll_page" }

func (t *Scroll) Description() string {
	return "Scroll the page up, down, to the top or bottom, or to a specific element"
}

func (t *Scroll) InputSchema() *jsonschema.Schema {
	return objectSchema(map[string]*jsonschema.Schema{
		"action":        stringProp("One of: up, down, top, bottom, to_element"),
		"pixels":        intProp("Scroll distance for up/down (default 300)"),
		"element_index": intProp("Target element index, required for to_element"),
	}, "action")
}

func (t *Scroll) Call(ctx context.Context, args map[string]any) (registry.ToolResult, error) {
	action, err := requireString(args, "action")
	if err != nil {
		return registry.ToolResult{}, err
	}
	if !scrollActions[action] {
		return registry.ToolResult{}, fmt.Errorf("unknown scroll action %q", action)
	}

	params := map[string]any{"action": action}
	switch action {
	case "up", "down":
		params["pixels"] = argInt(args, "pixels", defaultScrollPixel)
	case "to_element":
		index, err := requireInt(args, "element_index")
		if err != nil {
			return registry.ToolResult{}, fmt.Errorf("to_element: %w", err)
		}
		params["element_index"] = index
	}

	t.logger.Debug("scrolling", zap.String("action", action))

	raw, err := t.caller.Call(ctx, "scroll_page", params, scrollTimeout)
	if err != nil {
		return registry.ToolResult{}, err
	}
	return registry.TextResult(formatReply("scroll "+action, raw)), nil
}
