package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"go.uber.org/zap"

	"github.com/standardbeagle/brdg/internal/registry"
)

// clickTimeout covers the click itself plus any page reaction the companion
// waits out before replying.
const clickTimeout = 15 * time.Second

// Click clicks an interactive element by its DOM-state index.
type Click struct {
	logger *zap.Logger
	caller Caller
}

// NewClick creates the click_element tool.
func NewClick(caller Caller, logger *zap.Logger) *Click {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Click{logger: logger, caller: caller}
}

func (t *Click) Name() string { return "click_element" }

func (t *Click) Description() string {
	return "Click an interactive element identified by its index from the DOM state"
}

func (t *Click) InputSchema() *jsonschema.Schema {
	return objectSchema(map[string]*jsonschema.Schema{
		"element_index": intProp("Index of the element to click, as listed in the DOM state"),
		"wait_after":    numberProp("Seconds to wait after clicking before the result is captured"),
	}, "element_index")
}

func (t *Click) Call(ctx context.Context, args map[string]any) (registry.ToolResult, error) {
	index, err := requireInt(args, "element_index")
	if err != nil {
		return registry.ToolResult{}, err
	}
	if index < 0 {
		return registry.ToolResult{}, fmt.Errorf("element_index must be non-negative")
	}

	t.logger.Info("clicking element", zap.Int("index", index))

	params := map[string]any{
		"element_index": index,
		"wait_after":    argFloat(args, "wait_after", 1),
	}
	raw, err := t.caller.Call(ctx, "click_element", params, clickTimeout)
	if err != nil {
		return registry.ToolResult{}, err
	}
	return registry.TextResult(formatReply(fmt.Sprintf("clicked element %d", index), raw)), nil
}
