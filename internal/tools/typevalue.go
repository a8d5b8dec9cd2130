package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"go.uber.org/zap"

	"github.com/standardbeagle/brdg/internal/registry"
)

// typeTimeout covers keystroke simulation, which the companion performs
// character by character for framework-driven inputs.
const typeTimeout = 15 * time.Second

// TypeValue writes a value into a form element by its DOM-state index.
type TypeValue struct {
	logger *zap.Logger
	caller Caller
}

// NewTypeValue creates the type_value tool.
func NewTypeValue(caller Caller, logger *zap.Logger) *TypeValue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TypeValue{logger: logger, caller: caller}
}

func (t *TypeValue) Name() string { return "type_value" }

func (t *TypeValue) Description() string {
	return "Type a value into an input, textarea or select element identified by its DOM state index"
}

func (t *TypeValue) InputSchema() *jsonschema.Schema {
	return objectSchema(map[string]*jsonschema.Schema{
		"element_index": intProp("Index of the target element, as listed in the DOM state"),
		"value":         stringProp("Value to enter; for selects, the visible option text"),
		"clear_first":   boolProp("Clear the existing value before typing (default true)"),
	}, "element_index", "value")
}

func (t *TypeValue) Call(ctx context.Context, args map[string]any) (registry.ToolResult, error) {
	index, err := requireInt(args, "element_index")
	if err != nil {
		return registry.ToolResult{}, err
	}
	if index < 0 {
		return registry.ToolResult{}, fmt.Errorf("element_index must be non-negative")
	}
	value, ok := args["value"].(string)
	if !ok {
		return registry.ToolResult{}, fmt.Errorf("value is required and must be a string")
	}

	t.logger.Info("typing value", zap.Int("index", index), zap.Int("length", len(value)))

	params := map[string]any{
		"element_index": index,
		"value":         value,
		"options": map[string]any{
			"clear_first": argBool(args, "clear_first", true),
		},
	}
	raw, err := t.caller.Call(ctx, "type_value", params, typeTimeout+rpcBuffer)
	if err != nil {
		return registry.ToolResult{}, err
	}
	return registry.TextResult(formatReply(fmt.Sprintf("typed into element %d", index), raw)), nil
}
