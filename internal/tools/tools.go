// Package tools implements the invocable capabilities exposed to MCP
// clients. Each tool validates its arguments locally, then proxies the
// operation to the companion process through the correlation broker; the
// companion performs the actual browser work and replies asynchronously.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

// Caller issues correlated calls to the companion. Implemented by
// rpc.Broker.
type Caller interface {
	Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error)
}

// rpcBuffer is added on top of a tool's operation timeout when waiting for
// the companion reply, so the companion's own timeout fires first and its
// error message wins over a bare broker timeout.
const rpcBuffer = 5 * time.Second

// objectSchema builds an object schema from named properties.
func objectSchema(props map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

func stringProp(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: desc}
}

func numberProp(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "number", Description: desc}
}

func intProp(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "integer", Description: desc}
}

func boolProp(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "boolean", Description: desc}
}

// argString reads a string argument, falling back to def when absent or not
// a string.
func argString(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return def
}

// argInt reads an integer argument. JSON numbers decode as float64, so both
// forms are accepted.
func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

// argFloat reads a numeric argument.
func argFloat(args map[string]any, key string, def float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// argBool reads a boolean argument.
func argBool(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

// requireInt reads a mandatory integer argument.
func requireInt(args map[string]any, key string) (int, error) {
	switch v := args[key].(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	}
	return 0, fmt.Errorf("%s is required and must be a number", key)
}

// requireString reads a mandatory non-empty string argument.
func requireString(args map[string]any, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%s is required and must be a non-empty string", key)
	}
	return v, nil
}

// formatReply renders a companion reply for the client. Replies carrying a
// message field are summarized; anything else is passed through as JSON.
func formatReply(action string, raw json.RawMessage) string {
	var reply struct {
		Success *bool  `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &reply); err == nil && reply.Message != "" {
		return fmt.Sprintf("%s: %s", action, reply.Message)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return action + ": done"
	}
	return fmt.Sprintf("%s: %s", action, string(raw))
}
