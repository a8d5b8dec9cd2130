package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"go.uber.org/zap"

	"github.com/standardbeagle/brdg/internal/registry"
)

const tabsTimeout = 10 * time.Second

// Tabs opens, activates and closes browser tabs.
type Tabs struct {
	logger *zap.Logger
	caller Caller
}

// NewTabs creates the manage_tabs tool.
func NewTabs(caller Caller, logger *zap.Logger) *Tabs {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tabs{logger: logger, caller: caller}
}

func (t *Tabs) Name() string { return "manage_tabs" }

func (t *Tabs) Description() string {
	return "Manage browser tabs: open a new tab, switch to a tab, or close a tab"
}

func (t *Tabs) InputSchema() *jsonschema.Schema {
	return objectSchema(map[string]*jsonschema.Schema{
		"action": stringProp("One of: new, switch, close"),
		"url":    stringProp("URL to open, for the new action"),
		"tab_id": intProp("Target tab identifier, for switch and close"),
	}, "action")
}

func (t *Tabs) Call(ctx context.Context, args map[string]any) (registry.ToolResult, error) {
	action, err := requireString(args, "action")
	if err != nil {
		return registry.ToolResult{}, err
	}

	params := map[string]any{"action": action}
	switch action {
	case "new":
		url, err := requireString(args, "url")
		if err != nil {
			return registry.ToolResult{}, fmt.Errorf("new: %w", err)
		}
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return registry.ToolResult{}, fmt.Errorf("url must start with http:// or https://")
		}
		params["url"] = url
	case "switch", "close":
		tabID, err := requireInt(args, "tab_id")
		if err != nil {
			return registry.ToolResult{}, fmt.Errorf("%s: %w", action, err)
		}
		params["tab_id"] = tabID
	default:
		return registry.ToolResult{}, fmt.Errorf("unknown tab action %q", action)
	}

	t.logger.Info("managing tabs", zap.String("action", action))

	raw, err := t.caller.Call(ctx, "manage_tabs", params, tabsTimeout)
	if err != nil {
		return registry.ToolResult{}, err
	}
	return registry.TextResult(formatReply("tabs "+action, raw)), nil
}
