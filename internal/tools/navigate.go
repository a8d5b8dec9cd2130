package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"go.uber.org/zap"

	"github.com/standardbeagle/brdg/internal/registry"
)

const (
	// autoNavigateTimeout is the operation timeout when the client asks for
	// "auto": long enough for slow pages, short enough to fail usefully.
	autoNavigateTimeout = 30 * time.Second

	minNavigateTimeout = 1 * time.Second
	maxNavigateTimeout = 120 * time.Second
)

// Navigate steers the active tab to a URL.
type Navigate struct {
	logger *zap.Logger
	caller Caller
	dom    registry.Resource
}

// NewNavigate creates the navigate_to tool. dom, when non-nil, supplies the
// post-navigation DOM overview for return_dom_state.
func NewNavigate(caller Caller, dom registry.Resource, logger *zap.Logger) *Navigate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Navigate{logger: logger, caller: caller, dom: dom}
}

func (t *Navigate) Name() string { return "navigate_to" }

func (t *Navigate) Description() string {
	return "Navigate the active browser tab to a URL and wait for the page to load"
}

func (t *Navigate) InputSchema() *jsonschema.Schema {
	return objectSchema(map[string]*jsonschema.Schema{
		"url": stringProp("Absolute URL to navigate to"),
		"timeout": stringProp("Navigation timeout in milliseconds (1000-120000), " +
			"or \"auto\" for an adaptive default"),
		"return_dom_state": boolProp("Include the DOM state overview of the loaded page in the result"),
	}, "url")
}

func (t *Navigate) Call(ctx context.Context, args map[string]any) (registry.ToolResult, error) {
	url, err := requireString(args, "url")
	if err != nil {
		return registry.ToolResult{}, err
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return registry.ToolResult{}, fmt.Errorf("url must start with http:// or https://")
	}

	opTimeout, err := parseNavigateTimeout(argString(args, "timeout", "auto"))
	if err != nil {
		return registry.ToolResult{}, err
	}

	t.logger.Info("navigating", zap.String("url", url), zap.Duration("timeout", opTimeout))

	params := map[string]any{
		"url":     url,
		"timeout": strconv.FormatInt(opTimeout.Milliseconds(), 10),
	}
	raw, err := t.caller.Call(ctx, "navigate_to", params, opTimeout+rpcBuffer)
	if err != nil {
		return registry.ToolResult{}, err
	}

	text := formatReply("navigated to "+url, raw)
	if argBool(args, "return_dom_state", false) && t.dom != nil {
		if content, err := t.dom.Read(ctx, t.dom.URI()); err != nil {
			t.logger.Warn("post-navigation dom read failed", zap.Error(err))
		} else if len(content.Items) > 0 {
			text += "\n\n" + content.Items[0].Text
		}
	}
	return registry.TextResult(text), nil
}

// parseNavigateTimeout accepts "auto" or a millisecond count within the
// allowed range.
func parseNavigateTimeout(s string) (time.Duration, error) {
	if s == "" || s == "auto" {
		return autoNavigateTimeout, nil
	}
	ms, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("timeout must be \"auto\" or a millisecond count: %q", s)
	}
	d := time.Duration(ms) * time.Millisecond
	if d < minNavigateTimeout || d > maxNavigateTimeout {
		return 0, fmt.Errorf("timeout %dms out of range (%d-%d)",
			ms, minNavigateTimeout.Milliseconds(), maxNavigateTimeout.Milliseconds())
	}
	return d, nil
}
