// Package resources implements the read-only state providers exposed to MCP
// clients: the browser state summary and the DOM state overview.
//
// Both proxy to the companion through the correlation broker. The companion
// also pushes unsolicited state updates; those refresh a local cache so
// frequent reads don't cost a round-trip.
package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/standardbeagle/brdg/internal/registry"
)

// Caller issues correlated calls to the companion. Implemented by
// rpc.Broker.
type Caller interface {
	Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error)
}

const stateCallTimeout = 5 * time.Second

// cacheTTL bounds how long a pushed state snapshot is served without a
// fresh round-trip.
const cacheTTL = 2 * time.Second

// browserState is the companion's get_browser_state payload.
type browserState struct {
	ActiveTab *tabInfo  `json:"activeTab"`
	Tabs      []tabInfo `json:"tabs"`
}

type tabInfo struct {
	ID     any    `json:"id"`
	URL    string `json:"url"`
	Title  string `json:"title"`
	Active bool   `json:"active"`
}

// CurrentState serves browser://current/state: a markdown summary of the
// active page and all open tabs.
type CurrentState struct {
	logger *zap.Logger
	caller Caller

	mu       sync.Mutex
	cached   string
	cachedAt time.Time
}

// NewCurrentState creates the current-state resource.
func NewCurrentState(caller Caller, logger *zap.Logger) *CurrentState {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CurrentState{logger: logger, caller: caller}
}

func (r *CurrentState) URI() string      { return "browser://current/state" }
func (r *CurrentState) Name() string     { return "Current Browser State" }
func (r *CurrentState) MIMEType() string { return "text/markdown" }

func (r *CurrentState) Description() string {
	return "Complete state of the current active page and all tabs in AI-friendly Markdown format"
}

// Read serves the cached snapshot when fresh, otherwise fetches the state
// from the companion.
func (r *CurrentState) Read(ctx context.Context, uri string) (registry.ResourceContent, error) {
	r.mu.Lock()
	if r.cached != "" && time.Since(r.cachedAt) < cacheTTL {
		text := r.cached
		r.mu.Unlock()
		return r.content(uri, text), nil
	}
	r.mu.Unlock()

	raw, err := r.caller.Call(ctx, "get_browser_state", nil, stateCallTimeout)
	if err != nil {
		return registry.ResourceContent{}, fmt.Errorf("get browser state: %w", err)
	}

	var state browserState
	if err := json.Unmarshal(raw, &state); err != nil {
		return registry.ResourceContent{}, fmt.Errorf("parse browser state: %w", err)
	}

	text := renderBrowserState(state)
	r.store(text)
	return r.content(uri, text), nil
}

// HandleStateUpdate consumes a state_update push from the companion and
// refreshes the cache. Registered as the push handler for that category.
func (r *CurrentState) HandleStateUpdate(data json.RawMessage) {
	var state browserState
	if err := json.Unmarshal(data, &state); err != nil {
		r.logger.Warn("bad state_update push", zap.Error(err))
		return
	}
	r.store(renderBrowserState(state))
	r.logger.Debug("browser state cache refreshed by push")
}

func (r *CurrentState) store(text string) {
	r.mu.Lock()
	r.cached = text
	r.cachedAt = time.Now()
	r.mu.Unlock()
}

func (r *CurrentState) content(uri, text string) registry.ResourceContent {
	return registry.ResourceContent{
		Items: []registry.ResourceItem{{URI: uri, MIMEType: r.MIMEType(), Text: text}},
	}
}

// renderBrowserState formats the companion's state payload as markdown.
func renderBrowserState(state browserState) string {
	var b strings.Builder
	b.WriteString("# Browser State\n\n")

	if state.ActiveTab != nil {
		b.WriteString("## Active Tab\n\n")
		writeTab(&b, *state.ActiveTab)
		b.WriteString("\n")
	}

	b.WriteString(fmt.Sprintf("## Open Tabs (%d)\n\n", len(state.Tabs)))
	for i, tab := range state.Tabs {
		marker := " "
		if tab.Active {
			marker = "*"
		}
		b.WriteString(fmt.Sprintf("%d. [%s] %s — %s\n", i+1, marker, tab.Title, tab.URL))
	}
	return b.String()
}

func writeTab(b *strings.Builder, tab tabInfo) {
	b.WriteString(fmt.Sprintf("- **Title**: %s\n", tab.Title))
	b.WriteString(fmt.Sprintf("- **URL**: %s\n", tab.URL))
	if tab.ID != nil {
		b.WriteString(fmt.Sprintf("- **Tab ID**: %v\n", tab.ID))
	}
}
