package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/standardbeagle/brdg/internal/registry"
)

// OverviewLimit caps how many interactive elements the base DOM resource
// shows. Full pages come from the pagination tool or a /page/N suffix.
const OverviewLimit = 20

// DOMSnapshot is the companion's get_dom_state payload.
type DOMSnapshot struct {
	FormattedDOM        string           `json:"formattedDom"`
	InteractiveElements []map[string]any `json:"interactiveElements"`
	Meta                map[string]any   `json:"meta"`
}

// DOMState serves browser://dom/state: a markdown overview of the current
// page's interactive elements. A URI suffix of /page/N serves that page of
// elements instead of the capped overview.
type DOMState struct {
	logger *zap.Logger
	caller Caller

	mu       sync.Mutex
	cached   *DOMSnapshot
	cachedAt time.Time
}

// NewDOMState creates the DOM-state resource.
func NewDOMState(caller Caller, logger *zap.Logger) *DOMState {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DOMState{logger: logger, caller: caller}
}

func (r *DOMState) URI() string      { return "browser://dom/state" }
func (r *DOMState) Name() string     { return "DOM State" }
func (r *DOMState) MIMEType() string { return "text/markdown" }

func (r *DOMState) Description() string {
	return "Current DOM state with interactive elements overview in AI-friendly Markdown format"
}

// Snapshot returns the current DOM state, from cache when a recent push or
// read supplied one. Shared with the element-pagination tool.
func (r *DOMState) Snapshot(ctx context.Context) (DOMSnapshot, error) {
	r.mu.Lock()
	if r.cached != nil && time.Since(r.cachedAt) < cacheTTL {
		snap := *r.cached
		r.mu.Unlock()
		return snap, nil
	}
	r.mu.Unlock()

	raw, err := r.caller.Call(ctx, "get_dom_state", nil, stateCallTimeout)
	if err != nil {
		return DOMSnapshot{}, fmt.Errorf("get dom state: %w", err)
	}

	var snap DOMSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return DOMSnapshot{}, fmt.Errorf("parse dom state: %w", err)
	}

	r.store(snap)
	return snap, nil
}

// Read serves either the capped overview or, for a /page/N suffix, one full
// page of elements.
func (r *DOMState) Read(ctx context.Context, uri string) (registry.ResourceContent, error) {
	snap, err := r.Snapshot(ctx)
	if err != nil {
		return registry.ResourceContent{}, err
	}

	var text string
	if page, ok := pageSuffix(uri, r.URI()); ok {
		text = renderDOMPage(snap, page, OverviewLimit)
	} else {
		text = renderDOMOverview(snap)
	}

	return registry.ResourceContent{
		Items: []registry.ResourceItem{{URI: uri, MIMEType: r.MIMEType(), Text: text}},
	}, nil
}

// HandleDOMUpdate consumes a dom_update push and refreshes the cache.
func (r *DOMState) HandleDOMUpdate(data json.RawMessage) {
	var snap DOMSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		r.logger.Warn("bad dom_update push", zap.Error(err))
		return
	}
	r.store(snap)
	r.logger.Debug("dom state cache refreshed by push",
		zap.Int("elements", len(snap.InteractiveElements)))
}

func (r *DOMState) store(snap DOMSnapshot) {
	r.mu.Lock()
	r.cached = &snap
	r.cachedAt = time.Now()
	r.mu.Unlock()
}

// pageSuffix extracts N from "<base>/page/N" URIs.
func pageSuffix(uri, base string) (int, bool) {
	rest, ok := strings.CutPrefix(uri, base+"/page/")
	if !ok {
		return 0, false
	}
	page, err := strconv.Atoi(rest)
	if err != nil || page < 1 {
		return 0, false
	}
	return page, true
}

// renderDOMOverview formats the snapshot with at most OverviewLimit elements.
func renderDOMOverview(snap DOMSnapshot) string {
	total := len(snap.InteractiveElements)
	shown := snap.InteractiveElements
	if total > OverviewLimit {
		shown = shown[:OverviewLimit]
	}

	var b strings.Builder
	b.WriteString("# DOM State\n\n")
	writeMeta(&b, snap.Meta)

	b.WriteString(fmt.Sprintf("## Interactive Elements (%d of %d)\n\n", len(shown), total))
	writeElements(&b, shown)

	if total > OverviewLimit {
		b.WriteString(fmt.Sprintf("\n%d more elements available; use the get_dom_extra_elements tool "+
			"or read %s for additional pages.\n", total-OverviewLimit, "browser://dom/state/page/2"))
	}

	if snap.FormattedDOM != "" {
		b.WriteString("\n## Page Content\n\n")
		b.WriteString(snap.FormattedDOM)
		b.WriteString("\n")
	}
	return b.String()
}

// renderDOMPage formats one page of elements (1-based).
func renderDOMPage(snap DOMSnapshot, page, pageSize int) string {
	total := len(snap.InteractiveElements)
	start := (page - 1) * pageSize
	end := min(start+pageSize, total)

	var b strings.Builder
	b.WriteString(fmt.Sprintf("# DOM Elements — Page %d\n\n", page))
	writeMeta(&b, snap.Meta)

	if start >= total {
		b.WriteString(fmt.Sprintf("No elements on this page (%d total).\n", total))
		return b.String()
	}

	b.WriteString(fmt.Sprintf("## Interactive Elements (%d–%d of %d)\n\n", start+1, end, total))
	writeElements(&b, snap.InteractiveElements[start:end])

	if end < total {
		b.WriteString(fmt.Sprintf("\nNext page: browser://dom/state/page/%d\n", page+1))
	}
	return b.String()
}

func writeMeta(b *strings.Builder, meta map[string]any) {
	if len(meta) == 0 {
		return
	}
	if url, ok := meta["url"].(string); ok && url != "" {
		b.WriteString(fmt.Sprintf("- **URL**: %s\n", url))
	}
	if title, ok := meta["title"].(string); ok && title != "" {
		b.WriteString(fmt.Sprintf("- **Title**: %s\n", title))
	}
	b.WriteString("\n")
}

func writeElements(b *strings.Builder, elements []map[string]any) {
	for _, el := range elements {
		idx := el["index"]
		tag, _ := el["tagName"].(string)
		text, _ := el["text"].(string)
		b.WriteString(fmt.Sprintf("- [%v] `<%s>` %s\n", idx, tag, truncateText(text, 80)))
	}
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
