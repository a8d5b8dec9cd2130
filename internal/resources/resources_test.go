package resources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCaller returns a canned reply and counts round-trips.
type fakeCaller struct {
	mu     sync.Mutex
	method string
	calls  int
	result json.RawMessage
	err    error
}

func (c *fakeCaller) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.method = method
	return c.result, c.err
}

func (c *fakeCaller) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func browserStateJSON() json.RawMessage {
	return json.RawMessage(`{
		"activeTab": {"id": 3, "url": "https://example.com", "title": "Example", "active": true},
		"tabs": [
			{"id": 3, "url": "https://example.com", "title": "Example", "active": true},
			{"id": 5, "url": "https://other.test", "title": "Other", "active": false}
		]
	}`)
}

func domStateJSON(n int) json.RawMessage {
	elements := make([]map[string]any, n)
	for i := range elements {
		elements[i] = map[string]any{"index": i, "tagName": "button", "text": fmt.Sprintf("btn %d", i)}
	}
	data, _ := json.Marshal(map[string]any{
		"formattedDom":        "page body",
		"interactiveElements": elements,
		"meta":                map[string]any{"url": "https://example.com", "title": "Example"},
	})
	return data
}

func TestCurrentStateRead(t *testing.T) {
	caller := &fakeCaller{result: browserStateJSON()}
	res := NewCurrentState(caller, nil)

	content, err := res.Read(context.Background(), res.URI())
	require.NoError(t, err)
	assert.Equal(t, "get_browser_state", caller.method)

	require.Len(t, content.Items, 1)
	item := content.Items[0]
	assert.Equal(t, "browser://current/state", item.URI)
	assert.Equal(t, "text/markdown", item.MIMEType)
	assert.Contains(t, item.Text, "# Browser State")
	assert.Contains(t, item.Text, "## Active Tab")
	assert.Contains(t, item.Text, "Open Tabs (2)")
	assert.Contains(t, item.Text, "https://other.test")
}

func TestCurrentStatePushFeedsCache(t *testing.T) {
	// Caller that fails proves reads are served from the pushed snapshot.
	caller := &fakeCaller{err: errors.New("must not be called")}
	res := NewCurrentState(caller, nil)

	res.HandleStateUpdate(browserStateJSON())

	content, err := res.Read(context.Background(), res.URI())
	require.NoError(t, err)
	assert.Equal(t, 0, caller.callCount())
	assert.Contains(t, content.Items[0].Text, "Example")
}

func TestCurrentStateBadPushIgnored(t *testing.T) {
	caller := &fakeCaller{result: browserStateJSON()}
	res := NewCurrentState(caller, nil)

	res.HandleStateUpdate(json.RawMessage(`{"tabs": "not-an-array"}`))

	// Bad push leaves no cache, so Read falls through to the companion.
	_, err := res.Read(context.Background(), res.URI())
	require.NoError(t, err)
	assert.Equal(t, 1, caller.callCount())
}

func TestDOMStateOverviewCapped(t *testing.T) {
	caller := &fakeCaller{result: domStateJSON(35)}
	res := NewDOMState(caller, nil)

	content, err := res.Read(context.Background(), res.URI())
	require.NoError(t, err)

	text := content.Items[0].Text
	assert.Contains(t, text, fmt.Sprintf("(%d of 35)", OverviewLimit))
	assert.Contains(t, text, "15 more elements available")
	assert.Contains(t, text, "browser://dom/state/page/2")
	assert.Contains(t, text, "page body")
}

func TestDOMStatePageSuffix(t *testing.T) {
	caller := &fakeCaller{result: domStateJSON(35)}
	res := NewDOMState(caller, nil)

	content, err := res.Read(context.Background(), "browser://dom/state/page/2")
	require.NoError(t, err)

	text := content.Items[0].Text
	assert.Contains(t, text, "Page 2")
	assert.Contains(t, text, "21–35 of 35")
	assert.NotContains(t, text, "Next page")
}

func TestDOMStateSnapshotCached(t *testing.T) {
	caller := &fakeCaller{result: domStateJSON(3)}
	res := NewDOMState(caller, nil)

	_, err := res.Snapshot(context.Background())
	require.NoError(t, err)
	_, err = res.Snapshot(context.Background())
	require.NoError(t, err)

	// Second snapshot inside the TTL reuses the first round-trip.
	assert.Equal(t, 1, caller.callCount())
}

func TestDOMStatePushFeedsCache(t *testing.T) {
	caller := &fakeCaller{err: errors.New("must not be called")}
	res := NewDOMState(caller, nil)

	res.HandleDOMUpdate(domStateJSON(4))

	snap, err := res.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.InteractiveElements, 4)
	assert.Equal(t, 0, caller.callCount())
}

func TestTruncateTextRuneBoundary(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short ascii kept", "click me", "click me"},
		{"exactly at cap", strings.Repeat("a", 80), strings.Repeat("a", 80)},
		{"long ascii cut", strings.Repeat("a", 81), strings.Repeat("a", 80) + "…"},
		// A multi-byte rune straddling the cap is dropped whole, never split.
		{"rune at the cut", strings.Repeat("a", 79) + "éxtra", strings.Repeat("a", 79) + "…"},
		{"multibyte body", strings.Repeat("日", 40), strings.Repeat("日", 26) + "…"},
	}

	for _, tt := range tests {
		got := truncateText(tt.in, 80)
		assert.Equal(t, tt.want, got, tt.name)
		assert.True(t, utf8.ValidString(got), tt.name)
	}
}

func TestDOMStateElementTextValidUTF8(t *testing.T) {
	long := strings.Repeat("b", 79) + "ü label that runs past the display cap"
	data, _ := json.Marshal(map[string]any{
		"formattedDom":        "",
		"interactiveElements": []map[string]any{{"index": 0, "tagName": "button", "text": long}},
	})
	res := NewDOMState(&fakeCaller{result: data}, nil)

	content, err := res.Read(context.Background(), res.URI())
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(content.Items[0].Text))
	assert.NotContains(t, content.Items[0].Text, "�")
}

func TestPageSuffix(t *testing.T) {
	base := "browser://dom/state"
	tests := []struct {
		uri    string
		want   int
		wantOK bool
	}{
		{"browser://dom/state", 0, false},
		{"browser://dom/state/page/1", 1, true},
		{"browser://dom/state/page/12", 12, true},
		{"browser://dom/state/page/0", 0, false},
		{"browser://dom/state/page/x", 0, false},
		{"browser://dom/state/pages/2", 0, false},
	}

	for _, tt := range tests {
		got, ok := pageSuffix(tt.uri, base)
		assert.Equal(t, tt.wantOK, ok, tt.uri)
		assert.Equal(t, tt.want, got, tt.uri)
	}
}
