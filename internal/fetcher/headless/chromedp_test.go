package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/stretchr/testify/require"
)

func TestLaunchFlags(t *testing.T) {
	t.Parallel()

	flags := launchFlags(Config{Headless: true})
	require.Equal(t, "new", flags["headless"])
	require.Equal(t, true, flags["no-sandbox"])
	require.Equal(t, true, flags["disable-setuid-sandbox"])
	require.Equal(t, true, flags["disable-infobars"])
	require.Equal(t, "AutomationControlled", flags["disable-blink-features"])
	require.Equal(t, false, flags["enable-automation"])

	require.Equal(t, false, launchFlags(Config{})["headless"])
}

func TestAllocatorOptionsIncludesExecPath(t *testing.T) {
	t.Parallel()

	base := len(allocatorOptions(Config{}))
	require.Len(t, allocatorOptions(Config{ExecPath: "/usr/bin/chromium"}), base+1)
}

func TestConfigViewportDefaults(t *testing.T) {
	t.Parallel()

	w, h := Config{}.viewport()
	require.Equal(t, 1920, w)
	require.Equal(t, 1080, h)

	w, h = Config{ViewportWidth: 1280, ViewportHeight: 720}.viewport()
	require.Equal(t, 1280, w)
	require.Equal(t, 720, h)
}

func TestToNetworkHeaders(t *testing.T) {
	t.Parallel()

	src := http.Header{
		"Accept-Language": {"en-US,en;q=0.9"},
		"X-Test":          {"a", "b"},
		"Empty":           {},
	}
	headers := toNetworkHeaders(src)
	require.Equal(t, "en-US,en;q=0.9", headers["Accept-Language"])
	require.Equal(t, []string{"a", "b"}, headers["X-Test"])
	require.NotContains(t, headers, "Empty")
}

func TestResponseMetaCountsDocuments(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 200, URL: "https://example.org/app.js"},
	})
	require.Zero(t, meta.navigations())

	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 403, URL: "https://example.org/wiki/A"},
	})
	require.EqualValues(t, 1, meta.navigations())

	status, url := meta.snapshotWithFallbacks("")
	require.Equal(t, 403, status)
	require.Equal(t, "https://example.org/wiki/A", url)

	status, url = newResponseMeta().snapshotWithFallbacks("https://example.org/final")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://example.org/final", url)
}

func TestWaitDOMReadyReturnsOnDOMContentLoaded(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	// Load event alone must not count as content-loaded.
	meta.captureEvent(&cdppage.EventLoadEventFired{})
	require.Zero(t, meta.domLoads())

	seen := meta.domLoads()
	go meta.captureEvent(&cdppage.EventDomContentEventFired{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, meta.waitDOMReady(ctx, seen))
	require.EqualValues(t, 1, meta.domLoads())
}

func TestWaitDOMReadyIgnoresEarlierDocuments(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&cdppage.EventDomContentEventFired{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := meta.waitDOMReady(ctx, meta.domLoads())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
