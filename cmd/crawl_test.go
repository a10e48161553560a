package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/wiki-crawler/internal/config"
	"github.com/JakeFAU/wiki-crawler/internal/crawler"
)

const challengeHTML = `<html><head><title>Just a moment...</title></head><body>checking your browser</body></html>`

func articleHTML(title string) string {
	return fmt.Sprintf(`<html><head><title>%[1]s - Wiki</title></head><body>
<span class="mw-page-title-main">%[1]s</span>
<div id="mw-content-text">
  <section class="citizen-section"><p>%[1]s intro.</p></section>
  <h2 class="citizen-section-heading">History</h2>
  <section class="citizen-section"><p>Long ago.</p></section>
</div>
</body></html>`, title)
}

func newWikiServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><head><title>Main Page</title></head><body></body></html>`)
	})
	mux.HandleFunc("/wiki/Alpha", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, articleHTML("Alpha"))
	})
	mux.HandleFunc("/wiki/Gate", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("cf_clearance"); err == nil && c.Value == "ok" {
			fmt.Fprint(w, articleHTML("Gate"))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "cf_clearance", Value: "ok", Path: "/"})
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, challengeHTML)
	})
	mux.HandleFunc("/wiki/Broken", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, challengeHTML)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func writeConfig(t *testing.T, dir, baseURL string) {
	t.Helper()

	body := fmt.Sprintf(`
crawler:
  base_url: %s/wiki/
  pages: ["Alpha", "Gate", "Broken"]
  output_dir: %s
  html_dir: %s
  inter_page_delay: 0s
fetcher:
  backend: colly
  navigation_timeout: 5s
  challenge_timeout: 600ms
  challenge_poll_interval: 50ms
  content_timeout: 1s
metrics:
  textfile: %s
logging:
  development: false
`, baseURL,
		filepath.Join(dir, "json"),
		filepath.Join(dir, "html"),
		filepath.Join(dir, "crawler.prom"),
	)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("CRAWLER_CONFIG", path)
}

func TestRootCommandCrawlsOverHTTP(t *testing.T) {
	server := newWikiServer(t)
	dir := t.TempDir()
	writeConfig(t, dir, server.URL)

	root := newRootCmd()
	root.SetArgs([]string{})
	require.NoError(t, root.ExecuteContext(context.Background()))

	for _, tc := range []struct {
		file  string
		title string
	}{
		{file: "alpha.json", title: "Alpha"},
		{file: "gate.json", title: "Gate"},
	} {
		raw, err := os.ReadFile(filepath.Join(dir, "json", tc.file))
		require.NoError(t, err)
		var rec crawler.PageRecord
		require.NoError(t, json.Unmarshal(raw, &rec))
		require.Equal(t, tc.title, rec.Title)
		require.Equal(t, []crawler.Section{
			{Title: "Intro", Content: tc.title + " intro."},
			{Title: "History", Content: "Long ago."},
		}, rec.Content)
	}

	_, err := os.Stat(filepath.Join(dir, "json", "broken.json"))
	require.True(t, os.IsNotExist(err))
	snapshot, err := os.ReadFile(filepath.Join(dir, "html", "broken.html"))
	require.NoError(t, err)
	require.Contains(t, string(snapshot), "Just a moment")
	_, err = os.Stat(filepath.Join(dir, "html", "alpha.html"))
	require.True(t, os.IsNotExist(err))

	metrics, err := os.ReadFile(filepath.Join(dir, "crawler.prom"))
	require.NoError(t, err)
	require.Contains(t, string(metrics), `crawler_pages_total{result="success"} 2`)
	require.Contains(t, string(metrics), `crawler_pages_total{result="error"} 1`)
	require.Contains(t, string(metrics), `crawler_challenges_total 2`)
	require.Contains(t, string(metrics), `crawler_runs_total{result="success"} 1`)
}

func TestRootCommandDryRunWritesNothing(t *testing.T) {
	server := newWikiServer(t)
	dir := t.TempDir()
	writeConfig(t, dir, server.URL)
	t.Setenv("CRAWLER_STORAGE_DRY_RUN", "true")

	root := newRootCmd()
	root.SetArgs([]string{})
	require.NoError(t, root.ExecuteContext(context.Background()))

	for _, sub := range []string{"json", "html"} {
		_, err := os.Stat(filepath.Join(dir, sub))
		require.True(t, os.IsNotExist(err), sub)
	}
	metrics, err := os.ReadFile(filepath.Join(dir, "crawler.prom"))
	require.NoError(t, err)
	require.Contains(t, string(metrics), `crawler_pages_total{result="success"} 2`)
}

func TestOpenStoresDryRunReportsPaths(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	cfg := config.Config{Storage: config.StorageConfig{DryRun: true, GCSBucket: "never-used"}}
	records, snapshots, report, err := openStores(context.Background(), cfg, zap.New(core))
	require.NoError(t, err)

	_, err = records.PutObject(context.Background(), "gandalf.json", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	_, err = snapshots.PutObject(context.Background(), "sauron.html", "text/html", strings.NewReader("<html></html>"))
	require.NoError(t, err)
	report()

	entries := logs.FilterMessage("dry run, artifacts discarded").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, []any{"gandalf.json"}, fields["records"])
	require.Equal(t, []any{"sauron.html"}, fields["snapshots"])
}

func TestRootCommandFailsWhenWarmupFails(t *testing.T) {
	server := newWikiServer(t)
	baseURL := server.URL
	server.Close()

	dir := t.TempDir()
	writeConfig(t, dir, baseURL)

	root := newRootCmd()
	root.SetArgs([]string{})
	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	require.True(t, crawler.IsFatal(err))

	_, statErr := os.Stat(filepath.Join(dir, "json", "alpha.json"))
	require.True(t, os.IsNotExist(statErr))
}

func TestRootCommandRejectsArguments(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "http://127.0.0.1:1")

	root := newRootCmd()
	root.SetArgs([]string{"Gandalf"})
	require.Error(t, root.ExecuteContext(context.Background()))
}

func TestRootCommandInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fetcher:\n  backend: lynx\n"), 0o600))
	t.Setenv("CRAWLER_CONFIG", path)

	root := newRootCmd()
	root.SetArgs([]string{})
	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "fetcher.backend")
}
