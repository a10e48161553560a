package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestClient(t *testing.T, handler http.Handler) *storage.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(
		context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client := newTestClient(t, http.NotFoundHandler())
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestPutObjectUploadsUnderPrefix(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		name string
		body string
	)
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Path, "/upload/storage/v1/b/wiki-bucket/o")
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		mu.Lock()
		name = r.URL.Query().Get("name")
		body = string(raw)
		mu.Unlock()
		fmt.Fprintln(w, `{"name": "wiki/json/gandalf.json", "bucket": "wiki-bucket"}`)
	}))

	store, err := New(client, Config{Bucket: "wiki-bucket", Prefix: "/wiki/"})
	require.NoError(t, err)
	records := store.WithPrefix("json")

	uri, err := records.PutObject(context.Background(), "gandalf.json", "application/json",
		strings.NewReader(`{"title":"Gandalf"}`))
	require.NoError(t, err)
	require.Equal(t, "gs://wiki-bucket/wiki/json/gandalf.json", uri)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "wiki/json/gandalf.json", name)
	require.Contains(t, body, `{"title":"Gandalf"}`)
	require.Contains(t, body, "application/json")
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	store, err := New(client, Config{Bucket: "wiki-bucket"})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "a.html", "text/html", strings.NewReader("<html></html>"))
	require.Error(t, err)

	_, err = store.PutObject(context.Background(), " ", "text/html", strings.NewReader(""))
	require.Error(t, err)
}

func TestCheckBucket(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/b/present") {
			fmt.Fprintln(w, `{"name": "present"}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintln(w, `{"error": {"code": 404, "message": "Not Found"}}`)
	}))

	present, err := New(client, Config{Bucket: "present"})
	require.NoError(t, err)
	require.NoError(t, present.CheckBucket(context.Background()))

	missing, err := New(client, Config{Bucket: "missing"})
	require.NoError(t, err)
	require.Error(t, missing.CheckBucket(context.Background()))
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	s := &BlobStore{bucket: "b"}
	require.Equal(t, "a.json", s.objectName("/a.json"))
	s.prefix = "wiki"
	require.Equal(t, "wiki/a.json", s.objectName("a.json"))
	require.Equal(t, "wiki/html", s.WithPrefix("html").prefix)
}
