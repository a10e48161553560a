package crawler

import (
	"context"
	"io"
	"time"
)

// Session is the long-lived browser or HTTP client shared by every task. The
// runner owns it; tasks only borrow it to open their own Page.
type Session interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is one task's isolated tab or request context.
type Page interface {
	// Navigate loads req.URL until the document is at least content-loaded.
	Navigate(ctx context.Context, req FetchRequest) (FetchResult, error)
	// AwaitNavigation blocks until the next navigation completes (or the
	// backend's equivalent re-poll) and reports the new document.
	AwaitNavigation(ctx context.Context) (FetchResult, error)
	// WaitContent blocks until selector can be queried.
	WaitContent(ctx context.Context, selector string) error
	// HTML returns the current document markup.
	HTML(ctx context.Context) (string, error)
	Close() error
}

// Extractor turns a loaded document into a PageRecord. It never fails.
type Extractor interface {
	Extract(html string) PageRecord
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Preparer is implemented by stores that need setup before the first write.
type Preparer interface {
	Prepare(ctx context.Context) error
}

// RetryPolicy decides whether a failed attempt is tried again.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Hasher computes digests of persisted records.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
