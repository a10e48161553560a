package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/JakeFAU/wiki-crawler/internal/progress"
)

// fakePage replays a scripted navigation. awaits are returned one per
// AwaitNavigation call; once exhausted the call blocks until ctx is done.
type fakePage struct {
	mu         sync.Mutex
	log        *callLog
	navigate   FetchResult
	navErr     error
	awaits     []FetchResult
	contentErr error
	html       string
	htmlErr    error
	requests   []FetchRequest
	closed     bool
}

func (p *fakePage) Navigate(ctx context.Context, req FetchRequest) (FetchResult, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	if p.log != nil {
		p.log.add("navigate " + req.URL)
	}
	if err := ctx.Err(); err != nil {
		return FetchResult{}, err
	}
	if p.navErr != nil {
		return FetchResult{URL: req.URL}, p.navErr
	}
	res := p.navigate
	res.URL = req.URL
	return res, nil
}

func (p *fakePage) AwaitNavigation(ctx context.Context) (FetchResult, error) {
	p.mu.Lock()
	if len(p.awaits) > 0 {
		next := p.awaits[0]
		p.awaits = p.awaits[1:]
		p.mu.Unlock()
		return next, nil
	}
	p.mu.Unlock()
	<-ctx.Done()
	return FetchResult{}, ctx.Err()
}

func (p *fakePage) WaitContent(ctx context.Context, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.contentErr
}

func (p *fakePage) HTML(context.Context) (string, error) {
	if p.htmlErr != nil {
		return "", p.htmlErr
	}
	return p.html, nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePage) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// fakeSession hands out pages produced by factory.
type fakeSession struct {
	mu      sync.Mutex
	factory func(n int) (*fakePage, error)
	pages   []*fakePage
	calls   int
}

func (s *fakeSession) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	n := s.calls
	s.calls++
	s.mu.Unlock()
	page, err := s.factory(n)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.pages = append(s.pages, page)
	s.mu.Unlock()
	return page, nil
}

func (s *fakeSession) Close() error { return nil }

func (s *fakeSession) allClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pages {
		if !p.isClosed() {
			return false
		}
	}
	return true
}

func okPage(log *callLog, title string) *fakePage {
	return &fakePage{
		log:      log,
		navigate: FetchResult{Title: title, StatusCode: 200},
		html:     "<html><title>" + title + "</title></html>",
	}
}

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type extractorFunc func(html string) PageRecord

func (f extractorFunc) Extract(html string) PageRecord { return f(html) }

func titleExtractor() Extractor {
	return extractorFunc(func(string) PageRecord {
		return PageRecord{Title: "Gandalf", Content: []Section{{Title: "Intro", Content: "A wizard."}}}
	})
}

type memStore struct {
	mu       sync.Mutex
	scheme   string
	objects  map[string][]byte
	err      error
	prepared int
}

func newMemStore(scheme string) *memStore {
	return &memStore{scheme: scheme, objects: map[string][]byte{}}
}

func (s *memStore) PutObject(_ context.Context, path, _ string, data io.Reader) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, data); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = buf.Bytes()
	return s.scheme + "://" + path, nil
}

func (s *memStore) Prepare(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prepared++
	return s.err
}

func (s *memStore) get(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[path]
	return data, ok
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type lengthHasher struct{}

func (lengthHasher) Hash(data []byte) (string, error) {
	return fmt.Sprintf("len:%d", len(data)), nil
}

type fakeIDGen struct {
	id  string
	err error
}

func (g fakeIDGen) NewID() (string, error) {
	return g.id, g.err
}

type recordingPauser struct {
	log    *callLog
	mu     sync.Mutex
	delays []time.Duration
	onCall func()
}

func (p *recordingPauser) Pause(_ context.Context, d time.Duration) {
	p.mu.Lock()
	p.delays = append(p.delays, d)
	p.mu.Unlock()
	if p.log != nil {
		p.log.add("pause " + d.String())
	}
	if p.onCall != nil {
		p.onCall()
	}
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) stages() []progress.Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]progress.Stage, 0, len(e.events))
	for _, evt := range e.events {
		out = append(out, evt.Stage)
	}
	return out
}

var errConnReset = errors.New("net::ERR_CONNECTION_RESET")

const testRunID = "6f1c1c9e-3c1b-4d8e-9f0a-1b2c3d4e5f60"
