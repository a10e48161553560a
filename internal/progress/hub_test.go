package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestHubFlushesFullBatch(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 8, MaxBatch: 2, FlushInterval: time.Hour}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StagePageStart))
	hub.Emit(sampleEvent(StagePageDone))
	require.Eventually(t, func() bool {
		batches := sink.Batches()
		return len(batches) == 1 && len(batches[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHubFlushesOnInterval(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatch: 10, FlushInterval: 20 * time.Millisecond}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageRunStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubCloseDrainsInOrder(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 8, MaxBatch: 100, FlushInterval: time.Hour}, sink)

	stages := []Stage{StageRunStart, StagePageStart, StagePageChallenge, StagePageDone, StageRunDone}
	for _, stage := range stages {
		hub.Emit(sampleEvent(stage))
	}
	require.NoError(t, hub.Close(context.Background()))
	require.True(t, sink.Closed())

	var got []Stage
	for _, batch := range sink.Batches() {
		for _, evt := range batch {
			got = append(got, evt.Stage)
		}
	}
	require.Equal(t, stages, got)
	require.Equal(t, Stats{Delivered: int64(len(stages))}, hub.Stats())

	hub.Emit(sampleEvent(StageRunStart))
	require.NoError(t, hub.Close(context.Background()), "second close is a no-op")
	require.Equal(t, int64(len(stages)), hub.Stats().Delivered)
}

func TestHubEmitNeverBlocks(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	sink := newStubSink()
	sink.gate = block
	hub := NewHub(Config{BufferSize: 1, MaxBatch: 1, FlushInterval: time.Hour}, sink)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			hub.Emit(sampleEvent(StagePageStart))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a stalled sink")
	}
	require.Positive(t, hub.Stats().Dropped)

	close(block)
	require.NoError(t, hub.Close(context.Background()))
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{}, sink)
	hub.Emit(Event{Stage: StagePageDone})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
	require.Zero(t, hub.Stats().Delivered)
}

func TestHubCountsSinkErrors(t *testing.T) {
	t.Parallel()

	failing := newStubSink()
	failing.err = errors.New("disk full")
	healthy := newStubSink()
	hub := NewHub(Config{}, failing, nil, healthy)

	hub.Emit(sampleEvent(StageRunStart))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, healthy.Batches(), 1, "one failing sink must not starve the others")
	require.Equal(t, int64(1), hub.Stats().SinkErrors)
}

func TestHubCloseHonorsContext(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	defer close(block)
	sink := newStubSink()
	sink.gate = block
	hub := NewHub(Config{MaxBatch: 1}, sink)
	hub.Emit(sampleEvent(StageRunStart))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := hub.Close(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
	err     error
	gate    chan struct{}
}

func newStubSink() *stubSink {
	return &stubSink{}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func sampleEvent(stage Stage) Event {
	return Event{
		RunID:  UUIDToBytes(uuid.New()),
		TS:     time.Now(),
		Stage:  stage,
		PageID: "Gandalf",
	}
}
