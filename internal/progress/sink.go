package progress

import "context"

// Sink consumes batches of progress events. The Hub calls a sink from a
// single goroutine; Consume should honor ctx.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events. The runner depends on this rather
// than on Hub so tests can record events directly.
type Emitter interface {
	Emit(evt Event)
}
