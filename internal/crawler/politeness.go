package crawler

import (
	"context"
	"time"
)

// DefaultInterPageDelay is the fixed pause after every page task.
const DefaultInterPageDelay = 3 * time.Second

// pauseController abstracts how the runner waits between pages and retries.
type pauseController interface {
	Pause(ctx context.Context, delay time.Duration)
}

type timerPauseController struct{}

func (p *timerPauseController) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
