package crawler

import (
	"errors"
	"fmt"
	"time"
)

// ErrSessionClosed is returned by sessions used after Close.
var ErrSessionClosed = errors.New("session closed")

// NavigationError means the page never reached a queryable state. It is
// page-scoped and may be retried.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigate %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}

// ChallengeTimeoutError means an anti-bot interstitial did not clear within
// the challenge timeout. It is page-scoped and never retried immediately.
type ChallengeTimeoutError struct {
	URL     string
	Timeout time.Duration
	Err     error
}

func (e *ChallengeTimeoutError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("challenge on %s did not clear within %s", e.URL, e.Timeout)
	}
	return fmt.Sprintf("challenge on %s did not clear within %s: %v", e.URL, e.Timeout, e.Err)
}

func (e *ChallengeTimeoutError) Unwrap() error {
	return e.Err
}

// FatalCrawlError stops the whole run.
type FatalCrawlError struct {
	Reason string
	Err    error
}

func (e *FatalCrawlError) Error() string {
	if e.Err == nil {
		return "fatal crawl error: " + e.Reason
	}
	return fmt.Sprintf("fatal crawl error: %s: %v", e.Reason, e.Err)
}

func (e *FatalCrawlError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err carries a FatalCrawlError.
func IsFatal(err error) bool {
	var fatal *FatalCrawlError
	return errors.As(err, &fatal)
}

// IsChallengeTimeout reports whether err carries a ChallengeTimeoutError.
func IsChallengeTimeout(err error) bool {
	var challenge *ChallengeTimeoutError
	return errors.As(err, &challenge)
}
