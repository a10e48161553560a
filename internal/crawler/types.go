package crawler

import (
	"net/http"
	"time"
)

// Sentinel titles used when the page does not provide one.
const (
	DefaultIntroTitle   = "Intro"
	DefaultUnknownTitle = "Unknown Title"
)

// Section is one titled block of page content.
type Section struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// PageRecord is the persisted unit for a successfully processed page.
type PageRecord struct {
	Title   string    `json:"title"`
	Content []Section `json:"content"`
}

// FetchRequest captures everything needed to load one page.
type FetchRequest struct {
	PageID    string
	URL       string
	UserAgent string
	Headers   http.Header
}

// FetchResult is what a backend reports after a navigation. Challenge is only
// ever set by PageFetcher; backends leave it false.
type FetchResult struct {
	URL        string
	FinalURL   string
	Title      string
	StatusCode int
	HTML       string
	Challenge  bool
}

// Challenged reports whether the result is an anti-bot interstitial.
func (r FetchResult) Challenged() bool {
	return r.Challenge
}

// TaskState is a node of the per-page state machine.
type TaskState string

// Task states in the order the success path visits them.
const (
	StateStart            TaskState = "start"
	StateFetching         TaskState = "fetching"
	StateChallengeCheck   TaskState = "challenge_check"
	StateChallengeWaiting TaskState = "challenge_waiting"
	StateExtracting       TaskState = "extracting"
	StatePersisted        TaskState = "persisted"
	StateFailed           TaskState = "failed"
)

// OutcomeStatus tags how a page task ended.
type OutcomeStatus string

// Outcome status values.
const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeCanceled  OutcomeStatus = "canceled"
)

// Outcome is the result of one PageTask. It is reported to the runner and
// then discarded.
type Outcome struct {
	PageID   string
	URL      string
	Status   OutcomeStatus
	State    TaskState
	Err      error
	Artifact string
	Bytes    int64
	// Checksum is the record digest, empty for failed pages or when no
	// Hasher is configured.
	Checksum string
	Attempts int
	Duration time.Duration
}

// Summary aggregates a whole run.
type Summary struct {
	RunID     string
	Total     int
	Succeeded int
	Failed    int
	Canceled  bool
	Failures  []string
	Duration  time.Duration
}
