// Package progress defines the event structures emitted by the crawl runner.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart      Stage = "RUN_START"
	StageRunDone       Stage = "RUN_DONE"
	StagePageStart     Stage = "PAGE_START"
	StagePageChallenge Stage = "PAGE_CHALLENGE"
	StagePageDone      Stage = "PAGE_DONE"
	StagePageError     Stage = "PAGE_ERROR"
)

// Event captures a single component of crawler progress.
type Event struct {
	// RunID uniquely identifies a crawl run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or page milestone occurred.
	Stage Stage
	// PageID is the wiki page identifier for page-scoped stages.
	PageID string
	// URL is the optional page URL.
	URL string
	// Bytes carries the size of the artifact written for the page.
	Bytes int64
	// Dur captures page or run latency.
	Dur time.Duration
	// Failed marks RUN_DONE events for runs that ended fatally.
	Failed bool
	// Note carries error text on PAGE_ERROR and the record checksum on
	// PAGE_DONE.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StagePageStart, StagePageChallenge, StagePageDone, StagePageError:
		if e.PageID == "" {
			return fmt.Errorf("%s requires page id", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ParseRunID converts a textual run ID into the Event form. Invalid input
// yields the zero value, which Validate rejects.
func ParseRunID(id string) [16]byte {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return [16]byte{}
	}
	return UUIDToBytes(parsed)
}
