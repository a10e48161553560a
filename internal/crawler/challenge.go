package crawler

import "strings"

// DefaultChallengeMarkers are title fragments shown by common interstitials.
var DefaultChallengeMarkers = []string{"Just a moment"}

// ChallengeDetector decides whether a document title belongs to an anti-bot
// challenge page. It is the only place challenge detection happens.
type ChallengeDetector struct {
	markers []string
}

// NewChallengeDetector builds a detector from title fragments. Blank and
// duplicate markers are dropped; an empty list falls back to the defaults.
func NewChallengeDetector(markers []string) ChallengeDetector {
	out := make([]string, 0, len(markers))
	seen := make(map[string]struct{}, len(markers))
	for _, m := range markers {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	if len(out) == 0 {
		out = append(out, DefaultChallengeMarkers...)
	}
	return ChallengeDetector{markers: out}
}

// IsChallenge reports whether title contains any marker.
func (d ChallengeDetector) IsChallenge(title string) bool {
	if title == "" {
		return false
	}
	for _, m := range d.markers {
		if strings.Contains(title, m) {
			return true
		}
	}
	return false
}

// Classify stamps the Challenge flag on res.
func (d ChallengeDetector) Classify(res FetchResult) FetchResult {
	res.Challenge = d.IsChallenge(res.Title)
	return res
}
