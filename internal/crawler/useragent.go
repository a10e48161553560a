package crawler

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
)

// DefaultUserAgent is a desktop Chrome template; %d is the patch build.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/91.0.4472.%d Safari/537.36"

// DefaultAcceptLanguage is sent with every request.
const DefaultAcceptLanguage = "en-US,en;q=0.9"

// RequestProfile holds the identity presented on every page request.
type RequestProfile struct {
	UserAgent      string
	Randomize      bool
	AcceptLanguage string
	CookieHeader   string
	// Intn overrides the random source; nil uses math/rand/v2.
	Intn func(n int) int
}

// UserAgentFor returns the user agent for the next request. The %d slot is
// filled with a random build number when randomization is on, or 0 otherwise.
func (p RequestProfile) UserAgentFor() string {
	ua := p.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	if !strings.Contains(ua, "%d") {
		return ua
	}
	build := 0
	if p.Randomize {
		intn := p.Intn
		if intn == nil {
			intn = rand.IntN
		}
		build = intn(1000)
	}
	return fmt.Sprintf(ua, build)
}

// Headers returns the extra request headers for a page request.
func (p RequestProfile) Headers() http.Header {
	h := http.Header{}
	lang := p.AcceptLanguage
	if lang == "" {
		lang = DefaultAcceptLanguage
	}
	h.Set("Accept-Language", lang)
	if cookie := strings.TrimSpace(p.CookieHeader); cookie != "" {
		h.Set("Cookie", cookie)
	}
	return h
}

// Request builds a FetchRequest for one page identifier.
func (p RequestProfile) Request(baseURL, id string) FetchRequest {
	return FetchRequest{
		PageID:    id,
		URL:       TargetURL(baseURL, id),
		UserAgent: p.UserAgentFor(),
		Headers:   p.Headers(),
	}
}
