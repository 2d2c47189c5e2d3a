// Package detector decides when a source fetch should be retried with a
// headless browser. Feed endpoints answer with XML or JSON; an HTML document
// in their place usually means a JavaScript application shell that only
// produces the real payload after rendering.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"newsmesh/internal/news"
)

const defaultShellByteLimit = 2048

// Heuristic promotes fetches whose response cannot be a feed as served.
type Heuristic struct {
	// ShellByteLimit is the size under which an HTML document counts as an
	// app shell even without other shell signals.
	ShellByteLimit int
}

// NewHeuristic creates a detector. A zero limit selects the default.
func NewHeuristic(shellByteLimit int) *Heuristic {
	if shellByteLimit == 0 {
		shellByteLimit = defaultShellByteLimit
	}
	return &Heuristic{ShellByteLimit: shellByteLimit}
}

// feedPrefixes are payload openings that identify a feed already in hand.
var feedPrefixes = [][]byte{
	[]byte("<?xml"),
	[]byte("<rss"),
	[]byte("<feed"),
	[]byte("<rdf"),
	[]byte("{"),
}

// shellMarkers identify hydration roots of the common frontend frameworks.
var shellMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
}

// ShouldPromote reports whether the response warrants a headless retry. A
// feed payload never promotes; an empty body or an HTML shell in a feed's
// place does.
func (h *Heuristic) ShouldPromote(resp news.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 {
		return true
	}
	if isFeedPayload(resp.Headers, body) {
		return false
	}
	if !isHTMLPayload(resp.Headers, body) {
		// Neither a feed nor HTML; rendering will not conjure a feed out
		// of it.
		return false
	}
	lower := bytes.ToLower(body)
	for _, marker := range shellMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return len(body) < h.ShellByteLimit || scriptHeavy(lower)
}

func isFeedPayload(headers http.Header, body []byte) bool {
	ct := strings.ToLower(headers.Get("Content-Type"))
	if strings.Contains(ct, "xml") || strings.Contains(ct, "json") {
		return true
	}
	lower := bytes.ToLower(body)
	for _, prefix := range feedPrefixes {
		if bytes.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func isHTMLPayload(headers http.Header, body []byte) bool {
	if strings.Contains(strings.ToLower(headers.Get("Content-Type")), "html") {
		return true
	}
	lower := bytes.ToLower(body)
	return bytes.HasPrefix(lower, []byte("<!doctype")) || bytes.HasPrefix(lower, []byte("<html"))
}

// scriptHeavy reports whether script elements make up at least a quarter of
// the document.
func scriptHeavy(lower []byte) bool {
	var (
		openTag  = []byte("<script")
		closeTag = []byte("</script>")
	)
	inside := 0
	rest := lower
	for {
		open := bytes.Index(rest, openTag)
		if open < 0 {
			break
		}
		segment := rest[open:]
		end := bytes.Index(segment, closeTag)
		if end < 0 {
			// Unterminated script: count the remainder of the document.
			inside += len(segment)
			break
		}
		inside += end + len(closeTag)
		rest = segment[end+len(closeTag):]
	}
	return inside*4 >= len(lower)
}
