package news

import (
	"net/url"
	"strings"
)

// NormalizeURL strips a single trailing slash. Sources are inconsistent
// about emitting "https://x.com/a" vs "https://x.com/a/", so fuzzy lookups
// compare both forms.
func NormalizeURL(raw string) string {
	if raw == "" || raw == "/" {
		return raw
	}
	return strings.TrimSuffix(raw, "/")
}

// Hostname extracts the lowercase host from a URL, or "" if unparsable.
func Hostname(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
