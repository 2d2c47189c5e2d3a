// Package parser maps hostnames to site-specific article parsers and
// provides the generic fallback extractor.
package parser

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"newsmesh/internal/enrich"
	"newsmesh/internal/news"
)

// Registry holds site-specific parsers keyed by hostname. Lookup never
// returns nil: unknown hosts get the generic extractor.
type Registry struct {
	mu       sync.RWMutex
	byHost   map[string]news.Parser
	fallback news.Parser
}

// NewRegistry creates a registry with the generic extractor as fallback.
func NewRegistry() *Registry {
	return &Registry{
		byHost:   make(map[string]news.Parser),
		fallback: Generic{},
	}
}

// Register installs a parser for a hostname, replacing any previous entry.
func (r *Registry) Register(hostname string, p news.Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byHost[strings.ToLower(hostname)] = p
}

// Lookup returns the parser for hostname, or the generic fallback.
func (r *Registry) Lookup(hostname string) news.Parser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.byHost[strings.ToLower(hostname)]; ok {
		return p
	}
	return r.fallback
}

// Generic extracts readable text from arbitrary HTML. It prefers the
// <article> element, then <main>, then the whole body, and strips
// script/style/nav chrome.
type Generic struct{}

// Extract implements news.Parser.
func (Generic) Extract(_ string, raw []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, nav, header, footer, aside, noscript, iframe").Remove()

	for _, selector := range []string{"article", "main", "body"} {
		sel := doc.Find(selector)
		if sel.Length() == 0 {
			continue
		}
		text := strings.Join(strings.Fields(sel.First().Text()), " ")
		if text != "" {
			return text, nil
		}
	}
	// Not HTML, or an empty document: fall back to markup stripping.
	text := enrich.CleanMarkup(string(raw))
	if text == "" {
		return "", fmt.Errorf("no extractable text")
	}
	return text, nil
}
