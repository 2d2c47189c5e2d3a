// Package news defines core types shared across subsystems.
package news

import (
	"fmt"
	"time"
)

// SourceMeta describes the outlet an article came from, including any
// editorially assigned bias rating.
type SourceMeta struct {
	Name       string  `json:"name"`
	Bias       string  `json:"bias,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Article is an unanalyzed article as produced by ingestion. Within the
// local store the URL is the primary key and is globally unique.
type Article struct {
	ID          string     `json:"id"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Content     string     `json:"content,omitempty"`
	Summary     string     `json:"summary,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Language    string     `json:"language,omitempty"`
	Author      string     `json:"author,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Edition     string     `json:"edition,omitempty"`
	SourceType  string     `json:"source_type,omitempty"`
	Source      SourceMeta `json:"source"`
	Confidence  float64    `json:"confidence"`
	CID         string     `json:"cid,omitempty"`
	Raw         string     `json:"raw,omitempty"`
	FetchedAt   time.Time  `json:"fetched_at"`
}

// StoreKey returns the primary key for the local article store.
func (a Article) StoreKey() string { return a.URL }

// Identifiers exposes every value an article can be looked up by.
func (a Article) Identifiers() (id, url, cid string) { return a.ID, a.URL, a.CID }

// Analysis is the output of the analysis service for a single article.
type Analysis struct {
	PoliticalBias   string   `json:"political_bias"`
	Sentiment       string   `json:"sentiment"`
	CognitiveBiases []string `json:"cognitive_biases"`
	Antithesis      string   `json:"antithesis"`
	Philosophical   string   `json:"philosophical"`
}

// Empty reports whether the analysis carries no signal at all.
func (an Analysis) Empty() bool {
	return an.PoliticalBias == "" && an.Sentiment == "" &&
		len(an.CognitiveBiases) == 0 && an.Antithesis == "" && an.Philosophical == ""
}

// ArticleAnalyzed is an article that completed the analysis step. Its ID is
// generated independently of the source article; OriginalID links back.
type ArticleAnalyzed struct {
	Article
	Analysis
	OriginalID string    `json:"original_id"`
	AnalyzedAt time.Time `json:"analyzed_at"`
}

// StoreKey returns the primary key for the analyzed store.
func (a ArticleAnalyzed) StoreKey() string { return a.ID }

// FederatedPointer announces that content exists at a CID. Pointers are
// appended and queried, never mutated.
type FederatedPointer struct {
	CID       string    `json:"cid"`
	Timestamp time.Time `json:"timestamp"`
	Analyzed  bool      `json:"analyzed"`
	Source    string    `json:"source,omitempty"`
	Edition   string    `json:"edition,omitempty"`
}

// StoreKey keys pointers by CID plus announcement time so re-announcements
// of the same CID append rather than overwrite.
func (p FederatedPointer) StoreKey() string {
	return fmt.Sprintf("%s@%d", p.CID, p.Timestamp.UnixNano())
}

// Identifiers for pointer lookups; only the CID is meaningful.
func (p FederatedPointer) Identifiers() (id, url, cid string) { return "", "", p.CID }

// Source is a configured ingestion source. Owned by configuration and
// read-only to the pipeline.
type Source struct {
	Name           string `json:"name" mapstructure:"name"`
	Endpoint       string `json:"endpoint" mapstructure:"endpoint"`
	Parser         string `json:"parser,omitempty" mapstructure:"parser"`
	Normalizer     string `json:"normalizer,omitempty" mapstructure:"normalizer"`
	Edition        string `json:"edition,omitempty" mapstructure:"edition"`
	Bias           string `json:"bias,omitempty" mapstructure:"bias"`
	Enabled        bool   `json:"enabled" mapstructure:"enabled"`
	RequiresAPIKey bool   `json:"requires_api_key" mapstructure:"requires_api_key"`
	APIKey         string `json:"-" mapstructure:"api_key"`
}

// ItemKind discriminates the two article forms in Item.
type ItemKind string

// Item kinds persisted in blob envelopes.
const (
	KindArticle  ItemKind = "article"
	KindAnalyzed ItemKind = "analyzed"
)

// Item is the tagged union of the two article forms. It is the unit the
// resolution engine operates on and the envelope persisted to the blob
// store; exactly one of Article/Analyzed is set, per Kind.
type Item struct {
	Kind     ItemKind         `json:"kind"`
	Article  *Article         `json:"article,omitempty"`
	Analyzed *ArticleAnalyzed `json:"analyzed,omitempty"`
}

// ItemOf wraps an unanalyzed article.
func ItemOf(a Article) Item {
	return Item{Kind: KindArticle, Article: &a}
}

// ItemOfAnalyzed wraps an analyzed article.
func ItemOfAnalyzed(a ArticleAnalyzed) Item {
	return Item{Kind: KindAnalyzed, Analyzed: &a}
}

// Valid reports whether the union invariant holds.
func (it Item) Valid() bool {
	switch it.Kind {
	case KindArticle:
		return it.Article != nil && it.Analyzed == nil
	case KindAnalyzed:
		return it.Analyzed != nil && it.Article == nil
	default:
		return false
	}
}

// IsAnalyzed reports whether the item completed analysis.
func (it Item) IsAnalyzed() bool { return it.Kind == KindAnalyzed && it.Analyzed != nil }

// Base returns the article fields regardless of kind.
func (it Item) Base() Article {
	if it.IsAnalyzed() {
		return it.Analyzed.Article
	}
	if it.Article != nil {
		return *it.Article
	}
	return Article{}
}

// URL returns the source URL regardless of kind.
func (it Item) URL() string { return it.Base().URL }

// CID returns the recorded content identifier, if any.
func (it Item) CID() string { return it.Base().CID }

// Resident reports whether the item is fully resolved: content, summary and
// analysis all present. Resolving a resident item is a no-op.
func (it Item) Resident() bool {
	b := it.Base()
	return it.IsAnalyzed() && b.Content != "" && b.Summary != ""
}

// FetchResult is the outcome of one ingestion batch.
type FetchResult struct {
	Articles []Article    `json:"articles"`
	Errors   []FetchError `json:"errors"`
}

// FetchError records a single source failure without aborting the batch.
type FetchError struct {
	Endpoint string `json:"endpoint"`
	Error    string `json:"error"`
}
