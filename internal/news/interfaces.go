package news

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ErrBlobNotFound is returned by BlobStore.Get when no object exists for a CID.
var ErrBlobNotFound = errors.New("blob not found")

// Collection is one replicated document collection. Concurrent writes from
// different peers are merged by the underlying engine; the pipeline only
// relies on key-based upsert semantics.
type Collection interface {
	Name() string
	Put(ctx context.Context, key string, doc []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	All(ctx context.Context) (map[string][]byte, error)
	Delete(ctx context.Context, key string) error
	// Updates streams peer-originated change notifications.
	Updates() <-chan Update
	Close() error
}

// Update is a peer-originated change notification for a collection.
type Update struct {
	Collection string
	Key        string
	Peer       string
	At         time.Time
}

// BlobStore writes whole objects into content-addressed storage. Putting
// identical bytes must always yield the same CID.
type BlobStore interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, cid string) ([]byte, error)
}

// Publisher announces federated pointers to peers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL         string
	Headers     http.Header
	UseHeadless bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Parser extracts readable article text from a raw payload.
type Parser interface {
	Extract(url string, raw []byte) (string, error)
}

// ParserRegistry maps hostnames to site-specific parsers. Lookup never
// returns nil: unknown hosts get the generic fallback parser.
type ParserRegistry interface {
	Lookup(hostname string) Parser
}

// Normalized is the cleaned-up output of the normalization step.
type Normalized struct {
	Content  string   `json:"content"`
	Summary  string   `json:"summary"`
	Tags     []string `json:"tags"`
	Language string   `json:"language,omitempty"`
}

// Normalizer is the normalization half of the analysis service boundary.
// Implementations must tolerate empty input and return neutral defaults.
type Normalizer interface {
	Normalize(ctx context.Context, raw string, targetLang string) (Normalized, error)
	TranslateTitles(ctx context.Context, titles []string, targetLang string) ([]string, error)
}

// Analyzer is the analysis half of the analysis service boundary.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (Analysis, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(resp FetchResponse) bool
}

// Hasher computes digests for content addressing and deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
