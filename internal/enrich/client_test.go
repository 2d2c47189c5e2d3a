package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"newsmesh/internal/news"
)

func TestNewClientRequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{}, zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "base_url")
}

func TestClientNormalize(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/normalize", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req normalizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "raw text", req.Text)
		require.Equal(t, "de", req.TargetLanguage)

		writeJSONResponse(t, w, news.Normalized{Content: "clean", Summary: "short"})
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "secret"}, zap.NewNop())
	require.NoError(t, err)

	got, err := c.Normalize(context.Background(), "raw text", "de")
	require.NoError(t, err)
	require.Equal(t, "clean", got.Content)
	require.Equal(t, "short", got.Summary)
	require.NotNil(t, got.Tags)
}

func TestClientNormalizeEmptyInputSkipsNetwork(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	got, err := c.Normalize(context.Background(), "   ", "en")
	require.NoError(t, err)
	require.Empty(t, got.Content)
	require.NotNil(t, got.Tags)
	require.Zero(t, calls.Load())
}

func TestClientNormalizeTruncatesInput(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req normalizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Text, 16)

		writeJSONResponse(t, w, news.Normalized{Content: req.Text})
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, MaxInputBytes: 16}, zap.NewNop())
	require.NoError(t, err)

	_, err = c.Normalize(context.Background(), strings.Repeat("x", 100), "")
	require.NoError(t, err)
}

func TestTruncateNeverSplitsRunes(t *testing.T) {
	t.Parallel()

	c := &Client{cfg: Config{MaxInputBytes: 4}}

	// "aαβγ" is 7 bytes; byte 4 sits inside β.
	got := c.truncate("aαβγ")
	require.Equal(t, "aα", got)
	require.True(t, utf8.ValidString(got))

	require.Equal(t, "abcd", c.truncate("abcdef"))
	require.Equal(t, "abc", c.truncate("abc"))
}

func TestClientAnalyze(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/analyze", r.URL.Path)
		writeJSONResponse(t, w, news.Analysis{PoliticalBias: "center", Sentiment: "negative"})
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	got, err := c.Analyze(context.Background(), "some article text")
	require.NoError(t, err)
	require.Equal(t, "center", got.PoliticalBias)
	require.Equal(t, "negative", got.Sentiment)
	require.NotNil(t, got.CognitiveBiases)
}

func TestClientAnalyzeEmptyInputReturnsNeutral(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	got, err := c.Analyze(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, NeutralAnalysis(), got)
	require.Zero(t, calls.Load())
}

func TestClientTranslateTitles(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/translate", r.URL.Path)
		writeJSONResponse(t, w, translateResponse{Titles: []string{"eins", "zwei"}})
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	got, err := c.TranslateTitles(context.Background(), []string{"one", "two"}, "de")
	require.NoError(t, err)
	require.Equal(t, []string{"eins", "zwei"}, got)
}

func TestClientTranslateTitlesPassthrough(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	got, err := c.TranslateTitles(context.Background(), nil, "de")
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = c.TranslateTitles(context.Background(), []string{"keep"}, "")
	require.NoError(t, err)
	require.Equal(t, []string{"keep"}, got)
	require.Zero(t, calls.Load())
}

func TestClientTranslateTitlesLengthMismatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(t, w, translateResponse{Titles: []string{"only one"}})
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	_, err = c.TranslateTitles(context.Background(), []string{"one", "two"}, "de")
	require.Error(t, err)
	require.Contains(t, err.Error(), "1 titles for 2 inputs")
}

func TestClientSurfacesServiceErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	_, err = c.Analyze(context.Background(), "text")
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
	require.Contains(t, err.Error(), "upstream exploded")
}

func writeJSONResponse(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}
