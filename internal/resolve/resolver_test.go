package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"newsmesh/internal/news"
	"newsmesh/internal/parser"
	"newsmesh/internal/store"
	"newsmesh/internal/store/memory"
)

type fakeFetcher struct {
	calls atomic.Int64
	body  string
	err   error
}

func (f *fakeFetcher) Fetch(_ context.Context, req news.FetchRequest) (news.FetchResponse, error) {
	f.calls.Add(1)
	if f.err != nil {
		return news.FetchResponse{}, f.err
	}
	return news.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte(f.body)}, nil
}

type fakeBlob struct {
	gets    atomic.Int64
	puts    atomic.Int64
	objects map[string][]byte
	getErr  error
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{objects: map[string][]byte{}}
}

func (b *fakeBlob) Put(_ context.Context, data []byte) (string, error) {
	b.puts.Add(1)
	cid := fmt.Sprintf("cid-%d", b.puts.Load())
	b.objects[cid] = append([]byte(nil), data...)
	return cid, nil
}

func (b *fakeBlob) Get(_ context.Context, cid string) ([]byte, error) {
	b.gets.Add(1)
	if b.getErr != nil {
		return nil, b.getErr
	}
	data, ok := b.objects[cid]
	if !ok {
		return nil, news.ErrBlobNotFound
	}
	return data, nil
}

type fakeNormalizer struct {
	calls atomic.Int64
	out   news.Normalized
	err   error
}

func (n *fakeNormalizer) Normalize(context.Context, string, string) (news.Normalized, error) {
	n.calls.Add(1)
	return n.out, n.err
}

func (n *fakeNormalizer) TranslateTitles(_ context.Context, titles []string, _ string) ([]string, error) {
	return titles, nil
}

type fakeAnalyzer struct {
	calls atomic.Int64
	out   news.Analysis
	err   error
}

func (a *fakeAnalyzer) Analyze(context.Context, string) (news.Analysis, error) {
	a.calls.Add(1)
	return a.out, a.err
}

type fakePublisher struct {
	calls atomic.Int64
}

func (p *fakePublisher) Publish(context.Context, string, any) (string, error) {
	p.calls.Add(1)
	return "msg-1", nil
}

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("id-%d", s.n.Add(1)), nil
}

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

type harness struct {
	resolver   *Resolver
	local      *store.Store[news.Article]
	analyzed   *store.Store[news.ArticleAnalyzed]
	federated  *store.FederatedStore
	blob       *fakeBlob
	fetcher    *fakeFetcher
	normalizer *fakeNormalizer
	analyzer   *fakeAnalyzer
	publisher  *fakePublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		local:      store.New[news.Article](store.NameLocal, memory.NewCollection("local"), nil, zap.NewNop()),
		analyzed:   store.New[news.ArticleAnalyzed](store.NameAnalyzed, memory.NewCollection("analyzed"), nil, zap.NewNop()),
		federated:  store.NewFederated(memory.NewCollection("federated"), nil, zap.NewNop()),
		blob:       newFakeBlob(),
		fetcher:    &fakeFetcher{body: "<html><body><article>Fetched body text. Second sentence. Third one. Fourth.</article></body></html>"},
		normalizer: &fakeNormalizer{out: news.Normalized{Content: "normalized content", Summary: "short summary", Tags: []string{"news"}}},
		analyzer:   &fakeAnalyzer{out: news.Analysis{PoliticalBias: "center", Sentiment: "neutral", CognitiveBiases: []string{}}},
		publisher:  &fakePublisher{},
	}
	resolver, err := New(Config{
		Local:      h.local,
		Analyzed:   h.analyzed,
		Federated:  h.federated,
		Blob:       h.blob,
		Fetcher:    h.fetcher,
		Parsers:    parser.NewRegistry(),
		Normalizer: h.normalizer,
		Analyzer:   h.analyzer,
		Publisher:  h.publisher,
		Topic:      "announce",
		IDs:        &seqIDs{},
		Clock:      fixedClock{at: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		TargetLang: "en",
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)
	h.resolver = resolver
	return h
}

func residentItem() news.Item {
	return news.ItemOfAnalyzed(news.ArticleAnalyzed{
		Article: news.Article{
			ID:      "an-1",
			URL:     "https://x.com/a",
			Title:   "t",
			Content: "resident content",
			Summary: "resident summary",
			CID:     "bafyresident",
		},
		Analysis:   news.Analysis{PoliticalBias: "left", Sentiment: "negative"},
		OriginalID: "a-1",
	})
}

func TestResolveRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}

func TestResolveRejectsInvalidItem(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.resolver.Resolve(context.Background(), news.Item{})
	require.Error(t, err)
}

func TestResidentTierPerformsNoIO(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	item := residentItem()

	got, err := h.resolver.Resolve(context.Background(), item)
	require.NoError(t, err)
	require.Equal(t, item, got)

	require.Zero(t, h.blob.gets.Load())
	require.Zero(t, h.fetcher.calls.Load())
	require.Zero(t, h.normalizer.calls.Load())
	require.Zero(t, h.analyzer.calls.Load())
}

func TestResolveIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	item := residentItem()

	first, err := h.resolver.Resolve(context.Background(), item)
	require.NoError(t, err)
	second, err := h.resolver.Resolve(context.Background(), first)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Zero(t, h.fetcher.calls.Load())
}

func TestBlobTierWritesLocalStoreWithZeroNetworkFetches(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	stored := news.ItemOfAnalyzed(news.ArticleAnalyzed{
		Article: news.Article{
			ID:      "an-9",
			URL:     "https://x.com/a",
			Content: "hello",
			Summary: "hi",
		},
		Analysis:   news.Analysis{Sentiment: "neutral"},
		OriginalID: "a-9",
	})
	data, err := json.Marshal(stored)
	require.NoError(t, err)
	h.blob.objects["bafy123"] = data

	input := news.ItemOf(news.Article{URL: "https://x.com/a", CID: "bafy123"})
	got, err := h.resolver.Resolve(ctx, input)
	require.NoError(t, err)

	require.True(t, got.IsAnalyzed())
	require.Equal(t, "hello", got.Base().Content)
	require.Equal(t, "hi", got.Base().Summary)
	require.Equal(t, "bafy123", got.CID())
	require.Zero(t, h.fetcher.calls.Load())

	local, ok := h.local.Get(ctx, "https://x.com/a")
	require.True(t, ok)
	require.Equal(t, "hello", local.Content)
	require.Equal(t, "a-9", local.ID)
}

func TestBlobMissFallsThroughToSource(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	input := news.ItemOf(news.Article{URL: "https://x.com/a", CID: "bafymissing"})

	got, err := h.resolver.Resolve(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, int64(1), h.blob.gets.Load())
	require.Equal(t, int64(1), h.fetcher.calls.Load())
	require.True(t, got.IsAnalyzed())
}

func TestSourceTierEnrichesPersistsAndAnnounces(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	got, err := h.resolver.Resolve(ctx, news.ItemOf(news.Article{URL: "https://x.com/a", Title: "t"}))
	require.NoError(t, err)

	require.True(t, got.IsAnalyzed())
	require.Equal(t, "normalized content", got.Base().Content)
	require.Equal(t, "short summary", got.Base().Summary)
	require.Equal(t, "center", got.Analyzed.PoliticalBias)
	require.NotEmpty(t, got.CID())

	local, ok := h.local.Get(ctx, "https://x.com/a")
	require.True(t, ok)
	require.Equal(t, got.Analyzed.OriginalID, local.ID)

	analyzed, ok := h.analyzed.Get(ctx, got.Analyzed.ID)
	require.True(t, ok)
	require.Equal(t, "normalized content", analyzed.Content)

	ptrs := h.federated.ByCID(ctx, got.CID())
	require.Len(t, ptrs, 1)
	require.True(t, ptrs[0].Analyzed)
	require.Equal(t, int64(1), h.publisher.calls.Load())
}

func TestFetchFailureReturnsInputUnchanged(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fetcher.err = errors.New("connection refused")

	input := news.ItemOf(news.Article{URL: "https://x.com/a", Title: "t"})
	got, err := h.resolver.Resolve(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, input, got)
	require.Zero(t, h.normalizer.calls.Load())
}

func TestNormalizeFailureFallsBackToNaiveSummary(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.normalizer.err = errors.New("service down")
	h.fetcher.body = "<p>First sentence here. Second sentence here. Third sentence here. Fourth sentence here.</p>"

	got, err := h.resolver.Resolve(context.Background(), news.ItemOf(news.Article{URL: "https://x.com/a"}))
	require.NoError(t, err)
	require.NotEmpty(t, got.Base().Content)
	require.NotEmpty(t, got.Base().Summary)
	require.NotContains(t, got.Base().Summary, "Fourth")
}

func TestAnalysisFailureYieldsUnanalyzedItem(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.analyzer.err = errors.New("analysis down")

	got, err := h.resolver.Resolve(context.Background(), news.ItemOf(news.Article{URL: "https://x.com/a"}))
	require.NoError(t, err)
	require.False(t, got.IsAnalyzed())
	require.Equal(t, news.KindArticle, got.Kind)
	require.Equal(t, "normalized content", got.Base().Content)

	local, ok := h.local.Get(context.Background(), "https://x.com/a")
	require.True(t, ok)
	require.Equal(t, "normalized content", local.Content)
}

func TestNoURLReturnsInputUnchanged(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	input := news.ItemOf(news.Article{ID: "a-1", Title: "orphan"})
	got, err := h.resolver.Resolve(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, input, got)
	require.Zero(t, h.fetcher.calls.Load())
}
