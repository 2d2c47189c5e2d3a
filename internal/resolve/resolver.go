// Package resolve implements the article resolution engine: it turns a bare
// article reference into the most-enriched, durably stored version
// obtainable, trying resident content, then the blob store, then a live
// source fetch with enrichment.
package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"newsmesh/internal/enrich"
	"newsmesh/internal/logging"
	"newsmesh/internal/metrics"
	"newsmesh/internal/news"
	"newsmesh/internal/store"
)

// Tier labels recorded in metrics and audit entries.
const (
	TierResident = "resident"
	TierBlob     = "blob"
	TierSource   = "source"
	TierNone     = "none"
)

// Config carries the resolver's collaborators. Local, Fetcher, Parsers,
// Normalizer, Analyzer, IDs and Clock are required; the rest are optional
// and disable their feature when nil.
type Config struct {
	Local      *store.Store[news.Article]
	Analyzed   *store.Store[news.ArticleAnalyzed]
	Federated  *store.FederatedStore
	Blob       news.BlobStore
	Fetcher    news.Fetcher
	Parsers    news.ParserRegistry
	Normalizer news.Normalizer
	Analyzer   news.Analyzer
	Publisher  news.Publisher
	Topic      string
	IDs        news.IDGenerator
	Clock      news.Clock
	TargetLang string
	Logger     *zap.Logger
}

// Resolver resolves article references tier by tier. Expected failures
// (network, blob, enrichment) degrade; only misconfiguration surfaces as an
// error.
type Resolver struct {
	cfg    Config
	logger *zap.Logger
}

// New validates required collaborators and builds a Resolver.
func New(cfg Config) (*Resolver, error) {
	switch {
	case cfg.Local == nil:
		return nil, fmt.Errorf("resolver: local store is required")
	case cfg.Analyzed == nil:
		return nil, fmt.Errorf("resolver: analyzed store is required")
	case cfg.Fetcher == nil:
		return nil, fmt.Errorf("resolver: fetcher is required")
	case cfg.Parsers == nil:
		return nil, fmt.Errorf("resolver: parser registry is required")
	case cfg.Normalizer == nil:
		return nil, fmt.Errorf("resolver: normalizer is required")
	case cfg.Analyzer == nil:
		return nil, fmt.Errorf("resolver: analyzer is required")
	case cfg.IDs == nil:
		return nil, fmt.Errorf("resolver: id generator is required")
	case cfg.Clock == nil:
		return nil, fmt.Errorf("resolver: clock is required")
	}
	return &Resolver{
		cfg:    cfg,
		logger: logging.OrNop(cfg.Logger).Named("resolve"),
	}, nil
}

// Resolve returns the most-enriched version of item obtainable right now.
// Tiers are tried strictly in order and the first success wins. Resolving a
// fully resolved item is a no-op, so calling Resolve twice is safe.
func (r *Resolver) Resolve(ctx context.Context, item news.Item) (news.Item, error) {
	if !item.Valid() {
		return news.Item{}, fmt.Errorf("resolver: invalid item")
	}
	metrics.IncActiveResolutions()
	defer metrics.DecActiveResolutions()

	if item.Resident() {
		metrics.ObserveResolution(TierResident, "ok")
		return item, nil
	}

	if got, ok := r.fromBlob(ctx, item); ok {
		r.persist(ctx, got)
		metrics.ObserveResolution(TierBlob, "ok")
		return got, nil
	}

	return r.fromSource(ctx, item)
}

// fromBlob tries the blob tier. Any failure falls through to the source
// tier; this tier never raises.
func (r *Resolver) fromBlob(ctx context.Context, item news.Item) (news.Item, bool) {
	cid := item.CID()
	if cid == "" || r.cfg.Blob == nil {
		return news.Item{}, false
	}
	data, err := r.cfg.Blob.Get(ctx, cid)
	if err != nil {
		r.logger.Debug("blob tier miss", zap.String("cid", cid), zap.Error(err))
		return news.Item{}, false
	}
	var got news.Item
	if err := json.Unmarshal(data, &got); err != nil || !got.Valid() {
		r.logger.Warn("undecodable blob", zap.String("cid", cid), zap.Error(err))
		return news.Item{}, false
	}
	// Blob payloads do not embed their own CID; restore it so the stored
	// copies stay addressable.
	r.setCID(&got, cid)
	return got, true
}

// fromSource runs the live fetch + enrichment chain. A fetch failure is the
// only terminal step: it returns the input unchanged. Every enrichment step
// after it degrades independently.
func (r *Resolver) fromSource(ctx context.Context, item news.Item) (news.Item, error) {
	url := item.URL()
	if url == "" {
		metrics.ObserveResolution(TierNone, "no_url")
		return item, nil
	}

	resp, err := r.cfg.Fetcher.Fetch(ctx, news.FetchRequest{URL: url})
	if err != nil {
		r.logger.Warn("source fetch failed", zap.String("url", url), zap.Error(err))
		metrics.ObserveResolution(TierSource, "fetch_failed")
		return item, nil
	}
	raw := string(resp.Body)

	text := r.extract(url, resp.Body)
	if text == "" {
		text = raw
	}

	normalized, err := r.cfg.Normalizer.Normalize(ctx, text, r.cfg.TargetLang)
	if err != nil || strings.TrimSpace(normalized.Content) == "" {
		if err != nil {
			r.logger.Warn("normalize degraded", zap.String("url", url), zap.Error(err))
		}
		normalized = enrich.FallbackNormalize(text)
	}

	base := item.Base()
	base.Raw = raw
	base.Content = normalized.Content
	base.Summary = normalized.Summary
	base.Tags = normalized.Tags
	if normalized.Language != "" {
		base.Language = normalized.Language
	}
	base.FetchedAt = r.cfg.Clock.Now()
	if base.ID == "" {
		id, idErr := r.cfg.IDs.NewID()
		if idErr != nil {
			return news.Item{}, fmt.Errorf("resolver: generate article id: %w", idErr)
		}
		base.ID = id
	}

	final := r.analyze(ctx, base)
	r.toBlob(ctx, &final)
	r.persist(ctx, final)
	r.announce(ctx, final)
	metrics.ObserveResolution(TierSource, "ok")
	return final, nil
}

func (r *Resolver) extract(url string, body []byte) string {
	parser := r.cfg.Parsers.Lookup(news.Hostname(url))
	if parser == nil {
		return ""
	}
	text, err := parser.Extract(url, body)
	if err != nil {
		r.logger.Debug("parser degraded to raw payload", zap.String("url", url), zap.Error(err))
		return ""
	}
	return text
}

// analyze runs the analysis step. On failure the enriched base, still
// unanalyzed, is the result.
func (r *Resolver) analyze(ctx context.Context, base news.Article) news.Item {
	analysis, err := r.cfg.Analyzer.Analyze(ctx, base.Content)
	if err != nil {
		r.logger.Warn("analysis skipped", zap.String("url", base.URL), zap.Error(err))
		return news.ItemOf(base)
	}
	id, err := r.cfg.IDs.NewID()
	if err != nil {
		r.logger.Warn("analyzed id generation failed", zap.Error(err))
		return news.ItemOf(base)
	}
	analyzed := news.ArticleAnalyzed{
		Article:    base,
		Analysis:   analysis,
		OriginalID: base.ID,
		AnalyzedAt: r.cfg.Clock.Now(),
	}
	analyzed.Article.ID = id
	return news.ItemOfAnalyzed(analyzed)
}

// toBlob persists the final object and records the resulting CID on it.
// Blob failures are logged and skipped.
func (r *Resolver) toBlob(ctx context.Context, item *news.Item) {
	if r.cfg.Blob == nil {
		return
	}
	data, err := json.Marshal(*item)
	if err != nil {
		r.logger.Warn("marshal for blob failed", zap.Error(err))
		return
	}
	cid, err := r.cfg.Blob.Put(ctx, data)
	if err != nil {
		r.logger.Warn("blob persist failed", zap.Error(err))
		return
	}
	r.setCID(item, cid)
}

// persist writes the item to the local store (always, keyed by URL) and to
// the analyzed store when analysis completed. Store failures degrade: the
// caller still gets the resolved object.
func (r *Resolver) persist(ctx context.Context, item news.Item) {
	base := item.Base()
	if base.URL != "" {
		local := base
		if item.IsAnalyzed() {
			// The local row keeps the source article's identity.
			local.ID = item.Analyzed.OriginalID
		}
		if _, err := r.cfg.Local.Save(ctx, local, true); err != nil {
			r.logger.Warn("local persist failed", zap.String("url", base.URL), zap.Error(err))
		}
	}
	if item.IsAnalyzed() {
		if _, err := r.cfg.Analyzed.Save(ctx, *item.Analyzed, true); err != nil {
			r.logger.Warn("analyzed persist failed", zap.String("id", item.Analyzed.ID), zap.Error(err))
		}
	}
}

// announce emits a federated pointer when the object is addressable.
// Best-effort on both the pointer store and the peer publisher.
func (r *Resolver) announce(ctx context.Context, item news.Item) {
	cid := item.CID()
	if cid == "" {
		return
	}
	base := item.Base()
	ptr := news.FederatedPointer{
		CID:       cid,
		Timestamp: r.cfg.Clock.Now(),
		Analyzed:  item.IsAnalyzed(),
		Source:    base.Source.Name,
		Edition:   base.Edition,
	}
	if r.cfg.Federated != nil {
		if err := r.cfg.Federated.Append(ctx, ptr); err != nil {
			r.logger.Warn("pointer append failed", zap.String("cid", cid), zap.Error(err))
		}
	}
	if r.cfg.Publisher != nil {
		if _, err := r.cfg.Publisher.Publish(ctx, r.cfg.Topic, ptr); err != nil {
			r.logger.Warn("pointer publish failed", zap.String("cid", cid), zap.Error(err))
			return
		}
		metrics.ObservePointerAnnounced()
	}
}

func (r *Resolver) setCID(item *news.Item, cid string) {
	switch {
	case item.IsAnalyzed():
		item.Analyzed.CID = cid
	case item.Article != nil:
		item.Article.CID = cid
	}
}
