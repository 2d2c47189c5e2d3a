// Package fetch iterates configured sources and turns feed payloads into
// candidate articles. Each source is processed in isolation: one source
// failing never aborts the batch.
package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"newsmesh/internal/audit"
	"newsmesh/internal/logging"
	"newsmesh/internal/metrics"
	"newsmesh/internal/news"
)

// Options tune one ingestion batch.
type Options struct {
	TargetLanguage  string
	Since           *time.Time
	SkipTranslation bool
}

// ArticleSaver is the slice of the local article store the background ingest
// path needs.
type ArticleSaver interface {
	Save(ctx context.Context, doc news.Article, overwrite bool) (bool, error)
}

// Orchestrator fetches and normalizes all configured sources.
type Orchestrator struct {
	fetcher    news.Fetcher
	headless   news.Fetcher
	detector   news.HeadlessDetector
	normalizer news.Normalizer
	ids        news.IDGenerator
	clock      news.Clock
	audit      *audit.Logger
	logger     *zap.Logger
}

// NewOrchestrator wires the orchestrator. headless and detector may be nil
// to disable promotion; the audit logger may be nil.
func NewOrchestrator(
	fetcher news.Fetcher,
	headless news.Fetcher,
	detector news.HeadlessDetector,
	normalizer news.Normalizer,
	ids news.IDGenerator,
	clock news.Clock,
	auditLog *audit.Logger,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		fetcher:    fetcher,
		headless:   headless,
		detector:   detector,
		normalizer: normalizer,
		ids:        ids,
		clock:      clock,
		audit:      auditLog,
		logger:     logging.OrNop(logger).Named("ingest"),
	}
}

// FetchAll processes every enabled source independently and accumulates
// candidate articles plus per-source errors. Articles are deduplicated by
// normalized URL across the whole batch.
func (o *Orchestrator) FetchAll(ctx context.Context, sources []news.Source, opts Options) news.FetchResult {
	result := news.FetchResult{
		Articles: []news.Article{},
		Errors:   []news.FetchError{},
	}
	seen := make(map[string]struct{})

	for _, src := range sources {
		if !src.Enabled {
			continue
		}
		articles, recordErrs, err := o.fetchSource(ctx, src, opts)
		result.Errors = append(result.Errors, recordErrs...)
		if err != nil {
			o.logger.Warn("source failed",
				zap.String("source", src.Name),
				zap.String("endpoint", src.Endpoint),
				zap.Error(err))
			result.Errors = append(result.Errors, news.FetchError{
				Endpoint: src.Endpoint,
				Error:    err.Error(),
			})
			metrics.ObserveIngest(src.Name, 0, true)
			continue
		}

		accepted := 0
		for _, a := range articles {
			key := news.NormalizeURL(a.URL)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			result.Articles = append(result.Articles, a)
			accepted++
		}
		metrics.ObserveIngest(src.Name, accepted, false)
	}
	return result
}

// IngestAsync runs FetchAll in the background and inserts the results into
// the local store with duplicate-skip semantics. The caller is acknowledged
// immediately; outcomes are visible only through the audit log.
func (o *Orchestrator) IngestAsync(sources []news.Source, opts Options, saver ArticleSaver) {
	go func() {
		ctx := context.Background()
		result := o.FetchAll(ctx, sources, opts)
		inserted := 0
		for _, a := range result.Articles {
			created, err := saver.Save(ctx, a, false)
			if err != nil {
				o.logger.Warn("background insert failed", zap.String("url", a.URL), zap.Error(err))
				continue
			}
			if created {
				inserted++
			}
		}
		o.audit.Record("ingest", "batch",
			fmt.Sprintf("sources=%d", len(sources)),
			fmt.Sprintf("articles=%d inserted=%d errors=%d", len(result.Articles), inserted, len(result.Errors)))
	}()
}

func (o *Orchestrator) fetchSource(ctx context.Context, src news.Source, opts Options) ([]news.Article, []news.FetchError, error) {
	if src.RequiresAPIKey && src.APIKey == "" {
		return nil, nil, fmt.Errorf("source %s requires an api key", src.Name)
	}

	resp, err := o.fetcher.Fetch(ctx, news.FetchRequest{URL: src.Endpoint})
	if err != nil {
		return nil, nil, fmt.Errorf("fetch %s: %w", src.Endpoint, err)
	}
	resp = o.maybePromote(ctx, src, resp)

	feed, err := gofeed.NewParser().ParseString(string(resp.Body))
	if err != nil {
		return nil, nil, fmt.Errorf("parse feed %s: %w", src.Endpoint, err)
	}

	candidates := make([]news.Article, 0, len(feed.Items))
	for _, item := range feed.Items {
		if opts.Since != nil && item.PublishedParsed != nil && item.PublishedParsed.Before(*opts.Since) {
			continue
		}
		article, err := o.toArticle(src, item)
		if err != nil {
			return nil, nil, fmt.Errorf("build candidate: %w", err)
		}
		candidates = append(candidates, article)
	}

	o.translateTitles(ctx, src, candidates, opts)

	valid := candidates[:0]
	var recordErrs []news.FetchError
	for _, a := range candidates {
		if err := validateCandidate(a); err != nil {
			recordErrs = append(recordErrs, news.FetchError{
				Endpoint: src.Endpoint,
				Error:    fmt.Sprintf("drop %q: %v", a.Title, err),
			})
			continue
		}
		valid = append(valid, a)
	}
	return valid, recordErrs, nil
}

func (o *Orchestrator) maybePromote(ctx context.Context, src news.Source, resp news.FetchResponse) news.FetchResponse {
	if o.headless == nil || o.detector == nil || !o.detector.ShouldPromote(resp) {
		return resp
	}
	promoted, err := o.headless.Fetch(ctx, news.FetchRequest{URL: src.Endpoint, UseHeadless: true})
	if err != nil {
		o.logger.Warn("headless promotion failed", zap.String("endpoint", src.Endpoint), zap.Error(err))
		return resp
	}
	promoted.UsedHeadless = true
	return promoted
}

func (o *Orchestrator) toArticle(src news.Source, item *gofeed.Item) (news.Article, error) {
	id, err := o.ids.NewID()
	if err != nil {
		return news.Article{}, fmt.Errorf("generate id: %w", err)
	}
	var author string
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		author = item.Authors[0].Name
	}
	return news.Article{
		ID:          id,
		URL:         strings.TrimSpace(item.Link),
		Title:       strings.TrimSpace(item.Title),
		Summary:     strings.TrimSpace(item.Description),
		Tags:        append([]string(nil), item.Categories...),
		Author:      author,
		PublishedAt: item.PublishedParsed,
		Edition:     src.Edition,
		SourceType:  src.Parser,
		Source: news.SourceMeta{
			Name: src.Name,
			Bias: src.Bias,
		},
		Confidence: 1,
		FetchedAt:  o.clock.Now(),
	}, nil
}

// translateTitles is best-effort: a translation failure leaves the original
// titles in place, it never fails the source.
func (o *Orchestrator) translateTitles(ctx context.Context, src news.Source, candidates []news.Article, opts Options) {
	if opts.SkipTranslation || opts.TargetLanguage == "" || o.normalizer == nil || len(candidates) == 0 {
		return
	}
	titles := make([]string, len(candidates))
	for i, a := range candidates {
		titles[i] = a.Title
	}
	translated, err := o.normalizer.TranslateTitles(ctx, titles, opts.TargetLanguage)
	if err != nil || len(translated) != len(candidates) {
		o.logger.Warn("title translation skipped", zap.String("source", src.Name), zap.Error(err))
		return
	}
	for i := range candidates {
		if strings.TrimSpace(translated[i]) != "" {
			candidates[i].Title = translated[i]
			candidates[i].Language = opts.TargetLanguage
		}
	}
}

func validateCandidate(a news.Article) error {
	if a.URL == "" {
		return fmt.Errorf("missing url")
	}
	if u, err := url.Parse(a.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid url %q", a.URL)
	}
	if a.Title == "" {
		return fmt.Errorf("missing title")
	}
	return nil
}
