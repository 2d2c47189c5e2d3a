// Package headless fetches sources through a real browser. Some feeds sit
// behind JavaScript applications that only emit their payload after
// rendering; the detector routes those fetches here.
package headless

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"newsmesh/internal/news"
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay is how long to wait after body-ready for the application
	// to hydrate its content.
	SettleDelay time.Duration
}

// Fetcher implements news.Fetcher on chromedp and headless Chrome.
type Fetcher struct {
	cfg         Config
	slots       chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless fetcher backed by chromedp.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 500 * time.Millisecond
	}
	var slots chan struct{}
	if cfg.MaxParallel > 0 {
		slots = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		slots:       slots,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch navigates with a headless browser and returns the source payload,
// preferring the raw document bytes over the rendered DOM.
func (f *Fetcher) Fetch(ctx context.Context, request news.FetchRequest) (news.FetchResponse, error) {
	if err := f.acquire(ctx); err != nil {
		return news.FetchResponse{}, err
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavigationTimeout)
	defer cancel()

	watch := newDocWatch()
	chromedp.ListenTarget(taskCtx, watch.listen)

	start := time.Now()
	var (
		payload   []byte
		landedURL string
	)
	err := chromedp.Run(taskCtx,
		f.prepareAction(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.SettleDelay),
		chromedp.Location(&landedURL),
		payloadAction(watch, &payload),
	)
	if err != nil {
		return news.FetchResponse{}, fmt.Errorf("headless fetch: %w", err)
	}

	status, headers, url := watch.result(request.URL, landedURL)
	return news.FetchResponse{
		URL:          url,
		StatusCode:   status,
		Headers:      headers,
		Body:         payload,
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

// payloadAction reads the fetched payload. The raw document body wins when it
// is not HTML: Chrome wraps XML feeds in its viewer markup, so the rendered
// DOM would mangle them. HTML documents are app shells whose raw body is the
// unhydrated skeleton, so those take the rendered DOM instead.
func payloadAction(watch *docWatch, out *[]byte) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if id := watch.documentRequest(); id != "" {
			raw, err := network.GetResponseBody(id).Do(ctx)
			if err == nil && len(bytes.TrimSpace(raw)) > 0 && !isHTMLDocument(raw) {
				*out = raw
				return nil
			}
		}
		var rendered string
		if err := chromedp.OuterHTML("html", &rendered, chromedp.ByQuery).Do(ctx); err != nil {
			return fmt.Errorf("read rendered document: %w", err)
		}
		*out = []byte(rendered)
		return nil
	})
}

func isHTMLDocument(raw []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(raw))
	return bytes.HasPrefix(head, []byte("<!doctype")) || bytes.HasPrefix(head, []byte("<html"))
}

func (f *Fetcher) prepareAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(cdpHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.slots == nil {
		return nil
	}
	select {
	case f.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.slots == nil {
		return
	}
	select {
	case <-f.slots:
	default:
	}
}

// docWatch follows network events for the top-level document: the request id
// needed to read its raw body, plus final status, headers and URL.
type docWatch struct {
	mu        sync.Mutex
	requestID network.RequestID
	status    int
	headers   http.Header
	url       string
}

func newDocWatch() *docWatch {
	return &docWatch{headers: http.Header{}}
}

func (w *docWatch) listen(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.requestID = resp.RequestID
	w.status = int(resp.Response.Status)
	w.url = resp.Response.URL
	w.headers = flattenHeaders(resp.Response.Headers)
}

func (w *docWatch) documentRequest() network.RequestID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.requestID
}

// result returns the captured document metadata, falling back to the landed
// then the requested URL, and to 200 when no document event arrived.
func (w *docWatch) result(requestURL, landedURL string) (int, http.Header, string) {
	w.mu.Lock()
	status, url := w.status, w.url
	headers := make(http.Header, len(w.headers))
	for key, values := range w.headers {
		headers[key] = append([]string(nil), values...)
	}
	w.mu.Unlock()

	if url == "" {
		url = landedURL
	}
	if url == "" {
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}

func flattenHeaders(src network.Headers) http.Header {
	out := http.Header{}
	for key, value := range src {
		switch v := value.(type) {
		case string:
			out.Add(key, v)
		case []interface{}:
			for _, item := range v {
				out.Add(key, fmt.Sprint(item))
			}
		default:
			out.Add(key, fmt.Sprint(v))
		}
	}
	return out
}

func cdpHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			headers[key] = values[0]
		default:
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
