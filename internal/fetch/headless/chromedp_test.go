package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
)

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	f, err := NewChromedp(Config{MaxParallel: 3})
	require.NoError(t, err)
	defer f.Close()
	require.Equal(t, 3, cap(f.slots))
	require.Equal(t, 45*time.Second, f.cfg.NavigationTimeout)
	require.Equal(t, 500*time.Millisecond, f.cfg.SettleDelay)
}

func TestNewChromedpUnlimited(t *testing.T) {
	t.Parallel()

	f, err := NewChromedp(Config{})
	require.NoError(t, err)
	defer f.Close()
	require.Nil(t, f.slots)
	require.NoError(t, f.acquire(context.Background()))
	f.release()
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	f, err := NewChromedp(Config{MaxParallel: 1})
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, f.acquire(ctx))

	f.release()
	require.NoError(t, f.acquire(context.Background()))
	f.release()
}

func TestDocWatchListen(t *testing.T) {
	t.Parallel()

	w := newDocWatch()

	// Subresource events must not overwrite the document capture.
	w.listen(&network.EventResponseReceived{
		RequestID: "sub-1",
		Type:      network.ResourceTypeImage,
		Response:  &network.Response{Status: 404, URL: "https://cdn.example.com/logo.png"},
	})
	require.Empty(t, string(w.documentRequest()))

	w.listen(&network.EventResponseReceived{
		RequestID: "doc-1",
		Type:      network.ResourceTypeDocument,
		Response: &network.Response{
			Status: 200,
			URL:    "https://example.com/feed",
			Headers: network.Headers{
				"Content-Type": "application/rss+xml",
				"Set-Cookie":   []interface{}{"a=1", "b=2"},
			},
		},
	})

	require.Equal(t, network.RequestID("doc-1"), w.documentRequest())
	status, headers, url := w.result("https://example.com/feed", "")
	require.Equal(t, 200, status)
	require.Equal(t, "https://example.com/feed", url)
	require.Equal(t, "application/rss+xml", headers.Get("Content-Type"))
	require.Equal(t, []string{"a=1", "b=2"}, headers.Values("Set-Cookie"))
}

func TestDocWatchResultFallbacks(t *testing.T) {
	t.Parallel()

	w := newDocWatch()

	status, _, url := w.result("https://example.com/a", "https://example.com/landed")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://example.com/landed", url)

	status, _, url = w.result("https://example.com/a", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://example.com/a", url)
}

func TestIsHTMLDocument(t *testing.T) {
	t.Parallel()

	require.True(t, isHTMLDocument([]byte("  <!DOCTYPE html><html></html>")))
	require.True(t, isHTMLDocument([]byte("<html lang=\"en\">")))
	require.False(t, isHTMLDocument([]byte("<?xml version=\"1.0\"?><rss/>")))
	require.False(t, isHTMLDocument([]byte("{\"version\":\"https://jsonfeed.org/version/1\"}")))
}

func TestFlattenHeaders(t *testing.T) {
	t.Parallel()

	out := flattenHeaders(network.Headers{
		"Content-Type": "text/html",
		"Set-Cookie":   []interface{}{"x=1", "y=2"},
		"Retry-After":  float64(30),
	})
	require.Equal(t, "text/html", out.Get("Content-Type"))
	require.Equal(t, []string{"x=1", "y=2"}, out.Values("Set-Cookie"))
	require.Equal(t, "30", out.Get("Retry-After"))
}

func TestCDPHeaders(t *testing.T) {
	t.Parallel()

	h := http.Header{}
	h.Set("Accept", "application/rss+xml")
	h.Add("Cookie", "a=1")
	h.Add("Cookie", "b=2")

	out := cdpHeaders(h)
	require.Equal(t, "application/rss+xml", out["Accept"])
	require.Equal(t, []string{"a=1", "b=2"}, out["Cookie"])
}
