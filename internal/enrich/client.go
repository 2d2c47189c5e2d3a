// Package enrich is the boundary to the external analysis service. It
// normalizes, translates and analyzes article text, degrading to
// deterministic local fallbacks whenever the service misbehaves.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"newsmesh/internal/logging"
	"newsmesh/internal/news"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultMaxInputBytes = 64 * 1024
)

// Config controls the analysis service client.
type Config struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxInputBytes int           `mapstructure:"max_input_bytes"`
}

// Client talks JSON over HTTP to the analysis service. Input is truncated to
// MaxInputBytes so a pathological article can never block the pipeline on an
// unbounded request.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewClient builds a Client. BaseURL is required.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("enrich.base_url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxInputBytes <= 0 {
		cfg.MaxInputBytes = defaultMaxInputBytes
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logging.OrNop(logger).Named("enrich"),
	}, nil
}

type normalizeRequest struct {
	Text           string `json:"text"`
	TargetLanguage string `json:"target_language,omitempty"`
}

type translateRequest struct {
	Titles         []string `json:"titles"`
	TargetLanguage string   `json:"target_language"`
}

type translateResponse struct {
	Titles []string `json:"titles"`
}

type analyzeRequest struct {
	Text string `json:"text"`
}

// Normalize cleans markup, optionally translates, and produces a summary and
// tags. Empty input returns empty defaults without touching the network.
func (c *Client) Normalize(ctx context.Context, raw string, targetLang string) (news.Normalized, error) {
	if strings.TrimSpace(raw) == "" {
		return news.Normalized{Tags: []string{}}, nil
	}
	req := normalizeRequest{Text: c.truncate(raw), TargetLanguage: targetLang}
	var out news.Normalized
	if err := c.post(ctx, "/v1/normalize", req, &out); err != nil {
		return news.Normalized{}, err
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	return out, nil
}

// TranslateTitles translates a batch of titles. Empty batches and empty
// target languages pass through unchanged.
func (c *Client) TranslateTitles(ctx context.Context, titles []string, targetLang string) ([]string, error) {
	if len(titles) == 0 || targetLang == "" {
		return append([]string(nil), titles...), nil
	}
	req := translateRequest{Titles: titles, TargetLanguage: targetLang}
	var out translateResponse
	if err := c.post(ctx, "/v1/translate", req, &out); err != nil {
		return nil, err
	}
	if len(out.Titles) != len(titles) {
		return nil, fmt.Errorf("translate returned %d titles for %d inputs", len(out.Titles), len(titles))
	}
	return out.Titles, nil
}

// Analyze runs the full analysis chain. Empty input returns the neutral
// defaults without touching the network.
func (c *Client) Analyze(ctx context.Context, text string) (news.Analysis, error) {
	if strings.TrimSpace(text) == "" {
		return NeutralAnalysis(), nil
	}
	req := analyzeRequest{Text: c.truncate(text)}
	var out news.Analysis
	if err := c.post(ctx, "/v1/analyze", req, &out); err != nil {
		return news.Analysis{}, err
	}
	if out.CognitiveBiases == nil {
		out.CognitiveBiases = []string{}
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, into any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}
	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("close response body", zap.Error(closeErr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		// Bounded read keeps error messages useful without buffering an
		// arbitrary error page.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) truncate(text string) string {
	if len(text) <= c.cfg.MaxInputBytes {
		return text
	}
	// Back up to a rune boundary so the cut never ships invalid UTF-8.
	cut := c.cfg.MaxInputBytes
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
