package enrich

import (
	"context"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"newsmesh/internal/news"
)

const fallbackSentences = 3

var stripPolicy = bluemonday.StrictPolicy()

// CleanMarkup removes all markup and collapses whitespace. Pure text work,
// it cannot fail.
func CleanMarkup(raw string) string {
	stripped := stripPolicy.Sanitize(raw)
	stripped = html.UnescapeString(stripped)
	return strings.Join(strings.Fields(stripped), " ")
}

// NaiveSummary extracts up to n leading sentences from text. It is the
// deterministic degradation used when the analysis service cannot summarize.
func NaiveSummary(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" || n <= 0 {
		return ""
	}
	var sentences []string
	start := 0
	for i, r := range text {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		// Swallow runs of terminators ("..." counts once).
		if i+1 < len(text) && (text[i+1] == '.' || text[i+1] == '!' || text[i+1] == '?') {
			continue
		}
		sentence := strings.TrimSpace(text[start : i+1])
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
		start = i + 1
		if len(sentences) == n {
			return strings.Join(sentences, " ")
		}
	}
	if tail := strings.TrimSpace(text[start:]); tail != "" {
		sentences = append(sentences, tail)
	}
	return strings.Join(sentences, " ")
}

// FallbackNormalize degrades normalization to cleaned raw text, a naive
// 3-sentence summary and no tags. It always succeeds.
func FallbackNormalize(raw string) news.Normalized {
	content := CleanMarkup(raw)
	return news.Normalized{
		Content: content,
		Summary: NaiveSummary(content, fallbackSentences),
		Tags:    []string{},
	}
}

// NeutralAnalysis is the defined default for empty or unanalyzable input.
func NeutralAnalysis() news.Analysis {
	return news.Analysis{
		PoliticalBias:   "unknown",
		Sentiment:       "neutral",
		CognitiveBiases: []string{},
	}
}

// Offline implements the analysis service boundary without a service. It is
// used when no service is configured and as the degradation target when one
// is unreachable.
type Offline struct{}

// Normalize applies the deterministic fallback pipeline.
func (Offline) Normalize(_ context.Context, raw string, _ string) (news.Normalized, error) {
	return FallbackNormalize(raw), nil
}

// TranslateTitles passes titles through unchanged.
func (Offline) TranslateTitles(_ context.Context, titles []string, _ string) ([]string, error) {
	return append([]string(nil), titles...), nil
}

// Analyze returns the neutral analysis.
func (Offline) Analyze(_ context.Context, _ string) (news.Analysis, error) {
	return NeutralAnalysis(), nil
}
