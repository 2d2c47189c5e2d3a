package enrich

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCleanMarkup(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text", "hello world", "hello world"},
		{"strips tags", "<p>hello <b>world</b></p>", "hello world"},
		{"drops scripts", `<script>alert("x")</script>safe`, "safe"},
		{"unescapes entities", "a &amp; b", "a & b"},
		{"collapses whitespace", "a\n\n  b\tc", "a b c"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, CleanMarkup(tt.in))
		})
	}
}

func TestNaiveSummary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"empty", "", 3, ""},
		{"zero sentences", "One. Two.", 0, ""},
		{"fewer than n", "Only one sentence.", 3, "Only one sentence."},
		{"exactly n", "One. Two. Three.", 3, "One. Two. Three."},
		{"truncates", "One. Two. Three. Four. Five.", 3, "One. Two. Three."},
		{"ellipsis counts once", "Wait... more. Second. Third.", 3, "Wait... more. Second."},
		{"mixed terminators", "Really?! Yes. Sure. No.", 3, "Really?! Yes. Sure."},
		{"no terminator tail", "Unterminated text", 3, "Unterminated text"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, NaiveSummary(tt.in, tt.n))
		})
	}
}

func TestFallbackNormalizeDeterminism(t *testing.T) {
	t.Parallel()

	in := "<article><h1>Title</h1><p>First. Second. Third. Fourth.</p></article>"
	first := FallbackNormalize(in)
	second := FallbackNormalize(in)
	require.Equal(t, first, second)

	require.Equal(t, "Title First. Second. Third. Fourth.", first.Content)
	require.Equal(t, "Title First. Second. Third.", first.Summary)
	require.NotNil(t, first.Tags)
	require.Empty(t, first.Tags)
}

func TestFallbackNormalizeEmptyInput(t *testing.T) {
	t.Parallel()

	got := FallbackNormalize("")
	require.Empty(t, got.Content)
	require.Empty(t, got.Summary)
	require.NotNil(t, got.Tags)
}

func TestNeutralAnalysis(t *testing.T) {
	t.Parallel()

	got := NeutralAnalysis()
	require.Equal(t, "unknown", got.PoliticalBias)
	require.Equal(t, "neutral", got.Sentiment)
	require.NotNil(t, got.CognitiveBiases)
	require.Empty(t, got.CognitiveBiases)
	require.False(t, got.Empty())
}

func TestOfflineNeverErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var o Offline

	normalized, err := o.Normalize(ctx, "", "en")
	require.NoError(t, err)
	require.Empty(t, normalized.Content)

	analysis, err := o.Analyze(ctx, "")
	require.NoError(t, err)
	require.Equal(t, NeutralAnalysis(), analysis)

	titles, err := o.TranslateTitles(ctx, []string{"a", "b"}, "de")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, titles)
}
