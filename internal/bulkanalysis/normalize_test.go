package bulkanalysis

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeSentiment(t *testing.T) {
	cases := map[string]string{
		"positive": "positive",
		"Pos":      "positive",
		"negative": "negative",
		"neg":      "negative",
		"Neutral":  "neutral",
		"unknown":  "unknown",
		"mixed":    "unknown",
		"gibberish": "",
		"":         "",
	}
	for in, want := range cases {
		require.Equal(t, want, normalizeSentiment(in), "input %q", in)
	}
}

func TestNormalizeTagsPreservesAllowedOrderAndCase(t *testing.T) {
	allowed := []string{"Work", "Personal", "Finance"}
	got := normalizeTags([]string{"finance", "WORK", "nonsense"}, allowed)
	require.Equal(t, []string{"Work", "Finance"}, got)
}

func TestClampConfidence(t *testing.T) {
	require.Equal(t, 0.0, clampConfidence(-1))
	require.Equal(t, 1.0, clampConfidence(5))
	require.Equal(t, 0.5, clampConfidence(0.5))
}

func TestNormalizeEnumRejectsUnknownValue(t *testing.T) {
	require.Equal(t, "high", normalizeEnum("HIGH", allowedRisk))
	require.Equal(t, "", normalizeEnum("catastrophic", allowedRisk))
}
