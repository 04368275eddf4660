package bulkanalysis

import "strings"

// normalized is the post-taxonomy-normalization view of a structuredOutput,
// ready to feed storage.AnalysisInsert's Metadata.
type normalized struct {
	Summary       string
	Sentiment     string // "" means unknown/omitted, never a bare nil
	Tags          []string
	Priority      string
	Actionability string
	Risk          string
	SourceType    string
	ThreadRole    string
	Lifecycle     string
	Confidence    float64
}

func normalizeSentiment(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "positive", "pos":
		return "positive"
	case "negative", "neg":
		return "negative"
	case "neutral":
		return "neutral"
	case "unknown", "mixed":
		return "unknown"
	default:
		return ""
	}
}

// normalizeTags intersects raw (case-insensitively) with allowed,
// preserving allowed's order.
func normalizeTags(raw []string, allowed []string) []string {
	wanted := make(map[string]struct{}, len(raw))
	for _, t := range raw {
		wanted[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}

	var out []string
	for _, a := range allowed {
		if _, ok := wanted[strings.ToLower(a)]; ok {
			out = append(out, a)
		}
	}
	return out
}

func normalizeEnum(raw string, allowed []string) string {
	lower := strings.ToLower(strings.TrimSpace(raw))
	for _, a := range allowed {
		if a == lower {
			return a
		}
	}
	return ""
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func normalizeOutput(out structuredOutput, allowedTags []string) normalized {
	return normalized{
		Summary:       strings.TrimSpace(out.Summary),
		Sentiment:     normalizeSentiment(out.Sentiment),
		Tags:          normalizeTags(out.Tags, allowedTags),
		Priority:      normalizeEnum(out.Priority, allowedPriorities),
		Actionability: normalizeEnum(out.Actionability, allowedActionability),
		Risk:          normalizeEnum(out.Risk, allowedRisk),
		SourceType:    normalizeEnum(out.SourceType, allowedSourceTypes),
		ThreadRole:    normalizeEnum(out.ThreadRole, allowedThreadRoles),
		Lifecycle:     normalizeEnum(out.Lifecycle, allowedLifecycle),
		Confidence:    clampConfidence(out.Confidence),
	}
}
