package bulkanalysis

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseModelOutput attempts a strict JSON decode first; on failure it
// extracts the first balanced {...} substring by brace counting and
// retries against that slice.
func parseModelOutput(raw string) (structuredOutput, error) {
	var out structuredOutput
	if err := json.Unmarshal([]byte(raw), &out); err == nil {
		return out, nil
	}

	extracted, ok := extractBalancedObject(raw)
	if !ok {
		return structuredOutput{}, fmt.Errorf("no balanced JSON object found in model output")
	}
	if err := json.Unmarshal([]byte(extracted), &out); err != nil {
		return structuredOutput{}, fmt.Errorf("parse extracted json object: %w", err)
	}
	return out, nil
}

// extractBalancedObject returns the first top-level {...} substring of s
// by counting braces, ignoring braces inside string literals.
func extractBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
