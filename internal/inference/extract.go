package inference

import (
	"fmt"

	"github.com/health-analytics-server/internal/domain"
)

// ExtractJSON pulls the first balanced JSON object out of a model
// response. Providers wrap the requested JSON in prose often enough
// that parsing the raw body directly is not reliable.
func ExtractJSON(s string) (string, error) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
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
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 {
					return s[start : i+1], nil
				}
			}
		}
	}

	return "", fmt.Errorf("no JSON object in response: %w", domain.ErrMalformedResponse)
}
