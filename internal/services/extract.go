package services

import "strings"

// stripFences removes markdown code fences the model sometimes wraps
// around its output, mirroring what it is prompted not to do.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// extractJSONObject finds the first balanced top-level JSON object
// embedded in s, tolerating prose around it. Returns false if none.
func extractJSONObject(s string) (string, bool) {
	return extractBalanced(stripFences(s), '{', '}')
}

// extractJSONArray finds the first balanced top-level JSON array
// embedded in s, tolerating prose around it. Returns false if none.
func extractJSONArray(s string) (string, bool) {
	return extractBalanced(stripFences(s), '[', ']')
}

// extractBalanced scans for an open..close span, respecting JSON string
// literals and escapes so braces inside values don't break the balance.
func extractBalanced(s string, open, close byte) (string, bool) {
	start := strings.IndexByte(s, open)
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
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
