package ai

import "strings"

// ExtractJSON extracts the first balanced {...} JSON object from a response
// that may contain extra text around it. Returns the input unchanged when no
// opening brace is found; callers treat the subsequent parse failure as the
// error signal.
func ExtractJSON(content string) string {
	start := strings.Index(content, "{")
	if start == -1 {
		return content
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return content[start : i+1]
				}
			}
		}
	}

	return content[start:]
}
