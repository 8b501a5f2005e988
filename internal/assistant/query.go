package assistant

import "strings"

// ExtractQuery strips the addressing word from a trigger message: the
// query is whatever follows the first comma, else the first space.
func ExtractQuery(text string) string {
	if i := strings.Index(text, ","); i >= 0 {
		return strings.TrimSpace(text[i+1:])
	}
	if i := strings.Index(text, " "); i >= 0 {
		return strings.TrimSpace(text[i+1:])
	}
	return ""
}

// ContainsTrigger reports whether text mentions any trigger word.
func ContainsTrigger(text string, triggers []string) bool {
	for _, t := range triggers {
		if t != "" && strings.Contains(text, t) {
			return true
		}
	}
	return false
}
