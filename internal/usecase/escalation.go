package usecase

import "strings"

var escalationKeywords = []string{"issue", "problem", "error", "not working", "help", "complaint"}

// IsEscalation reports whether text mentions any escalation keyword,
// case-insensitively and as a substring.
func IsEscalation(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range escalationKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
