package util

import (
	"regexp"
	"strings"
)

// ContainsString reports whether slice contains item.
func ContainsString(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// TruncateString truncates s to maxLen runes and appends "..." if truncated.
// If preserveWords is true, it cuts at the last whitespace before maxLen when possible.
func TruncateString(s string, maxLen int, preserveWords bool) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."[:maxLen]
	}
	cut := maxLen - 3
	if preserveWords {
		for i := cut - 1; i > 0; i-- {
			if runes[i] == ' ' || runes[i] == '\t' || runes[i] == '\n' {
				cut = i
				break
			}
		}
	}
	return string(runes[:cut]) + "..."
}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"'\)\]]+`)

// ExtractURLs returns the distinct http(s) URLs in text in first-seen order.
// Trailing sentence punctuation is not part of the URL.
func ExtractURLs(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range urlPattern.FindAllString(text, -1) {
		m = strings.TrimRight(m, ".,;:!?")
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}
