package llm

import (
	"strings"
)

// CleanOutput strips the formatting models like to wrap short answers in:
// code fences, quotes, backticks and a trailing period. Only the first
// non-empty line is kept.
func CleanOutput(resp string) string {
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```text")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	resp = strings.TrimSpace(resp)

	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "```" {
			continue
		}
		line = strings.TrimSuffix(line, ".")
		line = strings.Trim(line, "`\"'*")
		line = strings.TrimSuffix(line, ".")
		return strings.TrimSpace(line)
	}
	return ""
}

// StripLabel removes a leading "label:" prefix if it matches one of labels.
func StripLabel(s string, labels ...string) string {
	lower := strings.ToLower(s)
	for _, label := range labels {
		if strings.HasPrefix(lower, label) {
			rest := strings.TrimSpace(s[len(label):])
			rest = strings.TrimLeft(rest, ":#= ")
			return strings.TrimSpace(rest)
		}
	}
	return s
}

// TruncateBody caps prompt input size.
func TruncateBody(body string, maxLen int) string {
	if maxLen <= 0 || len(body) <= maxLen {
		return body
	}
	cut := body[:maxLen]
	// keep the cut on a rune boundary
	for len(cut) > 0 && !utf8Start(body[len(cut)]) {
		cut = cut[:len(cut)-1]
	}
	return cut + "..."
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}
