package utils

import "strings"

// Token estimates keep prompts under a provider's context window. They
// assume about 4 characters per token; no model tokenizer is involved.

const charsPerToken = 4

// CountTokens estimates the number of tokens in text. Non-empty text is at least 1.
func CountTokens(text string) int {
	n := len([]rune(text))
	if n == 0 {
		return 0
	}
	if n < charsPerToken {
		return 1
	}
	return n / charsPerToken
}

// FitTokens trims text to about limit tokens. Whole lines are kept while they
// fit so a table sample never ends mid-row; when even the first line is too
// long it is cut on a rune boundary. A limit <= 0 yields "".
func FitTokens(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	budget := limit * charsPerToken
	if len([]rune(text)) <= budget {
		return text
	}
	lines := strings.SplitAfter(text, "\n")
	used := 0
	var b strings.Builder
	for _, ln := range lines {
		n := len([]rune(ln))
		if used+n > budget {
			break
		}
		b.WriteString(ln)
		used += n
	}
	if used == 0 {
		return string([]rune(text)[:budget])
	}
	return strings.TrimRight(b.String(), "\n")
}
