package reasoning

import "strings"

const (
	thoughtOpen  = "<thought>"
	thoughtClose = "</thought>"
	outputOpen   = "<output>"
	outputClose  = "</output>"
)

// StripEnvelope removes the conventional scratch-work envelope from reasoning
// text: any <thought>...</thought> region is dropped, then the content of
// <output>...</output> is extracted if present. Text without markers is
// returned unchanged, so models that skip the envelope degrade gracefully.
func StripEnvelope(text string) string {
	text = stripRegion(text, thoughtOpen, thoughtClose)

	start := strings.Index(text, outputOpen)
	if start == -1 {
		return strings.TrimSpace(text)
	}
	rest := text[start+len(outputOpen):]
	if end := strings.Index(rest, outputClose); end != -1 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

func stripRegion(text, open, closing string) string {
	for {
		start := strings.Index(text, open)
		if start == -1 {
			return text
		}
		rest := text[start+len(open):]
		end := strings.Index(rest, closing)
		if end == -1 {
			// Unterminated region: drop everything from the marker on.
			return text[:start]
		}
		text = text[:start] + rest[end+len(closing):]
	}
}
