package tabular

import "strings"

// Markdown fence markers models habitually wrap JSON answers in.
const (
	openFenceJSON = "```json"
	openFence     = "```"
	closeFence    = "```"
)

// StripFences removes a markdown code fence wrapper from model output.
// A leading "```json" (or a bare "```") and a trailing "```" are stripped
// independently, so one-sided fences are handled too. The function is
// idempotent and never fails; text without fences passes through with only
// its outer whitespace trimmed.
func StripFences(text string) string {
	stripped := strings.TrimSpace(text)

	switch {
	case strings.HasPrefix(stripped, openFenceJSON):
		stripped = stripped[len(openFenceJSON):]
	case strings.HasPrefix(stripped, openFence):
		stripped = stripped[len(openFence):]
	}

	stripped = strings.TrimSuffix(stripped, closeFence)

	return strings.TrimSpace(stripped)
}
