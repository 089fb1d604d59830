package synthesis

import (
	"regexp"
	"strings"
)

// Patterns applied when preparing text for speech. Markdown markup reads
// badly aloud and symbol glyphs need their spoken form.
var (
	fencedBlockPattern = regexp.MustCompile("(?s)```.*?```")
	markupPattern      = regexp.MustCompile("[`*_#]+")
	whitespacePattern  = regexp.MustCompile(`\s+`)
)

// Spoken replacements for symbols that synthesis engines skip or mangle.
var symbolReplacer = strings.NewReplacer(
	"%", " percent",
	"&", " and ",
)

// PrepareSpeechText normalizes text before it reaches a synthesis backend:
// fenced code blocks are dropped, markdown markup is stripped, common symbols
// become words, and whitespace collapses to single spaces. The result may be
// empty when the input had no speakable content.
func PrepareSpeechText(text string) string {
	prepared := fencedBlockPattern.ReplaceAllString(text, " ")
	prepared = symbolReplacer.Replace(prepared)
	prepared = markupPattern.ReplaceAllString(prepared, "")
	prepared = whitespacePattern.ReplaceAllString(prepared, " ")

	return strings.TrimSpace(prepared)
}
