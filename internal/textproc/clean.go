// Package textproc prepares extracted document text for clustering and
// keyword extraction: cleaning, tokenization, stop-word filtering and
// TF-IDF weighting.
package textproc

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MinWordLen and MaxWordLen bound the tokens kept by Tokenize. Longer
	// runs are almost always OCR noise or concatenated identifiers.
	MinWordLen = 2
	MaxWordLen = 25

	// SummaryLen is the number of cleaned characters kept by Summary.
	SummaryLen = 500
)

var (
	pageBreakRe = regexp.MustCompile(`-{3} PAGE BREAK -{3}`)
	ocrMarkerRe = regexp.MustCompile(`\[OCR [^\]]+\]`)
	urlRe       = regexp.MustCompile(`(?i)\b(?:https?|ftp)://\S+|\bwww\.\S+`)
	emailRe     = regexp.MustCompile(`\S+@\S+\.\S+`)
	winPathRe   = regexp.MustCompile(`\b[A-Za-z]:\\[\w\\.\-]+`)
	unixPathRe  = regexp.MustCompile(`(?:^|\s)(?:/[\w.\-]+){2,}`)
	specialRe   = regexp.MustCompile(`[^\p{L}\p{N}\s\-.,;:!?()]`)
	wordRe      = regexp.MustCompile(`\p{L}+`)
)

// Clean strips pipeline markers, URLs, e-mail addresses and file paths,
// drops tokens outside the 2..25 character range and lowercases the result.
func Clean(text string) string {
	if text == "" {
		return ""
	}
	text = pageBreakRe.ReplaceAllString(text, " ")
	text = ocrMarkerRe.ReplaceAllString(text, " ")
	text = urlRe.ReplaceAllString(text, " ")
	text = emailRe.ReplaceAllString(text, " ")
	text = winPathRe.ReplaceAllString(text, " ")
	text = unixPathRe.ReplaceAllString(text, " ")
	text = specialRe.ReplaceAllString(text, " ")

	fields := strings.Fields(text)
	kept := fields[:0]
	for _, f := range fields {
		if n := utf8.RuneCountInString(f); n >= MinWordLen && n <= MaxWordLen {
			kept = append(kept, f)
		}
	}
	return strings.ToLower(strings.Join(kept, " "))
}

// Tokenize cleans text and returns its alphabetic words of 2..25 letters,
// lowercased, in order. Stop words are kept; see FilterStopWords.
func Tokenize(text string) []string {
	words := wordRe.FindAllString(Clean(text), -1)
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		if n := utf8.RuneCountInString(w); n >= MinWordLen && n <= MaxWordLen {
			tokens = append(tokens, w)
		}
	}
	return tokens
}

// WordCount counts whitespace separated words in the raw text.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// Summary returns the first SummaryLen characters of the cleaned text,
// with an ellipsis when it was cut.
func Summary(text string) string {
	clean := Clean(text)
	if utf8.RuneCountInString(clean) <= SummaryLen {
		return clean
	}
	runes := []rune(clean)
	return string(runes[:SummaryLen]) + "..."
}
