package textproc

import "strings"

// englishStopWords is the common English function-word list.
var englishStopWords = []string{
	"a", "about", "above", "after", "again", "against", "all", "am", "an", "and",
	"any", "are", "as", "at", "be", "because", "been", "before", "being", "below",
	"between", "both", "but", "by", "can", "did", "do", "does", "doing", "don",
	"down", "during", "each", "few", "for", "from", "further", "had", "has", "have",
	"having", "he", "her", "here", "hers", "herself", "him", "himself", "his", "how",
	"if", "in", "into", "is", "it", "its", "itself", "just", "me", "more", "most",
	"my", "myself", "no", "nor", "not", "now", "of", "off", "on", "once", "only",
	"or", "other", "our", "ours", "ourselves", "out", "over", "own", "same", "she",
	"so", "some", "such", "than", "that", "the", "their", "theirs", "them",
	"themselves", "then", "there", "these", "they", "this", "those", "through", "to",
	"too", "under", "until", "up", "very", "was", "we", "were", "what", "when",
	"where", "which", "while", "who", "whom", "why", "will", "with", "you", "your",
	"yours", "yourself", "yourselves", "shall", "may", "might", "must", "upon",
}

// domainStopWords are words that appear in nearly every comment letter of a
// regulatory docket and carry no topical signal.
var domainStopWords = []string{
	"cms", "hospital", "medicare", "medicaid", "program", "rule", "proposed",
	"comment", "attachment", "pdf", "page", "break", "would", "could", "should",
	"also", "however", "therefore", "additionally", "furthermore", "moreover",
	"th", "st", "nd", "rd", "et", "al", "etc", "ie", "eg", "vs", "inc",
	"llc", "ltd", "corp", "co", "dept", "department", "administration",
}

var defaultStopWords = BuildStopWordMap(append(append([]string(nil), englishStopWords...), domainStopWords...))

// DefaultStopWords returns the English plus domain stop list.
func DefaultStopWords() map[string]struct{} {
	return defaultStopWords
}

// IsStopWord reports whether word is in the default stop list.
func IsStopWord(word string) bool {
	_, ok := defaultStopWords[strings.ToLower(word)]
	return ok
}

// FilterStopWords removes stop words from a token list.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, isStop := stopWords[strings.ToLower(token)]; !isStop {
			result = append(result, token)
		}
	}
	return result
}

// BuildStopWordMap converts a slice of stop words to a map for efficient lookup.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}
