// Package analyzer tokenizes memory content for the inverted term index
// and the summarizer's TF-IDF key-topic extraction. It NFC-normalizes
// with golang.org/x/text/unicode/norm before segmenting on Unicode
// letter/number runs with the standard unicode package.
package analyzer

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// MinTokenLen drops tokens shorter than this many runes.
const MinTokenLen = 2

// stopwords is the fixed English stopword list consulted by both the term
// index and the summarizer's key-topic extraction.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"being": true, "to": true, "of": true, "in": true, "on": true, "at": true,
	"for": true, "with": true, "by": true, "from": true, "up": true, "about": true,
	"into": true, "over": true, "after": true, "this": true, "that": true,
	"these": true, "those": true, "it": true, "its": true, "as": true, "if": true,
	"then": true, "so": true, "than": true, "too": true, "very": true, "can": true,
	"will": true, "just": true, "i": true, "you": true, "he": true, "she": true,
	"we": true, "they": true, "them": true, "his": true, "her": true, "our": true,
	"your": true, "their": true, "not": true, "no": true, "do": true, "does": true,
	"did": true, "have": true, "has": true, "had": true, "what": true, "which": true,
	"who": true, "when": true, "where": true, "why": true, "how": true, "all": true,
	"each": true, "there": true, "here": true, "out": true, "off": true, "again": true,
}

// Tokenize lowercases and NFC-normalizes text, splits on runs of
// letters/digits, drops stopwords and tokens shorter than MinTokenLen, and
// returns the surviving terms in order of appearance (duplicates kept —
// callers that need term frequency count occurrences themselves).
func Tokenize(text string) []string {
	normalized := norm.NFC.String(text)
	lower := strings.ToLower(normalized)

	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		tok := cur.String()
		cur.Reset()
		if len([]rune(tok)) < MinTokenLen {
			return
		}
		if stopwords[tok] {
			return
		}
		tokens = append(tokens, tok)
	}
	for _, r := range lower {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// TermFrequencies counts occurrences of each surviving term in text.
func TermFrequencies(text string) map[string]int {
	freqs := make(map[string]int)
	for _, tok := range Tokenize(text) {
		freqs[tok]++
	}
	return freqs
}

// IsStopword reports whether term is in the fixed stopword list, exported
// for the summarizer's key-topic extraction to reuse the same list.
func IsStopword(term string) bool { return stopwords[term] }
