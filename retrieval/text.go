package retrieval

import (
	"strings"

	"github.com/poiesic/conductor/core"
)

// Stop words are ignored when matching query terms.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true, "what": true, "which": true, "who": true, "how": true,
	"many": true, "much": true, "there": true, "me": true, "i": true, "we": true,
	"my": true, "our": true, "can": true, "please": true, "does": true, "did": true,
}

// minPrefixTerm is the shortest query term allowed to match a longer word.
const minPrefixTerm = 4

// tokenizeAndFilter splits text into words, lowercases, trims punctuation, removes stop words
// and folds simple plurals.
func tokenizeAndFilter(text string) []string {
	words := strings.Fields(text)
	filtered := make([]string, 0, len(words))

	for _, word := range words {
		cleaned := strings.ToLower(strings.Trim(word, ".,!?;:'\"-()[]{}"))
		if cleaned == "" || stopWords[cleaned] {
			continue
		}
		filtered = append(filtered, fold(cleaned))
	}

	return filtered
}

func fold(word string) string {
	if len(word) > 3 && strings.HasSuffix(word, "s") && !strings.HasSuffix(word, "ss") {
		return word[:len(word)-1]
	}
	return word
}

// queryTerms returns the distinct filtered terms of a query in first-seen order.
func queryTerms(query string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, t := range tokenizeAndFilter(query) {
		if !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}
	return terms
}

// keywordScore is the fraction of terms present in the chunk's text or
// metadata values. A term matches a word equal to it or, for terms of at
// least minPrefixTerm bytes, a word it prefixes.
func keywordScore(terms []string, chunk *core.Chunk) float32 {
	if len(terms) == 0 {
		return 0
	}

	words := make(map[string]bool)
	for _, w := range tokenizeAndFilter(chunk.Text) {
		words[w] = true
	}
	for _, v := range chunk.Metadata {
		for _, w := range tokenizeAndFilter(v) {
			words[w] = true
		}
	}

	matched := 0
	for _, term := range terms {
		if matchesWord(term, words) {
			matched++
		}
	}
	return float32(matched) / float32(len(terms))
}

func matchesWord(term string, words map[string]bool) bool {
	if words[term] {
		return true
	}
	if len(term) < minPrefixTerm {
		return false
	}
	for w := range words {
		if strings.HasPrefix(w, term) {
			return true
		}
	}
	return false
}
