package utils

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

var tokenRe = regexp.MustCompile(`[\p{L}\p{N}]+`)

// Tokens splits text into lowercased word tokens.
func Tokens(text string) []string {
	raw := tokenRe.FindAllString(strings.ToLower(text), -1)
	return raw
}

// TokenSet returns the set of lowercased word tokens in text.
func TokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range Tokens(text) {
		set[tok] = true
	}
	return set
}

// TokenJaccard returns the Jaccard similarity between the token sets of two
// strings. Two empty strings are considered identical.
func TokenJaccard(a, b string) float64 {
	setA := TokenSet(a)
	setB := TokenSet(b)

	if len(setA) == 0 && len(setB) == 0 {
		return 1.0
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0.0
	}

	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

// TextOverlapSimilarity scores how much of the query's tokens appear in the
// candidate text. Used as the similarity fallback when no embedding exists.
func TextOverlapSimilarity(query, candidate string) float64 {
	queryTokens := TokenSet(query)
	if len(queryTokens) == 0 {
		return 0
	}
	candidateTokens := TokenSet(candidate)

	hits := 0
	for tok := range queryTokens {
		if candidateTokens[tok] {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTokens))
}

// stopwords covers the function words of the supported locales (English and
// German) so keyword extraction keeps content terms only.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"of": true, "in": true, "on": true, "at": true, "to": true, "for": true,
	"with": true, "by": true, "from": true, "as": true, "it": true, "its": true,
	"this": true, "that": true, "these": true, "those": true, "i": true,
	"you": true, "he": true, "she": true, "we": true, "they": true, "not": true,
	"der": true, "die": true, "das": true, "und": true, "oder": true,
	"aber": true, "ist": true, "sind": true, "war": true, "waren": true,
	"ein": true, "eine": true, "einer": true, "von": true, "mit": true,
	"bei": true, "aus": true, "zu": true, "im": true, "am": true, "den": true,
	"dem": true, "des": true, "für": true, "auf": true, "sich": true,
	"nicht": true, "auch": true, "es": true, "er": true, "sie": true,
	"wir": true, "ich": true, "dass": true, "als": true,
}

// Keywords returns up to limit content words from text, ordered by frequency
// then alphabetically for determinism. Single-character tokens and stopwords
// are skipped.
func Keywords(text string, limit int) []string {
	counts := make(map[string]int)
	for _, tok := range Tokens(text) {
		if len([]rune(tok)) < 2 || stopwords[tok] {
			continue
		}
		counts[tok]++
	}

	keywords := make([]string, 0, len(counts))
	for tok := range counts {
		keywords = append(keywords, tok)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if counts[keywords[i]] != counts[keywords[j]] {
			return counts[keywords[i]] > counts[keywords[j]]
		}
		return keywords[i] < keywords[j]
	})

	if limit > 0 && len(keywords) > limit {
		keywords = keywords[:limit]
	}
	return keywords
}

var sentenceEndRe = regexp.MustCompile(`[.!?]+\s+`)

// Sentences splits text into rough sentences. Good enough for evidence
// attribution and co-occurrence windows; no attempt at abbreviation handling.
func Sentences(text string) []string {
	parts := sentenceEndRe.Split(text, -1)
	sentences := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			sentences = append(sentences, p)
		}
	}
	return sentences
}

// NameQuality is a heuristic in [0,1] combining length, character diversity,
// and a digit penalty. Longer names with varied characters score higher;
// digit-heavy strings score lower.
func NameQuality(name string) float64 {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return 0
	}
	runes := []rune(trimmed)

	// Length component: saturates at 20 characters.
	lengthScore := float64(len(runes)) / 20.0
	if lengthScore > 1 {
		lengthScore = 1
	}

	distinct := make(map[rune]bool)
	digits := 0
	for _, r := range runes {
		distinct[unicode.ToLower(r)] = true
		if unicode.IsDigit(r) {
			digits++
		}
	}
	diversityScore := float64(len(distinct)) / float64(len(runes))
	digitPenalty := float64(digits) / float64(len(runes))

	score := 0.5*lengthScore + 0.5*diversityScore - 0.5*digitPenalty
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
