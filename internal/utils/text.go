package utils

import (
	"strings"
	"unicode"
)

// stopWords are dropped from intents before matching.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "to": true, "for": true, "of": true,
	"on": true, "in": true, "at": true, "by": true, "with": true, "about": true,
	"my": true, "me": true, "please": true, "it": true, "is": true, "into": true,
	"from": true, "this": true, "that": true, "some": true,
}

// NormalizeIntent lowercases s and collapses runs of whitespace.
func NormalizeIntent(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Tokenize splits s into lowercase word tokens, dropping stop words and
// trimming simple plural and progressive suffixes. Identifiers such as
// "send_email" split on underscores.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if stopWords[f] || len(f) < 2 {
			continue
		}
		tokens = append(tokens, Stem(f))
	}
	return tokens
}

// Stem trims the most common English suffixes. It is deliberately crude:
// it only needs to make "emails"/"email" and "posting"/"post" agree.
func Stem(word string) string {
	switch {
	case len(word) > 5 && strings.HasSuffix(word, "ing"):
		return word[:len(word)-3]
	case len(word) > 4 && strings.HasSuffix(word, "ies"):
		return word[:len(word)-3] + "y"
	case len(word) > 3 && strings.HasSuffix(word, "s") && !strings.HasSuffix(word, "ss"):
		return word[:len(word)-1]
	}
	return word
}

// TokenSet returns the distinct tokens of s.
func TokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range Tokenize(s) {
		set[t] = true
	}
	return set
}

// Overlap counts how many of query's tokens appear in set.
func Overlap(query []string, set map[string]bool) int {
	n := 0
	for _, q := range query {
		if set[q] {
			n++
		}
	}
	return n
}
