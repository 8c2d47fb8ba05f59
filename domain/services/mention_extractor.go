package services

import (
	"strings"
	"unicode"

	"graphsync/domain/core/entities"
)

// Mention is a candidate entity reference found in note content
type Mention struct {
	Label    string
	KindHint entities.EntityKind
}

// MentionExtractor finds entity mentions in note content. Implementations
// may be heuristic or model-backed; the synthesizer treats them uniformly.
type MentionExtractor interface {
	// Extract returns the entity mentions found in the content, de-duplicated
	// by label
	Extract(content string) []Mention
}

// DefaultMentionExtractor finds mentions heuristically: runs of title-cased
// words that are not stop words are treated as named references. It needs no
// external services and keeps extraction deterministic.
type DefaultMentionExtractor struct {
	stopWords map[string]bool
}

// NewDefaultMentionExtractor creates an extractor with common English stop words
func NewDefaultMentionExtractor() *DefaultMentionExtractor {
	return &DefaultMentionExtractor{
		stopWords: defaultStopWords(),
	}
}

// Extract returns the title-cased phrases in the content as mentions.
// Adjacent capitalized words are folded into a single mention ("Eiffel
// Tower"); sentence-leading stop words are ignored. Order follows first
// appearance.
func (x *DefaultMentionExtractor) Extract(content string) []Mention {
	var mentions []Mention
	seen := make(map[string]bool)

	var phrase []string
	flush := func() {
		if len(phrase) == 0 {
			return
		}
		label := strings.Join(phrase, " ")
		phrase = nil

		key := strings.ToLower(label)
		if x.stopWords[key] || seen[key] {
			return
		}
		seen[key] = true
		mentions = append(mentions, Mention{
			Label:    label,
			KindHint: entities.KindConcept,
		})
	}

	for _, word := range tokenize(content) {
		if isTitleCased(word) && !x.stopWords[strings.ToLower(word)] {
			phrase = append(phrase, word)
			continue
		}
		flush()
	}
	flush()

	return mentions
}

// tokenize splits content into words, keeping letters and digits
func tokenize(content string) []string {
	var words []string
	var current strings.Builder
	for _, r := range content {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current.WriteRune(r)
		} else if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		words = append(words, current.String())
	}
	return words
}

// isTitleCased reports whether a word starts with an uppercase letter
// followed by at least one lowercase letter
func isTitleCased(word string) bool {
	runes := []rune(word)
	if len(runes) < 2 {
		return false
	}
	return unicode.IsUpper(runes[0]) && unicode.IsLower(runes[1])
}

// defaultStopWords returns common English stop words that should never be
// treated as mentions even when capitalized
func defaultStopWords() map[string]bool {
	return map[string]bool{
		"the": true, "be": true, "to": true, "of": true, "and": true,
		"a": true, "in": true, "that": true, "have": true, "i": true,
		"it": true, "for": true, "not": true, "on": true, "with": true,
		"he": true, "as": true, "you": true, "do": true, "at": true,
		"this": true, "but": true, "his": true, "by": true, "from": true,
		"they": true, "we": true, "say": true, "her": true, "she": true,
		"or": true, "an": true, "will": true, "my": true, "one": true,
		"all": true, "would": true, "there": true, "their": true, "what": true,
		"so": true, "up": true, "out": true, "if": true, "about": true,
		"who": true, "get": true, "which": true, "go": true, "me": true,
		"when": true, "make": true, "can": true, "like": true, "time": true,
		"no": true, "just": true, "him": true, "know": true, "take": true,
		"into": true, "year": true, "your": true, "some": true, "could": true,
		"them": true, "see": true, "other": true, "than": true, "then": true,
		"now": true, "look": true, "only": true, "come": true, "its": true,
		"over": true, "think": true, "also": true, "back": true, "after": true,
		"use": true, "two": true, "how": true, "our": true, "first": true,
		"well": true, "way": true, "even": true, "new": true, "want": true,
		"because": true, "any": true, "these": true, "give": true, "day": true,
		"most": true, "us": true, "is": true, "was": true, "are": true,
		"been": true, "has": true, "had": true, "were": true, "said": true,
		"did": true, "having": true, "may": true, "am": true, "should": true,
		"too": true, "very": true,
	}
}
