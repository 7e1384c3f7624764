package query

import (
	"strings"
	"unicode"

	"github.com/kgraph/backend/internal/storage/models"
	"github.com/kgraph/backend/pkg/apperr"
)

// Normalizer lowercases a query, collapses whitespace and strips stop words.
type Normalizer struct {
	stopWords map[string]bool
}

func NewNormalizer(stopWords []string) *Normalizer {
	set := make(map[string]bool, len(stopWords))
	for _, w := range stopWords {
		set[strings.ToLower(strings.TrimSpace(w))] = true
	}
	return &Normalizer{stopWords: set}
}

// Normalize fails on blank input. A query made only of stop words keeps them,
// so it never normalizes to the empty string.
func (n *Normalizer) Normalize(text string) (string, error) {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return "", apperr.InvalidArgument("query text is empty")
	}

	kept := make([]string, 0, len(words))
	for _, w := range words {
		if !n.stopWords[strings.Trim(w, "?!.,;:")] {
			kept = append(kept, w)
		}
	}
	if len(kept) == 0 {
		kept = words
	}
	return strings.Join(kept, " "), nil
}

var (
	traversalKeywords     = []string{"path", "connection", "connected", "connect", "route", "chain"}
	traversalLinkWords    = []string{"between", "link", "linked", "reach", "lead to"}
	crossDocumentKeywords = []string{"across documents", "cross-document", "cross document", "multiple documents", "other documents", "different documents", "same entity", "across"}
	documentKeywords      = []string{"document", "documents", "report", "reports", "file", "files", "paper"}
	relationshipKeywords  = []string{"relationship", "relationships", "related", "relation", "relations", "works for", "work for", "acquired", "acquire", "partner", "compete", "leads", "ceo of", "married", "located in", "based in", "knows"}
	semanticKeywords      = []string{"similar", "semantic", "meaning", "topic", "topics", "about", "discuss", "discusses", "mentions"}
)

// DetectKind classifies a query. normalized feeds the keyword checks and raw
// is used to find capitalized entity names. Checks run from the most to the
// least specific kind; entity is the fallback.
func DetectKind(normalized, raw string) models.QueryKind {
	padded := " " + normalized + " "
	switch {
	case containsWord(padded, traversalKeywords):
		return models.KindGraphTraversal
	case len(capitalizedRuns(raw)) >= 2 && containsWord(padded, traversalLinkWords):
		return models.KindGraphTraversal
	case containsWord(padded, crossDocumentKeywords):
		return models.KindCrossDocument
	case containsWord(padded, documentKeywords):
		return models.KindDocument
	case containsWord(padded, relationshipKeywords):
		return models.KindRelationship
	case containsWord(padded, semanticKeywords):
		return models.KindSemantic
	}
	return models.KindEntity
}

func containsWord(padded string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(padded, " "+k+" ") || strings.Contains(padded, " "+k+"?") || strings.Contains(padded, " "+k+",") {
			return true
		}
	}
	return false
}

var articles = map[string]bool{"the": true, "a": true, "an": true}

const minNameLength = 3

// capitalizedRuns returns maximal sequences of capitalized tokens from raw,
// with leading articles removed. A lowercase token ends a sequence.
func capitalizedRuns(raw string) []string {
	var runs []string
	var current []string

	flush := func() {
		for len(current) > 0 && articles[strings.ToLower(current[0])] {
			current = current[1:]
		}
		name := strings.Join(current, " ")
		if len([]rune(strings.ReplaceAll(name, " ", ""))) >= minNameLength {
			runs = append(runs, name)
		}
		current = nil
	}

	for _, tok := range strings.Fields(raw) {
		word := strings.TrimFunc(tok, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '&' && r != '.'
		})
		word = strings.TrimRight(word, ".")
		if word == "" {
			flush()
			continue
		}
		first := []rune(word)[0]
		if unicode.IsUpper(first) {
			current = append(current, word)
		} else {
			flush()
		}
		// punctuation after a token closes the name
		if strings.ContainsAny(tok[len(tok)-1:], ",;:?!") {
			flush()
		}
	}
	flush()
	return runs
}

// queryTerms returns the distinct words of a normalized query.
func queryTerms(normalized string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, w := range strings.Fields(normalized) {
		w = strings.Trim(w, "?!.,;:\"'()")
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
	}
	return terms
}
