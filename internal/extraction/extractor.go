package extraction

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/kgraph/backend/internal/storage/models"
	"github.com/kgraph/backend/pkg/apperr"
)

const (
	BaseConfidence = 0.7
	minNameLength  = 3
	contextWindow  = 200
)

// Candidate is an unconsolidated entity mention from one chunk.
type Candidate struct {
	Name       string
	Type       string
	Confidence float64
	Context    string
	Properties map[string]string
}

type EntityExtractor interface {
	ExtractEntities(text, chunkID string) ([]Candidate, error)
}

type matcher struct {
	entityType string
	pattern    *regexp.Regexp
	// group selects the capture group holding the name; 0 is the whole match.
	group int
}

var (
	orgSuffixes = []string{"inc", "corp", "corporation", "llc", "ltd", "company", "group"}

	monthNames = `(?:January|February|March|April|May|June|July|August|September|October|November|December)`

	patternOrganization = regexp.MustCompile(`\b[A-Z][A-Za-z0-9&'-]*(?:\s+[A-Z][A-Za-z0-9&'-]*)*\s+(?:Inc|Corp|Corporation|LLC|Ltd|Company|Group)\b\.?`)
	patternLocation     = regexp.MustCompile(`\b(?:in|at|from|near)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)`)
	patternPerson       = regexp.MustCompile(`\b[A-Z][a-z]+\s+[A-Z][a-z]+\b`)
	patternDate         = regexp.MustCompile(`\b` + monthNames + `\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}\b|\b` + monthNames + `\s+\d{4}\b|\b\d{4}-\d{2}-\d{2}\b|\b\d{1,2}/\d{1,2}/\d{4}\b`)
	patternCurrency     = regexp.MustCompile(`\$\s?\d+(?:,\d{3})*(?:\.\d+)?(?:\s?(?:thousand|million|billion|trillion))?|\b\d+(?:,\d{3})*(?:\.\d+)?\s?(?:thousand|million|billion|trillion)?\s?(?:USD|EUR|GBP|dollars|euros)\b`)

	defaultMatchers = []matcher{
		{entityType: models.EntityOrganization, pattern: patternOrganization},
		{entityType: models.EntityLocation, pattern: patternLocation, group: 1},
		{entityType: models.EntityPerson, pattern: patternPerson},
		{entityType: models.EntityDate, pattern: patternDate},
		{entityType: models.EntityCurrency, pattern: patternCurrency},
	}

	stopEntities = map[string]bool{
		"The": true, "A": true, "An": true, "This": true, "That": true, "These": true, "Those": true,
		"I": true, "You": true, "We": true, "They": true, "It": true, "He": true, "She": true,
		"In": true, "On": true, "At": true, "From": true, "After": true, "Before": true, "When": true,
		"Today": true, "Yesterday": true, "Tomorrow": true,
		"Monday": true, "Tuesday": true, "Wednesday": true, "Thursday": true, "Friday": true, "Saturday": true, "Sunday": true,
		"January": true, "February": true, "March": true, "April": true, "May": true, "June": true,
		"July": true, "August": true, "September": true, "October": true, "November": true, "December": true,
	}
)

// PatternExtractor recognises entities with a fixed set of typed regular
// expressions. It is a best-effort baseline.
type PatternExtractor struct {
	matchers []matcher
}

func NewPatternExtractor() *PatternExtractor {
	return &PatternExtractor{matchers: defaultMatchers}
}

func (e *PatternExtractor) ExtractEntities(text, chunkID string) ([]Candidate, error) {
	if err := validateArgs(text, chunkID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return []Candidate{}, nil
	}

	c := newCollector(chunkID, "pattern")
	for _, m := range e.matchers {
		for _, loc := range m.pattern.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[2*m.group], loc[2*m.group+1]
			if start < 0 {
				continue
			}
			name := cleanName(text[start:end], m.entityType)
			if !acceptName(name, m.entityType, c) {
				continue
			}
			c.add(name, m.entityType, snippet(text, start, end))
		}
	}
	return c.candidates, nil
}

func validateArgs(text, chunkID string) error {
	if strings.TrimSpace(chunkID) == "" {
		return apperr.InvalidArgument("chunk id is required")
	}
	if !utf8.ValidString(text) {
		return apperr.InvalidArgument("chunk %s text is not valid UTF-8", chunkID)
	}
	return nil
}

// collector applies the per-call rules shared by every extractor: minimum
// length and case-insensitive dedupe keeping the first occurrence.
type collector struct {
	chunkID    string
	method     string
	seen       map[string]bool
	candidates []Candidate
}

func newCollector(chunkID, method string) *collector {
	return &collector{chunkID: chunkID, method: method, seen: make(map[string]bool), candidates: []Candidate{}}
}

func (c *collector) add(name, entityType, context string) {
	if utf8.RuneCountInString(name) < minNameLength {
		return
	}
	key := strings.ToLower(name)
	if c.seen[key] {
		return
	}
	c.seen[key] = true
	c.candidates = append(c.candidates, Candidate{
		Name:       name,
		Type:       entityType,
		Confidence: BaseConfidence,
		Context:    context,
		Properties: map[string]string{
			"extraction_method": c.method,
			"source_chunk_id":   c.chunkID,
		},
	})
}

// covered reports whether name is part of a name already collected, e.g. the
// "Goldman Sachs" inside "Goldman Sachs Group".
func (c *collector) covered(name string) bool {
	lower := strings.ToLower(name)
	for _, cand := range c.candidates {
		if cand.Type == models.EntityOrganization && strings.Contains(strings.ToLower(cand.Name), lower) {
			return true
		}
	}
	return false
}

func cleanName(raw, entityType string) string {
	name := strings.Join(strings.Fields(raw), " ")
	if entityType == models.EntityOrganization {
		words := strings.Fields(name)
		for len(words) > 1 && stopEntities[words[0]] {
			words = words[1:]
		}
		name = strings.Join(words, " ")
	}
	return name
}

func acceptName(name, entityType string, c *collector) bool {
	switch entityType {
	case models.EntityOrganization:
		return len(strings.Fields(name)) >= 2
	case models.EntityPerson:
		words := strings.Fields(name)
		for _, w := range words {
			if stopEntities[w] {
				return false
			}
		}
		if isOrgSuffix(words[len(words)-1]) {
			return false
		}
		return !c.covered(name)
	case models.EntityLocation:
		if stopEntities[strings.Fields(name)[0]] {
			return false
		}
		return !c.covered(name)
	}
	return true
}

func isOrgSuffix(word string) bool {
	w := strings.ToLower(strings.TrimSuffix(word, "."))
	for _, suffix := range orgSuffixes {
		if w == suffix {
			return true
		}
	}
	return false
}

// snippet returns up to contextWindow bytes of text around [start,end),
// trimmed to rune boundaries.
func snippet(text string, start, end int) string {
	from := start - contextWindow/4
	if from < 0 {
		from = 0
	}
	to := from + contextWindow
	if to < end {
		to = end
	}
	if to > len(text) {
		to = len(text)
	}
	for from > 0 && !utf8.RuneStart(text[from]) {
		from--
	}
	for to < len(text) && !utf8.RuneStart(text[to]) {
		to--
	}
	return strings.TrimSpace(text[from:to])
}

// NormalizeName is the consolidation key for an entity name.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

func sortedChunks(chunks []models.Chunk) []models.Chunk {
	out := make([]models.Chunk, len(chunks))
	copy(out, chunks)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Content < out[j].Content
	})
	return out
}
