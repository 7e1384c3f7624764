package query

import (
	"math"
	"sort"
	"strings"

	"github.com/kgraph/backend/internal/kg/global"
	"github.com/kgraph/backend/internal/storage/models"
)

// noiseTerms never contribute to content matching: they steer kind
// detection or are question words.
var noiseTerms = func() map[string]bool {
	set := map[string]bool{
		"what": true, "who": true, "which": true, "how": true, "where": true, "when": true,
		"does": true, "do": true, "did": true, "of": true, "to": true, "from": true, "in": true,
		"on": true, "for": true, "and": true, "with": true, "by": true, "all": true, "any": true,
		"entity": true, "entities": true, "between": true, "is": true,
	}
	for _, list := range [][]string{traversalKeywords, crossDocumentKeywords, documentKeywords, relationshipKeywords, semanticKeywords} {
		for _, k := range list {
			if !strings.Contains(k, " ") {
				set[k] = true
			}
		}
	}
	return set
}()

func contentTerms(terms []string) []string {
	var out []string
	for _, t := range terms {
		if !noiseTerms[t] {
			out = append(out, t)
		}
	}
	return out
}

func wordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if w != "" {
			set[w] = true
		}
	}
	return set
}

func cleanName(name string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(name)), ".,;:!?")
}

// termOverlap is the fraction of terms that occur as words of text.
func termOverlap(terms []string, text string) float64 {
	if len(terms) == 0 || text == "" {
		return 0
	}
	words := wordSet(text)
	hit := 0
	for _, t := range terms {
		if words[t] {
			hit++
		}
	}
	return float64(hit) / float64(len(terms))
}

// nameMatch scores how well a query names an entity: 1 for an exact match,
// less for containment either way, and word coverage of the name otherwise.
func nameMatch(normalized string, terms []string, name string) float64 {
	n := cleanName(name)
	if n == "" {
		return 0
	}
	q := cleanName(normalized)
	if q == n || cleanName(strings.Join(terms, " ")) == n {
		return 1
	}
	if strings.Contains(" "+q+" ", " "+n+" ") {
		return 0.9
	}
	if len(q) >= minNameLength && strings.Contains(n, q) {
		return 0.8
	}

	nameWords := wordSet(n)
	hit := 0
	for _, t := range terms {
		if nameWords[t] {
			hit++
		}
	}
	if len(nameWords) == 0 {
		return 0
	}
	return 0.7 * float64(hit) / float64(len(nameWords))
}

var relationshipSynonyms = map[string][]string{
	models.RelLeads:         {"ceo", "president", "director", "founder", "chairman", "leader", "led", "lead", "runs"},
	models.RelWorksFor:      {"works", "employee", "employed", "employs", "employer", "job"},
	models.RelAcquired:      {"acquisition", "acquire", "acquires", "bought", "buys"},
	models.RelPartnersWith:  {"partner", "partners", "partnership"},
	models.RelCompetesWith:  {"competitor", "competitors", "compete", "competes", "rival"},
	models.RelLocatedIn:     {"located", "based", "headquartered", "headquarters", "where"},
	models.RelMarriedTo:     {"married", "wife", "husband", "spouse"},
	models.RelKnows:         {"knows", "friend", "friends", "met"},
	models.RelValuedAt:      {"valued", "worth", "valuation"},
	models.RelOccurredOn:    {"when", "date"},
	models.RelSameEntity:    {"same", "identical"},
	models.RelSimilarEntity: {"similar", "alike"},
}

// typeMatch scores a relationship type against the query.
func typeMatch(normalized string, terms []string, relType string) float64 {
	phrase := strings.ReplaceAll(relType, "_", " ")
	if strings.Contains(" "+normalized+" ", " "+phrase+" ") {
		return 1
	}
	termSet := make(map[string]bool, len(terms))
	for _, t := range terms {
		termSet[t] = true
	}
	for _, syn := range relationshipSynonyms[relType] {
		if termSet[syn] {
			return 0.8
		}
	}
	words := strings.Fields(phrase)
	hit := 0
	for _, w := range words {
		if termSet[w] && !noiseTerms[w] {
			hit++
		}
	}
	return 0.5 * float64(hit) / float64(len(words))
}

func cosine(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}

func clamp01(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}

// rank orders results by relevance, keeping input order among equal scores,
// and truncates to max.
func rank(results []models.QueryResult, max int) []models.QueryResult {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})
	if len(results) > max {
		results = results[:max]
	}
	if results == nil {
		results = []models.QueryResult{}
	}
	return results
}

// documentOf collapses an attribution list to a single source document id.
func documentOf(docs []string) string {
	switch len(docs) {
	case 0:
		return global.UnknownDocument
	case 1:
		return docs[0]
	}
	return models.MultipleDocuments
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
