package query

import (
	"fmt"
	"strings"

	"github.com/kgraph/backend/internal/storage/models"
)

const (
	maxSuggestions      = 5
	suggestionSourceTop = 3
)

// suggest proposes follow-up queries from the top results. Earlier results
// contribute first, so the list is ordered by estimated relevance.
func suggest(normalized string, results []models.QueryResult) []string {
	out := []string{}
	seen := map[string]bool{strings.ToLower(normalized): true}
	add := func(s string) {
		key := strings.ToLower(s)
		if s == "" || seen[key] || len(out) >= maxSuggestions {
			return
		}
		seen[key] = true
		out = append(out, s)
	}

	top := results
	if len(top) > suggestionSourceTop {
		top = top[:suggestionSourceTop]
	}
	for _, r := range top {
		for _, s := range suggestionsFor(r) {
			add(s)
		}
	}
	return out
}

func suggestionsFor(r models.QueryResult) []string {
	str := func(key string) string {
		s, _ := r.Metadata[key].(string)
		return s
	}

	switch r.Kind {
	case models.KindEntity:
		name := str("name")
		out := []string{fmt.Sprintf("what is %s", name)}
		switch str("entity_type") {
		case models.EntityPerson:
			out = append(out, fmt.Sprintf("which organizations is %s related to", name))
		case models.EntityOrganization:
			out = append(out, fmt.Sprintf("who leads %s", name))
		}
		out = append(out,
			fmt.Sprintf("relationships of %s", name),
			fmt.Sprintf("%s across documents", name),
		)
		return out
	case models.KindRelationship:
		source, target := str("source_name"), str("target_name")
		return []string{
			fmt.Sprintf("relationships of %s", source),
			fmt.Sprintf("path from %s to %s", source, target),
			fmt.Sprintf("what is %s", target),
		}
	case models.KindCrossDocument:
		return []string{
			fmt.Sprintf("what is %s", str("source_name")),
			fmt.Sprintf("documents mentioning %s", str("source_name")),
		}
	case models.KindDocument:
		return []string{fmt.Sprintf("relationships in %s", str("title"))}
	case models.KindGraphTraversal:
		return []string{
			fmt.Sprintf("what is %s", str("source_name")),
			fmt.Sprintf("what is %s", str("target_name")),
		}
	case models.KindSemantic:
		if doc := str("document_id"); doc != "" {
			return []string{fmt.Sprintf("document %s", doc)}
		}
	}
	return nil
}
