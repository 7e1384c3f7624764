package query

import (
	"fmt"
	"strings"

	"github.com/kgraph/backend/internal/extraction"
	"github.com/kgraph/backend/internal/kg/global"
	"github.com/kgraph/backend/internal/kg/graph"
	"github.com/kgraph/backend/internal/storage/models"
	"github.com/kgraph/backend/pkg/apperr"
	"github.com/kgraph/backend/pkg/utils"
)

const minResolveSimilarity = 0.5

// processTraversal resolves the entities named in the query and returns the
// shortest path between every pair of them. A disconnected pair contributes
// nothing; no path at all yields an empty, non-error result.
func processTraversal(v *global.View, q *parsedQuery) ([]models.QueryResult, map[string]any, error) {
	filter, err := pathFilter(q.filters)
	if err != nil {
		return nil, nil, err
	}

	resolved := resolveEntities(v, capitalizedRuns(q.raw))
	if len(resolved) < 2 {
		return nil, nil, apperr.InvalidArgument("graph traversal needs two known entities, resolved %d", len(resolved))
	}

	names := make([]string, 0, len(resolved))
	for _, e := range resolved {
		names = append(names, e.Name)
	}
	meta := map[string]any{"resolved_entities": names}

	var results []models.QueryResult
	for i := 0; i < len(resolved); i++ {
		for j := i + 1; j < len(resolved); j++ {
			a, b := resolved[i], resolved[j]
			path, ok := v.ShortestPath(a.ID, b.ID, filter)
			if !ok {
				path, ok = v.ShortestPath(b.ID, a.ID, filter)
			}
			if !ok || path.Len() == 0 {
				continue
			}
			results = append(results, pathResult(v, path))
		}
	}

	if len(results) == 0 {
		meta["no_path"] = true
	}
	return results, meta, nil
}

func pathFilter(f Filters) (graph.PathFilter, error) {
	maxLen, _, err := f.Int("max_path_length")
	if err != nil {
		return graph.PathFilter{}, err
	}
	if maxLen < 0 {
		return graph.PathFilter{}, apperr.InvalidArgument("max_path_length must not be negative")
	}
	entityTypes, err := f.StringSet("entity_types")
	if err != nil {
		return graph.PathFilter{}, err
	}
	relTypes, err := f.StringSet("relationship_types")
	if err != nil {
		return graph.PathFilter{}, err
	}
	minConfidence, _, err := f.Float("min_confidence")
	if err != nil {
		return graph.PathFilter{}, err
	}
	return graph.PathFilter{
		MaxLength:         maxLen,
		EntityTypes:       entityTypes,
		RelationshipTypes: relTypes,
		MinConfidence:     minConfidence,
	}, nil
}

// resolveEntities maps candidate names to registry entities, preferring an
// exact case-insensitive match and then the most similar name. Duplicates
// and unresolvable names are dropped.
func resolveEntities(v *global.View, candidates []string) []models.Entity {
	entities := v.Entities()
	seen := make(map[string]bool)
	var out []models.Entity

	for _, cand := range candidates {
		c := cleanName(cand)
		var best models.Entity
		bestScore := 0.0
		for _, e := range entities {
			n := cleanName(e.Name)
			var score float64
			switch {
			case n == c:
				score = 2
			case strings.Contains(" "+n+" ", " "+c+" "):
				score = 1 + global.NameSimilarity(n, c)/2
			default:
				score = global.NameSimilarity(n, c)
			}
			if score > bestScore {
				best, bestScore = e, score
			}
		}
		if bestScore < minResolveSimilarity || seen[best.ID] {
			continue
		}
		seen[best.ID] = true
		out = append(out, best)
	}
	return out
}

func pathResult(v *global.View, path graph.Path) models.QueryResult {
	names := make([]string, len(path.NodeIDs))
	for i, id := range path.NodeIDs {
		if e, ok := v.Entity(id); ok {
			names[i] = e.Name
		} else {
			names[i] = id
		}
	}

	var b strings.Builder
	b.WriteString(names[0])
	relTypes := make([]string, 0, len(path.Edges))
	var chunks []string
	for i, edge := range path.Edges {
		fmt.Fprintf(&b, " -[%s]-> %s", edge.RelationshipType, names[i+1])
		relTypes = append(relTypes, edge.RelationshipType)
		chunks = extraction.AppendUnique(chunks, edge.SourceChunkIDs...)
	}

	return models.QueryResult{
		ID:               utils.HashParts(path.NodeIDs...),
		Kind:             models.KindGraphTraversal,
		Content:          b.String(),
		RelevanceScore:   1 / float64(path.Len()),
		SourceDocumentID: models.MultipleDocuments,
		SourceChunkIDs:   chunks,
		Metadata: map[string]any{
			"path":               names,
			"node_ids":           path.NodeIDs,
			"relationship_types": relTypes,
			"length":             path.Len(),
			"source_name":        names[0],
			"target_name":        names[len(names)-1],
		},
	}
}
