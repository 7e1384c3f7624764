package extraction

import (
	"strings"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/kgraph/backend/internal/storage/models"
	"github.com/kgraph/backend/pkg/logger"
)

var proseLabels = map[string]string{
	"PERSON": models.EntityPerson,
	"GPE":    models.EntityLocation,
	"LOC":    models.EntityLocation,
	"ORG":    models.EntityOrganization,
}

// ProseExtractor uses the prose statistical tagger for people, places and
// organisations. Dates and currency amounts, which the tagger does not label,
// come from the pattern matchers.
type ProseExtractor struct {
	fallback *PatternExtractor
}

func NewProseExtractor() *ProseExtractor {
	return &ProseExtractor{fallback: NewPatternExtractor()}
}

func (e *ProseExtractor) ExtractEntities(text, chunkID string) ([]Candidate, error) {
	if err := validateArgs(text, chunkID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return []Candidate{}, nil
	}

	doc, err := prose.NewDocument(text, prose.WithSegmentation(false))
	if err != nil {
		logger.Warn("prose tagging failed, using patterns only",
			zap.String("chunk_id", chunkID),
			zap.Error(err),
		)
		return e.fallback.ExtractEntities(text, chunkID)
	}

	c := newCollector(chunkID, "prose")
	for _, ent := range doc.Entities() {
		entityType, ok := proseLabels[ent.Label]
		if !ok {
			continue
		}
		name := strings.Join(strings.Fields(ent.Text), " ")
		idx := strings.Index(text, ent.Text)
		ctx := ""
		if idx >= 0 {
			ctx = snippet(text, idx, idx+len(ent.Text))
		}
		c.add(name, entityType, ctx)
	}

	for _, m := range e.fallback.matchers {
		if m.entityType != models.EntityDate && m.entityType != models.EntityCurrency {
			continue
		}
		for _, loc := range m.pattern.FindAllStringIndex(text, -1) {
			c.add(text[loc[0]:loc[1]], m.entityType, snippet(text, loc[0], loc[1]))
		}
	}
	return c.candidates, nil
}
