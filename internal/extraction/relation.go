package extraction

import (
	"strings"

	"github.com/kgraph/backend/internal/storage/models"
)

// RelationTyper infers the type of a directed relationship between two
// co-occurring entities. ok is false when no rule covers the type pairing.
type RelationTyper interface {
	InferRelationshipType(source, target models.Entity, context string) (relType string, ok bool)
}

type relationRule struct {
	sourceType string
	targetType string
	keywords   []string
	relType    string
}

// anyType matches every entity type in a rule.
const anyType = "*"

var defaultRelationRules = []relationRule{
	{models.EntityPerson, models.EntityOrganization, []string{"ceo", "president", "director", "chairman", "founder", "founded"}, models.RelLeads},
	{models.EntityPerson, models.EntityOrganization, []string{"works", "employee", "joined", "hired", "employed"}, models.RelWorksFor},
	{models.EntityOrganization, models.EntityOrganization, []string{"acquired", "bought", "purchased", "acquisition"}, models.RelAcquired},
	{models.EntityOrganization, models.EntityOrganization, []string{"partner", "partnership", "collaborat"}, models.RelPartnersWith},
	{models.EntityOrganization, models.EntityOrganization, []string{"compete", "competitor", "rival"}, models.RelCompetesWith},
	{models.EntityPerson, models.EntityPerson, []string{"married", "wife", "husband", "spouse"}, models.RelMarriedTo},
	{models.EntityPerson, models.EntityPerson, []string{"met", "knows", "friend", "colleague"}, models.RelKnows},
	{models.EntityOrganization, models.EntityCurrency, []string{"valued", "worth", "valuation", "revenue"}, models.RelValuedAt},
	{anyType, models.EntityLocation, []string{"located", "based", "headquartered", " in ", " at "}, models.RelLocatedIn},
	{anyType, models.EntityDate, nil, models.RelOccurredOn},
}

// KeywordRelationTyper walks an ordered decision table keyed by the entity
// type pair and case-insensitive keyword presence in the context. Any pair
// without a matching keyword falls back to related_to.
type KeywordRelationTyper struct {
	rules    []relationRule
	fallback string
}

func NewKeywordRelationTyper() *KeywordRelationTyper {
	return &KeywordRelationTyper{rules: defaultRelationRules, fallback: models.RelRelatedTo}
}

func (t *KeywordRelationTyper) InferRelationshipType(source, target models.Entity, context string) (string, bool) {
	lower := strings.ToLower(context)
	for _, rule := range t.rules {
		if !typeMatches(rule.sourceType, source.Type) || !typeMatches(rule.targetType, target.Type) {
			continue
		}
		if len(rule.keywords) == 0 || containsAny(lower, rule.keywords) {
			return rule.relType, true
		}
	}
	if t.fallback == "" {
		return "", false
	}
	return t.fallback, true
}

func typeMatches(ruleType, entityType string) bool {
	return ruleType == anyType || ruleType == entityType
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
