// Package graph is an in-memory directed multigraph of entities and
// relationships. Parallel edges between the same pair are allowed as long as
// their ids differ. A Digraph is not safe for concurrent mutation; owners
// serialise writes themselves.
package graph

import (
	"github.com/kgraph/backend/internal/storage/models"
	"github.com/kgraph/backend/pkg/apperr"
)

type Digraph struct {
	nodes     map[string]models.Entity
	edges     map[string]models.Relationship
	out       map[string][]string
	in        map[string][]string
	nodeOrder []string
	edgeOrder []string
}

func New() *Digraph {
	return &Digraph{
		nodes: make(map[string]models.Entity),
		edges: make(map[string]models.Relationship),
		out:   make(map[string][]string),
		in:    make(map[string][]string),
	}
}

// FromDocument builds the per-document graph of entities and relationships.
func FromDocument(entities []models.Entity, rels []models.Relationship) (*Digraph, error) {
	g := New()
	for _, e := range entities {
		g.AddNode(e)
	}
	for _, r := range rels {
		if err := g.AddEdge(r); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// AddNode inserts or overwrites a node.
func (g *Digraph) AddNode(e models.Entity) {
	if _, exists := g.nodes[e.ID]; !exists {
		g.nodeOrder = append(g.nodeOrder, e.ID)
	}
	g.nodes[e.ID] = e
}

// AddEdge inserts or overwrites an edge. Both endpoints must already exist.
func (g *Digraph) AddEdge(r models.Relationship) error {
	if _, ok := g.nodes[r.SourceEntityID]; !ok {
		return apperr.Corrupted("edge %s references unknown source entity %s", r.ID, r.SourceEntityID)
	}
	if _, ok := g.nodes[r.TargetEntityID]; !ok {
		return apperr.Corrupted("edge %s references unknown target entity %s", r.ID, r.TargetEntityID)
	}

	if old, exists := g.edges[r.ID]; exists {
		if old.SourceEntityID != r.SourceEntityID || old.TargetEntityID != r.TargetEntityID {
			g.out[old.SourceEntityID] = without(g.out[old.SourceEntityID], r.ID)
			g.in[old.TargetEntityID] = without(g.in[old.TargetEntityID], r.ID)
			g.out[r.SourceEntityID] = append(g.out[r.SourceEntityID], r.ID)
			g.in[r.TargetEntityID] = append(g.in[r.TargetEntityID], r.ID)
		}
	} else {
		g.edgeOrder = append(g.edgeOrder, r.ID)
		g.out[r.SourceEntityID] = append(g.out[r.SourceEntityID], r.ID)
		g.in[r.TargetEntityID] = append(g.in[r.TargetEntityID], r.ID)
	}
	g.edges[r.ID] = r
	return nil
}

func without(ids []string, id string) []string {
	out := ids[:0:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

func (g *Digraph) Node(id string) (models.Entity, bool) {
	e, ok := g.nodes[id]
	return e, ok
}

func (g *Digraph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

func (g *Digraph) Edge(id string) (models.Relationship, bool) {
	r, ok := g.edges[id]
	return r, ok
}

func (g *Digraph) NodeCount() int { return len(g.nodes) }

func (g *Digraph) EdgeCount() int { return len(g.edges) }

// Nodes returns nodes in insertion order.
func (g *Digraph) Nodes() []models.Entity {
	out := make([]models.Entity, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		out = append(out, g.nodes[id])
	}
	return out
}

// Edges returns edges in insertion order.
func (g *Digraph) Edges() []models.Relationship {
	out := make([]models.Relationship, 0, len(g.edgeOrder))
	for _, id := range g.edgeOrder {
		out = append(out, g.edges[id])
	}
	return out
}

func (g *Digraph) OutEdges(id string) []models.Relationship {
	return g.collect(g.out[id])
}

func (g *Digraph) InEdges(id string) []models.Relationship {
	return g.collect(g.in[id])
}

func (g *Digraph) collect(ids []string) []models.Relationship {
	out := make([]models.Relationship, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.edges[id])
	}
	return out
}

// Compose folds other into g. Nodes and edges from either graph survive and
// attributes from other win on conflict.
func (g *Digraph) Compose(other *Digraph) error {
	for _, id := range other.nodeOrder {
		g.AddNode(other.nodes[id])
	}
	for _, id := range other.edgeOrder {
		if err := g.AddEdge(other.edges[id]); err != nil {
			return err
		}
	}
	return nil
}

func (g *Digraph) Clone() *Digraph {
	c := &Digraph{
		nodes:     make(map[string]models.Entity, len(g.nodes)),
		edges:     make(map[string]models.Relationship, len(g.edges)),
		out:       make(map[string][]string, len(g.out)),
		in:        make(map[string][]string, len(g.in)),
		nodeOrder: append([]string(nil), g.nodeOrder...),
		edgeOrder: append([]string(nil), g.edgeOrder...),
	}
	for id, n := range g.nodes {
		c.nodes[id] = n
	}
	for id, e := range g.edges {
		c.edges[id] = e
	}
	for id, ids := range g.out {
		c.out[id] = append([]string(nil), ids...)
	}
	for id, ids := range g.in {
		c.in[id] = append([]string(nil), ids...)
	}
	return c
}
