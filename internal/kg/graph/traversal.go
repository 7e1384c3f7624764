package graph

import (
	"github.com/kgraph/backend/internal/storage/models"
)

// PathFilter constrains ShortestPath. Zero values disable a constraint.
// EntityTypes applies to intermediate nodes only; the endpoints are named by
// the caller.
type PathFilter struct {
	MaxLength         int
	EntityTypes       map[string]bool
	RelationshipTypes map[string]bool
	MinConfidence     float64
}

func (f PathFilter) allowsEdge(r models.Relationship) bool {
	if len(f.RelationshipTypes) > 0 && !f.RelationshipTypes[r.RelationshipType] {
		return false
	}
	return r.Confidence >= f.MinConfidence
}

func (f PathFilter) allowsNode(e models.Entity) bool {
	return len(f.EntityTypes) == 0 || f.EntityTypes[e.Type]
}

type Path struct {
	NodeIDs []string
	Edges   []models.Relationship
}

func (p Path) Len() int { return len(p.Edges) }

// ShortestPath runs a breadth-first search along edge direction and returns the
// path with the fewest edges. Ties resolve by edge insertion order.
func (g *Digraph) ShortestPath(src, dst string, filter PathFilter) (Path, bool) {
	if !g.HasNode(src) || !g.HasNode(dst) {
		return Path{}, false
	}
	if src == dst {
		return Path{NodeIDs: []string{src}}, true
	}

	type step struct {
		prev string
		edge string
	}
	visited := map[string]step{src: {}}
	depth := map[string]int{src: 0}
	queue := []string{src}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if filter.MaxLength > 0 && depth[current] >= filter.MaxLength {
			continue
		}

		for _, edgeID := range g.out[current] {
			edge := g.edges[edgeID]
			next := edge.TargetEntityID
			if _, seen := visited[next]; seen {
				continue
			}
			if !filter.allowsEdge(edge) {
				continue
			}
			if next != dst && !filter.allowsNode(g.nodes[next]) {
				continue
			}

			visited[next] = step{prev: current, edge: edgeID}
			depth[next] = depth[current] + 1

			if next == dst {
				return g.unwind(src, dst, func(id string) (string, string) {
					s := visited[id]
					return s.prev, s.edge
				}), true
			}
			queue = append(queue, next)
		}
	}
	return Path{}, false
}

func (g *Digraph) unwind(src, dst string, back func(id string) (prev, edge string)) Path {
	var nodes []string
	var edges []models.Relationship
	for id := dst; id != src; {
		prev, edgeID := back(id)
		nodes = append(nodes, id)
		edges = append(edges, g.edges[edgeID])
		id = prev
	}
	nodes = append(nodes, src)

	for i, j := 0, len(nodes)-1; i < j; i, j = i+1, j-1 {
		nodes[i], nodes[j] = nodes[j], nodes[i]
	}
	for i, j := 0, len(edges)-1; i < j; i, j = i+1, j-1 {
		edges[i], edges[j] = edges[j], edges[i]
	}
	return Path{NodeIDs: nodes, Edges: edges}
}

// Neighborhood returns every node within depth hops of id, ignoring edge
// direction, and the edges joining them. ok is false when id is unknown.
func (g *Digraph) Neighborhood(id string, depth int) ([]models.Entity, []models.Relationship, bool) {
	if !g.HasNode(id) {
		return nil, nil, false
	}
	if depth < 0 {
		depth = 0
	}

	dist := map[string]int{id: 0}
	order := []string{id}
	queue := []string{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if dist[current] >= depth {
			continue
		}
		for _, edgeID := range append(append([]string(nil), g.out[current]...), g.in[current]...) {
			edge := g.edges[edgeID]
			next := edge.TargetEntityID
			if next == current {
				next = edge.SourceEntityID
			}
			if _, seen := dist[next]; seen {
				continue
			}
			dist[next] = dist[current] + 1
			order = append(order, next)
			queue = append(queue, next)
		}
	}

	nodes := make([]models.Entity, 0, len(order))
	for _, nid := range order {
		nodes = append(nodes, g.nodes[nid])
	}
	edges := []models.Relationship{}
	for _, edgeID := range g.edgeOrder {
		edge := g.edges[edgeID]
		_, okSrc := dist[edge.SourceEntityID]
		_, okDst := dist[edge.TargetEntityID]
		if okSrc && okDst {
			edges = append(edges, edge)
		}
	}
	return nodes, edges, true
}
