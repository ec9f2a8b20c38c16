package persona

import "github.com/mockforge/core/pkg/models"

// FindRelatedByEntityType performs a breadth-first search over g starting
// at personaID, returning the IDs of reachable nodes whose EntityType
// matches targetEntityType. Edges are directional when recorded (e.g. an
// order "belongs_to" a user), but relatedness is queried from either
// endpoint, so both the forward and reverse direction of each edge are
// walked. When relFilter is non-nil, only edges whose relationship type
// exactly equals *relFilter are traversed. Traversal is depth-bounded by
// maxDepth (0 means "direct neighbours only"); results preserve the
// insertion order of the edges that discovered them, per the spec's
// ordering contract.
func FindRelatedByEntityType(g *models.PersonaGraph, personaID, targetEntityType string, relFilter *string, maxDepth int) []string {
	if maxDepth <= 0 {
		maxDepth = 1
	}

	edges := g.Edges() // global insertion order, reused for every frontier expansion

	visited := map[string]bool{personaID: true}
	var result []string
	type frontierItem struct {
		id    string
		depth int
	}
	queue := []frontierItem{{id: personaID, depth: 0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}
		for _, e := range edges {
			var neighbour string
			switch cur.id {
			case e.From:
				neighbour = e.To
			case e.To:
				neighbour = e.From
			default:
				continue
			}
			if relFilter != nil && e.Type != *relFilter {
				continue
			}
			if visited[neighbour] {
				continue
			}
			visited[neighbour] = true
			if n, ok := g.Nodes[neighbour]; ok && n.EntityType == targetEntityType {
				result = append(result, neighbour)
			}
			queue = append(queue, frontierItem{id: neighbour, depth: cur.depth + 1})
		}
	}
	return result
}
