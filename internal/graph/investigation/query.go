package investigation

import (
	"errors"
	"fmt"
	"sort"
)

// ErrAlreadyPruned is returned when PruneToLargestComponent runs twice.
var ErrAlreadyPruned = errors.New("investigation graph already pruned")

// Distances returns BFS hop counts from one node to every reachable node.
func (g *Graph) Distances(from NodeID) map[NodeID]int {
	g.mustHave(from)
	dist := map[NodeID]int{from: 0}
	queue := []NodeID{from}
	for head := 0; head < len(queue); head++ {
		cur := queue[head]
		for _, nxt := range g.adj[cur] {
			if _, ok := dist[nxt]; ok {
				continue
			}
			dist[nxt] = dist[cur] + 1
			queue = append(queue, nxt)
		}
	}
	return dist
}

// Distance returns the hop count between a and b, or -1 if unreachable.
func (g *Graph) Distance(a, b NodeID) int {
	d, ok := g.Distances(a)[b]
	if !ok {
		return -1
	}
	return d
}

// ShortestPath returns one minimum-length node path from a to b, inclusive.
// Neighbours are visited in insertion order, so the result is stable for a
// given build. It panics if b is unreachable from a.
func (g *Graph) ShortestPath(a, b NodeID) []NodeID {
	g.mustHave(a)
	g.mustHave(b)
	if a == b {
		return []NodeID{a}
	}

	parent := map[NodeID]NodeID{a: a}
	queue := []NodeID{a}
	for head := 0; head < len(queue); head++ {
		cur := queue[head]
		for _, nxt := range g.adj[cur] {
			if _, ok := parent[nxt]; ok {
				continue
			}
			parent[nxt] = cur
			if nxt == b {
				return unwind(parent, a, b)
			}
			queue = append(queue, nxt)
		}
	}
	panic(fmt.Sprintf("investigation: no path between %d and %d", a, b))
}

func unwind(parent map[NodeID]NodeID, a, b NodeID) []NodeID {
	var rev []NodeID
	for cur := b; cur != a; cur = parent[cur] {
		rev = append(rev, cur)
	}
	rev = append(rev, a)
	out := make([]NodeID, len(rev))
	for i, id := range rev {
		out[len(rev)-1-i] = id
	}
	return out
}

// AlertsOnPath filters a node path down to its alert nodes.
func (g *Graph) AlertsOnPath(path []NodeID) []AlertID {
	out := make([]AlertID, 0, len(path)/2+1)
	for _, id := range path {
		if g.IsAlert(id) {
			out = append(out, AlertID(id))
		}
	}
	return out
}

// FarthestEntities returns the entities adjacent to from whose distance to
// relativeTo is maximal, in ascending id order. Entities that cannot reach
// relativeTo are ignored.
func (g *Graph) FarthestEntities(from, relativeTo AlertID) []EntityID {
	g.mustHave(NodeID(from))
	dist := g.Distances(NodeID(relativeTo))

	best := -1
	var out []EntityID
	for _, e := range g.AlertEntities(from) {
		d, ok := dist[NodeID(e)]
		if !ok {
			continue
		}
		switch {
		case d > best:
			best = d
			out = append(out[:0], e)
		case d == best:
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (g *Graph) mustHave(id NodeID) {
	if !g.hasNode(id) {
		panic(fmt.Sprintf("investigation: unknown node %d", id))
	}
}
