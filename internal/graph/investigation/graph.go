// Package investigation holds the bipartite Alert/Entity graph that task
// sampling runs over.
//
// A Graph is built by a single writer (AddAlert, AddEntity, Connect), pruned
// once with PruneToLargestComponent, and is read-only afterwards. Read-only
// graphs may be shared across goroutines.
package investigation

import (
	"encoding/json"
	"fmt"
	"sort"

	"threatbench/internal/logger"
	"threatbench/pkg/models"
)

// NodeID identifies any node. Alert and entity ids share one sequence.
type NodeID int64

// AlertID identifies an alert node.
type AlertID NodeID

// EntityID identifies an entity node.
type EntityID NodeID

// AlertNode is one detected security event.
type AlertNode struct {
	ID          AlertID
	Name        string
	Description string
	Record      json.RawMessage
}

// EntityNode is one concrete indicator.
type EntityNode struct {
	ID    EntityID
	Kind  models.EntityKind
	Field string
	Value string
}

// IndexKey is the dedup key for entity nodes.
type IndexKey struct {
	Field string
	Value string
}

type edgeKey struct {
	alert  AlertID
	entity EntityID
}

// Graph is an undirected bipartite graph of alerts and entities.
type Graph struct {
	nextID   NodeID
	alerts   map[AlertID]*AlertNode
	entities map[EntityID]*EntityNode
	adj      map[NodeID][]NodeID
	edges    map[edgeKey]struct{}
	order    []edgeKey
	index    map[IndexKey]EntityID
	pruned   bool
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nextID:   1,
		alerts:   make(map[AlertID]*AlertNode, 64),
		entities: make(map[EntityID]*EntityNode, 256),
		adj:      make(map[NodeID][]NodeID, 512),
		edges:    make(map[edgeKey]struct{}, 512),
		index:    make(map[IndexKey]EntityID, 256),
	}
}

// AddAlert creates a new alert node. Alerts are never deduplicated.
func (g *Graph) AddAlert(rec models.AlertRecord) AlertID {
	id := AlertID(g.allocate())
	g.alerts[id] = &AlertNode{
		ID:          id,
		Name:        rec.Name,
		Description: rec.Description,
		Record:      append(json.RawMessage(nil), rec.Record...),
	}
	return id
}

// AddEntity returns the node for (field, value), creating it if this graph
// has not seen the pair before.
func (g *Graph) AddEntity(kind models.EntityKind, field, value string) EntityID {
	key := IndexKey{Field: field, Value: value}
	if id, ok := g.index[key]; ok {
		return id
	}
	id := EntityID(g.allocate())
	g.entities[id] = &EntityNode{ID: id, Kind: kind, Field: field, Value: value}
	g.index[key] = id
	return id
}

// AddEntityIdentifiers adds one node per identifier of e.
func (g *Graph) AddEntityIdentifiers(e models.Entity) []EntityID {
	ids := e.Identifiers()
	out := make([]EntityID, 0, len(ids))
	for _, ident := range ids {
		out = append(out, g.AddEntity(e.Kind(), ident.Field, ident.Value))
	}
	return out
}

// Connect adds an alert-entity edge. Repeated calls are no-ops.
func (g *Graph) Connect(alert AlertID, entity EntityID) {
	if _, ok := g.alerts[alert]; !ok {
		panic(fmt.Sprintf("investigation: connect unknown alert %d", alert))
	}
	if _, ok := g.entities[entity]; !ok {
		panic(fmt.Sprintf("investigation: connect unknown entity %d", entity))
	}
	key := edgeKey{alert: alert, entity: entity}
	if _, ok := g.edges[key]; ok {
		return
	}
	g.edges[key] = struct{}{}
	g.order = append(g.order, key)
	g.adj[NodeID(alert)] = append(g.adj[NodeID(alert)], NodeID(entity))
	g.adj[NodeID(entity)] = append(g.adj[NodeID(entity)], NodeID(alert))
}

func (g *Graph) allocate() NodeID {
	id := g.nextID
	g.nextID++
	return id
}

// Alerts returns alert ids in ascending order.
func (g *Graph) Alerts() []AlertID {
	out := make([]AlertID, 0, len(g.alerts))
	for id := range g.alerts {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Entities returns entity ids in ascending order.
func (g *Graph) Entities() []EntityID {
	out := make([]EntityID, 0, len(g.entities))
	for id := range g.entities {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Alert returns an alert node.
func (g *Graph) Alert(id AlertID) (AlertNode, bool) {
	n, ok := g.alerts[id]
	if !ok {
		return AlertNode{}, false
	}
	return *n, true
}

// Entity returns an entity node.
func (g *Graph) Entity(id EntityID) (EntityNode, bool) {
	n, ok := g.entities[id]
	if !ok {
		return EntityNode{}, false
	}
	return *n, true
}

// IsAlert reports whether id is an alert node.
func (g *Graph) IsAlert(id NodeID) bool {
	_, ok := g.alerts[AlertID(id)]
	return ok
}

// Neighbors returns the neighbours of id in insertion order.
func (g *Graph) Neighbors(id NodeID) []NodeID {
	return append([]NodeID(nil), g.adj[id]...)
}

// AlertEntities returns the entities adjacent to an alert in insertion order.
func (g *Graph) AlertEntities(id AlertID) []EntityID {
	nbrs := g.adj[NodeID(id)]
	out := make([]EntityID, 0, len(nbrs))
	for _, n := range nbrs {
		out = append(out, EntityID(n))
	}
	return out
}

// NodeCount returns the number of alert and entity nodes.
func (g *Graph) NodeCount() int {
	return len(g.alerts) + len(g.entities)
}

// EdgeCount returns the number of alert-entity edges.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// IndexKeys returns the dedup index keys sorted by field then value.
func (g *Graph) IndexKeys() []IndexKey {
	out := make([]IndexKey, 0, len(g.index))
	for k := range g.index {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Field != out[j].Field {
			return out[i].Field < out[j].Field
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// Lookup returns the entity node for (field, value).
func (g *Graph) Lookup(field, value string) (EntityID, bool) {
	id, ok := g.index[IndexKey{Field: field, Value: value}]
	return id, ok
}

// Pruned reports whether PruneToLargestComponent has run.
func (g *Graph) Pruned() bool {
	return g.pruned
}

// Components returns connected components, each sorted ascending, ordered by
// their smallest node id.
func (g *Graph) Components() [][]NodeID {
	all := g.allNodes()
	seen := make(map[NodeID]struct{}, len(all))
	var out [][]NodeID
	for _, start := range all {
		if _, ok := seen[start]; ok {
			continue
		}
		comp := []NodeID{start}
		seen[start] = struct{}{}
		for head := 0; head < len(comp); head++ {
			for _, nxt := range g.adj[comp[head]] {
				if _, ok := seen[nxt]; ok {
					continue
				}
				seen[nxt] = struct{}{}
				comp = append(comp, nxt)
			}
		}
		sort.Slice(comp, func(i, j int) bool { return comp[i] < comp[j] })
		out = append(out, comp)
	}
	return out
}

// PruneToLargestComponent keeps only the largest connected component. Ties go
// to the component containing the smallest node id. It must run once, after
// the graph is fully built, and returns the number of removed nodes.
func (g *Graph) PruneToLargestComponent() (int, error) {
	if g.pruned {
		return 0, ErrAlreadyPruned
	}
	g.pruned = true

	comps := g.Components()
	if len(comps) <= 1 {
		return 0, nil
	}
	best := 0
	for i, c := range comps {
		if len(c) > len(comps[best]) {
			best = i
		}
	}

	removed := 0
	for i, c := range comps {
		if i == best {
			continue
		}
		for _, id := range c {
			g.removeNode(id)
			removed++
		}
	}
	logger.Warnf("Incident graph had %d components; kept largest (%d nodes), removed %d nodes",
		len(comps), len(comps[best]), removed)
	return removed, nil
}

// removeNode drops a node whose whole component is being discarded.
func (g *Graph) removeNode(id NodeID) {
	for _, nbr := range g.adj[id] {
		if g.IsAlert(id) {
			delete(g.edges, edgeKey{alert: AlertID(id), entity: EntityID(nbr)})
		} else {
			delete(g.edges, edgeKey{alert: AlertID(nbr), entity: EntityID(id)})
		}
	}
	delete(g.adj, id)
	if g.IsAlert(id) {
		delete(g.alerts, AlertID(id))
		return
	}
	if n, ok := g.entities[EntityID(id)]; ok {
		delete(g.index, IndexKey{Field: n.Field, Value: n.Value})
		delete(g.entities, EntityID(id))
	}
}

// edgesInOrder returns live edges in insertion order.
func (g *Graph) edgesInOrder() []edgeKey {
	out := make([]edgeKey, 0, len(g.edges))
	for _, k := range g.order {
		if _, ok := g.edges[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

func (g *Graph) allNodes() []NodeID {
	out := make([]NodeID, 0, g.NodeCount())
	for id := range g.alerts {
		out = append(out, NodeID(id))
	}
	for id := range g.entities {
		out = append(out, NodeID(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (g *Graph) hasNode(id NodeID) bool {
	if _, ok := g.alerts[AlertID(id)]; ok {
		return true
	}
	_, ok := g.entities[EntityID(id)]
	return ok
}
