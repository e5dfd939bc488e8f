package investigation

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"

	"threatbench/pkg/models"
)

const graphmlNS = "http://graphml.graphdrawing.org/xmlns"

const (
	nodeTypeAlert  = "alert"
	nodeTypeEntity = "entity"
)

type graphmlDoc struct {
	XMLName xml.Name     `xml:"graphml"`
	XMLNS   string       `xml:"xmlns,attr,omitempty"`
	Keys    []graphmlKey `xml:"key"`
	Graph   graphmlGraph `xml:"graph"`
}

type graphmlKey struct {
	ID       string `xml:"id,attr"`
	For      string `xml:"for,attr"`
	AttrName string `xml:"attr.name,attr"`
	AttrType string `xml:"attr.type,attr"`
}

type graphmlGraph struct {
	ID          string        `xml:"id,attr,omitempty"`
	EdgeDefault string        `xml:"edgedefault,attr"`
	Data        []graphmlData `xml:"data"`
	Nodes       []graphmlNode `xml:"node"`
	Edges       []graphmlEdge `xml:"edge"`
}

type graphmlNode struct {
	ID   string        `xml:"id,attr"`
	Data []graphmlData `xml:"data"`
}

type graphmlEdge struct {
	Source string `xml:"source,attr"`
	Target string `xml:"target,attr"`
}

type graphmlData struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

var graphmlKeys = []graphmlKey{
	{ID: "pruned", For: "graph", AttrName: "pruned", AttrType: "boolean"},
	{ID: "type", For: "node", AttrName: "type", AttrType: "string"},
	{ID: "name", For: "node", AttrName: "name", AttrType: "string"},
	{ID: "description", For: "node", AttrName: "description", AttrType: "string"},
	{ID: "record", For: "node", AttrName: "record", AttrType: "string"},
	{ID: "node_type", For: "node", AttrName: "node_type", AttrType: "string"},
	{ID: "identifier_fields", For: "node", AttrName: "identifier_fields", AttrType: "string"},
	{ID: "value", For: "node", AttrName: "value", AttrType: "string"},
}

// WriteGraphML serializes the graph. Node ids and edge order are preserved so
// that a reloaded graph answers path queries identically.
func (g *Graph) WriteGraphML(w io.Writer) error {
	doc := graphmlDoc{
		XMLNS: graphmlNS,
		Keys:  graphmlKeys,
		Graph: graphmlGraph{
			ID:          "incident",
			EdgeDefault: "undirected",
			Data:        []graphmlData{{Key: "pruned", Value: strconv.FormatBool(g.pruned)}},
		},
	}

	for _, id := range g.allNodes() {
		key := strconv.FormatInt(int64(id), 10)
		if a, ok := g.alerts[AlertID(id)]; ok {
			doc.Graph.Nodes = append(doc.Graph.Nodes, graphmlNode{ID: key, Data: []graphmlData{
				{Key: "type", Value: nodeTypeAlert},
				{Key: "name", Value: a.Name},
				{Key: "description", Value: a.Description},
				{Key: "record", Value: string(a.Record)},
			}})
			continue
		}
		e := g.entities[EntityID(id)]
		doc.Graph.Nodes = append(doc.Graph.Nodes, graphmlNode{ID: key, Data: []graphmlData{
			{Key: "type", Value: nodeTypeEntity},
			{Key: "node_type", Value: string(e.Kind)},
			{Key: "identifier_fields", Value: e.Field},
			{Key: "value", Value: e.Value},
		}})
	}
	for _, k := range g.edgesInOrder() {
		doc.Graph.Edges = append(doc.Graph.Edges, graphmlEdge{
			Source: strconv.FormatInt(int64(k.alert), 10),
			Target: strconv.FormatInt(int64(k.entity), 10),
		})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode graphml: %w", err)
	}
	return enc.Flush()
}

// ReadGraphML loads a graph written by WriteGraphML.
func ReadGraphML(r io.Reader) (*Graph, error) {
	var doc graphmlDoc
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode graphml: %w", err)
	}

	g := New()
	for _, d := range doc.Graph.Data {
		if d.Key == "pruned" {
			g.pruned, _ = strconv.ParseBool(d.Value)
		}
	}

	for _, n := range doc.Graph.Nodes {
		raw, err := strconv.ParseInt(n.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("graphml node id %q: %w", n.ID, err)
		}
		id := NodeID(raw)
		if g.hasNode(id) {
			return nil, fmt.Errorf("graphml duplicate node id %d", id)
		}
		attrs := make(map[string]string, len(n.Data))
		for _, d := range n.Data {
			attrs[d.Key] = d.Value
		}

		switch attrs["type"] {
		case nodeTypeAlert:
			var record []byte
			if attrs["record"] != "" {
				record = []byte(attrs["record"])
			}
			g.alerts[AlertID(id)] = &AlertNode{
				ID:          AlertID(id),
				Name:        attrs["name"],
				Description: attrs["description"],
				Record:      record,
			}
		case nodeTypeEntity:
			key := IndexKey{Field: attrs["identifier_fields"], Value: attrs["value"]}
			if _, dup := g.index[key]; dup {
				return nil, fmt.Errorf("graphml duplicate entity %s=%s", key.Field, key.Value)
			}
			g.entities[EntityID(id)] = &EntityNode{
				ID:    EntityID(id),
				Kind:  models.EntityKind(attrs["node_type"]),
				Field: key.Field,
				Value: key.Value,
			}
			g.index[key] = EntityID(id)
		default:
			return nil, fmt.Errorf("graphml node %d has unknown type %q", id, attrs["type"])
		}
		if id >= g.nextID {
			g.nextID = id + 1
		}
	}

	for _, e := range doc.Graph.Edges {
		src, err1 := strconv.ParseInt(e.Source, 10, 64)
		dst, err2 := strconv.ParseInt(e.Target, 10, 64)
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("graphml edge %s-%s: bad node id", e.Source, e.Target)
		}
		a, b := NodeID(src), NodeID(dst)
		switch {
		case g.IsAlert(a) && g.isEntity(b):
			g.Connect(AlertID(a), EntityID(b))
		case g.IsAlert(b) && g.isEntity(a):
			g.Connect(AlertID(b), EntityID(a))
		default:
			return nil, fmt.Errorf("graphml edge %d-%d does not join an alert to an entity", a, b)
		}
	}
	return g, nil
}

func (g *Graph) isEntity(id NodeID) bool {
	_, ok := g.entities[EntityID(id)]
	return ok
}
