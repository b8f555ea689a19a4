package model

import (
	"encoding/json"

	"golang.org/x/text/unicode/norm"
)

// NodeTypePBX is the type of exchange nodes. Extension nodes carry their
// device tag instead, or NodeTypeUnknown when the descriptor gives none.
const (
	NodeTypePBX     = "PBX"
	NodeTypeUnknown = "unknown"
)

// NameSet is an insertion-ordered set of display names.
// Names are compared after NFC normalisation, so a precomposed "が" and
// "か" followed by a combining mark collapse into one entry.
// Empty names are ignored.
// A NameSet only grows.
type NameSet struct {
	names []string
	seen  map[string]struct{}
}

// NewNameSet returns a set containing names in order.
func NewNameSet(names ...string) NameSet {
	var s NameSet
	s.Add(names...)
	return s
}

// Add inserts names that are not already present.
// It reports whether at least one name was added.
func (s *NameSet) Add(names ...string) bool {
	if s.seen == nil {
		s.seen = make(map[string]struct{}, len(names))
	}

	added := false
	for _, n := range names {
		n = norm.NFC.String(n)
		if n == "" {
			continue
		}
		if _, ok := s.seen[n]; ok {
			continue
		}
		s.seen[n] = struct{}{}
		s.names = append(s.names, n)
		added = true
	}
	return added
}

// Union adds every name of other.
func (s *NameSet) Union(other NameSet) bool {
	return s.Add(other.names...)
}

// Contains reports whether name is in the set.
func (s NameSet) Contains(name string) bool {
	_, ok := s.seen[norm.NFC.String(name)]
	return ok
}

// Len returns the number of names.
func (s NameSet) Len() int {
	return len(s.names)
}

// First returns the earliest inserted name, or "" for an empty set.
func (s NameSet) First() string {
	if len(s.names) == 0 {
		return ""
	}
	return s.names[0]
}

// Slice returns a copy of the names in insertion order.
func (s NameSet) Slice() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// MarshalJSON encodes the set as a JSON array.
func (s NameSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

// UnmarshalJSON decodes a JSON array of names.
func (s *NameSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	*s = NewNameSet(names...)
	return nil
}

// Node is one vertex of the federation graph: a PBX or an extension.
type Node struct {
	// ID is the graph-wide unique key. PBXs use their identifier,
	// extensions use "<pbx id> <extension id>".
	ID string `json:"id"`

	// Names are all display names this node has been seen under.
	Names NameSet `json:"names"`

	// Type is NodeTypePBX or a device tag.
	Type string `json:"type"`

	// Unavailable is tri-state; nil means the state is unknown.
	Unavailable *bool `json:"unavailable,omitempty"`

	// Attributes carries every other field supplied by the source document.
	Attributes map[string]any `json:"attributes,omitempty"`
}

// IsPBX reports whether the node is an exchange.
func (n *Node) IsPBX() bool {
	return n.Type == NodeTypePBX
}

// IsUnavailable reports whether the node is explicitly marked unavailable.
func (n *Node) IsUnavailable() bool {
	return n.Unavailable != nil && *n.Unavailable
}

// clone returns a deep enough copy for read-only handoff.
func (n *Node) clone() Node {
	c := *n
	c.Names = NewNameSet(n.Names.Slice()...)
	if n.Unavailable != nil {
		c.Unavailable = Bool(*n.Unavailable)
	}
	if n.Attributes != nil {
		c.Attributes = copyAttributes(n.Attributes)
	}
	return c
}

// EdgeKind tells which part of a descriptor produced an edge.
type EdgeKind string

// Edge kinds.
const (
	EdgeKindExtension EdgeKind = "extension"
	EdgeKindTransfer  EdgeKind = "transfer"
	EdgeKindProvider  EdgeKind = "provider"
)

// Edge is a directed relation between two node ids.
// To may name a node that is not (yet) part of the graph.
type Edge struct {
	From        string   `json:"from"`
	To          string   `json:"to"`
	Label       string   `json:"label,omitempty"`
	Unavailable *bool    `json:"unavailable,omitempty"`
	Kind        EdgeKind `json:"kind"`
}

// Graph is the accumulated federation graph.
// Nodes are keyed by id; edges are append-only.
// A Graph is not safe for concurrent mutation; the crawler is its only writer.
type Graph struct {
	nodes map[string]*Node
	order []string
	edges []Edge
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
	}
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// HasNode reports whether id is a known node.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// AddNode inserts n. It returns false, leaving the graph untouched, when a
// node with the same id already exists.
func (g *Graph) AddNode(n *Node) bool {
	if _, ok := g.nodes[n.ID]; ok {
		return false
	}
	g.nodes[n.ID] = n
	g.order = append(g.order, n.ID)
	return true
}

// AddEdge appends e.
func (g *Graph) AddEdge(e Edge) {
	g.edges = append(g.edges, e)
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// Nodes returns copies of all nodes in first-seen order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id].clone())
	}
	return out
}

// Edges returns a copy of the edge sequence.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Snapshot returns a detached, read-only copy of the graph.
func (g *Graph) Snapshot() GraphSnapshot {
	return GraphSnapshot{
		Nodes: g.Nodes(),
		Edges: g.Edges(),
	}
}

// GraphSnapshot is the serialisable form of a Graph handed to consumers
// such as visualisers, report writers and the crawl database.
type GraphSnapshot struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// NodeByID looks up a node in the snapshot.
func (s GraphSnapshot) NodeByID(id string) (Node, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// CountByType returns the number of nodes per type.
func (s GraphSnapshot) CountByType() map[string]int {
	counts := make(map[string]int)
	for _, n := range s.Nodes {
		counts[n.Type]++
	}
	return counts
}
