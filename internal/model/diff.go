package model

// AvailabilityChange records a node whose unavailable flag flipped
// between two crawls.
type AvailabilityChange struct {
	ID string `json:"id"`

	// Unavailable is the state in the newer crawl.
	Unavailable bool `json:"unavailable"`
}

// GraphDiff is the difference between two crawls of the same seed.
// Nodes are matched by id and edges by endpoints, kind and label.
type GraphDiff struct {
	AddedNodes          []Node               `json:"added_nodes,omitempty"`
	RemovedNodes        []Node               `json:"removed_nodes,omitempty"`
	AvailabilityChanges []AvailabilityChange `json:"availability_changes,omitempty"`
	AddedEdges          []Edge               `json:"added_edges,omitempty"`
	RemovedEdges        []Edge               `json:"removed_edges,omitempty"`

	// UnchangedNodes counts nodes present in both crawls.
	UnchangedNodes int `json:"unchanged_nodes"`
}

// DiffGraphs compares previous with current. Added entries keep the order
// of current, removed entries the order of previous.
func DiffGraphs(previous, current GraphSnapshot) *GraphDiff {
	d := &GraphDiff{}

	before := make(map[string]Node, len(previous.Nodes))
	for _, n := range previous.Nodes {
		before[n.ID] = n
	}
	after := make(map[string]struct{}, len(current.Nodes))

	for _, n := range current.Nodes {
		after[n.ID] = struct{}{}
		old, ok := before[n.ID]
		if !ok {
			d.AddedNodes = append(d.AddedNodes, n)
			continue
		}
		d.UnchangedNodes++
		if old.IsUnavailable() != n.IsUnavailable() {
			d.AvailabilityChanges = append(d.AvailabilityChanges, AvailabilityChange{
				ID:          n.ID,
				Unavailable: n.IsUnavailable(),
			})
		}
	}
	for _, n := range previous.Nodes {
		if _, ok := after[n.ID]; !ok {
			d.RemovedNodes = append(d.RemovedNodes, n)
		}
	}

	beforeEdges := edgeSet(previous.Edges)
	afterEdges := edgeSet(current.Edges)
	for _, e := range current.Edges {
		if _, ok := beforeEdges[edgeKey(e)]; !ok {
			d.AddedEdges = append(d.AddedEdges, e)
		}
	}
	for _, e := range previous.Edges {
		if _, ok := afterEdges[edgeKey(e)]; !ok {
			d.RemovedEdges = append(d.RemovedEdges, e)
		}
	}

	return d
}

// IsEmpty reports whether the two crawls produced the same graph shape.
func (d *GraphDiff) IsEmpty() bool {
	return len(d.AddedNodes) == 0 &&
		len(d.RemovedNodes) == 0 &&
		len(d.AvailabilityChanges) == 0 &&
		len(d.AddedEdges) == 0 &&
		len(d.RemovedEdges) == 0
}

type edgeID struct {
	from, to, label string
	kind            EdgeKind
}

func edgeKey(e Edge) edgeID {
	return edgeID{from: e.From, to: e.To, label: e.Label, kind: e.Kind}
}

func edgeSet(edges []Edge) map[edgeID]struct{} {
	set := make(map[edgeID]struct{}, len(edges))
	for _, e := range edges {
		set[edgeKey(e)] = struct{}{}
	}
	return set
}
