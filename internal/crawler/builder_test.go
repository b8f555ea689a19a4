package crawler

import (
	"errors"
	"testing"

	"github.com/tkytel/mandala/internal/model"
)

func newTestBuilder() (*GraphBuilder, *model.Graph, *StatisticsCollector) {
	graph := model.NewGraph()
	stats := NewStatisticsCollector()
	return NewGraphBuilder(graph, NewSeededGenerator(1), stats, nil), graph, stats
}

// TestGraphBuilderSelf tests creation and refresh of the self node.
func TestGraphBuilderSelf(t *testing.T) {
	t.Parallel()

	t.Run("creates a PBX node", func(t *testing.T) {
		t.Parallel()
		b, g, stats := newTestBuilder()

		d := desc("tokyo", "Tokyo")
		d.AboutMe.Attributes = map[string]any{"sipUri": "sip:tokyo"}
		if _, err := b.Merge(d, 0, Unbounded); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		n, ok := g.Node("tokyo")
		if !ok {
			t.Fatal("expected node tokyo")
		}
		if !n.IsPBX() {
			t.Errorf("expected PBX type, got %q", n.Type)
		}
		if n.Names.First() != "Tokyo" {
			t.Errorf("expected name Tokyo, got %v", n.Names.Slice())
		}
		if n.Attributes["sipUri"] != "sip:tokyo" {
			t.Errorf("expected sipUri attribute, got %v", n.Attributes)
		}
		if stats.Snapshot().PBXs != 1 {
			t.Errorf("expected 1 PBX, got %d", stats.Snapshot().PBXs)
		}
	})

	t.Run("refresh unions names and overwrites other fields", func(t *testing.T) {
		t.Parallel()
		b, g, stats := newTestBuilder()

		// A provider reference creates the node first.
		parent := desc("tokyo", "Tokyo")
		parent.Providers = []model.Provider{{
			Identifier: "osaka",
			Name:       "Osaka (as seen by Tokyo)",
			Prefix:     "6",
			Attributes: map[string]any{"note": "from tokyo"},
		}}
		if _, err := b.Merge(parent, 0, Unbounded); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		self := desc("osaka", "Osaka")
		self.AboutMe.Unavailable = model.Bool(true)
		self.AboutMe.Attributes = map[string]any{"sipUri": "sip:osaka"}
		if _, err := b.Merge(self, 1, Unbounded); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		n, _ := g.Node("osaka")
		names := n.Names.Slice()
		if len(names) != 2 || names[0] != "Osaka (as seen by Tokyo)" || names[1] != "Osaka" {
			t.Errorf("unexpected names %v", names)
		}
		if !n.IsUnavailable() {
			t.Error("expected self record to set unavailable")
		}
		if _, ok := n.Attributes["note"]; ok {
			t.Error("expected provider attributes to be replaced")
		}
		if n.Attributes["sipUri"] != "sip:osaka" {
			t.Errorf("expected self attributes, got %v", n.Attributes)
		}
		if stats.Snapshot().PBXs != 2 {
			t.Errorf("expected 2 PBXs, got %d", stats.Snapshot().PBXs)
		}
	})

	t.Run("missing identity leaves graph untouched", func(t *testing.T) {
		t.Parallel()
		b, g, stats := newTestBuilder()

		d := &model.Descriptor{
			Extensions: []model.Extension{{Identifier: "1", Name: "x"}},
			Providers:  []model.Provider{{Identifier: "y", Name: "Y"}},
		}
		next, err := b.Merge(d, 0, Unbounded)
		if !errors.Is(err, model.ErrMissingIdentity) {
			t.Fatalf("expected ErrMissingIdentity, got %v", err)
		}
		if next != nil {
			t.Error("expected no frontier entries")
		}
		if g.NodeCount() != 0 || g.EdgeCount() != 0 {
			t.Error("expected empty graph")
		}
		if stats.Snapshot() != (model.Statistics{}) {
			t.Errorf("expected zero statistics, got %+v", stats.Snapshot())
		}
	})
}

// TestGraphBuilderExtensions tests extension ids, inheritance and edges.
func TestGraphBuilderExtensions(t *testing.T) {
	t.Parallel()

	t.Run("uses identifier or generated token", func(t *testing.T) {
		t.Parallel()
		b, g, stats := newTestBuilder()

		d := desc("X", "Exchange")
		d.Extensions = []model.Extension{
			{Identifier: "op", Name: "Operator", Extension: "100", Type: "phone"},
			{Name: "Fax", Extension: "101", Type: "fax"},
		}
		if _, err := b.Merge(d, 0, Unbounded); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if _, ok := g.Node("X op"); !ok {
			t.Error("expected node 'X op'")
		}

		token := NewSeededGenerator(1).NewID()
		fax, ok := g.Node("X " + token)
		if !ok {
			t.Fatalf("expected generated node 'X %s'", token)
		}
		if fax.Type != "fax" {
			t.Errorf("expected type fax, got %q", fax.Type)
		}
		if fax.Attributes["extension"] != "101" {
			t.Errorf("expected extension attribute, got %v", fax.Attributes)
		}
		if fax.Attributes["name"] != "Exchange Fax" {
			t.Errorf("expected qualified name 'Exchange Fax', got %v", fax.Attributes["name"])
		}
		if stats.Snapshot().Extensions != 2 {
			t.Errorf("expected 2 extensions, got %d", stats.Snapshot().Extensions)
		}
	})

	t.Run("defaults type to unknown", func(t *testing.T) {
		t.Parallel()
		b, g, _ := newTestBuilder()

		d := desc("X", "Exchange")
		d.Extensions = []model.Extension{{Identifier: "1", Name: "?"}}
		if _, err := b.Merge(d, 0, Unbounded); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		n, _ := g.Node("X 1")
		if n.Type != model.NodeTypeUnknown {
			t.Errorf("expected unknown type, got %q", n.Type)
		}
	})

	t.Run("inherits parent unavailability", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name   string
			parent *bool
			want   *bool
		}{
			{name: "unavailable parent", parent: model.Bool(true), want: model.Bool(true)},
			{name: "available parent", parent: model.Bool(false), want: nil},
			{name: "unset parent", parent: nil, want: nil},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()
				b, g, _ := newTestBuilder()

				d := desc("X", "Exchange")
				d.AboutMe.Unavailable = tt.parent
				d.Extensions = []model.Extension{{
					Identifier:  "1",
					Name:        "Phone",
					Extension:   "1",
					Unavailable: model.Bool(false),
					TransferTo:  []string{"2"},
				}}
				if _, err := b.Merge(d, 0, Unbounded); err != nil {
					t.Fatalf("unexpected error: %v", err)
				}

				n, _ := g.Node("X 1")
				if !equalBool(n.Unavailable, tt.want) {
					t.Errorf("node: expected %v, got %v", fmtBool(tt.want), fmtBool(n.Unavailable))
				}
				for _, e := range g.Edges() {
					if !equalBool(e.Unavailable, tt.want) {
						t.Errorf("edge %s->%s: expected %v, got %v", e.From, e.To, fmtBool(tt.want), fmtBool(e.Unavailable))
					}
				}
			})
		}
	})

	t.Run("known extension only gains names", func(t *testing.T) {
		t.Parallel()
		b, g, stats := newTestBuilder()

		first := desc("X", "Exchange")
		first.Extensions = []model.Extension{{Identifier: "1", Name: "Desk", Extension: "1", Type: "phone"}}
		if _, err := b.Merge(first, 0, Unbounded); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		second := desc("X", "Exchange")
		second.Extensions = []model.Extension{{Identifier: "1", Name: "Desk phone", Extension: "9", Type: "fax"}}
		if _, err := b.Merge(second, 0, Unbounded); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		n, _ := g.Node("X 1")
		if n.Names.Len() != 2 {
			t.Errorf("expected 2 names, got %v", n.Names.Slice())
		}
		if n.Type != "phone" || n.Attributes["extension"] != "1" {
			t.Errorf("expected first sighting to be kept, got type %q attrs %v", n.Type, n.Attributes)
		}
		if stats.Snapshot().Extensions != 1 {
			t.Errorf("expected 1 extension, got %d", stats.Snapshot().Extensions)
		}
		if g.EdgeCount() != 2 {
			t.Errorf("expected one edge per occurrence, got %d", g.EdgeCount())
		}
	})

	t.Run("edges carry extension number", func(t *testing.T) {
		t.Parallel()
		b, g, _ := newTestBuilder()

		d := desc("X", "Exchange")
		d.Extensions = []model.Extension{{Identifier: "a", Name: "A", Extension: "200", TransferTo: []string{"42", "Y 7"}}}
		if _, err := b.Merge(d, 0, Unbounded); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		edges := g.Edges()
		want := []model.Edge{
			{From: "X", To: "X a", Label: "200", Kind: model.EdgeKindExtension},
			{From: "X a", To: "X 42", Kind: model.EdgeKindTransfer},
			{From: "X a", To: "Y 7", Kind: model.EdgeKindTransfer},
		}
		if len(edges) != len(want) {
			t.Fatalf("expected %d edges, got %d: %v", len(want), len(edges), edges)
		}
		for i := range want {
			if edges[i] != want[i] {
				t.Errorf("edge %d: expected %+v, got %+v", i, want[i], edges[i])
			}
		}
	})
}

// TestResolveTransferTarget tests qualification of transfer targets.
func TestResolveTransferTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		parent, target, want string
	}{
		{"X", "42", "X 42"},
		{"X", "Y 7", "Y 7"},
		{"X", "Y 7 8", "Y 7 8"},
		{"tokyo", "op", "tokyo op"},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			t.Parallel()
			if got := ResolveTransferTarget(tt.parent, tt.target); got != tt.want {
				t.Errorf("ResolveTransferTarget(%q, %q) = %q, want %q", tt.parent, tt.target, got, tt.want)
			}
		})
	}
}

// TestGraphBuilderProviders tests provider merging and the depth gate.
func TestGraphBuilderProviders(t *testing.T) {
	t.Parallel()

	t.Run("provider unavailability stays on the edge", func(t *testing.T) {
		t.Parallel()
		b, g, _ := newTestBuilder()

		d := desc("current", "Current")
		d.Providers = []model.Provider{{Identifier: "Z", Name: "Zed", Prefix: "9", Unavailable: model.Bool(true)}}
		if _, err := b.Merge(d, 0, Unbounded); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		z, ok := g.Node("Z")
		if !ok {
			t.Fatal("expected node Z")
		}
		if z.Unavailable != nil {
			t.Errorf("expected unset unavailable on node, got %v", *z.Unavailable)
		}
		if _, ok := z.Attributes["unavailable"]; ok {
			t.Error("unavailable must not leak into node attributes")
		}

		edges := g.Edges()
		if len(edges) != 1 {
			t.Fatalf("expected 1 edge, got %d", len(edges))
		}
		e := edges[0]
		if e.From != "current" || e.To != "Z" || e.Label != "9" || e.Kind != model.EdgeKindProvider {
			t.Errorf("unexpected edge %+v", e)
		}
		if e.Unavailable == nil || !*e.Unavailable {
			t.Error("expected edge unavailable=true")
		}
	})

	t.Run("returns descriptor URLs at next depth", func(t *testing.T) {
		t.Parallel()
		b, _, _ := newTestBuilder()

		d := desc("a", "A")
		d.Providers = []model.Provider{
			provider("b", "B"),
			{Identifier: "c", Name: "C", Prefix: "3"},
			provider("d", "D"),
		}
		next, err := b.Merge(d, 2, Unbounded)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []Entry{{URL: urlOf("b"), Depth: 3}, {URL: urlOf("d"), Depth: 3}}
		if len(next) != len(want) {
			t.Fatalf("expected %v, got %v", want, next)
		}
		for i := range want {
			if next[i] != want[i] {
				t.Errorf("entry %d: expected %+v, got %+v", i, want[i], next[i])
			}
		}
	})

	t.Run("known provider only gains names", func(t *testing.T) {
		t.Parallel()
		b, g, stats := newTestBuilder()

		d := desc("a", "A")
		d.Providers = []model.Provider{
			{Identifier: "b", Name: "B", Prefix: "1"},
			{Identifier: "b", Name: "Bee", Prefix: "2"},
		}
		if _, err := b.Merge(d, 0, Unbounded); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		n, _ := g.Node("b")
		if n.Names.Len() != 2 {
			t.Errorf("expected 2 names, got %v", n.Names.Slice())
		}
		if n.Attributes["prefix"] != "1" {
			t.Errorf("expected first prefix kept, got %v", n.Attributes["prefix"])
		}
		if stats.Snapshot().PBXs != 2 {
			t.Errorf("expected 2 PBXs, got %d", stats.Snapshot().PBXs)
		}
	})

	t.Run("skips providers without identifier", func(t *testing.T) {
		t.Parallel()
		b, g, _ := newTestBuilder()

		d := desc("a", "A")
		d.Providers = []model.Provider{{Name: "anonymous", Mantela: urlOf("anon")}}
		next, err := b.Merge(d, 0, Unbounded)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(next) != 0 || g.NodeCount() != 1 || g.EdgeCount() != 0 {
			t.Errorf("expected provider to be ignored, got %d entries %d nodes %d edges", len(next), g.NodeCount(), g.EdgeCount())
		}
	})

	t.Run("depth gate", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			depth, maxDepth int
			wantProviders   bool
		}{
			{0, 0, false},
			{0, 1, true},
			{1, 1, false},
			{2, 1, false},
			{5, Unbounded, true},
		}

		for _, tt := range tests {
			b, g, _ := newTestBuilder()
			d := desc("a", "A")
			d.Extensions = []model.Extension{{Identifier: "1", Name: "one"}}
			d.Providers = []model.Provider{provider("b", "B")}

			next, err := b.Merge(d, tt.depth, tt.maxDepth)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			_, hasB := g.Node("b")
			if hasB != tt.wantProviders || (len(next) > 0) != tt.wantProviders {
				t.Errorf("depth %d max %d: expected providers=%v, got node=%v entries=%d",
					tt.depth, tt.maxDepth, tt.wantProviders, hasB, len(next))
			}
			if _, ok := g.Node("a 1"); !ok {
				t.Errorf("depth %d max %d: extensions must always be merged", tt.depth, tt.maxDepth)
			}
		}
	})
}

// TestGraphBuilderMergeRevisit tests the merge of a node reached again
// through another URL.
func TestGraphBuilderMergeRevisit(t *testing.T) {
	t.Parallel()

	b, g, stats := newTestBuilder()

	first := desc("a", "A")
	first.AboutMe.Attributes = map[string]any{"color": "red"}
	first.Providers = []model.Provider{provider("b", "B")}
	if _, err := b.Merge(first, 0, Unbounded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := stats.Snapshot()
	edgesBefore := g.EdgeCount()

	again := desc("a", "A mirror")
	again.AboutMe.Unavailable = model.Bool(true)
	again.AboutMe.Attributes = map[string]any{"color": "blue"}
	again.Extensions = []model.Extension{{Identifier: "new", Name: "New"}}
	again.Providers = []model.Provider{
		provider("b", "B alias"),
		provider("c", "C"),
	}
	if err := b.MergeRevisit(again, 0, Unbounded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a, _ := g.Node("a")
	if !a.Names.Contains("A") || !a.Names.Contains("A mirror") {
		t.Errorf("expected self names to be unioned, got %v", a.Names.Slice())
	}
	if !a.IsUnavailable() {
		t.Error("expected latest self record to set unavailable")
	}
	if a.Attributes["color"] != "blue" {
		t.Errorf("expected latest self attributes, got %v", a.Attributes)
	}
	bNode, _ := g.Node("b")
	if !bNode.Names.Contains("B alias") {
		t.Error("expected known provider name to be unioned")
	}
	if g.HasNode("c") || g.HasNode("a new") {
		t.Error("revisit must not create nodes")
	}
	if g.EdgeCount() != edgesBefore {
		t.Error("revisit must not add edges")
	}
	if stats.Snapshot() != before {
		t.Error("revisit must not change statistics")
	}
}

func equalBool(a, b *bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func fmtBool(b *bool) string {
	if b == nil {
		return "unset"
	}
	if *b {
		return "true"
	}
	return "false"
}
