package crawler

import (
	"log/slog"
	"strings"

	"github.com/tkytel/mandala/internal/model"
)

// idSeparator joins a PBX id and a local extension id. A transfer target
// that already contains it is taken to be fully qualified.
const idSeparator = " "

// GraphBuilder folds descriptors into a graph.
// It is the graph's only writer and is not safe for concurrent use.
type GraphBuilder struct {
	graph  *model.Graph
	ids    IDGenerator
	stats  *StatisticsCollector
	logger *slog.Logger
}

// NewGraphBuilder returns a builder writing into graph.
// Nil ids, stats or logger are replaced with defaults.
func NewGraphBuilder(graph *model.Graph, ids IDGenerator, stats *StatisticsCollector, logger *slog.Logger) *GraphBuilder {
	if ids == nil {
		ids = UUIDGenerator{}
	}
	if stats == nil {
		stats = NewStatisticsCollector()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphBuilder{
		graph:  graph,
		ids:    ids,
		stats:  stats,
		logger: logger,
	}
}

// Merge folds a descriptor seen for the first time into the graph.
// depth is the hop distance of the document and maxDepth the crawl limit,
// negative for unbounded. It returns the provider descriptors to visit
// next, all at depth+1. It fails only with model.ErrMissingIdentity, in
// which case the graph is left untouched.
func (b *GraphBuilder) Merge(d *model.Descriptor, depth, maxDepth int) ([]Entry, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	self := b.mergeSelf(d.AboutMe)
	b.mergeExtensions(self, d.Extensions)

	if !withinDepth(depth, maxDepth) {
		return nil, nil
	}
	return b.mergeProviders(self, d.Providers, depth), nil
}

// MergeRevisit folds a descriptor whose self id has already been merged
// from another URL. The self record is refreshed as in Merge, and providers
// that are already nodes gain names. No other nodes, edges, frontier entries
// or statistics are produced.
func (b *GraphBuilder) MergeRevisit(d *model.Descriptor, depth, maxDepth int) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if !b.graph.HasNode(d.AboutMe.Identifier) {
		return nil
	}
	b.mergeSelf(d.AboutMe)

	if !withinDepth(depth, maxDepth) {
		return nil
	}
	for _, p := range d.Providers {
		if n, ok := b.graph.Node(p.Identifier); ok {
			n.Names.Add(p.Name)
		}
	}
	return nil
}

// mergeSelf creates or refreshes the PBX node of the document itself.
// A refresh unions the name and replaces every other field.
func (b *GraphBuilder) mergeSelf(about *model.AboutMe) *model.Node {
	node, ok := b.graph.Node(about.Identifier)
	if ok {
		node.Names.Add(about.Name)
		node.Type = model.NodeTypePBX
		node.Unavailable = cloneBool(about.Unavailable)
		node.Attributes = cloneAttributes(about.Attributes)
		return node
	}

	node = &model.Node{
		ID:          about.Identifier,
		Names:       model.NewNameSet(about.Name),
		Type:        model.NodeTypePBX,
		Unavailable: cloneBool(about.Unavailable),
		Attributes:  cloneAttributes(about.Attributes),
	}
	b.graph.AddNode(node)
	b.stats.AddPBX()
	return node
}

// mergeExtensions attaches the extensions of parent.
// Extensions inherit the parent's unavailability, which is either true or
// unset; a known extension only gains names.
func (b *GraphBuilder) mergeExtensions(parent *model.Node, extensions []model.Extension) {
	var inherited *bool
	if parent.IsUnavailable() {
		inherited = model.Bool(true)
	}

	for _, ext := range extensions {
		local := ext.Identifier
		if local == "" {
			local = b.ids.NewID()
		}
		childID := parent.ID + idSeparator + local

		if child, ok := b.graph.Node(childID); ok {
			child.Names.Add(ext.Name)
		} else {
			b.graph.AddNode(newExtensionNode(childID, parent.Names.First(), ext, inherited))
			b.stats.AddExtension()
		}

		b.graph.AddEdge(model.Edge{
			From:        parent.ID,
			To:          childID,
			Label:       ext.Extension,
			Unavailable: cloneBool(inherited),
			Kind:        model.EdgeKindExtension,
		})

		for _, target := range ext.TransferTo {
			b.graph.AddEdge(model.Edge{
				From:        childID,
				To:          ResolveTransferTarget(parent.ID, target),
				Unavailable: cloneBool(inherited),
				Kind:        model.EdgeKindTransfer,
			})
		}
	}
}

// newExtensionNode builds an extension node. Its "name" attribute is the
// display label qualified with the parent's first name.
func newExtensionNode(id, parentName string, ext model.Extension, unavailable *bool) *model.Node {
	typ := ext.Type
	if typ == "" {
		typ = model.NodeTypeUnknown
	}

	attrs := cloneAttributes(ext.Attributes)
	if attrs == nil {
		attrs = make(map[string]any, 3)
	}
	attrs["name"] = parentName + " " + ext.Name
	if ext.Extension != "" {
		attrs["extension"] = ext.Extension
	}
	if len(ext.TransferTo) > 0 {
		attrs["transferTo"] = append([]string(nil), ext.TransferTo...)
	}

	return &model.Node{
		ID:          id,
		Names:       model.NewNameSet(ext.Name),
		Type:        typ,
		Unavailable: cloneBool(unavailable),
		Attributes:  attrs,
	}
}

// mergeProviders links parent to its providers and returns the descriptors
// they publish. A provider's unavailable flag is the parent's opinion of
// the link, so it is stored on the edge and never on the provider node.
func (b *GraphBuilder) mergeProviders(parent *model.Node, providers []model.Provider, depth int) []Entry {
	var next []Entry
	for _, p := range providers {
		if strings.TrimSpace(p.Identifier) == "" {
			b.logger.Debug("ignoring provider without identifier",
				"pbx", parent.ID,
				"name", p.Name,
			)
			continue
		}

		if n, ok := b.graph.Node(p.Identifier); ok {
			n.Names.Add(p.Name)
		} else {
			b.graph.AddNode(newProviderNode(p))
			b.stats.AddPBX()
		}

		b.graph.AddEdge(model.Edge{
			From:        parent.ID,
			To:          p.Identifier,
			Label:       p.Prefix,
			Unavailable: cloneBool(p.Unavailable),
			Kind:        model.EdgeKindProvider,
		})

		if p.Mantela != "" {
			next = append(next, Entry{URL: p.Mantela, Depth: depth + 1})
		}
	}
	return next
}

func newProviderNode(p model.Provider) *model.Node {
	attrs := cloneAttributes(p.Attributes)
	if attrs == nil {
		attrs = make(map[string]any, 2)
	}
	if p.Prefix != "" {
		attrs["prefix"] = p.Prefix
	}
	if p.Mantela != "" {
		attrs["mantela"] = p.Mantela
	}

	return &model.Node{
		ID:         p.Identifier,
		Names:      model.NewNameSet(p.Name),
		Type:       model.NodeTypePBX,
		Attributes: attrs,
	}
}

// ResolveTransferTarget returns the node id a transferTo entry refers to.
// A target containing a space is already qualified with its PBX id;
// any other target is local to parentID.
func ResolveTransferTarget(parentID, target string) string {
	if strings.Contains(target, idSeparator) {
		return target
	}
	return parentID + idSeparator + target
}

// withinDepth reports whether a document at depth may still contribute
// providers. A negative maxDepth means unbounded.
func withinDepth(depth, maxDepth int) bool {
	return maxDepth < 0 || depth < maxDepth
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	return model.Bool(*b)
}

func cloneAttributes(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
