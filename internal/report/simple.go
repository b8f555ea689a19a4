package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/tkytel/mandala/internal/model"
)

// SimpleWriter outputs a plain text report for terminal display.
type SimpleWriter struct {
	baseWriter

	// verbose lists every node of the graph in addition to the statistics.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose enables the node listing.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Write outputs the report. In verbose mode the nodes of the graph are
// listed after the summary.
func (w *SimpleWriter) Write(report *model.CrawlReport) (int, error) {
	var sb strings.Builder
	w.writeSummary(&sb, model.NewCrawlSummary(report))
	if w.verbose {
		w.writeNodes(&sb, report.Graph)
	}
	w.writeFooter(&sb)
	return io.WriteString(w.output, sb.String())
}

// WriteSummary outputs the summary only.
func (w *SimpleWriter) WriteSummary(summary *model.CrawlSummary) (int, error) {
	var sb strings.Builder
	w.writeSummary(&sb, summary)
	w.writeFooter(&sb)
	return io.WriteString(w.output, sb.String())
}

func (w *SimpleWriter) writeSummary(sb *strings.Builder, s *model.CrawlSummary) {
	w.writeHeader(sb, s)
	w.writeStatistics(sb, s)
	w.writeNodeTypes(sb, s)
	w.writeUnavailable(sb, s)
	w.writeFailures(sb, "FETCH FAILURES", s.Failures)
	w.writeFailures(sb, "DISCARDED DESCRIPTORS", s.Discarded)
}

func (w *SimpleWriter) writeHeader(sb *strings.Builder, s *model.CrawlSummary) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("                       MANDALA CRAWL REPORT\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	fmt.Fprintf(sb, "Seed:           %s\n", s.SeedURL)
	fmt.Fprintf(sb, "Crawl Date:     %s\n", s.DateCrawled.Format(dateLayout))
	fmt.Fprintf(sb, "Elapsed:        %d ms\n", s.Elapsed.Milliseconds())

	switch {
	case s.Error != "":
		fmt.Fprintf(sb, "Status:         ERROR - %s\n", s.Error)
	case s.Truncated:
		fmt.Fprintf(sb, "Status:         TRUNCATED (%s)\n", s.TruncatedReason)
	default:
		sb.WriteString("Status:         Complete\n")
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeSection(sb *strings.Builder, title string) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString(title)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")
}

func (w *SimpleWriter) writeStatistics(sb *strings.Builder, s *model.CrawlSummary) {
	w.writeSection(sb, "STATISTICS")
	fmt.Fprintf(sb, "  Mantelas:   %d\n", s.Mantelas)
	fmt.Fprintf(sb, "  PBXs:       %d\n", s.PBXs)
	fmt.Fprintf(sb, "  Terminals:  %d\n", s.Terminals)
	fmt.Fprintf(sb, "  Edges:      %d\n", s.Edges)
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeNodeTypes(sb *strings.Builder, s *model.CrawlSummary) {
	if len(s.NodeTypes) == 0 {
		return
	}
	w.writeSection(sb, "NODE TYPES")
	for _, tc := range s.NodeTypes {
		fmt.Fprintf(sb, "  %-12s %d\n", tc.Type, tc.Count)
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeUnavailable(sb *strings.Builder, s *model.CrawlSummary) {
	if len(s.Unavailable) == 0 {
		return
	}
	w.writeSection(sb, "UNAVAILABLE")
	for _, id := range s.Unavailable {
		fmt.Fprintf(sb, "  [-] %s\n", id)
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeFailures(sb *strings.Builder, title string, failures []model.FetchFailure) {
	if len(failures) == 0 {
		return
	}
	w.writeSection(sb, title)
	for _, f := range failures {
		fmt.Fprintf(sb, "  [!] %s (depth %d)\n", f.URL, f.Depth)
		if f.Reason != "" {
			fmt.Fprintf(sb, "      %s\n", f.Reason)
		}
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeNodes(sb *strings.Builder, g model.GraphSnapshot) {
	if len(g.Nodes) == 0 {
		return
	}
	w.writeSection(sb, "NODES")
	for _, n := range g.Nodes {
		marker := "+"
		if n.IsUnavailable() {
			marker = "-"
		}
		fmt.Fprintf(sb, "  [%s] %-24s %-8s %s\n", marker, n.ID, n.Type, strings.Join(n.Names.Slice(), ", "))
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeFooter(sb *strings.Builder) {
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
}
