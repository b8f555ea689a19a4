package report

import (
	"io"
	"strconv"
	"strings"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/tkytel/mandala/internal/model"
)

// MarkdownWriter outputs reports as GitHub-flavored Markdown.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs the report: the summary followed by the node and edge
// tables of the graph.
func (w *MarkdownWriter) Write(report *model.CrawlReport) (int, error) {
	md := markdown.NewMarkdown(w.output)
	w.writeSummary(md, model.NewCrawlSummary(report))
	w.writeGraph(md, report.Graph)
	w.writeFooter(md)
	return len(md.String()), md.Build()
}

// WriteSummary outputs the summary only.
func (w *MarkdownWriter) WriteSummary(summary *model.CrawlSummary) (int, error) {
	md := markdown.NewMarkdown(w.output)
	w.writeSummary(md, summary)
	w.writeFooter(md)
	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeSummary(md *markdown.Markdown, s *model.CrawlSummary) {
	md.H1("Mandala Crawl Report")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Seed", "`" + s.SeedURL + "`"},
			{"Crawl Date", s.DateCrawled.Format(dateLayout)},
			{"Elapsed", strconv.FormatInt(s.Elapsed.Milliseconds(), 10) + " ms"},
			{"Status", statusText(s)},
		},
	})
	md.PlainText("")

	md.H2("Statistics")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Count"},
		Rows: [][]string{
			{"Mantelas", strconv.Itoa(s.Mantelas)},
			{"PBXs", strconv.Itoa(s.PBXs)},
			{"Terminals", strconv.Itoa(s.Terminals)},
			{"Edges", strconv.Itoa(s.Edges)},
		},
	})
	md.PlainText("")

	if len(s.NodeTypes) > 0 {
		w.writePieChart(md, s)
	}
	w.writeAlert(md, s)
	w.writeUnavailable(md, s)
	w.writeFailures(md, "Fetch Failures", s.Failures)
	w.writeFailures(md, "Discarded Descriptors", s.Discarded)
}

func statusText(s *model.CrawlSummary) string {
	switch {
	case s.Error != "":
		return "❌ Error - " + s.Error
	case s.Truncated:
		return "⚠️ Truncated (" + s.TruncatedReason + ")"
	default:
		return "✅ Complete"
	}
}

// writePieChart writes a mermaid pie chart of node types.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, s *model.CrawlSummary) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Node Types"),
		piechart.WithShowData(true),
	)
	for _, tc := range s.NodeTypes {
		chart.LabelAndIntValue(tc.Type, uint64(tc.Count)) //nolint:gosec // counts are never negative
	}

	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, s *model.CrawlSummary) {
	switch {
	case s.Error != "":
		md.Cautionf("The crawl did not finish: %s. The graph below is partial.", s.Error)
	case s.Truncated:
		md.Warningf("The crawl was stopped early (%s). Some PBXs may be missing.", s.TruncatedReason)
	case len(s.Failures) > 0 || len(s.Discarded) > 0:
		md.Importantf("%d descriptor(s) could not be fetched and %d were discarded.",
			len(s.Failures), len(s.Discarded))
	default:
		md.Tip("Every reachable descriptor was fetched.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeUnavailable(md *markdown.Markdown, s *model.CrawlSummary) {
	if len(s.Unavailable) == 0 {
		return
	}
	md.H2("Unavailable")
	md.PlainText("")
	items := make([]string, len(s.Unavailable))
	for i, id := range s.Unavailable {
		items[i] = "`" + id + "`"
	}
	md.BulletList(items...)
	md.PlainText("")
}

func (w *MarkdownWriter) writeFailures(md *markdown.Markdown, title string, failures []model.FetchFailure) {
	if len(failures) == 0 {
		return
	}
	md.H2(title)
	md.PlainText("")

	rows := make([][]string, len(failures))
	for i, f := range failures {
		rows[i] = []string{"`" + f.URL + "`", strconv.Itoa(f.Depth), orDash(f.Reason)}
	}
	md.Table(markdown.TableSet{
		Header: []string{"URL", "Depth", "Reason"},
		Rows:   rows,
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeGraph(md *markdown.Markdown, g model.GraphSnapshot) {
	if len(g.Nodes) > 0 {
		md.H2("Nodes")
		md.PlainText("")
		rows := make([][]string, len(g.Nodes))
		for i, n := range g.Nodes {
			rows[i] = []string{
				"`" + n.ID + "`",
				orDash(strings.Join(n.Names.Slice(), ", ")),
				n.Type,
				availabilityText(n.Unavailable),
			}
		}
		md.Table(markdown.TableSet{
			Header: []string{"ID", "Names", "Type", "Available"},
			Rows:   rows,
		})
		md.PlainText("")
	}

	if len(g.Edges) > 0 {
		md.H2("Edges")
		md.PlainText("")
		rows := make([][]string, len(g.Edges))
		for i, e := range g.Edges {
			rows[i] = []string{
				"`" + e.From + "`",
				"`" + e.To + "`",
				string(e.Kind),
				orDash(e.Label),
				availabilityText(e.Unavailable),
			}
		}
		md.Table(markdown.TableSet{
			Header: []string{"From", "To", "Kind", "Label", "Available"},
			Rows:   rows,
		})
		md.PlainText("")
	}
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainText("*Report generated by mandala*")
}

// availabilityText renders a tri-state unavailable flag.
func availabilityText(unavailable *bool) string {
	switch {
	case unavailable == nil:
		return "-"
	case *unavailable:
		return "no"
	default:
		return "yes"
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
