package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"
	"github.com/spf13/cobra"

	"github.com/tkytel/mandala/internal/config"
	"github.com/tkytel/mandala/internal/database"
	"github.com/tkytel/mandala/internal/model"
)

// compareOptions holds the parsed flags of the compare command.
type compareOptions struct {
	seed        string
	list        bool
	listSeeds   bool
	withCrawlID int64
	since       string
	json        bool
	markdown    bool
	verbose     bool
}

// NewCompareCmd creates the compare command.
// It compares stored crawls of the same seed.
func NewCompareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare [mantela-url]",
		Short: "Compare a crawl with earlier crawls of the same seed",
		Long: `Compare shows how a federation changed between two saved crawls:

- Exchanges and extensions that appeared or disappeared
- Nodes whose availability flipped
- Links that were added or removed
- Descriptors that started or stopped failing

By default the latest two crawls of the seed are compared. Use
'mandala crawl' to record crawls.

Examples:
  # Compare the latest two crawls
  mandala compare https://example.org/mantela.json

  # List saved crawls of a seed
  mandala compare --list https://example.org/mantela.json

  # Compare the latest crawl with a specific one
  mandala compare --with-crawl-id 5 https://example.org/mantela.json

  # Compare with the first crawl on or after a date
  mandala compare --since 2026-01-01 https://example.org/mantela.json

  # List every seed in the database
  mandala compare --list-seeds`,
		Args: cobra.MaximumNArgs(1),
		RunE: runCompareCmd,
	}

	cmd.Flags().BoolP("list", "l", false,
		"List saved crawls of the seed")
	cmd.Flags().BoolP("list-seeds", "L", false,
		"List every seed with saved crawls")
	cmd.Flags().Int64P("with-crawl-id", "i", 0,
		"Compare the latest crawl with the crawl of this ID (see --list)")
	cmd.Flags().StringP("since", "s", "",
		"Compare with the first crawl on or after this date (YYYY-MM-DD)")
	cmd.Flags().BoolP("json", "j", false,
		"Output the comparison as JSON")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output the comparison as Markdown")

	return cmd
}

func runCompareCmd(cmd *cobra.Command, args []string) error {
	// Flags are checked before the database is opened so that a bad
	// invocation never creates it.
	opts, err := parseCompareOptions(cmd, args)
	if err != nil {
		return err
	}

	db, err := database.Open(config.XDGDataDir(), database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	return runCompare(cmd.Context(), db, opts, cmd.OutOrStdout())
}

func parseCompareOptions(cmd *cobra.Command, args []string) (*compareOptions, error) {
	flags := cmd.Flags()
	opts := &compareOptions{verbose: getVerboseFlag(cmd)}

	var err error
	if opts.list, err = flags.GetBool("list"); err != nil {
		return nil, err
	}
	if opts.listSeeds, err = flags.GetBool("list-seeds"); err != nil {
		return nil, err
	}
	if opts.withCrawlID, err = flags.GetInt64("with-crawl-id"); err != nil {
		return nil, err
	}
	if opts.since, err = flags.GetString("since"); err != nil {
		return nil, err
	}
	if opts.json, err = flags.GetBool("json"); err != nil {
		return nil, err
	}
	if opts.markdown, err = flags.GetBool("markdown"); err != nil {
		return nil, err
	}

	if opts.json && opts.markdown {
		return nil, config.ErrConflictingReportFormats
	}
	if opts.listSeeds {
		return opts, nil
	}
	if len(args) == 0 {
		return nil, errors.New("seed URL is required (use --list-seeds to see saved seeds)")
	}
	if !config.IsDescriptorURL(args[0]) {
		return nil, fmt.Errorf("invalid seed URL %q: %w", args[0], config.ErrInvalidTarget)
	}
	opts.seed = args[0]

	return opts, nil
}

// runCompare dispatches to the listing or comparison requested by opts.
func runCompare(ctx context.Context, db *database.CrawlDB, opts *compareOptions, out io.Writer) error {
	switch {
	case opts.listSeeds:
		return listSeeds(ctx, db, out)
	case opts.list:
		return listCrawlHistory(ctx, db, opts.seed, opts.verbose, out)
	default:
		return runComparison(ctx, db, opts, out)
	}
}

func listSeeds(ctx context.Context, db *database.CrawlDB, out io.Writer) error {
	seeds, err := db.ListSeeds(ctx)
	if err != nil {
		return fmt.Errorf("failed to list seeds: %w", err)
	}

	if len(seeds) == 0 {
		fmt.Fprintln(out, "No crawls found in the database.")
		fmt.Fprintln(out, "\nUse 'mandala crawl <mantela-url>' to crawl a federation.")
		return nil
	}

	fmt.Fprintf(out, "Crawled seeds (%d):\n\n", len(seeds))
	for _, seed := range seeds {
		fmt.Fprintf(out, "  • %s\n", seed)
	}
	fmt.Fprintln(out, "\nUse 'mandala compare --list <mantela-url>' to see the crawls of a seed.")

	return nil
}

// listCrawlHistory prints every saved crawl of seed. In verbose mode the
// failures of each crawl are listed below it.
func listCrawlHistory(ctx context.Context, db *database.CrawlDB, seed string, verbose bool, out io.Writer) error {
	history, err := db.GetCrawlHistory(ctx, seed)
	if err != nil {
		return fmt.Errorf("failed to get crawl history: %w", err)
	}

	if len(history) == 0 {
		fmt.Fprintf(out, "No crawl history found for %s\n", seed)
		fmt.Fprintln(out, "\nUse 'mandala crawl' to crawl this seed.")
		return nil
	}

	fmt.Fprintf(out, "Crawl history for %s (%d crawls):\n\n", seed, len(history))
	fmt.Fprintf(out, "  %-6s  %-20s  %s\n", "ID", "Date", "Summary")
	fmt.Fprintln(out, "  "+strings.Repeat("-", 60))

	for _, meta := range history {
		fmt.Fprintf(out, "  %-6d  %-20s  %s\n",
			meta.ID,
			meta.Timestamp.Local().Format("2006-01-02 15:04:05"),
			formatCrawlSummary(meta),
		)
		if !verbose || meta.Failures == 0 {
			continue
		}
		failures, err := db.GetFailures(ctx, meta.ID)
		if err != nil {
			return fmt.Errorf("failed to get failures of crawl %d: %w", meta.ID, err)
		}
		for _, f := range failures {
			fmt.Fprintf(out, "          [%s] %s\n", f.Kind, f.URL)
		}
	}

	fmt.Fprintln(out, "\nUse 'mandala compare <mantela-url>' to compare the latest two crawls.")
	fmt.Fprintln(out, "Use 'mandala compare --with-crawl-id <id> <mantela-url>' to compare with a specific crawl.")

	return nil
}

// formatCrawlSummary renders the counters of one stored crawl.
func formatCrawlSummary(meta database.CrawlMetadata) string {
	parts := []string{
		fmt.Sprintf("M:%d", meta.Statistics.Documents),
		fmt.Sprintf("P:%d", meta.Statistics.PBXs),
		fmt.Sprintf("T:%d", meta.Statistics.Extensions),
	}
	if meta.Failures > 0 {
		parts = append(parts, fmt.Sprintf("F:%d", meta.Failures))
	}
	if meta.Truncated {
		parts = append(parts, "truncated")
	}
	return strings.Join(parts, " ")
}

// runComparison loads the two crawls selected by opts and prints their
// difference.
func runComparison(ctx context.Context, db *database.CrawlDB, opts *compareOptions, out io.Writer) error {
	previous, current, err := selectCrawls(ctx, db, opts)
	if err != nil {
		return err
	}

	result := compareCrawls(previous, current)

	switch {
	case opts.json:
		return outputComparisonJSON(result, out)
	case opts.markdown:
		return outputComparisonMarkdown(result, out)
	default:
		return outputComparisonText(result, out)
	}
}

// selectCrawls returns the older and the newer crawl to compare.
// The newer one is always the latest crawl of the seed.
func selectCrawls(ctx context.Context, db *database.CrawlDB, opts *compareOptions) (*model.CrawlReport, *model.CrawlReport, error) {
	switch {
	case opts.withCrawlID > 0:
		latest, err := db.GetLatestCrawls(ctx, opts.seed, 1)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get crawl history: %w", err)
		}
		if len(latest) == 0 {
			return nil, nil, fmt.Errorf("no crawl history found for %s", opts.seed)
		}
		previous, err := db.GetCrawlByID(ctx, opts.withCrawlID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get crawl with ID %d: %w", opts.withCrawlID, err)
		}
		if previous == nil {
			return nil, nil, fmt.Errorf("crawl with ID %d not found", opts.withCrawlID)
		}
		if previous.SeedURL != opts.seed {
			return nil, nil, fmt.Errorf("crawl ID %d belongs to %s, not %s", opts.withCrawlID, previous.SeedURL, opts.seed)
		}
		return previous, latest[0], nil

	case opts.since != "":
		sinceDate, err := time.ParseInLocation("2006-01-02", opts.since, time.Local)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid date format (use YYYY-MM-DD): %w", err)
		}
		history, err := db.GetCrawlHistory(ctx, opts.seed)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get crawl history: %w", err)
		}
		if len(history) == 0 {
			return nil, nil, fmt.Errorf("no crawl history found for %s", opts.seed)
		}
		// History is newest first; walk it backwards for the oldest match.
		idx := -1
		for i := len(history) - 1; i >= 0; i-- {
			if !history[i].Timestamp.Before(sinceDate) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, nil, fmt.Errorf("no crawls found since %s", opts.since)
		}
		if idx == 0 {
			return nil, nil, fmt.Errorf("only one crawl found since %s; at least 2 crawls are required for comparison", opts.since)
		}
		return loadPair(ctx, db, history[idx].ID, history[0].ID)

	default:
		latest, err := db.GetLatestCrawls(ctx, opts.seed, 2)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get crawl history: %w", err)
		}
		if len(latest) == 0 {
			return nil, nil, fmt.Errorf("no crawl history found for %s", opts.seed)
		}
		if len(latest) < 2 {
			return nil, nil, fmt.Errorf("at least 2 crawls are required for comparison (found %d)", len(latest))
		}
		return latest[1], latest[0], nil
	}
}

func loadPair(ctx context.Context, db *database.CrawlDB, previousID, currentID int64) (*model.CrawlReport, *model.CrawlReport, error) {
	previous, err := db.GetCrawlByID(ctx, previousID)
	if err != nil || previous == nil {
		return nil, nil, fmt.Errorf("failed to load crawl %d: %w", previousID, errors.Join(err, errMissingCrawl))
	}
	current, err := db.GetCrawlByID(ctx, currentID)
	if err != nil || current == nil {
		return nil, nil, fmt.Errorf("failed to load crawl %d: %w", currentID, errors.Join(err, errMissingCrawl))
	}
	return previous, current, nil
}

var errMissingCrawl = errors.New("crawl is missing or unreadable")

// ComparisonResult holds the difference between two crawls of one seed.
type ComparisonResult struct {
	// SeedURL is the compared seed.
	SeedURL string `json:"seed_url"`

	// PreviousCrawl describes the older crawl.
	PreviousCrawl CrawlInfo `json:"previous_crawl"`

	// CurrentCrawl describes the newer crawl.
	CurrentCrawl CrawlInfo `json:"current_crawl"`

	// Graph is the node and edge difference.
	Graph *model.GraphDiff `json:"graph"`

	// NewFailures are descriptor URLs that fail now but did not before.
	NewFailures []string `json:"new_failures,omitempty"`

	// ResolvedFailures are descriptor URLs that failed before but not now.
	ResolvedFailures []string `json:"resolved_failures,omitempty"`
}

// CrawlInfo summarises one side of a comparison.
type CrawlInfo struct {
	DateCrawled time.Time        `json:"date_crawled"`
	Statistics  model.Statistics `json:"statistics"`
	Nodes       int              `json:"nodes"`
	Edges       int              `json:"edges"`
	Failures    int              `json:"failures"`
	Truncated   bool             `json:"truncated"`
}

func newCrawlInfo(r *model.CrawlReport) CrawlInfo {
	return CrawlInfo{
		DateCrawled: r.DateCrawled,
		Statistics:  r.Statistics,
		Nodes:       len(r.Graph.Nodes),
		Edges:       len(r.Graph.Edges),
		Failures:    len(r.Failures) + len(r.Discarded),
		Truncated:   r.Truncated,
	}
}

// compareCrawls builds the comparison of previous with current.
func compareCrawls(previous, current *model.CrawlReport) *ComparisonResult {
	result := &ComparisonResult{
		SeedURL:       current.SeedURL,
		PreviousCrawl: newCrawlInfo(previous),
		CurrentCrawl:  newCrawlInfo(current),
		Graph:         model.DiffGraphs(previous.Graph, current.Graph),
	}

	before := failedURLs(previous)
	after := failedURLs(current)
	for _, u := range after.order {
		if _, ok := before.set[u]; !ok {
			result.NewFailures = append(result.NewFailures, u)
		}
	}
	for _, u := range before.order {
		if _, ok := after.set[u]; !ok {
			result.ResolvedFailures = append(result.ResolvedFailures, u)
		}
	}

	return result
}

type urlSet struct {
	order []string
	set   map[string]struct{}
}

func failedURLs(r *model.CrawlReport) urlSet {
	s := urlSet{set: make(map[string]struct{})}
	for _, list := range [][]model.FetchFailure{r.Failures, r.Discarded} {
		for _, f := range list {
			if _, ok := s.set[f.URL]; ok {
				continue
			}
			s.set[f.URL] = struct{}{}
			s.order = append(s.order, f.URL)
		}
	}
	return s
}

// HasChanges reports whether anything differs between the two crawls.
func (r *ComparisonResult) HasChanges() bool {
	return !r.Graph.IsEmpty() || len(r.NewFailures) > 0 || len(r.ResolvedFailures) > 0
}

// formatDelta renders a signed change, or "-" for no change.
func formatDelta(delta int) string {
	switch {
	case delta > 0:
		return "+" + strconv.Itoa(delta)
	case delta < 0:
		return strconv.Itoa(delta)
	default:
		return "-"
	}
}

func outputComparisonJSON(result *ComparisonResult, out io.Writer) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func outputComparisonText(result *ComparisonResult, out io.Writer) error {
	var sb strings.Builder
	prev, cur := result.PreviousCrawl, result.CurrentCrawl

	fmt.Fprintf(&sb, "Crawl Comparison: %s\n", result.SeedURL)
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	fmt.Fprintf(&sb, "Previous: %s\n", prev.DateCrawled.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&sb, "Current:  %s\n\n", cur.DateCrawled.Local().Format("2006-01-02 15:04:05"))

	fmt.Fprintf(&sb, "  %-12s %8s %8s %8s\n", "", "Previous", "Current", "Change")
	for _, row := range countRows(prev, cur) {
		fmt.Fprintf(&sb, "  %-12s %8d %8d %8s\n", row.label, row.previous, row.current, formatDelta(row.current-row.previous))
	}
	sb.WriteString("\n")

	if !result.HasChanges() {
		sb.WriteString("No changes in the federation graph.\n")
		_, err := io.WriteString(out, sb.String())
		return err
	}

	d := result.Graph
	writeTextSection(&sb, "New nodes", len(d.AddedNodes), func(i int) string {
		n := d.AddedNodes[i]
		return fmt.Sprintf("[+] %s (%s) %s", n.ID, n.Type, strings.Join(n.Names.Slice(), ", "))
	})
	writeTextSection(&sb, "Removed nodes", len(d.RemovedNodes), func(i int) string {
		n := d.RemovedNodes[i]
		return fmt.Sprintf("[-] %s (%s) %s", n.ID, n.Type, strings.Join(n.Names.Slice(), ", "))
	})
	writeTextSection(&sb, "Availability changes", len(d.AvailabilityChanges), func(i int) string {
		c := d.AvailabilityChanges[i]
		return fmt.Sprintf("[~] %s is now %s", c.ID, availabilityWord(c.Unavailable))
	})
	writeTextSection(&sb, "New edges", len(d.AddedEdges), func(i int) string {
		return "[+] " + formatEdge(d.AddedEdges[i])
	})
	writeTextSection(&sb, "Removed edges", len(d.RemovedEdges), func(i int) string {
		return "[-] " + formatEdge(d.RemovedEdges[i])
	})
	writeTextSection(&sb, "New failures", len(result.NewFailures), func(i int) string {
		return "[!] " + result.NewFailures[i]
	})
	writeTextSection(&sb, "Resolved failures", len(result.ResolvedFailures), func(i int) string {
		return "[✓] " + result.ResolvedFailures[i]
	})

	_, err := io.WriteString(out, sb.String())
	return err
}

func writeTextSection(sb *strings.Builder, title string, n int, line func(i int) string) {
	if n == 0 {
		return
	}
	fmt.Fprintf(sb, "%s (%d):\n", title, n)
	for i := range n {
		sb.WriteString("  ")
		sb.WriteString(line(i))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}

type countRow struct {
	label             string
	previous, current int
}

func countRows(prev, cur CrawlInfo) []countRow {
	return []countRow{
		{"Mantelas", prev.Statistics.Documents, cur.Statistics.Documents},
		{"PBXs", prev.Statistics.PBXs, cur.Statistics.PBXs},
		{"Terminals", prev.Statistics.Extensions, cur.Statistics.Extensions},
		{"Edges", prev.Edges, cur.Edges},
		{"Failures", prev.Failures, cur.Failures},
	}
}

func formatEdge(e model.Edge) string {
	s := fmt.Sprintf("%s -> %s [%s]", e.From, e.To, e.Kind)
	if e.Label != "" {
		s += " " + e.Label
	}
	return s
}

func availabilityWord(unavailable bool) string {
	if unavailable {
		return "unavailable"
	}
	return "available"
}

func outputComparisonMarkdown(result *ComparisonResult, out io.Writer) error {
	md := markdown.NewMarkdown(out)
	prev, cur := result.PreviousCrawl, result.CurrentCrawl

	md.H1("Crawl Comparison")
	md.PlainText("")
	md.PlainTextf("Seed: `%s`", result.SeedURL)
	md.PlainText("")

	rows := [][]string{
		{"Date", prev.DateCrawled.Local().Format("2006-01-02 15:04"), cur.DateCrawled.Local().Format("2006-01-02 15:04"), "-"},
	}
	for _, row := range countRows(prev, cur) {
		rows = append(rows, []string{
			row.label,
			strconv.Itoa(row.previous),
			strconv.Itoa(row.current),
			formatDelta(row.current - row.previous),
		})
	}
	md.H2("Summary")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Previous", "Current", "Change"},
		Rows:   rows,
	})
	md.PlainText("")

	if !result.HasChanges() {
		md.Note("No changes in the federation graph.")
		return md.Build()
	}

	d := result.Graph
	if len(d.AddedNodes) > 0 || len(d.RemovedNodes) > 0 {
		md.H2("Nodes")
		md.PlainText("")
		var nodeRows [][]string
		for _, n := range d.AddedNodes {
			nodeRows = append(nodeRows, []string{"added", "`" + n.ID + "`", n.Type, strings.Join(n.Names.Slice(), ", ")})
		}
		for _, n := range d.RemovedNodes {
			nodeRows = append(nodeRows, []string{"removed", "`" + n.ID + "`", n.Type, strings.Join(n.Names.Slice(), ", ")})
		}
		md.Table(markdown.TableSet{
			Header: []string{"Change", "ID", "Type", "Names"},
			Rows:   nodeRows,
		})
		md.PlainText("")
	}

	if len(d.AvailabilityChanges) > 0 {
		md.H2("Availability")
		md.PlainText("")
		items := make([]string, len(d.AvailabilityChanges))
		for i, c := range d.AvailabilityChanges {
			items[i] = "`" + c.ID + "` is now " + availabilityWord(c.Unavailable)
		}
		md.BulletList(items...)
		md.PlainText("")
	}

	if len(d.AddedEdges) > 0 || len(d.RemovedEdges) > 0 {
		md.H2("Edges")
		md.PlainText("")
		var edgeRows [][]string
		for _, e := range d.AddedEdges {
			edgeRows = append(edgeRows, []string{"added", "`" + e.From + "`", "`" + e.To + "`", string(e.Kind), e.Label})
		}
		for _, e := range d.RemovedEdges {
			edgeRows = append(edgeRows, []string{"removed", "`" + e.From + "`", "`" + e.To + "`", string(e.Kind), e.Label})
		}
		md.Table(markdown.TableSet{
			Header: []string{"Change", "From", "To", "Kind", "Label"},
			Rows:   edgeRows,
		})
		md.PlainText("")
	}

	if len(result.NewFailures) > 0 {
		md.H2("New Failures")
		md.PlainText("")
		md.BulletList(quoteAll(result.NewFailures)...)
		md.PlainText("")
	}
	if len(result.ResolvedFailures) > 0 {
		md.H2("Resolved Failures")
		md.PlainText("")
		md.BulletList(quoteAll(result.ResolvedFailures)...)
		md.PlainText("")
	}

	return md.Build()
}

func quoteAll(items []string) []string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = "`" + s + "`"
	}
	return quoted
}
