package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tkytel/mandala/internal/config"
	"github.com/tkytel/mandala/internal/fetch"
	"github.com/tkytel/mandala/internal/model"
)

// ErrNoSeed is returned by Crawl when the seed URL is empty.
var ErrNoSeed = errors.New("no seed URL given")

// Unbounded disables the hop limit.
const Unbounded = config.Unbounded

// Reasons recorded in Result.TruncatedReason.
const (
	TruncatedByDocuments = "document budget exhausted"
	TruncatedByDuration  = "time budget exhausted"
)

// Crawler discovers a federation starting from one descriptor URL.
// A Crawler holds no per-crawl state and may run several crawls at once.
type Crawler struct {
	fetcher fetch.Fetcher

	// maxDepth is the hop limit; negative means unbounded.
	maxDepth int

	// concurrency is the number of same-depth entries fetched at once.
	concurrency int

	// maxDocuments caps the number of frontier entries dispatched to the
	// fetcher. Retries of one entry count once.
	maxDocuments int

	// maxDuration caps the wall-clock time of a crawl.
	maxDuration time.Duration

	retries      int
	retryBackoff time.Duration

	ids      IDGenerator
	progress Progress
	observer Observer
	logger   *slog.Logger
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithMaxDepth sets the hop limit. 0 merges only the seed document without
// its providers; a negative value removes the limit.
func WithMaxDepth(depth int) Option {
	return func(c *Crawler) {
		c.maxDepth = depth
	}
}

// WithConcurrency sets how many entries of the same depth are fetched at
// once. Values below 1 are ignored.
func WithConcurrency(n int) Option {
	return func(c *Crawler) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithMaxDocuments sets the document budget. Values below 1 are ignored.
func WithMaxDocuments(n int) Option {
	return func(c *Crawler) {
		if n > 0 {
			c.maxDocuments = n
		}
	}
}

// WithMaxDuration sets the time budget. Non-positive values are ignored.
func WithMaxDuration(d time.Duration) Option {
	return func(c *Crawler) {
		if d > 0 {
			c.maxDuration = d
		}
	}
}

// WithRetries enables up to n extra attempts for temporary fetch failures,
// waiting backoff before the first retry and doubling it afterwards.
func WithRetries(n int, backoff time.Duration) Option {
	return func(c *Crawler) {
		if n >= 0 {
			c.retries = n
		}
		if backoff >= 0 {
			c.retryBackoff = backoff
		}
	}
}

// WithIDGenerator sets the generator used for extensions without an
// identifier.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *Crawler) {
		if g != nil {
			c.ids = g
		}
	}
}

// WithProgress sets the progress sink.
func WithProgress(p Progress) Option {
	return func(c *Crawler) {
		if p != nil {
			c.progress = p
		}
	}
}

// WithObserver sets the event observer.
func WithObserver(o Observer) Option {
	return func(c *Crawler) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Crawler) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Crawler that retrieves descriptors with fetcher.
func New(fetcher fetch.Fetcher, opts ...Option) *Crawler {
	c := &Crawler{
		fetcher:      fetcher,
		maxDepth:     config.DefaultMaxDepth,
		concurrency:  config.DefaultConcurrency,
		maxDocuments: config.DefaultMaxDocuments,
		maxDuration:  config.DefaultMaxDuration,
		retries:      config.DefaultRetries,
		retryBackoff: config.DefaultRetryBackoff,
		ids:          UUIDGenerator{},
		progress:     nopProgress{},
		observer:     nopObserver{},
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// MaxDepth returns the configured hop limit; negative means unbounded.
func (c *Crawler) MaxDepth() int {
	return c.maxDepth
}

// Result is the outcome of one crawl.
type Result struct {
	// Graph is the merged federation graph. The caller owns it once Crawl
	// has returned.
	Graph *model.Graph

	// Statistics are the final counters.
	Statistics model.Statistics

	// Failures lists entries whose descriptor could not be fetched.
	Failures []model.FetchFailure

	// Discarded lists entries whose descriptor had no usable self record.
	Discarded []model.FetchFailure

	// Truncated is true when a budget stopped the crawl early.
	Truncated bool

	// TruncatedReason is one of the TruncatedBy constants.
	TruncatedReason string

	// Elapsed is the wall-clock duration of the crawl.
	Elapsed time.Duration
}

// crawlState is everything that belongs to a single traversal.
type crawlState struct {
	frontier *Frontier
	visited  *VisitedRegistry
	builder  *GraphBuilder
	stats    *StatisticsCollector
	result   *Result

	// dispatched counts entries handed to the fetcher.
	dispatched int
}

type fetchResult struct {
	descriptor *model.Descriptor
	err        error
}

// Crawl traverses the federation breadth-first from seedURL.
//
// Individual fetch or merge failures never fail the crawl; they are
// recorded in the result. When a budget is exhausted the partial graph is
// returned with Truncated set and a nil error. When ctx is cancelled the
// partial graph is returned together with ctx.Err().
func (c *Crawler) Crawl(ctx context.Context, seedURL string) (*Result, error) {
	seedURL = strings.TrimSpace(seedURL)
	if seedURL == "" {
		return nil, ErrNoSeed
	}

	start := time.Now()
	stats := NewStatisticsCollector()
	graph := model.NewGraph()
	s := &crawlState{
		frontier: NewFrontier(),
		visited:  NewVisitedRegistry(),
		builder:  NewGraphBuilder(graph, c.ids, stats, c.logger),
		stats:    stats,
		result:   &Result{Graph: graph},
	}
	s.frontier.Push(Entry{URL: seedURL, Depth: 0})

	budgetCtx, cancel := context.WithTimeout(ctx, c.maxDuration)
	defer cancel()

	c.logger.Info("starting crawl",
		"seed", seedURL,
		"max_depth", c.maxDepth,
		"concurrency", c.concurrency,
	)

	for s.frontier.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return c.finish(s, start), err
		}
		if budgetCtx.Err() != nil {
			c.truncate(s, TruncatedByDuration)
			break
		}
		if !c.dropStale(s) {
			break
		}
		if s.dispatched >= c.maxDocuments {
			c.truncate(s, TruncatedByDocuments)
			break
		}

		batch := c.nextBatch(s)
		if len(batch) == 0 {
			continue
		}
		s.dispatched += len(batch)

		results := c.fetchBatch(budgetCtx, batch)
		if err := ctx.Err(); err != nil {
			return c.finish(s, start), err
		}

		for i, entry := range batch {
			c.process(budgetCtx, s, entry, results[i])
		}
	}

	result := c.finish(s, start)
	c.progress.Report(fmt.Sprintf("Fetched %d Mantelas (%d ms)",
		result.Statistics.Documents, result.Elapsed.Milliseconds()))
	c.logger.Info("crawl finished",
		"seed", seedURL,
		"documents", result.Statistics.Documents,
		"pbxs", result.Statistics.PBXs,
		"extensions", result.Statistics.Extensions,
		"failures", len(result.Failures),
		"truncated", result.Truncated,
		"elapsed", result.Elapsed,
	)
	return result, nil
}

// dropStale pops head entries that would never be fetched: URLs already
// visited and entries beyond the hop limit. It reports whether a
// dispatchable entry is left.
func (c *Crawler) dropStale(s *crawlState) bool {
	for {
		entry, ok := s.frontier.Peek()
		if !ok {
			return false
		}
		switch {
		case c.maxDepth >= 0 && entry.Depth > c.maxDepth:
			c.logger.Debug("skipping entry beyond hop limit", "url", entry.URL, "depth", entry.Depth)
		case s.visited.HasURL(entry.URL):
			c.logger.Debug("skipping visited url", "url", entry.URL)
		default:
			return true
		}
		s.frontier.Pop()
	}
}

// nextBatch pops up to concurrency entries that share the depth of the
// head entry, skipping URLs already visited and entries beyond the hop
// limit. The batch never exceeds the remaining document budget.
func (c *Crawler) nextBatch(s *crawlState) []Entry {
	limit := min(c.concurrency, c.maxDocuments-s.dispatched)
	depth, ok := s.frontier.PeekDepth()
	if !ok {
		return nil
	}

	batch := make([]Entry, 0, limit)
	for len(batch) < limit {
		d, ok := s.frontier.PeekDepth()
		if !ok || d != depth {
			break
		}
		entry, _ := s.frontier.Pop()

		if c.maxDepth >= 0 && entry.Depth > c.maxDepth {
			c.logger.Debug("skipping entry beyond hop limit", "url", entry.URL, "depth", entry.Depth)
			continue
		}
		if !s.visited.MarkURL(entry.URL) {
			c.logger.Debug("skipping visited url", "url", entry.URL)
			continue
		}

		c.progress.Report("Fetching " + entry.URL)
		batch = append(batch, entry)
	}
	return batch
}

// fetchBatch fetches every entry of batch, at most concurrency at a time.
// results[i] belongs to batch[i].
func (c *Crawler) fetchBatch(ctx context.Context, batch []Entry) []fetchResult {
	results := make([]fetchResult, len(batch))

	if len(batch) == 1 {
		d, err := c.fetchWithRetry(ctx, batch[0].URL)
		results[0] = fetchResult{descriptor: d, err: err}
		return results
	}

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, entry := range batch {
		g.Go(func() error {
			d, err := c.fetchWithRetry(ctx, entry.URL)
			results[i] = fetchResult{descriptor: d, err: err}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never return errors

	return results
}

// fetchWithRetry fetches rawURL, retrying temporary failures with
// exponential backoff.
func (c *Crawler) fetchWithRetry(ctx context.Context, rawURL string) (*model.Descriptor, error) {
	backoff := c.retryBackoff
	for attempt := 0; ; attempt++ {
		begin := time.Now()
		d, err := c.fetcher.Fetch(ctx, rawURL)
		c.observer.ObserveFetch(rawURL, time.Since(begin), err)

		if err == nil || attempt >= c.retries || !fetch.IsTemporary(err) {
			return d, err
		}

		c.logger.Debug("retrying fetch",
			"url", rawURL,
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err,
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, err
		case <-timer.C:
		}
		backoff *= 2
	}
}

// process merges one fetched entry into the graph.
func (c *Crawler) process(budgetCtx context.Context, s *crawlState, entry Entry, r fetchResult) {
	if r.err != nil {
		if budgetCtx.Err() != nil {
			// The fetch was cut short by the time budget, not by the server.
			c.truncate(s, TruncatedByDuration)
			return
		}
		c.progress.Report(fmt.Sprintf("Failed to fetch %s: %v", entry.URL, r.err))
		c.logger.Warn("failed to fetch descriptor",
			"url", entry.URL,
			"depth", entry.Depth,
			"error", r.err,
		)
		s.result.Failures = append(s.result.Failures, model.FetchFailure{
			URL:    entry.URL,
			Depth:  entry.Depth,
			Reason: r.err.Error(),
		})
		return
	}

	if err := r.descriptor.Validate(); err != nil {
		c.progress.Report(fmt.Sprintf("Discarded %s: %v", entry.URL, err))
		c.logger.Warn("discarding descriptor", "url", entry.URL, "error", err)
		s.result.Discarded = append(s.result.Discarded, model.FetchFailure{
			URL:    entry.URL,
			Depth:  entry.Depth,
			Reason: err.Error(),
		})
		c.observer.ObserveMerge(OutcomeDiscarded)
		return
	}

	id := r.descriptor.AboutMe.Identifier
	if !s.visited.MarkNode(id) {
		// Already merged through another URL; providers are not re-traversed.
		if err := s.builder.MergeRevisit(r.descriptor, entry.Depth, c.maxDepth); err != nil {
			c.logger.Warn("failed to merge revisited descriptor", "url", entry.URL, "error", err)
			return
		}
		c.logger.Debug("merged names of revisited node", "url", entry.URL, "id", id)
		c.observer.ObserveMerge(OutcomeRevisited)
		return
	}

	next, err := s.builder.Merge(r.descriptor, entry.Depth, c.maxDepth)
	if err != nil {
		c.logger.Warn("failed to merge descriptor", "url", entry.URL, "error", err)
		return
	}
	s.stats.AddDocument()
	c.observer.ObserveMerge(OutcomeMerged)

	for _, n := range next {
		n.URL = resolveURL(entry.URL, n.URL)
		s.frontier.Push(n)
	}
}

func (c *Crawler) truncate(s *crawlState, reason string) {
	if s.result.Truncated {
		return
	}
	s.result.Truncated = true
	s.result.TruncatedReason = reason
	c.logger.Warn("crawl truncated",
		"reason", reason,
		"pending", s.frontier.Len(),
	)
}

func (c *Crawler) finish(s *crawlState, start time.Time) *Result {
	s.result.Statistics = s.stats.Snapshot()
	s.result.Elapsed = time.Since(start)
	return s.result
}

// resolveURL resolves a provider's descriptor reference against the URL of
// the document it appeared in. Absolute references are returned unchanged.
func resolveURL(base, ref string) string {
	r, err := url.Parse(ref)
	if err != nil || r.IsAbs() {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
