// Package crawler discovers a Mantela federation and folds it into one graph.
//
// # Architecture
//
// The package is built around the Crawler type, which drains a breadth-first
// Frontier of descriptor URLs. Every entry is checked against the
// VisitedRegistry, fetched through a fetch.Fetcher and handed to the
// GraphBuilder, which merges the descriptor into the shared model.Graph and
// returns the provider URLs to visit next.
//
// # Components
//
//   - Crawler: orchestrates one traversal and owns the graph while it runs
//   - Frontier: FIFO queue of (url, depth) entries
//   - VisitedRegistry: permanent sets of fetched URLs and merged node ids
//   - GraphBuilder: merge rules for self records, extensions and providers
//   - StatisticsCollector: counters for documents, PBXs and extensions
//   - IDGenerator: tokens for extensions that carry no identifier
//
// # Ordering
//
// With the default concurrency of 1 entries are visited strictly in
// frontier order. With a higher concurrency, entries of the same depth are
// fetched in parallel but always merged one at a time in frontier order,
// so the resulting graph does not depend on network timing.
//
// # Budgets
//
// A crawl never aborts because of a single bad document. It stops when the
// frontier is empty, when the document or time budget is exhausted, or when
// the caller cancels the context. In every case the graph merged so far is
// returned.
//
// # Usage
//
//	f, _ := fetch.NewHTTPFetcher()
//	c := crawler.New(f, crawler.WithMaxDepth(3))
//	result, err := c.Crawl(ctx, "https://example.org/mantela.json")
package crawler
