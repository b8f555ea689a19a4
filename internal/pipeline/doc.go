// Package pipeline runs the processing of a seed URL as a sequence of steps.
//
// The standard pipeline crawls the federation reachable from the seed,
// records metrics for the resulting graph and saves the report to the crawl
// database. Each step receives the CrawlReport and fills in its part.
//
// BatchProcessor runs one pipeline per seed URL with bounded concurrency
// using errgroup. A failing seed never stops the others.
package pipeline
