// Package model defines the data structures shared across mandala.
//
// This package contains the following main types:
//   - Descriptor: a parsed mantela.json document (aboutMe, extensions, providers)
//   - Node, Edge, Graph: the deduplicated federation graph built by the crawler
//   - NameSet: the insertion-ordered set of display names a node is known by
//   - CrawlReport: the result of one crawl, as stored and reported
//   - CrawlSummary: the counters and problem lists the report writers show
//   - GraphDiff: what changed between two crawls of the same seed
//
// Models live in their own package so that the crawler, report writers and
// the database can share them without import cycles. Every type here is
// serialisable to JSON.
package model
