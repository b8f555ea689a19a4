// Package report writes crawl results.
//
// Writers exist for three formats:
//   - SimpleWriter: plain text statistics for the terminal
//   - MarkdownWriter: a shareable document with a node type pie chart
//   - JSONWriter and FullJSONWriter: the graph as nodes and edges for
//     visualisers and other tools
//
// All writers implement Writer and can be combined with MultiWriter.
package report
