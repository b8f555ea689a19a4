package model

import (
	"cmp"
	"slices"
	"time"
)

// TypeCount is the number of nodes of one type.
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// CrawlSummary is a condensed, human-oriented view of a CrawlReport.
// It is what the text and Markdown writers print and what the JSON writer
// adds next to the full graph.
type CrawlSummary struct {
	// SeedURL is the descriptor the crawl started from.
	SeedURL string `json:"seed_url"`

	// DateCrawled is when the crawl started.
	DateCrawled time.Time `json:"date_crawled"`

	// Elapsed is the wall-clock duration of the crawl.
	Elapsed time.Duration `json:"elapsed"`

	// Mantelas is the number of descriptors merged.
	Mantelas int `json:"mantelas"`

	// PBXs is the number of exchange nodes.
	PBXs int `json:"pbxs"`

	// Terminals is the number of extension nodes.
	Terminals int `json:"terminals"`

	// Edges is the number of edges in the graph.
	Edges int `json:"edges"`

	// NodeTypes breaks nodes down by type, largest first.
	NodeTypes []TypeCount `json:"node_types,omitempty"`

	// Unavailable lists ids of nodes marked unavailable.
	Unavailable []string `json:"unavailable,omitempty"`

	// Failures and Discarded are copied from the report.
	Failures  []FetchFailure `json:"failures,omitempty"`
	Discarded []FetchFailure `json:"discarded,omitempty"`

	Truncated       bool   `json:"truncated"`
	TruncatedReason string `json:"truncated_reason,omitempty"`
	Error           string `json:"error,omitempty"`
}

// NewCrawlSummary builds the summary of report.
func NewCrawlSummary(report *CrawlReport) *CrawlSummary {
	s := &CrawlSummary{
		SeedURL:         report.SeedURL,
		DateCrawled:     report.DateCrawled,
		Elapsed:         report.Elapsed,
		Mantelas:        report.Statistics.Documents,
		PBXs:            report.Statistics.PBXs,
		Terminals:       report.Statistics.Extensions,
		Edges:           len(report.Graph.Edges),
		Unavailable:     report.UnavailableNodes(),
		Failures:        report.Failures,
		Discarded:       report.Discarded,
		Truncated:       report.Truncated,
		TruncatedReason: report.TruncatedReason,
		Error:           report.Error,
	}

	for typ, n := range report.Graph.CountByType() {
		s.NodeTypes = append(s.NodeTypes, TypeCount{Type: typ, Count: n})
	}
	slices.SortFunc(s.NodeTypes, func(a, b TypeCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Type, b.Type)
	})

	return s
}

// Nodes returns the total number of nodes.
func (s *CrawlSummary) Nodes() int {
	total := 0
	for _, tc := range s.NodeTypes {
		total += tc.Count
	}
	return total
}

// HasProblems reports whether the crawl is incomplete in any way.
func (s *CrawlSummary) HasProblems() bool {
	return s.Error != "" || s.Truncated || len(s.Failures) > 0 || len(s.Discarded) > 0
}
