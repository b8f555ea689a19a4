package model

import "time"

// Statistics counts what a crawl has produced so far.
// All counters only ever increase.
type Statistics struct {
	// Documents is the number of descriptors merged for the first time.
	Documents int `json:"documents"`

	// PBXs is the number of distinct exchange nodes created.
	PBXs int `json:"pbxs"`

	// Extensions is the number of distinct extension nodes created.
	Extensions int `json:"extensions"`
}

// FetchFailure records a frontier entry that was skipped because its
// descriptor could not be fetched or merged.
type FetchFailure struct {
	URL    string `json:"url"`
	Depth  int    `json:"depth"`
	Reason string `json:"reason"`
}

// CrawlReport is the result of crawling one seed URL.
// It is what flows through the pipeline, the report writers and the
// crawl database.
type CrawlReport struct {
	// SeedURL is the descriptor the crawl started from.
	SeedURL string `json:"seed_url"`

	// DateCrawled is when the crawl started.
	DateCrawled time.Time `json:"date_crawled"`

	// Elapsed is the wall-clock duration of the crawl.
	Elapsed time.Duration `json:"elapsed"`

	// MaxDepth is the hop limit used; negative means unbounded.
	MaxDepth int `json:"max_depth"`

	// Statistics are the crawl counters.
	Statistics Statistics `json:"statistics"`

	// Graph is the merged federation graph.
	Graph GraphSnapshot `json:"graph"`

	// Failures lists descriptors that could not be fetched.
	Failures []FetchFailure `json:"failures,omitempty"`

	// Discarded lists descriptors fetched but lacking a self identity.
	Discarded []FetchFailure `json:"discarded,omitempty"`

	// Truncated is true when a crawl budget stopped the crawl early.
	Truncated bool `json:"truncated"`

	// TruncatedReason says which budget was exhausted.
	TruncatedReason string `json:"truncated_reason,omitempty"`

	// Error holds the message of a step that failed, if any.
	Error string `json:"error,omitempty"`

	// PerformedSteps lists the pipeline steps that ran.
	PerformedSteps []string `json:"performed_steps,omitempty"`
}

// NewCrawlReport creates an empty report for seedURL.
func NewCrawlReport(seedURL string) *CrawlReport {
	return &CrawlReport{
		SeedURL:     seedURL,
		DateCrawled: time.Now(),
		Graph: GraphSnapshot{
			Nodes: []Node{},
			Edges: []Edge{},
		},
	}
}

// HasFailures reports whether any descriptor failed or was discarded.
func (r *CrawlReport) HasFailures() bool {
	return len(r.Failures) > 0 || len(r.Discarded) > 0
}

// UnavailableNodes returns the ids of nodes explicitly marked unavailable.
func (r *CrawlReport) UnavailableNodes() []string {
	var ids []string
	for _, n := range r.Graph.Nodes {
		if n.IsUnavailable() {
			ids = append(ids, n.ID)
		}
	}
	return ids
}
