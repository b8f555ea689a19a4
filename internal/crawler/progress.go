package crawler

import "time"

// Progress receives human-readable status lines while a crawl runs.
// Report is always called from the goroutine running Crawl.
type Progress interface {
	Report(msg string)
}

// ProgressFunc adapts a function to the Progress interface.
type ProgressFunc func(msg string)

// Report calls f(msg).
func (f ProgressFunc) Report(msg string) {
	f(msg)
}

type nopProgress struct{}

func (nopProgress) Report(string) {}

// Merge outcomes passed to Observer.ObserveMerge.
const (
	OutcomeMerged    = "merged"
	OutcomeRevisited = "revisited"
	OutcomeDiscarded = "discarded"
)

// Observer receives per-document events, typically to export metrics.
// Implementations must be safe for concurrent use; ObserveFetch is called
// from fetch goroutines.
type Observer interface {
	// ObserveFetch is called once per fetch attempt, including retries.
	ObserveFetch(rawURL string, elapsed time.Duration, err error)

	// ObserveMerge is called once per fetched descriptor with one of the
	// Outcome constants.
	ObserveMerge(outcome string)
}

type nopObserver struct{}

func (nopObserver) ObserveFetch(string, time.Duration, error) {}
func (nopObserver) ObserveMerge(string)                       {}
