package crawler

import (
	"sync/atomic"

	"github.com/tkytel/mandala/internal/model"
)

// StatisticsCollector counts merged documents and created nodes.
// Counters never decrease. It is safe to read a snapshot while a crawl runs.
type StatisticsCollector struct {
	documents  atomic.Int64
	pbxs       atomic.Int64
	extensions atomic.Int64
}

// NewStatisticsCollector returns a collector with all counters at zero.
func NewStatisticsCollector() *StatisticsCollector {
	return &StatisticsCollector{}
}

// AddDocument counts a descriptor merged for the first time.
func (s *StatisticsCollector) AddDocument() {
	s.documents.Add(1)
}

// AddPBX counts a newly created PBX node.
func (s *StatisticsCollector) AddPBX() {
	s.pbxs.Add(1)
}

// AddExtension counts a newly created extension node.
func (s *StatisticsCollector) AddExtension() {
	s.extensions.Add(1)
}

// Snapshot returns the current counter values.
func (s *StatisticsCollector) Snapshot() model.Statistics {
	return model.Statistics{
		Documents:  int(s.documents.Load()),
		PBXs:       int(s.pbxs.Load()),
		Extensions: int(s.extensions.Load()),
	}
}
