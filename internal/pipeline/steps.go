package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tkytel/mandala/internal/crawler"
	"github.com/tkytel/mandala/internal/model"
)

// Step names.
const (
	StepCrawl   = "crawl"
	StepMetrics = "metrics"
	StepSave    = "save"
)

// CrawlStep traverses the federation reachable from the report's seed URL
// and fills the report with the merged graph.
type CrawlStep struct {
	crawler *crawler.Crawler
	logger  *slog.Logger
}

// CrawlStepOption configures a CrawlStep.
type CrawlStepOption func(*CrawlStep)

// WithCrawlLogger sets a custom logger for the crawl step.
func WithCrawlLogger(logger *slog.Logger) CrawlStepOption {
	return func(s *CrawlStep) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewCrawlStep creates a crawl step running c.
// A Crawler keeps no per-crawl state, so one c may serve a whole batch.
func NewCrawlStep(c *crawler.Crawler, opts ...CrawlStepOption) *CrawlStep {
	s := &CrawlStep{
		crawler: c,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name returns the step name.
func (s *CrawlStep) Name() string {
	return StepCrawl
}

// Do executes the crawl. A cancelled crawl still fills the report with
// the partial graph before the error is returned.
func (s *CrawlStep) Do(ctx context.Context, report *model.CrawlReport) error {
	report.MaxDepth = s.crawler.MaxDepth()

	result, err := s.crawler.Crawl(ctx, report.SeedURL)
	if result != nil {
		fillReport(report, result)
	}
	if err != nil {
		return fmt.Errorf("crawl %s: %w", report.SeedURL, err)
	}

	if report.Truncated {
		s.logger.Warn("crawl truncated",
			"seed", report.SeedURL,
			"reason", report.TruncatedReason,
		)
	}
	return nil
}

func fillReport(report *model.CrawlReport, result *crawler.Result) {
	report.Elapsed = result.Elapsed
	report.Statistics = result.Statistics
	report.Graph = result.Graph.Snapshot()
	report.Failures = result.Failures
	report.Discarded = result.Discarded
	report.Truncated = result.Truncated
	report.TruncatedReason = result.TruncatedReason
}

// ReportRecorder receives finished reports, for example a metrics registry.
type ReportRecorder interface {
	RecordReport(report *model.CrawlReport)
}

// MetricsStep hands the report to a ReportRecorder.
type MetricsStep struct {
	recorder ReportRecorder
}

// NewMetricsStep creates a metrics step.
func NewMetricsStep(recorder ReportRecorder) *MetricsStep {
	return &MetricsStep{recorder: recorder}
}

// Name returns the step name.
func (s *MetricsStep) Name() string {
	return StepMetrics
}

// Do records the report.
func (s *MetricsStep) Do(_ context.Context, report *model.CrawlReport) error {
	s.recorder.RecordReport(report)
	return nil
}

// CrawlSaver persists reports, for example the crawl database.
type CrawlSaver interface {
	SaveCrawl(ctx context.Context, report *model.CrawlReport) (int64, error)
}

// SaveStep persists the report so later crawls can be compared with it.
type SaveStep struct {
	saver  CrawlSaver
	logger *slog.Logger
}

// SaveStepOption configures a SaveStep.
type SaveStepOption func(*SaveStep)

// WithSaveLogger sets a custom logger for the save step.
func WithSaveLogger(logger *slog.Logger) SaveStepOption {
	return func(s *SaveStep) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSaveStep creates a save step.
func NewSaveStep(saver CrawlSaver, opts ...SaveStepOption) *SaveStep {
	s := &SaveStep{
		saver:  saver,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name returns the step name.
func (s *SaveStep) Name() string {
	return StepSave
}

// Do saves the report.
func (s *SaveStep) Do(ctx context.Context, report *model.CrawlReport) error {
	id, err := s.saver.SaveCrawl(ctx, report)
	if err != nil {
		return fmt.Errorf("save crawl: %w", err)
	}
	s.logger.Debug("crawl saved", "seed", report.SeedURL, "crawl_id", id)
	return nil
}

// DefaultPipeline builds the standard crawl pipeline: crawl, then record
// metrics, then save. A nil recorder or saver leaves out its step.
func DefaultPipeline(c *crawler.Crawler, recorder ReportRecorder, saver CrawlSaver, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger != nil {
		opts = append([]Option{WithLogger(logger)}, opts...)
	}
	p := New(opts...)

	p.AddStep(NewCrawlStep(c, WithCrawlLogger(logger)))
	if recorder != nil {
		p.AddStep(NewMetricsStep(recorder))
	}
	if saver != nil {
		p.AddStep(NewSaveStep(saver, WithSaveLogger(logger)))
	}

	return p
}
