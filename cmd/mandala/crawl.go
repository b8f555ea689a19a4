package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tkytel/mandala/internal/config"
	"github.com/tkytel/mandala/internal/crawler"
	"github.com/tkytel/mandala/internal/database"
	"github.com/tkytel/mandala/internal/fetch"
	mlog "github.com/tkytel/mandala/internal/log"
	"github.com/tkytel/mandala/internal/metrics"
	"github.com/tkytel/mandala/internal/model"
	"github.com/tkytel/mandala/internal/pipeline"
	"github.com/tkytel/mandala/internal/report"
)

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl <mantela-url> [<mantela-url>...]",
		Short: "Crawl a Mantela federation starting from seed descriptors",
		Long: `Crawl fetches each seed mantela.json, follows the provider links it
declares breadth-first, and merges every reachable exchange, extension and
link into one graph.

Descriptors that cannot be fetched are reported and skipped; the crawl
carries on with the rest of the federation.

Examples:
  # Crawl the whole reachable federation
  mandala crawl https://example.org/mantela.json

  # Only follow providers up to two hops away
  mandala crawl -d 2 https://example.org/mantela.json

  # Fetch four descriptors at a time and write JSON for a visualiser
  mandala crawl -P 4 -j -o graph.json https://example.org/mantela.json

  # Crawl several seeds in parallel without saving history
  mandala crawl -b 3 --no-save https://a.example/mantela.json https://b.example/mantela.json

  # Export Prometheus metrics for node_exporter's textfile collector
  mandala crawl --metrics-file /var/lib/node_exporter/mandala.prom https://example.org/mantela.json`,
		RunE: runCrawlCmd,
	}

	// Crawl limits
	cmd.Flags().IntP("hops", "d", config.DefaultMaxDepth,
		"Maximum number of provider hops from the seed (-1 for unbounded)")
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Timeout for a single descriptor request")
	cmd.Flags().Int("max-docs", config.DefaultMaxDocuments,
		"Maximum number of descriptors fetched per crawl")
	cmd.Flags().Duration("max-duration", config.DefaultMaxDuration,
		"Maximum wall-clock time of one crawl")
	cmd.Flags().IntP("concurrency", "P", config.DefaultConcurrency,
		"Number of descriptors fetched at once within a hop level")
	cmd.Flags().Int("retries", config.DefaultRetries,
		"Retries for network errors, timeouts and 5xx responses")

	// Network
	cmd.Flags().String("proxy", "",
		"SOCKS5 proxy address (host:port)")

	// Batch and configuration
	cmd.Flags().IntP("batch", "b", config.DefaultBatchSize,
		"Number of seeds crawled in parallel")
	cmd.Flags().StringP("config", "c", "",
		"Path to configuration file (default: .mandala)")

	// Output
	cmd.Flags().BoolP("json", "j", false,
		"Output the report as JSON")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output the report as Markdown")
	cmd.Flags().StringP("output", "o", "",
		"Write the report to a file instead of stdout")
	cmd.Flags().Bool("no-save", false,
		"Do not save the crawl to the history database")
	cmd.Flags().String("metrics-file", "",
		"Write Prometheus metrics in text format to this file")

	return cmd
}

func runCrawlCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := mlog.NewSecureLogger(cmd.ErrOrStderr(), cfg.Verbose)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal, cancelling...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return runCrawl(ctx, cfg, logger, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// buildConfig creates a Config from the command flags and the config file.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()
	flags := cmd.Flags()

	var err error
	if cfg.MaxDepth, err = flags.GetInt("hops"); err != nil {
		return nil, err
	}
	if cfg.Timeout, err = flags.GetDuration("timeout"); err != nil {
		return nil, err
	}
	if cfg.MaxDocuments, err = flags.GetInt("max-docs"); err != nil {
		return nil, err
	}
	if cfg.MaxDuration, err = flags.GetDuration("max-duration"); err != nil {
		return nil, err
	}
	if cfg.Concurrency, err = flags.GetInt("concurrency"); err != nil {
		return nil, err
	}
	if cfg.Retries, err = flags.GetInt("retries"); err != nil {
		return nil, err
	}
	if cfg.ProxyAddress, err = flags.GetString("proxy"); err != nil {
		return nil, err
	}
	if cfg.BatchSize, err = flags.GetInt("batch"); err != nil {
		return nil, err
	}
	if cfg.ConfigFilePath, err = flags.GetString("config"); err != nil {
		return nil, err
	}
	if cfg.JSONReport, err = flags.GetBool("json"); err != nil {
		return nil, err
	}
	if cfg.MarkdownReport, err = flags.GetBool("markdown"); err != nil {
		return nil, err
	}
	if cfg.ReportFile, err = flags.GetString("output"); err != nil {
		return nil, err
	}
	if cfg.MetricsFile, err = flags.GetString("metrics-file"); err != nil {
		return nil, err
	}
	noSave, err := flags.GetBool("no-save")
	if err != nil {
		return nil, err
	}
	cfg.Verbose = getVerboseFlag(cmd)

	// An explicit --config must exist; otherwise a missing file means no
	// per-host settings.
	configPath := config.FindConfigFile(cfg.ConfigFilePath)
	switch {
	case configPath != "":
		cfg.SiteConfigs, err = config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	case cfg.ConfigFilePath != "":
		return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, cfg.ConfigFilePath)
	default:
		cfg.SiteConfigs = &config.File{Sites: make(map[string]config.SiteConfig)}
	}

	cfg.SaveToDB = !noSave
	cfg.DBDir = config.XDGDataDir()
	cfg.Targets = args

	return cfg, nil
}

// runCrawl crawls every target and writes one report per seed to stdout
// or cfg.ReportFile. Progress lines go to stderr.
func runCrawl(ctx context.Context, cfg *config.Config, logger *slog.Logger, stdout, stderr io.Writer) error {
	if len(cfg.Targets) == 0 {
		return config.ErrNoTarget
	}

	logger.Info("starting crawl",
		"targets", cfg.Targets,
		"hops", cfg.MaxDepth,
		"batchSize", cfg.BatchSize,
		"saveToDB", cfg.SaveToDB,
	)

	fetcher, err := newFetcher(cfg)
	if err != nil {
		return err
	}

	// Interfaces stay nil when a feature is off so DefaultPipeline leaves
	// out the step.
	var (
		recorder pipeline.ReportRecorder
		saver    pipeline.CrawlSaver
		observer crawler.Observer
		registry *metrics.Registry
	)
	if cfg.MetricsFile != "" {
		registry = metrics.NewRegistry()
		recorder = registry
		observer = registry
	}
	if cfg.SaveToDB {
		db, err := database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()
		logger.Info("database opened", "path", db.Path())
		saver = db
	}

	output, closeOutput, err := openOutput(cfg.ReportFile, stdout)
	if err != nil {
		return err
	}
	defer closeOutput()

	progressOut := &lockedWriter{w: stderr}
	progress := crawler.ProgressFunc(func(msg string) {
		fmt.Fprintln(progressOut, msg)
	})

	bp := pipeline.NewBatchProcessor(
		func() *pipeline.Pipeline {
			c := crawler.New(fetcher,
				crawler.WithMaxDepth(cfg.MaxDepth),
				crawler.WithMaxDocuments(cfg.MaxDocuments),
				crawler.WithMaxDuration(cfg.MaxDuration),
				crawler.WithConcurrency(cfg.Concurrency),
				crawler.WithRetries(cfg.Retries, cfg.RetryBackoff),
				crawler.WithObserver(observer),
				crawler.WithProgress(progress),
				crawler.WithLogger(logger),
			)
			return pipeline.DefaultPipeline(c, recorder, saver, logger,
				pipeline.WithContinueOnError(true))
		},
		pipeline.WithConcurrency(cfg.BatchSize),
		pipeline.WithBatchLogger(logger),
	)

	writer := newReportWriter(cfg, output)
	start := time.Now()

	var mu sync.Mutex
	var writeErr error
	batchErr := bp.ProcessBatchWithCallback(ctx, cfg.Targets, func(r *model.CrawlReport, index int) {
		mu.Lock()
		defer mu.Unlock()

		if len(cfg.Targets) > 1 {
			fmt.Fprintf(progressOut, "[%d/%d] Crawl completed: %s\n", index+1, len(cfg.Targets), r.SeedURL)
		}
		if _, err := writer.Write(r); err != nil {
			logger.Error("report failed", "seed", r.SeedURL, "error", err)
			writeErr = errors.Join(writeErr, fmt.Errorf("write report for %s: %w", r.SeedURL, err))
		}
	})

	fmt.Fprintf(progressOut, "Crawl finished in %s\n", time.Since(start).Round(time.Millisecond))

	var metricsErr error
	if registry != nil {
		if err := registry.WriteTextfile(cfg.MetricsFile); err != nil {
			metricsErr = fmt.Errorf("failed to write metrics file: %w", err)
		} else {
			logger.Info("metrics written", "path", cfg.MetricsFile)
		}
	}

	return errors.Join(batchErr, writeErr, metricsErr)
}

// newFetcher builds the HTTP fetcher from the configuration.
func newFetcher(cfg *config.Config) (*fetch.HTTPFetcher, error) {
	opts := []fetch.Option{
		fetch.WithTimeout(cfg.Timeout),
		fetch.WithUserAgent(cfg.UserAgent),
		fetch.WithMaxBodySize(cfg.MaxBodySize),
		fetch.WithSiteConfigs(cfg.SiteConfigs),
	}
	if cfg.ProxyAddress != "" {
		opts = append(opts, fetch.WithProxy(cfg.ProxyAddress))
	}

	f, err := fetch.NewHTTPFetcher(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetcher: %w", err)
	}
	return f, nil
}

// newReportWriter picks the writer for the requested output format.
func newReportWriter(cfg *config.Config, w io.Writer) report.Writer {
	switch {
	case cfg.JSONReport:
		return report.NewFullJSONWriter(w, getVersion(), report.WithPrettyPrint())
	case cfg.MarkdownReport:
		return report.NewMarkdownWriter(w)
	default:
		return report.NewSimpleWriter(w, report.WithVerbose(cfg.Verbose))
	}
}

// openOutput returns the report destination. An empty path means stdout.
func openOutput(path string, stdout io.Writer) (io.Writer, func(), error) {
	if path == "" {
		return stdout, func() {}, nil
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600) //nolint:gosec // User-provided output path is intentional
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// lockedWriter serialises writes from concurrent crawls.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
