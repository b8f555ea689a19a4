package config

import (
	"net"
	"net/url"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// Unbounded disables the hop limit.
	Unbounded = -1

	// DefaultMaxDepth follows every provider link the fetch budget allows.
	DefaultMaxDepth = Unbounded

	// DefaultTimeout bounds a single descriptor fetch.
	// Descriptors are small static JSON files; a slow server is treated as down.
	DefaultTimeout = 10 * time.Second

	// DefaultMaxDocuments caps the number of descriptor fetches per crawl.
	// Every hop may fan out to many siblings, so a hop limit alone does not
	// bound the work.
	DefaultMaxDocuments = 1000

	// DefaultMaxDuration caps the wall-clock time of one crawl.
	DefaultMaxDuration = 5 * time.Minute

	// DefaultConcurrency of 1 keeps the strict shallowest-first visiting order.
	DefaultConcurrency = 1

	// DefaultBatchSize is the number of seed URLs crawled at the same time.
	DefaultBatchSize = 1

	// DefaultRetries disables retries; a failed descriptor is skipped.
	DefaultRetries = 0

	// DefaultRetryBackoff is the first delay between retries. It doubles
	// after every attempt.
	DefaultRetryBackoff = 500 * time.Millisecond

	// AppName is the application name used for XDG directory paths.
	AppName = "mandala"

	// DefaultUserAgent identifies mandala in HTTP requests.
	DefaultUserAgent = "mandala/1.0 (+https://github.com/tkytel/mandala)"

	// DefaultMaxBodySize limits how much of a descriptor is read.
	DefaultMaxBodySize = 1 * 1024 * 1024 // 1MB
)

// Config holds all configuration options for mandala.
// It is populated from CLI flags and the optional config file, then passed
// down explicitly.
type Config struct {
	// Targets are the seed descriptor URLs.
	Targets []string

	// MaxDepth is the maximum hop count from a seed. Unbounded (-1) means
	// no limit; 0 means only the seed descriptor is merged.
	MaxDepth int

	// Timeout is the per-request timeout for a descriptor fetch.
	Timeout time.Duration

	// MaxDocuments is the maximum number of fetch attempts per crawl.
	MaxDocuments int

	// MaxDuration is the wall-clock budget of one crawl.
	MaxDuration time.Duration

	// Concurrency is the number of descriptors fetched at once within a
	// depth level. Values above 1 relax fetch order but not merge order.
	Concurrency int

	// Retries is the number of extra attempts for temporary failures.
	Retries int

	// RetryBackoff is the delay before the first retry.
	RetryBackoff time.Duration

	// ProxyAddress is an optional SOCKS5 proxy in "host:port" format.
	ProxyAddress string

	// UserAgent is the User-Agent header sent with every request.
	UserAgent string

	// MaxBodySize is the maximum descriptor size in bytes.
	MaxBodySize int64

	// Verbose enables debug logging.
	Verbose bool

	// BatchSize is the number of seeds crawled concurrently.
	BatchSize int

	// ConfigFilePath is the path given with --config, if any.
	ConfigFilePath string

	// SiteConfigs holds per-host settings loaded from the config file.
	SiteConfigs *File

	// JSONReport selects JSON output. Mutually exclusive with MarkdownReport.
	JSONReport bool

	// MarkdownReport selects Markdown output.
	MarkdownReport bool

	// ReportFile writes the report to a file instead of stdout.
	ReportFile string

	// DBDir is the directory holding the crawl history database.
	DBDir string

	// SaveToDB persists each crawl for later comparison.
	SaveToDB bool

	// MetricsFile, when set, receives Prometheus metrics in text format
	// after the crawl.
	MetricsFile string
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		MaxDepth:     DefaultMaxDepth,
		Timeout:      DefaultTimeout,
		MaxDocuments: DefaultMaxDocuments,
		MaxDuration:  DefaultMaxDuration,
		Concurrency:  DefaultConcurrency,
		Retries:      DefaultRetries,
		RetryBackoff: DefaultRetryBackoff,
		UserAgent:    DefaultUserAgent,
		MaxBodySize:  DefaultMaxBodySize,
		BatchSize:    DefaultBatchSize,
	}
}

// XDGDataDir returns the XDG data directory for mandala.
// On Linux: ~/.local/share/mandala
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for mandala.
// On Linux: ~/.config/mandala
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Validate checks if the configuration is valid.
// It returns the first problem found.
func (c *Config) Validate() error {
	if len(c.Targets) == 0 {
		return ErrNoTarget
	}
	for _, target := range c.Targets {
		if !IsDescriptorURL(target) {
			return ErrInvalidTarget
		}
	}

	if c.MaxDepth < Unbounded {
		return ErrInvalidMaxDepth
	}

	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.MaxDocuments <= 0 {
		return ErrInvalidMaxDocuments
	}

	if c.MaxDuration <= 0 {
		return ErrInvalidMaxDuration
	}

	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}

	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}

	if c.Retries < 0 {
		return ErrInvalidRetries
	}

	if c.Retries > 0 && c.RetryBackoff < 0 {
		return ErrInvalidRetryBackoff
	}

	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}

	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}

	if c.ProxyAddress != "" && !IsValidProxyAddress(c.ProxyAddress) {
		return ErrInvalidProxyAddress
	}

	return nil
}

// IsDescriptorURL reports whether s is an absolute http(s) URL.
func IsDescriptorURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// IsValidProxyAddress checks that address is in "host:port" format with a
// port between 1 and 65535.
func IsValidProxyAddress(address string) bool {
	host, port, err := net.SplitHostPort(address)
	if err != nil || host == "" {
		return false
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return false
	}
	return n >= 1 && n <= 65535
}
