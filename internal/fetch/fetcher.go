package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"

	"github.com/tkytel/mandala/internal/config"
	"github.com/tkytel/mandala/internal/model"
)

// maxRedirects bounds redirect chains of a single descriptor request.
const maxRedirects = 10

// Fetcher retrieves and decodes one descriptor document.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*model.Descriptor, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, rawURL string) (*model.Descriptor, error)

// Fetch calls f(ctx, rawURL).
func (f FetcherFunc) Fetch(ctx context.Context, rawURL string) (*model.Descriptor, error) {
	return f(ctx, rawURL)
}

// HTTPFetcher fetches descriptors with net/http.
// It is safe for concurrent use.
type HTTPFetcher struct {
	client       *http.Client
	userAgent    string
	maxBodySize  int64
	timeout      time.Duration
	sites        *config.File
	proxyAddress string
}

// Option configures an HTTPFetcher.
type Option func(*HTTPFetcher)

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *HTTPFetcher) {
		f.userAgent = ua
	}
}

// WithMaxBodySize sets the largest accepted descriptor size in bytes.
func WithMaxBodySize(size int64) Option {
	return func(f *HTTPFetcher) {
		f.maxBodySize = size
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *HTTPFetcher) {
		f.timeout = d
	}
}

// WithSiteConfigs sets per-host headers, user agents, timeouts and skips.
func WithSiteConfigs(sites *config.File) Option {
	return func(f *HTTPFetcher) {
		f.sites = sites
	}
}

// WithProxy routes every request through the SOCKS5 proxy at address.
func WithProxy(address string) Option {
	return func(f *HTTPFetcher) {
		f.proxyAddress = address
	}
}

// WithHTTPClient replaces the HTTP client. WithProxy is ignored when a
// client is supplied.
func WithHTTPClient(c *http.Client) Option {
	return func(f *HTTPFetcher) {
		f.client = c
	}
}

// NewHTTPFetcher creates an HTTPFetcher.
// It returns an error only when the proxy dialer cannot be built.
func NewHTTPFetcher(opts ...Option) (*HTTPFetcher, error) {
	f := &HTTPFetcher{
		userAgent:   config.DefaultUserAgent,
		maxBodySize: config.DefaultMaxBodySize,
		timeout:     config.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.maxBodySize <= 0 {
		f.maxBodySize = config.DefaultMaxBodySize
	}
	if f.timeout <= 0 {
		f.timeout = config.DefaultTimeout
	}

	if f.client == nil {
		transport, err := newTransport(f.proxyAddress)
		if err != nil {
			return nil, err
		}
		f.client = &http.Client{
			Transport: transport,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return http.ErrUseLastResponse
				}
				return nil
			},
		}
	}

	return f, nil
}

// newTransport returns a transport that dials directly, or through the
// SOCKS5 proxy at proxyAddress when it is not empty.
func newTransport(proxyAddress string) (*http.Transport, error) {
	transport, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		transport = &http.Transport{}
	} else {
		transport = transport.Clone()
	}
	transport.MaxIdleConnsPerHost = 4
	transport.IdleConnTimeout = 30 * time.Second

	if proxyAddress == "" {
		return transport, nil
	}

	if !config.IsValidProxyAddress(proxyAddress) {
		return nil, config.ErrInvalidProxyAddress
	}
	dialer, err := proxy.SOCKS5("tcp", proxyAddress, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}

	transport.Proxy = nil
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		transport.DialContext = cd.DialContext
	} else {
		transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
	}
	return transport, nil
}

// Fetch retrieves rawURL and decodes it as a descriptor.
// The returned descriptor is not validated; see model.Descriptor.Validate.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*model.Descriptor, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Kind: KindRequest, Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &FetchError{URL: rawURL, Kind: KindRequest, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}

	site := f.sites.GetSiteConfig(u.Host)
	if site.Skip {
		return nil, &FetchError{URL: rawURL, Kind: KindSkipped, Err: ErrSkipped}
	}

	timeout := f.timeout
	if site.Timeout > 0 {
		timeout = site.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Kind: KindRequest, Err: err}
	}

	userAgent := f.userAgent
	if site.UserAgent != "" {
		userAgent = site.UserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	for k, v := range site.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Kind: classify(ctx, err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
		return nil, &FetchError{URL: rawURL, Kind: KindStatus, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize+1))
	if err != nil {
		return nil, &FetchError{URL: rawURL, Kind: classify(ctx, err), Err: err}
	}
	if int64(len(body)) > f.maxBodySize {
		return nil, &FetchError{URL: rawURL, Kind: KindParse, Err: ErrBodyTooLarge}
	}

	d, err := model.ParseDescriptor(body)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Kind: KindParse, Err: err}
	}
	return d, nil
}

// classify maps a transport error to a failure kind.
func classify(ctx context.Context, err error) Kind {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}
