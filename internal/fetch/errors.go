package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies why a fetch failed.
type Kind string

// Failure kinds.
const (
	// KindNetwork covers DNS, connection and transport failures.
	KindNetwork Kind = "network"

	// KindTimeout means the per-request deadline expired.
	KindTimeout Kind = "timeout"

	// KindStatus means the server answered with a non-2xx status.
	KindStatus Kind = "status"

	// KindParse means the body was not a decodable descriptor.
	KindParse Kind = "parse"

	// KindRequest means no request could be built, e.g. a malformed URL
	// or an unsupported scheme.
	KindRequest Kind = "request"

	// KindSkipped means the site configuration excludes the host.
	KindSkipped Kind = "skipped"
)

// ErrSkipped is wrapped by FetchError when a host is configured with skip.
var ErrSkipped = errors.New("host is skipped by site configuration")

// ErrBodyTooLarge is wrapped by FetchError when a descriptor exceeds the
// configured body size limit.
var ErrBodyTooLarge = errors.New("descriptor exceeds body size limit")

// FetchError is returned by Fetcher implementations for every failure.
type FetchError struct {
	URL        string
	Kind       Kind
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: %s error", e.URL, e.Kind)
	}
	return fmt.Sprintf("fetch %s: %s error: %v", e.URL, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the same URL may succeed.
// Network errors, timeouts, 5xx and 429 responses are temporary.
func (e *FetchError) Temporary() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout:
		return true
	case KindStatus:
		return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}

// IsTemporary reports whether err is a temporary *FetchError.
func IsTemporary(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Temporary()
	}
	return false
}
