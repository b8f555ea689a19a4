package crawler

import (
	"net/url"
	"strings"
	"sync"
)

// VisitedRegistry remembers which descriptor URLs have been fetched and which
// node ids have been merged. Both sets only grow, which is what guarantees
// termination on cyclic federations.
//
// The Mark methods are atomic check-and-set operations, so exactly one caller
// wins for a given key even when called from several goroutines.
type VisitedRegistry struct {
	mu    sync.Mutex
	urls  map[string]struct{}
	nodes map[string]struct{}
}

// NewVisitedRegistry returns an empty registry.
func NewVisitedRegistry() *VisitedRegistry {
	return &VisitedRegistry{
		urls:  make(map[string]struct{}),
		nodes: make(map[string]struct{}),
	}
}

// MarkURL records rawURL as visited. It returns true only for the first call
// with a given URL after normalisation.
func (v *VisitedRegistry) MarkURL(rawURL string) bool {
	return v.mark(v.urls, NormalizeURL(rawURL))
}

// MarkNode records id as merged. It returns true only for the first call
// with a given id.
func (v *VisitedRegistry) MarkNode(id string) bool {
	return v.mark(v.nodes, id)
}

// HasURL reports whether rawURL has been marked.
func (v *VisitedRegistry) HasURL(rawURL string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.urls[NormalizeURL(rawURL)]
	return ok
}

// HasNode reports whether id has been marked.
func (v *VisitedRegistry) HasNode(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.nodes[id]
	return ok
}

func (v *VisitedRegistry) mark(set map[string]struct{}, key string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := set[key]; ok {
		return false
	}
	set[key] = struct{}{}
	return true
}

// NormalizeURL returns the form of rawURL used for deduplication.
// The scheme and host are lower-cased, the fragment is dropped and an empty
// path becomes "/". Unparseable input is returned unchanged.
func NormalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" && u.Host != "" {
		u.Path = "/"
	}

	return u.String()
}
