package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tkytel/mandala/internal/fetch"
	"github.com/tkytel/mandala/internal/model"
)

// sample returns the value of the series of family name whose labels
// include all of want. Counters, gauges and histogram sample counts are
// supported.
func sample(t *testing.T, r *Registry, name string, want map[string]string) (float64, bool) {
	t.Helper()

	families, err := r.Gatherer().Gather()
	if err != nil {
		t.Fatalf("failed to gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue metrics
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue(), true
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue(), true
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount()), true
			}
		}
	}
	return 0, false
}

func TestRegistryObserveFetch(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.ObserveFetch("https://a.example/mantela.json", 20*time.Millisecond, nil)
	r.ObserveFetch("https://b.example/mantela.json", 30*time.Millisecond, nil)
	r.ObserveFetch("https://c.example/mantela.json", time.Second, &fetch.FetchError{
		URL:  "https://c.example/mantela.json",
		Kind: fetch.KindTimeout,
		Err:  errors.New("deadline exceeded"),
	})
	r.ObserveFetch("https://d.example/mantela.json", time.Millisecond, errors.New("boom"))

	tests := []struct {
		outcome string
		want    float64
	}{
		{outcome: "ok", want: 2},
		{outcome: string(fetch.KindTimeout), want: 1},
		{outcome: "error", want: 1},
	}
	for _, tt := range tests {
		got, ok := sample(t, r, "mandala_fetches_total", map[string]string{"outcome": tt.outcome})
		if !ok {
			t.Fatalf("expected series for outcome %q", tt.outcome)
		}
		if got != tt.want {
			t.Errorf("outcome %q: expected %v, got %v", tt.outcome, tt.want, got)
		}
	}

	count, ok := sample(t, r, "mandala_fetch_duration_seconds", nil)
	if !ok || count != 4 {
		t.Errorf("expected 4 duration samples, got %v", count)
	}
}

func TestRegistryObserveMerge(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.ObserveMerge("merged")
	r.ObserveMerge("merged")
	r.ObserveMerge("revisited")

	if got, _ := sample(t, r, "mandala_merges_total", map[string]string{"outcome": "merged"}); got != 2 {
		t.Errorf("expected 2 merged, got %v", got)
	}
	if got, _ := sample(t, r, "mandala_merges_total", map[string]string{"outcome": "revisited"}); got != 1 {
		t.Errorf("expected 1 revisited, got %v", got)
	}
}

func TestRegistryRecordReport(t *testing.T) {
	t.Parallel()

	const seed = "https://tokyo.example/mantela.json"

	newReport := func(types ...string) *model.CrawlReport {
		report := model.NewCrawlReport(seed)
		report.Elapsed = 1500 * time.Millisecond
		report.Statistics = model.Statistics{Documents: 1, PBXs: 1, Extensions: len(types) - 1}
		for i, typ := range types {
			report.Graph.Nodes = append(report.Graph.Nodes, model.Node{
				ID:   strings.Repeat("n", i+1),
				Type: typ,
			})
			if i > 0 {
				report.Graph.Edges = append(report.Graph.Edges, model.Edge{
					From: "n",
					To:   strings.Repeat("n", i+1),
					Kind: model.EdgeKindExtension,
				})
			}
		}
		return report
	}

	r := NewRegistry()
	r.RecordReport(newReport(model.NodeTypePBX, "phone", "phone", "fax"))

	if got, _ := sample(t, r, "mandala_graph_nodes", map[string]string{"seed": seed, "type": "phone"}); got != 2 {
		t.Errorf("expected 2 phones, got %v", got)
	}
	if got, _ := sample(t, r, "mandala_graph_edges", map[string]string{"seed": seed, "kind": string(model.EdgeKindExtension)}); got != 3 {
		t.Errorf("expected 3 extension edges, got %v", got)
	}
	if got, _ := sample(t, r, "mandala_crawl_duration_seconds", map[string]string{"seed": seed}); got != 1.5 {
		t.Errorf("expected duration 1.5, got %v", got)
	}
	if got, _ := sample(t, r, "mandala_crawls_total", map[string]string{"status": StatusComplete}); got != 1 {
		t.Errorf("expected 1 complete crawl, got %v", got)
	}

	// A second crawl without fax nodes must not keep the old fax gauge.
	second := newReport(model.NodeTypePBX, "phone")
	second.Truncated = true
	r.RecordReport(second)

	if _, ok := sample(t, r, "mandala_graph_nodes", map[string]string{"seed": seed, "type": "fax"}); ok {
		t.Error("expected fax series to be removed")
	}
	if got, _ := sample(t, r, "mandala_graph_nodes", map[string]string{"seed": seed, "type": "phone"}); got != 1 {
		t.Errorf("expected 1 phone, got %v", got)
	}
	if got, _ := sample(t, r, "mandala_crawls_total", map[string]string{"status": StatusTruncated}); got != 1 {
		t.Errorf("expected 1 truncated crawl, got %v", got)
	}

	failed := newReport(model.NodeTypePBX)
	failed.Error = "crawl: context canceled"
	failed.Truncated = true
	r.RecordReport(failed)
	if got, _ := sample(t, r, "mandala_crawls_total", map[string]string{"status": StatusFailed}); got != 1 {
		t.Errorf("expected 1 failed crawl, got %v", got)
	}
}

func TestRegistryWriteTextfile(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.ObserveMerge("merged")

	path := filepath.Join(t.TempDir(), "mandala.prom")
	if err := r.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}

	data, err := os.ReadFile(path) //nolint:gosec // test file
	if err != nil {
		t.Fatalf("failed to read textfile: %v", err)
	}
	if !strings.Contains(string(data), `mandala_merges_total{outcome="merged"} 1`) {
		t.Errorf("unexpected textfile content:\n%s", data)
	}

	if err := r.WriteTextfile(filepath.Join(t.TempDir(), "missing", "x.prom")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestFetchOutcome(t *testing.T) {
	t.Parallel()

	wrapped := &fetch.FetchError{Kind: fetch.KindStatus, StatusCode: 503}
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "success", err: nil, want: "ok"},
		{name: "fetch error", err: wrapped, want: "status"},
		{name: "wrapped fetch error", err: errors.Join(errors.New("ctx"), wrapped), want: "status"},
		{name: "other error", err: errors.New("x"), want: "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := FetchOutcome(tt.err); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
