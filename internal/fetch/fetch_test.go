package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/guardrail"
)

func testFetcher(maxChars int) *Fetcher {
	return NewFetcher(config.FetchConfig{Timeout: 5 * time.Second, MaxPageChars: maxChars}, nil)
}

func runConfig(urls []string, maxSources, maxLinks int, follow bool) guardrail.RunConfig {
	return guardrail.Clamp(guardrail.RunRequest{
		Question:          "q",
		URLs:              urls,
		MaxSources:        maxSources,
		MaxLinksPerSource: maxLinks,
		FollowLinks:       follow,
	})
}

func TestFetchAssignsDenseLabelsInInputOrder(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "content of %s", r.URL.Path)
	}))
	defer ts.Close()

	f := testFetcher(0)
	sources := f.Fetch(context.Background(), runConfig([]string{ts.URL + "/a", ts.URL + "/b", ts.URL + "/c"}, 3, 0, false))

	if len(sources) != 3 {
		t.Fatalf("expected 3 sources, got %d", len(sources))
	}
	for i, s := range sources {
		wantLabel := fmt.Sprintf("S%d", i+1)
		if s.Label != wantLabel {
			t.Fatalf("source %d label = %q, want %q", i, s.Label, wantLabel)
		}
		if s.FetchError != "" {
			t.Fatalf("source %s unexpected fetch error: %s", s.Label, s.FetchError)
		}
	}
	if !strings.Contains(sources[1].RawText, "/b") {
		t.Fatalf("source order not preserved: S2 text %q", sources[1].RawText)
	}
}

func TestFetchCapsAtMaxSources(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("ok"))
	}))
	defer ts.Close()

	f := testFetcher(0)
	urls := []string{ts.URL + "/1", ts.URL + "/2", ts.URL + "/3", ts.URL + "/4", ts.URL + "/5"}
	sources := f.Fetch(context.Background(), runConfig(urls, 5, 0, false))

	if len(sources) != 3 {
		t.Fatalf("expected clamp to 3 sources, got %d", len(sources))
	}
	if hits.Load() > 3 {
		t.Fatalf("fetcher issued %d retrievals, want at most 3", hits.Load())
	}
}

func TestFetchDeduplicatesSeeds(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer ts.Close()

	f := testFetcher(0)
	sources := f.Fetch(context.Background(), runConfig([]string{ts.URL, ts.URL, ts.URL}, 3, 0, false))
	if len(sources) != 1 {
		t.Fatalf("expected 1 deduplicated source, got %d", len(sources))
	}
}

func TestFetchFailureYieldsPlaceholder(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer ts.Close()

	f := testFetcher(0)
	sources := f.Fetch(context.Background(), runConfig([]string{ts.URL + "/missing", ts.URL + "/fine"}, 2, 0, false))

	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}
	if sources[0].FetchError == "" || sources[0].RawText != "" {
		t.Fatalf("expected failed placeholder for S1, got %+v", sources[0])
	}
	if sources[0].Label != "S1" || sources[1].Label != "S2" {
		t.Fatalf("labels not dense after failure: %s, %s", sources[0].Label, sources[1].Label)
	}
	if sources[1].FetchError != "" {
		t.Fatalf("S2 should have succeeded: %s", sources[1].FetchError)
	}
}

func TestFetchBlocksNonHTTPSchemes(t *testing.T) {
	f := testFetcher(0)
	sources := f.Fetch(context.Background(), runConfig([]string{"ftp://example.test/file"}, 1, 0, false))
	if len(sources) != 1 || !strings.Contains(sources[0].FetchError, "only http(s)") {
		t.Fatalf("expected scheme block, got %+v", sources)
	}
}

func TestFetchTruncatesLargePages(t *testing.T) {
	big := strings.Repeat("x", 5000)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(big))
	}))
	defer ts.Close()

	f := testFetcher(2000)
	sources := f.Fetch(context.Background(), runConfig([]string{ts.URL}, 1, 0, false))
	if len(sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(sources))
	}
	s := sources[0]
	if !s.Truncated {
		t.Fatalf("expected truncated flag")
	}
	if !strings.HasSuffix(s.RawText, truncatedMarker) {
		t.Fatalf("expected truncation marker suffix")
	}
	if len(s.RawText) > 2000+len(truncatedMarker) {
		t.Fatalf("truncated text too long: %d", len(s.RawText))
	}
}

func TestFetchFollowsLinksWithinCapacity(t *testing.T) {
	mux := http.NewServeMux()
	var ts *httptest.Server
	mux.HandleFunc("/seed", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><body>
			<a href="%s/child1">one</a>
			<a href="%s/child2">two</a>
			<a href="%s/seed">cycle</a>
			<a href="mailto:x@example.test">mail</a>
		</body></html>`, ts.URL, ts.URL, ts.URL)
	})
	mux.HandleFunc("/child1", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("child one")) })
	mux.HandleFunc("/child2", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("child two")) })
	ts = httptest.NewServer(mux)
	defer ts.Close()

	f := testFetcher(0)
	sources := f.Fetch(context.Background(), runConfig([]string{ts.URL + "/seed"}, 3, 10, true))

	if len(sources) != 3 {
		t.Fatalf("expected seed + 2 discovered, got %d: %+v", len(sources), sources)
	}
	if sources[0].DiscoveredVia != "" {
		t.Fatalf("seed should have no parent, got %q", sources[0].DiscoveredVia)
	}
	for _, s := range sources[1:] {
		if s.DiscoveredVia != "S1" {
			t.Fatalf("discovered source %s parent = %q, want S1", s.Label, s.DiscoveredVia)
		}
		if s.FetchError != "" {
			t.Fatalf("discovered source %s failed: %s", s.Label, s.FetchError)
		}
	}
	if sources[1].Label != "S2" || sources[2].Label != "S3" {
		t.Fatalf("discovered labels not dense: %s, %s", sources[1].Label, sources[2].Label)
	}
}

func TestFetchDoesNotFollowLinksWhenDisabled(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><a href="/other">link</a></body></html>`))
	}))
	defer ts.Close()

	f := testFetcher(0)
	// follow_links=false forces max_links_per_source to 0 at clamp time
	sources := f.Fetch(context.Background(), runConfig([]string{ts.URL}, 3, 10, false))
	if len(sources) != 1 {
		t.Fatalf("expected only the seed, got %d sources", len(sources))
	}
}

func TestFetchZeroMaxSources(t *testing.T) {
	f := testFetcher(0)
	sources := f.Fetch(context.Background(), runConfig([]string{"http://a.test"}, 0, 0, false))
	if len(sources) != 0 {
		t.Fatalf("expected no sources, got %d", len(sources))
	}
}

func TestExtractLinksResolvesRelative(t *testing.T) {
	links := extractLinks(`<html><body>
		<a href="/rel">rel</a>
		<a href="https://abs.test/page#frag">abs</a>
		<a href="#skip">skip</a>
		<a href="javascript:void(0)">js</a>
	</body></html>`, "https://base.test/dir/")

	want := []string{"https://base.test/rel", "https://abs.test/page"}
	if len(links) != len(want) {
		t.Fatalf("extractLinks = %v, want %v", links, want)
	}
	for i := range want {
		if links[i] != want[i] {
			t.Fatalf("link %d = %q, want %q", i, links[i], want[i])
		}
	}
}
