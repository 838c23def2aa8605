// Package fetch retrieves source pages with bounded concurrency.
//
// Fetch failures are per-source and non-fatal: a failing URL still yields
// a Source record carrying FetchError, so label numbering and citation
// references stay stable across partial outages.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/guardrail"
)

const (
	userAgent       = "deepresearch/0.1"
	truncatedMarker = "\n\n[TRUNCATED]\n"
)

// Source is one fetched (or failed-to-fetch) URL's capture. Immutable once
// the Fetch stage finalizes it.
type Source struct {
	Label         string `json:"label"`
	URL           string `json:"url"`
	RawText       string `json:"-"`
	Truncated     bool   `json:"truncated"`
	DiscoveredVia string `json:"discovered_via,omitempty"`
	FetchError    string `json:"fetch_error,omitempty"`
}

// Fetcher retrieves pages over plain HTTP with a fixed per-request timeout.
type Fetcher struct {
	client       *http.Client
	maxPageChars int
	logger       *log.Logger
}

// NewFetcher builds a fetcher from service config.
func NewFetcher(cfg config.FetchConfig, logger *log.Logger) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[FETCH] ", log.LstdFlags)
	}
	return &Fetcher{
		client:       &http.Client{Timeout: timeout},
		maxPageChars: guardrail.ClampPageChars(cfg.MaxPageChars),
		logger:       logger,
	}
}

// Fetch retrieves the run's sources: seed URLs first, in input order, then
// (when follow_links is enabled and capacity remains) links discovered on
// successfully fetched seed pages, in discovery order. Labels S1..Sn are
// dense and assigned in finalization order. The returned slice never
// exceeds cfg.MaxSources entries.
func (f *Fetcher) Fetch(ctx context.Context, cfg guardrail.RunConfig) []Source {
	if cfg.MaxSources <= 0 {
		return nil
	}

	seen := make(map[string]bool)
	var seeds []string
	for _, raw := range cfg.URLs {
		u := strings.TrimSpace(raw)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		seeds = append(seeds, u)
		if len(seeds) == cfg.MaxSources {
			break
		}
	}

	pages := f.fetchAll(ctx, seeds, cfg.MaxSources)

	sources := make([]Source, 0, cfg.MaxSources)
	for i, p := range pages {
		sources = append(sources, Source{
			Label:      fmt.Sprintf("S%d", i+1),
			URL:        seeds[i],
			RawText:    p.text,
			Truncated:  p.truncated,
			FetchError: p.fetchError,
		})
	}

	if cfg.FollowLinks && cfg.MaxLinksPerSource > 0 && len(sources) < cfg.MaxSources {
		type discovery struct {
			url    string
			parent string
		}
		var queue []discovery
		for i, p := range pages {
			if p.fetchError != "" {
				continue
			}
			taken := 0
			for _, link := range p.links {
				if taken == cfg.MaxLinksPerSource {
					break
				}
				if seen[link] {
					continue
				}
				seen[link] = true
				taken++
				queue = append(queue, discovery{url: link, parent: sources[i].Label})
			}
		}
		if room := cfg.MaxSources - len(sources); len(queue) > room {
			queue = queue[:room]
		}

		urls := make([]string, len(queue))
		for i, d := range queue {
			urls[i] = d.url
		}
		discovered := f.fetchAll(ctx, urls, cfg.MaxSources)
		for i, p := range discovered {
			sources = append(sources, Source{
				Label:         fmt.Sprintf("S%d", len(sources)+1),
				URL:           queue[i].url,
				RawText:       p.text,
				Truncated:     p.truncated,
				DiscoveredVia: queue[i].parent,
				FetchError:    p.fetchError,
			})
		}
	}

	return sources
}

type page struct {
	text       string
	links      []string
	truncated  bool
	fetchError string
}

// fetchAll retrieves urls concurrently, bounded by degree, preserving
// input order in the result.
func (f *Fetcher) fetchAll(ctx context.Context, urls []string, degree int) []page {
	if len(urls) == 0 {
		return nil
	}
	out := make([]page, len(urls))
	sem := make(chan struct{}, degree)
	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			out[i] = f.fetchOne(ctx, u)
		}(i, u)
	}
	wg.Wait()
	return out
}

func (f *Fetcher) fetchOne(ctx context.Context, url string) page {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return page{fetchError: "blocked: only http(s) URLs are allowed"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return page{fetchError: fmt.Sprintf("fetch failed: %v", err)}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Printf("fetch %s: %v", url, err)
		return page{fetchError: fmt.Sprintf("fetch failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		f.logger.Printf("fetch %s: status %d", url, resp.StatusCode)
		return page{fetchError: fmt.Sprintf("fetch failed: status %d", resp.StatusCode)}
	}

	finalURL := url
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	ctype := strings.ToLower(resp.Header.Get("Content-Type"))

	// Read at most one byte past the cap so truncation is detectable
	// without buffering arbitrarily large responses.
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(f.maxPageChars)+1))
	if err != nil {
		return page{fetchError: fmt.Sprintf("fetch failed: read body: %v", err)}
	}

	raw := string(body)
	truncated := false
	if len(raw) > f.maxPageChars {
		raw = raw[:f.maxPageChars]
		truncated = true
	}

	var p page
	p.truncated = truncated
	switch {
	case strings.Contains(ctype, "html"):
		p.links = extractLinks(raw, finalURL)
		p.text = htmlToText(raw, finalURL)
	case strings.HasPrefix(ctype, "text/") || ctype == "":
		p.text = raw
	default:
		p.text = fmt.Sprintf("Non-text content-type: %s\nURL: %s\nStatus: %d\n", ctype, finalURL, resp.StatusCode)
		p.truncated = false
	}
	if p.truncated {
		p.text += truncatedMarker
	}
	return p
}

// htmlToText reduces an HTML page to readable text. Falls back to the raw
// markup when readability cannot parse the document.
func htmlToText(raw, pageURL string) string {
	article, err := readability.FromReader(strings.NewReader(raw), mustParseURL(pageURL))
	if err != nil || strings.TrimSpace(article.TextContent) == "" {
		return raw
	}
	return article.TextContent
}
