// Package guardrail clamps run parameters to safe operating bounds.
package guardrail

import "github.com/mohammad-safakhou/deepresearch/config"

// Hard bounds on per-run research limits. These are process-wide and not
// negotiable through the request surface.
const (
	MaxSourcesCeiling = 3
	MaxLinksCeiling   = 10

	DefaultMaxSources = 1
	DefaultMaxLinks   = 0

	MinModelTokens     = 50
	MaxModelTokens     = 800
	DefaultModelTokens = 350

	MaxModelRetries     = 2
	DefaultModelRetries = 1

	MinPageChars     = 2000
	MaxPageChars     = 50000
	DefaultPageChars = 15000
)

// RunRequest is one accepted research request. Unset integer fields are
// represented by negative values so that an explicit zero survives clamping.
type RunRequest struct {
	Question          string   `json:"question"`
	URLs              []string `json:"urls"`
	MaxSources        int      `json:"max_sources"`
	MaxLinksPerSource int      `json:"max_links_per_source"`
	FollowLinks       bool     `json:"follow_links"`
}

// RunConfig is a RunRequest after clamping; authoritative for the run.
type RunConfig struct {
	Question          string
	URLs              []string
	MaxSources        int
	MaxLinksPerSource int
	FollowLinks       bool
}

// Clamp applies the guardrail policy to a request. It is pure and total:
// any input yields a valid RunConfig.
func Clamp(req RunRequest) RunConfig {
	maxSources := req.MaxSources
	if maxSources < 0 {
		maxSources = DefaultMaxSources
	}
	maxSources = clampInt(maxSources, 0, MaxSourcesCeiling)

	maxLinks := req.MaxLinksPerSource
	if maxLinks < 0 {
		maxLinks = DefaultMaxLinks
	}
	maxLinks = clampInt(maxLinks, 0, MaxLinksCeiling)
	if !req.FollowLinks {
		maxLinks = 0
	}

	return RunConfig{
		Question:          req.Question,
		URLs:              req.URLs,
		MaxSources:        maxSources,
		MaxLinksPerSource: maxLinks,
		FollowLinks:       req.FollowLinks,
	}
}

// ClampModelTokens bounds a model's max output tokens.
func ClampModelTokens(v int) int {
	if v <= 0 {
		return DefaultModelTokens
	}
	return clampInt(v, MinModelTokens, MaxModelTokens)
}

// ClampModelRetries bounds the per-call retry count.
func ClampModelRetries(v int) int {
	if v < 0 {
		return DefaultModelRetries
	}
	return clampInt(v, 0, MaxModelRetries)
}

// ClampPageChars bounds the fetched-page truncation threshold.
func ClampPageChars(v int) int {
	if v <= 0 {
		return DefaultPageChars
	}
	return clampInt(v, MinPageChars, MaxPageChars)
}

// ApplyDefaults fills a request's unset limit fields from service config
// before clamping. Fields already set by the caller win.
func ApplyDefaults(req RunRequest, limits config.LimitsConfig) RunRequest {
	if req.MaxSources < 0 {
		req.MaxSources = limits.MaxSources
	}
	if req.MaxLinksPerSource < 0 {
		req.MaxLinksPerSource = limits.MaxLinksPerSource
	}
	return req
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
