package orchestrator

import (
	"regexp"
	"strings"
)

var citationRe = regexp.MustCompile(`\[S\d+\]`)

// sanitizeCitations removes citation markers that do not reference a label
// present in the run's sources metadata, returning the cleaned report and
// the number of markers dropped. Valid markers pass through untouched.
func sanitizeCitations(report string, labels []string) (string, int) {
	valid := make(map[string]bool, len(labels))
	for _, l := range labels {
		valid["["+l+"]"] = true
	}
	dropped := 0
	out := citationRe.ReplaceAllStringFunc(report, func(m string) string {
		if valid[m] {
			return m
		}
		dropped++
		return ""
	})
	if dropped > 0 {
		// collapse double spaces left behind by removed markers
		out = strings.ReplaceAll(out, "  ", " ")
	}
	return out, dropped
}
