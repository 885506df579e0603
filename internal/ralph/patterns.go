package ralph

import "regexp"

// fatalPatterns match pane content that means the current agent turn is
// being torn down by the CLI itself (not a failure to count against
// consecutive_failures) — spec §4.6 "compaction".
var fatalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)compacting conversation`),
	regexp.MustCompile(`(?i)context window.{0,20}(compact|summariz)`),
}

// stuckPatterns match interstitials the monitor cannot get past on its own:
// login pickers, theme pickers, OAuth code-paste prompts.
var stuckPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)select login method`),
	regexp.MustCompile(`(?i)paste code here`),
	regexp.MustCompile(`(?i)choose the text style`),
	regexp.MustCompile(`(?i)looks best with your terminal`),
}

// MatchFatal reports whether content contains a FATAL/compaction pattern.
func MatchFatal(content string) (bool, string) {
	for _, p := range fatalPatterns {
		if m := p.FindString(content); m != "" {
			return true, m
		}
	}
	return false, ""
}

// MatchStuck reports whether content contains a STUCK interstitial pattern.
func MatchStuck(content string) (bool, string) {
	for _, p := range stuckPatterns {
		if m := p.FindString(content); m != "" {
			return true, m
		}
	}
	return false, ""
}

// contextPercentPattern extracts a trailing percent figure from the last
// few lines of a pane, used for the max_context nudge/kill thresholds.
var contextPercentPattern = regexp.MustCompile(`(\d{1,3})%`)

// ExtractContextPercent scans content (expected to be the last ~3 lines of
// a pane) for a percent figure, returning the last one found.
func ExtractContextPercent(content string) (int, bool) {
	matches := contextPercentPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return 0, false
	}
	last := matches[len(matches)-1]
	pct := 0
	for _, c := range last[1] {
		pct = pct*10 + int(c-'0')
	}
	if pct > 100 {
		pct = 100
	}
	return pct, true
}
