package intercept

import "strings"

// DefaultAllowList holds the tracking-vendor domain substrings captured when
// no list is configured.
var DefaultAllowList = []string{
	"google-analytics.com",
	"facebook.com",
	"doubleclick.net",
	"googletagmanager.com",
}

// Filter decides which URLs are captured. Matching is a plain substring
// test against the full URL.
type Filter struct {
	substrings []string
}

// NewFilter builds a filter from a list of substrings. Blank entries are
// dropped; an empty list falls back to DefaultAllowList.
func NewFilter(substrings []string) Filter {
	cleaned := make([]string, 0, len(substrings))
	for _, s := range substrings {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	if len(cleaned) == 0 {
		cleaned = append(cleaned, DefaultAllowList...)
	}
	return Filter{substrings: cleaned}
}

// Match reports whether url contains any allow-listed substring.
func (f Filter) Match(url string) bool {
	if url == "" {
		return false
	}
	for _, s := range f.substrings {
		if strings.Contains(url, s) {
			return true
		}
	}
	return false
}

// Substrings returns a copy of the configured list.
func (f Filter) Substrings() []string {
	out := make([]string, len(f.substrings))
	copy(out, f.substrings)
	return out
}
