package crawler

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ExclusionConfig lists the static exclusion policy. Both tiers are plain
// configuration; nothing here is learned at runtime.
type ExclusionConfig struct {
	// Extensions are file suffixes (without dot) that are never fetched.
	Extensions []string
	// Patterns are extra regular expressions matched against the lowercased path.
	Patterns []string
	// Aggressive enables the stricter AggressivePaths tier.
	Aggressive bool
	// AggressivePaths are path substrings pruned when Aggressive is set.
	AggressivePaths []string
}

// DefaultExclusionConfig returns the stock policy.
func DefaultExclusionConfig() ExclusionConfig {
	return ExclusionConfig{
		Extensions: []string{"pdf", "xlsx", "docx", "zip", "jpg", "png", "gif", "svg"},
		AggressivePaths: []string{
			"/research/",
			"/course-catalog/",
			"/directory/",
			"/people/",
			"/gallery/",
			"/events/",
			"/calendar/",
			"/news/",
			"/blog/",
			"/about/history",
			"/archive/",
			"/alumni/",
		},
	}
}

var (
	datedArchivePatterns = []*regexp.Regexp{
		regexp.MustCompile(`/news/\d{4}(/\d{2})?(/\d{2})?/`),
		regexp.MustCompile(`/events/\d{4}(/\d{2})?(/\d{2})?/`),
		regexp.MustCompile(`/calendar/\d{4}(/\d{2})?(/\d{2})?/`),
	}
	genericExcludedSections = []string{
		"/blog/",
		"/tag/",
		"/category/",
		"/author/",
		"/feed/",
		"/rss/",
		"/sitemap/",
		"/wp-",
	}
	listingSections = []string{"/blog/", "/news/", "/events/", "/category/", "/tag/"}
	listingParams   = []string{"page", "p", "search"}
)

// ExclusionFilter decides which paths are never worth fetching. It holds no
// mutable state, so one filter may be shared by every run.
type ExclusionFilter struct {
	extension  *regexp.Regexp
	extra      []*regexp.Regexp
	aggressive []string
}

// NewExclusionFilter compiles cfg into a filter.
func NewExclusionFilter(cfg ExclusionConfig) (*ExclusionFilter, error) {
	f := &ExclusionFilter{}
	exts := make([]string, 0, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		ext = strings.TrimPrefix(strings.TrimSpace(strings.ToLower(ext)), ".")
		if ext != "" {
			exts = append(exts, regexp.QuoteMeta(ext))
		}
	}
	if len(exts) > 0 {
		f.extension = regexp.MustCompile(`\.(` + strings.Join(exts, "|") + `)$`)
	}
	for _, raw := range cfg.Patterns {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("compile exclusion pattern %q: %w", raw, err)
		}
		f.extra = append(f.extra, re)
	}
	if cfg.Aggressive {
		for _, p := range cfg.AggressivePaths {
			p = strings.TrimSpace(strings.ToLower(p))
			if p != "" {
				f.aggressive = append(f.aggressive, p)
			}
		}
	}
	return f, nil
}

// ShouldExclude reports whether a URL with the given path and raw query must
// be skipped. The query may carry a leading "?".
func (f *ExclusionFilter) ShouldExclude(path, query string) bool {
	if f == nil {
		return false
	}
	path = strings.ToLower(path)

	if f.extension != nil && f.extension.MatchString(path) {
		return true
	}
	for _, re := range datedArchivePatterns {
		if re.MatchString(path) {
			return true
		}
	}
	for _, section := range genericExcludedSections {
		if strings.Contains(path, section) {
			return true
		}
	}
	if isListingSection(path) && hasListingParam(query) {
		return true
	}
	for _, re := range f.extra {
		if re.MatchString(path) {
			return true
		}
	}
	for _, p := range f.aggressive {
		if strings.Contains(path, p) {
			return true
		}
	}
	return false
}

// ExcludesURL applies ShouldExclude to an absolute URL. Unparseable URLs are
// excluded.
func (f *ExclusionFilter) ExcludesURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	return f.ShouldExclude(u.EscapedPath(), u.RawQuery)
}

func isListingSection(path string) bool {
	for _, section := range listingSections {
		if strings.Contains(path, section) {
			return true
		}
	}
	return false
}

func hasListingParam(query string) bool {
	query = strings.TrimPrefix(query, "?")
	if query == "" {
		return false
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		lower := strings.ToLower(query)
		for _, key := range listingParams {
			if strings.Contains(lower, key+"=") {
				return true
			}
		}
		return false
	}
	for _, key := range listingParams {
		if _, ok := values[key]; ok {
			return true
		}
	}
	return false
}
