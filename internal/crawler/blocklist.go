package crawler

import (
	"net/url"
	"strings"
)

// DomainBlocklist rejects domains that must never be crawled, typically sites
// behind bot protection. Entries are exact hosts or "*.suffix" wildcards.
type DomainBlocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewDomainBlocklist builds a blocklist. It returns nil when no usable entry
// is configured; a nil blocklist blocks nothing.
func NewDomainBlocklist(patterns []string) *DomainBlocklist {
	bl := &DomainBlocklist{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			bl.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			bl.addSuffix(strings.TrimPrefix(value, "."))
		default:
			bl.exact[value] = struct{}{}
		}
	}
	if len(bl.exact) == 0 && len(bl.suffixes) == 0 {
		return nil
	}
	return bl
}

func (b *DomainBlocklist) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range b.suffixes {
		if existing == suffix {
			return
		}
	}
	b.suffixes = append(b.suffixes, suffix)
}

// IsBlocked reports whether domain (a bare host or an absolute URL) is listed.
func (b *DomainBlocklist) IsBlocked(domain string) bool {
	if b == nil {
		return false
	}
	host := hostOf(domain)
	if host == "" {
		return false
	}
	if _, exact := b.exact[host]; exact {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

func hostOf(domain string) string {
	value := strings.TrimSpace(strings.ToLower(domain))
	if strings.Contains(value, "://") {
		if u, err := url.Parse(value); err == nil {
			return u.Hostname()
		}
	}
	return value
}
